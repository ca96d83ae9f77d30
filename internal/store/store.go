// Package store persists entities, ownership edges, and crawl frontier state.
package store

import (
	"context"

	"github.com/sells-group/fin-groups/internal/entity"
)

// Edge is an owner -> owned pair selected for group detection.
type Edge struct {
	OwnerID string `json:"owner_id"`
	OwnedID string `json:"owned_id"`
}

// ControlFilter selects the edges that represent control: every beneficial
// edge, plus founder edges at or above FounderThreshold percent.
type ControlFilter struct {
	FounderRoles     []string `json:"founder_roles"`
	FounderThreshold float64  `json:"founder_threshold"`
}

// Store defines the persistence interface for the ownership graph.
type Store interface {
	// Entities
	UpsertEntity(ctx context.Context, e entity.Entity) error
	GetEntity(ctx context.Context, id string) (*entity.Entity, error)
	GetEntityType(ctx context.Context, id string) (entity.Type, bool, error)

	// Ownership edges. UpsertOwnership reports whether a row was inserted;
	// an existing (owner, owned) pair is left untouched.
	UpsertOwnership(ctx context.Context, o entity.Ownership) (bool, error)
	ControlEdges(ctx context.Context, filter ControlFilter) ([]Edge, error)
	GroupOwnerships(ctx context.Context, ids []string) ([]entity.Ownership, error)

	// Traversal
	ExtractGroupIDs(ctx context.Context, startID string) ([]string, error)
	GetGroup(ctx context.Context, startID string) ([]entity.Entity, error)

	// Crawl frontier
	UpdateCrawlState(ctx context.Context, id string, typ entity.Type, status string, depth int) error
	GetCrawlState(ctx context.Context, id string) (*entity.CrawlState, error)
	ListCrawlState(ctx context.Context, status string, limit int) ([]entity.CrawlState, error)

	// WithTx runs fn against a Store bound to a single transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
