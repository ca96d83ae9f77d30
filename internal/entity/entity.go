// Package entity defines the legal-entity and ownership records persisted by
// the store, and the deterministic identity functions that key them.
package entity

import (
	"github.com/rotisserie/eris"
)

// ErrInvalid marks a record rejected before it reaches the database.
var ErrInvalid = eris.New("entity: invalid record")

// Type discriminates companies from natural persons.
type Type string

// Entity types.
const (
	TypeCompany Type = "company"
	TypePerson  Type = "person"
)

// Valid reports whether t is a known entity type.
func (t Type) Valid() bool {
	return t == TypeCompany || t == TypePerson
}

// ControlLevel classifies how strongly an owner controls the owned company.
type ControlLevel string

// Control levels.
const (
	ControlDirect     ControlLevel = "direct"
	ControlManagement ControlLevel = "management"
	ControlBeneficial ControlLevel = "beneficial"
)

// Valid reports whether c is a known control level.
func (c ControlLevel) Valid() bool {
	switch c {
	case ControlDirect, ControlManagement, ControlBeneficial:
		return true
	}
	return false
}

// Entity is a company or person node of the ownership graph. Optional string
// fields are empty when unknown and stored as NULL.
type Entity struct {
	ID        string `json:"entity_id" db:"entity_id"`
	Type      Type   `json:"entity_type" db:"entity_type"`
	Name      string `json:"name" db:"name"`
	Country   string `json:"country,omitempty" db:"country"`
	TaxID     string `json:"tax_id,omitempty" db:"tax_id"`
	SourceURL string `json:"source_url,omitempty" db:"source_url"`
}

// Validate checks the fields the entities table declares NOT NULL.
func (e Entity) Validate() error {
	if e.ID == "" {
		return eris.Wrap(ErrInvalid, "entity_id is required")
	}
	if !e.Type.Valid() {
		return eris.Wrapf(ErrInvalid, "entity %s: unknown entity_type %q", e.ID, e.Type)
	}
	if e.Name == "" {
		return eris.Wrapf(ErrInvalid, "entity %s: name is required", e.ID)
	}
	return nil
}

// Ownership is a directed owner -> owned edge. At most one edge exists per
// ordered (OwnerID, OwnedID) pair.
type Ownership struct {
	OwnerID      string       `json:"owner_id" db:"owner_id"`
	OwnedID      string       `json:"owned_id" db:"owned_id"`
	Role         string       `json:"role,omitempty" db:"role"`
	SharePercent *float64     `json:"share_percent,omitempty" db:"share_percent"`
	CapitalUAH   *int64       `json:"capital_uah,omitempty" db:"capital_uah"`
	ControlLevel ControlLevel `json:"control_level" db:"control_level"`
	Source       string       `json:"source" db:"source"`
	SourceURL    string       `json:"source_url,omitempty" db:"source_url"`
}

// Validate checks endpoint presence and the numeric ranges of the edge.
func (o Ownership) Validate() error {
	if o.OwnerID == "" || o.OwnedID == "" {
		return eris.Wrap(ErrInvalid, "ownership: owner_id and owned_id are required")
	}
	if !o.ControlLevel.Valid() {
		return eris.Wrapf(ErrInvalid, "ownership %s -> %s: unknown control_level %q", o.OwnerID, o.OwnedID, o.ControlLevel)
	}
	if o.Source == "" {
		return eris.Wrapf(ErrInvalid, "ownership %s -> %s: source is required", o.OwnerID, o.OwnedID)
	}
	if o.SharePercent != nil && (*o.SharePercent < 0 || *o.SharePercent > 100) {
		return eris.Wrapf(ErrInvalid, "ownership %s -> %s: share_percent %v out of range", o.OwnerID, o.OwnedID, *o.SharePercent)
	}
	if o.CapitalUAH != nil && *o.CapitalUAH < 0 {
		return eris.Wrapf(ErrInvalid, "ownership %s -> %s: negative capital_uah", o.OwnerID, o.OwnedID)
	}
	return nil
}

// Crawl frontier statuses.
const (
	CrawlPending    = "pending"
	CrawlInProgress = "in_progress"
	CrawlDone       = "done"
	CrawlFailed     = "failed"
)

// CrawlState is advisory frontier bookkeeping kept for the crawler.
type CrawlState struct {
	EntityID   string `json:"entity_id" db:"entity_id"`
	EntityType Type   `json:"entity_type" db:"entity_type"`
	Status     string `json:"status" db:"status"`
	Depth      int    `json:"depth" db:"depth"`
}

// Record is one owner row as produced by the page parser.
type Record struct {
	Name         string   `json:"name" yaml:"name"`
	ProfileLink  string   `json:"profile_link,omitempty" yaml:"profile_link"`
	Country      string   `json:"country,omitempty" yaml:"country"`
	Role         string   `json:"role,omitempty" yaml:"role"`
	SharePercent *float64 `json:"share_percent,omitempty" yaml:"share_percent"`
	AmountUAH    *int64   `json:"amount_uah,omitempty" yaml:"amount_uah"`
}
