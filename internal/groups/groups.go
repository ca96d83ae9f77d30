// Package groups detects corporate groups: companies that share a
// controlling owner, directly or through a chain of shared owners.
package groups

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fin-groups/internal/entity"
	"github.com/sells-group/fin-groups/internal/store"
)

// EdgeSource is the slice of the store the detector reads from.
type EdgeSource interface {
	ControlEdges(ctx context.Context, filter store.ControlFilter) ([]store.Edge, error)
}

// Recorder receives detection results; *metrics.Metrics satisfies it.
type Recorder interface {
	ObserveDetection(groups int, d time.Duration)
}

// Policy decides which ownership edges represent control.
type Policy struct {
	FounderRoles     []string `yaml:"founder_roles" mapstructure:"founder_roles"`
	FounderThreshold float64  `yaml:"founder_threshold" mapstructure:"founder_threshold"`
}

// DefaultPolicy treats beneficial owners and founders holding at least half
// of the capital as controllers.
func DefaultPolicy() Policy {
	return Policy{
		FounderRoles:     []string{"Founder", "Засновник"},
		FounderThreshold: 50,
	}
}

// Filter converts the policy into the store's SQL filter.
func (p Policy) Filter() store.ControlFilter {
	return store.ControlFilter{
		FounderRoles:     p.FounderRoles,
		FounderThreshold: p.FounderThreshold,
	}
}

// IsControl is the in-memory form of the filter the store applies.
func (p Policy) IsControl(o entity.Ownership) bool {
	if o.ControlLevel == entity.ControlBeneficial {
		return true
	}
	if o.SharePercent == nil || *o.SharePercent < p.FounderThreshold {
		return false
	}
	for _, r := range p.FounderRoles {
		if o.Role == r {
			return true
		}
	}
	return false
}

// Detector finds company groups from the control edges in a store.
type Detector struct {
	edges   EdgeSource
	policy  Policy
	metrics Recorder
}

// NewDetector creates a Detector. rec may be nil.
func NewDetector(edges EdgeSource, policy Policy, rec Recorder) *Detector {
	return &Detector{edges: edges, policy: policy, metrics: rec}
}

// FindCompanyGroups returns every set of two or more companies linked by a
// shared controlling owner. Ids are sorted within each group and groups are
// sorted by their first id.
func (d *Detector) FindCompanyGroups(ctx context.Context) ([][]string, error) {
	start := time.Now()

	edges, err := d.edges.ControlEdges(ctx, d.policy.Filter())
	if err != nil {
		return nil, eris.Wrap(err, "groups: load control edges")
	}

	out := Project(edges)
	if d.metrics != nil {
		d.metrics.ObserveDetection(len(out), time.Since(start))
	}
	zap.L().Info("groups: detection complete",
		zap.Int("control_edges", len(edges)),
		zap.Int("groups", len(out)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

// Project builds the owner/company bipartite graph from edges, projects it
// onto the owned side, and returns the connected components with more than
// one member.
func Project(edges []store.Edge) [][]string {
	// Left side: owner -> owned companies. Right side: owned ids.
	owned := make(map[string][]string)
	companies := make(map[string]struct{})
	for _, e := range edges {
		owned[e.OwnerID] = append(owned[e.OwnerID], e.OwnedID)
		companies[e.OwnedID] = struct{}{}
	}

	uf := newUnionFind(len(companies))
	for id := range companies {
		uf.add(id)
	}
	for _, targets := range owned {
		for _, t := range targets[1:] {
			uf.union(targets[0], t)
		}
	}

	members := make(map[string][]string)
	for id := range companies {
		root := uf.find(id)
		members[root] = append(members[root], id)
	}

	out := make([][]string, 0)
	for _, m := range members {
		if len(m) < 2 {
			continue
		}
		sort.Strings(m)
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
