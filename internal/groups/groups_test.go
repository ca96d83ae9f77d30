package groups

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fin-groups/internal/entity"
	"github.com/sells-group/fin-groups/internal/store"
)

func ptr[T any](v T) *T { return &v }

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedEntities(t *testing.T, st store.Store, ids ...string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		typ, ok := entity.TypeOf(id)
		require.True(t, ok, id)
		require.NoError(t, st.UpsertEntity(ctx, entity.Entity{ID: id, Type: typ, Name: id}))
	}
}

func own(t *testing.T, st store.Store, o entity.Ownership) {
	t.Helper()
	if o.Source == "" {
		o.Source = "test"
	}
	_, err := st.UpsertOwnership(context.Background(), o)
	require.NoError(t, err)
}

type stubEdges struct {
	edges []store.Edge
	err   error
	got   store.ControlFilter
}

func (s *stubEdges) ControlEdges(_ context.Context, f store.ControlFilter) ([]store.Edge, error) {
	s.got = f
	return s.edges, s.err
}

type stubRecorder struct {
	groups int
	calls  int
}

func (r *stubRecorder) ObserveDetection(groups int, _ time.Duration) {
	r.groups = groups
	r.calls++
}

func TestPolicy_IsControl(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		name string
		o    entity.Ownership
		want bool
	}{
		{"beneficial without share", entity.Ownership{ControlLevel: entity.ControlBeneficial}, true},
		{"founder at threshold", entity.Ownership{Role: "Founder", SharePercent: ptr(50.0), ControlLevel: entity.ControlDirect}, true},
		{"founder below threshold", entity.Ownership{Role: "Founder", SharePercent: ptr(49.0), ControlLevel: entity.ControlDirect}, false},
		{"ukrainian founder label", entity.Ownership{Role: "Засновник", SharePercent: ptr(100.0), ControlLevel: entity.ControlDirect}, true},
		{"founder without share", entity.Ownership{Role: "Founder", ControlLevel: entity.ControlDirect}, false},
		{"director", entity.Ownership{Role: "Director", SharePercent: ptr(100.0), ControlLevel: entity.ControlManagement}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.IsControl(tt.o))
		})
	}
}

func TestPolicy_Filter(t *testing.T) {
	f := Policy{FounderRoles: []string{"Owner"}, FounderThreshold: 25}.Filter()
	assert.Equal(t, []string{"Owner"}, f.FounderRoles)
	assert.Equal(t, 25.0, f.FounderThreshold)
}

func TestProject_Empty(t *testing.T) {
	out := Project(nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestProject_SharedOwner(t *testing.T) {
	out := Project([]store.Edge{
		{OwnerID: "person:p", OwnedID: "company:UA:2"},
		{OwnerID: "person:p", OwnedID: "company:UA:1"},
	})
	assert.Equal(t, [][]string{{"company:UA:1", "company:UA:2"}}, out)
}

func TestProject_ChainThroughSharedOwners(t *testing.T) {
	// P1 owns A and B; P2 owns B and C. A, B and C form one group.
	out := Project([]store.Edge{
		{OwnerID: "person:p1", OwnedID: "company:UA:a"},
		{OwnerID: "person:p1", OwnedID: "company:UA:b"},
		{OwnerID: "person:p2", OwnedID: "company:UA:b"},
		{OwnerID: "person:p2", OwnedID: "company:UA:c"},
		{OwnerID: "person:p3", OwnedID: "company:UA:x"},
		{OwnerID: "person:p3", OwnedID: "company:UA:y"},
	})
	assert.Equal(t, [][]string{
		{"company:UA:a", "company:UA:b", "company:UA:c"},
		{"company:UA:x", "company:UA:y"},
	}, out)
}

func TestProject_SingleOwnedCompanyDropped(t *testing.T) {
	out := Project([]store.Edge{
		{OwnerID: "person:p1", OwnedID: "company:UA:a"},
		{OwnerID: "person:p2", OwnedID: "company:UA:a"},
	})
	assert.Empty(t, out)
}

func TestProject_OrderIndependent(t *testing.T) {
	edges := []store.Edge{
		{OwnerID: "person:p1", OwnedID: "company:UA:a"},
		{OwnerID: "person:p1", OwnedID: "company:UA:b"},
		{OwnerID: "person:p2", OwnedID: "company:UA:c"},
		{OwnerID: "person:p2", OwnedID: "company:UA:d"},
	}
	reversed := make([]store.Edge, len(edges))
	for i, e := range edges {
		reversed[len(edges)-1-i] = e
	}
	assert.Equal(t, Project(edges), Project(reversed))
}

func TestDetector_PassesPolicyAndRecords(t *testing.T) {
	src := &stubEdges{edges: []store.Edge{
		{OwnerID: "person:p", OwnedID: "company:UA:1"},
		{OwnerID: "person:p", OwnedID: "company:UA:2"},
	}}
	rec := &stubRecorder{}
	p := Policy{FounderRoles: []string{"Owner"}, FounderThreshold: 75}

	out, err := NewDetector(src, p, rec).FindCompanyGroups(context.Background())
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, p.Filter(), src.got)
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, 1, rec.groups)
}

func TestDetector_EdgeError(t *testing.T) {
	src := &stubEdges{err: eris.New("boom")}
	_, err := NewDetector(src, DefaultPolicy(), nil).FindCompanyGroups(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "groups: load control edges")
}

func TestDetector_BeneficialOwnerGroupsCompanies(t *testing.T) {
	st := newTestStore(t)
	seedEntities(t, st, "person:p", "company:UA:1", "company:UA:2")
	own(t, st, entity.Ownership{OwnerID: "person:p", OwnedID: "company:UA:1", ControlLevel: entity.ControlBeneficial})
	own(t, st, entity.Ownership{OwnerID: "person:p", OwnedID: "company:UA:2", ControlLevel: entity.ControlBeneficial})

	out, err := NewDetector(st, DefaultPolicy(), nil).FindCompanyGroups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"company:UA:1", "company:UA:2"}}, out)
}

func TestDetector_DirectorDoesNotGroup(t *testing.T) {
	st := newTestStore(t)
	seedEntities(t, st, "person:d", "company:UA:1", "company:UA:2")
	own(t, st, entity.Ownership{OwnerID: "person:d", OwnedID: "company:UA:1", Role: "Director", ControlLevel: entity.ControlManagement})
	own(t, st, entity.Ownership{OwnerID: "person:d", OwnedID: "company:UA:2", Role: "Director", ControlLevel: entity.ControlManagement})

	out, err := NewDetector(st, DefaultPolicy(), nil).FindCompanyGroups(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDetector_FounderThresholdBoundary(t *testing.T) {
	st := newTestStore(t)
	seedEntities(t, st, "person:a", "person:b", "company:UA:1", "company:UA:2", "company:UA:3", "company:UA:4")
	// Founder at exactly 50 groups 1 and 2.
	own(t, st, entity.Ownership{OwnerID: "person:a", OwnedID: "company:UA:1", Role: "Founder", SharePercent: ptr(50.0), ControlLevel: entity.ControlDirect})
	own(t, st, entity.Ownership{OwnerID: "person:a", OwnedID: "company:UA:2", Role: "Founder", SharePercent: ptr(60.0), ControlLevel: entity.ControlDirect})
	// Founder at 49 in one of them keeps 3 and 4 apart.
	own(t, st, entity.Ownership{OwnerID: "person:b", OwnedID: "company:UA:3", Role: "Founder", SharePercent: ptr(49.0), ControlLevel: entity.ControlDirect})
	own(t, st, entity.Ownership{OwnerID: "person:b", OwnedID: "company:UA:4", Role: "Founder", SharePercent: ptr(80.0), ControlLevel: entity.ControlDirect})

	out, err := NewDetector(st, DefaultPolicy(), nil).FindCompanyGroups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"company:UA:1", "company:UA:2"}}, out)
}

func TestDetector_EmptyStore(t *testing.T) {
	st := newTestStore(t)
	out, err := NewDetector(st, DefaultPolicy(), nil).FindCompanyGroups(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}
