package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fin-groups/internal/entity"
	"github.com/sells-group/fin-groups/internal/groups"
	"github.com/sells-group/fin-groups/internal/metrics"
	"github.com/sells-group/fin-groups/internal/store"
)

func ptr[T any](v T) *T { return &v }

// newTestServer seeds person P owning companies 1 and 2 as beneficial owner,
// plus an unrelated company 3.
func newTestServer(t *testing.T) (*httptest.Server, *prometheus.Registry) {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))

	for _, e := range []entity.Entity{
		{ID: "person:p", Type: entity.TypePerson, Name: "P"},
		{ID: "company:UA:1", Type: entity.TypeCompany, Name: "Company 1", Country: "UA", TaxID: "1"},
		{ID: "company:UA:2", Type: entity.TypeCompany, Name: "Company 2", Country: "UA", TaxID: "2"},
		{ID: "company:UA:3", Type: entity.TypeCompany, Name: "Company 3", Country: "UA", TaxID: "3"},
	} {
		require.NoError(t, st.UpsertEntity(ctx, e))
	}
	for _, owned := range []string{"company:UA:1", "company:UA:2"} {
		_, err := st.UpsertOwnership(ctx, entity.Ownership{
			OwnerID: "person:p", OwnedID: owned, Role: "Кінцевий бенефіціарний власник",
			SharePercent: ptr(100.0), ControlLevel: entity.ControlBeneficial, Source: "test",
		})
		require.NoError(t, err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	det := groups.NewDetector(st, groups.DefaultPolicy(), m)
	srv := httptest.NewServer(New(st, det, Options{Metrics: m, Gatherer: reg}).Handler())
	t.Cleanup(srv.Close)
	return srv, reg
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec,noctx
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestGetEntity(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := get(t, srv.URL+"/entities/company:UA:1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var e entity.Entity
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, "company:UA:1", e.ID)
	assert.Equal(t, entity.TypeCompany, e.Type)
	assert.Equal(t, "1", e.TaxID)
}

func TestGetEntity_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := get(t, srv.URL+"/entities/company:UA:missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"entity not found"}`, string(body))
}

func TestGetGroup(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := get(t, srv.URL+"/entities/company:UA:2/group")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var g GroupResponse
	require.NoError(t, json.Unmarshal(body, &g))
	assert.Equal(t, []string{"company:UA:1", "company:UA:2", "person:p"}, g.IDs)
	assert.Len(t, g.Entities, 3)
	require.Len(t, g.Ownerships, 2)
	assert.Equal(t, entity.ControlBeneficial, g.Ownerships[0].ControlLevel)
}

func TestGetGroup_Singleton(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := get(t, srv.URL+"/entities/company:UA:3/group")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var g GroupResponse
	require.NoError(t, json.Unmarshal(body, &g))
	assert.Equal(t, []string{"company:UA:3"}, g.IDs)
	assert.Empty(t, g.Ownerships)
}

func TestGetGroup_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := get(t, srv.URL+"/entities/person:nobody/group")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListGroups(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := get(t, srv.URL+"/groups")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var g GroupsResponse
	require.NoError(t, json.Unmarshal(body, &g))
	assert.Equal(t, 1, g.Count)
	assert.Equal(t, [][]string{{"company:UA:1", "company:UA:2"}}, g.Groups)
}

type failingFinder struct{}

func (failingFinder) FindCompanyGroups(context.Context) ([][]string, error) {
	return nil, eris.New("db down")
}

func TestListGroups_Error(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	srv := httptest.NewServer(New(st, failingFinder{}, Options{}).Handler())
	t.Cleanup(srv.Close)

	resp, body := get(t, srv.URL+"/groups")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"error":"internal error"}`, string(body))
	assert.NotContains(t, string(body), "db down")
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	get(t, srv.URL+"/groups")
	get(t, srv.URL+"/entities/company:UA:missing")

	resp, body := get(t, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text := string(body)
	assert.Contains(t, text, `fingroups_http_requests_total{route="/groups",status="200"} 1`)
	assert.Contains(t, text, `fingroups_http_requests_total{route="/entities/{id}",status="404"} 1`)
	assert.Contains(t, text, "fingroups_groups_detected 1")
}

func TestMetricsEndpoint_DisabledWithoutGatherer(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	srv := httptest.NewServer(New(st, failingFinder{}, Options{}).Handler())
	t.Cleanup(srv.Close)

	resp, _ := get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/groups", strings.NewReader(""))
	require.NoError(t, err)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestListGroups_RateLimited(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	det := groups.NewDetector(st, groups.DefaultPolicy(), nil)
	srv := httptest.NewServer(New(st, det, Options{GroupsRate: 0.001, GroupsBurst: 1}).Handler())
	t.Cleanup(srv.Close)

	resp, _ := get(t, srv.URL+"/groups")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body := get(t, srv.URL+"/groups")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, string(body))

	// Other routes are not limited.
	resp, _ = get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
