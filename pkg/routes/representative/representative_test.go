package representative

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/gateway"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/sources"
)

type fakeStore struct {
	entities  []*models.CanonicalEntity
	crosswalk map[string][]models.CrosswalkEntry
	queries   []gateway.Query
}

func (f *fakeStore) QueryByState(_ context.Context, q gateway.Query) ([]*models.CanonicalEntity, error) {
	f.queries = append(f.queries, q)
	out := make([]*models.CanonicalEntity, 0)
	for _, e := range f.entities {
		c := e.Consensus
		if c.State != q.State {
			continue
		}
		if q.Level != "" && c.Level != q.Level {
			continue
		}
		if q.Chamber != "" && c.Chamber != q.Chamber {
			continue
		}
		if q.District != "" && c.District != q.District {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeStore) QueryByIdentifier(_ context.Context, id string) (*models.CanonicalEntity, error) {
	for _, e := range f.entities {
		if e.CanonicalID == id {
			return e, nil
		}
	}
	return nil, httperror.NewHTTPError(http.StatusNotFound, "representative not found")
}

func (f *fakeStore) CrosswalkFor(_ context.Context, id string) ([]models.CrosswalkEntry, error) {
	return f.crosswalk[id], nil
}

type fakeLookup struct {
	result *sources.AddressLookup
	err    error
}

func (f fakeLookup) LookupDivisions(context.Context, string) (*sources.AddressLookup, error) {
	return f.result, f.err
}

type fakeNetwork map[string]*graph.QueryResult

func (f fakeNetwork) Neighborhood(_ context.Context, id string) (*graph.QueryResult, error) {
	return f[id], nil
}

func entity(id, name string, level models.Level, chamber models.Chamber, district string) *models.CanonicalEntity {
	return &models.CanonicalEntity{
		CanonicalID: id,
		Consensus: models.Consensus{
			Name:     name,
			Level:    level,
			Chamber:  chamber,
			State:    "MN",
			District: district,
		},
		CurrentStatus: models.StatusCurrent,
		Version:       1,
	}
}

func testStore() *fakeStore {
	return &fakeStore{
		entities: []*models.CanonicalEntity{
			entity("canon-1", "Jane Doe", models.LevelFederal, models.ChamberUpper, ""),
			entity("canon-2", "John Roe", models.LevelFederal, models.ChamberUpper, ""),
			entity("canon-3", "Ann Poe", models.LevelFederal, models.ChamberLower, "5"),
			entity("canon-4", "Sam Loe", models.LevelState, models.ChamberLower, "61A"),
		},
		crosswalk: map[string][]models.CrosswalkEntry{
			"canon-1": {{Source: models.SourceCongress, SourceID: "D000001", CanonicalID: "canon-1", Confidence: 1}},
		},
	}
}

func newServer(store Store, lookup DivisionLookup, network Neighborhoods) *echo.Echo {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	NewHandler(store, lookup, network, logger).Register(e.Group("/api/v1"))
	return e
}

func get(e *echo.Echo, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestList(t *testing.T) {
	store := testStore()
	e := newServer(store, nil, nil)

	rec := get(e, "/api/v1/representatives?state=MN&level=federal&chamber=upper&limit=10&include_all=true")
	require.Equal(t, http.StatusOK, rec.Code)

	var body models.RepresentativeListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.TotalCount)
	require.Len(t, store.queries, 1)
	assert.Equal(t, gateway.Query{
		State:      "MN",
		Level:      models.LevelFederal,
		Chamber:    models.ChamberUpper,
		Limit:      10,
		IncludeAll: true,
	}, store.queries[0])
}

func TestList_BadRequests(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{name: "missing state", query: "level=federal"},
		{name: "unknown level", query: "state=MN&level=county"},
		{name: "unknown chamber", query: "state=MN&chamber=middle"},
		{name: "negative limit", query: "state=MN&limit=-1"},
		{name: "non-numeric limit", query: "state=MN&limit=ten"},
		{name: "bad include_all", query: "state=MN&include_all=maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testStore()
			rec := get(newServer(store, nil, nil), "/api/v1/representatives?"+tt.query)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, store.queries)
		})
	}
}

func TestLookup(t *testing.T) {
	store := testStore()
	lookup := fakeLookup{result: &sources.AddressLookup{
		NormalizedAddress: "100 Main St, Minneapolis, MN 55401",
		State:             "MN",
		Divisions: []sources.Division{
			{ID: "ocd-division/country:us/state:mn", Name: "Minnesota"},
			{ID: "ocd-division/country:us/state:mn/cd:5", Level: models.LevelFederal, Chamber: models.ChamberLower, District: "5"},
			{ID: "ocd-division/country:us/state:mn/sldl:61a", Level: models.LevelState, Chamber: models.ChamberLower, District: "61A"},
		},
	}}
	e := newServer(store, lookup, nil)

	rec := get(e, "/api/v1/representatives/lookup?address=100+Main+St")
	require.Equal(t, http.StatusOK, rec.Code)

	var body LookupResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "MN", body.State)
	assert.Len(t, body.Divisions, 3)

	ids := make([]string, 0, len(body.Items))
	for _, item := range body.Items {
		ids = append(ids, item.CanonicalID)
	}
	assert.Equal(t, []string{"canon-1", "canon-2", "canon-3", "canon-4"}, ids)
	assert.Len(t, store.queries, 3)
}

func TestLookup_Errors(t *testing.T) {
	tests := []struct {
		name   string
		lookup DivisionLookup
		path   string
		code   int
	}{
		{name: "missing address", lookup: fakeLookup{}, path: "/api/v1/representatives/lookup", code: http.StatusBadRequest},
		{name: "not configured", lookup: nil, path: "/api/v1/representatives/lookup?address=x", code: http.StatusServiceUnavailable},
		{name: "upstream failure", lookup: fakeLookup{err: errors.New("boom")}, path: "/api/v1/representatives/lookup?address=x", code: http.StatusBadGateway},
		{name: "no state", lookup: fakeLookup{result: &sources.AddressLookup{}}, path: "/api/v1/representatives/lookup?address=x", code: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(newServer(testStore(), tt.lookup, nil), tt.path)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestGet(t *testing.T) {
	e := newServer(testStore(), nil, nil)

	rec := get(e, "/api/v1/representatives/canon-3")
	require.Equal(t, http.StatusOK, rec.Code)
	var body models.CanonicalEntity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Ann Poe", body.Consensus.Name)

	rec = get(e, "/api/v1/representatives/canon-404")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCrosswalk(t *testing.T) {
	rec := get(newServer(testStore(), nil, nil), "/api/v1/representatives/canon-1/crosswalk")
	require.Equal(t, http.StatusOK, rec.Code)

	var body []models.CrosswalkEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "D000001", body[0].SourceID)
}

func TestGraph(t *testing.T) {
	network := fakeNetwork{
		"canon-1": &graph.QueryResult{Nodes: []graph.NodeResult{{ID: "canon-1", Labels: []string{"Representative"}}}},
	}

	rec := get(newServer(testStore(), nil, network), "/api/v1/representatives/canon-1/graph")
	require.Equal(t, http.StatusOK, rec.Code)
	var body graph.QueryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Nodes, 1)

	rec = get(newServer(testStore(), nil, network), "/api/v1/representatives/canon-9/graph")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(newServer(testStore(), nil, nil), "/api/v1/representatives/canon-1/graph")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
