package canonicalentity

import (
	"context"
	"database/sql/driver"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

var resolved = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewRepository(database.NewDatabaseInstance(sqlx.NewDb(db, "sqlmock"), logger), logger), mock
}

func entityRow(id, name string, score float64) []driver.Value {
	return []driver.Value{
		id, name, "jane doe", "Democratic", "U.S. Senator", "federal", "upper", "MN", nil,
		[]byte(`[{"type":"email","value":"x@gov","verified":false,"sources":["congress"]}]`),
		[]byte(`[]`), []byte(`[]`),
		[]byte(`{"congress":"D000001"}`),
		[]byte(`{}`),
		[]byte(`[{"source":"congress","source_id":"D000001","name":"Jane Doe","level":"federal","retrieved_at":"2024-03-01T00:00:00Z"}]`),
		[]byte(`{"term_active":true,"election_in_window":false,"no_retired_marker":true,"fresh":true,"evaluated_at":"2024-03-01T00:00:00Z"}`),
		nil,
		score, "{congress}", "current", "abc123", 2,
		resolved, resolved, resolved,
	}
}

func TestGet(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT canonical_id, name, normalized_name")).
		WithArgs("canon-1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(entityRow("canon-1", "Jane Doe", 87.5)...))

	entity, err := repo.Get(context.Background(), "canon-1")
	require.NoError(t, err)

	assert.Equal(t, "Jane Doe", entity.Consensus.Name)
	assert.Equal(t, models.ChamberUpper, entity.Consensus.Chamber)
	assert.Equal(t, "", entity.Consensus.District)
	assert.Equal(t, []models.Source{models.SourceCongress}, entity.SourcesPresent)
	assert.Equal(t, "D000001", entity.ExternalIDs[models.SourceCongress])
	require.Len(t, entity.Contacts, 1)
	assert.Equal(t, []models.Source{models.SourceCongress}, entity.Contacts[0].Sources)
	require.Len(t, entity.Contributions, 1)
	assert.Equal(t, "D000001", entity.Contributions[0].SourceID)
	assert.Equal(t, 3, entity.Signals.Count())
	assert.Nil(t, entity.Conflicts)
	assert.Equal(t, models.StatusCurrent, entity.CurrentStatus)
	assert.Equal(t, 2, entity.Version)
}

func TestGet_NotFound(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM canonical_entities WHERE canonical_id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := repo.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}

func TestGetForUpdate_Missing(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM canonical_entities WHERE canonical_id = $1 FOR UPDATE")).
		WithArgs("canon-9").
		WillReturnRows(sqlmock.NewRows(columns))

	entity, err := repo.GetForUpdate(context.Background(), "canon-9")
	require.NoError(t, err)
	assert.Nil(t, entity)
}

func TestUpsert_BumpsVersion(t *testing.T) {
	repo, mock := newRepo(t)
	entity := &models.CanonicalEntity{
		CanonicalID:    "canon-1",
		Consensus:      models.Consensus{Name: "Jane Doe", Level: models.LevelFederal, State: "MN"},
		SourcesPresent: []models.Source{models.SourceCongress},
		CurrentStatus:  models.StatusCurrent,
		LastResolvedAt: resolved,
	}

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (canonical_id) DO UPDATE SET name = EXCLUDED.name")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(3))

	require.NoError(t, repo.Upsert(context.Background(), entity))
	assert.Equal(t, 3, entity.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_SetsFirstVersion(t *testing.T) {
	repo, mock := newRepo(t)
	entity := &models.CanonicalEntity{CanonicalID: "canon-1", Consensus: models.Consensus{Name: "Jane Doe", Level: models.LevelFederal}}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO canonical_entities (canonical_id, name, normalized_name,")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), entity))
	assert.Equal(t, 1, entity.Version)
}

func TestTouch(t *testing.T) {
	repo, mock := newRepo(t)
	entity := &models.CanonicalEntity{
		CanonicalID:    "canon-1",
		Signals:        models.Signals{Fresh: true, EvaluatedAt: resolved},
		Contributions:  []models.SourceRecord{{Source: models.SourceCongress, SourceID: "D000001", Name: "Jane Doe"}},
		LastResolvedAt: resolved,
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE canonical_entities SET last_resolved_at = $1, signals = $2, contributions = $3 WHERE canonical_id = $4")).
		WithArgs(resolved, sqlmock.AnyArg(), sqlmock.AnyArg(), "canon-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Touch(context.Background(), entity))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestList(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM canonical_entities WHERE level = $1 AND state = $2 AND chamber = $3 AND current_status = $4 ORDER BY quality_score DESC, name, canonical_id LIMIT $5")).
		WithArgs("federal", "MN", "upper", "current", 100).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(entityRow("canon-1", "Jane Doe", 87.5)...).
			AddRow(entityRow("canon-2", "John Roe", 60)...))

	entities, err := repo.List(context.Background(), Filter{
		State:          "MN",
		Level:          models.LevelFederal,
		Chamber:        models.ChamberUpper,
		Status:         models.StatusCurrent,
		Limit:          100,
		OrderByQuality: true,
	})
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "canon-2", entities[1].CanonicalID)
}

func TestGetMany(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE canonical_id IN ($1, $2) ORDER BY canonical_id")).
		WithArgs("canon-1", "canon-2").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(entityRow("canon-1", "Jane Doe", 87.5)...))

	entities, err := repo.GetMany(context.Background(), []string{"canon-1", "canon-2"})
	require.NoError(t, err)
	assert.Len(t, entities, 1)

	empty, err := repo.GetMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
