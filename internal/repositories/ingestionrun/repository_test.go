package ingestionrun

import (
	"context"
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

var started = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewRepository(database.NewDatabaseInstance(sqlx.NewDb(db, "sqlmock"), logger), logger), mock
}

func TestSave(t *testing.T) {
	repo, mock := newRepo(t)
	run := &models.IngestionRun{
		ID:        "run-1",
		Scope:     models.Scope{Level: models.LevelState, State: "MN"},
		State:     models.RunStateFetching,
		StartedAt: started,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ingestion_runs (id, scope, scope_key,")).
		WithArgs("run-1", sqlmock.AnyArg(), "state/MN/*/*", "fetching", nil, 0, 0, 0, 0,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), started, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Save(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet(t *testing.T) {
	repo, mock := newRepo(t)
	finished := started.Add(time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("FROM ingestion_runs WHERE id = $1")).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"run-1", []byte(`{"level":"state","state":"MN"}`), "state/MN/*/*", "failed", "cancelled",
			3, 1, 1, 1,
			[]byte(`[]`),
			[]byte(`[{"key":"openstates:ocd-person/1","source":"openstates","status":"failed","error_kind":"SourceUnavailable"}]`),
			nil, started, finished,
		))

	run, err := repo.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStateFailed, run.State)
	assert.Equal(t, "cancelled", run.Reason)
	assert.Equal(t, models.LevelState, run.Scope.Level)
	require.Len(t, run.Failures(), 1)
	assert.Equal(t, models.ErrorKindSourceUnavailable, run.Failures()[0].ErrorKind)
	assert.Equal(t, &finished, run.FinishedAt)
}

func TestGet_NotFound(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM ingestion_runs")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := repo.Get(context.Background(), "nope")
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}
