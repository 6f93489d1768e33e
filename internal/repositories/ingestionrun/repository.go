package ingestionrun

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const table = "ingestion_runs"

var columns = []string{
	"id", "scope", "scope_key", "state", "reason", "processed", "succeeded", "failed", "skipped",
	"conflicts", "outcomes", "source_failures", "started_at", "finished_at",
}

// Repository handles ingestion run persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new ingestion run repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Save inserts the run or overwrites its progress
func (r *Repository) Save(ctx context.Context, run *models.IngestionRun) error {
	ctx, span := tracing.StartSpan(ctx, "ingestionrun.Repository.Save")
	defer span.End()

	var reason *string
	if run.Reason != "" {
		reason = &run.Reason
	}

	query, args := database.NewInsertBuilder().
		InsertInto(table).
		Cols(columns...).
		Values(
			run.ID, database.NewJSONB(run.Scope), run.Scope.Key(), run.State, reason,
			run.Processed, run.Succeeded, run.Failed, run.Skipped,
			database.NewJSONB(run.Conflicts), database.NewJSONB(run.Outcomes), database.NewJSONB(run.SourceFailures),
			run.StartedAt, run.FinishedAt,
		).
		OnConflictUpdate([]string{"id"},
			"state", "reason", "processed", "succeeded", "failed", "skipped",
			"conflicts", "outcomes", "source_failures", "finished_at",
		).
		Build()

	if _, err := database.QuerierFrom(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": run.ID}).Error("Failed to save ingestion run")
		return errors.Wrap(err, "failed to save ingestion run")
	}
	return nil
}

// Get retrieves a run by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.IngestionRun, error) {
	ctx, span := tracing.StartSpan(ctx, "ingestionrun.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var row models.IngestionRunRow
	if err := database.QuerierFrom(ctx, r.db).GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("ingestion run %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get ingestion run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get ingestion run")
	}
	return row.ToRun(), nil
}
