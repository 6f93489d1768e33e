package crosswalk

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const table = "crosswalk_entries"

var columns = []string{"source", "source_id", "canonical_id", "confidence", "created_at"}

// Repository handles crosswalk entry persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
	now    func() time.Time
}

// NewRepository creates a new crosswalk repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// InsertIfAbsent stores entry unless its (source, source_id) is already mapped.
// It returns the stored entry, which is the existing mapping when one was already present,
// and whether this call created it.
func (r *Repository) InsertIfAbsent(ctx context.Context, entry models.CrosswalkEntry) (models.CrosswalkEntry, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "crosswalk.Repository.InsertIfAbsent")
	defer span.End()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}

	query, args := database.NewInsertBuilder().
		InsertInto(table).
		Cols(columns...).
		Values(entry.Source, entry.SourceID, entry.CanonicalID, entry.Confidence, entry.CreatedAt).
		OnConflictDoNothing("source", "source_id").
		Returning(columns...).
		Build()

	var stored models.CrosswalkEntry
	err := database.QuerierFrom(ctx, r.db).GetContext(ctx, &stored, query, args...)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to insert crosswalk entry")
		return models.CrosswalkEntry{}, false, errors.Wrap(err, "failed to insert crosswalk entry")
	}

	existing, err := r.Get(ctx, entry.Key())
	if err != nil {
		return models.CrosswalkEntry{}, false, err
	}
	if existing == nil {
		// the conflicting row disappeared between statements; entries are never deleted
		return models.CrosswalkEntry{}, false, errors.Errorf("crosswalk entry %s conflicted but was not found", entry.Key())
	}
	return *existing, false, nil
}

// Get returns the entry for key, or nil when the key is not mapped
func (r *Repository) Get(ctx context.Context, key models.SourceKey) (*models.CrosswalkEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "crosswalk.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("source", key.Source),
		sb.Equal("source_id", key.SourceID),
	)

	query, args := sb.Build()
	var entry models.CrosswalkEntry
	if err := database.QuerierFrom(ctx, r.db).GetContext(ctx, &entry, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get crosswalk entry")
		return nil, errors.Wrap(err, "failed to get crosswalk entry")
	}
	return &entry, nil
}

// Lookup returns the stored entries for the given keys. Unmapped keys are absent from the result.
func (r *Repository) Lookup(ctx context.Context, keys []models.SourceKey) (map[models.SourceKey]models.CrosswalkEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "crosswalk.Repository.Lookup")
	defer span.End()

	result := make(map[models.SourceKey]models.CrosswalkEntry, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	conditions := make([]string, 0, len(keys))
	for _, key := range keys {
		conditions = append(conditions, sb.And(
			sb.Equal("source", key.Source),
			sb.Equal("source_id", key.SourceID),
		))
	}
	sb.Where(sb.Or(conditions...))

	query, args := sb.Build()
	var entries []models.CrosswalkEntry
	if err := database.QuerierFrom(ctx, r.db).SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to look up crosswalk entries")
		return nil, errors.Wrap(err, "failed to look up crosswalk entries")
	}

	for _, e := range entries {
		result[e.Key()] = e
	}
	return result, nil
}

// ListByCanonicalID returns every entry pointing at canonicalID, oldest first
func (r *Repository) ListByCanonicalID(ctx context.Context, canonicalID string) ([]models.CrosswalkEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "crosswalk.Repository.ListByCanonicalID")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("canonical_id", canonicalID))
	sb.OrderBy("created_at", "source")

	query, args := sb.Build()
	entries := make([]models.CrosswalkEntry, 0)
	if err := database.QuerierFrom(ctx, r.db).SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list crosswalk entries")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list crosswalk entries")
	}
	return entries, nil
}
