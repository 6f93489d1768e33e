package canonicalentity

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const table = "canonical_entities"

var columns = []string{
	"canonical_id", "name", "normalized_name", "party", "office", "level", "chamber", "state", "district",
	"contacts", "photos", "social_media", "external_ids", "term", "contributions", "signals", "conflicts",
	"quality_score", "sources_present", "current_status", "content_hash", "version",
	"last_resolved_at", "created_at", "updated_at",
}

// updatable are the columns overwritten when an existing entity changes
var updatable = []string{
	"name", "normalized_name", "party", "office", "level", "chamber", "state", "district",
	"contacts", "photos", "social_media", "external_ids", "term", "contributions", "signals", "conflicts",
	"quality_score", "sources_present", "current_status", "content_hash",
	"last_resolved_at", "updated_at",
}

// Filter selects entities for listing
type Filter struct {
	State          string
	Level          models.Level
	Chamber        models.Chamber
	District       string
	Status         models.CurrentStatus // empty matches every status
	Limit          int
	Offset         int
	OrderByQuality bool
}

// Repository handles canonical entity persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new canonical entity repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// DB exposes the underlying database handle for transactional operations.
func (r *Repository) DB() database.DB {
	return r.db
}

// GetForUpdate returns the stored entity and locks its row for the surrounding transaction.
// It returns nil when the entity does not exist.
func (r *Repository) GetForUpdate(ctx context.Context, canonicalID string) (*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalentity.Repository.GetForUpdate")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("canonical_id", canonicalID))
	sb.ForUpdate()

	query, args := sb.Build()
	var row models.CanonicalEntityRow
	if err := database.QuerierFrom(ctx, r.db).GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to lock canonical entity")
		return nil, errors.Wrap(err, "failed to lock canonical entity")
	}
	return row.ToEntity(), nil
}

// Insert creates a new canonical entity at version 1
func (r *Repository) Insert(ctx context.Context, entity *models.CanonicalEntity) error {
	ctx, span := tracing.StartSpan(ctx, "canonicalentity.Repository.Insert")
	defer span.End()

	entity.Version = 1
	row := models.NewCanonicalEntityRow(entity)

	query, args := database.NewInsertBuilder().
		InsertInto(table).
		Cols(columns...).
		Values(rowValues(row)...).
		Build()

	if _, err := database.QuerierFrom(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to insert canonical entity")
		return errors.Wrap(err, "failed to insert canonical entity")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"canonical_id": entity.CanonicalID}).Debug("Created canonical entity")
	return nil
}

// Upsert writes the entity, inserting it or overwriting the stored row and bumping its version
func (r *Repository) Upsert(ctx context.Context, entity *models.CanonicalEntity) error {
	ctx, span := tracing.StartSpan(ctx, "canonicalentity.Repository.Upsert")
	defer span.End()

	row := models.NewCanonicalEntityRow(entity)

	sets := make([]string, 0, len(updatable)+1)
	for _, col := range updatable {
		sets = append(sets, fmt.Sprintf("%s = %s", col, database.Excluded(col)))
	}
	sets = append(sets, fmt.Sprintf("version = %s.version + 1", table))

	ib := database.NewInsertBuilder().
		InsertInto(table).
		Cols(columns...).
		Values(rowValues(row)...)
	ib.SQL(fmt.Sprintf("ON CONFLICT (canonical_id) DO UPDATE SET %s", strings.Join(sets, ", ")))
	ib.Returning("version")

	query, args := ib.Build()
	var version int
	if err := database.QuerierFrom(ctx, r.db).GetContext(ctx, &version, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to upsert canonical entity")
		return errors.Wrap(err, "failed to upsert canonical entity")
	}

	entity.Version = version
	return nil
}

// Touch records that an unchanged entity was re-resolved. Only the columns outside the
// content hash move: last_resolved_at, the freshly evaluated signals, and the contributions.
func (r *Repository) Touch(ctx context.Context, entity *models.CanonicalEntity) error {
	ctx, span := tracing.StartSpan(ctx, "canonicalentity.Repository.Touch")
	defer span.End()

	row := models.NewCanonicalEntityRow(entity)

	ub := database.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("last_resolved_at", row.LastResolvedAt),
		ub.Assign("signals", row.Signals),
		ub.Assign("contributions", row.Contributions),
	)
	ub.Where(ub.Equal("canonical_id", entity.CanonicalID))

	query, args := ub.Build()
	if _, err := database.QuerierFrom(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to touch canonical entity")
		return errors.Wrap(err, "failed to touch canonical entity")
	}
	return nil
}

// Get retrieves a canonical entity by ID
func (r *Repository) Get(ctx context.Context, canonicalID string) (*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalentity.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("canonical_id", canonicalID))

	query, args := sb.Build()
	var row models.CanonicalEntityRow
	if err := database.QuerierFrom(ctx, r.db).GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("representative %s not found", canonicalID))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get canonical entity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get representative")
	}
	return row.ToEntity(), nil
}

// GetMany retrieves the entities with the given IDs. Unknown IDs are skipped.
func (r *Repository) GetMany(ctx context.Context, canonicalIDs []string) ([]*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalentity.Repository.GetMany")
	defer span.End()

	if len(canonicalIDs) == 0 {
		return []*models.CanonicalEntity{}, nil
	}

	ids := make([]any, 0, len(canonicalIDs))
	for _, id := range canonicalIDs {
		ids = append(ids, id)
	}

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.In("canonical_id", ids...))
	sb.OrderBy("canonical_id")

	return r.list(ctx, sb)
}

// List returns the entities matching filter
func (r *Repository) List(ctx context.Context, filter Filter) ([]*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalentity.Repository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	where := make([]string, 0, 5)
	if filter.Level != "" {
		where = append(where, sb.Equal("level", filter.Level))
	}
	if filter.State != "" {
		where = append(where, sb.Equal("state", filter.State))
	}
	if filter.Chamber != "" {
		where = append(where, sb.Equal("chamber", filter.Chamber))
	}
	if filter.District != "" {
		where = append(where, sb.Equal("district", filter.District))
	}
	if filter.Status != "" {
		where = append(where, sb.Equal("current_status", filter.Status))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	if filter.OrderByQuality {
		sb.OrderBy("quality_score DESC", "name", "canonical_id")
	} else {
		sb.OrderBy("canonical_id")
	}
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		sb.Offset(filter.Offset)
	}

	return r.list(ctx, sb)
}

func (r *Repository) list(ctx context.Context, sb *database.SelectBuilder) ([]*models.CanonicalEntity, error) {
	query, args := sb.Build()
	var rows []models.CanonicalEntityRow
	if err := database.QuerierFrom(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list canonical entities")
		return nil, errors.Wrap(err, "failed to list canonical entities")
	}

	entities := make([]*models.CanonicalEntity, 0, len(rows))
	for i := range rows {
		entities = append(entities, rows[i].ToEntity())
	}
	return entities, nil
}

func rowValues(row *models.CanonicalEntityRow) []any {
	return []any{
		row.CanonicalID, row.Name, row.NormalizedName, row.Party, row.Office, row.Level, row.Chamber, row.State, row.District,
		row.Contacts, row.Photos, row.SocialMedia, row.ExternalIDs, row.Term, row.Contributions, row.Signals, row.Conflicts,
		row.QualityScore, row.SourcesPresent, row.CurrentStatus, row.ContentHash, row.Version,
		row.LastResolvedAt, row.CreatedAt, row.UpdatedAt,
	}
}
