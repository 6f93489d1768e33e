// Package gateway is the only component that touches storage. It wraps the
// repositories with the transactional upsert semantics the pipeline relies on.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/fern/internal/repositories/canonicalentity"
	"github.com/Ramsey-B/fern/internal/repositories/crosswalk"
	"github.com/Ramsey-B/fern/internal/repositories/ingestionrun"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	DefaultLimit = 100
	MaxLimit     = 500
)

// UpsertOutcome is what UpsertCanonicalEntity did to the stored entity
type UpsertOutcome string

const (
	OutcomeCreated   UpsertOutcome = "created"
	OutcomeUpdated   UpsertOutcome = "updated"
	OutcomeUnchanged UpsertOutcome = "unchanged"
)

// ConflictError reports a crosswalk key that is already mapped to another canonical ID
type ConflictError struct {
	Attempted models.CrosswalkEntry
	Winning   models.CrosswalkEntry
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("crosswalk %s already maps to %s (attempted %s)", e.Attempted.Key(), e.Winning.CanonicalID, e.Attempted.CanonicalID)
}

// WinningEntry returns the stored mapping behind a persistence conflict
func WinningEntry(err error) (models.CrosswalkEntry, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Winning, true
	}
	return models.CrosswalkEntry{}, false
}

// Query selects representatives for the query endpoints
type Query struct {
	State      string
	Level      models.Level
	Chamber    models.Chamber
	District   string
	Limit      int
	IncludeAll bool // include not-current and unknown entities
}

// Gateway is the persistence gateway
type Gateway struct {
	db        database.DB
	entities  *canonicalentity.Repository
	crosswalk *crosswalk.Repository
	runs      *ingestionrun.Repository
	logger    ectologger.Logger
	now       func() time.Time
}

// New creates a Gateway over db
func New(db database.DB, logger ectologger.Logger) *Gateway {
	return &Gateway{
		db:        db,
		entities:  canonicalentity.NewRepository(db, logger),
		crosswalk: crosswalk.NewRepository(db, logger),
		runs:      ingestionrun.NewRepository(db, logger),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Ping checks the database connection
func (g *Gateway) Ping(ctx context.Context) error {
	return g.db.PingContext(ctx)
}

// UpsertCanonicalEntity writes the entity and its new crosswalk entries in one transaction.
// When an entry's key is already mapped to a different canonical ID nothing is written and
// a PersistenceConflict error carrying the winning mapping is returned. The same error kind is
// returned when the stored entity changed since entity was merged from it.
func (g *Gateway) UpsertCanonicalEntity(ctx context.Context, entity *models.CanonicalEntity, entries []models.CrosswalkEntry) (UpsertOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "gateway.Gateway.UpsertCanonicalEntity")
	defer span.End()

	log := g.logger.WithContext(ctx).WithFields(map[string]any{
		"canonical_id": entity.CanonicalID,
		"entries":      len(entries),
	})

	hash, err := fingerprint.Generate(entity)
	if err != nil {
		return "", errors.Wrap(err, "failed to fingerprint canonical entity")
	}

	var outcome UpsertOutcome
	err = database.WithTx(ctx, g.db, func(ctx context.Context, _ database.Tx) error {
		existing, err := g.entities.GetForUpdate(ctx, entity.CanonicalID)
		if err != nil {
			return err
		}

		// entity.Version is the version the caller merged from; 0 means it expected no stored row
		if (existing == nil && entity.Version != 0) || (existing != nil && existing.Version != entity.Version) {
			stored := 0
			if existing != nil {
				stored = existing.Version
			}
			return models.NewPipelineError(models.ErrorKindPersistenceConflict, "", entity.CanonicalID,
				errors.Errorf("merged from version %d but stored version is %d", entity.Version, stored))
		}

		now := g.now()
		entity.ContentHash = hash
		switch {
		case existing == nil:
			entity.CreatedAt = now
			entity.UpdatedAt = now
			if err := g.entities.Insert(ctx, entity); err != nil {
				return err
			}
			outcome = OutcomeCreated
		case existing.ContentHash == hash:
			entity.CreatedAt = existing.CreatedAt
			entity.UpdatedAt = existing.UpdatedAt
			entity.Version = existing.Version
			if err := g.entities.Touch(ctx, entity); err != nil {
				return err
			}
			outcome = OutcomeUnchanged
		default:
			entity.CreatedAt = existing.CreatedAt
			entity.UpdatedAt = now
			if err := g.entities.Upsert(ctx, entity); err != nil {
				return err
			}
			outcome = OutcomeUpdated
		}

		for _, entry := range entries {
			stored, _, err := g.crosswalk.InsertIfAbsent(ctx, entry)
			if err != nil {
				return err
			}
			if stored.CanonicalID != entry.CanonicalID {
				return models.NewPipelineError(models.ErrorKindPersistenceConflict, entry.Source, entry.Key().String(),
					&ConflictError{Attempted: entry, Winning: stored})
			}
		}
		return nil
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			err = models.NewPipelineError(models.ErrorKindPersistenceConflict, "", entity.CanonicalID, err)
		}
		if models.IsKind(err, models.ErrorKindPersistenceConflict) {
			log.WithError(err).Warn("Persistence conflict, nothing was written")
		} else {
			log.WithError(err).Error("Failed to upsert canonical entity")
		}
		return "", err
	}

	log.WithFields(map[string]any{"outcome": outcome, "version": entity.Version}).Debug("Upserted canonical entity")
	return outcome, nil
}

// UpsertCrosswalkEntry inserts entry unless its key is already mapped and returns the stored mapping
func (g *Gateway) UpsertCrosswalkEntry(ctx context.Context, entry models.CrosswalkEntry) (models.CrosswalkEntry, error) {
	stored, _, err := g.crosswalk.InsertIfAbsent(ctx, entry)
	return stored, err
}

// QueryByState lists representatives of a state, best scored first.
// Only current representatives are returned unless IncludeAll is set.
func (g *Gateway) QueryByState(ctx context.Context, q Query) ([]*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "gateway.Gateway.QueryByState")
	defer span.End()

	filter := canonicalentity.Filter{
		State:          normalizers.NormalizeState(q.State),
		Level:          q.Level,
		Chamber:        q.Chamber,
		District:       normalizers.NormalizeDistrict(q.District),
		Limit:          clampLimit(q.Limit),
		OrderByQuality: true,
	}
	if !q.IncludeAll {
		filter.Status = models.StatusCurrent
	}

	entities, err := g.entities.List(ctx, filter)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to query representatives")
	}
	return entities, nil
}

// QueryByIdentifier returns one representative or a 404 error
func (g *Gateway) QueryByIdentifier(ctx context.Context, canonicalID string) (*models.CanonicalEntity, error) {
	if strings.TrimSpace(canonicalID) == "" {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "canonical id is required")
	}
	return g.entities.Get(ctx, canonicalID)
}

// CrosswalkFor lists the crosswalk entries of a representative, 404 when it does not exist
func (g *Gateway) CrosswalkFor(ctx context.Context, canonicalID string) ([]models.CrosswalkEntry, error) {
	if _, err := g.QueryByIdentifier(ctx, canonicalID); err != nil {
		return nil, err
	}
	return g.crosswalk.ListByCanonicalID(ctx, canonicalID)
}

// LookupCrosswalk returns the stored mappings for keys
func (g *Gateway) LookupCrosswalk(ctx context.Context, keys []models.SourceKey) (map[models.SourceKey]models.CrosswalkEntry, error) {
	return g.crosswalk.Lookup(ctx, keys)
}

// ListCandidates returns every stored entity in the scope's level and state, whatever its status
func (g *Gateway) ListCandidates(ctx context.Context, scope models.Scope) ([]*models.CanonicalEntity, error) {
	return g.entities.List(ctx, canonicalentity.Filter{
		Level: scope.Level,
		State: scope.State,
	})
}

// GetEntities returns the stored entities with the given IDs
func (g *Gateway) GetEntities(ctx context.Context, canonicalIDs []string) ([]*models.CanonicalEntity, error) {
	return g.entities.GetMany(ctx, canonicalIDs)
}

// SaveRun persists the run's current progress
func (g *Gateway) SaveRun(ctx context.Context, run *models.IngestionRun) error {
	return g.runs.Save(ctx, run)
}

// GetRun returns a run or a 404 error
func (g *Gateway) GetRun(ctx context.Context, id string) (*models.IngestionRun, error) {
	return g.runs.Get(ctx, id)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}
