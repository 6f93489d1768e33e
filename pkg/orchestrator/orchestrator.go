// Package orchestrator runs one ingestion per scope through the pipeline state machine:
//
//	Pending → Fetching → Resolving → Validating → Scoring → Filtering → Persisting → Done
//
// with Failed reachable from every state. Per-item failures are recorded on the
// run and never abort it; only a total roster outage, a storage failure while
// loading the snapshot, or cancellation fails the run.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/fern/pkg/gateway"
	"github.com/Ramsey-B/fern/pkg/incumbency"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolver"
	"github.com/Ramsey-B/fern/pkg/retry"
	"github.com/Ramsey-B/fern/pkg/scoring"
	"github.com/Ramsey-B/fern/pkg/sources"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var (
	// ErrCancelled ends a run that was cancelled between batches
	ErrCancelled = errors.New("cancelled")
	// ErrNoSources ends a run for a scope no roster adapter supports
	ErrNoSources = errors.New("no source supports scope")
	// ErrSourcesUnavailable ends a run whose every roster source failed before returning a record
	ErrSourcesUnavailable = errors.New("all sources unavailable")
)

// Store is the persistence the orchestrator needs; *gateway.Gateway implements it
type Store interface {
	LookupCrosswalk(ctx context.Context, keys []models.SourceKey) (map[models.SourceKey]models.CrosswalkEntry, error)
	ListCandidates(ctx context.Context, scope models.Scope) ([]*models.CanonicalEntity, error)
	GetEntities(ctx context.Context, canonicalIDs []string) ([]*models.CanonicalEntity, error)
	UpsertCanonicalEntity(ctx context.Context, entity *models.CanonicalEntity, entries []models.CrosswalkEntry) (gateway.UpsertOutcome, error)
	SaveRun(ctx context.Context, run *models.IngestionRun) error
}

// Notifier is told about every committed create or update
type Notifier interface {
	Notify(ctx context.Context, change models.EntityChange) error
}

// Projector mirrors committed entities into a secondary store
type Projector interface {
	Project(ctx context.Context, entity *models.CanonicalEntity) error
}

// Config tunes the pipeline
type Config struct {
	Workers      int
	BatchSize    int
	BatchRetries int
	BatchBackoff time.Duration
	Resolver     resolver.Config
	Scoring      scoring.Config
	Incumbency   incumbency.Config
}

// DefaultConfig returns 10 workers over batches of 10 with 2 batch retries
func DefaultConfig() Config {
	return Config{
		Workers:      10,
		BatchSize:    10,
		BatchRetries: 2,
		BatchBackoff: 500 * time.Millisecond,
		Resolver:     resolver.DefaultConfig(),
		Scoring:      scoring.DefaultConfig(),
		Incumbency:   incumbency.DefaultConfig(),
	}
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithLocker replaces the in-process single-writer lock
func WithLocker(l Locker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

// WithNotifier sets the change notifier
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithProjector sets the entity projector
func WithProjector(p Projector) Option {
	return func(o *Orchestrator) { o.projector = p }
}

// WithClock overrides the clock
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator overrides how run and canonical IDs are minted
func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) { o.newID = newID }
}

// Orchestrator runs ingestions
type Orchestrator struct {
	cfg        Config
	store      Store
	registry   *sources.Registry
	resolver   *resolver.Resolver
	merger     *merging.Engine
	scorer     *scoring.Scorer
	classifier *incumbency.Classifier
	locker     Locker
	notifier   Notifier
	projector  Projector
	pool       *pool
	logger     ectologger.Logger
	now        func() time.Time
	newID      func() string

	active sync.Map // run ID -> context.CancelFunc
}

// New creates an Orchestrator
func New(cfg Config, store Store, registry *sources.Registry, logger ectologger.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		store:      store,
		registry:   registry,
		merger:     merging.NewEngine(),
		scorer:     scoring.NewScorer(cfg.Scoring),
		classifier: incumbency.NewClassifier(cfg.Incumbency),
		locker:     NewKeyedMutex(),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}

	o.resolver = resolver.New(cfg.Resolver, o.newID)
	o.pool = newPool(cfg.Workers, cfg.BatchSize, cfg.BatchRetries, retry.Policy{
		Backoff:      retry.BackoffExponential,
		InitialDelay: cfg.BatchBackoff,
		MaxDelay:     30 * time.Second,
	}, logger)
	return o
}

// item is one roster record and whatever the enrichers added about it
type item struct {
	record models.SourceRecord
	extra  []models.SourceRecord
	err    error
}

// unit is the write for one canonical ID
type unit struct {
	canonicalID string
	previous    models.CurrentStatus
	entity      *models.CanonicalEntity
	entries     []models.CrosswalkEntry
	report      models.ConflictReport
	records     []models.SourceRecord // this run's records only
	outcome     gateway.UpsertOutcome
	written     bool
	// replacements are the units a lost persistence race was re-resolved into
	replacements []*unit
}

// effective returns the units that stand for u after any re-resolution
func (u *unit) effective() []*unit {
	if u.replacements != nil {
		return u.replacements
	}
	return []*unit{u}
}

// runState is the working set of one run
type runState struct {
	run        *models.IngestionRun
	now        time.Time
	items      []*item
	records    []models.SourceRecord
	existing   map[string]*models.CanonicalEntity
	resolution *resolver.Resolution
	units      []*unit
	results    []taskResult

	mu    sync.Mutex
	drops []sources.Drop
}

func (rs *runState) addDrop(d sources.Drop) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.drops = append(rs.drops, d)
}

type stage struct {
	state models.RunState
	run   func(ctx context.Context, rs *runState) error
}

// Run ingests scope. It returns an error only when the run could not start;
// a run that started is always returned, finished as Done or Failed.
func (o *Orchestrator) Run(ctx context.Context, scope models.Scope) (*models.IngestionRun, error) {
	scope = scope.Normalize()
	ctx, span := tracing.StartSpan(ctx, "orchestrator.Orchestrator.Run")
	defer span.End()

	unlock, err := o.locker.Lock(ctx, scopeLockKey(scope.Key()))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("an ingestion for scope %s is already running", scope.Key()))
	}
	defer unlock()

	now := o.now()
	rs := &runState{
		now: now,
		run: &models.IngestionRun{
			ID:        o.newID(),
			Scope:     scope,
			State:     models.RunStatePending,
			Conflicts: make([]models.ConflictReport, 0),
			StartedAt: now,
		},
	}

	log := o.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id": rs.run.ID,
		"scope":  scope.Key(),
	})

	if err := o.store.SaveRun(ctx, rs.run); err != nil {
		log.WithError(err).Error("Failed to record ingestion run start")
		return nil, errors.Wrap(err, "failed to start ingestion run")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.active.Store(rs.run.ID, cancel)
	defer o.active.Delete(rs.run.ID)

	log.Info("Ingestion run started")

	stages := []stage{
		{models.RunStateFetching, o.fetch},
		{models.RunStateResolving, o.resolve},
		{models.RunStateValidating, o.validate},
		{models.RunStateScoring, o.score},
		{models.RunStateFiltering, o.filter},
		{models.RunStatePersisting, o.persist},
	}
	for _, s := range stages {
		if runCtx.Err() != nil {
			return o.finish(ctx, rs, ErrCancelled), nil
		}
		if err := o.advance(runCtx, rs.run, s.state); err != nil {
			return o.finish(ctx, rs, err), nil
		}
		if err := s.run(runCtx, rs); err != nil {
			return o.finish(ctx, rs, err), nil
		}
	}

	return o.finish(ctx, rs, nil), nil
}

// Cancel stops an active run between batches. It reports whether the run was active.
func (o *Orchestrator) Cancel(runID string) bool {
	cancel, ok := o.active.Load(runID)
	if !ok {
		return false
	}
	cancel.(context.CancelFunc)()
	return true
}

// fetch pages through every roster adapter for the scope, then enriches the registry items
func (o *Orchestrator) fetch(ctx context.Context, rs *runState) error {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.Orchestrator.fetch")
	defer span.End()

	scope := rs.run.Scope
	adapters := o.registry.For(scope)
	if len(adapters) == 0 {
		return ErrNoSources
	}

	seen := make(map[string]bool)
	failedSources := 0
	for _, adapter := range adapters {
		records, drops, failure := o.fetchAll(ctx, rs.run, adapter)
		if ctx.Err() != nil {
			return ErrCancelled
		}
		if failure != nil {
			rs.run.SourceFailures = append(rs.run.SourceFailures, *failure)
			failedSources++
		}
		rs.drops = append(rs.drops, drops...)
		for _, r := range records {
			if !scope.Contains(r) {
				continue
			}
			if seen[r.Key()] {
				o.logger.WithContext(ctx).WithFields(map[string]any{"run_id": rs.run.ID, "key": r.Key()}).Debug("Skipping duplicate record")
				continue
			}
			seen[r.Key()] = true
			rs.items = append(rs.items, &item{record: r})
		}
	}

	if failedSources == len(adapters) && len(rs.items) == 0 {
		return ErrSourcesUnavailable
	}

	if err := o.enrich(ctx, rs); err != nil {
		return err
	}

	for _, it := range rs.items {
		if it.err != nil {
			continue
		}
		for _, r := range append([]models.SourceRecord{it.record}, it.extra...) {
			if r.Key() != it.record.Key() && seen[r.Key()] {
				continue
			}
			seen[r.Key()] = true
			rs.records = append(rs.records, r)
		}
	}
	return nil
}

// fetchAll reads every page of one adapter. A page that fails after the adapter's
// retries ends that source for this run.
func (o *Orchestrator) fetchAll(ctx context.Context, run *models.IngestionRun, adapter sources.Adapter) ([]models.SourceRecord, []sources.Drop, *models.SourceFailure) {
	log := o.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id": run.ID,
		"source": adapter.Source(),
	})

	var records []models.SourceRecord
	var drops []sources.Drop
	cursor := ""
	for {
		page, err := adapter.Fetch(ctx, run.Scope, cursor)
		if err != nil {
			log.WithError(err).WithFields(map[string]any{"cursor": cursor}).Error("Source unavailable, skipping its remaining pages")
			return records, drops, &models.SourceFailure{Source: adapter.Source(), Cursor: cursor, Message: err.Error()}
		}

		records = append(records, page.Records...)
		for _, d := range page.Dropped {
			log.WithFields(map[string]any{"key": d.Key, "reason": d.Reason}).Warn("Dropped malformed record")
		}
		drops = append(drops, page.Dropped...)

		if page.NextCursor == "" || page.NextCursor == cursor {
			break
		}
		cursor = page.NextCursor
	}

	log.WithFields(map[string]any{"records": len(records), "dropped": len(drops)}).Debug("Fetched roster")
	return records, drops, nil
}

// enrich runs every enricher for the registry items, or the civic items when the
// scope has no registry records
func (o *Orchestrator) enrich(ctx context.Context, rs *runState) error {
	enrichers := o.registry.Enrichers()
	if len(enrichers) == 0 {
		return nil
	}

	var registry, civic []*item
	for _, it := range rs.items {
		switch {
		case it.record.Source.IsLegislativeRegistry():
			registry = append(registry, it)
		case it.record.Source == models.SourceCivic:
			civic = append(civic, it)
		}
	}
	targets := registry
	if len(targets) == 0 {
		targets = civic
	}

	// enrichers retry internally, so a failed enrichment is final
	_, cancelled := o.pool.withRetries(0).run(ctx, len(targets), nil, func(ctx context.Context, i int) error {
		it := targets[i]
		for _, e := range enrichers {
			records, err := e.Enrich(ctx, it.record)
			if err != nil {
				if models.KindOf(err) == "" {
					err = models.NewPipelineError(models.ErrorKindSourceUnavailable, e.Source(), it.record.Key(), err)
				}
				it.err = err
				it.extra = nil
				o.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
					"run_id": rs.run.ID,
					"source": e.Source(),
					"key":    it.record.Key(),
				}).Error("Enrichment failed, item excluded from run")
				return err
			}
			for _, r := range records {
				if verr := r.Validate(); verr != nil {
					o.logger.WithContext(ctx).WithFields(map[string]any{
						"run_id": rs.run.ID,
						"key":    r.Key(),
						"reason": verr.Error(),
					}).Warn("Dropped malformed record")
					rs.addDrop(sources.Drop{Source: r.Source, Key: r.Key(), Name: r.Name, Reason: verr.Error()})
					continue
				}
				it.extra = append(it.extra, r)
			}
		}
		return nil
	})
	if cancelled {
		return ErrCancelled
	}
	return nil
}

// resolve loads the snapshot and assigns every record to a canonical ID
func (o *Orchestrator) resolve(ctx context.Context, rs *runState) error {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.Orchestrator.resolve")
	defer span.End()

	snap, existing, err := o.snapshot(ctx, rs.run.Scope, rs.records)
	if err != nil {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		return errors.Wrap(err, "failed to load resolution snapshot")
	}
	rs.existing = existing

	res := o.resolver.Resolve(rs.records, snap)
	for _, a := range res.Assignments {
		metrics.RecordMatch(string(a.Tier))
	}
	for _, n := range res.Notes {
		o.logger.WithContext(ctx).WithFields(map[string]any{
			"run_id":       rs.run.ID,
			"key":          n.RecordKey,
			"source":       n.Source,
			"canonical_id": n.CanonicalID,
			"candidates":   n.Candidates,
		}).Warn(n.Message)
	}
	rs.resolution = res

	o.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":   rs.run.ID,
		"records":  len(rs.records),
		"entities": len(res.Groups),
		"created":  len(res.Created),
	}).Info("Resolved records")
	return nil
}

// snapshot loads the crosswalk entries and candidate entities resolution reads
func (o *Orchestrator) snapshot(ctx context.Context, scope models.Scope, records []models.SourceRecord) (resolver.Snapshot, map[string]*models.CanonicalEntity, error) {
	seen := make(map[models.SourceKey]bool)
	keys := make([]models.SourceKey, 0, len(records))
	addKey := func(k models.SourceKey) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, r := range records {
		if k, ok := r.SourceKey(); ok {
			addKey(k)
		}
		for src, id := range r.ForeignIDs {
			if id != "" {
				addKey(models.SourceKey{Source: src, SourceID: id})
			}
		}
	}

	crosswalk, err := o.store.LookupCrosswalk(ctx, keys)
	if err != nil {
		return resolver.Snapshot{}, nil, err
	}

	candidates, err := o.store.ListCandidates(ctx, scope)
	if err != nil {
		return resolver.Snapshot{}, nil, err
	}
	byID := make(map[string]*models.CanonicalEntity, len(candidates))
	for _, c := range candidates {
		byID[c.CanonicalID] = c
	}

	var missing []string
	for _, e := range crosswalk {
		if _, ok := byID[e.CanonicalID]; !ok {
			byID[e.CanonicalID] = nil
			missing = append(missing, e.CanonicalID)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		extra, err := o.store.GetEntities(ctx, missing)
		if err != nil {
			return resolver.Snapshot{}, nil, err
		}
		candidates = append(candidates, extra...)
		for _, c := range extra {
			byID[c.CanonicalID] = c
		}
	}

	existing := make(map[string]*models.CanonicalEntity, len(byID))
	for id, e := range byID {
		if e != nil {
			existing[id] = e
		}
	}
	return resolver.Snapshot{Crosswalk: crosswalk, Candidates: candidates}, existing, nil
}

// validate merges every canonical ID's old and new records and collects the conflicts
func (o *Orchestrator) validate(ctx context.Context, rs *runState) error {
	for _, id := range rs.resolution.CanonicalIDs() {
		u := o.buildUnit(id, rs.existing[id], rs.resolution.Groups[id], rs.resolution.EntriesFor(id))
		o.logConflicts(ctx, rs.run.ID, u)
		rs.units = append(rs.units, u)
	}
	return nil
}

func (o *Orchestrator) score(_ context.Context, rs *runState) error {
	for _, u := range rs.units {
		o.scoreUnit(u, rs.now)
	}
	return nil
}

func (o *Orchestrator) filter(_ context.Context, rs *runState) error {
	for _, u := range rs.units {
		o.classifyUnit(u, rs.now)
	}
	return nil
}

// persist writes every unit through the worker pool, one writer per canonical ID
func (o *Orchestrator) persist(ctx context.Context, rs *runState) error {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.Orchestrator.persist")
	defer span.End()

	retryable := func(err error) bool {
		return !models.IsKind(err, models.ErrorKindPersistenceConflict)
	}
	results, cancelled := o.pool.run(ctx, len(rs.units), retryable, func(ctx context.Context, i int) error {
		return o.persistUnit(ctx, rs, rs.units[i])
	})
	rs.results = results
	if cancelled {
		return ErrCancelled
	}
	return nil
}

// persistUnit writes u. A lost persistence race re-resolves u's records once against
// a fresh snapshot and writes the resulting units instead.
func (o *Orchestrator) persistUnit(ctx context.Context, rs *runState, u *unit) error {
	if u.replacements == nil {
		err := o.write(ctx, rs.run.ID, u)
		if err == nil || !models.IsKind(err, models.ErrorKindPersistenceConflict) {
			return err
		}

		log := o.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id":       rs.run.ID,
			"canonical_id": u.canonicalID,
		})
		if winning, ok := gateway.WinningEntry(err); ok {
			log = log.WithFields(map[string]any{"winning_canonical_id": winning.CanonicalID})
		}
		log.Warn("Lost persistence race, re-resolving")

		replacements, err := o.reresolve(ctx, rs, u)
		if err != nil {
			return err
		}
		u.replacements = replacements
	}

	for _, r := range u.replacements {
		if err := o.write(ctx, rs.run.ID, r); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) reresolve(ctx context.Context, rs *runState, u *unit) ([]*unit, error) {
	snap, existing, err := o.snapshot(ctx, rs.run.Scope, u.records)
	if err != nil {
		return nil, errors.Wrap(err, "failed to reload resolution snapshot")
	}

	res := o.resolver.Resolve(u.records, snap)
	replacements := make([]*unit, 0, len(res.Groups))
	for _, id := range res.CanonicalIDs() {
		r := o.buildUnit(id, existing[id], res.Groups[id], res.EntriesFor(id))
		o.logConflicts(ctx, rs.run.ID, r)
		o.scoreUnit(r, rs.now)
		o.classifyUnit(r, rs.now)
		replacements = append(replacements, r)
	}
	return replacements, nil
}

// write upserts u under its canonical ID's lock and notifies the sinks
func (o *Orchestrator) write(ctx context.Context, runID string, u *unit) error {
	if u.written {
		return nil
	}

	unlock, err := o.locker.Lock(ctx, entityLockKey(u.canonicalID))
	if err != nil {
		return errors.Wrapf(err, "failed to lock canonical entity %s", u.canonicalID)
	}
	outcome, err := o.store.UpsertCanonicalEntity(ctx, u.entity, u.entries)
	unlock()
	if err != nil {
		return err
	}

	u.outcome = outcome
	u.written = true
	metrics.RecordPersistOutcome(string(outcome))
	o.publish(ctx, runID, u)
	return nil
}

// publish sends a committed change to the sinks. Sink failures are logged only.
func (o *Orchestrator) publish(ctx context.Context, runID string, u *unit) {
	var kind models.ChangeKind
	switch u.outcome {
	case gateway.OutcomeCreated:
		kind = models.ChangeCreated
	case gateway.OutcomeUpdated:
		kind = models.ChangeUpdated
	default:
		return
	}

	change := models.EntityChange{
		RunID:          runID,
		Kind:           kind,
		Entity:         u.entity,
		PreviousStatus: u.previous,
		Conflicts:      u.report.Conflicts,
	}
	log := o.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":       runID,
		"canonical_id": u.canonicalID,
	})

	if o.notifier != nil {
		if err := o.notifier.Notify(ctx, change); err != nil {
			log.WithError(err).Warn("Failed to publish representative change")
		}
	}
	if o.projector != nil {
		if err := o.projector.Project(ctx, u.entity); err != nil {
			log.WithError(err).Warn("Failed to project representative")
		}
	}
}

func (o *Orchestrator) buildUnit(id string, existing *models.CanonicalEntity, group []models.SourceRecord, entries []models.CrosswalkEntry) *unit {
	u := &unit{canonicalID: id, records: group, entries: entries}

	base := &models.CanonicalEntity{CanonicalID: id}
	all := group
	if existing != nil {
		base = existing
		u.previous = existing.CurrentStatus
		all = make([]models.SourceRecord, 0, len(existing.Contributions)+len(group))
		all = append(all, existing.Contributions...)
		all = append(all, group...)
	}

	result := o.merger.Merge(base, all)
	u.entity = result.Entity
	u.report = result.Report
	return u
}

func (o *Orchestrator) scoreUnit(u *unit, now time.Time) {
	u.entity.QualityScore = o.scorer.Score(u.entity, now)
	metrics.RecordQualityScore(u.entity.QualityScore)
}

func (o *Orchestrator) classifyUnit(u *unit, now time.Time) {
	o.classifier.ClassifyEntity(u.entity, now)
	u.entity.LastResolvedAt = now
}

func (o *Orchestrator) logConflicts(ctx context.Context, runID string, u *unit) {
	for _, c := range u.report.Conflicts {
		metrics.RecordConflict(c.Field, string(c.Severity))
		if c.Severity != models.SeverityHigh {
			continue
		}
		o.logger.WithContext(ctx).WithFields(map[string]any{
			"run_id":       runID,
			"canonical_id": u.canonicalID,
			"field":        c.Field,
			"chosen":       c.Chosen,
		}).Warn("Hard conflict recorded for review")
	}
}

// finish records the item outcomes and the terminal state, then saves the run
func (o *Orchestrator) finish(ctx context.Context, rs *runState, cause error) *models.IngestionRun {
	run := rs.run
	log := o.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id": run.ID,
		"scope":  run.Scope.Key(),
	})

	terminal := models.RunStateDone
	if cause != nil {
		terminal = models.RunStateFailed
		run.Reason = cause.Error()
	}
	if err := o.advance(ctx, run, terminal); err != nil {
		log.WithError(err).Error("Invalid terminal transition")
		run.State = models.RunStateFailed
	}

	o.tally(rs)
	finished := o.now()
	run.FinishedAt = &finished

	if err := o.store.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		log.WithError(err).Error("Failed to record ingestion run result")
	}
	metrics.RecordRun(string(run.State), finished.Sub(run.StartedAt).Seconds())

	log = log.WithFields(map[string]any{
		"state":     run.State,
		"processed": run.Processed,
		"succeeded": run.Succeeded,
		"failed":    run.Failed,
		"skipped":   run.Skipped,
		"conflicts": len(run.Conflicts),
	})
	if run.State == models.RunStateFailed {
		log.WithFields(map[string]any{"reason": run.Reason}).Warn("Ingestion run failed")
	} else {
		log.Info("Ingestion run finished")
	}
	return run
}

// tally derives the per-item outcomes, counts and conflict reports from the run state
func (o *Orchestrator) tally(rs *runState) {
	run := rs.run
	outcomes := make([]models.ItemOutcome, 0, len(rs.items)+len(rs.drops))

	for _, d := range rs.drops {
		outcomes = append(outcomes, models.ItemOutcome{
			Key:       d.Key,
			Source:    d.Source,
			Name:      d.Name,
			Status:    models.OutcomeSkipped,
			ErrorKind: models.ErrorKindMalformedRecord,
			Message:   d.Reason,
		})
	}

	byKey := make(map[string]*unit)
	unitErr := make(map[*unit]error)
	conflicts := make([]models.ConflictReport, 0)
	for i, u := range rs.units {
		var err error
		if i < len(rs.results) {
			err = rs.results[i].Err
		}
		for _, e := range u.effective() {
			for _, r := range e.records {
				byKey[r.Key()] = e
			}
			unitErr[e] = err
			if e.written && !e.report.IsEmpty() {
				conflicts = append(conflicts, e.report)
			}
		}
	}

	for _, it := range rs.items {
		outcome := models.ItemOutcome{
			Key:    it.record.Key(),
			Source: it.record.Source,
			Name:   it.record.Name,
		}
		u := byKey[it.record.Key()]
		switch {
		case it.err != nil:
			outcome.Status = models.OutcomeFailed
			outcome.ErrorKind = models.KindOf(it.err)
			outcome.Message = it.err.Error()
		case u != nil && u.written:
			outcome.Status = models.OutcomeSuccess
			outcome.CanonicalID = u.canonicalID
		case u != nil && unitErr[u] != nil:
			outcome.Status = models.OutcomeFailed
			outcome.CanonicalID = u.canonicalID
			outcome.ErrorKind = models.KindOf(unitErr[u])
			outcome.Message = unitErr[u].Error()
		default:
			outcome.Status = models.OutcomeSkipped
			outcome.Message = "not persisted"
			if run.Reason != "" {
				outcome.Message = "not persisted: " + run.Reason
			}
		}
		outcomes = append(outcomes, outcome)
	}

	run.Outcomes = outcomes
	run.Conflicts = conflicts
	run.Processed = len(outcomes)
	run.Succeeded, run.Failed, run.Skipped = 0, 0, 0
	for _, oc := range outcomes {
		metrics.RecordItem(string(oc.Status))
		switch oc.Status {
		case models.OutcomeSuccess:
			run.Succeeded++
		case models.OutcomeFailed:
			run.Failed++
		case models.OutcomeSkipped:
			run.Skipped++
		}
	}
}
