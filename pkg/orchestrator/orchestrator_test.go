package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/gateway"
	"github.com/Ramsey-B/fern/pkg/incumbency"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolver"
	"github.com/Ramsey-B/fern/pkg/retry"
	"github.com/Ramsey-B/fern/pkg/scoring"
	"github.com/Ramsey-B/fern/pkg/sources"
)

var mnSenate = models.Scope{Level: models.LevelFederal, State: "MN"}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func testConfig(workers, batchSize int) Config {
	return Config{
		Workers:      workers,
		BatchSize:    batchSize,
		BatchRetries: 1,
		BatchBackoff: time.Millisecond,
		Resolver:     resolver.DefaultConfig(),
		Scoring:      scoring.DefaultConfig(),
		Incumbency:   incumbency.DefaultConfig(),
	}
}

func newTestOrchestrator(cfg Config, store Store, registry *sources.Registry, opts ...Option) *Orchestrator {
	opts = append([]Option{
		WithClock(func() time.Time { return now }),
		WithIDGenerator(sequentialIDs()),
	}, opts...)
	return New(cfg, store, registry, testLogger(), opts...)
}

func outcomesByKey(run *models.IngestionRun) map[string]models.ItemOutcome {
	out := make(map[string]models.ItemOutcome, len(run.Outcomes))
	for _, o := range run.Outcomes {
		out[o.Key] = o
	}
	return out
}

func wikiArticle(id, name, party, congressID string) models.SourceRecord {
	return models.SourceRecord{
		Source:      models.SourceWikipedia,
		SourceID:    id,
		Name:        name,
		Party:       party,
		Office:      "U.S. Senator",
		Level:       models.LevelFederal,
		State:       "MN",
		ForeignIDs:  map[models.Source]string{models.SourceCongress: congressID},
		RetrievedAt: now,
	}
}

func TestRun_RerunWithUnchangedSourcesIsIdempotent(t *testing.T) {
	jane := senator("D000001", "Jane Doe", "Democratic")
	registry := sources.NewRegistry()
	registry.Register(&fakeAdapter{source: models.SourceCongress, pages: page(jane)})
	registry.Register(&fakeAdapter{source: models.SourceCivic, pages: page(civicOfficial("Jane Doe", "(202) 555-0100"))})
	registry.RegisterEnricher(&fakeEnricher{
		source: models.SourceWikipedia,
		records: map[string][]models.SourceRecord{
			jane.Key(): {wikiArticle("Q1", "Jane Doe", "Democratic", "D000001")},
		},
	})

	store := newMemoryStore()
	o := newTestOrchestrator(testConfig(4, 10), store, registry)

	first, err := o.Run(context.Background(), mnSenate)
	require.NoError(t, err)
	require.Equal(t, models.RunStateDone, first.State, first.Reason)
	assert.Equal(t, 2, first.Succeeded)
	assert.Equal(t, []gateway.UpsertOutcome{gateway.OutcomeCreated}, store.outcomes)
	require.Len(t, store.entities, 1)

	entity := store.entityFor(models.SourceKey{Source: models.SourceCongress, SourceID: "D000001"})
	require.NotNil(t, entity)
	assert.Equal(t, entity, store.entityFor(models.SourceKey{Source: models.SourceWikipedia, SourceID: "Q1"}))
	assert.ElementsMatch(t, []models.Source{models.SourceCongress, models.SourceCivic, models.SourceWikipedia}, entity.SourcesPresent)
	assert.Equal(t, models.StatusCurrent, entity.CurrentStatus)
	hash, version := entity.ContentHash, entity.Version

	store.resetOutcomes()
	second, err := o.Run(context.Background(), mnSenate)
	require.NoError(t, err)
	require.Equal(t, models.RunStateDone, second.State, second.Reason)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, []gateway.UpsertOutcome{gateway.OutcomeUnchanged}, store.outcomes)
	require.Len(t, store.entities, 1)

	again := store.entityFor(models.SourceKey{Source: models.SourceCongress, SourceID: "D000001"})
	assert.Equal(t, entity.CanonicalID, again.CanonicalID)
	assert.Equal(t, hash, again.ContentHash)
	assert.Equal(t, version, again.Version)

	for _, oc := range second.Outcomes {
		assert.Equal(t, models.OutcomeSuccess, oc.Status, oc.Key)
		assert.Equal(t, entity.CanonicalID, oc.CanonicalID, oc.Key)
	}
}

func TestRun_EnrichmentTimeoutsFailOnlyThatItem(t *testing.T) {
	jane := senator("D000001", "Jane Doe", "Democratic")
	john := senator("D000002", "John Roe", "Republican")

	enricher := &fakeEnricher{
		source: models.SourceWikipedia,
		hang:   map[string]bool{john.Key(): true},
		policy: retry.Policy{
			MaxAttempts:    3,
			Backoff:        retry.BackoffConstant,
			InitialDelay:   time.Millisecond,
			AttemptTimeout: 10 * time.Millisecond,
		},
	}
	registry := sources.NewRegistry()
	registry.Register(&fakeAdapter{source: models.SourceCongress, pages: page(jane, john)})
	registry.RegisterEnricher(enricher)

	store := newMemoryStore()
	run, err := newTestOrchestrator(testConfig(2, 10), store, registry).Run(context.Background(), mnSenate)
	require.NoError(t, err)

	assert.Equal(t, models.RunStateDone, run.State)
	assert.Equal(t, 3, enricher.attemptsFor(john.Key()))
	assert.Equal(t, 2, run.Processed)
	assert.Equal(t, 1, run.Succeeded)
	assert.Equal(t, 1, run.Failed)

	outcomes := outcomesByKey(run)
	assert.Equal(t, models.OutcomeSuccess, outcomes[jane.Key()].Status)
	failed := outcomes[john.Key()]
	assert.Equal(t, models.OutcomeFailed, failed.Status)
	assert.Equal(t, models.ErrorKindSourceUnavailable, failed.ErrorKind)
	assert.Equal(t, []models.ItemOutcome{failed}, run.Failures())

	assert.Nil(t, store.entityFor(models.SourceKey{Source: models.SourceCongress, SourceID: "D000002"}))
	assert.Len(t, store.entities, 1)
}

func TestRun_CancellationStopsBetweenBatches(t *testing.T) {
	registry := sources.NewRegistry()
	registry.Register(&fakeAdapter{source: models.SourceCongress, pages: page(
		senator("D000001", "Jane Doe", "Democratic"),
		senator("D000002", "John Roe", "Republican"),
		senator("D000003", "Mary Major", "Independent"),
	)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	recorder := &changeRecorder{onNext: cancel}

	store := newMemoryStore()
	o := newTestOrchestrator(testConfig(1, 1), store, registry, WithNotifier(recorder))

	run, err := o.Run(ctx, mnSenate)
	require.NoError(t, err)

	assert.Equal(t, models.RunStateFailed, run.State)
	assert.Equal(t, "cancelled", run.Reason)
	assert.Equal(t, 3, run.Processed)
	assert.Equal(t, 1, run.Succeeded)
	assert.Equal(t, 2, run.Skipped)
	assert.Len(t, store.entities, 1)
	require.Len(t, recorder.changes, 1)
	assert.Equal(t, models.ChangeCreated, recorder.changes[0].Kind)
	assert.Equal(t, run.ID, recorder.changes[0].RunID)

	saved := store.runs[run.ID]
	require.NotNil(t, saved)
	assert.Equal(t, models.RunStateFailed, saved.State)
	assert.NotNil(t, saved.FinishedAt)
}

func TestRun_LostPersistenceRaceReresolvesToWinner(t *testing.T) {
	jane := senator("D000001", "Jane Doe", "Democratic")
	registry := sources.NewRegistry()
	registry.Register(&fakeAdapter{source: models.SourceCongress, pages: page(jane)})

	store := newMemoryStore()
	store.beforeUpsert = func(s *memoryStore) {
		winner := models.CrosswalkEntry{Source: models.SourceCongress, SourceID: "D000001", CanonicalID: "canon-winner", Confidence: 1}
		s.crosswalk[winner.Key()] = winner
		s.entities["canon-winner"] = &models.CanonicalEntity{
			CanonicalID: "canon-winner",
			Consensus: models.Consensus{
				Name:    "Jane Doe",
				Party:   "Democratic",
				Level:   models.LevelFederal,
				Chamber: models.ChamberUpper,
				State:   "MN",
			},
			ExternalIDs:    map[models.Source]string{models.SourceCongress: "D000001"},
			SourcesPresent: []models.Source{models.SourceCongress},
			Contributions:  []models.SourceRecord{jane},
			Version:        1,
		}
	}

	recorder := &changeRecorder{}
	run, err := newTestOrchestrator(testConfig(2, 10), store, registry, WithNotifier(recorder)).Run(context.Background(), mnSenate)
	require.NoError(t, err)

	require.Equal(t, models.RunStateDone, run.State, run.Reason)
	require.Len(t, run.Outcomes, 1)
	assert.Equal(t, models.OutcomeSuccess, run.Outcomes[0].Status)
	assert.Equal(t, "canon-winner", run.Outcomes[0].CanonicalID)

	require.Len(t, store.entities, 1)
	winner := store.entities["canon-winner"]
	require.NotNil(t, winner)
	assert.Equal(t, 2, winner.Version)
	assert.Equal(t, []gateway.UpsertOutcome{gateway.OutcomeUpdated}, store.outcomes)

	require.Len(t, recorder.changes, 1)
	assert.Equal(t, models.ChangeUpdated, recorder.changes[0].Kind)
	assert.Equal(t, "canon-winner", recorder.changes[0].Entity.CanonicalID)
}

func TestRun_AllSourcesUnavailable(t *testing.T) {
	registry := sources.NewRegistry()
	registry.Register(&fakeAdapter{source: models.SourceCongress, err: assert.AnError})

	store := newMemoryStore()
	run, err := newTestOrchestrator(testConfig(2, 10), store, registry).Run(context.Background(), mnSenate)
	require.NoError(t, err)

	assert.Equal(t, models.RunStateFailed, run.State)
	assert.Equal(t, "all sources unavailable", run.Reason)
	require.Len(t, run.SourceFailures, 1)
	assert.Equal(t, models.SourceCongress, run.SourceFailures[0].Source)
	assert.Equal(t, 0, run.Processed)
	assert.Empty(t, store.entities)
}

func TestRun_OneSourceDownStillSucceeds(t *testing.T) {
	registry := sources.NewRegistry()
	registry.Register(&fakeAdapter{source: models.SourceCongress, err: assert.AnError})
	registry.Register(&fakeAdapter{source: models.SourceCivic, pages: page(civicOfficial("Jane Doe", "(202) 555-0100"))})

	store := newMemoryStore()
	run, err := newTestOrchestrator(testConfig(2, 10), store, registry).Run(context.Background(), mnSenate)
	require.NoError(t, err)

	assert.Equal(t, models.RunStateDone, run.State)
	assert.Len(t, run.SourceFailures, 1)
	assert.Equal(t, 1, run.Succeeded)
	assert.Len(t, store.entities, 1)
}

func TestRun_NoSourceSupportsScope(t *testing.T) {
	store := newMemoryStore()
	run, err := newTestOrchestrator(testConfig(2, 10), store, sources.NewRegistry()).Run(context.Background(), mnSenate)
	require.NoError(t, err)

	assert.Equal(t, models.RunStateFailed, run.State)
	assert.Equal(t, ErrNoSources.Error(), run.Reason)
}

func TestRun_MalformedRecordsAreSkipped(t *testing.T) {
	jane := senator("D000001", "Jane Doe", "Democratic")
	registry := sources.NewRegistry()
	registry.Register(&fakeAdapter{source: models.SourceCongress, pages: map[string]*sources.Page{
		"": {
			Records:    []models.SourceRecord{jane},
			Dropped:    []sources.Drop{{Source: models.SourceCongress, Key: "congress:X000009", Reason: "missing name"}},
			NextCursor: "2",
		},
		"2": {
			Records: []models.SourceRecord{senator("D000002", "John Roe", "Republican")},
		},
	}})

	store := newMemoryStore()
	run, err := newTestOrchestrator(testConfig(2, 10), store, registry).Run(context.Background(), mnSenate)
	require.NoError(t, err)

	assert.Equal(t, models.RunStateDone, run.State)
	assert.Equal(t, 3, run.Processed)
	assert.Equal(t, 2, run.Succeeded)
	assert.Equal(t, 1, run.Skipped)

	dropped := outcomesByKey(run)["congress:X000009"]
	assert.Equal(t, models.OutcomeSkipped, dropped.Status)
	assert.Equal(t, models.ErrorKindMalformedRecord, dropped.ErrorKind)
	assert.Equal(t, "missing name", dropped.Message)
}

func TestRun_RegistryPartyWinsAndConflictIsReported(t *testing.T) {
	doe := senator("D000001", "J. Doe", "X")
	registry := sources.NewRegistry()
	registry.Register(&fakeAdapter{source: models.SourceCongress, pages: page(doe)})
	registry.RegisterEnricher(&fakeEnricher{
		source: models.SourceWikipedia,
		records: map[string][]models.SourceRecord{
			doe.Key(): {wikiArticle("Q42", "J. Doe", "Y", "D000001")},
		},
	})

	store := newMemoryStore()
	run, err := newTestOrchestrator(testConfig(2, 10), store, registry).Run(context.Background(), mnSenate)
	require.NoError(t, err)
	require.Equal(t, models.RunStateDone, run.State, run.Reason)

	require.Len(t, store.entities, 1)
	entity := store.entityFor(models.SourceKey{Source: models.SourceCongress, SourceID: "D000001"})
	require.NotNil(t, entity)
	assert.Equal(t, "X", entity.Consensus.Party)
	assert.Equal(t, map[models.Source]string{
		models.SourceCongress:  "D000001",
		models.SourceWikipedia: "Q42",
	}, entity.ExternalIDs)

	require.Len(t, run.Conflicts, 1)
	report := run.Conflicts[0]
	assert.Equal(t, entity.CanonicalID, report.CanonicalID)
	assert.False(t, report.HasHardConflict())

	var party *models.FieldConflict
	for i := range report.Conflicts {
		if report.Conflicts[i].Field == "party" {
			party = &report.Conflicts[i]
		}
	}
	require.NotNil(t, party)
	assert.Equal(t, "X", party.Chosen)
	assert.Equal(t, []models.SourceValue{{Source: models.SourceWikipedia, Value: "Y"}}, party.Losers())
}

func TestRun_KeylessHomonymsInDifferentDistricts(t *testing.T) {
	legislator := func(chamber models.Chamber, district, phone string) models.SourceRecord {
		return models.SourceRecord{
			Source:      models.SourceCivic,
			Name:        "John Smith",
			Party:       "Republican",
			Office:      "State Representative",
			Level:       models.LevelState,
			Chamber:     chamber,
			State:       "TX",
			District:    district,
			Contacts:    []models.ContactPoint{{Type: models.ContactPhone, Value: phone}},
			RetrievedAt: now,
		}
	}
	lower := legislator(models.ChamberLower, "5", "(512) 555-0105")
	upper := legislator(models.ChamberUpper, "12", "(512) 555-0112")
	require.NotEqual(t, lower.Key(), upper.Key())

	registry := sources.NewRegistry()
	registry.Register(&fakeAdapter{source: models.SourceCivic, pages: page(lower, upper)})

	store := newMemoryStore()
	run, err := newTestOrchestrator(testConfig(2, 10), store, registry).Run(context.Background(), models.Scope{Level: models.LevelState, State: "TX"})
	require.NoError(t, err)
	require.Equal(t, models.RunStateDone, run.State, run.Reason)

	assert.Equal(t, 2, run.Processed)
	assert.Equal(t, 2, run.Succeeded)
	require.Len(t, store.entities, 2)
	assert.ElementsMatch(t, []gateway.UpsertOutcome{gateway.OutcomeCreated, gateway.OutcomeCreated}, store.outcomes)

	outcomes := outcomesByKey(run)
	require.Len(t, outcomes, 2)
	assert.NotEqual(t, outcomes[lower.Key()].CanonicalID, outcomes[upper.Key()].CanonicalID)
}

func TestRun_KeylessEncyclopedicPartyLosesToRegistry(t *testing.T) {
	doe := senator("D000001", "J. Doe", "X")
	article := models.SourceRecord{
		Source:      models.SourceWikipedia,
		Name:        "J. Doe",
		Party:       "Y",
		Office:      "U.S. Senator",
		Level:       models.LevelFederal,
		Chamber:     models.ChamberUpper,
		State:       "MN",
		RetrievedAt: now,
	}
	require.False(t, article.HasSourceID())

	registry := sources.NewRegistry()
	registry.Register(&fakeAdapter{source: models.SourceCongress, pages: page(doe)})
	registry.RegisterEnricher(&fakeEnricher{
		source:  models.SourceWikipedia,
		records: map[string][]models.SourceRecord{doe.Key(): {article}},
	})

	store := newMemoryStore()
	o := newTestOrchestrator(testConfig(2, 10), store, registry)

	run, err := o.Run(context.Background(), mnSenate)
	require.NoError(t, err)
	require.Equal(t, models.RunStateDone, run.State, run.Reason)

	require.Len(t, store.entities, 1)
	entity := store.entityFor(models.SourceKey{Source: models.SourceCongress, SourceID: "D000001"})
	require.NotNil(t, entity)
	assert.Equal(t, "X", entity.Consensus.Party)
	assert.Equal(t, map[models.Source]string{models.SourceCongress: "D000001"}, entity.ExternalIDs)
	assert.Contains(t, entity.SourcesPresent, models.SourceWikipedia)

	require.Len(t, run.Conflicts, 1)
	var party *models.FieldConflict
	for i := range run.Conflicts[0].Conflicts {
		if run.Conflicts[0].Conflicts[i].Field == "party" {
			party = &run.Conflicts[0].Conflicts[i]
		}
	}
	require.NotNil(t, party)
	assert.Equal(t, models.SeverityLow, party.Severity)
	assert.Equal(t, "X", party.Chosen)
	assert.Equal(t, []models.SourceValue{{Source: models.SourceWikipedia, Value: "Y"}}, party.Losers())

	store.resetOutcomes()
	second, err := o.Run(context.Background(), mnSenate)
	require.NoError(t, err)
	require.Equal(t, models.RunStateDone, second.State, second.Reason)
	require.Len(t, store.entities, 1)
	assert.Equal(t, []gateway.UpsertOutcome{gateway.OutcomeUnchanged}, store.outcomes)
}

func TestRun_ConcurrentRunsForSameScopeSerialize(t *testing.T) {
	registry := sources.NewRegistry()
	registry.Register(&fakeAdapter{source: models.SourceCongress, pages: page(senator("D000001", "Jane Doe", "Democratic"))})

	store := newMemoryStore()
	o := newTestOrchestrator(testConfig(2, 10), store, registry)

	runs := make(chan *models.IngestionRun, 2)
	for i := 0; i < 2; i++ {
		go func() {
			run, err := o.Run(context.Background(), mnSenate)
			assert.NoError(t, err)
			runs <- run
		}()
	}

	for i := 0; i < 2; i++ {
		run := <-runs
		require.NotNil(t, run)
		assert.Equal(t, models.RunStateDone, run.State)
	}
	assert.Len(t, store.entities, 1)
	assert.ElementsMatch(t, []gateway.UpsertOutcome{gateway.OutcomeCreated, gateway.OutcomeUnchanged}, store.outcomes)
}

func TestCancel_UnknownRun(t *testing.T) {
	o := newTestOrchestrator(testConfig(1, 1), newMemoryStore(), sources.NewRegistry())
	assert.False(t, o.Cancel("missing"))
}
