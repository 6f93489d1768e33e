package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/gateway"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/retry"
	"github.com/Ramsey-B/fern/pkg/sources"
)

// memoryStore mirrors the gateway's transactional semantics in memory
type memoryStore struct {
	mu        sync.Mutex
	entities  map[string]*models.CanonicalEntity
	crosswalk map[models.SourceKey]models.CrosswalkEntry
	runs      map[string]*models.IngestionRun
	outcomes  []gateway.UpsertOutcome

	// beforeUpsert runs under the store lock ahead of the next upsert, once
	beforeUpsert func(s *memoryStore)
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		entities:  make(map[string]*models.CanonicalEntity),
		crosswalk: make(map[models.SourceKey]models.CrosswalkEntry),
		runs:      make(map[string]*models.IngestionRun),
	}
}

func (s *memoryStore) LookupCrosswalk(_ context.Context, keys []models.SourceKey) (map[models.SourceKey]models.CrosswalkEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[models.SourceKey]models.CrosswalkEntry)
	for _, k := range keys {
		if e, ok := s.crosswalk[k]; ok {
			out[k] = e
		}
	}
	return out, nil
}

func (s *memoryStore) ListCandidates(_ context.Context, scope models.Scope) ([]*models.CanonicalEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.CanonicalEntity
	for _, e := range s.entities {
		if e.Consensus.Level != scope.Level {
			continue
		}
		if scope.State != "" && e.Consensus.State != scope.State {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CanonicalID < out[j].CanonicalID })
	return out, nil
}

func (s *memoryStore) GetEntities(_ context.Context, ids []string) ([]*models.CanonicalEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.CanonicalEntity
	for _, id := range ids {
		if e, ok := s.entities[id]; ok {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memoryStore) UpsertCanonicalEntity(_ context.Context, entity *models.CanonicalEntity, entries []models.CrosswalkEntry) (gateway.UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if hook := s.beforeUpsert; hook != nil {
		s.beforeUpsert = nil
		hook(s)
	}

	existing := s.entities[entity.CanonicalID]
	stored := 0
	if existing != nil {
		stored = existing.Version
	}
	if stored != entity.Version {
		return "", models.NewPipelineError(models.ErrorKindPersistenceConflict, "", entity.CanonicalID,
			errors.Errorf("merged from version %d but stored version is %d", entity.Version, stored))
	}
	for _, entry := range entries {
		if winner, ok := s.crosswalk[entry.Key()]; ok && winner.CanonicalID != entry.CanonicalID {
			return "", models.NewPipelineError(models.ErrorKindPersistenceConflict, entry.Source, entry.Key().String(),
				&gateway.ConflictError{Attempted: entry, Winning: winner})
		}
	}

	hash, err := fingerprint.Generate(entity)
	if err != nil {
		return "", err
	}

	outcome := gateway.OutcomeUpdated
	switch {
	case existing == nil:
		outcome = gateway.OutcomeCreated
		entity.Version = 1
	case existing.ContentHash == hash:
		outcome = gateway.OutcomeUnchanged
	default:
		entity.Version = existing.Version + 1
	}
	entity.ContentHash = hash

	cp := *entity
	s.entities[entity.CanonicalID] = &cp
	for _, entry := range entries {
		if _, ok := s.crosswalk[entry.Key()]; !ok {
			s.crosswalk[entry.Key()] = entry
		}
	}
	s.outcomes = append(s.outcomes, outcome)
	return outcome, nil
}

func (s *memoryStore) SaveRun(_ context.Context, run *models.IngestionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *memoryStore) entityFor(key models.SourceKey) *models.CanonicalEntity {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.crosswalk[key]
	if !ok {
		return nil
	}
	return s.entities[entry.CanonicalID]
}

func (s *memoryStore) resetOutcomes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = nil
}

// fakeAdapter serves fixed pages keyed by cursor
type fakeAdapter struct {
	source models.Source
	pages  map[string]*sources.Page
	err    error
}

func (f *fakeAdapter) Source() models.Source { return f.source }

func (f *fakeAdapter) Supports(models.Scope) bool { return true }

func (f *fakeAdapter) Fetch(_ context.Context, _ models.Scope, cursor string) (*sources.Page, error) {
	if f.err != nil {
		return nil, models.NewPipelineError(models.ErrorKindSourceUnavailable, f.source, "", f.err)
	}
	if page, ok := f.pages[cursor]; ok {
		return page, nil
	}
	return &sources.Page{}, nil
}

// fakeEnricher returns fixed records per subject key. Subjects listed in hang
// block every attempt until the policy's attempt timeout expires.
type fakeEnricher struct {
	source  models.Source
	records map[string][]models.SourceRecord
	hang    map[string]bool
	policy  retry.Policy

	mu       sync.Mutex
	attempts map[string]int
}

func (f *fakeEnricher) Source() models.Source { return f.source }

func (f *fakeEnricher) Enrich(ctx context.Context, subject models.SourceRecord) ([]models.SourceRecord, error) {
	if !f.hang[subject.Key()] {
		return f.records[subject.Key()], nil
	}
	err := f.policy.Do(ctx, func(ctx context.Context) error {
		f.mu.Lock()
		if f.attempts == nil {
			f.attempts = make(map[string]int)
		}
		f.attempts[subject.Key()]++
		f.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	})
	return nil, models.NewPipelineError(models.ErrorKindSourceUnavailable, f.source, "", err)
}

func (f *fakeEnricher) attemptsFor(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[key]
}

// changeRecorder is a Notifier that can run a callback on every change
type changeRecorder struct {
	mu      sync.Mutex
	changes []models.EntityChange
	onNext  func()
}

func (r *changeRecorder) Notify(_ context.Context, change models.EntityChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
	if r.onNext != nil {
		r.onNext()
	}
	return nil
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%03d", n)
	}
}

var now = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func at(t time.Time) *time.Time {
	return &t
}

func senator(id, name, party string) models.SourceRecord {
	return models.SourceRecord{
		Source:      models.SourceCongress,
		SourceID:    id,
		Name:        name,
		Party:       party,
		Office:      "U.S. Senator",
		Level:       models.LevelFederal,
		Chamber:     models.ChamberUpper,
		State:       "MN",
		Contacts:    []models.ContactPoint{{Type: models.ContactEmail, Value: id + "@senate.gov"}},
		TermStart:   at(now.AddDate(-2, 0, 0)),
		TermEnd:     at(now.AddDate(4, 0, 0)),
		RetrievedAt: now,
	}
}

func civicOfficial(name, phone string) models.SourceRecord {
	return models.SourceRecord{
		Source:      models.SourceCivic,
		Name:        name,
		Party:       "Democratic Party",
		Office:      "U.S. Senator",
		Level:       models.LevelFederal,
		State:       "MN",
		Contacts:    []models.ContactPoint{{Type: models.ContactPhone, Value: phone}},
		RetrievedAt: now,
	}
}

func page(records ...models.SourceRecord) map[string]*sources.Page {
	return map[string]*sources.Page{"": {Records: records}}
}
