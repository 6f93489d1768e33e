// Package resolver assigns every source record to a canonical identity.
//
// Resolution is a pure function of the records and a snapshot of what is
// already persisted. Records are matched in three tiers, most certain first:
//
//  1. crosswalk: the record's own (source, sourceId) is already mapped
//  2. foreign identifier: the record carries another source's ID that is mapped or known
//  3. name + jurisdiction: same normalized name, level, state and compatible district
//
// When no tier matches, or tier 3 finds more than one candidate it cannot
// tell apart, a new canonical entity is created. A wrong merge is worse than
// a duplicate.
package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// Tier is how a record was matched
type Tier string

const (
	TierCrosswalk Tier = "crosswalk"
	TierForeignID Tier = "foreign-id"
	TierName      Tier = "name"
	TierNew       Tier = "new"
)

// Config holds resolution thresholds
type Config struct {
	// NameMatchConfidence is the confidence recorded for tier 3 matches
	NameMatchConfidence float64
	// IdentifierConfidence is the tier 2 confidence per foreign identifier source
	IdentifierConfidence map[models.Source]float64
	// NearMissThreshold is the Jaro-Winkler similarity above which a new entity is flagged for review
	NearMissThreshold float64
}

// DefaultConfig returns the default resolution thresholds
func DefaultConfig() Config {
	return Config{
		NameMatchConfidence: 0.7,
		IdentifierConfidence: map[models.Source]float64{
			models.SourceCongress:   0.95,
			models.SourceOpenStates: 0.9,
			models.SourceFEC:        0.85,
		},
		NearMissThreshold: 0.93,
	}
}

func (c Config) identifierConfidence(source models.Source) float64 {
	if v, ok := c.IdentifierConfidence[source]; ok {
		return v
	}
	return 0.8
}

// Snapshot is the persisted state resolution reads
type Snapshot struct {
	Crosswalk  map[models.SourceKey]models.CrosswalkEntry
	Candidates []*models.CanonicalEntity
}

// Assignment is the canonical identity chosen for one record
type Assignment struct {
	RecordKey   string  `json:"record_key"`
	CanonicalID string  `json:"canonical_id"`
	Tier        Tier    `json:"tier"`
	Confidence  float64 `json:"confidence"`
}

// Note flags a resolution decision for review
type Note struct {
	Kind        models.ErrorKind `json:"kind"`
	RecordKey   string           `json:"record_key"`
	Source      models.Source    `json:"source"`
	CanonicalID string           `json:"canonical_id"`
	Candidates  []string         `json:"candidates,omitempty"`
	Message     string           `json:"message"`
}

// Resolution is the outcome of resolving one batch of records
type Resolution struct {
	Assignments map[string]Assignment
	NewEntries  []models.CrosswalkEntry
	Created     []string
	Notes       []Note
	// Groups holds this batch's records per canonical ID, in resolution order
	Groups map[string][]models.SourceRecord
}

// CanonicalIDs returns the canonical IDs touched by the batch, sorted
func (r *Resolution) CanonicalIDs() []string {
	ids := make([]string, 0, len(r.Groups))
	for id := range r.Groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EntriesFor returns the new crosswalk entries for one canonical ID
func (r *Resolution) EntriesFor(canonicalID string) []models.CrosswalkEntry {
	var out []models.CrosswalkEntry
	for _, e := range r.NewEntries {
		if e.CanonicalID == canonicalID {
			out = append(out, e)
		}
	}
	return out
}

// IsCreated reports whether canonicalID was minted by this resolution
func (r *Resolution) IsCreated(canonicalID string) bool {
	for _, id := range r.Created {
		if id == canonicalID {
			return true
		}
	}
	return false
}

// Resolver resolves records to canonical identities
type Resolver struct {
	cfg   Config
	newID func() string
}

// New creates a Resolver. newID mints canonical IDs for new entities.
func New(cfg Config, newID func() string) *Resolver {
	if cfg.NameMatchConfidence <= 0 {
		cfg.NameMatchConfidence = DefaultConfig().NameMatchConfidence
	}
	if cfg.NearMissThreshold <= 0 {
		cfg.NearMissThreshold = DefaultConfig().NearMissThreshold
	}
	return &Resolver{cfg: cfg, newID: newID}
}

// candidate is the matching view of one canonical entity
type candidate struct {
	canonicalID string
	names       map[string]bool
	level       models.Level
	state       string
	district    string
	office      string
	externalIDs map[models.Source]string
}

// state is the working set of one Resolve call. It starts as a copy of the
// snapshot and grows as records are assigned, so later records see earlier ones.
type state struct {
	crosswalk  map[models.SourceKey]models.CrosswalkEntry
	candidates []*candidate
	byID       map[string]*candidate
}

func newState(snap Snapshot) *state {
	s := &state{
		crosswalk: make(map[models.SourceKey]models.CrosswalkEntry, len(snap.Crosswalk)),
		byID:      make(map[string]*candidate, len(snap.Candidates)),
	}
	for k, v := range snap.Crosswalk {
		s.crosswalk[k] = v
	}
	for _, e := range snap.Candidates {
		if e == nil {
			continue
		}
		c := &candidate{
			canonicalID: e.CanonicalID,
			names:       map[string]bool{normalizers.NormalizeName(e.Consensus.Name): true},
			level:       e.Consensus.Level,
			state:       strings.ToUpper(e.Consensus.State),
			district:    normalizers.NormalizeDistrict(e.Consensus.District),
			office:      strings.ToLower(e.Consensus.Office),
			externalIDs: make(map[models.Source]string, len(e.ExternalIDs)),
		}
		for src, id := range e.ExternalIDs {
			c.externalIDs[src] = id
		}
		for _, r := range e.Contributions {
			c.names[normalizers.NormalizeName(r.Name)] = true
		}
		s.add(c)
	}
	return s
}

func (s *state) add(c *candidate) {
	if _, ok := s.byID[c.canonicalID]; ok {
		return
	}
	s.candidates = append(s.candidates, c)
	s.byID[c.canonicalID] = c
}

// Resolve assigns every record to a canonical ID. It never remaps an existing
// crosswalk entry and never mutates its inputs.
func (r *Resolver) Resolve(records []models.SourceRecord, snap Snapshot) *Resolution {
	ordered := make([]models.SourceRecord, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := ordered[i].Source.Reliability(), ordered[j].Source.Reliability()
		if ri != rj {
			return ri > rj
		}
		return ordered[i].Key() < ordered[j].Key()
	})

	st := newState(snap)
	res := &Resolution{
		Assignments: make(map[string]Assignment, len(ordered)),
		Groups:      make(map[string][]models.SourceRecord),
	}

	for _, record := range ordered {
		key := record.Key()
		if _, done := res.Assignments[key]; done {
			continue
		}

		assignment, ok := r.matchCrosswalk(record, st)
		if !ok {
			assignment, ok = r.matchForeignID(record, st)
		}
		if !ok {
			var note *Note
			assignment, ok, note = r.matchName(record, st)
			if note != nil {
				res.Notes = append(res.Notes, *note)
			}
		}
		if !ok {
			assignment = Assignment{CanonicalID: r.newID(), Tier: TierNew, Confidence: 1.0}
			res.Created = append(res.Created, assignment.CanonicalID)
			if note := r.nearMiss(record, st, assignment.CanonicalID); note != nil {
				res.Notes = append(res.Notes, *note)
			}
			st.add(&candidate{
				canonicalID: assignment.CanonicalID,
				names:       map[string]bool{},
				level:       record.Level,
				state:       strings.ToUpper(record.State),
				district:    normalizers.NormalizeDistrict(record.District),
				office:      strings.ToLower(record.Office),
				externalIDs: map[models.Source]string{},
			})
		}
		assignment.RecordKey = key
		res.Assignments[key] = assignment

		if sk, hasKey := record.SourceKey(); hasKey {
			if _, exists := st.crosswalk[sk]; !exists {
				entry := models.CrosswalkEntry{
					Source:      sk.Source,
					SourceID:    sk.SourceID,
					CanonicalID: assignment.CanonicalID,
					Confidence:  assignment.Confidence,
				}
				st.crosswalk[sk] = entry
				res.NewEntries = append(res.NewEntries, entry)
			}
		}

		c := st.byID[assignment.CanonicalID]
		if c == nil {
			// crosswalk hit for an entity outside the candidate set
			c = &candidate{canonicalID: assignment.CanonicalID, names: map[string]bool{}, externalIDs: map[models.Source]string{}}
			st.add(c)
		}
		c.names[normalizers.NormalizeName(record.Name)] = true
		if record.HasSourceID() {
			if _, has := c.externalIDs[record.Source]; !has {
				c.externalIDs[record.Source] = record.SourceID
			}
		}
		for src, id := range record.ForeignIDs {
			if _, has := c.externalIDs[src]; !has && id != "" {
				c.externalIDs[src] = id
			}
		}

		res.Groups[assignment.CanonicalID] = append(res.Groups[assignment.CanonicalID], record)
	}

	return res
}

func (r *Resolver) matchCrosswalk(record models.SourceRecord, st *state) (Assignment, bool) {
	key, ok := record.SourceKey()
	if !ok {
		return Assignment{}, false
	}
	entry, ok := st.crosswalk[key]
	if !ok {
		return Assignment{}, false
	}
	confidence := entry.Confidence
	if confidence <= 0 {
		confidence = 1.0
	}
	return Assignment{CanonicalID: entry.CanonicalID, Tier: TierCrosswalk, Confidence: confidence}, true
}

func (r *Resolver) matchForeignID(record models.SourceRecord, st *state) (Assignment, bool) {
	// Foreign identifiers in reliability order so the result does not depend on map iteration
	for _, src := range models.AllSources {
		id := record.ForeignIDs[src]
		if id == "" {
			continue
		}
		if entry, ok := st.crosswalk[models.SourceKey{Source: src, SourceID: id}]; ok {
			return Assignment{CanonicalID: entry.CanonicalID, Tier: TierForeignID, Confidence: r.cfg.identifierConfidence(src)}, true
		}
		if c := st.findByExternalID(src, id); c != nil {
			return Assignment{CanonicalID: c.canonicalID, Tier: TierForeignID, Confidence: r.cfg.identifierConfidence(src)}, true
		}
	}

	// An entity may already know this record's own ID from another source's cross-reference
	if key, ok := record.SourceKey(); ok {
		if c := st.findByExternalID(key.Source, key.SourceID); c != nil {
			return Assignment{CanonicalID: c.canonicalID, Tier: TierForeignID, Confidence: r.cfg.identifierConfidence(key.Source)}, true
		}
	}
	return Assignment{}, false
}

func (s *state) findByExternalID(src models.Source, id string) *candidate {
	for _, c := range s.candidates {
		if c.externalIDs[src] == id {
			return c
		}
	}
	return nil
}

func (r *Resolver) matchName(record models.SourceRecord, st *state) (Assignment, bool, *Note) {
	name := normalizers.NormalizeName(record.Name)
	if name == "" {
		return Assignment{}, false, nil
	}

	var matches []*candidate
	for _, c := range st.candidates {
		if c.names[name] && sameJurisdiction(record, c) && !conflictingIdentity(record, c) {
			matches = append(matches, c)
		}
	}

	switch len(matches) {
	case 0:
		return Assignment{}, false, nil
	case 1:
		return Assignment{CanonicalID: matches[0].canonicalID, Tier: TierName, Confidence: r.cfg.NameMatchConfidence}, true, nil
	}

	if c := tieBreak(record, matches); c != nil {
		return Assignment{CanonicalID: c.canonicalID, Tier: TierName, Confidence: r.cfg.NameMatchConfidence}, true, nil
	}

	ids := make([]string, 0, len(matches))
	for _, c := range matches {
		ids = append(ids, c.canonicalID)
	}
	sort.Strings(ids)
	return Assignment{}, false, &Note{
		Kind:       models.ErrorKindIdentityAmbiguous,
		RecordKey:  record.Key(),
		Source:     record.Source,
		Candidates: ids,
		Message:    fmt.Sprintf("%d candidates share name %q in %s; created a new entity", len(matches), record.Name, jurisdiction(record)),
	}
}

// tieBreak narrows homonyms by office, then district. It returns nil unless exactly one remains.
func tieBreak(record models.SourceRecord, matches []*candidate) *candidate {
	office := strings.ToLower(strings.TrimSpace(record.Office))
	district := normalizers.NormalizeDistrict(record.District)

	narrowed := matches
	if office != "" {
		narrowed = filter(narrowed, func(c *candidate) bool { return c.office == office })
		if len(narrowed) == 1 {
			return narrowed[0]
		}
	}
	if district != "" {
		narrowed = filter(narrowed, func(c *candidate) bool { return c.district == district })
		if len(narrowed) == 1 {
			return narrowed[0]
		}
	}
	return nil
}

func filter(cs []*candidate, keep func(*candidate) bool) []*candidate {
	var out []*candidate
	for _, c := range cs {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// nearMiss flags a newly created entity that looks like a spelling variant of an existing one
func (r *Resolver) nearMiss(record models.SourceRecord, st *state, createdID string) *Note {
	name := normalizers.NormalizeName(record.Name)
	if name == "" {
		return nil
	}

	var similar []string
	for _, c := range st.candidates {
		if !sameJurisdiction(record, c) {
			continue
		}
		for other := range c.names {
			if other != name && JaroWinkler(name, other) >= r.cfg.NearMissThreshold {
				similar = append(similar, c.canonicalID)
				break
			}
		}
	}
	if len(similar) == 0 {
		return nil
	}
	sort.Strings(similar)
	return &Note{
		Kind:        models.ErrorKindIdentityAmbiguous,
		RecordKey:   record.Key(),
		Source:      record.Source,
		CanonicalID: createdID,
		Candidates:  similar,
		Message:     fmt.Sprintf("new entity for %q closely resembles %d existing entities", record.Name, len(similar)),
	}
}

func sameJurisdiction(record models.SourceRecord, c *candidate) bool {
	if record.Level != c.level {
		return false
	}
	if !strings.EqualFold(record.State, c.state) {
		return false
	}
	district := normalizers.NormalizeDistrict(record.District)
	if district != "" && c.district != "" && district != c.district {
		return false
	}
	return true
}

// conflictingIdentity reports whether c already holds a different ID from the record's own source
func conflictingIdentity(record models.SourceRecord, c *candidate) bool {
	if !record.HasSourceID() {
		return false
	}
	existing, ok := c.externalIDs[record.Source]
	return ok && existing != record.SourceID
}

func jurisdiction(record models.SourceRecord) string {
	parts := []string{string(record.Level)}
	if record.State != "" {
		parts = append(parts, record.State)
	}
	if record.District != "" {
		parts = append(parts, record.District)
	}
	return strings.Join(parts, "/")
}
