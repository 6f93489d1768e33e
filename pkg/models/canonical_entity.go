package models

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// CurrentStatus is the derived incumbency classification of an entity
type CurrentStatus string

const (
	StatusCurrent    CurrentStatus = "current"
	StatusNotCurrent CurrentStatus = "not-current"
	StatusUnknown    CurrentStatus = "unknown"
)

// Signals are the four independent "looks current" checks behind CurrentStatus.
// They are stored with the entity so every classification can be audited.
type Signals struct {
	TermActive       bool      `json:"term_active"`
	ElectionInWindow bool      `json:"election_in_window"`
	NoRetiredMarker  bool      `json:"no_retired_marker"`
	Fresh            bool      `json:"fresh"`
	EvaluatedAt      time.Time `json:"evaluated_at"`
}

// Count returns how many signals look current
func (s Signals) Count() int {
	n := 0
	for _, v := range []bool{s.TermActive, s.ElectionInWindow, s.NoRetiredMarker, s.Fresh} {
		if v {
			n++
		}
	}
	return n
}

// Consensus holds the single-valued fields chosen across contributing sources
type Consensus struct {
	Name     string  `json:"name"`
	Party    string  `json:"party,omitempty"`
	Office   string  `json:"office,omitempty"`
	Level    Level   `json:"level"`
	Chamber  Chamber `json:"chamber,omitempty"`
	State    string  `json:"state,omitempty"`
	District string  `json:"district,omitempty"`
}

// Term is the consensus service window of an entity
type Term struct {
	Start            *time.Time `json:"start,omitempty"`
	End              *time.Time `json:"end,omitempty"`
	NextElectionDate *time.Time `json:"next_election_date,omitempty"`
}

// CanonicalEntity is the merged, de-duplicated representative.
// CanonicalID is assigned once and never reassigned; entities are never merged into each other.
type CanonicalEntity struct {
	CanonicalID    string            `json:"canonical_id"`
	Consensus      Consensus         `json:"consensus"`
	Contacts       []ContactPoint    `json:"contacts"`
	Photos         []Photo           `json:"photos"`
	SocialMedia    []SocialAccount   `json:"social_media"`
	ExternalIDs    map[Source]string `json:"external_ids,omitempty"`
	Term           Term              `json:"term"`
	QualityScore   float64           `json:"quality_score"`
	SourcesPresent []Source          `json:"sources_present"`
	CurrentStatus  CurrentStatus     `json:"current_status"`
	Signals        Signals           `json:"signals"`
	Conflicts      []FieldConflict   `json:"conflicts,omitempty"`
	Contributions  []SourceRecord    `json:"-"`
	ContentHash    string            `json:"-"`
	Version        int               `json:"version"`
	LastResolvedAt time.Time         `json:"last_resolved_at"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// HasSource reports whether source contributed to the entity
func (e *CanonicalEntity) HasSource(source Source) bool {
	for _, s := range e.SourcesPresent {
		if s == source {
			return true
		}
	}
	return false
}

// CanonicalEntityRow is the canonical_entities table row
type CanonicalEntityRow struct {
	CanonicalID    string                            `db:"canonical_id"`
	Name           string                            `db:"name"`
	NormalizedName string                            `db:"normalized_name"`
	Party          *string                           `db:"party"`
	Office         *string                           `db:"office"`
	Level          string                            `db:"level"`
	Chamber        *string                           `db:"chamber"`
	State          *string                           `db:"state"`
	District       *string                           `db:"district"`
	Contacts       database.JSONB[[]ContactPoint]    `db:"contacts"`
	Photos         database.JSONB[[]Photo]           `db:"photos"`
	SocialMedia    database.JSONB[[]SocialAccount]   `db:"social_media"`
	ExternalIDs    database.JSONB[map[Source]string] `db:"external_ids"`
	Term           database.JSONB[Term]              `db:"term"`
	Contributions  database.JSONB[[]SourceRecord]    `db:"contributions"`
	Signals        database.JSONB[Signals]           `db:"signals"`
	Conflicts      database.JSONB[[]FieldConflict]   `db:"conflicts"`
	QualityScore   float64                           `db:"quality_score"`
	SourcesPresent database.StringArray              `db:"sources_present"`
	CurrentStatus  string                            `db:"current_status"`
	ContentHash    string                            `db:"content_hash"`
	Version        int                               `db:"version"`
	LastResolvedAt time.Time                         `db:"last_resolved_at"`
	CreatedAt      time.Time                         `db:"created_at"`
	UpdatedAt      time.Time                         `db:"updated_at"`
}

// ToEntity converts a row to the API model
func (r *CanonicalEntityRow) ToEntity() *CanonicalEntity {
	sources := make([]Source, 0, len(r.SourcesPresent))
	for _, s := range r.SourcesPresent {
		sources = append(sources, Source(s))
	}

	return &CanonicalEntity{
		CanonicalID: r.CanonicalID,
		Consensus: Consensus{
			Name:     r.Name,
			Party:    deref(r.Party),
			Office:   deref(r.Office),
			Level:    Level(r.Level),
			Chamber:  Chamber(deref(r.Chamber)),
			State:    deref(r.State),
			District: deref(r.District),
		},
		Contacts:       r.Contacts.GetValue(),
		Photos:         r.Photos.GetValue(),
		SocialMedia:    r.SocialMedia.GetValue(),
		ExternalIDs:    r.ExternalIDs.GetValue(),
		Term:           r.Term.GetValue(),
		QualityScore:   r.QualityScore,
		SourcesPresent: sources,
		CurrentStatus:  CurrentStatus(r.CurrentStatus),
		Signals:        r.Signals.GetValue(),
		Conflicts:      r.Conflicts.GetValue(),
		Contributions:  r.Contributions.GetValue(),
		ContentHash:    r.ContentHash,
		Version:        r.Version,
		LastResolvedAt: r.LastResolvedAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// NewCanonicalEntityRow converts an entity to its table row
func NewCanonicalEntityRow(e *CanonicalEntity) *CanonicalEntityRow {
	sources := make(database.StringArray, 0, len(e.SourcesPresent))
	for _, s := range e.SourcesPresent {
		sources = append(sources, string(s))
	}

	return &CanonicalEntityRow{
		CanonicalID:    e.CanonicalID,
		Name:           e.Consensus.Name,
		NormalizedName: normalizers.NormalizeName(e.Consensus.Name),
		Party:          ref(e.Consensus.Party),
		Office:         ref(e.Consensus.Office),
		Level:          string(e.Consensus.Level),
		Chamber:        ref(string(e.Consensus.Chamber)),
		State:          ref(e.Consensus.State),
		District:       ref(e.Consensus.District),
		Contacts:       database.NewJSONB(e.Contacts),
		Photos:         database.NewJSONB(e.Photos),
		SocialMedia:    database.NewJSONB(e.SocialMedia),
		ExternalIDs:    database.NewJSONB(e.ExternalIDs),
		Term:           database.NewJSONB(e.Term),
		Contributions:  database.NewJSONB(e.Contributions),
		Signals:        database.NewJSONB(e.Signals),
		Conflicts:      database.NewJSONB(e.Conflicts),
		QualityScore:   e.QualityScore,
		SourcesPresent: sources,
		CurrentStatus:  string(e.CurrentStatus),
		ContentHash:    e.ContentHash,
		Version:        e.Version,
		LastResolvedAt: e.LastResolvedAt,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func ref(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// RepresentativeListResponse is the response for representative queries
type RepresentativeListResponse struct {
	Items      []*CanonicalEntity `json:"items"`
	TotalCount int                `json:"total_count"`
}
