package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// ContactType is the kind of contact point
type ContactType string

const (
	ContactEmail   ContactType = "email"
	ContactPhone   ContactType = "phone"
	ContactWebsite ContactType = "website"
	ContactAddress ContactType = "address"
)

// ContactPoint is one way to reach a representative.
// Sources is populated on canonical entities and lists every contributing source.
type ContactPoint struct {
	Type     ContactType `json:"type"`
	Value    string      `json:"value"`
	Verified bool        `json:"verified"`
	Sources  []Source    `json:"sources,omitempty"`
}

// Photo is a portrait reference
type Photo struct {
	URL         string   `json:"url"`
	Attribution string   `json:"attribution,omitempty"`
	QualityHint string   `json:"quality_hint,omitempty"` // thumbnail, original, official
	Sources     []Source `json:"sources,omitempty"`
}

// SocialAccount is a social media presence
type SocialAccount struct {
	Platform string   `json:"platform"`
	Handle   string   `json:"handle"`
	URL      string   `json:"url,omitempty"`
	Verified bool     `json:"verified"`
	Sources  []Source `json:"sources,omitempty"`
}

// SourceRecord is one representative as returned by one source.
// Records are ephemeral: produced per run, resolved, then folded into a canonical entity.
type SourceRecord struct {
	Source           Source            `json:"source"`
	SourceID         string            `json:"source_id,omitempty"`
	Name             string            `json:"name"`
	Party            string            `json:"party,omitempty"`
	Office           string            `json:"office,omitempty"`
	Level            Level             `json:"level"`
	Chamber          Chamber           `json:"chamber,omitempty"`
	State            string            `json:"state,omitempty"`
	District         string            `json:"district,omitempty"`
	Contacts         []ContactPoint    `json:"contacts,omitempty"`
	Photos           []Photo           `json:"photos,omitempty"`
	SocialMedia      []SocialAccount   `json:"social_media,omitempty"`
	ForeignIDs       map[Source]string `json:"foreign_ids,omitempty"`
	TermStart        *time.Time        `json:"term_start,omitempty"`
	TermEnd          *time.Time        `json:"term_end,omitempty"`
	NextElectionDate *time.Time        `json:"next_election_date,omitempty"`
	Retired          bool              `json:"retired,omitempty"`
	RoleNote         string            `json:"role_note,omitempty"`
	ProfileURL       string            `json:"profile_url,omitempty"`
	RetrievedAt      time.Time         `json:"retrieved_at"`
}

// HasSourceID reports whether the record carries a source-local identifier
func (r SourceRecord) HasSourceID() bool {
	return strings.TrimSpace(r.SourceID) != ""
}

// SourceKey returns the crosswalk key for the record. ok is false when the record has no source ID.
func (r SourceRecord) SourceKey() (SourceKey, bool) {
	if !r.HasSourceID() {
		return SourceKey{}, false
	}
	return SourceKey{Source: r.Source, SourceID: r.SourceID}, true
}

// Key identifies the record within a run and within an entity's contributions.
// Records without a source ID are keyed by their seat (level, state, chamber and
// district, or office when the district is empty) plus the normalized name, so
// namesakes holding different seats in one state stay distinct.
func (r SourceRecord) Key() string {
	if r.HasSourceID() {
		return fmt.Sprintf("%s:%s", r.Source, r.SourceID)
	}
	return fmt.Sprintf("%s:name:%s:%s:%s:%s:%s",
		r.Source, r.Level, strings.ToLower(r.State), r.Chamber, r.seat(), normalizers.NormalizeName(r.Name))
}

func (r SourceRecord) seat() string {
	if d := normalizers.NormalizeDistrict(r.District); d != "" {
		return d
	}
	return strings.ToLower(strings.Join(strings.Fields(r.Office), " "))
}

// Validate checks the fields every record must carry: a name and a jurisdiction
func (r SourceRecord) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return NewPipelineError(ErrorKindMalformedRecord, r.Source, r.SourceID, fmt.Errorf("missing name"))
	}
	if !r.Level.IsValid() {
		return NewPipelineError(ErrorKindMalformedRecord, r.Source, r.SourceID, fmt.Errorf("missing or invalid level %q", r.Level))
	}
	if r.Level != LevelFederal && strings.TrimSpace(r.State) == "" {
		return NewPipelineError(ErrorKindMalformedRecord, r.Source, r.SourceID, fmt.Errorf("missing state for %s-level record", r.Level))
	}
	return nil
}
