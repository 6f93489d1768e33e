package events

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// EventType defines the type of event
type EventType string

const (
	EventTypeRepresentativeCreated       EventType = "representative.created"
	EventTypeRepresentativeUpdated       EventType = "representative.updated"
	EventTypeRepresentativeStatusChanged EventType = "representative.status_changed"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// RepresentativePayload is the body of every representative event
type RepresentativePayload struct {
	Consensus      models.Consensus         `json:"consensus"`
	QualityScore   float64                  `json:"quality_score"`
	SourcesPresent []models.Source          `json:"sources_present"`
	ExternalIDs    map[models.Source]string `json:"external_ids,omitempty"`
	Signals        models.Signals           `json:"signals"`
	Conflicts      []models.FieldConflict   `json:"conflicts,omitempty"`
	LastResolvedAt time.Time                `json:"last_resolved_at"`
}

func newPayload(change models.EntityChange) RepresentativePayload {
	e := change.Entity
	return RepresentativePayload{
		Consensus:      e.Consensus,
		QualityScore:   e.QualityScore,
		SourcesPresent: e.SourcesPresent,
		ExternalIDs:    e.ExternalIDs,
		Signals:        e.Signals,
		Conflicts:      change.Conflicts,
		LastResolvedAt: e.LastResolvedAt,
	}
}
