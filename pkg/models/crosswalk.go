package models

import (
	"fmt"
	"time"
)

// SourceKey identifies a record within one source
type SourceKey struct {
	Source   Source `json:"source"`
	SourceID string `json:"source_id"`
}

func (k SourceKey) String() string {
	return fmt.Sprintf("%s:%s", k.Source, k.SourceID)
}

// CrosswalkEntry maps one (source, sourceId) pair to a canonical entity.
// Once written an entry is never remapped.
type CrosswalkEntry struct {
	Source      Source    `json:"source" db:"source"`
	SourceID    string    `json:"source_id" db:"source_id"`
	CanonicalID string    `json:"canonical_id" db:"canonical_id"`
	Confidence  float64   `json:"confidence" db:"confidence"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Key returns the entry's source key
func (e CrosswalkEntry) Key() SourceKey {
	return SourceKey{Source: e.Source, SourceID: e.SourceID}
}
