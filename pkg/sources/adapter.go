// Package sources holds the upstream representative API adapters.
//
// Roster adapters page through a source's list of representatives for a scope.
// Enrichers look up one already-known representative in a source that cannot
// be listed by jurisdiction.
package sources

import (
	"context"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Adapter lists representatives from one source
type Adapter interface {
	Source() models.Source
	// Supports reports whether the source can list representatives for scope
	Supports(scope models.Scope) bool
	// Fetch returns the page at cursor. An empty cursor starts from the beginning;
	// an empty Page.NextCursor marks the last page.
	Fetch(ctx context.Context, scope models.Scope, cursor string) (*Page, error)
}

// Enricher adds records about a representative that another source already reported
type Enricher interface {
	Source() models.Source
	Enrich(ctx context.Context, subject models.SourceRecord) ([]models.SourceRecord, error)
}

// Page is one page of a roster
type Page struct {
	Records    []models.SourceRecord
	Dropped    []Drop
	NextCursor string
}

// Drop is a record that failed validation and was left out of a page
type Drop struct {
	Source models.Source `json:"source"`
	Key    string        `json:"key"`
	Name   string        `json:"name,omitempty"`
	Reason string        `json:"reason"`
}

// accept validates r and appends it to Records or Dropped
func (p *Page) accept(r models.SourceRecord) {
	if err := r.Validate(); err != nil {
		p.Dropped = append(p.Dropped, Drop{
			Source: r.Source,
			Key:    r.Key(),
			Name:   r.Name,
			Reason: err.Error(),
		})
		return
	}
	p.Records = append(p.Records, r)
}
