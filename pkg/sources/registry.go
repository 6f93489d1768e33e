package sources

import (
	"sort"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Registry holds the configured adapters and enrichers
type Registry struct {
	adapters  map[models.Source]Adapter
	enrichers map[models.Source]Enricher
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{
		adapters:  make(map[models.Source]Adapter),
		enrichers: make(map[models.Source]Enricher),
	}
}

// Register adds a roster adapter, replacing any adapter for the same source
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Source()] = a
}

// RegisterEnricher adds an enricher, replacing any enricher for the same source
func (r *Registry) RegisterEnricher(e Enricher) {
	r.enrichers[e.Source()] = e
}

// For returns the adapters that support scope, most reliable first
func (r *Registry) For(scope models.Scope) []Adapter {
	var out []Adapter
	for _, a := range r.adapters {
		if a.Supports(scope) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Source().Reliability() > out[j].Source().Reliability()
	})
	return out
}

// Enrichers returns every registered enricher, most reliable first
func (r *Registry) Enrichers() []Enricher {
	out := make([]Enricher, 0, len(r.enrichers))
	for _, e := range r.enrichers {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Source().Reliability() > out[j].Source().Reliability()
	})
	return out
}

// Sources lists every registered source
func (r *Registry) Sources() []models.Source {
	var out []models.Source
	for _, s := range models.AllSources {
		_, isAdapter := r.adapters[s]
		_, isEnricher := r.enrichers[s]
		if isAdapter || isEnricher {
			out = append(out, s)
		}
	}
	return out
}
