// Package scoring computes the 0-100 quality score of a canonical entity
package scoring

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

const (
	maxScore        = 100.0
	minCompleteness = 0.5
	minRecency      = 0.7
)

// Config contains configuration for the scorer
type Config struct {
	Weights            map[models.Source]float64 // per-source authoritativeness
	FreshnessThreshold time.Duration             // age after which recency starts to decay (default: 180 days)
}

// DefaultWeights returns the default per-source weights
func DefaultWeights() map[models.Source]float64 {
	return map[models.Source]float64{
		models.SourceCongress:   40,
		models.SourceOpenStates: 35,
		models.SourceCivic:      25,
		models.SourceFEC:        20,
		models.SourceWikipedia:  10,
	}
}

// DefaultConfig returns default scorer configuration
func DefaultConfig() Config {
	return Config{
		Weights:            DefaultWeights(),
		FreshnessThreshold: 180 * 24 * time.Hour,
	}
}

// ParseWeights parses "source:weight" pairs separated by commas, e.g.
// "congress:40,openstates:35". Sources not listed keep their default weight.
func ParseWeights(raw string) (map[models.Source]float64, error) {
	weights := DefaultWeights()
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("invalid source weight %q: expected source:weight", pair)
		}
		source, ok := models.ParseSource(name)
		if !ok {
			return nil, fmt.Errorf("invalid source weight %q: unknown source %q", pair, name)
		}
		weight, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || weight < 0 {
			return nil, fmt.Errorf("invalid source weight %q: weight must be a non-negative number", pair)
		}
		weights[source] = weight
	}
	return weights, nil
}

// Scorer computes quality scores
type Scorer struct {
	config Config
}

// NewScorer creates a new Scorer. Missing config values fall back to defaults.
func NewScorer(config Config) *Scorer {
	defaults := DefaultConfig()
	if config.Weights == nil {
		config.Weights = defaults.Weights
	}
	if config.FreshnessThreshold <= 0 {
		config.FreshnessThreshold = defaults.FreshnessThreshold
	}
	return &Scorer{config: config}
}

// Breakdown is the score and the factors it was computed from
type Breakdown struct {
	SourceWeight float64 `json:"source_weight"`
	Completeness float64 `json:"completeness"`
	Recency      float64 `json:"recency"`
	Score        float64 `json:"score"`
}

// Score returns the quality score of entity as of now
func (s *Scorer) Score(entity *models.CanonicalEntity, now time.Time) float64 {
	return s.Explain(entity, now).Score
}

// Explain returns the score together with its factors
func (s *Scorer) Explain(entity *models.CanonicalEntity, now time.Time) Breakdown {
	b := Breakdown{
		SourceWeight: s.sourceWeight(entity.SourcesPresent),
		Completeness: completeness(entity),
		Recency:      s.recency(latestRetrieval(entity.Contributions), now),
	}
	b.Score = round2(b.SourceWeight * b.Completeness * b.Recency)
	return b
}

func (s *Scorer) sourceWeight(sources []models.Source) float64 {
	total := 0.0
	for _, src := range sources {
		total += s.config.Weights[src]
	}
	return math.Min(maxScore, total)
}

// completeness scales from 0.5 with no optional data to 1.0 with all four groups present
func completeness(entity *models.CanonicalEntity) float64 {
	populated := 0
	if len(entity.Contacts) > 0 {
		populated++
	}
	if len(entity.Photos) > 0 {
		populated++
	}
	if len(entity.SocialMedia) > 0 {
		populated++
	}
	if entity.Term.Start != nil || entity.Term.End != nil {
		populated++
	}
	return minCompleteness + (1-minCompleteness)*float64(populated)/4
}

// recency is 1.0 within the freshness threshold and decays linearly to 0.7 at
// twice the threshold. An entity with no retrieval time gets the floor.
func (s *Scorer) recency(latest, now time.Time) float64 {
	if latest.IsZero() {
		return minRecency
	}
	age := now.Sub(latest)
	threshold := s.config.FreshnessThreshold
	if age <= threshold {
		return 1
	}
	over := float64(age-threshold) / float64(threshold)
	return math.Max(minRecency, 1-(1-minRecency)*over)
}

func latestRetrieval(records []models.SourceRecord) time.Time {
	var latest time.Time
	for _, r := range records {
		if r.RetrievedAt.After(latest) {
			latest = r.RetrievedAt
		}
	}
	return latest
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
