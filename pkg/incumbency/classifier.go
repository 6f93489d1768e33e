// Package incumbency classifies whether a canonical entity is still serving
package incumbency

import (
	"regexp"
	"sort"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Config contains configuration for the classifier
type Config struct {
	ElectionWindow     time.Duration // max distance between now and the election date (default: 2 years)
	FreshnessThreshold time.Duration // max age of the newest retrieval (default: 180 days)
	MinSignals         int           // signals needed to classify as current (default: 2)
}

// DefaultConfig returns default classifier configuration
func DefaultConfig() Config {
	return Config{
		ElectionWindow:     2 * 365 * 24 * time.Hour,
		FreshnessThreshold: 180 * 24 * time.Hour,
		MinSignals:         2,
	}
}

// Classifier derives CurrentStatus from the four incumbency signals
type Classifier struct {
	config Config
}

// NewClassifier creates a new Classifier. Missing config values fall back to defaults.
func NewClassifier(config Config) *Classifier {
	defaults := DefaultConfig()
	if config.ElectionWindow <= 0 {
		config.ElectionWindow = defaults.ElectionWindow
	}
	if config.FreshnessThreshold <= 0 {
		config.FreshnessThreshold = defaults.FreshnessThreshold
	}
	if config.MinSignals <= 0 {
		config.MinSignals = defaults.MinSignals
	}
	return &Classifier{config: config}
}

var retiredMarker = regexp.MustCompile(`(?i)\b(former|formerly|retired|resigned|deceased|succeeded by|emeritus)\b`)

// Classify evaluates the signals over every record attributed to one entity.
// Term and election dates come from the most reliable record that carries them.
// Without records the status is unknown.
func (c *Classifier) Classify(records []models.SourceRecord, now time.Time) (models.Signals, models.CurrentStatus) {
	signals := models.Signals{EvaluatedAt: now}
	if len(records) == 0 {
		return signals, models.StatusUnknown
	}

	ranked := make([]models.SourceRecord, len(records))
	copy(ranked, records)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Source.Reliability() > ranked[j].Source.Reliability()
	})

	var start, end, election *time.Time
	var latest time.Time
	signals.NoRetiredMarker = true
	for _, r := range ranked {
		if start == nil {
			start = r.TermStart
		}
		if end == nil {
			end = r.TermEnd
		}
		if election == nil {
			election = r.NextElectionDate
		}
		if r.RetrievedAt.After(latest) {
			latest = r.RetrievedAt
		}
		if isRetired(r) {
			signals.NoRetiredMarker = false
		}
	}

	signals.TermActive = (start == nil || !start.After(now)) && (end == nil || !end.Before(now))
	signals.ElectionInWindow = election != nil && absDuration(election.Sub(now)) <= c.config.ElectionWindow
	signals.Fresh = !latest.IsZero() && now.Sub(latest) <= c.config.FreshnessThreshold

	return signals, c.Status(signals)
}

// ClassifyEntity classifies entity from its contributions and stores the result on it
func (c *Classifier) ClassifyEntity(entity *models.CanonicalEntity, now time.Time) {
	entity.Signals, entity.CurrentStatus = c.Classify(entity.Contributions, now)
}

// Status applies the signal policy: current only when enough signals agree
func (c *Classifier) Status(signals models.Signals) models.CurrentStatus {
	if signals.Count() >= c.config.MinSignals {
		return models.StatusCurrent
	}
	return models.StatusNotCurrent
}

func isRetired(r models.SourceRecord) bool {
	return r.Retired || retiredMarker.MatchString(r.RoleNote) || retiredMarker.MatchString(r.Office)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
