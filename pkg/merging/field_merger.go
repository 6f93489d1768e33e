package merging

import (
	"sort"
	"time"

	"github.com/Gobusters/ectolinq"

	"github.com/Ramsey-B/fern/pkg/models"
)

// fieldValue is one source's claim for a single-valued field
type fieldValue struct {
	Source      models.Source
	Value       string
	Normalized  string
	RetrievedAt time.Time
}

// FieldMerger picks a consensus value per field and reports disagreements
type FieldMerger struct{}

// NewFieldMerger creates a new FieldMerger
func NewFieldMerger() *FieldMerger {
	return &FieldMerger{}
}

// MergeField chooses a value among claims using rule and returns a conflict when
// the normalized claims disagree. values must already be in reliability order.
func (m *FieldMerger) MergeField(field, rule string, severity models.Severity, values []fieldValue) (string, *models.FieldConflict) {
	values = ectolinq.Filter(values, func(v fieldValue) bool {
		return v.Normalized != ""
	})
	if len(values) == 0 {
		return "", nil
	}

	var chosen fieldValue
	switch rule {
	case models.RuleRegistryPrecedence:
		chosen, rule = m.registryPrecedence(values)
	case models.RuleMajorityVote:
		chosen = m.majorityVote(values)
	case models.RuleFirstSeen:
		chosen = m.firstSeen(values)
	default:
		chosen = m.mostReliable(values)
	}

	return chosen.Value, m.detectConflict(field, rule, severity, chosen, values)
}

// detectConflict returns nil when every claim normalizes to the same value
func (m *FieldMerger) detectConflict(field, rule string, severity models.Severity, chosen fieldValue, values []fieldValue) *models.FieldConflict {
	allSame := true
	for _, v := range values[1:] {
		if v.Normalized != values[0].Normalized {
			allSame = false
			break
		}
	}
	if allSame {
		return nil
	}

	conflictValues := ectolinq.Map(values, func(v fieldValue) models.SourceValue {
		value := v.Value
		// claims that agree with the winner after normalization are reported as the winner
		if v.Normalized == chosen.Normalized {
			value = chosen.Value
		}
		return models.SourceValue{Source: v.Source, Value: value}
	})

	return &models.FieldConflict{
		Field:    field,
		Severity: severity,
		Values:   conflictValues,
		Chosen:   chosen.Value,
		Rule:     rule,
	}
}

// mostReliable returns the claim from the highest ranked source
func (m *FieldMerger) mostReliable(values []fieldValue) fieldValue {
	best := values[0]
	for _, v := range values[1:] {
		if v.Source.Reliability() > best.Source.Reliability() {
			best = v
		}
	}
	return best
}

// registryPrecedence prefers a legislative registry claim and falls back to
// a majority vote among the remaining sources
func (m *FieldMerger) registryPrecedence(values []fieldValue) (fieldValue, string) {
	registry := ectolinq.Filter(values, func(v fieldValue) bool {
		return v.Source.IsLegislativeRegistry()
	})
	if len(registry) > 0 {
		return m.mostReliable(registry), models.RuleRegistryPrecedence
	}
	return m.majorityVote(values), models.RuleMajorityVote
}

// majorityVote returns the most common normalized claim. Ties go to the value
// whose best supporting source ranks highest.
func (m *FieldMerger) majorityVote(values []fieldValue) fieldValue {
	type tally struct {
		value fieldValue
		count int
		best  int
	}

	tallies := make(map[string]*tally)
	order := make([]string, 0, len(values))
	for _, v := range values {
		t, ok := tallies[v.Normalized]
		if !ok {
			t = &tally{value: v}
			tallies[v.Normalized] = t
			order = append(order, v.Normalized)
		}
		t.count++
		if r := v.Source.Reliability(); r > t.best {
			t.best = r
			t.value = v
		}
	}

	winner := tallies[order[0]]
	for _, key := range order[1:] {
		t := tallies[key]
		if t.count > winner.count || (t.count == winner.count && t.best > winner.best) {
			winner = t
		}
	}
	return winner.value
}

// firstSeen returns the earliest retrieved claim; ties keep reliability order
func (m *FieldMerger) firstSeen(values []fieldValue) fieldValue {
	sorted := make([]fieldValue, len(values))
	copy(sorted, values)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RetrievedAt.Before(sorted[j].RetrievedAt)
	})
	return sorted[0]
}
