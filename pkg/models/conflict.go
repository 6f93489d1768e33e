package models

// Severity grades a field disagreement
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Tie-break rules applied when choosing a consensus value
const (
	RuleReliabilityRank    = "reliability-rank"
	RuleRegistryPrecedence = "registry-precedence"
	RuleMajorityVote       = "majority-vote"
	RuleFirstSeen          = "first-seen"
)

// SourceValue is one source's claim for a field
type SourceValue struct {
	Source Source `json:"source"`
	Value  string `json:"value"`
}

// FieldConflict records a disagreement between sources on one field
type FieldConflict struct {
	Field    string        `json:"field"`
	Severity Severity      `json:"severity"`
	Values   []SourceValue `json:"values"`
	Chosen   string        `json:"chosen"`
	Rule     string        `json:"rule"`
}

// Losers returns the values that were not chosen
func (c FieldConflict) Losers() []SourceValue {
	losers := make([]SourceValue, 0, len(c.Values))
	for _, v := range c.Values {
		if v.Value != c.Chosen {
			losers = append(losers, v)
		}
	}
	return losers
}

// ConflictReport lists every field disagreement found for one canonical entity
type ConflictReport struct {
	CanonicalID string          `json:"canonical_id"`
	Conflicts   []FieldConflict `json:"conflicts"`
}

// IsEmpty reports whether no disagreements were found
func (r ConflictReport) IsEmpty() bool {
	return len(r.Conflicts) == 0
}

// HasHardConflict reports whether any conflict needs manual review
func (r ConflictReport) HasHardConflict() bool {
	for _, c := range r.Conflicts {
		if c.Severity == SeverityHigh {
			return true
		}
	}
	return false
}
