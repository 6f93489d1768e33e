package models

import "strings"

// Source identifies the external API a record came from
type Source string

const (
	// SourceCongress is the federal legislative registry
	SourceCongress Source = "congress"
	// SourceOpenStates is the state legislator registry
	SourceOpenStates Source = "openstates"
	// SourceCivic is the civic-district lookup
	SourceCivic Source = "civic"
	// SourceFEC is the campaign-finance registry
	SourceFEC Source = "fec"
	// SourceWikipedia is the encyclopedic biography/photo source
	SourceWikipedia Source = "wikipedia"
)

// AllSources lists every known source, most reliable first
var AllSources = []Source{SourceCongress, SourceOpenStates, SourceCivic, SourceFEC, SourceWikipedia}

// Reliability ranks sources for consensus decisions. Higher = more trusted.
func (s Source) Reliability() int {
	switch s {
	case SourceCongress:
		return 50
	case SourceOpenStates:
		return 40
	case SourceCivic:
		return 30
	case SourceFEC:
		return 20
	case SourceWikipedia:
		return 10
	default:
		return 0
	}
}

// IsLegislativeRegistry reports whether the source is an official legislative roster
func (s Source) IsLegislativeRegistry() bool {
	return s == SourceCongress || s == SourceOpenStates
}

// IsValid reports whether s is a known source
func (s Source) IsValid() bool {
	return s.Reliability() > 0
}

// ParseSource parses a case-insensitive source name
func ParseSource(raw string) (Source, bool) {
	s := Source(strings.ToLower(strings.TrimSpace(raw)))
	return s, s.IsValid()
}

// Level is the level of government a representative serves at
type Level string

const (
	LevelFederal Level = "federal"
	LevelState   Level = "state"
	LevelLocal   Level = "local"
)

// IsValid reports whether l is a known level
func (l Level) IsValid() bool {
	return l == LevelFederal || l == LevelState || l == LevelLocal
}

// Chamber is the legislative chamber. Empty for executive or unknown offices.
type Chamber string

const (
	ChamberUpper Chamber = "upper"
	ChamberLower Chamber = "lower"
)
