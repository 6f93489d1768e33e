package models

import (
	"strings"
)

// Scope is the slice of representatives one ingestion run covers
type Scope struct {
	Level    Level   `json:"level" validate:"required,oneof=federal state local"`
	State    string  `json:"state,omitempty" validate:"omitempty,len=2,alpha"`
	District string  `json:"district,omitempty" validate:"omitempty,max=16"`
	Chamber  Chamber `json:"chamber,omitempty" validate:"omitempty,oneof=upper lower"`
}

// Normalize upper-cases the state and trims the district
func (s Scope) Normalize() Scope {
	s.State = strings.ToUpper(strings.TrimSpace(s.State))
	s.District = strings.TrimSpace(s.District)
	return s
}

// Key is a stable identifier used for locking and logging
func (s Scope) Key() string {
	parts := []string{string(s.Level)}
	parts = append(parts, valueOr(s.State, "*"), valueOr(s.District, "*"), valueOr(string(s.Chamber), "*"))
	return strings.Join(parts, "/")
}

// Contains reports whether a record falls inside the scope
func (s Scope) Contains(r SourceRecord) bool {
	if r.Level != s.Level {
		return false
	}
	if s.State != "" && !strings.EqualFold(r.State, s.State) {
		return false
	}
	if s.District != "" && r.District != "" && !strings.EqualFold(r.District, s.District) {
		return false
	}
	if s.Chamber != "" && r.Chamber != "" && r.Chamber != s.Chamber {
		return false
	}
	return true
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
