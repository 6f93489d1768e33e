package models

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
)

// RunState is a stage of the per-scope ingestion state machine
type RunState string

const (
	RunStatePending    RunState = "pending"
	RunStateFetching   RunState = "fetching"
	RunStateResolving  RunState = "resolving"
	RunStateValidating RunState = "validating"
	RunStateScoring    RunState = "scoring"
	RunStateFiltering  RunState = "filtering"
	RunStatePersisting RunState = "persisting"
	RunStateDone       RunState = "done"
	RunStateFailed     RunState = "failed"
)

// IsTerminal reports whether no further transitions are allowed
func (s RunState) IsTerminal() bool {
	return s == RunStateDone || s == RunStateFailed
}

// OutcomeStatus is the per-item result of a run
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// ItemOutcome is the result for one fetched representative record
type ItemOutcome struct {
	Key         string        `json:"key"`
	Source      Source        `json:"source"`
	Name        string        `json:"name,omitempty"`
	CanonicalID string        `json:"canonical_id,omitempty"`
	Status      OutcomeStatus `json:"status"`
	ErrorKind   ErrorKind     `json:"error_kind,omitempty"`
	Message     string        `json:"message,omitempty"`
}

// SourceFailure records a source whose roster could not be fetched completely
type SourceFailure struct {
	Source  Source `json:"source"`
	Cursor  string `json:"cursor,omitempty"`
	Message string `json:"message"`
}

// IngestionRun is the audit record of one scope run
type IngestionRun struct {
	ID             string           `json:"run_id"`
	Scope          Scope            `json:"scope"`
	State          RunState         `json:"state"`
	Reason         string           `json:"reason,omitempty"`
	Processed      int              `json:"processed"`
	Succeeded      int              `json:"succeeded"`
	Failed         int              `json:"failed"`
	Skipped        int              `json:"skipped"`
	Conflicts      []ConflictReport `json:"conflicts"`
	Outcomes       []ItemOutcome    `json:"outcomes,omitempty"`
	SourceFailures []SourceFailure  `json:"source_failures,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     *time.Time       `json:"finished_at,omitempty"`
}

// Failures returns the failed item outcomes
func (r *IngestionRun) Failures() []ItemOutcome {
	failures := make([]ItemOutcome, 0)
	for _, o := range r.Outcomes {
		if o.Status == OutcomeFailed {
			failures = append(failures, o)
		}
	}
	return failures
}

// IngestResponse is the response of the ingest trigger
type IngestResponse struct {
	RunID          string           `json:"run_id"`
	State          RunState         `json:"state"`
	Reason         string           `json:"reason,omitempty"`
	Processed      int              `json:"processed"`
	Succeeded      int              `json:"succeeded"`
	Failed         int              `json:"failed"`
	Skipped        int              `json:"skipped"`
	Conflicts      []ConflictReport `json:"conflicts"`
	Failures       []ItemOutcome    `json:"failures"`
	SourceFailures []SourceFailure  `json:"source_failures,omitempty"`
}

// ToResponse summarizes the run for the ingest endpoint
func (r *IngestionRun) ToResponse() IngestResponse {
	conflicts := r.Conflicts
	if conflicts == nil {
		conflicts = []ConflictReport{}
	}
	return IngestResponse{
		RunID:          r.ID,
		State:          r.State,
		Reason:         r.Reason,
		Processed:      r.Processed,
		Succeeded:      r.Succeeded,
		Failed:         r.Failed,
		Skipped:        r.Skipped,
		Conflicts:      conflicts,
		Failures:       r.Failures(),
		SourceFailures: r.SourceFailures,
	}
}

// IngestionRunRow is the ingestion_runs table row
type IngestionRunRow struct {
	ID             string                           `db:"id"`
	Scope          database.JSONB[Scope]            `db:"scope"`
	ScopeKey       string                           `db:"scope_key"`
	State          string                           `db:"state"`
	Reason         *string                          `db:"reason"`
	Processed      int                              `db:"processed"`
	Succeeded      int                              `db:"succeeded"`
	Failed         int                              `db:"failed"`
	Skipped        int                              `db:"skipped"`
	Conflicts      database.JSONB[[]ConflictReport] `db:"conflicts"`
	Outcomes       database.JSONB[[]ItemOutcome]    `db:"outcomes"`
	SourceFailures database.JSONB[[]SourceFailure]  `db:"source_failures"`
	StartedAt      time.Time                        `db:"started_at"`
	FinishedAt     *time.Time                       `db:"finished_at"`
}

// ToRun converts a row to the API model
func (r *IngestionRunRow) ToRun() *IngestionRun {
	run := &IngestionRun{
		ID:             r.ID,
		Scope:          r.Scope.GetValue(),
		State:          RunState(r.State),
		Processed:      r.Processed,
		Succeeded:      r.Succeeded,
		Failed:         r.Failed,
		Skipped:        r.Skipped,
		Conflicts:      r.Conflicts.GetValue(),
		Outcomes:       r.Outcomes.GetValue(),
		SourceFailures: r.SourceFailures.GetValue(),
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
	}
	if r.Reason != nil {
		run.Reason = *r.Reason
	}
	return run
}
