package orchestrator

import (
	"context"
	"fmt"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
)

// transitions lists the forward edges of the run state machine.
// Failed is reachable from every non-terminal state and is not listed.
var transitions = map[models.RunState]models.RunState{
	models.RunStatePending:    models.RunStateFetching,
	models.RunStateFetching:   models.RunStateResolving,
	models.RunStateResolving:  models.RunStateValidating,
	models.RunStateValidating: models.RunStateScoring,
	models.RunStateScoring:    models.RunStateFiltering,
	models.RunStateFiltering:  models.RunStatePersisting,
	models.RunStatePersisting: models.RunStateDone,
}

// TransitionError is returned for an edge the state machine does not have
type TransitionError struct {
	From models.RunState
	To   models.RunState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid run transition %s -> %s", e.From, e.To)
}

// CanTransition reports whether a run in state from may move to state to
func CanTransition(from, to models.RunState) bool {
	if from.IsTerminal() {
		return false
	}
	if to == models.RunStateFailed {
		return true
	}
	return transitions[from] == to
}

// advance moves the run to the next state, logging and counting the transition
func (o *Orchestrator) advance(ctx context.Context, run *models.IngestionRun, to models.RunState) error {
	if !CanTransition(run.State, to) {
		return &TransitionError{From: run.State, To: to}
	}

	o.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id": run.ID,
		"scope":  run.Scope.Key(),
		"from":   run.State,
		"stage":  to,
	}).Debug("Run state transition")

	run.State = to
	metrics.RecordTransition(string(to))
	return nil
}
