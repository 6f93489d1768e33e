package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from models.RunState
		to   models.RunState
		want bool
	}{
		{"pending to fetching", models.RunStatePending, models.RunStateFetching, true},
		{"fetching to resolving", models.RunStateFetching, models.RunStateResolving, true},
		{"resolving to validating", models.RunStateResolving, models.RunStateValidating, true},
		{"validating to scoring", models.RunStateValidating, models.RunStateScoring, true},
		{"scoring to filtering", models.RunStateScoring, models.RunStateFiltering, true},
		{"filtering to persisting", models.RunStateFiltering, models.RunStatePersisting, true},
		{"persisting to done", models.RunStatePersisting, models.RunStateDone, true},
		{"any running state may fail", models.RunStateScoring, models.RunStateFailed, true},
		{"pending may fail", models.RunStatePending, models.RunStateFailed, true},
		{"no skipping stages", models.RunStateFetching, models.RunStatePersisting, false},
		{"no going back", models.RunStateScoring, models.RunStateResolving, false},
		{"done is terminal", models.RunStateDone, models.RunStateFailed, false},
		{"failed is terminal", models.RunStateFailed, models.RunStatePending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestAdvance_RejectsInvalidEdge(t *testing.T) {
	o := New(DefaultConfig(), newMemoryStore(), nil, testLogger())
	run := &models.IngestionRun{ID: "run-1", State: models.RunStateFetching}

	err := o.advance(t.Context(), run, models.RunStateDone)

	var transitionErr *TransitionError
	assert.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, models.RunStateFetching, run.State)
	assert.EqualError(t, err, "invalid run transition fetching -> done")
}
