package startup

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStartup(maxAttempts int) *Startup {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return New(logger, maxAttempts).WithBackoff(time.Millisecond, time.Millisecond)
}

func TestStartup_StartsDependenciesFirstAndStopsInReverse(t *testing.T) {
	var events []string
	dep := func(name string, requires ...string) Func {
		return Func{
			Name:     name,
			Requires: requires,
			OnStart:  func(context.Context) error { events = append(events, "start "+name); return nil },
			OnStop:   func(context.Context) error { events = append(events, "stop "+name); return nil },
		}
	}

	s := newTestStartup(1)
	s.Add(dep("api", "database", "redis"))
	s.Add(dep("database"))
	s.Add(dep("redis"))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"start database", "start redis", "start api"}, events)
	assert.Equal(t, StatusStarted, s.Status("api"))

	events = nil
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []string{"stop api", "stop redis", "stop database"}, events)
	assert.Equal(t, StatusStopped, s.Status("database"))
}

func TestStartup_RetriesUntilDependencyStarts(t *testing.T) {
	calls := 0
	s := newTestStartup(3)
	s.Add(Func{Name: "database", OnStart: func(context.Context) error {
		calls++
		if calls < 3 {
			return assert.AnError
		}
		return nil
	}})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 3, calls)
}

func TestStartup_GivesUp(t *testing.T) {
	s := newTestStartup(2)
	s.Add(Func{Name: "database", OnStart: func(context.Context) error { return assert.AnError }})

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, StatusFailed, s.Status("database"))
}

func TestStartup_UnknownDependencyIsPermanent(t *testing.T) {
	calls := 0
	s := newTestStartup(5)
	s.Add(Func{Name: "api", Requires: []string{"kafka"}, OnStart: func(context.Context) error { calls++; return nil }})

	err := s.Start(context.Background())
	assert.ErrorContains(t, err, `unknown startup dependency "kafka"`)
	assert.Zero(t, calls)
}
