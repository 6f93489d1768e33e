// Package startup brings process dependencies up in dependency order, retrying
// the whole set with fibonacci backoff until every one has started
package startup

import (
	"context"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/fern/pkg/retry"
)

// Dependency is something the process needs before it can serve
type Dependency interface {
	GetName() string
	DependsOn() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Status is the lifecycle state of one dependency
type Status int

const (
	StatusPending Status = iota
	StatusStarted
	StatusStopped
	StatusFailed
)

// Func adapts plain functions to a Dependency
type Func struct {
	Name     string
	Requires []string
	OnStart  func(ctx context.Context) error
	OnStop   func(ctx context.Context) error
}

func (f Func) GetName() string { return f.Name }

func (f Func) DependsOn() []string { return f.Requires }

func (f Func) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}

// Startup starts and stops a set of dependencies
type Startup struct {
	dependencies map[string]Dependency
	statuses     map[string]Status
	order        []string
	logger       ectologger.Logger
	policy       retry.Policy
}

// New creates a Startup that makes up to maxAttempts passes over the dependencies
func New(logger ectologger.Logger, maxAttempts int) *Startup {
	return &Startup{
		dependencies: make(map[string]Dependency),
		statuses:     make(map[string]Status),
		logger:       logger,
		policy: retry.Policy{
			MaxAttempts:  maxAttempts,
			Backoff:      retry.BackoffFibonacci,
			InitialDelay: time.Second,
			MaxDelay:     time.Minute,
		},
	}
}

// WithBackoff overrides the delay between startup passes
func (s *Startup) WithBackoff(initial, max time.Duration) *Startup {
	s.policy.InitialDelay = initial
	s.policy.MaxDelay = max
	return s
}

// Add registers a dependency
func (s *Startup) Add(dependency Dependency) {
	s.dependencies[dependency.GetName()] = dependency
}

// Status returns the state of the named dependency
func (s *Startup) Status(name string) Status {
	return s.statuses[name]
}

// Start starts every dependency, dependencies of a dependency first
func (s *Startup) Start(ctx context.Context) error {
	names := make([]string, 0, len(s.dependencies))
	for name := range s.dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	policy := s.policy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.WithError(err).WithFields(map[string]any{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("Startup attempt failed, retrying")
	}

	err := policy.Do(ctx, func(ctx context.Context) error {
		for _, name := range names {
			if err := s.start(ctx, name, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "startup failed")
	}
	return nil
}

func (s *Startup) start(ctx context.Context, name string, path []string) error {
	dependency, ok := s.dependencies[name]
	if !ok {
		return retry.Permanent(errors.Errorf("unknown startup dependency %q", name))
	}
	if s.statuses[name] == StatusStarted {
		return nil
	}
	for _, p := range path {
		if p == name {
			return retry.Permanent(errors.Errorf("startup dependency cycle through %q", name))
		}
	}

	for _, required := range dependency.DependsOn() {
		if err := s.start(ctx, required, append(path, name)); err != nil {
			return err
		}
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{"dependency": name})
	log.Info("Starting dependency")
	if err := dependency.Start(ctx); err != nil {
		s.statuses[name] = StatusFailed
		log.WithError(err).Error("Failed to start dependency")
		return errors.Wrapf(err, "failed to start %s", name)
	}
	s.statuses[name] = StatusStarted
	s.order = append(s.order, name)
	return nil
}

// Stop stops the started dependencies in reverse start order
func (s *Startup) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(s.order) - 1; i >= 0; i-- {
		name := s.order[i]
		log := s.logger.WithContext(ctx).WithFields(map[string]any{"dependency": name})
		if err := s.dependencies[name].Stop(ctx); err != nil {
			log.WithError(err).Error("Failed to stop dependency")
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "failed to stop %s", name)
			}
			continue
		}
		s.statuses[name] = StatusStopped
		log.Info("Dependency stopped")
	}
	s.order = nil
	return firstErr
}
