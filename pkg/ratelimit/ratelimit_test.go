package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingGate struct {
	calls     int
	err       error
	throttled time.Duration
}

func (g *countingGate) Wait(context.Context) error {
	g.calls++
	return g.err
}

func (g *countingGate) Throttle(_ context.Context, d time.Duration) {
	g.throttled = d
}

func TestTokenBucket(t *testing.T) {
	t.Run("unlimited when rps is zero", func(t *testing.T) {
		b := NewTokenBucket(0, 0)
		for i := 0; i < 100; i++ {
			require.NoError(t, b.Wait(context.Background()))
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		b := NewTokenBucket(0.001, 1)
		require.NoError(t, b.Wait(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		assert.Error(t, b.Wait(ctx))
	})
}

func TestChain(t *testing.T) {
	first := &countingGate{}
	second := &countingGate{}

	gate := Chain(first, nil, second)
	require.NoError(t, gate.Wait(context.Background()))
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)

	gate.(Throttler).Throttle(context.Background(), 3*time.Second)
	assert.Equal(t, 3*time.Second, first.throttled)
	assert.Equal(t, 3*time.Second, second.throttled)
}

func TestChainStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	first := &countingGate{err: boom}
	second := &countingGate{}

	err := Chain(first, second).Wait(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, second.calls)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		value  string
		want   time.Duration
		wantOK bool
	}{
		{name: "seconds", value: "30", want: 30 * time.Second, wantOK: true},
		{name: "zero", value: "0", want: 0, wantOK: true},
		{name: "http date", value: "Fri, 01 Mar 2024 12:00:45 GMT", want: 45 * time.Second, wantOK: true},
		{name: "past date", value: "Fri, 01 Mar 2024 11:00:00 GMT", want: 0, wantOK: true},
		{name: "empty", value: "", wantOK: false},
		{name: "negative", value: "-5", wantOK: false},
		{name: "garbage", value: "soon", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseRetryAfter(tt.value, now)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExceededError(t *testing.T) {
	err := &ExceededError{Key: "fec", RetryAfter: 2 * time.Second}
	assert.Equal(t, "rate limit exceeded for fec, retry in 2s", err.Error())
}
