package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/retry"
)

var errFlaky = errors.New("flaky")

func testPool(workers, batchSize, retries int) *pool {
	return newPool(workers, batchSize, retries, retry.Policy{
		Backoff:      retry.BackoffConstant,
		InitialDelay: time.Millisecond,
	}, testLogger())
}

func TestPool_RunsEveryTaskWithBoundedWorkers(t *testing.T) {
	var active, peak int32
	results, cancelled := testPool(3, 5, 0).run(context.Background(), 12, nil, func(_ context.Context, _ int) error {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&active, -1)
		return nil
	})

	assert.False(t, cancelled)
	assert.Len(t, results, 12)
	for i, r := range results {
		assert.True(t, r.Done, i)
		assert.Equal(t, 1, r.Attempts, i)
	}
	assert.LessOrEqual(t, peak, int32(3))
}

func TestPool_RetriesOnlyRetryableFailures(t *testing.T) {
	var mu sync.Mutex
	calls := make(map[int]int)
	permanent := errors.New("permanent")

	results, _ := testPool(2, 4, 2).run(context.Background(), 4, func(err error) bool {
		return !errors.Is(err, permanent)
	}, func(_ context.Context, i int) error {
		mu.Lock()
		calls[i]++
		n := calls[i]
		mu.Unlock()

		switch i {
		case 1:
			if n < 2 {
				return errFlaky
			}
		case 2:
			return errFlaky
		case 3:
			return permanent
		}
		return nil
	})

	assert.Equal(t, taskResult{Done: true, Attempts: 1}, results[0])
	assert.Equal(t, taskResult{Done: true, Attempts: 2}, results[1])
	assert.Equal(t, taskResult{Err: errFlaky, Attempts: 3}, results[2])
	assert.Equal(t, taskResult{Err: permanent, Attempts: 1}, results[3])
}

func TestPool_CancellationBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ran int32
	results, cancelled := testPool(2, 2, 0).run(ctx, 6, nil, func(ctx context.Context, i int) error {
		atomic.AddInt32(&ran, 1)
		if i == 0 {
			cancel()
		}
		// the batch in flight is detached from cancellation
		return ctx.Err()
	})

	assert.True(t, cancelled)
	assert.Equal(t, int32(2), ran)
	assert.True(t, results[0].Done)
	assert.True(t, results[1].Done)
	for _, r := range results[2:] {
		assert.Zero(t, r.Attempts)
	}
}
