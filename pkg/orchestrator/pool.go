package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/retry"
)

// taskResult is the outcome of one pool task
type taskResult struct {
	Done     bool
	Err      error
	Attempts int
}

// pool runs tasks in fixed-size batches on a bounded set of workers.
// Cancellation is only observed between batches; a started batch runs to
// completion, retries included, on a context detached from cancellation.
type pool struct {
	workers   int
	batchSize int
	retries   int
	backoff   retry.Policy
	logger    ectologger.Logger
}

func newPool(workers, batchSize, retries int, backoff retry.Policy, logger ectologger.Logger) *pool {
	if workers <= 0 {
		workers = 1
	}
	if batchSize <= 0 {
		batchSize = workers
	}
	if retries < 0 {
		retries = 0
	}
	return &pool{
		workers:   workers,
		batchSize: batchSize,
		retries:   retries,
		backoff:   backoff,
		logger:    logger,
	}
}

// withRetries returns a copy of the pool using a different batch retry count
func (p *pool) withRetries(retries int) *pool {
	cp := *p
	cp.retries = retries
	return &cp
}

// run executes task for every index in [0, n). Failed tasks of a batch for which
// retryable returns true are retried, with backoff, up to the pool's retry count.
// It reports whether cancellation stopped it before every task ran.
func (p *pool) run(ctx context.Context, n int, retryable func(error) bool, task func(ctx context.Context, i int) error) ([]taskResult, bool) {
	results := make([]taskResult, n)

	for start := 0; start < n; start += p.batchSize {
		if ctx.Err() != nil {
			p.logger.WithContext(ctx).WithFields(map[string]any{
				"completed": start,
				"remaining": n - start,
			}).Warn("Cancelled between batches")
			return results, true
		}

		end := start + p.batchSize
		if end > n {
			end = n
		}
		p.runBatch(context.WithoutCancel(ctx), start, end, results, retryable, task)
	}

	return results, false
}

func (p *pool) runBatch(ctx context.Context, start, end int, results []taskResult, retryable func(error) bool, task func(ctx context.Context, i int) error) {
	pending := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		pending = append(pending, i)
	}

	for attempt := 1; ; attempt++ {
		p.fanOut(ctx, pending, results, task)

		failed := pending[:0]
		for _, i := range pending {
			if results[i].Err != nil && retryable != nil && retryable(results[i].Err) {
				failed = append(failed, i)
			}
		}
		if len(failed) == 0 || attempt > p.retries {
			return
		}

		delay := p.backoff.Delay(attempt)
		p.logger.WithContext(ctx).WithFields(map[string]any{
			"attempt": attempt,
			"failed":  len(failed),
			"delay":   delay.String(),
		}).Warn("Retrying failed batch tasks")

		timer := time.NewTimer(delay)
		<-timer.C
		pending = failed
	}
}

// fanOut runs one attempt of every pending task on at most p.workers goroutines
func (p *pool) fanOut(ctx context.Context, pending []int, results []taskResult, task func(ctx context.Context, i int) error) {
	concurrency := p.workers
	if concurrency > len(pending) {
		concurrency = len(pending)
	}

	indexes := make(chan int, len(pending))
	for _, i := range pending {
		indexes <- i
	}
	close(indexes)

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				err := task(ctx, i)
				// each index is owned by exactly one worker
				results[i].Done = err == nil
				results[i].Err = err
				results[i].Attempts++
			}
		}()
	}
	wg.Wait()
}
