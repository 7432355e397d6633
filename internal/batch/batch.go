package batch

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/avriley/syncopate/internal/shared"
	"golang.org/x/time/rate"
)

// Default executor parameters, used when Options leaves a field zero.
const (
	DefaultBatchSize     = 50
	DefaultConcurrency   = 5
	DefaultRetryCount    = 3
	DefaultRetryBase     = 500 * time.Millisecond
	DefaultRetryMax      = 8 * time.Second
	DefaultTimeout       = 30 * time.Second
	DefaultProgressEvery = 10
)

// Options configures one executor run.
type Options struct {
	BatchSize    int           // items per sequential batch
	Concurrency  int           // parallel mappers within a batch
	RetryCount   int           // total attempts per item
	RetryBase    time.Duration // initial backoff delay
	RetryMax     time.Duration // backoff cap
	RequestDelay time.Duration // minimum spacing between attempts across items
	Timeout      time.Duration // per-attempt timeout

	ProgressEvery int              // one progress event per N completed items
	Sink          ProgressSink     // nil means no events
	Retryable     func(error) bool // nil means DefaultRetryable
}

// DefaultRetryable retries everything except errors marked permanent.
// Timeouts stay retryable; caller cancellation is handled by the executor
// itself, which stops retrying once the parent context is done.
func DefaultRetryable(err error) bool {
	return err != nil && !errors.Is(err, shared.ErrPermanent)
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.RetryCount <= 0 {
		o.RetryCount = DefaultRetryCount
	}
	if o.RetryBase <= 0 {
		o.RetryBase = DefaultRetryBase
	}
	if o.RetryMax <= 0 {
		o.RetryMax = DefaultRetryMax
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.ProgressEvery <= 0 {
		o.ProgressEvery = DefaultProgressEvery
	}
	if o.Sink == nil {
		o.Sink = NoopSink{}
	}
	if o.Retryable == nil {
		o.Retryable = DefaultRetryable
	}
	return o
}

// Result carries one item's outcome. Err is set for items whose retry budget
// ran out; the executor never panics past the mapper.
type Result[R any] struct {
	Index    int
	Value    R
	Err      error
	Attempts int
}

// Output is the ordered result of a run: Results[i] corresponds to items[i]
// for every i, regardless of execution order.
type Output[R any] struct {
	Results   []Result[R]
	Cancelled bool
	Succeeded int
	Failed    int
}

// Run maps fn over items with bounded concurrency, retry with full-jitter
// backoff, and rate-limit pacing. Batches run sequentially; a cancelled
// context lets in-flight items finish but starts no new batch, and remaining
// slots carry the context error.
func Run[T, R any](ctx context.Context, items []T, fn func(context.Context, T) (R, error), opts Options) Output[R] {
	out := Output[R]{Results: make([]Result[R], len(items))}
	if len(items) == 0 {
		return out
	}
	opts = opts.withDefaults()

	var limiter *rate.Limiter
	if opts.RequestDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.RequestDelay), 1)
	}

	batches := (len(items) + opts.BatchSize - 1) / opts.BatchSize
	completed := 0

	for b := 0; b < batches; b++ {
		if ctx.Err() != nil {
			out.Cancelled = true
			for i := b * opts.BatchSize; i < len(items); i++ {
				out.Results[i] = Result[R]{Index: i, Err: ctx.Err()}
			}
			break
		}

		start := b * opts.BatchSize
		end := start + opts.BatchSize
		if end > len(items) {
			end = len(items)
		}

		opts.Sink.Publish(Event{
			Type: BatchStarted, Batch: b + 1, Batches: batches,
			Completed: completed, Total: len(items),
		})

		sem := make(chan struct{}, opts.Concurrency)
		done := make(chan int, end-start)

		for i := start; i < end; i++ {
			go func(i int) {
				sem <- struct{}{}
				defer func() { <-sem }()
				out.Results[i] = runItem(ctx, items[i], fn, limiter, opts)
				out.Results[i].Index = i
				done <- i
			}(i)
		}

		for n := 0; n < end-start; n++ {
			<-done
			completed++
			if completed%opts.ProgressEvery == 0 {
				opts.Sink.Publish(Event{
					Type: BatchProgress, Batch: b + 1, Batches: batches,
					Completed: completed, Total: len(items),
				})
			}
		}

		opts.Sink.Publish(Event{
			Type: BatchCompleted, Batch: b + 1, Batches: batches,
			Completed: completed, Total: len(items),
		})
	}

	for _, r := range out.Results {
		if r.Err != nil {
			out.Failed++
		} else {
			out.Succeeded++
		}
	}
	return out
}

// runItem executes one item within its retry budget. Each attempt gets its
// own timeout; between attempts the executor sleeps a full-jitter backoff.
func runItem[T, R any](ctx context.Context, item T, fn func(context.Context, T) (R, error), limiter *rate.Limiter, opts Options) Result[R] {
	var res Result[R]

	for attempt := 1; attempt <= opts.RetryCount; attempt++ {
		res.Attempts = attempt

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				res.Err = err
				return res
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		value, err := fn(attemptCtx, item)
		cancel()

		if err == nil {
			res.Value = value
			res.Err = nil
			return res
		}
		res.Err = err

		if attempt == opts.RetryCount || !opts.Retryable(err) || ctx.Err() != nil {
			return res
		}

		if err := sleepJitter(ctx, backoff(opts.RetryBase, opts.RetryMax, attempt)); err != nil {
			res.Err = err
			return res
		}
	}
	return res
}

// backoff computes the capped exponential delay for an attempt (1-based).
func backoff(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// sleepJitter sleeps a uniformly random duration in [0, cap), full jitter.
func sleepJitter(ctx context.Context, cap time.Duration) error {
	if cap <= 0 {
		return nil
	}
	delay := time.Duration(rand.Int63n(int64(cap)))
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
