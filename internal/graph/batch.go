package graph

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"golang.org/x/time/rate"
)

// BatchOptions are the tunables of one batched execution. They are
// recomputed per call from current heap pressure and input size, never
// reused verbatim.
type BatchOptions struct {
	BatchSize  int
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// ExecutorConfig holds the static tunables of a BatchExecutor.
type ExecutorConfig struct {
	BaseBatchSize   int           // default 100
	MinBatchSize    int           // default 10
	MaxBatchSize    int           // default 1000
	MemoryThreshold float64       // heap-used/heap-total ratio, default 0.80
	MaxRetries      int           // default 3
	RetryDelay      time.Duration // default 1s
	Timeout         time.Duration // per-chunk attempt timeout, 0 disables
	RateLimit       rate.Limit    // batches per second, 0 disables limiting
	RateBurst       int
}

func (c *ExecutorConfig) applyDefaults() {
	if c.BaseBatchSize <= 0 {
		c.BaseBatchSize = 100
	}
	if c.MinBatchSize <= 0 {
		c.MinBatchSize = 10
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 1000
	}
	if c.MemoryThreshold <= 0 || c.MemoryThreshold > 1 {
		c.MemoryThreshold = 0.80
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
}

// memSampler reports current heap usage. Injectable for tests.
type memSampler func() (used, total uint64)

func runtimeMemSampler() (uint64, uint64) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc, m.HeapSys
}

// BatchExecutor splits item lists into adaptively sized chunks and runs
// each chunk with bounded, strictly sequential retries.
type BatchExecutor struct {
	cfg     ExecutorConfig
	limiter *rate.Limiter
	mem     memSampler
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger
}

// NewBatchExecutor creates an executor with the given tunables.
func NewBatchExecutor(cfg ExecutorConfig, logger *slog.Logger) *BatchExecutor {
	cfg.applyDefaults()
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	return &BatchExecutor{
		cfg:     cfg,
		limiter: limiter,
		mem:     runtimeMemSampler,
		sleep:   sleepContext,
		logger:  logger,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BatchSize computes the chunk size for n items from current heap pressure.
// Under memory pressure the base size is halved (floored at the minimum);
// otherwise small inputs run in one chunk and large inputs grow
// logarithmically, clamped to [base, max]. The result never exceeds n.
func (e *BatchExecutor) BatchSize(n int) int {
	if n <= 0 {
		return 0
	}

	used, total := e.mem()
	if total > 0 && float64(used)/float64(total) >= e.cfg.MemoryThreshold {
		size := e.cfg.BaseBatchSize / 2
		if size < e.cfg.MinBatchSize {
			size = e.cfg.MinBatchSize
		}
		if size > n {
			size = n
		}
		return size
	}

	if n <= e.cfg.BaseBatchSize {
		return n
	}

	size := int(float64(e.cfg.BaseBatchSize) * math.Log10(float64(n)))
	if size < e.cfg.BaseBatchSize {
		size = e.cfg.BaseBatchSize
	}
	if size > e.cfg.MaxBatchSize {
		size = e.cfg.MaxBatchSize
	}
	if size > n {
		size = n
	}
	return size
}

// Options materializes the per-call batch options for n items.
func (e *BatchExecutor) Options(n int) BatchOptions {
	return BatchOptions{
		BatchSize:  e.BatchSize(n),
		Timeout:    e.cfg.Timeout,
		MaxRetries: e.cfg.MaxRetries,
		RetryDelay: e.cfg.RetryDelay,
	}
}

// Execute runs op over [start, end) index ranges covering total items,
// chunked by the adaptive batch size. Each chunk is retried independently;
// the first chunk to exhaust its retries aborts the remaining chunks.
func (e *BatchExecutor) Execute(ctx context.Context, total int, op func(ctx context.Context, start, end int) error) error {
	if total <= 0 {
		return nil
	}

	opts := e.Options(total)
	for start := 0; start < total; start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > total {
			end = total
		}

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit wait: %w", err)
			}
		}

		if err := e.retry(ctx, opts, func(ctx context.Context) error {
			return op(ctx, start, end)
		}); err != nil {
			return fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// retryState is the explicit state of the retry loop.
type retryState int

const (
	stateAttempt retryState = iota
	stateRetryWait
	stateExhausted
)

// retry drives one chunk through the attempt state machine:
// Attempt(n) -> success | RetryWait(delay) -> Attempt(n+1) | Exhausted.
// Attempts are strictly sequential; the last error is returned on
// exhaustion. The retry decision here is blind — classification-aware
// handling belongs to the recovery coordinator consulted by callers.
func (e *BatchExecutor) retry(ctx context.Context, opts BatchOptions, op func(ctx context.Context) error) error {
	var lastErr error
	attempt := 0
	state := stateAttempt

	for {
		switch state {
		case stateAttempt:
			attempt++
			lastErr = e.attempt(ctx, opts, op)
			if lastErr == nil {
				return nil
			}
			if attempt > opts.MaxRetries {
				state = stateExhausted
				break
			}
			e.logger.Warn("batch attempt failed, retrying",
				"attempt", attempt, "maxRetries", opts.MaxRetries, "error", lastErr)
			state = stateRetryWait

		case stateRetryWait:
			if err := e.sleep(ctx, opts.RetryDelay); err != nil {
				return err
			}
			state = stateAttempt

		case stateExhausted:
			return fmt.Errorf("exhausted %d attempts: %w", attempt, lastErr)
		}
	}
}

// attempt runs op once, raced against the per-chunk timeout when one is
// configured. The losing op keeps running with a cancelled context; the
// timeout bounds observed latency, not consumed resources.
func (e *BatchExecutor) attempt(ctx context.Context, opts BatchOptions, op func(ctx context.Context) error) error {
	if opts.Timeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(attemptCtx)
	}()
	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		return fmt.Errorf("chunk attempt: %w", attemptCtx.Err())
	}
}

// PollUntil probes an external condition up to MaxRetries times, separated
// by the retry delay, and fails with an explicit timeout when the
// condition is never satisfied. Probe errors are retried like unmet
// conditions; the last one is attached to the timeout error.
func (e *BatchExecutor) PollUntil(ctx context.Context, what string, probe func(ctx context.Context) (bool, error)) error {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		ok, err := probe(ctx)
		if err == nil && ok {
			return nil
		}
		lastErr = err
		if attempt < e.cfg.MaxRetries {
			if serr := e.sleep(ctx, e.cfg.RetryDelay); serr != nil {
				return serr
			}
		}
	}
	if lastErr != nil {
		return fmt.Errorf("timed out waiting for %s after %d attempts: %w", what, e.cfg.MaxRetries, lastErr)
	}
	return fmt.Errorf("timed out waiting for %s after %d attempts", what, e.cfg.MaxRetries)
}
