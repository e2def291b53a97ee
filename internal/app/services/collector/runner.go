package collector

import (
	"context"
	"math/rand"
	"sync"
	"time"

	appmetrics "github.com/peertrack/peertrack/internal/app/metrics"
	"github.com/peertrack/peertrack/internal/app/system"
	"github.com/peertrack/peertrack/pkg/logger"
)

var _ system.Service = (*TaskRunner)(nil)

// RetryPolicy bounds how a failed collection task is re-attempted. Only
// transient venue errors are retried; validation and persistence failures
// end the task immediately.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Factor         float64
	Jitter         float64
}

// DefaultRetryPolicy retries twice after the initial attempt with doubling
// backoff from 2s, capped at 30s, with ±20% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
		Factor:         2.0,
		Jitter:         0.2,
	}
}

// backoff returns the delay before the given attempt (attempt 2 waits the
// initial backoff).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := float64(p.InitialBackoff)
	for i := 2; i < attempt; i++ {
		delay *= p.Factor
	}
	if max := float64(p.MaxBackoff); p.MaxBackoff > 0 && delay > max {
		delay = max
	}
	if p.Jitter > 0 {
		delay += delay * p.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(delay)
}

// TaskRunner executes collection tasks on a bounded worker pool. Dispatch is
// fire-and-forget: the scheduler hands over a pair and moves on, while the
// runner tracks completion, retries transient failures, and records outcomes
// for the health monitor.
type TaskRunner struct {
	collector *Service
	policy    RetryPolicy
	window    *outcomeWindow
	log       *logger.Logger

	sem chan struct{}

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewTaskRunner creates a runner with the given pool size and retry policy.
func NewTaskRunner(collector *Service, workers int, policy RetryPolicy, windowSize int, log *logger.Logger) *TaskRunner {
	if workers <= 0 {
		workers = 4
	}
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	if windowSize <= 0 {
		windowSize = 20
	}
	if log == nil {
		log = logger.NewDefault("task-runner")
	}
	return &TaskRunner{
		collector: collector,
		policy:    policy,
		window:    newOutcomeWindow(windowSize),
		log:       log,
		sem:       make(chan struct{}, workers),
	}
}

func (r *TaskRunner) Name() string { return "collection-task-runner" }

// Start makes the runner accept dispatches.
func (r *TaskRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.running = true
	r.log.Info("task runner started")
	return nil
}

// Stop cancels in-flight tasks and waits for them to finish.
func (r *TaskRunner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.log.Info("task runner stopped")
	return nil
}

// Dispatch queues one collection task for a pair. Returns false when the
// runner is not running.
func (r *TaskRunner) Dispatch(pairID string, forceRefresh bool) bool {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return false
	}
	ctx := r.ctx
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		select {
		case r.sem <- struct{}{}:
			defer func() { <-r.sem }()
		case <-ctx.Done():
			return
		}
		r.run(ctx, pairID, forceRefresh)
	}()
	return true
}

func (r *TaskRunner) run(ctx context.Context, pairID string, forceRefresh bool) {
	start := time.Now()
	log := r.log.WithField("pair_id", pairID)

	var err error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		err = r.collector.CollectPair(ctx, pairID, forceRefresh, attempt)
		if err == nil || !IsRetryable(err) {
			break
		}
		if attempt == r.policy.MaxAttempts {
			break
		}
		delay := r.policy.backoff(attempt + 1)
		log.WithError(err).
			WithField("attempt", attempt).
			WithField("backoff", delay.String()).
			Warn("transient collection failure, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			appmetrics.ObserveTask("cancelled", time.Since(start))
			return
		}
	}

	if err != nil {
		// Exhausted or non-retryable: the pair stays due and is picked up
		// on a later tick.
		r.window.record(false)
		appmetrics.ObserveTask("failed", time.Since(start))
		log.WithError(err).Error("collection task failed")
		return
	}
	r.window.record(true)
	appmetrics.ObserveTask("ok", time.Since(start))
}

// ErrorRate reports the failure fraction over the recent task window. Feeds
// the health monitor.
func (r *TaskRunner) ErrorRate() float64 {
	return r.window.errorRate()
}

// outcomeWindow is a fixed-size ring of task outcomes.
type outcomeWindow struct {
	mu     sync.Mutex
	buf    []bool
	next   int
	filled int
}

func newOutcomeWindow(size int) *outcomeWindow {
	return &outcomeWindow{buf: make([]bool, size)}
}

func (w *outcomeWindow) record(ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf[w.next] = ok
	w.next = (w.next + 1) % len(w.buf)
	if w.filled < len(w.buf) {
		w.filled++
	}
}

func (w *outcomeWindow) errorRate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.filled == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < w.filled; i++ {
		if !w.buf[i] {
			failures++
		}
	}
	return float64(failures) / float64(w.filled)
}
