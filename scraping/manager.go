/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package scraping

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/acronis/go-ratekit/distlock"
	"github.com/acronis/go-ratekit/log"
	"github.com/acronis/go-ratekit/retry"
)

// ErrInProgress is returned when a run for the source holds the lock in this or another process.
var ErrInProgress = errors.New("scraping is already in progress")

// ErrClosed is returned when a run is requested after the Manager is closed.
var ErrClosed = errors.New("scraping manager is closed")

// AllSources is the source id of a run that covers all active sources.
const AllSources = "all"

const lockNamePrefix = "scraping_task:"

// LockName returns the name of the distributed lock that guards runs for the source.
func LockName(sourceID string) string {
	return lockNamePrefix + normalizeSourceID(sourceID)
}

func normalizeSourceID(sourceID string) string {
	if sourceID == "" {
		return AllSources
	}
	return sourceID
}

// Runner runs the scraper for the source. sourceID is AllSources when all sources should be scraped.
type Runner interface {
	Run(ctx context.Context, sourceID string) error
}

// RunnerFunc is an adapter to allow the use of ordinary functions as Runner.
type RunnerFunc func(ctx context.Context, sourceID string) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, sourceID string) error {
	return f(ctx, sourceID)
}

// Task describes a started run.
type Task struct {
	ID        string    `json:"task_id"`
	SourceID  string    `json:"source_id"`
	StartedAt time.Time `json:"started_at"`
}

// Status describes the lock state of the source.
type Status struct {
	SourceID string `json:"source_id"`
	Lock     string `json:"lock"`
	Running  bool   `json:"running"`
}

// ManagerOpts represents options for the Manager.
type ManagerOpts struct {
	// LockExpire is a TTL of the run lock. distlock.DefaultExpire is used if zero.
	LockExpire time.Duration

	// LockWaitTimeout is how long a run waits for the lock held by another run.
	// distlock.DefaultWaitTimeout is used if zero.
	LockWaitTimeout time.Duration

	// RunTimeout bounds a run including retries. DefaultRunTimeout is used if zero.
	RunTimeout time.Duration

	// RetryPolicy is used to retry failed runs. Runs are not retried if nil.
	RetryPolicy retry.Policy

	MetricsCollector MetricsCollector

	Now func() time.Time
}

// Manager starts scraping runs. Each run holds the source lock until the runner returns.
type Manager struct {
	locker          *distlock.Locker
	runner          Runner
	logger          log.FieldLogger
	metrics         MetricsCollector
	lockExpire      time.Duration
	lockWaitTimeout time.Duration
	runTimeout      time.Duration
	retryPolicy     retry.Policy
	now             func() time.Time

	mu         sync.Mutex
	closed     bool
	runsCtx    context.Context
	cancelRuns context.CancelFunc
	runs       sync.WaitGroup
}

// NewManager creates a new Manager with default options.
func NewManager(locker *distlock.Locker, runner Runner, logger log.FieldLogger) *Manager {
	return NewManagerWithOpts(locker, runner, logger, ManagerOpts{})
}

// NewManagerWithOpts creates a new Manager with the provided options.
func NewManagerWithOpts(locker *distlock.Locker, runner Runner, logger log.FieldLogger, opts ManagerOpts) *Manager {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	if opts.LockExpire <= 0 {
		opts.LockExpire = distlock.DefaultExpire
	}
	if opts.LockWaitTimeout <= 0 {
		opts.LockWaitTimeout = distlock.DefaultWaitTimeout
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	if opts.MetricsCollector == nil {
		opts.MetricsCollector = disabledMetrics{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LockExpire < opts.RunTimeout {
		logger.Warn("scraping lock may expire before the run is finished",
			log.Duration("lock_expire", opts.LockExpire), log.Duration("run_timeout", opts.RunTimeout))
	}
	runsCtx, cancelRuns := context.WithCancel(context.Background())
	return &Manager{
		locker:          locker,
		runner:          runner,
		logger:          logger,
		metrics:         opts.MetricsCollector,
		lockExpire:      opts.LockExpire,
		lockWaitTimeout: opts.LockWaitTimeout,
		runTimeout:      opts.RunTimeout,
		retryPolicy:     opts.RetryPolicy,
		now:             opts.Now,
		runsCtx:         runsCtx,
		cancelRuns:      cancelRuns,
	}
}

// Trigger acquires the source lock and starts the run in background.
// If force is true, the lock is deleted first regardless of its holder, so a stuck run can't block new ones.
// ErrInProgress is returned if the lock can't be acquired within the wait timeout.
func (m *Manager) Trigger(ctx context.Context, sourceID string, force bool) (Task, error) {
	task := m.newTask(sourceID)
	logger := m.logger.With(log.String("source_id", task.SourceID))

	if force && m.locker.ForceRelease(ctx, LockName(task.SourceID)) {
		logger.Warn("scraping lock is force released")
	}

	lock, err := m.acquire(ctx, task.SourceID)
	if err != nil {
		return Task{}, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		lock.Release(context.WithoutCancel(ctx))
		return Task{}, ErrClosed
	}
	m.runs.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.runs.Done()
		_ = m.execute(m.runsCtx, lock, task)
	}()

	logger.Info("scraping run is queued", log.String("task_id", task.ID))
	return task, nil
}

// Run acquires the source lock and runs the scraper in the calling goroutine.
// ErrInProgress is returned if the lock can't be acquired within the wait timeout.
func (m *Manager) Run(ctx context.Context, sourceID string) error {
	task := m.newTask(sourceID)
	lock, err := m.acquire(ctx, task.SourceID)
	if err != nil {
		return err
	}
	return m.execute(ctx, lock, task)
}

// Status reports whether a run for the source is in progress in any process.
func (m *Manager) Status(ctx context.Context, sourceID string) Status {
	sourceID = normalizeSourceID(sourceID)
	lockName := LockName(sourceID)
	return Status{SourceID: sourceID, Lock: lockName, Running: m.locker.IsLocked(ctx, lockName)}
}

// Wait blocks until all runs started by Trigger are finished.
func (m *Manager) Wait() {
	m.runs.Wait()
}

// Close cancels runs started by Trigger and waits until they release their locks.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancelRuns()
	m.runs.Wait()
	return nil
}

func (m *Manager) newTask(sourceID string) Task {
	return Task{ID: xid.New().String(), SourceID: normalizeSourceID(sourceID), StartedAt: m.now()}
}

func (m *Manager) acquire(ctx context.Context, sourceID string) (*distlock.Lock, error) {
	lock, err := m.locker.Acquire(ctx, LockName(sourceID), m.lockExpire, m.lockWaitTimeout)
	if err != nil {
		if errors.Is(err, distlock.ErrNotAcquired) {
			m.metrics.IncRuns(sourceID, RunResultSkipped)
			return nil, ErrInProgress
		}
		return nil, fmt.Errorf("acquire scraping lock: %w", err)
	}
	return lock, nil
}

func (m *Manager) execute(ctx context.Context, lock *distlock.Lock, task Task) error {
	defer lock.Release(context.WithoutCancel(ctx))

	logger := m.logger.With(log.String("task_id", task.ID), log.String("source_id", task.SourceID))
	m.metrics.SetRunning(task.SourceID, true)
	defer m.metrics.SetRunning(task.SourceID, false)

	runCtx, runCancel := context.WithTimeout(ctx, m.runTimeout)
	defer runCancel()

	logger.Info("scraping run started")
	err := m.runWithRetry(runCtx, task.SourceID, logger)
	elapsed := m.now().Sub(task.StartedAt)
	m.metrics.ObserveRunDuration(task.SourceID, elapsed)

	switch {
	case err == nil:
		m.metrics.IncRuns(task.SourceID, RunResultSuccess)
		logger.Info("scraping run finished", log.DurationIn(elapsed, time.Millisecond))
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		m.metrics.IncRuns(task.SourceID, RunResultCanceled)
		logger.Warn("scraping run canceled", log.Error(err), log.DurationIn(elapsed, time.Millisecond))
	default:
		m.metrics.IncRuns(task.SourceID, RunResultFailure)
		logger.Error("scraping run failed", log.Error(err), log.DurationIn(elapsed, time.Millisecond))
	}
	return err
}

func (m *Manager) runWithRetry(ctx context.Context, sourceID string, logger log.FieldLogger) error {
	if m.retryPolicy == nil {
		return m.runner.Run(ctx, sourceID)
	}
	return retry.DoWithRetry(ctx, m.retryPolicy, isRetryableRunError,
		func(err error, delay time.Duration) {
			logger.Warn("scraping run failed, will retry", log.Error(err), log.Duration("retry_in", delay))
		},
		func(ctx context.Context) error {
			return m.runner.Run(ctx, sourceID)
		})
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps the error returned by Runner to prevent retries.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err}
}

func isRetryableRunError(err error) bool {
	var pErr *permanentError
	if errors.As(err, &pErr) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
