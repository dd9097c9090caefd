package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mifi/in-app-subscription-example/internal/metrics"
	"github.com/mifi/in-app-subscription-example/internal/models"
)

const (
	defaultReconcileInterval = 24 * time.Hour
	defaultItemTimeout       = time.Minute
	defaultSweepLockTTL      = time.Hour
)

// ReceiptProcessor is the part of PurchaseProcessor the sweep drives.
type ReceiptProcessor interface {
	Process(ctx context.Context, app models.AppType, userID string, receipt models.Receipt) error
}

// SweepLocker serializes sweeps across replicas. The holder renews the lock
// with Extend for as long as its sweep runs.
type SweepLocker interface {
	Acquire(ctx context.Context, ttl time.Duration) (string, bool, error)
	Extend(ctx context.Context, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, token string) error
}

type ReconciliationConfig struct {
	Interval    time.Duration
	ItemTimeout time.Duration
	LockTTL     time.Duration
}

// ReconciliationScheduler periodically re-validates every active subscription.
type ReconciliationScheduler struct {
	cfg       ReconciliationConfig
	store     SubscriptionStore
	processor ReceiptProcessor
	lock      SweepLocker
	logger    Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	running atomic.Bool

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewReconciliationScheduler builds a scheduler. lock may be nil for a single replica.
func NewReconciliationScheduler(cfg ReconciliationConfig, store SubscriptionStore, processor ReceiptProcessor, lock SweepLocker, logger Logger, m *metrics.Metrics) *ReconciliationScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultReconcileInterval
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = defaultItemTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultSweepLockTTL
	}
	return &ReconciliationScheduler{
		cfg:       cfg,
		store:     store,
		processor: processor,
		lock:      lock,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// Start runs a sweep right away and then once per interval until ctx is
// done or Stop is called. It returns immediately.
func (s *ReconciliationScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		// a sweep that has started runs to completion
		s.RunOnce(context.WithoutCancel(loopCtx))

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.RunOnce(context.WithoutCancel(loopCtx))
			}
		}
	}()
}

// Stop prevents new sweeps and waits for the one in flight, if any.
func (s *ReconciliationScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// RunOnce performs a single sweep. Overlapping calls and calls after Stop
// are no-ops. Item failures are logged and never abort the sweep; losing the
// sweep lock does.
func (s *ReconciliationScheduler) RunOnce(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if !s.running.CompareAndSwap(false, true) {
		s.infof("reconcile: previous sweep still running, skipping")
		s.metrics.RecordSweepRun("overlap")
		return
	}
	defer s.running.Store(false)

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()

	if s.lock != nil {
		token, ok, err := s.lock.Acquire(ctx, s.cfg.LockTTL)
		if err != nil {
			s.errorf("reconcile: acquire lock: %v", err)
			s.metrics.RecordSweepRun("lock_error")
			return
		}
		if !ok {
			s.infof("reconcile: another replica holds the sweep lock, skipping")
			s.metrics.RecordSweepRun("locked")
			return
		}
		defer func() {
			if err := s.lock.Release(ctx, token); err != nil {
				s.errorf("reconcile: release lock: %v", err)
			}
		}()
		stopRenew := s.renewLock(sweepCtx, token, cancelSweep)
		defer stopRenew()
	}

	started := s.now()
	items, err := s.store.ActiveSubscriptions(ctx, started.UTC())
	if err != nil {
		s.errorf("reconcile: list active subscriptions: %v", err)
		s.metrics.RecordSweepRun("error")
		return
	}

	failed := 0
	for i, item := range items {
		if sweepCtx.Err() != nil {
			s.errorf("reconcile: sweep lock lost, %d subscriptions left for the next sweep", len(items)-i)
			s.metrics.RecordSweepRun("lock_lost")
			return
		}
		if err := s.processItem(sweepCtx, item); err != nil {
			failed++
			s.errorf("reconcile: subscription %d (user %s, %s): %v", item.ID, item.UserID, item.App, err)
			s.metrics.RecordSweepItem(string(models.KindOf(err)))
			continue
		}
		s.metrics.RecordSweepItem("ok")
	}

	s.metrics.RecordSweepRun("ok")
	s.metrics.ObserveSweepDuration(s.now().Sub(started))
	s.infof("reconcile: processed %d subscriptions, %d failed", len(items), failed)
}

// renewLock extends the sweep lock every third of its TTL. When the lock turns
// out to be lost it calls lost and gives up. The returned func stops renewal.
func (s *ReconciliationScheduler) renewLock(ctx context.Context, token string, lost context.CancelFunc) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(s.cfg.LockTTL / 3)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := s.lock.Extend(ctx, token, s.cfg.LockTTL)
				if err != nil {
					s.errorf("reconcile: extend lock: %v", err)
					continue
				}
				if !ok {
					lost()
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (s *ReconciliationScheduler) processItem(ctx context.Context, item models.ActiveSubscription) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = models.NewProcessingError(models.KindInternal, "reconcile", item.App, fmt.Errorf("panic: %v", r))
		}
	}()

	receipt, err := models.ReceiptFromStored(item.App, item.LatestReceipt)
	if err != nil {
		return models.NewProcessingError(models.KindValidation, "stored receipt", item.App, err)
	}

	itemCtx, cancel := context.WithTimeout(ctx, s.cfg.ItemTimeout)
	defer cancel()
	return s.processor.Process(itemCtx, item.App, item.UserID, receipt)
}

func (s *ReconciliationScheduler) infof(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Infof(format, args...)
	}
}

func (s *ReconciliationScheduler) errorf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Errorf(format, args...)
	}
}
