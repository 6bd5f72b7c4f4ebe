// Package reconcile persists changed strategy statistics to the entity
// store under its write-rate limits.
//
// Submissions land in a pending map keyed by strategy id, a newer
// submission replacing an older one. A single cancellable timer starts a
// flush, which drains a snapshot of the map in small paced batches. Only
// one flush runs at a time.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/newthinker/stratsync/internal/core"
	"github.com/newthinker/stratsync/internal/metrics"
	"github.com/newthinker/stratsync/internal/store"
	"go.uber.org/zap"
)

// Config holds the pacing parameters of the scheduler.
type Config struct {
	// Debounce is the minimum wait between a submission and the flush
	// that picks it up.
	Debounce time.Duration
	// MinInterval is the minimum time between two flush starts.
	MinInterval time.Duration
	// RetryCooldown replaces MinInterval after a flush that requeued items.
	RetryCooldown time.Duration
	BatchSize     int
	ItemDelay     time.Duration
	BatchDelay    time.Duration
	WriteTimeout  time.Duration
	EntityType    string
}

// DefaultConfig returns the production pacing.
func DefaultConfig() Config {
	return Config{
		Debounce:      2 * time.Second,
		MinInterval:   10 * time.Second,
		RetryCooldown: 15 * time.Second,
		BatchSize:     3,
		ItemDelay:     500 * time.Millisecond,
		BatchDelay:    2 * time.Second,
		WriteTimeout:  15 * time.Second,
		EntityType:    store.EntityStrategy,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.EntityType == "" {
		c.EntityType = d.EntityType
	}
	return c
}

// State of the scheduler as a whole.
type State string

const (
	StateIdle     State = "idle"
	StateFlushing State = "flushing"
	StateCooldown State = "cooldown"
	StateClosed   State = "closed"
)

type item struct {
	id    string
	stats core.DerivedStats
}

// Scheduler owns the pending-update map and the last-persisted cache.
type Scheduler struct {
	cfg     Config
	writer  store.Writer
	logger  *zap.Logger
	metrics *metrics.Registry

	mu             sync.Mutex
	pending        map[string]core.DerivedStats
	order          []string
	persisted      map[string]core.DerivedStats
	timer          *time.Timer
	flushing       bool
	cooldown       bool
	closed         bool
	lastFlushStart time.Time
	changed        chan struct{}

	stop   context.Context
	cancel context.CancelFunc
}

// New creates a scheduler writing through w. logger and reg may be nil.
func New(cfg Config, w store.Writer, logger *zap.Logger, reg *metrics.Registry) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	stop, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:       cfg.withDefaults(),
		writer:    w,
		logger:    logger.Named("reconcile"),
		metrics:   reg,
		pending:   make(map[string]core.DerivedStats),
		persisted: make(map[string]core.DerivedStats),
		changed:   make(chan struct{}),
		stop:      stop,
		cancel:    cancel,
	}
}

// SubmitDirty queues stats as the value to persist for a strategy,
// replacing any value still pending for it.
func (s *Scheduler) SubmitDirty(strategyID string, stats core.DerivedStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.ErrSchedulerClosed
	}
	s.putLocked(strategyID, stats)
	s.metrics.SetPending(len(s.pending))
	s.armLocked()
	return nil
}

// Seed records the value the store is known to hold for a strategy,
// unless the scheduler already has one.
func (s *Scheduler) Seed(strategyID string, stats core.DerivedStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.persisted[strategyID]; !ok {
		s.persisted[strategyID] = stats
	}
}

// Persisted returns the last value written for a strategy.
func (s *Scheduler) Persisted(strategyID string) (core.DerivedStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.persisted[strategyID]
	return v, ok
}

// PendingValue returns the value queued for a strategy, if any.
func (s *Scheduler) PendingValue(strategyID string) (core.DerivedStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.pending[strategyID]
	return v, ok
}

// Pending returns the ids waiting to be flushed, in flush order.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// State reports what the scheduler is doing.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return StateClosed
	case s.flushing:
		return StateFlushing
	case s.cooldown && s.timer != nil:
		return StateCooldown
	default:
		return StateIdle
	}
}

// WaitIdle blocks until nothing is pending and no flush is running.
// Updates that keep failing transiently keep it waiting until ctx ends.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	for {
		s.mu.Lock()
		if !s.flushing && len(s.pending) == 0 {
			s.mu.Unlock()
			return nil
		}
		if s.closed && !s.flushing {
			s.mu.Unlock()
			return core.ErrSchedulerClosed
		}
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Shutdown stops scheduling. A running flush completes the write it is
// on and skips the rest; unflushed updates stay pending and are logged.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.cancel()
		s.notifyLocked()
	}
	s.mu.Unlock()

	for {
		s.mu.Lock()
		if !s.flushing {
			left := make([]string, len(s.order))
			copy(left, s.order)
			s.mu.Unlock()
			if len(left) > 0 {
				s.logger.Warn("shutdown with unflushed updates",
					zap.Int("pending", len(left)),
					zap.Strings("strategy_ids", left),
				)
			}
			return nil
		}
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// putLocked inserts or overwrites a pending entry. An overwrite keeps the
// entry's original position in the flush order.
func (s *Scheduler) putLocked(id string, stats core.DerivedStats) {
	if _, ok := s.pending[id]; !ok {
		s.order = append(s.order, id)
	}
	s.pending[id] = stats
}

// armLocked starts the flush timer if there is work and nothing is
// already scheduled or running.
func (s *Scheduler) armLocked() {
	if s.closed || s.flushing || s.timer != nil || len(s.pending) == 0 {
		return
	}
	delay := s.cfg.Debounce
	if !s.lastFlushStart.IsZero() {
		if wait := s.cfg.MinInterval - time.Since(s.lastFlushStart); wait > delay {
			delay = wait
		}
	}
	s.scheduleLocked(delay)
}

func (s *Scheduler) scheduleLocked(delay time.Duration) {
	s.timer = time.AfterFunc(delay, s.fire)
}

func (s *Scheduler) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	s.timer = nil
	if s.closed || s.flushing || len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	s.flushing = true
	s.cooldown = false
	s.lastFlushStart = time.Now()

	batch := make([]item, 0, len(s.order))
	for _, id := range s.order {
		batch = append(batch, item{id: id, stats: s.pending[id]})
	}
	s.pending = make(map[string]core.DerivedStats)
	s.order = nil
	s.notifyLocked()
	s.mu.Unlock()

	requeued := s.flush(batch)

	s.mu.Lock()
	s.flushing = false
	if !s.closed && len(s.pending) > 0 {
		if requeued > 0 {
			s.cooldown = true
			s.scheduleLocked(s.cfg.RetryCooldown)
		} else {
			s.armLocked()
		}
	}
	s.metrics.SetPending(len(s.pending))
	s.notifyLocked()
	s.mu.Unlock()
}

// flush writes the batch in order and returns how many items went back
// to the pending map.
func (s *Scheduler) flush(batch []item) int {
	flushID := uuid.NewString()
	log := s.logger.With(zap.String("flush_id", flushID))
	start := time.Now()
	log.Info("flush started", zap.Int("count", len(batch)))

	var persisted, requeued, lost int
	for i, it := range batch {
		if i > 0 {
			delay := s.cfg.ItemDelay
			if i%s.cfg.BatchSize == 0 {
				delay = s.cfg.BatchDelay
			}
			if !s.sleep(delay) {
				requeued += s.requeue(batch[i:])
				log.Info("flush interrupted by shutdown", zap.Int("remaining", len(batch)-i))
				break
			}
		}

		err := s.write(it)
		switch {
		case err == nil:
			persisted++
			s.mu.Lock()
			s.persisted[it.id] = it.stats
			s.mu.Unlock()
			s.metrics.RecordWrite(metrics.WritePersisted)
			log.Debug("strategy stats persisted", zap.String("strategy_id", it.id))

		case store.IsTransient(err):
			requeued += s.requeue([]item{it})
			s.metrics.RecordWrite(metrics.WriteRequeued)
			log.Warn("write deferred",
				zap.String("strategy_id", it.id),
				zap.Int("batch", i/s.cfg.BatchSize),
				zap.Stringer("kind", store.Classify(err)),
				zap.Error(err),
			)

		default:
			lost++
			s.metrics.RecordWrite(metrics.WriteLost)
			log.Error("update lost",
				zap.String("strategy_id", it.id),
				zap.Int("batch", i/s.cfg.BatchSize),
				zap.Stringer("kind", store.Classify(err)),
				zap.Error(err),
			)
		}
	}

	elapsed := time.Since(start)
	s.metrics.RecordFlush(elapsed.Seconds())
	log.Info("flush finished",
		zap.Int("persisted", persisted),
		zap.Int("requeued", requeued),
		zap.Int("lost", lost),
		zap.Duration("duration", elapsed),
	)
	return requeued
}

// write runs detached from shutdown so the item in flight completes.
func (s *Scheduler) write(it item) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	_, err := s.writer.Update(ctx, s.cfg.EntityType, it.id, store.Patch(it.stats.Patch()))
	return err
}

// requeue puts items back unless a newer value arrived meanwhile.
func (s *Scheduler) requeue(items []item) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		if _, newer := s.pending[it.id]; !newer {
			s.putLocked(it.id, it.stats)
		}
	}
	return len(items)
}

// sleep waits for d, returning false if the scheduler is shut down first.
func (s *Scheduler) sleep(d time.Duration) bool {
	if d <= 0 {
		return s.stop.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.stop.Done():
		return false
	}
}
