// Package decision applies the automatic opt-out policy to freshly
// computed strategy statistics.
package decision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/newthinker/stratsync/internal/core"
	"github.com/newthinker/stratsync/internal/metrics"
	"github.com/newthinker/stratsync/internal/store"
	"go.uber.org/zap"
)

// Config holds the opt-out policy.
type Config struct {
	Enabled         bool
	MinTrades       int
	MaxProfitFactor float64
	// Cooldown is the minimum time between the end of one evaluation and
	// the start of the next.
	Cooldown   time.Duration
	EntityType string
}

// DefaultConfig returns the standard policy, disabled.
func DefaultConfig() Config {
	return Config{
		Enabled:         false,
		MinTrades:       20,
		MaxProfitFactor: 1.0,
		Cooldown:        30 * time.Second,
		EntityType:      store.EntityStrategy,
	}
}

// SkipReason explains why an evaluation did not run.
type SkipReason string

const (
	SkipCooldown SkipReason = "cooldown"
	SkipDisabled SkipReason = "disabled"
	SkipBusy     SkipReason = "busy"
)

// Outcome of one evaluation.
type Outcome struct {
	Skipped  SkipReason `json:"skipped,omitempty"`
	Selected []string   `json:"selected,omitempty"`
	OptedOut []string   `json:"opted_out,omitempty"`
	Failed   []string   `json:"failed,omitempty"`
	// Reason is the opt_out_reason written to the selected strategies.
	Reason string `json:"reason,omitempty"`
}

// Engine evaluates the policy and issues bulk opt-outs.
type Engine struct {
	cfg     Config
	store   store.BulkUpdater
	logger  *zap.Logger
	metrics *metrics.Registry
	now     func() time.Time

	mu            sync.Mutex
	running       bool
	lastCompleted time.Time
	optedOut      map[string]struct{}
}

// New creates an engine. logger and reg may be nil.
func New(cfg Config, bu store.BulkUpdater, logger *zap.Logger, reg *metrics.Registry) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EntityType == "" {
		cfg.EntityType = store.EntityStrategy
	}
	return &Engine{
		cfg:      cfg,
		store:    bu,
		logger:   logger.Named("decision"),
		metrics:  reg,
		now:      time.Now,
		optedOut: make(map[string]struct{}),
	}
}

// LastCompleted returns when the last evaluation finished.
func (e *Engine) LastCompleted() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastCompleted
}

// Evaluate opts out every strategy that fails the policy. stats must be
// the freshly computed values keyed by strategy id. Bulk failures are
// returned and not retried.
func (e *Engine) Evaluate(ctx context.Context, strategies []core.Strategy, stats map[string]core.DerivedStats) (Outcome, error) {
	e.mu.Lock()
	if !e.lastCompleted.IsZero() && e.now().Sub(e.lastCompleted) < e.cfg.Cooldown {
		e.mu.Unlock()
		return Outcome{Skipped: SkipCooldown}, nil
	}
	if !e.cfg.Enabled {
		e.mu.Unlock()
		return Outcome{Skipped: SkipDisabled}, nil
	}
	if e.running {
		e.mu.Unlock()
		return Outcome{Skipped: SkipBusy}, nil
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.lastCompleted = e.now()
		e.mu.Unlock()
	}()

	ids := e.selectCandidates(strategies, stats)
	out := Outcome{Selected: ids}
	if len(ids) == 0 {
		e.logger.Debug("no strategies to opt out", zap.Int("count", len(strategies)))
		return out, nil
	}

	reason := fmt.Sprintf("profit factor below %.2f after %d or more live trades", e.cfg.MaxProfitFactor, e.cfg.MinTrades)
	out.Reason = reason
	res, err := e.store.BulkUpdate(ctx, e.cfg.EntityType, ids, store.OptOutPatch(reason, e.now()))
	if err != nil {
		out.Failed = ids
		e.metrics.RecordOptOuts("failed", len(ids))
		e.logger.Error("bulk opt-out failed", zap.Strings("strategy_ids", ids), zap.Error(err))
		return out, core.WrapError(core.ErrOptOutFailed, err)
	}

	e.mu.Lock()
	for _, id := range res.Succeeded {
		e.optedOut[id] = struct{}{}
	}
	e.mu.Unlock()

	out.OptedOut = res.Succeeded
	out.Failed = res.Failed
	e.metrics.RecordOptOuts("succeeded", len(res.Succeeded))
	e.metrics.RecordOptOuts("failed", len(res.Failed))
	e.logger.Info("strategies opted out",
		zap.Strings("strategy_ids", res.Succeeded),
		zap.Int("failed", len(res.Failed)),
	)

	if len(res.Failed) > 0 {
		return out, core.WrapError(core.ErrOptOutPartial,
			fmt.Errorf("%d of %d strategies not updated: %v", len(res.Failed), len(ids), res.Failed))
	}
	return out, nil
}

func (e *Engine) selectCandidates(strategies []core.Strategy, stats map[string]core.DerivedStats) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ids []string
	for _, s := range strategies {
		if s.OptedOut {
			continue
		}
		if _, done := e.optedOut[s.ID]; done {
			continue
		}
		st, ok := stats[s.ID]
		if !ok {
			continue
		}
		if Eligible(st, e.cfg.MinTrades, e.cfg.MaxProfitFactor) {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// Eligible reports whether stats fail the policy thresholds.
func Eligible(st core.DerivedStats, minTrades int, maxProfitFactor float64) bool {
	return st.TradeCount >= minTrades && st.ProfitFactor < maxProfitFactor
}
