// Package pipeline runs one refresh cycle: fetch trades and strategies,
// deduplicate, aggregate, detect changes, queue writes and apply the
// opt-out policy.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/newthinker/stratsync/internal/change"
	"github.com/newthinker/stratsync/internal/core"
	"github.com/newthinker/stratsync/internal/decision"
	"github.com/newthinker/stratsync/internal/dedup"
	"github.com/newthinker/stratsync/internal/metrics"
	"github.com/newthinker/stratsync/internal/stats"
	"github.com/newthinker/stratsync/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config names the entities the pipeline reads.
type Config struct {
	TradeEntity    string
	StrategyEntity string
	// TradeLimit caps the number of most recent trades fetched; 0 means all.
	TradeLimit int
}

// DefaultConfig returns the standard entity names.
func DefaultConfig() Config {
	return Config{
		TradeEntity:    store.EntityTrade,
		StrategyEntity: store.EntityStrategy,
	}
}

// Scheduler receives dirty statistics and knows what was persisted.
type Scheduler interface {
	SubmitDirty(strategyID string, stats core.DerivedStats) error
	Persisted(strategyID string) (core.DerivedStats, bool)
	PendingValue(strategyID string) (core.DerivedStats, bool)
	Seed(strategyID string, stats core.DerivedStats)
}

// Evaluator applies the opt-out policy.
type Evaluator interface {
	Evaluate(ctx context.Context, strategies []core.Strategy, stats map[string]core.DerivedStats) (decision.Outcome, error)
}

// StrategyView is one strategy's state after a refresh.
type StrategyView struct {
	ID              string            `json:"id"`
	CombinationName string            `json:"combination_name"`
	OptedOut        bool              `json:"opted_out"`
	Stats           core.DerivedStats `json:"stats"`
	Dirty           bool              `json:"dirty"`
	ChangedFields   []string          `json:"changed_fields,omitempty"`
}

// Snapshot is the result of a refresh cycle.
type Snapshot struct {
	RefreshedAt time.Time        `json:"refreshed_at"`
	Duration    time.Duration    `json:"duration"`
	Strategies  []StrategyView   `json:"strategies"`
	Trades      dedup.Report     `json:"trades"`
	Malformed   int              `json:"malformed"`
	Dirty       []string         `json:"dirty"`
	Decision    decision.Outcome `json:"decision"`
}

// Pipeline wires the refresh stages together.
type Pipeline struct {
	cfg       Config
	lister    store.Lister
	scheduler Scheduler
	evaluator Evaluator
	logger    *zap.Logger
	metrics   *metrics.Registry

	mu   sync.RWMutex
	last *Snapshot
}

// New creates a pipeline. evaluator, logger and reg may be nil.
func New(cfg Config, lister store.Lister, scheduler Scheduler, evaluator Evaluator, logger *zap.Logger, reg *metrics.Registry) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := DefaultConfig()
	if cfg.TradeEntity == "" {
		cfg.TradeEntity = d.TradeEntity
	}
	if cfg.StrategyEntity == "" {
		cfg.StrategyEntity = d.StrategyEntity
	}
	return &Pipeline{
		cfg:       cfg,
		lister:    lister,
		scheduler: scheduler,
		evaluator: evaluator,
		logger:    logger.Named("pipeline"),
		metrics:   reg,
	}
}

// Last returns the most recent snapshot, or nil before the first refresh.
func (p *Pipeline) Last() *Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// Refresh runs one cycle. If only the opt-out step fails, the snapshot is
// returned together with the error.
func (p *Pipeline) Refresh(ctx context.Context) (*Snapshot, error) {
	start := time.Now()

	var tradeRecs, strategyRecs []store.Record
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		q := store.Query{}
		if p.cfg.TradeLimit > 0 {
			q.Sort = "-exit_timestamp"
			q.Limit = p.cfg.TradeLimit
		}
		recs, err := p.lister.List(gctx, p.cfg.TradeEntity, q)
		if err != nil {
			return fmt.Errorf("listing trades: %w", err)
		}
		tradeRecs = recs
		return nil
	})
	g.Go(func() error {
		recs, err := p.lister.List(gctx, p.cfg.StrategyEntity, store.Query{Sort: "combination_name"})
		if err != nil {
			return fmt.Errorf("listing strategies: %w", err)
		}
		strategyRecs = recs
		return nil
	})
	if err := g.Wait(); err != nil {
		p.metrics.RecordRefresh("failed", time.Since(start).Seconds())
		return nil, err
	}

	trades, malformedTrades := p.decodeTrades(tradeRecs)
	strategies, malformedStrategies := p.decodeStrategies(strategyRecs)

	deduped, report := dedup.DeduplicateWithReport(trades)
	computed := stats.Aggregate(deduped, strategies)

	snap := &Snapshot{
		RefreshedAt: start,
		Trades:      report,
		Malformed:   malformedTrades + malformedStrategies,
		Strategies:  make([]StrategyView, 0, len(strategies)),
	}

	for _, s := range strategies {
		next := computed[s.ID]
		res := change.Detect(next, p.baseline(s))
		if !res.Dirty {
			// A queued value the fresh stats no longer match must be replaced,
			// even when they equal what the store holds.
			if queued, ok := p.scheduler.PendingValue(s.ID); ok {
				res = change.Detect(next, &queued)
			}
		}
		view := StrategyView{
			ID:              s.ID,
			CombinationName: s.CombinationName,
			OptedOut:        s.OptedOut,
			Stats:           next,
			Dirty:           res.Dirty,
			ChangedFields:   res.Fields,
		}
		snap.Strategies = append(snap.Strategies, view)

		if !res.Dirty {
			continue
		}
		if err := p.scheduler.SubmitDirty(s.ID, res.Target); err != nil {
			p.metrics.RecordRefresh("failed", time.Since(start).Seconds())
			return nil, fmt.Errorf("queueing %s: %w", s.ID, err)
		}
		snap.Dirty = append(snap.Dirty, s.ID)
		p.logger.Debug("strategy stats changed",
			zap.String("strategy_id", s.ID),
			zap.Strings("fields", res.Fields),
		)
	}

	var decisionErr error
	if p.evaluator != nil {
		snap.Decision, decisionErr = p.evaluator.Evaluate(ctx, strategies, computed)
		optedOut := make(map[string]bool, len(snap.Decision.OptedOut))
		for _, id := range snap.Decision.OptedOut {
			optedOut[id] = true
		}
		for i := range snap.Strategies {
			if optedOut[snap.Strategies[i].ID] {
				snap.Strategies[i].OptedOut = true
			}
		}
	}

	sort.SliceStable(snap.Strategies, func(i, j int) bool {
		return snap.Strategies[i].CombinationName < snap.Strategies[j].CombinationName
	})
	snap.Duration = time.Since(start)

	p.mu.Lock()
	p.last = snap
	p.mu.Unlock()

	p.metrics.RecordTrades(len(tradeRecs), report.Output, map[string]int{
		"malformed": malformedTrades,
		"open":      report.Open,
		"duplicate": report.Duplicates,
	})
	p.metrics.SetStrategies(len(strategies))
	p.metrics.RecordDirty(len(snap.Dirty))

	status := "ok"
	if decisionErr != nil {
		status = "decision_failed"
	}
	p.metrics.RecordRefresh(status, snap.Duration.Seconds())

	p.logger.Info("refresh completed",
		zap.Int("trades", len(tradeRecs)),
		zap.Int("kept", report.Output),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("open", report.Open),
		zap.Int("malformed", snap.Malformed),
		zap.Int("strategies", len(strategies)),
		zap.Int("dirty", len(snap.Dirty)),
		zap.Duration("duration", snap.Duration),
	)

	if decisionErr != nil {
		return snap, fmt.Errorf("auto opt-out: %w", decisionErr)
	}
	return snap, nil
}

// baseline is the value the store is believed to hold for s: the last
// value this process wrote, else the live fields read from the store.
func (p *Pipeline) baseline(s core.Strategy) *core.DerivedStats {
	if v, ok := p.scheduler.Persisted(s.ID); ok {
		return &v
	}
	if s.Live != nil {
		p.scheduler.Seed(s.ID, *s.Live)
		live := *s.Live
		return &live
	}
	return nil
}

func (p *Pipeline) decodeTrades(recs []store.Record) ([]core.Trade, int) {
	trades := make([]core.Trade, 0, len(recs))
	malformed := 0
	for _, rec := range recs {
		t, err := store.DecodeTrade(rec)
		if err != nil {
			malformed++
			p.logger.Debug("skipping trade", zap.Error(err))
			continue
		}
		trades = append(trades, t)
	}
	return trades, malformed
}

func (p *Pipeline) decodeStrategies(recs []store.Record) ([]core.Strategy, int) {
	strategies := make([]core.Strategy, 0, len(recs))
	malformed := 0
	for _, rec := range recs {
		s, err := store.DecodeStrategy(rec)
		if err != nil {
			malformed++
			p.logger.Warn("skipping strategy", zap.Error(err))
			continue
		}
		strategies = append(strategies, s)
	}
	return strategies, malformed
}
