package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/newthinker/stratsync/internal/config"
	"github.com/newthinker/stratsync/internal/core"
	"github.com/newthinker/stratsync/internal/decision"
	"github.com/newthinker/stratsync/internal/metrics"
	"github.com/newthinker/stratsync/internal/notifier"
	"github.com/newthinker/stratsync/internal/notifier/webhook"
	"github.com/newthinker/stratsync/internal/pipeline"
	"github.com/newthinker/stratsync/internal/reconcile"
	"github.com/newthinker/stratsync/internal/storage/blob"
	"github.com/newthinker/stratsync/internal/store"
	"github.com/newthinker/stratsync/internal/store/blobstore"
	"github.com/newthinker/stratsync/internal/store/httpstore"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// App is the main application orchestrator
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	metrics   *metrics.Registry
	store     store.Store
	scheduler *reconcile.Scheduler
	engine    *decision.Engine
	pipeline  *pipeline.Pipeline
	notifiers *notifier.Registry

	refreshes singleflight.Group

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
}

// New builds the store named by cfg and wires the pipeline around it.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg *metrics.Registry) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	st, err := NewStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	return NewWithStore(cfg, st, logger, reg), nil
}

// NewWithStore wires the pipeline around an existing store.
func NewWithStore(cfg *config.Config, st store.Store, logger *zap.Logger, reg *metrics.Registry) *App {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := cfg.Reconcile
	scheduler := reconcile.New(reconcile.Config{
		Debounce:      r.Debounce,
		MinInterval:   r.MinInterval,
		RetryCooldown: r.RetryCooldown,
		BatchSize:     r.BatchSize,
		ItemDelay:     r.ItemDelay,
		BatchDelay:    r.BatchDelay,
		WriteTimeout:  r.WriteTimeout,
		EntityType:    cfg.Pipeline.StrategyEntity,
	}, st, logger, reg)

	o := cfg.AutoOptOut
	engine := decision.New(decision.Config{
		Enabled:         o.Enabled,
		MinTrades:       o.MinTrades,
		MaxProfitFactor: o.MaxProfitFactor,
		Cooldown:        o.Cooldown,
		EntityType:      cfg.Pipeline.StrategyEntity,
	}, st, logger, reg)

	p := pipeline.New(pipeline.Config{
		TradeEntity:    cfg.Pipeline.TradeEntity,
		StrategyEntity: cfg.Pipeline.StrategyEntity,
		TradeLimit:     cfg.Pipeline.TradeLimit,
	}, st, scheduler, engine, logger, reg)

	a := &App{
		cfg:       cfg,
		logger:    logger,
		metrics:   reg,
		store:     st,
		scheduler: scheduler,
		engine:    engine,
		pipeline:  p,
		notifiers: notifier.NewRegistry(),
	}
	for _, wh := range cfg.Notify.Webhooks {
		n, err := webhook.New(webhook.Config{Name: wh.Name, URL: wh.URL, Headers: wh.Headers, Timeout: wh.Timeout})
		if err == nil {
			err = a.RegisterNotifier(n)
		}
		if err != nil {
			logger.Warn("skipping webhook", zap.String("name", wh.Name), zap.Error(err))
		}
	}
	return a
}

// RegisterNotifier adds a receiver for opt-out events.
func (a *App) RegisterNotifier(n notifier.Notifier) error {
	return a.notifiers.Register(n)
}

// NewStore creates the entity store selected by cfg.Provider.
func NewStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Store, error) {
	switch cfg.Provider {
	case "", "memory":
		mem := store.NewMemoryStore()
		if cfg.SeedFile != "" {
			if err := mem.LoadSeedFile(cfg.SeedFile); err != nil {
				return nil, err
			}
		}
		return mem, nil

	case "http":
		b := cfg.HTTP.Breaker
		return httpstore.New(httpstore.Config{
			BaseURL:       cfg.HTTP.BaseURL,
			APIKey:        cfg.HTTP.APIKey,
			Timeout:       cfg.HTTP.Timeout,
			RatePerSecond: cfg.HTTP.RatePerSecond,
			Burst:         cfg.HTTP.Burst,
			Breaker: httpstore.BreakerConfig{
				Enabled:      b.Enabled,
				MaxRequests:  b.MaxRequests,
				Interval:     b.Interval,
				Timeout:      b.Timeout,
				FailureRatio: b.FailureRatio,
				MinRequests:  b.MinRequests,
			},
		}, logger)

	case "blob":
		bucket, err := newBucket(cfg.Blob)
		if err != nil {
			return nil, err
		}
		bs := blobstore.New(bucket)
		if cfg.SeedFile != "" {
			if err := seedBlobStore(ctx, bs, cfg.SeedFile, logger); err != nil {
				return nil, err
			}
		}
		return bs, nil

	default:
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown store provider %q", cfg.Provider))
	}
}

func newBucket(cfg config.BlobConfig) (blob.Bucket, error) {
	switch cfg.Type {
	case "", "localfs":
		return blob.NewLocalFS(cfg.Path)
	case "s3":
		return blob.NewS3(blob.S3Config{
			Bucket:    cfg.S3.Bucket,
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Prefix:    cfg.S3.Prefix,
		})
	default:
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown blob type %q", cfg.Type))
	}
}

// seedBlobStore loads the seed file into entity types that hold no records yet.
func seedBlobStore(ctx context.Context, bs *blobstore.Store, path string, logger *zap.Logger) error {
	seed, err := store.ReadSeedFile(path)
	if err != nil {
		return err
	}
	for entityType, recs := range seed {
		n, err := bs.Count(ctx, entityType)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		for _, rec := range recs {
			if _, err := bs.Create(ctx, entityType, rec); err != nil {
				return fmt.Errorf("seeding %s: %w", entityType, err)
			}
		}
		logger.Info("seeded blob store", zap.String("entity", entityType), zap.Int("count", len(recs)))
	}
	return nil
}

// Start runs a refresh immediately and then on the configured schedule
// until ctx is cancelled or Stop is called.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app already running")
	}
	a.running = true

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	c := cron.New()
	if spec := a.cfg.Pipeline.RefreshSchedule; spec != "" {
		if _, err := c.AddFunc(spec, func() { a.scheduledRefresh(ctx) }); err != nil {
			cancel()
			return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("refresh schedule: %w", err))
		}
	}

	a.logger.Info("stratsync starting",
		zap.String("schedule", a.cfg.Pipeline.RefreshSchedule),
		zap.Bool("auto_opt_out", a.cfg.AutoOptOut.Enabled),
	)

	// Initial run
	a.scheduledRefresh(ctx)

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	a.logger.Info("stratsync stopping")
	return ctx.Err()
}

func (a *App) scheduledRefresh(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := a.RefreshNow(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("refresh failed", zap.Error(err))
	}
}

// Stop ends the refresh loop started by Start.
func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
}

// Shutdown stops the refresh loop and drains the write scheduler.
func (a *App) Shutdown(ctx context.Context) error {
	a.Stop()
	return a.scheduler.Shutdown(ctx)
}

// RefreshNow runs a refresh cycle. Calls made while one is in flight
// share its result.
func (a *App) RefreshNow(ctx context.Context) (*pipeline.Snapshot, error) {
	v, err, shared := a.refreshes.Do("refresh", func() (any, error) {
		snap, err := a.pipeline.Refresh(ctx)
		if snap != nil {
			a.notifyOptOuts(ctx, snap)
		}
		return snap, err
	})
	if shared {
		a.logger.Debug("joined in-flight refresh")
	}
	snap, _ := v.(*pipeline.Snapshot)
	return snap, err
}

func (a *App) notifyOptOuts(ctx context.Context, snap *pipeline.Snapshot) {
	if len(snap.Decision.OptedOut) == 0 {
		return
	}

	views := make(map[string]pipeline.StrategyView, len(snap.Strategies))
	for _, v := range snap.Strategies {
		views[v.ID] = v
	}
	events := make([]notifier.Event, 0, len(snap.Decision.OptedOut))
	for _, id := range snap.Decision.OptedOut {
		v := views[id]
		events = append(events, notifier.Event{
			Type:            notifier.EventOptOut,
			StrategyID:      id,
			CombinationName: v.CombinationName,
			Reason:          snap.Decision.Reason,
			TradeCount:      v.Stats.TradeCount,
			ProfitFactor:    v.Stats.ProfitFactor,
			At:              snap.RefreshedAt,
		})
	}

	for name, err := range a.notifiers.NotifyAll(ctx, events) {
		a.logger.Warn("opt-out notification failed", zap.String("notifier", name), zap.Error(err))
	}
}

// Drain blocks until every queued write has been attempted.
func (a *App) Drain(ctx context.Context) error {
	return a.scheduler.WaitIdle(ctx)
}

// Snapshot returns the latest refresh result, or nil before the first one.
func (a *App) Snapshot() *pipeline.Snapshot {
	return a.pipeline.Last()
}

// Pending returns the strategy IDs waiting to be written.
func (a *App) Pending() []string {
	return a.scheduler.Pending()
}

// Running reports whether Start is active.
func (a *App) Running() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// Store returns the underlying entity store.
func (a *App) Store() store.Store {
	return a.store
}

// GetStats returns application statistics
func (a *App) GetStats() map[string]any {
	stats := map[string]any{
		"running":         a.Running(),
		"scheduler_state": string(a.scheduler.State()),
		"pending":         len(a.scheduler.Pending()),
	}
	if last := a.engine.LastCompleted(); !last.IsZero() {
		stats["last_opt_out_run"] = last.UTC().Format(time.RFC3339)
	}
	if snap := a.pipeline.Last(); snap != nil {
		stats["last_refresh"] = snap.RefreshedAt.UTC().Format(time.RFC3339)
		stats["strategies"] = len(snap.Strategies)
		stats["dirty"] = len(snap.Dirty)
	}
	return stats
}
