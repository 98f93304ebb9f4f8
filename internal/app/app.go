package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dvirmail/cryptonew-sub011/internal/config"
	"github.com/dvirmail/cryptonew-sub011/internal/config/loader"
	"github.com/dvirmail/cryptonew-sub011/internal/logger"
	"github.com/dvirmail/cryptonew-sub011/internal/market"
	"github.com/dvirmail/cryptonew-sub011/internal/reconcile"
	"github.com/dvirmail/cryptonew-sub011/internal/regime"
	"github.com/dvirmail/cryptonew-sub011/internal/scheduler"
	"github.com/dvirmail/cryptonew-sub011/internal/store"
	apihttp "github.com/dvirmail/cryptonew-sub011/internal/transport/http"
	"github.com/dvirmail/cryptonew-sub011/internal/wallet"
)

// App wires the services together and runs the polling loops.
type App struct {
	cfg        *config.Config
	st         store.Store
	source     market.Source
	sentiment  market.SentimentIndex
	reconciler *reconcile.Reconciler
	attempts   *reconcile.AttemptStore
	aggregator *wallet.Aggregator
	profiles   *loader.ProfileLoader
	httpServer *apihttp.Server

	mu      sync.RWMutex
	regimes map[string]*regime.Cache
	primary *regime.Cache
}

// NewApp builds the application from config without starting anything.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return build(context.Background(), cfg)
}

// Run starts the HTTP server and all polling loops, blocking until ctx is
// cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.httpServer.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	regimeInterval, ok := scheduler.ParseIntervalDuration(a.cfg.Regime.Interval)
	if !ok {
		return fmt.Errorf("invalid regime interval: %s", a.cfg.Regime.Interval)
	}
	group.Go(func() error {
		sched := scheduler.NewAlignedScheduler(ctx, "regime",
			regimeInterval, time.Duration(a.cfg.Regime.LoopOffsetSeconds)*time.Second)
		sched.RunImmediately = true
		sched.Start(func() { a.computeRegimes(ctx) })
		return nil
	})

	group.Go(func() error {
		sched := scheduler.NewIntervalScheduler(ctx, "reconcile",
			time.Duration(a.cfg.Reconcile.IntervalMinutes)*time.Minute)
		sched.Start(func() {
			res := a.reconciler.Reconcile(ctx, a.cfg.Trading.Mode, a.cfg.Trading.WalletID)
			if res.Throttled {
				return
			}
			if !res.Success {
				logger.Warnf("app: scheduled reconcile failed: %s", res.Error)
				return
			}
			logger.Infof("app: reconcile pass %s checked=%d ghosts=%d legit=%d",
				res.PassID, res.Checked, res.GhostsDeleted, res.Legitimate)
		})
		return nil
	})

	group.Go(func() error {
		sched := scheduler.NewIntervalScheduler(ctx, "reconcile-autoheal", time.Minute)
		sched.Start(a.reconciler.AutoHealSweep)
		return nil
	})

	group.Go(func() error {
		sched := scheduler.NewIntervalScheduler(ctx, "wallet-sync",
			time.Duration(a.cfg.Wallet.SyncIntervalSeconds)*time.Second)
		sched.RunImmediately = true
		sched.Start(func() {
			if _, err := a.aggregator.SyncWithExchange(ctx, a.cfg.Trading.Mode); err != nil {
				logger.Warnf("app: wallet sync failed: %v", err)
			}
		})
		return nil
	})

	if a.cfg.Sentiment.Enabled {
		group.Go(func() error {
			sched := scheduler.NewIntervalScheduler(ctx, "sentiment",
				time.Duration(a.cfg.Sentiment.RefreshMinutes)*time.Minute)
			sched.RunImmediately = true
			sched.Start(func() { a.sentiment.RefreshIfStale(ctx) })
			return nil
		})
	}

	waitErr := group.Wait()
	a.Close()
	return waitErr
}

// computeRegimes forces one recomputation per watched symbol so the
// confirmation streak advances exactly once per period.
func (a *App) computeRegimes(ctx context.Context) {
	a.mu.RLock()
	caches := make([]*regime.Cache, 0, len(a.regimes))
	for _, cache := range a.regimes {
		caches = append(caches, cache)
	}
	a.mu.RUnlock()
	for _, cache := range caches {
		snap, err := cache.GetOrCompute(ctx, true)
		if err != nil {
			logger.Warnf("app: regime compute for %s failed: %v", snap.Symbol, err)
			continue
		}
		logger.Infof("app: regime %s %s=%s confidence=%.2f streak=%d confirmed=%v",
			snap.Symbol, snap.Interval, snap.Regime, snap.Confidence, snap.ConsecutivePeriods, snap.IsConfirmed)
	}
}

// Close releases the store, attempt database and HTTP client resources.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.attempts != nil {
		if err := a.attempts.Close(); err != nil {
			logger.Warnf("app: closing attempt store failed: %v", err)
		}
	}
	if a.source != nil {
		a.source.Close()
	}
	if a.st != nil {
		if err := a.st.Close(); err != nil {
			logger.Warnf("app: closing store failed: %v", err)
		}
	}
}
