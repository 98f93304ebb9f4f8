package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dvirmail/cryptonew-sub011/internal/config"
	"github.com/dvirmail/cryptonew-sub011/internal/config/loader"
	"github.com/dvirmail/cryptonew-sub011/internal/gateway/binance"
	"github.com/dvirmail/cryptonew-sub011/internal/logger"
	"github.com/dvirmail/cryptonew-sub011/internal/market"
	"github.com/dvirmail/cryptonew-sub011/internal/reconcile"
	"github.com/dvirmail/cryptonew-sub011/internal/regime"
	"github.com/dvirmail/cryptonew-sub011/internal/store/gormstore"
	apihttp "github.com/dvirmail/cryptonew-sub011/internal/transport/http"
	"github.com/dvirmail/cryptonew-sub011/internal/wallet"
)

func build(ctx context.Context, cfg *config.Config) (*App, error) {
	st, err := gormstore.NewGormStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store failed: %w", err)
	}

	src := cfg.Market.ResolveActiveSource()
	source, err := binance.New(binance.Config{
		APIKey:       src.APIKey,
		APISecret:    src.APISecret,
		RESTBaseURL:  src.RESTBaseURL,
		HTTPTimeout:  time.Duration(src.TimeoutSeconds) * time.Second,
		Testnet:      cfg.Trading.Testnet(),
		ProxyEnabled: src.Proxy.Enabled,
		RESTProxyURL: src.Proxy.RESTURL,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("building market source failed: %w", err)
	}

	var sentiment market.SentimentIndex = market.DisabledSentiment{}
	if cfg.Sentiment.Enabled {
		sentiment = market.NewSentimentService(cfg.Sentiment.Endpoint)
	}

	validity := time.Duration(cfg.Regime.CacheValidityHours * float64(time.Hour))
	primary := regime.NewCache(
		regime.NewDetector(source, cfg.Regime.Symbol, cfg.Regime.Interval),
		st, sentiment, validity, cfg.Regime.ConfirmationThreshold,
	)
	if err := primary.Restore(ctx); err != nil {
		logger.Warnf("app: restoring regime state for %s failed: %v", cfg.Regime.Symbol, err)
	}

	attempts, err := reconcile.OpenAttemptStore(cfg.Reconcile.AttemptDBPath)
	if err != nil {
		st.Close()
		source.Close()
		return nil, fmt.Errorf("opening attempt store failed: %w", err)
	}
	reconciler := reconcile.NewReconciler(source, st, reconcile.ReconcilerConfig{
		QuoteAsset:     cfg.Trading.QuoteAsset,
		ThrottleWindow: time.Duration(cfg.Reconcile.ThrottleMinutes) * time.Minute,
		MaxAttempts:    cfg.Reconcile.MaxAttempts,
	}, attempts)
	if err := reconciler.Restore(ctx); err != nil {
		logger.Warnf("app: restoring attempt counters failed: %v", err)
	}

	aggregator := wallet.NewAggregator(source, st, wallet.Config{
		QuoteAsset:     cfg.Trading.QuoteAsset,
		WalletID:       cfg.Trading.WalletID,
		DebounceWindow: time.Duration(cfg.Wallet.DebounceMillis) * time.Millisecond,
	})
	if err := aggregator.Initialize(ctx, cfg.Trading.Mode); err != nil {
		logger.Warnf("app: restoring wallet snapshot failed: %v", err)
	}

	// Watch profiles are optional; a missing file just means no overrides.
	var profiles *loader.ProfileLoader
	if _, statErr := os.Stat(cfg.App.ProfilesPath); statErr == nil {
		profiles, err = loader.NewProfileLoader(cfg.App.ProfilesPath)
		if err != nil {
			logger.Warnf("app: profile loader unavailable (%s): %v", cfg.App.ProfilesPath, err)
			profiles = nil
		}
	} else {
		logger.Infof("app: no watch profiles at %s, using main config only", cfg.App.ProfilesPath)
	}

	httpServer, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr:        cfg.App.HTTPAddr,
		Regime:      primary,
		Reconciler:  reconciler,
		Wallet:      aggregator,
		TradingMode: cfg.Trading.Mode,
		WalletID:    cfg.Trading.WalletID,
	})
	if err != nil {
		st.Close()
		source.Close()
		attempts.Close()
		return nil, fmt.Errorf("building http server failed: %w", err)
	}

	a := &App{
		cfg:        cfg,
		st:         st,
		source:     source,
		sentiment:  sentiment,
		primary:    primary,
		regimes:    map[string]*regime.Cache{cfg.Regime.Symbol: primary},
		reconciler: reconciler,
		attempts:   attempts,
		aggregator: aggregator,
		profiles:   profiles,
		httpServer: httpServer,
	}
	if profiles != nil {
		profiles.Subscribe(a.applyProfiles)
	}
	return a, nil
}

// applyProfiles rebuilds the per-symbol regime cache set from the default
// watch profile. The primary benchmark cache is always kept.
func (a *App) applyProfiles(snap loader.ProfileSnapshot) {
	def, ok := snap.DefaultProfile()
	if !ok {
		return
	}
	validity := time.Duration(def.CacheValidityHours * float64(time.Hour))

	wanted := make(map[string]bool, len(def.SymbolsUpper())+1)
	wanted[a.cfg.Regime.Symbol] = true
	for _, sym := range def.SymbolsUpper() {
		wanted[sym] = true
	}

	a.mu.Lock()
	for sym := range a.regimes {
		if !wanted[sym] {
			delete(a.regimes, sym)
			logger.Infof("app: dropped regime watch for %s (profile %s v%d)", sym, def.Name, snap.Version)
		}
	}
	var added []*regime.Cache
	for sym := range wanted {
		if _, exists := a.regimes[sym]; exists {
			continue
		}
		cache := regime.NewCache(
			regime.NewDetector(a.source, sym, def.Interval),
			a.st, a.sentiment, validity, def.ConfirmationThreshold,
		)
		a.regimes[sym] = cache
		added = append(added, cache)
		logger.Infof("app: added regime watch for %s %s (profile %s v%d)", sym, def.Interval, def.Name, snap.Version)
	}
	a.mu.Unlock()

	for _, cache := range added {
		restoreCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := cache.Restore(restoreCtx); err != nil {
			logger.Warnf("app: restoring regime state failed: %v", err)
		}
		cancel()
	}
}
