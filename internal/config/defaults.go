package config

import (
	"fmt"
	"strings"
)

const (
	defaultAppEnv       = "dev"
	defaultAppLogLevel  = "info"
	defaultAppHTTPAddr  = ":9991"
	defaultAppLogPath   = "data/logs/cryptonew.log"
	defaultProfilesPath = "configs/profiles.yaml"

	defaultTradingMode  = "testnet"
	defaultWalletID     = "default"
	defaultQuoteAsset   = "USDT"
	defaultMarketName   = "binance"
	defaultMarketREST   = "https://api.binance.com"
	defaultMarketSecs   = 15
	defaultRegimeSymbol = "BTCUSDT"
	defaultRegimeTF     = "1h"

	defaultRegimeValidityHours = 1.0
	defaultRegimeThreshold     = 3
	defaultRegimeLoopOffset    = 15

	defaultReconcileInterval = 15
	defaultReconcileThrottle = 5
	defaultReconcileAttempts = 20
	defaultAttemptDBPath     = "data/db/reconcile_attempts.db"

	defaultWalletSyncSecs  = 60
	defaultWalletDebounce  = 100
	defaultSentimentURL    = "https://api.alternative.me/fng/"
	defaultSentimentRefrsh = 60

	defaultStorePath = "data/db/cryptonew.db"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Regime.applyDefaults(keys)
	c.Reconcile.applyDefaults(keys)
	c.Wallet.applyDefaults(keys)
	c.Sentiment.applyDefaults(keys)
	c.Store.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.profiles_path", &a.ProfilesPath, defaultProfilesPath),
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("trading.mode", &t.Mode, defaultTradingMode),
		stringFieldDefault("trading.wallet_id", &t.WalletID, defaultWalletID),
		stringFieldDefault("trading.quote_asset", &t.QuoteAsset, defaultQuoteAsset),
	)
	t.Mode = strings.ToLower(strings.TrimSpace(t.Mode))
	t.QuoteAsset = strings.ToUpper(strings.TrimSpace(t.QuoteAsset))
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	if len(m.Sources) == 0 {
		m.Sources = []MarketSource{{
			Name:        defaultMarketName,
			Enabled:     true,
			RESTBaseURL: defaultMarketREST,
		}}
	}
	for i := range m.Sources {
		src := &m.Sources[i]
		src.Proxy.normalize()
		if strings.TrimSpace(src.Name) == "" {
			if i == 0 {
				src.Name = defaultMarketName
			} else {
				src.Name = fmt.Sprintf("market_%d", i)
			}
		}
		if src.RESTBaseURL == "" {
			src.RESTBaseURL = defaultMarketREST
		}
		if src.TimeoutSeconds <= 0 {
			src.TimeoutSeconds = defaultMarketSecs
		}
	}
	if strings.TrimSpace(m.ActiveSource) == "" {
		m.ActiveSource = firstEnabledMarket(m.Sources)
	}
}

func (r *RegimeConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("regime.symbol", &r.Symbol, defaultRegimeSymbol),
		stringFieldDefault("regime.interval", &r.Interval, defaultRegimeTF),
		fieldDefault{
			key:   "regime.cache_validity_hours",
			need:  func() bool { return r.CacheValidityHours <= 0 },
			apply: func() { r.CacheValidityHours = defaultRegimeValidityHours },
		},
		fieldDefault{
			key:   "regime.confirmation_threshold",
			need:  func() bool { return r.ConfirmationThreshold <= 0 },
			apply: func() { r.ConfirmationThreshold = defaultRegimeThreshold },
		},
		fieldDefault{
			key:   "regime.loop_offset_seconds",
			need:  func() bool { return r.LoopOffsetSeconds <= 0 },
			apply: func() { r.LoopOffsetSeconds = defaultRegimeLoopOffset },
		},
	)
	r.Symbol = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(r.Symbol), "/", ""))
}

func (r *ReconcileConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("reconcile.attempt_db_path", &r.AttemptDBPath, defaultAttemptDBPath),
		fieldDefault{
			key:   "reconcile.interval_minutes",
			need:  func() bool { return r.IntervalMinutes <= 0 },
			apply: func() { r.IntervalMinutes = defaultReconcileInterval },
		},
		fieldDefault{
			key:   "reconcile.throttle_minutes",
			need:  func() bool { return r.ThrottleMinutes <= 0 },
			apply: func() { r.ThrottleMinutes = defaultReconcileThrottle },
		},
		fieldDefault{
			key:   "reconcile.max_attempts",
			need:  func() bool { return r.MaxAttempts <= 0 },
			apply: func() { r.MaxAttempts = defaultReconcileAttempts },
		},
	)
}

func (w *WalletConfig) applyDefaults(keys keySet) {
	if w == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "wallet.sync_interval_seconds",
			need:  func() bool { return w.SyncIntervalSeconds <= 0 },
			apply: func() { w.SyncIntervalSeconds = defaultWalletSyncSecs },
		},
		fieldDefault{
			key:   "wallet.debounce_ms",
			need:  func() bool { return w.DebounceMillis <= 0 },
			apply: func() { w.DebounceMillis = defaultWalletDebounce },
		},
	)
}

func (s *SentimentConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("sentiment.enabled", &s.Enabled, true),
		stringFieldDefault("sentiment.endpoint", &s.Endpoint, defaultSentimentURL),
		fieldDefault{
			key:   "sentiment.refresh_minutes",
			need:  func() bool { return s.RefreshMinutes <= 0 },
			apply: func() { s.RefreshMinutes = defaultSentimentRefrsh },
		},
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func firstEnabledMarket(sources []MarketSource) string {
	for _, src := range sources {
		name := strings.TrimSpace(src.Name)
		if src.Enabled && name != "" {
			return name
		}
	}
	if len(sources) > 0 {
		if name := strings.TrimSpace(sources[0].Name); name != "" {
			return name
		}
	}
	return defaultMarketName
}
