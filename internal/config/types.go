package config

import "strings"

// Config is the top-level configuration carrier.
type Config struct {
	App       AppConfig       `toml:"app"`
	Trading   TradingConfig   `toml:"trading"`
	Market    MarketConfig    `toml:"market"`
	Regime    RegimeConfig    `toml:"regime"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Wallet    WalletConfig    `toml:"wallet"`
	Sentiment SentimentConfig `toml:"sentiment"`
	Store     StoreConfig     `toml:"store"`
}

type AppConfig struct {
	Env          string `toml:"env"`
	LogLevel     string `toml:"log_level"`
	HTTPAddr     string `toml:"http_addr"`
	LogPath      string `toml:"log_path"`
	ProfilesPath string `toml:"profiles_path"`
}

// TradingConfig fixes the isolation axis under which positions and wallets
// are tracked.
type TradingConfig struct {
	Mode       string `toml:"mode"` // "testnet" | "live"
	WalletID   string `toml:"wallet_id"`
	QuoteAsset string `toml:"quote_asset"`
}

func (t TradingConfig) Testnet() bool {
	return strings.EqualFold(strings.TrimSpace(t.Mode), "testnet")
}

type MarketConfig struct {
	ActiveSource string         `toml:"active_source"`
	Sources      []MarketSource `toml:"sources"`
}

type MarketSource struct {
	Name           string      `toml:"name"`
	Enabled        bool        `toml:"enabled"`
	RESTBaseURL    string      `toml:"rest_base_url"`
	TimeoutSeconds int         `toml:"timeout_seconds"`
	APIKey         string      `toml:"api_key"`
	APISecret      string      `toml:"api_secret"`
	Proxy          ProxyConfig `toml:"proxy"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.RESTURL = strings.TrimSpace(p.RESTURL)
}

func (m MarketConfig) ResolveActiveSource() MarketSource {
	if len(m.Sources) == 0 {
		return MarketSource{
			Name:        "binance",
			Enabled:     true,
			RESTBaseURL: "https://api.binance.com",
		}
	}
	active := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	var fallback MarketSource
	for _, src := range m.Sources {
		if fallback.Name == "" {
			fallback = src
		}
		if !src.Enabled {
			continue
		}
		if active == "" || strings.ToLower(src.Name) == active {
			return src
		}
	}
	return fallback
}

// RegimeConfig controls the detector reference pair and cache behaviour.
type RegimeConfig struct {
	Symbol                string  `toml:"symbol"`
	Interval              string  `toml:"interval"`
	CacheValidityHours    float64 `toml:"cache_validity_hours"`
	ConfirmationThreshold int     `toml:"confirmation_threshold"`
	LoopOffsetSeconds     int     `toml:"loop_offset_seconds"`
}

type ReconcileConfig struct {
	IntervalMinutes int    `toml:"interval_minutes"`
	ThrottleMinutes int    `toml:"throttle_minutes"`
	MaxAttempts     int    `toml:"max_attempts"`
	AttemptDBPath   string `toml:"attempt_db_path"`
}

type WalletConfig struct {
	SyncIntervalSeconds int `toml:"sync_interval_seconds"`
	DebounceMillis      int `toml:"debounce_ms"`
}

type SentimentConfig struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	RefreshMinutes int    `toml:"refresh_minutes"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

// keySet tracks which field paths the config files set explicitly.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes the default rule for one field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
