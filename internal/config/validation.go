package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Regime.validate(); err != nil {
		return err
	}
	if err := c.Reconcile.validate(); err != nil {
		return err
	}
	if err := c.Wallet.validate(); err != nil {
		return err
	}
	if err := c.Sentiment.validate(); err != nil {
		return err
	}
	return nil
}

func (t *TradingConfig) validate() error {
	switch t.Mode {
	case "testnet", "live":
	default:
		return fmt.Errorf("trading.mode only supports 'testnet' or 'live', got %s", t.Mode)
	}
	if strings.TrimSpace(t.WalletID) == "" {
		return fmt.Errorf("trading.wallet_id cannot be empty")
	}
	if strings.TrimSpace(t.QuoteAsset) == "" {
		return fmt.Errorf("trading.quote_asset cannot be empty")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if len(m.Sources) == 0 {
		return fmt.Errorf("market.sources requires at least one source")
	}
	activeName := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	enabled := 0
	activeFound := false
	for _, src := range m.Sources {
		if !src.Enabled {
			continue
		}
		enabled++
		if strings.TrimSpace(src.RESTBaseURL) == "" {
			return fmt.Errorf("market source %s missing rest_base_url", src.Name)
		}
		if src.Proxy.Enabled && src.Proxy.RESTURL == "" {
			return fmt.Errorf("market source %s has proxy enabled but no rest_url", src.Name)
		}
		name := strings.ToLower(strings.TrimSpace(src.Name))
		if activeName == "" || name == activeName {
			activeFound = true
		}
	}
	if enabled == 0 {
		return fmt.Errorf("market.sources requires at least one enabled source")
	}
	if !activeFound {
		return fmt.Errorf("enabled market.active_source=%s not found", m.ActiveSource)
	}
	return nil
}

func (r *RegimeConfig) validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return fmt.Errorf("regime.symbol cannot be empty")
	}
	if !IsValidInterval(r.Interval) {
		return fmt.Errorf("regime.interval is not a valid interval: %s", r.Interval)
	}
	if r.CacheValidityHours <= 0 {
		return fmt.Errorf("regime.cache_validity_hours must be > 0")
	}
	if r.ConfirmationThreshold <= 0 {
		return fmt.Errorf("regime.confirmation_threshold must be > 0")
	}
	return nil
}

func (r *ReconcileConfig) validate() error {
	if r.IntervalMinutes <= 0 {
		return fmt.Errorf("reconcile.interval_minutes must be > 0")
	}
	if r.ThrottleMinutes <= 0 {
		return fmt.Errorf("reconcile.throttle_minutes must be > 0")
	}
	if r.MaxAttempts <= 0 {
		return fmt.Errorf("reconcile.max_attempts must be > 0")
	}
	return nil
}

func (w *WalletConfig) validate() error {
	if w.SyncIntervalSeconds <= 0 {
		return fmt.Errorf("wallet.sync_interval_seconds must be > 0")
	}
	if w.DebounceMillis <= 0 {
		return fmt.Errorf("wallet.debounce_ms must be > 0")
	}
	return nil
}

func (s *SentimentConfig) validate() error {
	if !s.Enabled {
		return nil
	}
	if strings.TrimSpace(s.Endpoint) == "" {
		return fmt.Errorf("sentiment.endpoint cannot be empty when enabled")
	}
	if s.RefreshMinutes <= 0 {
		return fmt.Errorf("sentiment.refresh_minutes must be > 0")
	}
	return nil
}

// IsValidInterval accepts strings that start with digits and end in m/h/d/w.
func IsValidInterval(s string) bool {
	if s == "" {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
