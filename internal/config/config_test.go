package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", `
trading:
  mode: testnet
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "default", cfg.Trading.WalletID)
	assert.Equal(t, "USDT", cfg.Trading.QuoteAsset)
	assert.Equal(t, "BTCUSDT", cfg.Regime.Symbol)
	assert.Equal(t, "1h", cfg.Regime.Interval)
	assert.Equal(t, 3, cfg.Regime.ConfirmationThreshold)
	assert.Equal(t, 5, cfg.Reconcile.ThrottleMinutes)
	assert.Equal(t, 20, cfg.Reconcile.MaxAttempts)
	assert.Equal(t, 100, cfg.Wallet.DebounceMillis)
	require.Len(t, cfg.Market.Sources, 1)
	assert.Equal(t, "binance", cfg.Market.Sources[0].Name)
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", `
trading:
  mode: live
  wallet_id: prod-wallet
regime:
  symbol: ethusdt
  confirmation_threshold: 5
reconcile:
  throttle_minutes: 2
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "live", cfg.Trading.Mode)
	assert.False(t, cfg.Trading.Testnet())
	assert.Equal(t, "prod-wallet", cfg.Trading.WalletID)
	assert.Equal(t, "ETHUSDT", cfg.Regime.Symbol)
	assert.Equal(t, 5, cfg.Regime.ConfirmationThreshold)
	assert.Equal(t, 2, cfg.Reconcile.ThrottleMinutes)
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "base.yaml", `
trading:
  mode: testnet
  wallet_id: base-wallet
regime:
  symbol: BTCUSDT
`)
	path := writeConfigFile(t, dir, "config.yaml", `
include:
  - base.yaml
trading:
  wallet_id: override-wallet
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "testnet", cfg.Trading.Mode)
	assert.Equal(t, "override-wallet", cfg.Trading.WalletID)
	assert.Equal(t, "BTCUSDT", cfg.Regime.Symbol)
}

func TestLoadRejectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "a.yaml", "include:\n  - b.yaml\n")
	writeConfigFile(t, dir, "b.yaml", "include:\n  - a.yaml\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestLoadRejectsInvalidMode(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", `
trading:
  mode: paper
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestResolveActiveSource(t *testing.T) {
	m := MarketConfig{
		ActiveSource: "binance",
		Sources: []MarketSource{
			{Name: "bybit", Enabled: true, RESTBaseURL: "https://api.bybit.com"},
			{Name: "binance", Enabled: true, RESTBaseURL: "https://api.binance.com"},
		},
	}
	assert.Equal(t, "binance", m.ResolveActiveSource().Name)

	m.ActiveSource = ""
	assert.Equal(t, "bybit", m.ResolveActiveSource().Name)

	m.Sources[0].Enabled = false
	assert.Equal(t, "binance", m.ResolveActiveSource().Name)

	empty := MarketConfig{}
	assert.Equal(t, "binance", empty.ResolveActiveSource().Name)
}
