package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"

	"github.com/dvirmail/cryptonew-sub011/internal/market"
	"github.com/dvirmail/cryptonew-sub011/internal/pkg/convert"
)

const maxHistoryLimit = 1000

// Source implements market.Source on the Binance spot REST API via the
// go-binance SDK.
type Source struct {
	cfg    Config
	client *binance.Client

	statsMu sync.Mutex
	stats   market.SourceStats
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client := binance.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Source{cfg: final, client: client}, nil
}

func (s *Source) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	symbol = cleanSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	kls, err := s.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if s.record(err); err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      convert.ParseFloat(kl.Open),
			High:      convert.ParseFloat(kl.High),
			Low:       convert.ParseFloat(kl.Low),
			Close:     convert.ParseFloat(kl.Close),
			Volume:    convert.ParseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	return out, nil
}

// TickerPrice returns the latest trade price. This is the only price feed
// suitable for exit validation.
func (s *Source) TickerPrice(ctx context.Context, symbol string) (market.PriceQuote, error) {
	symbol = cleanSymbol(symbol)
	if symbol == "" {
		return market.PriceQuote{}, fmt.Errorf("symbol is required")
	}
	prices, err := s.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if s.record(err); err != nil {
		return market.PriceQuote{}, err
	}
	for _, p := range prices {
		if p == nil || !strings.EqualFold(p.Symbol, symbol) {
			continue
		}
		return market.PriceQuote{
			Symbol:      symbol,
			Price:       convert.ParseFloat(p.Price),
			FetchedAtMs: time.Now().UnixMilli(),
		}, nil
	}
	err = fmt.Errorf("ticker price missing for %s", symbol)
	s.record(err)
	return market.PriceQuote{}, err
}

// Ticker24h returns rolling 24-hour statistics. LastPrice here is a window
// statistic, not a live quote.
func (s *Source) Ticker24h(ctx context.Context, symbol string) (market.Ticker24h, error) {
	symbol = cleanSymbol(symbol)
	if symbol == "" {
		return market.Ticker24h{}, fmt.Errorf("symbol is required")
	}
	stats, err := s.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if s.record(err); err != nil {
		return market.Ticker24h{}, err
	}
	for _, st := range stats {
		if st == nil || !strings.EqualFold(st.Symbol, symbol) {
			continue
		}
		return market.Ticker24h{
			Symbol:             symbol,
			LastPrice:          convert.ParseFloat(st.LastPrice),
			PriceChangePercent: convert.ParseFloat(st.PriceChangePercent),
			HighPrice:          convert.ParseFloat(st.HighPrice),
			LowPrice:           convert.ParseFloat(st.LowPrice),
			QuoteVolume:        convert.ParseFloat(st.QuoteVolume),
		}, nil
	}
	err = fmt.Errorf("24h ticker missing for %s", symbol)
	s.record(err)
	return market.Ticker24h{}, err
}

func (s *Source) AccountHoldings(ctx context.Context) ([]market.Holding, error) {
	acct, err := s.client.NewGetAccountService().Do(ctx)
	if s.record(err); err != nil {
		return nil, err
	}
	if acct == nil {
		err = fmt.Errorf("empty account payload")
		s.record(err)
		return nil, err
	}
	out := make([]market.Holding, 0, len(acct.Balances))
	for _, bal := range acct.Balances {
		asset := strings.ToUpper(strings.TrimSpace(bal.Asset))
		if asset == "" {
			continue
		}
		out = append(out, market.Holding{
			Asset:  asset,
			Free:   convert.ParseFloat(bal.Free),
			Locked: convert.ParseFloat(bal.Locked),
		})
	}
	return out, nil
}

func (s *Source) Stats() market.SourceStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Source) Close() error { return nil }

func (s *Source) record(err error) {
	s.statsMu.Lock()
	s.stats.Requests++
	if err != nil {
		s.stats.Failures++
		s.stats.LastError = err.Error()
	}
	s.statsMu.Unlock()
}

// cleanSymbol strips slashes so "BTC/USDT" and "btcusdt" both become "BTCUSDT".
func cleanSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	return strings.ReplaceAll(symbol, "/", "")
}
