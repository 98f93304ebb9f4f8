package market

import "context"

// Holding is the exchange-side truth for one asset.
type Holding struct {
	Asset  string
	Free   float64
	Locked float64
}

// Total is the full exchange-held quantity for the asset.
func (h Holding) Total() float64 { return h.Free + h.Locked }

// PriceQuote is a genuinely current price: the latest ticker/trade price,
// never a rolling-window statistic.
type PriceQuote struct {
	Symbol      string
	Price       float64
	FetchedAtMs int64
}

// Ticker24h carries the 24-hour rolling statistics. Its LastPrice field can
// be hours stale and must never be fed to exit-price validation; it exists
// as a distinct type so callers cannot conflate it with PriceQuote.
type Ticker24h struct {
	Symbol             string
	LastPrice          float64
	PriceChangePercent float64
	HighPrice          float64
	LowPrice           float64
	QuoteVolume        float64
}

type SourceStats struct {
	Requests  int
	Failures  int
	LastError string
}

// Source is the exchange market-data/account collaborator.
type Source interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	TickerPrice(ctx context.Context, symbol string) (PriceQuote, error)

	Ticker24h(ctx context.Context, symbol string) (Ticker24h, error)

	AccountHoldings(ctx context.Context) ([]Holding, error)

	Stats() SourceStats

	Close() error
}
