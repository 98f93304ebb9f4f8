package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvirmail/cryptonew-sub011/internal/logger"
	"github.com/dvirmail/cryptonew-sub011/internal/market"
	"github.com/dvirmail/cryptonew-sub011/internal/store"
	"github.com/dvirmail/cryptonew-sub011/internal/store/model"
)

const (
	DefaultDebounceWindow = 100 * time.Millisecond

	realizedPnlTradeWindow = 500
)

// Balance is one asset line in a wallet snapshot.
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// PositionView is the read-only projection of an open position carried
// inside a snapshot.
type PositionView struct {
	PositionID    string  `json:"position_id"`
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	EntryPrice    float64 `json:"entry_price"`
	CurrentPrice  float64 `json:"current_price"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
	Status        string  `json:"status"`
}

// Snapshot is the aggregated wallet view for one trading mode. It is
// replaced wholesale on every aggregation pass and never mutated in place;
// consumers must treat it as immutable.
type Snapshot struct {
	TradingMode        string         `json:"trading_mode"`
	TotalEquity        float64        `json:"total_equity"`
	AvailableBalance   float64        `json:"available_balance"`
	BalanceInTrades    float64        `json:"balance_in_trades"`
	UnrealizedPnl      float64        `json:"unrealized_pnl"`
	TotalRealizedPnl   float64        `json:"total_realized_pnl"`
	OpenPositionsCount int            `json:"open_positions_count"`
	Balances           []Balance      `json:"balances"`
	Positions          []PositionView `json:"positions"`
	LastUpdated        time.Time      `json:"last_updated"`
}

// Aggregator merges exchange balances, open positions and closed trades into
// one snapshot per trading mode, debounces subscriber notifications, and
// persists the latest snapshot for dashboard reads across restarts.
type Aggregator struct {
	source     market.Source
	st         store.Store
	quoteAsset string
	walletID   string
	debounce   time.Duration

	mu        sync.RWMutex
	snapshots map[string]*Snapshot
	subs      map[int]func(*Snapshot)
	nextSub   int

	pendMu  sync.Mutex
	pending *Snapshot
	timer   *time.Timer

	clock func() time.Time
}

type Config struct {
	QuoteAsset     string
	WalletID       string
	DebounceWindow time.Duration
}

func NewAggregator(source market.Source, st store.Store, cfg Config) *Aggregator {
	quote := strings.ToUpper(strings.TrimSpace(cfg.QuoteAsset))
	if quote == "" {
		quote = "USDT"
	}
	walletID := strings.TrimSpace(cfg.WalletID)
	if walletID == "" {
		walletID = "default"
	}
	debounce := cfg.DebounceWindow
	if debounce <= 0 {
		debounce = DefaultDebounceWindow
	}
	return &Aggregator{
		source:     source,
		st:         st,
		quoteAsset: quote,
		walletID:   walletID,
		debounce:   debounce,
		snapshots:  make(map[string]*Snapshot),
		subs:       make(map[int]func(*Snapshot)),
		clock:      time.Now,
	}
}

// Initialize restores the last persisted snapshot for the mode so consumers
// have something to read before the first exchange sync completes.
func (a *Aggregator) Initialize(ctx context.Context, tradingMode string) error {
	if a == nil || a.st == nil {
		return fmt.Errorf("wallet aggregator not initialized")
	}
	state, err := a.st.LoadWalletState(ctx, tradingMode)
	if err != nil {
		return fmt.Errorf("loading persisted wallet state failed: %w", err)
	}
	if state == nil {
		return nil
	}
	snap := snapshotFromModel(state)
	a.mu.Lock()
	a.snapshots[tradingMode] = snap
	a.mu.Unlock()
	return nil
}

// Subscribe registers a callback for snapshot changes and returns its
// unsubscribe function. Callbacks receive the snapshot after the debounce
// window settles; they must not mutate it.
func (a *Aggregator) Subscribe(fn func(*Snapshot)) func() {
	a.mu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.subs, id)
		a.mu.Unlock()
	}
}

// Snapshot returns the current snapshot for the mode, or nil before the
// first aggregation.
func (a *Aggregator) Snapshot(tradingMode string) *Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshots[tradingMode]
}

// SyncWithExchange rebuilds the snapshot for the mode from one exchange
// account fetch plus the local position and trade records, publishes it and
// persists it. Every derived field is recomputed from the raw inputs.
func (a *Aggregator) SyncWithExchange(ctx context.Context, tradingMode string) (*Snapshot, error) {
	if a == nil || a.source == nil || a.st == nil {
		return nil, fmt.Errorf("wallet aggregator not initialized")
	}
	holdings, err := a.source.AccountHoldings(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching account balances failed: %w", err)
	}
	positions, err := a.st.ListActivePositions(ctx, tradingMode, a.walletID)
	if err != nil {
		return nil, fmt.Errorf("listing open positions failed: %w", err)
	}
	a.refreshCurrentPrices(ctx, positions)
	trades, err := a.st.ListRecentTrades(ctx, tradingMode, realizedPnlTradeWindow)
	if err != nil {
		return nil, fmt.Errorf("listing closed trades failed: %w", err)
	}

	snap := a.buildSnapshot(tradingMode, holdings, positions, trades)

	a.mu.Lock()
	a.snapshots[tradingMode] = snap
	a.mu.Unlock()

	if err := a.persist(ctx, snap); err != nil {
		logger.Warnf("wallet: persisting snapshot for %s failed: %v", tradingMode, err)
	}
	a.publish(snap)
	return snap, nil
}

// refreshCurrentPrices overwrites each position's last observed price with a
// live ticker quote. Best-effort: a failed quote keeps the stored price.
func (a *Aggregator) refreshCurrentPrices(ctx context.Context, positions []model.PositionModel) {
	for i := range positions {
		quote, err := a.source.TickerPrice(ctx, positions[i].Symbol)
		if err != nil {
			logger.Debugf("wallet: ticker for %s unavailable, keeping stored price: %v", positions[i].Symbol, err)
			continue
		}
		if quote.Price > 0 {
			positions[i].CurrentPrice = quote.Price
		}
	}
}

func (a *Aggregator) buildSnapshot(tradingMode string, holdings []market.Holding, positions []model.PositionModel, trades []model.TradeModel) *Snapshot {
	var (
		available decimal.Decimal
		inTrades  decimal.Decimal
		unreal    decimal.Decimal
		realized  decimal.Decimal
	)

	balances := make([]Balance, 0, len(holdings))
	for _, holding := range holdings {
		if holding.Total() <= 0 {
			continue
		}
		balances = append(balances, Balance{Asset: holding.Asset, Free: holding.Free, Locked: holding.Locked})
		if holding.Asset == a.quoteAsset {
			available = decimal.NewFromFloat(holding.Free)
		}
	}

	views := make([]PositionView, 0, len(positions))
	for _, pos := range positions {
		qty := decimal.NewFromFloat(pos.Quantity)
		entry := decimal.NewFromFloat(pos.EntryPrice)
		inTrades = inTrades.Add(qty.Mul(entry))

		var posUnreal decimal.Decimal
		if pos.CurrentPrice > 0 && pos.EntryPrice > 0 {
			posUnreal = decimal.NewFromFloat(pos.CurrentPrice).Sub(entry).Mul(qty)
			unreal = unreal.Add(posUnreal)
		}
		views = append(views, PositionView{
			PositionID:    pos.PositionID,
			Symbol:        pos.Symbol,
			Quantity:      pos.Quantity,
			EntryPrice:    pos.EntryPrice,
			CurrentPrice:  pos.CurrentPrice,
			UnrealizedPnl: posUnreal.InexactFloat64(),
			Status:        pos.Status.String(),
		})
	}

	for _, trade := range trades {
		realized = realized.Add(decimal.NewFromFloat(trade.RealizedPnl))
	}

	equity := available.Add(inTrades).Add(unreal)
	return &Snapshot{
		TradingMode:        tradingMode,
		TotalEquity:        equity.InexactFloat64(),
		AvailableBalance:   available.InexactFloat64(),
		BalanceInTrades:    inTrades.InexactFloat64(),
		UnrealizedPnl:      unreal.InexactFloat64(),
		TotalRealizedPnl:   realized.InexactFloat64(),
		OpenPositionsCount: len(views),
		Balances:           balances,
		Positions:          views,
		LastUpdated:        a.now(),
	}
}

// publish hands the snapshot to subscribers through a single-slot debounce:
// updates arriving inside the settle window replace the pending one, so only
// the latest is delivered.
func (a *Aggregator) publish(snap *Snapshot) {
	a.pendMu.Lock()
	a.pending = snap
	if a.timer == nil {
		a.timer = time.AfterFunc(a.debounce, a.flush)
	} else {
		a.timer.Reset(a.debounce)
	}
	a.pendMu.Unlock()
}

func (a *Aggregator) flush() {
	a.pendMu.Lock()
	snap := a.pending
	a.pending = nil
	a.timer = nil
	a.pendMu.Unlock()
	if snap == nil {
		return
	}

	a.mu.RLock()
	subs := make([]func(*Snapshot), 0, len(a.subs))
	for _, fn := range a.subs {
		subs = append(subs, fn)
	}
	a.mu.RUnlock()
	for _, fn := range subs {
		fn(snap)
	}
}

func (a *Aggregator) persist(ctx context.Context, snap *Snapshot) error {
	payload, err := json.Marshal(snap.Balances)
	if err != nil {
		return fmt.Errorf("encoding balances failed: %w", err)
	}
	return a.st.SaveWalletState(ctx, &model.WalletStateModel{
		TradingMode:      snap.TradingMode,
		TotalEquity:      snap.TotalEquity,
		AvailableBalance: snap.AvailableBalance,
		BalanceInTrades:  snap.BalanceInTrades,
		UnrealizedPnl:    snap.UnrealizedPnl,
		RealizedPnl:      snap.TotalRealizedPnl,
		OpenPositions:    snap.OpenPositionsCount,
		Balances:         payload,
		UpdatedAtUnix:    snap.LastUpdated.UnixMilli(),
	})
}

func snapshotFromModel(state *model.WalletStateModel) *Snapshot {
	snap := &Snapshot{
		TradingMode:        state.TradingMode,
		TotalEquity:        state.TotalEquity,
		AvailableBalance:   state.AvailableBalance,
		BalanceInTrades:    state.BalanceInTrades,
		UnrealizedPnl:      state.UnrealizedPnl,
		TotalRealizedPnl:   state.RealizedPnl,
		OpenPositionsCount: state.OpenPositions,
	}
	if state.UpdatedAtUnix > 0 {
		snap.LastUpdated = time.UnixMilli(state.UpdatedAtUnix).UTC()
	}
	if len(state.Balances) > 0 {
		if err := json.Unmarshal(state.Balances, &snap.Balances); err != nil {
			logger.Warnf("wallet: discarding undecodable persisted balances for %s: %v", state.TradingMode, err)
		}
	}
	return snap
}

func (a *Aggregator) now() time.Time {
	if a.clock != nil {
		return a.clock()
	}
	return time.Now()
}
