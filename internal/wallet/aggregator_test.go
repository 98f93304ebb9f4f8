package wallet

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dvirmail/cryptonew-sub011/internal/market"
	"github.com/dvirmail/cryptonew-sub011/internal/store/model"
)

func newTestAggregator() *Aggregator {
	return NewAggregator(nil, nil, Config{QuoteAsset: "USDT", WalletID: "w1", DebounceWindow: 50 * time.Millisecond})
}

func TestBuildSnapshotDerivedFields(t *testing.T) {
	a := newTestAggregator()
	now := time.Now()
	a.clock = func() time.Time { return now }

	holdings := []market.Holding{
		{Asset: "USDT", Free: 1000, Locked: 0},
		{Asset: "BTC", Free: 0.5, Locked: 0},
		{Asset: "DUST", Free: 0, Locked: 0},
	}
	positions := []model.PositionModel{
		{PositionID: "p1", Symbol: "BTCUSDT", Quantity: 0.5, EntryPrice: 50000, CurrentPrice: 52000, Status: model.PositionStatusOpen},
	}
	trades := []model.TradeModel{
		{PositionID: "t1", RealizedPnl: 150},
		{PositionID: "t2", RealizedPnl: -50},
	}

	snap := a.buildSnapshot("testnet", holdings, positions, trades)

	assert.InDelta(t, 1000, snap.AvailableBalance, 1e-9)
	assert.InDelta(t, 25000, snap.BalanceInTrades, 1e-9)
	assert.InDelta(t, 1000, snap.UnrealizedPnl, 1e-9)
	assert.InDelta(t, 27000, snap.TotalEquity, 1e-9)
	assert.InDelta(t, 100, snap.TotalRealizedPnl, 1e-9)
	assert.Equal(t, 1, snap.OpenPositionsCount)
	// Zero-total balances are dropped from the published list.
	assert.Len(t, snap.Balances, 2)
	assert.Equal(t, now, snap.LastUpdated)
}

func TestDebounceDeliversOnlyLatest(t *testing.T) {
	a := newTestAggregator()

	var mu sync.Mutex
	var received []*Snapshot
	unsubscribe := a.Subscribe(func(s *Snapshot) {
		mu.Lock()
		received = append(received, s)
		mu.Unlock()
	})
	defer unsubscribe()

	first := &Snapshot{TradingMode: "testnet", TotalEquity: 1}
	second := &Snapshot{TradingMode: "testnet", TotalEquity: 2}
	a.publish(first)
	time.Sleep(10 * time.Millisecond)
	a.publish(second)

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, received, 1)
	assert.Same(t, second, received[0])
}

func TestDebounceSeparateWindowsDeliverSeparately(t *testing.T) {
	a := newTestAggregator()

	var mu sync.Mutex
	count := 0
	a.Subscribe(func(*Snapshot) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	a.publish(&Snapshot{TotalEquity: 1})
	time.Sleep(150 * time.Millisecond)
	a.publish(&Snapshot{TotalEquity: 2})
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, count)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	a := newTestAggregator()

	var mu sync.Mutex
	count := 0
	unsubscribe := a.Subscribe(func(*Snapshot) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	unsubscribe()

	a.publish(&Snapshot{TotalEquity: 1})
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, count)
}

func TestSnapshotFromModelRestoresBalances(t *testing.T) {
	state := &model.WalletStateModel{
		TradingMode:      "testnet",
		TotalEquity:      27000,
		AvailableBalance: 1000,
		BalanceInTrades:  25000,
		UnrealizedPnl:    1000,
		RealizedPnl:      100,
		OpenPositions:    1,
		Balances:         []byte(`[{"asset":"BTC","free":0.5,"locked":0}]`),
		UpdatedAtUnix:    time.Now().UnixMilli(),
	}
	snap := snapshotFromModel(state)
	assert.InDelta(t, 27000, snap.TotalEquity, 1e-9)
	assert.Len(t, snap.Balances, 1)
	assert.Equal(t, "BTC", snap.Balances[0].Asset)
}
