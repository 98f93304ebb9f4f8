package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/dvirmail/cryptonew-sub011/internal/market"
	"github.com/dvirmail/cryptonew-sub011/internal/store/model"
)

type mockTradeRepo struct {
	mock.Mock
}

func (m *mockTradeRepo) InsertTrade(ctx context.Context, trade *model.TradeModel) error {
	args := m.Called(ctx, trade)
	return args.Error(0)
}

func (m *mockTradeRepo) TradeExistsForPosition(ctx context.Context, positionID string) (bool, error) {
	args := m.Called(ctx, positionID)
	return args.Bool(0), args.Error(1)
}

func (m *mockTradeRepo) ListRecentTrades(ctx context.Context, tradingMode string, limit int) ([]model.TradeModel, error) {
	args := m.Called(ctx, tradingMode, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.TradeModel), args.Error(1)
}

func newTestAnalyzer(trades *mockTradeRepo, now time.Time) *Analyzer {
	a := NewAnalyzer(trades, "USDT")
	a.clock = func() time.Time { return now }
	return a
}

func position(id string, qty float64, age time.Duration, now time.Time) model.PositionModel {
	return model.PositionModel{
		PositionID:     id,
		Symbol:         "BTCUSDT",
		Quantity:       qty,
		EntryPrice:     50000,
		CurrentPrice:   51000,
		EntryTimestamp: now.Add(-age).UnixMilli(),
		Status:         model.PositionStatusOpen,
	}
}

func holdingsOf(asset string, free float64) map[string]market.Holding {
	return map[string]market.Holding{
		asset: {Asset: asset, Free: free},
	}
}

func TestAnalyze_SevereMismatchIsGhost(t *testing.T) {
	now := time.Now()
	trades := new(mockTradeRepo)
	trades.On("TradeExistsForPosition", mock.Anything, "p1").Return(false, nil)
	a := newTestAnalyzer(trades, now)

	// ratio 0.09 sits below the severe-mismatch bar.
	out := a.Analyze(context.Background(), position("p1", 10, 2*time.Hour, now), holdingsOf("BTC", 0.9))
	assert.True(t, out.IsGhost)
	assert.True(t, out.Factors.SevereMismatch)
	assert.InDelta(t, 0.09, out.Factors.QuantityRatio, 1e-9)
}

func TestAnalyze_NearMatchIsLegitimate(t *testing.T) {
	now := time.Now()
	trades := new(mockTradeRepo)
	trades.On("TradeExistsForPosition", mock.Anything, "p2").Return(false, nil)
	a := newTestAnalyzer(trades, now)

	out := a.Analyze(context.Background(), position("p2", 10, 2*time.Hour, now), holdingsOf("BTC", 9.6))
	assert.False(t, out.IsGhost)
	assert.True(t, out.Factors.QuantityMatch)
	assert.InDelta(t, 0.96, out.Factors.QuantityRatio, 1e-9)
}

func TestAnalyze_OldMismatchWithoutHistoryIsGhost(t *testing.T) {
	now := time.Now()
	trades := new(mockTradeRepo)
	trades.On("TradeExistsForPosition", mock.Anything, "p3").Return(false, nil)
	a := newTestAnalyzer(trades, now)

	out := a.Analyze(context.Background(), position("p3", 10, 48*time.Hour, now), holdingsOf("BTC", 5))
	assert.True(t, out.IsGhost)
	assert.Contains(t, out.Reason, "no closing trade")
}

func TestAnalyze_MismatchWithHistoryStaysLegitimate(t *testing.T) {
	now := time.Now()
	trades := new(mockTradeRepo)
	trades.On("TradeExistsForPosition", mock.Anything, "p4").Return(true, nil)
	a := newTestAnalyzer(trades, now)

	// A closing trade explains the missing quantity: partial close recorded.
	out := a.Analyze(context.Background(), position("p4", 10, 48*time.Hour, now), holdingsOf("BTC", 5))
	assert.False(t, out.IsGhost)
}

func TestAnalyze_InvalidPricesAreGhost(t *testing.T) {
	now := time.Now()
	trades := new(mockTradeRepo)
	trades.On("TradeExistsForPosition", mock.Anything, "p5").Return(false, nil)
	a := newTestAnalyzer(trades, now)

	pos := position("p5", 10, 2*time.Hour, now)
	pos.CurrentPrice = 0
	out := a.Analyze(context.Background(), pos, holdingsOf("BTC", 10))
	assert.True(t, out.IsGhost)
	assert.False(t, out.Factors.PricesValid)
}

func TestAnalyze_FreshPositionExemptFromCurrentPrice(t *testing.T) {
	now := time.Now()
	trades := new(mockTradeRepo)
	trades.On("TradeExistsForPosition", mock.Anything, "p6").Return(false, nil)
	a := newTestAnalyzer(trades, now)

	pos := position("p6", 10, 2*time.Minute, now)
	pos.CurrentPrice = 0
	out := a.Analyze(context.Background(), pos, holdingsOf("BTC", 10))
	assert.False(t, out.IsGhost)
	assert.True(t, out.Factors.PricesValid)
}

func TestAnalyze_HistoryLookupFailureCountsAsNoHistory(t *testing.T) {
	now := time.Now()
	trades := new(mockTradeRepo)
	trades.On("TradeExistsForPosition", mock.Anything, "p7").Return(false, assert.AnError)
	a := newTestAnalyzer(trades, now)

	out := a.Analyze(context.Background(), position("p7", 10, 48*time.Hour, now), holdingsOf("BTC", 5))
	assert.True(t, out.IsGhost)
	assert.False(t, out.Factors.HasTradeHistory)
}

func TestConfidenceScore(t *testing.T) {
	now := time.Now()
	trades := new(mockTradeRepo)
	trades.On("TradeExistsForPosition", mock.Anything, mock.Anything).Return(true, nil)
	a := newTestAnalyzer(trades, now)

	out := a.Analyze(context.Background(), position("p8", 10, 2*time.Hour, now), holdingsOf("BTC", 10))
	// match + valid prices + history + not old
	assert.Equal(t, 100, out.Confidence)

	outOld := a.Analyze(context.Background(), position("p9", 10, 48*time.Hour, now), holdingsOf("BTC", 10))
	assert.Equal(t, 90, outOld.Confidence)
}
