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

type mockSource struct {
	mock.Mock
}

func (m *mockSource) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	return nil, nil
}

func (m *mockSource) TickerPrice(ctx context.Context, symbol string) (market.PriceQuote, error) {
	return market.PriceQuote{}, nil
}

func (m *mockSource) Ticker24h(ctx context.Context, symbol string) (market.Ticker24h, error) {
	return market.Ticker24h{}, nil
}

func (m *mockSource) AccountHoldings(ctx context.Context) ([]market.Holding, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]market.Holding), args.Error(1)
}

func (m *mockSource) Stats() market.SourceStats { return market.SourceStats{} }
func (m *mockSource) Close() error              { return nil }

type mockStore struct {
	mock.Mock
}

func (m *mockStore) SavePosition(ctx context.Context, pos *model.PositionModel) error { return nil }

func (m *mockStore) FindPosition(ctx context.Context, positionID string) (*model.PositionModel, error) {
	return nil, nil
}

func (m *mockStore) ListActivePositions(ctx context.Context, tradingMode, walletID string) ([]model.PositionModel, error) {
	args := m.Called(ctx, tradingMode, walletID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.PositionModel), args.Error(1)
}

func (m *mockStore) DeletePosition(ctx context.Context, positionID string) error {
	args := m.Called(ctx, positionID)
	return args.Error(0)
}

func (m *mockStore) InsertTrade(ctx context.Context, trade *model.TradeModel) error { return nil }

func (m *mockStore) TradeExistsForPosition(ctx context.Context, positionID string) (bool, error) {
	args := m.Called(ctx, positionID)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) ListRecentTrades(ctx context.Context, tradingMode string, limit int) ([]model.TradeModel, error) {
	return nil, nil
}

func (m *mockStore) SaveRegimeState(ctx context.Context, state *model.RegimeStateModel) error {
	return nil
}

func (m *mockStore) LoadRegimeState(ctx context.Context, symbol, interval string) (*model.RegimeStateModel, error) {
	return nil, nil
}

func (m *mockStore) SaveWalletState(ctx context.Context, state *model.WalletStateModel) error {
	return nil
}

func (m *mockStore) LoadWalletState(ctx context.Context, tradingMode string) (*model.WalletStateModel, error) {
	return nil, nil
}

func (m *mockStore) Close() error { return nil }

func newTestReconciler(source *mockSource, st *mockStore) *Reconciler {
	return NewReconciler(source, st, ReconcilerConfig{QuoteAsset: "USDT"}, nil)
}

func TestReconcile_ThrottleIsIdempotent(t *testing.T) {
	source := new(mockSource)
	st := new(mockStore)
	source.On("AccountHoldings", mock.Anything).Return([]market.Holding{}, nil)
	st.On("ListActivePositions", mock.Anything, "testnet", "w1").Return([]model.PositionModel{}, nil)

	r := newTestReconciler(source, st)
	first := r.Reconcile(context.Background(), "testnet", "w1")
	assert.True(t, first.Success)
	assert.False(t, first.Throttled)

	second := r.Reconcile(context.Background(), "testnet", "w1")
	assert.True(t, second.Success)
	assert.True(t, second.Throttled)

	// The second call must not have touched the exchange or the store.
	source.AssertNumberOfCalls(t, "AccountHoldings", 1)
	st.AssertNumberOfCalls(t, "ListActivePositions", 1)
}

func TestReconcile_AttemptCapBlocksWithoutIO(t *testing.T) {
	source := new(mockSource)
	st := new(mockStore)
	r := newTestReconciler(source, st)
	r.attempts[walletKey("testnet", "w1")] = &attemptEntry{attempts: r.maxAttempts, lastAttemptAt: time.Now()}

	res := r.Reconcile(context.Background(), "testnet", "w1")
	assert.False(t, res.Success)
	assert.Equal(t, r.maxAttempts, res.Attempts)
	source.AssertNotCalled(t, "AccountHoldings", mock.Anything)
	st.AssertNotCalled(t, "ListActivePositions", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcile_FailureIncrementsThenSuccessResets(t *testing.T) {
	source := new(mockSource)
	st := new(mockStore)
	source.On("AccountHoldings", mock.Anything).Return(nil, assert.AnError).Once()
	source.On("AccountHoldings", mock.Anything).Return([]market.Holding{}, nil)
	st.On("ListActivePositions", mock.Anything, "testnet", "w1").Return([]model.PositionModel{}, nil)

	r := newTestReconciler(source, st)
	failed := r.Reconcile(context.Background(), "testnet", "w1")
	assert.False(t, failed.Success)
	assert.Equal(t, 1, failed.Attempts)
	assert.Equal(t, 1, r.Attempts("testnet", "w1"))

	// A failed pass does not arm the throttle, so the retry runs.
	ok := r.Reconcile(context.Background(), "testnet", "w1")
	assert.True(t, ok.Success)
	assert.Equal(t, 0, r.Attempts("testnet", "w1"))
}

func TestReconcile_DeletesGhostsAndReportsPartition(t *testing.T) {
	now := time.Now()
	source := new(mockSource)
	st := new(mockStore)
	ghost := model.PositionModel{
		PositionID:     "ghost-1",
		Symbol:         "BTCUSDT",
		Quantity:       10,
		EntryPrice:     50000,
		CurrentPrice:   51000,
		EntryTimestamp: now.Add(-48 * time.Hour).UnixMilli(),
		Status:         model.PositionStatusOpen,
	}
	legit := model.PositionModel{
		PositionID:     "legit-1",
		Symbol:         "ETHUSDT",
		Quantity:       5,
		EntryPrice:     3000,
		CurrentPrice:   3100,
		EntryTimestamp: now.Add(-2 * time.Hour).UnixMilli(),
		Status:         model.PositionStatusOpen,
	}
	source.On("AccountHoldings", mock.Anything).Return([]market.Holding{
		{Asset: "ETH", Free: 5},
		{Asset: "USDT", Free: 1000},
	}, nil)
	st.On("ListActivePositions", mock.Anything, "testnet", "w1").Return([]model.PositionModel{ghost, legit}, nil)
	st.On("TradeExistsForPosition", mock.Anything, mock.Anything).Return(false, nil)
	st.On("DeletePosition", mock.Anything, "ghost-1").Return(nil)

	r := newTestReconciler(source, st)
	res := r.Reconcile(context.Background(), "testnet", "w1")
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 1, res.GhostsDeleted)
	assert.Equal(t, 1, res.Legitimate)
	assert.Empty(t, res.DeleteErrors)
	st.AssertCalled(t, "DeletePosition", mock.Anything, "ghost-1")
	st.AssertNotCalled(t, "DeletePosition", mock.Anything, "legit-1")
}

func TestReconcile_DeleteErrorsDoNotFailThePass(t *testing.T) {
	now := time.Now()
	source := new(mockSource)
	st := new(mockStore)
	ghost := model.PositionModel{
		PositionID:     "ghost-2",
		Symbol:         "BTCUSDT",
		Quantity:       10,
		EntryPrice:     50000,
		CurrentPrice:   51000,
		EntryTimestamp: now.Add(-48 * time.Hour).UnixMilli(),
		Status:         model.PositionStatusOpen,
	}
	source.On("AccountHoldings", mock.Anything).Return([]market.Holding{}, nil)
	st.On("ListActivePositions", mock.Anything, "testnet", "w1").Return([]model.PositionModel{ghost}, nil)
	st.On("TradeExistsForPosition", mock.Anything, "ghost-2").Return(false, nil)
	st.On("DeletePosition", mock.Anything, "ghost-2").Return(assert.AnError)

	r := newTestReconciler(source, st)
	res := r.Reconcile(context.Background(), "testnet", "w1")
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.GhostsDeleted)
	assert.Len(t, res.DeleteErrors, 1)
	assert.Equal(t, 0, r.Attempts("testnet", "w1"))
}

func TestAutoHealSweep(t *testing.T) {
	source := new(mockSource)
	st := new(mockStore)
	r := newTestReconciler(source, st)
	now := time.Now()
	r.attempts[walletKey("testnet", "stuck")] = &attemptEntry{attempts: 16, lastAttemptAt: now.Add(-11 * time.Minute)}
	r.attempts[walletKey("testnet", "active")] = &attemptEntry{attempts: 16, lastAttemptAt: now.Add(-time.Minute)}
	r.attempts[walletKey("testnet", "healthy")] = &attemptEntry{attempts: 2, lastAttemptAt: now.Add(-time.Hour)}

	r.AutoHealSweep()

	assert.Equal(t, 0, r.Attempts("testnet", "stuck"))
	assert.Equal(t, 16, r.Attempts("testnet", "active"))
	assert.Equal(t, 2, r.Attempts("testnet", "healthy"))
}
