package store

import (
	"context"

	"github.com/dvirmail/cryptonew-sub011/internal/store/model"
)

// PositionRepository handles local position bookkeeping.
type PositionRepository interface {
	SavePosition(ctx context.Context, pos *model.PositionModel) error
	FindPosition(ctx context.Context, positionID string) (*model.PositionModel, error)
	// ListActivePositions returns open and trailing positions for one wallet.
	ListActivePositions(ctx context.Context, tradingMode, walletID string) ([]model.PositionModel, error)
	DeletePosition(ctx context.Context, positionID string) error
}

// TradeRepository handles closed-trade records.
type TradeRepository interface {
	InsertTrade(ctx context.Context, trade *model.TradeModel) error
	// TradeExistsForPosition reports whether a closed trade references the
	// position's business key.
	TradeExistsForPosition(ctx context.Context, positionID string) (bool, error)
	ListRecentTrades(ctx context.Context, tradingMode string, limit int) ([]model.TradeModel, error)
}

// RegimeStateRepository persists the regime confirmation streak.
type RegimeStateRepository interface {
	SaveRegimeState(ctx context.Context, state *model.RegimeStateModel) error
	LoadRegimeState(ctx context.Context, symbol, interval string) (*model.RegimeStateModel, error)
}

// WalletStateRepository persists the last published wallet snapshot.
type WalletStateRepository interface {
	SaveWalletState(ctx context.Context, state *model.WalletStateModel) error
	LoadWalletState(ctx context.Context, tradingMode string) (*model.WalletStateModel, error)
}

// Store is the entry point for database access.
type Store interface {
	PositionRepository
	TradeRepository
	RegimeStateRepository
	WalletStateRepository

	Close() error
}
