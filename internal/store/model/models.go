package model

import (
	"time"

	"gorm.io/datatypes"
)

type PositionStatus int

const (
	PositionStatusUnknown  PositionStatus = 0
	PositionStatusOpen     PositionStatus = 1
	PositionStatusTrailing PositionStatus = 2
	PositionStatusClosed   PositionStatus = 3
)

func (s PositionStatus) Active() bool {
	return s == PositionStatusOpen || s == PositionStatusTrailing
}

func (s PositionStatus) String() string {
	switch s {
	case PositionStatusOpen:
		return "open"
	case PositionStatusTrailing:
		return "trailing"
	case PositionStatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PositionModel is the locally recorded view of one exchange-side order pair.
type PositionModel struct {
	ID                int64          `gorm:"column:id;primaryKey"`
	PositionID        string         `gorm:"column:position_id;uniqueIndex"`
	Symbol            string         `gorm:"column:symbol;index"`
	TradingMode       string         `gorm:"column:trading_mode;index"`
	WalletID          string         `gorm:"column:wallet_id;index"`
	Quantity          float64        `gorm:"column:quantity"`
	EntryPrice        float64        `gorm:"column:entry_price"`
	EntryTimestamp    int64          `gorm:"column:entry_timestamp"`
	CurrentPrice      float64        `gorm:"column:current_price"`
	StopLossPrice     float64        `gorm:"column:stop_loss_price"`
	TakeProfitPrice   float64        `gorm:"column:take_profit_price"`
	TrailingStopPrice float64        `gorm:"column:trailing_stop_price"`
	TimeExitHours     float64        `gorm:"column:time_exit_hours"`
	Status            PositionStatus `gorm:"column:status;index"`
	CreatedAtUnix     int64          `gorm:"column:created_at"`
	UpdatedAtUnix     int64          `gorm:"column:updated_at"`

	CreatedAt time.Time `gorm:"-"`
	UpdatedAt time.Time `gorm:"-"`
}

func (PositionModel) TableName() string { return "positions" }

// EntryTime converts the stored millisecond timestamp.
func (p PositionModel) EntryTime() time.Time {
	if p.EntryTimestamp <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(p.EntryTimestamp).UTC()
}

// TradeModel records one terminal close of a position.
type TradeModel struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	PositionID    string  `gorm:"column:position_id;index"`
	Symbol        string  `gorm:"column:symbol;index"`
	TradingMode   string  `gorm:"column:trading_mode;index"`
	WalletID      string  `gorm:"column:wallet_id;index"`
	Quantity      float64 `gorm:"column:quantity"`
	EntryPrice    float64 `gorm:"column:entry_price"`
	ExitPrice     float64 `gorm:"column:exit_price"`
	RealizedPnl   float64 `gorm:"column:realized_pnl"`
	ClosedAtUnix  int64   `gorm:"column:closed_at"`
	CreatedAtUnix int64   `gorm:"column:created_at"`
}

func (TradeModel) TableName() string { return "trades" }

// RegimeStateModel persists the confirmation streak so a process restart
// does not spuriously break it. Payload holds the regime history as JSON.
type RegimeStateModel struct {
	ID                    int64          `gorm:"column:id;primaryKey"`
	Symbol                string         `gorm:"column:symbol;uniqueIndex:idx_regime_state,priority:1"`
	Interval              string         `gorm:"column:interval;uniqueIndex:idx_regime_state,priority:2"`
	Regime                string         `gorm:"column:regime"`
	Confidence            float64        `gorm:"column:confidence"`
	ConsecutivePeriods    int            `gorm:"column:consecutive_periods"`
	ConfirmationThreshold int            `gorm:"column:confirmation_threshold"`
	LastCalculatedUnix    int64          `gorm:"column:last_calculated"`
	Payload               datatypes.JSON `gorm:"column:payload;type:TEXT"`
	UpdatedAtUnix         int64          `gorm:"column:updated_at"`
}

func (RegimeStateModel) TableName() string { return "regime_states" }

// WalletStateModel is the last published wallet snapshot per trading mode,
// kept for dashboard reads across restarts.
type WalletStateModel struct {
	ID               int64          `gorm:"column:id;primaryKey"`
	TradingMode      string         `gorm:"column:trading_mode;uniqueIndex"`
	TotalEquity      float64        `gorm:"column:total_equity"`
	AvailableBalance float64        `gorm:"column:available_balance"`
	BalanceInTrades  float64        `gorm:"column:balance_in_trades"`
	UnrealizedPnl    float64        `gorm:"column:unrealized_pnl"`
	RealizedPnl      float64        `gorm:"column:realized_pnl"`
	OpenPositions    int            `gorm:"column:open_positions"`
	Balances         datatypes.JSON `gorm:"column:balances;type:TEXT"`
	UpdatedAtUnix    int64          `gorm:"column:updated_at"`
}

func (WalletStateModel) TableName() string { return "wallet_states" }
