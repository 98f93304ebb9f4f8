package regime

import (
	"strings"
	"time"

	"github.com/dvirmail/cryptonew-sub011/internal/market"
)

type Regime string

const (
	RegimeUptrend   Regime = "uptrend"
	RegimeDowntrend Regime = "downtrend"
	RegimeRanging   Regime = "ranging"
	RegimeNeutral   Regime = "neutral"
)

func ParseRegime(raw string) Regime {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "uptrend":
		return RegimeUptrend
	case "downtrend":
		return RegimeDowntrend
	case "ranging":
		return RegimeRanging
	default:
		return RegimeNeutral
	}
}

// HistoryEntry is one classification in the confirmation history.
type HistoryEntry struct {
	Regime    Regime    `json:"regime"`
	Timestamp time.Time `json:"timestamp"`
}

// Indicators is the fixed indicator set the classifier consumes.
type Indicators struct {
	ADX         float64 `json:"adx"`
	EMAFast     float64 `json:"ema_fast"`
	EMASlow     float64 `json:"ema_slow"`
	RSI         float64 `json:"rsi"`
	ATRRatio    float64 `json:"atr_ratio"`
	VolumeRatio float64 `json:"volume_ratio"`
	LastClose   float64 `json:"last_close"`
}

// Snapshot is the published regime view. IsConfirmed holds exactly when
// ConsecutivePeriods >= ConfirmationThreshold.
type Snapshot struct {
	Symbol                string                `json:"symbol"`
	Interval              string                `json:"interval"`
	Regime                Regime                `json:"regime"`
	Confidence            float64               `json:"confidence"`
	IsConfirmed           bool                  `json:"is_confirmed"`
	ConsecutivePeriods    int                   `json:"consecutive_periods"`
	ConfirmationThreshold int                   `json:"confirmation_threshold"`
	History               []HistoryEntry        `json:"history,omitempty"`
	Indicators            Indicators            `json:"indicators"`
	Sentiment             *market.SentimentData `json:"sentiment,omitempty"`
	CalculatedAt          time.Time             `json:"calculated_at"`
}

// Fallback is the conservative snapshot returned when computation fails.
func Fallback(symbol, interval string, now time.Time) Snapshot {
	return Snapshot{
		Symbol:                symbol,
		Interval:              interval,
		Regime:                RegimeNeutral,
		Confidence:            0.5,
		IsConfirmed:           false,
		ConsecutivePeriods:    0,
		ConfirmationThreshold: DefaultConfirmationThreshold,
		CalculatedAt:          now,
	}
}
