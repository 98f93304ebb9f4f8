package reconcile

import (
	"context"
	"strings"
	"time"

	"github.com/dvirmail/cryptonew-sub011/internal/logger"
	"github.com/dvirmail/cryptonew-sub011/internal/market"
	"github.com/dvirmail/cryptonew-sub011/internal/store"
	"github.com/dvirmail/cryptonew-sub011/internal/store/model"
)

const (
	// quantityMatchRatio is the ghost-detection threshold: the exchange must
	// hold at least this fraction of the recorded quantity.
	quantityMatchRatio = 0.95
	// severeMismatchRatio marks holdings so far below the record that the
	// position cannot be real.
	severeMismatchRatio = 0.1
	oldPositionAge      = 24 * time.Hour
	// freshPositionWindow exempts just-opened positions from requiring a
	// current price; no tick may have arrived yet.
	freshPositionWindow = 5 * time.Minute
)

// Factors are the independent signals feeding a ghost verdict.
type Factors struct {
	QuantityRatio   float64 `json:"quantity_ratio"`
	QuantityMatch   bool    `json:"quantity_match"`
	SevereMismatch  bool    `json:"severe_mismatch"`
	AgeHours        float64 `json:"age_hours"`
	IsOld           bool    `json:"is_old"`
	PricesValid     bool    `json:"prices_valid"`
	HasTradeHistory bool    `json:"has_trade_history"`
	// OrderHistory is a reserved extension point; it stays "unknown" and
	// must not affect the verdict until implemented.
	OrderHistory string `json:"order_history"`
}

// GhostAnalysis is the ephemeral per-position verdict of one pass. It is
// never persisted; it only drives the delete decision and the audit line.
type GhostAnalysis struct {
	PositionID       string  `json:"position_id"`
	Symbol           string  `json:"symbol"`
	ExpectedQuantity float64 `json:"expected_quantity"`
	HeldQuantity     float64 `json:"held_quantity"`
	IsGhost          bool    `json:"is_ghost"`
	Reason           string  `json:"reason"`
	// Confidence is diagnostic only (0-100); classification never reads it.
	Confidence int     `json:"confidence"`
	Factors    Factors `json:"factors"`
}

// Analyzer scores one local position against exchange holdings and trade
// history.
type Analyzer struct {
	trades     store.TradeRepository
	quoteAsset string
	clock      func() time.Time
}

func NewAnalyzer(trades store.TradeRepository, quoteAsset string) *Analyzer {
	quoteAsset = strings.ToUpper(strings.TrimSpace(quoteAsset))
	if quoteAsset == "" {
		quoteAsset = "USDT"
	}
	return &Analyzer{trades: trades, quoteAsset: quoteAsset, clock: time.Now}
}

// Analyze classifies pos as ghost or legitimate given one consistent
// holdings snapshot.
func (a *Analyzer) Analyze(ctx context.Context, pos model.PositionModel, holdings map[string]market.Holding) GhostAnalysis {
	out := GhostAnalysis{
		PositionID:       pos.PositionID,
		Symbol:           pos.Symbol,
		ExpectedQuantity: pos.Quantity,
		Factors:          Factors{OrderHistory: "unknown"},
	}

	asset := a.baseAsset(pos.Symbol)
	if holding, ok := holdings[asset]; ok {
		out.HeldQuantity = holding.Total()
	}

	if pos.Quantity > 0 {
		out.Factors.QuantityRatio = out.HeldQuantity / pos.Quantity
	}
	out.Factors.QuantityMatch = out.Factors.QuantityRatio >= quantityMatchRatio
	out.Factors.SevereMismatch = out.Factors.QuantityRatio < severeMismatchRatio

	age := a.now().Sub(pos.EntryTime())
	out.Factors.AgeHours = age.Hours()
	out.Factors.IsOld = age > oldPositionAge

	fresh := age < freshPositionWindow
	out.Factors.PricesValid = pos.EntryPrice > 0 && (pos.CurrentPrice > 0 || fresh)

	out.Factors.HasTradeHistory = a.tradeHistoryExists(ctx, pos.PositionID)

	out.IsGhost, out.Reason = classifyGhost(out.Factors)
	out.Confidence = confidenceScore(out.Factors)
	return out
}

// classifyGhost applies the verdict rules in priority order; first match wins.
func classifyGhost(f Factors) (bool, string) {
	switch {
	case f.SevereMismatch:
		return true, "severe quantity mismatch: exchange holds under 10% of recorded quantity"
	case !f.PricesValid:
		return true, "invalid entry/current price: record treated as corrupted"
	case !f.QuantityMatch && !f.HasTradeHistory && f.IsOld:
		return true, "quantity mismatch with no closing trade on an old position"
	default:
		return false, "holdings consistent with local record"
	}
}

// confidenceScore is a 0-100 legitimacy score for the audit log.
func confidenceScore(f Factors) int {
	score := 0
	if f.QuantityMatch {
		score += 40
	}
	if f.PricesValid {
		score += 30
	}
	if f.HasTradeHistory {
		score += 20
	}
	if !f.IsOld {
		score += 10
	}
	return score
}

// tradeHistoryExists is weak evidence: a lookup failure counts as "no
// history" rather than failing the pass.
func (a *Analyzer) tradeHistoryExists(ctx context.Context, positionID string) bool {
	if a.trades == nil {
		return false
	}
	exists, err := a.trades.TradeExistsForPosition(ctx, positionID)
	if err != nil {
		logger.Warnf("reconcile: trade history lookup failed for %s: %v", positionID, err)
		return false
	}
	return exists
}

func (a *Analyzer) baseAsset(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	symbol = strings.ReplaceAll(symbol, "/", "")
	return strings.TrimSuffix(symbol, a.quoteAsset)
}

func (a *Analyzer) now() time.Time {
	if a.clock != nil {
		return a.clock()
	}
	return time.Now()
}
