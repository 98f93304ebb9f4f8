// Package pricegate validates candidate exit prices before a position close
// is allowed to proceed. It exists because a rolling 24h-ticker "last price"
// once slipped through a naive range check hours stale and was used as an
// exit price; the gate enforces that only genuinely current quotes pass.
package pricegate

import (
	"fmt"
	"math"
	"time"
)

// PriceSource tags where the candidate price came from.
type PriceSource string

const (
	// SourceTicker is the latest trade/ticker price, the only accepted feed.
	SourceTicker PriceSource = "ticker"
	// SourceRolling24h is the last-price field of a 24h statistics ticker.
	// It can be hours stale and is rejected outright.
	SourceRolling24h PriceSource = "rolling_24h"
	SourceUnknown    PriceSource = ""
)

const (
	// DeviationCeiling is the maximum relative distance from entry a
	// candidate may sit at once the grace window has passed.
	DeviationCeiling = 0.20
	// GraceWindow covers just-opened positions where no fresh tick has
	// arrived yet; inside it GraceDeviationCeiling applies instead.
	GraceWindow           = 10 * time.Minute
	GraceDeviationCeiling = 0.50
)

// Context carries the position facts the gate needs.
type Context struct {
	Symbol      string
	PositionAge time.Duration
	Source      PriceSource
}

// Result is the gate verdict. On rejection the caller must skip the close
// for this cycle and retry with a freshly fetched price next cycle; falling
// back to a second stale source is never valid.
type Result struct {
	Accepted bool
	Reason   string
}

func accept() Result { return Result{Accepted: true, Reason: "ok"} }

func reject(format string, v ...any) Result {
	return Result{Accepted: false, Reason: fmt.Sprintf(format, v...)}
}

// Validate checks a candidate exit price against the entry price and the
// position context. Pure function, no I/O.
func Validate(candidate, entry float64, ctx Context) Result {
	if math.IsNaN(candidate) || math.IsInf(candidate, 0) {
		return reject("candidate price is not a number")
	}
	if candidate <= 0 {
		return reject("candidate price %.8f is not positive", candidate)
	}
	if ctx.Source == SourceRolling24h {
		return reject("candidate sourced from 24h rolling statistic, not a live quote")
	}
	if math.IsNaN(entry) || math.IsInf(entry, 0) || entry <= 0 {
		return reject("entry price %.8f is invalid", entry)
	}

	deviation := math.Abs(candidate-entry) / entry
	ceiling := DeviationCeiling
	if ctx.PositionAge >= 0 && ctx.PositionAge < GraceWindow {
		ceiling = GraceDeviationCeiling
	}
	if deviation > ceiling {
		return reject("candidate %.8f deviates %.2f%% from entry %.8f (ceiling %.0f%%)",
			candidate, deviation*100, entry, ceiling*100)
	}
	return accept()
}
