package regime

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/markcheno/go-talib"

	"github.com/dvirmail/cryptonew-sub011/internal/market"
	"github.com/dvirmail/cryptonew-sub011/internal/scheduler"
)

const (
	MinCandles    = 50
	TargetCandles = 300

	adxPeriod     = 14
	rsiPeriod     = 14
	atrPeriod     = 14
	emaFastPeriod = 21
	emaSlowPeriod = 50
	volumePeriod  = 20

	adxTrending = 25.0
	adxFlat     = 20.0
)

// Detector pulls candles for one pair/timeframe and derives a regime label
// with a confidence score. It holds no cross-call state; streak tracking
// lives in Cache.
type Detector struct {
	source   market.Source
	symbol   string
	interval string
}

// Computation is one detector output before streak accounting.
type Computation struct {
	Regime     Regime
	Confidence float64
	Indicators Indicators
}

func NewDetector(source market.Source, symbol, interval string) *Detector {
	return &Detector{
		source:   source,
		symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		interval: strings.ToLower(strings.TrimSpace(interval)),
	}
}

func (d *Detector) Symbol() string   { return d.symbol }
func (d *Detector) Interval() string { return d.interval }

// Compute fetches candles and classifies the current regime. The result is
// complete or the error is non-nil; partial indicator state never escapes.
func (d *Detector) Compute(ctx context.Context) (Computation, error) {
	if d == nil || d.source == nil {
		return Computation{}, fmt.Errorf("regime detector not initialized")
	}
	candles, err := d.source.FetchHistory(ctx, d.symbol, d.interval, TargetCandles)
	if err != nil {
		return Computation{}, fmt.Errorf("fetching candles failed: %w", err)
	}
	if dur, ok := scheduler.ParseIntervalDuration(d.interval); ok {
		candles = scheduler.DropUnclosedKline(candles, dur)
	}
	if len(candles) < MinCandles {
		return Computation{}, fmt.Errorf("insufficient candles: got %d, need %d", len(candles), MinCandles)
	}

	ind, err := computeIndicators(candles)
	if err != nil {
		return Computation{}, err
	}
	label, confidence := classify(ind)
	return Computation{Regime: label, Confidence: confidence, Indicators: ind}, nil
}

func computeIndicators(candles []market.Candle) (Indicators, error) {
	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}

	adx := talib.Adx(highs, lows, closes, adxPeriod)
	emaFast := talib.Ema(closes, emaFastPeriod)
	emaSlow := talib.Ema(closes, emaSlowPeriod)
	rsi := talib.Rsi(closes, rsiPeriod)
	atr := talib.Atr(highs, lows, closes, atrPeriod)
	volSMA := talib.Sma(volumes, volumePeriod)

	ind := Indicators{
		ADX:       last(adx),
		EMAFast:   last(emaFast),
		EMASlow:   last(emaSlow),
		RSI:       last(rsi),
		LastClose: closes[len(closes)-1],
	}
	if ind.LastClose > 0 {
		ind.ATRRatio = last(atr) / ind.LastClose
	}
	if avg := last(volSMA); avg > 0 {
		ind.VolumeRatio = volumes[len(volumes)-1] / avg
	}

	for name, v := range map[string]float64{
		"adx": ind.ADX, "ema_fast": ind.EMAFast, "ema_slow": ind.EMASlow,
		"rsi": ind.RSI, "close": ind.LastClose,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Indicators{}, fmt.Errorf("malformed indicator output: %s=%v", name, v)
		}
	}
	if ind.LastClose <= 0 || ind.EMAFast <= 0 || ind.EMASlow <= 0 {
		return Indicators{}, fmt.Errorf("malformed indicator output: non-positive price series")
	}
	return ind, nil
}

// classify maps the indicator set to a regime label plus confidence in [0,1].
func classify(ind Indicators) (Regime, float64) {
	trendUp := ind.EMAFast > ind.EMASlow
	emaGap := 0.0
	if ind.EMASlow > 0 {
		emaGap = math.Abs(ind.EMAFast-ind.EMASlow) / ind.EMASlow
	}

	switch {
	case ind.ADX >= adxTrending && trendUp && ind.RSI > 50:
		return RegimeUptrend, trendConfidence(ind, emaGap)
	case ind.ADX >= adxTrending && !trendUp && ind.RSI < 50:
		return RegimeDowntrend, trendConfidence(ind, emaGap)
	case ind.ADX < adxFlat:
		// Flat trend strength with compressed ranges reads as ranging.
		conf := 0.5 + clamp01((adxFlat-ind.ADX)/adxFlat)*0.3
		if ind.ATRRatio > 0 && ind.ATRRatio < 0.02 {
			conf += 0.1
		}
		return RegimeRanging, clamp01(conf)
	default:
		return RegimeNeutral, 0.5
	}
}

func trendConfidence(ind Indicators, emaGap float64) float64 {
	adxScore := clamp01((ind.ADX - adxTrending) / 25.0)
	momentumScore := clamp01(math.Abs(ind.RSI-50) / 50.0)
	gapScore := clamp01(emaGap / 0.05)
	conf := 0.5 + 0.2*adxScore + 0.15*momentumScore + 0.15*gapScore
	if ind.VolumeRatio > 1.2 {
		conf += 0.05
	}
	return clamp01(conf)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func last(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}
