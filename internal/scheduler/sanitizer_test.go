package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dvirmail/cryptonew-sub011/internal/market"
)

func candleAt(openTime time.Time) market.Candle {
	return market.Candle{OpenTime: openTime.UnixMilli()}
}

func TestDropUnclosedKline(t *testing.T) {
	interval := time.Hour
	boundary := time.Now().UTC().Truncate(time.Hour)
	klines := []market.Candle{
		candleAt(boundary.Add(-2 * time.Hour)),
		candleAt(boundary.Add(-time.Hour)),
		candleAt(boundary),
	}

	t.Run("in-progress last candle dropped", func(t *testing.T) {
		now := boundary.Add(30 * time.Minute)
		out := dropUnclosedKlineAt(klines, interval, now, DefaultKlineGrace)
		assert.Len(t, out, 2)
	})

	t.Run("closed last candle kept after grace", func(t *testing.T) {
		now := boundary.Add(interval + 30*time.Second)
		out := dropUnclosedKlineAt(klines, interval, now, DefaultKlineGrace)
		assert.Len(t, out, 3)
	})

	t.Run("inside grace still dropped", func(t *testing.T) {
		now := boundary.Add(interval + 5*time.Second)
		out := dropUnclosedKlineAt(klines, interval, now, DefaultKlineGrace)
		assert.Len(t, out, 2)
	})

	t.Run("empty input untouched", func(t *testing.T) {
		out := dropUnclosedKlineAt(nil, interval, time.Now(), DefaultKlineGrace)
		assert.Empty(t, out)
	})
}

func TestParseIntervalDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"15m", 15 * time.Minute, true},
		{"1h", time.Hour, true},
		{"4h", 4 * time.Hour, true},
		{"1d", 24 * time.Hour, true},
		{"1w", 7 * 24 * time.Hour, true},
		{"", 0, false},
		{"h", 0, false},
		{"0m", 0, false},
		{"10x", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseIntervalDuration(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}
