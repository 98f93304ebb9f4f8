package pricegate

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func agedContext(source PriceSource) Context {
	return Context{Symbol: "BTCUSDT", PositionAge: 2 * time.Hour, Source: source}
}

func TestValidate_DeviationCeiling(t *testing.T) {
	t.Run("within ceiling accepted", func(t *testing.T) {
		res := Validate(119, 100, agedContext(SourceTicker))
		assert.True(t, res.Accepted)
		assert.Equal(t, "ok", res.Reason)
	})

	t.Run("beyond ceiling rejected", func(t *testing.T) {
		res := Validate(121, 100, agedContext(SourceTicker))
		assert.False(t, res.Accepted)
		assert.Contains(t, res.Reason, "deviates")
	})

	t.Run("exactly at ceiling accepted", func(t *testing.T) {
		res := Validate(120, 100, agedContext(SourceTicker))
		assert.True(t, res.Accepted)
	})
}

func TestValidate_GraceWindow(t *testing.T) {
	fresh := Context{Symbol: "BTCUSDT", PositionAge: time.Minute, Source: SourceTicker}

	t.Run("fresh position gets the wider tolerance", func(t *testing.T) {
		res := Validate(140, 100, fresh)
		assert.True(t, res.Accepted)
	})

	t.Run("fresh position still capped", func(t *testing.T) {
		res := Validate(151, 100, fresh)
		assert.False(t, res.Accepted)
	})

	t.Run("aged position does not get grace", func(t *testing.T) {
		res := Validate(140, 100, agedContext(SourceTicker))
		assert.False(t, res.Accepted)
	})
}

func TestValidate_InvalidCandidates(t *testing.T) {
	cases := []struct {
		name      string
		candidate float64
	}{
		{"nan", math.NaN()},
		{"positive infinity", math.Inf(1)},
		{"zero", 0},
		{"negative", -5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Validate(tc.candidate, 100, agedContext(SourceTicker))
			assert.False(t, res.Accepted)
		})
	}
}

func TestValidate_InvalidEntry(t *testing.T) {
	res := Validate(100, 0, agedContext(SourceTicker))
	assert.False(t, res.Accepted)
	assert.Contains(t, res.Reason, "entry price")
}

func TestValidate_Rejects24hTickerSource(t *testing.T) {
	// The candidate itself looks perfectly plausible; the source alone
	// disqualifies it.
	res := Validate(101, 100, agedContext(SourceRolling24h))
	assert.False(t, res.Accepted)
	assert.Contains(t, res.Reason, "24h")
}
