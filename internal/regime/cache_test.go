package regime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStreakCache(t *testing.T) *Cache {
	t.Helper()
	return NewCache(NewDetector(nil, "BTCUSDT", "1h"), nil, nil, time.Hour, 3)
}

// step feeds one computation through the streak state machine the way
// GetOrCompute does after a successful detector run.
func (c *Cache) step(comp Computation, now time.Time) Snapshot {
	snap := c.apply(comp, now)
	c.mu.Lock()
	c.snap = snap
	c.hasSnap = true
	c.mu.Unlock()
	return snap
}

func TestConfirmationStreak(t *testing.T) {
	c := newStreakCache(t)
	now := time.Now()
	up := Computation{Regime: RegimeUptrend, Confidence: 0.8}

	first := c.step(up, now)
	assert.Equal(t, 1, first.ConsecutivePeriods)
	assert.False(t, first.IsConfirmed)

	second := c.step(up, now.Add(time.Hour))
	assert.Equal(t, 2, second.ConsecutivePeriods)
	assert.False(t, second.IsConfirmed)

	third := c.step(up, now.Add(2*time.Hour))
	assert.Equal(t, 3, third.ConsecutivePeriods)
	assert.True(t, third.IsConfirmed)

	// A different regime breaks the run back to 1.
	down := Computation{Regime: RegimeDowntrend, Confidence: 0.7}
	fourth := c.step(down, now.Add(3*time.Hour))
	assert.Equal(t, 1, fourth.ConsecutivePeriods)
	assert.False(t, fourth.IsConfirmed)
	assert.Equal(t, RegimeDowntrend, fourth.Regime)
	assert.Len(t, fourth.History, 4)
}

func TestCacheValidity(t *testing.T) {
	c := newStreakCache(t)
	now := time.Now()
	c.clock = func() time.Time { return now }

	assert.False(t, c.IsCacheValid())
	c.step(Computation{Regime: RegimeRanging, Confidence: 0.6}, now)
	assert.True(t, c.IsCacheValid())

	c.clock = func() time.Time { return now.Add(2 * time.Hour) }
	assert.False(t, c.IsCacheValid())
}

func TestFallbackSnapshot(t *testing.T) {
	snap := Fallback("BTCUSDT", "1h", time.Now())
	assert.Equal(t, RegimeNeutral, snap.Regime)
	assert.InDelta(t, 0.5, snap.Confidence, 1e-9)
	assert.False(t, snap.IsConfirmed)
	assert.Equal(t, 0, snap.ConsecutivePeriods)
}

func TestSnapshotModelRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond).UTC()
	in := Snapshot{
		Symbol:                "BTCUSDT",
		Interval:              "1h",
		Regime:                RegimeUptrend,
		Confidence:            0.82,
		ConsecutivePeriods:    5,
		ConfirmationThreshold: 3,
		IsConfirmed:           true,
		History: []HistoryEntry{
			{Regime: RegimeRanging, Timestamp: now.Add(-2 * time.Hour)},
			{Regime: RegimeUptrend, Timestamp: now.Add(-time.Hour)},
			{Regime: RegimeUptrend, Timestamp: now},
		},
		CalculatedAt: now,
	}

	rec, err := snapshotToModel(in)
	require.NoError(t, err)
	out, err := snapshotFromModel(rec)
	require.NoError(t, err)

	assert.Equal(t, in.Symbol, out.Symbol)
	assert.Equal(t, in.Regime, out.Regime)
	assert.Equal(t, in.ConsecutivePeriods, out.ConsecutivePeriods)
	assert.Equal(t, in.ConfirmationThreshold, out.ConfirmationThreshold)
	assert.True(t, out.IsConfirmed)
	assert.Len(t, out.History, len(in.History))
	assert.Equal(t, in.CalculatedAt.UnixMilli(), out.CalculatedAt.UnixMilli())
}

func TestSnapshotFromModelRejectsCorruptPayload(t *testing.T) {
	rec, err := snapshotToModel(Fallback("BTCUSDT", "1h", time.Now()))
	require.NoError(t, err)
	rec.Payload = []byte(`{"regime": 42}`)

	_, err = snapshotFromModel(rec)
	assert.Error(t, err)
}
