package regime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gorm.io/datatypes"

	"github.com/dvirmail/cryptonew-sub011/internal/logger"
	"github.com/dvirmail/cryptonew-sub011/internal/market"
	"github.com/dvirmail/cryptonew-sub011/internal/store"
	"github.com/dvirmail/cryptonew-sub011/internal/store/model"
)

const (
	DefaultConfirmationThreshold = 3
	DefaultCacheValidity         = time.Hour
	historyMaxEntries            = 50
)

// Cache is the time-boxed wrapper around the detector. It owns the
// confirmation-streak state machine and is the only writer of the snapshot;
// all mutation goes through its methods.
type Cache struct {
	detector  *Detector
	states    store.RegimeStateRepository
	sentiment market.SentimentIndex

	validity  time.Duration
	threshold int

	mu      sync.RWMutex
	snap    Snapshot
	hasSnap bool
	clock   func() time.Time
}

func NewCache(detector *Detector, states store.RegimeStateRepository, sentiment market.SentimentIndex, validity time.Duration, threshold int) *Cache {
	if validity <= 0 {
		validity = DefaultCacheValidity
	}
	if threshold <= 0 {
		threshold = DefaultConfirmationThreshold
	}
	if sentiment == nil {
		sentiment = market.DisabledSentiment{}
	}
	return &Cache{
		detector:  detector,
		states:    states,
		sentiment: sentiment,
		validity:  validity,
		threshold: threshold,
		clock:     time.Now,
	}
}

// Restore loads the persisted streak so a process restart does not break a
// long-running confirmation run. Corrupt rows are discarded, not trusted.
func (c *Cache) Restore(ctx context.Context) error {
	if c == nil || c.states == nil || c.detector == nil {
		return nil
	}
	rec, err := c.states.LoadRegimeState(ctx, c.detector.Symbol(), c.detector.Interval())
	if err != nil {
		return fmt.Errorf("loading regime state failed: %w", err)
	}
	if rec == nil {
		return nil
	}
	snap, err := snapshotFromModel(rec)
	if err != nil {
		logger.Warnf("regime: discarding persisted state for %s/%s: %v",
			c.detector.Symbol(), c.detector.Interval(), err)
		return nil
	}
	c.mu.Lock()
	c.snap = snap
	c.hasSnap = true
	c.mu.Unlock()
	logger.Infof("regime: restored %s/%s regime=%s streak=%d confirmed=%v",
		snap.Symbol, snap.Interval, snap.Regime, snap.ConsecutivePeriods, snap.IsConfirmed)
	return nil
}

// IsCacheValid reports whether a previously computed snapshot is still
// inside the validity window.
func (c *Cache) IsCacheValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasSnap && c.now().Sub(c.snap.CalculatedAt) < c.validity
}

// Current returns the cached snapshot without triggering a recompute.
func (c *Cache) Current() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap, c.hasSnap
}

// GetOrCompute returns the cached snapshot while valid, otherwise (or when
// forced) recomputes synchronously. On computation failure the returned
// fallback snapshot is still usable and the error is propagated for logging;
// the cached streak is left untouched.
func (c *Cache) GetOrCompute(ctx context.Context, force bool) (Snapshot, error) {
	if c == nil || c.detector == nil {
		return Snapshot{}, fmt.Errorf("regime cache not initialized")
	}
	if !force && c.IsCacheValid() {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.snap, nil
	}

	comp, err := c.detector.Compute(ctx)
	now := c.now()
	if err != nil {
		return Fallback(c.detector.Symbol(), c.detector.Interval(), now), err
	}

	snap := c.apply(comp, now)
	c.decorate(ctx, &snap)
	c.persist(ctx, snap)

	c.mu.Lock()
	c.snap = snap
	c.hasSnap = true
	c.mu.Unlock()
	return snap, nil
}

// apply folds a fresh computation into the streak state machine.
func (c *Cache) apply(comp Computation, now time.Time) Snapshot {
	c.mu.RLock()
	prev := c.snap
	hasPrev := c.hasSnap
	c.mu.RUnlock()

	periods := 1
	var history []HistoryEntry
	if hasPrev {
		history = append(history, prev.History...)
		if prev.Regime == comp.Regime && prev.ConsecutivePeriods > 0 {
			periods = prev.ConsecutivePeriods + 1
		}
	}
	history = append(history, HistoryEntry{Regime: comp.Regime, Timestamp: now})
	if len(history) > historyMaxEntries {
		history = history[len(history)-historyMaxEntries:]
	}

	return Snapshot{
		Symbol:                c.detector.Symbol(),
		Interval:              c.detector.Interval(),
		Regime:                comp.Regime,
		Confidence:            comp.Confidence,
		ConsecutivePeriods:    periods,
		ConfirmationThreshold: c.threshold,
		IsConfirmed:           periods >= c.threshold,
		History:               history,
		Indicators:            comp.Indicators,
		CalculatedAt:          now,
	}
}

// decorate attaches the sentiment index when available. Best effort only.
func (c *Cache) decorate(ctx context.Context, snap *Snapshot) {
	c.sentiment.RefreshIfStale(ctx)
	if data, ok := c.sentiment.Get(); ok {
		snap.Sentiment = &data
	}
}

func (c *Cache) persist(ctx context.Context, snap Snapshot) {
	if c.states == nil {
		return
	}
	rec, err := snapshotToModel(snap)
	if err != nil {
		logger.Warnf("regime: serializing state failed: %v", err)
		return
	}
	if err := c.states.SaveRegimeState(ctx, rec); err != nil {
		logger.Warnf("regime: persisting state failed: %v", err)
	}
}

func (c *Cache) now() time.Time {
	if c.clock != nil {
		return c.clock()
	}
	return time.Now()
}

// persistedState is the JSON payload stored alongside the indexed columns.
type persistedState struct {
	Regime                string         `json:"regime"`
	Confidence            float64        `json:"confidence"`
	ConsecutivePeriods    int            `json:"consecutive_periods"`
	ConfirmationThreshold int            `json:"confirmation_threshold"`
	CalculatedAtMs        int64          `json:"calculated_at_ms"`
	History               []HistoryEntry `json:"history"`
}

func snapshotToModel(snap Snapshot) (*model.RegimeStateModel, error) {
	payload := persistedState{
		Regime:                string(snap.Regime),
		Confidence:            snap.Confidence,
		ConsecutivePeriods:    snap.ConsecutivePeriods,
		ConfirmationThreshold: snap.ConfirmationThreshold,
		CalculatedAtMs:        snap.CalculatedAt.UnixMilli(),
		History:               snap.History,
	}
	if payload.History == nil {
		payload.History = []HistoryEntry{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &model.RegimeStateModel{
		Symbol:                snap.Symbol,
		Interval:              snap.Interval,
		Regime:                string(snap.Regime),
		Confidence:            snap.Confidence,
		ConsecutivePeriods:    snap.ConsecutivePeriods,
		ConfirmationThreshold: snap.ConfirmationThreshold,
		LastCalculatedUnix:    snap.CalculatedAt.UnixMilli(),
		Payload:               datatypes.JSON(raw),
	}, nil
}

func snapshotFromModel(rec *model.RegimeStateModel) (Snapshot, error) {
	if rec == nil {
		return Snapshot{}, fmt.Errorf("nil regime state record")
	}
	if err := ValidatePersistedState([]byte(rec.Payload)); err != nil {
		return Snapshot{}, err
	}
	var payload persistedState
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return Snapshot{}, fmt.Errorf("decoding regime payload failed: %w", err)
	}
	threshold := payload.ConfirmationThreshold
	if threshold <= 0 {
		threshold = DefaultConfirmationThreshold
	}
	snap := Snapshot{
		Symbol:                rec.Symbol,
		Interval:              rec.Interval,
		Regime:                ParseRegime(payload.Regime),
		Confidence:            payload.Confidence,
		ConsecutivePeriods:    payload.ConsecutivePeriods,
		ConfirmationThreshold: threshold,
		IsConfirmed:           payload.ConsecutivePeriods >= threshold,
		History:               payload.History,
		CalculatedAt:          time.UnixMilli(payload.CalculatedAtMs).UTC(),
	}
	return snap, nil
}
