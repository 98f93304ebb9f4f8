package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dvirmail/cryptonew-sub011/internal/logger"
	"github.com/dvirmail/cryptonew-sub011/internal/market"
	"github.com/dvirmail/cryptonew-sub011/internal/pkg/circuit"
	"github.com/dvirmail/cryptonew-sub011/internal/store"
)

const (
	DefaultThrottleWindow = 5 * time.Minute
	DefaultMaxAttempts    = 20

	attemptWarnFraction = 0.8
	autoHealCooldown    = 10 * time.Minute
	deleteParallelism   = 4
)

// Result is the structured outcome of one reconciliation call. Errors are
// reported here rather than thrown across component boundaries.
type Result struct {
	Success       bool            `json:"success"`
	Throttled     bool            `json:"throttled,omitempty"`
	PassID        string          `json:"pass_id,omitempty"`
	TradingMode   string          `json:"trading_mode"`
	WalletID      string          `json:"wallet_id"`
	Checked       int             `json:"checked"`
	GhostsDeleted int             `json:"ghosts_deleted"`
	Legitimate    int             `json:"legitimate"`
	DeleteErrors  []string        `json:"delete_errors,omitempty"`
	Details       []GhostAnalysis `json:"details,omitempty"`
	Error         string          `json:"error,omitempty"`
	Attempts      int             `json:"attempts,omitempty"`
}

type attemptEntry struct {
	attempts      int
	lastAttemptAt time.Time
}

// Reconciler removes ghost positions: locally recorded open positions that
// no longer correspond to exchange-held quantity. It owns the throttle
// window and the per-wallet attempt budget; both are only mutated through
// its methods.
type Reconciler struct {
	source    market.Source
	positions store.PositionRepository
	analyzer  *Analyzer
	breaker   *circuit.Breaker
	persisted *AttemptStore

	quoteAsset  string
	throttle    time.Duration
	maxAttempts int

	mu         sync.Mutex
	lastPassAt time.Time
	attempts   map[string]*attemptEntry
	clock      func() time.Time
}

type ReconcilerConfig struct {
	QuoteAsset     string
	ThrottleWindow time.Duration
	MaxAttempts    int
}

func NewReconciler(source market.Source, st store.Store, cfg ReconcilerConfig, persisted *AttemptStore) *Reconciler {
	quote := strings.ToUpper(strings.TrimSpace(cfg.QuoteAsset))
	if quote == "" {
		quote = "USDT"
	}
	throttle := cfg.ThrottleWindow
	if throttle <= 0 {
		throttle = DefaultThrottleWindow
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Reconciler{
		source:      source,
		positions:   st,
		analyzer:    NewAnalyzer(st, quote),
		breaker:     circuit.NewBreaker("exchange-account", 5, 2*time.Minute),
		persisted:   persisted,
		quoteAsset:  quote,
		throttle:    throttle,
		maxAttempts: maxAttempts,
		attempts:    make(map[string]*attemptEntry),
		clock:       time.Now,
	}
}

// Restore loads persisted attempt counters after a restart.
func (r *Reconciler) Restore(ctx context.Context) error {
	if r == nil || r.persisted == nil {
		return nil
	}
	recs, err := r.persisted.All(ctx)
	if err != nil {
		return fmt.Errorf("loading attempt counters failed: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		r.attempts[walletKey(rec.TradingMode, rec.WalletID)] = &attemptEntry{
			attempts:      rec.Attempts,
			lastAttemptAt: rec.LastAttemptAt,
		}
	}
	return nil
}

// Reconcile runs one pass for the wallet. Re-running is always safe: the
// throttle makes an immediate second call a reported no-op.
func (r *Reconciler) Reconcile(ctx context.Context, tradingMode, walletID string) Result {
	if r == nil || r.source == nil || r.positions == nil {
		return Result{Success: false, Error: "reconciler not initialized"}
	}
	tradingMode = strings.TrimSpace(tradingMode)
	walletID = strings.TrimSpace(walletID)
	res := Result{TradingMode: tradingMode, WalletID: walletID}
	key := walletKey(tradingMode, walletID)
	now := r.now()

	r.mu.Lock()
	if !r.lastPassAt.IsZero() && now.Sub(r.lastPassAt) < r.throttle {
		r.mu.Unlock()
		res.Success = true
		res.Throttled = true
		return res
	}
	if entry := r.attempts[key]; entry != nil && entry.attempts >= r.maxAttempts {
		attempts := entry.attempts
		r.mu.Unlock()
		res.Success = false
		res.Attempts = attempts
		res.Error = fmt.Sprintf("attempt budget exhausted (%d/%d); waiting for auto-reset or manual reset", attempts, r.maxAttempts)
		return res
	}
	r.mu.Unlock()

	// The exchange breaker does not consume the attempt budget: a known-down
	// exchange is not a pipeline failure.
	if !r.breaker.Allow() {
		res.Success = false
		res.Error = "exchange circuit open; skipping pass"
		return res
	}

	res.PassID = uuid.NewString()

	// One consistent exchange snapshot and one local snapshot per pass.
	// Nothing is re-fetched mid-pass or the quantity ratios turn incoherent.
	holdings, err := r.fetchHoldings(ctx)
	if err != nil {
		r.breaker.RecordFailure()
		return r.fail(res, key, fmt.Errorf("fetching exchange holdings failed: %w", err))
	}
	r.breaker.RecordSuccess()

	positions, err := r.positions.ListActivePositions(ctx, tradingMode, walletID)
	if err != nil {
		return r.fail(res, key, fmt.Errorf("listing local positions failed: %w", err))
	}

	res.Checked = len(positions)
	var ghosts []GhostAnalysis
	for _, pos := range positions {
		analysis := r.analyzer.Analyze(ctx, pos, holdings)
		res.Details = append(res.Details, analysis)
		if analysis.IsGhost {
			ghosts = append(ghosts, analysis)
			logger.Infof("reconcile[%s]: ghost %s (%s): %s held=%.8f expected=%.8f confidence=%d",
				res.PassID, analysis.PositionID, analysis.Symbol, analysis.Reason,
				analysis.HeldQuantity, analysis.ExpectedQuantity, analysis.Confidence)
		}
	}
	res.Legitimate = res.Checked - len(ghosts)

	deleted, deleteErrs := r.deleteGhosts(ctx, ghosts)
	res.GhostsDeleted = deleted
	res.DeleteErrors = deleteErrs

	// Any completed pass proves the pipeline is healthy, including a no-op
	// one; partial delete failures are reported, not escalated.
	r.markSuccess(key, now)
	res.Success = true
	return res
}

// fetchHoldings builds the per-asset holdings map from one account snapshot,
// skipping the quote currency and empty balances.
func (r *Reconciler) fetchHoldings(ctx context.Context) (map[string]market.Holding, error) {
	raw, err := r.source.AccountHoldings(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]market.Holding, len(raw))
	for _, holding := range raw {
		if holding.Asset == r.quoteAsset || holding.Total() <= 0 {
			continue
		}
		out[holding.Asset] = holding
	}
	return out, nil
}

// deleteGhosts removes confirmed ghosts in parallel. Per-item errors are
// collected; one failed delete never aborts the batch.
func (r *Reconciler) deleteGhosts(ctx context.Context, ghosts []GhostAnalysis) (int, []string) {
	if len(ghosts) == 0 {
		return 0, nil
	}
	var (
		mu      sync.Mutex
		deleted int
		errs    []string
	)
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(deleteParallelism)
	for _, ghost := range ghosts {
		ghost := ghost
		group.Go(func() error {
			if err := r.positions.DeletePosition(ctx, ghost.PositionID); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Sprintf("%s: %v", ghost.PositionID, err))
				mu.Unlock()
				logger.Warnf("reconcile: deleting ghost %s failed: %v", ghost.PositionID, err)
				return nil
			}
			mu.Lock()
			deleted++
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()
	return deleted, errs
}

func (r *Reconciler) fail(res Result, key string, err error) Result {
	now := r.now()
	r.mu.Lock()
	entry := r.attempts[key]
	if entry == nil {
		entry = &attemptEntry{}
		r.attempts[key] = entry
	}
	entry.attempts++
	entry.lastAttemptAt = now
	attempts := entry.attempts
	r.mu.Unlock()

	r.persist(key, attempts, now)

	if float64(attempts) >= attemptWarnFraction*float64(r.maxAttempts) {
		logger.Warnf("reconcile: wallet %s at %d/%d attempts; lockout imminent unless a pass succeeds",
			key, attempts, r.maxAttempts)
	}

	res.Success = false
	res.Attempts = attempts
	res.Error = err.Error()
	logger.Warnf("reconcile: pass failed for %s (attempt %d/%d): %v", key, attempts, r.maxAttempts, err)
	return res
}

func (r *Reconciler) markSuccess(key string, started time.Time) {
	r.mu.Lock()
	r.lastPassAt = r.now()
	entry := r.attempts[key]
	if entry == nil {
		entry = &attemptEntry{}
		r.attempts[key] = entry
	}
	entry.attempts = 0
	entry.lastAttemptAt = started
	r.mu.Unlock()
	r.persist(key, 0, started)
}

// ResetAttempts clears the budget for one wallet (operator escape hatch).
func (r *Reconciler) ResetAttempts(tradingMode, walletID string) {
	key := walletKey(strings.TrimSpace(tradingMode), strings.TrimSpace(walletID))
	now := r.now()
	r.mu.Lock()
	r.attempts[key] = &attemptEntry{lastAttemptAt: now}
	r.mu.Unlock()
	r.persist(key, 0, now)
	logger.Infof("reconcile: attempts reset for %s", key)
}

// Attempts reports the current budget usage for one wallet.
func (r *Reconciler) Attempts(tradingMode, walletID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry := r.attempts[walletKey(tradingMode, walletID)]; entry != nil {
		return entry.attempts
	}
	return 0
}

// AutoHealSweep resets counters stuck near the cap once the cool-down has
// elapsed, so a transient outage cannot lock a wallet out permanently.
func (r *Reconciler) AutoHealSweep() {
	now := r.now()
	threshold := int(attemptWarnFraction * float64(r.maxAttempts))
	var healed []string
	r.mu.Lock()
	for key, entry := range r.attempts {
		if entry.attempts >= threshold && !entry.lastAttemptAt.IsZero() &&
			now.Sub(entry.lastAttemptAt) >= autoHealCooldown {
			entry.attempts = 0
			entry.lastAttemptAt = now
			healed = append(healed, key)
		}
	}
	r.mu.Unlock()
	for _, key := range healed {
		r.persist(key, 0, now)
		logger.Infof("reconcile: auto-reset attempt counter for %s after cool-down", key)
	}
}

func (r *Reconciler) persist(key string, attempts int, last time.Time) {
	if r.persisted == nil {
		return
	}
	mode, wallet := splitWalletKey(key)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.persisted.Upsert(ctx, AttemptRecord{
		TradingMode:   mode,
		WalletID:      wallet,
		Attempts:      attempts,
		LastAttemptAt: last,
	}); err != nil {
		logger.Warnf("reconcile: persisting attempt counter for %s failed: %v", key, err)
	}
}

func (r *Reconciler) now() time.Time {
	if r.clock != nil {
		return r.clock()
	}
	return time.Now()
}

func walletKey(tradingMode, walletID string) string {
	return tradingMode + "|" + walletID
}

func splitWalletKey(key string) (string, string) {
	parts := strings.SplitN(key, "|", 2)
	if len(parts) != 2 {
		return key, ""
	}
	return parts[0], parts[1]
}
