package apihttp

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dvirmail/cryptonew-sub011/internal/logger"
	"github.com/dvirmail/cryptonew-sub011/internal/pricegate"
	"github.com/dvirmail/cryptonew-sub011/internal/reconcile"
	"github.com/dvirmail/cryptonew-sub011/internal/regime"
	"github.com/dvirmail/cryptonew-sub011/internal/wallet"
)

// RegimeProvider serves regime snapshots, recomputing on demand.
type RegimeProvider interface {
	GetOrCompute(ctx context.Context, force bool) (regime.Snapshot, error)
}

// ReconcileHandler runs reconciliation passes and manages attempt budgets.
type ReconcileHandler interface {
	Reconcile(ctx context.Context, tradingMode, walletID string) reconcile.Result
	ResetAttempts(tradingMode, walletID string)
	Attempts(tradingMode, walletID string) int
}

// WalletProvider reads the current wallet snapshot.
type WalletProvider interface {
	Snapshot(tradingMode string) *wallet.Snapshot
}

// Router mounts the query and operator endpoints.
type Router struct {
	regime      RegimeProvider
	reconciler  ReconcileHandler
	wallet      WalletProvider
	tradingMode string
	walletID    string
}

func NewRouter(cfg ServerConfig) *Router {
	return &Router{
		regime:      cfg.Regime,
		reconciler:  cfg.Reconciler,
		wallet:      cfg.Wallet,
		tradingMode: cfg.TradingMode,
		walletID:    cfg.WalletID,
	}
}

// Register mounts the routes on the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/wallet", r.handleWallet)
	group.GET("/regime", r.handleRegime)
	group.POST("/reconcile", r.handleReconcile)
	group.POST("/reconcile/reset", r.handleReconcileReset)
	group.GET("/reconcile/attempts", r.handleReconcileAttempts)
	group.POST("/price/validate", r.handlePriceValidate)
}

func (r *Router) handleWallet(c *gin.Context) {
	if r.wallet == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "wallet aggregator not enabled"})
		return
	}
	mode := r.modeParam(c)
	snap := r.wallet.Snapshot(mode)
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot yet", "trading_mode": mode})
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": snap})
}

func (r *Router) handleRegime(c *gin.Context) {
	if r.regime == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "regime cache not enabled"})
		return
	}
	force := parseBool(c.Query("force"))
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	snap, err := r.regime.GetOrCompute(reqCtx, force)
	if err != nil {
		// The fallback snapshot is still usable; report both.
		logger.Warnf("[api] regime compute failed ip=%s force=%v err=%v", c.ClientIP(), force, err)
		c.JSON(http.StatusOK, gin.H{"regime": snap, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"regime": snap})
}

type reconcileRequest struct {
	TradingMode string `json:"trading_mode"`
	WalletID    string `json:"wallet_id"`
}

func (r *Router) handleReconcile(c *gin.Context) {
	if r.reconciler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reconciler not enabled"})
		return
	}
	var req reconcileRequest
	// Body is optional: default to the configured wallet.
	_ = c.ShouldBindJSON(&req)
	mode, walletID := r.walletParams(req.TradingMode, req.WalletID)

	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 120*time.Second)
	defer cancel()
	result := r.reconciler.Reconcile(reqCtx, mode, walletID)
	logger.Infof("[api] reconcile ip=%s mode=%s wallet=%s success=%v throttled=%v ghosts=%d",
		c.ClientIP(), mode, walletID, result.Success, result.Throttled, result.GhostsDeleted)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	c.JSON(status, result)
}

func (r *Router) handleReconcileReset(c *gin.Context) {
	if r.reconciler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reconciler not enabled"})
		return
	}
	var req reconcileRequest
	_ = c.ShouldBindJSON(&req)
	mode, walletID := r.walletParams(req.TradingMode, req.WalletID)
	r.reconciler.ResetAttempts(mode, walletID)
	logger.Infof("[api] reconcile attempts reset ip=%s mode=%s wallet=%s", c.ClientIP(), mode, walletID)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "trading_mode": mode, "wallet_id": walletID})
}

func (r *Router) handleReconcileAttempts(c *gin.Context) {
	if r.reconciler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reconciler not enabled"})
		return
	}
	mode, walletID := r.walletParams(c.Query("trading_mode"), c.Query("wallet_id"))
	c.JSON(http.StatusOK, gin.H{
		"trading_mode": mode,
		"wallet_id":    walletID,
		"attempts":     r.reconciler.Attempts(mode, walletID),
	})
}

type priceValidateRequest struct {
	Symbol         string  `json:"symbol"`
	Candidate      float64 `json:"candidate"`
	EntryPrice     float64 `json:"entry_price"`
	PositionAgeMin float64 `json:"position_age_minutes"`
	Source         string  `json:"source"`
}

func (r *Router) handlePriceValidate(c *gin.Context) {
	var req priceValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result := pricegate.Validate(req.Candidate, req.EntryPrice, pricegate.Context{
		Symbol:      strings.ToUpper(strings.TrimSpace(req.Symbol)),
		PositionAge: time.Duration(req.PositionAgeMin * float64(time.Minute)),
		Source:      pricegate.PriceSource(strings.ToLower(strings.TrimSpace(req.Source))),
	})
	c.JSON(http.StatusOK, gin.H{"accepted": result.Accepted, "reason": result.Reason})
}

func (r *Router) modeParam(c *gin.Context) string {
	mode := strings.ToLower(strings.TrimSpace(c.Query("trading_mode")))
	if mode == "" {
		mode = r.tradingMode
	}
	return mode
}

func (r *Router) walletParams(mode, walletID string) (string, string) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = r.tradingMode
	}
	walletID = strings.TrimSpace(walletID)
	if walletID == "" {
		walletID = r.walletID
	}
	return mode, walletID
}

func parseBool(val string) bool {
	switch strings.TrimSpace(strings.ToLower(val)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
