package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/dvirmail/cryptonew-sub011/internal/store"
	"github.com/dvirmail/cryptonew-sub011/internal/store/model"
)

// GormStore implements store.Store on SQLite via Gorm.
type GormStore struct {
	db *gorm.DB
}

var _ store.Store = (*GormStore)(nil)

func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: database path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&model.PositionModel{},
		&model.TradeModel{},
		&model.RegimeStateModel{},
		&model.WalletStateModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: keep connection count low to avoid lock contention
	// between the polling loops and HTTP reads.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --------------------- positions -------------------------

func (s *GormStore) SavePosition(ctx context.Context, pos *model.PositionModel) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if pos == nil || strings.TrimSpace(pos.PositionID) == "" {
		return fmt.Errorf("position_id is required")
	}
	now := time.Now().Unix()
	if pos.CreatedAtUnix == 0 {
		pos.CreatedAtUnix = now
	}
	pos.UpdatedAtUnix = now
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "position_id"}},
			UpdateAll: true,
		}).
		Create(pos).Error
}

func (s *GormStore) FindPosition(ctx context.Context, positionID string) (*model.PositionModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	positionID = strings.TrimSpace(positionID)
	if positionID == "" {
		return nil, fmt.Errorf("position_id is required")
	}
	var out model.PositionModel
	err := s.db.WithContext(ctx).Where("position_id = ?", positionID).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	fillPositionTimes(&out)
	return &out, nil
}

func (s *GormStore) ListActivePositions(ctx context.Context, tradingMode, walletID string) ([]model.PositionModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	q := s.db.WithContext(ctx).
		Where("status IN ?", []model.PositionStatus{model.PositionStatusOpen, model.PositionStatusTrailing})
	if mode := strings.TrimSpace(tradingMode); mode != "" {
		q = q.Where("trading_mode = ?", mode)
	}
	if wallet := strings.TrimSpace(walletID); wallet != "" {
		q = q.Where("wallet_id = ?", wallet)
	}
	var out []model.PositionModel
	if err := q.Order("entry_timestamp ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	for i := range out {
		fillPositionTimes(&out[i])
	}
	return out, nil
}

func (s *GormStore) DeletePosition(ctx context.Context, positionID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	positionID = strings.TrimSpace(positionID)
	if positionID == "" {
		return fmt.Errorf("position_id is required")
	}
	return s.db.WithContext(ctx).
		Where("position_id = ?", positionID).
		Delete(&model.PositionModel{}).Error
}

// --------------------- trades -------------------------

func (s *GormStore) InsertTrade(ctx context.Context, trade *model.TradeModel) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if trade == nil {
		return fmt.Errorf("trade is required")
	}
	if trade.CreatedAtUnix == 0 {
		trade.CreatedAtUnix = time.Now().Unix()
	}
	return s.db.WithContext(ctx).Create(trade).Error
}

func (s *GormStore) TradeExistsForPosition(ctx context.Context, positionID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("gorm store not initialized")
	}
	positionID = strings.TrimSpace(positionID)
	if positionID == "" {
		return false, fmt.Errorf("position_id is required")
	}
	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.TradeModel{}).
		Where("position_id = ?", positionID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *GormStore) ListRecentTrades(ctx context.Context, tradingMode string, limit int) ([]model.TradeModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("closed_at DESC").Limit(limit)
	if mode := strings.TrimSpace(tradingMode); mode != "" {
		q = q.Where("trading_mode = ?", mode)
	}
	var out []model.TradeModel
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// --------------------- regime state -------------------------

func (s *GormStore) SaveRegimeState(ctx context.Context, state *model.RegimeStateModel) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if state == nil || strings.TrimSpace(state.Symbol) == "" || strings.TrimSpace(state.Interval) == "" {
		return fmt.Errorf("regime state requires symbol and interval")
	}
	state.UpdatedAtUnix = time.Now().Unix()
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "interval"}},
			UpdateAll: true,
		}).
		Create(state).Error
}

func (s *GormStore) LoadRegimeState(ctx context.Context, symbol, interval string) (*model.RegimeStateModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	var out model.RegimeStateModel
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND interval = ?", strings.TrimSpace(symbol), strings.TrimSpace(interval)).
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// --------------------- wallet state -------------------------

func (s *GormStore) SaveWalletState(ctx context.Context, state *model.WalletStateModel) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if state == nil || strings.TrimSpace(state.TradingMode) == "" {
		return fmt.Errorf("wallet state requires trading mode")
	}
	state.UpdatedAtUnix = time.Now().Unix()
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "trading_mode"}},
			UpdateAll: true,
		}).
		Create(state).Error
}

func (s *GormStore) LoadWalletState(ctx context.Context, tradingMode string) (*model.WalletStateModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	var out model.WalletStateModel
	err := s.db.WithContext(ctx).
		Where("trading_mode = ?", strings.TrimSpace(tradingMode)).
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func fillPositionTimes(pos *model.PositionModel) {
	if pos == nil {
		return
	}
	if pos.CreatedAtUnix > 0 {
		pos.CreatedAt = time.Unix(pos.CreatedAtUnix, 0).UTC()
	}
	if pos.UpdatedAtUnix > 0 {
		pos.UpdatedAt = time.Unix(pos.UpdatedAtUnix, 0).UTC()
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
