// Package journal keeps an append-only audit trail of submitted quotes and
// hedges in SQLite. The trading loops only write to it.
package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"hedged_mm/internal/core"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// QuoteRecord is one post-only order submission on the primary venue.
type QuoteRecord struct {
	ID        uint   `gorm:"primaryKey"`
	CycleID   string `gorm:"index;size:36"`
	Side      string `gorm:"size:4"`
	Price     string
	Quantity  string
	Outcome   string `gorm:"size:16"`
	OrderID   string
	Code      string
	Message   string
	CreatedAt time.Time
}

// HedgeRecord is one market order submission on the secondary venue.
type HedgeRecord struct {
	ID        uint   `gorm:"primaryKey"`
	CycleID   string `gorm:"index;size:36"`
	Asset     string `gorm:"index"`
	Side      string `gorm:"size:4"`
	Quantity  string
	Outcome   string `gorm:"size:16"`
	OrderID   string
	Code      string
	Message   string
	CreatedAt time.Time
}

// Counts summarises the journal for status reporting.
type Counts struct {
	Quotes int64 `json:"quotes"`
	Hedges int64 `json:"hedges"`
}

// Journal implements core.IJournal on gorm + pure-Go SQLite.
type Journal struct {
	db *gorm.DB
}

// Open creates (or reuses) the database at path and migrates the schema.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := db.AutoMigrate(&QuoteRecord{}, &HedgeRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}

	return &Journal{db: db}, nil
}

// RecordQuote implements core.IJournal
func (j *Journal) RecordQuote(ctx context.Context, cycleID string, level core.LadderLevel, result core.OrderResult) error {
	rec := QuoteRecord{
		CycleID:  cycleID,
		Side:     string(level.Side),
		Price:    level.Price.String(),
		Quantity: level.Quantity.String(),
		Outcome:  result.Kind.String(),
		OrderID:  result.Order.OrderID,
		Code:     result.Code,
		Message:  result.Message,
	}
	return j.db.WithContext(ctx).Create(&rec).Error
}

// RecordHedge implements core.IJournal
func (j *Journal) RecordHedge(ctx context.Context, cycleID string, inst core.HedgeInstruction, result core.OrderResult) error {
	rec := HedgeRecord{
		CycleID:  cycleID,
		Asset:    inst.AssetKey,
		Side:     string(inst.Side()),
		Quantity: inst.Quantity.String(),
		Outcome:  result.Kind.String(),
		OrderID:  result.Order.OrderID,
		Code:     result.Code,
		Message:  result.Message,
	}
	return j.db.WithContext(ctx).Create(&rec).Error
}

// Counts returns the number of journaled quotes and hedges.
func (j *Journal) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	if err := j.db.WithContext(ctx).Model(&QuoteRecord{}).Count(&c.Quotes).Error; err != nil {
		return Counts{}, err
	}
	if err := j.db.WithContext(ctx).Model(&HedgeRecord{}).Count(&c.Hedges).Error; err != nil {
		return Counts{}, err
	}
	return c, nil
}

// Ping checks the database connection, for health reporting.
func (j *Journal) Ping() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close releases the database handle.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
