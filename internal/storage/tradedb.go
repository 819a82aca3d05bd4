package storage

import (
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SignalRow is the append-only record of every candidate signal the
// StrategyRegistry produced, accepted or not, per spec.md §6's schema.
type SignalRow struct {
	ID         uint `gorm:"primaryKey"`
	TS         time.Time
	Symbol     string
	Side       string
	Confidence float64
	Strategy   string
	Accepted   bool
}

// OrderRow is the append-only record of every order the engine sent to the
// broker bridge, successful or not.
type OrderRow struct {
	ID             uint `gorm:"primaryKey"`
	SignalID       *uint
	TSRequest      time.Time
	TSAck          time.Time
	RequestPrice   float64
	ExecutionPrice float64
	Lot            float64
	Status         string
	LatencyMS      int64
	Slippage       float64
}

// TradeRow is the append-only record of a completed round-trip trade, from
// the order that opened it to the exit strategy that closed it.
type TradeRow struct {
	ID           uint `gorm:"primaryKey"`
	OrderID      uint
	EntryTS      time.Time
	ExitTS       time.Time
	EntryPrice   float64
	ExitPrice    float64
	Lot          float64
	PnL          float64
	MAE          float64
	MFE          float64
	ExitStrategy string
}

// TradeDB is the single-writer, append-only trade database backing
// spec.md §6's signals/orders/trades schema. It is narrowed from the
// teacher's corpus-sibling MySQL-over-GORM usage to an embedded SQLite
// file, matching the spec's "format opaque, single writer" contract — the
// engine never needs a networked DB server for a single local process's
// own trade history.
type TradeDB struct {
	db *gorm.DB
}

// OpenTradeDB opens (creating if necessary) the SQLite file at path and
// migrates the signals/orders/trades tables.
func OpenTradeDB(path string) (*TradeDB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&SignalRow{}, &OrderRow{}, &TradeRow{}); err != nil {
		return nil, err
	}
	return &TradeDB{db: db}, nil
}

// RecordCycle persists every signal, order, and trade produced by one engine
// cycle inside a single transaction, per spec.md §5's "a single transaction
// per cycle" shared-resource policy.
func (t *TradeDB) RecordCycle(signals []SignalRow, orders []OrderRow, trades []TradeRow) error {
	if len(signals) == 0 && len(orders) == 0 && len(trades) == 0 {
		return nil
	}
	return t.db.Transaction(func(tx *gorm.DB) error {
		for i := range signals {
			if err := tx.Create(&signals[i]).Error; err != nil {
				return err
			}
		}
		for i := range orders {
			if err := tx.Create(&orders[i]).Error; err != nil {
				return err
			}
		}
		for i := range trades {
			if err := tx.Create(&trades[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Close releases the underlying database connection.
func (t *TradeDB) Close() error {
	sqlDB, err := t.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
