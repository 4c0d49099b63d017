package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nickcoast/IBKR-notional/interfaces"
	"github.com/nickcoast/IBKR-notional/logging"
	"github.com/nickcoast/IBKR-notional/models"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// LocalStorage keeps portfolio snapshot history in SQLite
type LocalStorage struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewLocalStorage opens (and migrates) the history database at dbPath
func NewLocalStorage(dbPath string, log *logrus.Logger) (*LocalStorage, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.DBAccountSnapshot{},
		&models.DBUnderlyingSnapshot{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &LocalStorage{
		db:     db,
		logger: logging.OrDefault(log),
	}, nil
}

// SavePortfolioSnapshot stores the account figures and every aggregate of snapshot
func (s *LocalStorage) SavePortfolioSnapshot(snapshot *interfaces.PortfolioSnapshot) error {
	if snapshot == nil {
		return nil
	}

	taken := snapshot.LastUpdate
	if taken.IsZero() {
		taken = time.Now()
	}

	m := snapshot.Metrics
	record := &models.DBAccountSnapshot{
		NetLiquidation:     m.NetLiquidation,
		GrossPositionValue: m.GrossPositionValue,
		BuyingPower:        m.BuyingPower,
		NotionalGross:      m.NotionalGross,
		NotionalLeverage:   m.NotionalLeverage,
		StandardLeverage:   m.StandardLeverage,
		UnderlyingCount:    len(snapshot.UnderlyingPositions),
		SnapshotTime:       taken,
	}
	for _, agg := range snapshot.UnderlyingPositions {
		record.Underlyings = append(record.Underlyings, models.DBUnderlyingSnapshot{
			Symbol:               agg.Symbol,
			StockCount:           agg.StockCount,
			StockValue:           agg.StockValue,
			OptionNotionalShares: agg.OptionNotionalShares,
			OptionNotionalValue:  agg.OptionNotionalValue,
			OptionActualValue:    agg.OptionActualValue,
			UnderlyingPrice:      agg.UnderlyingPrice,
			TotalNotional:        agg.TotalNotional,
			SnapshotTime:         taken,
		})
	}

	// Create inserts the has-many rows in the same transaction
	if err := s.db.Create(record).Error; err != nil {
		return fmt.Errorf("failed to save portfolio snapshot: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"snapshot_id": record.ID,
		"underlyings": len(record.Underlyings),
	}).Debug("Portfolio snapshot saved")
	return nil
}

// GetAccountSnapshots returns the newest limit snapshots with their aggregates
func (s *LocalStorage) GetAccountSnapshots(limit int) ([]*models.DBAccountSnapshot, error) {
	var snapshots []*models.DBAccountSnapshot

	query := s.db.Preload("Underlyings").Order("snapshot_time DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&snapshots).Error; err != nil {
		return nil, fmt.Errorf("failed to get account snapshots: %w", err)
	}

	return snapshots, nil
}

// GetUnderlyingHistory returns aggregates for symbol recorded at or after since, oldest first
func (s *LocalStorage) GetUnderlyingHistory(symbol string, since time.Time) ([]*models.DBUnderlyingSnapshot, error) {
	var rows []*models.DBUnderlyingSnapshot

	result := s.db.Where("symbol = ? AND snapshot_time >= ?", symbol, since).
		Order("snapshot_time ASC").
		Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get underlying history: %w", result.Error)
	}

	return rows, nil
}

// CleanupOldData removes snapshots older than before
func (s *LocalStorage) CleanupOldData(before time.Time) error {
	s.logger.WithField("before", before).Info("Cleaning up old snapshots")

	if err := s.db.Unscoped().Where("snapshot_time < ?", before).Delete(&models.DBUnderlyingSnapshot{}).Error; err != nil {
		return fmt.Errorf("failed to delete old underlying snapshots: %w", err)
	}
	if err := s.db.Unscoped().Where("snapshot_time < ?", before).Delete(&models.DBAccountSnapshot{}).Error; err != nil {
		return fmt.Errorf("failed to delete old account snapshots: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *LocalStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
