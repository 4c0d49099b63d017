package models

import (
	"time"

	"gorm.io/gorm"
)

// DBAccountSnapshot records the portfolio-wide figures of one refresh
type DBAccountSnapshot struct {
	gorm.Model
	NetLiquidation     float64
	GrossPositionValue float64
	BuyingPower        float64
	NotionalGross      float64
	NotionalLeverage   float64
	StandardLeverage   float64
	UnderlyingCount    int
	SnapshotTime       time.Time `gorm:"index"`

	Underlyings []DBUnderlyingSnapshot `gorm:"foreignKey:AccountSnapshotID;constraint:OnDelete:CASCADE"`
}

// DBUnderlyingSnapshot records one per-underlying aggregate of a refresh
type DBUnderlyingSnapshot struct {
	gorm.Model
	AccountSnapshotID    uint   `gorm:"index"`
	Symbol               string `gorm:"index"`
	StockCount           float64
	StockValue           float64
	OptionNotionalShares float64
	OptionNotionalValue  float64
	OptionActualValue    float64
	UnderlyingPrice      float64
	TotalNotional        float64
	SnapshotTime         time.Time `gorm:"index"`
}

// TableName overrides for cleaner table names
func (DBAccountSnapshot) TableName() string {
	return "account_snapshots"
}

func (DBUnderlyingSnapshot) TableName() string {
	return "underlying_snapshots"
}
