// Package mysql 结算赔付流水的 MySQL 持久化
package mysql

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	optionsdomain "github.com/lmckeown27/avila-protocol-testnet-sub003/internal/options/domain"
)

// PayoutRecord 单账户赔付/抵押释放流水，一次结算落多行
type PayoutRecord struct {
	ID              uint64          `gorm:"primaryKey;autoIncrement"`
	SeriesID        uint64          `gorm:"index;not null"`
	Account         string          `gorm:"index;size:128;not null"`
	Role            string          `gorm:"size:16;not null"` // holder 或 writer
	Amount          decimal.Decimal `gorm:"type:decimal(32,8);not null"`
	Style           string          `gorm:"size:16;not null"`
	SettlementPrice decimal.Decimal `gorm:"type:decimal(32,8);not null"`
	SettledAt       time.Time       `gorm:"index;not null"`
	CreatedAt       time.Time       `gorm:"autoCreateTime"`
}

// TableName 指定表名
func (PayoutRecord) TableName() string {
	return "settlement_payouts"
}

// Repository 赔付流水仓储
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建仓储
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// AutoMigrate 建表
func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&PayoutRecord{})
}

// SavePayouts 展开一次结算结果为逐账户流水落库
func (r *Repository) SavePayouts(ctx context.Context, outcome optionsdomain.SettlementOutcome) error {
	records := make([]PayoutRecord, 0, len(outcome.Payouts)+len(outcome.CollateralReleased))
	for holder, amount := range outcome.Payouts {
		records = append(records, PayoutRecord{
			SeriesID:        outcome.SeriesID,
			Account:         holder,
			Role:            "holder",
			Amount:          amount,
			Style:           string(outcome.Style),
			SettlementPrice: outcome.SettlementPrice,
			SettledAt:       outcome.SettledAt,
		})
	}
	for writer, released := range outcome.CollateralReleased {
		records = append(records, PayoutRecord{
			SeriesID:        outcome.SeriesID,
			Account:         writer,
			Role:            "writer",
			Amount:          released,
			Style:           string(outcome.Style),
			SettlementPrice: outcome.SettlementPrice,
			SettledAt:       outcome.SettledAt,
		})
	}
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&records).Error
}

// ListBySeries 查询某系列的全部赔付流水
func (r *Repository) ListBySeries(ctx context.Context, seriesID uint64) ([]PayoutRecord, error) {
	var records []PayoutRecord
	err := r.db.WithContext(ctx).
		Where("series_id = ?", seriesID).
		Order("id ASC").
		Find(&records).Error
	return records, err
}

// ListByAccount 查询某账户的赔付流水，按结算时间倒序
func (r *Repository) ListByAccount(ctx context.Context, account string, limit int) ([]PayoutRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []PayoutRecord
	err := r.db.WithContext(ctx).
		Where("account = ?", account).
		Order("settled_at DESC, id DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
