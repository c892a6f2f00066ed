// Package mysql 期权系列与结算结果的落库仓储（写侧为尽力而为的镜像，
// 领域真值在内存核心中）。
package mysql

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lmckeown27/avila-protocol-testnet-sub003/internal/options/domain"
)

// SeriesRecord 系列落库模型
type SeriesRecord struct {
	ID              uint64          `gorm:"primaryKey"`
	Underlying      string          `gorm:"size:32;index"`
	Strike          decimal.Decimal `gorm:"type:decimal(32,8)"`
	Expiry          time.Time       `gorm:"index"`
	OptionType      string          `gorm:"size:8"`
	ContractSize    decimal.Decimal `gorm:"type:decimal(32,8)"`
	SettlementStyle string          `gorm:"size:16"`
	Issuer          string          `gorm:"size:64"`
	Active          bool            `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (SeriesRecord) TableName() string { return "option_series" }

// SettlementRecord 结算结果落库模型；payout 明细以 JSON 存储
type SettlementRecord struct {
	SeriesID           uint64          `gorm:"primaryKey"`
	SettlementPrice    decimal.Decimal `gorm:"type:decimal(32,8)"`
	Style              string          `gorm:"size:16"`
	Payouts            []byte          `gorm:"type:json"`
	CollateralReleased []byte          `gorm:"type:json"`
	SettledAt          time.Time
	CreatedAt          time.Time
}

func (SettlementRecord) TableName() string { return "option_settlements" }

// ExerciseRecord 行权流水落库模型
type ExerciseRecord struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement"`
	SeriesID  uint64          `gorm:"index;not null"`
	Holder    string          `gorm:"index;size:128;not null"`
	Quantity  decimal.Decimal `gorm:"type:decimal(32,8);not null"`
	Payout    decimal.Decimal `gorm:"type:decimal(32,8);not null"`
	CreatedAt time.Time       `gorm:"autoCreateTime"`
}

func (ExerciseRecord) TableName() string { return "option_exercises" }

// Repository 实现期权应用层的 SeriesRecorder 端口
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// AutoMigrate 建表
func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&SeriesRecord{}, &SettlementRecord{}, &ExerciseRecord{})
}

// SaveSeries 保存或更新系列镜像
func (r *Repository) SaveSeries(ctx context.Context, series domain.Series) error {
	record := SeriesRecord{
		ID:              series.ID,
		Underlying:      series.Underlying,
		Strike:          series.Strike,
		Expiry:          series.Expiry,
		OptionType:      string(series.OptionType),
		ContractSize:    series.ContractSize,
		SettlementStyle: string(series.SettlementStyle),
		Issuer:          series.Issuer,
		Active:          series.Active,
		CreatedAt:       series.CreatedAt,
	}
	return r.db.WithContext(ctx).Save(&record).Error
}

// SaveSettlement 保存结算结果
func (r *Repository) SaveSettlement(ctx context.Context, outcome domain.SettlementOutcome) error {
	payouts, err := json.Marshal(outcome.Payouts)
	if err != nil {
		return err
	}
	released, err := json.Marshal(outcome.CollateralReleased)
	if err != nil {
		return err
	}
	record := SettlementRecord{
		SeriesID:           outcome.SeriesID,
		SettlementPrice:    outcome.SettlementPrice,
		Style:              string(outcome.Style),
		Payouts:            payouts,
		CollateralReleased: released,
		SettledAt:          outcome.SettledAt,
	}
	if err := r.db.WithContext(ctx).Save(&record).Error; err != nil {
		return err
	}
	// 结算后把系列镜像翻转为非活跃
	return r.db.WithContext(ctx).Model(&SeriesRecord{}).
		Where("id = ?", outcome.SeriesID).
		Update("active", false).Error
}

// SaveExercise 保存一笔行权流水
func (r *Repository) SaveExercise(ctx context.Context, seriesID uint64, holder string, quantity, payout decimal.Decimal) error {
	record := ExerciseRecord{
		SeriesID: seriesID,
		Holder:   holder,
		Quantity: quantity,
		Payout:   payout,
	}
	return r.db.WithContext(ctx).Create(&record).Error
}

// ListExercises 查询某系列的行权流水
func (r *Repository) ListExercises(ctx context.Context, seriesID uint64) ([]ExerciseRecord, error) {
	var records []ExerciseRecord
	err := r.db.WithContext(ctx).Where("series_id = ?", seriesID).Order("id").Find(&records).Error
	return records, err
}

// GetSeries 读取系列镜像
func (r *Repository) GetSeries(ctx context.Context, seriesID uint64) (*SeriesRecord, error) {
	var record SeriesRecord
	if err := r.db.WithContext(ctx).First(&record, "id = ?", seriesID).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// ListActiveSeries 列出活跃系列
func (r *Repository) ListActiveSeries(ctx context.Context) ([]SeriesRecord, error) {
	var records []SeriesRecord
	err := r.db.WithContext(ctx).Where("active = ?", true).Order("id").Find(&records).Error
	return records, err
}
