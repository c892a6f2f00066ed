// Package domain 期权核心领域模型：系列定义、多空头寸与协议实例
package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrUnauthorized           = errors.New("caller is not authorized")
	ErrSeriesNotFound         = errors.New("option series not found")
	ErrPositionNotFound       = errors.New("position not found")
	ErrSeriesExpired          = errors.New("option series expired")
	ErrSeriesNotActive        = errors.New("option series not active")
	ErrNotExpired             = errors.New("option series not yet expired")
	ErrAlreadySettled         = errors.New("option series already settled")
	ErrValidation             = errors.New("validation failed")
	ErrComplianceRejected     = errors.New("compliance gate rejected user")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrInsufficientPosition   = errors.New("insufficient position quantity")
	ErrOracleUnavailable      = errors.New("price oracle unavailable")
	ErrStalePrice             = errors.New("oracle price is stale")
	ErrModulePaused           = errors.New("module is paused")
	ErrWrongSettlementStyle   = errors.New("settlement style mismatch")
)

// OptionType 期权类型
type OptionType string

const (
	OptionTypeCall OptionType = "CALL"
	OptionTypePut  OptionType = "PUT"
)

// SettlementStyle 交收方式
type SettlementStyle string

const (
	SettlementStyleCash     SettlementStyle = "CASH"
	SettlementStylePhysical SettlementStyle = "PHYSICAL"
)

// Series 标准化期权系列。创建后除 OpenInterest 与 Active 外均不可变；
// Active 仅在全量到期结算时翻转为 false，且只发生一次。
type Series struct {
	ID              uint64          `json:"id"`
	Underlying      string          `json:"underlying"`
	Strike          decimal.Decimal `json:"strike"`
	Expiry          time.Time       `json:"expiry"`
	OptionType      OptionType      `json:"option_type"`
	ContractSize    decimal.Decimal `json:"contract_size"`
	SettlementStyle SettlementStyle `json:"settlement_style"`
	Issuer          string          `json:"issuer"`
	OpenInterest    decimal.Decimal `json:"open_interest"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
}

// IsExpired 相对给定时刻判断系列是否到期
func (s *Series) IsExpired(now time.Time) bool {
	return !now.Before(s.Expiry)
}

// IntrinsicValue 单位内在价值：CALL 为 max(0, price-strike)，PUT 镜像
func (s *Series) IntrinsicValue(price decimal.Decimal) decimal.Decimal {
	var intrinsic decimal.Decimal
	if s.OptionType == OptionTypeCall {
		intrinsic = price.Sub(s.Strike)
	} else {
		intrinsic = s.Strike.Sub(price)
	}
	if intrinsic.IsNegative() {
		return decimal.Zero
	}
	return intrinsic
}

// LongPosition 多头持仓：买入产生，行权或结算兑付后销毁。
// 同一 (series, holder) 只保留一条记录，追加买入合并数量与权利金。
type LongPosition struct {
	ID          uint64          `json:"id"`
	SeriesID    uint64          `json:"series_id"`
	Holder      string          `json:"holder"`
	Quantity    decimal.Decimal `json:"quantity"`
	PremiumPaid decimal.Decimal `json:"premium_paid"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ShortPosition 空头义务：开仓时锁定抵押品，结算或全额行权平掉后销毁。
// CollateralLocked 必须始终不低于当前风险参数下该数量对应的保证金要求。
type ShortPosition struct {
	ID               uint64          `json:"id"`
	SeriesID         uint64          `json:"series_id"`
	Writer           string          `json:"writer"`
	Quantity         decimal.Decimal `json:"quantity"`
	PremiumReceived  decimal.Decimal `json:"premium_received"`
	CollateralLocked decimal.Decimal `json:"collateral_locked"`
	CreatedAt        time.Time       `json:"created_at"`
}

// SeriesSpec 创建系列的输入
type SeriesSpec struct {
	Underlying      string
	Strike          decimal.Decimal
	ExpiryDays      int64
	OptionType      OptionType
	ContractSize    decimal.Decimal
	SettlementStyle SettlementStyle
}

// Bounds 系列创建边界，取自治理参数
type Bounds struct {
	MinStrike       decimal.Decimal
	MaxStrike       decimal.Decimal
	MinContractSize decimal.Decimal
	MaxContractSize decimal.Decimal
	MaxExpiryDays   int64
}

// Validate 校验创建输入
func (b Bounds) Validate(spec SeriesSpec) error {
	if spec.Underlying == "" {
		return ErrValidation
	}
	if spec.OptionType != OptionTypeCall && spec.OptionType != OptionTypePut {
		return ErrValidation
	}
	if spec.SettlementStyle != SettlementStyleCash && spec.SettlementStyle != SettlementStylePhysical {
		return ErrValidation
	}
	if spec.Strike.LessThan(b.MinStrike) || spec.Strike.GreaterThan(b.MaxStrike) {
		return ErrValidation
	}
	if spec.ContractSize.LessThan(b.MinContractSize) || spec.ContractSize.GreaterThan(b.MaxContractSize) {
		return ErrValidation
	}
	if spec.ExpiryDays <= 0 || spec.ExpiryDays > b.MaxExpiryDays {
		return ErrValidation
	}
	return nil
}

// Stats 协议实例聚合统计
type Stats struct {
	SeriesCreated    int64           `json:"series_created"`
	ActiveSeries     int64           `json:"active_series"`
	BuyVolume        decimal.Decimal `json:"buy_volume"`
	WriteVolume      decimal.Decimal `json:"write_volume"`
	PremiumCollected decimal.Decimal `json:"premium_collected"`
	ExercisePayouts  decimal.Decimal `json:"exercise_payouts"`
	SeriesSettled    int64           `json:"series_settled"`
}

// SettlementOutcome 一次全量结算的净结果，由结算引擎计算、核心一次性落地
type SettlementOutcome struct {
	SeriesID           uint64                     `json:"series_id"`
	SettlementPrice    decimal.Decimal            `json:"settlement_price"`
	Style              SettlementStyle            `json:"style"`
	Payouts            map[string]decimal.Decimal `json:"payouts"`             // holder -> 现金或标的价值
	CollateralReleased map[string]decimal.Decimal `json:"collateral_released"` // writer -> 解锁抵押
	SettledAt          time.Time                  `json:"settled_at"`
}
