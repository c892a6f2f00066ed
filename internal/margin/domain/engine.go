// Package domain 保证金引擎领域模型：空头头寸抵押品要求的纯计算
package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrInvalidRiskParams  = errors.New("invalid risk parameters")
	ErrUnknownMarginModel = errors.New("unknown margin model")
)

// OptionType 期权类型
type OptionType string

const (
	OptionTypeCall OptionType = "CALL"
	OptionTypePut  OptionType = "PUT"
)

// PositionSide 头寸方向
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// ModelKind 保证金模型种类（可插拔策略）
type ModelKind string

const (
	// ModelSymmetricStrike 行权价对称模型：strike * contractSize * qty，CALL/PUT 同一公式
	ModelSymmetricStrike ModelKind = "SYMMETRIC_STRIKE"
	// ModelMoneynessAware 价内外感知模型：按参考价相对行权价的 moneyness 调整
	ModelMoneynessAware ModelKind = "MONEYNESS_AWARE"
)

// ContractTerms 保证金计算所需的合约条款，由调用方从 Series 映射而来。
// 引擎只依赖数值输入与配置，不依赖其他上下文。
type ContractTerms struct {
	OptionType   OptionType
	Strike       decimal.Decimal
	ContractSize decimal.Decimal
	Expiry       time.Time
}

// RiskParameters 风险参数，来自治理/配置
type RiskParameters struct {
	// InitialMarginRatio 初始保证金率
	InitialMarginRatio decimal.Decimal
	// MaintenanceMarginRatio 维持保证金率，必须 <= InitialMarginRatio
	MaintenanceMarginRatio decimal.Decimal
	// EarlyExerciseBuffer 美式期权提前行权风险缓冲系数（按剩余年限线性放大）
	EarlyExerciseBuffer decimal.Decimal
	// OTMFloorRatio 深度价外空头的保证金下限比例（仅 moneyness 模型使用）
	OTMFloorRatio decimal.Decimal
}

// DefaultRiskParameters 返回保守的默认风险参数
func DefaultRiskParameters() RiskParameters {
	return RiskParameters{
		InitialMarginRatio:     decimal.NewFromFloat(0.15),
		MaintenanceMarginRatio: decimal.NewFromFloat(0.10),
		EarlyExerciseBuffer:    decimal.NewFromFloat(0.25),
		OTMFloorRatio:          decimal.NewFromFloat(0.5),
	}
}

// Validate 校验参数有效性
func (p RiskParameters) Validate() error {
	if p.InitialMarginRatio.IsNegative() || p.MaintenanceMarginRatio.IsNegative() {
		return ErrInvalidRiskParams
	}
	if p.MaintenanceMarginRatio.GreaterThan(p.InitialMarginRatio) {
		return ErrInvalidRiskParams
	}
	if p.EarlyExerciseBuffer.IsNegative() || p.OTMFloorRatio.IsNegative() {
		return ErrInvalidRiskParams
	}
	return nil
}

// MarginModel 抵押品需求计算策略
type MarginModel interface {
	Kind() ModelKind
	// RequiredCollateral 计算空头在给定参考价下必须锁定的抵押品
	RequiredCollateral(terms ContractTerms, quantity, referencePrice decimal.Decimal) decimal.Decimal
}

// SymmetricStrikeModel 基准模型：不区分 CALL/PUT
type SymmetricStrikeModel struct{}

func (SymmetricStrikeModel) Kind() ModelKind { return ModelSymmetricStrike }

func (SymmetricStrikeModel) RequiredCollateral(terms ContractTerms, quantity, _ decimal.Decimal) decimal.Decimal {
	return terms.Strike.Mul(terms.ContractSize).Mul(quantity)
}

// MoneynessAwareModel 按 moneyness 调整的模型：
// 价内空头要求全额行权价抵押并附加内在价值，价外空头按下限比例折减。
type MoneynessAwareModel struct {
	Params RiskParameters
}

func (MoneynessAwareModel) Kind() ModelKind { return ModelMoneynessAware }

func (m MoneynessAwareModel) RequiredCollateral(terms ContractTerms, quantity, referencePrice decimal.Decimal) decimal.Decimal {
	base := terms.Strike.Mul(terms.ContractSize).Mul(quantity)
	if referencePrice.IsZero() {
		return base
	}

	intrinsic := decimal.Zero
	switch terms.OptionType {
	case OptionTypeCall:
		intrinsic = referencePrice.Sub(terms.Strike)
	case OptionTypePut:
		intrinsic = terms.Strike.Sub(referencePrice)
	}

	if intrinsic.IsPositive() {
		// 价内：基准 + 内在价值敞口
		return base.Add(intrinsic.Mul(terms.ContractSize).Mul(quantity))
	}

	// 价外：折减但不低于下限
	floor := base.Mul(m.Params.OTMFloorRatio)
	discounted := base.Add(intrinsic.Mul(terms.ContractSize).Mul(quantity))
	if discounted.LessThan(floor) {
		return floor
	}
	return discounted
}

// NewMarginModel 按种类构造策略
func NewMarginModel(kind ModelKind, params RiskParameters) (MarginModel, error) {
	switch kind {
	case ModelSymmetricStrike:
		return SymmetricStrikeModel{}, nil
	case ModelMoneynessAware:
		return MoneynessAwareModel{Params: params}, nil
	default:
		return nil, ErrUnknownMarginModel
	}
}

// ShortExposure 账户级保证金聚合的输入：一笔未平仓空头
type ShortExposure struct {
	Terms      ContractTerms
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
}

// AccountMargin 账户级保证金要求
type AccountMargin struct {
	InitialRequirement     decimal.Decimal
	MaintenanceRequirement decimal.Decimal
}

// Engine 保证金引擎
type Engine struct {
	params RiskParameters
	model  MarginModel
}

// NewEngine 创建引擎；参数非法时返回错误
func NewEngine(params RiskParameters, model MarginModel) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if model == nil {
		model = SymmetricStrikeModel{}
	}
	return &Engine{params: params, model: model}, nil
}

// Params 返回当前风险参数
func (e *Engine) Params() RiskParameters { return e.params }

// RequiredCollateral 单笔空头开仓必须锁定的抵押品
func (e *Engine) RequiredCollateral(terms ContractTerms, side PositionSide, quantity, referencePrice decimal.Decimal) decimal.Decimal {
	if side != PositionSideShort || !quantity.IsPositive() {
		return decimal.Zero
	}
	return e.model.RequiredCollateral(terms, quantity, referencePrice)
}

// EuropeanMargin 欧式基准保证金：qty * entryPrice * 初始保证金率
func (e *Engine) EuropeanMargin(quantity, entryPrice decimal.Decimal) decimal.Decimal {
	if !quantity.IsPositive() {
		return decimal.Zero
	}
	return quantity.Mul(entryPrice).Mul(e.params.InitialMarginRatio)
}

// AmericanMargin 美式保证金：在欧式基准上按剩余期限放大，
// 对任意 timeToExpiry>0 恒有 AmericanMargin >= EuropeanMargin，且对数量单调不减。
func (e *Engine) AmericanMargin(quantity, entryPrice decimal.Decimal, timeToExpiry time.Duration) decimal.Decimal {
	european := e.EuropeanMargin(quantity, entryPrice)
	if timeToExpiry <= 0 {
		return european
	}
	years := decimal.NewFromInt(int64(timeToExpiry / time.Second)).
		Div(decimal.NewFromInt(365 * 24 * 3600))
	factor := decimal.NewFromInt(1).Add(e.params.EarlyExerciseBuffer.Mul(years))
	return european.Mul(factor)
}

// ComputeAccountMargin 聚合账户全部未平仓空头的初始/维持保证金要求
func (e *Engine) ComputeAccountMargin(exposures []ShortExposure) AccountMargin {
	initial := decimal.Zero
	for _, exp := range exposures {
		initial = initial.Add(e.model.RequiredCollateral(exp.Terms, exp.Quantity, exp.EntryPrice))
	}

	maintenance := initial
	if e.params.InitialMarginRatio.IsPositive() {
		maintenance = initial.Mul(e.params.MaintenanceMarginRatio).Div(e.params.InitialMarginRatio)
	}
	return AccountMargin{
		InitialRequirement:     initial,
		MaintenanceRequirement: maintenance,
	}
}

// RequireSufficientMargin 保证金门槛检查：已缴抵押 < 维持要求则拒绝。
// 开仓前与强平检查入口共用。
func (e *Engine) RequireSufficientMargin(postedCollateral decimal.Decimal, exposures []ShortExposure) error {
	req := e.ComputeAccountMargin(exposures)
	if postedCollateral.LessThan(req.MaintenanceRequirement) {
		return ErrInsufficientMargin
	}
	return nil
}
