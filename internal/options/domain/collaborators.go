package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// 治理参数名。数值型参数统一经 GovernanceAdmin.GetParameter 读取。
const (
	ParamMinStrike         = "min_strike"
	ParamMaxStrike         = "max_strike"
	ParamMinContractSize   = "min_contract_size"
	ParamMaxContractSize   = "max_contract_size"
	ParamMaxExpiryDays     = "max_expiry_days"
	ParamMaxPriceStaleness = "max_price_staleness_secs"
)

// 可暂停的模块名
const (
	ModuleOptions    = "options"
	ModuleOrderBook  = "orderbook"
	ModuleSettlement = "settlement"
)

// PricePoint 单次原子读取的价格与时间戳对
type PricePoint struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// PriceOracle 价格预言机 (External Dependency)。
// 数据不可用或过期时调用方必须以 ErrOracleUnavailable / ErrStalePrice 中止。
type PriceOracle interface {
	// GetCurrentPrice 返回现货价与时间戳，二者来自同一次读取
	GetCurrentPrice(ctx context.Context, asset string) (PricePoint, error)
	// GetSettlementPrice 返回窗口内的结算价（通常为 TWAP），区别于现货价
	GetSettlementPrice(ctx context.Context, asset string, windowStart, windowEnd time.Time) (decimal.Decimal, error)
}

// ComplianceGate 合规门 (External Dependency)，任何买/卖/行权前查询；
// 拒绝时操作以 ErrComplianceRejected 中止且零副作用。
type ComplianceGate interface {
	IsUserAllowedForSeries(ctx context.Context, user string, seriesID uint64) (bool, error)
}

// CollateralVault 抵押品金库 (External Dependency)。
// Lock 失败不得留下任何部分锁定。
type CollateralVault interface {
	Lock(ctx context.Context, account string, amount decimal.Decimal) error
	Unlock(ctx context.Context, account string, amount decimal.Decimal) error
	Balance(ctx context.Context, account string) (decimal.Decimal, error)
}

// PayoutLedger 行权兑付入账端 (External Dependency)。
// 入账失败时行权整体中止，已解锁的抵押必须重新锁回。
type PayoutLedger interface {
	Credit(ctx context.Context, account string, amount decimal.Decimal) error
}

// GovernanceAdmin 治理管理 (External Dependency)：管理员判定、参数读取与模块暂停
type GovernanceAdmin interface {
	IsAdmin(ctx context.Context, caller string) bool
	GetParameter(ctx context.Context, name string) (decimal.Decimal, error)
	IsModulePaused(ctx context.Context, module string) bool
}

// 审计事件种类
const (
	EventSeriesCreated  = "SERIES_CREATED"
	EventPositionBought = "POSITION_BOUGHT"
	EventPositionWrote  = "POSITION_WROTE"
	EventExercised      = "EXERCISED"
	EventSeriesSettled  = "SERIES_SETTLED"
	EventMarginBreach   = "MARGIN_BREACH"
)

// AuditEvent 审计/事件流载荷
type AuditEvent struct {
	Kind     string          `json:"kind"`
	SeriesID uint64          `json:"series_id"`
	Account  string          `json:"account,omitempty"`
	Quantity decimal.Decimal `json:"quantity,omitempty"`
	Amount   decimal.Decimal `json:"amount,omitempty"`
	At       time.Time       `json:"at"`
}

// AuditSink 审计事件接收端 (External Dependency)。
// fire-and-forget：核心的正确性不依赖其结果。
type AuditSink interface {
	Notify(ctx context.Context, event AuditEvent)
}

// NopAuditSink 空实现
type NopAuditSink struct{}

func (NopAuditSink) Notify(context.Context, AuditEvent) {}
