// Package domain 订单簿领域模型：限价单存储与价格时间优先撮合
package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrBookNotFound    = errors.New("order book not found")
	ErrBookExists      = errors.New("order book already exists")
	ErrOrderNotFound   = errors.New("order not found")
	ErrUnauthorized    = errors.New("caller is not the order maker")
	ErrInvalidPrice    = errors.New("price out of bounds")
	ErrInvalidQuantity = errors.New("quantity out of bounds")
	ErrInvalidSide     = errors.New("invalid order side")
	ErrOpenOrderCapHit = errors.New("maker open order cap reached")
)

// Side 订单方向
type Side string

const (
	SideBid Side = "BID"
	SideAsk Side = "ASK"
)

// Order 驻留订单；RemainingQuantity 只会因成交减少，或随撤单/全部成交整体移除
type Order struct {
	ID                uint64          `json:"id"`
	SeriesID          uint64          `json:"series_id"`
	Maker             string          `json:"maker"`
	Side              Side            `json:"side"`
	Price             decimal.Decimal `json:"price"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Fill 单笔成交：taker 与某一驻留对手单按 min(剩余量) 成交，价格取驻留单价格
type Fill struct {
	SeriesID     uint64          `json:"series_id"`
	TakerOrderID uint64          `json:"taker_order_id"`
	MakerOrderID uint64          `json:"maker_order_id"`
	Buyer        string          `json:"buyer"`
	Seller       string          `json:"seller"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	MatchedAt    time.Time       `json:"matched_at"`
}

// Notional 成交名义金额
func (f Fill) Notional() decimal.Decimal {
	return f.Price.Mul(f.Quantity)
}

// State 单一系列订单簿的聚合视图，始终从价格阶梯重新推导
type State struct {
	SeriesID       uint64          `json:"series_id"`
	BestBid        decimal.Decimal `json:"best_bid"`
	BestAsk        decimal.Decimal `json:"best_ask"`
	HasBid         bool            `json:"has_bid"`
	HasAsk         bool            `json:"has_ask"`
	TotalBidVolume decimal.Decimal `json:"total_bid_volume"`
	TotalAskVolume decimal.Decimal `json:"total_ask_volume"`
}

// Limits 订单校验边界与费率
type Limits struct {
	MinPrice      decimal.Decimal
	MaxPrice      decimal.Decimal
	MinQuantity   decimal.Decimal
	MaxQuantity   decimal.Decimal
	MaxOpenOrders int
	FeeRate       decimal.Decimal
}

// DefaultLimits 默认边界
func DefaultLimits() Limits {
	return Limits{
		MinPrice:      decimal.New(1, -8),
		MaxPrice:      decimal.NewFromInt(100_000_000),
		MinQuantity:   decimal.New(1, -8),
		MaxQuantity:   decimal.NewFromInt(10_000_000),
		MaxOpenOrders: 128,
		FeeRate:       decimal.NewFromFloat(0.0005),
	}
}

func (l Limits) validatePrice(p decimal.Decimal) error {
	if p.LessThan(l.MinPrice) || p.GreaterThan(l.MaxPrice) {
		return ErrInvalidPrice
	}
	return nil
}

func (l Limits) validateQuantity(q decimal.Decimal) error {
	if q.LessThan(l.MinQuantity) || q.GreaterThan(l.MaxQuantity) {
		return ErrInvalidQuantity
	}
	return nil
}

// Stats 全局撮合统计
type Stats struct {
	TradesMatched  int64           `json:"trades_matched"`
	VolumeNotional decimal.Decimal `json:"volume_notional"`
	FeesAccrued    decimal.Decimal `json:"fees_accrued"`
}
