// Package application 订单簿应用服务
package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/lmckeown27/avila-protocol-testnet-sub003/internal/orderbook/domain"
	"github.com/lmckeown27/avila-protocol-testnet-sub003/pkg/metrics"
)

// TradeBooker 成交记账接口 (External Dependency)：
// 每笔撮合成交需要在期权核心中落地为多/空头寸（含保证金检查）。
// 任一笔记账失败时整次撮合必须原样回绝，由 Registry 保证。
type TradeBooker interface {
	BookFill(ctx context.Context, fill domain.Fill) error
}

// SnapshotStore 深度快照存储接口 (External Dependency)
type SnapshotStore interface {
	SaveDepth(ctx context.Context, seriesID uint64, bids, asks [][2]decimal.Decimal) error
	LoadDepth(ctx context.Context, seriesID uint64) (bids, asks [][2]decimal.Decimal, ok bool, err error)
}

// OrderBookService 订单簿应用服务
type OrderBookService struct {
	registry  *domain.Registry
	booker    TradeBooker
	snapshots SnapshotStore
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewOrderBookService(registry *domain.Registry, booker TradeBooker, snapshots SnapshotStore, m *metrics.Metrics, logger *slog.Logger) *OrderBookService {
	return &OrderBookService{
		registry:  registry,
		booker:    booker,
		snapshots: snapshots,
		metrics:   m,
		logger:    logger.With("module", "orderbook_service"),
	}
}

// CreateBook 为新系列初始化订单簿
func (s *OrderBookService) CreateBook(ctx context.Context, seriesID uint64) error {
	if err := s.registry.CreateBook(seriesID); err != nil {
		return fmt.Errorf("create book for series %d: %w", seriesID, err)
	}
	s.logger.InfoContext(ctx, "order book created", "series_id", seriesID)
	return nil
}

// PlaceOrder 挂单
func (s *OrderBookService) PlaceOrder(ctx context.Context, seriesID uint64, maker string, side domain.Side, price, quantity decimal.Decimal) (uint64, error) {
	orderID, err := s.registry.PlaceOrder(seriesID, maker, side, price, quantity)
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.OrdersPlacedTotal.Inc()
	}
	s.logger.InfoContext(ctx, "order placed",
		"order_id", orderID, "series_id", seriesID, "maker", maker,
		"side", side, "price", price.String(), "quantity", quantity.String())
	return orderID, nil
}

// CancelOrder 撤单
func (s *OrderBookService) CancelOrder(ctx context.Context, orderID uint64, maker string) error {
	if err := s.registry.CancelOrder(orderID, maker); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.OrdersCancelledTotal.Inc()
	}
	s.logger.InfoContext(ctx, "order cancelled", "order_id", orderID, "maker", maker)
	return nil
}

// MatchOrders 撮合指定主动单并逐笔记账到期权核心。
// 记账回调在簿状态变更之前执行，失败则撮合整体作废。
func (s *OrderBookService) MatchOrders(ctx context.Context, takerOrderID uint64) ([]domain.Fill, error) {
	visitor := func(fill domain.Fill) error { return nil }
	if s.booker != nil {
		visitor = func(fill domain.Fill) error {
			return s.booker.BookFill(ctx, fill)
		}
	}

	fills, err := s.registry.MatchOrders(takerOrderID, visitor)
	if err != nil {
		s.logger.ErrorContext(ctx, "match aborted", "taker_order_id", takerOrderID, "error", err)
		return nil, err
	}

	if len(fills) > 0 {
		s.logger.InfoContext(ctx, "orders matched", "taker_order_id", takerOrderID, "fills", len(fills))
		s.snapshotDepth(ctx, fills[0].SeriesID)
	}
	return fills, nil
}

// snapshotDepth 尽力而为地落一份深度快照，失败只记日志
func (s *OrderBookService) snapshotDepth(ctx context.Context, seriesID uint64) {
	if s.snapshots == nil {
		return
	}
	bids, asks, err := s.registry.Depth(seriesID, 10)
	if err != nil {
		return
	}
	if err := s.snapshots.SaveDepth(ctx, seriesID, bids, asks); err != nil {
		s.logger.WarnContext(ctx, "depth snapshot failed", "series_id", seriesID, "error", err)
	}
}

// GetDepth 两侧前 levels 档深度。优先读快照缓存，未命中时
// 从簿实时推导并回填缓存。
func (s *OrderBookService) GetDepth(ctx context.Context, seriesID uint64, levels int) ([][2]decimal.Decimal, [][2]decimal.Decimal, error) {
	if s.snapshots != nil {
		bids, asks, ok, err := s.snapshots.LoadDepth(ctx, seriesID)
		if err == nil && ok {
			return bids, asks, nil
		}
	}

	bids, asks, err := s.registry.Depth(seriesID, levels)
	if err != nil {
		return nil, nil, err
	}
	if s.snapshots != nil {
		if err := s.snapshots.SaveDepth(ctx, seriesID, bids, asks); err != nil {
			s.logger.WarnContext(ctx, "depth snapshot failed", "series_id", seriesID, "error", err)
		}
	}
	return bids, asks, nil
}

// GetState 聚合盘口视图
func (s *OrderBookService) GetState(seriesID uint64) (domain.State, error) {
	return s.registry.GetState(seriesID)
}

// GetUserActiveOrders 用户驻留订单
func (s *OrderBookService) GetUserActiveOrders(user string) []domain.Order {
	return s.registry.GetUserActiveOrders(user)
}

// Stats 全局撮合统计
func (s *OrderBookService) Stats() domain.Stats {
	return s.registry.Stats()
}
