// Package application 期权核心应用服务：编排领域核心、订单簿、
// 结算引擎与持久化/消息等基础设施。
package application

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/lmckeown27/avila-protocol-testnet-sub003/internal/options/domain"
	orderbookdomain "github.com/lmckeown27/avila-protocol-testnet-sub003/internal/orderbook/domain"
	"github.com/lmckeown27/avila-protocol-testnet-sub003/pkg/metrics"
)

// SeriesRecorder 系列与结算结果的持久化端口，写入为尽力而为，
// 领域状态以内存核心为准。
type SeriesRecorder interface {
	SaveSeries(ctx context.Context, series domain.Series) error
	SaveSettlement(ctx context.Context, outcome domain.SettlementOutcome) error
	SaveExercise(ctx context.Context, seriesID uint64, holder string, quantity, payout decimal.Decimal) error
}

// BookOpener 系列创建后为其初始化订单簿
type BookOpener interface {
	CreateBook(ctx context.Context, seriesID uint64) error
}

// Settler 到期结算入口，由结算引擎实现
type Settler interface {
	SettleCash(ctx context.Context, caller string, seriesID uint64) (domain.SettlementOutcome, error)
	SettlePhysical(ctx context.Context, caller string, seriesID uint64) (domain.SettlementOutcome, error)
}

// OptionsService 期权应用服务
type OptionsService struct {
	core     *domain.Core
	recorder SeriesRecorder
	books    BookOpener
	settler  Settler
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewOptionsService(core *domain.Core, recorder SeriesRecorder, books BookOpener, settler Settler, m *metrics.Metrics, logger *slog.Logger) *OptionsService {
	return &OptionsService{
		core:     core,
		recorder: recorder,
		books:    books,
		settler:  settler,
		metrics:  m,
		logger:   logger.With("module", "options_service"),
	}
}

// SetBookOpener 在装配阶段注入订单簿端口，解决与订单簿服务的相互依赖
func (s *OptionsService) SetBookOpener(books BookOpener) {
	s.books = books
}

// CreateSeries 创建期权系列并为其初始化订单簿
func (s *OptionsService) CreateSeries(ctx context.Context, caller string, spec domain.SeriesSpec) (*domain.Series, error) {
	series, err := s.core.CreateSeries(ctx, caller, spec)
	if err != nil {
		s.logger.ErrorContext(ctx, "create series failed", "caller", caller, "error", err)
		return nil, err
	}

	if s.books != nil {
		if err := s.books.CreateBook(ctx, series.ID); err != nil {
			s.logger.ErrorContext(ctx, "create order book failed", "series_id", series.ID, "error", err)
		}
	}
	s.persistSeries(ctx, *series)
	if s.metrics != nil {
		s.metrics.SeriesCreatedTotal.Inc()
	}

	s.logger.InfoContext(ctx, "series created",
		"series_id", series.ID, "underlying", series.Underlying,
		"strike", series.Strike.String(), "expiry", series.Expiry,
		"option_type", series.OptionType, "settlement_style", series.SettlementStyle)
	return series, nil
}

// Buy 买入开多
func (s *OptionsService) Buy(ctx context.Context, seriesID uint64, buyer string, quantity, premium decimal.Decimal) (*domain.LongPosition, error) {
	pos, err := s.core.Buy(ctx, seriesID, buyer, quantity, premium)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.PositionsOpenedTotal.Inc()
	}
	s.logger.InfoContext(ctx, "position bought",
		"series_id", seriesID, "buyer", buyer, "quantity", quantity.String())
	return pos, nil
}

// Write 卖出开空
func (s *OptionsService) Write(ctx context.Context, seriesID uint64, writer string, quantity decimal.Decimal) (*domain.ShortPosition, error) {
	pos, err := s.core.Write(ctx, seriesID, writer, quantity)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.PositionsOpenedTotal.Inc()
		s.metrics.CollateralLocked.Add(collateralGaugeValue(pos.CollateralLocked))
	}
	s.logger.InfoContext(ctx, "position written",
		"series_id", seriesID, "writer", writer, "quantity", quantity.String(),
		"collateral_locked", pos.CollateralLocked.String())
	return pos, nil
}

// Exercise 美式行权
func (s *OptionsService) Exercise(ctx context.Context, seriesID uint64, holder string, quantity decimal.Decimal) (decimal.Decimal, error) {
	payout, err := s.core.Exercise(ctx, seriesID, holder, quantity)
	if err != nil {
		return decimal.Zero, err
	}
	if s.metrics != nil {
		s.metrics.ExercisesTotal.Inc()
	}
	if s.recorder != nil {
		if err := s.recorder.SaveExercise(ctx, seriesID, holder, quantity, payout); err != nil {
			s.logger.WarnContext(ctx, "persist exercise failed", "series_id", seriesID, "error", err)
		}
	}
	s.logger.InfoContext(ctx, "position exercised",
		"series_id", seriesID, "holder", holder, "quantity", quantity.String(), "payout", payout.String())
	return payout, nil
}

// BookFill 实现订单簿的成交记账端口：买方开多、卖方开空，
// 以驻留价作为权利金。
func (s *OptionsService) BookFill(ctx context.Context, fill orderbookdomain.Fill) error {
	if err := s.core.BookTrade(ctx, fill.SeriesID, fill.Buyer, fill.Seller, fill.Quantity, fill.Price); err != nil {
		s.logger.ErrorContext(ctx, "fill booking rejected",
			"series_id", fill.SeriesID, "buyer", fill.Buyer, "seller", fill.Seller, "error", err)
		return err
	}
	if s.metrics != nil {
		s.metrics.TradesBookedTotal.Inc()
	}
	return nil
}

// SettleExpiredSeries 到期结算：按系列的结算方式分派给结算引擎
func (s *OptionsService) SettleExpiredSeries(ctx context.Context, caller string, seriesID uint64) (domain.SettlementOutcome, error) {
	series, err := s.core.GetSeries(seriesID)
	if err != nil {
		return domain.SettlementOutcome{}, err
	}

	var outcome domain.SettlementOutcome
	switch series.SettlementStyle {
	case domain.SettlementStylePhysical:
		outcome, err = s.settler.SettlePhysical(ctx, caller, seriesID)
	default:
		outcome, err = s.settler.SettleCash(ctx, caller, seriesID)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "settlement failed", "series_id", seriesID, "error", err)
		return domain.SettlementOutcome{}, err
	}

	s.persistSettlement(ctx, outcome)
	if s.metrics != nil {
		s.metrics.SettlementsTotal.Inc()
	}
	s.logger.InfoContext(ctx, "series settled",
		"series_id", seriesID, "style", outcome.Style,
		"settlement_price", outcome.SettlementPrice.String(), "payouts", len(outcome.Payouts))
	return outcome, nil
}

// CheckAccountMargin 保证金巡检入口
func (s *OptionsService) CheckAccountMargin(ctx context.Context, account string) error {
	if err := s.core.CheckAccountMargin(ctx, account); err != nil {
		s.logger.WarnContext(ctx, "margin check failed", "account", account, "error", err)
		if s.metrics != nil {
			s.metrics.MarginBreachesTotal.Inc()
		}
		return err
	}
	return nil
}

// GetSeries 查询系列
func (s *OptionsService) GetSeries(seriesID uint64) (domain.Series, error) {
	return s.core.GetSeries(seriesID)
}

// IsExpired 查询系列是否到期
func (s *OptionsService) IsExpired(seriesID uint64) (bool, error) {
	return s.core.IsExpired(seriesID)
}

// GetUserPositions 用户多空头寸
func (s *OptionsService) GetUserPositions(user string) ([]domain.LongPosition, []domain.ShortPosition) {
	return s.core.GetUserLongs(user), s.core.GetUserShorts(user)
}

// Stats 协议聚合统计
func (s *OptionsService) Stats() domain.Stats {
	return s.core.Stats()
}

func (s *OptionsService) persistSeries(ctx context.Context, series domain.Series) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.SaveSeries(ctx, series); err != nil {
		s.logger.WarnContext(ctx, "persist series failed", "series_id", series.ID, "error", err)
	}
}

func (s *OptionsService) persistSettlement(ctx context.Context, outcome domain.SettlementOutcome) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.SaveSettlement(ctx, outcome); err != nil {
		s.logger.WarnContext(ctx, "persist settlement failed", "series_id", outcome.SeriesID, "error", err)
	}
}

func collateralGaugeValue(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
