// Package application 结算应用服务
package application

import (
	"context"
	"log/slog"

	optionsdomain "github.com/lmckeown27/avila-protocol-testnet-sub003/internal/options/domain"
	"github.com/lmckeown27/avila-protocol-testnet-sub003/internal/settlement/domain"
)

// PayoutRecorder 赔付流水持久化端口，落库失败不阻断结算
type PayoutRecorder interface {
	SavePayouts(ctx context.Context, outcome optionsdomain.SettlementOutcome) error
}

// SettlementService 结算应用服务：对外暴露结算操作并记录日志，
// 同时实现期权应用层的 Settler 端口。
type SettlementService struct {
	engine   *domain.Engine
	recorder PayoutRecorder
	logger   *slog.Logger
}

func NewSettlementService(engine *domain.Engine, recorder PayoutRecorder, logger *slog.Logger) *SettlementService {
	return &SettlementService{
		engine:   engine,
		recorder: recorder,
		logger:   logger.With("module", "settlement_service"),
	}
}

// PrepareSettlement 结算前置快照
func (s *SettlementService) PrepareSettlement(seriesID uint64) (domain.StagedSettlement, error) {
	return s.engine.PrepareSettlement(seriesID)
}

// SettleCash 现金结算
func (s *SettlementService) SettleCash(ctx context.Context, caller string, seriesID uint64) (optionsdomain.SettlementOutcome, error) {
	outcome, err := s.engine.SettleCash(ctx, caller, seriesID)
	if err != nil {
		s.logger.ErrorContext(ctx, "cash settlement failed", "series_id", seriesID, "error", err)
		return optionsdomain.SettlementOutcome{}, err
	}
	s.logger.InfoContext(ctx, "series settled in cash",
		"series_id", seriesID, "settlement_price", outcome.SettlementPrice.String(),
		"payouts", len(outcome.Payouts))
	s.recordPayouts(ctx, outcome)
	return outcome, nil
}

// SettlePhysical 实物结算
func (s *SettlementService) SettlePhysical(ctx context.Context, caller string, seriesID uint64) (optionsdomain.SettlementOutcome, error) {
	outcome, err := s.engine.SettlePhysical(ctx, caller, seriesID)
	if err != nil {
		s.logger.ErrorContext(ctx, "physical settlement failed", "series_id", seriesID, "error", err)
		return optionsdomain.SettlementOutcome{}, err
	}
	s.logger.InfoContext(ctx, "series settled physically",
		"series_id", seriesID, "settlement_price", outcome.SettlementPrice.String(),
		"deliveries", len(outcome.Payouts))
	s.recordPayouts(ctx, outcome)
	return outcome, nil
}

// GetOutcome 查询结算结果
func (s *SettlementService) GetOutcome(seriesID uint64) (optionsdomain.SettlementOutcome, error) {
	return s.engine.GetOutcome(seriesID)
}

func (s *SettlementService) recordPayouts(ctx context.Context, outcome optionsdomain.SettlementOutcome) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.SavePayouts(ctx, outcome); err != nil {
		s.logger.WarnContext(ctx, "persist settlement payouts failed",
			"series_id", outcome.SeriesID, "error", err)
	}
}
