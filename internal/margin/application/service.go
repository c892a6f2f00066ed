// Package application 保证金应用服务
package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lmckeown27/avila-protocol-testnet-sub003/internal/margin/domain"
)

// MarginService 保证金查询服务：对外提供抵押品报价与账户保证金计算
type MarginService struct {
	engine *domain.Engine
	logger *slog.Logger
}

func NewMarginService(engine *domain.Engine, logger *slog.Logger) *MarginService {
	return &MarginService{
		engine: engine,
		logger: logger.With("module", "margin_service"),
	}
}

// RequiredCollateral 单笔开仓抵押品报价
func (s *MarginService) RequiredCollateral(ctx context.Context, terms domain.ContractTerms, side domain.PositionSide, quantity, referencePrice decimal.Decimal) decimal.Decimal {
	required := s.engine.RequiredCollateral(terms, side, quantity, referencePrice)
	s.logger.DebugContext(ctx, "collateral quoted",
		"strike", terms.Strike.String(), "side", side,
		"quantity", quantity.String(), "required", required.String())
	return required
}

// AmericanMargin 美式保证金报价
func (s *MarginService) AmericanMargin(quantity, entryPrice decimal.Decimal, timeToExpiry time.Duration) decimal.Decimal {
	return s.engine.AmericanMargin(quantity, entryPrice, timeToExpiry)
}

// ComputeAccountMargin 账户初始/维持保证金要求
func (s *MarginService) ComputeAccountMargin(exposures []domain.ShortExposure) domain.AccountMargin {
	return s.engine.ComputeAccountMargin(exposures)
}

// RequireSufficientMargin 保证金门槛检查
func (s *MarginService) RequireSufficientMargin(posted decimal.Decimal, exposures []domain.ShortExposure) error {
	return s.engine.RequireSufficientMargin(posted, exposures)
}

// Params 当前风险参数
func (s *MarginService) Params() domain.RiskParameters {
	return s.engine.Params()
}
