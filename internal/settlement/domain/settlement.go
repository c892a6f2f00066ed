package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	optionsdomain "github.com/lmckeown27/avila-protocol-testnet-sub003/internal/options/domain"
)

var (
	ErrNoSettlementPrice = errors.New("settlement price unavailable")
	ErrOutcomeNotFound   = errors.New("settlement outcome not found")
)

// ClearingAccount 实物交割的中转账户
const ClearingAccount = "settlement:clearing"

// PositionSource 结算引擎对期权核心的窄接口：
// 授权检查、只读快照与一次性落地。
type PositionSource interface {
	AuthorizeSettlement(ctx context.Context, caller string, seriesID uint64) error
	SnapshotForSettlement(seriesID uint64) (optionsdomain.Series, []optionsdomain.LongPosition, []optionsdomain.ShortPosition, error)
	FinalizeSettlement(ctx context.Context, outcome optionsdomain.SettlementOutcome) error
}

// PayoutLedger 现金结算的入账端。Debit 冲正已入账的款项，
// 仅用于结算中止时的补偿。
type PayoutLedger interface {
	Credit(ctx context.Context, account string, amount decimal.Decimal) error
	Debit(ctx context.Context, account string, amount decimal.Decimal) error
}

// AssetCustody 实物结算的标的划转端
type AssetCustody interface {
	Transfer(ctx context.Context, from, to, asset string, quantity decimal.Decimal) error
}

// StagedSettlement 结算前置快照
type StagedSettlement struct {
	Series optionsdomain.Series          `json:"series"`
	Longs  []optionsdomain.LongPosition  `json:"longs"`
	Shorts []optionsdomain.ShortPosition `json:"shorts"`
}

// Dependencies 结算引擎协作者
type Dependencies struct {
	Source  PositionSource
	Oracle  optionsdomain.PriceOracle
	Vault   optionsdomain.CollateralVault
	Ledger  PayoutLedger
	Custody AssetCustody
	// TWAPWindow 结算价取样窗口，默认 30 分钟
	TWAPWindow time.Duration
}

// Engine 结算引擎：到期后按结算价（TWAP，区别于行权用的现货价）
// 对一个系列的全部头寸做一次性清算。
type Engine struct {
	mu sync.Mutex

	source  PositionSource
	oracle  optionsdomain.PriceOracle
	vault   optionsdomain.CollateralVault
	ledger  PayoutLedger
	custody AssetCustody

	twapWindow time.Duration
	outcomes   map[uint64]optionsdomain.SettlementOutcome

	now func() time.Time
}

// NewEngine 创建结算引擎
func NewEngine(deps Dependencies) *Engine {
	window := deps.TWAPWindow
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &Engine{
		source:     deps.Source,
		oracle:     deps.Oracle,
		vault:      deps.Vault,
		ledger:     deps.Ledger,
		custody:    deps.Custody,
		twapWindow: window,
		outcomes:   make(map[uint64]optionsdomain.SettlementOutcome),
		now:        time.Now,
	}
}

// SetClock 替换时钟，仅用于测试
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// reversal 一次已完成外部划转的逆操作
type reversal func(ctx context.Context) error

// abort 中止结算：逆序冲回全部已完成的外部划转后返回原始错误
func (e *Engine) abort(ctx context.Context, undo []reversal, err error) (optionsdomain.SettlementOutcome, error) {
	var compErrs []error
	for i := len(undo) - 1; i >= 0; i-- {
		if revErr := undo[i](ctx); revErr != nil {
			compErrs = append(compErrs, revErr)
		}
	}
	if compErr := errors.Join(compErrs...); compErr != nil {
		return optionsdomain.SettlementOutcome{}, fmt.Errorf("%w (compensation failed: %v)", err, compErr)
	}
	return optionsdomain.SettlementOutcome{}, err
}

// PrepareSettlement 只读快照：系列须已到期且未结算
func (e *Engine) PrepareSettlement(seriesID uint64) (StagedSettlement, error) {
	series, longs, shorts, err := e.source.SnapshotForSettlement(seriesID)
	if err != nil {
		return StagedSettlement{}, err
	}
	return StagedSettlement{Series: series, Longs: longs, Shorts: shorts}, nil
}

// settlementPrice 以 [expiry-window, expiry] 为窗口取 TWAP 结算价
func (e *Engine) settlementPrice(ctx context.Context, series optionsdomain.Series) (decimal.Decimal, error) {
	price, err := e.oracle.GetSettlementPrice(ctx, series.Underlying, series.Expiry.Add(-e.twapWindow), series.Expiry)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", optionsdomain.ErrOracleUnavailable, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, ErrNoSettlementPrice
	}
	return price, nil
}

// SettleCash 现金结算。多头按内在价值入账，空头按持仓占比分摊
// 支付义务后解锁剩余抵押；全部划转成功后才向核心落地终态。
func (e *Engine) SettleCash(ctx context.Context, caller string, seriesID uint64) (optionsdomain.SettlementOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.source.AuthorizeSettlement(ctx, caller, seriesID); err != nil {
		return optionsdomain.SettlementOutcome{}, err
	}
	series, longs, shorts, err := e.source.SnapshotForSettlement(seriesID)
	if err != nil {
		return optionsdomain.SettlementOutcome{}, err
	}
	if series.SettlementStyle != optionsdomain.SettlementStyleCash {
		return optionsdomain.SettlementOutcome{}, optionsdomain.ErrWrongSettlementStyle
	}

	price, err := e.settlementPrice(ctx, series)
	if err != nil {
		return optionsdomain.SettlementOutcome{}, err
	}
	unitValue := series.IntrinsicValue(price).Mul(series.ContractSize)

	payouts := make(map[string]decimal.Decimal, len(longs))
	totalPayout := decimal.Zero
	for _, long := range longs {
		amount := unitValue.Mul(long.Quantity)
		payouts[long.Holder] = amount
		totalPayout = totalPayout.Add(amount)
	}

	totalShortQty := decimal.Zero
	for _, short := range shorts {
		totalShortQty = totalShortQty.Add(short.Quantity)
	}

	released := make(map[string]decimal.Decimal, len(shorts))
	for _, short := range shorts {
		obligation := decimal.Zero
		if totalShortQty.IsPositive() {
			obligation = totalPayout.Mul(short.Quantity).Div(totalShortQty)
		}
		free := short.CollateralLocked.Sub(obligation)
		if free.IsNegative() {
			free = decimal.Zero
		}
		released[short.Writer] = free
	}

	// 先完成全部外部划转，任一失败即把已完成部分逆向冲回，
	// 核心状态不落地，系列保持可重试
	var undo []reversal
	for writer, amount := range released {
		if !amount.IsPositive() {
			continue
		}
		if err := e.vault.Unlock(ctx, writer, amount); err != nil {
			return e.abort(ctx, undo, fmt.Errorf("release collateral for %s: %w", writer, err))
		}
		writer, amount := writer, amount
		undo = append(undo, func(ctx context.Context) error { return e.vault.Lock(ctx, writer, amount) })
	}
	for holder, amount := range payouts {
		if !amount.IsPositive() {
			continue
		}
		if err := e.ledger.Credit(ctx, holder, amount); err != nil {
			return e.abort(ctx, undo, fmt.Errorf("credit payout for %s: %w", holder, err))
		}
		holder, amount := holder, amount
		undo = append(undo, func(ctx context.Context) error { return e.ledger.Debit(ctx, holder, amount) })
	}

	outcome := optionsdomain.SettlementOutcome{
		SeriesID:           seriesID,
		SettlementPrice:    price,
		Style:              optionsdomain.SettlementStyleCash,
		Payouts:            payouts,
		CollateralReleased: released,
		SettledAt:          e.now(),
	}
	if err := e.source.FinalizeSettlement(ctx, outcome); err != nil {
		return e.abort(ctx, undo, err)
	}
	e.outcomes[seriesID] = outcome
	return outcome, nil
}

// SettlePhysical 实物结算：按结算价把多头应得的现金价值折算为
// 标的数量，由空头按占比交割入中转账户，再分发给各多头；
// 交割完成后空头抵押全额解锁。
func (e *Engine) SettlePhysical(ctx context.Context, caller string, seriesID uint64) (optionsdomain.SettlementOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.source.AuthorizeSettlement(ctx, caller, seriesID); err != nil {
		return optionsdomain.SettlementOutcome{}, err
	}
	series, longs, shorts, err := e.source.SnapshotForSettlement(seriesID)
	if err != nil {
		return optionsdomain.SettlementOutcome{}, err
	}
	if series.SettlementStyle != optionsdomain.SettlementStylePhysical {
		return optionsdomain.SettlementOutcome{}, optionsdomain.ErrWrongSettlementStyle
	}

	price, err := e.settlementPrice(ctx, series)
	if err != nil {
		return optionsdomain.SettlementOutcome{}, err
	}
	unitValue := series.IntrinsicValue(price).Mul(series.ContractSize)

	// holder -> 应收标的数量
	deliveries := make(map[string]decimal.Decimal, len(longs))
	totalUnits := decimal.Zero
	for _, long := range longs {
		units := unitValue.Mul(long.Quantity).Div(price)
		deliveries[long.Holder] = units
		totalUnits = totalUnits.Add(units)
	}

	totalShortQty := decimal.Zero
	for _, short := range shorts {
		totalShortQty = totalShortQty.Add(short.Quantity)
	}

	// 空头按占比把标的交割到中转账户；任一划转或解锁失败即
	// 把已完成部分逆向冲回，系列保持可重试
	var undo []reversal
	for _, short := range shorts {
		if !totalShortQty.IsPositive() || !totalUnits.IsPositive() {
			break
		}
		units := totalUnits.Mul(short.Quantity).Div(totalShortQty)
		if !units.IsPositive() {
			continue
		}
		if err := e.custody.Transfer(ctx, short.Writer, ClearingAccount, series.Underlying, units); err != nil {
			return e.abort(ctx, undo, fmt.Errorf("collect delivery from %s: %w", short.Writer, err))
		}
		writer, collected := short.Writer, units
		undo = append(undo, func(ctx context.Context) error {
			return e.custody.Transfer(ctx, ClearingAccount, writer, series.Underlying, collected)
		})
	}
	for holder, units := range deliveries {
		if !units.IsPositive() {
			continue
		}
		if err := e.custody.Transfer(ctx, ClearingAccount, holder, series.Underlying, units); err != nil {
			return e.abort(ctx, undo, fmt.Errorf("deliver to %s: %w", holder, err))
		}
		undo = append(undo, func(ctx context.Context) error {
			return e.custody.Transfer(ctx, holder, ClearingAccount, series.Underlying, units)
		})
	}

	released := make(map[string]decimal.Decimal, len(shorts))
	for _, short := range shorts {
		if short.CollateralLocked.IsPositive() {
			if err := e.vault.Unlock(ctx, short.Writer, short.CollateralLocked); err != nil {
				return e.abort(ctx, undo, fmt.Errorf("release collateral for %s: %w", short.Writer, err))
			}
			writer, amount := short.Writer, short.CollateralLocked
			undo = append(undo, func(ctx context.Context) error { return e.vault.Lock(ctx, writer, amount) })
		}
		released[short.Writer] = short.CollateralLocked
	}

	outcome := optionsdomain.SettlementOutcome{
		SeriesID:           seriesID,
		SettlementPrice:    price,
		Style:              optionsdomain.SettlementStylePhysical,
		Payouts:            deliveries,
		CollateralReleased: released,
		SettledAt:          e.now(),
	}
	if err := e.source.FinalizeSettlement(ctx, outcome); err != nil {
		return e.abort(ctx, undo, err)
	}
	e.outcomes[seriesID] = outcome
	return outcome, nil
}

// GetOutcome 查询某系列的结算结果
func (e *Engine) GetOutcome(seriesID uint64) (optionsdomain.SettlementOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	outcome, ok := e.outcomes[seriesID]
	if !ok {
		return optionsdomain.SettlementOutcome{}, ErrOutcomeNotFound
	}
	return outcome, nil
}
