package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	margindomain "github.com/lmckeown27/avila-protocol-testnet-sub003/internal/margin/domain"
	optionsdomain "github.com/lmckeown27/avila-protocol-testnet-sub003/internal/options/domain"
)

type stubGovernance struct{}

func (stubGovernance) IsAdmin(_ context.Context, caller string) bool { return caller == "admin" }
func (stubGovernance) GetParameter(_ context.Context, name string) (decimal.Decimal, error) {
	switch name {
	case optionsdomain.ParamMinStrike, optionsdomain.ParamMinContractSize:
		return decimal.NewFromInt(1), nil
	case optionsdomain.ParamMaxStrike:
		return decimal.NewFromInt(1_000_000), nil
	case optionsdomain.ParamMaxContractSize:
		return decimal.NewFromInt(10_000), nil
	case optionsdomain.ParamMaxExpiryDays:
		return decimal.NewFromInt(365), nil
	case optionsdomain.ParamMaxPriceStaleness:
		return decimal.NewFromInt(60), nil
	}
	return decimal.Zero, fmt.Errorf("unknown parameter %s", name)
}
func (stubGovernance) IsModulePaused(context.Context, string) bool { return false }

type stubCompliance struct{}

func (stubCompliance) IsUserAllowedForSeries(context.Context, string, uint64) (bool, error) {
	return true, nil
}

type stubOracle struct {
	spot       decimal.Decimal
	settlement decimal.Decimal
	at         time.Time
	err        error
}

func (o *stubOracle) GetCurrentPrice(context.Context, string) (optionsdomain.PricePoint, error) {
	return optionsdomain.PricePoint{Price: o.spot, Timestamp: o.at}, nil
}

func (o *stubOracle) GetSettlementPrice(_ context.Context, _ string, _, _ time.Time) (decimal.Decimal, error) {
	if o.err != nil {
		return decimal.Zero, o.err
	}
	return o.settlement, nil
}

type ledgerVault struct {
	locked  map[string]decimal.Decimal
	credits map[string]decimal.Decimal
	holding map[string]decimal.Decimal

	failCreditFor  string
	failTransferTo string
}

func newLedgerVault() *ledgerVault {
	return &ledgerVault{
		locked:  map[string]decimal.Decimal{},
		credits: map[string]decimal.Decimal{},
		holding: map[string]decimal.Decimal{},
	}
}

func (v *ledgerVault) get(m map[string]decimal.Decimal, k string) decimal.Decimal {
	if d, ok := m[k]; ok {
		return d
	}
	return decimal.Zero
}

func (v *ledgerVault) Lock(_ context.Context, account string, amount decimal.Decimal) error {
	v.locked[account] = v.get(v.locked, account).Add(amount)
	return nil
}

func (v *ledgerVault) Unlock(_ context.Context, account string, amount decimal.Decimal) error {
	if v.get(v.locked, account).LessThan(amount) {
		return errors.New("unlock exceeds locked amount")
	}
	v.locked[account] = v.get(v.locked, account).Sub(amount)
	return nil
}

func (v *ledgerVault) Balance(_ context.Context, account string) (decimal.Decimal, error) {
	return v.get(v.locked, account), nil
}

func (v *ledgerVault) Credit(_ context.Context, account string, amount decimal.Decimal) error {
	if account == v.failCreditFor {
		return errors.New("ledger unavailable")
	}
	v.credits[account] = v.get(v.credits, account).Add(amount)
	return nil
}

func (v *ledgerVault) Debit(_ context.Context, account string, amount decimal.Decimal) error {
	if v.get(v.credits, account).LessThan(amount) {
		return errors.New("debit exceeds credited amount")
	}
	v.credits[account] = v.get(v.credits, account).Sub(amount)
	return nil
}

func (v *ledgerVault) Transfer(_ context.Context, from, to, _ string, quantity decimal.Decimal) error {
	if to == v.failTransferTo {
		return errors.New("custody unavailable")
	}
	v.holding[from] = v.get(v.holding, from).Sub(quantity)
	v.holding[to] = v.get(v.holding, to).Add(quantity)
	return nil
}

type fixture struct {
	core   *optionsdomain.Core
	engine *Engine
	oracle *stubOracle
	vault  *ledgerVault
	clock  time.Time
}

func newFixture(t *testing.T, style optionsdomain.SettlementStyle) *fixture {
	t.Helper()

	marginEngine, err := margindomain.NewEngine(margindomain.DefaultRiskParameters(), margindomain.SymmetricStrikeModel{})
	require.NoError(t, err)

	f := &fixture{
		oracle: &stubOracle{spot: decimal.NewFromInt(50_000), settlement: decimal.NewFromInt(55_000)},
		vault:  newLedgerVault(),
		clock:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	f.oracle.at = f.clock

	f.core = optionsdomain.NewCore(optionsdomain.Dependencies{
		Governance: stubGovernance{},
		Compliance: stubCompliance{},
		Vault:      f.vault,
		Oracle:     f.oracle,
		Ledger:     f.vault,
		Margin:     marginEngine,
	})
	f.core.SetClock(func() time.Time { return f.clock })

	f.engine = NewEngine(Dependencies{
		Source:  f.core,
		Oracle:  f.oracle,
		Vault:   f.vault,
		Ledger:  f.vault,
		Custody: f.vault,
	})
	f.engine.SetClock(func() time.Time { return f.clock })

	ctx := context.Background()
	series, err := f.core.CreateSeries(ctx, "admin", optionsdomain.SeriesSpec{
		Underlying:      "BTC",
		Strike:          decimal.NewFromInt(50_000),
		ExpiryDays:      30,
		OptionType:      optionsdomain.OptionTypeCall,
		ContractSize:    decimal.NewFromInt(100),
		SettlementStyle: style,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), series.ID)

	_, err = f.core.Write(ctx, series.ID, "writer", decimal.NewFromInt(10))
	require.NoError(t, err)
	_, err = f.core.Buy(ctx, series.ID, "holder", decimal.NewFromInt(10), decimal.NewFromInt(5_000))
	require.NoError(t, err)
	return f
}

func (f *fixture) expire() { f.clock = f.clock.Add(31 * 24 * time.Hour) }

func TestSettleCashDistributesPayouts(t *testing.T) {
	f := newFixture(t, optionsdomain.SettlementStyleCash)
	f.expire()

	outcome, err := f.engine.SettleCash(context.Background(), "admin", 1)
	require.NoError(t, err)

	// (55000-50000) * 10 * 100
	wantPayout := decimal.NewFromInt(5_000_000)
	assert.True(t, outcome.Payouts["holder"].Equal(wantPayout), "payout %s", outcome.Payouts["holder"])
	assert.True(t, f.vault.credits["holder"].Equal(wantPayout))

	// 已锁 50M，支付义务 5M，解锁 45M
	wantReleased := decimal.NewFromInt(45_000_000)
	assert.True(t, outcome.CollateralReleased["writer"].Equal(wantReleased))
	assert.True(t, f.vault.locked["writer"].Equal(decimal.NewFromInt(5_000_000)))

	series, err := f.core.GetSeries(1)
	require.NoError(t, err)
	assert.False(t, series.Active)
}

func TestSettleCashBeforeExpiry(t *testing.T) {
	f := newFixture(t, optionsdomain.SettlementStyleCash)

	_, err := f.engine.SettleCash(context.Background(), "admin", 1)
	assert.ErrorIs(t, err, optionsdomain.ErrNotExpired)
}

func TestSettleCashTwiceFailsAlreadySettled(t *testing.T) {
	f := newFixture(t, optionsdomain.SettlementStyleCash)
	f.expire()
	ctx := context.Background()

	_, err := f.engine.SettleCash(ctx, "admin", 1)
	require.NoError(t, err)

	lockedAfter := f.vault.locked["writer"]
	_, err = f.engine.SettleCash(ctx, "admin", 1)
	assert.ErrorIs(t, err, optionsdomain.ErrAlreadySettled)
	assert.True(t, f.vault.locked["writer"].Equal(lockedAfter))
}

func TestSettleCashRejectsNonAdmin(t *testing.T) {
	f := newFixture(t, optionsdomain.SettlementStyleCash)
	f.expire()

	_, err := f.engine.SettleCash(context.Background(), "mallory", 1)
	assert.ErrorIs(t, err, optionsdomain.ErrUnauthorized)
}

func TestSettleCashWrongStyle(t *testing.T) {
	f := newFixture(t, optionsdomain.SettlementStylePhysical)
	f.expire()

	_, err := f.engine.SettleCash(context.Background(), "admin", 1)
	assert.ErrorIs(t, err, optionsdomain.ErrWrongSettlementStyle)
}

func TestSettleCashOracleFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, optionsdomain.SettlementStyleCash)
	f.expire()
	f.oracle.err = errors.New("twap feed down")

	_, err := f.engine.SettleCash(context.Background(), "admin", 1)
	assert.ErrorIs(t, err, optionsdomain.ErrOracleUnavailable)

	series, err := f.core.GetSeries(1)
	require.NoError(t, err)
	assert.True(t, series.Active)
	assert.True(t, f.vault.locked["writer"].Equal(decimal.NewFromInt(50_000_000)))
}

func TestSettleCashLedgerFailureCompensatesAndRetrySucceeds(t *testing.T) {
	f := newFixture(t, optionsdomain.SettlementStyleCash)
	ctx := context.Background()

	// 第二个持有人，使入账分成多笔
	_, err := f.core.Buy(ctx, 1, "holder2", decimal.NewFromInt(5), decimal.NewFromInt(3_000))
	require.NoError(t, err)

	f.expire()
	f.vault.failCreditFor = "holder2"
	_, err = f.engine.SettleCash(ctx, "admin", 1)
	require.Error(t, err)

	// 零部分变更：已解锁的抵押重新锁回，已入账的款项全部冲回
	assert.True(t, f.vault.locked["writer"].Equal(decimal.NewFromInt(50_000_000)), "locked %s", f.vault.locked["writer"])
	assert.True(t, f.vault.get(f.vault.credits, "holder").IsZero())
	assert.True(t, f.vault.get(f.vault.credits, "holder2").IsZero())
	series, err := f.core.GetSeries(1)
	require.NoError(t, err)
	assert.True(t, series.Active)

	// 账本恢复后同一系列可重试结算
	f.vault.failCreditFor = ""
	outcome, err := f.engine.SettleCash(ctx, "admin", 1)
	require.NoError(t, err)
	assert.True(t, outcome.Payouts["holder"].Equal(decimal.NewFromInt(5_000_000)))
	assert.True(t, outcome.Payouts["holder2"].Equal(decimal.NewFromInt(2_500_000)))
	// 总支付义务 7.5M，解锁 42.5M
	assert.True(t, outcome.CollateralReleased["writer"].Equal(decimal.NewFromInt(42_500_000)))
	assert.True(t, f.vault.locked["writer"].Equal(decimal.NewFromInt(7_500_000)))
}

func TestSettlePhysicalCustodyFailureCompensatesAndRetrySucceeds(t *testing.T) {
	f := newFixture(t, optionsdomain.SettlementStylePhysical)
	ctx := context.Background()
	f.expire()

	f.vault.failTransferTo = "holder"
	_, err := f.engine.SettlePhysical(ctx, "admin", 1)
	require.Error(t, err)

	// 已收入中转账户的标的冲回空头，抵押保持锁定
	assert.True(t, f.vault.get(f.vault.holding, "writer").IsZero())
	assert.True(t, f.vault.get(f.vault.holding, ClearingAccount).IsZero())
	assert.True(t, f.vault.locked["writer"].Equal(decimal.NewFromInt(50_000_000)))
	series, err := f.core.GetSeries(1)
	require.NoError(t, err)
	assert.True(t, series.Active)

	f.vault.failTransferTo = ""
	outcome, err := f.engine.SettlePhysical(ctx, "admin", 1)
	require.NoError(t, err)
	wantUnits := decimal.NewFromInt(5_000_000).Div(decimal.NewFromInt(55_000))
	assert.True(t, outcome.Payouts["holder"].Equal(wantUnits))
	assert.True(t, f.vault.holding["holder"].Equal(wantUnits))
	assert.True(t, f.vault.locked["writer"].IsZero())
}

func TestSettleCashOutOfTheMoneyReleasesAllCollateral(t *testing.T) {
	f := newFixture(t, optionsdomain.SettlementStyleCash)
	f.oracle.settlement = decimal.NewFromInt(40_000)
	f.expire()

	outcome, err := f.engine.SettleCash(context.Background(), "admin", 1)
	require.NoError(t, err)

	assert.True(t, outcome.Payouts["holder"].IsZero())
	assert.True(t, outcome.CollateralReleased["writer"].Equal(decimal.NewFromInt(50_000_000)))
	assert.True(t, f.vault.locked["writer"].IsZero())
}

func TestSettlePhysicalDeliversUnderlying(t *testing.T) {
	f := newFixture(t, optionsdomain.SettlementStylePhysical)
	f.expire()

	outcome, err := f.engine.SettlePhysical(context.Background(), "admin", 1)
	require.NoError(t, err)

	// 应付现金价值 5M，按结算价 55000 折算标的数量
	wantUnits := decimal.NewFromInt(5_000_000).Div(decimal.NewFromInt(55_000))
	assert.True(t, outcome.Payouts["holder"].Equal(wantUnits), "units %s", outcome.Payouts["holder"])
	assert.True(t, f.vault.holding["holder"].Equal(wantUnits))
	assert.True(t, f.vault.holding["writer"].Equal(wantUnits.Neg()))

	// 实物交割后抵押全额解锁
	assert.True(t, outcome.CollateralReleased["writer"].Equal(decimal.NewFromInt(50_000_000)))
	assert.True(t, f.vault.locked["writer"].IsZero())

	series, err := f.core.GetSeries(1)
	require.NoError(t, err)
	assert.False(t, series.Active)
}

func TestSettlePhysicalWrongStyle(t *testing.T) {
	f := newFixture(t, optionsdomain.SettlementStyleCash)
	f.expire()

	_, err := f.engine.SettlePhysical(context.Background(), "admin", 1)
	assert.ErrorIs(t, err, optionsdomain.ErrWrongSettlementStyle)
}

func TestPrepareSettlementSnapshot(t *testing.T) {
	f := newFixture(t, optionsdomain.SettlementStyleCash)

	_, err := f.engine.PrepareSettlement(1)
	assert.ErrorIs(t, err, optionsdomain.ErrNotExpired)

	f.expire()
	staged, err := f.engine.PrepareSettlement(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), staged.Series.ID)
	require.Len(t, staged.Longs, 1)
	require.Len(t, staged.Shorts, 1)
}

func TestGetOutcome(t *testing.T) {
	f := newFixture(t, optionsdomain.SettlementStyleCash)

	_, err := f.engine.GetOutcome(1)
	assert.ErrorIs(t, err, ErrOutcomeNotFound)

	f.expire()
	want, err := f.engine.SettleCash(context.Background(), "admin", 1)
	require.NoError(t, err)

	got, err := f.engine.GetOutcome(1)
	require.NoError(t, err)
	assert.True(t, got.SettlementPrice.Equal(want.SettlementPrice))
}
