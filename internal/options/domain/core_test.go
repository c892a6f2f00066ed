package domain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	margindomain "github.com/lmckeown27/avila-protocol-testnet-sub003/internal/margin/domain"
)

type fakeGovernance struct {
	admins map[string]bool
	params map[string]decimal.Decimal
	paused map[string]bool
}

func newFakeGovernance() *fakeGovernance {
	return &fakeGovernance{
		admins: map[string]bool{"admin": true},
		params: map[string]decimal.Decimal{
			ParamMinStrike:         decimal.NewFromInt(1),
			ParamMaxStrike:         decimal.NewFromInt(1_000_000),
			ParamMinContractSize:   decimal.NewFromInt(1),
			ParamMaxContractSize:   decimal.NewFromInt(10_000),
			ParamMaxExpiryDays:     decimal.NewFromInt(365),
			ParamMaxPriceStaleness: decimal.NewFromInt(60),
		},
		paused: map[string]bool{},
	}
}

func (g *fakeGovernance) IsAdmin(_ context.Context, caller string) bool { return g.admins[caller] }
func (g *fakeGovernance) GetParameter(_ context.Context, name string) (decimal.Decimal, error) {
	v, ok := g.params[name]
	if !ok {
		return decimal.Zero, errors.New("unknown parameter")
	}
	return v, nil
}
func (g *fakeGovernance) IsModulePaused(_ context.Context, module string) bool {
	return g.paused[module]
}

type fakeCompliance struct {
	denied map[string]bool
	err    error
}

func (c *fakeCompliance) IsUserAllowedForSeries(_ context.Context, user string, _ uint64) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	return !c.denied[user], nil
}

type fakeVault struct {
	balances  map[string]decimal.Decimal
	locked    map[string]decimal.Decimal
	credits   map[string]decimal.Decimal
	creditErr error
}

func newFakeVault() *fakeVault {
	return &fakeVault{
		balances: map[string]decimal.Decimal{},
		locked:   map[string]decimal.Decimal{},
		credits:  map[string]decimal.Decimal{},
	}
}

func (v *fakeVault) deposit(account string, amount decimal.Decimal) {
	v.balances[account] = v.balance(account).Add(amount)
}

func (v *fakeVault) balance(account string) decimal.Decimal {
	b, ok := v.balances[account]
	if !ok {
		return decimal.Zero
	}
	return b
}

func (v *fakeVault) lockedOf(account string) decimal.Decimal {
	l, ok := v.locked[account]
	if !ok {
		return decimal.Zero
	}
	return l
}

func (v *fakeVault) Lock(_ context.Context, account string, amount decimal.Decimal) error {
	if v.balance(account).LessThan(amount) {
		return errors.New("balance too low")
	}
	v.balances[account] = v.balance(account).Sub(amount)
	v.locked[account] = v.lockedOf(account).Add(amount)
	return nil
}

func (v *fakeVault) Unlock(_ context.Context, account string, amount decimal.Decimal) error {
	if v.lockedOf(account).LessThan(amount) {
		return errors.New("unlock exceeds locked amount")
	}
	v.locked[account] = v.lockedOf(account).Sub(amount)
	v.balances[account] = v.balance(account).Add(amount)
	return nil
}

func (v *fakeVault) Balance(_ context.Context, account string) (decimal.Decimal, error) {
	return v.balance(account), nil
}

func (v *fakeVault) creditOf(account string) decimal.Decimal {
	c, ok := v.credits[account]
	if !ok {
		return decimal.Zero
	}
	return c
}

func (v *fakeVault) Credit(_ context.Context, account string, amount decimal.Decimal) error {
	if v.creditErr != nil {
		return v.creditErr
	}
	v.credits[account] = v.creditOf(account).Add(amount)
	return nil
}

type fakeOracle struct {
	prices          map[string]PricePoint
	settlementPrice decimal.Decimal
	err             error
}

func (o *fakeOracle) GetCurrentPrice(_ context.Context, asset string) (PricePoint, error) {
	if o.err != nil {
		return PricePoint{}, o.err
	}
	p, ok := o.prices[asset]
	if !ok {
		return PricePoint{}, errors.New("no price for asset")
	}
	return p, nil
}

func (o *fakeOracle) GetSettlementPrice(_ context.Context, _ string, _, _ time.Time) (decimal.Decimal, error) {
	if o.err != nil {
		return decimal.Zero, o.err
	}
	return o.settlementPrice, nil
}

type recordingAudit struct {
	events []AuditEvent
}

func (a *recordingAudit) Notify(_ context.Context, event AuditEvent) {
	a.events = append(a.events, event)
}

type coreFixture struct {
	core       *Core
	governance *fakeGovernance
	compliance *fakeCompliance
	vault      *fakeVault
	oracle     *fakeOracle
	audit      *recordingAudit
	clock      time.Time
}

func newCoreFixture(t *testing.T) *coreFixture {
	t.Helper()

	engine, err := margindomain.NewEngine(margindomain.DefaultRiskParameters(), margindomain.SymmetricStrikeModel{})
	require.NoError(t, err)

	f := &coreFixture{
		governance: newFakeGovernance(),
		compliance: &fakeCompliance{denied: map[string]bool{}},
		vault:      newFakeVault(),
		oracle:     &fakeOracle{prices: map[string]PricePoint{}},
		audit:      &recordingAudit{},
		clock:      time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	f.core = NewCore(Dependencies{
		Governance: f.governance,
		Compliance: f.compliance,
		Vault:      f.vault,
		Oracle:     f.oracle,
		Ledger:     f.vault,
		Audit:      f.audit,
		Margin:     engine,
	})
	f.core.SetClock(func() time.Time { return f.clock })
	return f
}

func (f *coreFixture) setPrice(asset string, price int64) {
	f.oracle.prices[asset] = PricePoint{Price: decimal.NewFromInt(price), Timestamp: f.clock}
}

func (f *coreFixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func btcCallSpec() SeriesSpec {
	return SeriesSpec{
		Underlying:      "BTC",
		Strike:          decimal.NewFromInt(50_000),
		ExpiryDays:      30,
		OptionType:      OptionTypeCall,
		ContractSize:    decimal.NewFromInt(100),
		SettlementStyle: SettlementStyleCash,
	}
}

func TestCoreFullLifecycle(t *testing.T) {
	f := newCoreFixture(t)
	ctx := context.Background()

	series, err := f.core.CreateSeries(ctx, "admin", btcCallSpec())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), series.ID)
	assert.Equal(t, f.clock.Add(30*24*time.Hour), series.Expiry)
	assert.True(t, series.Active)

	f.setPrice("BTC", 50_000)
	f.vault.deposit("writer", decimal.NewFromInt(60_000_000))

	ten := decimal.NewFromInt(10)
	short, err := f.core.Write(ctx, series.ID, "writer", ten)
	require.NoError(t, err)
	// 对称履约价模型：50000 * 100 * 10
	wantLock := decimal.NewFromInt(50_000_000)
	assert.True(t, short.CollateralLocked.Equal(wantLock), "locked %s", short.CollateralLocked)
	assert.True(t, f.vault.lockedOf("writer").Equal(wantLock))

	long, err := f.core.Buy(ctx, series.ID, "holder", ten, decimal.NewFromInt(5_000))
	require.NoError(t, err)
	assert.True(t, long.PremiumPaid.Equal(decimal.NewFromInt(50_000)))

	got, err := f.core.GetSeries(series.ID)
	require.NoError(t, err)
	assert.True(t, got.OpenInterest.Equal(ten))

	stats := f.core.Stats()
	assert.True(t, stats.PremiumCollected.Equal(decimal.NewFromInt(50_000)))
	assert.True(t, stats.BuyVolume.Equal(ten))
	assert.True(t, stats.WriteVolume.Equal(ten))

	// 现货升至 60000，行权 10 张：(60000-50000) * 10 * 100
	f.setPrice("BTC", 60_000)
	payout, err := f.core.Exercise(ctx, series.ID, "holder", ten)
	require.NoError(t, err)
	assert.True(t, payout.Equal(decimal.NewFromInt(10_000_000)), "payout %s", payout)

	got, err = f.core.GetSeries(series.ID)
	require.NoError(t, err)
	assert.True(t, got.OpenInterest.IsZero())
	assert.Empty(t, f.core.GetUserLongs("holder"))

	// 行权款入账给持有人，空头全额分摊后销毁；
	// 抵押中支付义务 10M 保持锁定，其余 40M 解锁退还
	assert.True(t, f.vault.creditOf("holder").Equal(decimal.NewFromInt(10_000_000)))
	assert.Empty(t, f.core.GetUserShorts("writer"))
	assert.True(t, f.vault.lockedOf("writer").Equal(decimal.NewFromInt(10_000_000)), "locked %s", f.vault.lockedOf("writer"))
	assert.True(t, f.vault.balance("writer").Equal(decimal.NewFromInt(50_000_000)), "balance %s", f.vault.balance("writer"))

	kinds := make([]string, 0, len(f.audit.events))
	for _, e := range f.audit.events {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []string{EventSeriesCreated, EventPositionWrote, EventPositionBought, EventExercised}, kinds)
}

func TestCreateSeriesRejectsNonAdmin(t *testing.T) {
	f := newCoreFixture(t)

	_, err := f.core.CreateSeries(context.Background(), "mallory", btcCallSpec())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Zero(t, f.core.Stats().SeriesCreated)
}

func TestCreateSeriesBounds(t *testing.T) {
	f := newCoreFixture(t)
	ctx := context.Background()

	spec := btcCallSpec()
	spec.Strike = decimal.NewFromInt(2_000_000)
	_, err := f.core.CreateSeries(ctx, "admin", spec)
	assert.ErrorIs(t, err, ErrValidation)

	spec = btcCallSpec()
	spec.ExpiryDays = 366
	_, err = f.core.CreateSeries(ctx, "admin", spec)
	assert.ErrorIs(t, err, ErrValidation)

	spec = btcCallSpec()
	spec.ContractSize = decimal.Zero
	_, err = f.core.CreateSeries(ctx, "admin", spec)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateSeriesPaused(t *testing.T) {
	f := newCoreFixture(t)
	f.governance.paused[ModuleOptions] = true

	_, err := f.core.CreateSeries(context.Background(), "admin", btcCallSpec())
	assert.ErrorIs(t, err, ErrModulePaused)
}

func TestBuyMergesPositionPerHolder(t *testing.T) {
	f := newCoreFixture(t)
	ctx := context.Background()

	series, err := f.core.CreateSeries(ctx, "admin", btcCallSpec())
	require.NoError(t, err)

	first, err := f.core.Buy(ctx, series.ID, "holder", decimal.NewFromInt(3), decimal.NewFromInt(1_000))
	require.NoError(t, err)
	second, err := f.core.Buy(ctx, series.ID, "holder", decimal.NewFromInt(2), decimal.NewFromInt(2_000))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Quantity.Equal(decimal.NewFromInt(5)))
	assert.True(t, second.PremiumPaid.Equal(decimal.NewFromInt(7_000)))

	longs := f.core.GetUserLongs("holder")
	require.Len(t, longs, 1)
}

func TestBuyRejectsCompliance(t *testing.T) {
	f := newCoreFixture(t)
	ctx := context.Background()

	series, err := f.core.CreateSeries(ctx, "admin", btcCallSpec())
	require.NoError(t, err)

	f.compliance.denied["holder"] = true
	_, err = f.core.Buy(ctx, series.ID, "holder", decimal.NewFromInt(1), decimal.NewFromInt(100))
	assert.ErrorIs(t, err, ErrComplianceRejected)

	got, err := f.core.GetSeries(series.ID)
	require.NoError(t, err)
	assert.True(t, got.OpenInterest.IsZero())
}

func TestBuyExpiredSeries(t *testing.T) {
	f := newCoreFixture(t)
	ctx := context.Background()

	series, err := f.core.CreateSeries(ctx, "admin", btcCallSpec())
	require.NoError(t, err)

	f.advance(31 * 24 * time.Hour)
	_, err = f.core.Buy(ctx, series.ID, "holder", decimal.NewFromInt(1), decimal.NewFromInt(100))
	assert.ErrorIs(t, err, ErrSeriesExpired)
}

func TestWriteInsufficientCollateralNoSideEffects(t *testing.T) {
	f := newCoreFixture(t)
	ctx := context.Background()

	series, err := f.core.CreateSeries(ctx, "admin", btcCallSpec())
	require.NoError(t, err)
	f.setPrice("BTC", 50_000)
	f.vault.deposit("writer", decimal.NewFromInt(1_000))

	_, err = f.core.Write(ctx, series.ID, "writer", decimal.NewFromInt(10))
	assert.ErrorIs(t, err, ErrInsufficientCollateral)

	assert.True(t, f.vault.lockedOf("writer").IsZero())
	assert.True(t, f.vault.balance("writer").Equal(decimal.NewFromInt(1_000)))
	assert.Empty(t, f.core.GetUserShorts("writer"))
	assert.True(t, f.core.Stats().WriteVolume.IsZero())
}

func TestWriteOracleUnavailable(t *testing.T) {
	f := newCoreFixture(t)
	ctx := context.Background()

	series, err := f.core.CreateSeries(ctx, "admin", btcCallSpec())
	require.NoError(t, err)
	f.vault.deposit("writer", decimal.NewFromInt(100_000_000))
	f.oracle.err = errors.New("feed down")

	_, err = f.core.Write(ctx, series.ID, "writer", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrOracleUnavailable)
	assert.True(t, f.vault.lockedOf("writer").IsZero())
}

func TestExerciseBeforeExpiryOnly(t *testing.T) {
	f := newCoreFixture(t)
	ctx := context.Background()

	series, err := f.core.CreateSeries(ctx, "admin", btcCallSpec())
	require.NoError(t, err)
	_, err = f.core.Buy(ctx, series.ID, "holder", decimal.NewFromInt(2), decimal.NewFromInt(100))
	require.NoError(t, err)

	f.advance(30 * 24 * time.Hour)
	f.setPrice("BTC", 60_000)
	_, err = f.core.Exercise(ctx, series.ID, "holder", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrSeriesExpired)
}

func TestExerciseStalePrice(t *testing.T) {
	f := newCoreFixture(t)
	ctx := context.Background()

	series, err := f.core.CreateSeries(ctx, "admin", btcCallSpec())
	require.NoError(t, err)
	_, err = f.core.Buy(ctx, series.ID, "holder", decimal.NewFromInt(1), decimal.NewFromInt(100))
	require.NoError(t, err)

	f.setPrice("BTC", 60_000)
	f.advance(61 * time.Second)
	_, err = f.core.Exercise(ctx, series.ID, "holder", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrStalePrice)

	// 头寸与未平仓量不变
	longs := f.core.GetUserLongs("holder")
	require.Len(t, longs, 1)
	assert.True(t, longs[0].Quantity.Equal(decimal.NewFromInt(1)))
}

func TestExerciseOutOfTheMoneyPutPaysZero(t *testing.T) {
	f := newCoreFixture(t)
	ctx := context.Background()

	spec := btcCallSpec()
	spec.OptionType = OptionTypePut
	series, err := f.core.CreateSeries(ctx, "admin", spec)
	require.NoError(t, err)
	_, err = f.core.Buy(ctx, series.ID, "holder", decimal.NewFromInt(1), decimal.NewFromInt(100))
	require.NoError(t, err)

	f.setPrice("BTC", 60_000)
	payout, err := f.core.Exercise(ctx, series.ID, "holder", decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.True(t, payout.IsZero())
}

func TestExerciseMoreThanHeld(t *testing.T) {
	f := newCoreFixture(t)
	ctx := context.Background()

	series, err := f.core.CreateSeries(ctx, "admin", btcCallSpec())
	require.NoError(t, err)
	_, err = f.core.Buy(ctx, series.ID, "holder", decimal.NewFromInt(1), decimal.NewFromInt(100))
	require.NoError(t, err)

	f.setPrice("BTC", 60_000)
	_, err = f.core.Exercise(ctx, series.ID, "holder", decimal.NewFromInt(2))
	assert.ErrorIs(t, err, ErrInsufficientPosition)
}

func TestExerciseAssignsShortsProRata(t *testing.T) {
	f := newCoreFixture(t)
	ctx := context.Background()

	series, err := f.core.CreateSeries(ctx, "admin", btcCallSpec())
	require.NoError(t, err)
	f.setPrice("BTC", 50_000)
	f.vault.deposit("writer1", decimal.NewFromInt(40_000_000))
	f.vault.deposit("writer2", decimal.NewFromInt(25_000_000))

	_, err = f.core.Write(ctx, series.ID, "writer1", decimal.NewFromInt(6))
	require.NoError(t, err)
	_, err = f.core.Write(ctx, series.ID, "writer2", decimal.NewFromInt(4))
	require.NoError(t, err)
	_, err = f.core.Buy(ctx, series.ID, "holder", decimal.NewFromInt(10), decimal.NewFromInt(5_000))
	require.NoError(t, err)

	// 行权 5 张：writer1 分摊 3、writer2 分摊 2
	f.setPrice("BTC", 60_000)
	payout, err := f.core.Exercise(ctx, series.ID, "holder", decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.True(t, payout.Equal(decimal.NewFromInt(5_000_000)))
	assert.True(t, f.vault.creditOf("holder").Equal(decimal.NewFromInt(5_000_000)))

	shorts1 := f.core.GetUserShorts("writer1")
	require.Len(t, shorts1, 1)
	assert.True(t, shorts1[0].Quantity.Equal(decimal.NewFromInt(3)))
	// 消耗已锁 30M 的一半，其中 3M 支付义务保持锁定，12M 解锁
	assert.True(t, shorts1[0].CollateralLocked.Equal(decimal.NewFromInt(15_000_000)))
	assert.True(t, f.vault.lockedOf("writer1").Equal(decimal.NewFromInt(18_000_000)), "locked %s", f.vault.lockedOf("writer1"))

	shorts2 := f.core.GetUserShorts("writer2")
	require.Len(t, shorts2, 1)
	assert.True(t, shorts2[0].Quantity.Equal(decimal.NewFromInt(2)))
	assert.True(t, shorts2[0].CollateralLocked.Equal(decimal.NewFromInt(10_000_000)))
	assert.True(t, f.vault.lockedOf("writer2").Equal(decimal.NewFromInt(12_000_000)), "locked %s", f.vault.lockedOf("writer2"))

	got, err := f.core.GetSeries(series.ID)
	require.NoError(t, err)
	assert.True(t, got.OpenInterest.Equal(decimal.NewFromInt(5)))
}

func TestExerciseLedgerFailureRestoresCollateral(t *testing.T) {
	f := newCoreFixture(t)
	ctx := context.Background()

	series, err := f.core.CreateSeries(ctx, "admin", btcCallSpec())
	require.NoError(t, err)
	f.setPrice("BTC", 50_000)
	f.vault.deposit("writer", decimal.NewFromInt(60_000_000))

	ten := decimal.NewFromInt(10)
	_, err = f.core.Write(ctx, series.ID, "writer", ten)
	require.NoError(t, err)
	_, err = f.core.Buy(ctx, series.ID, "holder", ten, decimal.NewFromInt(5_000))
	require.NoError(t, err)

	f.setPrice("BTC", 60_000)
	f.vault.creditErr = errors.New("ledger unavailable")
	_, err = f.core.Exercise(ctx, series.ID, "holder", ten)
	require.Error(t, err)

	// 零部分变更：已解锁的抵押重新锁回，头寸与统计不变
	assert.True(t, f.vault.lockedOf("writer").Equal(decimal.NewFromInt(50_000_000)), "locked %s", f.vault.lockedOf("writer"))
	assert.True(t, f.vault.creditOf("holder").IsZero())
	shorts := f.core.GetUserShorts("writer")
	require.Len(t, shorts, 1)
	assert.True(t, shorts[0].Quantity.Equal(ten))
	assert.True(t, shorts[0].CollateralLocked.Equal(decimal.NewFromInt(50_000_000)))
	longs := f.core.GetUserLongs("holder")
	require.Len(t, longs, 1)
	assert.True(t, longs[0].Quantity.Equal(ten))
	assert.True(t, f.core.Stats().ExercisePayouts.IsZero())

	// 账本恢复后重试成功
	f.vault.creditErr = nil
	payout, err := f.core.Exercise(ctx, series.ID, "holder", ten)
	require.NoError(t, err)
	assert.True(t, payout.Equal(decimal.NewFromInt(10_000_000)))
	assert.True(t, f.vault.creditOf("holder").Equal(decimal.NewFromInt(10_000_000)))
}

func TestAuthorizeSettlementGuards(t *testing.T) {
	f := newCoreFixture(t)
	ctx := context.Background()

	series, err := f.core.CreateSeries(ctx, "admin", btcCallSpec())
	require.NoError(t, err)

	err = f.core.AuthorizeSettlement(ctx, "admin", series.ID)
	assert.ErrorIs(t, err, ErrNotExpired)

	f.advance(30 * 24 * time.Hour)
	assert.ErrorIs(t, f.core.AuthorizeSettlement(ctx, "mallory", series.ID), ErrUnauthorized)
	require.NoError(t, f.core.AuthorizeSettlement(ctx, "admin", series.ID))

	require.NoError(t, f.core.FinalizeSettlement(ctx, SettlementOutcome{SeriesID: series.ID}))
	assert.ErrorIs(t, f.core.AuthorizeSettlement(ctx, "admin", series.ID), ErrAlreadySettled)
}

func TestFinalizeSettlementIsTerminal(t *testing.T) {
	f := newCoreFixture(t)
	ctx := context.Background()

	series, err := f.core.CreateSeries(ctx, "admin", btcCallSpec())
	require.NoError(t, err)
	f.setPrice("BTC", 50_000)
	f.vault.deposit("writer", decimal.NewFromInt(10_000_000))

	_, err = f.core.Write(ctx, series.ID, "writer", decimal.NewFromInt(1))
	require.NoError(t, err)
	_, err = f.core.Buy(ctx, series.ID, "holder", decimal.NewFromInt(1), decimal.NewFromInt(100))
	require.NoError(t, err)

	f.advance(30 * 24 * time.Hour)
	require.NoError(t, f.core.FinalizeSettlement(ctx, SettlementOutcome{SeriesID: series.ID}))

	got, err := f.core.GetSeries(series.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.True(t, got.OpenInterest.IsZero())
	assert.Empty(t, f.core.GetUserLongs("holder"))
	assert.Empty(t, f.core.GetUserShorts("writer"))

	assert.ErrorIs(t, f.core.FinalizeSettlement(ctx, SettlementOutcome{SeriesID: series.ID}), ErrAlreadySettled)

	// 结算后禁止任何交易
	_, err = f.core.Buy(ctx, series.ID, "holder", decimal.NewFromInt(1), decimal.NewFromInt(100))
	assert.ErrorIs(t, err, ErrSeriesNotActive)
}

func TestBookTrade(t *testing.T) {
	f := newCoreFixture(t)
	ctx := context.Background()

	series, err := f.core.CreateSeries(ctx, "admin", btcCallSpec())
	require.NoError(t, err)
	f.setPrice("BTC", 50_000)
	f.vault.deposit("seller", decimal.NewFromInt(10_000_000))

	err = f.core.BookTrade(ctx, series.ID, "buyer", "seller", decimal.NewFromInt(1), decimal.NewFromInt(5_000))
	require.NoError(t, err)

	longs := f.core.GetUserLongs("buyer")
	require.Len(t, longs, 1)
	assert.True(t, longs[0].PremiumPaid.Equal(decimal.NewFromInt(5_000)))

	shorts := f.core.GetUserShorts("seller")
	require.Len(t, shorts, 1)
	assert.True(t, shorts[0].PremiumReceived.Equal(decimal.NewFromInt(5_000)))
	assert.True(t, shorts[0].CollateralLocked.Equal(decimal.NewFromInt(5_000_000)))
}

func TestBookTradeBuyerComplianceRejectedNoSideEffects(t *testing.T) {
	f := newCoreFixture(t)
	ctx := context.Background()

	series, err := f.core.CreateSeries(ctx, "admin", btcCallSpec())
	require.NoError(t, err)
	f.setPrice("BTC", 50_000)
	f.vault.deposit("seller", decimal.NewFromInt(10_000_000))
	f.compliance.denied["buyer"] = true

	err = f.core.BookTrade(ctx, series.ID, "buyer", "seller", decimal.NewFromInt(1), decimal.NewFromInt(5_000))
	assert.ErrorIs(t, err, ErrComplianceRejected)

	assert.Empty(t, f.core.GetUserShorts("seller"))
	assert.True(t, f.vault.lockedOf("seller").IsZero())
	assert.True(t, f.vault.balance("seller").Equal(decimal.NewFromInt(10_000_000)))
	assert.True(t, f.core.Stats().WriteVolume.IsZero())
}

func TestBookTradeInsufficientCollateralNoSideEffects(t *testing.T) {
	f := newCoreFixture(t)
	ctx := context.Background()

	series, err := f.core.CreateSeries(ctx, "admin", btcCallSpec())
	require.NoError(t, err)
	f.setPrice("BTC", 50_000)
	f.vault.deposit("seller", decimal.NewFromInt(1_000))

	err = f.core.BookTrade(ctx, series.ID, "buyer", "seller", decimal.NewFromInt(1), decimal.NewFromInt(5_000))
	assert.ErrorIs(t, err, ErrInsufficientCollateral)

	assert.Empty(t, f.core.GetUserShorts("seller"))
	assert.Empty(t, f.core.GetUserLongs("buyer"))
	got, err := f.core.GetSeries(series.ID)
	require.NoError(t, err)
	assert.True(t, got.OpenInterest.IsZero())
	assert.True(t, f.core.Stats().BuyVolume.IsZero())
}

func TestCheckAccountMargin(t *testing.T) {
	f := newCoreFixture(t)
	ctx := context.Background()

	series, err := f.core.CreateSeries(ctx, "admin", btcCallSpec())
	require.NoError(t, err)
	f.setPrice("BTC", 50_000)
	f.vault.deposit("writer", decimal.NewFromInt(10_000_000))

	_, err = f.core.Write(ctx, series.ID, "writer", decimal.NewFromInt(1))
	require.NoError(t, err)
	require.NoError(t, f.core.CheckAccountMargin(ctx, "writer"))

	// 没有空头的账户始终通过
	require.NoError(t, f.core.CheckAccountMargin(ctx, "holder"))
}

func TestSnapshotForSettlement(t *testing.T) {
	f := newCoreFixture(t)
	ctx := context.Background()

	series, err := f.core.CreateSeries(ctx, "admin", btcCallSpec())
	require.NoError(t, err)
	f.setPrice("BTC", 50_000)
	f.vault.deposit("writer", decimal.NewFromInt(10_000_000))

	_, err = f.core.Write(ctx, series.ID, "writer", decimal.NewFromInt(1))
	require.NoError(t, err)
	_, err = f.core.Buy(ctx, series.ID, "holder", decimal.NewFromInt(1), decimal.NewFromInt(100))
	require.NoError(t, err)

	_, _, _, err = f.core.SnapshotForSettlement(series.ID)
	assert.ErrorIs(t, err, ErrNotExpired)

	f.advance(30 * 24 * time.Hour)
	snap, longs, shorts, err := f.core.SnapshotForSettlement(series.ID)
	require.NoError(t, err)
	assert.Equal(t, series.ID, snap.ID)
	require.Len(t, longs, 1)
	require.Len(t, shorts, 1)
	assert.Equal(t, "holder", longs[0].Holder)
	assert.Equal(t, "writer", shorts[0].Writer)
}
