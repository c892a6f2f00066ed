package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	margindomain "github.com/lmckeown27/avila-protocol-testnet-sub003/internal/margin/domain"
)

// posKey 头寸主键：同一 (series, account) 合并为一条头寸
type posKey struct {
	seriesID uint64
	account  string
}

// Dependencies 协议核心的外部协作者
type Dependencies struct {
	Governance GovernanceAdmin
	Compliance ComplianceGate
	Vault      CollateralVault
	Oracle     PriceOracle
	Ledger     PayoutLedger
	Audit      AuditSink
	Margin     *margindomain.Engine
}

// Core 协议实例：持有全部系列与头寸表、单调递增 id 计数器与聚合统计。
// 不使用任何全局单例；同一系列的读改写经由同一把锁线性化。
type Core struct {
	mu sync.Mutex

	governance GovernanceAdmin
	compliance ComplianceGate
	vault      CollateralVault
	oracle     PriceOracle
	ledger     PayoutLedger
	audit      AuditSink
	margin     *margindomain.Engine

	nextSeriesID   uint64
	nextPositionID uint64

	series map[uint64]*Series
	longs  map[posKey]*LongPosition
	shorts map[posKey]*ShortPosition

	// account -> series 集合的二级索引
	longsByHolder  map[string]map[uint64]*LongPosition
	shortsByWriter map[string]map[uint64]*ShortPosition

	stats Stats

	now func() time.Time
}

// NewCore 创建协议实例
func NewCore(deps Dependencies) *Core {
	audit := deps.Audit
	if audit == nil {
		audit = NopAuditSink{}
	}
	return &Core{
		governance:     deps.Governance,
		compliance:     deps.Compliance,
		vault:          deps.Vault,
		oracle:         deps.Oracle,
		ledger:         deps.Ledger,
		audit:          audit,
		margin:         deps.Margin,
		series:         make(map[uint64]*Series),
		longs:          make(map[posKey]*LongPosition),
		shorts:         make(map[posKey]*ShortPosition),
		longsByHolder:  make(map[string]map[uint64]*LongPosition),
		shortsByWriter: make(map[string]map[uint64]*ShortPosition),
		stats:          Stats{BuyVolume: decimal.Zero, WriteVolume: decimal.Zero, PremiumCollected: decimal.Zero, ExercisePayouts: decimal.Zero},
		now:            time.Now,
	}
}

// SetClock 替换时钟，仅用于测试
func (c *Core) SetClock(now func() time.Time) { c.now = now }

func (c *Core) ensureNotPaused(ctx context.Context, module string) error {
	if c.governance.IsModulePaused(ctx, module) {
		return ErrModulePaused
	}
	return nil
}

func (c *Core) param(ctx context.Context, name string) (decimal.Decimal, error) {
	v, err := c.governance.GetParameter(ctx, name)
	if err != nil {
		return decimal.Zero, fmt.Errorf("governance parameter %s: %w", name, err)
	}
	return v, nil
}

func (c *Core) loadBounds(ctx context.Context) (Bounds, error) {
	var b Bounds
	var err error
	if b.MinStrike, err = c.param(ctx, ParamMinStrike); err != nil {
		return b, err
	}
	if b.MaxStrike, err = c.param(ctx, ParamMaxStrike); err != nil {
		return b, err
	}
	if b.MinContractSize, err = c.param(ctx, ParamMinContractSize); err != nil {
		return b, err
	}
	if b.MaxContractSize, err = c.param(ctx, ParamMaxContractSize); err != nil {
		return b, err
	}
	days, err := c.param(ctx, ParamMaxExpiryDays)
	if err != nil {
		return b, err
	}
	b.MaxExpiryDays = days.IntPart()
	return b, nil
}

func (c *Core) ensureCompliant(ctx context.Context, user string, seriesID uint64) error {
	allowed, err := c.compliance.IsUserAllowedForSeries(ctx, user, seriesID)
	if err != nil {
		return fmt.Errorf("compliance gate: %w", err)
	}
	if !allowed {
		return ErrComplianceRejected
	}
	return nil
}

// currentPrice 单次原子读取现货价，并按治理参数校验新鲜度
func (c *Core) currentPrice(ctx context.Context, asset string) (PricePoint, error) {
	point, err := c.oracle.GetCurrentPrice(ctx, asset)
	if err != nil {
		return PricePoint{}, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	maxStale, err := c.param(ctx, ParamMaxPriceStaleness)
	if err != nil {
		return PricePoint{}, err
	}
	age := c.now().Sub(point.Timestamp)
	if age > time.Duration(maxStale.IntPart())*time.Second {
		return PricePoint{}, ErrStalePrice
	}
	return point, nil
}

func (c *Core) terms(s *Series) margindomain.ContractTerms {
	return margindomain.ContractTerms{
		OptionType:   margindomain.OptionType(s.OptionType),
		Strike:       s.Strike,
		ContractSize: s.ContractSize,
		Expiry:       s.Expiry,
	}
}

// CreateSeries 创建期权系列。仅管理员可调用；
// expiry = 当前时刻 + expiryDays*86400 秒。
func (c *Core) CreateSeries(ctx context.Context, caller string, spec SeriesSpec) (*Series, error) {
	if err := c.ensureNotPaused(ctx, ModuleOptions); err != nil {
		return nil, err
	}
	if !c.governance.IsAdmin(ctx, caller) {
		return nil, ErrUnauthorized
	}
	bounds, err := c.loadBounds(ctx)
	if err != nil {
		return nil, err
	}
	if err := bounds.Validate(spec); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.nextSeriesID++
	series := &Series{
		ID:              c.nextSeriesID,
		Underlying:      spec.Underlying,
		Strike:          spec.Strike,
		Expiry:          now.Add(time.Duration(spec.ExpiryDays) * 24 * time.Hour),
		OptionType:      spec.OptionType,
		ContractSize:    spec.ContractSize,
		SettlementStyle: spec.SettlementStyle,
		Issuer:          caller,
		OpenInterest:    decimal.Zero,
		Active:          true,
		CreatedAt:       now,
	}
	c.series[series.ID] = series
	c.stats.SeriesCreated++
	c.stats.ActiveSeries++

	c.audit.Notify(ctx, AuditEvent{Kind: EventSeriesCreated, SeriesID: series.ID, Account: caller, At: now})
	out := *series
	return &out, nil
}

// tradableSeries 返回可交易（active 且未到期）的系列，调用方须持锁
func (c *Core) tradableSeries(seriesID uint64) (*Series, error) {
	series, ok := c.series[seriesID]
	if !ok {
		return nil, ErrSeriesNotFound
	}
	if !series.Active {
		return nil, ErrSeriesNotActive
	}
	if series.IsExpired(c.now()) {
		return nil, ErrSeriesExpired
	}
	return series, nil
}

// Buy 买入开多。premium 为单张权利金，计入协议权利金总额。
func (c *Core) Buy(ctx context.Context, seriesID uint64, buyer string, quantity, premium decimal.Decimal) (*LongPosition, error) {
	if err := c.ensureNotPaused(ctx, ModuleOptions); err != nil {
		return nil, err
	}
	if !quantity.IsPositive() || !premium.IsPositive() {
		return nil, ErrValidation
	}
	if err := c.ensureCompliant(ctx, buyer, seriesID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	series, err := c.tradableSeries(seriesID)
	if err != nil {
		return nil, err
	}
	out := *c.buyLocked(ctx, series, buyer, quantity, premium)
	return &out, nil
}

// buyLocked 落地一笔买入，入参已全部校验，调用方须持锁
func (c *Core) buyLocked(ctx context.Context, series *Series, buyer string, quantity, premium decimal.Decimal) *LongPosition {
	premiumTotal := premium.Mul(quantity)
	key := posKey{seriesID: series.ID, account: buyer}
	pos, ok := c.longs[key]
	if !ok {
		c.nextPositionID++
		pos = &LongPosition{
			ID:          c.nextPositionID,
			SeriesID:    series.ID,
			Holder:      buyer,
			Quantity:    decimal.Zero,
			PremiumPaid: decimal.Zero,
			CreatedAt:   c.now(),
		}
		c.longs[key] = pos
		if c.longsByHolder[buyer] == nil {
			c.longsByHolder[buyer] = make(map[uint64]*LongPosition)
		}
		c.longsByHolder[buyer][series.ID] = pos
	}
	pos.Quantity = pos.Quantity.Add(quantity)
	pos.PremiumPaid = pos.PremiumPaid.Add(premiumTotal)

	series.OpenInterest = series.OpenInterest.Add(quantity)
	c.stats.BuyVolume = c.stats.BuyVolume.Add(quantity)
	c.stats.PremiumCollected = c.stats.PremiumCollected.Add(premiumTotal)

	c.audit.Notify(ctx, AuditEvent{Kind: EventPositionBought, SeriesID: series.ID, Account: buyer, Quantity: quantity, Amount: premiumTotal, At: c.now()})
	return pos
}

// Write 卖出开空：经保证金引擎计算抵押品需求并通过金库锁定。
// 锁定失败以 ErrInsufficientCollateral 中止且无任何状态变更，
// 后续保证金门槛不满足时回滚解锁，不存在无抵押空头窗口。
func (c *Core) Write(ctx context.Context, seriesID uint64, writer string, quantity decimal.Decimal) (*ShortPosition, error) {
	if err := c.ensureNotPaused(ctx, ModuleOptions); err != nil {
		return nil, err
	}
	if !quantity.IsPositive() {
		return nil, ErrValidation
	}
	if err := c.ensureCompliant(ctx, writer, seriesID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	series, err := c.tradableSeries(seriesID)
	if err != nil {
		return nil, err
	}
	pos, err := c.writeLocked(ctx, series, writer, quantity)
	if err != nil {
		return nil, err
	}
	out := *pos
	return &out, nil
}

// writeLocked 落地一笔卖出开空，调用方须持锁。抵押锁定失败或
// 保证金门槛不满足时零变更。
func (c *Core) writeLocked(ctx context.Context, series *Series, writer string, quantity decimal.Decimal) (*ShortPosition, error) {
	refPrice, err := c.currentPrice(ctx, series.Underlying)
	if err != nil {
		return nil, err
	}

	required := c.margin.RequiredCollateral(c.terms(series), margindomain.PositionSideShort, quantity, refPrice.Price)
	if err := c.vault.Lock(ctx, writer, required); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientCollateral, err)
	}

	// 账户级保证金门槛：含本笔在内的全部空头维持要求
	exposures := c.writerExposuresLocked(writer, refPrice.Price)
	exposures = append(exposures, margindomain.ShortExposure{
		Terms: c.terms(series), Quantity: quantity, EntryPrice: refPrice.Price,
	})
	posted := c.lockedCollateralLocked(writer).Add(required)
	if err := c.margin.RequireSufficientMargin(posted, exposures); err != nil {
		if unlockErr := c.vault.Unlock(ctx, writer, required); unlockErr != nil {
			return nil, fmt.Errorf("margin rejected and rollback failed: %v: %w", unlockErr, err)
		}
		return nil, err
	}

	key := posKey{seriesID: series.ID, account: writer}
	pos, ok := c.shorts[key]
	if !ok {
		c.nextPositionID++
		pos = &ShortPosition{
			ID:               c.nextPositionID,
			SeriesID:         series.ID,
			Writer:           writer,
			Quantity:         decimal.Zero,
			PremiumReceived:  decimal.Zero,
			CollateralLocked: decimal.Zero,
			CreatedAt:        c.now(),
		}
		c.shorts[key] = pos
		if c.shortsByWriter[writer] == nil {
			c.shortsByWriter[writer] = make(map[uint64]*ShortPosition)
		}
		c.shortsByWriter[writer][series.ID] = pos
	}
	pos.Quantity = pos.Quantity.Add(quantity)
	pos.CollateralLocked = pos.CollateralLocked.Add(required)

	c.stats.WriteVolume = c.stats.WriteVolume.Add(quantity)

	c.audit.Notify(ctx, AuditEvent{Kind: EventPositionWrote, SeriesID: series.ID, Account: writer, Quantity: quantity, Amount: required, At: c.now()})
	return pos, nil
}

// exerciseAssignment 一次行权分摊到单个空头的削减量
type exerciseAssignment struct {
	pos        *ShortPosition
	quantity   decimal.Decimal
	collateral decimal.Decimal // 消耗的已锁抵押
	obligation decimal.Decimal // 承担的行权款份额
}

// assignExerciseLocked 按持仓占比把行权量分摊到该系列全部空头，
// 按开仓先后排序、末位吃整，调用方须持锁
func (c *Core) assignExerciseLocked(seriesID uint64, quantity, unitPayout decimal.Decimal) []exerciseAssignment {
	var shorts []*ShortPosition
	for key, pos := range c.shorts {
		if key.seriesID == seriesID {
			shorts = append(shorts, pos)
		}
	}
	sort.Slice(shorts, func(i, j int) bool { return shorts[i].ID < shorts[j].ID })

	totalQty := decimal.Zero
	for _, pos := range shorts {
		totalQty = totalQty.Add(pos.Quantity)
	}
	assignQty := quantity
	if totalQty.LessThan(assignQty) {
		assignQty = totalQty
	}

	assignments := make([]exerciseAssignment, 0, len(shorts))
	remaining := assignQty
	for i, pos := range shorts {
		q := remaining
		if i < len(shorts)-1 {
			q = assignQty.Mul(pos.Quantity).Div(totalQty)
		}
		if q.GreaterThan(pos.Quantity) {
			q = pos.Quantity
		}
		if !q.IsPositive() {
			continue
		}
		collateral := pos.CollateralLocked
		if q.LessThan(pos.Quantity) {
			collateral = pos.CollateralLocked.Mul(q).Div(pos.Quantity)
		}
		assignments = append(assignments, exerciseAssignment{
			pos:        pos,
			quantity:   q,
			collateral: collateral,
			obligation: unitPayout.Mul(q),
		})
		remaining = remaining.Sub(q)
	}
	return assignments
}

// Exercise 美式行权：严格要求 now < expiry，到期后必须走结算。
// 使用一次原子读取的现货价计算内在价值支付；行权量按占比分摊到
// 该系列空头，各空头消耗对应份额的已锁抵押，超出支付义务的部分
// 解锁退还，行权款经 PayoutLedger 入账给持有人。任一外部资金
// 操作失败即把已解锁的抵押重新锁回，头寸与统计零变更。
func (c *Core) Exercise(ctx context.Context, seriesID uint64, holder string, quantity decimal.Decimal) (decimal.Decimal, error) {
	if err := c.ensureNotPaused(ctx, ModuleOptions); err != nil {
		return decimal.Zero, err
	}
	if !quantity.IsPositive() {
		return decimal.Zero, ErrValidation
	}
	if err := c.ensureCompliant(ctx, holder, seriesID); err != nil {
		return decimal.Zero, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	series, ok := c.series[seriesID]
	if !ok {
		return decimal.Zero, ErrSeriesNotFound
	}
	if !series.Active {
		return decimal.Zero, ErrSeriesNotActive
	}
	if series.IsExpired(c.now()) {
		return decimal.Zero, ErrSeriesExpired
	}

	key := posKey{seriesID: seriesID, account: holder}
	pos, ok := c.longs[key]
	if !ok {
		return decimal.Zero, ErrPositionNotFound
	}
	if pos.Quantity.LessThan(quantity) {
		return decimal.Zero, ErrInsufficientPosition
	}

	point, err := c.currentPrice(ctx, series.Underlying)
	if err != nil {
		return decimal.Zero, err
	}

	unitPayout := series.IntrinsicValue(point.Price).Mul(series.ContractSize)
	payout := unitPayout.Mul(quantity)
	assignments := c.assignExerciseLocked(seriesID, quantity, unitPayout)

	// 外部资金操作先行，全部成功后才改动头寸表。
	// 解锁可补偿（重新锁回），唯一不可逆的入账放在最后一步。
	type release struct {
		writer string
		amount decimal.Decimal
	}
	var unlocked []release
	relock := func() error {
		var errs []error
		for i := len(unlocked) - 1; i >= 0; i-- {
			if lockErr := c.vault.Lock(ctx, unlocked[i].writer, unlocked[i].amount); lockErr != nil {
				errs = append(errs, lockErr)
			}
		}
		return errors.Join(errs...)
	}
	for _, a := range assignments {
		free := a.collateral.Sub(a.obligation)
		if !free.IsPositive() {
			continue
		}
		if err := c.vault.Unlock(ctx, a.pos.Writer, free); err != nil {
			err = fmt.Errorf("release assigned collateral for %s: %w", a.pos.Writer, err)
			if relockErr := relock(); relockErr != nil {
				return decimal.Zero, fmt.Errorf("%w (compensation failed: %v)", err, relockErr)
			}
			return decimal.Zero, err
		}
		unlocked = append(unlocked, release{writer: a.pos.Writer, amount: free})
	}
	if payout.IsPositive() {
		if err := c.ledger.Credit(ctx, holder, payout); err != nil {
			err = fmt.Errorf("credit exercise payout for %s: %w", holder, err)
			if relockErr := relock(); relockErr != nil {
				return decimal.Zero, fmt.Errorf("%w (compensation failed: %v)", err, relockErr)
			}
			return decimal.Zero, err
		}
	}

	for _, a := range assignments {
		a.pos.Quantity = a.pos.Quantity.Sub(a.quantity)
		a.pos.CollateralLocked = a.pos.CollateralLocked.Sub(a.collateral)
		if !a.pos.Quantity.IsPositive() {
			writerKey := posKey{seriesID: seriesID, account: a.pos.Writer}
			delete(c.shorts, writerKey)
			delete(c.shortsByWriter[a.pos.Writer], seriesID)
			if len(c.shortsByWriter[a.pos.Writer]) == 0 {
				delete(c.shortsByWriter, a.pos.Writer)
			}
		}
	}

	pos.Quantity = pos.Quantity.Sub(quantity)
	if pos.Quantity.IsZero() {
		delete(c.longs, key)
		delete(c.longsByHolder[holder], seriesID)
		if len(c.longsByHolder[holder]) == 0 {
			delete(c.longsByHolder, holder)
		}
	}
	series.OpenInterest = series.OpenInterest.Sub(quantity)
	c.stats.ExercisePayouts = c.stats.ExercisePayouts.Add(payout)

	c.audit.Notify(ctx, AuditEvent{Kind: EventExercised, SeriesID: seriesID, Account: holder, Quantity: quantity, Amount: payout, At: c.now()})
	return payout, nil
}

// BookTrade 将一笔撮合成交落地：同一把锁内完成卖方开空、买方开多
// 与权利金记账，并发读取不会观察到半成交状态。双方的合规与入参
// 校验先于开空执行，锁内唯一可失败的步骤是卖方抵押锁定，失败时
// 整笔拒绝且零变更。
func (c *Core) BookTrade(ctx context.Context, seriesID uint64, buyer, seller string, quantity, premium decimal.Decimal) error {
	if err := c.ensureNotPaused(ctx, ModuleOptions); err != nil {
		return err
	}
	if !quantity.IsPositive() || !premium.IsPositive() {
		return ErrValidation
	}
	if err := c.ensureCompliant(ctx, buyer, seriesID); err != nil {
		return err
	}
	if err := c.ensureCompliant(ctx, seller, seriesID); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	series, err := c.tradableSeries(seriesID)
	if err != nil {
		return err
	}
	short, err := c.writeLocked(ctx, series, seller, quantity)
	if err != nil {
		return err
	}
	c.buyLocked(ctx, series, buyer, quantity, premium)
	short.PremiumReceived = short.PremiumReceived.Add(premium.Mul(quantity))
	return nil
}

// AuthorizeSettlement 到期结算前置检查：管理员、未暂停、已到期且未结算
func (c *Core) AuthorizeSettlement(ctx context.Context, caller string, seriesID uint64) error {
	if err := c.ensureNotPaused(ctx, ModuleSettlement); err != nil {
		return err
	}
	if !c.governance.IsAdmin(ctx, caller) {
		return ErrUnauthorized
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	series, ok := c.series[seriesID]
	if !ok {
		return ErrSeriesNotFound
	}
	if !series.Active {
		return ErrAlreadySettled
	}
	if !series.IsExpired(c.now()) {
		return ErrNotExpired
	}
	return nil
}

// SnapshotForSettlement 为结算引擎提供只读快照；系列必须已到期且未结算
func (c *Core) SnapshotForSettlement(seriesID uint64) (Series, []LongPosition, []ShortPosition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	series, ok := c.series[seriesID]
	if !ok {
		return Series{}, nil, nil, ErrSeriesNotFound
	}
	if !series.Active {
		return Series{}, nil, nil, ErrAlreadySettled
	}
	if !series.IsExpired(c.now()) {
		return Series{}, nil, nil, ErrNotExpired
	}

	var longs []LongPosition
	var shorts []ShortPosition
	for key, pos := range c.longs {
		if key.seriesID == seriesID {
			longs = append(longs, *pos)
		}
	}
	for key, pos := range c.shorts {
		if key.seriesID == seriesID {
			shorts = append(shorts, *pos)
		}
	}
	return *series, longs, shorts, nil
}

// FinalizeSettlement 一次性落地结算结果：销毁该系列全部头寸、
// 清零未平仓量并将 Active 翻转为 false（终态，不可逆）。
func (c *Core) FinalizeSettlement(ctx context.Context, outcome SettlementOutcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	series, ok := c.series[outcome.SeriesID]
	if !ok {
		return ErrSeriesNotFound
	}
	if !series.Active {
		return ErrAlreadySettled
	}

	for key := range c.longs {
		if key.seriesID != outcome.SeriesID {
			continue
		}
		delete(c.longs, key)
		delete(c.longsByHolder[key.account], key.seriesID)
		if len(c.longsByHolder[key.account]) == 0 {
			delete(c.longsByHolder, key.account)
		}
	}
	for key := range c.shorts {
		if key.seriesID != outcome.SeriesID {
			continue
		}
		delete(c.shorts, key)
		delete(c.shortsByWriter[key.account], key.seriesID)
		if len(c.shortsByWriter[key.account]) == 0 {
			delete(c.shortsByWriter, key.account)
		}
	}

	series.OpenInterest = decimal.Zero
	series.Active = false
	c.stats.ActiveSeries--
	c.stats.SeriesSettled++

	c.audit.Notify(ctx, AuditEvent{Kind: EventSeriesSettled, SeriesID: series.ID, Amount: outcome.SettlementPrice, At: c.now()})
	return nil
}

// CheckAccountMargin 强平检查入口：账户已锁抵押必须覆盖其全部空头的维持保证金
func (c *Core) CheckAccountMargin(ctx context.Context, account string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	shorts := c.shortsByWriter[account]
	if len(shorts) == 0 {
		return nil
	}

	// 以各系列现货价为参考重算风险敞口
	var exposures []margindomain.ShortExposure
	for seriesID, pos := range shorts {
		series := c.series[seriesID]
		point, err := c.currentPrice(ctx, series.Underlying)
		if err != nil {
			return err
		}
		exposures = append(exposures, margindomain.ShortExposure{
			Terms: c.terms(series), Quantity: pos.Quantity, EntryPrice: point.Price,
		})
	}

	posted := c.lockedCollateralLocked(account)
	if err := c.margin.RequireSufficientMargin(posted, exposures); err != nil {
		c.audit.Notify(ctx, AuditEvent{Kind: EventMarginBreach, Account: account, Amount: posted, At: c.now()})
		return err
	}
	return nil
}

// writerExposuresLocked 账户当前全部空头敞口，调用方须持锁
func (c *Core) writerExposuresLocked(writer string, refPrice decimal.Decimal) []margindomain.ShortExposure {
	var exposures []margindomain.ShortExposure
	for seriesID, pos := range c.shortsByWriter[writer] {
		exposures = append(exposures, margindomain.ShortExposure{
			Terms: c.terms(c.series[seriesID]), Quantity: pos.Quantity, EntryPrice: refPrice,
		})
	}
	return exposures
}

// lockedCollateralLocked 账户空头已锁抵押总额，调用方须持锁
func (c *Core) lockedCollateralLocked(account string) decimal.Decimal {
	total := decimal.Zero
	for _, pos := range c.shortsByWriter[account] {
		total = total.Add(pos.CollateralLocked)
	}
	return total
}

// GetSeries 按 id 查询系列副本
func (c *Core) GetSeries(seriesID uint64) (Series, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	series, ok := c.series[seriesID]
	if !ok {
		return Series{}, ErrSeriesNotFound
	}
	return *series, nil
}

// IsExpired 查询系列是否到期
func (c *Core) IsExpired(seriesID uint64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	series, ok := c.series[seriesID]
	if !ok {
		return false, ErrSeriesNotFound
	}
	return series.IsExpired(c.now()), nil
}

// GetUserLongs 用户全部多头副本
func (c *Core) GetUserLongs(holder string) []LongPosition {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]LongPosition, 0, len(c.longsByHolder[holder]))
	for _, pos := range c.longsByHolder[holder] {
		out = append(out, *pos)
	}
	return out
}

// GetUserShorts 用户全部空头副本
func (c *Core) GetUserShorts(writer string) []ShortPosition {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ShortPosition, 0, len(c.shortsByWriter[writer]))
	for _, pos := range c.shortsByWriter[writer] {
		out = append(out, *pos)
	}
	return out
}

// Stats 聚合统计快照
func (c *Core) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
