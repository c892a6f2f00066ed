// Package vault 进程内抵押金库：实现抵押锁定/解锁、现金入账与
// 标的划转。单机部署下作为资金真值，外部托管接入时替换此实现。
package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance = errors.New("insufficient vault balance")
	ErrInsufficientLocked  = errors.New("unlock exceeds locked amount")
)

type holding struct {
	free   decimal.Decimal
	locked decimal.Decimal
}

// MemoryVault 账户级资金与持仓托管
type MemoryVault struct {
	mu sync.Mutex
	// 计价货币账户
	cash map[string]*holding
	// account -> asset -> 标的数量
	assets map[string]map[string]decimal.Decimal
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{
		cash:   make(map[string]*holding),
		assets: make(map[string]map[string]decimal.Decimal),
	}
}

func (v *MemoryVault) account(name string) *holding {
	h, ok := v.cash[name]
	if !ok {
		h = &holding{free: decimal.Zero, locked: decimal.Zero}
		v.cash[name] = h
	}
	return h
}

// Deposit 入金
func (v *MemoryVault) Deposit(_ context.Context, account string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("deposit amount must be positive, got %s", amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	h := v.account(account)
	h.free = h.free.Add(amount)
	return nil
}

// Withdraw 出金，只能动用未锁定部分
func (v *MemoryVault) Withdraw(_ context.Context, account string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("withdraw amount must be positive, got %s", amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	h := v.account(account)
	if h.free.LessThan(amount) {
		return ErrInsufficientBalance
	}
	h.free = h.free.Sub(amount)
	return nil
}

// Lock 锁定抵押；余额不足时整笔失败，不做部分锁定
func (v *MemoryVault) Lock(_ context.Context, account string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("lock amount must be positive, got %s", amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	h := v.account(account)
	if h.free.LessThan(amount) {
		return ErrInsufficientBalance
	}
	h.free = h.free.Sub(amount)
	h.locked = h.locked.Add(amount)
	return nil
}

// Unlock 解锁抵押回到可用余额
func (v *MemoryVault) Unlock(_ context.Context, account string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("unlock amount must be positive, got %s", amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	h := v.account(account)
	if h.locked.LessThan(amount) {
		return ErrInsufficientLocked
	}
	h.locked = h.locked.Sub(amount)
	h.free = h.free.Add(amount)
	return nil
}

// Balance 可用余额
func (v *MemoryVault) Balance(_ context.Context, account string) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.account(account).free, nil
}

// Locked 已锁定抵押
func (v *MemoryVault) Locked(_ context.Context, account string) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.account(account).locked, nil
}

// Credit 结算入账：直接计入可用余额
func (v *MemoryVault) Credit(_ context.Context, account string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("credit amount must be positive, got %s", amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	h := v.account(account)
	h.free = h.free.Add(amount)
	return nil
}

// Debit 结算冲正：从可用余额扣回已入账的款项
func (v *MemoryVault) Debit(_ context.Context, account string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("debit amount must be positive, got %s", amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	h := v.account(account)
	if h.free.LessThan(amount) {
		return ErrInsufficientBalance
	}
	h.free = h.free.Sub(amount)
	return nil
}

// Transfer 标的划转。余额允许为负：实物交割的空头义务
// 体现为负持仓，由上层对账归零。
func (v *MemoryVault) Transfer(_ context.Context, from, to, asset string, quantity decimal.Decimal) error {
	if !quantity.IsPositive() {
		return fmt.Errorf("transfer quantity must be positive, got %s", quantity)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.assets[from] == nil {
		v.assets[from] = make(map[string]decimal.Decimal)
	}
	if v.assets[to] == nil {
		v.assets[to] = make(map[string]decimal.Decimal)
	}

	fromBal, ok := v.assets[from][asset]
	if !ok {
		fromBal = decimal.Zero
	}
	v.assets[from][asset] = fromBal.Sub(quantity)

	toBal, ok := v.assets[to][asset]
	if !ok {
		toBal = decimal.Zero
	}
	v.assets[to][asset] = toBal.Add(quantity)
	return nil
}

// AssetBalance 标的持仓
func (v *MemoryVault) AssetBalance(_ context.Context, account, asset string) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if bal, ok := v.assets[account][asset]; ok {
		return bal, nil
	}
	return decimal.Zero, nil
}
