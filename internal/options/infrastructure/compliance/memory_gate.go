// Package compliance 进程内合规门：维护用户封禁名单与系列级
// 准入名单。接入外部 KYC/AML 服务时替换此实现。
package compliance

import (
	"context"
	"sync"
)

// MemoryGate 实现 domain.ComplianceGate
type MemoryGate struct {
	mu sync.RWMutex
	// 全局封禁用户
	banned map[string]bool
	// seriesID -> 准入白名单；系列无白名单时默认放行
	allowlists map[uint64]map[string]bool
}

func NewMemoryGate() *MemoryGate {
	return &MemoryGate{
		banned:     make(map[string]bool),
		allowlists: make(map[uint64]map[string]bool),
	}
}

// IsUserAllowedForSeries 封禁用户一律拒绝；配置了白名单的系列
// 仅放行名单内用户。
func (g *MemoryGate) IsUserAllowedForSeries(_ context.Context, user string, seriesID uint64) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.banned[user] {
		return false, nil
	}
	if allowlist, ok := g.allowlists[seriesID]; ok {
		return allowlist[user], nil
	}
	return true, nil
}

// Ban 封禁用户
func (g *MemoryGate) Ban(user string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.banned[user] = true
}

// Unban 解除封禁
func (g *MemoryGate) Unban(user string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.banned, user)
}

// Allow 把用户加入某系列的准入白名单
func (g *MemoryGate) Allow(seriesID uint64, user string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.allowlists[seriesID] == nil {
		g.allowlists[seriesID] = make(map[string]bool)
	}
	g.allowlists[seriesID][user] = true
}
