// Package governance 配置驱动的治理适配器：管理员名单、协议参数与
// 模块暂停开关来自配置文件，运行期可通过 Pause/Resume 热切换。
package governance

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/lmckeown27/avila-protocol-testnet-sub003/pkg/config"
)

// StaticAdmin 实现 domain.GovernanceAdmin
type StaticAdmin struct {
	mu     sync.RWMutex
	admins map[string]bool
	params map[string]decimal.Decimal
	paused map[string]bool
}

// NewStaticAdmin 从治理配置构建适配器；参数值解析失败立即报错，
// 避免带着坏参数启动。
func NewStaticAdmin(cfg config.GovernanceConfig) (*StaticAdmin, error) {
	admins := make(map[string]bool, len(cfg.Admins))
	for _, a := range cfg.Admins {
		admins[a] = true
	}

	params := make(map[string]decimal.Decimal, len(cfg.Parameters))
	for name, raw := range cfg.Parameters {
		value, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("governance parameter %s=%q: %w", name, raw, err)
		}
		params[name] = value
	}

	paused := make(map[string]bool, len(cfg.PausedModules))
	for _, m := range cfg.PausedModules {
		paused[m] = true
	}

	return &StaticAdmin{admins: admins, params: params, paused: paused}, nil
}

// IsAdmin 判断调用方是否为管理员
func (g *StaticAdmin) IsAdmin(_ context.Context, caller string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.admins[caller]
}

// GetParameter 读取协议参数
func (g *StaticAdmin) GetParameter(_ context.Context, name string) (decimal.Decimal, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	value, ok := g.params[name]
	if !ok {
		return decimal.Zero, fmt.Errorf("governance parameter %s not configured", name)
	}
	return value, nil
}

// SetParameter 运行期调整协议参数
func (g *StaticAdmin) SetParameter(name string, value decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.params[name] = value
}

// IsModulePaused 判断模块是否被暂停
func (g *StaticAdmin) IsModulePaused(_ context.Context, module string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.paused[module]
}

// Pause 暂停模块
func (g *StaticAdmin) Pause(module string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused[module] = true
}

// Resume 恢复模块
func (g *StaticAdmin) Resume(module string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.paused, module)
}
