// Package policy 维护每个标签页的域名授权状态机
package policy

import (
	"sync"

	ilog "tracktap/internal/log"
	"tracktap/pkg/model"
	"tracktap/pkg/policyspec"
)

// DomainNotifier 域名变更回调。仅在有效域名发生变化时触发
type DomainNotifier func(tab model.TabID, domain string)

// AutoAllower 自动放行钩子（产品策略，与核心门禁解耦）。
// 实现方负责把域名写入允许列表；写入后由配置持有方触发重评估
type AutoAllower interface {
	AutoAllow(domain string) error
}

// tabState 引擎内部的标签页状态，除对外的授权状态外记录最近的页面 URL
type tabState struct {
	model.TabDomainState
	url string
}

type Engine struct {
	mu       sync.RWMutex
	cfg      *policyspec.Config
	tabs     map[model.TabID]tabState
	onChange DomainNotifier
	log      ilog.Logger

	evals   int64
	allowed int64
}

// New 创建策略引擎并载入初始配置
func New(cfg *policyspec.Config, l ilog.Logger) *Engine {
	if cfg == nil {
		cfg = policyspec.NewConfig()
	}
	if l == nil {
		l = ilog.NewNoop()
	}
	return &Engine{cfg: cfg.Clone(), tabs: make(map[model.TabID]tabState), log: l}
}

// SetNotifier 设置域名变更回调
func (e *Engine) SetNotifier(fn DomainNotifier) {
	e.mu.Lock()
	e.onChange = fn
	e.mu.Unlock()
}

// Evaluate 针对标签页的当前 URL 重新评估授权状态。
// 永远整体覆盖旧状态；仅当解析出的域名与之前记录的不同时
// 触发变更通知（同域名下的状态抖动不重复通知）
func (e *Engine) Evaluate(tab model.TabID, rawURL string) model.TabDomainState {
	domain := DomainOf(rawURL)

	e.mu.Lock()
	e.evals++
	prev, had := e.tabs[tab]
	st := tabState{
		TabDomainState: model.TabDomainState{Domain: domain, IsAllowed: e.isAllowedLocked(domain)},
		url:            rawURL,
	}
	e.tabs[tab] = st
	if st.IsAllowed {
		e.allowed++
	}
	notify := e.onChange
	changed := !had || prev.Domain != domain
	e.mu.Unlock()

	if changed && notify != nil {
		notify(tab, domain)
	}
	e.log.Debug("评估标签页域名", "tab", string(tab), "domain", domain, "allowed", st.IsAllowed)
	return st.TabDomainState
}

// ReEvaluate 按已记录的 URL 重新评估单个标签页，无状态时返回 false
func (e *Engine) ReEvaluate(tab model.TabID) bool {
	e.mu.RLock()
	st, ok := e.tabs[tab]
	e.mu.RUnlock()
	if !ok {
		return false
	}
	e.Evaluate(tab, st.url)
	return true
}

// ReEvaluateAll 对所有已知标签页重新评估，用于配置变更之后
func (e *Engine) ReEvaluateAll() {
	e.mu.RLock()
	urls := make(map[model.TabID]string, len(e.tabs))
	for tab, st := range e.tabs {
		urls[tab] = st.url
	}
	e.mu.RUnlock()
	for tab, u := range urls {
		e.Evaluate(tab, u)
	}
}

// Allowed 门禁判定：未记录状态的标签页一律拒绝（默认关闭策略）
func (e *Engine) Allowed(tab model.TabID) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.tabs[tab]
	return ok && st.IsAllowed
}

// State 返回标签页的授权状态
func (e *Engine) State(tab model.TabID) (model.TabDomainState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.tabs[tab]
	return st.TabDomainState, ok
}

// PageURL 返回标签页最近一次评估时的页面 URL
func (e *Engine) PageURL(tab model.TabID) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.tabs[tab]
	return st.url, ok
}

// Forget 移除标签页状态（标签页关闭时）
func (e *Engine) Forget(tab model.TabID) {
	e.mu.Lock()
	delete(e.tabs, tab)
	e.mu.Unlock()
}

// UpdateConfig 更新引擎内的策略配置。引擎自行对比新旧条目，
// 仅在允许/拒绝条目实际变化时执行全量重评估
func (e *Engine) UpdateConfig(cfg *policyspec.Config) {
	if cfg == nil {
		return
	}
	e.mu.Lock()
	sweep := !policyspec.EntriesEqual(e.cfg, cfg)
	e.cfg = cfg.Clone()
	e.mu.Unlock()
	if sweep {
		e.log.Info("策略条目变化，重新评估所有标签页")
		e.ReEvaluateAll()
	}
}

// Config 返回当前配置的拷贝
func (e *Engine) Config() *policyspec.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.Clone()
}

// Tabs 返回所有已知标签页
func (e *Engine) Tabs() []model.TabID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.TabID, 0, len(e.tabs))
	for tab := range e.tabs {
		out = append(out, tab)
	}
	return out
}

// Stats 返回评估计数
func (e *Engine) Stats() (evals, allowed int64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.evals, e.allowed
}

// isAllowedLocked 域名判定：空域名拒绝；拒绝列表优先于允许列表
func (e *Engine) isAllowedLocked(domain string) bool {
	if domain == "" {
		return false
	}
	for _, d := range e.cfg.Denylist {
		if d == domain {
			return false
		}
	}
	for _, entry := range e.cfg.Allowlist {
		if entry.Matches(domain) {
			return true
		}
	}
	return false
}
