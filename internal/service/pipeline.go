package service

import (
	"strings"
	"sync"

	ilog "tracktap/internal/log"
	"tracktap/internal/obs"
	"tracktap/internal/payload"
	"tracktap/internal/policy"
	"tracktap/internal/provider"
	"tracktap/internal/store"
	"tracktap/internal/wire"
	"tracktap/pkg/errx"
	"tracktap/pkg/model"
)

// Notifier 事件推送接口，见 pkg/api
type Notifier interface {
	EventsCaptured(tab model.TabID, events []model.NormalizedEvent)
	DomainChanged(tab model.TabID, domain string)
}

// Pipeline 捕获管线：解码 → 解析 → 分类 → 规范化 → 门禁 → 入库 → 推送。
// 单条请求内是直线同步变换；所有预期失败都就地处理，
// 绝不向捕获钩子抛出硬错误
type Pipeline struct {
	policy *policy.Engine
	store  *store.Store
	log    ilog.Logger

	mu       sync.Mutex
	notifier Notifier
	stats    model.PipelineStats
}

// NewPipeline 创建捕获管线
func NewPipeline(pe *policy.Engine, st *store.Store, l ilog.Logger) *Pipeline {
	if l == nil {
		l = ilog.NewNoop()
	}
	return &Pipeline{
		policy: pe,
		store:  st,
		log:    l,
		stats:  model.PipelineStats{ByProvider: make(map[model.Provider]int64)},
	}
}

// SetNotifier 设置推送接口
func (p *Pipeline) SetNotifier(n Notifier) {
	p.mu.Lock()
	p.notifier = n
	p.mu.Unlock()
}

// HandleRequest 处理一条被捕获的出站请求。实现 capture.Sink
func (p *Pipeline) HandleRequest(tab model.TabID, method, rawURL string, chunks []wire.Chunk) {
	// 上游过滤：只关心指向已知提供商端点的 POST
	if !strings.EqualFold(method, "POST") {
		return
	}
	if !provider.MatchesEndpoint(rawURL) {
		return
	}
	p.bump(func(s *model.PipelineStats) { s.Intercepted++ })

	// 门禁：拦截时刻未授权即丢弃，未知标签页默认拒绝。
	// 这是预期中最常见的路径，静默处理
	if !p.policy.Allowed(tab) {
		p.bump(func(s *model.PipelineStats) { s.PolicyDenied++ })
		p.log.Debug("策略拒绝捕获", "tab", string(tab))
		return
	}

	body, ok := wire.Decode(chunks)
	if !ok {
		return
	}

	batch, perr := payload.Parse(body)
	if perr != nil {
		if perr.Code == errx.CodeParseFailed {
			p.bump(func(s *model.PipelineStats) { s.ParseDrops++ })
		} else {
			p.bump(func(s *model.PipelineStats) { s.ValidationDrops++ })
		}
		p.log.Warn("载荷被拒绝", "tab", string(tab), "reason", perr.Error())
		return
	}

	prov := provider.Classify(rawURL)
	pageURL, _ := p.policy.PageURL(tab)
	events := payload.NormalizeBatch(batch, payload.Context{
		TabID:    tab,
		URL:      pageURL,
		SentAt:   batch.SentAt,
		Provider: prov,
	})
	if len(events) == 0 {
		// 批内全部成员无效也不是错误
		p.bump(func(s *model.PipelineStats) { s.ValidationDrops++ })
		return
	}

	p.store.Append(tab, events)
	p.bump(func(s *model.PipelineStats) {
		s.Stored += int64(len(events))
		s.ByProvider[prov] += int64(len(events))
	})
	for _, ev := range events {
		p.log.Debug("事件已入库", "tab", string(tab), "type", string(ev.Type),
			"name", ev.Name, "user", obs.MaskIdentity(ev.UserID))
	}

	p.mu.Lock()
	n := p.notifier
	p.mu.Unlock()
	if n != nil {
		n.EventsCaptured(tab, events)
	}
}

// Stats 返回统计信息快照
func (p *Pipeline) Stats() model.PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.stats
	out.ByProvider = make(map[model.Provider]int64, len(p.stats.ByProvider))
	for k, v := range p.stats.ByProvider {
		out.ByProvider[k] = v
	}
	return out
}

// SetPersistFailures 由服务层在读取统计时回填持久化失败计数
func (p *Pipeline) SetPersistFailures(n int64) {
	p.mu.Lock()
	p.stats.PersistFailures = n
	p.mu.Unlock()
}

func (p *Pipeline) bump(fn func(*model.PipelineStats)) {
	p.mu.Lock()
	fn(&p.stats)
	p.mu.Unlock()
}
