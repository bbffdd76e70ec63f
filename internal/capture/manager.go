// Package capture 通过 CDP 附着浏览器页面目标并捕获出站分析请求。
// 纯观察者：所有被暂停的请求都原样放行，绝不改写流量
package capture

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/rpcc"

	ilog "tracktap/internal/log"
	"tracktap/internal/wire"
	"tracktap/pkg/errx"
	"tracktap/pkg/model"
)

// Sink 捕获事件的下游消费者（管线入口）
type Sink interface {
	// HandleRequest 处理一条被捕获的出站请求
	HandleRequest(tab model.TabID, method, url string, chunks []wire.Chunk)
	// HandleNavigation 处理一次顶层文档导航
	HandleNavigation(tab model.TabID, url string)
}

// Manager 管理与浏览器 DevTools 端点的连接及各页面目标的捕获
type Manager struct {
	devtoolsURL string
	sink        Sink
	log         ilog.Logger

	mu      sync.Mutex
	targets map[model.TabID]*targetSession
	enabled bool

	pool              *workerPool
	poolCancel        context.CancelFunc
	workers           int
	bodySizeThreshold int64
	processTimeoutMS  int
}

// targetSession 单个页面目标的连接状态
type targetSession struct {
	id     model.TabID
	conn   *rpcc.Conn
	client *cdp.Client
	ctx    context.Context
	cancel context.CancelFunc
}

// New 创建捕获管理器
func New(devtoolsURL string, sink Sink, l ilog.Logger) *Manager {
	if l == nil {
		l = ilog.NewNoop()
	}
	return &Manager{
		devtoolsURL: devtoolsURL,
		sink:        sink,
		log:         l,
		targets:     make(map[model.TabID]*targetSession),
	}
}

// SetConcurrency 设置并发处理数量
func (m *Manager) SetConcurrency(n int) { m.workers = n }

// SetRuntime 设置运行时参数
func (m *Manager) SetRuntime(bodySizeThreshold int64, processTimeoutMS int) {
	m.bodySizeThreshold = bodySizeThreshold
	m.processTimeoutMS = processTimeoutMS
}

// ListTargets 列出 DevTools 端点上的页面目标
func (m *Manager) ListTargets(ctx context.Context) ([]model.TargetInfo, error) {
	dt := devtool.New(m.devtoolsURL)
	targets, err := dt.List(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.TargetInfo, 0, len(targets))
	for _, t := range targets {
		_, attached := m.targets[model.TabID(t.ID)]
		out = append(out, model.TargetInfo{
			ID:        model.TabID(t.ID),
			Type:      string(t.Type),
			URL:       t.URL,
			Title:     t.Title,
			IsCurrent: attached,
		})
	}
	return out, nil
}

// AttachTarget 附着到指定页面目标；target 为空时选择第一个 page 目标
func (m *Manager) AttachTarget(target model.TabID) error {
	ctx, cancel := context.WithCancel(context.Background())

	dt := devtool.New(m.devtoolsURL)
	listCtx, listCancel := context.WithTimeout(ctx, 3*time.Second)
	targets, err := dt.List(listCtx)
	listCancel()
	if err != nil {
		cancel()
		return err
	}
	var sel *devtool.Target
	for i := range targets {
		if target != "" && string(target) == targets[i].ID {
			sel = targets[i]
			break
		}
		if target == "" && targets[i].Type == devtool.Page {
			sel = targets[i]
			break
		}
	}
	if sel == nil {
		cancel()
		return errx.New(errx.CodeTargetNotFound, "未找到可附着的页面目标")
	}

	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		cancel()
		return err
	}

	ts := &targetSession{
		id:     model.TabID(sel.ID),
		conn:   conn,
		client: cdp.NewClient(conn),
		ctx:    ctx,
		cancel: cancel,
	}

	m.mu.Lock()
	if old, ok := m.targets[ts.id]; ok {
		old.cancel()
		_ = old.conn.Close()
	}
	m.targets[ts.id] = ts
	enabled := m.enabled
	m.mu.Unlock()

	m.log.Info("附着页面目标", "target", string(ts.id), "url", sel.URL)

	// 初始导航状态：附着即知道当前页面 URL
	if m.sink != nil && sel.URL != "" {
		m.sink.HandleNavigation(ts.id, sel.URL)
	}

	if enabled {
		return m.enableTarget(ts)
	}
	return nil
}

// Detach 断开指定页面目标
func (m *Manager) Detach(target model.TabID) error {
	m.mu.Lock()
	ts, ok := m.targets[target]
	if ok {
		delete(m.targets, target)
	}
	m.mu.Unlock()
	if !ok {
		return errx.New(errx.CodeTargetNotFound, "目标未附着: "+string(target))
	}
	ts.cancel()
	return ts.conn.Close()
}

// DetachAll 断开所有页面目标
func (m *Manager) DetachAll() error {
	m.mu.Lock()
	targets := m.targets
	m.targets = make(map[model.TabID]*targetSession)
	m.mu.Unlock()
	for _, ts := range targets {
		ts.cancel()
		_ = ts.conn.Close()
	}
	return nil
}

// Enable 对所有已附着目标启用捕获
func (m *Manager) Enable() error {
	m.mu.Lock()
	if m.enabled {
		m.mu.Unlock()
		return nil
	}
	m.enabled = true
	poolCtx, cancel := context.WithCancel(context.Background())
	m.poolCancel = cancel
	m.pool = newWorkerPool(m.workers, m.log)
	m.pool.start(poolCtx)
	targets := make([]*targetSession, 0, len(m.targets))
	for _, ts := range m.targets {
		targets = append(targets, ts)
	}
	m.mu.Unlock()

	for _, ts := range targets {
		if err := m.enableTarget(ts); err != nil {
			return err
		}
	}
	return nil
}

// Disable 停止捕获（保留目标连接）
func (m *Manager) Disable() error {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return nil
	}
	m.enabled = false
	cancel := m.poolCancel
	m.poolCancel = nil
	targets := make([]*targetSession, 0, len(m.targets))
	for _, ts := range m.targets {
		targets = append(targets, ts)
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var firstErr error
	for _, ts := range targets {
		if err := ts.client.Fetch.Disable(ts.ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// enableTarget 对单个目标启用 Network 与 Fetch 域并启动消费循环。
// 只注册请求阶段：观察者不需要暂停响应
func (m *Manager) enableTarget(ts *targetSession) error {
	if err := ts.client.Network.Enable(ts.ctx, nil); err != nil {
		return fmt.Errorf("enable network: %w", err)
	}
	p := "*"
	patterns := []fetch.RequestPattern{
		{URLPattern: &p, RequestStage: fetch.RequestStageRequest},
	}
	if err := ts.client.Fetch.Enable(ts.ctx, &fetch.EnableArgs{Patterns: patterns}); err != nil {
		return fmt.Errorf("enable fetch: %w", err)
	}
	go m.consume(ts)
	return nil
}

// consume 单个目标的事件消费循环
func (m *Manager) consume(ts *targetSession) {
	rp, err := ts.client.Fetch.RequestPaused(ts.ctx)
	if err != nil {
		m.log.Err(err, "订阅 RequestPaused 失败", "target", string(ts.id))
		return
	}
	defer rp.Close()
	for {
		ev, err := rp.Recv()
		if err != nil {
			return
		}
		if ok := m.pool.submit(func() { m.handle(ts, ev) }); !ok {
			// 队列满也必须放行请求，否则页面会被挂起
			m.continueRequest(ts, ev)
		}
	}
}

// handle 处理一次被暂停的请求：先放行，再投递给管线
func (m *Manager) handle(ts *targetSession, ev *fetch.RequestPausedReply) {
	m.continueRequest(ts, ev)

	if m.sink == nil {
		return
	}

	// 顶层文档请求即一次导航
	if ev.ResourceType == network.ResourceTypeDocument {
		m.sink.HandleNavigation(ts.id, ev.Request.URL)
		return
	}

	// 只有带请求体的 POST 才可能是分析批次
	if !strings.EqualFold(ev.Request.Method, "POST") {
		return
	}
	chunks, size := bodyChunks(ev.Request)
	if len(chunks) == 0 {
		return
	}
	if thr := m.bodySizeThreshold; thr > 0 && size > thr {
		m.log.Debug("请求体超过阈值，跳过", "url", ev.Request.URL, "size", size)
		return
	}
	m.sink.HandleRequest(ts.id, ev.Request.Method, ev.Request.URL, chunks)
}

// continueRequest 原样放行请求
func (m *Manager) continueRequest(ts *targetSession, ev *fetch.RequestPausedReply) {
	to := m.processTimeoutMS
	if to <= 0 {
		to = 3000
	}
	ctx, cancel := context.WithTimeout(ts.ctx, time.Duration(to)*time.Millisecond)
	defer cancel()
	if err := ts.client.Fetch.ContinueRequest(ctx, &fetch.ContinueRequestArgs{RequestID: ev.RequestID}); err != nil {
		m.log.Debug("放行请求失败", "target", string(ts.id), "error", err.Error())
	}
}

// bodyChunks 把请求体转换为有序分片。优先使用分片形式的
// PostDataEntries（文件引用分片无 Bytes，由解码器忽略），
// 老版协议只有整体 PostData 时包装为单个分片
func bodyChunks(req network.Request) ([]wire.Chunk, int64) {
	var size int64
	if len(req.PostDataEntries) > 0 {
		chunks := make([]wire.Chunk, 0, len(req.PostDataEntries))
		for _, entry := range req.PostDataEntries {
			if entry.Bytes == nil {
				chunks = append(chunks, wire.Chunk{})
				continue
			}
			size += int64(len(*entry.Bytes))
			chunks = append(chunks, wire.ChunkFromEncoded(*entry.Bytes))
		}
		return chunks, size
	}
	if req.PostData != nil && *req.PostData != "" {
		size = int64(len(*req.PostData))
		return []wire.Chunk{wire.ChunkFromBytes([]byte(*req.PostData))}, size
	}
	return nil, 0
}
