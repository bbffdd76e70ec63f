package capture

import (
	"context"
	"sync"

	ilog "tracktap/internal/log"
)

// workerPool 有界工作池：固定数量的 worker 消费任务队列。
// 投递绝不阻塞，队列满时返回失败，由调用方兜底（放行请求）
type workerPool struct {
	workers int
	queue   chan func()
	log     ilog.Logger

	mu        sync.Mutex
	submitted int64
	dropped   int64
}

// newWorkerPool 创建工作池，size 为 0 表示不限并发
func newWorkerPool(size int, l ilog.Logger) *workerPool {
	if l == nil {
		l = ilog.NewNoop()
	}
	if size <= 0 {
		return &workerPool{log: l}
	}
	// 队列容量为 worker 数量的 8 倍，缓冲突发流量
	return &workerPool{workers: size, queue: make(chan func(), size*8), log: l}
}

// start 启动 worker 协程，ctx 取消时全部退出
func (p *workerPool) start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		go p.worker(ctx)
	}
}

func (p *workerPool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-p.queue:
			if fn != nil {
				fn()
			}
		}
	}
}

// submit 投递任务，返回是否成功入队
func (p *workerPool) submit(fn func()) bool {
	if p.queue == nil {
		go fn()
		return true
	}
	p.mu.Lock()
	p.submitted++
	p.mu.Unlock()
	select {
	case p.queue <- fn:
		return true
	default:
		p.mu.Lock()
		p.dropped++
		dropped, submitted := p.dropped, p.submitted
		p.mu.Unlock()
		p.log.Warn("工作池队列已满，捕获事件被丢弃",
			"queueCap", cap(p.queue), "submitted", submitted, "dropped", dropped)
		return false
	}
}

// stats 返回投递与丢弃计数
func (p *workerPool) stats() (submitted, dropped int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submitted, p.dropped
}
