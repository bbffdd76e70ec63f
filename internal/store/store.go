// Package store 实现每标签页的有界事件存储：内存为主，持久化镜像为辅。
// 序列内部最新在前，容量超限时丢弃最旧的尾部
package store

import (
	"sync"

	ilog "tracktap/internal/log"
	"tracktap/internal/storage"
	"tracktap/pkg/model"
)

type Store struct {
	mu        sync.Mutex
	tabs      map[model.TabID][]model.NormalizedEvent
	hydrated  map[model.TabID]bool
	maxEvents int
	repo      *storage.EventRepo
	log       ilog.Logger
}

// New 创建事件存储
func New(repo *storage.EventRepo, maxEvents int, l ilog.Logger) *Store {
	if maxEvents <= 0 {
		maxEvents = 200
	}
	if l == nil {
		l = ilog.NewNoop()
	}
	return &Store{
		tabs:      make(map[model.TabID][]model.NormalizedEvent),
		hydrated:  make(map[model.TabID]bool),
		maxEvents: maxEvents,
		repo:      repo,
		log:       l,
	}
}

// Append 把一批新事件前插到标签页序列并截断到容量上限。
// 入参按原始批次顺序（旧在前），入库后整体保持最新在前。
// 返回截断后的当前序列。镜像写入是异步的，本方法不等待落库。
// 不做去重：同一批次在启动竞态下可能被观察两次，由消费方按 id 合并
func (s *Store) Append(tab model.TabID, events []model.NormalizedEvent) []model.NormalizedEvent {
	if len(events) == 0 {
		return s.Get(tab)
	}

	// 批内反转：原始顺序旧在前，序列要求最新在前
	incoming := make([]model.NormalizedEvent, len(events))
	for i, ev := range events {
		incoming[len(events)-1-i] = ev
	}

	s.mu.Lock()
	seq := append(incoming, s.tabs[tab]...)
	if len(seq) > s.maxEvents {
		seq = seq[:s.maxEvents]
	}
	s.tabs[tab] = seq
	s.hydrated[tab] = true
	out := make([]model.NormalizedEvent, len(seq))
	copy(out, seq)
	s.mu.Unlock()

	if s.repo != nil {
		s.repo.Mirror(tab, out)
	}
	return out
}

// Get 返回标签页的事件序列（最新在前）。内存中没有时尝试一次
// 从持久化存储懒加载；加载失败返回空序列而非错误
func (s *Store) Get(tab model.TabID) []model.NormalizedEvent {
	s.mu.Lock()
	if seq, ok := s.tabs[tab]; ok {
		out := make([]model.NormalizedEvent, len(seq))
		copy(out, seq)
		s.mu.Unlock()
		return out
	}
	alreadyTried := s.hydrated[tab]
	s.hydrated[tab] = true
	s.mu.Unlock()

	if alreadyTried || s.repo == nil {
		return nil
	}

	// 懒加载，只尝试一次
	seq, err := s.repo.Load(tab)
	if err != nil {
		s.log.Err(err, "懒加载事件序列失败", "tab", string(tab))
		return nil
	}
	if len(seq) == 0 {
		return nil
	}
	if len(seq) > s.MaxEvents() {
		seq = seq[:s.MaxEvents()]
	}

	s.mu.Lock()
	// 加载期间若有新事件写入，以内存态为准
	if cur, ok := s.tabs[tab]; ok {
		out := make([]model.NormalizedEvent, len(cur))
		copy(out, cur)
		s.mu.Unlock()
		return out
	}
	s.tabs[tab] = seq
	out := make([]model.NormalizedEvent, len(seq))
	copy(out, seq)
	s.mu.Unlock()
	return out
}

// Count 返回标签页当前持有的事件数
func (s *Store) Count(tab model.TabID) int {
	return len(s.Get(tab))
}

// Clear 清空标签页的内存与持久化数据（含导航历史等派生状态）
func (s *Store) Clear(tab model.TabID) error {
	s.mu.Lock()
	delete(s.tabs, tab)
	s.hydrated[tab] = true // 清空后不再回源加载
	s.mu.Unlock()

	if s.repo == nil {
		return nil
	}
	return s.repo.Delete(tab)
}

// RestoreAll 启动时从持久化存储恢复所有标签页序列。
// 幂等：重复调用不会覆盖更新的内存序列
func (s *Store) RestoreAll() error {
	if s.repo == nil {
		return nil
	}
	all, err := s.repo.LoadAll()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for tab, seq := range all {
		if _, ok := s.tabs[tab]; ok {
			continue
		}
		if len(seq) > s.maxEvents {
			seq = seq[:s.maxEvents]
		}
		s.tabs[tab] = seq
		s.hydrated[tab] = true
	}
	s.log.Info("事件存储恢复完成", "tabs", len(all))
	return nil
}

// SetMaxEvents 调整容量上限。调小是立即驱逐事件：所有持有序列
// （内存与镜像）马上截断到新上限，而不是等待下一次写入
func (s *Store) SetMaxEvents(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	shrink := n < s.maxEvents
	s.maxEvents = n
	var trimmed map[model.TabID][]model.NormalizedEvent
	if shrink {
		trimmed = make(map[model.TabID][]model.NormalizedEvent)
		for tab, seq := range s.tabs {
			if len(seq) > n {
				seq = seq[:n]
				s.tabs[tab] = seq
				out := make([]model.NormalizedEvent, len(seq))
				copy(out, seq)
				trimmed[tab] = out
			}
		}
	}
	s.mu.Unlock()

	if s.repo != nil {
		for tab, seq := range trimmed {
			s.repo.Mirror(tab, seq)
		}
	}
}

// MaxEvents 返回当前容量上限
func (s *Store) MaxEvents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxEvents
}

// Tabs 返回内存中持有序列的标签页
func (s *Store) Tabs() []model.TabID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.TabID, 0, len(s.tabs))
	for tab := range s.tabs {
		out = append(out, tab)
	}
	return out
}
