package storage

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	ilog "tracktap/internal/log"
	"tracktap/pkg/errx"
	"tracktap/pkg/model"
)

// EventRepo 标签页事件序列的持久化镜像仓库。
// 写入是异步的：捕获路径只标记脏序列，后台协程批量落库，
// 持久化失败打日志但绝不阻塞同步的捕获链路
type EventRepo struct {
	db  *DB
	log ilog.Logger

	// 异步写入缓冲：标签页 -> 待镜像的最新序列
	dirty    map[model.TabID][]model.NormalizedEvent
	dirtyMu  sync.Mutex
	flushCh  chan struct{}
	stopCh   chan struct{}
	wg       sync.WaitGroup
	failures atomic.Int64

	flushThreshold int
}

// NewEventRepo 创建事件仓库实例并启动异步写入协程
func NewEventRepo(db *DB, l ilog.Logger) *EventRepo {
	if l == nil {
		l = ilog.NewNoop()
	}
	r := &EventRepo{
		db:             db,
		log:            l,
		dirty:          make(map[model.TabID][]model.NormalizedEvent),
		flushCh:        make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
		flushThreshold: 16,
	}
	r.wg.Add(1)
	go r.asyncWriter()
	return r
}

// asyncWriter 异步批量写入协程
func (r *EventRepo) asyncWriter() {
	defer r.wg.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			// 停止前刷新剩余数据
			r.Flush()
			return
		case <-ticker.C:
			r.Flush()
		case <-r.flushCh:
			r.Flush()
		}
	}
}

// Flush 把所有脏序列写入数据库。每个标签页只写最新一版序列
func (r *EventRepo) Flush() {
	r.dirtyMu.Lock()
	if len(r.dirty) == 0 {
		r.dirtyMu.Unlock()
		return
	}
	toWrite := r.dirty
	r.dirty = make(map[model.TabID][]model.NormalizedEvent)
	r.dirtyMu.Unlock()

	for tab, events := range toWrite {
		data, err := json.Marshal(events)
		if err != nil {
			r.failures.Add(1)
			r.log.Err(err, "事件序列序列化失败", "tab", string(tab))
			continue
		}
		rec := TabEventsRecord{
			TabID:      string(tab),
			EventsJSON: string(data),
			Count:      len(events),
			UpdatedAt:  time.Now(),
		}
		if err := r.db.GormDB().Save(&rec).Error; err != nil {
			r.failures.Add(1)
			r.log.Err(err, "事件序列镜像写入失败", "tab", string(tab))
		}
	}
}

// Stop 停止异步写入
func (r *EventRepo) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

// Mirror 标记标签页的最新序列待镜像（异步）
func (r *EventRepo) Mirror(tab model.TabID, events []model.NormalizedEvent) {
	r.dirtyMu.Lock()
	r.dirty[tab] = events
	needFlush := len(r.dirty) >= r.flushThreshold
	r.dirtyMu.Unlock()

	if needFlush {
		select {
		case r.flushCh <- struct{}{}:
		default:
		}
	}
}

// Load 读取单个标签页的持久化序列，无记录时返回空序列
func (r *EventRepo) Load(tab model.TabID) ([]model.NormalizedEvent, error) {
	var rec TabEventsRecord
	result := r.db.GormDB().Where("tab_id = ?", string(tab)).First(&rec)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errx.Wrap(errx.CodePersistenceFailed, result.Error, "读取事件序列失败")
	}
	return decodeEvents(rec.EventsJSON)
}

// LoadAll 读取所有标签页的持久化序列，用于启动恢复
func (r *EventRepo) LoadAll() (map[model.TabID][]model.NormalizedEvent, error) {
	var recs []TabEventsRecord
	if err := r.db.GormDB().Find(&recs).Error; err != nil {
		return nil, errx.Wrap(errx.CodePersistenceFailed, err, "读取全部事件序列失败")
	}
	out := make(map[model.TabID][]model.NormalizedEvent, len(recs))
	for _, rec := range recs {
		events, err := decodeEvents(rec.EventsJSON)
		if err != nil {
			// 单条损坏记录跳过，不影响其他标签页恢复
			r.log.Err(err, "事件序列损坏，跳过恢复", "tab", rec.TabID)
			continue
		}
		out[model.TabID(rec.TabID)] = events
	}
	return out, nil
}

// Delete 删除标签页的事件序列与导航历史（同步）
func (r *EventRepo) Delete(tab model.TabID) error {
	r.dirtyMu.Lock()
	delete(r.dirty, tab)
	r.dirtyMu.Unlock()

	if err := r.db.GormDB().Delete(&TabEventsRecord{}, "tab_id = ?", string(tab)).Error; err != nil {
		return errx.Wrap(errx.CodePersistenceFailed, err, "删除事件序列失败")
	}
	if err := r.db.GormDB().Delete(&TabReloadRecord{}, "tab_id = ?", string(tab)).Error; err != nil {
		return errx.Wrap(errx.CodePersistenceFailed, err, "删除导航历史失败")
	}
	return nil
}

// CleanupStale 清理超过保留期限未活动的标签页数据。
// 与标签页是否仍打开无关，用于约束长期运行进程的存储增长
func (r *EventRepo) CleanupStale(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	res := r.db.GormDB().Where("updated_at < ?", cutoff).Delete(&TabEventsRecord{})
	if res.Error != nil {
		return 0, errx.Wrap(errx.CodePersistenceFailed, res.Error, "清理过期事件失败")
	}
	if err := r.db.GormDB().Where("updated_at < ?", cutoff).Delete(&TabReloadRecord{}).Error; err != nil {
		return res.RowsAffected, errx.Wrap(errx.CodePersistenceFailed, err, "清理过期导航历史失败")
	}
	return res.RowsAffected, nil
}

// RecordReload 追加一次导航时间戳，历史长度超过 cap 时丢弃最旧的
func (r *EventRepo) RecordReload(tab model.TabID, ts time.Time, capLimit int) error {
	stamps, _ := r.LoadReloads(tab)
	stamps = append(stamps, ts)
	if capLimit > 0 && len(stamps) > capLimit {
		stamps = stamps[len(stamps)-capLimit:]
	}
	data, err := json.Marshal(stamps)
	if err != nil {
		return errx.Wrap(errx.CodePersistenceFailed, err, "导航历史序列化失败")
	}
	rec := TabReloadRecord{
		TabID:          string(tab),
		TimestampsJSON: string(data),
		UpdatedAt:      time.Now(),
	}
	if err := r.db.GormDB().Save(&rec).Error; err != nil {
		return errx.Wrap(errx.CodePersistenceFailed, err, "导航历史写入失败")
	}
	return nil
}

// LoadReloads 读取标签页的导航时间戳历史
func (r *EventRepo) LoadReloads(tab model.TabID) ([]time.Time, error) {
	var rec TabReloadRecord
	result := r.db.GormDB().Where("tab_id = ?", string(tab)).First(&rec)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errx.Wrap(errx.CodePersistenceFailed, result.Error, "读取导航历史失败")
	}
	var stamps []time.Time
	if err := json.Unmarshal([]byte(rec.TimestampsJSON), &stamps); err != nil {
		return nil, errx.Wrap(errx.CodePersistenceFailed, err, "导航历史损坏")
	}
	return stamps, nil
}

// PersistFailures 返回累计的持久化失败次数
func (r *EventRepo) PersistFailures() int64 {
	return r.failures.Load()
}

func decodeEvents(data string) ([]model.NormalizedEvent, error) {
	if data == "" {
		return nil, nil
	}
	var events []model.NormalizedEvent
	if err := json.Unmarshal([]byte(data), &events); err != nil {
		return nil, errx.Wrap(errx.CodePersistenceFailed, err, "事件序列反序列化失败")
	}
	return events, nil
}
