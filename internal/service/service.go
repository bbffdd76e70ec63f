package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"tracktap/internal/capture"
	ilog "tracktap/internal/log"
	"tracktap/internal/policy"
	"tracktap/internal/storage"
	"tracktap/internal/store"
	"tracktap/internal/wire"
	"tracktap/pkg/errx"
	"tracktap/pkg/model"
	"tracktap/pkg/policyspec"
)

// 每个标签页保留的导航时间戳数量
const reloadHistoryCap = 50

// Options 服务构建选项
type Options struct {
	DBPath      string             // 数据库路径，空则使用平台默认路径
	Policy      *policyspec.Config // 初始策略，空则为全拒绝的空策略
	CleanupAge  time.Duration      // 无活动数据的清理期限，0 取默认 7 天
	SweepEvery  time.Duration      // 周期清理间隔，0 取默认 1 小时
	AutoAllower policy.AutoAllower // 自动放行钩子，可空
}

type svc struct {
	mu       sync.Mutex
	sessions map[model.SessionID]*session
	log      ilog.Logger

	db       *storage.DB
	repo     *storage.EventRepo
	settings *storage.SettingsRepo
	store    *store.Store
	policy   *policy.Engine
	pipeline *Pipeline

	autoAllower policy.AutoAllower
	cleanupAge  time.Duration
	sweepStop   chan struct{}
	sweepDone   sync.WaitGroup
}

type session struct {
	id  model.SessionID
	cfg model.SessionConfig
	mgr *capture.Manager
}

// New 创建服务实例并完成启动序列：
// 打开数据库 → 恢复事件存储 → 清理过期数据 → 启动周期清理
func New(l ilog.Logger, opts Options) (*svc, error) {
	if l == nil {
		l = ilog.NewNoop()
	}

	var db *storage.DB
	var err error
	if opts.DBPath != "" {
		db, err = storage.NewDBAt(opts.DBPath)
	} else {
		db, err = storage.NewDB()
	}
	if err != nil {
		return nil, errx.Wrap(errx.CodePersistenceFailed, err, "打开数据库失败")
	}

	pcfg := opts.Policy
	if pcfg == nil {
		pcfg = policyspec.NewConfig()
	}
	cleanupAge := opts.CleanupAge
	if cleanupAge <= 0 {
		cleanupAge = 7 * 24 * time.Hour
	}
	sweepEvery := opts.SweepEvery
	if sweepEvery <= 0 {
		sweepEvery = time.Hour
	}

	repo := storage.NewEventRepo(db, l)
	s := &svc{
		sessions:    make(map[model.SessionID]*session),
		log:         l,
		db:          db,
		repo:        repo,
		settings:    storage.NewSettingsRepo(db),
		store:       store.New(repo, pcfg.MaxEvents, l),
		policy:      policy.New(pcfg, l),
		autoAllower: opts.AutoAllower,
		cleanupAge:  cleanupAge,
		sweepStop:   make(chan struct{}),
	}
	s.pipeline = NewPipeline(s.policy, s.store, l)

	// 重启恢复：持久化镜像是权威数据，最后一批可能缺失（可接受）
	if err := s.store.RestoreAll(); err != nil {
		s.log.Err(err, "启动恢复失败，以空状态继续")
	}
	if n, err := s.repo.CleanupStale(s.cleanupAge); err != nil {
		s.log.Err(err, "启动清理失败")
	} else if n > 0 {
		s.log.Info("启动清理完成", "purgedTabs", n)
	}

	s.sweepDone.Add(1)
	go s.sweepLoop(sweepEvery)

	return s, nil
}

// sweepLoop 周期清理无活动标签页的持久化数据
func (s *svc) sweepLoop(every time.Duration) {
	defer s.sweepDone.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.sweepStop:
			return
		case <-ticker.C:
			if n, err := s.repo.CleanupStale(s.cleanupAge); err != nil {
				s.log.Err(err, "周期清理失败")
			} else if n > 0 {
				s.log.Info("周期清理完成", "purgedTabs", n)
			}
		}
	}
}

// ========== 会话管理 ==========

// StartSession 创建新会话并验证 DevTools 连接
func (s *svc) StartSession(cfg model.SessionConfig) (model.SessionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 应用默认值
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.BodySizeThreshold <= 0 {
		cfg.BodySizeThreshold = 1 << 20 // 1MB
	}
	if cfg.ProcessTimeoutMS <= 0 {
		cfg.ProcessTimeoutMS = 3000
	}

	id := model.SessionID(uuid.New().String())
	ses := &session{id: id, cfg: cfg}
	ses.mgr = capture.New(cfg.DevToolsURL, s, s.log)
	ses.mgr.SetConcurrency(cfg.Concurrency)
	ses.mgr.SetRuntime(cfg.BodySizeThreshold, cfg.ProcessTimeoutMS)

	// 验证连接是否有效：尝试获取目标列表
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := ses.mgr.ListTargets(ctx); err != nil {
		s.log.Err(err, "连接 DevTools 失败", "devtools", cfg.DevToolsURL)
		return "", errx.Wrap(errx.CodeSessionNotFound, err, "无法连接到 DevTools")
	}

	s.sessions[id] = ses
	s.log.Info("创建会话成功", "session", string(id), "devtools", cfg.DevToolsURL,
		"concurrency", cfg.Concurrency)
	return id, nil
}

// StopSession 停止并清理指定会话
func (s *svc) StopSession(id model.SessionID) error {
	s.mu.Lock()
	ses, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return errx.New(errx.CodeSessionNotFound, string(id))
	}
	_ = ses.mgr.Disable()
	_ = ses.mgr.DetachAll()
	s.log.Info("会话已停止", "session", string(id))
	return nil
}

// AttachTarget 为指定会话附着到页面目标
func (s *svc) AttachTarget(id model.SessionID, target model.TabID) error {
	ses, err := s.session(id)
	if err != nil {
		return err
	}
	if err := ses.mgr.AttachTarget(target); err != nil {
		s.log.Err(err, "附加页面目标失败", "session", string(id))
		return err
	}
	s.log.Info("附加页面目标成功", "session", string(id), "target", string(target))
	s.maybeAutoAllow(target)
	return nil
}

// DetachTarget 为指定会话断开页面目标
func (s *svc) DetachTarget(id model.SessionID, target model.TabID) error {
	ses, err := s.session(id)
	if err != nil {
		return err
	}
	return ses.mgr.Detach(target)
}

// ListTargets 列出指定会话中的页面目标
func (s *svc) ListTargets(id model.SessionID) ([]model.TargetInfo, error) {
	ses, err := s.session(id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return ses.mgr.ListTargets(ctx)
}

// EnableCapture 启用会话的捕获
func (s *svc) EnableCapture(id model.SessionID) error {
	ses, err := s.session(id)
	if err != nil {
		return err
	}
	if err := ses.mgr.Enable(); err != nil {
		s.log.Err(err, "启用会话捕获失败", "session", string(id))
		return err
	}
	s.log.Info("启用会话捕获成功", "session", string(id))
	return nil
}

// DisableCapture 停用会话的捕获
func (s *svc) DisableCapture(id model.SessionID) error {
	ses, err := s.session(id)
	if err != nil {
		return err
	}
	if err := ses.mgr.Disable(); err != nil {
		s.log.Err(err, "停用会话捕获失败", "session", string(id))
		return err
	}
	s.log.Info("停用会话捕获成功", "session", string(id))
	return nil
}

func (s *svc) session(id model.SessionID) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ses, ok := s.sessions[id]
	if !ok {
		return nil, errx.New(errx.CodeSessionNotFound, string(id))
	}
	return ses, nil
}

// ========== capture.Sink ==========

// HandleRequest 捕获请求入口，委托给管线
func (s *svc) HandleRequest(tab model.TabID, method, url string, chunks []wire.Chunk) {
	s.pipeline.HandleRequest(tab, method, url, chunks)
}

// HandleNavigation 导航入口：重评估策略并记录导航时间戳
func (s *svc) HandleNavigation(tab model.TabID, url string) {
	s.policy.Evaluate(tab, url)
	if err := s.repo.RecordReload(tab, time.Now(), reloadHistoryCap); err != nil {
		s.log.Err(err, "记录导航时间戳失败", "tab", string(tab))
	}
}

// maybeAutoAllow 自动放行钩子：首次检视未授权标签页时，
// 把其域名交给外部策略持有方写入允许列表（与核心门禁解耦）
func (s *svc) maybeAutoAllow(tab model.TabID) {
	if s.autoAllower == nil {
		return
	}
	cfg := s.policy.Config()
	if !cfg.AutoAllow {
		return
	}
	st, ok := s.policy.State(tab)
	if !ok || st.IsAllowed || st.Domain == "" {
		return
	}
	if err := s.autoAllower.AutoAllow(st.Domain); err != nil {
		s.log.Err(err, "自动放行失败", "domain", st.Domain)
	}
}

// ========== 查询与控制 ==========

// GetEvents 返回标签页的事件序列（最新在前）
func (s *svc) GetEvents(tab model.TabID) []model.NormalizedEvent {
	return s.store.Get(tab)
}

// GetEventCount 返回标签页当前持有的事件数
func (s *svc) GetEventCount(tab model.TabID) int {
	return s.store.Count(tab)
}

// ClearEvents 清空标签页的事件与派生状态
func (s *svc) ClearEvents(tab model.TabID) error {
	return s.store.Clear(tab)
}

// GetTabDomain 返回标签页当前域名，无状态时第二个返回值为 false
func (s *svc) GetTabDomain(tab model.TabID) (string, bool) {
	st, ok := s.policy.State(tab)
	if !ok {
		return "", false
	}
	return st.Domain, true
}

// ReEvaluateTabDomain 强制重新评估标签页策略，无状态时返回 false
func (s *svc) ReEvaluateTabDomain(tab model.TabID) bool {
	return s.policy.ReEvaluate(tab)
}

// UpdatePolicy 应用新的策略配置：引擎自行决定是否全量重评估，
// 事件上限调小时立即截断所有持有序列
func (s *svc) UpdatePolicy(cfg *policyspec.Config) {
	if cfg == nil {
		return
	}
	s.policy.UpdateConfig(cfg)
	s.store.SetMaxEvents(cfg.MaxEvents)
}

// ========== 设置 ==========

// GetSavedDevToolsURL 返回上次保存的 DevTools 地址，默认本机 9222
func (s *svc) GetSavedDevToolsURL() string {
	return s.settings.GetDevToolsURL()
}

// SaveDevToolsURL 保存 DevTools 地址
func (s *svc) SaveDevToolsURL(url string) error {
	return s.settings.SetDevToolsURL(url)
}

// GetTheme 返回界面主题
func (s *svc) GetTheme() string {
	return s.settings.GetTheme()
}

// SaveTheme 保存界面主题
func (s *svc) SaveTheme(theme string) error {
	return s.settings.SetTheme(theme)
}

// GetStats 返回管线统计
func (s *svc) GetStats() model.PipelineStats {
	s.pipeline.SetPersistFailures(s.repo.PersistFailures())
	return s.pipeline.Stats()
}

// SetNotifier 设置推送接口并接通域名变更通知
func (s *svc) SetNotifier(n Notifier) {
	s.pipeline.SetNotifier(n)
	if n != nil {
		s.policy.SetNotifier(n.DomainChanged)
	} else {
		s.policy.SetNotifier(nil)
	}
}

// Close 停止所有会话、后台协程并关闭数据库
func (s *svc) Close() error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[model.SessionID]*session)
	s.mu.Unlock()
	for _, ses := range sessions {
		_ = ses.mgr.Disable()
		_ = ses.mgr.DetachAll()
	}
	close(s.sweepStop)
	s.sweepDone.Wait()
	s.repo.Stop()
	return s.db.Close()
}
