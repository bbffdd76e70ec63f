package gui

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"tracktap/internal/config"
	ilog "tracktap/internal/log"
	"tracktap/pkg/api"
	"tracktap/pkg/model"
)

// App 暴露给前端的方法集合
type App struct {
	ctx     context.Context
	cfg     *config.Config
	service api.Service
	log     ilog.Logger

	policyFile    *config.PolicyFile
	watcherCancel context.CancelFunc

	// 当前活跃的 session（简化版，后续可支持多 session）
	currentSession model.SessionID
}

// NewApp 创建 App 实例
func NewApp() *App {
	return &App{log: ilog.New(ilog.L())}
}

// Startup 由 Wails 在应用启动时调用：构建服务、加载策略、启动监视
func (a *App) Startup(ctx context.Context) {
	a.ctx = ctx

	cfg, err := config.Load("tracktap.yaml")
	if err != nil {
		a.log.Err(err, "应用配置加载失败，使用默认配置")
		cfg = config.NewConfig()
	}
	a.cfg = cfg

	lvl := slog.LevelInfo
	if cfg.Log.Level == "debug" {
		lvl = slog.LevelDebug
	}
	ilog.Set(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
	a.log = ilog.New(ilog.L())

	a.policyFile = config.NewPolicyFile(cfg.Policy.Path, a.log)
	pcfg, err := a.policyFile.Load()
	if err != nil {
		a.log.Err(err, "策略文件加载失败，以空策略启动", "path", cfg.Policy.Path)
	}

	svc, err := api.NewService(a.log, api.Options{
		DBPath:      cfg.Sqlite.Db,
		Policy:      pcfg,
		CleanupAge:  time.Duration(cfg.Retention.CleanupDays) * 24 * time.Hour,
		SweepEvery:  time.Duration(cfg.Retention.SweepIntervalS) * time.Second,
		AutoAllower: a.policyFile,
	})
	if err != nil {
		a.log.Err(err, "服务初始化失败")
		return
	}
	a.service = svc
	a.service.SetNotifier(a)

	// 策略文件变化时推给服务，差异判断由策略引擎完成
	wctx, cancel := context.WithCancel(context.Background())
	a.watcherCancel = cancel
	watcher := config.NewPolicyWatcher(a.policyFile, a.service.UpdatePolicy, a.log)
	go func() {
		if err := watcher.Run(wctx); err != nil {
			a.log.Err(err, "策略监视器退出")
		}
	}()
}

// Shutdown 由 Wails 在应用关闭时调用
func (a *App) Shutdown(ctx context.Context) {
	if a.watcherCancel != nil {
		a.watcherCancel()
	}
	if a.service != nil {
		if a.currentSession != "" {
			_ = a.service.StopSession(a.currentSession)
		}
		_ = a.service.Close()
	}
}

// ========== api.Notifier ==========

// eventsCapturedPayload 推送给前端的捕获事件载荷
type eventsCapturedPayload struct {
	TabID  model.TabID             `json:"tabId"`
	Events []model.NormalizedEvent `json:"events"`
}

// domainChangedPayload 推送给前端的域名变更载荷
type domainChangedPayload struct {
	TabID  model.TabID `json:"tabId"`
	Domain string      `json:"domain"`
}

// EventsCaptured 每次成功入库后推送到前端
func (a *App) EventsCaptured(tab model.TabID, events []model.NormalizedEvent) {
	runtime.EventsEmit(a.ctx, "events-captured", eventsCapturedPayload{TabID: tab, Events: events})
}

// DomainChanged 标签页有效域名变化时推送到前端
func (a *App) DomainChanged(tab model.TabID, domain string) {
	runtime.EventsEmit(a.ctx, "domain-changed", domainChangedPayload{TabID: tab, Domain: domain})
}

// ========== Session 管理 ==========

// SessionResult 返回给前端的会话结果
type SessionResult struct {
	SessionID string `json:"sessionId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// StartSession 创建捕获会话。devToolsURL 为空时回落到保存的地址，
// 并发与体积阈值取应用配置
func (a *App) StartSession(devToolsURL string) SessionResult {
	if devToolsURL == "" {
		devToolsURL = a.service.GetSavedDevToolsURL()
	}
	sid, err := a.service.StartSession(model.SessionConfig{
		DevToolsURL:       devToolsURL,
		Concurrency:       a.cfg.Capture.Concurrency,
		BodySizeThreshold: a.cfg.Capture.BodySizeThreshold,
		ProcessTimeoutMS:  a.cfg.Capture.ProcessTimeoutMS,
	})
	if err != nil {
		return SessionResult{Success: false, Error: err.Error()}
	}
	a.currentSession = sid
	_ = a.service.SaveDevToolsURL(devToolsURL)
	return SessionResult{SessionID: string(sid), Success: true}
}

// StopSession 停止会话
func (a *App) StopSession(sessionID string) SessionResult {
	if err := a.service.StopSession(model.SessionID(sessionID)); err != nil {
		return SessionResult{Success: false, Error: err.Error()}
	}
	if a.currentSession == model.SessionID(sessionID) {
		a.currentSession = ""
	}
	return SessionResult{Success: true}
}

// GetCurrentSession 获取当前活跃会话
func (a *App) GetCurrentSession() string {
	return string(a.currentSession)
}

// ========== Target 管理 ==========

// TargetListResult 返回给前端的目标列表
type TargetListResult struct {
	Targets []model.TargetInfo `json:"targets"`
	Success bool               `json:"success"`
	Error   string             `json:"error,omitempty"`
}

// ListTargets 列出浏览器页面目标
func (a *App) ListTargets(sessionID string) TargetListResult {
	targets, err := a.service.ListTargets(model.SessionID(sessionID))
	if err != nil {
		return TargetListResult{Success: false, Error: err.Error()}
	}
	return TargetListResult{Targets: targets, Success: true}
}

// OperationResult 通用操作结果
type OperationResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// AttachTarget 附加指定页面目标
func (a *App) AttachTarget(sessionID, targetID string) OperationResult {
	if err := a.service.AttachTarget(model.SessionID(sessionID), model.TabID(targetID)); err != nil {
		return OperationResult{Success: false, Error: err.Error()}
	}
	return OperationResult{Success: true}
}

// DetachTarget 移除指定页面目标
func (a *App) DetachTarget(sessionID, targetID string) OperationResult {
	if err := a.service.DetachTarget(model.SessionID(sessionID), model.TabID(targetID)); err != nil {
		return OperationResult{Success: false, Error: err.Error()}
	}
	return OperationResult{Success: true}
}

// ========== 捕获控制 ==========

// EnableCapture 启用捕获
func (a *App) EnableCapture(sessionID string) OperationResult {
	if err := a.service.EnableCapture(model.SessionID(sessionID)); err != nil {
		return OperationResult{Success: false, Error: err.Error()}
	}
	return OperationResult{Success: true}
}

// DisableCapture 停用捕获
func (a *App) DisableCapture(sessionID string) OperationResult {
	if err := a.service.DisableCapture(model.SessionID(sessionID)); err != nil {
		return OperationResult{Success: false, Error: err.Error()}
	}
	return OperationResult{Success: true}
}

// ========== 事件查询 ==========

// EventsResult 返回给前端的事件列表
type EventsResult struct {
	Events  []model.NormalizedEvent `json:"events"`
	Success bool                    `json:"success"`
	Error   string                  `json:"error,omitempty"`
}

// GetEvents 获取标签页的事件序列（最新在前）
func (a *App) GetEvents(tabID string) EventsResult {
	return EventsResult{Events: a.service.GetEvents(model.TabID(tabID)), Success: true}
}

// GetEventCount 获取标签页的事件数
func (a *App) GetEventCount(tabID string) int {
	return a.service.GetEventCount(model.TabID(tabID))
}

// ClearEvents 清空标签页的事件
func (a *App) ClearEvents(tabID string) OperationResult {
	if err := a.service.ClearEvents(model.TabID(tabID)); err != nil {
		return OperationResult{Success: false, Error: err.Error()}
	}
	return OperationResult{Success: true}
}

// ========== 策略 ==========

// DomainResult 返回给前端的域名状态
type DomainResult struct {
	Domain  string `json:"domain"`
	Known   bool   `json:"known"`
	Success bool   `json:"success"`
}

// GetTabDomain 获取标签页当前域名
func (a *App) GetTabDomain(tabID string) DomainResult {
	domain, ok := a.service.GetTabDomain(model.TabID(tabID))
	return DomainResult{Domain: domain, Known: ok, Success: true}
}

// ReEvaluateTabDomain 强制重新评估标签页策略
func (a *App) ReEvaluateTabDomain(tabID string) bool {
	return a.service.ReEvaluateTabDomain(model.TabID(tabID))
}

// ========== 设置 ==========

// GetSavedDevToolsURL 返回上次保存的 DevTools 地址
func (a *App) GetSavedDevToolsURL() string {
	return a.service.GetSavedDevToolsURL()
}

// SaveDevToolsURL 保存 DevTools 地址
func (a *App) SaveDevToolsURL(url string) OperationResult {
	if err := a.service.SaveDevToolsURL(url); err != nil {
		return OperationResult{Success: false, Error: err.Error()}
	}
	return OperationResult{Success: true}
}

// GetTheme 返回界面主题
func (a *App) GetTheme() string {
	return a.service.GetTheme()
}

// SaveTheme 保存界面主题
func (a *App) SaveTheme(theme string) OperationResult {
	if err := a.service.SaveTheme(theme); err != nil {
		return OperationResult{Success: false, Error: err.Error()}
	}
	return OperationResult{Success: true}
}

// StatsResult 管线统计结果
type StatsResult struct {
	Stats   model.PipelineStats `json:"stats"`
	Success bool                `json:"success"`
}

// GetStats 获取管线统计
func (a *App) GetStats() StatsResult {
	return StatsResult{Stats: a.service.GetStats(), Success: true}
}
