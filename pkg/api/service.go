package api

import (
	ilog "tracktap/internal/log"
	"tracktap/internal/service"
	"tracktap/pkg/model"
	"tracktap/pkg/policyspec"
)

// Notifier 事件推送接口。由外部消费方（UI）实现：
// 消费方需按事件 id 自行去重，同一批次在启动竞态下可能
// 经由首次拉取与实时推送被观察两次
type Notifier = service.Notifier

// Options 服务构建选项
type Options = service.Options

// Service 对外服务接口
type Service interface {
	StartSession(cfg model.SessionConfig) (model.SessionID, error)
	StopSession(id model.SessionID) error
	AttachTarget(id model.SessionID, target model.TabID) error
	DetachTarget(id model.SessionID, target model.TabID) error
	ListTargets(id model.SessionID) ([]model.TargetInfo, error)

	EnableCapture(id model.SessionID) error
	DisableCapture(id model.SessionID) error

	GetEvents(tab model.TabID) []model.NormalizedEvent
	GetEventCount(tab model.TabID) int
	ClearEvents(tab model.TabID) error
	GetTabDomain(tab model.TabID) (string, bool)
	ReEvaluateTabDomain(tab model.TabID) bool

	UpdatePolicy(cfg *policyspec.Config)
	GetStats() model.PipelineStats

	GetSavedDevToolsURL() string
	SaveDevToolsURL(url string) error
	GetTheme() string
	SaveTheme(theme string) error

	SetNotifier(n Notifier)
	Close() error
}

// NewService 创建并返回服务接口实现
func NewService(l ilog.Logger, opts Options) (Service, error) {
	return service.New(l, opts)
}
