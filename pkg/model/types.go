package model

import "time"

// SessionID 会话ID
type SessionID string

// TabID 浏览器标签页ID（对应一个 CDP 页面目标）
type TabID string

// Provider 分析服务提供商标识
type Provider string

// 已知的提供商
const (
	ProviderSegment     Provider = "segment"
	ProviderRudderstack Provider = "rudderstack"
	ProviderDreamdata   Provider = "dreamdata"
	ProviderUnknown     Provider = "unknown"
)

// EventType 分析事件类型
type EventType string

// SDK 线上协议认可的六种事件类型
const (
	EventTypeTrack    EventType = "track"
	EventTypePage     EventType = "page"
	EventTypeScreen   EventType = "screen"
	EventTypeIdentify EventType = "identify"
	EventTypeGroup    EventType = "group"
	EventTypeAlias    EventType = "alias"
)

// ParseEventType 解析事件类型字符串，未知类型返回 false
func ParseEventType(s string) (EventType, bool) {
	switch EventType(s) {
	case EventTypeTrack, EventTypePage, EventTypeScreen,
		EventTypeIdentify, EventTypeGroup, EventTypeAlias:
		return EventType(s), true
	}
	return "", false
}

// SessionConfig 会话配置
type SessionConfig struct {
	DevToolsURL       string `json:"devToolsURL"`
	Concurrency       int    `json:"concurrency"`
	BodySizeThreshold int64  `json:"bodySizeThreshold"`
	ProcessTimeoutMS  int    `json:"processTimeoutMS"`
}

// TargetInfo 浏览器目标信息
type TargetInfo struct {
	ID        TabID  `json:"id"`
	Type      string `json:"type"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	IsCurrent bool   `json:"isCurrent"`
}

// TabDomainState 标签页的域名授权状态
type TabDomainState struct {
	Domain    string `json:"domain"`    // 当前域名，内部页面为空字符串
	IsAllowed bool   `json:"isAllowed"` // 是否允许捕获
}

// PipelineStats 捕获管线统计信息
type PipelineStats struct {
	Intercepted     int64              `json:"intercepted"`     // 进入管线的请求数
	Stored          int64              `json:"stored"`          // 已入库的事件数
	PolicyDenied    int64              `json:"policyDenied"`    // 被策略拒绝的请求数
	ParseDrops      int64              `json:"parseDrops"`      // JSON 解析失败的载荷数
	ValidationDrops int64              `json:"validationDrops"` // 结构校验失败的载荷数
	PersistFailures int64              `json:"persistFailures"` // 持久化失败次数
	ByProvider      map[Provider]int64 `json:"byProvider"`      // 按提供商统计的事件数
}

// NormalizedEvent 规范化后的分析事件记录（不可变）
type NormalizedEvent struct {
	ID           string         `json:"id"`                     // 稳定唯一标识，缺省等于 MessageID
	MessageID    string         `json:"messageId"`              // 消息ID，线上缺失时生成
	Type         EventType      `json:"type"`                   // 事件类型
	Name         string         `json:"name"`                   // 按类型派生的可读名称
	Properties   map[string]any `json:"properties"`             // 事件属性，缺省为空映射
	Traits       map[string]any `json:"traits,omitempty"`       // 用户特征
	UserID       string         `json:"userId,omitempty"`       // 用户ID
	AnonymousID  string         `json:"anonymousId,omitempty"`  // 匿名ID
	GroupID      string         `json:"groupId,omitempty"`      // 分组ID
	Timestamp    time.Time      `json:"timestamp"`              // 事件时间，缺省为规范化时间
	SentAt       string         `json:"sentAt"`                 // 批次发送时间（继承自载荷）
	Context      EventContext   `json:"context"`                // 事件上下文
	Integrations map[string]any `json:"integrations,omitempty"` // 集成开关
	TabID        TabID          `json:"tabId"`                  // 捕获来源标签页
	URL          string         `json:"url"`                    // 捕获时的页面URL
	Provider     Provider       `json:"provider"`               // 分类出的提供商
	CapturedAt   time.Time      `json:"capturedAt"`             // 规范化的墙钟时间
	RawPayload   RawBatchEvent  `json:"rawPayload"`             // 原始线上事件（无损保留）
}
