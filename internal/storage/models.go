package storage

import (
	"time"
)

// Setting 用户设置表
type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`  // 设置键
	Value     string    `gorm:"type:text" json:"value"` // 设置值
	UpdatedAt time.Time `json:"updatedAt"`              // 更新时间
}

// 预定义的设置 Key
const (
	SettingKeyDevToolsURL  = "devtools_url"  // 开发者工具URL
	SettingKeyTheme        = "theme"         // 主题
	SettingKeyWindowBounds = "window_bounds" // 窗口大小和位置
	SettingKeyPolicyPath   = "policy_path"   // 策略配置文件路径
)

// TabEventsRecord 标签页事件序列表。每个标签页一行，
// 整个有序序列以 JSON 镜像存储，重启后据此恢复
type TabEventsRecord struct {
	TabID      string    `gorm:"primaryKey" json:"tabId"`     // 标签页ID
	EventsJSON string    `gorm:"type:text" json:"eventsJson"` // 规范化事件序列（最新在前）
	Count      int       `json:"count"`                       // 序列长度
	UpdatedAt  time.Time `gorm:"index" json:"updatedAt"`      // 最近活动时间，清理扫描依据
}

// TabReloadRecord 标签页导航时间戳表（定长历史，最旧的被丢弃）
type TabReloadRecord struct {
	TabID          string    `gorm:"primaryKey" json:"tabId"`         // 标签页ID
	TimestampsJSON string    `gorm:"type:text" json:"timestampsJson"` // 导航时间戳数组
	UpdatedAt      time.Time `gorm:"index" json:"updatedAt"`          // 更新时间
}
