package model

import "encoding/json"

// LibraryInfo SDK 库信息
type LibraryInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// EventContext 事件上下文。library/page/userAgent 之外的键是用户自定义的，
// 原样保留在 Extra 中以保证无损
type EventContext struct {
	Library   *LibraryInfo   `json:"-"`
	Page      map[string]any `json:"-"`
	UserAgent string         `json:"-"`
	Extra     map[string]any `json:"-"`
}

// UnknownLibraryContext 返回库信息缺失时的缺省上下文
func UnknownLibraryContext() EventContext {
	return EventContext{Library: &LibraryInfo{Name: "unknown", Version: "unknown"}}
}

// UnmarshalJSON 拆出已知键，剩余键进入 Extra
func (c *EventContext) UnmarshalJSON(b []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if v, ok := raw["library"]; ok {
		var lib LibraryInfo
		if err := json.Unmarshal(v, &lib); err == nil {
			c.Library = &lib
		}
		delete(raw, "library")
	}
	if v, ok := raw["page"]; ok {
		var page map[string]any
		if err := json.Unmarshal(v, &page); err == nil {
			c.Page = page
		}
		delete(raw, "page")
	}
	if v, ok := raw["userAgent"]; ok {
		var ua string
		if err := json.Unmarshal(v, &ua); err == nil {
			c.UserAgent = ua
		}
		delete(raw, "userAgent")
	}
	if len(raw) > 0 {
		c.Extra = make(map[string]any, len(raw))
		for k, v := range raw {
			var val any
			if err := json.Unmarshal(v, &val); err == nil {
				c.Extra[k] = val
			}
		}
	}
	return nil
}

// MarshalJSON 合并已知键与 Extra 输出为单个对象
func (c EventContext) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Extra)+3)
	for k, v := range c.Extra {
		out[k] = v
	}
	if c.Library != nil {
		out["library"] = c.Library
	}
	if c.Page != nil {
		out["page"] = c.Page
	}
	if c.UserAgent != "" {
		out["userAgent"] = c.UserAgent
	}
	return json.Marshal(out)
}

// RawBatchEvent SDK 线上发送的原始事件。除 Type 外所有字段均可缺省
type RawBatchEvent struct {
	Type         string         `json:"type"`
	Event        string         `json:"event,omitempty"`        // track 事件标签
	Name         string         `json:"name,omitempty"`         // page/screen 名称
	UserID       string         `json:"userId,omitempty"`
	AnonymousID  string         `json:"anonymousId,omitempty"`
	GroupID      string         `json:"groupId,omitempty"`
	Properties   map[string]any `json:"properties,omitempty"`
	Traits       map[string]any `json:"traits,omitempty"`
	Context      *EventContext  `json:"context,omitempty"`
	Integrations map[string]any `json:"integrations,omitempty"`
	MessageID    string         `json:"messageId,omitempty"`
	Timestamp    string         `json:"timestamp,omitempty"`
}

// BatchPayload 批次载荷。单个裸事件在解析阶段会被包装成单元素批次
type BatchPayload struct {
	Batch    []RawBatchEvent `json:"batch"`
	SentAt   string          `json:"sentAt"`
	WriteKey string          `json:"writeKey,omitempty"`
}
