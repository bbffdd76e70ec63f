package payload

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"tracktap/pkg/model"
)

// Context 规范化所需的捕获上下文
type Context struct {
	TabID    model.TabID
	URL      string // 捕获时的页面 URL
	SentAt   string // 批次发送时间，继承给每个事件
	Provider model.Provider
}

// Normalize 将单个原始事件规范化为内部记录。
// 类型不可识别的事件被静默过滤（返回 false），这是预期内的脏数据，
// 不算错误。除读取时钟与随机源做缺省填充外为纯函数，绝不 panic
func Normalize(raw model.RawBatchEvent, ctx Context) (model.NormalizedEvent, bool) {
	typ, ok := model.ParseEventType(raw.Type)
	if !ok {
		return model.NormalizedEvent{}, false
	}
	now := time.Now().UTC()

	msgID := raw.MessageID
	if msgID == "" {
		msgID = newMessageID(now)
	}

	props := raw.Properties
	if props == nil {
		props = map[string]any{}
	}

	evCtx := model.UnknownLibraryContext()
	if raw.Context != nil {
		evCtx = *raw.Context
		if evCtx.Library == nil {
			evCtx.Library = &model.LibraryInfo{Name: "unknown", Version: "unknown"}
		}
	}

	ts := now
	if raw.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, raw.Timestamp); err == nil {
			ts = parsed
		}
	}

	return model.NormalizedEvent{
		ID:           msgID,
		MessageID:    msgID,
		Type:         typ,
		Name:         deriveName(typ, raw),
		Properties:   props,
		Traits:       raw.Traits,
		UserID:       raw.UserID,
		AnonymousID:  raw.AnonymousID,
		GroupID:      raw.GroupID,
		Timestamp:    ts,
		SentAt:       ctx.SentAt,
		Context:      evCtx,
		Integrations: raw.Integrations,
		TabID:        ctx.TabID,
		URL:          ctx.URL,
		Provider:     ctx.Provider,
		CapturedAt:   now,
		RawPayload:   raw,
	}, true
}

// NormalizeBatch 规范化整个批次：逐元素再校验并过滤无效事件，
// 其余按原始批次顺序返回。全部无效时返回空切片而非错误
func NormalizeBatch(p *model.BatchPayload, ctx Context) []model.NormalizedEvent {
	if p == nil || len(p.Batch) == 0 {
		return nil
	}
	out := make([]model.NormalizedEvent, 0, len(p.Batch))
	for _, raw := range p.Batch {
		if ev, ok := Normalize(raw, ctx); ok {
			out = append(out, ev)
		}
	}
	return out
}

// deriveName 按类型确定性地派生可读名称
func deriveName(typ model.EventType, raw model.RawBatchEvent) string {
	switch typ {
	case model.EventTypeTrack:
		if raw.Event != "" {
			return raw.Event
		}
		return "Unnamed Track"
	case model.EventTypePage:
		if raw.Name != "" {
			return "Page: " + raw.Name
		}
		return "Page View"
	case model.EventTypeScreen:
		if raw.Name != "" {
			return "Screen: " + raw.Name
		}
		return "Screen View"
	case model.EventTypeIdentify:
		if raw.UserID != "" {
			return "Identify: " + raw.UserID
		}
		return "Identify"
	case model.EventTypeGroup:
		if raw.GroupID != "" {
			return "Group: " + raw.GroupID
		}
		return "Group"
	case model.EventTypeAlias:
		return "Alias"
	}
	return string(typ)
}

// newMessageID 生成缺省消息ID：毫秒时间戳加随机后缀，足够单调且唯一
func newMessageID(now time.Time) string {
	return fmt.Sprintf("gen-%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}
