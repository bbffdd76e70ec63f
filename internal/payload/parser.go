// Package payload 解析、校验并规范化分析 SDK 的批次载荷
package payload

import (
	"encoding/json"
	"time"

	"tracktap/pkg/errx"
	"tracktap/pkg/model"
)

// sentAtLayout 合成 sentAt 时使用的时间格式，与 SDK 线上格式一致
const sentAtLayout = "2006-01-02T15:04:05.000Z07:00"

// Parse 把解码后的文本解析为批次载荷。
// JSON 无效返回 PARSE_FAILED；JSON 有效但既非批次形状也非单事件形状
// 返回 VALIDATION_FAILED。单个裸事件被包装为单元素批次并合成 sentAt。
// 本阶段只预检批次首元素的形状，逐元素的再校验发生在规范化阶段，
// 单个畸形事件不会拖垮整个批次
func Parse(body string) (*model.BatchPayload, *errx.Error) {
	if body == "" {
		return nil, errx.New(errx.CodeParseFailed, "空请求体")
	}
	var probe any
	if err := json.Unmarshal([]byte(body), &probe); err != nil {
		return nil, errx.Wrap(errx.CodeParseFailed, err, "JSON 解析失败")
	}
	obj, ok := probe.(map[string]any)
	if ok && obj != nil {
		if _, hasBatch := obj["batch"]; hasBatch {
			return parseBatch(body)
		}
		if t, _ := obj["type"].(string); t != "" {
			return parseSingle(body, t)
		}
	}
	return nil, errx.New(errx.CodeValidationFailed, "载荷既非批次也非单事件形状")
}

// parseBatch 解析批次形状：batch 必须为非空数组且首元素类型可识别。
// 首元素之后的成员逐个独立解码，结构损坏的成员被跳过，
// 不拖垮同批次的有效事件
func parseBatch(body string) (*model.BatchPayload, *errx.Error) {
	var env struct {
		Batch    []json.RawMessage `json:"batch"`
		SentAt   string            `json:"sentAt"`
		WriteKey string            `json:"writeKey"`
	}
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, errx.Wrap(errx.CodeValidationFailed, err, "批次结构无效")
	}
	if len(env.Batch) == 0 {
		return nil, errx.New(errx.CodeValidationFailed, "批次为空")
	}

	var first model.RawBatchEvent
	if err := json.Unmarshal(env.Batch[0], &first); err != nil {
		return nil, errx.Wrap(errx.CodeValidationFailed, err, "批次首元素无效")
	}
	if _, ok := model.ParseEventType(first.Type); !ok {
		return nil, errx.New(errx.CodeValidationFailed, "批次首元素类型无效: "+first.Type)
	}

	events := make([]model.RawBatchEvent, 0, len(env.Batch))
	events = append(events, first)
	for _, raw := range env.Batch[1:] {
		var ev model.RawBatchEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}

	p := &model.BatchPayload{Batch: events, SentAt: env.SentAt, WriteKey: env.WriteKey}
	if p.SentAt == "" {
		p.SentAt = time.Now().UTC().Format(sentAtLayout)
	}
	return p, nil
}

// parseSingle 解析单事件形状并包装为单元素批次
func parseSingle(body, typ string) (*model.BatchPayload, *errx.Error) {
	if _, ok := model.ParseEventType(typ); !ok {
		return nil, errx.New(errx.CodeValidationFailed, "事件类型无效: "+typ)
	}
	var ev model.RawBatchEvent
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return nil, errx.Wrap(errx.CodeValidationFailed, err, "事件结构无效")
	}
	return &model.BatchPayload{
		Batch:  []model.RawBatchEvent{ev},
		SentAt: time.Now().UTC().Format(sentAtLayout),
	}, nil
}
