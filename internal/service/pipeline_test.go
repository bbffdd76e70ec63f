package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracktap/internal/policy"
	"tracktap/internal/store"
	"tracktap/internal/wire"
	"tracktap/pkg/model"
	"tracktap/pkg/policyspec"
)

const segmentURL = "https://api.segment.io/v1/batch"

// recordingNotifier 记录推送结果供断言
type recordingNotifier struct {
	mu       sync.Mutex
	captured []model.NormalizedEvent
	domains  []string
}

func (n *recordingNotifier) EventsCaptured(tab model.TabID, events []model.NormalizedEvent) {
	n.mu.Lock()
	n.captured = append(n.captured, events...)
	n.mu.Unlock()
}

func (n *recordingNotifier) DomainChanged(tab model.TabID, domain string) {
	n.mu.Lock()
	n.domains = append(n.domains, domain)
	n.mu.Unlock()
}

func newTestPipeline(t *testing.T) (*Pipeline, *policy.Engine, *store.Store) {
	t.Helper()
	cfg := policyspec.NewConfig()
	cfg.Allowlist = []policyspec.Entry{{Domain: "shop.example.com"}}
	pe := policy.New(cfg, nil)
	st := store.New(nil, 50, nil)
	return NewPipeline(pe, st, nil), pe, st
}

func chunksOf(body string) []wire.Chunk {
	return []wire.Chunk{wire.ChunkFromBytes([]byte(body))}
}

func TestPipelineCapturesBatch(t *testing.T) {
	p, pe, st := newTestPipeline(t)
	n := &recordingNotifier{}
	p.SetNotifier(n)
	pe.Evaluate("t1", "https://shop.example.com/cart")

	body := `{
		"batch": [{"type": "track", "event": "Signed Up", "messageId": "m1", "userId": "u1"}],
		"sentAt": "2025-06-01T10:00:00.000Z"
	}`
	p.HandleRequest("t1", "POST", segmentURL, chunksOf(body))

	seq := st.Get("t1")
	require.Len(t, seq, 1)
	ev := seq[0]
	assert.Equal(t, "m1", ev.ID)
	assert.Equal(t, "Signed Up", ev.Name)
	assert.Equal(t, model.ProviderSegment, ev.Provider)
	assert.Equal(t, "https://shop.example.com/cart", ev.URL)
	assert.Equal(t, "2025-06-01T10:00:00.000Z", ev.SentAt)

	// 推送一次入库的事件
	require.Len(t, n.captured, 1)
	assert.Equal(t, "m1", n.captured[0].ID)

	stats := p.Stats()
	assert.EqualValues(t, 1, stats.Intercepted)
	assert.EqualValues(t, 1, stats.Stored)
	assert.EqualValues(t, 1, stats.ByProvider[model.ProviderSegment])
	assert.Zero(t, stats.PolicyDenied)
}

func TestPipelineDeniesUnknownTab(t *testing.T) {
	p, _, st := newTestPipeline(t)

	body := `{"batch":[{"type":"track","event":"E"}]}`
	p.HandleRequest("ghost", "POST", segmentURL, chunksOf(body))

	assert.Empty(t, st.Get("ghost"))
	stats := p.Stats()
	assert.EqualValues(t, 1, stats.Intercepted)
	assert.EqualValues(t, 1, stats.PolicyDenied)
	assert.Zero(t, stats.Stored)
}

func TestPipelineDeniesDisallowedDomain(t *testing.T) {
	p, pe, st := newTestPipeline(t)
	pe.Evaluate("t1", "https://other.com/")

	p.HandleRequest("t1", "POST", segmentURL, chunksOf(`{"batch":[{"type":"track"}]}`))

	assert.Empty(t, st.Get("t1"))
	assert.EqualValues(t, 1, p.Stats().PolicyDenied)
}

func TestPipelineIgnoresNonProviderTraffic(t *testing.T) {
	p, pe, _ := newTestPipeline(t)
	pe.Evaluate("t1", "https://shop.example.com/")

	// 非 POST 与未知端点都在过滤阶段被忽略，不计入任何统计
	p.HandleRequest("t1", "GET", segmentURL, nil)
	p.HandleRequest("t1", "POST", "https://api.example.com/v1/batch", chunksOf(`{}`))

	stats := p.Stats()
	assert.Zero(t, stats.Intercepted)
	assert.Zero(t, stats.PolicyDenied)
}

func TestPipelineCountsParseDrops(t *testing.T) {
	p, pe, st := newTestPipeline(t)
	pe.Evaluate("t1", "https://shop.example.com/")

	p.HandleRequest("t1", "POST", segmentURL, chunksOf("{not json"))

	assert.Empty(t, st.Get("t1"))
	stats := p.Stats()
	assert.EqualValues(t, 1, stats.ParseDrops)
	assert.Zero(t, stats.ValidationDrops)
}

func TestPipelineCountsValidationDrops(t *testing.T) {
	p, pe, _ := newTestPipeline(t)
	pe.Evaluate("t1", "https://shop.example.com/")

	p.HandleRequest("t1", "POST", segmentURL, chunksOf(`{"batch":[]}`))
	p.HandleRequest("t1", "POST", segmentURL, chunksOf(`{"foo":"bar"}`))

	stats := p.Stats()
	assert.EqualValues(t, 2, stats.ValidationDrops)
	assert.Zero(t, stats.ParseDrops)
}

func TestPipelineFiltersInvalidBatchMembers(t *testing.T) {
	p, pe, st := newTestPipeline(t)
	pe.Evaluate("t1", "https://shop.example.com/")

	// 类型不可识别的成员与结构损坏的成员都只丢弃自身
	body := `{"batch":[
		{"type":"track","event":"A","messageId":"m1"},
		{"type":"bogus"},
		{"type":123},
		{"type":"page","name":"Home","messageId":"m2"}
	]}`
	p.HandleRequest("t1", "POST", segmentURL, chunksOf(body))

	seq := st.Get("t1")
	require.Len(t, seq, 2)
	// 序列最新在前：批次末尾的 page 事件排在最前
	assert.Equal(t, "m2", seq[0].ID)
	assert.Equal(t, "m1", seq[1].ID)
	assert.EqualValues(t, 2, p.Stats().Stored)
}

func TestPipelineSingleEventPayload(t *testing.T) {
	p, pe, st := newTestPipeline(t)
	pe.Evaluate("t1", "https://shop.example.com/")

	p.HandleRequest("t1", "POST", segmentURL, chunksOf(`{"type":"identify","userId":"u1"}`))

	seq := st.Get("t1")
	require.Len(t, seq, 1)
	assert.Equal(t, model.EventTypeIdentify, seq[0].Type)
	assert.Equal(t, "Identify: u1", seq[0].Name)
}

func TestPipelineMultipleProviders(t *testing.T) {
	p, pe, _ := newTestPipeline(t)
	pe.Evaluate("t1", "https://shop.example.com/")

	p.HandleRequest("t1", "POST", segmentURL, chunksOf(`{"batch":[{"type":"track","event":"A"}]}`))
	p.HandleRequest("t1", "POST", "https://app.dataplane.rudderstack.com/v1/batch",
		chunksOf(`{"batch":[{"type":"track","event":"B"}]}`))

	stats := p.Stats()
	assert.EqualValues(t, 1, stats.ByProvider[model.ProviderSegment])
	assert.EqualValues(t, 1, stats.ByProvider[model.ProviderRudderstack])
}
