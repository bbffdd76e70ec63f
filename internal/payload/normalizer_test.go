package payload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracktap/pkg/model"
)

var testCtx = Context{
	TabID:    "tab-1",
	URL:      "https://shop.example.com/cart",
	SentAt:   "2025-06-01T10:00:00.000Z",
	Provider: model.ProviderSegment,
}

func TestNormalizeTrack(t *testing.T) {
	raw := model.RawBatchEvent{
		Type:       "track",
		Event:      "Signed Up",
		MessageID:  "m1",
		UserID:     "u1",
		Properties: map[string]any{"plan": "pro"},
		Timestamp:  "2025-06-01T09:59:58.000Z",
	}
	ev, ok := Normalize(raw, testCtx)
	require.True(t, ok)
	assert.Equal(t, model.EventTypeTrack, ev.Type)
	assert.Equal(t, "Signed Up", ev.Name)
	assert.Equal(t, "m1", ev.MessageID)
	assert.Equal(t, "m1", ev.ID)
	assert.Equal(t, "u1", ev.UserID)
	assert.Equal(t, "pro", ev.Properties["plan"])
	assert.Equal(t, testCtx.TabID, ev.TabID)
	assert.Equal(t, testCtx.URL, ev.URL)
	assert.Equal(t, testCtx.SentAt, ev.SentAt)
	assert.Equal(t, model.ProviderSegment, ev.Provider)
	want, _ := time.Parse(time.RFC3339Nano, "2025-06-01T09:59:58.000Z")
	assert.True(t, ev.Timestamp.Equal(want))
	assert.False(t, ev.CapturedAt.IsZero())
}

func TestNormalizeUnknownTypeFiltered(t *testing.T) {
	_, ok := Normalize(model.RawBatchEvent{Type: "bogus"}, testCtx)
	assert.False(t, ok)
	_, ok = Normalize(model.RawBatchEvent{}, testCtx)
	assert.False(t, ok)
}

func TestNormalizeDefaults(t *testing.T) {
	// 所有可选字段缺省时填充确定性缺省值
	ev, ok := Normalize(model.RawBatchEvent{Type: "track"}, testCtx)
	require.True(t, ok)
	assert.Equal(t, "Unnamed Track", ev.Name)
	assert.NotEmpty(t, ev.MessageID)
	assert.Equal(t, ev.MessageID, ev.ID)
	require.NotNil(t, ev.Properties)
	assert.Empty(t, ev.Properties)
	require.NotNil(t, ev.Context.Library)
	assert.Equal(t, "unknown", ev.Context.Library.Name)
	assert.Equal(t, "unknown", ev.Context.Library.Version)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestNormalizeContextWithoutLibrary(t *testing.T) {
	raw := model.RawBatchEvent{
		Type:    "page",
		Context: &model.EventContext{UserAgent: "Mozilla/5.0"},
	}
	ev, ok := Normalize(raw, testCtx)
	require.True(t, ok)
	assert.Equal(t, "Mozilla/5.0", ev.Context.UserAgent)
	require.NotNil(t, ev.Context.Library)
	assert.Equal(t, "unknown", ev.Context.Library.Name)
}

func TestNormalizeBadTimestampFallsBackToNow(t *testing.T) {
	before := time.Now().UTC()
	ev, ok := Normalize(model.RawBatchEvent{Type: "track", Timestamp: "yesterday"}, testCtx)
	require.True(t, ok)
	assert.False(t, ev.Timestamp.Before(before))
}

func TestDeriveNamePerType(t *testing.T) {
	cases := []struct {
		raw  model.RawBatchEvent
		want string
	}{
		{model.RawBatchEvent{Type: "track", Event: "Checkout"}, "Checkout"},
		{model.RawBatchEvent{Type: "track"}, "Unnamed Track"},
		{model.RawBatchEvent{Type: "page", Name: "Home"}, "Page: Home"},
		{model.RawBatchEvent{Type: "page"}, "Page View"},
		{model.RawBatchEvent{Type: "screen", Name: "Cart"}, "Screen: Cart"},
		{model.RawBatchEvent{Type: "screen"}, "Screen View"},
		{model.RawBatchEvent{Type: "identify", UserID: "u1"}, "Identify: u1"},
		{model.RawBatchEvent{Type: "identify"}, "Identify"},
		{model.RawBatchEvent{Type: "group", GroupID: "g1"}, "Group: g1"},
		{model.RawBatchEvent{Type: "group"}, "Group"},
		{model.RawBatchEvent{Type: "alias"}, "Alias"},
	}
	for _, c := range cases {
		ev, ok := Normalize(c.raw, testCtx)
		require.True(t, ok, "type=%s", c.raw.Type)
		assert.Equal(t, c.want, ev.Name, "type=%s", c.raw.Type)
	}
}

func TestNormalizeBatchFiltersInvalid(t *testing.T) {
	p := &model.BatchPayload{
		Batch: []model.RawBatchEvent{
			{Type: "track", Event: "A", MessageID: "m1"},
			{Type: "bogus"},
			{Type: "page", Name: "Home", MessageID: "m2"},
		},
		SentAt: testCtx.SentAt,
	}
	events := NormalizeBatch(p, testCtx)
	require.Len(t, events, 2)
	// 保持原始批次顺序
	assert.Equal(t, "m1", events[0].MessageID)
	assert.Equal(t, "m2", events[1].MessageID)
}

func TestNormalizeBatchAllInvalid(t *testing.T) {
	p := &model.BatchPayload{Batch: []model.RawBatchEvent{{Type: "x"}, {Type: "y"}}}
	assert.Empty(t, NormalizeBatch(p, testCtx))
	assert.Empty(t, NormalizeBatch(nil, testCtx))
}
