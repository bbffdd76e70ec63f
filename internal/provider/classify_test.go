package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tracktap/pkg/model"
)

func TestClassifyKnownEndpoints(t *testing.T) {
	cases := []struct {
		url  string
		want model.Provider
	}{
		{"https://api.segment.io/v1/batch", model.ProviderSegment},
		{"https://cdn.segment.com/v1/t", model.ProviderSegment},
		{"https://myapp.dataplane.rudderstack.com/v1/batch", model.ProviderRudderstack},
		{"https://track.dreamdata.cloud/v1/batch", model.ProviderDreamdata},
		{"https://example.com/v1/batch", model.ProviderUnknown},
		{"https://api.amplitude.com/2/httpapi", model.ProviderUnknown},
		{"", model.ProviderUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.url), "url=%s", c.url)
	}
}

func TestClassifyCaseInsensitiveHost(t *testing.T) {
	assert.Equal(t, model.ProviderSegment, Classify("https://API.SEGMENT.IO/v1/batch"))
}

func TestMatchesEndpoint(t *testing.T) {
	assert.True(t, MatchesEndpoint("https://api.segment.io/v1/t"))
	assert.False(t, MatchesEndpoint("https://api.example.com/v1/t"))
}
