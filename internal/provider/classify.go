// Package provider 把请求目的地址映射到已知的分析服务提供商
package provider

import (
	"net/url"
	"strings"

	"tracktap/pkg/model"
)

// endpointTable 已知提供商端点的固定匹配表，按序匹配
var endpointTable = []struct {
	needle   string
	provider model.Provider
}{
	{"segment.io", model.ProviderSegment},
	{"segment.com", model.ProviderSegment},
	{"rudderstack.com", model.ProviderRudderstack},
	{"track.dreamdata.cloud", model.ProviderDreamdata},
}

// Classify 根据目的 URL 返回提供商标识。无状态纯函数，
// 未命中任何已知端点时返回 unknown
func Classify(rawURL string) model.Provider {
	host := hostOf(rawURL)
	if host == "" {
		return model.ProviderUnknown
	}
	for _, e := range endpointTable {
		if strings.Contains(host, e.needle) {
			return e.provider
		}
	}
	return model.ProviderUnknown
}

// MatchesEndpoint 判断 URL 是否指向任一已知提供商端点，
// 作为捕获管线的上游过滤条件
func MatchesEndpoint(rawURL string) bool {
	return Classify(rawURL) != model.ProviderUnknown
}

// hostOf 提取小写主机名；解析失败时退化为对整个串做子串匹配
func hostOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return strings.ToLower(rawURL)
	}
	return strings.ToLower(u.Hostname())
}
