package policy

import (
	"net/url"
	"strings"
)

// DomainOf 从页面 URL 提取域名。非 http/https 的内部页面
// （chrome://、about:、devtools:// 等）返回空字符串
func DomainOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return ""
	}
	return strings.ToLower(u.Hostname())
}
