// Package policyspec 定义域名捕获策略配置的类型规范
package policyspec

import (
	"fmt"
	"regexp"
	"strings"
)

// 配置版本常量
const (
	DefaultConfigVersion = "1.0" // 默认配置格式版本
)

// 事件保留数量约束
const (
	DefaultMaxEvents = 200  // 每个标签页默认保留的事件数
	MaxMaxEvents     = 5000 // 上限，防止配置失误导致内存失控
)

// 域名格式正则：字母数字与连字符组成的点分标签
var domainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)+$`)

// Entry 允许列表条目
type Entry struct {
	Domain          string `json:"domain" yaml:"domain"`                   // 域名（小写）
	AllowSubdomains bool   `json:"allowSubdomains" yaml:"allowSubdomains"` // 是否匹配子域名
}

// Matches 判断域名 d 是否命中本条目：精确相等，或开启子域匹配时以 ".domain" 结尾
func (e Entry) Matches(d string) bool {
	if d == e.Domain {
		return true
	}
	return e.AllowSubdomains && strings.HasSuffix(d, "."+e.Domain)
}

// Config 策略配置根结构。由外部配置文件持有，策略引擎只读
type Config struct {
	Version   string   `json:"version" yaml:"version"`
	Allowlist []Entry  `json:"allowlist" yaml:"allowlist"`
	Denylist  []string `json:"denylist" yaml:"denylist"`
	MaxEvents int      `json:"maxEvents" yaml:"maxEvents"`
	AutoAllow bool     `json:"autoAllow" yaml:"autoAllow"` // 首次检视标签页时自动放行其域名
}

// NewConfig 创建一个新的空策略配置
func NewConfig() *Config {
	return &Config{
		Version:   DefaultConfigVersion,
		Allowlist: []Entry{},
		Denylist:  []string{},
		MaxEvents: DefaultMaxEvents,
	}
}

// Normalize 规整配置：域名转小写去空白，MaxEvents 回落到合法区间
func (c *Config) Normalize() {
	for i := range c.Allowlist {
		c.Allowlist[i].Domain = canonDomain(c.Allowlist[i].Domain)
	}
	for i := range c.Denylist {
		c.Denylist[i] = canonDomain(c.Denylist[i])
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = DefaultMaxEvents
	}
	if c.MaxEvents > MaxMaxEvents {
		c.MaxEvents = MaxMaxEvents
	}
	if c.Version == "" {
		c.Version = DefaultConfigVersion
	}
}

// Validate 校验配置的域名格式
func (c *Config) Validate() error {
	for _, e := range c.Allowlist {
		if err := ValidateDomain(e.Domain); err != nil {
			return fmt.Errorf("allowlist: %w", err)
		}
	}
	for _, d := range c.Denylist {
		if err := ValidateDomain(d); err != nil {
			return fmt.Errorf("denylist: %w", err)
		}
	}
	return nil
}

// ValidateDomain 校验单个域名格式
func ValidateDomain(d string) error {
	if d == "" {
		return fmt.Errorf("域名不能为空")
	}
	if !domainPattern.MatchString(d) {
		return fmt.Errorf("域名格式无效: %q", d)
	}
	return nil
}

// EntriesEqual 比较新旧配置的允许/拒绝条目是否一致。
// 策略引擎据此决定是否需要全量重新评估
func EntriesEqual(a, b *Config) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.Allowlist) != len(b.Allowlist) || len(a.Denylist) != len(b.Denylist) {
		return false
	}
	for i := range a.Allowlist {
		if a.Allowlist[i] != b.Allowlist[i] {
			return false
		}
	}
	for i := range a.Denylist {
		if a.Denylist[i] != b.Denylist[i] {
			return false
		}
	}
	return true
}

// Clone 返回配置的深拷贝
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := &Config{
		Version:   c.Version,
		MaxEvents: c.MaxEvents,
		AutoAllow: c.AutoAllow,
		Allowlist: make([]Entry, len(c.Allowlist)),
		Denylist:  make([]string, len(c.Denylist)),
	}
	copy(out.Allowlist, c.Allowlist)
	copy(out.Denylist, c.Denylist)
	return out
}

func canonDomain(d string) string {
	return strings.ToLower(strings.TrimSpace(d))
}
