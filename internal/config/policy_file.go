package config

import (
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	ilog "tracktap/internal/log"
	"tracktap/pkg/policyspec"
)

// PolicyFile 策略配置的持有方：负责加载、保存 yaml 文件，
// 策略引擎只读其内容。自动放行写回也经由这里
type PolicyFile struct {
	path string
	mu   sync.Mutex
	cur  *policyspec.Config
	log  ilog.Logger
}

// NewPolicyFile 创建策略文件持有器
func NewPolicyFile(path string, l ilog.Logger) *PolicyFile {
	if l == nil {
		l = ilog.NewNoop()
	}
	return &PolicyFile{path: path, cur: policyspec.NewConfig(), log: l}
}

// Path 返回策略文件路径
func (p *PolicyFile) Path() string { return p.path }

// Load 从磁盘加载策略并规整校验。文件不存在时返回空策略
func (p *PolicyFile) Load() (*policyspec.Config, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			p.mu.Lock()
			defer p.mu.Unlock()
			return p.cur.Clone(), nil
		}
		return nil, err
	}
	cfg := policyspec.NewConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.cur = cfg.Clone()
	p.mu.Unlock()
	return cfg, nil
}

// Current 返回最近一次加载的策略拷贝
func (p *PolicyFile) Current() *policyspec.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur.Clone()
}

// Save 保存策略到磁盘
func (p *PolicyFile) Save(cfg *policyspec.Config) error {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p.path, data, 0o644); err != nil {
		return err
	}
	p.mu.Lock()
	p.cur = cfg.Clone()
	p.mu.Unlock()
	return nil
}

// AutoAllow 把域名以精确条目加入允许列表并落盘。
// 已被更宽的子域条目覆盖或已存在时不重复写入
func (p *PolicyFile) AutoAllow(domain string) error {
	if err := policyspec.ValidateDomain(domain); err != nil {
		return err
	}
	p.mu.Lock()
	cfg := p.cur.Clone()
	p.mu.Unlock()

	for _, e := range cfg.Allowlist {
		if e.Matches(domain) {
			return nil
		}
	}
	cfg.Allowlist = append(cfg.Allowlist, policyspec.Entry{Domain: domain})
	p.log.Info("自动放行域名", "domain", domain)
	return p.Save(cfg)
}
