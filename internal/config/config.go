package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config 应用配置文件结构体
type Config struct {
	Version string `yaml:"version"`
	Sqlite  struct {
		Db string `yaml:"db"`
	} `yaml:"sqlite"`
	Policy struct {
		Path string `yaml:"path"`
	} `yaml:"policy"`
	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
	} `yaml:"log"`
	Capture struct {
		DevToolsURL       string `yaml:"devtoolsUrl"`
		Concurrency       int    `yaml:"concurrency"`
		BodySizeThreshold int64  `yaml:"bodySizeThreshold"`
		ProcessTimeoutMS  int    `yaml:"processTimeoutMs"`
	} `yaml:"capture"`
	Retention struct {
		CleanupDays    int `yaml:"cleanupDays"`    // 无活动标签页数据的保留天数
		SweepIntervalS int `yaml:"sweepIntervalS"` // 周期清理扫描间隔（秒）
	} `yaml:"retention"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.Policy.Path = "policy.yaml"
	c.Log.Level = "info"
	c.Log.Writer = []string{"console"}
	c.Capture.DevToolsURL = "http://localhost:9222"
	c.Capture.Concurrency = 8
	c.Capture.BodySizeThreshold = 1 << 20 // 1MB
	c.Capture.ProcessTimeoutMS = 3000
	c.Retention.CleanupDays = 7
	c.Retention.SweepIntervalS = 3600
	return c
}

// Load 从文件加载配置，文件不存在时返回默认配置
func Load(path string) (*Config, error) {
	c := NewConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}
