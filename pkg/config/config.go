// Package config 加载分类器配置 (YAML)
package config

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"hypersplit/pkg/packet"
)

// Config 顶层配置
type Config struct {
	Binth        int    `yaml:"binth"`         // 叶子节点规则数阈值
	MaxDepth     int    `yaml:"max_depth"`     // 树最大深度, 0 表示默认值
	RulesPath    string `yaml:"rules_path"`    // 规则文件
	PacketsPath  string `yaml:"packets_path"`  // 报文文件
	PacketFormat string `yaml:"packet_format"` // auto, text, pcap, pcapng
	OutputPath   string `yaml:"output_path"`   // 结果文件

	Workers     WorkersConfig     `yaml:"workers"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
	Performance PerformanceConfig `yaml:"performance"`
}

// WorkersConfig 并行分类配置
type WorkersConfig struct {
	NumWorkers int `yaml:"num_workers"` // 0 表示 CPU 核数
	BatchSize  int `yaml:"batch_size"`  // 每批报文数
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Listen   string `yaml:"listen"`   // HTTP 监听地址, 为空不启动
	Path     string `yaml:"path"`     // HTTP 路径
	Textfile string `yaml:"textfile"` // 结束时写出的指标文件
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`  // debug, info, warn, error
	Format  string `yaml:"format"` // console, json
}

// PerformanceConfig 性能配置
type PerformanceConfig struct {
	SingleCore  bool `yaml:"single_core"`  // GOMAXPROCS=1
	CPUAffinity int  `yaml:"cpu_affinity"` // 绑定 CPU, -1 不绑定
	DisableLog  bool `yaml:"disable_log"`  // 关闭日志
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Binth:        4,
		PacketFormat: string(packet.FormatAuto),
		OutputPath:   "output.txt",
		Workers: WorkersConfig{
			BatchSize: 1024,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
			Format:  "console",
		},
		Performance: PerformanceConfig{
			CPUAffinity: -1,
		},
	}
}

// Load 读取配置文件, 未设置的字段保留默认值
// path 为空时直接返回默认配置
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Binth < 0 {
		return errors.Errorf("binth must not be negative, got %d", c.Binth)
	}
	if c.MaxDepth < 0 {
		return errors.Errorf("max_depth must not be negative, got %d", c.MaxDepth)
	}
	if _, err := packet.ParseFormat(c.PacketFormat); err != nil {
		return err
	}
	if c.Workers.NumWorkers < 0 || c.Workers.BatchSize < 0 {
		return errors.New("workers must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return errors.Wrap(err, "logging level")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return errors.Errorf("unknown logging format %q", c.Logging.Format)
	}
	return nil
}
