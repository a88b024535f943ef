// Package config 加载应用配置：默认值、YAML 文件与环境变量
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，如 M3U8CAPTURE_CAPTURE_MAX_WAIT=10s
const EnvPrefix = "M3U8CAPTURE"

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version" mapstructure:"version"`

	Sqlite SqliteConfig `yaml:"sqlite" mapstructure:"sqlite"`

	Log LogConfig `yaml:"log" mapstructure:"log"`

	Capture CaptureConfig `yaml:"capture" mapstructure:"capture"`

	CDP CDPConfig `yaml:"cdp" mapstructure:"cdp"`
}

// SqliteConfig 捕获历史数据库
type SqliteConfig struct {
	Dsn    string `yaml:"dsn" mapstructure:"dsn"`
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
}

// LogConfig 日志输出
type LogConfig struct {
	Level  string   `yaml:"level" mapstructure:"level"`
	Writer []string `yaml:"writer" mapstructure:"writer"`
	File   string   `yaml:"file" mapstructure:"file"`
}

// CaptureConfig 捕获循环参数
type CaptureConfig struct {
	MaxWait      time.Duration `yaml:"max_wait" mapstructure:"max_wait"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	EarlyStop    bool          `yaml:"early_stop" mapstructure:"early_stop"`
	MaxBodyBytes int           `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" mapstructure:"fetch_timeout"`
	Sentinel     string        `yaml:"sentinel" mapstructure:"sentinel"`
	Output       string        `yaml:"output" mapstructure:"output"`
	EventLog     string        `yaml:"event_log" mapstructure:"event_log"`
}

// CDPConfig 浏览器连接参数
type CDPConfig struct {
	DevToolsURL     string        `yaml:"devtools_url" mapstructure:"devtools_url"`
	HookScript      bool          `yaml:"hook_script" mapstructure:"hook_script"`
	Kick            bool          `yaml:"kick" mapstructure:"kick"`
	Intercept       bool          `yaml:"intercept" mapstructure:"intercept"`
	NavigateTimeout time.Duration `yaml:"navigate_timeout" mapstructure:"navigate_timeout"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Version: "1.0.0",
		Sqlite: SqliteConfig{
			Dsn:    "m3u8capture.sqlite3",
			Prefix: "m3u8capture_",
		},
		Log: LogConfig{
			Level:  "info",
			Writer: []string{"console"},
			File:   "logs/m3u8capture.log",
		},
		Capture: CaptureConfig{
			MaxWait:      30 * time.Second,
			PollInterval: 500 * time.Millisecond,
			EarlyStop:    true,
			MaxBodyBytes: 4 << 20,
			FetchTimeout: 3 * time.Second,
			Sentinel:     "No .m3u8 URL found.",
			Output:       "output.txt",
		},
		CDP: CDPConfig{
			DevToolsURL:     "http://127.0.0.1:9222",
			HookScript:      true,
			Kick:            true,
			NavigateTimeout: 60 * time.Second,
		},
	}
}

// Load 依次应用默认值、配置文件（path 为空时跳过）与环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	if err := Prepare(v, path); err != nil {
		return nil, err
	}
	return FromViper(v)
}

// Prepare 向 v 注册默认值、读取配置文件并启用环境变量覆盖
//
// 调用方可在之后继续绑定命令行参数，解析由 FromViper 完成。
func Prepare(v *viper.Viper, path string) error {
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return nil
}

// FromViper 从已配置的 viper 实例解析配置并校验
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetDefaults 将 NewConfig 的默认值注册到 viper，使环境变量可以覆盖每个键
func SetDefaults(v *viper.Viper) {
	d := NewConfig()
	v.SetDefault("version", d.Version)

	v.SetDefault("sqlite.dsn", d.Sqlite.Dsn)
	v.SetDefault("sqlite.prefix", d.Sqlite.Prefix)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.writer", d.Log.Writer)
	v.SetDefault("log.file", d.Log.File)

	v.SetDefault("capture.max_wait", d.Capture.MaxWait)
	v.SetDefault("capture.poll_interval", d.Capture.PollInterval)
	v.SetDefault("capture.early_stop", d.Capture.EarlyStop)
	v.SetDefault("capture.max_body_bytes", d.Capture.MaxBodyBytes)
	v.SetDefault("capture.fetch_timeout", d.Capture.FetchTimeout)
	v.SetDefault("capture.sentinel", d.Capture.Sentinel)
	v.SetDefault("capture.output", d.Capture.Output)
	v.SetDefault("capture.event_log", d.Capture.EventLog)

	v.SetDefault("cdp.devtools_url", d.CDP.DevToolsURL)
	v.SetDefault("cdp.hook_script", d.CDP.HookScript)
	v.SetDefault("cdp.kick", d.CDP.Kick)
	v.SetDefault("cdp.intercept", d.CDP.Intercept)
	v.SetDefault("cdp.navigate_timeout", d.CDP.NavigateTimeout)
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error
	if c.Capture.MaxWait <= 0 {
		errs = append(errs, fmt.Errorf("capture.max_wait must be positive, got %s", c.Capture.MaxWait))
	}
	if c.Capture.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("capture.poll_interval must be positive, got %s", c.Capture.PollInterval))
	}
	if c.Capture.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("capture.fetch_timeout must be positive, got %s", c.Capture.FetchTimeout))
	}
	if c.Capture.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("capture.max_body_bytes must not be negative, got %d", c.Capture.MaxBodyBytes))
	}
	if c.CDP.NavigateTimeout <= 0 {
		errs = append(errs, fmt.Errorf("cdp.navigate_timeout must be positive, got %s", c.CDP.NavigateTimeout))
	}
	if c.CDP.DevToolsURL == "" {
		errs = append(errs, errors.New("cdp.devtools_url is required"))
	}
	return errors.Join(errs...)
}
