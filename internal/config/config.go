// Package config flowgraph 服务的配置：YAML 文件 + .env + 环境变量覆盖。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// 检查点后端
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQL      = "sql"
)

// Config 服务配置
type Config struct {
	Listen string `yaml:"listen"`
	// GraphDir 声明式图文件目录
	GraphDir   string           `yaml:"graph_dir"`
	Log        LogConfig        `yaml:"log"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `yaml:"level"`
	// Format text 或 json
	Format string `yaml:"format"`
}

// CheckpointConfig 检查点存储配置
type CheckpointConfig struct {
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
	// Driver Backend 为 sql 时的 database/sql 驱动名
	Driver string        `yaml:"driver"`
	Table  string        `yaml:"table"`
	Prefix string        `yaml:"prefix"`
	TTL    time.Duration `yaml:"ttl"`
	// BestEffort 写检查点失败只记日志
	BestEffort bool `yaml:"best_effort"`
}

// RuntimeConfig 图运行参数
type RuntimeConfig struct {
	MaxSteps       int           `yaml:"max_steps"`
	NodeTimeout    time.Duration `yaml:"node_timeout"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Listen:   ":8080",
		GraphDir: "graphs",
		Log:      LogConfig{Level: "info", Format: "text"},
		Checkpoint: CheckpointConfig{
			Backend: BackendMemory,
			Driver:  "postgres",
		},
		Runtime: RuntimeConfig{MaxSteps: 25},
	}
}

// Load 依次应用默认值、YAML 文件、.env 与环境变量。
// path 为空或文件不存在时跳过文件；envFile 为空时尝试加载当前目录的 .env。
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if envFile == "" {
		envFile = ".env"
	}
	// godotenv 不覆盖已存在的环境变量
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env (%s): %w", envFile, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("FLOWGRAPH_LISTEN", &c.Listen)
	str("FLOWGRAPH_GRAPH_DIR", &c.GraphDir)
	str("FLOWGRAPH_LOG_LEVEL", &c.Log.Level)
	str("FLOWGRAPH_LOG_FORMAT", &c.Log.Format)
	str("FLOWGRAPH_CHECKPOINT_BACKEND", &c.Checkpoint.Backend)
	str("FLOWGRAPH_CHECKPOINT_DSN", &c.Checkpoint.DSN)
	str("FLOWGRAPH_CHECKPOINT_DRIVER", &c.Checkpoint.Driver)

	if v, ok := lookup("FLOWGRAPH_MAX_STEPS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FLOWGRAPH_MAX_STEPS: %w", err)
		}
		c.Runtime.MaxSteps = n
	}
	if v, ok := lookup("FLOWGRAPH_NODE_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FLOWGRAPH_NODE_TIMEOUT: %w", err)
		}
		c.Runtime.NodeTimeout = d
	}
	if v, ok := lookup("FLOWGRAPH_CHECKPOINT_BEST_EFFORT"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FLOWGRAPH_CHECKPOINT_BEST_EFFORT: %w", err)
		}
		c.Checkpoint.BestEffort = b
	}
	return nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Checkpoint.Backend {
	case BackendMemory:
	case BackendRedis, BackendPostgres, BackendSQL:
		if c.Checkpoint.DSN == "" {
			return fmt.Errorf("checkpoint backend %s requires a dsn", c.Checkpoint.Backend)
		}
	default:
		return fmt.Errorf("unknown checkpoint backend %q", c.Checkpoint.Backend)
	}
	if c.Runtime.MaxSteps < 0 {
		return fmt.Errorf("runtime.max_steps must not be negative")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// NewLogger 按配置创建 logrus 日志器
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(c.Log.Level); err == nil {
		logger.SetLevel(lvl)
	}
	if strings.EqualFold(c.Log.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
