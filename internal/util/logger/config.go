// Package logger 提供统一的日志接口
//
// 支持通过环境变量配置日志级别：
//   - XROUTE_LOG_LEVEL: 设置日志级别，支持按子系统配置
//     格式: 子系统=级别,子系统=级别,默认级别
//     示例: router=debug,transport=warn,info
//   - XROUTE_LOG_FORMAT: 日志格式 (text 或 json)
//   - XROUTE_LOG_ADD_SOURCE: 是否输出源码位置
package logger

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// 环境变量名
const (
	EnvLevel     = "XROUTE_LOG_LEVEL"
	EnvFormat    = "XROUTE_LOG_FORMAT"
	EnvAddSource = "XROUTE_LOG_ADD_SOURCE"
)

// LogFormat 日志输出格式
type LogFormat int

const (
	// FormatText 文本格式（默认）
	FormatText LogFormat = iota
	// FormatJSON JSON 格式
	FormatJSON
)

// Config 日志配置
type Config struct {
	// DefaultLevel 默认日志级别
	DefaultLevel slog.Level

	// SubsystemLevels 各子系统的日志级别
	SubsystemLevels map[string]slog.Level

	// Format 输出格式
	Format LogFormat

	// AddSource 是否添加源码位置
	AddSource bool
}

// LevelForSubsystem 获取指定子系统的日志级别
//
// 子系统名支持层级前缀匹配："transport" 的配置同样作用于 "transport/window"。
func (c *Config) LevelForSubsystem(subsystem string) slog.Level {
	name := subsystem
	for {
		if level, ok := c.SubsystemLevels[name]; ok {
			return level
		}
		idx := strings.LastIndexByte(name, '/')
		if idx < 0 {
			return c.DefaultLevel
		}
		name = name[:idx]
	}
}

var (
	configCache *Config
	configOnce  sync.Once
)

// ConfigFromEnv 从环境变量解析配置（进程内只解析一次）
func ConfigFromEnv() *Config {
	configOnce.Do(func() {
		configCache = parseConfig(os.Getenv)
	})
	return configCache
}

// parseConfig 解析环境变量配置
func parseConfig(getenv func(string) string) *Config {
	cfg := &Config{
		DefaultLevel:    slog.LevelInfo,
		SubsystemLevels: make(map[string]slog.Level),
		Format:          FormatText,
	}

	if levelStr := getenv(EnvLevel); levelStr != "" {
		ParseLevelConfig(cfg, levelStr)
	}

	if strings.EqualFold(getenv(EnvFormat), "json") {
		cfg.Format = FormatJSON
	}

	if v := getenv(EnvAddSource); v != "" {
		cfg.AddSource = v != "false" && v != "0"
	}

	return cfg
}

// ParseLevelConfig 解析日志级别配置字符串
//
// 格式: subsystem=level,subsystem=level,defaultLevel
// 无法识别的级别名会被忽略。
func ParseLevelConfig(cfg *Config, levelStr string) {
	for _, part := range strings.Split(levelStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		subsystem, levelName, found := strings.Cut(part, "=")
		if !found {
			if level, ok := ParseLevel(part); ok {
				cfg.DefaultLevel = level
			}
			continue
		}

		subsystem = strings.TrimSpace(subsystem)
		if level, ok := ParseLevel(strings.TrimSpace(levelName)); ok && subsystem != "" {
			cfg.SubsystemLevels[subsystem] = level
		}
	}
}

// ParseLevel 解析日志级别名称
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// ResetConfig 重置配置缓存（仅用于测试）
func ResetConfig() {
	configOnce = sync.Once{}
	configCache = nil
}
