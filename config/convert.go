package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Format 配置文件格式
type Format string

const (
	// FormatYAML YAML 格式
	FormatYAML Format = "yaml"
	// FormatJSON JSON 格式
	FormatJSON Format = "json"
)

// FormatOf 按文件扩展名判断格式，未知扩展名按 YAML 处理
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// FromJSON 从 JSON 数据创建配置
//
// 未出现的路由器参数保持默认值。未知字段视为错误。
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// FromYAML 从 YAML 数据创建配置
func FromYAML(data []byte) (*Config, error) {
	cfg := NewConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Parse 按格式解析配置
func Parse(data []byte, format Format) (*Config, error) {
	switch format {
	case FormatJSON:
		return FromJSON(data)
	case FormatYAML, "":
		return FromYAML(data)
	default:
		return nil, fmt.Errorf("unknown config format: %s", format)
	}
}

// Load 从文件加载配置并验证
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data, FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Marshal 按格式序列化配置
func (c *Config) Marshal(format Format) ([]byte, error) {
	if c == nil {
		return nil, ErrNilConfig
	}
	if format == FormatJSON {
		return json.MarshalIndent(c, "", "  ")
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ApplyPreset 应用预设的路由器参数
//
// 支持的预设：
//   - "default": 默认参数
//   - "strict": 更小的跳数上限、入站限流与更大的去重窗口，适合面向不可信页面的上下文
//   - "test": 短超时与小队列，适合测试与演示
func ApplyPreset(cfg *Config, presetName string) error {
	if cfg == nil {
		return ErrNilConfig
	}

	switch presetName {
	case "", "default":
		cfg.Router = DefaultRouterConfig()
	case "strict":
		cfg.Router.MaxHops = 4
		cfg.Router.DedupSize = 4096
		cfg.Router.InboundRate = 200
		cfg.Router.InboundBurst = 50
	case "test":
		cfg.Router.DefaultTimeout = Duration(2 * time.Second)
		cfg.Router.InboxSize = 64
	default:
		return fmt.Errorf("unknown preset: %s", presetName)
	}
	return nil
}
