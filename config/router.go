package config

import (
	"github.com/dep2p/go-xroute/internal/core/router"
	"github.com/dep2p/go-xroute/internal/core/topology"
)

// RouterConfig 路由器参数
type RouterConfig struct {
	// DefaultTimeout 默认请求超时
	DefaultTimeout Duration `json:"defaultTimeout,omitempty" yaml:"defaultTimeout,omitempty"`

	// MaxHops 最大中继跳数
	MaxHops int `json:"maxHops,omitempty" yaml:"maxHops,omitempty"`

	// Codec 信封编解码器：proto（默认）或 msgpack
	Codec string `json:"codec,omitempty" yaml:"codec,omitempty"`

	// InboxSize 入站队列长度
	InboxSize int `json:"inboxSize,omitempty" yaml:"inboxSize,omitempty"`

	// DedupSize 去重缓存容量，0 关闭去重
	DedupSize int `json:"dedupSize" yaml:"dedupSize"`

	// InboundRate 每条边每秒允许的入站帧数，0 不限制
	InboundRate float64 `json:"inboundRate,omitempty" yaml:"inboundRate,omitempty"`

	// InboundBurst 入站突发上限
	InboundBurst int `json:"inboundBurst,omitempty" yaml:"inboundBurst,omitempty"`
}

// DefaultRouterConfig 默认路由器参数
func DefaultRouterConfig() RouterConfig {
	d := router.DefaultConfig()
	return RouterConfig{
		DefaultTimeout: Duration(d.DefaultTimeout),
		MaxHops:        d.MaxHops,
		Codec:          d.Codec,
		InboxSize:      d.InboxSize,
		DedupSize:      d.DedupSize,
		InboundRate:    d.InboundRate,
		InboundBurst:   d.InboundBurst,
	}
}

// ForNode 生成指定节点的路由器配置
func (c RouterConfig) ForNode(node topology.NodeName, inst topology.Instance) router.Config {
	return router.Config{
		Node:           node,
		Instance:       inst,
		DefaultTimeout: c.DefaultTimeout.Duration(),
		MaxHops:        c.MaxHops,
		Codec:          c.Codec,
		InboxSize:      c.InboxSize,
		DedupSize:      c.DedupSize,
		InboundRate:    c.InboundRate,
		InboundBurst:   c.InboundBurst,
	}
}

// Validate 验证参数
func (c RouterConfig) Validate() error {
	// 节点名与参数无关，用占位名走同一套校验
	return c.ForNode("-", topology.Instance{}).Validate()
}
