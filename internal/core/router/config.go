package router

import (
	"fmt"
	"time"

	"github.com/dep2p/go-xroute/internal/core/envelope"
	"github.com/dep2p/go-xroute/internal/core/topology"
)

// Config 路由器配置
type Config struct {
	// Node 本节点名
	Node topology.NodeName

	// Instance 本上下文的实例（多实例节点使用）
	Instance topology.Instance

	// DefaultTimeout 未指定超时的请求使用的超时
	DefaultTimeout time.Duration

	// MaxHops 转发的最大跳数
	MaxHops int

	// Codec 信封编解码器名称（proto / msgpack）
	Codec string

	// InboxSize 入站队列长度
	InboxSize int

	// DedupSize 去重缓存容量（0 表示不去重）
	DedupSize int

	// InboundRate 每条边的入站速率上限（帧/秒，0 = 不限制）
	InboundRate float64

	// InboundBurst 入站突发上限
	InboundBurst int

	// Peers 除命令表推导之外，本节点还需要可达的节点
	Peers []topology.NodeName
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 30 * time.Second,
		MaxHops:        8,
		Codec:          envelope.CodecProto,
		InboxSize:      1024,
		DedupSize:      1024,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.Node == "" {
		return fmt.Errorf("%w: node name is required", ErrInvalidConfig)
	}
	if c.DefaultTimeout <= 0 {
		return fmt.Errorf("%w: default timeout must be positive", ErrInvalidConfig)
	}
	if c.MaxHops < 1 {
		return fmt.Errorf("%w: max hops must be at least 1", ErrInvalidConfig)
	}
	if c.InboxSize < 1 {
		return fmt.Errorf("%w: inbox size must be at least 1", ErrInvalidConfig)
	}
	if c.DedupSize < 0 || c.InboundRate < 0 || c.InboundBurst < 0 {
		return fmt.Errorf("%w: negative limits", ErrInvalidConfig)
	}
	if _, err := envelope.CodecByName(c.Codec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Clone 深拷贝
func (c Config) Clone() Config {
	out := c
	out.Peers = append([]topology.NodeName(nil), c.Peers...)
	return out
}
