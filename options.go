package xroute

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-xroute/config"
	"github.com/dep2p/go-xroute/internal/core/introspect"
	"github.com/dep2p/go-xroute/internal/core/router"
	"github.com/dep2p/go-xroute/internal/core/topology"
	"github.com/dep2p/go-xroute/internal/core/transport"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// 声明式配置（拓扑 + 命令表 + 路由参数）
	config *config.Config

	// 直接提供的拓扑与命令表，优先于 config
	topology *topology.Topology
	schema   *Schema

	// 本上下文
	node     topology.NodeName
	instance topology.Instance
	peers    []topology.NodeName

	// 预设
	preset string

	// 路由参数覆盖
	router struct {
		defaultTimeout *time.Duration
		maxHops        *int
		codec          string
	}

	strategies []transport.Strategy
	handlers   []router.HandlerBinding

	// 经 hub 接入的运行时通道，为空时不使用
	bridge *BridgeConfig

	clock      clock.Clock
	registerer prometheus.Registerer

	// 自省服务监听地址，为空时不启动
	introspectAddr string

	// 输出 fx 事件日志
	fxEvents bool
}

func newOptions() *options {
	return &options{}
}

// ════════════════════════════════════════════════════════════════════════════
//                              拓扑与命令表
// ════════════════════════════════════════════════════════════════════════════

// WithConfig 使用声明式配置
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return config.ErrNilConfig
		}
		o.config = cfg.Clone()
		return nil
	}
}

// WithConfigFile 从 YAML / JSON 文件加载配置
func WithConfigFile(path string) Option {
	return func(o *options) error {
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		o.config = cfg
		return nil
	}
}

// WithTopology 直接提供拓扑，覆盖配置文件中的节点与边
func WithTopology(topo *Topology) Option {
	return func(o *options) error {
		if topo == nil {
			return ErrNoTopology
		}
		o.topology = topo
		return nil
	}
}

// WithSchema 直接提供命令表
func WithSchema(schema *Schema) Option {
	return func(o *options) error {
		o.schema = schema
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              本上下文
// ════════════════════════════════════════════════════════════════════════════

// WithNode 本上下文在拓扑中的节点名
func WithNode(name NodeName) Option {
	return func(o *options) error {
		if name == "" {
			return ErrNodeRequired
		}
		o.node = name
		return nil
	}
}

// WithInstance 本上下文所在的标签页 / 帧
func WithInstance(inst Instance) Option {
	return func(o *options) error {
		o.instance = inst
		return nil
	}
}

// WithPeers 除命令表推导之外需要预先解析路径的节点
func WithPeers(peers ...NodeName) Option {
	return func(o *options) error {
		o.peers = append(o.peers, peers...)
		return nil
	}
}

// WithStrategy 添加传输策略
//
// 每种策略类别最多一个，拓扑中没有对应策略的出边不会被连接。
func WithStrategy(s Strategy) Option {
	return func(o *options) error {
		if s == nil {
			return fmt.Errorf("nil strategy")
		}
		o.strategies = append(o.strategies, s)
		return nil
	}
}

// WithBridge 通过 websocket hub 接入扩展运行时
//
// 用于浏览器之外的上下文：运行时边经 hub 转发，hub 按握手时的 Origin
// 报告发送方身份。启动时拨号，关闭时断开。与运行时策略互斥。
func WithBridge(cfg BridgeConfig) Option {
	return func(o *options) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		o.bridge = &cfg
		return nil
	}
}

// WithHandler 注册命令处理器，在节点开始监听之前生效
func WithHandler(origins []NodeName, name string, h HandlerFunc) Option {
	return func(o *options) error {
		if h == nil {
			return fmt.Errorf("nil handler for %s", name)
		}
		o.handlers = append(o.handlers, router.HandlerBinding{Origins: origins, Command: name, Handler: h})
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              路由参数
// ════════════════════════════════════════════════════════════════════════════

// WithPreset 应用预设参数（default / strict / test）
func WithPreset(name string) Option {
	return func(o *options) error {
		o.preset = name
		return nil
	}
}

// WithDefaultTimeout 请求默认超时
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive: %s", d)
		}
		o.router.defaultTimeout = &d
		return nil
	}
}

// WithMaxHops 最大转发跳数
func WithMaxHops(n int) Option {
	return func(o *options) error {
		if n < 1 {
			return fmt.Errorf("max hops must be at least 1: %d", n)
		}
		o.router.maxHops = &n
		return nil
	}
}

// WithCodec 信封编解码器（proto / msgpack）
func WithCodec(name string) Option {
	return func(o *options) error {
		o.router.codec = name
		return nil
	}
}

// WithClock 替换时钟（测试使用）
func WithClock(c clock.Clock) Option {
	return func(o *options) error {
		o.clock = c
		return nil
	}
}

// WithRegisterer 指标注册表
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) error {
		o.registerer = reg
		return nil
	}
}

// WithIntrospect 在 addr 上启动本地自省服务（路由表、边状态、指标、pprof）
func WithIntrospect(addr string) Option {
	return func(o *options) error {
		if addr == "" {
			addr = introspect.DefaultAddr
		}
		o.introspectAddr = addr
		return nil
	}
}

// WithFxEvents 输出依赖注入事件日志（调试装配问题使用）
func WithFxEvents(enable bool) Option {
	return func(o *options) error {
		o.fxEvents = enable
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              单次发送选项
// ════════════════════════════════════════════════════════════════════════════

// WithConfirmReceipt 是否等待回执（默认 true）
//
// 关闭后，无返回值的命令在交给首跳后立即返回。
func WithConfirmReceipt(confirm bool) SendOption { return router.WithConfirmReceipt(confirm) }

// WithRequestTimeout 本次请求的超时
func WithRequestTimeout(d time.Duration) SendOption { return router.WithTimeout(d) }

// WithTarget 目的节点的实例（多实例节点必须指定）
func WithTarget(inst Instance) SendOption { return router.WithTarget(inst) }

// ════════════════════════════════════════════════════════════════════════════
//                              解析
// ════════════════════════════════════════════════════════════════════════════

// resolve 合并选项，得到拓扑、命令表与路由器配置
func (o *options) resolve() (*topology.Topology, *Schema, router.Config, error) {
	if o.node == "" {
		return nil, nil, router.Config{}, ErrNodeRequired
	}

	cfg := o.config
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if o.preset != "" {
		if err := config.ApplyPreset(cfg, o.preset); err != nil {
			return nil, nil, router.Config{}, err
		}
	}

	topo, schema := o.topology, o.schema
	if topo == nil {
		if o.config == nil {
			return nil, nil, router.Config{}, ErrNoTopology
		}
		built, builtSchema, err := cfg.Build()
		if err != nil {
			return nil, nil, router.Config{}, err
		}
		topo = built
		if schema == nil {
			schema = builtSchema
		}
	}

	rc := cfg.Router.ForNode(o.node, o.instance)
	if o.router.defaultTimeout != nil {
		rc.DefaultTimeout = *o.router.defaultTimeout
	}
	if o.router.maxHops != nil {
		rc.MaxHops = *o.router.maxHops
	}
	if o.router.codec != "" {
		rc.Codec = o.router.codec
	}
	rc.Peers = append(rc.Peers, o.peers...)

	if err := rc.Validate(); err != nil {
		return nil, nil, router.Config{}, err
	}
	return topo, schema, rc, nil
}
