package xroute

import (
	"github.com/dep2p/go-xroute/internal/core/command"
	"github.com/dep2p/go-xroute/internal/core/router"
	"github.com/dep2p/go-xroute/internal/core/topology"
	"github.com/dep2p/go-xroute/internal/core/transport"
	"github.com/dep2p/go-xroute/internal/core/transport/wsbridge"
)

// ════════════════════════════════════════════════════════════════════════════
//                              版本信息
// ════════════════════════════════════════════════════════════════════════════

// Version 当前版本
const Version = "v0.1.0"

// BuildInfo 构建信息（通过 ldflags 注入）
var (
	// GitCommit Git 提交哈希
	GitCommit string

	// BuildDate 构建日期
	BuildDate string
)

// VersionInfo 返回完整版本信息字符串
func VersionInfo() string {
	info := "xroute " + Version
	if GitCommit != "" {
		info += " (" + GitCommit[:min(8, len(GitCommit))] + ")"
	}
	if BuildDate != "" {
		info += " built " + BuildDate
	}
	return info
}

// ════════════════════════════════════════════════════════════════════════════
//                              类型别名
// ════════════════════════════════════════════════════════════════════════════

type (
	// NodeName 拓扑中的节点名
	NodeName = topology.NodeName

	// Instance 标签页 / 帧实例
	Instance = topology.Instance

	// Edge 有向边
	Edge = topology.Edge

	// Path 路由路径
	Path = topology.Path

	// Topology 拓扑
	Topology = topology.Topology

	// TopologyBuilder 拓扑构建器
	TopologyBuilder = topology.Builder

	// Schema 命令表
	Schema = command.Schema

	// CommandSpec 单个命令的描述
	CommandSpec = command.Spec

	// Shape 参数 / 响应形状
	Shape = command.Shape

	// Meta 调度时传给处理器的元信息
	Meta = command.Meta

	// HandlerFunc 命令处理器
	HandlerFunc = command.HandlerFunc

	// RemoteError 远端返回的错误
	RemoteError = router.RemoteError

	// SendOption 单次发送选项
	SendOption = router.SendOption

	// Strategy 传输策略
	Strategy = transport.Strategy

	// GateState 边的握手状态
	GateState = transport.GateState

	// BridgeConfig 经 websocket hub 接入扩展运行时的配置
	BridgeConfig = wsbridge.RemoteConfig
)

// 传输策略类别
const (
	StrategyRuntime = topology.StrategyRuntime
	StrategyWindow  = topology.StrategyWindow
)

// NewTopology 创建拓扑构建器
func NewTopology() *TopologyBuilder { return topology.NewBuilder() }

// NewSchema 创建空命令表
func NewSchema() *Schema { return command.NewSchema() }

// 形状构造
var (
	Any    = command.Any
	Object = command.Object
	Void   = command.Void
)

// TypeOf 必须能严格解码为 T 的形状
func TypeOf[T any]() Shape { return command.TypeOf[T]() }
