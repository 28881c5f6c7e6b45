// Package topology 定义消息路由的静态拓扑模型
//
// 拓扑由节点（逻辑执行上下文）与有向边组成。每条边描述发送端如何
// 到达对端：使用哪种传输策略、入站是否校验来源、出站是否固定目标 origin、
// 以及首条消息前是否需要握手。两个方向分别声明，安全属性可以不对称。
package topology

import (
	"fmt"
)

// NodeName 逻辑节点名，例如 "background"、"contentScript"
type NodeName string

// String 实现 fmt.Stringer
func (n NodeName) String() string { return string(n) }

// StrategyKind 传输策略类型
type StrategyKind string

const (
	// StrategyWindow 同窗口 / iframe 之间的 postMessage 通道
	StrategyWindow StrategyKind = "window"

	// StrategyRuntime 扩展内部（及外部可连接网页）的运行时消息通道
	StrategyRuntime StrategyKind = "runtime"
)

// Valid 检查策略类型是否受支持
func (k StrategyKind) Valid() bool {
	switch k {
	case StrategyWindow, StrategyRuntime:
		return true
	default:
		return false
	}
}

// OriginSelf 表示"与本上下文同源"
//
// 页面脚本与内容脚本共享页面 origin，但该 origin 在配置时未知，
// 由窗口策略在运行时用自身 origin 替换。
const OriginSelf = "self"

// Instance 节点实例的路由元数据（标签页 / 帧）
//
// 同一节点可以有多个运行时实例（例如每个标签页一个内容脚本），
// 实例身份只作为路由元数据携带，不构成独立的拓扑节点。
type Instance struct {
	TabID   int `json:"tabId,omitempty" yaml:"tabId,omitempty" msgpack:"t,omitempty"`
	FrameID int `json:"frameId,omitempty" yaml:"frameId,omitempty" msgpack:"f,omitempty"`
}

// IsZero 是否未指定实例
func (i Instance) IsZero() bool { return i.TabID == 0 && i.FrameID == 0 }

// String 实现 fmt.Stringer
func (i Instance) String() string {
	if i.IsZero() {
		return "-"
	}
	return fmt.Sprintf("tab:%d/frame:%d", i.TabID, i.FrameID)
}

// Node 节点声明
type Node struct {
	Name NodeName

	// Instanced 节点在运行时可能存在多个实例，发往它的消息需要目标实例
	Instanced bool
}

// Edge 有向边：From 如何与 To 通信
type Edge struct {
	From NodeName
	To   NodeName

	// Strategy 使用的传输策略
	Strategy StrategyKind

	// SecureInbound From 端必须校验来自 To 的消息来源
	SecureInbound bool

	// SecureOutbound From 端发送时固定目标 origin，不使用 "*"
	SecureOutbound bool

	// WaitForReady 首条业务消息前必须等待对端就绪信号
	WaitForReady bool

	// PeerOrigin To 端的期望 origin（OriginSelf 表示同源）
	PeerOrigin string
}

// Secure 两个方向的安全属性是否都开启
func (e Edge) Secure() bool { return e.SecureInbound && e.SecureOutbound }

// String 实现 fmt.Stringer
func (e Edge) String() string {
	return fmt.Sprintf("%s->%s(%s)", e.From, e.To, e.Strategy)
}
