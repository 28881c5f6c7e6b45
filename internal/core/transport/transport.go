package transport

import (
	"context"
	"fmt"

	"github.com/dep2p/go-xroute/internal/core/topology"
)

// Sender 平台报告的发送者身份
type Sender struct {
	// Origin 发送方的 origin
	Origin string

	// ExtensionID 发送方所属扩展（运行时通道可用）
	ExtensionID string

	// Instance 发送方实例（平台已知时）
	Instance topology.Instance
}

// String 实现 fmt.Stringer
func (s Sender) String() string {
	if s.ExtensionID != "" {
		return fmt.Sprintf("%s(ext:%s,%s)", s.Origin, s.ExtensionID, s.Instance)
	}
	return fmt.Sprintf("%s(%s)", s.Origin, s.Instance)
}

// Frame 出站帧
type Frame struct {
	// Data 编码后的信封
	Data []byte

	// Instance 对端实例（对端为多实例节点时使用）
	Instance topology.Instance
}

// Inbound 入站帧
type Inbound struct {
	Data   []byte
	Sender Sender
}

// Handle 一条边上的传输句柄
//
// 同一个 Handle 上的帧按发送顺序送达。Handle 只被创建它的路由器使用。
type Handle interface {
	// Edge 句柄对应的边
	Edge() topology.Edge

	// Send 发送一帧
	Send(ctx context.Context, f Frame) error

	// OnMessage 订阅入站帧，返回取消函数
	OnMessage(fn func(Inbound)) (cancel func())

	// ValidateSender 校验发送者是否是这条边的期望对端
	ValidateSender(s Sender) bool

	// Close 关闭句柄
	Close() error
}

// Strategy 传输策略
type Strategy interface {
	// Kind 策略类型
	Kind() topology.StrategyKind

	// Connect 为一条出边建立句柄
	Connect(ctx context.Context, edge topology.Edge) (Handle, error)
}

// ChannelName 一条有向边在共享通道上的标识
//
// 窗口与运行时通道都是共享的广播介质，帧带上 "from>to" 标识，
// 接收方只接受发给自己这条边的帧，自己发出的帧也因此被忽略。
func ChannelName(from, to topology.NodeName) string {
	return string(from) + ">" + string(to)
}

// ResolveOrigin 把 topology.OriginSelf 替换为本上下文的 origin
func ResolveOrigin(peerOrigin, selfOrigin string) string {
	if peerOrigin == topology.OriginSelf {
		return selfOrigin
	}
	return peerOrigin
}
