// Package runtime 实现扩展运行时消息通道的传输策略
//
// 运行时通道按扩展身份与逻辑目的（节点、标签页、帧）寻址。
// 平台负责投递，并报告发送方的 origin、扩展 ID 与实例。
package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dep2p/go-xroute/internal/core/topology"
	"github.com/dep2p/go-xroute/internal/core/transport"
	"github.com/dep2p/go-xroute/internal/util/logger"
)

var log = logger.Logger("transport/runtime")

// ExtensionOriginPrefix 扩展页面 origin 前缀
const ExtensionOriginPrefix = "chrome-extension://"

// Destination 运行时消息的逻辑目的
type Destination struct {
	Node     topology.NodeName
	Instance topology.Instance
}

// Message 运行时通道上传递的数据
type Message struct {
	Channel string
	Data    []byte
}

// Port 平台运行时消息能力
type Port interface {
	// Origin 本上下文的 origin
	Origin() string

	// Send 发送到逻辑目的
	Send(dst Destination, msg Message) error

	// Listen 订阅发给本上下文的消息
	Listen(fn func(msg Message, sender transport.Sender)) (cancel func())
}

// ============================================================================
//                              Strategy
// ============================================================================

// Strategy 运行时传输策略
type Strategy struct {
	port        Port
	extensionID string
}

// New 创建运行时传输策略
//
// extensionID 是本扩展的 ID，用于校验来自扩展上下文的发送者。
func New(port Port, extensionID string) *Strategy {
	return &Strategy{port: port, extensionID: extensionID}
}

// Kind 实现 transport.Strategy
func (s *Strategy) Kind() topology.StrategyKind { return topology.StrategyRuntime }

// Connect 实现 transport.Strategy
func (s *Strategy) Connect(_ context.Context, edge topology.Edge) (transport.Handle, error) {
	if edge.Strategy != topology.StrategyRuntime {
		return nil, fmt.Errorf("%w: %s", transport.ErrStrategyMismatch, edge)
	}
	h := &handle{
		strategy:   s,
		edge:       edge,
		peerOrigin: transport.ResolveOrigin(edge.PeerOrigin, s.port.Origin()),
		outChannel: transport.ChannelName(edge.From, edge.To),
		inChannel:  transport.ChannelName(edge.To, edge.From),
	}
	log.Debug("运行时通道已建立", "edge", edge.String())
	return h, nil
}

// ============================================================================
//                              handle
// ============================================================================

type handle struct {
	strategy   *Strategy
	edge       topology.Edge
	peerOrigin string
	outChannel string
	inChannel  string

	mu      sync.Mutex
	cancels []func()
	closed  bool
}

var _ transport.Handle = (*handle)(nil)

func (h *handle) Edge() topology.Edge { return h.edge }

func (h *handle) Send(_ context.Context, f transport.Frame) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	dst := Destination{Node: h.edge.To, Instance: f.Instance}
	return h.strategy.port.Send(dst, Message{Channel: h.outChannel, Data: f.Data})
}

func (h *handle) OnMessage(fn func(transport.Inbound)) func() {
	cancel := h.strategy.port.Listen(func(msg Message, sender transport.Sender) {
		if msg.Channel != h.inChannel {
			return
		}
		fn(transport.Inbound{Data: msg.Data, Sender: sender})
	})

	h.mu.Lock()
	h.cancels = append(h.cancels, cancel)
	h.mu.Unlock()
	return cancel
}

// ValidateSender 校验发送方
//
// 对端是扩展页面时比较扩展 ID（内容脚本的 origin 是宿主页面），
// 否则比较 origin。
func (h *handle) ValidateSender(s transport.Sender) bool {
	if h.peerOrigin == "" {
		return !h.edge.SecureInbound
	}
	if id, ok := strings.CutPrefix(h.peerOrigin, ExtensionOriginPrefix); ok {
		return s.ExtensionID != "" && s.ExtensionID == id && id == h.strategy.extensionID
	}
	return s.Origin == h.peerOrigin
}

func (h *handle) Close() error {
	h.mu.Lock()
	cancels := h.cancels
	h.cancels = nil
	h.closed = true
	h.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	return nil
}
