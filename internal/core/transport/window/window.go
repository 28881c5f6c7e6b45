// Package window 实现同窗口 / iframe 的 postMessage 传输策略
//
// 窗口通道是广播介质：同一窗口上的所有监听者都会收到消息，包括发送者
// 自己。每帧携带边标识，只有发给本边的帧才会交给路由器。
package window

import (
	"context"
	"fmt"
	"sync"

	"github.com/dep2p/go-xroute/internal/core/topology"
	"github.com/dep2p/go-xroute/internal/core/transport"
	"github.com/dep2p/go-xroute/internal/util/logger"
)

var log = logger.Logger("transport/window")

// AnyOrigin postMessage 的通配目标 origin
const AnyOrigin = "*"

// Target 窗口引用
type Target interface {
	// WindowID 窗口的稳定标识
	WindowID() string
}

// Message 窗口上传递的数据
type Message struct {
	Channel string
	Data    []byte
}

// MessageEvent 入站消息事件
type MessageEvent struct {
	Message Message

	// Origin 平台报告的发送方 origin
	Origin string

	// Source 发送方窗口引用
	Source Target
}

// Port 平台窗口能力
type Port interface {
	// Origin 本上下文的 origin
	Origin() string

	// Post 向目标窗口投递消息；targetOrigin 不匹配时平台静默丢弃
	Post(target Target, msg Message, targetOrigin string) error

	// Listen 订阅本窗口上的消息事件
	Listen(fn func(MessageEvent)) (cancel func())
}

// ============================================================================
//                              Strategy
// ============================================================================

// Strategy 窗口传输策略
type Strategy struct {
	port     Port
	instance topology.Instance

	mu    sync.RWMutex
	peers map[topology.NodeName]Target
}

// Option 策略选项
type Option func(*Strategy)

// WithPeer 预先提供对端窗口引用
//
// 未提供时对端在收到第一条通过校验的消息后才被获知。
func WithPeer(node topology.NodeName, target Target) Option {
	return func(s *Strategy) { s.peers[node] = target }
}

// WithInstance 本上下文所在的标签页 / 帧
//
// 窗口通道不跨标签页，对端发来的消息都带上这个实例。
func WithInstance(inst topology.Instance) Option {
	return func(s *Strategy) { s.instance = inst }
}

// New 创建窗口传输策略
func New(port Port, opts ...Option) *Strategy {
	s := &Strategy{
		port:  port,
		peers: make(map[topology.NodeName]Target),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Kind 实现 transport.Strategy
func (s *Strategy) Kind() topology.StrategyKind { return topology.StrategyWindow }

// Connect 实现 transport.Strategy
func (s *Strategy) Connect(_ context.Context, edge topology.Edge) (transport.Handle, error) {
	if edge.Strategy != topology.StrategyWindow {
		return nil, fmt.Errorf("%w: %s", transport.ErrStrategyMismatch, edge)
	}

	s.mu.RLock()
	peer := s.peers[edge.To]
	s.mu.RUnlock()

	h := &handle{
		strategy:   s,
		edge:       edge,
		peerOrigin: transport.ResolveOrigin(edge.PeerOrigin, s.port.Origin()),
		outChannel: transport.ChannelName(edge.From, edge.To),
		inChannel:  transport.ChannelName(edge.To, edge.From),
		peer:       peer,
	}
	log.Debug("窗口通道已建立", "edge", edge.String(), "peerKnown", peer != nil)
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

	mu      sync.RWMutex
	peer    Target
	cancels []func()
	closed  bool
}

var _ transport.Handle = (*handle)(nil)

func (h *handle) Edge() topology.Edge { return h.edge }

func (h *handle) Send(_ context.Context, f transport.Frame) error {
	h.mu.RLock()
	peer, closed := h.peer, h.closed
	h.mu.RUnlock()

	if closed {
		return transport.ErrClosed
	}
	if peer == nil {
		return fmt.Errorf("%w: %s", transport.ErrPeerUnknown, h.edge)
	}

	targetOrigin := AnyOrigin
	if h.edge.SecureOutbound {
		targetOrigin = h.peerOrigin
	}
	return h.strategy.port.Post(peer, Message{Channel: h.outChannel, Data: f.Data}, targetOrigin)
}

func (h *handle) OnMessage(fn func(transport.Inbound)) func() {
	cancel := h.strategy.port.Listen(func(ev MessageEvent) {
		if ev.Message.Channel != h.inChannel {
			return
		}
		sender := transport.Sender{Origin: ev.Origin, Instance: h.strategy.instance}
		h.maybeBindPeer(ev.Source, sender)
		fn(transport.Inbound{Data: ev.Message.Data, Sender: sender})
	})

	h.mu.Lock()
	h.cancels = append(h.cancels, cancel)
	h.mu.Unlock()
	return cancel
}

// maybeBindPeer 懒发现对端窗口
//
// 安全入站边只接受通过校验的发送者作为对端。
func (h *handle) maybeBindPeer(src Target, sender transport.Sender) {
	if src == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.peer != nil {
		return
	}
	if h.edge.SecureInbound && !h.validate(sender) {
		return
	}
	h.peer = src
	log.Debug("已获知对端窗口", "edge", h.edge.String(), "window", src.WindowID())
}

func (h *handle) ValidateSender(s transport.Sender) bool {
	return h.validate(s)
}

func (h *handle) validate(s transport.Sender) bool {
	if h.peerOrigin == "" {
		return !h.edge.SecureInbound
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
