package wsbridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dep2p/go-xroute/internal/core/topology"
	"github.com/dep2p/go-xroute/internal/core/transport"
	"github.com/dep2p/go-xroute/internal/core/transport/runtime"
)

// ============================================================================
//                              远端端口
// ============================================================================

// RemoteConfig 通过 hub 接入的上下文配置
type RemoteConfig struct {
	// URL hub 地址，形如 ws://127.0.0.1:8787/bridge
	URL string

	// Origin 握手时发送的 Origin 头，也是对端看到的发送方 origin
	Origin string

	// ExtensionID 扩展 ID，用于校验来自扩展上下文的发送者
	ExtensionID string

	// DialTimeout 拨号超时，0 表示只受启动 ctx 约束
	DialTimeout time.Duration
}

// Validate 校验配置
func (c RemoteConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: missing url", ErrBadIdentity)
	}
	if c.Origin == "" {
		return fmt.Errorf("%w: missing origin", ErrBadIdentity)
	}
	return nil
}

// Remote 在 Connect 时才拨号的运行时端口
//
// 路由器在构造阶段就需要端口，连接则要等到节点启动。Connect 之前
// 注册的监听器在连接建立后生效；Send 在连接建立之前返回 ErrNotConnected。
type Remote struct {
	cfg  RemoteConfig
	node topology.NodeName
	inst topology.Instance

	mu        sync.RWMutex
	client    *Client
	nextID    int
	listeners map[int]func(runtime.Message, transport.Sender)
}

var _ runtime.Port = (*Remote)(nil)

// NewRemote 创建远端端口（未连接）
func NewRemote(cfg RemoteConfig, node topology.NodeName, inst topology.Instance) *Remote {
	return &Remote{
		cfg:       cfg,
		node:      node,
		inst:      inst,
		listeners: make(map[int]func(runtime.Message, transport.Sender)),
	}
}

// Connect 拨号 hub，重复调用无副作用
func (r *Remote) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return nil
	}

	if r.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.DialTimeout)
		defer cancel()
	}
	c, err := Dial(ctx, r.cfg.URL, r.node, r.inst, r.cfg.Origin)
	if err != nil {
		return err
	}
	c.Listen(r.dispatch)
	r.client = c

	go func() {
		<-c.Done()
		log.Warn("与 hub 的连接已断开", "node", r.node, "url", r.cfg.URL)
	}()
	log.Info("已连接 hub", "node", r.node, "instance", r.inst.String(), "url", r.cfg.URL)
	return nil
}

// Close 断开连接
func (r *Remote) Close() error {
	r.mu.Lock()
	c := r.client
	r.client = nil
	r.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

// Origin 实现 runtime.Port
func (r *Remote) Origin() string { return r.cfg.Origin }

// Send 实现 runtime.Port
func (r *Remote) Send(dst runtime.Destination, msg runtime.Message) error {
	r.mu.RLock()
	c := r.client
	r.mu.RUnlock()
	if c == nil {
		return ErrNotConnected
	}
	return c.Send(dst, msg)
}

// Listen 实现 runtime.Port
func (r *Remote) Listen(fn func(runtime.Message, transport.Sender)) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

func (r *Remote) dispatch(msg runtime.Message, from transport.Sender) {
	r.mu.RLock()
	fns := make([]func(runtime.Message, transport.Sender), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.RUnlock()

	for _, fn := range fns {
		fn(msg, from)
	}
}
