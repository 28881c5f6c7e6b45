// Package memnet 提供进程内的浏览器模型
//
// Browser 同时实现窗口端口与扩展运行时端口，行为贴近真实平台：
// 窗口消息按 targetOrigin 过滤并广播给窗口上的全部监听者，运行时消息
// 按节点与实例寻址，平台如实报告发送方身份。每个窗口、每个运行时上下文
// 都有独立的有序投递队列。
package memnet

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-xroute/internal/core/topology"
	"github.com/dep2p/go-xroute/internal/core/transport"
	"github.com/dep2p/go-xroute/internal/core/transport/runtime"
	"github.com/dep2p/go-xroute/internal/core/transport/window"
	"github.com/dep2p/go-xroute/internal/util/logger"
)

var log = logger.Logger("transport/memnet")

// Browser 进程内浏览器
type Browser struct {
	extensionID string

	nextWindow atomic.Int64

	mu       sync.RWMutex
	windows  []*Window
	contexts map[topology.NodeName][]*Endpoint
	closed   bool
}

// NewBrowser 创建浏览器模型
func NewBrowser(extensionID string) *Browser {
	return &Browser{
		extensionID: extensionID,
		contexts:    make(map[topology.NodeName][]*Endpoint),
	}
}

// ExtensionID 扩展 ID
func (b *Browser) ExtensionID() string { return b.extensionID }

// ExtensionOrigin 扩展页面 origin
func (b *Browser) ExtensionOrigin() string {
	return runtime.ExtensionOriginPrefix + b.extensionID
}

// Close 停止所有投递队列
func (b *Browser) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	windows := b.windows
	var contexts []*Endpoint
	for _, cs := range b.contexts {
		contexts = append(contexts, cs...)
	}
	b.mu.Unlock()

	for _, w := range windows {
		w.box.close()
	}
	for _, c := range contexts {
		c.box.close()
	}
}

// ============================================================================
//                              窗口
// ============================================================================

// Window 一个浏览器窗口（页面或 iframe）
//
// 同一窗口中的多个上下文（例如页面脚本与内容脚本）共用一个 Window，
// 它们都会收到投递到该窗口的消息。
type Window struct {
	browser *Browser
	id      string
	origin  string

	box  *mailbox
	subs listeners[func(window.MessageEvent)]
}

// NewWindow 打开一个窗口
func (b *Browser) NewWindow(origin string) *Window {
	w := &Window{
		browser: b,
		id:      fmt.Sprintf("win-%d", b.nextWindow.Add(1)),
		origin:  origin,
		box:     newMailbox(),
	}
	b.mu.Lock()
	b.windows = append(b.windows, w)
	b.mu.Unlock()
	return w
}

var (
	_ window.Port   = (*Window)(nil)
	_ window.Target = (*Window)(nil)
)

// WindowID 实现 window.Target
func (w *Window) WindowID() string { return w.id }

// Origin 实现 window.Port
func (w *Window) Origin() string { return w.origin }

// Post 实现 window.Port：从本窗口向目标窗口投递
func (w *Window) Post(target window.Target, msg window.Message, targetOrigin string) error {
	tw, ok := target.(*Window)
	if !ok || tw.browser != w.browser {
		return fmt.Errorf("%w: foreign window %v", transport.ErrNoReceiver, target)
	}
	// 与浏览器一致：targetOrigin 不匹配时静默丢弃
	if targetOrigin != window.AnyOrigin && targetOrigin != tw.origin {
		log.Debug("targetOrigin 不匹配，消息被平台丢弃", "target", tw.origin, "want", targetOrigin)
		return nil
	}

	ev := window.MessageEvent{
		Message: window.Message{Channel: msg.Channel, Data: append([]byte(nil), msg.Data...)},
		Origin:  w.origin,
		Source:  w,
	}
	tw.box.put(func() {
		for _, fn := range tw.subs.snapshot() {
			fn(ev)
		}
	})
	return nil
}

// Listen 实现 window.Port
func (w *Window) Listen(fn func(window.MessageEvent)) func() {
	return w.subs.add(fn)
}

// ============================================================================
//                              运行时上下文
// ============================================================================

// Endpoint 一个参与运行时消息的上下文
type Endpoint struct {
	browser  *Browser
	node     topology.NodeName
	instance topology.Instance
	origin   string
	sender   transport.Sender

	box  *mailbox
	subs listeners[func(runtime.Message, transport.Sender)]
}

var _ runtime.Port = (*Endpoint)(nil)

// Runtime 注册一个运行时上下文
//
// origin 为扩展 origin 时平台报告扩展 ID；内容脚本的 origin 是宿主页面，
// 但同样属于扩展，用 extension=true 标记。
func (b *Browser) Runtime(node topology.NodeName, inst topology.Instance, origin string, extension bool) *Endpoint {
	c := &Endpoint{
		browser:  b,
		node:     node,
		instance: inst,
		origin:   origin,
		box:      newMailbox(),
	}
	c.sender = transport.Sender{Origin: origin, Instance: inst}
	if extension || origin == b.ExtensionOrigin() {
		c.sender.ExtensionID = b.extensionID
	}

	b.mu.Lock()
	b.contexts[node] = append(b.contexts[node], c)
	b.mu.Unlock()
	return c
}

// Origin 实现 runtime.Port
func (c *Endpoint) Origin() string { return c.origin }

// Send 实现 runtime.Port
func (c *Endpoint) Send(dst runtime.Destination, msg runtime.Message) error {
	target, err := c.browser.resolve(dst)
	if err != nil {
		return err
	}
	data := append([]byte(nil), msg.Data...)
	sender := c.sender
	target.box.put(func() {
		for _, fn := range target.subs.snapshot() {
			fn(runtime.Message{Channel: msg.Channel, Data: data}, sender)
		}
	})
	return nil
}

// Listen 实现 runtime.Port
func (c *Endpoint) Listen(fn func(runtime.Message, transport.Sender)) func() {
	return c.subs.add(fn)
}

// resolve 查找目的上下文
//
// 先精确匹配实例，其次匹配同标签页的顶层帧；未指定实例时要求该节点
// 只有一个实例。
func (b *Browser) resolve(dst runtime.Destination) (*Endpoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, transport.ErrClosed
	}
	cands := b.contexts[dst.Node]
	if len(cands) == 0 {
		return nil, fmt.Errorf("%w: %s", transport.ErrNoReceiver, dst.Node)
	}
	if dst.Instance.IsZero() {
		if len(cands) > 1 {
			return nil, fmt.Errorf("%w: %s has %d instances", transport.ErrInstanceRequired, dst.Node, len(cands))
		}
		return cands[0], nil
	}
	for _, c := range cands {
		if c.instance == dst.Instance {
			return c, nil
		}
	}
	for _, c := range cands {
		if c.instance.TabID == dst.Instance.TabID && c.instance.FrameID == 0 {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s@%s", transport.ErrNoReceiver, dst.Node, dst.Instance)
}
