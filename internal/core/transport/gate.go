package transport

import (
	"context"
	"sync"

	"go.uber.org/multierr"
)

// GateState 就绪状态
type GateState int32

const (
	// GateConnecting 等待对端就绪，发送被缓存
	GateConnecting GateState = iota
	// GateReady 直接发送
	GateReady
	// GateClosed 已关闭
	GateClosed
)

// String 实现 fmt.Stringer
func (s GateState) String() string {
	switch s {
	case GateConnecting:
		return "connecting"
	case GateReady:
		return "ready"
	case GateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SendFunc 底层发送函数
type SendFunc func(ctx context.Context, f Frame) error

// Gate 一条边的就绪状态机 Connecting -> Ready
//
// Connecting 状态下的发送按序缓存；转为 Ready 时在同一把锁内依次刷出，
// 刷出期间新的发送会等待，因此不会插队。Ready 之后的发送同样在锁内
// 进行，保证单边 FIFO。
type Gate struct {
	send SendFunc

	mu      sync.Mutex
	state   GateState
	queue   []Frame
	readyCh chan struct{}
}

// NewGate 创建状态机；needsHandshake 为 false 时直接处于 Ready
func NewGate(send SendFunc, needsHandshake bool) *Gate {
	g := &Gate{
		send:    send,
		readyCh: make(chan struct{}),
	}
	if !needsHandshake {
		g.state = GateReady
		close(g.readyCh)
	}
	return g
}

// Send 发送或缓存一帧
func (g *Gate) Send(ctx context.Context, f Frame) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case GateClosed:
		return ErrClosed
	case GateConnecting:
		f.Data = append([]byte(nil), f.Data...)
		g.queue = append(g.queue, f)
		return nil
	default:
		return g.send(ctx, f)
	}
}

// MarkReady 转为 Ready 并刷出缓存
//
// 返回刷出的帧数以及发送过程中的错误（逐帧收集，不中断）。
// 已经 Ready 或已关闭时为空操作。
func (g *Gate) MarkReady(ctx context.Context) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != GateConnecting {
		return 0, nil
	}
	var errs error
	for _, f := range g.queue {
		errs = multierr.Append(errs, g.send(ctx, f))
	}
	n := len(g.queue)
	g.queue = nil
	g.state = GateReady
	close(g.readyCh)
	return n, errs
}

// State 当前状态
func (g *Gate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Ready 就绪时关闭的通道
func (g *Gate) Ready() <-chan struct{} { return g.readyCh }

// Queued 缓存的帧数
func (g *Gate) Queued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// Close 关闭状态机，丢弃缓存并返回丢弃数
func (g *Gate) Close() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := len(g.queue)
	g.queue = nil
	g.state = GateClosed
	return n
}
