package xroute

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-xroute/internal/core/command"
	"github.com/dep2p/go-xroute/internal/core/introspect"
	"github.com/dep2p/go-xroute/internal/core/router"
	"github.com/dep2p/go-xroute/internal/util/logger"
)

var log = logger.Logger("xroute")

// ════════════════════════════════════════════════════════════════════════════
//                              节点状态
// ════════════════════════════════════════════════════════════════════════════

// NodeState 节点状态
type NodeState int

const (
	// StateIdle 已创建，未启动
	StateIdle NodeState = iota

	// StateRunning 已建立边并开始监听
	StateRunning

	// StateStopped 已关闭，不可重新启动
	StateStopped
)

// String 返回状态的字符串表示
func (s NodeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// stopTimeout 关闭时等待 OnStop 钩子的时间
const stopTimeout = 5 * time.Second

// ════════════════════════════════════════════════════════════════════════════
//                              Node
// ════════════════════════════════════════════════════════════════════════════

// Node 一个执行上下文中的路由节点
//
// Node 是用户交互的主入口：注册处理器、发送命令、管理生命周期。
// 节点内部是一个由 Fx 装配的路由器。
type Node struct {
	mu     sync.Mutex
	app    *fx.App
	router *router.Router
	state  NodeState

	introspect *introspect.Server
}

// New 创建新节点
//
// 创建节点但不启动，需要调用 Start() 启动。构造时解析本节点需要到达的
// 所有路径，拓扑中不可达的对端会在这里报错。
//
// 示例：
//
//	node, err := xroute.New(
//	    xroute.WithConfigFile("xroute.yaml"),
//	    xroute.WithNode("background"),
//	    xroute.WithStrategy(runtimeStrategy),
//	)
func New(opts ...Option) (*Node, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	app, r, srv, err := buildFxApp(o)
	if err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	return &Node{app: app, router: r, introspect: srv}, nil
}

// Start 快捷启动函数
//
// 创建节点并立即启动，等价于 New() + Start()。
// 处理器需要通过 WithHandler 提供。
func Start(ctx context.Context, opts ...Option) (*Node, error) {
	node, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := node.Start(ctx); err != nil {
		_ = node.Close()
		return nil, fmt.Errorf("start node: %w", err)
	}
	return node, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              基本信息
// ════════════════════════════════════════════════════════════════════════════

// Name 本节点名
func (n *Node) Name() NodeName { return n.router.Node() }

// Instance 本上下文的实例
func (n *Node) Instance() Instance { return n.router.Instance() }

// Topology 节点使用的拓扑
func (n *Node) Topology() *Topology { return n.router.Topology() }

// Schema 节点使用的命令表
func (n *Node) Schema() *Schema { return n.router.Schema() }

// State 当前状态
func (n *Node) State() NodeState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Route 到 dst 的路径
func (n *Node) Route(dst NodeName) (Path, error) { return n.router.Route(dst) }

// Routes 已解析的全部路径
func (n *Node) Routes() map[NodeName]Path { return n.router.Routes() }

// EdgeState 与相邻节点之间的边的握手状态
func (n *Node) EdgeState(peer NodeName) (GateState, bool) { return n.router.EdgeState(peer) }

// Router 底层路由器
func (n *Node) Router() *router.Router { return n.router }

// IntrospectAddr 自省服务的实际监听地址，未启用时为空
func (n *Node) IntrospectAddr() string {
	if n.introspect == nil {
		return ""
	}
	return n.introspect.Addr()
}

// Commands 本节点已注册处理器的命令
func (n *Node) Commands() []string { return n.router.Registry().List() }

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期
// ════════════════════════════════════════════════════════════════════════════

// Start 启动节点
//
// 建立每条出边的传输句柄，然后开始处理入站消息。需要握手的边在对端
// 回应之前缓存出站帧。Start 之后不能再注册处理器。
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.state {
	case StateRunning:
		return ErrAlreadyStarted
	case StateStopped:
		return ErrNodeClosed
	}

	if err := n.app.Start(ctx); err != nil {
		return err
	}
	n.state = StateRunning
	log.Info("节点已启动", "node", n.router.Node(), "routes", len(n.router.Routes()))
	return nil
}

// Close 关闭节点
//
// 失败所有待处理请求（ErrRouterClosed），关闭全部传输句柄。可重复调用。
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	prev := n.state
	if prev == StateStopped {
		return nil
	}
	n.state = StateStopped

	if prev == StateIdle {
		// 未启动时 OnStop 不会执行
		return n.router.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	err := n.app.Stop(ctx)
	log.Info("节点已关闭", "node", n.router.Node())
	return err
}

// ════════════════════════════════════════════════════════════════════════════
//                              命令
// ════════════════════════════════════════════════════════════════════════════

// AddCommandHandler 注册命令处理器
//
// 只能在 Start 之前调用。origins 必须是命令表中该命令允许来源的子集。
func (n *Node) AddCommandHandler(origins []NodeName, name string, h HandlerFunc) error {
	if n.State() != StateIdle {
		return fmt.Errorf("%w: handlers must be registered before start", ErrAlreadyStarted)
	}
	return n.router.AddCommandHandler(origins, name, h)
}

// SendCommand 向 dest 发送命令并等待响应
//
// args 按 JSON 编码；json.RawMessage 与 []byte 原样发送。
func (n *Node) SendCommand(ctx context.Context, dest NodeName, name string, args any, opts ...SendOption) (json.RawMessage, error) {
	switch n.State() {
	case StateIdle:
		return nil, ErrNotStarted
	case StateStopped:
		return nil, ErrNodeClosed
	}
	return n.router.SendCommand(ctx, dest, name, args, opts...)
}

// Handle 以强类型注册处理器
//
// 参数按严格 JSON 解码为 A，返回值按 JSON 编码。
func Handle[A, R any](n *Node, origins []NodeName, name string, fn func(ctx context.Context, args A, meta Meta) (R, error)) error {
	return n.AddCommandHandler(origins, name, command.Typed(fn))
}

// Call 以强类型发送命令
func Call[R any](ctx context.Context, n *Node, dest NodeName, name string, args any, opts ...SendOption) (R, error) {
	raw, err := n.SendCommand(ctx, dest, name, args, opts...)
	if err != nil {
		var zero R
		return zero, err
	}
	return command.Decode[R](raw)
}
