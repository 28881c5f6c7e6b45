// Package router 实现单个上下文的路由器核心
//
// 路由器持有本节点身份、相邻边的传输句柄、命令处理器注册表与待处理请求表，
// 负责发送、转发、调度与响应关联。每个执行上下文只有一个路由器实例，
// 所有状态都是实例私有的。
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-xroute/internal/core/command"
	"github.com/dep2p/go-xroute/internal/core/envelope"
	"github.com/dep2p/go-xroute/internal/core/topology"
	"github.com/dep2p/go-xroute/internal/core/transport"
	"github.com/dep2p/go-xroute/internal/util/logger"
)

// 包级别日志实例
var log = logger.Logger("router")

// Params 路由器依赖
type Params struct {
	// Topology 全局拓扑
	Topology *topology.Topology

	// Schema 全局命令表
	Schema *command.Schema

	// Strategies 本上下文可用的传输策略，每种类型至多一个
	Strategies []transport.Strategy

	// Clock 时钟（可选，测试注入 mock）
	Clock clock.Clock

	// Registerer 指标注册表（可选，缺省使用私有注册表）
	Registerer prometheus.Registerer
}

// edgeState 一条已连接的相邻边
type edgeState struct {
	edge    topology.Edge
	handle  transport.Handle
	gate    *transport.Gate
	limiter *transport.Limiter
	cancel  func()
}

// inboundItem 入站队列元素
type inboundItem struct {
	edge *edgeState
	in   transport.Inbound
}

// Router 路由器核心
type Router struct {
	cfg        Config
	self       topology.NodeName
	topo       *topology.Topology
	schema     *command.Schema
	strategies map[topology.StrategyKind]transport.Strategy
	finder     *topology.PathFinder
	codec      envelope.Codec
	clock      clock.Clock
	registry   *command.Registry
	seen       *lru.Cache[string, struct{}]
	metrics    *metrics
	log        *slog.Logger

	routesMu sync.RWMutex
	routes   map[topology.NodeName]topology.Path

	edgesMu sync.RWMutex
	edges   map[topology.NodeName]*edgeState

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	inbox  chan inboundItem
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started   atomic.Bool
	listening atomic.Bool
	closed    atomic.Bool
}

// New 创建路由器
//
// 构造时解析本节点需要到达的所有目的节点的路径，任何一个不可达都会
// 返回 NoRouteError，不会等到第一次发送。
func New(cfg Config, p Params) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if p.Topology == nil {
		return nil, fmt.Errorf("%w: topology is required", ErrInvalidConfig)
	}
	if p.Schema == nil {
		p.Schema = command.NewSchema()
	}
	if !p.Topology.HasNode(cfg.Node) {
		return nil, fmt.Errorf("%w: %s", topology.ErrUnknownNode, cfg.Node)
	}
	if err := p.Schema.Validate(p.Topology); err != nil {
		return nil, err
	}
	if p.Clock == nil {
		p.Clock = clock.New()
	}
	if p.Registerer == nil {
		p.Registerer = prometheus.NewRegistry()
	}

	strategies := make(map[topology.StrategyKind]transport.Strategy, len(p.Strategies))
	for _, s := range p.Strategies {
		if s == nil {
			continue
		}
		if _, dup := strategies[s.Kind()]; dup {
			return nil, fmt.Errorf("%w: duplicate %s strategy", ErrInvalidConfig, s.Kind())
		}
		strategies[s.Kind()] = s
	}

	codec, err := envelope.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	r := &Router{
		cfg:        cfg.Clone(),
		self:       cfg.Node,
		topo:       p.Topology,
		schema:     p.Schema,
		strategies: strategies,
		codec:      codec,
		clock:      p.Clock,
		registry:   command.NewRegistry(cfg.Node, p.Schema),
		log:        logger.ForNode("router", string(cfg.Node)),
		routes:     make(map[topology.NodeName]topology.Path),
		edges:      make(map[topology.NodeName]*edgeState),
		pending:    make(map[string]*pendingRequest),
		inbox:      make(chan inboundItem, cfg.InboxSize),
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.finder = topology.NewPathFinder(p.Topology,
		topology.WithEdgeFilter(r.edgeUsable),
		topology.WithPreference(r.edgePreferred),
	)

	if cfg.DedupSize > 0 {
		r.seen, err = lru.New[string, struct{}](cfg.DedupSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	labels := prometheus.Labels{"node": string(cfg.Node), "instance": cfg.Instance.String()}
	r.metrics, err = newMetrics(p.Registerer, labels, r.queuedFrames)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	if err := r.resolveRoutes(); err != nil {
		return nil, err
	}
	return r, nil
}

// resolveRoutes 预先解析命令表推导出的对端与显式配置的对端
func (r *Router) resolveRoutes() error {
	peers := append(r.schema.Peers(r.self), r.cfg.Peers...)
	var errs error
	for _, dst := range peers {
		if dst == r.self {
			continue
		}
		if _, err := r.route(dst); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// route 返回到 dst 的缓存路径，首次使用时解析
func (r *Router) route(dst topology.NodeName) (topology.Path, error) {
	r.routesMu.RLock()
	p, ok := r.routes[dst]
	r.routesMu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := r.finder.Resolve(r.self, dst)
	if err != nil {
		return topology.Path{}, err
	}
	r.routesMu.Lock()
	if cached, ok := r.routes[dst]; ok {
		p = cached
	} else {
		r.routes[dst] = p
	}
	r.routesMu.Unlock()
	r.log.Debug("路径已解析", "dst", dst, "path", p.String())
	return p, nil
}

// edgeUsable 本节点的出边只有在有对应传输策略时可用；其他节点的边按拓扑可用
func (r *Router) edgeUsable(e topology.Edge) bool {
	if e.From != r.self {
		return true
	}
	_, ok := r.strategies[e.Strategy]
	return ok
}

// edgePreferred 等长路径中优先选择已就绪的首跳
//
// 启动前没有句柄，此时不需要握手的边视为就绪。
func (r *Router) edgePreferred(e topology.Edge) bool {
	if es := r.edge(e.To); es != nil && e.From == r.self {
		return es.gate.State() == transport.GateReady
	}
	return !e.WaitForReady
}

func (r *Router) edge(peer topology.NodeName) *edgeState {
	r.edgesMu.RLock()
	defer r.edgesMu.RUnlock()
	return r.edges[peer]
}

// ============================================================================
//                              访问器
// ============================================================================

// Node 本节点名
func (r *Router) Node() topology.NodeName { return r.self }

// Instance 本上下文实例
func (r *Router) Instance() topology.Instance { return r.cfg.Instance }

// Topology 全局拓扑
func (r *Router) Topology() *topology.Topology { return r.topo }

// Schema 命令表
func (r *Router) Schema() *command.Schema { return r.schema }

// Registry 本节点的处理器注册表
func (r *Router) Registry() *command.Registry { return r.registry }

// Route 到 dst 的路径
func (r *Router) Route(dst topology.NodeName) (topology.Path, error) { return r.route(dst) }

// Routes 已解析的全部路径
func (r *Router) Routes() map[topology.NodeName]topology.Path {
	r.routesMu.RLock()
	defer r.routesMu.RUnlock()
	out := make(map[topology.NodeName]topology.Path, len(r.routes))
	for k, v := range r.routes {
		out[k] = v
	}
	return out
}

// EdgeState 与 peer 之间的边的就绪状态
func (r *Router) EdgeState(peer topology.NodeName) (transport.GateState, bool) {
	es := r.edge(peer)
	if es == nil {
		return 0, false
	}
	return es.gate.State(), true
}

// EdgeStates 全部已连接边的就绪状态
func (r *Router) EdgeStates() map[topology.NodeName]transport.GateState {
	r.edgesMu.RLock()
	defer r.edgesMu.RUnlock()
	out := make(map[topology.NodeName]transport.GateState, len(r.edges))
	for peer, es := range r.edges {
		out[peer] = es.gate.State()
	}
	return out
}

// Commands 已注册处理器的命令
func (r *Router) Commands() []string { return r.registry.List() }

// PendingCount 待处理请求数
func (r *Router) PendingCount() int {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return len(r.pending)
}

// Listening 是否已开始处理入站消息
func (r *Router) Listening() bool { return r.listening.Load() }

func (r *Router) queuedFrames() float64 {
	r.edgesMu.RLock()
	defer r.edgesMu.RUnlock()
	n := 0
	for _, es := range r.edges {
		n += es.gate.Queued()
	}
	return float64(n)
}

// ============================================================================
//                              生命周期
// ============================================================================

// AddCommandHandler 注册命令处理器，必须在 RegisterListeners 之前调用
func (r *Router) AddCommandHandler(origins []topology.NodeName, name string, h command.HandlerFunc) error {
	if r.closed.Load() {
		return ErrRouterClosed
	}
	return r.registry.Register(origins, name, h)
}

// Start 为每条有传输策略的出边建立句柄
func (r *Router) Start(ctx context.Context) error {
	if r.closed.Load() {
		return ErrRouterClosed
	}
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	var (
		mu    sync.Mutex
		edges = make(map[topology.NodeName]*edgeState)
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range r.topo.EdgesFrom(r.self) {
		strategy, ok := r.strategies[e.Strategy]
		if !ok {
			r.log.Debug("没有可用的传输策略，跳过边", "edge", e.String())
			continue
		}
		e := e
		g.Go(func() error {
			h, err := strategy.Connect(gctx, e)
			if err != nil {
				return fmt.Errorf("connect %s: %w", e, err)
			}
			es := &edgeState{
				edge:    e,
				handle:  h,
				gate:    transport.NewGate(h.Send, e.WaitForReady),
				limiter: transport.NewLimiter(r.cfg.InboundRate, r.cfg.InboundBurst),
			}
			mu.Lock()
			edges[e.To] = es
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var errs error = err
		for _, es := range edges {
			errs = multierr.Append(errs, es.handle.Close())
		}
		r.started.Store(false)
		return errs
	}

	r.edgesMu.Lock()
	r.edges = edges
	r.edgesMu.Unlock()

	r.log.Info("路由器已启动", "edges", len(edges), "instance", r.cfg.Instance.String())
	return nil
}

// RegisterListeners 开始处理入站消息
//
// 只能调用一次，且应在所有处理器注册之后。之后的注册会被拒绝。
func (r *Router) RegisterListeners(ctx context.Context) error {
	if r.closed.Load() {
		return ErrRouterClosed
	}
	if !r.started.Load() {
		return ErrNotStarted
	}
	if !r.listening.CompareAndSwap(false, true) {
		return ErrListenersRegistered
	}

	r.registry.Seal()

	r.wg.Add(1)
	go r.loop()

	r.edgesMu.Lock()
	edges := make([]*edgeState, 0, len(r.edges))
	for _, es := range r.edges {
		es := es
		es.cancel = es.handle.OnMessage(func(in transport.Inbound) {
			r.enqueue(es, in)
		})
		edges = append(edges, es)
	}
	r.edgesMu.Unlock()

	for _, es := range edges {
		if es.edge.WaitForReady {
			r.sendHandshake(ctx, es, envelope.KindHello, topology.Instance{})
		}
	}

	r.log.Info("开始监听", "commands", r.registry.List())
	return nil
}

// enqueue 由传输回调调用，把入站帧交给事件循环
func (r *Router) enqueue(es *edgeState, in transport.Inbound) {
	select {
	case r.inbox <- inboundItem{edge: es, in: in}:
	case <-r.ctx.Done():
		r.metrics.drop(dropClosed)
	}
}

// loop 单一事件循环，按到达顺序处理入站帧
func (r *Router) loop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case it := <-r.inbox:
			r.handleInbound(it)
		}
	}
}

// Close 关闭路由器
//
// 取消所有待处理请求（ErrRouterClosed），关闭全部传输句柄，清空注册表。
func (r *Router) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.cancel()

	r.edgesMu.Lock()
	edges := r.edges
	r.edges = make(map[topology.NodeName]*edgeState)
	r.edgesMu.Unlock()

	var errs error
	for _, es := range edges {
		if es.cancel != nil {
			es.cancel()
		}
		if n := es.gate.Close(); n > 0 {
			r.log.Warn("关闭时丢弃未发送的帧", "peer", es.edge.To, "frames", n)
		}
		errs = multierr.Append(errs, es.handle.Close())
	}

	r.failAllPending(ErrRouterClosed)
	r.wg.Wait()
	r.registry.Clear()

	r.log.Info("路由器已关闭")
	return errs
}
