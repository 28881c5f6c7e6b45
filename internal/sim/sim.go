// Package sim 在进程内浏览器模型上运行一份完整的路由配置
//
// 每个节点都是一个独立的 xroute.Node，运行时边走模拟的扩展运行时，
// 窗口边走模拟的 postMessage。命令表中的每条命令都注册一个回显处理器，
// Ping 对每个 (来源, 目的, 命令) 组合发一次请求，用来在打包扩展之前
// 验证拓扑、命令表与安全设置能否真正走通。
package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-xroute"
	"github.com/dep2p/go-xroute/config"
	"github.com/dep2p/go-xroute/internal/core/command"
	"github.com/dep2p/go-xroute/internal/core/introspect"
	"github.com/dep2p/go-xroute/internal/core/topology"
	"github.com/dep2p/go-xroute/internal/core/transport/memnet"
	rtport "github.com/dep2p/go-xroute/internal/core/transport/runtime"
	"github.com/dep2p/go-xroute/internal/core/transport/window"
	"github.com/dep2p/go-xroute/internal/util/logger"
)

var log = logger.Logger("sim")

// 未声明时使用的扩展 ID 与页面 origin
const (
	DefaultExtensionID = "xroutesimulation"
	DefaultPageOrigin  = "https://page.example"
)

// Options 仿真选项
type Options struct {
	// ExtensionID 扩展 ID，为空时从 secureOrigins 推断
	ExtensionID string

	// PageOrigin 未声明 origin 的页面窗口使用的 origin
	PageOrigin string

	// Registerer 所有节点共用的指标注册表
	Registerer prometheus.Registerer
}

// Result 一次探测的结果
type Result struct {
	From    topology.NodeName
	To      topology.NodeName
	Command string
	Path    string
	Elapsed time.Duration
	Err     error
}

// OK 是否成功
func (r Result) OK() bool { return r.Err == nil }

// Simulation 一组运行在同一个浏览器模型中的节点
type Simulation struct {
	cfg     *config.Config
	topo    *topology.Topology
	schema  *command.Schema
	browser *memnet.Browser
	nodes   map[topology.NodeName]*xroute.Node
}

// New 为配置中的每个节点构造一个节点（未启动）
func New(cfg *config.Config, opts Options) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	topo, schema, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	extID := opts.ExtensionID
	if extID == "" {
		extID = ExtensionIDOf(topo)
	}
	pageOrigin := opts.PageOrigin
	if pageOrigin == "" {
		pageOrigin = DefaultPageOrigin
	}

	s := &Simulation{
		cfg:     cfg,
		topo:    topo,
		schema:  schema,
		browser: memnet.NewBrowser(extID),
		nodes:   make(map[topology.NodeName]*xroute.Node),
	}
	windows := s.openWindows(pageOrigin)

	for _, name := range topo.Nodes() {
		nodeOpts := []xroute.Option{
			xroute.WithConfig(cfg),
			xroute.WithTopology(topo),
			xroute.WithSchema(schema),
			xroute.WithNode(name),
		}
		if opts.Registerer != nil {
			nodeOpts = append(nodeOpts, xroute.WithRegisterer(opts.Registerer))
		}

		inst := topology.Instance{}
		if n, _ := topo.Node(name); n.Instanced {
			inst = topology.Instance{TabID: 1}
		}
		nodeOpts = append(nodeOpts, xroute.WithInstance(inst))

		var hasRuntime bool
		var winPeers []window.Option
		for _, e := range topo.EdgesFrom(name) {
			switch e.Strategy {
			case topology.StrategyRuntime:
				hasRuntime = true
			case topology.StrategyWindow:
				winPeers = append(winPeers, window.WithPeer(e.To, windows[e.To]))
			}
		}
		if hasRuntime {
			origin := s.runtimeOrigin(name)
			ext := strings.HasPrefix(origin, rtport.ExtensionOriginPrefix) || s.declaresExtension(name)
			ep := s.browser.Runtime(name, inst, origin, ext)
			nodeOpts = append(nodeOpts, xroute.WithStrategy(rtport.New(ep, extID)))
		}
		if len(winPeers) > 0 {
			winPeers = append(winPeers, window.WithInstance(inst))
			nodeOpts = append(nodeOpts, xroute.WithStrategy(window.New(windows[name], winPeers...)))
		}

		for _, spec := range schema.Commands(name) {
			nodeOpts = append(nodeOpts, xroute.WithHandler(spec.Origins, spec.Name, Echo(name, spec)))
		}

		n, err := xroute.New(nodeOpts...)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("node %s: %w", name, err)
		}
		s.nodes[name] = n
	}
	return s, nil
}

// ExtensionIDOf 从可信 origin 中找出扩展 ID，找不到时返回 DefaultExtensionID
func ExtensionIDOf(topo *topology.Topology) string {
	for _, o := range topo.SecureOrigins() {
		if id, ok := strings.CutPrefix(o, rtport.ExtensionOriginPrefix); ok && id != "" {
			return id
		}
	}
	return DefaultExtensionID
}

// DeclaredOrigin 相邻节点在 kind 类边上为 node 声明的具体 origin
//
// 没有声明或只声明了 self 时返回空串。
func DeclaredOrigin(topo *topology.Topology, node topology.NodeName, kind topology.StrategyKind) string {
	for _, peer := range topo.Nodes() {
		e, ok := topo.Edge(peer, node)
		if !ok || e.Strategy != kind {
			continue
		}
		if e.PeerOrigin != "" && e.PeerOrigin != topology.OriginSelf {
			return e.PeerOrigin
		}
	}
	return ""
}

// declaresExtension 是否有相邻节点把 node 当作扩展上下文校验
func (s *Simulation) declaresExtension(node topology.NodeName) bool {
	return strings.HasPrefix(DeclaredOrigin(s.topo, node, topology.StrategyRuntime), rtport.ExtensionOriginPrefix)
}

func (s *Simulation) runtimeOrigin(node topology.NodeName) string {
	if o := DeclaredOrigin(s.topo, node, topology.StrategyRuntime); o != "" {
		return o
	}
	return s.browser.ExtensionOrigin()
}

// openWindows 为窗口边上的节点打开窗口
//
// 通过同源（origin: self）窗口边相连的节点共用一个窗口，例如同一页面中的
// 内容脚本与页面脚本；其余节点各自一个窗口。
func (s *Simulation) openWindows(pageOrigin string) map[topology.NodeName]*memnet.Window {
	parent := make(map[topology.NodeName]topology.NodeName)
	var find func(topology.NodeName) topology.NodeName
	find = func(n topology.NodeName) topology.NodeName {
		p, ok := parent[n]
		if !ok || p == n {
			parent[n] = n
			return n
		}
		root := find(p)
		parent[n] = root
		return root
	}

	var members []topology.NodeName
	for _, name := range s.topo.Nodes() {
		for _, e := range s.topo.EdgesFrom(name) {
			if e.Strategy != topology.StrategyWindow {
				continue
			}
			members = append(members, name, e.To)
			if e.PeerOrigin == topology.OriginSelf {
				parent[find(name)] = find(e.To)
			}
		}
	}

	byRoot := make(map[topology.NodeName]*memnet.Window)
	out := make(map[topology.NodeName]*memnet.Window)
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	for _, name := range members {
		if _, done := out[name]; done {
			continue
		}
		root := find(name)
		w := byRoot[root]
		if w == nil {
			origin := DeclaredOrigin(s.topo, name, topology.StrategyWindow)
			if origin == "" {
				origin = pageOrigin
			}
			w = s.browser.NewWindow(origin)
			byRoot[root] = w
		}
		out[name] = w
	}
	return out
}

// Echo 按命令表的响应形状回显调用信息的处理器
func Echo(node topology.NodeName, spec command.Spec) xroute.HandlerFunc {
	return func(_ context.Context, _ json.RawMessage, meta xroute.Meta) (any, error) {
		if spec.Response.IsVoid() {
			return nil, nil
		}
		return map[string]any{
			"node":    string(node),
			"command": spec.Name,
			"source":  string(meta.Source),
			"hops":    len(meta.Hops),
		}, nil
	}
}

// sampleArgs 符合参数形状的探测参数
func sampleArgs(spec command.Spec) any {
	switch spec.Args.Kind() {
	case command.ShapeVoid:
		return nil
	default:
		return map[string]any{"probe": spec.Name}
	}
}

// ============================================================================
//                              运行
// ============================================================================

// Start 启动全部节点
func (s *Simulation) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, n := range s.nodes {
		n := n
		g.Go(func() error { return n.Start(gctx) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("仿真已启动", "nodes", len(s.nodes))
	return nil
}

// Node 返回仿真中的节点
func (s *Simulation) Node(name topology.NodeName) (*xroute.Node, bool) {
	n, ok := s.nodes[name]
	return n, ok
}

// Sources 全部节点的路由器，按节点名排序
func (s *Simulation) Sources() []introspect.Source {
	names := s.topo.Nodes()
	out := make([]introspect.Source, 0, len(names))
	for _, name := range names {
		if n, ok := s.nodes[name]; ok {
			out = append(out, n.Router())
		}
	}
	return out
}

// Ping 对每个允许的 (来源, 目的, 命令) 发一次请求
//
// 结果按来源、目的、命令排序。
func (s *Simulation) Ping(ctx context.Context, timeout time.Duration) []Result {
	type probe struct {
		from topology.NodeName
		to   topology.NodeName
		spec command.Spec
	}
	var probes []probe
	for _, dest := range s.schema.Nodes() {
		for _, spec := range s.schema.Commands(dest) {
			for _, origin := range spec.Origins {
				probes = append(probes, probe{from: origin, to: dest, spec: spec})
			}
		}
	}

	results := make([]Result, len(probes))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range probes {
		i, p := i, p
		g.Go(func() error {
			res := Result{From: p.from, To: p.to, Command: p.spec.Name}
			n := s.nodes[p.from]
			if path, err := n.Route(p.to); err == nil {
				res.Path = path.String()
			}
			start := time.Now()
			_, res.Err = n.SendCommand(gctx, p.to, p.spec.Name, sampleArgs(p.spec),
				xroute.WithRequestTimeout(timeout))
			res.Elapsed = time.Since(start)
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Command < b.Command
	})
	return results
}

// Close 关闭全部节点与浏览器模型
func (s *Simulation) Close() error {
	var errs error
	for _, n := range s.nodes {
		errs = multierr.Append(errs, n.Close())
	}
	s.browser.Close()
	return errs
}
