package topology

import (
	"fmt"
	"sort"

	"go.uber.org/multierr"
)

// ============================================================================
//                              Topology
// ============================================================================

// Topology 完整的静态拓扑：节点、有向边以及受信 origin 列表
//
// Topology 构建后不可变，可以被多个路由器并发读取。
type Topology struct {
	secureOrigins map[string]struct{}
	nodes         map[NodeName]Node
	edges         map[NodeName]map[NodeName]Edge
}

// Nodes 返回所有节点名（有序）
func (t *Topology) Nodes() []NodeName {
	names := make([]NodeName, 0, len(t.nodes))
	for name := range t.nodes {
		names = append(names, name)
	}
	sortNames(names)
	return names
}

// Node 查询节点声明
func (t *Topology) Node(name NodeName) (Node, bool) {
	n, ok := t.nodes[name]
	return n, ok
}

// HasNode 节点是否已声明
func (t *Topology) HasNode(name NodeName) bool {
	_, ok := t.nodes[name]
	return ok
}

// Edge 查询 from -> to 的边
func (t *Topology) Edge(from, to NodeName) (Edge, bool) {
	e, ok := t.edges[from][to]
	return e, ok
}

// EdgesFrom 返回 from 的所有出边（按对端名排序）
func (t *Topology) EdgesFrom(from NodeName) []Edge {
	out := make([]Edge, 0, len(t.edges[from]))
	for _, e := range t.edges[from] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].To < out[j].To })
	return out
}

// Neighbors 返回 from 的直连节点（有序）
func (t *Topology) Neighbors(from NodeName) []NodeName {
	names := make([]NodeName, 0, len(t.edges[from]))
	for to := range t.edges[from] {
		names = append(names, to)
	}
	sortNames(names)
	return names
}

// IsTrustedOrigin origin 是否在受信列表中
func (t *Topology) IsTrustedOrigin(origin string) bool {
	if origin == OriginSelf {
		return true
	}
	_, ok := t.secureOrigins[origin]
	return ok
}

// SecureOrigins 返回受信 origin 列表（有序）
func (t *Topology) SecureOrigins() []string {
	out := make([]string, 0, len(t.secureOrigins))
	for o := range t.secureOrigins {
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}

// ============================================================================
//                              Builder
// ============================================================================

// Builder 拓扑构建器
//
//	topo, err := topology.NewBuilder().
//	    SecureOrigins("chrome-extension://abc").
//	    Node("background").
//	    InstancedNode("contentScript").
//	    Link("background", "contentScript", topology.Edge{Strategy: topology.StrategyRuntime, ...}).
//	    Build()
type Builder struct {
	secureOrigins map[string]struct{}
	nodes         map[NodeName]Node
	edges         []Edge
}

// NewBuilder 创建拓扑构建器
func NewBuilder() *Builder {
	return &Builder{
		secureOrigins: make(map[string]struct{}),
		nodes:         make(map[NodeName]Node),
	}
}

// SecureOrigins 追加受信 origin
func (b *Builder) SecureOrigins(origins ...string) *Builder {
	for _, o := range origins {
		b.secureOrigins[o] = struct{}{}
	}
	return b
}

// Node 声明单实例节点
func (b *Builder) Node(names ...NodeName) *Builder {
	for _, name := range names {
		b.nodes[name] = Node{Name: name}
	}
	return b
}

// InstancedNode 声明多实例节点
func (b *Builder) InstancedNode(names ...NodeName) *Builder {
	for _, name := range names {
		b.nodes[name] = Node{Name: name, Instanced: true}
	}
	return b
}

// Edge 声明单向边
func (b *Builder) Edge(e Edge) *Builder {
	b.edges = append(b.edges, e)
	return b
}

// Link 以同一份配置声明 a->b 与 b->a 两条边
//
// 模板中的 From/To 会被忽略。peerOrigins[0] 是 c 的 origin（a->c 方向使用），
// peerOrigins[1] 是 a 的 origin（c->a 方向使用），缺省时沿用模板。
func (b *Builder) Link(a, c NodeName, tmpl Edge, peerOrigins ...string) *Builder {
	ab, ba := tmpl, tmpl
	ab.From, ab.To = a, c
	ba.From, ba.To = c, a
	if len(peerOrigins) > 0 {
		ab.PeerOrigin = peerOrigins[0]
	}
	if len(peerOrigins) > 1 {
		ba.PeerOrigin = peerOrigins[1]
	}
	return b.Edge(ab).Edge(ba)
}

// Build 校验并生成不可变的拓扑
func (b *Builder) Build() (*Topology, error) {
	t := &Topology{
		secureOrigins: make(map[string]struct{}, len(b.secureOrigins)),
		nodes:         make(map[NodeName]Node, len(b.nodes)),
		edges:         make(map[NodeName]map[NodeName]Edge),
	}
	for o := range b.secureOrigins {
		t.secureOrigins[o] = struct{}{}
	}
	for name, n := range b.nodes {
		t.nodes[name] = n
	}

	var errs error
	for _, e := range b.edges {
		if _, dup := t.edges[e.From][e.To]; dup {
			errs = multierr.Append(errs, fmt.Errorf("%w: duplicate edge %s", ErrInvalidTopology, e))
			continue
		}
		if t.edges[e.From] == nil {
			t.edges[e.From] = make(map[NodeName]Edge)
		}
		t.edges[e.From][e.To] = e
	}

	if err := multierr.Append(errs, t.Validate()); err != nil {
		return nil, err
	}
	return t, nil
}

// ============================================================================
//                              校验
// ============================================================================

// Validate 校验拓扑内部一致性，返回所有发现的问题
func (t *Topology) Validate() error {
	if len(t.nodes) == 0 {
		return fmt.Errorf("%w: no nodes declared", ErrInvalidTopology)
	}

	var errs error
	for _, from := range sortedKeys(t.edges) {
		for _, e := range t.EdgesFrom(from) {
			errs = multierr.Append(errs, t.validateEdge(e))
		}
	}
	return errs
}

// validateEdge 校验单条边
func (t *Topology) validateEdge(e Edge) error {
	if !t.HasNode(e.From) || !t.HasNode(e.To) {
		return fmt.Errorf("%w: edge %s references undeclared node", ErrInvalidTopology, e)
	}
	if e.From == e.To {
		return fmt.Errorf("%w: self loop on %s", ErrInvalidTopology, e.From)
	}
	if !e.Strategy.Valid() {
		return fmt.Errorf("%w: edge %s has unknown strategy %q", ErrInvalidTopology, e, e.Strategy)
	}

	// 两端必须声明兼容的传输配置
	rev, ok := t.Edge(e.To, e.From)
	if !ok {
		return fmt.Errorf("%w: edge %s has no reverse declaration", ErrInvalidTopology, e)
	}
	if rev.Strategy != e.Strategy {
		return fmt.Errorf("%w: edge %s and its reverse use different strategies", ErrInvalidTopology, e)
	}
	if rev.WaitForReady != e.WaitForReady {
		return fmt.Errorf("%w: edge %s and its reverse disagree on waitForReady", ErrInvalidTopology, e)
	}

	if e.SecureInbound {
		if e.PeerOrigin == "" {
			return fmt.Errorf("%w: secure edge %s has no peer origin", ErrInvalidTopology, e)
		}
		if !t.IsTrustedOrigin(e.PeerOrigin) {
			return fmt.Errorf("%w: peer origin %q of %s is not in secureOrigins", ErrInvalidTopology, e.PeerOrigin, e)
		}
	}
	if e.SecureOutbound && e.PeerOrigin == "" {
		return fmt.Errorf("%w: edge %s pins outbound origin but has no peer origin", ErrInvalidTopology, e)
	}
	return nil
}

func sortNames(names []NodeName) {
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
}

func sortedKeys[V any](m map[NodeName]V) []NodeName {
	names := make([]NodeName, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sortNames(names)
	return names
}
