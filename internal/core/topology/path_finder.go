package topology

import (
	"strings"
	"sync"
)

// ============================================================================
//                              路径
// ============================================================================

// Path 从源到目的的节点序列（包含两端）
type Path struct {
	Nodes []NodeName
}

// Hops 跳数
func (p Path) Hops() int {
	if len(p.Nodes) == 0 {
		return 0
	}
	return len(p.Nodes) - 1
}

// Source 源节点
func (p Path) Source() NodeName {
	if len(p.Nodes) == 0 {
		return ""
	}
	return p.Nodes[0]
}

// Destination 目的节点
func (p Path) Destination() NodeName {
	if len(p.Nodes) == 0 {
		return ""
	}
	return p.Nodes[len(p.Nodes)-1]
}

// NextHop 第一跳
func (p Path) NextHop() NodeName {
	if len(p.Nodes) < 2 {
		return ""
	}
	return p.Nodes[1]
}

// String 形如 "a -> b -> c"
func (p Path) String() string {
	parts := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		parts[i] = string(n)
	}
	return strings.Join(parts, " -> ")
}

// ============================================================================
//                              路径查找器
// ============================================================================

// EdgeFilter 判断一条边当前是否可用
type EdgeFilter func(Edge) bool

// FinderOption 路径查找器选项
type FinderOption func(*PathFinder)

// WithEdgeFilter 只在满足 filter 的边上寻路
//
// 路由器用它排除本地没有可用传输策略的边。filter 的结果必须是稳定的，
// 因为距离表会被缓存。
func WithEdgeFilter(filter EdgeFilter) FinderOption {
	return func(pf *PathFinder) { pf.usable = filter }
}

// WithPreference 设置首跳偏好
//
// 多条等长路径时，优先选择首跳满足 prefer 的路径（例如传输已就绪的边）。
// prefer 可以是动态的，它不参与缓存。
func WithPreference(prefer EdgeFilter) FinderOption {
	return func(pf *PathFinder) { pf.prefer = prefer }
}

// PathFinder 最少跳数路径查找器
//
// 对每个目的节点计算一次反向 BFS 距离表并缓存，之后每次解析只需沿
// 距离递减的方向贪心前进。等长路径的选择是确定的：首跳偏好优先，
// 其余按节点名字典序。
type PathFinder struct {
	topo   *Topology
	usable EdgeFilter
	prefer EdgeFilter

	mu        sync.RWMutex
	distCache map[NodeName]map[NodeName]int
}

// NewPathFinder 创建路径查找器
func NewPathFinder(topo *Topology, opts ...FinderOption) *PathFinder {
	pf := &PathFinder{
		topo:      topo,
		distCache: make(map[NodeName]map[NodeName]int),
	}
	for _, opt := range opts {
		opt(pf)
	}
	return pf
}

// Resolve 解析 src 到 dst 的最少跳数路径
func (pf *PathFinder) Resolve(src, dst NodeName) (Path, error) {
	if !pf.topo.HasNode(src) || !pf.topo.HasNode(dst) {
		return Path{}, &NoRouteError{From: src, To: dst}
	}
	if src == dst {
		return Path{}, ErrSelfRoute
	}

	dist := pf.distancesTo(dst)
	if _, ok := dist[src]; !ok {
		return Path{}, &NoRouteError{From: src, To: dst}
	}

	nodes := []NodeName{src}
	cur := src
	for cur != dst {
		next := pf.pickNext(cur, dist, cur == src)
		nodes = append(nodes, next)
		cur = next
	}
	return Path{Nodes: nodes}, nil
}

// NextHop 只返回第一跳
func (pf *PathFinder) NextHop(src, dst NodeName) (NodeName, error) {
	p, err := pf.Resolve(src, dst)
	if err != nil {
		return "", err
	}
	return p.NextHop(), nil
}

// Invalidate 清除缓存的距离表
func (pf *PathFinder) Invalidate() {
	pf.mu.Lock()
	pf.distCache = make(map[NodeName]map[NodeName]int)
	pf.mu.Unlock()
}

// pickNext 在距离恰好减一的邻居中选择下一跳
func (pf *PathFinder) pickNext(cur NodeName, dist map[NodeName]int, first bool) NodeName {
	want := dist[cur] - 1
	var best NodeName
	bestPreferred := false
	for _, e := range pf.topo.EdgesFrom(cur) {
		if !pf.edgeUsable(e) {
			continue
		}
		if d, ok := dist[e.To]; !ok || d != want {
			continue
		}
		preferred := first && pf.prefer != nil && pf.prefer(e)
		// EdgesFrom 已按名字排序，同一偏好等级内第一个即字典序最小
		if best == "" || (preferred && !bestPreferred) {
			best = e.To
			bestPreferred = preferred
		}
	}
	return best
}

// distancesTo 返回各节点到 dst 的最少跳数
func (pf *PathFinder) distancesTo(dst NodeName) map[NodeName]int {
	pf.mu.RLock()
	dist, ok := pf.distCache[dst]
	pf.mu.RUnlock()
	if ok {
		return dist
	}

	dist = map[NodeName]int{dst: 0}
	queue := []NodeName{dst}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		// 反向扩展：寻找所有能一跳到达 cur 的节点
		for _, from := range pf.topo.Nodes() {
			if _, seen := dist[from]; seen {
				continue
			}
			e, ok := pf.topo.Edge(from, cur)
			if !ok || !pf.edgeUsable(e) {
				continue
			}
			dist[from] = dist[cur] + 1
			queue = append(queue, from)
		}
	}

	pf.mu.Lock()
	pf.distCache[dst] = dist
	pf.mu.Unlock()
	return dist
}

func (pf *PathFinder) edgeUsable(e Edge) bool {
	return pf.usable == nil || pf.usable(e)
}
