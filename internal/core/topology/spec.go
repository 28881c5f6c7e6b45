package topology

import (
	"fmt"
	"sort"
)

// ============================================================================
//                              声明式拓扑
// ============================================================================

// Spec 拓扑的声明式描述，可直接从 YAML / JSON 反序列化
//
//	secureOrigins: ["chrome-extension://abc"]
//	nodes:
//	  background: {}
//	  contentScript: {instanced: true}
//	edges:
//	  background:
//	    contentScript: {strategy: runtime, secure: true, origin: "chrome-extension://abc"}
type Spec struct {
	SecureOrigins []string                       `json:"secureOrigins" yaml:"secureOrigins"`
	Nodes         map[string]NodeSpec            `json:"nodes" yaml:"nodes"`
	Edges         map[string]map[string]EdgeSpec `json:"edges" yaml:"edges"`
}

// NodeSpec 节点描述
type NodeSpec struct {
	Instanced bool `json:"instanced,omitempty" yaml:"instanced,omitempty"`
}

// EdgeSpec 有向边描述
//
// Secure 同时设置入站校验与出站固定，SecureInbound / SecureOutbound 可以单独覆盖。
type EdgeSpec struct {
	Strategy       StrategyKind `json:"strategy" yaml:"strategy"`
	Secure         bool         `json:"secure,omitempty" yaml:"secure,omitempty"`
	SecureInbound  *bool        `json:"secureInbound,omitempty" yaml:"secureInbound,omitempty"`
	SecureOutbound *bool        `json:"secureOutbound,omitempty" yaml:"secureOutbound,omitempty"`
	WaitForReady   bool         `json:"waitForReady,omitempty" yaml:"waitForReady,omitempty"`
	Origin         string       `json:"origin,omitempty" yaml:"origin,omitempty"`
}

// Build 从声明式描述构建拓扑
func (s Spec) Build() (*Topology, error) {
	if len(s.Nodes) == 0 {
		return nil, fmt.Errorf("%w: no nodes declared", ErrInvalidTopology)
	}

	b := NewBuilder().SecureOrigins(s.SecureOrigins...)
	for name, n := range s.Nodes {
		if n.Instanced {
			b.InstancedNode(NodeName(name))
		} else {
			b.Node(NodeName(name))
		}
	}

	// 排序保证错误信息稳定
	froms := make([]string, 0, len(s.Edges))
	for from := range s.Edges {
		froms = append(froms, from)
	}
	sort.Strings(froms)
	for _, from := range froms {
		tos := make([]string, 0, len(s.Edges[from]))
		for to := range s.Edges[from] {
			tos = append(tos, to)
		}
		sort.Strings(tos)
		for _, to := range tos {
			b.Edge(s.Edges[from][to].edge(NodeName(from), NodeName(to)))
		}
	}
	return b.Build()
}

func (es EdgeSpec) edge(from, to NodeName) Edge {
	e := Edge{
		From:           from,
		To:             to,
		Strategy:       es.Strategy,
		SecureInbound:  es.Secure,
		SecureOutbound: es.Secure,
		WaitForReady:   es.WaitForReady,
		PeerOrigin:     es.Origin,
	}
	if es.SecureInbound != nil {
		e.SecureInbound = *es.SecureInbound
	}
	if es.SecureOutbound != nil {
		e.SecureOutbound = *es.SecureOutbound
	}
	return e
}

// ToSpec 导出为声明式描述
func (t *Topology) ToSpec() Spec {
	s := Spec{
		SecureOrigins: t.SecureOrigins(),
		Nodes:         make(map[string]NodeSpec, len(t.nodes)),
		Edges:         make(map[string]map[string]EdgeSpec),
	}
	for name, n := range t.nodes {
		s.Nodes[string(name)] = NodeSpec{Instanced: n.Instanced}
	}
	for from, m := range t.edges {
		out := make(map[string]EdgeSpec, len(m))
		for to, e := range m {
			es := EdgeSpec{
				Strategy:     e.Strategy,
				WaitForReady: e.WaitForReady,
				Origin:       e.PeerOrigin,
			}
			if e.Secure() {
				es.Secure = true
			} else {
				inb, outb := e.SecureInbound, e.SecureOutbound
				es.SecureInbound, es.SecureOutbound = &inb, &outb
			}
			out[string(to)] = es
		}
		s.Edges[string(from)] = out
	}
	return s
}
