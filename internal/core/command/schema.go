// Package command 实现命令表与处理器注册表
//
// 命令表是唯一的事实来源：它声明每个目的节点上有哪些命令、哪些来源节点
// 可以调用、参数与响应的形状。处理器注册与调度都以命令表为准。
package command

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dep2p/go-xroute/internal/core/topology"
)

// Spec 单个命令的描述
type Spec struct {
	// Name 命令名
	Name string

	// Origins 允许调用的来源节点
	Origins []topology.NodeName

	// Args 参数形状
	Args Shape

	// Response 响应形状
	Response Shape
}

// Allows 来源是否被命令表允许
func (s Spec) Allows(origin topology.NodeName) bool {
	for _, o := range s.Origins {
		if o == origin {
			return true
		}
	}
	return false
}

// ============================================================================
//                              Schema
// ============================================================================

// Schema 全局命令表：目的节点 -> 命令名 -> 描述
type Schema struct {
	mu    sync.RWMutex
	nodes map[topology.NodeName]map[string]Spec
}

// NewSchema 创建空命令表
func NewSchema() *Schema {
	return &Schema{nodes: make(map[topology.NodeName]map[string]Spec)}
}

// Define 在 node 上定义命令
func (s *Schema) Define(node topology.NodeName, spec Spec) error {
	if node == "" || spec.Name == "" {
		return fmt.Errorf("%w: node and name are required", ErrInvalidSpec)
	}
	if len(spec.Origins) == 0 {
		return fmt.Errorf("%w: %s.%s has no allowed origins", ErrInvalidSpec, node, spec.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cmds := s.nodes[node]
	if cmds == nil {
		cmds = make(map[string]Spec)
		s.nodes[node] = cmds
	}
	if _, exists := cmds[spec.Name]; exists {
		return fmt.Errorf("%w: %s.%s", ErrDuplicateCommand, node, spec.Name)
	}
	spec.Origins = append([]topology.NodeName(nil), spec.Origins...)
	cmds[spec.Name] = spec
	return nil
}

// MustDefine 同 Define，出错时 panic，用于静态初始化
func (s *Schema) MustDefine(node topology.NodeName, spec Spec) *Schema {
	if err := s.Define(node, spec); err != nil {
		panic(err)
	}
	return s
}

// Lookup 查询命令描述
func (s *Schema) Lookup(node topology.NodeName, name string) (Spec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spec, ok := s.nodes[node][name]
	return spec, ok
}

// Commands 返回 node 上的所有命令（按名字排序）
func (s *Schema) Commands(node topology.NodeName) []Spec {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Spec, 0, len(s.nodes[node]))
	for _, spec := range s.nodes[node] {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Nodes 返回定义了命令的节点（有序）
func (s *Schema) Nodes() []topology.NodeName {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]topology.NodeName, 0, len(s.nodes))
	for n := range s.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Peers 返回 self 需要通信的节点
//
// 包括 self 可以调用其命令的节点（请求方向）以及可以调用 self 命令的
// 来源节点（响应方向）。
func (s *Schema) Peers(self topology.NodeName) []topology.NodeName {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(map[topology.NodeName]struct{})
	for node, cmds := range s.nodes {
		for _, spec := range cmds {
			if node == self {
				for _, o := range spec.Origins {
					set[o] = struct{}{}
				}
			} else if spec.Allows(self) {
				set[node] = struct{}{}
			}
		}
	}
	delete(set, self)

	out := make([]topology.NodeName, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate 检查命令表引用的节点都在拓扑中
func (s *Schema) Validate(topo *topology.Topology) error {
	for _, node := range s.Nodes() {
		if !topo.HasNode(node) {
			return fmt.Errorf("%w: schema node %q", topology.ErrUnknownNode, node)
		}
		for _, spec := range s.Commands(node) {
			for _, o := range spec.Origins {
				if !topo.HasNode(o) {
					return fmt.Errorf("%w: origin %q of %s.%s", topology.ErrUnknownNode, o, node, spec.Name)
				}
			}
		}
	}
	return nil
}

// ============================================================================
//                              声明式命令表
// ============================================================================

// FileSpec 命令的声明式描述（YAML / JSON）
type FileSpec struct {
	Origins  []string `json:"origins" yaml:"origins"`
	Args     string   `json:"args,omitempty" yaml:"args,omitempty"`
	Response string   `json:"response,omitempty" yaml:"response,omitempty"`
}

// SchemaFromFile 从 节点 -> 命令 -> 描述 的映射构建命令表
func SchemaFromFile(m map[string]map[string]FileSpec) (*Schema, error) {
	s := NewSchema()

	nodes := make([]string, 0, len(m))
	for n := range m {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	for _, node := range nodes {
		names := make([]string, 0, len(m[node]))
		for name := range m[node] {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			fs := m[node][name]
			args, err := ShapeByName(fs.Args)
			if err != nil {
				return nil, fmt.Errorf("%s.%s args: %w", node, name, err)
			}
			resp, err := ShapeByName(fs.Response)
			if err != nil {
				return nil, fmt.Errorf("%s.%s response: %w", node, name, err)
			}
			origins := make([]topology.NodeName, len(fs.Origins))
			for i, o := range fs.Origins {
				origins[i] = topology.NodeName(o)
			}
			if err := s.Define(topology.NodeName(node), Spec{
				Name:     name,
				Origins:  origins,
				Args:     args,
				Response: resp,
			}); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}
