package command

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/dep2p/go-xroute/internal/core/topology"
)

// Meta 调度时传给处理器的元数据
type Meta struct {
	// Source 原始来源节点（经过中继也不变）
	Source topology.NodeName

	// Instance 来源实例
	Instance topology.Instance

	// RequestID 请求 ID
	RequestID string

	// Command 命令名
	Command string

	// Hops 经过的中继节点
	Hops []topology.NodeName
}

// HandlerFunc 命令处理器
//
// 返回值会被编码为 JSON 作为响应负载；返回错误则变成错误响应。
type HandlerFunc func(ctx context.Context, args json.RawMessage, meta Meta) (any, error)

// Registration 一条处理器注册
type Registration struct {
	Command string
	Spec    Spec
	Handler HandlerFunc

	origins map[topology.NodeName]struct{}
}

// Allows 来源是否被该处理器接受
func (r *Registration) Allows(origin topology.NodeName) bool {
	_, ok := r.origins[origin]
	return ok
}

// Origins 返回处理器接受的来源（有序）
func (r *Registration) Origins() []topology.NodeName {
	out := make([]topology.NodeName, 0, len(r.origins))
	for o := range r.origins {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ============================================================================
//                              Registry
// ============================================================================

// Registry 单个节点的处理器注册表
//
// 每个命令至多一个处理器；多来源时由处理器内部按 Meta.Source 分支。
type Registry struct {
	node   topology.NodeName
	schema *Schema

	mu       sync.RWMutex
	handlers map[string]*Registration
	sealed   bool
}

// NewRegistry 创建注册表
func NewRegistry(node topology.NodeName, schema *Schema) *Registry {
	return &Registry{
		node:     node,
		schema:   schema,
		handlers: make(map[string]*Registration),
	}
}

// Register 注册处理器
//
// 命令必须已在本节点的命令表中定义，origins 必须是命令表允许来源的非空子集。
func (r *Registry) Register(origins []topology.NodeName, name string, handler HandlerFunc) error {
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrInvalidSpec, name)
	}
	spec, ok := r.schema.Lookup(r.node, name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrCommandNotInSchema, r.node, name)
	}
	if len(origins) == 0 {
		return fmt.Errorf("%w: %s.%s registered with no origins", ErrOriginNotInSchema, r.node, name)
	}
	set := make(map[topology.NodeName]struct{}, len(origins))
	for _, o := range origins {
		if !spec.Allows(o) {
			return fmt.Errorf("%w: %s may not call %s.%s", ErrOriginNotInSchema, o, r.node, name)
		}
		set[o] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrRegistrySealed
	}
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%w: %s.%s", ErrHandlerAlreadyRegistered, r.node, name)
	}
	r.handlers[name] = &Registration{
		Command: name,
		Spec:    spec,
		Handler: handler,
		origins: set,
	}
	return nil
}

// Unregister 注销处理器
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; !exists {
		return ErrHandlerNotFound
	}
	delete(r.handlers, name)
	return nil
}

// Get 获取处理器
func (r *Registry) Get(name string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.handlers[name]
	return reg, ok
}

// Resolve 为一次调度查找处理器并检查来源
func (r *Registry) Resolve(name string, origin topology.NodeName) (*Registration, error) {
	reg, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownCommand, r.node, name)
	}
	if !reg.Allows(origin) {
		return nil, fmt.Errorf("%w: %s may not call %s.%s", ErrOriginNotAllowed, origin, r.node, name)
	}
	return reg, nil
}

// List 列出已注册的命令（有序）
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Seal 禁止后续注册
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Clear 清空所有处理器
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers = make(map[string]*Registration)
}

// ============================================================================
//                              类型化辅助
// ============================================================================

// Typed 把强类型处理器适配为 HandlerFunc
func Typed[A, R any](fn func(ctx context.Context, args A, meta Meta) (R, error)) HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage, meta Meta) (any, error) {
		var args A
		if err := StrictUnmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
		}
		return fn(ctx, args, meta)
	}
}

// Decode 把响应负载解码为 R
func Decode[R any](raw json.RawMessage) (R, error) {
	var out R
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	return out, nil
}
