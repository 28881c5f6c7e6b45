// Package config 提供路由网络的声明式配置
//
// 一个配置文件描述整张网络：可信 origin、节点、有向边、命令表以及路由器参数。
// 所有上下文加载同一份配置，各自以自己的节点名构建路由器。
//
// 使用示例：
//
//	cfg, err := config.Load("xroute.yaml")
//	topo, schema, err := cfg.Build()
//	rcfg := cfg.Router.ForNode("background", topology.Instance{})
//
// YAML 格式：
//
//	secureOrigins: ["chrome-extension://abcdefghijklmnop"]
//	nodes:
//	  background: {}
//	  contentScript: {instanced: true}
//	edges:
//	  background:
//	    contentScript: {strategy: runtime, secure: true, origin: "chrome-extension://abcdefghijklmnop"}
//	  contentScript:
//	    background: {strategy: runtime, secure: true, origin: "chrome-extension://abcdefghijklmnop"}
//	commands:
//	  background:
//	    getSettings: {origins: [contentScript], args: void, response: object}
//	router:
//	  defaultTimeout: 30s
package config

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/dep2p/go-xroute/internal/core/command"
	"github.com/dep2p/go-xroute/internal/core/topology"
)

// ErrNilConfig 配置为空
var ErrNilConfig = errors.New("config: nil config")

// Config 完整的网络配置
type Config struct {
	// SecureOrigins 可信 origin 白名单
	SecureOrigins []string `json:"secureOrigins" yaml:"secureOrigins"`

	// Nodes 节点声明
	Nodes map[string]topology.NodeSpec `json:"nodes" yaml:"nodes"`

	// Edges 有向边：from -> to -> 边配置
	Edges map[string]map[string]topology.EdgeSpec `json:"edges" yaml:"edges"`

	// Commands 命令表：目的节点 -> 命令名 -> 描述
	Commands map[string]map[string]command.FileSpec `json:"commands,omitempty" yaml:"commands,omitempty"`

	// Router 路由器参数，所有节点共用
	Router RouterConfig `json:"router" yaml:"router"`
}

// NewConfig 创建只含默认路由器参数的空配置
func NewConfig() *Config {
	return &Config{
		Nodes:    make(map[string]topology.NodeSpec),
		Edges:    make(map[string]map[string]topology.EdgeSpec),
		Commands: make(map[string]map[string]command.FileSpec),
		Router:   DefaultRouterConfig(),
	}
}

// FromTopology 由已构建的拓扑与命令表生成配置
func FromTopology(topo *topology.Topology, schema *command.Schema) *Config {
	spec := topo.ToSpec()
	cfg := NewConfig()
	cfg.SecureOrigins = spec.SecureOrigins
	cfg.Nodes = spec.Nodes
	cfg.Edges = spec.Edges
	if schema != nil {
		for _, node := range schema.Nodes() {
			cmds := make(map[string]command.FileSpec)
			for _, s := range schema.Commands(node) {
				origins := make([]string, len(s.Origins))
				for i, o := range s.Origins {
					origins[i] = string(o)
				}
				cmds[s.Name] = command.FileSpec{
					Origins:  origins,
					Args:     shapeName(s.Args),
					Response: shapeName(s.Response),
				}
			}
			cfg.Commands[string(node)] = cmds
		}
	}
	return cfg
}

// TopologySpec 拓扑部分的声明式描述
func (c *Config) TopologySpec() topology.Spec {
	return topology.Spec{
		SecureOrigins: c.SecureOrigins,
		Nodes:         c.Nodes,
		Edges:         c.Edges,
	}
}

// Build 构建拓扑与命令表，并检查两者一致
func (c *Config) Build() (*topology.Topology, *command.Schema, error) {
	if c == nil {
		return nil, nil, ErrNilConfig
	}
	topo, err := c.TopologySpec().Build()
	if err != nil {
		return nil, nil, err
	}
	schema, err := command.SchemaFromFile(c.Commands)
	if err != nil {
		return nil, nil, err
	}
	if err := schema.Validate(topo); err != nil {
		return nil, nil, err
	}
	return topo, schema, nil
}

// Validate 验证整个配置，收集全部错误
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	var errs error
	if _, _, err := c.Build(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := c.Router.Validate(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("router: %w", err))
	}
	return errs
}

// Clone 深拷贝配置
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := &Config{
		SecureOrigins: append([]string(nil), c.SecureOrigins...),
		Nodes:         make(map[string]topology.NodeSpec, len(c.Nodes)),
		Edges:         make(map[string]map[string]topology.EdgeSpec, len(c.Edges)),
		Commands:      make(map[string]map[string]command.FileSpec, len(c.Commands)),
		Router:        c.Router,
	}
	for k, v := range c.Nodes {
		out.Nodes[k] = v
	}
	for from, tos := range c.Edges {
		m := make(map[string]topology.EdgeSpec, len(tos))
		for to, e := range tos {
			m[to] = e
		}
		out.Edges[from] = m
	}
	for node, cmds := range c.Commands {
		m := make(map[string]command.FileSpec, len(cmds))
		for name, fs := range cmds {
			fs.Origins = append([]string(nil), fs.Origins...)
			m[name] = fs
		}
		out.Commands[node] = m
	}
	return out
}

// shapeName 形状在配置文件中的名称；Go 类型形状退化为 any
func shapeName(s command.Shape) string {
	switch s.Kind() {
	case command.ShapeObject:
		return "object"
	case command.ShapeVoid:
		return "void"
	default:
		return "any"
	}
}
