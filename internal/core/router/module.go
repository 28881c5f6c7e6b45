package router

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-xroute/internal/core/command"
	"github.com/dep2p/go-xroute/internal/core/topology"
	"github.com/dep2p/go-xroute/internal/core/transport"
)

// ============================================================================
//                              模块输入依赖
// ============================================================================

// HandlerBinding 通过 fx 注册的命令处理器
type HandlerBinding struct {
	Origins []topology.NodeName
	Command string
	Handler command.HandlerFunc
}

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	// Config 配置
	Config Config

	// Topology 全局拓扑
	Topology *topology.Topology

	// Schema 命令表（可选）
	Schema *command.Schema `optional:"true"`

	// Strategies 传输策略
	Strategies []transport.Strategy `group:"strategies"`

	// Clock 时钟（可选）
	Clock clock.Clock `optional:"true"`

	// Registerer 指标注册表（可选）
	Registerer prometheus.Registerer `optional:"true"`
}

// ============================================================================
//                              模块输出服务
// ============================================================================

// ModuleOutput 定义模块输出服务
type ModuleOutput struct {
	fx.Out

	// Router 路由器
	Router *Router `name:"router"`
}

// ============================================================================
//                              服务提供
// ============================================================================

// ProvideServices 提供模块服务
func ProvideServices(input ModuleInput) (ModuleOutput, error) {
	r, err := New(input.Config, Params{
		Topology:   input.Topology,
		Schema:     input.Schema,
		Strategies: input.Strategies,
		Clock:      input.Clock,
		Registerer: input.Registerer,
	})
	if err != nil {
		return ModuleOutput{}, err
	}
	return ModuleOutput{Router: r}, nil
}

// ============================================================================
//                              模块定义
// ============================================================================

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("router",
		fx.Provide(ProvideServices),
		fx.Invoke(registerLifecycle),
	)
}

// lifecycleInput 生命周期输入参数
type lifecycleInput struct {
	fx.In
	LC       fx.Lifecycle
	Router   *Router          `name:"router"`
	Handlers []HandlerBinding `group:"handlers"`
}

// registerLifecycle 注册处理器与生命周期
//
// 处理器在构造阶段注册，OnStart 建立边并开始监听，保证监听前处理器已齐全。
func registerLifecycle(input lifecycleInput) error {
	for _, h := range input.Handlers {
		if err := input.Router.AddCommandHandler(h.Origins, h.Command, h.Handler); err != nil {
			return err
		}
	}

	input.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("路由器启动", "node", input.Router.Node())
			if err := input.Router.Start(ctx); err != nil {
				return err
			}
			return input.Router.RegisterListeners(ctx)
		},
		OnStop: func(_ context.Context) error {
			log.Info("路由器停止", "node", input.Router.Node())
			return input.Router.Close()
		},
	})
	return nil
}

// ============================================================================
//                              模块元信息
// ============================================================================

// 模块元信息常量
const (
	Version     = "1.0.0"
	Name        = "router"
	Description = "路由器模块，提供跨上下文的命令发送、转发与调度"
)
