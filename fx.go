package xroute

import (
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-xroute/internal/core/introspect"
	"github.com/dep2p/go-xroute/internal/core/router"
	"github.com/dep2p/go-xroute/internal/core/transport"
	"github.com/dep2p/go-xroute/internal/core/transport/wsbridge"
	"github.com/dep2p/go-xroute/internal/util/logger"
)

var fxLogger = logger.Logger("xroute/fx")

// buildFxApp 构建 Fx 应用
//
// 装配顺序：配置、拓扑与命令表、传输策略（含 hub 桥接）、处理器、路由器模块、自省服务。
// 处理器在 fx.New 阶段注册，OnStart 时路由器建立边并开始监听。
func buildFxApp(o *options) (*fx.App, *router.Router, *introspect.Server, error) {
	// ════════════════════════════════════════════════════════════════════════
	// 1. 配置解析（前置）
	// ════════════════════════════════════════════════════════════════════════
	topo, schema, rcfg, err := o.resolve()
	if err != nil {
		return nil, nil, nil, err
	}

	// ════════════════════════════════════════════════════════════════════════
	// 2. 基础依赖
	// ════════════════════════════════════════════════════════════════════════
	modules := []fx.Option{
		fx.Supply(rcfg, topo),
	}
	if schema != nil {
		modules = append(modules, fx.Supply(schema))
	}
	if o.clock != nil {
		clk := o.clock
		modules = append(modules, fx.Provide(func() clock.Clock { return clk }))
	}
	reg := o.registerer
	if reg == nil && o.introspectAddr != "" {
		// 自省服务需要能读回指标
		reg = prometheus.NewRegistry()
	}
	if reg != nil {
		modules = append(modules, fx.Provide(func() prometheus.Registerer { return reg }))
		if g, ok := reg.(prometheus.Gatherer); ok {
			modules = append(modules, fx.Provide(func() prometheus.Gatherer { return g }))
		}
	}

	// ════════════════════════════════════════════════════════════════════════
	// 3. 传输策略
	// ════════════════════════════════════════════════════════════════════════
	for _, s := range o.strategies {
		s := s
		modules = append(modules, fx.Provide(fx.Annotated{
			Group:  "strategies",
			Target: func() transport.Strategy { return s },
		}))
	}
	if o.bridge != nil {
		modules = append(modules,
			fx.Supply(wsbridge.ModuleConfig{Remote: *o.bridge, Node: rcfg.Node, Instance: rcfg.Instance}),
			wsbridge.Module(),
		)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 4. 命令处理器
	// ════════════════════════════════════════════════════════════════════════
	for _, h := range o.handlers {
		modules = append(modules, fx.Supply(fx.Annotated{Group: "handlers", Target: h}))
	}

	// ════════════════════════════════════════════════════════════════════════
	// 5. 路由器模块
	// ════════════════════════════════════════════════════════════════════════
	var r *router.Router
	modules = append(modules,
		router.Module(),
		fx.Invoke(fx.Annotate(func(got *router.Router) { r = got }, fx.ParamTags(`name:"router"`))),
	)

	// ════════════════════════════════════════════════════════════════════════
	// 6. 自省服务（可选）
	// ════════════════════════════════════════════════════════════════════════
	var srv *introspect.Server
	if o.introspectAddr != "" {
		modules = append(modules,
			fx.Supply(introspect.ModuleConfig{Addr: o.introspectAddr}),
			introspect.Module(),
			fx.Populate(&srv),
		)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 7. Fx 配置
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, fx.WithLogger(func() fxevent.Logger {
		if o.fxEvents {
			if zl, err := zap.NewDevelopment(); err == nil {
				return &fxevent.ZapLogger{Logger: zl}
			}
		}
		// 默认禁用 Fx 日志输出（避免干扰用户日志）
		return &fxevent.ZapLogger{Logger: zap.NewNop()}
	}))

	app := fx.New(modules...)
	if err := app.Err(); err != nil {
		fxLogger.Debug("装配失败", "node", rcfg.Node, "err", err)
		return nil, nil, nil, err
	}
	return app, r, srv, nil
}
