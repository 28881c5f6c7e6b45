package introspect

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-xroute/internal/core/router"
)

// ModuleConfig 模块配置
type ModuleConfig struct {
	Addr string
}

// ModuleInput 模块输入
type ModuleInput struct {
	fx.In

	Config   ModuleConfig
	Router   *router.Router      `name:"router"`
	Gatherer prometheus.Gatherer `optional:"true"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Server *Server
}

// ProvideServer 提供自省服务
func ProvideServer(in ModuleInput) ModuleOutput {
	return ModuleOutput{
		Server: New(Config{
			Addr:     in.Config.Addr,
			Sources:  []Source{in.Router},
			Gatherer: in.Gatherer,
		}),
	}
}

// Module 返回 introspect fx 模块
func Module() fx.Option {
	return fx.Module("introspect",
		fx.Provide(ProvideServer),
		fx.Invoke(func(lc fx.Lifecycle, s *Server) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					return s.Start(ctx)
				},
				OnStop: func(ctx context.Context) error {
					return s.Stop()
				},
			})
		}),
	)
}
