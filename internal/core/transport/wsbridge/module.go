package wsbridge

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-xroute/internal/core/topology"
	"github.com/dep2p/go-xroute/internal/core/transport"
	rtport "github.com/dep2p/go-xroute/internal/core/transport/runtime"
)

// ModuleConfig 模块配置
type ModuleConfig struct {
	Remote   RemoteConfig
	Node     topology.NodeName
	Instance topology.Instance
}

// ModuleInput 模块输入
type ModuleInput struct {
	fx.In

	Config ModuleConfig
	LC     fx.Lifecycle
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Strategy transport.Strategy `group:"strategies"`
}

// ProvideStrategy 提供经 hub 转发的运行时策略
//
// 生命周期钩子在构造时登记。路由器依赖本策略，因此拨号先于路由器启动，
// 断开晚于路由器关闭。
func ProvideStrategy(in ModuleInput) (ModuleOutput, error) {
	if err := in.Config.Remote.Validate(); err != nil {
		return ModuleOutput{}, err
	}
	remote := NewRemote(in.Config.Remote, in.Config.Node, in.Config.Instance)
	in.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return remote.Connect(ctx)
		},
		OnStop: func(context.Context) error {
			return remote.Close()
		},
	})
	return ModuleOutput{Strategy: rtport.New(remote, in.Config.Remote.ExtensionID)}, nil
}

// Module 返回 wsbridge fx 模块
func Module() fx.Option {
	return fx.Module("wsbridge",
		fx.Provide(ProvideStrategy),
	)
}
