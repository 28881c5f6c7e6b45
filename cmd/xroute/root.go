package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dep2p/go-xroute/internal/util/logger"
)

var log = logger.Logger("xroute/cmd")

const envPrefix = "XROUTE"

// newRootCmd 构造根命令
//
// 每次调用使用独立的 viper 实例，测试可以并行构造多个根命令。
func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	initDefaults(v)

	cmd := &cobra.Command{
		Use:           "xroute",
		Short:         "Cross-context command router tooling",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().String("preset", "", "Router preset applied before checks (default, strict, test).")
	_ = v.BindPFlag("preset", cmd.PersistentFlags().Lookup("preset"))

	cmd.AddCommand(newValidateCmd(v))
	cmd.AddCommand(newRoutesCmd(v))
	cmd.AddCommand(newSimulateCmd(v))
	cmd.AddCommand(newBridgeCmd(v))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func initDefaults(v *viper.Viper) {
	v.SetDefault("preset", "")
	v.SetDefault("simulate.timeout", 2*time.Second)
	v.SetDefault("simulate.metrics_addr", "")
	v.SetDefault("simulate.extension_id", "")
	v.SetDefault("bridge.listen", "127.0.0.1:8787")
	v.SetDefault("bridge.path", "/bridge")
	v.SetDefault("bridge.extension_id", "")
}

// flagOrViperString 显式设置的 flag 优先，其次是环境变量 / 默认值
func flagOrViperString(cmd *cobra.Command, v *viper.Viper, flagName, key string) string {
	val, _ := cmd.Flags().GetString(flagName)
	if cmd.Flags().Changed(flagName) {
		return val
	}
	if key != "" && v.IsSet(key) {
		return v.GetString(key)
	}
	return val
}

func flagOrViperDuration(cmd *cobra.Command, v *viper.Viper, flagName, key string) time.Duration {
	val, _ := cmd.Flags().GetDuration(flagName)
	if cmd.Flags().Changed(flagName) {
		return val
	}
	if key != "" && v.IsSet(key) {
		return v.GetDuration(key)
	}
	return val
}
