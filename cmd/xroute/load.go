package main

import (
	"github.com/spf13/viper"

	"github.com/dep2p/go-xroute/config"
)

// loadConfig 读取配置文件并应用预设
func loadConfig(v *viper.Viper, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if preset := v.GetString("preset"); preset != "" {
		if err := config.ApplyPreset(cfg, preset); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	log.Debug("配置已加载", "path", path, "nodes", len(cfg.Nodes), "preset", v.GetString("preset"))
	return cfg, nil
}
