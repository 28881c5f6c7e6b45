// Package main 提供 xroute 命令行入口
//
// 子命令：
//   - validate: 校验拓扑与命令表配置
//   - routes: 打印节点之间的路由路径
//   - simulate: 在进程内浏览器模型中运行配置并探测每条命令
//   - version: 打印版本
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
