// Package xroute 提供浏览器扩展多上下文之间的命令路由
//
// 一个扩展由多个互相隔离的执行上下文组成：后台 service worker、内容脚本、
// 页面脚本、iframe、扩展页面等。它们之间只能通过平台的消息通道
// （运行时消息、window.postMessage）通信，而且并非两两可达。
// xroute 把这些上下文建模为一张拓扑图，在其上提供带类型的请求/响应命令。
//
// # 核心概念
//
//   - Topology: 节点与边，边声明传输策略、安全校验与握手要求
//   - Schema: 命令表，声明每个节点上的命令、允许的来源与参数形状
//   - Node: 一个上下文中的路由器，负责发送、转发与调度
//
// # 快速开始
//
//	node, err := xroute.Start(ctx,
//	    xroute.WithConfigFile("xroute.yaml"),
//	    xroute.WithNode("contentScript"),
//	    xroute.WithStrategy(runtimeStrategy),
//	    xroute.WithHandler([]xroute.NodeName{"background"}, "highlight", highlight),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	tabs, err := xroute.Call[[]Tab](ctx, node, "background", "listTabs", nil)
//
// 不相邻的节点之间的命令会沿拓扑中的最短路径由中间节点逐跳转发，
// 响应沿反向路径返回。
//
// # 文件组织
//
//   - xroute.go: 版本信息与类型别名
//   - node.go: Node 生命周期与发送 API
//   - options.go: 用户配置选项
//   - fx.go: 依赖注入装配
//   - errors.go: 公共错误
package xroute
