// Package transport 定义单跳传输策略的抽象
//
// 传输策略封装两个直接可达上下文之间的原始通信原语。路由器只依赖
// 这里的接口，具体的平台绑定（窗口消息、扩展运行时消息）由子包实现，
// 并作为能力注入。
//
// # 核心类型
//
//   - Strategy：按边建立 Handle
//   - Handle：发送帧、订阅入站帧、校验发送者身份
//   - Gate：waitForReady 边的就绪状态机，就绪前的发送按序缓存
//   - Limiter：按边的入站限流
//
// # 子包
//
//   - window：同窗口 / iframe 的 postMessage 通道
//   - runtime：扩展内部运行时消息通道
//   - memnet：进程内浏览器模型，实现两种平台端口，用于测试与演示
//   - wsbridge：基于 websocket 的运行时端口，用于浏览器外的上下文
package transport
