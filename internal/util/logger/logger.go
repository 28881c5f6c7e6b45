// Package logger 提供 xroute 的统一日志系统
//
// 基于标准库 log/slog，支持：
//   - 按子系统配置日志级别（含 "transport/window" 这样的层级子系统）
//   - 环境变量配置（XROUTE_LOG_LEVEL, XROUTE_LOG_FORMAT）
//   - 运行时调整级别与输出目标
//
// 使用示例:
//
//	package router
//
//	import "github.com/dep2p/go-xroute/internal/util/logger"
//
//	var log = logger.Logger("router")
//
//	func foo() {
//	    log.Info("转发信封", "requestID", logger.ShortID(id), "next", next)
//	}
package logger

import (
	"io"
	"log/slog"
	"sync"
)

var (
	// loggers 缓存各子系统的 Logger
	loggers sync.Map // map[string]*slog.Logger

	// handlers 缓存各子系统的 Handler（用于动态调整级别）
	handlers sync.Map // map[string]*subsystemHandler
)

// Logger 获取指定子系统的 Logger
//
// 同一子系统多次调用返回同一个实例。
func Logger(subsystem string) *slog.Logger {
	if l, ok := loggers.Load(subsystem); ok {
		return l.(*slog.Logger)
	}

	h := newHandler(subsystem, ConfigFromEnv())
	actual, loaded := loggers.LoadOrStore(subsystem, slog.New(h))
	if !loaded {
		handlers.Store(subsystem, h)
	}
	return actual.(*slog.Logger)
}

// ForNode 返回带 node 属性的子系统 Logger
//
// 同一进程内常常运行多个路由节点（测试、simulate），日志需要区分来源。
func ForNode(subsystem, node string) *slog.Logger {
	return Logger(subsystem).With("node", node)
}

// SetLevel 动态设置子系统的日志级别
func SetLevel(subsystem string, level slog.Level) {
	if h, ok := handlers.Load(subsystem); ok {
		h.(*subsystemHandler).level.Set(level)
	}
}

// SetGlobalLevel 设置所有已创建子系统的日志级别
func SetGlobalLevel(level slog.Level) {
	handlers.Range(func(_, value any) bool {
		value.(*subsystemHandler).level.Set(level)
		return true
	})
}

// SetOutput 设置全局日志输出目标，对已创建的 Logger 同样生效
func SetOutput(w io.Writer) {
	globalOutputMu.Lock()
	globalOutput = w
	globalOutputMu.Unlock()
}

// Discard 返回一个丢弃所有日志的 Logger（用于测试）
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// ShortID 截断 ID 用于日志输出
func ShortID(id string) string {
	const n = 8
	if len(id) <= n {
		return id
	}
	return id[:n]
}
