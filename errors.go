package xroute

import (
	"errors"

	"github.com/dep2p/go-xroute/internal/core/command"
	"github.com/dep2p/go-xroute/internal/core/router"
	"github.com/dep2p/go-xroute/internal/core/transport"
)

// 公共错误定义
var (
	// ────────────────────────────────────────────────────────────────────────
	// 节点生命周期错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNotStarted 节点未启动
	ErrNotStarted = errors.New("node not started")

	// ErrAlreadyStarted 节点已启动
	ErrAlreadyStarted = errors.New("node already started")

	// ErrNodeClosed 节点已关闭
	ErrNodeClosed = errors.New("node closed")

	// ────────────────────────────────────────────────────────────────────────
	// 配置错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNoTopology 未提供拓扑
	ErrNoTopology = errors.New("topology is required")

	// ErrNodeRequired 未指定本节点名
	ErrNodeRequired = errors.New("node name is required")

	// ────────────────────────────────────────────────────────────────────────
	// 注册错误
	// ────────────────────────────────────────────────────────────────────────

	ErrCommandNotInSchema       = command.ErrCommandNotInSchema
	ErrOriginNotInSchema        = command.ErrOriginNotInSchema
	ErrHandlerAlreadyRegistered = command.ErrHandlerAlreadyRegistered

	// ────────────────────────────────────────────────────────────────────────
	// 路由错误
	// ────────────────────────────────────────────────────────────────────────

	ErrUnknownCommand   = router.ErrUnknownCommand
	ErrOriginNotAllowed = router.ErrOriginNotAllowed
	ErrInvalidArgs      = router.ErrInvalidArgs
	ErrNoRoute          = router.ErrNoRoute
	ErrTimeout          = router.ErrTimeout
	ErrHandlerFailed    = router.ErrHandlerFailed
	ErrHopLimit         = router.ErrHopLimit
	ErrRouterClosed     = router.ErrRouterClosed
	ErrInstanceRequired = transport.ErrInstanceRequired
)
