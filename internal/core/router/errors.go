package router

import (
	"errors"
	"fmt"

	"github.com/dep2p/go-xroute/internal/core/command"
	"github.com/dep2p/go-xroute/internal/core/envelope"
	"github.com/dep2p/go-xroute/internal/core/topology"
)

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("router: invalid config")

	// ErrAlreadyStarted 重复启动
	ErrAlreadyStarted = errors.New("router: already started")

	// ErrNotStarted 尚未启动
	ErrNotStarted = errors.New("router: not started")

	// ErrListenersRegistered RegisterListeners 只能调用一次
	ErrListenersRegistered = errors.New("router: listeners already registered")

	// ErrNotListening 尚未开始监听
	ErrNotListening = errors.New("router: listeners not registered")

	// ErrRouterClosed 路由器已关闭
	ErrRouterClosed = errors.New("router: closed")

	// ErrTimeout 请求超时
	ErrTimeout = errors.New("router: request timeout")

	// ErrInvalidArgs 参数不符合命令表形状
	ErrInvalidArgs = errors.New("router: invalid arguments")

	// ErrHandlerFailed 远端处理器返回错误或崩溃
	ErrHandlerFailed = errors.New("router: handler failed")

	// ErrHopLimit 超过最大跳数或出现环路
	ErrHopLimit = errors.New("router: hop limit exceeded")

	// ErrNoEdge 没有到下一跳的已连接边
	ErrNoEdge = errors.New("router: no connected edge")

	// ErrUnknownCommand 命令未定义或未注册处理器
	ErrUnknownCommand = command.ErrUnknownCommand

	// ErrOriginNotAllowed 来源节点不被允许
	ErrOriginNotAllowed = command.ErrOriginNotAllowed

	// ErrNoRoute 无法到达目的节点
	ErrNoRoute = topology.ErrNoRoute
)

// RemoteError 远端返回的错误响应
type RemoteError struct {
	// Node 产生错误的节点
	Node    topology.NodeName
	Code    string
	Message string
}

// Error 实现 error 接口
func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("router: remote error from %s: %s", e.Node, e.Code)
	}
	return fmt.Sprintf("router: remote error from %s: %s: %s", e.Node, e.Code, e.Message)
}

// Is 按错误码映射到对应的哨兵错误
func (e *RemoteError) Is(target error) bool {
	switch e.Code {
	case envelope.CodeUnknownCommand:
		return target == ErrUnknownCommand
	case envelope.CodeOriginNotAllowed:
		return target == ErrOriginNotAllowed
	case envelope.CodeInvalidArgs:
		return target == ErrInvalidArgs
	case envelope.CodeHandlerFailed:
		return target == ErrHandlerFailed
	case envelope.CodeNoRoute:
		return target == ErrNoRoute
	case envelope.CodeHopLimit:
		return target == ErrHopLimit
	case envelope.CodeClosed:
		return target == ErrRouterClosed
	}
	return false
}

// codeFor 把本地错误转换为响应错误码
func codeFor(err error) string {
	switch {
	case errors.Is(err, ErrUnknownCommand):
		return envelope.CodeUnknownCommand
	case errors.Is(err, ErrOriginNotAllowed):
		return envelope.CodeOriginNotAllowed
	case errors.Is(err, ErrInvalidArgs), errors.Is(err, command.ErrShapeMismatch):
		return envelope.CodeInvalidArgs
	case errors.Is(err, ErrNoRoute), errors.Is(err, ErrNoEdge):
		return envelope.CodeNoRoute
	case errors.Is(err, ErrHopLimit):
		return envelope.CodeHopLimit
	case errors.Is(err, ErrRouterClosed):
		return envelope.CodeClosed
	default:
		return envelope.CodeHandlerFailed
	}
}
