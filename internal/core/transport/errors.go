package transport

import "errors"

var (
	// ErrClosed 传输已关闭
	ErrClosed = errors.New("transport: closed")

	// ErrPeerUnknown 对端窗口引用尚未获知
	ErrPeerUnknown = errors.New("transport: peer window unknown")

	// ErrInstanceRequired 目的节点有多个实例但未指定目标实例
	ErrInstanceRequired = errors.New("transport: target instance required")

	// ErrNoReceiver 平台上没有匹配的接收者
	ErrNoReceiver = errors.New("transport: no receiver")

	// ErrStrategyMismatch 策略类型与边不符
	ErrStrategyMismatch = errors.New("transport: strategy does not match edge")
)
