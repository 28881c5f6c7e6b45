package envelope

import "errors"

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrMalformed 信封无法解析或字段不完整
	ErrMalformed = errors.New("envelope: malformed")

	// ErrTooLarge 信封超过大小上限
	ErrTooLarge = errors.New("envelope: too large")

	// ErrUnknownCodec 未知的编解码器名称
	ErrUnknownCodec = errors.New("envelope: unknown codec")
)
