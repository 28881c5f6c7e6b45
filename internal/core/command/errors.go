package command

import "errors"

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrCommandNotInSchema 命令未在节点的命令表中定义
	ErrCommandNotInSchema = errors.New("command: command not defined in schema")

	// ErrOriginNotInSchema 处理器声明的来源不在命令表允许范围内
	ErrOriginNotInSchema = errors.New("command: origin not allowed by schema")

	// ErrHandlerAlreadyRegistered 命令已有处理器
	ErrHandlerAlreadyRegistered = errors.New("command: handler already registered")

	// ErrHandlerNotFound 命令没有处理器
	ErrHandlerNotFound = errors.New("command: handler not found")

	// ErrRegistrySealed 监听开始后不再接受注册
	ErrRegistrySealed = errors.New("command: registry sealed")

	// ErrUnknownCommand 调度时找不到命令
	ErrUnknownCommand = errors.New("command: unknown command")

	// ErrOriginNotAllowed 调度时来源不被允许
	ErrOriginNotAllowed = errors.New("command: origin not allowed")

	// ErrShapeMismatch 数据与形状描述不符
	ErrShapeMismatch = errors.New("command: shape mismatch")

	// ErrInvalidSpec 命令描述不完整
	ErrInvalidSpec = errors.New("command: invalid spec")

	// ErrDuplicateCommand 同一节点重复定义命令
	ErrDuplicateCommand = errors.New("command: duplicate command")
)
