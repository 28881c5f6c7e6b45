package topology

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTopology 拓扑配置不一致
	ErrInvalidTopology = errors.New("topology: invalid topology")

	// ErrUnknownNode 节点未在拓扑中声明
	ErrUnknownNode = errors.New("topology: unknown node")

	// ErrNoRoute 两个节点之间不存在可用路径
	ErrNoRoute = errors.New("topology: no route")

	// ErrSelfRoute 源与目的为同一节点
	ErrSelfRoute = errors.New("topology: source equals destination")
)

// NoRouteError 描述一条无法解析的路由
//
// 路由解析失败属于配置错误，必须在启动阶段暴露，而不是在首次发送时。
type NoRouteError struct {
	From NodeName
	To   NodeName
}

// Error 实现 error 接口
func (e *NoRouteError) Error() string {
	return fmt.Sprintf("topology: no route from %q to %q", e.From, e.To)
}

// Is 使 errors.Is(err, ErrNoRoute) 成立
func (e *NoRouteError) Is(target error) bool {
	return target == ErrNoRoute
}
