package wsbridge

import "errors"

var (
	// ErrBadFrame 无法解析的帧
	ErrBadFrame = errors.New("wsbridge: bad frame")

	// ErrBadIdentity 连接参数缺少节点名或实例格式错误
	ErrBadIdentity = errors.New("wsbridge: bad identity")

	// ErrHubClosed hub 已关闭
	ErrHubClosed = errors.New("wsbridge: hub closed")

	// ErrNotConnected 远端端口尚未连接 hub
	ErrNotConnected = errors.New("wsbridge: not connected")
)
