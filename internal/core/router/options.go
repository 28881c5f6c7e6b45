package router

import (
	"time"

	"github.com/dep2p/go-xroute/internal/core/topology"
)

// sendOptions 单次发送的选项
type sendOptions struct {
	confirmReceipt bool
	timeout        time.Duration
	target         topology.Instance
}

// SendOption 发送选项
type SendOption func(*sendOptions)

// WithConfirmReceipt 是否等待目的节点的响应（默认 true）
//
// 为 false 且命令响应形状为 void 时，交给首跳后立即返回。
func WithConfirmReceipt(confirm bool) SendOption {
	return func(o *sendOptions) { o.confirmReceipt = confirm }
}

// WithTimeout 覆盖默认超时
func WithTimeout(d time.Duration) SendOption {
	return func(o *sendOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithTarget 指定目的实例（目的节点为多实例时使用）
func WithTarget(inst topology.Instance) SendOption {
	return func(o *sendOptions) { o.target = inst }
}
