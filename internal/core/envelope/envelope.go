// Package envelope 定义路由器之间交换的信封及其编解码
//
// 信封是协议的线上单元，携带路由与关联元数据以及 JSON 负载。
// 中继节点只追加 Hops，不修改 RequestID。
package envelope

import (
	"fmt"

	"github.com/dep2p/go-xroute/internal/core/topology"
)

// MaxSize 单个编码后信封的大小上限
const MaxSize = 4 << 20

// Kind 信封类型
type Kind uint8

const (
	// KindRequest 命令请求
	KindRequest Kind = 1
	// KindResponse 命令响应
	KindResponse Kind = 2
	// KindHello 握手：发起方宣告已开始监听
	KindHello Kind = 3
	// KindReady 握手：对端确认就绪
	KindReady Kind = 4
)

// String 实现 fmt.Stringer
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindHello:
		return "hello"
	case KindReady:
		return "ready"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid 是否为已知类型
func (k Kind) Valid() bool { return k >= KindRequest && k <= KindReady }

// 错误码，随响应信封传回调用方
const (
	CodeUnknownCommand   = "unknown_command"
	CodeOriginNotAllowed = "origin_not_allowed"
	CodeInvalidArgs      = "invalid_args"
	CodeHandlerFailed    = "handler_failed"
	CodeNoRoute          = "no_route"
	CodeHopLimit         = "hop_limit"
	CodeClosed           = "closed"
)

// Error 响应中的错误
type Error struct {
	Code    string `json:"code" msgpack:"c"`
	Message string `json:"message,omitempty" msgpack:"m,omitempty"`
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Envelope 线上信封
type Envelope struct {
	// RequestID 由源节点生成，整个生命周期不变
	RequestID string `msgpack:"id"`

	Kind        Kind              `msgpack:"k"`
	Source      topology.NodeName `msgpack:"src"`
	Destination topology.NodeName `msgpack:"dst"`
	Command     string            `msgpack:"cmd,omitempty"`

	// Payload 请求参数或响应结果（JSON）
	Payload []byte `msgpack:"p,omitempty"`

	// Error 非空表示失败响应
	Error *Error `msgpack:"err,omitempty"`

	// Hops 已经过的中继节点
	Hops []topology.NodeName `msgpack:"hops,omitempty"`

	// ExpectResponse 源节点是否等待响应
	ExpectResponse bool `msgpack:"er,omitempty"`

	// SourceInstance 源实例，响应按它回送
	SourceInstance topology.Instance `msgpack:"si"`

	// TargetInstance 目的实例（目的节点为多实例时使用）
	TargetInstance topology.Instance `msgpack:"ti"`

	// SentAt 源节点发送时间（Unix 毫秒）
	SentAt int64 `msgpack:"at,omitempty"`
}

// Validate 检查必填字段
func (e *Envelope) Validate() error {
	switch {
	case e.RequestID == "":
		return fmt.Errorf("%w: missing request id", ErrMalformed)
	case !e.Kind.Valid():
		return fmt.Errorf("%w: invalid kind %d", ErrMalformed, e.Kind)
	case e.Source == "" || e.Destination == "":
		return fmt.Errorf("%w: missing source or destination", ErrMalformed)
	case e.Kind == KindRequest && e.Command == "":
		return fmt.Errorf("%w: request without command", ErrMalformed)
	}
	return nil
}

// Reply 构造对该请求的响应信封
//
// 响应由原目的节点发出，回送给原源节点的原实例。
func (e *Envelope) Reply(payload []byte, rerr *Error) *Envelope {
	return &Envelope{
		RequestID:      e.RequestID,
		Kind:           KindResponse,
		Source:         e.Destination,
		Destination:    e.Source,
		Command:        e.Command,
		Payload:        payload,
		Error:          rerr,
		TargetInstance: e.SourceInstance,
	}
}

// Clone 深拷贝，转发前使用
func (e *Envelope) Clone() *Envelope {
	c := *e
	if e.Payload != nil {
		c.Payload = append([]byte(nil), e.Payload...)
	}
	if e.Hops != nil {
		c.Hops = append([]topology.NodeName(nil), e.Hops...)
	}
	if e.Error != nil {
		errCopy := *e.Error
		c.Error = &errCopy
	}
	return &c
}

// Visited 节点是否已在中继路径中
func (e *Envelope) Visited(n topology.NodeName) bool {
	if e.Source == n {
		return true
	}
	for _, h := range e.Hops {
		if h == n {
			return true
		}
	}
	return false
}

// String 简短描述，用于日志
func (e *Envelope) String() string {
	return fmt.Sprintf("%s[%s %s->%s %s]", e.Kind, shortID(e.RequestID), e.Source, e.Destination, e.Command)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
