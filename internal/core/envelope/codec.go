package envelope

import "fmt"

// Codec 信封编解码器
type Codec interface {
	// Name 编解码器名称
	Name() string

	// Marshal 编码信封
	Marshal(env *Envelope) ([]byte, error)

	// Unmarshal 解码并校验信封
	Unmarshal(data []byte) (*Envelope, error)
}

// 编解码器名称
const (
	CodecProto   = "proto"
	CodecMsgpack = "msgpack"
)

// DefaultCodec 默认编解码器
func DefaultCodec() Codec { return ProtoCodec{} }

// CodecByName 按名称返回编解码器，空名称返回默认值
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecProto:
		return ProtoCodec{}, nil
	case CodecMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

func checkSize(data []byte) error {
	if len(data) > MaxSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	return nil
}
