package envelope

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackCodec MessagePack 编解码器
//
// 字段名使用短键（见 Envelope 的 msgpack 标签），适合与脚本环境互通。
type MsgpackCodec struct{}

// Name 实现 Codec
func (MsgpackCodec) Name() string { return CodecMsgpack }

// Marshal 实现 Codec
func (MsgpackCodec) Marshal(env *Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	data, err := msgpack.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("envelope: msgpack encode: %w", err)
	}
	if err := checkSize(data); err != nil {
		return nil, err
	}
	return data, nil
}

// Unmarshal 实现 Codec
func (MsgpackCodec) Unmarshal(data []byte) (*Envelope, error) {
	if err := checkSize(data); err != nil {
		return nil, err
	}
	env := &Envelope{}
	if err := msgpack.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}
