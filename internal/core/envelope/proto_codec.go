package envelope

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-xroute/internal/core/topology"
)

// 信封的 protobuf 字段号
//
//	message Envelope {
//	  string   request_id      = 1;
//	  uint32   kind            = 2;
//	  string   source          = 3;
//	  string   destination     = 4;
//	  string   command         = 5;
//	  bytes    payload         = 6;
//	  Error    error           = 7;   // {string code = 1; string message = 2;}
//	  repeated string hops     = 8;
//	  bool     expect_response = 9;
//	  Instance source_instance = 10;  // {sint64 tab_id = 1; sint64 frame_id = 2;}
//	  Instance target_instance = 11;
//	  int64    sent_at         = 12;
//	}
const (
	fieldRequestID      protowire.Number = 1
	fieldKind           protowire.Number = 2
	fieldSource         protowire.Number = 3
	fieldDestination    protowire.Number = 4
	fieldCommand        protowire.Number = 5
	fieldPayload        protowire.Number = 6
	fieldError          protowire.Number = 7
	fieldHops           protowire.Number = 8
	fieldExpectResponse protowire.Number = 9
	fieldSourceInstance protowire.Number = 10
	fieldTargetInstance protowire.Number = 11
	fieldSentAt         protowire.Number = 12

	fieldErrorCode    protowire.Number = 1
	fieldErrorMessage protowire.Number = 2

	fieldInstanceTab   protowire.Number = 1
	fieldInstanceFrame protowire.Number = 2
)

// ProtoCodec protobuf 线格式编解码器
//
// 直接用 protowire 读写字段，未知字段在解码时跳过，便于协议演进。
type ProtoCodec struct{}

// Name 实现 Codec
func (ProtoCodec) Name() string { return CodecProto }

// Marshal 实现 Codec
func (ProtoCodec) Marshal(env *Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	b := make([]byte, 0, 64+len(env.Payload))
	b = appendString(b, fieldRequestID, env.RequestID)
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(env.Kind))
	b = appendString(b, fieldSource, string(env.Source))
	b = appendString(b, fieldDestination, string(env.Destination))
	b = appendString(b, fieldCommand, env.Command)
	if len(env.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, env.Payload)
	}
	if env.Error != nil {
		var sub []byte
		sub = appendString(sub, fieldErrorCode, env.Error.Code)
		sub = appendString(sub, fieldErrorMessage, env.Error.Message)
		b = protowire.AppendTag(b, fieldError, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	for _, h := range env.Hops {
		b = protowire.AppendTag(b, fieldHops, protowire.BytesType)
		b = protowire.AppendString(b, string(h))
	}
	if env.ExpectResponse {
		b = protowire.AppendTag(b, fieldExpectResponse, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	b = appendInstance(b, fieldSourceInstance, env.SourceInstance)
	b = appendInstance(b, fieldTargetInstance, env.TargetInstance)
	if env.SentAt != 0 {
		b = protowire.AppendTag(b, fieldSentAt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(env.SentAt))
	}

	if err := checkSize(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Unmarshal 实现 Codec
func (ProtoCodec) Unmarshal(data []byte) (*Envelope, error) {
	if err := checkSize(data); err != nil {
		return nil, err
	}

	env := &Envelope{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case typ == protowire.BytesType && isBytesField(num):
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
			}
			if err := env.setBytesField(num, v); err != nil {
				return nil, err
			}
			n = m
		case typ == protowire.VarintType && isVarintField(num):
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
			}
			env.setVarintField(num, v)
			n = m
		default:
			// 未知字段或类型不匹配：跳过
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
		}
		data = data[n:]
	}

	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

func isBytesField(num protowire.Number) bool {
	switch num {
	case fieldRequestID, fieldSource, fieldDestination, fieldCommand, fieldPayload,
		fieldError, fieldHops, fieldSourceInstance, fieldTargetInstance:
		return true
	}
	return false
}

func isVarintField(num protowire.Number) bool {
	return num == fieldKind || num == fieldExpectResponse || num == fieldSentAt
}

func (env *Envelope) setBytesField(num protowire.Number, v []byte) error {
	switch num {
	case fieldRequestID:
		env.RequestID = string(v)
	case fieldSource:
		env.Source = topology.NodeName(v)
	case fieldDestination:
		env.Destination = topology.NodeName(v)
	case fieldCommand:
		env.Command = string(v)
	case fieldPayload:
		env.Payload = append([]byte(nil), v...)
	case fieldHops:
		env.Hops = append(env.Hops, topology.NodeName(v))
	case fieldError:
		e, err := consumeError(v)
		if err != nil {
			return err
		}
		env.Error = e
	case fieldSourceInstance:
		inst, err := consumeInstance(v)
		if err != nil {
			return err
		}
		env.SourceInstance = inst
	case fieldTargetInstance:
		inst, err := consumeInstance(v)
		if err != nil {
			return err
		}
		env.TargetInstance = inst
	}
	return nil
}

func (env *Envelope) setVarintField(num protowire.Number, v uint64) {
	switch num {
	case fieldKind:
		env.Kind = Kind(v)
	case fieldExpectResponse:
		env.ExpectResponse = protowire.DecodeBool(v)
	case fieldSentAt:
		env.SentAt = int64(v)
	}
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendInstance(b []byte, num protowire.Number, inst topology.Instance) []byte {
	if inst.IsZero() {
		return b
	}
	var sub []byte
	sub = protowire.AppendTag(sub, fieldInstanceTab, protowire.VarintType)
	sub = protowire.AppendVarint(sub, protowire.EncodeZigZag(int64(inst.TabID)))
	sub = protowire.AppendTag(sub, fieldInstanceFrame, protowire.VarintType)
	sub = protowire.AppendVarint(sub, protowire.EncodeZigZag(int64(inst.FrameID)))
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, sub)
}

func consumeError(b []byte) (*Error, error) {
	e := &Error{}
	err := consumeMessage(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if typ != protowire.BytesType || (num != fieldErrorCode && num != fieldErrorMessage) {
			return protowire.ConsumeFieldValue(num, typ, v), nil
		}
		s, n := protowire.ConsumeString(v)
		if n >= 0 {
			if num == fieldErrorCode {
				e.Code = s
			} else {
				e.Message = s
			}
		}
		return n, nil
	})
	return e, err
}

func consumeInstance(b []byte) (topology.Instance, error) {
	var inst topology.Instance
	err := consumeMessage(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if typ != protowire.VarintType || (num != fieldInstanceTab && num != fieldInstanceFrame) {
			return protowire.ConsumeFieldValue(num, typ, v), nil
		}
		x, n := protowire.ConsumeVarint(v)
		if n >= 0 {
			if num == fieldInstanceTab {
				inst.TabID = int(protowire.DecodeZigZag(x))
			} else {
				inst.FrameID = int(protowire.DecodeZigZag(x))
			}
		}
		return n, nil
	})
	return inst, err
}

// consumeMessage 遍历嵌套消息的字段
func consumeMessage(b []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := field(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}
