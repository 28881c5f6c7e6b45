package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// ============================================================================
//                              形状描述
// ============================================================================

// ShapeKind 形状类别
type ShapeKind int

const (
	// ShapeAny 任意合法 JSON
	ShapeAny ShapeKind = iota
	// ShapeObject JSON 对象
	ShapeObject
	// ShapeVoid 无数据（空或 null）
	ShapeVoid
	// ShapeTyped 可严格解码为某个 Go 类型
	ShapeTyped
)

// Shape 参数或响应的运行时形状描述
//
// 消息跨越了序列化边界，静态类型在运行时不再成立，因此在发送前与
// 调度前各做一次轻量检查。
type Shape struct {
	kind  ShapeKind
	name  string
	check func([]byte) error
}

// Any 任意 JSON
func Any() Shape { return Shape{kind: ShapeAny, name: "any"} }

// Object JSON 对象
func Object() Shape { return Shape{kind: ShapeObject, name: "object"} }

// Void 无数据
func Void() Shape { return Shape{kind: ShapeVoid, name: "void"} }

// TypeOf 必须能严格解码为 T（不允许未知字段）
func TypeOf[T any]() Shape {
	var zero T
	return Shape{
		kind: ShapeTyped,
		name: fmt.Sprintf("%T", zero),
		check: func(data []byte) error {
			var v T
			return StrictUnmarshal(data, &v)
		},
	}
}

// ShapeByName 按名称返回形状（配置文件使用）
func ShapeByName(name string) (Shape, error) {
	switch name {
	case "", "any":
		return Any(), nil
	case "object":
		return Object(), nil
	case "void":
		return Void(), nil
	default:
		return Shape{}, fmt.Errorf("%w: unknown shape %q", ErrInvalidSpec, name)
	}
}

// Kind 形状类别
func (s Shape) Kind() ShapeKind { return s.kind }

// IsVoid 是否无数据
func (s Shape) IsVoid() bool { return s.kind == ShapeVoid }

// String 实现 fmt.Stringer
func (s Shape) String() string {
	if s.name == "" {
		return "any"
	}
	return s.name
}

// Check 检查数据是否符合形状
func (s Shape) Check(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	isNull := len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))

	switch s.kind {
	case ShapeVoid:
		if !isNull {
			return fmt.Errorf("%w: expected no data", ErrShapeMismatch)
		}
	case ShapeObject:
		if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
			return fmt.Errorf("%w: expected JSON object", ErrShapeMismatch)
		}
	case ShapeTyped:
		if err := s.check(trimmed); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrShapeMismatch, s.name, err)
		}
	default:
		if !isNull && !json.Valid(trimmed) {
			return fmt.Errorf("%w: invalid JSON", ErrShapeMismatch)
		}
	}
	return nil
}

// StrictUnmarshal 严格 JSON 解码：拒绝未知字段与尾随数据
func StrictUnmarshal(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("null")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}
