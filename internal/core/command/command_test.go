package command

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-xroute/internal/core/topology"
)

type domainSettings struct {
	Domain  string `json:"domain"`
	Enabled bool   `json:"enabled"`
}

func testSchema(t *testing.T) *Schema {
	t.Helper()
	s := NewSchema()
	require.NoError(t, s.Define("background", Spec{
		Name:     "setDomainSettings",
		Origins:  []topology.NodeName{"app", "hud"},
		Args:     TypeOf[domainSettings](),
		Response: Void(),
	}))
	require.NoError(t, s.Define("background", Spec{
		Name:     "getTags",
		Origins:  []topology.NodeName{"pageScript"},
		Args:     Object(),
		Response: Any(),
	}))
	require.NoError(t, s.Define("pageScript", Spec{
		Name:    "highlight",
		Origins: []topology.NodeName{"background"},
	}))
	return s
}

func noop(context.Context, json.RawMessage, Meta) (any, error) { return nil, nil }

// ============================================================================
//                              形状测试
// ============================================================================

func TestShape_Check(t *testing.T) {
	t.Run("void", func(t *testing.T) {
		assert.NoError(t, Void().Check(nil))
		assert.NoError(t, Void().Check([]byte(" null ")))
		assert.ErrorIs(t, Void().Check([]byte(`{}`)), ErrShapeMismatch)
	})

	t.Run("object", func(t *testing.T) {
		assert.NoError(t, Object().Check([]byte(`{"a":1}`)))
		assert.ErrorIs(t, Object().Check([]byte(`[1]`)), ErrShapeMismatch)
		assert.ErrorIs(t, Object().Check([]byte(`{"a":`)), ErrShapeMismatch)
		assert.ErrorIs(t, Object().Check(nil), ErrShapeMismatch)
	})

	t.Run("any", func(t *testing.T) {
		assert.NoError(t, Any().Check(nil))
		assert.NoError(t, Any().Check([]byte(`"x"`)))
		assert.ErrorIs(t, Any().Check([]byte(`nope`)), ErrShapeMismatch)
	})

	t.Run("typed 严格解码", func(t *testing.T) {
		shape := TypeOf[domainSettings]()
		assert.NoError(t, shape.Check([]byte(`{"domain":"x.com","enabled":true}`)))
		assert.ErrorIs(t, shape.Check([]byte(`{"domain":"x.com","extra":1}`)), ErrShapeMismatch)
		assert.ErrorIs(t, shape.Check([]byte(`{"domain":1}`)), ErrShapeMismatch)
		assert.ErrorIs(t, shape.Check([]byte(`{} {}`)), ErrShapeMismatch)
		assert.Equal(t, "command.domainSettings", shape.String())
	})

	t.Run("按名称", func(t *testing.T) {
		s, err := ShapeByName("void")
		require.NoError(t, err)
		assert.True(t, s.IsVoid())

		_, err = ShapeByName("tuple")
		assert.ErrorIs(t, err, ErrInvalidSpec)
	})
}

// ============================================================================
//                              命令表测试
// ============================================================================

func TestSchema(t *testing.T) {
	s := testSchema(t)

	t.Run("重复定义", func(t *testing.T) {
		err := s.Define("background", Spec{Name: "getTags", Origins: []topology.NodeName{"app"}})
		assert.ErrorIs(t, err, ErrDuplicateCommand)
	})

	t.Run("缺少来源", func(t *testing.T) {
		err := s.Define("background", Spec{Name: "orphan"})
		assert.ErrorIs(t, err, ErrInvalidSpec)
	})

	t.Run("查询", func(t *testing.T) {
		spec, ok := s.Lookup("background", "setDomainSettings")
		require.True(t, ok)
		assert.True(t, spec.Allows("app"))
		assert.False(t, spec.Allows("pageScript"))

		names := []string{}
		for _, c := range s.Commands("background") {
			names = append(names, c.Name)
		}
		assert.Equal(t, []string{"getTags", "setDomainSettings"}, names)
	})

	t.Run("通信对端", func(t *testing.T) {
		assert.Equal(t, []topology.NodeName{"app", "hud", "pageScript"}, s.Peers("background"))
		assert.Equal(t, []topology.NodeName{"background"}, s.Peers("pageScript"))
		assert.Equal(t, []topology.NodeName{"background"}, s.Peers("hud"))
	})

	t.Run("引用未知节点", func(t *testing.T) {
		topo, err := topology.NewBuilder().Node("background", "pageScript").
			Link("background", "pageScript", topology.Edge{Strategy: topology.StrategyRuntime}).
			Build()
		require.NoError(t, err)
		assert.ErrorIs(t, s.Validate(topo), topology.ErrUnknownNode)
	})
}

func TestSchemaFromFile(t *testing.T) {
	s, err := SchemaFromFile(map[string]map[string]FileSpec{
		"background": {
			"ping": {Origins: []string{"app"}, Response: "object"},
		},
	})
	require.NoError(t, err)

	spec, ok := s.Lookup("background", "ping")
	require.True(t, ok)
	assert.Equal(t, ShapeAny, spec.Args.Kind())
	assert.Equal(t, ShapeObject, spec.Response.Kind())

	_, err = SchemaFromFile(map[string]map[string]FileSpec{
		"background": {"ping": {Origins: []string{"app"}, Args: "blob"}},
	})
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

// ============================================================================
//                              注册表测试
// ============================================================================

func TestRegistry_Register(t *testing.T) {
	s := testSchema(t)

	t.Run("正常注册", func(t *testing.T) {
		r := NewRegistry("background", s)
		require.NoError(t, r.Register([]topology.NodeName{"app"}, "setDomainSettings", noop))

		reg, ok := r.Get("setDomainSettings")
		require.True(t, ok)
		assert.Equal(t, []topology.NodeName{"app"}, reg.Origins())
		assert.Equal(t, []string{"setDomainSettings"}, r.List())
	})

	t.Run("命令不在命令表", func(t *testing.T) {
		r := NewRegistry("background", s)
		err := r.Register([]topology.NodeName{"app"}, "launchMissiles", noop)
		assert.ErrorIs(t, err, ErrCommandNotInSchema)
	})

	t.Run("命令属于其他节点", func(t *testing.T) {
		r := NewRegistry("background", s)
		err := r.Register([]topology.NodeName{"background"}, "highlight", noop)
		assert.ErrorIs(t, err, ErrCommandNotInSchema)
	})

	t.Run("来源超出命令表", func(t *testing.T) {
		r := NewRegistry("background", s)
		err := r.Register([]topology.NodeName{"app", "pageScript"}, "setDomainSettings", noop)
		assert.ErrorIs(t, err, ErrOriginNotInSchema)
	})

	t.Run("空来源", func(t *testing.T) {
		r := NewRegistry("background", s)
		err := r.Register(nil, "setDomainSettings", noop)
		assert.ErrorIs(t, err, ErrOriginNotInSchema)
	})

	t.Run("重复注册", func(t *testing.T) {
		r := NewRegistry("background", s)
		require.NoError(t, r.Register([]topology.NodeName{"app"}, "setDomainSettings", noop))
		err := r.Register([]topology.NodeName{"hud"}, "setDomainSettings", noop)
		assert.ErrorIs(t, err, ErrHandlerAlreadyRegistered)
	})

	t.Run("封存后拒绝", func(t *testing.T) {
		r := NewRegistry("background", s)
		r.Seal()
		err := r.Register([]topology.NodeName{"app"}, "setDomainSettings", noop)
		assert.ErrorIs(t, err, ErrRegistrySealed)
	})

	t.Run("注销与清空", func(t *testing.T) {
		r := NewRegistry("background", s)
		require.NoError(t, r.Register([]topology.NodeName{"app"}, "setDomainSettings", noop))
		require.NoError(t, r.Unregister("setDomainSettings"))
		assert.ErrorIs(t, r.Unregister("setDomainSettings"), ErrHandlerNotFound)

		require.NoError(t, r.Register([]topology.NodeName{"pageScript"}, "getTags", noop))
		r.Clear()
		assert.Empty(t, r.List())
	})
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry("background", testSchema(t))
	require.NoError(t, r.Register([]topology.NodeName{"app"}, "setDomainSettings", noop))

	_, err := r.Resolve("setDomainSettings", "app")
	assert.NoError(t, err)

	// hud 在命令表中被允许，但处理器只接受 app
	_, err = r.Resolve("setDomainSettings", "hud")
	assert.ErrorIs(t, err, ErrOriginNotAllowed)

	_, err = r.Resolve("getTags", "pageScript")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

// ============================================================================
//                              类型化辅助测试
// ============================================================================

func TestTyped(t *testing.T) {
	h := Typed(func(_ context.Context, args domainSettings, meta Meta) (string, error) {
		if !args.Enabled {
			return "", errors.New("disabled")
		}
		return args.Domain + "@" + string(meta.Source), nil
	})

	out, err := h(context.Background(), json.RawMessage(`{"domain":"x.com","enabled":true}`), Meta{Source: "app"})
	require.NoError(t, err)
	assert.Equal(t, "x.com@app", out)

	_, err = h(context.Background(), json.RawMessage(`{"domain":"x.com","bogus":true}`), Meta{})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = h(context.Background(), json.RawMessage(`{"domain":"x.com"}`), Meta{})
	assert.EqualError(t, err, "disabled")
}

func TestDecode(t *testing.T) {
	v, err := Decode[[]string](json.RawMessage(`["a","b"]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, v)

	empty, err := Decode[*domainSettings](nil)
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = Decode[int](json.RawMessage(`"x"`))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}
