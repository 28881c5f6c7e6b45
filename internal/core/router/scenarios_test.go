package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-xroute/internal/core/command"
	"github.com/dep2p/go-xroute/internal/core/envelope"
	"github.com/dep2p/go-xroute/internal/core/topology"
	"github.com/dep2p/go-xroute/internal/core/transport"
	"github.com/dep2p/go-xroute/internal/core/transport/window"
)

// TestRouter_Handshake 等待就绪的边在握手前缓存发送，握手后按序刷出
func TestRouter_Handshake(t *testing.T) {
	const cs, ps topology.NodeName = "contentScript", "pageScript"
	topo, err := topology.NewBuilder().
		Node(cs, ps).
		Link(cs, ps, topology.Edge{
			Strategy: topology.StrategyWindow, SecureInbound: true, SecureOutbound: true, WaitForReady: true,
		}, topology.OriginSelf, topology.OriginSelf).
		Build()
	require.NoError(t, err)
	schema := command.NewSchema().MustDefine(ps, command.Spec{
		Name: "ping", Origins: []topology.NodeName{cs}, Args: command.Any(), Response: command.Any(),
	})

	net := newTestNet(t, topo, schema)
	page := net.browser.NewWindow("https://page.example")

	newWindowRouter := func(node, peer topology.NodeName, reg prometheus.Registerer) *Router {
		cfg := DefaultConfig()
		cfg.Node = node
		r, err := New(cfg, Params{
			Topology:   topo,
			Schema:     schema,
			Strategies: []transport.Strategy{window.New(page, window.WithPeer(peer, page))},
			Registerer: reg,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = r.Close() })
		return r
	}

	regCS := prometheus.NewRegistry()
	csr := newWindowRouter(cs, ps, regCS)
	psr := newWindowRouter(ps, cs, nil)

	// 内容脚本先启动，页面脚本尚未监听
	listen(t, csr)
	state, ok := csr.EdgeState(ps)
	require.True(t, ok)
	assert.Equal(t, transport.GateConnecting, state)

	type reply struct {
		raw json.RawMessage
		err error
	}
	results := make(chan reply, 3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			raw, err := csr.SendCommand(context.Background(), ps, "ping", map[string]int{"n": i})
			results <- reply{raw, err}
		}()
	}
	require.Eventually(t, func() bool {
		return metricValue(t, regCS, "xroute_router_queued_frames", nil) == 3
	}, waitFor, tick)

	var calls atomic.Int32
	require.NoError(t, psr.AddCommandHandler([]topology.NodeName{cs}, "ping", func(_ context.Context, args json.RawMessage, _ command.Meta) (any, error) {
		calls.Add(1)
		return args, nil
	}))
	listen(t, psr)

	for i := 0; i < 3; i++ {
		select {
		case r := <-results:
			require.NoError(t, r.err)
			assert.Contains(t, string(r.raw), `"n":`)
		case <-time.After(waitFor):
			t.Fatal("握手后请求没有完成")
		}
	}
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, float64(0), metricValue(t, regCS, "xroute_router_queued_frames", nil))

	state, _ = csr.EdgeState(ps)
	assert.Equal(t, transport.GateReady, state)
	require.Eventually(t, func() bool {
		s, _ := psr.EdgeState(cs)
		return s == transport.GateReady
	}, waitFor, tick)
}

// TestRouter_Instances 多实例节点按标签页寻址，响应回到发起实例
func TestRouter_Instances(t *testing.T) {
	const bg, cs topology.NodeName = "background", "contentScript"
	topo, err := topology.NewBuilder().
		SecureOrigins(testExtOrigin).
		Node(bg).
		InstancedNode(cs).
		Link(bg, cs, runtimeSecure, testExtOrigin, testExtOrigin).
		Build()
	require.NoError(t, err)
	schema := command.NewSchema().
		MustDefine(cs, command.Spec{Name: "highlight", Origins: []topology.NodeName{bg}, Args: command.Any(), Response: command.Any()}).
		MustDefine(bg, command.Spec{Name: "whoami", Origins: []topology.NodeName{cs}, Args: command.Void(), Response: command.TypeOf[topology.Instance]()})

	net := newTestNet(t, topo, schema)
	bgr := net.router(bg)
	tab1 := net.router(cs, withInstance(topology.Instance{TabID: 1}))
	tab2 := net.router(cs, withInstance(topology.Instance{TabID: 2}))

	require.NoError(t, bgr.AddCommandHandler([]topology.NodeName{cs}, "whoami",
		func(_ context.Context, _ json.RawMessage, meta command.Meta) (any, error) {
			return meta.Instance, nil
		}))
	for _, r := range []*Router{tab1, tab2} {
		tab := r.Instance().TabID
		require.NoError(t, r.AddCommandHandler([]topology.NodeName{bg}, "highlight",
			func(context.Context, json.RawMessage, command.Meta) (any, error) {
				return tab, nil
			}))
	}
	listen(t, bgr, tab1, tab2)
	ctx := context.Background()

	t.Run("响应回到发起的标签页", func(t *testing.T) {
		got, err := Call[topology.Instance](ctx, tab2, bg, "whoami", nil)
		require.NoError(t, err)
		assert.Equal(t, topology.Instance{TabID: 2}, got)
	})

	t.Run("指定目标实例", func(t *testing.T) {
		got, err := Call[int](ctx, bgr, cs, "highlight", nil, WithTarget(topology.Instance{TabID: 1}))
		require.NoError(t, err)
		assert.Equal(t, 1, got)
	})

	t.Run("多实例节点必须指定实例", func(t *testing.T) {
		_, err := bgr.SendCommand(ctx, cs, "highlight", nil)
		assert.ErrorIs(t, err, transport.ErrInstanceRequired)
		assert.Equal(t, 0, bgr.PendingCount())
	})
}

// TestRouter_RelayFailures 中继无法继续时向发起方回送错误
func TestRouter_RelayFailures(t *testing.T) {
	t.Run("中继没有下一跳的传输", func(t *testing.T) {
		topo, err := topology.NewBuilder().
			SecureOrigins(testExtOrigin).
			Node("a", "b", "c").
			Link("a", "b", runtimeSecure, testExtOrigin, testExtOrigin).
			Link("b", "c", topology.Edge{Strategy: topology.StrategyWindow}).
			Build()
		require.NoError(t, err)
		net := newTestNet(t, topo, pingSchema("c", "a"))
		a, b := net.router("a"), net.router("b")
		listen(t, a, b)

		_, err = a.SendCommand(context.Background(), "c", "ping", pingArgs{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoRoute)
		var re *RemoteError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, topology.NodeName("b"), re.Node)
	})

	t.Run("只接受路径上中继的错误", func(t *testing.T) {
		topo, err := topology.NewBuilder().
			SecureOrigins(testExtOrigin).
			Node("a", "b", "c", "d").
			Link("a", "b", runtimeSecure, testExtOrigin, testExtOrigin).
			Link("b", "c", runtimeSecure, testExtOrigin, testExtOrigin).
			Link("a", "d", runtimeSecure, testExtOrigin, testExtOrigin).
			Build()
		require.NoError(t, err)
		net := newTestNet(t, topo, pingSchema("c", "a"))
		reg := prometheus.NewRegistry()
		a := net.router("a", withRegistry(reg))
		relay := net.rawPeer("b", testExtOrigin, true)
		other := net.rawPeer("d", testExtOrigin, true)
		listen(t, a)

		errCh := make(chan error, 1)
		go func() {
			_, err := a.SendCommand(context.Background(), "c", "ping", pingArgs{}, WithTimeout(time.Minute))
			errCh <- err
		}()
		require.Eventually(t, func() bool { return len(relay.received()) == 1 }, waitFor, tick)
		req := relay.received()[0]

		// d 不在 a -> b -> c 上，它伪造的中继错误被丢弃
		forged := req.Reply(nil, &envelope.Error{Code: envelope.CodeNoRoute, Message: "forged"})
		forged.Source = "d"
		other.send("d", "a", forged)
		require.Eventually(t, func() bool {
			return metricValue(t, reg, "xroute_router_dropped_total", map[string]string{"reason": dropSpoofed}) == 1
		}, waitFor, tick)
		select {
		case err := <-errCh:
			t.Fatalf("请求被伪造的错误结束: %v", err)
		default:
		}

		resp := req.Reply(nil, &envelope.Error{Code: envelope.CodeNoRoute, Message: "c unreachable"})
		resp.Source = "b"
		relay.send("b", "a", resp)

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, ErrNoRoute)
			var re *RemoteError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, topology.NodeName("b"), re.Node)
		case <-time.After(waitFor):
			t.Fatal("等待中继错误超时")
		}
	})

	t.Run("超过最大跳数", func(t *testing.T) {
		topo := chain(t, "a", "b", "c", "d")
		net := newTestNet(t, topo, pingSchema("d", "a"))
		a, b := net.router("a"), net.router("b")
		c := net.router("c", withConfig(func(cfg *Config) { cfg.MaxHops = 1 }))
		d := net.router("d")
		require.NoError(t, d.AddCommandHandler([]topology.NodeName{"a"}, "ping", echo))
		listen(t, a, b, c, d)

		_, err := a.SendCommand(context.Background(), "d", "ping", pingArgs{})
		assert.ErrorIs(t, err, ErrHopLimit)
	})
}

// TestRouter_InboundGuards 去重、格式错误、限流与无主响应
func TestRouter_InboundGuards(t *testing.T) {
	topo := chain(t, "a", "b")

	// 每个子测试使用独立的浏览器，保证 a、b 各只有一个实例
	var net *testNet
	setup := func(t *testing.T, opts ...nodeOpt) (*rawPeer, *prometheus.Registry, *atomic.Int32) {
		net = newTestNet(t, topo, pingSchema("b", "a"))
		reg := prometheus.NewRegistry()
		b := net.router("b", append(opts, withRegistry(reg))...)
		calls := new(atomic.Int32)
		require.NoError(t, b.AddCommandHandler([]topology.NodeName{"a"}, "ping",
			func(context.Context, json.RawMessage, command.Meta) (any, error) {
				calls.Add(1)
				return pong{From: "b"}, nil
			}))
		listen(t, b)
		return net.rawPeer("a", testExtOrigin, true), reg, calls
	}
	dropped := func(t *testing.T, reg *prometheus.Registry, reason string) float64 {
		return metricValue(t, reg, "xroute_router_dropped_total", map[string]string{"reason": reason})
	}

	t.Run("重复请求只调度一次", func(t *testing.T) {
		peer, reg, calls := setup(t)
		req := request("dup-1", "a", "b", "ping", `{"seq":1}`)
		peer.send("a", "b", req)
		peer.send("a", "b", req)

		require.Eventually(t, func() bool { return dropped(t, reg, dropDuplicate) == 1 }, waitFor, tick)
		require.Eventually(t, func() bool { return len(peer.received()) == 1 }, waitFor, tick)
		assert.Equal(t, int32(1), calls.Load())

		resp := peer.received()[0]
		assert.Equal(t, envelope.KindResponse, resp.Kind)
		assert.Equal(t, "dup-1", resp.RequestID)
		assert.Equal(t, topology.NodeName("b"), resp.Source)
		assert.JSONEq(t, `{"from":"b","seq":0}`, string(resp.Payload))
	})

	t.Run("格式错误的帧被丢弃", func(t *testing.T) {
		peer, reg, calls := setup(t)
		require.NoError(t, peer.ep.Send(rtDest("b"), rtMsg("a", "b", []byte{0xff, 0x01, 0x02})))
		require.Eventually(t, func() bool { return dropped(t, reg, dropMalformed) == 1 }, waitFor, tick)
		assert.Equal(t, int32(0), calls.Load())
	})

	t.Run("入站限流", func(t *testing.T) {
		peer, reg, calls := setup(t, withConfig(func(c *Config) {
			c.InboundRate = 0.001
			c.InboundBurst = 1
		}))
		for _, id := range []string{"r1", "r2", "r3"} {
			peer.send("a", "b", request(id, "a", "b", "ping", `{"seq":1}`))
		}
		require.Eventually(t, func() bool { return dropped(t, reg, dropRateLimited) == 2 }, waitFor, tick)
		require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)
	})

	t.Run("伪造来源的帧不消耗合法对端的令牌", func(t *testing.T) {
		peer, reg, calls := setup(t, withConfig(func(c *Config) {
			c.InboundRate = 0.001
			c.InboundBurst = 1
		}))
		// 另一个上下文的页面在 a>b 频道上伪造帧
		evil := net.rawPeer("page", "https://evil.example", false)
		for i := 0; i < 5; i++ {
			evil.send("a", "b", request(fmt.Sprintf("evil-%d", i), "a", "b", "ping", `{"seq":1}`))
		}
		require.Eventually(t, func() bool { return dropped(t, reg, dropInsecure) == 5 }, waitFor, tick)

		peer.send("a", "b", request("legit-1", "a", "b", "ping", `{"seq":1}`))
		require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)
		require.Eventually(t, func() bool { return len(peer.received()) == 1 }, waitFor, tick)
		assert.Equal(t, "legit-1", peer.received()[0].RequestID)
		assert.Equal(t, float64(0), dropped(t, reg, dropRateLimited))
		assert.Empty(t, evil.received())
	})

	t.Run("没有匹配请求的响应被静默丢弃", func(t *testing.T) {
		peer, reg, _ := setup(t)
		resp := request("ghost", "b", "a", "ping", "").Reply([]byte(`{}`), nil)
		peer.send("a", "b", resp)
		require.Eventually(t, func() bool { return dropped(t, reg, dropUnmatched) == 1 }, waitFor, tick)
	})
}
