package router

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-xroute/internal/core/command"
	"github.com/dep2p/go-xroute/internal/core/envelope"
	"github.com/dep2p/go-xroute/internal/core/topology"
	"github.com/dep2p/go-xroute/internal/core/transport"
	"github.com/dep2p/go-xroute/internal/core/transport/memnet"
	rtport "github.com/dep2p/go-xroute/internal/core/transport/runtime"
)

const testExtID = "abcdefghijklmnop"

var testExtOrigin = rtport.ExtensionOriginPrefix + testExtID

// runtimeSecure 扩展内部的安全运行时边
var runtimeSecure = topology.Edge{Strategy: topology.StrategyRuntime, SecureInbound: true, SecureOutbound: true}

// chain 构造 nodes[0] - nodes[1] - ... 的链式拓扑
func chain(t *testing.T, nodes ...topology.NodeName) *topology.Topology {
	t.Helper()
	b := topology.NewBuilder().SecureOrigins(testExtOrigin).Node(nodes...)
	for i := 0; i+1 < len(nodes); i++ {
		b.Link(nodes[i], nodes[i+1], runtimeSecure, testExtOrigin, testExtOrigin)
	}
	topo, err := b.Build()
	require.NoError(t, err)
	return topo
}

// testNet 一组共享同一个进程内浏览器的路由器
type testNet struct {
	t       *testing.T
	browser *memnet.Browser
	topo    *topology.Topology
	schema  *command.Schema
	clock   clock.Clock
}

func newTestNet(t *testing.T, topo *topology.Topology, schema *command.Schema) *testNet {
	t.Helper()
	b := memnet.NewBrowser(testExtID)
	t.Cleanup(b.Close)
	return &testNet{t: t, browser: b, topo: topo, schema: schema, clock: clock.New()}
}

type nodeOpt func(*Config, *Params)

func withInstance(inst topology.Instance) nodeOpt {
	return func(c *Config, _ *Params) { c.Instance = inst }
}

func withRegistry(reg prometheus.Registerer) nodeOpt {
	return func(_ *Config, p *Params) { p.Registerer = reg }
}

func withConfig(fn func(*Config)) nodeOpt {
	return func(c *Config, _ *Params) { fn(c) }
}

// router 在浏览器中创建一个运行时上下文及其路由器（未启动）
func (n *testNet) router(node topology.NodeName, opts ...nodeOpt) *Router {
	n.t.Helper()
	cfg := DefaultConfig()
	cfg.Node = node
	p := Params{Topology: n.topo, Schema: n.schema, Clock: n.clock}
	for _, opt := range opts {
		opt(&cfg, &p)
	}
	ep := n.browser.Runtime(node, cfg.Instance, testExtOrigin, true)
	p.Strategies = []transport.Strategy{rtport.New(ep, testExtID)}

	r, err := New(cfg, p)
	require.NoError(n.t, err)
	n.t.Cleanup(func() { _ = r.Close() })
	return r
}

// listen 启动并开始监听
func listen(t *testing.T, routers ...*Router) {
	t.Helper()
	for _, r := range routers {
		require.NoError(t, r.Start(context.Background()))
		require.NoError(t, r.RegisterListeners(context.Background()))
	}
}

// ============================================================================
//                              原始对端
// ============================================================================

// rawPeer 不运行路由器、直接收发帧的上下文，用来构造异常输入
type rawPeer struct {
	t     *testing.T
	ep    *memnet.Endpoint
	node  topology.NodeName
	codec envelope.Codec

	mu  sync.Mutex
	got []*envelope.Envelope
}

func (n *testNet) rawPeer(node topology.NodeName, origin string, extension bool) *rawPeer {
	rp := &rawPeer{
		t:     n.t,
		ep:    n.browser.Runtime(node, topology.Instance{}, origin, extension),
		node:  node,
		codec: envelope.DefaultCodec(),
	}
	rp.ep.Listen(func(msg rtport.Message, _ transport.Sender) {
		env, err := rp.codec.Unmarshal(msg.Data)
		if err != nil {
			return
		}
		rp.mu.Lock()
		rp.got = append(rp.got, env)
		rp.mu.Unlock()
	})
	return rp
}

// send 以 channel "from>to" 向 to 发送一个信封
func (rp *rawPeer) send(from, to topology.NodeName, env *envelope.Envelope) {
	rp.t.Helper()
	data, err := rp.codec.Marshal(env)
	require.NoError(rp.t, err)
	require.NoError(rp.t, rp.ep.Send(rtDest(to), rtMsg(from, to, data)))
}

func rtDest(node topology.NodeName) rtport.Destination {
	return rtport.Destination{Node: node}
}

func rtMsg(from, to topology.NodeName, data []byte) rtport.Message {
	return rtport.Message{Channel: transport.ChannelName(from, to), Data: data}
}

func (rp *rawPeer) received() []*envelope.Envelope {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return append([]*envelope.Envelope(nil), rp.got...)
}

func request(id string, src, dst topology.NodeName, cmd string, payload string) *envelope.Envelope {
	env := &envelope.Envelope{
		RequestID:      id,
		Kind:           envelope.KindRequest,
		Source:         src,
		Destination:    dst,
		Command:        cmd,
		ExpectResponse: true,
	}
	if payload != "" {
		env.Payload = []byte(payload)
	}
	return env
}

// ============================================================================
//                              辅助
// ============================================================================

// metricValue 读取注册表中计数器或仪表的值
func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for k, v := range labels {
				found := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == k && lp.GetValue() == v {
						found = true
					}
				}
				if !found {
					continue next
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	return 0
}

// echo 返回参数本身的处理器
func echo(_ context.Context, args json.RawMessage, _ command.Meta) (any, error) {
	return args, nil
}

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond
