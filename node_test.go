package xroute

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-xroute/config"
	"github.com/dep2p/go-xroute/internal/core/transport/memnet"
	rtport "github.com/dep2p/go-xroute/internal/core/transport/runtime"
	"github.com/dep2p/go-xroute/internal/core/transport/wsbridge"
)

const testExtID = "abcdefghijklmnop"

// relayYAML popup - background - contentScript 链式拓扑
const relayYAML = `
secureOrigins: ["chrome-extension://abcdefghijklmnop"]
nodes:
  popup: {}
  background: {}
  contentScript: {}
edges:
  popup:
    background: {strategy: runtime, secure: true, origin: "chrome-extension://abcdefghijklmnop"}
  background:
    popup: {strategy: runtime, secure: true, origin: "chrome-extension://abcdefghijklmnop"}
    contentScript: {strategy: runtime, secure: true, origin: "chrome-extension://abcdefghijklmnop"}
  contentScript:
    background: {strategy: runtime, secure: true, origin: "chrome-extension://abcdefghijklmnop"}
commands:
  contentScript:
    countWords: {origins: [popup], args: object, response: any}
  background:
    flush: {origins: [popup], args: void, response: void}
router:
  defaultTimeout: 2s
`

type countArgs struct {
	Text string `json:"text"`
}

type countResult struct {
	Words int    `json:"words"`
	Via   string `json:"via"`
}

func loadRelayConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.FromYAML([]byte(relayYAML))
	require.NoError(t, err)
	return cfg
}

// newTestNode 在 browser 中创建一个运行时上下文并构造节点（未启动）
func newTestNode(t *testing.T, b *memnet.Browser, cfg *config.Config, name NodeName, opts ...Option) *Node {
	t.Helper()
	ep := b.Runtime(name, Instance{}, rtport.ExtensionOriginPrefix+testExtID, true)
	base := []Option{
		WithConfig(cfg),
		WithNode(name),
		WithStrategy(rtport.New(ep, testExtID)),
		WithRegisterer(prometheus.NewRegistry()),
	}
	n, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func TestNew_Options(t *testing.T) {
	cfg := loadRelayConfig(t)

	t.Run("缺少节点名", func(t *testing.T) {
		_, err := New(WithConfig(cfg))
		assert.ErrorIs(t, err, ErrNodeRequired)
	})

	t.Run("缺少拓扑", func(t *testing.T) {
		_, err := New(WithNode("popup"))
		assert.ErrorIs(t, err, ErrNoTopology)
	})

	t.Run("未知预设", func(t *testing.T) {
		_, err := New(WithConfig(cfg), WithNode("popup"), WithPreset("turbo"))
		assert.Error(t, err)
	})

	t.Run("拓扑中不存在的节点", func(t *testing.T) {
		_, err := New(WithConfig(cfg), WithNode("sidebar"))
		assert.Error(t, err)
	})

	t.Run("非法参数", func(t *testing.T) {
		_, err := New(WithConfig(cfg), WithNode("popup"), WithDefaultTimeout(0))
		assert.Error(t, err)
		_, err = New(WithConfig(cfg), WithNode("popup"), WithMaxHops(0))
		assert.Error(t, err)
		_, err = New(WithConfig(cfg), WithNode("popup"), WithCodec("xml"))
		assert.Error(t, err)
	})

	t.Run("路径在构造时解析", func(t *testing.T) {
		b := memnet.NewBrowser(testExtID)
		t.Cleanup(b.Close)
		n := newTestNode(t, b, cfg, "popup")

		p, err := n.Route("contentScript")
		require.NoError(t, err)
		assert.Equal(t, "popup -> background -> contentScript", p.String())
		assert.Contains(t, n.Routes(), NodeName("background"))
	})

	t.Run("直接提供拓扑", func(t *testing.T) {
		b := memnet.NewBrowser(testExtID)
		t.Cleanup(b.Close)
		topo, schema, err := cfg.Build()
		require.NoError(t, err)

		ep := b.Runtime("background", Instance{}, rtport.ExtensionOriginPrefix+testExtID, true)
		n, err := New(WithTopology(topo), WithSchema(schema), WithNode("background"),
			WithStrategy(rtport.New(ep, testExtID)))
		require.NoError(t, err)
		defer n.Close()
		assert.Equal(t, NodeName("background"), n.Name())
		assert.Same(t, topo, n.Topology())
	})

	t.Run("缺少传输策略时不可达", func(t *testing.T) {
		_, err := New(WithConfig(cfg), WithNode("popup"))
		assert.ErrorIs(t, err, ErrNoRoute)
	})
}

func TestNode_Lifecycle(t *testing.T) {
	b := memnet.NewBrowser(testExtID)
	t.Cleanup(b.Close)
	n := newTestNode(t, b, loadRelayConfig(t), "background")

	ctx := context.Background()
	assert.Equal(t, StateIdle, n.State())

	_, err := n.SendCommand(ctx, "popup", "anything", nil)
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, n.AddCommandHandler([]NodeName{"popup"}, "flush", func(context.Context, json.RawMessage, Meta) (any, error) {
		return nil, nil
	}))
	err = n.AddCommandHandler([]NodeName{"popup"}, "flush", func(context.Context, json.RawMessage, Meta) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrHandlerAlreadyRegistered)
	err = n.AddCommandHandler([]NodeName{"popup"}, "reboot", func(context.Context, json.RawMessage, Meta) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrCommandNotInSchema)

	require.NoError(t, n.Start(ctx))
	assert.Equal(t, StateRunning, n.State())
	assert.Equal(t, "running", n.State().String())
	assert.Equal(t, []string{"flush"}, n.Commands())

	assert.ErrorIs(t, n.Start(ctx), ErrAlreadyStarted)
	err = n.AddCommandHandler([]NodeName{"popup"}, "other", func(context.Context, json.RawMessage, Meta) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrAlreadyStarted)

	require.NoError(t, n.Close())
	require.NoError(t, n.Close())
	assert.Equal(t, StateStopped, n.State())
	assert.ErrorIs(t, n.Start(ctx), ErrNodeClosed)

	_, err = n.SendCommand(ctx, "popup", "anything", nil)
	assert.ErrorIs(t, err, ErrNodeClosed)
}

func TestNode_CloseBeforeStart(t *testing.T) {
	b := memnet.NewBrowser(testExtID)
	t.Cleanup(b.Close)
	n := newTestNode(t, b, loadRelayConfig(t), "background")

	require.NoError(t, n.Close())
	assert.Equal(t, StateStopped, n.State())
}

func TestNode_RelayedCall(t *testing.T) {
	cfg := loadRelayConfig(t)
	b := memnet.NewBrowser(testExtID)
	t.Cleanup(b.Close)
	ctx := context.Background()

	cs := newTestNode(t, b, cfg, "contentScript")
	require.NoError(t, Handle(cs, []NodeName{"popup"}, "countWords",
		func(_ context.Context, args countArgs, meta Meta) (countResult, error) {
			words := 0
			inWord := false
			for _, r := range args.Text {
				if r == ' ' {
					inWord = false
					continue
				}
				if !inWord {
					words++
					inWord = true
				}
			}
			via := ""
			if len(meta.Hops) > 0 {
				via = string(meta.Hops[0])
			}
			return countResult{Words: words, Via: via}, nil
		}))

	flushed := make(chan struct{}, 1)
	bg := newTestNode(t, b, cfg, "background", WithHandler([]NodeName{"popup"}, "flush",
		func(context.Context, json.RawMessage, Meta) (any, error) {
			flushed <- struct{}{}
			return nil, nil
		}))
	popup := newTestNode(t, b, cfg, "popup", WithPreset("test"))

	for _, n := range []*Node{cs, bg, popup} {
		require.NoError(t, n.Start(ctx))
	}

	t.Run("经中继的强类型调用", func(t *testing.T) {
		got, err := Call[countResult](ctx, popup, "contentScript", "countWords", countArgs{Text: "one two  three"})
		require.NoError(t, err)
		assert.Equal(t, countResult{Words: 3, Via: "background"}, got)
	})

	t.Run("参数形状不符", func(t *testing.T) {
		_, err := popup.SendCommand(ctx, "contentScript", "countWords", []int{1, 2})
		assert.ErrorIs(t, err, ErrInvalidArgs)
	})

	t.Run("来源不被允许", func(t *testing.T) {
		_, err := bg.SendCommand(ctx, "contentScript", "countWords", countArgs{})
		assert.ErrorIs(t, err, ErrOriginNotAllowed)
	})

	t.Run("未定义的命令", func(t *testing.T) {
		_, err := popup.SendCommand(ctx, "background", "reboot", nil)
		assert.ErrorIs(t, err, ErrUnknownCommand)
	})

	t.Run("不等待回执", func(t *testing.T) {
		raw, err := popup.SendCommand(ctx, "background", "flush", nil, WithConfirmReceipt(false))
		require.NoError(t, err)
		assert.Nil(t, raw)
		select {
		case <-flushed:
		case <-time.After(2 * time.Second):
			t.Fatal("flush handler not invoked")
		}
	})

	t.Run("等待回执", func(t *testing.T) {
		_, err := popup.SendCommand(ctx, "background", "flush", nil, WithRequestTimeout(time.Second))
		require.NoError(t, err)
		<-flushed
	})
}

func TestNode_Introspect(t *testing.T) {
	b := memnet.NewBrowser(testExtID)
	t.Cleanup(b.Close)
	n := newTestNode(t, b, loadRelayConfig(t), "background", WithIntrospect("127.0.0.1:0"))
	require.NoError(t, n.Start(context.Background()))

	resp, err := http.Get("http://" + n.IntrospectAddr() + "/debug/introspect/routes")
	require.NoError(t, err)
	defer resp.Body.Close()

	var routes map[string]map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&routes))
	assert.Equal(t, "background -> popup", routes["background"]["popup"])
}

// hostedYAML 扩展后台与浏览器外的托管后台
const hostedYAML = `
secureOrigins: ["chrome-extension://abcdefghijklmnop", "https://app.example"]
nodes:
  background: {}
  hostedBackground: {}
edges:
  background:
    hostedBackground: {strategy: runtime, secure: true, origin: "https://app.example"}
  hostedBackground:
    background: {strategy: runtime, secure: true, origin: "chrome-extension://abcdefghijklmnop"}
commands:
  background:
    getSettings: {origins: [hostedBackground], args: void, response: object}
  hostedBackground:
    notify: {origins: [background], args: object, response: object}
`

func TestNode_Bridge(t *testing.T) {
	cfg, err := config.FromYAML([]byte(hostedYAML))
	require.NoError(t, err)
	ctx := context.Background()

	hubCfg := wsbridge.DefaultHubConfig()
	hubCfg.ExtensionID = testExtID
	hubCfg.AllowedOrigins = []string{"https://app.example"}
	hub := wsbridge.NewHub(hubCfg)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		_ = hub.Close()
		srv.Close()
	})
	hubURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	port, err := hub.Port("background", Instance{}, rtport.ExtensionOriginPrefix+testExtID)
	require.NoError(t, err)
	bg, err := New(WithConfig(cfg), WithNode("background"), WithStrategy(rtport.New(port, testExtID)),
		WithHandler([]NodeName{"hostedBackground"}, "getSettings",
			func(_ context.Context, _ json.RawMessage, meta Meta) (any, error) {
				return map[string]string{"theme": "dark", "caller": string(meta.Source)}, nil
			}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bg.Close() })

	bridge := BridgeConfig{URL: hubURL, Origin: "https://app.example", ExtensionID: testExtID, DialTimeout: 2 * time.Second}
	hosted, err := New(WithConfig(cfg), WithNode("hostedBackground"), WithBridge(bridge),
		WithHandler([]NodeName{"background"}, "notify",
			func(_ context.Context, args json.RawMessage, _ Meta) (any, error) {
				return args, nil
			}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = hosted.Close() })

	require.NoError(t, bg.Start(ctx))
	require.NoError(t, hosted.Start(ctx))

	t.Run("托管后台经 hub 调用扩展后台", func(t *testing.T) {
		got, err := Call[map[string]string](ctx, hosted, "background", "getSettings", nil)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"theme": "dark", "caller": "hostedBackground"}, got)
	})

	t.Run("扩展后台经 hub 调用托管后台", func(t *testing.T) {
		got, err := Call[map[string]int](ctx, bg, "hostedBackground", "notify", map[string]int{"unread": 3})
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"unread": 3}, got)
	})

	t.Run("hub 不可达时启动失败", func(t *testing.T) {
		unreachable := BridgeConfig{URL: "ws://127.0.0.1:1/bridge", Origin: "https://app.example",
			ExtensionID: testExtID, DialTimeout: time.Second}
		_, err := Start(ctx, WithConfig(cfg), WithNode("hostedBackground"), WithBridge(unreachable))
		assert.Error(t, err)
	})

	t.Run("配置缺少地址", func(t *testing.T) {
		_, err := New(WithConfig(cfg), WithNode("hostedBackground"), WithBridge(BridgeConfig{Origin: "https://app.example"}))
		assert.ErrorIs(t, err, wsbridge.ErrBadIdentity)
	})
}

func TestVersionInfo(t *testing.T) {
	assert.Contains(t, VersionInfo(), Version)

	GitCommit = "0123456789abcdef"
	defer func() { GitCommit = "" }()
	assert.Contains(t, VersionInfo(), "(01234567)")
}
