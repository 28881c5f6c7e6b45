package main

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-xroute"
	"github.com/dep2p/go-xroute/config"
	rtport "github.com/dep2p/go-xroute/internal/core/transport/runtime"
	"github.com/dep2p/go-xroute/internal/sim"
)

func TestBridgeServer(t *testing.T) {
	cfg, err := config.FromYAML([]byte(chainYAML))
	require.NoError(t, err)
	ctx := context.Background()

	b, err := newBridgeServer(cfg, bridgeOptions{
		listen: "127.0.0.1:0",
		path:   "/bridge",
		nodes:  []string{"background", "contentScript"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	require.NoError(t, b.Start(ctx))

	popup, err := xroute.Start(ctx,
		xroute.WithConfig(cfg),
		xroute.WithNode("popup"),
		xroute.WithBridge(xroute.BridgeConfig{
			URL:         b.URL(),
			Origin:      rtport.ExtensionOriginPrefix + sim.DefaultExtensionID,
			ExtensionID: sim.DefaultExtensionID,
			DialTimeout: 2 * time.Second,
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = popup.Close() })

	t.Run("远端节点经 hub 上的中继调用本地节点", func(t *testing.T) {
		got, err := xroute.Call[map[string]any](ctx, popup, "contentScript", "scrape", map[string]string{"url": "x"})
		require.NoError(t, err)
		assert.Equal(t, "contentScript", got["node"])
		assert.Equal(t, "popup", got["source"])
		assert.Equal(t, float64(1), got["hops"])
	})

	t.Run("同一监听上的诊断接口", func(t *testing.T) {
		resp, err := http.Get("http://" + b.Addr() + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		var health struct {
			Status string `json:"status"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
		assert.Equal(t, "ok", health.Status)
	})
}

func TestBridgeCmd_Errors(t *testing.T) {
	path := writeConfig(t, chainYAML)

	t.Run("缺少本地节点", func(t *testing.T) {
		_, err := run(t, "bridge", path)
		assert.Error(t, err)
	})

	t.Run("未知节点", func(t *testing.T) {
		_, err := run(t, "bridge", "--node", "sidebar", path)
		assert.Error(t, err)
	})

	t.Run("非法路径", func(t *testing.T) {
		_, err := run(t, "bridge", "--node", "background", "--path", "bridge", path)
		assert.Error(t, err)
	})
}
