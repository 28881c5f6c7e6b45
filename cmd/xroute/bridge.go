package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/dep2p/go-xroute"
	"github.com/dep2p/go-xroute/config"
	"github.com/dep2p/go-xroute/internal/core/introspect"
	"github.com/dep2p/go-xroute/internal/core/topology"
	rtport "github.com/dep2p/go-xroute/internal/core/transport/runtime"
	"github.com/dep2p/go-xroute/internal/core/transport/wsbridge"
	"github.com/dep2p/go-xroute/internal/sim"
)

func newBridgeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bridge <file>",
		Short: "Serve a websocket runtime hub and run the given nodes on it",
		Long: `Serve a websocket hub that plays the extension runtime for contexts living
outside the browser. Nodes named with --node run inside this process with echo
handlers; remote contexts connect to the printed URL with ?node=<name>.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, args[0])
			if err != nil {
				return err
			}
			nodes, _ := cmd.Flags().GetStringSlice("node")
			allow, _ := cmd.Flags().GetStringSlice("allow-origin")

			b, err := newBridgeServer(cfg, bridgeOptions{
				listen:       flagOrViperString(cmd, v, "listen", "bridge.listen"),
				path:         flagOrViperString(cmd, v, "path", "bridge.path"),
				extensionID:  flagOrViperString(cmd, v, "extension-id", "bridge.extension_id"),
				nodes:        nodes,
				allowOrigins: allow,
			})
			if err != nil {
				return err
			}
			defer b.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := b.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "bridge listening on %s (local nodes: %s)\n",
				b.URL(), strings.Join(nodes, ", "))

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().String("listen", "127.0.0.1:8787", "Address to listen on.")
	cmd.Flags().String("path", "/bridge", "HTTP path of the websocket hub.")
	cmd.Flags().StringSlice("node", nil, "Node to run locally on the hub (repeatable).")
	cmd.Flags().String("extension-id", "", "Extension ID (inferred from secureOrigins when empty).")
	cmd.Flags().StringSlice("allow-origin", nil, "Extra origin allowed to connect (secureOrigins are always allowed).")
	return cmd
}

// ════════════════════════════════════════════════════════════════════════════
//                              bridge 服务
// ════════════════════════════════════════════════════════════════════════════

type bridgeOptions struct {
	listen       string
	path         string
	extensionID  string
	nodes        []string
	allowOrigins []string
}

// bridgeServer hub、本地节点与诊断接口共用一个 HTTP 监听
type bridgeServer struct {
	opts  bridgeOptions
	hub   *wsbridge.Hub
	nodes []*xroute.Node
	ports []*wsbridge.LocalPort
	diag  *introspect.Server

	ln  net.Listener
	srv *http.Server
}

func newBridgeServer(cfg *config.Config, o bridgeOptions) (*bridgeServer, error) {
	if len(o.nodes) == 0 {
		return nil, errors.New("at least one --node is required")
	}
	if o.path == "" || !strings.HasPrefix(o.path, "/") {
		return nil, fmt.Errorf("invalid hub path %q", o.path)
	}
	topo, schema, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	extID := o.extensionID
	if extID == "" {
		extID = sim.ExtensionIDOf(topo)
	}
	hubCfg := wsbridge.DefaultHubConfig()
	hubCfg.ExtensionID = extID
	hubCfg.AllowedOrigins = append(append([]string(nil), topo.SecureOrigins()...), o.allowOrigins...)

	b := &bridgeServer{opts: o, hub: wsbridge.NewHub(hubCfg)}
	reg := prometheus.NewRegistry()
	extOrigin := rtport.ExtensionOriginPrefix + extID

	var sources []introspect.Source
	for _, raw := range o.nodes {
		name := topology.NodeName(raw)
		if _, ok := topo.Node(name); !ok {
			_ = b.Close()
			return nil, fmt.Errorf("node %q is not in the topology", raw)
		}

		// 本地节点使用相邻节点为它声明的 origin，未声明时视为扩展上下文
		origin := sim.DeclaredOrigin(topo, name, topology.StrategyRuntime)
		if origin == "" {
			origin = extOrigin
		}
		port, err := b.hub.Port(name, topology.Instance{}, origin)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.ports = append(b.ports, port)

		nodeOpts := []xroute.Option{
			xroute.WithConfig(cfg),
			xroute.WithTopology(topo),
			xroute.WithSchema(schema),
			xroute.WithNode(name),
			xroute.WithStrategy(rtport.New(port, extID)),
			xroute.WithRegisterer(reg),
		}
		for _, spec := range schema.Commands(name) {
			nodeOpts = append(nodeOpts, xroute.WithHandler(spec.Origins, spec.Name, sim.Echo(name, spec)))
		}
		n, err := xroute.New(nodeOpts...)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("node %s: %w", name, err)
		}
		b.nodes = append(b.nodes, n)
		sources = append(sources, n.Router())
	}

	b.diag = introspect.New(introspect.Config{Sources: sources, Gatherer: reg})
	return b, nil
}

// Start 监听并启动本地节点
func (b *bridgeServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", b.opts.listen)
	if err != nil {
		return err
	}
	b.ln = ln

	mux := http.NewServeMux()
	mux.Handle(b.opts.path, b.hub)
	mux.Handle("/", b.diag.Handler())
	// websocket 连接被接管后不受写超时影响，这里只限制读请求头
	b.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := b.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("bridge 服务异常退出", "err", err)
		}
	}()

	for _, n := range b.nodes {
		if err := n.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", n.Name(), err)
		}
	}
	log.Info("bridge 已启动", "addr", ln.Addr().String(), "path", b.opts.path, "nodes", len(b.nodes))
	return nil
}

// Addr 实际监听地址
func (b *bridgeServer) Addr() string {
	if b.ln == nil {
		return b.opts.listen
	}
	return b.ln.Addr().String()
}

// URL 远端上下文连接使用的 websocket 地址
func (b *bridgeServer) URL() string {
	return "ws://" + b.Addr() + b.opts.path
}

// Close 依次关闭本地节点、hub 与 HTTP 服务
func (b *bridgeServer) Close() error {
	var errs error
	for _, n := range b.nodes {
		errs = multierr.Append(errs, n.Close())
	}
	for _, p := range b.ports {
		errs = multierr.Append(errs, p.Close())
	}
	errs = multierr.Append(errs, b.hub.Close())
	if b.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = multierr.Append(errs, b.srv.Shutdown(ctx))
	}
	return errs
}
