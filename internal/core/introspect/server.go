// Package introspect 提供本地自省 HTTP 服务
//
// 该服务运行在本地端口，提供 JSON 格式的路由诊断信息与 Prometheus 指标，
// 用于调试和监控。默认绑定到 127.0.0.1，不暴露到网络。
//
// 端点：
//   - GET /debug/introspect        - 全部节点的诊断报告 (JSON)
//   - GET /debug/introspect/routes - 路由表
//   - GET /metrics                 - Prometheus 指标
//   - GET /debug/pprof/*           - Go pprof 端点
//   - GET /health                  - 健康检查
package introspect

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dep2p/go-xroute/internal/core/topology"
	"github.com/dep2p/go-xroute/internal/core/transport"
	"github.com/dep2p/go-xroute/internal/util/logger"
)

var log = logger.Logger("introspect")

// DefaultAddr 默认监听地址
const DefaultAddr = "127.0.0.1:6060"

// Source 被诊断的路由器
type Source interface {
	Node() topology.NodeName
	Instance() topology.Instance
	Listening() bool
	Routes() map[topology.NodeName]topology.Path
	EdgeStates() map[topology.NodeName]transport.GateState
	Commands() []string
	PendingCount() int
}

// Server 本地自省 HTTP 服务
type Server struct {
	sources  []Source
	gatherer prometheus.Gatherer
	addr     string

	server   *http.Server
	listener net.Listener

	running bool
	mu      sync.Mutex
}

// Config 服务配置
type Config struct {
	// Addr 监听地址，默认 "127.0.0.1:6060"
	Addr string

	// Sources 被诊断的路由器
	Sources []Source

	// Gatherer 指标来源（可选，为空时不提供 /metrics）
	Gatherer prometheus.Gatherer
}

// New 创建自省服务
func New(cfg Config) *Server {
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{
		sources:  cfg.Sources,
		gatherer: cfg.Gatherer,
		addr:     addr,
	}
}

// Handler 返回服务的路由
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/introspect", s.handleIntrospect)
	mux.HandleFunc("/debug/introspect/routes", s.handleRoutes)
	mux.HandleFunc("/health", s.handleHealth)

	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// Start 启动服务
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("自省服务异常退出", "error", err)
		}
	}()

	s.running = true
	log.Info("自省服务已启动", "addr", listener.Addr().String())
	return nil
}

// Stop 停止服务
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Addr 实际监听地址（启动前返回配置地址）
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ============================================================================
//                              响应结构
// ============================================================================

// NodeReport 单个节点的诊断信息
type NodeReport struct {
	Node      string            `json:"node"`
	Instance  string            `json:"instance"`
	Listening bool              `json:"listening"`
	Commands  []string          `json:"commands"`
	Edges     map[string]string `json:"edges"`
	Routes    map[string]string `json:"routes"`
	Pending   int               `json:"pending"`
}

// IntrospectResponse 完整诊断响应
type IntrospectResponse struct {
	Timestamp time.Time    `json:"timestamp"`
	Nodes     []NodeReport `json:"nodes"`
}

// Report 收集全部节点的诊断信息（按节点名排序）
func (s *Server) Report() IntrospectResponse {
	resp := IntrospectResponse{Timestamp: time.Now()}
	for _, src := range s.sources {
		resp.Nodes = append(resp.Nodes, report(src))
	}
	sort.Slice(resp.Nodes, func(i, j int) bool {
		if resp.Nodes[i].Node != resp.Nodes[j].Node {
			return resp.Nodes[i].Node < resp.Nodes[j].Node
		}
		return resp.Nodes[i].Instance < resp.Nodes[j].Instance
	})
	return resp
}

func report(src Source) NodeReport {
	r := NodeReport{
		Node:      string(src.Node()),
		Instance:  src.Instance().String(),
		Listening: src.Listening(),
		Commands:  src.Commands(),
		Edges:     make(map[string]string),
		Routes:    make(map[string]string),
		Pending:   src.PendingCount(),
	}
	for peer, st := range src.EdgeStates() {
		r.Edges[string(peer)] = st.String()
	}
	for dst, p := range src.Routes() {
		r.Routes[string(dst)] = p.String()
	}
	return r
}

// ============================================================================
//                              处理器
// ============================================================================

func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.Report())
}

// handleRoutes 节点 -> 目的 -> 路径
func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	routes := make(map[string]map[string]string, len(s.sources))
	for _, src := range s.sources {
		routes[string(src.Node())] = report(src).Routes
	}
	s.writeJSON(w, routes)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}{
		Status:    "ok",
		Timestamp: time.Now(),
	}

	// 任一节点尚未监听即为降级
	for _, src := range s.sources {
		if !src.Listening() {
			health.Status = "degraded"
			break
		}
	}
	s.writeJSON(w, health)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Debug("写入响应失败", "error", err)
	}
}
