// Package wsbridge 用 websocket 实现扩展运行时端口
//
// 浏览器外的上下文（例如用 Go 实现的托管后台）通过 websocket 连接到 hub，
// hub 像浏览器的运行时消息总线一样按节点与实例转发帧，并根据握手时的
// Origin 头报告发送方身份。Origin 在升级阶段按允许列表检查。
package wsbridge

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dep2p/go-xroute/internal/core/topology"
	"github.com/dep2p/go-xroute/internal/core/transport"
	"github.com/dep2p/go-xroute/internal/core/transport/runtime"
	"github.com/dep2p/go-xroute/internal/util/logger"
)

var log = logger.Logger("transport/wsbridge")

// 查询参数
const (
	queryNode  = "node"
	queryTab   = "tab"
	queryFrame = "frame"
)

// HubConfig hub 配置
type HubConfig struct {
	// ExtensionID 扩展 ID；来自扩展 origin 的连接会被报告为扩展上下文
	ExtensionID string

	// AllowedOrigins 允许连接的 origin；为空表示只允许扩展 origin
	AllowedOrigins []string

	// WriteTimeout 单帧写超时
	WriteTimeout time.Duration
}

// DefaultHubConfig 默认配置
func DefaultHubConfig() HubConfig {
	return HubConfig{WriteTimeout: 10 * time.Second}
}

// Hub websocket 运行时总线
type Hub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	peers  map[topology.NodeName][]*peer
	closed bool
}

// peer hub 上的一个参与者（远端连接或本地端口）
type peer struct {
	node     topology.NodeName
	instance topology.Instance
	sender   transport.Sender

	deliver func(runtime.Message, transport.Sender) error
	conn    *websocket.Conn
}

// NewHub 创建 hub
func NewHub(cfg HubConfig) *Hub {
	h := &Hub{
		cfg:   cfg,
		peers: make(map[topology.NodeName][]*peer),
	}
	allowed := make(map[string]bool, len(cfg.AllowedOrigins)+1)
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = true
	}
	allowed[h.extensionOrigin()] = true
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return allowed[r.Header.Get("Origin")]
		},
	}
	return h
}

func (h *Hub) extensionOrigin() string {
	return runtime.ExtensionOriginPrefix + h.cfg.ExtensionID
}

func (h *Hub) senderFor(origin string, inst topology.Instance) transport.Sender {
	s := transport.Sender{Origin: origin, Instance: inst}
	if h.cfg.ExtensionID != "" && origin == h.extensionOrigin() {
		s.ExtensionID = h.cfg.ExtensionID
	}
	return s
}

// ServeHTTP 升级连接并服务一个远端参与者
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	node, inst, err := parseIdentity(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket 升级失败", "origin", r.Header.Get("Origin"), "err", err)
		return
	}

	p := &peer{
		node:     node,
		instance: inst,
		sender:   h.senderFor(r.Header.Get("Origin"), inst),
		conn:     conn,
	}
	var writeMu sync.Mutex
	p.deliver = func(msg runtime.Message, from transport.Sender) error {
		data, err := encodeFrame(&frame{
			Channel:     msg.Channel,
			Data:        msg.Data,
			Origin:      from.Origin,
			ExtensionID: from.ExtensionID,
			From:        from.Instance,
		})
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if h.cfg.WriteTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
		}
		return conn.WriteMessage(websocket.BinaryMessage, data)
	}

	if err := h.add(p); err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub closed"))
		_ = conn.Close()
		return
	}
	log.Info("远端上下文已连接", "node", node, "instance", inst.String(), "origin", p.sender.Origin)

	defer func() {
		h.remove(p)
		_ = conn.Close()
		log.Info("远端上下文已断开", "node", node, "instance", inst.String())
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug("读取失败", "node", node, "err", err)
			return
		}
		f, err := decodeFrame(data)
		if err != nil {
			log.Warn("丢弃无法解析的帧", "node", node, "err", err)
			continue
		}
		dst := runtime.Destination{Node: f.Node, Instance: f.Instance}
		if err := h.route(p, dst, runtime.Message{Channel: f.Channel, Data: f.Data}); err != nil {
			log.Debug("帧无法投递", "from", node, "to", f.Node, "err", err)
		}
	}
}

// Close 关闭 hub 及所有远端连接
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	var conns []*websocket.Conn
	for _, ps := range h.peers {
		for _, p := range ps {
			if p.conn != nil {
				conns = append(conns, p.conn)
			}
		}
	}
	h.peers = make(map[topology.NodeName][]*peer)
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}

func (h *Hub) add(p *peer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.peers[p.node] = append(h.peers[p.node], p)
	return nil
}

func (h *Hub) remove(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ps := h.peers[p.node]
	for i, q := range ps {
		if q == p {
			h.peers[p.node] = append(ps[:i:i], ps[i+1:]...)
			break
		}
	}
}

// route 按目的查找参与者并投递
func (h *Hub) route(src *peer, dst runtime.Destination, msg runtime.Message) error {
	target, err := h.resolve(dst)
	if err != nil {
		return err
	}
	return target.deliver(msg, src.sender)
}

func (h *Hub) resolve(dst runtime.Destination) (*peer, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	cands := h.peers[dst.Node]
	if len(cands) == 0 {
		return nil, fmt.Errorf("%w: %s", transport.ErrNoReceiver, dst.Node)
	}
	if dst.Instance.IsZero() {
		if len(cands) > 1 {
			return nil, fmt.Errorf("%w: %s", transport.ErrInstanceRequired, dst.Node)
		}
		return cands[0], nil
	}
	for _, p := range cands {
		if p.instance == dst.Instance {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s@%s", transport.ErrNoReceiver, dst.Node, dst.Instance)
}

// ============================================================================
//                              本地端口
// ============================================================================

// LocalPort hub 进程内的运行时端口
type LocalPort struct {
	hub  *Hub
	self *peer

	mu        sync.RWMutex
	nextID    int
	listeners map[int]func(runtime.Message, transport.Sender)
}

var _ runtime.Port = (*LocalPort)(nil)

// Port 在 hub 上注册一个本地上下文
func (h *Hub) Port(node topology.NodeName, inst topology.Instance, origin string) (*LocalPort, error) {
	lp := &LocalPort{
		hub:       h,
		listeners: make(map[int]func(runtime.Message, transport.Sender)),
	}
	lp.self = &peer{
		node:     node,
		instance: inst,
		sender:   h.senderFor(origin, inst),
		deliver:  lp.dispatch,
	}
	if err := h.add(lp.self); err != nil {
		return nil, err
	}
	return lp, nil
}

// Origin 实现 runtime.Port
func (lp *LocalPort) Origin() string { return lp.self.sender.Origin }

// Send 实现 runtime.Port
func (lp *LocalPort) Send(dst runtime.Destination, msg runtime.Message) error {
	return lp.hub.route(lp.self, dst, msg)
}

// Listen 实现 runtime.Port
func (lp *LocalPort) Listen(fn func(runtime.Message, transport.Sender)) func() {
	lp.mu.Lock()
	id := lp.nextID
	lp.nextID++
	lp.listeners[id] = fn
	lp.mu.Unlock()

	return func() {
		lp.mu.Lock()
		delete(lp.listeners, id)
		lp.mu.Unlock()
	}
}

// Close 从 hub 注销
func (lp *LocalPort) Close() error {
	lp.hub.remove(lp.self)
	return nil
}

func (lp *LocalPort) dispatch(msg runtime.Message, from transport.Sender) error {
	lp.mu.RLock()
	fns := make([]func(runtime.Message, transport.Sender), 0, len(lp.listeners))
	for _, fn := range lp.listeners {
		fns = append(fns, fn)
	}
	lp.mu.RUnlock()

	data := append([]byte(nil), msg.Data...)
	for _, fn := range fns {
		fn(runtime.Message{Channel: msg.Channel, Data: data}, from)
	}
	return nil
}

// ============================================================================
//                              身份参数
// ============================================================================

// IdentityQuery 生成连接 URL 的查询参数
func IdentityQuery(node topology.NodeName, inst topology.Instance) url.Values {
	q := url.Values{}
	q.Set(queryNode, string(node))
	if !inst.IsZero() {
		q.Set(queryTab, strconv.Itoa(inst.TabID))
		q.Set(queryFrame, strconv.Itoa(inst.FrameID))
	}
	return q
}

func parseIdentity(q url.Values) (topology.NodeName, topology.Instance, error) {
	node := strings.TrimSpace(q.Get(queryNode))
	if node == "" {
		return "", topology.Instance{}, fmt.Errorf("%w: missing node", ErrBadIdentity)
	}
	var inst topology.Instance
	for key, dst := range map[string]*int{queryTab: &inst.TabID, queryFrame: &inst.FrameID} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return "", topology.Instance{}, fmt.Errorf("%w: %s=%q", ErrBadIdentity, key, v)
		}
		*dst = n
	}
	return topology.NodeName(node), inst, nil
}
