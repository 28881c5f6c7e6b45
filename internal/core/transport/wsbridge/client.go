package wsbridge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dep2p/go-xroute/internal/core/topology"
	"github.com/dep2p/go-xroute/internal/core/transport"
	"github.com/dep2p/go-xroute/internal/core/transport/runtime"
)

// Client 连接到 hub 的远端运行时端口
type Client struct {
	conn   *websocket.Conn
	origin string

	writeMu sync.Mutex

	mu        sync.RWMutex
	nextID    int
	listeners map[int]func(runtime.Message, transport.Sender)

	done chan struct{}
}

var _ runtime.Port = (*Client)(nil)

// Dial 以 node/inst 身份连接 hub
//
// origin 作为握手的 Origin 头发送，hub 据此判断是否接受连接并报告身份。
func Dial(ctx context.Context, hubURL string, node topology.NodeName, inst topology.Instance, origin string) (*Client, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return nil, fmt.Errorf("wsbridge: parse url: %w", err)
	}
	u.RawQuery = IdentityQuery(node, inst).Encode()

	header := http.Header{}
	header.Set("Origin", origin)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("wsbridge: dial %s: %w (status %d)", u.Host, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("wsbridge: dial %s: %w", u.Host, err)
	}

	c := &Client{
		conn:      conn,
		origin:    origin,
		listeners: make(map[int]func(runtime.Message, transport.Sender)),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Origin 实现 runtime.Port
func (c *Client) Origin() string { return c.origin }

// Send 实现 runtime.Port
//
// 投递失败（例如目的不存在）由 hub 记录，不回传给发送方。
func (c *Client) Send(dst runtime.Destination, msg runtime.Message) error {
	data, err := encodeFrame(&frame{
		Node:     dst.Node,
		Instance: dst.Instance,
		Channel:  msg.Channel,
		Data:     msg.Data,
	})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Listen 实现 runtime.Port
func (c *Client) Listen(fn func(runtime.Message, transport.Sender)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Done 连接断开时关闭
func (c *Client) Done() <-chan struct{} { return c.done }

// Close 关闭连接
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug("hub 连接已结束", "err", err)
			return
		}
		f, err := decodeFrame(data)
		if err != nil {
			log.Warn("丢弃无法解析的帧", "err", err)
			continue
		}
		sender := transport.Sender{Origin: f.Origin, ExtensionID: f.ExtensionID, Instance: f.From}
		msg := runtime.Message{Channel: f.Channel, Data: f.Data}

		c.mu.RLock()
		fns := make([]func(runtime.Message, transport.Sender), 0, len(c.listeners))
		for _, fn := range c.listeners {
			fns = append(fns, fn)
		}
		c.mu.RUnlock()
		for _, fn := range fns {
			fn(msg, sender)
		}
	}
}
