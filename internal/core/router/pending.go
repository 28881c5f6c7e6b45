package router

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-xroute/internal/core/topology"
)

// ============================================================================
//                              待处理请求
// ============================================================================

// result 请求的最终结果
type result struct {
	payload json.RawMessage
	err     error
}

// pendingRequest 等待响应的请求
type pendingRequest struct {
	id      string
	dest    topology.NodeName
	command string
	// relays 发送时解析出的中继节点，只有它们可以回送中继错误
	relays []topology.NodeName
	sentAt time.Time
	timer  *clock.Timer
	resCh  chan result
}

// onPath 判断 node 是否是请求路径上的中继
func (p *pendingRequest) onPath(node topology.NodeName) bool {
	for _, n := range p.relays {
		if n == node {
			return true
		}
	}
	return false
}

// addPending 登记请求并启动超时
func (r *Router) addPending(id string, path topology.Path, cmd string, timeout time.Duration) *pendingRequest {
	p := &pendingRequest{
		id:      id,
		dest:    path.Destination(),
		command: cmd,
		sentAt:  r.clock.Now(),
		resCh:   make(chan result, 1),
	}
	if len(path.Nodes) > 2 {
		p.relays = append([]topology.NodeName(nil), path.Nodes[1:len(path.Nodes)-1]...)
	}

	r.pendingMu.Lock()
	r.pending[id] = p
	p.timer = r.clock.AfterFunc(timeout, func() { r.expire(id) })
	r.pendingMu.Unlock()

	r.metrics.pending.Inc()
	return p
}

// takePending 移除并返回请求；不存在时返回 nil
func (r *Router) takePending(id string) *pendingRequest {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	p, ok := r.pending[id]
	if !ok {
		return nil
	}
	delete(r.pending, id)
	if p.timer != nil {
		p.timer.Stop()
	}
	r.metrics.pending.Dec()
	return p
}

// peekPending 只读查找
func (r *Router) peekPending(id string) *pendingRequest {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return r.pending[id]
}

// complete 以结果结束请求，返回是否找到
func (r *Router) complete(id string, res result) bool {
	p := r.takePending(id)
	if p == nil {
		return false
	}
	if res.err == nil {
		r.metrics.latency.Observe(r.clock.Since(p.sentAt).Seconds())
	}
	p.resCh <- res
	return true
}

// expire 超时回调
func (r *Router) expire(id string) {
	p := r.takePending(id)
	if p == nil {
		return
	}
	r.metrics.timeouts.Inc()
	r.log.Debug("请求超时", "id", id, "dest", p.dest, "command", p.command)
	p.resCh <- result{err: fmt.Errorf("%w: %s.%s", ErrTimeout, p.dest, p.command)}
}

// failAllPending 以 err 结束全部请求
func (r *Router) failAllPending(err error) {
	r.pendingMu.Lock()
	ids := make([]string, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	r.pendingMu.Unlock()

	for _, id := range ids {
		r.complete(id, result{err: err})
	}
}
