package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dep2p/go-xroute/internal/core/command"
	"github.com/dep2p/go-xroute/internal/core/envelope"
	"github.com/dep2p/go-xroute/internal/core/topology"
	"github.com/dep2p/go-xroute/internal/core/transport"
)

// ============================================================================
//                              发送路径
// ============================================================================

// SendCommand 向 dest 发送命令
//
// 需要响应时（confirmReceipt 为 true 或命令有返回值）阻塞直到收到匹配的
// 响应、超时或 ctx 结束；否则交给首跳后立即返回 nil 负载。
// 超时不会自动重试。
func (r *Router) SendCommand(ctx context.Context, dest topology.NodeName, name string, args any, opts ...SendOption) (json.RawMessage, error) {
	o := sendOptions{confirmReceipt: true, timeout: r.cfg.DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	switch {
	case r.closed.Load():
		return nil, ErrRouterClosed
	case !r.listening.Load():
		return nil, ErrNotListening
	}

	spec, ok := r.schema.Lookup(dest, name)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownCommand, dest, name)
	}
	if !spec.Allows(r.self) {
		return nil, fmt.Errorf("%w: %s may not call %s.%s", ErrOriginNotAllowed, r.self, dest, name)
	}

	payload, err := encodeArgs(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	if err := spec.Args.Check(payload); err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidArgs, dest, name, err)
	}

	path, err := r.route(dest)
	if err != nil {
		return nil, err
	}

	expect := o.confirmReceipt || !spec.Response.IsVoid()
	env := &envelope.Envelope{
		RequestID:      uuid.NewString(),
		Kind:           envelope.KindRequest,
		Source:         r.self,
		Destination:    dest,
		Command:        name,
		Payload:        payload,
		ExpectResponse: expect,
		SourceInstance: r.cfg.Instance,
		TargetInstance: o.target,
		SentAt:         r.clock.Now().UnixMilli(),
	}

	var p *pendingRequest
	if expect {
		p = r.addPending(env.RequestID, path, name, o.timeout)
	}

	if err := r.sendVia(ctx, path.NextHop(), env); err != nil {
		if p != nil {
			r.takePending(env.RequestID)
		}
		return nil, err
	}
	r.metrics.onSent(env.Kind)
	r.log.Debug("命令已发出", "env", env.String(), "path", path.String())

	if p == nil {
		return nil, nil
	}

	select {
	case res := <-p.resCh:
		return res.payload, res.err
	case <-ctx.Done():
		// 调用方取消：移除待处理请求，迟到的响应会被丢弃
		if r.takePending(env.RequestID) == nil {
			res := <-p.resCh
			return res.payload, res.err
		}
		return nil, ctx.Err()
	}
}

// encodeArgs 把参数编码为 JSON
func encodeArgs(args any) ([]byte, error) {
	switch v := args.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// sendVia 编码并交给去往 next 的边
func (r *Router) sendVia(ctx context.Context, next topology.NodeName, env *envelope.Envelope) error {
	es := r.edge(next)
	if es == nil {
		return fmt.Errorf("%w: %s -> %s", ErrNoEdge, r.self, next)
	}
	data, err := r.codec.Marshal(env)
	if err != nil {
		return err
	}
	if err := es.gate.Send(ctx, transport.Frame{Data: data, Instance: env.TargetInstance}); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return fmt.Errorf("%w: %v", ErrRouterClosed, err)
		}
		return err
	}
	return nil
}

// sendRouted 沿当前路径把信封发往其目的节点
func (r *Router) sendRouted(ctx context.Context, env *envelope.Envelope) error {
	path, err := r.route(env.Destination)
	if err != nil {
		return err
	}
	return r.sendVia(ctx, path.NextHop(), env)
}

// sendHandshake 绕过就绪闸门直接发送握手信封
//
// hello 可能在对端开始监听前丢失，对端随后发出的 hello 会得到 ready 回复，
// 因此双方任一方的 hello 到达都足以完成握手。
func (r *Router) sendHandshake(ctx context.Context, es *edgeState, kind envelope.Kind, target topology.Instance) {
	env := &envelope.Envelope{
		RequestID:      uuid.NewString(),
		Kind:           kind,
		Source:         r.self,
		Destination:    es.edge.To,
		SourceInstance: r.cfg.Instance,
		TargetInstance: target,
		SentAt:         r.clock.Now().UnixMilli(),
	}
	data, err := r.codec.Marshal(env)
	if err != nil {
		r.log.Error("编码握手失败", "err", err)
		return
	}
	if err := es.handle.Send(ctx, transport.Frame{Data: data, Instance: target}); err != nil {
		// 对端窗口尚未获知时由对端的 hello 完成握手
		if errors.Is(err, transport.ErrPeerUnknown) {
			r.log.Debug("对端未知，等待对端握手", "peer", es.edge.To)
			return
		}
		r.log.Warn("发送握手失败", "peer", es.edge.To, "kind", kind.String(), "err", err)
		return
	}
	r.metrics.onSent(kind)
}

// Call 发送命令并把响应解码为 R
func Call[R any](ctx context.Context, r *Router, dest topology.NodeName, name string, args any, opts ...SendOption) (R, error) {
	raw, err := r.SendCommand(ctx, dest, name, args, opts...)
	if err != nil {
		var zero R
		return zero, err
	}
	return command.Decode[R](raw)
}
