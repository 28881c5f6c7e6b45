package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/dep2p/go-xroute/internal/core/command"
	"github.com/dep2p/go-xroute/internal/core/envelope"
)

// ============================================================================
//                              接收路径
// ============================================================================

// handleInbound 处理一帧入站数据，只在事件循环中调用
func (r *Router) handleInbound(it inboundItem) {
	es, in := it.edge, it.in

	// 先校验发送者：伪造来源的帧不能消耗合法对端的令牌
	if es.edge.SecureInbound && !es.handle.ValidateSender(in.Sender) {
		r.metrics.drop(dropInsecure)
		r.log.Warn("发送者校验失败，丢弃", "peer", es.edge.To, "sender", in.Sender.String())
		return
	}
	if !es.limiter.Allow() {
		r.metrics.drop(dropRateLimited)
		r.log.Debug("入站限流，丢弃", "peer", es.edge.To)
		return
	}

	env, err := r.codec.Unmarshal(in.Data)
	if err != nil {
		r.metrics.drop(dropMalformed)
		r.log.Warn("信封格式错误，丢弃", "peer", es.edge.To, "err", err)
		return
	}
	if err := r.checkWalk(env, es); err != nil {
		r.metrics.drop(dropSpoofed)
		r.log.Warn("信封路径不合法，丢弃", "peer", es.edge.To, "env", env.String(), "err", err)
		return
	}
	r.metrics.onReceived(env.Kind)

	// 首跳：用平台报告的实例补全来源实例
	if len(env.Hops) == 0 && env.SourceInstance.IsZero() {
		env.SourceInstance = in.Sender.Instance
	}

	switch {
	case env.Kind == envelope.KindHello || env.Kind == envelope.KindReady:
		r.handleHandshake(es, env)
	case env.Destination != r.self:
		r.forward(env)
	case env.Kind == envelope.KindRequest:
		r.dispatch(env)
	default:
		r.handleResponse(env)
	}
}

// checkWalk 校验信封声明的来源与中继链
//
// 来源、中继与上一跳必须构成拓扑上的一条路径，且上一跳就是这条边的对端。
// 这样对端无法冒充别的节点发起请求。
func (r *Router) checkWalk(env *envelope.Envelope, es *edgeState) error {
	if env.Source == r.self {
		return errors.New("envelope claims to come from this node")
	}
	prev := env.Source
	for _, hop := range env.Hops {
		if _, ok := r.topo.Edge(prev, hop); !ok {
			return fmt.Errorf("no edge %s -> %s", prev, hop)
		}
		prev = hop
	}
	if prev != es.edge.To {
		return fmt.Errorf("last hop %s, frame arrived from %s", prev, es.edge.To)
	}
	return nil
}

// ============================================================================
//                              握手
// ============================================================================

// handleHandshake 对端 hello 或 ready：对端已在监听，边转为就绪
func (r *Router) handleHandshake(es *edgeState, env *envelope.Envelope) {
	if env.Destination != r.self || len(env.Hops) > 0 {
		r.metrics.drop(dropSpoofed)
		return
	}

	n, err := es.gate.MarkReady(r.ctx)
	if n > 0 || err != nil {
		r.log.Debug("边已就绪，缓存已刷出", "peer", es.edge.To, "frames", n, "err", err)
	}
	if err != nil {
		r.log.Warn("刷出缓存帧失败", "peer", es.edge.To, "err", err)
	}

	if env.Kind == envelope.KindHello {
		r.sendHandshake(r.ctx, es, envelope.KindReady, env.SourceInstance)
	}
}

// ============================================================================
//                              转发
// ============================================================================

// forward 把不属于本节点的信封交给下一跳，RequestID 不变
func (r *Router) forward(env *envelope.Envelope) {
	if env.Visited(r.self) {
		r.relayFailure(env, envelope.CodeHopLimit, fmt.Sprintf("loop at %s", r.self))
		return
	}
	if len(env.Hops)+1 > r.cfg.MaxHops {
		r.relayFailure(env, envelope.CodeHopLimit, fmt.Sprintf("more than %d hops", r.cfg.MaxHops))
		return
	}

	fwd := env.Clone()
	fwd.Hops = append(fwd.Hops, r.self)

	if err := r.sendRouted(r.ctx, fwd); err != nil {
		r.log.Warn("转发失败", "env", env.String(), "err", err)
		r.relayFailure(env, codeFor(err), err.Error())
		return
	}
	r.metrics.forwarded.Inc()
	r.log.Debug("已转发", "env", env.String(), "hops", len(fwd.Hops))
}

// relayFailure 中继无法继续转发时回送错误
//
// 只对需要响应的请求回送，错误响应的来源是本中继节点。
func (r *Router) relayFailure(env *envelope.Envelope, code, msg string) {
	r.metrics.drop(dropUnroutable)
	if env.Kind != envelope.KindRequest || !env.ExpectResponse {
		return
	}
	resp := env.Reply(nil, &envelope.Error{Code: code, Message: msg})
	resp.Source = r.self
	r.respond(resp)
}

// ============================================================================
//                              调度
// ============================================================================

// dispatch 处理发给本节点的请求
func (r *Router) dispatch(env *envelope.Envelope) {
	if r.seen != nil {
		key := string(env.Source) + "/" + env.RequestID
		if seen, _ := r.seen.ContainsOrAdd(key, struct{}{}); seen {
			r.metrics.drop(dropDuplicate)
			r.log.Debug("重复请求，丢弃", "env", env.String())
			return
		}
	}

	reg, err := r.registry.Resolve(env.Command, env.Source)
	if err != nil {
		r.metrics.drop(dropRejected)
		r.log.Info("拒绝请求", "env", env.String(), "err", err)
		r.replyError(env, err)
		return
	}
	if err := reg.Spec.Args.Check(env.Payload); err != nil {
		r.metrics.drop(dropRejected)
		r.replyError(env, fmt.Errorf("%w: %v", ErrInvalidArgs, err))
		return
	}

	meta := command.Meta{
		Source:    env.Source,
		Instance:  env.SourceInstance,
		RequestID: env.RequestID,
		Command:   env.Command,
		Hops:      env.Hops,
	}

	// 处理器在独立的 goroutine 中运行，不阻塞事件循环
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		payload, err := r.invoke(reg, env.Payload, meta)
		if err != nil {
			r.log.Debug("处理器返回错误", "env", env.String(), "err", err)
			r.replyError(env, err)
			return
		}
		if env.ExpectResponse {
			r.respond(env.Reply(payload, nil))
		}
	}()
}

// invoke 调用处理器并编码结果，panic 被恢复为错误
func (r *Router) invoke(reg *command.Registration, args []byte, meta command.Meta) (payload []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("处理器 panic", "command", meta.Command, "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: panic: %v", ErrHandlerFailed, rec)
		}
	}()

	out, err := reg.Handler(r.ctx, json.RawMessage(args), meta)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	payload, err = encodeArgs(out)
	if err != nil {
		return nil, fmt.Errorf("%w: encode result: %v", ErrHandlerFailed, err)
	}
	if err := reg.Spec.Response.Check(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandlerFailed, err)
	}
	return payload, nil
}

// replyError 需要响应时回送错误，否则丢弃
func (r *Router) replyError(env *envelope.Envelope, err error) {
	if !env.ExpectResponse {
		return
	}
	r.respond(env.Reply(nil, &envelope.Error{Code: codeFor(err), Message: err.Error()}))
}

// respond 把本节点产生的响应送回请求来源
func (r *Router) respond(resp *envelope.Envelope) {
	resp.SentAt = r.clock.Now().UnixMilli()
	if err := r.sendRouted(r.ctx, resp); err != nil {
		if !errors.Is(err, ErrRouterClosed) {
			r.log.Warn("发送响应失败", "env", resp.String(), "err", err)
		}
		return
	}
	r.metrics.onSent(resp.Kind)
}

// ============================================================================
//                              响应关联
// ============================================================================

// handleResponse 用响应结束对应的待处理请求
//
// 找不到（已超时、已取消或重复）时静默丢弃。成功响应必须来自请求的
// 目的节点；中继错误必须来自发送时路径上的中继。
func (r *Router) handleResponse(env *envelope.Envelope) {
	p := r.peekPending(env.RequestID)
	if p == nil {
		r.metrics.drop(dropUnmatched)
		r.log.Debug("没有匹配的待处理请求，丢弃响应", "env", env.String())
		return
	}
	if env.Source != p.dest && !(isRelayError(env) && p.onPath(env.Source)) {
		r.metrics.drop(dropSpoofed)
		r.log.Warn("响应来源与请求目的不符，丢弃", "env", env.String(), "want", p.dest)
		return
	}

	res := result{payload: json.RawMessage(env.Payload)}
	if env.Error != nil {
		res = result{err: &RemoteError{Node: env.Source, Code: env.Error.Code, Message: env.Error.Message}}
	}
	if !r.complete(env.RequestID, res) {
		r.metrics.drop(dropUnmatched)
	}
}

func isRelayError(env *envelope.Envelope) bool {
	if env.Error == nil {
		return false
	}
	switch env.Error.Code {
	case envelope.CodeNoRoute, envelope.CodeHopLimit, envelope.CodeClosed:
		return true
	}
	return false
}
