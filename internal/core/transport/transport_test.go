package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder 记录底层发送顺序
type recorder struct {
	mu   sync.Mutex
	sent []string
	fail string
}

func (r *recorder) send(_ context.Context, f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if string(f.Data) == r.fail {
		return errors.New("boom")
	}
	r.sent = append(r.sent, string(f.Data))
	return nil
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

// ============================================================================
//                              Gate 测试
// ============================================================================

func TestGate(t *testing.T) {
	ctx := context.Background()

	t.Run("无需握手直接发送", func(t *testing.T) {
		rec := &recorder{}
		g := NewGate(rec.send, false)
		assert.Equal(t, GateReady, g.State())
		require.NoError(t, g.Send(ctx, Frame{Data: []byte("a")}))
		assert.Equal(t, []string{"a"}, rec.list())

		select {
		case <-g.Ready():
		default:
			t.Fatal("ready channel should be closed")
		}
	})

	t.Run("就绪前缓存并按序刷出", func(t *testing.T) {
		rec := &recorder{}
		g := NewGate(rec.send, true)
		assert.Equal(t, GateConnecting, g.State())

		buf := []byte("1")
		require.NoError(t, g.Send(ctx, Frame{Data: buf}))
		buf[0] = 'x' // 缓存必须持有副本
		require.NoError(t, g.Send(ctx, Frame{Data: []byte("2")}))
		require.NoError(t, g.Send(ctx, Frame{Data: []byte("3")}))
		assert.Empty(t, rec.list())
		assert.Equal(t, 3, g.Queued())

		n, err := g.MarkReady(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, []string{"1", "2", "3"}, rec.list())
		assert.Equal(t, GateReady, g.State())

		require.NoError(t, g.Send(ctx, Frame{Data: []byte("4")}))
		assert.Equal(t, []string{"1", "2", "3", "4"}, rec.list())

		n, err = g.MarkReady(ctx)
		assert.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("刷出时收集错误", func(t *testing.T) {
		rec := &recorder{fail: "bad"}
		g := NewGate(rec.send, true)
		require.NoError(t, g.Send(ctx, Frame{Data: []byte("ok1")}))
		require.NoError(t, g.Send(ctx, Frame{Data: []byte("bad")}))
		require.NoError(t, g.Send(ctx, Frame{Data: []byte("ok2")}))

		n, err := g.MarkReady(ctx)
		assert.Error(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, []string{"ok1", "ok2"}, rec.list())
	})

	t.Run("并发发送与就绪不乱序", func(t *testing.T) {
		rec := &recorder{}
		g := NewGate(rec.send, true)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = g.Send(ctx, Frame{Data: []byte{byte(i)}})
			}
		}()
		_, _ = g.MarkReady(ctx)
		wg.Wait()

		got := rec.list()
		require.Len(t, got, 100)
		for i, s := range got {
			assert.Equal(t, string([]byte{byte(i)}), s)
		}
	})

	t.Run("关闭丢弃缓存", func(t *testing.T) {
		rec := &recorder{}
		g := NewGate(rec.send, true)
		require.NoError(t, g.Send(ctx, Frame{Data: []byte("a")}))
		assert.Equal(t, 1, g.Close())
		assert.ErrorIs(t, g.Send(ctx, Frame{Data: []byte("b")}), ErrClosed)

		n, err := g.MarkReady(ctx)
		assert.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, GateClosed, g.State())
	})
}

// ============================================================================
//                              Limiter 测试
// ============================================================================

func TestLimiter(t *testing.T) {
	t.Run("不限制", func(t *testing.T) {
		l := NewLimiter(0, 0)
		for i := 0; i < 1000; i++ {
			require.True(t, l.Allow())
		}
		var nilLimiter *Limiter
		assert.True(t, nilLimiter.Allow())
	})

	t.Run("突发上限", func(t *testing.T) {
		l := NewLimiter(1, 3)
		allowed := 0
		for i := 0; i < 10; i++ {
			if l.Allow() {
				allowed++
			}
		}
		assert.Equal(t, 3, allowed)
	})
}

func TestChannelNameAndOrigin(t *testing.T) {
	assert.Equal(t, "a>b", ChannelName("a", "b"))
	assert.Equal(t, "https://x", ResolveOrigin("self", "https://x"))
	assert.Equal(t, "https://y", ResolveOrigin("https://y", "https://x"))
}
