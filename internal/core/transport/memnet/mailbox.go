package memnet

import (
	"sort"
	"sync"
)

// mailbox 无界 FIFO 队列，由单个 goroutine 依次投递
//
// 平台的单跳通道本身是有序的，这里用一个投递 goroutine 模拟。
type mailbox struct {
	mu      sync.Mutex
	queue   []func()
	signal  chan struct{}
	closed  bool
	stopped chan struct{}
}

func newMailbox() *mailbox {
	m := &mailbox{
		signal:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go m.loop()
	return m
}

func (m *mailbox) put(fn func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox) loop() {
	defer close(m.stopped)
	for {
		m.mu.Lock()
		batch := m.queue
		m.queue = nil
		closed := m.closed
		m.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if closed && len(batch) == 0 {
			return
		}
		if len(batch) == 0 {
			<-m.signal
		}
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	<-m.stopped
}

// listeners 监听者集合
type listeners[T any] struct {
	mu     sync.RWMutex
	nextID int
	fns    map[int]T
}

func (l *listeners[T]) add(fn T) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fns == nil {
		l.fns = make(map[int]T)
	}
	id := l.nextID
	l.nextID++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

func (l *listeners[T]) snapshot() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]int, 0, len(l.fns))
	for id := range l.fns {
		ids = append(ids, id)
	}
	// 按注册顺序调用
	sort.Ints(ids)
	out := make([]T, len(ids))
	for i, id := range ids {
		out[i] = l.fns[id]
	}
	return out
}
