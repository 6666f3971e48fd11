package events

import (
	"context"
	"errors"
	"sync"
)

// Handler 处理一条事件。
type Handler func(ctx context.Context, event Event) error

// MemoryBus 在进程内同步分发事件，并保留历史用于测试与调试。
type MemoryBus struct {
	mu       sync.Mutex
	events   []Event
	handlers []Handler
	closed   bool
}

// NewMemoryBus 创建 MemoryBus。
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// Subscribe 注册处理函数。
func (b *MemoryBus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish 记录事件并依次调用处理函数。
func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("事件总线已关闭")
	}
	b.events = append(b.events, event)
	handlers := append([]Handler(nil), b.handlers...)
	b.mu.Unlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Events 返回已发布事件的副本。
func (b *MemoryBus) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.events...)
}

// Types 按顺序返回已发布事件的类型。
func (b *MemoryBus) Types() []Type {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Type, len(b.events))
	for i, e := range b.events {
		out[i] = e.Type
	}
	return out
}

// Close 关闭总线。
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
