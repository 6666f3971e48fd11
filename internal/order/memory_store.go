package order

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "PurchaseRelay/internal/errors"
)

type idSet map[string]struct{}

// MemoryStore 以内存方式保存订单，并维护按请求方、代购方、状态划分的索引。
type MemoryStore struct {
	mu          sync.RWMutex
	orders      map[string]*Order
	byRequester map[string]idSet
	byAgent     map[string]idSet
	byStatus    map[Status]idSet
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:      make(map[string]*Order),
		byRequester: make(map[string]idSet),
		byAgent:     make(map[string]idSet),
		byStatus:    make(map[Status]idSet),
	}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, order *Order) error {
	if order == nil {
		return xerrors.New(xerrors.CodeValidation, "order 不能为空")
	}
	if strings.TrimSpace(order.ID) == "" {
		return xerrors.New(xerrors.CodeValidation, "订单 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; ok {
		return ErrOrderExists
	}
	now := time.Now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}
	order.Version = 1
	stored := order.Clone()
	m.orders[order.ID] = stored
	m.index(stored)
	return nil
}

// Get 返回订单副本。
func (m *MemoryStore) Get(_ context.Context, id string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return order.Clone(), nil
}

// Update 在同一把锁内完成版本比较与写入。
func (m *MemoryStore) Update(_ context.Context, expectedVersion int64, order *Order) error {
	if order == nil {
		return xerrors.New(xerrors.CodeValidation, "order 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.orders[order.ID]
	if !ok {
		return ErrOrderNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	order.Version = expectedVersion + 1
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = time.Now()
	}
	m.unindex(current)
	stored := order.Clone()
	m.orders[order.ID] = stored
	m.index(stored)
	return nil
}

// List 返回满足条件的订单，默认按更新时间倒序。
func (m *MemoryStore) List(_ context.Context, q Query, opts ...ListOption) ([]*Order, error) {
	options := BuildListOptions(opts...)
	m.mu.RLock()
	matched := m.collect(q)
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.ID < b.ID
		}
		if options.Order == SortByUpdatedAsc {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		return a.UpdatedAt.After(b.UpdatedAt)
	})
	if options.Offset >= len(matched) {
		return []*Order{}, nil
	}
	end := options.Offset + options.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[options.Offset:end], nil
}

// Count 返回满足条件的订单数量。
func (m *MemoryStore) Count(_ context.Context, q Query) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	m.scan(q, func(*Order) { count++ })
	return count, nil
}

// Stats 按状态统计。
func (m *MemoryStore) Stats(_ context.Context, q Query) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := newStats()
	m.scan(q, func(o *Order) {
		stats.Total++
		stats.ByStatus[o.Status]++
	})
	return stats, nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) collect(q Query) []*Order {
	out := make([]*Order, 0)
	m.scan(q, func(o *Order) { out = append(out, o.Clone()) })
	return out
}

// scan 先用索引缩小候选集，再逐条匹配。调用方需持有读锁。
func (m *MemoryStore) scan(q Query, fn func(*Order)) {
	visit := func(ids idSet, seen idSet) {
		for id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if o := m.orders[id]; o != nil && q.Match(o) {
				fn(o)
			}
		}
	}

	seen := make(idSet)
	switch {
	case q.RequesterID != "":
		visit(m.byRequester[q.RequesterID], seen)
	case q.AgentID != "":
		visit(m.byAgent[q.AgentID], seen)
	case len(q.Statuses) > 0 && !q.IncludeOpenPool:
		for _, s := range q.Statuses {
			visit(m.byStatus[s], seen)
		}
		return
	default:
		for id, o := range m.orders {
			if q.Match(o) {
				seen[id] = struct{}{}
				fn(o)
			}
		}
		return
	}
	if q.IncludeOpenPool {
		visit(m.byStatus[StatusPublished], seen)
	}
}

func (m *MemoryStore) index(o *Order) {
	addTo(m.byRequester, o.RequesterID, o.ID)
	if o.AgentID != "" {
		addTo(m.byAgent, o.AgentID, o.ID)
	}
	set, ok := m.byStatus[o.Status]
	if !ok {
		set = make(idSet)
		m.byStatus[o.Status] = set
	}
	set[o.ID] = struct{}{}
}

func (m *MemoryStore) unindex(o *Order) {
	removeFrom(m.byRequester, o.RequesterID, o.ID)
	if o.AgentID != "" {
		removeFrom(m.byAgent, o.AgentID, o.ID)
	}
	if set, ok := m.byStatus[o.Status]; ok {
		delete(set, o.ID)
	}
}

func addTo(index map[string]idSet, key, id string) {
	set, ok := index[key]
	if !ok {
		set = make(idSet)
		index[key] = set
	}
	set[id] = struct{}{}
}

func removeFrom(index map[string]idSet, key, id string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, key)
	}
}

var _ Store = (*MemoryStore)(nil)
