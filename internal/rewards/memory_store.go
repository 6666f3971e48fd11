package rewards

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore 以内存方式保存积分数据。
type MemoryStore struct {
	mu       sync.Mutex
	balances map[string]int64
	credits  map[string]Credit
	requests map[string]*Request
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]int64),
		credits:  make(map[string]Credit),
		requests: make(map[string]*Request),
	}
}

func (m *MemoryStore) AddCredit(_ context.Context, credit Credit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credits[credit.OrderID]; ok {
		return ErrAlreadyCredited
	}
	m.credits[credit.OrderID] = credit
	m.balances[credit.AgentID] += credit.Points
	return nil
}

func (m *MemoryStore) HasCredit(_ context.Context, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.credits[orderID]
	return ok, nil
}

func (m *MemoryStore) Balance(_ context.Context, agentID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[agentID], nil
}

func (m *MemoryStore) OpenRequest(_ context.Context, req *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance := m.balances[req.AgentID]
	if balance <= 0 {
		return ErrNothingToRedeem
	}
	req.Amount = balance
	req.Status = RequestPending
	m.balances[req.AgentID] = 0
	clone := *req
	m.requests[req.ID] = &clone
	return nil
}

func (m *MemoryStore) GetRequest(_ context.Context, id string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	clone := *req
	return &clone, nil
}

func (m *MemoryStore) Resolve(_ context.Context, id string, status RequestStatus, by string, at time.Time) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if req.Status != RequestPending {
		clone := *req
		return &clone, ErrAlreadyResolved
	}
	req.Status = status
	req.ResolvedAt = at
	req.ResolvedBy = by
	if status == RequestRejected {
		m.balances[req.AgentID] += req.Amount
	}
	clone := *req
	return &clone, nil
}

func (m *MemoryStore) ListRequests(_ context.Context, filter Filter) ([]*Request, error) {
	filter.applyDefaults()
	m.mu.Lock()
	out := make([]*Request, 0)
	for _, req := range m.requests {
		if filter.AgentID != "" && req.AgentID != filter.AgentID {
			continue
		}
		if len(filter.Statuses) > 0 && !hasStatus(filter.Statuses, req.Status) {
			continue
		}
		clone := *req
		out = append(out, &clone)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Offset >= len(out) {
		return []*Request{}, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(out) {
		end = len(out)
	}
	return out[filter.Offset:end], nil
}

func (m *MemoryStore) Close() error { return nil }

func hasStatus(list []RequestStatus, s RequestStatus) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}

var _ Store = (*MemoryStore)(nil)
