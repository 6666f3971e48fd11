// Package rewards keeps agent point balances. Completed orders credit points
// once per order; agents cash out their whole balance through a request that
// an admin approves or rejects exactly once.
package rewards

import (
	"context"
	"time"

	xerrors "PurchaseRelay/internal/errors"
)

// RequestStatus 表示兑换申请的状态。
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// Request 是一次积分兑换申请。Amount 为创建时的余额快照。
type Request struct {
	ID         string        `json:"id"`
	AgentID    string        `json:"agent_id"`
	Amount     int64         `json:"amount"`
	Status     RequestStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	ResolvedAt time.Time     `json:"resolved_at,omitzero"`
	ResolvedBy string        `json:"resolved_by,omitempty"`
}

// Credit 是一笔按订单发放的积分。
type Credit struct {
	OrderID    string    `json:"order_id"`
	AgentID    string    `json:"agent_id"`
	Points     int64     `json:"points"`
	CreditedAt time.Time `json:"credited_at"`
}

// Filter 筛选兑换申请。
type Filter struct {
	AgentID  string
	Statuses []RequestStatus
	Limit    int
	Offset   int
}

func (f *Filter) applyDefaults() {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Store 定义积分持久化接口，每个方法都是原子的。
type Store interface {
	// AddCredit 记录订单积分并累加余额，同一订单重复记录返回 ErrAlreadyCredited。
	AddCredit(ctx context.Context, credit Credit) error
	HasCredit(ctx context.Context, orderID string) (bool, error)
	Balance(ctx context.Context, agentID string) (int64, error)
	// OpenRequest 以当前全部余额创建申请并清零余额。余额为 0 时返回 ErrNothingToRedeem。
	OpenRequest(ctx context.Context, req *Request) error
	GetRequest(ctx context.Context, id string) (*Request, error)
	// Resolve 仅在申请处于 pending 时把状态改为 status；拒绝时退回积分。
	Resolve(ctx context.Context, id string, status RequestStatus, by string, at time.Time) (*Request, error)
	ListRequests(ctx context.Context, filter Filter) ([]*Request, error)
	Close() error
}

var (
	// ErrAlreadyCredited 表示订单积分已发放。
	ErrAlreadyCredited = xerrors.New(xerrors.CodeAlreadyResolved, "该订单已发放积分")
	// ErrAlreadyResolved 表示申请已处理。
	ErrAlreadyResolved = xerrors.New(xerrors.CodeAlreadyResolved, "兑换申请已处理")
	// ErrRequestNotFound 表示申请不存在。
	ErrRequestNotFound = xerrors.New(xerrors.CodeNotFound, "兑换申请不存在")
	// ErrNothingToRedeem 表示余额为 0。
	ErrNothingToRedeem = xerrors.New(xerrors.CodeValidation, "积分余额为 0")
)
