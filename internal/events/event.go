// Package events carries domain events out of the settlement engine. A
// failed publish never rolls back the state change that produced the event.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"PurchaseRelay/internal/auth"
)

// Type 标识事件类型。
type Type string

const (
	OrderCreated         Type = "order.created"
	OrderClaimed         Type = "order.claimed"
	ReportSubmitted      Type = "report.submitted"
	ReportEdited         Type = "report.edited"
	PaymentVerified      Type = "payment.verified"
	OrderCompleted       Type = "order.completed"
	OrderCancelled       Type = "order.cancelled"
	OrderArchived        Type = "order.archived"
	BundleItemRemoved    Type = "bundle.item_removed"
	TrackCodeAssigned    Type = "track_code.assigned"
	AgentPaymentCredited Type = "agent_payment.credited"
	RewardRequested      Type = "reward.requested"
	RewardApproved       Type = "reward.approved"
	RewardRejected       Type = "reward.rejected"
)

// Event 是一次已提交的状态变化。
type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	OrderID    string            `json:"order_id,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Actor      auth.Actor        `json:"actor"`
	From       string            `json:"from,omitempty"`
	To         string            `json:"to,omitempty"`
	Version    int64             `json:"version,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// New 创建带唯一 ID 的事件。
func New(t Type, actor auth.Actor, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: t, Actor: actor, OccurredAt: at}
}

// Publisher 负责投递事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Fanout 把事件投递给所有下游，汇总各自的失败。
type Fanout []Publisher

// Publish 实现 Publisher。
func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close 关闭所有下游。
func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if p != nil {
			errs = append(errs, p.Close())
		}
	}
	return errors.Join(errs...)
}

// Discard 丢弃所有事件。
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
func (Discard) Close() error                         { return nil }
