package rewards

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"PurchaseRelay/internal/auth"
	xerrors "PurchaseRelay/internal/errors"
	"PurchaseRelay/internal/events"
	"PurchaseRelay/internal/observability/metrics"
	"PurchaseRelay/pkg/logger"
)

// Ledger 是积分账本的业务入口。
type Ledger struct {
	store   Store
	emitter *events.Emitter
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
}

// Option 配置 Ledger。
type Option func(*Ledger)

// WithEmitter 设置事件发布器。
func WithEmitter(e *events.Emitter) Option {
	return func(l *Ledger) { l.emitter = e }
}

// WithClock 替换时钟，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithIDGenerator 替换申请 ID 生成器。
func WithIDGenerator(gen func() string) Option {
	return func(l *Ledger) {
		if gen != nil {
			l.newID = gen
		}
	}
}

// NewLedger 创建 Ledger。
func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: logger.Named("rewards"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Credit 为订单发放积分，每个订单只发放一次，重复调用返回 ALREADY_RESOLVED。
func (l *Ledger) Credit(ctx context.Context, agentID, orderID string, points int64) (Credit, error) {
	if agentID == "" || orderID == "" {
		return Credit{}, xerrors.New(xerrors.CodeValidation, "代购方与订单不能为空")
	}
	if points <= 0 {
		return Credit{}, xerrors.New(xerrors.CodeValidation, "积分必须大于 0")
	}
	credit := Credit{OrderID: orderID, AgentID: agentID, Points: points, CreditedAt: l.now()}
	if err := l.store.AddCredit(ctx, credit); err != nil {
		return Credit{}, err
	}
	metrics.ObserveRewardCredit(points)
	logger.Audit().Info("reward_credited",
		slog.String("order_id", orderID),
		slog.String("agent_id", agentID),
		slog.Int64("points", points),
	)
	return credit, nil
}

// HasCredit 判断订单是否已发放积分。
func (l *Ledger) HasCredit(ctx context.Context, orderID string) (bool, error) {
	return l.store.HasCredit(ctx, orderID)
}

// Balance 返回余额。代购方只能查询自己，管理员可查询任意代购方。
func (l *Ledger) Balance(ctx context.Context, actor auth.Actor, agentID string) (int64, error) {
	if agentID == "" && actor.Role == auth.RoleAgent {
		agentID = actor.ID
	}
	switch {
	case actor.Role == auth.RoleAdmin:
	case actor.Role == auth.RoleAgent && actor.ID == agentID:
	default:
		return 0, forbidden("只有代购方本人与管理员可以查看余额")
	}
	return l.store.Balance(ctx, agentID)
}

// CreateRequest 以当前全部余额创建兑换申请，余额在创建时即被扣除。
func (l *Ledger) CreateRequest(ctx context.Context, actor auth.Actor, agentID string) (*Request, error) {
	if actor.Role != auth.RoleAgent || actor.ID != agentID {
		return nil, forbidden("只有代购方本人可以申请兑换积分")
	}
	req := &Request{ID: l.newID(), AgentID: agentID, CreatedAt: l.now()}
	if err := l.store.OpenRequest(ctx, req); err != nil {
		return nil, err
	}
	logger.Audit().Info("reward_requested",
		slog.String("request_id", req.ID),
		slog.String("agent_id", agentID),
		slog.Int64("amount", req.Amount),
	)
	l.emit(ctx, events.RewardRequested, actor, req)
	return req, nil
}

// Approve 批准申请，余额不变。
func (l *Ledger) Approve(ctx context.Context, actor auth.Actor, id string) (*Request, error) {
	return l.resolve(ctx, actor, id, RequestApproved, events.RewardApproved)
}

// Reject 拒绝申请并退回积分。
func (l *Ledger) Reject(ctx context.Context, actor auth.Actor, id string) (*Request, error) {
	return l.resolve(ctx, actor, id, RequestRejected, events.RewardRejected)
}

func (l *Ledger) resolve(ctx context.Context, actor auth.Actor, id string, status RequestStatus, eventType events.Type) (*Request, error) {
	if actor.Role != auth.RoleAdmin {
		return nil, forbidden("只有管理员可以处理兑换申请")
	}
	req, err := l.store.Resolve(ctx, id, status, actor.ID, l.now())
	if err != nil {
		return nil, err
	}
	logger.Audit().Info("reward_resolved",
		slog.String("request_id", req.ID),
		slog.String("agent_id", req.AgentID),
		slog.String("status", string(status)),
		slog.String("admin_id", actor.ID),
		slog.Int64("amount", req.Amount),
	)
	l.emit(ctx, eventType, actor, req)
	return req, nil
}

// GetRequest 返回单个兑换申请。代购方只能查看自己的申请，他人的申请按不存在处理。
func (l *Ledger) GetRequest(ctx context.Context, actor auth.Actor, id string) (*Request, error) {
	if actor.Role != auth.RoleAdmin && actor.Role != auth.RoleAgent {
		return nil, forbidden("请求方没有兑换申请")
	}
	req, err := l.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == auth.RoleAgent && req.AgentID != actor.ID {
		return nil, ErrRequestNotFound
	}
	return req, nil
}

// List 返回兑换申请。管理员可查看全部，代购方只能查看自己的申请。
func (l *Ledger) List(ctx context.Context, actor auth.Actor, filter Filter) ([]*Request, error) {
	switch actor.Role {
	case auth.RoleAdmin:
	case auth.RoleAgent:
		filter.AgentID = actor.ID
	default:
		return nil, forbidden("请求方没有兑换申请")
	}
	return l.store.ListRequests(ctx, filter)
}

func (l *Ledger) emit(ctx context.Context, t events.Type, actor auth.Actor, req *Request) {
	if l.emitter == nil {
		return
	}
	event := events.New(t, actor, l.now())
	event.RequestID = req.ID
	event.To = string(req.Status)
	event.Attributes = map[string]string{"agent_id": req.AgentID}
	l.emitter.Emit(ctx, event)
}

func forbidden(msg string) error {
	return xerrors.New(xerrors.CodeAuthorization, msg)
}
