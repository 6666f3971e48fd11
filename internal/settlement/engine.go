// Package settlement drives orders through their lifecycle: claim, report,
// payment verification, cancellation, archive and the reward credit that
// follows a completed order. Every write is a compare-and-set on the order
// version, and domain events are published only after the write commits.
package settlement

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"PurchaseRelay/internal/auth"
	xerrors "PurchaseRelay/internal/errors"
	"PurchaseRelay/internal/events"
	"PurchaseRelay/internal/observability/alerting"
	"PurchaseRelay/internal/observability/metrics"
	"PurchaseRelay/internal/order"
	"PurchaseRelay/internal/rewards"
	"PurchaseRelay/internal/settings"
	"PurchaseRelay/pkg/logger"
)

// RewardCreditor 是引擎依赖的积分发放能力，由 rewards.Ledger 实现。
type RewardCreditor interface {
	Credit(ctx context.Context, agentID, orderID string, points int64) (rewards.Credit, error)
	HasCredit(ctx context.Context, orderID string) (bool, error)
}

// PointsFunc 决定一笔完成的订单为代购方发放多少积分。
type PointsFunc func(o *order.Order) int64

// Engine 是订单生命周期与结算的入口。
type Engine struct {
	store    order.Store
	settings settings.Provider
	rewards  RewardCreditor
	emitter  *events.Emitter
	alerts   alerting.Dispatcher
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	points   PointsFunc
	window   settings.WindowFunc
}

// Option 定义 Engine 的可选配置。
type Option func(*Engine)

// WithEmitter 设置事件发布器。
func WithEmitter(e *events.Emitter) Option {
	return func(engine *Engine) { engine.emitter = e }
}

// WithAlerts 设置告警分发器，用于积分发放失败。
func WithAlerts(d alerting.Dispatcher) Option {
	return func(engine *Engine) { engine.alerts = d }
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(engine *Engine) {
		if now != nil {
			engine.now = now
		}
	}
}

// WithIDGenerator 替换 ID 生成器。
func WithIDGenerator(gen func() string) Option {
	return func(engine *Engine) {
		if gen != nil {
			engine.newID = gen
		}
	}
}

// WithPoints 设置积分计算规则，默认每单 1 分。
func WithPoints(fn PointsFunc) Option {
	return func(engine *Engine) {
		if fn != nil {
			engine.points = fn
		}
	}
}

// WithQuotaWindow 设置配额统计窗口，默认最近 24 小时。
func WithQuotaWindow(fn settings.WindowFunc) Option {
	return func(engine *Engine) {
		if fn != nil {
			engine.window = fn
		}
	}
}

// NewEngine 构造结算引擎。
func NewEngine(store order.Store, provider settings.Provider, creditor RewardCreditor, opts ...Option) (*Engine, error) {
	if store == nil || provider == nil || creditor == nil {
		return nil, xerrors.New(xerrors.CodeValidation, "订单存储、配置与积分账本均不能为空")
	}
	e := &Engine{
		store:    store,
		settings: provider,
		rewards:  creditor,
		logger:   logger.Named("settlement"),
		now:      time.Now,
		newID:    uuid.NewString,
		points:   func(*order.Order) int64 { return 1 },
		window:   settings.Rolling24h,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// transition 描述一次状态迁移：守卫状态、目标状态、对订单的修改以及提交后发布的事件。
type transition struct {
	action Action
	from   []order.Status
	to     order.Status
	// precheck 在状态守卫之后、授权之后运行，可返回比非法迁移更具体的错误。
	precheck func(o *order.Order) error
	apply    func(o *order.Order, now time.Time) error
	events   []events.Type
}

// run 加载订单，依次检查角色、状态守卫与归属，然后以版本号比较写入。
func (e *Engine) run(ctx context.Context, actor auth.Actor, id string, t transition) (*order.Order, error) {
	o, err := e.execute(ctx, actor, id, t)
	e.observe(t.action, err)
	return o, err
}

func (e *Engine) execute(ctx context.Context, actor auth.Actor, id string, t transition) (*order.Order, error) {
	if err := AuthorizeRole(t.action, actor); err != nil {
		return nil, err
	}
	o, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(t.from, o.Status) {
		return nil, order.NewInvalidTransition(string(t.action), actor.Role, o.Status, t.to)
	}
	if err := Authorize(t.action, actor, o); err != nil {
		return nil, err
	}
	if t.precheck != nil {
		if err := t.precheck(o); err != nil {
			return nil, err
		}
	}
	prev := o.Clone()
	now := e.now()
	if t.apply != nil {
		if err := t.apply(o, now); err != nil {
			return nil, err
		}
	}
	if t.to != "" {
		o.Status = t.to
	}
	if err := e.commit(ctx, prev, o, now); err != nil {
		return nil, err
	}
	e.audit(t.action, actor, prev.Status, o)
	for _, typ := range t.events {
		e.emit(ctx, typ, actor, prev.Status, o)
	}
	return o, nil
}

// commit 校验不变量后以 prev.Version 为期望版本写入。
func (e *Engine) commit(ctx context.Context, prev, next *order.Order, now time.Time) error {
	if err := order.CheckWrite(prev, next); err != nil {
		return err
	}
	if err := order.CheckBundle(next); err != nil {
		return err
	}
	next.UpdatedAt = now
	return e.store.Update(ctx, prev.Version, next)
}

func (e *Engine) audit(action Action, actor auth.Actor, from order.Status, o *order.Order) {
	logger.Audit().Info("order_transition",
		slog.String("order_id", o.ID),
		slog.String("action", string(action)),
		slog.String("actor", actor.String()),
		slog.String("from", string(from)),
		slog.String("to", string(o.Status)),
		slog.Int64("version", o.Version),
	)
}

func (e *Engine) emit(ctx context.Context, t events.Type, actor auth.Actor, from order.Status, o *order.Order) {
	event := events.New(t, actor, e.now())
	event.OrderID = o.ID
	event.From = string(from)
	event.To = string(o.Status)
	event.Version = o.Version
	e.emitter.Emit(ctx, event)
}

func (e *Engine) observe(action Action, err error) {
	result := "ok"
	if err != nil {
		result = string(xerrors.CodeOf(err))
	}
	metrics.ObserveTransition(string(action), result)
	if err != nil && xerrors.ShouldAlert(err) {
		e.logger.Error("订单操作失败", slog.String("action", string(action)), slog.Any("error", err))
	}
}
