package settlement

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"PurchaseRelay/internal/auth"
	xerrors "PurchaseRelay/internal/errors"
	"PurchaseRelay/internal/events"
	"PurchaseRelay/internal/observability/alerting"
	"PurchaseRelay/internal/order"
	"PurchaseRelay/internal/report"
	"PurchaseRelay/internal/rewards"
	"PurchaseRelay/pkg/logger"
)

// MinAgentCancelReason 是代购方取消订单时理由的最小字符数。
const MinAgentCancelReason = 5

// Submission 是代购方提交的报价。单品订单与单次报价模式的打包订单使用 Report，
// 逐项报价模式使用 Items，两者不能同时出现。
type Submission struct {
	Mode   order.ReportMode        `json:"mode,omitempty"`
	Report *report.Input           `json:"report,omitempty"`
	Items  map[string]report.Input `json:"items,omitempty"`
}

// Claim 由代购方认领一笔待认领订单。并发认领时只有一方成功，其余得到 CONFLICT。
func (e *Engine) Claim(ctx context.Context, actor auth.Actor, id string) (*order.Order, error) {
	return e.run(ctx, actor, id, transition{
		action: ActionClaim,
		from:   []order.Status{order.StatusPublished, order.StatusResearching},
		to:     order.StatusResearching,
		precheck: func(o *order.Order) error {
			switch {
			case o.AgentID == "":
				return nil
			case o.AgentID != actor.ID:
				return xerrors.New(xerrors.CodeConflict, "订单已被其他代购方认领",
					xerrors.WithMetadata("order_id", o.ID))
			default:
				return order.NewInvalidTransition(string(ActionClaim), actor.Role, o.Status, order.StatusResearching)
			}
		},
		apply: func(o *order.Order, now time.Time) error {
			o.AgentID = actor.ID
			o.ClaimedAt = now
			return nil
		},
		events: []events.Type{events.OrderClaimed},
	})
}

// SubmitReport 提交报价，订单进入待付款。打包订单在此确定报价模式。
func (e *Engine) SubmitReport(ctx context.Context, actor auth.Actor, id string, sub Submission) (*order.Order, error) {
	return e.run(ctx, actor, id, transition{
		action: ActionSubmitReport,
		from:   []order.Status{order.StatusResearching},
		to:     order.StatusAwaitingPayment,
		apply: func(o *order.Order, now time.Time) error {
			if err := attachReport(o, sub, now); err != nil {
				return err
			}
			o.ReportedAt = now
			return nil
		},
		events: []events.Type{events.ReportSubmitted},
	})
}

func attachReport(o *order.Order, sub Submission, now time.Time) error {
	if sub.Report != nil && sub.Items != nil {
		return xerrors.New(xerrors.CodeValidation, "单次报价与逐项报价不能同时提交")
	}
	if !o.IsBundle() {
		if sub.Mode == order.ReportModePerItem || sub.Items != nil {
			return xerrors.New(xerrors.CodeValidation, "逐项报价仅适用于打包订单")
		}
		if sub.Report == nil {
			return xerrors.New(xerrors.CodeValidation, "报价不能为空")
		}
		if sub.Report.ItemAmounts != nil {
			return xerrors.New(xerrors.CodeValidation, "分项金额仅适用于打包订单")
		}
		r, err := report.Build(o.ID, "", *sub.Report, now)
		if err != nil {
			return err
		}
		o.Report = r
		return nil
	}

	mode := sub.Mode
	if mode == order.ReportModeUnset {
		mode = order.ReportModeSingle
		if sub.Items != nil {
			mode = order.ReportModePerItem
		}
	}
	if o.ReportMode != order.ReportModeUnset && o.ReportMode != mode {
		return xerrors.New(xerrors.CodeValidation, "报价模式确定后不能更改")
	}

	switch mode {
	case order.ReportModeSingle:
		if sub.Report == nil {
			return xerrors.New(xerrors.CodeValidation, "单次报价模式需要提交报价")
		}
		if sub.Report.ItemAmounts == nil {
			return xerrors.New(xerrors.CodeValidation, "单次报价必须包含每个商品的分项金额")
		}
		for itemID := range sub.Report.ItemAmounts {
			if idx := o.ItemIndex(itemID); idx < 0 || !o.Items[idx].Active() {
				return xerrors.Newf(xerrors.CodeValidation, "商品 %s 不属于该打包订单", itemID)
			}
		}
		r, err := report.Build(o.ID, "", *sub.Report, now)
		if err != nil {
			return err
		}
		o.Report = r
		for i := range o.Items {
			if o.Items[i].Active() {
				o.Items[i].Status = order.ItemQuoted
			}
		}
	case order.ReportModePerItem:
		if sub.Report != nil || len(sub.Items) == 0 {
			return xerrors.New(xerrors.CodeValidation, "逐项报价模式需要提交各商品报价")
		}
		for itemID := range sub.Items {
			if idx := o.ItemIndex(itemID); idx < 0 || !o.Items[idx].Active() {
				return xerrors.Newf(xerrors.CodeValidation, "商品 %s 不属于该打包订单", itemID)
			}
		}
		for i := range o.Items {
			item := &o.Items[i]
			if !item.Active() {
				continue
			}
			in, ok := sub.Items[item.ID]
			if !ok {
				return xerrors.Newf(xerrors.CodeValidation, "商品 %s 缺少报价", item.ID)
			}
			if in.ItemAmounts != nil {
				return xerrors.New(xerrors.CodeValidation, "逐项报价不能包含分项金额")
			}
			r, err := report.Build(o.ID, item.ID, in, now)
			if err != nil {
				return err
			}
			item.Report = r
			item.Status = order.ItemQuoted
		}
	default:
		return xerrors.Newf(xerrors.CodeValidation, "未知的报价模式 %q", mode)
	}
	o.ReportMode = mode
	return nil
}

// CancelByAgent 由已认领的代购方放弃订单，理由去除空白后至少 5 个字符。
func (e *Engine) CancelByAgent(ctx context.Context, actor auth.Actor, id, reason string) (*order.Order, error) {
	return e.run(ctx, actor, id, transition{
		action: ActionCancelByAgent,
		from:   []order.Status{order.StatusResearching},
		to:     order.StatusCancelled,
		apply: func(o *order.Order, now time.Time) error {
			reason = strings.TrimSpace(reason)
			if utf8.RuneCountInString(reason) < MinAgentCancelReason {
				return xerrors.New(xerrors.CodeValidation, "取消理由过短",
					xerrors.WithMetadata("min_length", "5"))
			}
			markCancelled(o, reason, auth.RoleAgent, now)
			return nil
		},
		events: []events.Type{events.OrderCancelled},
	})
}

// VerifyPayment 由管理员确认请求方已付款，订单完成。
func (e *Engine) VerifyPayment(ctx context.Context, actor auth.Actor, id string) (*order.Order, error) {
	return e.run(ctx, actor, id, transition{
		action: ActionVerifyPayment,
		from:   []order.Status{order.StatusAwaitingPayment},
		to:     order.StatusCompleted,
		apply: func(o *order.Order, now time.Time) error {
			o.UserPaymentVerified = true
			o.CompletedAt = now
			return nil
		},
		events: []events.Type{events.PaymentVerified, events.OrderCompleted},
	})
}

// CancelPayment 由管理员在待付款阶段取消订单。
func (e *Engine) CancelPayment(ctx context.Context, actor auth.Actor, id, reason string) (*order.Order, error) {
	return e.run(ctx, actor, id, transition{
		action: ActionCancelPayment,
		from:   []order.Status{order.StatusAwaitingPayment},
		to:     order.StatusCancelled,
		apply:  adminCancel(reason),
		events: []events.Type{events.OrderCancelled},
	})
}

// AdminForceCancel 由管理员取消任意未结束的订单。
func (e *Engine) AdminForceCancel(ctx context.Context, actor auth.Actor, id, reason string) (*order.Order, error) {
	return e.run(ctx, actor, id, transition{
		action: ActionForceCancel,
		from:   []order.Status{order.StatusPublished, order.StatusResearching, order.StatusAwaitingPayment},
		to:     order.StatusCancelled,
		apply:  adminCancel(reason),
		events: []events.Type{events.OrderCancelled},
	})
}

func adminCancel(reason string) func(*order.Order, time.Time) error {
	return func(o *order.Order, now time.Time) error {
		reason = strings.TrimSpace(reason)
		if reason == "" {
			return xerrors.New(xerrors.CodeValidation, "取消理由不能为空")
		}
		markCancelled(o, reason, auth.RoleAdmin, now)
		return nil
	}
}

// RequesterCancel 由请求方在待认领或待付款阶段取消自己的订单。
func (e *Engine) RequesterCancel(ctx context.Context, actor auth.Actor, id, reason string) (*order.Order, error) {
	return e.run(ctx, actor, id, transition{
		action: ActionRequesterCancel,
		from:   []order.Status{order.StatusPublished, order.StatusAwaitingPayment},
		to:     order.StatusCancelled,
		apply: func(o *order.Order, now time.Time) error {
			markCancelled(o, strings.TrimSpace(reason), auth.RoleRequester, now)
			return nil
		},
		events: []events.Type{events.OrderCancelled},
	})
}

func markCancelled(o *order.Order, reason string, by auth.Role, now time.Time) {
	o.CancelReason = reason
	o.CancelledBy = by
	o.CancelledAt = now
}

// Cancel 按角色与状态分派取消操作：代购方放弃、请求方取消，
// 管理员在待付款时取消付款，否则强制取消。
func (e *Engine) Cancel(ctx context.Context, actor auth.Actor, id, reason string) (*order.Order, error) {
	switch actor.Role {
	case auth.RoleAgent:
		return e.CancelByAgent(ctx, actor, id, reason)
	case auth.RoleRequester:
		return e.RequesterCancel(ctx, actor, id, reason)
	case auth.RoleAdmin:
		o, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if o.Status == order.StatusAwaitingPayment {
			return e.CancelPayment(ctx, actor, id, reason)
		}
		return e.AdminForceCancel(ctx, actor, id, reason)
	}
	return nil, AuthorizeRole(ActionForceCancel, actor)
}

// AssignTrackCode 为已完成订单设置物流单号，重复设置会覆盖。
func (e *Engine) AssignTrackCode(ctx context.Context, actor auth.Actor, id, code string) (*order.Order, error) {
	return e.run(ctx, actor, id, transition{
		action: ActionAssignTrackCode,
		from:   []order.Status{order.StatusCompleted},
		apply: func(o *order.Order, _ time.Time) error {
			code = strings.TrimSpace(code)
			if code == "" {
				return xerrors.New(xerrors.CodeValidation, "物流单号不能为空")
			}
			o.TrackCode = code
			return nil
		},
		events: []events.Type{events.TrackCodeAssigned},
	})
}

// CreditAgentPayment 由管理员确认已向代购方付款，并为其发放积分。
// 付款标记只会被设置一次；积分发放失败时标记已提交，可通过 RetryRewardCredit 补发。
func (e *Engine) CreditAgentPayment(ctx context.Context, actor auth.Actor, id string) (*order.Order, error) {
	o, err := e.run(ctx, actor, id, transition{
		action: ActionCreditAgent,
		from:   []order.Status{order.StatusCompleted},
		precheck: func(o *order.Order) error {
			if o.AgentPaymentPaid {
				return xerrors.New(xerrors.CodeAlreadyResolved, "已向代购方付款",
					xerrors.WithMetadata("order_id", o.ID))
			}
			return nil
		},
		apply: func(o *order.Order, _ time.Time) error {
			o.AgentPaymentPaid = true
			return nil
		},
		events: []events.Type{events.AgentPaymentCredited},
	})
	if err != nil {
		return nil, err
	}
	if err := e.creditPoints(ctx, o); err != nil {
		return o, err
	}
	return o, nil
}

// RetryRewardCredit 为已付款但积分未入账的订单补发积分。
func (e *Engine) RetryRewardCredit(ctx context.Context, actor auth.Actor, id string) (*order.Order, error) {
	o, err := e.retryCredit(ctx, actor, id)
	e.observe(ActionRetryRewardCredit, err)
	return o, err
}

func (e *Engine) retryCredit(ctx context.Context, actor auth.Actor, id string) (*order.Order, error) {
	if err := AuthorizeRole(ActionRetryRewardCredit, actor); err != nil {
		return nil, err
	}
	o, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusCompleted || !o.AgentPaymentPaid {
		return nil, order.NewInvalidTransition(string(ActionRetryRewardCredit), actor.Role, o.Status, "")
	}
	credited, err := e.rewards.HasCredit(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	if credited {
		return nil, rewards.ErrAlreadyCredited
	}
	if err := e.creditPoints(ctx, o); err != nil {
		return nil, err
	}
	logger.Audit().Info("reward_credit_retried",
		slog.String("order_id", o.ID),
		slog.String("agent_id", o.AgentID),
		slog.String("admin_id", actor.ID),
	)
	return o, nil
}

func (e *Engine) creditPoints(ctx context.Context, o *order.Order) error {
	_, err := e.rewards.Credit(ctx, o.AgentID, o.ID, e.points(o))
	if err == nil || stdErrors.Is(err, rewards.ErrAlreadyCredited) {
		return nil
	}
	e.logger.Error("积分发放失败",
		slog.String("order_id", o.ID),
		slog.String("agent_id", o.AgentID),
		slog.Any("error", err),
	)
	if e.alerts != nil {
		if notifyErr := e.alerts.Notify(ctx, alerting.FromError(err, o.ID, string(ActionCreditAgent))); notifyErr != nil {
			e.logger.Warn("发送告警失败", slog.String("order_id", o.ID), slog.Any("error", notifyErr))
		}
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, "积分发放失败，可通过 credit/retry 补发",
		xerrors.WithMetadata("order_id", o.ID))
}
