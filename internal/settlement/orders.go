package settlement

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"PurchaseRelay/internal/auth"
	xerrors "PurchaseRelay/internal/errors"
	"PurchaseRelay/internal/events"
	"PurchaseRelay/internal/order"
	"PurchaseRelay/internal/pricing"
	"PurchaseRelay/internal/report"
)

// Draft 是请求方发布单品订单时提交的内容。
type Draft struct {
	ProductName string   `json:"product_name"`
	Description string   `json:"description,omitempty"`
	Media       []string `json:"media,omitempty"`
}

// BundleDraft 是请求方发布打包订单时提交的内容。
type BundleDraft struct {
	ProductName string   `json:"product_name,omitempty"`
	Description string   `json:"description,omitempty"`
	Media       []string `json:"media,omitempty"`
	Items       []Draft  `json:"items"`
}

// Quote 是请求方需支付金额的计算结果。
type Quote struct {
	OrderID      string          `json:"order_id"`
	SourceAmount decimal.Decimal `json:"source_amount"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	Amount       int64           `json:"amount"`
}

// CreateOrder 发布单品订单。
func (e *Engine) CreateOrder(ctx context.Context, actor auth.Actor, d Draft) (*order.Order, error) {
	o, err := e.create(ctx, actor, func(now time.Time) (*order.Order, error) {
		name := strings.TrimSpace(d.ProductName)
		if name == "" {
			return nil, xerrors.New(xerrors.CodeValidation, "商品名称不能为空")
		}
		return &order.Order{
			ID:          e.newID(),
			Kind:        order.KindSingle,
			ProductName: name,
			Description: strings.TrimSpace(d.Description),
			Media:       append([]string(nil), d.Media...),
		}, nil
	})
	e.observe(ActionCreate, err)
	return o, err
}

// CreateBundle 发布打包订单，至少包含一个商品。
func (e *Engine) CreateBundle(ctx context.Context, actor auth.Actor, d BundleDraft) (*order.Order, error) {
	o, err := e.create(ctx, actor, func(now time.Time) (*order.Order, error) {
		if len(d.Items) == 0 {
			return nil, xerrors.New(xerrors.CodeValidation, "打包订单至少需要一个商品")
		}
		items := make([]order.BundleItem, 0, len(d.Items))
		for i, draft := range d.Items {
			name := strings.TrimSpace(draft.ProductName)
			if name == "" {
				return nil, xerrors.Newf(xerrors.CodeValidation, "第 %d 个商品名称不能为空", i+1)
			}
			items = append(items, order.BundleItem{
				ID:          e.newID(),
				ProductName: name,
				Description: strings.TrimSpace(draft.Description),
				Media:       append([]string(nil), draft.Media...),
				Status:      order.ItemPending,
			})
		}
		name := strings.TrimSpace(d.ProductName)
		if name == "" {
			name = items[0].ProductName
		}
		return &order.Order{
			ID:          e.newID(),
			Kind:        order.KindBundle,
			ProductName: name,
			Description: strings.TrimSpace(d.Description),
			Media:       append([]string(nil), d.Media...),
			Items:       items,
		}, nil
	})
	e.observe(ActionCreate, err)
	return o, err
}

func (e *Engine) create(ctx context.Context, actor auth.Actor, build func(now time.Time) (*order.Order, error)) (*order.Order, error) {
	if err := AuthorizeRole(ActionCreate, actor); err != nil {
		return nil, err
	}
	now := e.now()
	o, err := build(now)
	if err != nil {
		return nil, err
	}
	if err := e.checkQuota(ctx, actor.ID, now); err != nil {
		return nil, err
	}
	o.RequesterID = actor.ID
	o.Status = order.StatusPublished
	o.CreatedAt = now
	o.UpdatedAt = now
	if err := order.CheckWrite(nil, o); err != nil {
		return nil, err
	}
	if err := order.CheckBundle(o); err != nil {
		return nil, err
	}
	if err := e.store.Create(ctx, o); err != nil {
		return nil, err
	}
	e.audit(ActionCreate, actor, "", o)
	e.emit(ctx, events.OrderCreated, actor, "", o)
	return o, nil
}

// checkQuota 在配额开启时限制请求方窗口期内的下单数与进行中的订单数。
func (e *Engine) checkQuota(ctx context.Context, requesterID string, now time.Time) error {
	current, err := e.settings.Current(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeConfigFailure, err, "读取汇率配置失败")
	}
	quota := current.Quota
	if !quota.Enabled {
		return nil
	}
	if quota.MaxPerDay > 0 {
		created, err := e.store.Count(ctx, order.Query{RequesterID: requesterID, CreatedSince: e.window(now)})
		if err != nil {
			return err
		}
		if created >= quota.MaxPerDay {
			return xerrors.New(xerrors.CodeQuotaExceeded, "已达到每日下单上限",
				xerrors.WithMetadata("limit", itoa(quota.MaxPerDay)))
		}
	}
	if quota.MaxActive > 0 {
		active, err := e.store.Count(ctx, order.Query{
			RequesterID: requesterID,
			Statuses:    []order.Status{order.StatusPublished, order.StatusResearching, order.StatusAwaitingPayment},
		})
		if err != nil {
			return err
		}
		if active >= quota.MaxActive {
			return xerrors.New(xerrors.CodeQuotaExceeded, "进行中的订单数已达上限",
				xerrors.WithMetadata("limit", itoa(quota.MaxActive)))
		}
	}
	return nil
}

// GetOrder 返回订单。待认领订单对所有代购方可见。
func (e *Engine) GetOrder(ctx context.Context, actor auth.Actor, id string) (*order.Order, error) {
	if err := AuthorizeRole(ActionViewOrder, actor); err != nil {
		return nil, err
	}
	o, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(ActionViewOrder, actor, o); err != nil {
		return nil, err
	}
	return o, nil
}

// GetReport 返回订单报价。itemID 非空时返回逐项报价模式下该商品的报价。
func (e *Engine) GetReport(ctx context.Context, actor auth.Actor, id, itemID string) (*order.AgentReport, error) {
	if err := AuthorizeRole(ActionViewReport, actor); err != nil {
		return nil, err
	}
	o, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(ActionViewReport, actor, o); err != nil {
		return nil, err
	}
	r, err := reportFor(o, itemID)
	if err != nil {
		return nil, err
	}
	return r.Clone(), nil
}

func reportFor(o *order.Order, itemID string) (*order.AgentReport, error) {
	if itemID == "" {
		if o.IsBundle() && o.ReportMode == order.ReportModePerItem {
			return nil, xerrors.New(xerrors.CodeValidation, "逐项报价模式下需要指定 item_id")
		}
		if o.Report == nil {
			return nil, xerrors.New(xerrors.CodeNotFound, "订单尚未报价")
		}
		return o.Report, nil
	}
	idx := o.ItemIndex(itemID)
	if idx < 0 {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "商品 %s 不存在", itemID)
	}
	if o.Items[idx].Report == nil {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "商品 %s 尚未报价", itemID)
	}
	return o.Items[idx].Report, nil
}

// UpdateReport 在请求方付款确认前修改报价。修改先追加历史再覆盖当前值。
func (e *Engine) UpdateReport(ctx context.Context, actor auth.Actor, id, itemID string, u report.Update) (*order.Order, error) {
	return e.run(ctx, actor, id, transition{
		action: ActionUpdateReport,
		from:   []order.Status{order.StatusAwaitingPayment},
		precheck: func(o *order.Order) error {
			if o.UserPaymentVerified {
				return order.NewInvalidTransition(string(ActionUpdateReport), actor.Role, o.Status, "")
			}
			return nil
		},
		apply: func(o *order.Order, now time.Time) error {
			if o.IsBundle() && o.ReportMode == order.ReportModePerItem {
				if itemID == "" {
					return xerrors.New(xerrors.CodeValidation, "逐项报价模式下需要指定 item_id")
				}
				idx := o.ItemIndex(itemID)
				if idx < 0 {
					return xerrors.Newf(xerrors.CodeNotFound, "商品 %s 不存在", itemID)
				}
				if !o.Items[idx].Active() {
					return xerrors.Newf(xerrors.CodeValidation, "商品 %s 已被移除", itemID)
				}
				return report.ApplyEdit(o.Items[idx].Report, u, now)
			}
			if itemID != "" {
				return xerrors.New(xerrors.CodeValidation, "只有逐项报价模式可以指定 item_id")
			}
			return report.ApplyEdit(o.Report, u, now)
		},
		events: []events.Type{events.ReportEdited},
	})
}

// RemoveItem 由请求方在付款确认前从打包订单中移除商品。最后一个商品不能移除。
func (e *Engine) RemoveItem(ctx context.Context, actor auth.Actor, bundleID, itemID string) (*order.Order, error) {
	return e.run(ctx, actor, bundleID, transition{
		action: ActionRemoveItem,
		from:   []order.Status{order.StatusAwaitingPayment},
		precheck: func(o *order.Order) error {
			if !o.IsBundle() {
				return xerrors.New(xerrors.CodeValidation, "订单不是打包订单")
			}
			if o.UserPaymentVerified {
				return order.NewInvalidTransition(string(ActionRemoveItem), actor.Role, o.Status, "")
			}
			return nil
		},
		apply: func(o *order.Order, now time.Time) error {
			idx := o.ItemIndex(itemID)
			if idx < 0 {
				return xerrors.Newf(xerrors.CodeNotFound, "商品 %s 不存在", itemID)
			}
			if !o.Items[idx].Active() {
				return xerrors.Newf(xerrors.CodeAlreadyResolved, "商品 %s 已被移除", itemID)
			}
			if len(o.ActiveItems()) == 1 {
				return xerrors.New(xerrors.CodeValidation, "不能移除打包订单的最后一个商品")
			}
			if o.ReportMode == order.ReportModeSingle {
				if err := report.RemoveItemAmount(o.Report, itemID, now); err != nil {
					return err
				}
			}
			o.Items[idx].Status = order.ItemRemoved
			return nil
		},
		events: []events.Type{events.BundleItemRemoved},
	})
}

// Archive 把已结束的订单从调用方的活跃视图移到归档视图，只影响调用方自己的标记。
func (e *Engine) Archive(ctx context.Context, actor auth.Actor, id string) (*order.Order, error) {
	return e.run(ctx, actor, id, transition{
		action: ActionArchive,
		from:   []order.Status{order.StatusCompleted, order.StatusCancelled},
		precheck: func(o *order.Order) error {
			if o.ArchivedFor(actor.Role) {
				return xerrors.New(xerrors.CodeAlreadyResolved, "订单已归档",
					xerrors.WithMetadata("order_id", o.ID))
			}
			return nil
		},
		apply: func(o *order.Order, _ time.Time) error {
			switch actor.Role {
			case auth.RoleRequester:
				o.ArchivedByRequester = true
			case auth.RoleAgent:
				o.ArchivedByAgent = true
			}
			return nil
		},
		events: []events.Type{events.OrderArchived},
	})
}

// RequesterAmount 按当前汇率计算请求方需支付的金额。
func (e *Engine) RequesterAmount(ctx context.Context, actor auth.Actor, id string) (Quote, error) {
	if err := AuthorizeRole(ActionViewAmount, actor); err != nil {
		return Quote{}, err
	}
	o, err := e.store.Get(ctx, id)
	if err != nil {
		return Quote{}, err
	}
	if err := Authorize(ActionViewAmount, actor, o); err != nil {
		return Quote{}, err
	}
	current, err := e.settings.Current(ctx)
	if err != nil {
		return Quote{}, xerrors.Wrap(xerrors.CodeConfigFailure, err, "读取汇率配置失败")
	}
	total, err := pricing.OrderTotal(o, current.ExchangeRate)
	if err != nil {
		return Quote{}, err
	}
	return Quote{OrderID: o.ID, SourceAmount: total.Source, ExchangeRate: current.ExchangeRate, Amount: total.Amount}, nil
}

func itoa(n int) string { return strconv.Itoa(n) }
