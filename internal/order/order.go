package order

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"PurchaseRelay/internal/auth"
	xerrors "PurchaseRelay/internal/errors"
)

// Status 表示订单在生命周期中的状态。
type Status string

const (
	StatusPublished       Status = "published"
	StatusResearching     Status = "researching"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
)

// AllStatuses 按生命周期顺序列出全部状态。
var AllStatuses = []Status{StatusPublished, StatusResearching, StatusAwaitingPayment, StatusCompleted, StatusCancelled}

// IsValidStatus 判断状态是否合法。
func IsValidStatus(s Status) bool {
	switch s {
	case StatusPublished, StatusResearching, StatusAwaitingPayment, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further lifecycle transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Kind 区分单品订单与打包订单。
type Kind string

const (
	KindSingle Kind = "single"
	KindBundle Kind = "bundle"
)

// ReportMode 决定打包订单的报价方式，首次提交报价后不可更改。
type ReportMode string

const (
	ReportModeUnset   ReportMode = ""
	ReportModeSingle  ReportMode = "single"
	ReportModePerItem ReportMode = "per_item"
)

// ItemStatus 表示打包订单中单个商品的状态。
type ItemStatus string

const (
	ItemPending ItemStatus = "pending"
	ItemQuoted  ItemStatus = "quoted"
	ItemRemoved ItemStatus = "removed"
)

// EditHistoryEntry 记录一次报价修改，只追加不修改。
type EditHistoryEntry struct {
	EditedAt       time.Time       `json:"edited_at"`
	PreviousAmount decimal.Decimal `json:"previous_amount"`
	NewAmount      decimal.Decimal `json:"new_amount"`
	Reason         string          `json:"reason,omitempty"`
}

// AgentReport 是代购方提交的调研报价。
type AgentReport struct {
	OrderID               string                     `json:"order_id"`
	ItemID                string                     `json:"item_id,omitempty"`
	UserAmount            decimal.Decimal            `json:"user_amount"`
	PaymentLink           string                     `json:"payment_link,omitempty"`
	AdditionalMedia       []string                   `json:"additional_media,omitempty"`
	AdditionalDescription string                     `json:"additional_description,omitempty"`
	Quantity              int                        `json:"quantity,omitempty"`
	ItemAmounts           map[string]decimal.Decimal `json:"item_amounts,omitempty"`
	Version               int                        `json:"version"`
	SubmittedAt           time.Time                  `json:"submitted_at"`
	UpdatedAt             time.Time                  `json:"updated_at"`
	EditHistory           []EditHistoryEntry         `json:"edit_history,omitempty"`
}

// BundleItem 是打包订单中的一个商品。
type BundleItem struct {
	ID          string       `json:"id"`
	ProductName string       `json:"product_name"`
	Description string       `json:"description,omitempty"`
	Media       []string     `json:"media,omitempty"`
	Status      ItemStatus   `json:"status"`
	Report      *AgentReport `json:"report,omitempty"`
}

// Active reports whether the item still belongs to the bundle.
func (i BundleItem) Active() bool { return i.Status != ItemRemoved }

// Order 描述一笔代购订单。打包订单通过 Kind 区分并携带 Items。
type Order struct {
	ID                  string       `json:"id"`
	Kind                Kind         `json:"kind"`
	RequesterID         string       `json:"requester_id"`
	AgentID             string       `json:"agent_id,omitempty"`
	ProductName         string       `json:"product_name"`
	Description         string       `json:"description,omitempty"`
	Media               []string     `json:"media,omitempty"`
	Status              Status       `json:"status"`
	Version             int64        `json:"version"`
	UserPaymentVerified bool         `json:"user_payment_verified"`
	AgentPaymentPaid    bool         `json:"agent_payment_paid"`
	TrackCode           string       `json:"track_code,omitempty"`
	CancelReason        string       `json:"cancel_reason,omitempty"`
	CancelledBy         auth.Role    `json:"cancelled_by,omitempty"`
	ArchivedByRequester bool         `json:"archived_by_requester"`
	ArchivedByAgent     bool         `json:"archived_by_agent"`
	ReportMode          ReportMode   `json:"report_mode,omitempty"`
	Report              *AgentReport `json:"report,omitempty"`
	Items               []BundleItem `json:"items,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
	ClaimedAt           time.Time    `json:"claimed_at,omitzero"`
	ReportedAt          time.Time    `json:"reported_at,omitzero"`
	CompletedAt         time.Time    `json:"completed_at,omitzero"`
	CancelledAt         time.Time    `json:"cancelled_at,omitzero"`
}

// IsBundle 判断是否为打包订单。
func (o *Order) IsBundle() bool { return o != nil && o.Kind == KindBundle }

// Unclaimed reports whether the order sits in the open pool agents can claim from.
func (o *Order) Unclaimed() bool {
	return o != nil && o.Status == StatusPublished && o.AgentID == ""
}

// ActiveItems 返回未被移除的商品。
func (o *Order) ActiveItems() []BundleItem {
	if o == nil {
		return nil
	}
	out := make([]BundleItem, 0, len(o.Items))
	for _, item := range o.Items {
		if item.Active() {
			out = append(out, item)
		}
	}
	return out
}

// ItemIndex 返回商品下标，未找到时返回 -1。
func (o *Order) ItemIndex(itemID string) int {
	for i, item := range o.Items {
		if item.ID == itemID {
			return i
		}
	}
	return -1
}

// ArchivedFor reports whether the order is archived in the given role's view.
// Admins have no archive flag.
func (o *Order) ArchivedFor(role auth.Role) bool {
	switch role {
	case auth.RoleRequester:
		return o.ArchivedByRequester
	case auth.RoleAgent:
		return o.ArchivedByAgent
	}
	return false
}

var (
	// ErrOrderNotFound 表示订单不存在。
	ErrOrderNotFound = xerrors.New(xerrors.CodeNotFound, "订单不存在")
	// ErrVersionConflict 表示写入时版本号不匹配。
	ErrVersionConflict = xerrors.New(xerrors.CodeConflict, "订单已被并发修改")
	// ErrOrderExists 表示订单 ID 重复。
	ErrOrderExists = xerrors.New(xerrors.CodeConflict, "订单已存在")
	// ErrInvalidTransition 是所有非法状态迁移错误的哨兵值。
	ErrInvalidTransition = xerrors.New(xerrors.CodeInvalidTransition, "当前状态不允许该操作")
)

// InvalidTransitionError 描述一次在当前状态下不被允许的操作。
type InvalidTransitionError struct {
	Current   Status
	Attempted Status
	Action    string
	Role      auth.Role
}

func (e *InvalidTransitionError) Error() string {
	if e.Attempted != "" {
		return fmt.Sprintf("[%s] %s by %s not allowed: %s -> %s", xerrors.CodeInvalidTransition, e.Action, e.Role, e.Current, e.Attempted)
	}
	return fmt.Sprintf("[%s] 状态 %s 下角色 %s 不能执行 %s", xerrors.CodeInvalidTransition, e.Current, e.Role, e.Action)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// NewInvalidTransition 构造非法迁移错误。
func NewInvalidTransition(action string, role auth.Role, current, attempted Status) error {
	return &InvalidTransitionError{Current: current, Attempted: attempted, Action: action, Role: role}
}
