// Package report builds agent reports and applies edits to them. Every edit
// appends an EditHistoryEntry before the live fields are overwritten, so the
// history of a report is never rewritten.
package report

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	xerrors "PurchaseRelay/internal/errors"
	"PurchaseRelay/internal/order"
	"PurchaseRelay/internal/pricing"
)

// Input 是首次提交报价时的内容。
type Input struct {
	UserAmount            decimal.Decimal            `json:"user_amount"`
	PaymentLink           string                     `json:"payment_link,omitempty"`
	AdditionalMedia       []string                   `json:"additional_media,omitempty"`
	AdditionalDescription string                     `json:"additional_description,omitempty"`
	Quantity              int                        `json:"quantity,omitempty"`
	ItemAmounts           map[string]decimal.Decimal `json:"item_amounts,omitempty"`
}

// Update 是一次报价修改。nil 字段保持原值，只修改链接或说明时也会记录一条历史。
type Update struct {
	UserAmount            *decimal.Decimal           `json:"user_amount,omitempty"`
	PaymentLink           *string                    `json:"payment_link,omitempty"`
	AdditionalMedia       []string                   `json:"additional_media,omitempty"`
	AdditionalDescription *string                    `json:"additional_description,omitempty"`
	ItemAmounts           map[string]decimal.Decimal `json:"item_amounts,omitempty"`
	Reason                string                     `json:"reason,omitempty"`
}

// Build 校验输入并创建版本为 1 的报价。
func Build(orderID, itemID string, in Input, now time.Time) (*order.AgentReport, error) {
	if !in.UserAmount.IsPositive() {
		return nil, xerrors.New(xerrors.CodeValidation, "报价金额必须大于 0")
	}
	if in.Quantity < 0 {
		return nil, xerrors.New(xerrors.CodeValidation, "数量不能为负数")
	}
	if in.ItemAmounts != nil {
		if err := checkItemAmounts(in.ItemAmounts, in.UserAmount); err != nil {
			return nil, err
		}
	}
	r := &order.AgentReport{
		OrderID:               orderID,
		ItemID:                itemID,
		UserAmount:            in.UserAmount,
		PaymentLink:           strings.TrimSpace(in.PaymentLink),
		AdditionalMedia:       append([]string(nil), in.AdditionalMedia...),
		AdditionalDescription: in.AdditionalDescription,
		Quantity:              in.Quantity,
		Version:               1,
		SubmittedAt:           now,
		UpdatedAt:             now,
	}
	if in.ItemAmounts != nil {
		r.ItemAmounts = make(map[string]decimal.Decimal, len(in.ItemAmounts))
		for k, v := range in.ItemAmounts {
			r.ItemAmounts[k] = v
		}
	}
	return r, nil
}

// ApplyEdit 追加一条修改记录，然后覆盖报价的当前字段并递增版本。
func ApplyEdit(r *order.AgentReport, u Update, now time.Time) error {
	if r == nil {
		return xerrors.New(xerrors.CodeNotFound, "订单尚未报价")
	}
	amount := r.UserAmount
	if u.UserAmount != nil {
		if !u.UserAmount.IsPositive() {
			return xerrors.New(xerrors.CodeValidation, "报价金额必须大于 0")
		}
		amount = *u.UserAmount
	}

	itemAmounts := r.ItemAmounts
	if r.ItemAmounts != nil {
		if u.ItemAmounts != nil {
			if !sameKeys(u.ItemAmounts, r.ItemAmounts) {
				return xerrors.New(xerrors.CodeValidation, "分项金额必须覆盖相同的商品")
			}
			itemAmounts = u.ItemAmounts
		}
		if err := checkItemAmounts(itemAmounts, amount); err != nil {
			return err
		}
	} else if u.ItemAmounts != nil {
		return xerrors.New(xerrors.CodeValidation, "报价没有分项金额")
	}

	reason := strings.TrimSpace(u.Reason)
	if !changes(r, u, amount, itemAmounts) && reason == "" {
		return xerrors.New(xerrors.CodeValidation, "修改内容为空")
	}

	r.EditHistory = append(r.EditHistory, order.EditHistoryEntry{
		EditedAt:       now,
		PreviousAmount: r.UserAmount,
		NewAmount:      amount,
		Reason:         reason,
	})
	r.UserAmount = amount
	if u.PaymentLink != nil {
		r.PaymentLink = strings.TrimSpace(*u.PaymentLink)
	}
	if u.AdditionalMedia != nil {
		r.AdditionalMedia = append([]string(nil), u.AdditionalMedia...)
	}
	if u.AdditionalDescription != nil {
		r.AdditionalDescription = *u.AdditionalDescription
	}
	if u.ItemAmounts != nil {
		r.ItemAmounts = make(map[string]decimal.Decimal, len(u.ItemAmounts))
		for k, v := range u.ItemAmounts {
			r.ItemAmounts[k] = v
		}
	}
	r.Version++
	r.UpdatedAt = now
	return nil
}

// RemoveItemAmount 从单次报价中去掉一个商品的分项金额，并把新合计记为一次修改。
func RemoveItemAmount(r *order.AgentReport, itemID string, now time.Time) error {
	if r == nil || r.ItemAmounts == nil {
		return xerrors.New(xerrors.CodeValidation, "报价没有分项金额")
	}
	if _, ok := r.ItemAmounts[itemID]; !ok {
		return xerrors.Newf(xerrors.CodeValidation, "报价中没有商品 %s 的分项金额", itemID)
	}
	if len(r.ItemAmounts) == 1 {
		return xerrors.New(xerrors.CodeValidation, "不能移除最后一个分项金额")
	}
	remaining := make(map[string]decimal.Decimal, len(r.ItemAmounts)-1)
	for k, v := range r.ItemAmounts {
		if k != itemID {
			remaining[k] = v
		}
	}
	total := pricing.SumItemAmounts(remaining)
	return ApplyEdit(r, Update{
		UserAmount:  &total,
		ItemAmounts: remaining,
		Reason:      "移除商品: " + itemID,
	}, now)
}

// History 返回修改记录的副本。
func History(r *order.AgentReport) []order.EditHistoryEntry {
	if r == nil {
		return nil
	}
	return append([]order.EditHistoryEntry(nil), r.EditHistory...)
}

func checkItemAmounts(amounts map[string]decimal.Decimal, total decimal.Decimal) error {
	if len(amounts) == 0 {
		return xerrors.New(xerrors.CodeValidation, "分项金额不能为空")
	}
	for id, v := range amounts {
		if !v.IsPositive() {
			return xerrors.Newf(xerrors.CodeValidation, "商品 %s 的分项金额必须大于 0", id)
		}
	}
	if sum := pricing.SumItemAmounts(amounts); !sum.Equal(total) {
		return xerrors.Newf(xerrors.CodeValidation, "分项金额合计为 %s，应为 %s", sum, total)
	}
	return nil
}

func sameKeys(a, b map[string]decimal.Decimal) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func changes(r *order.AgentReport, u Update, amount decimal.Decimal, itemAmounts map[string]decimal.Decimal) bool {
	if !r.UserAmount.Equal(amount) {
		return true
	}
	if u.PaymentLink != nil && strings.TrimSpace(*u.PaymentLink) != r.PaymentLink {
		return true
	}
	if u.AdditionalDescription != nil && *u.AdditionalDescription != r.AdditionalDescription {
		return true
	}
	if u.AdditionalMedia != nil && !equalStrings(u.AdditionalMedia, r.AdditionalMedia) {
		return true
	}
	for k, v := range itemAmounts {
		if !r.ItemAmounts[k].Equal(v) {
			return true
		}
	}
	return false
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
