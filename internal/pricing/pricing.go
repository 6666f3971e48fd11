// Package pricing converts agent-quoted amounts into the amount a requester
// pays. All requester-facing totals go through this package.
package pricing

import (
	"math"

	"github.com/shopspring/decimal"

	xerrors "PurchaseRelay/internal/errors"
	"PurchaseRelay/internal/order"
)

// Markup 是平台服务费倍率。
var Markup = decimal.RequireFromString("1.05")

var maxAmount = decimal.NewFromInt(math.MaxInt64)

// Total 是订单的原始报价合计及换算后请求方需支付的金额。
type Total struct {
	Source decimal.Decimal
	Amount int64
}

// RequesterAmount returns round(userAmount × rate × 1.05). The product is
// computed exactly and rounded once, half away from zero, to an integer.
func RequesterAmount(userAmount, rate decimal.Decimal) (int64, error) {
	if !userAmount.IsPositive() {
		return 0, xerrors.New(xerrors.CodeValidation, "报价金额必须大于 0")
	}
	if !rate.IsPositive() {
		return 0, xerrors.New(xerrors.CodeValidation, "汇率必须大于 0")
	}
	return roundOnce(userAmount.Mul(rate).Mul(Markup))
}

// OrderTotal 计算订单面向请求方的总价。打包订单先汇总有效商品的原始报价，再统一换算取整。
func OrderTotal(o *order.Order, rate decimal.Decimal) (Total, error) {
	sum, err := SourceAmount(o)
	if err != nil {
		return Total{}, err
	}
	amount, err := RequesterAmount(sum, rate)
	if err != nil {
		return Total{}, err
	}
	return Total{Source: sum, Amount: amount}, nil
}

// SourceAmount 返回订单在代购方币种下的报价合计。
func SourceAmount(o *order.Order) (decimal.Decimal, error) {
	if o == nil {
		return decimal.Zero, xerrors.New(xerrors.CodeValidation, "订单不能为空")
	}
	if o.IsBundle() && o.ReportMode == order.ReportModePerItem {
		sum := decimal.Zero
		quoted := 0
		for _, item := range o.ActiveItems() {
			if item.Report == nil {
				continue
			}
			sum = sum.Add(item.Report.UserAmount)
			quoted++
		}
		if quoted == 0 {
			return decimal.Zero, xerrors.New(xerrors.CodeValidation, "打包订单没有已报价的商品")
		}
		return sum, nil
	}
	if o.Report == nil {
		return decimal.Zero, xerrors.New(xerrors.CodeValidation, "订单尚未报价")
	}
	return o.Report.UserAmount, nil
}

// SumItemAmounts 汇总单次报价中的分项金额。
func SumItemAmounts(amounts map[string]decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range amounts {
		sum = sum.Add(v)
	}
	return sum
}

// roundOnce 四舍五入（远离零）到整数，超出 int64 范围时报错。
func roundOnce(v decimal.Decimal) (int64, error) {
	rounded := v.Round(0)
	if rounded.GreaterThan(maxAmount) {
		return 0, xerrors.Newf(xerrors.CodeValidation, "应付金额 %s 超出可表示范围", rounded)
	}
	return rounded.IntPart(), nil
}
