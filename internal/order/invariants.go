package order

import (
	xerrors "PurchaseRelay/internal/errors"
)

// CheckWrite 校验一次写入不会破坏订单的不变量：状态合法、代购方一经设置不可变更、
// 付款标记与归档标记只能由 false 变为 true、修改历史只追加。
func CheckWrite(prev, next *Order) error {
	if !IsValidStatus(next.Status) {
		return xerrors.Newf(xerrors.CodeValidation, "未知的订单状态 %q", next.Status)
	}
	if prev == nil {
		return nil
	}
	if prev.AgentID != "" && next.AgentID != prev.AgentID {
		return xerrors.New(xerrors.CodeValidation, "代购方不能被更换")
	}
	if (prev.UserPaymentVerified && !next.UserPaymentVerified) ||
		(prev.AgentPaymentPaid && !next.AgentPaymentPaid) ||
		(prev.ArchivedByRequester && !next.ArchivedByRequester) ||
		(prev.ArchivedByAgent && !next.ArchivedByAgent) {
		return xerrors.New(xerrors.CodeValidation, "已设置的标记不能撤销")
	}
	if prev.ReportMode != ReportModeUnset && next.ReportMode != prev.ReportMode {
		return xerrors.New(xerrors.CodeValidation, "报价模式确定后不能更改")
	}
	if err := checkHistory(prev.Report, next.Report); err != nil {
		return err
	}
	for _, item := range prev.Items {
		idx := next.ItemIndex(item.ID)
		if idx < 0 {
			return xerrors.New(xerrors.CodeValidation, "打包订单的商品不能被删除")
		}
		if err := checkHistory(item.Report, next.Items[idx].Report); err != nil {
			return err
		}
	}
	return nil
}

func checkHistory(prev, next *AgentReport) error {
	if prev == nil {
		return nil
	}
	if next == nil {
		return xerrors.New(xerrors.CodeValidation, "报价不能被删除")
	}
	if len(next.EditHistory) < len(prev.EditHistory) {
		return xerrors.New(xerrors.CodeValidation, "修改记录只能追加")
	}
	for i, entry := range prev.EditHistory {
		got := next.EditHistory[i]
		if !got.EditedAt.Equal(entry.EditedAt) || !got.PreviousAmount.Equal(entry.PreviousAmount) ||
			!got.NewAmount.Equal(entry.NewAmount) || got.Reason != entry.Reason {
			return xerrors.New(xerrors.CodeValidation, "修改记录只能追加")
		}
	}
	return nil
}

// CheckBundle 校验打包订单的结构：至少保留一个商品；进入待付款及之后的状态时，
// 报价必须覆盖全部有效商品。
func CheckBundle(o *Order) error {
	if !o.IsBundle() {
		return nil
	}
	active := o.ActiveItems()
	if len(active) == 0 {
		return xerrors.New(xerrors.CodeValidation, "打包订单至少保留一个商品")
	}
	if o.Status == StatusPublished || o.Status == StatusResearching || o.ReportMode == ReportModeUnset {
		return nil
	}
	switch o.ReportMode {
	case ReportModeSingle:
		if o.Report == nil {
			return xerrors.New(xerrors.CodeValidation, "单次报价模式需要提交报价")
		}
		if len(o.Report.ItemAmounts) != len(active) {
			return xerrors.New(xerrors.CodeValidation, "报价必须包含每个有效商品的分项金额")
		}
		for _, item := range active {
			if _, ok := o.Report.ItemAmounts[item.ID]; !ok {
				return xerrors.Newf(xerrors.CodeValidation, "报价缺少商品 %s 的分项金额", item.ID)
			}
		}
	case ReportModePerItem:
		for _, item := range active {
			if item.Status != ItemQuoted || item.Report == nil {
				return xerrors.Newf(xerrors.CodeValidation, "商品 %s 缺少报价", item.ID)
			}
		}
	}
	return nil
}
