package order

import "github.com/shopspring/decimal"

// Clone 返回订单的深拷贝，存储层对外只暴露副本。
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Media = cloneStrings(o.Media)
	c.Report = o.Report.Clone()
	if o.Items != nil {
		c.Items = make([]BundleItem, len(o.Items))
		for i, item := range o.Items {
			item.Media = cloneStrings(item.Media)
			item.Report = item.Report.Clone()
			c.Items[i] = item
		}
	}
	return &c
}

// Clone 返回报价的深拷贝。
func (r *AgentReport) Clone() *AgentReport {
	if r == nil {
		return nil
	}
	c := *r
	c.AdditionalMedia = cloneStrings(r.AdditionalMedia)
	if r.ItemAmounts != nil {
		c.ItemAmounts = make(map[string]decimal.Decimal, len(r.ItemAmounts))
		for k, v := range r.ItemAmounts {
			c.ItemAmounts[k] = v
		}
	}
	if r.EditHistory != nil {
		c.EditHistory = append([]EditHistoryEntry(nil), r.EditHistory...)
	}
	return &c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
