package order

import "time"

// SortOrder defines how results should be ordered when listing orders.
type SortOrder int

const (
	// SortByUpdatedDesc orders by UpdatedAt, most recent first.
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc orders by UpdatedAt, oldest first.
	SortByUpdatedAsc
)

// ListOptions controls paging and ordering.
type ListOptions struct {
	Limit  int
	Offset int
	Order  SortOrder
}

func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Order != SortByUpdatedAsc {
		opts.Order = SortByUpdatedDesc
	}
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of orders returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) { opts.Limit = limit }
}

// WithOffset skips the first n matching orders.
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) { opts.Offset = offset }
}

// WithSortOrder changes the returned order.
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) { opts.Order = order }
}

// BuildListOptions applies option functions on top of defaults.
func BuildListOptions(opts ...ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

// Query selects orders. Owner fields are combined with AND; when
// IncludeOpenPool is set, unclaimed published orders match as well,
// regardless of the owner and archive filters. Statuses and CreatedSince
// apply to every row.
type Query struct {
	RequesterID         string
	AgentID             string
	ArchivedByRequester *bool
	ArchivedByAgent     *bool
	IncludeOpenPool     bool
	Statuses            []Status
	CreatedSince        time.Time
}

// Bool returns a pointer to b, for Query archive filters.
func Bool(b bool) *bool { return &b }

// Match 判断订单是否满足查询条件。
func (q Query) Match(o *Order) bool {
	if len(q.Statuses) > 0 && !containsStatus(q.Statuses, o.Status) {
		return false
	}
	if !q.CreatedSince.IsZero() && o.CreatedAt.Before(q.CreatedSince) {
		return false
	}
	if q.IncludeOpenPool && o.Unclaimed() {
		return true
	}
	return q.matchOwner(o)
}

func (q Query) matchOwner(o *Order) bool {
	if q.RequesterID != "" && o.RequesterID != q.RequesterID {
		return false
	}
	if q.AgentID != "" && o.AgentID != q.AgentID {
		return false
	}
	if q.ArchivedByRequester != nil && o.ArchivedByRequester != *q.ArchivedByRequester {
		return false
	}
	if q.ArchivedByAgent != nil && o.ArchivedByAgent != *q.ArchivedByAgent {
		return false
	}
	return true
}

func containsStatus(list []Status, s Status) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}
