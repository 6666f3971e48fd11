// Package visibility splits orders into the active and archived views each
// role sees. Archive flags are per role: a requester archiving an order does
// not hide it from the agent, and admins have no archive flag at all.
package visibility

import (
	"context"

	"PurchaseRelay/internal/auth"
	xerrors "PurchaseRelay/internal/errors"
	"PurchaseRelay/internal/order"
)

// Counts 是某个角色视图下的订单数量。
type Counts struct {
	Active   int                  `json:"active"`
	Archived int                  `json:"archived"`
	ByStatus map[order.Status]int `json:"by_status"`
}

// Partitioner 基于订单存储的索引回答各角色的列表与计数查询。
type Partitioner struct {
	store order.Store
}

// New 创建 Partitioner。
func New(store order.Store) *Partitioner {
	return &Partitioner{store: store}
}

// Query 返回 viewer 在指定视图下的查询条件。
func Query(viewer auth.Actor, archived bool) (order.Query, error) {
	if !viewer.Valid() {
		return order.Query{}, xerrors.New(xerrors.CodeAuthorization, "调用方未认证")
	}
	switch viewer.Role {
	case auth.RoleRequester:
		return order.Query{RequesterID: viewer.ID, ArchivedByRequester: order.Bool(archived)}, nil
	case auth.RoleAgent:
		q := order.Query{AgentID: viewer.ID, ArchivedByAgent: order.Bool(archived)}
		// 待认领订单只出现在活跃视图中。
		q.IncludeOpenPool = !archived
		return q, nil
	default:
		return order.Query{}, nil
	}
}

// List 按更新时间倒序分页返回 viewer 的活跃或归档订单。
func (p *Partitioner) List(ctx context.Context, viewer auth.Actor, archived bool, opts ...order.ListOption) ([]*order.Order, error) {
	q, err := Query(viewer, archived)
	if err != nil {
		return nil, err
	}
	return p.store.List(ctx, q, opts...)
}

// Counts 返回活跃与归档视图的总数，以及活跃视图按状态的分布。
// 管理员的两个视图相同，因此 Archived 等于全部订单数。
func (p *Partitioner) Counts(ctx context.Context, viewer auth.Actor) (Counts, error) {
	active, err := Query(viewer, false)
	if err != nil {
		return Counts{}, err
	}
	archived, _ := Query(viewer, true)

	stats, err := p.store.Stats(ctx, active)
	if err != nil {
		return Counts{}, err
	}
	archivedCount, err := p.store.Count(ctx, archived)
	if err != nil {
		return Counts{}, err
	}
	return Counts{Active: stats.Total, Archived: archivedCount, ByStatus: stats.ByStatus}, nil
}
