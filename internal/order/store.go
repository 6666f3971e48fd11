package order

import "context"

// Store 定义订单持久化接口。所有写入都通过版本号进行比较并交换。
type Store interface {
	// Create 保存新订单，Version 被置为 1。
	Create(ctx context.Context, order *Order) error
	// Get 返回订单副本。
	Get(ctx context.Context, id string) (*Order, error)
	// Update 仅当存储中的版本等于 expectedVersion 时写入，成功后 order.Version 为 expectedVersion+1。
	Update(ctx context.Context, expectedVersion int64, order *Order) error
	// List 返回满足查询条件的订单。
	List(ctx context.Context, q Query, opts ...ListOption) ([]*Order, error)
	// Count 返回满足查询条件的订单数量。
	Count(ctx context.Context, q Query) (int, error)
	// Stats 按状态统计满足查询条件的订单。
	Stats(ctx context.Context, q Query) (Stats, error)
	Close() error
}
