package order

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"PurchaseRelay/internal/auth"
	xerrors "PurchaseRelay/internal/errors"
)

const orderColumns = `id, kind, requester_id, agent_id, product_name, description, media, status, version,
        user_payment_verified, agent_payment_paid, track_code, cancel_reason, cancelled_by,
        archived_by_requester, archived_by_agent, report_mode, report, items,
        created_at, updated_at, claimed_at, reported_at, completed_at, cancelled_at`

// MySQLStore 使用 MySQL 保存订单，表结构由 deploy/migrations 维护。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 基于已建立的连接池创建 MySQLStore。
func NewMySQLStore(db *sql.DB) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeValidation, "MySQL 连接不能为空")
	}
	return &MySQLStore{db: db}, nil
}

// Create 插入新订单。主键冲突映射为 ErrOrderExists。
func (s *MySQLStore) Create(ctx context.Context, order *Order) error {
	if order == nil || strings.TrimSpace(order.ID) == "" {
		return xerrors.New(xerrors.CodeValidation, "订单 ID 不能为空")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}
	order.Version = 1

	row, err := encodeRow(order)
	if err != nil {
		return err
	}
	const stmt = `INSERT INTO orders (` + orderColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt, row...); err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrOrderExists
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入订单失败")
	}
	return nil
}

// Get 查询指定订单。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	order, err := scanOrder(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询订单失败")
	}
	return order, nil
}

// Update 通过 version 条件更新实现比较并交换。影响行数为 0 时区分不存在与版本冲突。
func (s *MySQLStore) Update(ctx context.Context, expectedVersion int64, order *Order) error {
	if order == nil {
		return xerrors.New(xerrors.CodeValidation, "order 不能为空")
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = time.Now()
	}
	next := *order
	next.Version = expectedVersion + 1
	row, err := encodeRow(&next)
	if err != nil {
		return err
	}

	const stmt = `UPDATE orders SET kind = ?, requester_id = ?, agent_id = ?, product_name = ?, description = ?, media = ?,
        status = ?, version = ?, user_payment_verified = ?, agent_payment_paid = ?, track_code = ?, cancel_reason = ?,
        cancelled_by = ?, archived_by_requester = ?, archived_by_agent = ?, report_mode = ?, report = ?, items = ?,
        created_at = ?, updated_at = ?, claimed_at = ?, reported_at = ?, completed_at = ?, cancelled_at = ?
        WHERE id = ? AND version = ?`
	args := append(row[1:], order.ID, expectedVersion)
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新订单失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		if _, err := s.Get(ctx, order.ID); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	order.Version = next.Version
	return nil
}

// List 返回满足条件的订单。
func (s *MySQLStore) List(ctx context.Context, q Query, opts ...ListOption) ([]*Order, error) {
	options := BuildListOptions(opts...)
	where, args := buildWhere(q)
	direction := "DESC"
	if options.Order == SortByUpdatedAsc {
		direction = "ASC"
	}
	stmt := `SELECT ` + orderColumns + ` FROM orders` + where +
		` ORDER BY updated_at ` + direction + `, id ASC LIMIT ? OFFSET ?`
	args = append(args, options.Limit, options.Offset)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询订单列表失败")
	}
	defer rows.Close()

	orders := make([]*Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析订单失败")
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历订单失败")
	}
	return orders, nil
}

// Count 返回满足条件的订单数量。
func (s *MySQLStore) Count(ctx context.Context, q Query) (int, error) {
	where, args := buildWhere(q)
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&count); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计订单失败")
	}
	return count, nil
}

// Stats 按状态分组统计。
func (s *MySQLStore) Stats(ctx context.Context, q Query) (Stats, error) {
	where, args := buildWhere(q)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM orders`+where+` GROUP BY status`, args...)
	if err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计订单状态失败")
	}
	defer rows.Close()

	stats := newStats()
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析统计结果失败")
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历统计结果失败")
	}
	return stats, nil
}

// Close 释放连接池。
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func buildWhere(q Query) (string, []any) {
	var owner []string
	var args []any
	if q.RequesterID != "" {
		owner = append(owner, "requester_id = ?")
		args = append(args, q.RequesterID)
	}
	if q.AgentID != "" {
		owner = append(owner, "agent_id = ?")
		args = append(args, q.AgentID)
	}
	if q.ArchivedByRequester != nil {
		owner = append(owner, "archived_by_requester = ?")
		args = append(args, *q.ArchivedByRequester)
	}
	if q.ArchivedByAgent != nil {
		owner = append(owner, "archived_by_agent = ?")
		args = append(args, *q.ArchivedByAgent)
	}

	var clauses []string
	switch {
	case q.IncludeOpenPool && len(owner) > 0:
		clauses = append(clauses, "(("+strings.Join(owner, " AND ")+") OR (status = ? AND agent_id = ''))")
		args = append(args, StatusPublished)
	case len(owner) > 0:
		clauses = append(clauses, owner...)
	}
	if len(q.Statuses) > 0 {
		placeholders := make([]string, len(q.Statuses))
		for i, status := range q.Statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !q.CreatedSince.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, q.CreatedSince.UnixMilli())
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func encodeRow(o *Order) ([]any, error) {
	media, err := encodeJSON(o.Media)
	if err != nil {
		return nil, err
	}
	report, err := encodeJSON(o.Report)
	if err != nil {
		return nil, err
	}
	items, err := encodeJSON(o.Items)
	if err != nil {
		return nil, err
	}
	return []any{
		o.ID, o.Kind, o.RequesterID, o.AgentID, o.ProductName, o.Description, media, o.Status, o.Version,
		o.UserPaymentVerified, o.AgentPaymentPaid, o.TrackCode, o.CancelReason, string(o.CancelledBy),
		o.ArchivedByRequester, o.ArchivedByAgent, o.ReportMode, report, items,
		toMillis(o.CreatedAt), toMillis(o.UpdatedAt), toMillis(o.ClaimedAt), toMillis(o.ReportedAt),
		toMillis(o.CompletedAt), toMillis(o.CancelledAt),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var (
		o                                                      Order
		media, report, items, description, cancelReason        sql.NullString
		cancelledBy                                            string
		createdAt, updatedAt, claimedAt, reportedAt, completed int64
		cancelledAt                                            int64
	)
	if err := row.Scan(
		&o.ID, &o.Kind, &o.RequesterID, &o.AgentID, &o.ProductName, &description, &media, &o.Status, &o.Version,
		&o.UserPaymentVerified, &o.AgentPaymentPaid, &o.TrackCode, &cancelReason, &cancelledBy,
		&o.ArchivedByRequester, &o.ArchivedByAgent, &o.ReportMode, &report, &items,
		&createdAt, &updatedAt, &claimedAt, &reportedAt, &completed, &cancelledAt,
	); err != nil {
		return nil, err
	}
	o.Description = description.String
	o.CancelReason = cancelReason.String
	o.CancelledBy = auth.Role(cancelledBy)
	if err := decodeJSON(media, &o.Media); err != nil {
		return nil, err
	}
	if err := decodeJSON(report, &o.Report); err != nil {
		return nil, err
	}
	if err := decodeJSON(items, &o.Items); err != nil {
		return nil, err
	}
	o.CreatedAt = fromMillis(createdAt)
	o.UpdatedAt = fromMillis(updatedAt)
	o.ClaimedAt = fromMillis(claimedAt)
	o.ReportedAt = fromMillis(reportedAt)
	o.CompletedAt = fromMillis(completed)
	o.CancelledAt = fromMillis(cancelledAt)
	return &o, nil
}

func encodeJSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "编码订单字段失败")
	}
	if string(data) == "null" {
		return nil, nil
	}
	return string(data), nil
}

func decodeJSON(raw sql.NullString, target any) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), target)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

var _ Store = (*MySQLStore)(nil)
