package rewards

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "PurchaseRelay/internal/errors"
)

// MySQLStore 使用 MySQL 保存积分数据，表结构见 deploy/migrations。
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

// AddCredit 在同一事务中写入积分记录并累加余额。
func (s *MySQLStore) AddCredit(ctx context.Context, credit Credit) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO reward_credits (order_id, agent_id, points, credited_at) VALUES (?, ?, ?, ?)`,
			credit.OrderID, credit.AgentID, credit.Points, credit.CreditedAt.UnixMilli())
		if err != nil {
			var mysqlErr *mysql.MySQLError
			if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
				return ErrAlreadyCredited
			}
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入积分记录失败")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO reward_balances (agent_id, points, updated_at) VALUES (?, ?, ?)
        ON DUPLICATE KEY UPDATE points = points + VALUES(points), updated_at = VALUES(updated_at)`,
			credit.AgentID, credit.Points, credit.CreditedAt.UnixMilli())
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "累加积分余额失败")
		}
		return nil
	})
}

// HasCredit 判断订单是否已发放积分。
func (s *MySQLStore) HasCredit(ctx context.Context, orderID string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reward_credits WHERE order_id = ?`, orderID).Scan(&count); err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询积分记录失败")
	}
	return count > 0, nil
}

// Balance 返回代购方当前余额。
func (s *MySQLStore) Balance(ctx context.Context, agentID string) (int64, error) {
	var points int64
	err := s.db.QueryRowContext(ctx, `SELECT points FROM reward_balances WHERE agent_id = ?`, agentID).Scan(&points)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询积分余额失败")
	}
	return points, nil
}

// OpenRequest 锁定余额行，快照后清零并写入申请。
func (s *MySQLStore) OpenRequest(ctx context.Context, req *Request) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var balance int64
		err := tx.QueryRowContext(ctx, `SELECT points FROM reward_balances WHERE agent_id = ? FOR UPDATE`, req.AgentID).Scan(&balance)
		if err != nil && !stdErrors.Is(err, sql.ErrNoRows) {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "锁定积分余额失败")
		}
		if balance <= 0 {
			return ErrNothingToRedeem
		}
		if _, err := tx.ExecContext(ctx, `UPDATE reward_balances SET points = 0, updated_at = ? WHERE agent_id = ?`,
			req.CreatedAt.UnixMilli(), req.AgentID); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "清零积分余额失败")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO reward_requests (id, agent_id, amount, status, created_at) VALUES (?, ?, ?, ?, ?)`,
			req.ID, req.AgentID, balance, RequestPending, req.CreatedAt.UnixMilli()); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入兑换申请失败")
		}
		req.Amount = balance
		req.Status = RequestPending
		return nil
	})
}

// GetRequest 查询兑换申请。
func (s *MySQLStore) GetRequest(ctx context.Context, id string) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM reward_requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询兑换申请失败")
	}
	return req, nil
}

// Resolve 以 status = 'pending' 为条件更新申请，拒绝时在同一事务中退回积分。
func (s *MySQLStore) Resolve(ctx context.Context, id string, status RequestStatus, by string, at time.Time) (*Request, error) {
	var resolved *Request
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		req, err := scanRequest(tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM reward_requests WHERE id = ? FOR UPDATE`, id))
		if err != nil {
			if stdErrors.Is(err, sql.ErrNoRows) {
				return ErrRequestNotFound
			}
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询兑换申请失败")
		}
		if req.Status != RequestPending {
			resolved = req
			return ErrAlreadyResolved
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE reward_requests SET status = ?, resolved_at = ?, resolved_by = ? WHERE id = ? AND status = ?`,
			status, at.UnixMilli(), by, id, RequestPending)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新兑换申请失败")
		}
		if affected, err := res.RowsAffected(); err != nil || affected == 0 {
			return ErrAlreadyResolved
		}
		if status == RequestRejected {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO reward_balances (agent_id, points, updated_at) VALUES (?, ?, ?)
        ON DUPLICATE KEY UPDATE points = points + VALUES(points), updated_at = VALUES(updated_at)`,
				req.AgentID, req.Amount, at.UnixMilli()); err != nil {
				return xerrors.Wrap(xerrors.CodeStorageFailure, err, "退回积分失败")
			}
		}
		req.Status = status
		req.ResolvedAt = at
		req.ResolvedBy = by
		resolved = req
		return nil
	})
	return resolved, err
}

// ListRequests 按创建时间倒序返回申请。
func (s *MySQLStore) ListRequests(ctx context.Context, filter Filter) ([]*Request, error) {
	filter.applyDefaults()
	var clauses []string
	var args []any
	if filter.AgentID != "" {
		clauses = append(clauses, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	stmt := `SELECT ` + requestColumns + ` FROM reward_requests`
	if len(clauses) > 0 {
		stmt += " WHERE " + strings.Join(clauses, " AND ")
	}
	stmt += ` ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询兑换申请列表失败")
	}
	defer rows.Close()
	out := make([]*Request, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析兑换申请失败")
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历兑换申请失败")
	}
	return out, nil
}

// Close 释放连接池。
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func (s *MySQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

const requestColumns = `id, agent_id, amount, status, created_at, resolved_at, resolved_by`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	var req Request
	var createdAt, resolvedAt int64
	if err := row.Scan(&req.ID, &req.AgentID, &req.Amount, &req.Status, &createdAt, &resolvedAt, &req.ResolvedBy); err != nil {
		return nil, err
	}
	req.CreatedAt = time.UnixMilli(createdAt).UTC()
	if resolvedAt > 0 {
		req.ResolvedAt = time.UnixMilli(resolvedAt).UTC()
	}
	return &req, nil
}

var _ Store = (*MySQLStore)(nil)
