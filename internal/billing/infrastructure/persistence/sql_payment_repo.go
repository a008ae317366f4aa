package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
	"github.com/felixgeelhaar/voltage/internal/shared/infrastructure/database"
)

const paymentColumns = `id, user_id, type, product, amount, currency, idempotency_key, status,
	external_transaction_id, failure_reason, version, created_at, completed_at`

// SQLPaymentRepository stores payments in the payments table.
type SQLPaymentRepository struct {
	sqlStore
}

// NewSQLPaymentRepository creates a repository.
func NewSQLPaymentRepository(conn database.Connection) *SQLPaymentRepository {
	return &SQLPaymentRepository{sqlStore: sqlStore{conn: conn}}
}

func (r *SQLPaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	p.Version = 1
	_, err := r.exec(ctx).Exec(ctx, r.q(`
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		string(p.ID), int64(p.UserID), string(p.Type), p.Product,
		p.Amount.Amount, string(p.Amount.Currency), p.IdempotencyKey, string(p.Status),
		p.ExternalTransactionID, p.FailureReason, p.Version,
		r.ts(p.CreatedAt), r.nullTS(p.CompletedAt),
	)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: key %s", domain.ErrPaymentExists, p.IdempotencyKey)
	}
	return err
}

func (r *SQLPaymentRepository) Get(ctx context.Context, id domain.PaymentID) (*domain.Payment, error) {
	return r.findOne(ctx, "id = ?", string(id))
}

func (r *SQLPaymentRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error) {
	return r.findOne(ctx, "idempotency_key = ?", key)
}

func (r *SQLPaymentRepository) FindByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	if transactionID == "" {
		return nil, fmt.Errorf("%w: empty transaction id", domain.ErrPaymentNotFound)
	}
	return r.findOne(ctx, "external_transaction_id = ?", transactionID)
}

func (r *SQLPaymentRepository) findOne(ctx context.Context, where string, arg any) (*domain.Payment, error) {
	row := r.exec(ctx).QueryRow(ctx, r.q(`SELECT `+paymentColumns+` FROM payments WHERE `+where+` LIMIT 1`), arg)
	p, err := scanPayment(row)
	if database.IsNoRows(err) {
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentNotFound, arg)
	}
	return p, err
}

func (r *SQLPaymentRepository) ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]*domain.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.exec(ctx).Query(ctx, r.q(`
		SELECT `+paymentColumns+` FROM payments
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`), int64(userID), limit)
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

func (r *SQLPaymentRepository) Find(ctx context.Context, q domain.PaymentQuery) ([]*domain.Payment, error) {
	var (
		where []string
		args  []any
	)
	if q.UserID != nil {
		where = append(where, "user_id = ?")
		args = append(args, int64(*q.UserID))
	}
	if q.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(q.Type))
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}
	if q.CreatedBefore != nil {
		where = append(where, "created_at < ?")
		args = append(args, r.ts(*q.CreatedBefore))
	}

	query := "SELECT " + paymentColumns + " FROM payments"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := r.exec(ctx).Query(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

func collectPayments(rows database.Rows) ([]*domain.Payment, error) {
	defer rows.Close()
	var out []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *SQLPaymentRepository) Update(ctx context.Context, id domain.PaymentID, fn func(p *domain.Payment) error) (*domain.Payment, error) {
	for attempt := 0; attempt < domain.MaxTransactRetries; attempt++ {
		var result *domain.Payment
		err := database.InTx(ctx, r.conn, func(ctx context.Context) error {
			p, err := r.Get(ctx, id)
			if err != nil {
				return err
			}
			if err := fn(p); err != nil {
				return err
			}
			expected := p.Version
			p.Version++
			res, err := r.exec(ctx).Exec(ctx, r.q(`
				UPDATE payments SET
					status = ?, external_transaction_id = ?, failure_reason = ?,
					completed_at = ?, version = ?
				WHERE id = ? AND version = ?
			`),
				string(p.Status), p.ExternalTransactionID, p.FailureReason,
				r.nullTS(p.CompletedAt), p.Version,
				string(p.ID), expected,
			)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err != nil {
				return err
			} else if n == 0 {
				return errVersionConflict
			}
			result = p
			return nil
		})
		if errors.Is(err, errVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("%w: payment %s", domain.ErrTransactionConflict, id)
}

func scanPayment(row database.Row) (*domain.Payment, error) {
	var (
		p                    domain.Payment
		id, typ, status, cur string
		userID               int64
		createdAt, completed database.Timestamp
	)
	err := row.Scan(
		&id, &userID, &typ, &p.Product, &p.Amount.Amount, &cur, &p.IdempotencyKey, &status,
		&p.ExternalTransactionID, &p.FailureReason, &p.Version, &createdAt, &completed,
	)
	if err != nil {
		return nil, err
	}
	p.ID = domain.PaymentID(id)
	p.UserID = domain.UserID(userID)
	p.Type = domain.PaymentType(typ)
	p.Status = domain.PaymentStatus(status)
	p.Amount.Currency = domain.Currency(cur)
	p.CreatedAt = createdAt.Time
	p.CompletedAt = completed.Ptr()
	return &p, nil
}

var _ domain.PaymentRepository = (*SQLPaymentRepository)(nil)
