package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
	"github.com/felixgeelhaar/voltage/internal/shared/infrastructure/crypto"
	"github.com/felixgeelhaar/voltage/internal/shared/infrastructure/database"
)

// errVersionConflict signals a lost compare-and-swap; Transact retries on it.
var errVersionConflict = errors.New("version conflict")

// sqlStore holds the helpers shared by the SQLite and PostgreSQL repositories.
type sqlStore struct {
	conn database.Connection
}

func (s sqlStore) exec(ctx context.Context) database.Executor {
	return database.ExecutorFromContext(ctx, s.conn)
}

func (s sqlStore) q(query string) string {
	return database.Rebind(s.conn.Driver(), query)
}

func (s sqlStore) ts(t time.Time) any {
	return database.TimeArg(s.conn.Driver(), t)
}

func (s sqlStore) nullTS(t *time.Time) any {
	return database.NullTimeArg(s.conn.Driver(), t)
}

// SQLAccountRepository stores account documents in the accounts table on
// SQLite or PostgreSQL. The document is JSON; sweep fields are mirrored into
// indexed columns on every write.
type SQLAccountRepository struct {
	sqlStore
	codec codec
}

// NewSQLAccountRepository creates a repository. A nil sealer stores payment
// tokens as given.
func NewSQLAccountRepository(conn database.Connection, sealer crypto.Sealer) *SQLAccountRepository {
	return &SQLAccountRepository{sqlStore: sqlStore{conn: conn}, codec: newCodec(sealer)}
}

func (r *SQLAccountRepository) marshal(a *domain.Account) (string, indexFields, error) {
	doc, err := r.codec.encode(a)
	if err != nil {
		return "", indexFields{}, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", indexFields{}, fmt.Errorf("marshal account %s: %w", a.ID, err)
	}
	return string(raw), index(a), nil
}

func (r *SQLAccountRepository) Create(ctx context.Context, acct *domain.Account) error {
	acct.Version = 1
	doc, idx, err := r.marshal(acct)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx).Exec(ctx, r.q(`
		INSERT INTO accounts (
			id, balance, plan, sub_status, retry_count, grace_ends_at,
			document, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		int64(acct.ID), acct.Balance, string(acct.Plan),
		idx.status, idx.retryCount, r.nullTS(idx.graceEndsAt),
		doc, acct.Version, r.ts(acct.CreatedAt), r.ts(acct.UpdatedAt),
	)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", domain.ErrUserExists, acct.ID)
	}
	return err
}

func (r *SQLAccountRepository) Get(ctx context.Context, id domain.UserID) (*domain.Account, error) {
	var (
		raw     string
		version int64
	)
	err := r.exec(ctx).QueryRow(ctx, r.q(`SELECT document, version FROM accounts WHERE id = ?`), int64(id)).Scan(&raw, &version)
	if database.IsNoRows(err) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUserNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var doc accountDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", id, err)
	}
	acct, err := r.codec.decode(doc)
	if err != nil {
		return nil, err
	}
	acct.Version = version
	return acct, nil
}

// Save upserts the document unconditionally and bumps the version.
func (r *SQLAccountRepository) Save(ctx context.Context, acct *domain.Account) error {
	doc, idx, err := r.marshal(acct)
	if err != nil {
		return err
	}
	return r.exec(ctx).QueryRow(ctx, r.q(`
		INSERT INTO accounts (
			id, balance, plan, sub_status, retry_count, grace_ends_at,
			document, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			balance = excluded.balance,
			plan = excluded.plan,
			sub_status = excluded.sub_status,
			retry_count = excluded.retry_count,
			grace_ends_at = excluded.grace_ends_at,
			document = excluded.document,
			version = accounts.version + 1,
			updated_at = excluded.updated_at
		RETURNING version
	`),
		int64(acct.ID), acct.Balance, string(acct.Plan),
		idx.status, idx.retryCount, r.nullTS(idx.graceEndsAt),
		doc, r.ts(acct.CreatedAt), r.ts(acct.UpdatedAt),
	).Scan(&acct.Version)
}

func (r *SQLAccountRepository) Transact(ctx context.Context, id domain.UserID, fn domain.MutateFunc) (*domain.Account, error) {
	for attempt := 0; attempt < domain.MaxTransactRetries; attempt++ {
		var result *domain.Account
		err := database.InTx(ctx, r.conn, func(ctx context.Context) error {
			acct, err := r.Get(ctx, id)
			if err != nil {
				return err
			}
			if err := fn(acct); err != nil {
				return err
			}
			if err := r.compareAndSwap(ctx, acct); err != nil {
				return err
			}
			result = acct
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
	return nil, fmt.Errorf("%w: user %s", domain.ErrTransactionConflict, id)
}

func (r *SQLAccountRepository) compareAndSwap(ctx context.Context, acct *domain.Account) error {
	expected := acct.Version
	acct.Version++
	doc, idx, err := r.marshal(acct)
	if err != nil {
		return err
	}
	res, err := r.exec(ctx).Exec(ctx, r.q(`
		UPDATE accounts SET
			balance = ?, plan = ?, sub_status = ?, retry_count = ?, grace_ends_at = ?,
			document = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`),
		acct.Balance, string(acct.Plan), idx.status, idx.retryCount, r.nullTS(idx.graceEndsAt),
		doc, acct.Version, r.ts(acct.UpdatedAt),
		int64(acct.ID), expected,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errVersionConflict
	}
	return nil
}

func (r *SQLAccountRepository) Find(ctx context.Context, q domain.AccountQuery) ([]domain.UserID, error) {
	var (
		where []string
		args  []any
	)
	if q.Plan != nil {
		where = append(where, "plan = ?")
		args = append(args, string(*q.Plan))
	}
	if q.Balance != nil {
		where = append(where, "balance = ?")
		args = append(args, *q.Balance)
	}
	if q.Status != "" {
		where = append(where, "sub_status = ?")
		args = append(args, string(q.Status))
	}
	if q.RetriesBelow > 0 {
		where = append(where, "retry_count < ?")
		args = append(args, q.RetriesBelow)
	}
	if q.GraceEndsBy != nil {
		where = append(where, "grace_ends_at IS NOT NULL AND grace_ends_at <= ?")
		args = append(args, r.ts(*q.GraceEndsBy))
	}

	query := "SELECT id FROM accounts"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := r.exec(ctx).Query(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []domain.UserID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, domain.UserID(id))
	}
	return ids, rows.Err()
}

var _ domain.AccountRepository = (*SQLAccountRepository)(nil)
