package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/voltage/internal/shared/infrastructure/database"
)

const selectMessages = `SELECT id, event_id, aggregate_type, aggregate_id, routing_key,
	payload, metadata, created_at, published_at, next_retry_at, retry_count,
	last_error, dead_lettered_at, dead_letter_reason
FROM outbox`

// SQLRepository is the outbox table on SQLite or PostgreSQL. Every call
// runs inside the transaction carried by ctx when there is one.
type SQLRepository struct {
	conn database.Connection
	now  func() time.Time
}

func NewSQLRepository(conn database.Connection) *SQLRepository {
	return &SQLRepository{conn: conn, now: time.Now}
}

func (r *SQLRepository) exec(ctx context.Context) database.Executor {
	return database.ExecutorFromContext(ctx, r.conn)
}

func (r *SQLRepository) q(query string) string {
	return database.Rebind(r.conn.Driver(), query)
}

func (r *SQLRepository) ts(t time.Time) any {
	return database.TimeArg(r.conn.Driver(), t)
}

func (r *SQLRepository) Save(ctx context.Context, msg *Message) error {
	metadata := string(msg.Metadata)
	if metadata == "" {
		metadata = "{}"
	}
	return r.exec(ctx).QueryRow(ctx, r.q(`
		INSERT INTO outbox (event_id, aggregate_type, aggregate_id, routing_key, payload, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		msg.EventID.String(),
		msg.AggregateType,
		msg.AggregateID,
		msg.RoutingKey,
		string(msg.Payload),
		metadata,
		r.ts(msg.CreatedAt),
	).Scan(&msg.ID)
}

func (r *SQLRepository) SaveBatch(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return database.InTx(ctx, r.conn, func(ctx context.Context) error {
		for _, msg := range msgs {
			if err := r.Save(ctx, msg); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *SQLRepository) GetUnpublished(ctx context.Context, limit int) ([]*Message, error) {
	rows, err := r.exec(ctx).Query(ctx, r.q(selectMessages+`
		WHERE published_at IS NULL
		  AND dead_lettered_at IS NULL
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at, id
		LIMIT ?`), r.ts(r.now()), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (r *SQLRepository) MarkPublished(ctx context.Context, id int64) error {
	_, err := r.exec(ctx).Exec(ctx, r.q(`UPDATE outbox SET published_at = ? WHERE id = ?`), r.ts(r.now()), id)
	return err
}

func (r *SQLRepository) MarkFailed(ctx context.Context, id int64, reason string, nextRetryAt time.Time) error {
	_, err := r.exec(ctx).Exec(ctx, r.q(`
		UPDATE outbox
		SET retry_count = retry_count + 1, last_error = ?, next_retry_at = ?
		WHERE id = ?`), reason, r.ts(nextRetryAt), id)
	return err
}

func (r *SQLRepository) MarkDead(ctx context.Context, id int64, reason string) error {
	_, err := r.exec(ctx).Exec(ctx, r.q(`
		UPDATE outbox
		SET retry_count = retry_count + 1, last_error = ?, dead_lettered_at = ?, dead_letter_reason = ?
		WHERE id = ?`), reason, r.ts(r.now()), reason, id)
	return err
}

func (r *SQLRepository) DeleteOld(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := r.exec(ctx).Exec(ctx,
		r.q(`DELETE FROM outbox WHERE published_at IS NOT NULL AND published_at < ?`),
		r.ts(r.now().Add(-olderThan)))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanMessage(rows database.Rows) (*Message, error) {
	var (
		msg                         Message
		eventID, payload, metadata  string
		createdAt                   database.Timestamp
		publishedAt, nextRetryAt    database.Timestamp
		deadLetteredAt              database.Timestamp
		lastError, deadLetterReason *string
	)
	if err := rows.Scan(
		&msg.ID, &eventID, &msg.AggregateType, &msg.AggregateID, &msg.RoutingKey,
		&payload, &metadata, &createdAt, &publishedAt, &nextRetryAt, &msg.RetryCount,
		&lastError, &deadLetteredAt, &deadLetterReason,
	); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(eventID)
	if err != nil {
		return nil, err
	}
	msg.EventID = id
	msg.Payload = []byte(payload)
	msg.Metadata = []byte(metadata)
	msg.CreatedAt = createdAt.Time
	msg.PublishedAt = publishedAt.Ptr()
	msg.NextRetryAt = nextRetryAt.Ptr()
	msg.DeadLetteredAt = deadLetteredAt.Ptr()
	msg.LastError = lastError
	msg.DeadLetterReason = deadLetterReason
	return &msg, nil
}
