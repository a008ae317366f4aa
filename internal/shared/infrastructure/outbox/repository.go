package outbox

import (
	"context"
	"time"
)

// Repository persists outbox messages. Save must join the transaction in
// ctx so the event commits or rolls back with the account change.
type Repository interface {
	Save(ctx context.Context, msg *Message) error
	SaveBatch(ctx context.Context, msgs []*Message) error

	// GetUnpublished returns pending messages whose retry time has come,
	// oldest first.
	GetUnpublished(ctx context.Context, limit int) ([]*Message, error)

	MarkPublished(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, reason string, nextRetryAt time.Time) error
	MarkDead(ctx context.Context, id int64, reason string) error

	// DeleteOld drops published messages older than the retention window.
	DeleteOld(ctx context.Context, olderThan time.Duration) (int64, error)
}
