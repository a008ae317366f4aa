package persistence

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
)

// accountFilter translates q into a filter on the stored account document.
// Suspended documents carry the end of grace in grace_ended_at, so
// GraceEndsBy reads that field for suspended accounts and either field when
// no status is given.
func accountFilter(q domain.AccountQuery) bson.M {
	filter := bson.M{}
	if q.Plan != nil {
		filter["plan"] = string(*q.Plan)
	}
	if q.Balance != nil {
		filter["balance"] = *q.Balance
	}
	if q.Status != "" {
		filter["subscription.status"] = string(q.Status)
	}
	if q.RetriesBelow > 0 {
		// Accounts without a subscription count as zero retries.
		filter["subscription.retry_count"] = bson.M{"$not": bson.M{"$gte": q.RetriesBelow}}
	}
	if q.GraceEndsBy != nil {
		by := bson.M{"$lte": q.GraceEndsBy.UTC()}
		switch q.Status {
		case domain.StatusSuspended:
			filter["subscription.grace_ended_at"] = by
		case "":
			filter["$or"] = bson.A{
				bson.M{"subscription.grace_ends_at": by},
				bson.M{"subscription.grace_ended_at": by},
			}
		default:
			filter["subscription.grace_ends_at"] = by
		}
	}
	return filter
}

// paymentFilter translates q into a filter on the stored payment document.
func paymentFilter(q domain.PaymentQuery) bson.M {
	filter := bson.M{}
	if q.UserID != nil {
		filter["user_id"] = int64(*q.UserID)
	}
	if q.Type != "" {
		filter["type"] = string(q.Type)
	}
	if q.Status != "" {
		filter["status"] = string(q.Status)
	}
	if q.CreatedBefore != nil {
		filter["created_at"] = bson.M{"$lt": q.CreatedBefore.UTC()}
	}
	return filter
}
