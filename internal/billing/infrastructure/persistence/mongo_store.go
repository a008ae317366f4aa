package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
	"github.com/felixgeelhaar/voltage/internal/shared/infrastructure/crypto"
)

const (
	colAccounts = "accounts"
	colPayments = "payments"

	DefaultMongoDatabase = "voltage"
)

// MongoStore is the document store backend: one document per account, one
// per payment.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	codec  codec
}

// NewMongoStore connects to uri and verifies the deployment is reachable.
func NewMongoStore(ctx context.Context, uri, database string, sealer crypto.Sealer) (*MongoStore, error) {
	if database == "" {
		database = DefaultMongoDatabase
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return &MongoStore{client: client, db: client.Database(database), codec: newCodec(sealer)}, nil
}

// Migrate creates the indexes sweeps and payment lookups rely on.
func (s *MongoStore) Migrate(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		colAccounts: {
			{Keys: bson.D{{Key: "plan", Value: 1}, {Key: "balance", Value: 1}}},
			{Keys: bson.D{{Key: "subscription.status", Value: 1}, {Key: "subscription.retry_count", Value: 1}}},
			{Keys: bson.D{{Key: "subscription.status", Value: 1}, {Key: "subscription.grace_ends_at", Value: 1}}},
			{Keys: bson.D{{Key: "subscription.status", Value: 1}, {Key: "subscription.grace_ended_at", Value: 1}}},
		},
		colPayments: {
			{Keys: bson.D{{Key: "idempotency_key", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "external_transaction_id", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "type", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}
	for col, models := range indexes {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks connectivity.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Accounts returns the account repository.
func (s *MongoStore) Accounts() *MongoAccountRepository {
	return &MongoAccountRepository{col: s.db.Collection(colAccounts), codec: s.codec}
}

// Payments returns the payment repository.
func (s *MongoStore) Payments() *MongoPaymentRepository {
	return &MongoPaymentRepository{col: s.db.Collection(colPayments)}
}

// MongoAccountRepository implements domain.AccountRepository on a collection.
// Transact is a compare-and-swap on the document's version field.
type MongoAccountRepository struct {
	col   *mongo.Collection
	codec codec
}

func (r *MongoAccountRepository) Create(ctx context.Context, acct *domain.Account) error {
	acct.Version = 1
	doc, err := r.codec.encode(acct)
	if err != nil {
		return err
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", domain.ErrUserExists, acct.ID)
		}
		return fmt.Errorf("insert account %s: %w", acct.ID, err)
	}
	return nil
}

func (r *MongoAccountRepository) Get(ctx context.Context, id domain.UserID) (*domain.Account, error) {
	var doc accountDocument
	err := r.col.FindOne(ctx, bson.M{"_id": int64(id)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUserNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	return r.codec.decode(doc)
}

func (r *MongoAccountRepository) Save(ctx context.Context, acct *domain.Account) error {
	doc, err := r.codec.encode(acct)
	if err != nil {
		return err
	}
	// The version is bumped server side so concurrent Transact calls see the write.
	update := bson.M{
		"$set": bson.M{
			"balance":             doc.Balance,
			"plan":                doc.Plan,
			"subscription":        doc.Subscription,
			"last_daily_grant_at": doc.LastDailyGrantAt,
			"applied_charges":     doc.AppliedCharges,
			"updated_at":          doc.UpdatedAt,
		},
		"$setOnInsert": bson.M{"created_at": doc.CreatedAt},
		"$inc":         bson.M{"version": int64(1)},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var stored accountDocument
	if err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": doc.ID}, update, opts).Decode(&stored); err != nil {
		return fmt.Errorf("save account %s: %w", acct.ID, err)
	}
	acct.Version = stored.Version
	return nil
}

func (r *MongoAccountRepository) Transact(ctx context.Context, id domain.UserID, fn domain.MutateFunc) (*domain.Account, error) {
	for attempt := 0; attempt < domain.MaxTransactRetries; attempt++ {
		acct, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(acct); err != nil {
			return nil, err
		}

		expected := acct.Version
		acct.Version++
		doc, err := r.codec.encode(acct)
		if err != nil {
			return nil, err
		}
		res, err := r.col.ReplaceOne(ctx, bson.M{"_id": doc.ID, "version": expected}, doc)
		if err != nil {
			return nil, fmt.Errorf("replace account %s: %w", id, err)
		}
		if res.MatchedCount == 1 {
			return acct, nil
		}
	}
	return nil, fmt.Errorf("%w: user %s", domain.ErrTransactionConflict, id)
}

func (r *MongoAccountRepository) Find(ctx context.Context, q domain.AccountQuery) ([]domain.UserID, error) {
	filter := accountFilter(q)
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cursor, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find accounts: %w", err)
	}
	var docs []struct {
		ID int64 `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode account ids: %w", err)
	}
	ids := make([]domain.UserID, len(docs))
	for i, d := range docs {
		ids[i] = domain.UserID(d.ID)
	}
	return ids, nil
}

// paymentDocument is the stored form of a payment.
type paymentDocument struct {
	ID                    string     `bson:"_id"`
	UserID                int64      `bson:"user_id"`
	Type                  string     `bson:"type"`
	Product               string     `bson:"product"`
	Amount                int64      `bson:"amount"`
	Currency              string     `bson:"currency"`
	IdempotencyKey        string     `bson:"idempotency_key"`
	Status                string     `bson:"status"`
	ExternalTransactionID string     `bson:"external_transaction_id"`
	FailureReason         string     `bson:"failure_reason"`
	CreatedAt             time.Time  `bson:"created_at"`
	CompletedAt           *time.Time `bson:"completed_at,omitempty"`
	Version               int64      `bson:"version"`
}

func toPaymentDocument(p *domain.Payment) paymentDocument {
	return paymentDocument{
		ID:                    string(p.ID),
		UserID:                int64(p.UserID),
		Type:                  string(p.Type),
		Product:               p.Product,
		Amount:                p.Amount.Amount,
		Currency:              string(p.Amount.Currency),
		IdempotencyKey:        p.IdempotencyKey,
		Status:                string(p.Status),
		ExternalTransactionID: p.ExternalTransactionID,
		FailureReason:         p.FailureReason,
		CreatedAt:             p.CreatedAt.UTC(),
		CompletedAt:           utcPtr(p.CompletedAt),
		Version:               p.Version,
	}
}

func (d paymentDocument) toPayment() *domain.Payment {
	return &domain.Payment{
		ID:                    domain.PaymentID(d.ID),
		UserID:                domain.UserID(d.UserID),
		Type:                  domain.PaymentType(d.Type),
		Product:               d.Product,
		Amount:                domain.Money{Amount: d.Amount, Currency: domain.Currency(d.Currency)},
		IdempotencyKey:        d.IdempotencyKey,
		Status:                domain.PaymentStatus(d.Status),
		ExternalTransactionID: d.ExternalTransactionID,
		FailureReason:         d.FailureReason,
		CreatedAt:             d.CreatedAt.UTC(),
		CompletedAt:           utcPtr(d.CompletedAt),
		Version:               d.Version,
	}
}

// MongoPaymentRepository implements domain.PaymentRepository on a collection.
type MongoPaymentRepository struct {
	col *mongo.Collection
}

func (r *MongoPaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	p.Version = 1
	if _, err := r.col.InsertOne(ctx, toPaymentDocument(p)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: key %s", domain.ErrPaymentExists, p.IdempotencyKey)
		}
		return fmt.Errorf("insert payment %s: %w", p.ID, err)
	}
	return nil
}

func (r *MongoPaymentRepository) findOne(ctx context.Context, filter bson.M) (*domain.Payment, error) {
	var doc paymentDocument
	err := r.col.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentNotFound, filter)
	}
	if err != nil {
		return nil, fmt.Errorf("find payment: %w", err)
	}
	return doc.toPayment(), nil
}

func (r *MongoPaymentRepository) Get(ctx context.Context, id domain.PaymentID) (*domain.Payment, error) {
	return r.findOne(ctx, bson.M{"_id": string(id)})
}

func (r *MongoPaymentRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error) {
	return r.findOne(ctx, bson.M{"idempotency_key": key})
}

func (r *MongoPaymentRepository) FindByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	if transactionID == "" {
		return nil, fmt.Errorf("%w: empty transaction id", domain.ErrPaymentNotFound)
	}
	return r.findOne(ctx, bson.M{"external_transaction_id": transactionID})
}

func (r *MongoPaymentRepository) ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]*domain.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := r.col.Find(ctx, bson.M{"user_id": int64(userID)}, opts)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	var docs []paymentDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode payments: %w", err)
	}
	out := make([]*domain.Payment, len(docs))
	for i := range docs {
		out[i] = docs[i].toPayment()
	}
	return out, nil
}

func (r *MongoPaymentRepository) Find(ctx context.Context, q domain.PaymentQuery) ([]*domain.Payment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cursor, err := r.col.Find(ctx, paymentFilter(q), opts)
	if err != nil {
		return nil, fmt.Errorf("find payments: %w", err)
	}
	var docs []paymentDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode payments: %w", err)
	}
	out := make([]*domain.Payment, len(docs))
	for i := range docs {
		out[i] = docs[i].toPayment()
	}
	return out, nil
}

func (r *MongoPaymentRepository) Update(ctx context.Context, id domain.PaymentID, fn func(p *domain.Payment) error) (*domain.Payment, error) {
	for attempt := 0; attempt < domain.MaxTransactRetries; attempt++ {
		p, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(p); err != nil {
			return nil, err
		}
		expected := p.Version
		p.Version++
		res, err := r.col.ReplaceOne(ctx, bson.M{"_id": string(p.ID), "version": expected}, toPaymentDocument(p))
		if err != nil {
			return nil, fmt.Errorf("replace payment %s: %w", id, err)
		}
		if res.MatchedCount == 1 {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: payment %s", domain.ErrTransactionConflict, id)
}

var (
	_ domain.AccountRepository = (*MongoAccountRepository)(nil)
	_ domain.PaymentRepository = (*MongoPaymentRepository)(nil)
)
