package outbox_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/voltage/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/voltage/internal/shared/infrastructure/database/sqlite"
	"github.com/felixgeelhaar/voltage/internal/shared/infrastructure/migrations"
	"github.com/felixgeelhaar/voltage/internal/shared/infrastructure/outbox"
)

func newSQLiteRepo(t *testing.T) (*outbox.SQLRepository, database.Connection) {
	t.Helper()
	ctx := context.Background()
	conn, err := sqlite.NewConnection(ctx, database.Config{SQLitePath: filepath.Join(t.TempDir(), "outbox.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, migrations.Run(ctx, conn))
	return outbox.NewSQLRepository(conn), conn
}

func createTestMessage(routingKey string) *outbox.Message {
	payload, _ := json.Marshal(map[string]string{"routing_key": routingKey})
	return &outbox.Message{
		EventID:       uuid.New(),
		AggregateType: "Account",
		AggregateID:   "42",
		RoutingKey:    routingKey,
		Payload:       payload,
		CreatedAt:     time.Now(),
	}
}

func TestSQLRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo, _ := newSQLiteRepo(t)

	first := createTestMessage("billing.subscription.created")
	first.CreatedAt = time.Now().Add(-time.Minute)
	second := createTestMessage("billing.subscription.grace")
	require.NoError(t, repo.SaveBatch(ctx, []*outbox.Message{first, second}))
	assert.NotZero(t, first.ID)
	assert.NotZero(t, second.ID)

	pending, err := repo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.EventID, pending[0].EventID)
	assert.Equal(t, "42", pending[0].AggregateID)
	assert.JSONEq(t, string(first.Payload), string(pending[0].Payload))

	require.NoError(t, repo.MarkPublished(ctx, first.ID))
	require.NoError(t, repo.MarkFailed(ctx, second.ID, "broker down", time.Now().Add(time.Hour)))

	pending, err = repo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, repo.MarkFailed(ctx, second.ID, "broker down", time.Now().Add(-time.Second)))
	pending, err = repo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].RetryCount)
	require.NotNil(t, pending[0].LastError)
	assert.Equal(t, "broker down", *pending[0].LastError)

	require.NoError(t, repo.MarkDead(ctx, second.ID, "gave up"))
	pending, err = repo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSQLRepository_SaveJoinsTransaction(t *testing.T) {
	ctx := context.Background()
	repo, conn := newSQLiteRepo(t)

	err := database.InTx(ctx, conn, func(ctx context.Context) error {
		require.NoError(t, repo.Save(ctx, createTestMessage("billing.subscription.canceled")))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	pending, err := repo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSQLRepository_DeleteOld(t *testing.T) {
	ctx := context.Background()
	repo, _ := newSQLiteRepo(t)

	msg := createTestMessage("billing.subscription.expired")
	require.NoError(t, repo.Save(ctx, msg))
	require.NoError(t, repo.MarkPublished(ctx, msg.ID))

	deleted, err := repo.DeleteOld(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = repo.DeleteOld(ctx, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
