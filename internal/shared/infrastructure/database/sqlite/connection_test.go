package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/voltage/internal/shared/infrastructure/database"
)

func openTestConnection(t *testing.T) database.Connection {
	t.Helper()
	conn, err := NewConnection(context.Background(), database.Config{
		Driver:     database.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "ledger.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = conn.Exec(context.Background(), `CREATE TABLE balances (id INTEGER PRIMARY KEY, amount INTEGER NOT NULL)`)
	require.NoError(t, err)
	return conn
}

func TestNewConnection(t *testing.T) {
	conn := openTestConnection(t)

	assert.NoError(t, conn.Ping(context.Background()))
	assert.Equal(t, database.DriverSQLite, conn.Driver())
}

func TestNewConnection_FromURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.sqlite")

	conn, err := NewConnection(context.Background(), database.Config{URL: "sqlite://" + path})
	require.NoError(t, err)
	defer conn.Close()

	assert.FileExists(t, path)
}

func TestConnection_ExecAndQuery(t *testing.T) {
	ctx := context.Background()
	conn := openTestConnection(t)

	result, err := conn.Exec(ctx, `INSERT INTO balances (id, amount) VALUES (?, ?)`, 1, 30)
	require.NoError(t, err)
	affected, err := result.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	_, err = conn.Exec(ctx, `INSERT INTO balances (id, amount) VALUES (?, ?)`, 2, 150)
	require.NoError(t, err)

	var amount int64
	require.NoError(t, conn.QueryRow(ctx, `SELECT amount FROM balances WHERE id = ?`, 1).Scan(&amount))
	assert.Equal(t, int64(30), amount)

	rows, err := conn.Query(ctx, `SELECT amount FROM balances ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	var amounts []int64
	for rows.Next() {
		var a int64
		require.NoError(t, rows.Scan(&a))
		amounts = append(amounts, a)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []int64{30, 150}, amounts)
}

func TestConnection_UniqueViolation(t *testing.T) {
	ctx := context.Background()
	conn := openTestConnection(t)

	_, err := conn.Exec(ctx, `INSERT INTO balances (id, amount) VALUES (?, ?)`, 1, 1)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, `INSERT INTO balances (id, amount) VALUES (?, ?)`, 1, 2)
	require.Error(t, err)
	assert.True(t, database.IsUniqueViolation(err))
}

func TestInTx_CommitAndRollback(t *testing.T) {
	ctx := context.Background()
	conn := openTestConnection(t)

	err := database.InTx(ctx, conn, func(ctx context.Context) error {
		_, err := database.ExecutorFromContext(ctx, conn).Exec(ctx, `INSERT INTO balances (id, amount) VALUES (?, ?)`, 1, 5)
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = database.InTx(ctx, conn, func(ctx context.Context) error {
		if _, err := database.ExecutorFromContext(ctx, conn).Exec(ctx, `UPDATE balances SET amount = 0 WHERE id = ?`, 1); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var amount int64
	require.NoError(t, conn.QueryRow(ctx, `SELECT amount FROM balances WHERE id = ?`, 1).Scan(&amount))
	assert.Equal(t, int64(5), amount)
}

func TestInTx_NestedJoinsOuter(t *testing.T) {
	ctx := context.Background()
	conn := openTestConnection(t)

	err := database.InTx(ctx, conn, func(outer context.Context) error {
		outerTx := database.TxFromContext(outer)
		require.NotNil(t, outerTx)
		return database.InTx(outer, conn, func(inner context.Context) error {
			assert.Same(t, outerTx, database.TxFromContext(inner))
			_, err := database.ExecutorFromContext(inner, conn).Exec(inner, `INSERT INTO balances (id, amount) VALUES (?, ?)`, 9, 1)
			return err
		})
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, conn.QueryRow(ctx, `SELECT COUNT(*) FROM balances`).Scan(&count))
	assert.Equal(t, 1, count)
	assert.Nil(t, database.TxFromContext(ctx))
}

func TestInTx_PanicRollsBack(t *testing.T) {
	ctx := context.Background()
	conn := openTestConnection(t)

	assert.Panics(t, func() {
		_ = database.InTx(ctx, conn, func(ctx context.Context) error {
			_, err := database.ExecutorFromContext(ctx, conn).Exec(ctx, `INSERT INTO balances (id, amount) VALUES (?, ?)`, 1, 5)
			require.NoError(t, err)
			panic("sweep item crashed")
		})
	})

	var count int
	require.NoError(t, conn.QueryRow(ctx, `SELECT COUNT(*) FROM balances`).Scan(&count))
	assert.Zero(t, count)
}
