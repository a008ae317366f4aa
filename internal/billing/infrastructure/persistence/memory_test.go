package persistence

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
)

func TestMemoryAccountRepository_TransactRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()
	require.NoError(t, repo.Create(ctx, domain.NewAccount(1, 5, t0)))

	calls := 0
	got, err := repo.Transact(ctx, 1, func(a *domain.Account) error {
		calls++
		if calls == 1 {
			// A concurrent writer commits between our read and write.
			_, err := repo.Transact(ctx, 1, func(a *domain.Account) error { return a.Debit(4, t0) })
			require.NoError(t, err)
		}
		return a.Debit(1, t0)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(0), got.Balance)
}

func TestMemoryAccountRepository_TransactGivesUp(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()
	require.NoError(t, repo.Create(ctx, domain.NewAccount(1, 100, t0)))

	_, err := repo.Transact(ctx, 1, func(a *domain.Account) error {
		_, err := repo.Transact(ctx, 1, func(a *domain.Account) error { return a.Credit(1, t0) })
		require.NoError(t, err)
		return a.Debit(1, t0)
	})
	assert.ErrorIs(t, err, domain.ErrTransactionConflict)

	stored, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100+domain.MaxTransactRetries), stored.Balance)
}

func TestMemoryAccountRepository_ConcurrentDebitsNeverGoNegative(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()
	require.NoError(t, repo.Create(ctx, domain.NewAccount(1, 10, t0)))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Transact(ctx, 1, func(a *domain.Account) error { return a.Debit(1, t0) })
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	stored, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stored.Balance, int64(0))
	assert.Equal(t, int64(10-accepted), stored.Balance)
}

func TestMemoryAccountRepository_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()
	require.NoError(t, repo.Create(ctx, domain.NewAccount(1, 5, t0)))

	a, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	a.Balance = 1000

	b, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), b.Balance)
}
