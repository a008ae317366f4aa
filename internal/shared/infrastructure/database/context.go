package database

import "context"

type txKey struct{}

func withTx(ctx context.Context, tx Transaction) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction InTx put in ctx, or nil.
func TxFromContext(ctx context.Context) Transaction {
	tx, _ := ctx.Value(txKey{}).(Transaction)
	return tx
}

// ExecutorFromContext returns the transaction in ctx, falling back to conn.
// Repositories call it on every statement so they work both inside and
// outside InTx.
func ExecutorFromContext(ctx context.Context, conn Connection) Executor {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return conn
}

// InTx runs fn in a transaction. A ctx that already carries one is reused
// and left for the outer call to commit. Otherwise the new transaction is
// committed when fn returns nil and rolled back on error or panic.
func InTx(ctx context.Context, conn Connection, fn func(ctx context.Context) error) (err error) {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := conn.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(withTx(ctx, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
