package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// TxRunner executes a unit of work inside a single database transaction.
type TxRunner struct {
	db   *sqlx.DB
	opts *sql.TxOptions
}

// NewTxRunner constructs a runner using READ COMMITTED, which together with the
// advisory resource locks is enough to serialise conflicting placements.
func NewTxRunner(db *sqlx.DB) *TxRunner {
	return &TxRunner{db: db, opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted}}
}

// WithinTx runs fn with the transaction as executor, committing on success and
// rolling back on error or panic.
func (r *TxRunner) WithinTx(ctx context.Context, fn func(exec sqlx.ExtContext) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, r.opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
