package repository

import (
	"context"
	"database/sql"

	"github.com/garyjia/fleet-maintenance/internal/infrastructure/persistence/sqlite"
)

// getExecutor returns the transaction bound to ctx, or db outside a transaction
func getExecutor(ctx context.Context, db *sql.DB) sqlite.Querier {
	return sqlite.Executor(ctx, db)
}

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func nullInt64(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
