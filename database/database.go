package database

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3" // register the sqlite3 driver
	"go.uber.org/zap"

	"github.com/camden-git/collectionstore/logging"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// Querier is the subset of *sql.Conn the store issues statements through.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InitDB opens the database file and pins the single connection every store
// operation runs on. Savepoints are connection state, so the pool is never
// allowed to hand out a second connection.
func InitDB(ctx context.Context, dataSourceName string, logger *zap.Logger) (*sql.DB, *sql.Conn, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to acquire database connection: %w", err)
	}

	// enable write-ahead logging for crash safety
	if _, err = conn.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		logger.Warn("failed to set WAL mode", zap.Error(err))
	}

	// item deletion must not cascade into picture rows
	if _, err = conn.ExecContext(ctx, "PRAGMA foreign_keys=OFF;"); err != nil {
		conn.Close()
		db.Close()
		return nil, nil, fmt.Errorf("failed to configure foreign keys: %w", err)
	}

	var version string
	if err = conn.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err == nil {
		logger.Info("using sqlite", zap.String("version", version), zap.String("path", dataSourceName))
	}

	return db, conn, nil
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logging.Log.Named("store").Warn("failed to close rows", zap.Error(err))
	}
}
