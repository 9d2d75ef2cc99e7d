// Copyright 2025 Ceramic Network
//
// Queryer/Execer interface seam: the narrow slice of database/sql that the
// readiness-promotion algorithm (FindAndMarkReady, BatchProcessing,
// MarkPreviousReplaced) runs against, so those methods can be driven by an
// in-memory fake in tests instead of a live Postgres connection. Mirrors
// the teacher's own habit of keeping repository structs thin over an
// interface rather than a concrete connection type.

package database

import (
	"context"
	"database/sql"
)

// Rows is the subset of *sql.Rows the request store scans.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
	Close() error
}

// Row is the subset of *sql.Row the request store scans.
type Row interface {
	Scan(dest ...interface{}) error
}

// Queryer is the read half of the connection surface.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) Row
}

// Execer is the write half.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// QueryExecer is the combined surface a connection or transaction offers.
type QueryExecer interface {
	Queryer
	Execer
}

// txCommitter is a QueryExecer that can also end the transaction it runs
// inside of.
type txCommitter interface {
	QueryExecer
	Commit() error
	Rollback() error
}

// sqlConn adapts *sql.DB to QueryExecer.
type sqlConn struct{ db *sql.DB }

func (c sqlConn) QueryContext(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

func (c sqlConn) QueryRowContext(ctx context.Context, query string, args ...interface{}) Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

func (c sqlConn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

// sqlTx adapts *sql.Tx to txCommitter.
type sqlTx struct{ tx *sql.Tx }

func (t sqlTx) QueryContext(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

func (t sqlTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t sqlTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

func (t sqlTx) Commit() error   { return t.tx.Commit() }
func (t sqlTx) Rollback() error { return t.tx.Rollback() }

// beginTx starts a transaction at the given isolation level (opts may be
// nil) and returns it through the txCommitter seam.
func (c *Client) beginTx(ctx context.Context, opts *sql.TxOptions) (txCommitter, error) {
	tx, err := c.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return sqlTx{tx: tx}, nil
}
