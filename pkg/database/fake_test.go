// Copyright 2025 Ceramic Network
//
// In-memory Queryer/Execer fake backing the FindAndMarkReady,
// BatchProcessing, and MarkPreviousReplaced tests below. It scripts
// QueryContext/ExecContext calls in the fixed order the store issues them,
// which is small enough to hand-author rather than pulling in a SQL
// parser or a driver-level mock.

package database

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
)

type fakeResult struct{ rowsAffected int64 }

func (f fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (f fakeResult) RowsAffected() (int64, error) { return f.rowsAffected, nil }

// fakeRows is an in-memory Rows over pre-baked column values.
type fakeRows struct {
	data [][]interface{}
	i    int
}

func (r *fakeRows) Next() bool {
	return r.i < len(r.data)
}

func (r *fakeRows) Scan(dest ...interface{}) error {
	if r.i >= len(r.data) {
		return sql.ErrNoRows
	}
	row := r.data[r.i]
	r.i++
	if len(dest) != len(row) {
		return fmt.Errorf("fakeRows: scan arity mismatch: got %d dest, row has %d values", len(dest), len(row))
	}
	for i, v := range row {
		if err := assignScan(dest[i], v); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeRows) Err() error   { return nil }
func (r *fakeRows) Close() error { return nil }

func assignScan(dest, value interface{}) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return fmt.Errorf("fakeRows: scan destination must be a non-nil pointer, got %T", dest)
	}
	vv := reflect.ValueOf(value)
	elem := dv.Elem()
	if !vv.Type().AssignableTo(elem.Type()) {
		return fmt.Errorf("fakeRows: cannot assign %T into %s", value, elem.Type())
	}
	elem.Set(vv)
	return nil
}

// queryCall is one scripted response to a QueryContext call.
type queryCall struct {
	rows [][]interface{}
	err  error
}

// execCall is one scripted response to an ExecContext call.
type execCall struct {
	rowsAffected int64
	err          error
}

// fakeConn is a QueryExecer that replays scripted query/exec results in
// call order, and records every query it was asked to run for assertions.
type fakeConn struct {
	queries   []queryCall
	queryI    int
	execs     []execCall
	execI     int
	seenQuery []string
	seenExec  []string
}

func (c *fakeConn) QueryContext(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	c.seenQuery = append(c.seenQuery, query)
	if c.queryI >= len(c.queries) {
		return nil, fmt.Errorf("fakeConn: unexpected QueryContext call #%d: %s", c.queryI, query)
	}
	call := c.queries[c.queryI]
	c.queryI++
	if call.err != nil {
		return nil, call.err
	}
	return &fakeRows{data: call.rows}, nil
}

func (c *fakeConn) QueryRowContext(ctx context.Context, query string, args ...interface{}) Row {
	panic("fakeConn: QueryRowContext not scripted for this test")
}

func (c *fakeConn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	c.seenExec = append(c.seenExec, query)
	if c.execI >= len(c.execs) {
		return nil, fmt.Errorf("fakeConn: unexpected ExecContext call #%d: %s", c.execI, query)
	}
	call := c.execs[c.execI]
	c.execI++
	if call.err != nil {
		return nil, call.err
	}
	return fakeResult{rowsAffected: call.rowsAffected}, nil
}

// fakeTx wraps a fakeConn with Commit/Rollback bookkeeping, satisfying
// txCommitter.
type fakeTx struct {
	*fakeConn
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit() error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback() error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

// newFakeRequestStore builds a RequestStore wired to a fake single
// transaction, bypassing the live Postgres Client entirely.
func newFakeRequestStore(tx *fakeTx) *RequestStore {
	return &RequestStore{
		conn: tx,
		begin: func(ctx context.Context, opts *sql.TxOptions) (txCommitter, error) {
			return tx, nil
		},
	}
}
