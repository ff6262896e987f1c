package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// scanInto copies a fixture value row into Scan destinations.
func scanInto(dest, vals []any) error {
	if len(dest) != len(vals) {
		return fmt.Errorf("scan: want %d destinations, got %d", len(vals), len(dest))
	}
	for i, d := range dest {
		dv := reflect.ValueOf(d)
		if dv.Kind() != reflect.Pointer {
			return fmt.Errorf("scan: dest %d is not a pointer", i)
		}
		if vals[i] == nil {
			continue
		}
		sv := reflect.ValueOf(vals[i])
		el := dv.Elem()
		switch {
		case sv.Type().AssignableTo(el.Type()):
			el.Set(sv)
		case sv.Type().ConvertibleTo(el.Type()):
			el.Set(sv.Convert(el.Type()))
		default:
			return fmt.Errorf("scan: cannot put %T into %s", vals[i], el.Type())
		}
	}
	return nil
}

// rowStub implements pgx.Row over one fixture row.
type rowStub struct {
	vals []any
	err  error
}

func (r rowStub) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scanInto(dest, r.vals)
}

// rowsStub implements pgx.Rows over a fixture grid.
type rowsStub struct {
	grid [][]any
	i    int
	err  error
}

func (r *rowsStub) Close()                                       {}
func (r *rowsStub) Err() error                                   { return r.err }
func (r *rowsStub) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *rowsStub) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *rowsStub) Values() ([]any, error)                       { return r.grid[r.i-1], nil }
func (r *rowsStub) RawValues() [][]byte                          { return nil }
func (r *rowsStub) Conn() *pgx.Conn                              { return nil }

func (r *rowsStub) Next() bool {
	if r.i < len(r.grid) {
		r.i++
		return true
	}
	return false
}

func (r *rowsStub) Scan(dest ...any) error { return scanInto(dest, r.grid[r.i-1]) }

type stmt struct {
	sql  string
	args []any
}

// poolStub implements postgres.PgxPool. Statements route by SQL substring
// through the optional *BySQL hooks; otherwise the fixed fixtures answer.
type poolStub struct {
	execTag   pgconn.CommandTag
	execErr   error
	row       rowStub
	rowBySQL  func(sql string) pgx.Row
	rows      *rowsStub
	rowsBySQL func(sql string) pgx.Rows
	queryErr  error
	tx        pgx.Tx
	beginErr  error
	stmts     []stmt
}

func (p *poolStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.stmts = append(p.stmts, stmt{sql, args})
	return p.execTag, p.execErr
}

func (p *poolStub) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	p.stmts = append(p.stmts, stmt{sql, args})
	if p.rowBySQL != nil {
		return p.rowBySQL(sql)
	}
	return p.row
}

func (p *poolStub) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	p.stmts = append(p.stmts, stmt{sql, args})
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	if p.rowsBySQL != nil {
		return p.rowsBySQL(sql), nil
	}
	if p.rows != nil {
		return p.rows, nil
	}
	return &rowsStub{}, nil
}

func (p *poolStub) BeginTx(_ context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	if p.tx == nil {
		return nil, errors.New("no tx configured")
	}
	return p.tx, nil
}

// txStub implements pgx.Tx; only Query matters for the snapshot export.
type txStub struct {
	rowsBySQL  func(sql string) pgx.Rows
	committed  bool
	rolledBack bool
}

func (t *txStub) Begin(context.Context) (pgx.Tx, error) { return t, nil }

func (t *txStub) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *txStub) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

func (t *txStub) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (t *txStub) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *txStub) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }

func (t *txStub) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (t *txStub) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (t *txStub) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	return t.rowsBySQL(sql), nil
}

func (t *txStub) QueryRow(context.Context, string, ...any) pgx.Row { return rowStub{} }
func (t *txStub) Conn() *pgx.Conn                                  { return nil }
