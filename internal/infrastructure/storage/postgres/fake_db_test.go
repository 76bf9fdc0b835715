package postgres

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// assign copies vals into scan destinations, converting named types such
// as code.Kind from their underlying kinds.
func assign(vals []any, dest []any) error {
	if len(vals) != len(dest) {
		return fmt.Errorf("scan: %d values into %d destinations", len(vals), len(dest))
	}
	for i, d := range dest {
		dv := reflect.ValueOf(d).Elem()
		if vals[i] == nil {
			dv.Set(reflect.Zero(dv.Type()))
			continue
		}
		v := reflect.ValueOf(vals[i])
		if !v.Type().AssignableTo(dv.Type()) {
			v = v.Convert(dv.Type())
		}
		dv.Set(v)
	}
	return nil
}

type fakeRow struct {
	vals []any
	err  error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.vals, dest)
}

type fakeRows struct {
	cols []string
	data [][]any
	pos  int
}

// rowsOf renders structs as result rows with the given columns.
func rowsOf(cols []string, structs ...any) *fakeRows {
	r := &fakeRows{cols: cols}
	for _, s := range structs {
		m := StructToMap(s, cols...)
		row := make([]any, len(cols))
		for i, c := range cols {
			row[i] = m[c]
		}
		r.data = append(r.data, row)
	}
	return r
}

func (r *fakeRows) Close()                        {}
func (r *fakeRows) Err() error                    { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) RawValues() [][]byte           { return nil }
func (r *fakeRows) Conn() *pgx.Conn               { return nil }

func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	out := make([]pgconn.FieldDescription, len(r.cols))
	for i, c := range r.cols {
		out[i] = pgconn.FieldDescription{Name: c}
	}
	return out
}

func (r *fakeRows) Next() bool {
	if r.pos < len(r.data) {
		r.pos++
		return true
	}
	return false
}

func (r *fakeRows) Scan(dest ...any) error {
	return assign(r.data[r.pos-1], dest)
}

func (r *fakeRows) Values() ([]any, error) {
	return r.data[r.pos-1], nil
}

type fakeCall struct {
	sql  string
	args []any
}

// fakeDB is a scripted Transactor. Unscripted queries return no rows and
// unscripted statements affect one row. With stall set every call waits
// for ctx to end.
type fakeDB struct {
	mu     sync.Mutex
	calls  []fakeCall
	txRuns int
	stall  bool

	query    func(sql string, args []any) (pgx.Rows, error)
	queryRow func(sql string, args []any) pgx.Row
	exec     func(sql string, args []any) (pgconn.CommandTag, error)
}

func (f *fakeDB) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	f.mu.Lock()
	f.txRuns++
	f.mu.Unlock()
	return fn(ctx)
}

func (f *fakeDB) GetQuerier(context.Context) Querier {
	return f
}

func (f *fakeDB) record(sql string, args []any) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{sql: sql, args: args})
	f.mu.Unlock()
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.record(sql, args)
	if f.stall {
		<-ctx.Done()
		return pgconn.CommandTag{}, ctx.Err()
	}
	if f.exec != nil {
		return f.exec(sql, args)
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.record(sql, args)
	if f.stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.query != nil {
		return f.query(sql, args)
	}
	return &fakeRows{}, nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.record(sql, args)
	if f.stall {
		<-ctx.Done()
		return &fakeRow{err: ctx.Err()}
	}
	if f.queryRow != nil {
		return f.queryRow(sql, args)
	}
	return &fakeRow{err: pgx.ErrNoRows}
}

func (f *fakeDB) statements() []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeCall(nil), f.calls...)
}
