package pgsource

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
)

// queryFunc answers one single-value query for a fakeDriver connection.
type queryFunc func(query string, args []driver.NamedValue) (driver.Value, error)

type fakeDriver struct {
	mu       sync.Mutex
	handlers map[string]queryFunc
}

var fakes = &fakeDriver{handlers: make(map[string]queryFunc)}

func init() {
	sql.Register("pgsource-fake", fakes)
}

// openFakeDB returns a pool whose queries are answered by fn.
func openFakeDB(t *testing.T, fn queryFunc) *sql.DB {
	t.Helper()
	name := t.Name()
	fakes.mu.Lock()
	fakes.handlers[name] = fn
	fakes.mu.Unlock()

	db, err := sql.Open("pgsource-fake", name)
	if err != nil {
		t.Fatalf("open fake db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		fakes.mu.Lock()
		delete(fakes.handlers, name)
		fakes.mu.Unlock()
	})
	return db
}

func (d *fakeDriver) Open(name string) (driver.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn, ok := d.handlers[name]
	if !ok {
		return nil, fmt.Errorf("no fake db %q", name)
	}
	return &fakeConn{query: fn}, nil
}

type fakeConn struct {
	query queryFunc
}

func (c *fakeConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions not supported")
}

func (c *fakeConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	v, err := c.query(query, args)
	if err != nil {
		return nil, err
	}
	return &fakeRows{value: v}, nil
}

type fakeRows struct {
	value driver.Value
	done  bool
}

func (r *fakeRows) Columns() []string { return []string{"v"} }

func (r *fakeRows) Close() error { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.done {
		return io.EOF
	}
	r.done = true
	dest[0] = r.value
	return nil
}
