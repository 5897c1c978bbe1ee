package loadout

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/kimnnmadsen/osmium/internal/fit"
	"github.com/kimnnmadsen/osmium/internal/shared/database"
)

// fakeConn is a write-only database stub. It keeps the set of committed
// fitting hashes so the ON CONFLICT clause on the fittings table behaves
// like the real thing, and records every executed statement.
type fakeConn struct {
	fittings map[string]bool
	execs    []string
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return &fakeStmt{conn: c, query: query}, nil
}

func (c *fakeConn) Close() error              { return nil }
func (c *fakeConn) Begin() (driver.Tx, error) { return fakeTx{}, nil }

type fakeTx struct{}

func (fakeTx) Commit() error   { return nil }
func (fakeTx) Rollback() error { return nil }

type fakeStmt struct {
	conn  *fakeConn
	query string
}

func (s *fakeStmt) Close() error  { return nil }
func (s *fakeStmt) NumInput() int { return -1 }

func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.conn.execs = append(s.conn.execs, s.query)
	if strings.Contains(s.query, "INSERT INTO fittings (") {
		hash, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("fitting hash is %T, want string", args[0])
		}
		if s.conn.fittings[hash] {
			return driver.RowsAffected(0), nil
		}
		s.conn.fittings[hash] = true
		return driver.RowsAffected(1), nil
	}
	return driver.RowsAffected(1), nil
}

func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	return nil, fmt.Errorf("unexpected query: %s", s.query)
}

func (c *fakeConn) countExecs(substr string) int {
	n := 0
	for _, q := range c.execs {
		if strings.Contains(q, substr) {
			n++
		}
	}
	return n
}

type fakeConnector struct {
	conn *fakeConn
}

func (c fakeConnector) Connect(context.Context) (driver.Conn, error) { return c.conn, nil }
func (c fakeConnector) Driver() driver.Driver                        { return fakeDriver{} }

type fakeDriver struct{}

func (fakeDriver) Open(string) (driver.Conn, error) {
	return nil, fmt.Errorf("open by DSN not supported")
}

func newTestRepository() (*Repository, *fakeConn) {
	conn := &fakeConn{fittings: make(map[string]bool)}
	db := &database.DB{DB: sql.OpenDB(fakeConnector{conn: conn})}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRepository(db, logger), conn
}

func committableFit(t *testing.T) *fit.Fit {
	t.Helper()
	f := fit.New()
	f.SelectShip(587)
	f.SetTags([]string{"pvp"})
	if _, err := f.AddModule(fit.SlotHigh, 2873, fit.StateActive); err != nil {
		t.Fatalf("AddModule: %v", err)
	}
	if err := f.AddCharge(fit.SlotHigh, 0, 178); err != nil {
		t.Fatalf("AddCharge: %v", err)
	}
	if err := f.AddDrone(2456, 3, 5); err != nil {
		t.Fatalf("AddDrone: %v", err)
	}
	return f
}

func TestCommitFittingIdempotent(t *testing.T) {
	repo, conn := newTestRepository()
	ctx := context.Background()

	hash1, err := repo.CommitFitting(ctx, nil, committableFit(t))
	if err != nil {
		t.Fatalf("first CommitFitting: %v", err)
	}
	modulesAfterFirst := conn.countExecs("INSERT INTO fittingmodules")
	if modulesAfterFirst == 0 {
		t.Fatal("first commit wrote no module rows")
	}

	hash2, err := repo.CommitFitting(ctx, nil, committableFit(t))
	if err != nil {
		t.Fatalf("second CommitFitting: %v", err)
	}

	if hash1 != hash2 {
		t.Errorf("hashes differ: %s vs %s", hash1, hash2)
	}
	if len(conn.fittings) != 1 {
		t.Errorf("fittings rows = %d, want 1", len(conn.fittings))
	}
	if got := conn.countExecs("INSERT INTO fittingmodules"); got != modulesAfterFirst {
		t.Errorf("module rows after second commit = %d, want %d", got, modulesAfterFirst)
	}
	if got := conn.countExecs("INSERT INTO fittingtags"); got != 1 {
		t.Errorf("tag rows = %d, want 1", got)
	}
}

func TestCommitFittingSkipsContentRowsOnConflict(t *testing.T) {
	repo, conn := newTestRepository()
	ctx := context.Background()

	// The row already exists, as if a concurrent commit of the same
	// content won the insert race.
	f := committableFit(t)
	conn.fittings[fit.Hash(f)] = true

	hash, err := repo.CommitFitting(ctx, nil, f)
	if err != nil {
		t.Fatalf("CommitFitting: %v", err)
	}
	if hash != fit.Hash(f) {
		t.Errorf("hash = %s, want %s", hash, fit.Hash(f))
	}
	if got := conn.countExecs("INSERT INTO fittingpresets"); got != 0 {
		t.Errorf("preset rows written for already-committed content: %d", got)
	}
	if got := conn.countExecs("INSERT INTO fittingdronepresets"); got != 0 {
		t.Errorf("drone preset rows written for already-committed content: %d", got)
	}
}

func TestCommitFittingRejectsShiplessFit(t *testing.T) {
	repo, conn := newTestRepository()

	if _, err := repo.CommitFitting(context.Background(), nil, fit.New()); err == nil {
		t.Fatal("fit without a ship committed")
	}
	if len(conn.execs) != 0 {
		t.Errorf("statements executed for rejected fit: %v", conn.execs)
	}
}
