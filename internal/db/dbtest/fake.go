// Package dbtest provides an in-memory stand-in for the Postgres source so
// pool, handler and lifecycle behavior can be tested without a server.
//
// The fake understands exactly the statements the service issues: the
// CREATE TABLE, the single-row INSERT and the ordered SELECT.
package dbtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MalikShoaibAhmadKhan/3-tier-app-AKS/internal/db"
	"github.com/MalikShoaibAhmadKhan/3-tier-app-AKS/internal/model"
)

// ErrNoTable mimics Postgres' "relation does not exist".
var ErrNoTable = errors.New(`relation "service_a_data" does not exist`)

// Source is a fake db.Source backed by an in-memory table.
type Source struct {
	// AcquireErr, when set, is returned by every Acquire.
	AcquireErr error
	// ExecErr and QueryErr, when set, fail every Exec / Query.
	ExecErr  error
	QueryErr error

	mu        sync.Mutex
	gate      chan struct{}
	entered   chan struct{}
	dialGate  chan struct{}
	dialIn    chan struct{}
	table     []model.Record
	exists    bool
	creates   int
	nextID    int64
	open      int
	maxOpen   int
	acquired  int
	released  int
	closed    bool
	lastClock time.Time
}

// NewSource returns an empty source without the records table.
func NewSource() *Source {
	return &Source{}
}

// Acquire implements db.Source.
func (s *Source) Acquire(ctx context.Context) (db.Conn, error) {
	s.mu.Lock()
	gate, in := s.dialGate, s.dialIn
	s.mu.Unlock()
	if gate != nil {
		if in != nil {
			in <- struct{}{}
		}
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AcquireErr != nil {
		return nil, s.AcquireErr
	}
	if s.closed {
		return nil, errors.New("source closed")
	}
	if err := ctx.Err(); err != nil && gate == nil {
		return nil, err
	}
	s.open++
	s.acquired++
	if s.open > s.maxOpen {
		s.maxOpen = s.open
	}
	return &Conn{src: s}, nil
}

// Close implements db.Source.
func (s *Source) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Counters reports how many sessions were handed out and given back, and
// the most that were out at the same time.
type Counters struct {
	Acquired int
	Released int
	Open     int
	MaxOpen  int
	Closed   bool
	Creates  int
}

// Counters returns a snapshot of the source bookkeeping.
func (s *Source) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Counters{
		Acquired: s.acquired,
		Released: s.released,
		Open:     s.open,
		MaxOpen:  s.maxOpen,
		Closed:   s.closed,
		Creates:  s.creates,
	}
}

// Records returns the stored rows in insertion order.
func (s *Source) Records() []model.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Record(nil), s.table...)
}

// TableExists reports whether CREATE TABLE has run.
func (s *Source) TableExists() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists
}

// now returns a strictly increasing microsecond-precision clock, like
// successive CURRENT_TIMESTAMP values in separate transactions.
func (s *Source) now() time.Time {
	t := time.Now().UTC().Truncate(time.Microsecond)
	if !t.After(s.lastClock) {
		t = s.lastClock.Add(time.Microsecond)
	}
	s.lastClock = t
	return t
}

// HoldDials makes every later Acquire block until gate is closed, even if
// its context ends, and then succeed. Each blocked Acquire first sends on
// entered, when entered is non-nil.
func (s *Source) HoldDials(gate, entered chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialGate, s.dialIn = gate, entered
}

// Hold makes every later statement block until gate is closed or the
// statement context ends. Each blocked statement first sends on entered,
// when entered is non-nil.
func (s *Source) Hold(gate, entered chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate, s.entered = gate, entered
}

func (s *Source) wait(ctx context.Context) error {
	s.mu.Lock()
	gate, entered := s.gate, s.entered
	s.mu.Unlock()
	if gate == nil {
		return nil
	}
	if entered != nil {
		entered <- struct{}{}
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Source) exec(ctx context.Context, sql string, args []any) (pgconn.CommandTag, error) {
	if err := s.wait(ctx); err != nil {
		return pgconn.CommandTag{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ExecErr != nil {
		return pgconn.CommandTag{}, s.ExecErr
	}
	switch {
	case strings.Contains(sql, "CREATE TABLE IF NOT EXISTS"):
		s.exists = true
		s.creates++
		return pgconn.NewCommandTag("CREATE TABLE"), nil
	case strings.HasPrefix(strings.TrimSpace(sql), "INSERT"):
		if !s.exists {
			return pgconn.CommandTag{}, ErrNoTable
		}
		if len(args) != 1 {
			return pgconn.CommandTag{}, fmt.Errorf("insert expects 1 argument, got %d", len(args))
		}
		msg, _ := args[0].(string)
		s.nextID++
		s.table = append(s.table, model.Record{ID: s.nextID, Message: msg, CreatedAt: s.now()})
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.CommandTag{}, fmt.Errorf("dbtest: unsupported statement %q", sql)
}

func (s *Source) query(ctx context.Context, sql string) (pgx.Rows, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	if !strings.Contains(sql, "SELECT") {
		return nil, fmt.Errorf("dbtest: unsupported query %q", sql)
	}
	if !s.exists {
		return nil, ErrNoTable
	}
	recs := append([]model.Record(nil), s.table...)
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID > recs[j].ID
	})
	return &Rows{recs: recs}, nil
}

// Conn is one fake session.
type Conn struct {
	src      *Source
	released bool
}

// Exec implements db.Conn.
func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.src.exec(ctx, sql, args)
}

// Query implements db.Conn.
func (c *Conn) Query(ctx context.Context, sql string, _ ...any) (pgx.Rows, error) {
	return c.src.query(ctx, sql)
}

// SendBatch implements db.Conn. Queued statements run in order until the
// first failure.
func (c *Conn) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	br := &batchResults{}
	for _, q := range b.QueuedQueries {
		_, err := c.src.exec(ctx, q.SQL, q.Arguments)
		br.errs = append(br.errs, err)
		if err != nil {
			break
		}
	}
	return br
}

// Ping implements db.Conn.
func (c *Conn) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Release implements db.Conn.
func (c *Conn) Release() {
	c.src.mu.Lock()
	defer c.src.mu.Unlock()
	if c.released {
		panic("dbtest: session released twice")
	}
	c.released = true
	c.src.open--
	c.src.released++
}

// Rows is a fake pgx.Rows over a record snapshot.
type Rows struct {
	recs   []model.Record
	i      int
	closed bool
}

var _ pgx.Rows = (*Rows)(nil)

func (r *Rows) Close()                                       { r.closed = true }
func (r *Rows) Err() error                                   { return nil }
func (r *Rows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *Rows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *Rows) RawValues() [][]byte                          { return nil }
func (r *Rows) Conn() *pgx.Conn                              { return nil }

func (r *Rows) Next() bool {
	if r.closed || r.i >= len(r.recs) {
		r.closed = true
		return false
	}
	r.i++
	return true
}

func (r *Rows) Scan(dest ...any) error {
	if len(dest) != 3 {
		return fmt.Errorf("dbtest: scan expects 3 destinations, got %d", len(dest))
	}
	rec := r.recs[r.i-1]
	id, ok1 := dest[0].(*int64)
	msg, ok2 := dest[1].(*string)
	ts, ok3 := dest[2].(*time.Time)
	if !ok1 || !ok2 || !ok3 {
		return errors.New("dbtest: unexpected scan destination types")
	}
	*id, *msg, *ts = rec.ID, rec.Message, rec.CreatedAt
	return nil
}

func (r *Rows) Values() ([]any, error) {
	rec := r.recs[r.i-1]
	return []any{rec.ID, rec.Message, rec.CreatedAt}, nil
}

type batchResults struct {
	errs []error
	i    int
}

func (b *batchResults) Exec() (pgconn.CommandTag, error) {
	if b.i >= len(b.errs) {
		return pgconn.CommandTag{}, errors.New("dbtest: no more batch results")
	}
	err := b.errs[b.i]
	b.i++
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (b *batchResults) Query() (pgx.Rows, error) {
	return nil, errors.New("dbtest: batch queries are not supported")
}

func (b *batchResults) QueryRow() pgx.Row {
	return errRow{errors.New("dbtest: batch queries are not supported")}
}

func (b *batchResults) Close() error { return nil }

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }
