// Package db owns the service's database sessions: a bounded lease pool,
// schema initialization and the record statements.
package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Conn is a live database session handed out by a Source.
// *pgxpool.Conn satisfies it.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Ping(ctx context.Context) error
	Release()
}

// Source opens and recycles the physical sessions behind a Pool.
// It must be able to serve at least Capacity concurrent sessions.
type Source interface {
	Acquire(ctx context.Context) (Conn, error)
	Close()
}

// PoolOptions bound the pool's capacity and waits.
type PoolOptions struct {
	Capacity       int64
	AcquireTimeout time.Duration
	DrainTimeout   time.Duration
}

const (
	defaultCapacity       = 10
	defaultAcquireTimeout = 5 * time.Second
	defaultDrainTimeout   = 10 * time.Second
)

// Stats is a point-in-time snapshot of pool bookkeeping.
type Stats struct {
	Capacity     int64
	Leased       int64
	Acquired     int64
	Exhausted    int64
	ConnFailures int64
}

// Pool lends at most Capacity sessions at a time.
// Lifecycle: open -> closing (Close called, draining) -> closed.
type Pool struct {
	src  Source
	opts PoolOptions
	log  *zap.Logger
	sem  *semaphore.Weighted

	// closing is cancelled when Close starts; it wakes blocked Acquire calls.
	closing     context.Context
	stopLending context.CancelFunc
	// force is cancelled when the drain times out; it aborts statements
	// still running on leased sessions.
	force       context.Context
	forceCancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	pending int64 // leases plus callers still inside Acquire
	stats   Stats
	drained chan struct{}
	signal  bool

	closeMu   sync.Mutex
	started   bool
	srcClosed bool
	closeErr  error
}

// NewPool wraps src with lease accounting. Zero options take defaults.
func NewPool(src Source, opts PoolOptions, log *zap.Logger) *Pool {
	if opts.Capacity <= 0 {
		opts.Capacity = defaultCapacity
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = defaultAcquireTimeout
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{
		src:     src,
		opts:    opts,
		log:     log,
		sem:     semaphore.NewWeighted(opts.Capacity),
		drained: make(chan struct{}),
	}
	p.stats.Capacity = opts.Capacity
	p.closing, p.stopLending = context.WithCancel(context.Background())
	p.force, p.forceCancel = context.WithCancel(context.Background())
	return p
}

// Acquire leases one session. It waits at most the configured acquire
// timeout for a free slot and fails with ErrPoolExhausted after that, with
// a *ConnectionError when the session cannot be opened, or with
// ErrPoolClosed once Close has started. A caller whose own context ends
// first gets that context's error.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.pending++
	p.mu.Unlock()

	actx, cancel := context.WithTimeout(ctx, p.opts.AcquireTimeout)
	defer cancel()
	stop := context.AfterFunc(p.closing, cancel)
	defer stop()

	start := time.Now()
	if err := p.sem.Acquire(actx, 1); err != nil {
		p.finish(false)
		if p.isClosed() {
			return nil, ErrPoolClosed
		}
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		p.mu.Lock()
		p.stats.Exhausted++
		p.mu.Unlock()
		p.log.Debug("no free connection slot", zap.Duration("waited", time.Since(start)), zap.Error(err))
		return nil, fmt.Errorf("%w: no free slot after %s: %w", ErrPoolExhausted, time.Since(start).Truncate(time.Millisecond), err)
	}

	conn, err := p.src.Acquire(actx)
	if err != nil {
		p.sem.Release(1)
		p.finish(false)
		if p.isClosed() {
			return nil, ErrPoolClosed
		}
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		p.mu.Lock()
		p.stats.ConnFailures++
		p.mu.Unlock()
		return nil, &ConnectionError{Err: err}
	}

	// Close may have started while the session was being opened.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		conn.Release()
		p.sem.Release(1)
		p.finish(false)
		return nil, ErrPoolClosed
	}
	p.stats.Leased++
	p.stats.Acquired++
	p.mu.Unlock()

	l := &Lease{pool: p, conn: conn}
	l.ctx, l.cancel = context.WithCancel(p.force)
	return l, nil
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// finish settles one Acquire call: either a failed attempt or a released lease.
func (p *Pool) finish(leased bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending--
	if leased {
		p.stats.Leased--
	}
	if p.closed && p.pending == 0 {
		p.signalDrainedLocked()
	}
}

func (p *Pool) signalDrainedLocked() {
	if !p.signal {
		p.signal = true
		close(p.drained)
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close stops lending, waits for outstanding leases to be released and then
// closes every session. Leases still out after the drain timeout have their
// running statements cancelled, which makes the driver drop those sessions.
// Close is idempotent; later calls return the first call's result, except
// that when leases were never returned a later call waits for them again
// and closes the source once they are.
func (p *Pool) Close() error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if !p.started {
		p.started = true
		p.closeErr = p.close()
		return p.closeErr
	}
	if p.srcClosed {
		return p.closeErr
	}

	// An earlier Close gave up on leases that were never returned.
	if !p.waitDrained(p.opts.DrainTimeout) {
		return fmt.Errorf("%w: %d leases never returned", ErrDrainTimeout, p.Stats().Leased)
	}
	p.closeSource()
	p.closeErr = nil
	return nil
}

func (p *Pool) close() error {
	p.mu.Lock()
	p.closed = true
	outstanding := p.pending
	if p.pending == 0 {
		p.signalDrainedLocked()
	}
	p.mu.Unlock()
	p.stopLending()

	p.log.Info("draining connection pool", zap.Int64("outstanding", outstanding))

	var err error
	if !p.waitDrained(p.opts.DrainTimeout) {
		forced := p.Stats().Leased
		p.log.Warn("pool drain timed out, terminating leased sessions",
			zap.Int64("leased", forced), zap.Duration("timeout", p.opts.DrainTimeout))
		p.forceCancel()
		err = fmt.Errorf("%w: terminated %d leased sessions after %s", ErrDrainTimeout, forced, p.opts.DrainTimeout)
		if !p.waitDrained(p.opts.DrainTimeout) {
			left := p.Stats().Leased
			p.log.Error("leased sessions were never returned, leaving the source open", zap.Int64("leased", left))
			return fmt.Errorf("%w: %d leases never returned", ErrDrainTimeout, left)
		}
	}
	p.closeSource()
	return err
}

func (p *Pool) closeSource() {
	p.forceCancel()
	p.src.Close()
	p.srcClosed = true
	p.log.Info("connection pool closed", zap.Int64("acquired", p.Stats().Acquired))
}

func (p *Pool) waitDrained(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.drained:
		return true
	case <-t.C:
		return false
	}
}

// Lease is one borrowed session. Statements run through the lease are also
// cancelled if the pool has to terminate it during shutdown.
// Release must be called exactly once; extra calls are no-ops.
type Lease struct {
	pool   *Pool
	conn   Conn
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// bind derives a statement context that also ends when the lease is
// released or forcibly terminated.
func (l *Lease) bind(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(l.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Exec runs a statement that returns no rows.
func (l *Lease) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	ctx, done := l.bind(ctx)
	defer done()
	return l.conn.Exec(ctx, sql, args...)
}

// Query runs a statement returning rows. The rows must be closed before
// the lease is released.
func (l *Lease) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	ctx, done := l.bind(ctx)
	rows, err := l.conn.Query(ctx, sql, args...)
	if err != nil {
		done()
		return nil, err
	}
	return &boundRows{Rows: rows, done: done}, nil
}

// SendBatch queues b on the session. The results must be closed before the
// lease is released.
func (l *Lease) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	ctx, done := l.bind(ctx)
	return &boundBatch{BatchResults: l.conn.SendBatch(ctx, b), done: done}
}

// Ping checks that the session is alive.
func (l *Lease) Ping(ctx context.Context) error {
	ctx, done := l.bind(ctx)
	defer done()
	return l.conn.Ping(ctx)
}

// Release returns the session to the pool. Broken sessions are discarded
// by the source rather than lent again.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.cancel()
		l.conn.Release()
		l.pool.sem.Release(1)
		l.pool.finish(true)
	})
}

type boundRows struct {
	pgx.Rows
	done func()
}

func (r *boundRows) Close() {
	r.Rows.Close()
	r.done()
}

type boundBatch struct {
	pgx.BatchResults
	done func()
}

func (b *boundBatch) Close() error {
	defer b.done()
	return b.BatchResults.Close()
}
