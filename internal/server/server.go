// Package server sequences service startup and shutdown around the shared
// connection pool.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MalikShoaibAhmadKhan/3-tier-app-AKS/internal/db"
)

// State is a lifecycle phase. Phases only move forward.
type State int32

const (
	Starting State = iota
	InitializingSchema
	Serving
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case InitializingSchema:
		return "initializing_schema"
	case Serving:
		return "serving"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Options configure a Server.
type Options struct {
	Addr            string
	ShutdownTimeout time.Duration
	// Listen overrides net.Listen, e.g. to bind an ephemeral port in tests.
	Listen func(network, addr string) (net.Listener, error)
	// Ready, when set, is called with the bound address once serving starts.
	Ready func(addr net.Addr)
}

// Server runs service A: schema first, then HTTP, then an orderly drain.
type Server struct {
	pool    *db.Pool
	handler http.Handler
	opts    Options
	log     *zap.Logger
	state   atomic.Int32
}

// New returns a server in the Starting state.
func New(pool *db.Pool, handler http.Handler, opts Options, log *zap.Logger) *Server {
	if opts.Listen == nil {
		opts.Listen = net.Listen
	}
	return &Server{pool: pool, handler: handler, opts: opts, log: log}
}

// State returns the current lifecycle phase.
func (s *Server) State() State {
	return State(s.state.Load())
}

func (s *Server) enter(st State) {
	prev := State(s.state.Swap(int32(st)))
	s.log.Info("lifecycle transition", zap.Stringer("from", prev), zap.Stringer("to", st))
}

// Run initializes the schema, serves until ctx is cancelled and then drains
// the HTTP server and the pool. A schema or bind failure is returned without
// ever serving; the caller is expected to exit non-zero.
func (s *Server) Run(ctx context.Context) error {
	s.enter(InitializingSchema)
	if err := db.EnsureSchema(ctx, s.pool); err != nil {
		s.log.Error("schema initialization failed", zap.Error(err))
		s.closePool()
		return err
	}
	s.log.Info("database table checked/created", zap.String("table", db.RecordsTable))

	ln, err := s.opts.Listen("tcp", s.opts.Addr)
	if err != nil {
		s.closePool()
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.enter(Serving)
	if s.opts.Ready != nil {
		s.opts.Ready(ln.Addr())
	}
	s.log.Info("service listening", zap.String("addr", ln.Addr().String()))

	err = Serve(ctx, srv, ln, s.opts.ShutdownTimeout, func() { s.enter(Draining) })

	s.closePool()
	s.enter(Stopped)
	if err != nil && ctx.Err() != nil {
		// Termination was requested; a drain that outlived its timeout is
		// reported but still ends in a clean stop.
		s.log.Warn("http shutdown did not complete in time", zap.Error(err))
		return nil
	}
	return err
}

func (s *Server) closePool() {
	s.log.Info("closing database pool")
	if err := s.pool.Close(); err != nil {
		s.log.Warn("database pool closed with leases forcibly terminated", zap.Error(err))
		return
	}
	st := s.pool.Stats()
	s.log.Info("pool has ended", zap.Int64("acquired", st.Acquired), zap.Int64("exhausted", st.Exhausted))
}

// Serve runs srv on ln until ctx is cancelled, then shuts it down, waiting
// at most timeout for in-flight requests. onDrain runs once shutdown begins.
// An http.ErrServerClosed exit is not an error.
func Serve(ctx context.Context, srv *http.Server, ln net.Listener, timeout time.Duration, onDrain func()) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		if onDrain != nil {
			onDrain()
		}
		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}
