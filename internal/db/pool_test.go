package db_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MalikShoaibAhmadKhan/3-tier-app-AKS/internal/db"
	"github.com/MalikShoaibAhmadKhan/3-tier-app-AKS/internal/db/dbtest"

	. "github.com/smartystreets/goconvey/convey"
)

func TestPool(t *testing.T) {
	t.Parallel()

	Convey("Pool", t, func() {
		ctx := context.Background()
		src := dbtest.NewSource()
		pool := db.NewPool(src, db.PoolOptions{
			Capacity:       3,
			AcquireTimeout: 5 * time.Second,
			DrainTimeout:   time.Second,
		}, nil)

		Convey("lends and reclaims a session", func() {
			lease, err := pool.Acquire(ctx)
			So(err, ShouldBeNil)
			So(pool.Stats().Leased, ShouldEqual, 1)

			lease.Release()
			So(pool.Stats().Leased, ShouldEqual, 0)
			So(src.Counters().Released, ShouldEqual, 1)

			Convey("releasing twice is a no-op", func() {
				lease.Release()
				So(src.Counters().Released, ShouldEqual, 1)
				So(pool.Stats().Leased, ShouldEqual, 0)
			})
		})

		Convey("never leases more than its capacity", func() {
			var (
				mu      sync.Mutex
				maxSeen int64
				wg      sync.WaitGroup
				errs    = make(chan error, 20)
			)
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					lease, err := pool.Acquire(ctx)
					if err != nil {
						errs <- err
						return
					}
					defer lease.Release()
					mu.Lock()
					if l := pool.Stats().Leased; l > maxSeen {
						maxSeen = l
					}
					mu.Unlock()
					time.Sleep(5 * time.Millisecond)
				}()
			}
			wg.Wait()
			close(errs)

			for err := range errs {
				So(err, ShouldBeNil)
			}
			So(maxSeen, ShouldBeLessThanOrEqualTo, 3)
			c := src.Counters()
			So(c.MaxOpen, ShouldBeLessThanOrEqualTo, 3)
			So(c.Acquired, ShouldEqual, 20)
			So(c.Released, ShouldEqual, 20)
			So(pool.Stats().Acquired, ShouldEqual, 20)
		})

		Convey("fails with ErrPoolExhausted after a bounded wait", func() {
			small := db.NewPool(src, db.PoolOptions{Capacity: 1, AcquireTimeout: 50 * time.Millisecond}, nil)
			held, err := small.Acquire(ctx)
			So(err, ShouldBeNil)
			defer held.Release()

			start := time.Now()
			_, err = small.Acquire(ctx)
			So(errors.Is(err, db.ErrPoolExhausted), ShouldBeTrue)
			So(time.Since(start), ShouldBeLessThan, time.Second)
			So(small.Stats().Exhausted, ShouldEqual, 1)
			So(small.Stats().Leased, ShouldEqual, 1)
		})

		Convey("returns the caller's error when its context ends first", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := pool.Acquire(cctx)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(errors.Is(err, db.ErrPoolExhausted), ShouldBeFalse)
			So(pool.Stats(), ShouldResemble, db.Stats{Capacity: 3})

			Convey("also while waiting for a slot", func() {
				small := db.NewPool(src, db.PoolOptions{Capacity: 1, AcquireTimeout: 10 * time.Second}, nil)
				held, err := small.Acquire(ctx)
				So(err, ShouldBeNil)
				defer held.Release()

				dctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
				defer cancel()
				_, err = small.Acquire(dctx)
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
				So(small.Stats().Exhausted, ShouldEqual, 0)
			})
		})

		Convey("reports source failures as ConnectionError", func() {
			src.AcquireErr = errors.New("dial tcp: connection refused")
			_, err := pool.Acquire(ctx)
			var connErr *db.ConnectionError
			So(errors.As(err, &connErr), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "connection refused")
			So(pool.Stats().Leased, ShouldEqual, 0)
			So(pool.Stats().ConnFailures, ShouldEqual, 1)

			Convey("and frees the slot", func() {
				src.AcquireErr = nil
				for i := 0; i < 3; i++ {
					lease, err := pool.Acquire(ctx)
					So(err, ShouldBeNil)
					defer lease.Release()
				}
			})
		})

		Convey("Close", func() {
			Convey("closes the source and refuses new leases", func() {
				So(pool.Close(), ShouldBeNil)
				So(src.Counters().Closed, ShouldBeTrue)

				_, err := pool.Acquire(ctx)
				So(err, ShouldEqual, db.ErrPoolClosed)

				Convey("and is idempotent", func() {
					So(pool.Close(), ShouldBeNil)
				})
			})

			Convey("waits for outstanding leases", func() {
				lease, err := pool.Acquire(ctx)
				So(err, ShouldBeNil)

				done := make(chan error, 1)
				go func() { done <- pool.Close() }()

				returnedEarly := false
				select {
				case <-done:
					returnedEarly = true
				case <-time.After(50 * time.Millisecond):
				}
				So(returnedEarly, ShouldBeFalse)
				So(src.Counters().Closed, ShouldBeFalse)

				lease.Release()
				So(<-done, ShouldBeNil)
				So(src.Counters().Closed, ShouldBeTrue)
				So(src.Counters().Open, ShouldEqual, 0)
			})

			Convey("wakes callers waiting for a slot", func() {
				small := db.NewPool(src, db.PoolOptions{Capacity: 1, AcquireTimeout: 10 * time.Second}, nil)
				held, err := small.Acquire(ctx)
				So(err, ShouldBeNil)

				waiter := make(chan error, 1)
				go func() {
					_, err := small.Acquire(ctx)
					waiter <- err
				}()
				time.Sleep(20 * time.Millisecond)

				closed := make(chan error, 1)
				go func() { closed <- small.Close() }()

				var werr error
				select {
				case werr = <-waiter:
				case <-time.After(5 * time.Second):
					werr = errors.New("waiter was not woken by Close")
				}
				So(werr, ShouldEqual, db.ErrPoolClosed)
				held.Release()
				So(<-closed, ShouldBeNil)
			})

			Convey("does not lend a session opened while closing", func() {
				gate := make(chan struct{})
				entered := make(chan struct{}, 1)
				src.HoldDials(gate, entered)

				got := make(chan error, 1)
				go func() {
					lease, err := pool.Acquire(ctx)
					if lease != nil {
						lease.Release()
					}
					got <- err
				}()
				<-entered

				closed := make(chan error, 1)
				go func() { closed <- pool.Close() }()
				time.Sleep(20 * time.Millisecond)
				close(gate)

				So(<-got, ShouldEqual, db.ErrPoolClosed)
				So(<-closed, ShouldBeNil)
				c := src.Counters()
				So(c.Open, ShouldEqual, 0)
				So(c.Closed, ShouldBeTrue)
				So(pool.Stats().Acquired, ShouldEqual, 0)
			})

			Convey("closes the source on a later call once abandoned leases return", func() {
				quick := db.NewPool(src, db.PoolOptions{Capacity: 1, DrainTimeout: 20 * time.Millisecond}, nil)
				lease, err := quick.Acquire(ctx)
				So(err, ShouldBeNil)

				err = quick.Close()
				So(errors.Is(err, db.ErrDrainTimeout), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "never returned")
				So(src.Counters().Closed, ShouldBeFalse)

				lease.Release()
				So(quick.Close(), ShouldBeNil)
				So(src.Counters().Closed, ShouldBeTrue)
				So(quick.Close(), ShouldBeNil)
			})

			Convey("terminates statements still running after the drain timeout", func() {
				entered := make(chan struct{}, 1)
				src.Hold(make(chan struct{}), entered)
				quick := db.NewPool(src, db.PoolOptions{Capacity: 1, DrainTimeout: 50 * time.Millisecond}, nil)

				lease, err := quick.Acquire(ctx)
				So(err, ShouldBeNil)
				stmt := make(chan error, 1)
				go func() {
					defer lease.Release()
					_, err := lease.Exec(ctx, "INSERT INTO service_a_data (message) VALUES ($1)", "stuck")
					stmt <- err
				}()
				<-entered

				err = quick.Close()
				So(errors.Is(err, db.ErrDrainTimeout), ShouldBeTrue)
				So(errors.Is(<-stmt, context.Canceled), ShouldBeTrue)
				So(src.Counters().Closed, ShouldBeTrue)
				So(quick.Stats().Leased, ShouldEqual, 0)
			})
		})
	})
}
