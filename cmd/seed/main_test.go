package main

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/MalikShoaibAhmadKhan/3-tier-app-AKS/internal/db"
	"github.com/MalikShoaibAhmadKhan/3-tier-app-AKS/internal/db/dbtest"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSeed(t *testing.T) {
	Convey("seed", t, func() {
		ctx := context.Background()
		src := dbtest.NewSource()
		pool := db.NewPool(src, db.PoolOptions{Capacity: 2}, nil)

		Convey("creates the table and inserts in batches", func() {
			So(seed(ctx, pool, zap.NewNop(), 7, 3, "Seeded"), ShouldBeNil)
			recs := src.Records()
			So(recs, ShouldHaveLength, 7)
			So(strings.HasPrefix(recs[0].Message, "Seeded 1 at "), ShouldBeTrue)
			So(strings.HasPrefix(recs[6].Message, "Seeded 7 at "), ShouldBeTrue)

			c := src.Counters()
			So(c.Released, ShouldEqual, c.Acquired)
		})

		Convey("rejects a non-positive batch size", func() {
			So(seed(ctx, pool, zap.NewNop(), 7, 0, "Seeded"), ShouldNotBeNil)
			So(src.TableExists(), ShouldBeFalse)
		})
	})
}

func TestRun(t *testing.T) {
	Convey("run returns configuration errors instead of exiting", t, func() {
		t.Setenv("POOL_MAX_CONNS", "0")
		err := run(zap.NewNop(), 1, 1, "Seeded")
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldStartWith, "load config: ")
		So(err.Error(), ShouldContainSubstring, "POOL_MAX_CONNS")
	})
}
