// Seed tool: ensures the service_a_data table exists and bulk-loads records
// into it, e.g. to give /data a realistic table size before a benchmark.
// Connection settings come from the same environment as service A.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/MalikShoaibAhmadKhan/3-tier-app-AKS/internal/config"
	"github.com/MalikShoaibAhmadKhan/3-tier-app-AKS/internal/db"
	"github.com/MalikShoaibAhmadKhan/3-tier-app-AKS/internal/logging"
)

func main() {
	var numRecords int
	var batchSize int
	var prefix string
	flag.IntVar(&numRecords, "n", 10000, "number of records to insert")
	flag.IntVar(&batchSize, "batch", 1000, "insert batch size")
	flag.StringVar(&prefix, "prefix", "Seeded record", "message prefix")
	flag.Parse()

	log, err := logging.New("info", "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	start := time.Now()
	if err := run(log, numRecords, batchSize, prefix); err != nil {
		log.Error("seed failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("done", zap.Int("records", numRecords), zap.Duration("took", time.Since(start).Truncate(time.Millisecond)))
}

func run(log *zap.Logger, numRecords, batchSize int, prefix string) error {
	cfg, err := config.Load(3001)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, cfg.Database, log.Named("pool"))
	if err != nil {
		return fmt.Errorf("open pool: %w", err)
	}

	err = seed(ctx, pool, log, numRecords, batchSize, prefix)
	if cerr := pool.Close(); cerr != nil {
		log.Warn("close pool", zap.Error(cerr))
	}
	return err
}

// seed inserts numRecords rows through a single lease, batchSize per round-trip.
func seed(ctx context.Context, pool *db.Pool, log *zap.Logger, numRecords, batchSize int, prefix string) error {
	if batchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if err := db.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	lease, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	log.Info("seeding", zap.Int("records", numRecords), zap.Int("batch", batchSize))
	messages := make([]string, 0, batchSize)
	for i := 0; i < numRecords; i++ {
		messages = append(messages, fmt.Sprintf("%s %d at %s", prefix, i+1, time.Now().UTC().Format(time.RFC3339Nano)))
		if len(messages) == batchSize {
			if err := db.InsertRecords(ctx, lease, messages); err != nil {
				return err
			}
			messages = messages[:0]
		}
	}
	return db.InsertRecords(ctx, lease, messages)
}
