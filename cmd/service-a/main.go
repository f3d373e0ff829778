// Service A: HTTP data service backed by Postgres.
// It checks/creates its table before listening, serves / and /data, and on
// SIGINT/SIGTERM drains in-flight requests and the connection pool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MalikShoaibAhmadKhan/3-tier-app-AKS/internal/api"
	"github.com/MalikShoaibAhmadKhan/3-tier-app-AKS/internal/config"
	"github.com/MalikShoaibAhmadKhan/3-tier-app-AKS/internal/db"
	"github.com/MalikShoaibAhmadKhan/3-tier-app-AKS/internal/logging"
	"github.com/MalikShoaibAhmadKhan/3-tier-app-AKS/internal/server"
)

const defaultPort = 3001

func main() {
	cfg, err := config.Load(defaultPort)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("service a failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("service a stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Open(ctx, cfg.Database, log.Named("pool"))
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	handlers := api.NewHandlers(pool, cfg.Server.StatementTimeout, log.Named("api"))
	srv := server.New(pool, api.ServiceARoutes(handlers, log.Named("http")), server.Options{
		Addr:            cfg.Server.Addr(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, log.Named("server"))
	return srv.Run(ctx)
}
