// Service B: stateless HTTP endpoint with no shared resources.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MalikShoaibAhmadKhan/3-tier-app-AKS/internal/api"
	"github.com/MalikShoaibAhmadKhan/3-tier-app-AKS/internal/config"
	"github.com/MalikShoaibAhmadKhan/3-tier-app-AKS/internal/logging"
	"github.com/MalikShoaibAhmadKhan/3-tier-app-AKS/internal/server"
)

const defaultPort = 3002

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		log.Error("listen failed", zap.String("addr", cfg.Server.Addr()), zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Handler:           api.ServiceBRoutes(rand.Float64, log.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info("service b listening", zap.String("addr", ln.Addr().String()))
	if err := server.Serve(ctx, srv, ln, cfg.Server.ShutdownTimeout, nil); err != nil && ctx.Err() == nil {
		log.Error("service b failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("service b stopped")
}
