// Package api contains the HTTP handlers for both services.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MalikShoaibAhmadKhan/3-tier-app-AKS/internal/db"
	"github.com/MalikShoaibAhmadKhan/3-tier-app-AKS/internal/model"
)

const (
	healthOK     = "Hello from Service A! Connected to Database."
	healthFailed = "Hello from Service A! Database connection error."
	queryFailed  = "Database query failed"

	// isoMillis matches JavaScript's Date.prototype.toISOString for UTC times.
	isoMillis = "2006-01-02T15:04:05.000Z07:00"
)

// Handlers serves service A's routes from a shared connection pool.
type Handlers struct {
	pool        *db.Pool
	log         *zap.Logger
	stmtTimeout time.Duration
	now         func() time.Time
}

// NewHandlers binds the handlers to pool. Every request's database work is
// bounded by stmtTimeout.
func NewHandlers(pool *db.Pool, stmtTimeout time.Duration, log *zap.Logger) *Handlers {
	return &Handlers{
		pool:        pool,
		log:         log,
		stmtTimeout: stmtTimeout,
		now:         time.Now,
	}
}

// statementContext detaches database work from the client connection: a
// caller hanging up does not abort statements already under way, so the
// lease is always returned through the normal path.
func (h *Handlers) statementContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.stmtTimeout)
}

// HealthCheck handles GET /. It borrows one session and hands it straight
// back to prove the database is reachable.
func (h *Handlers) HealthCheck(c *gin.Context) {
	ctx, cancel := h.statementContext(c)
	defer cancel()

	lease, err := h.pool.Acquire(ctx)
	if err != nil {
		requestLogger(c, h.log).Error("database connection error", zap.String("route", "/"), zap.Error(err))
		c.String(http.StatusInternalServerError, healthFailed)
		return
	}
	lease.Release()
	c.String(http.StatusOK, healthOK)
}

// RecordAndList handles GET /data: it appends a record stamped with the
// request time and returns every record, newest first. Each call writes.
func (h *Handlers) RecordAndList(c *gin.Context) {
	ctx, cancel := h.statementContext(c)
	defer cancel()

	records, err := h.recordAndList(ctx)
	if err != nil {
		requestLogger(c, h.log).Error("error executing query", zap.String("route", "/data"), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": queryFailed})
		return
	}
	c.JSON(http.StatusOK, records)
}

// recordAndList runs both statements on one lease, released before the
// response is written.
func (h *Handlers) recordAndList(ctx context.Context) ([]model.Record, error) {
	lease, err := h.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	if err := db.InsertRecord(ctx, lease, requestMessage(h.now())); err != nil {
		return nil, err
	}
	return db.ListRecords(ctx, lease)
}

func requestMessage(t time.Time) string {
	return "Data requested at " + t.UTC().Format(isoMillis)
}
