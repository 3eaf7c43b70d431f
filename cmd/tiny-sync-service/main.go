package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/lumeara/dre_backend/config"
	"github.com/lumeara/dre_backend/models"
	"github.com/lumeara/dre_backend/tinysync"
	"github.com/lumeara/dre_backend/utils"
)

const defaultPort = "8081"

// tiny-sync-service runs the scheduler loop plus the sync HTTP
// endpoints, so scheduled and on-demand syncs share one deployment.
func main() {
	_ = godotenv.Load()

	port := os.Getenv("TINY_SYNC_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.Use(gin.Recovery())

	r.POST("/api/tenants/:tenantId/integrations/tiny/config", tinysync.ConfigHandler())
	r.POST("/api/tenants/:tenantId/integrations/tiny/sync", tinysync.SyncHandler())
	r.GET("/api/tenants/:tenantId/integrations/tiny/status", tinysync.StatusHandler())

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	}

	pollMinutes := intFromEnv("SCHEDULER_POLL_MINUTES", 5)
	scheduler := tinysync.NewScheduler(db, time.Duration(pollMinutes)*time.Minute)
	go scheduler.Start(sigCtx)
	logger.WithFields(logrus.Fields{"poll_minutes": pollMinutes}).Info("tiny sync scheduler started")

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}

func intFromEnv(key string, def int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}
