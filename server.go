package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/lumeara/dre_backend/config"
	"github.com/lumeara/dre_backend/models"
	"github.com/lumeara/dre_backend/models/reports"
	"github.com/lumeara/dre_backend/tinysync"
	"github.com/lumeara/dre_backend/utils"
	"github.com/lumeara/dre_backend/xlsximport"
)

const defaultPort = "8080"

func main() {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
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
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))
	r.Use(requestLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/api/tenants/:tenantId/import", importHandler())
	r.POST("/api/tenants/:tenantId/integrations/tiny/config", tinysync.ConfigHandler())
	r.POST("/api/tenants/:tenantId/integrations/tiny/sync", tinysync.SyncHandler())
	r.GET("/api/tenants/:tenantId/integrations/tiny/status", tinysync.StatusHandler())
	r.GET("/api/tenants/:tenantId/reports/dre", dreHandler())
	r.GET("/api/tenants/:tenantId/reports/dre/filters", dreFiltersHandler())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

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
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

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

// importHandler accepts one .xlsx upload and runs it through the
// spreadsheet importer. Row-level problems come back in the response,
// only file-level problems fail the request.
func importHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId := strings.TrimSpace(c.Param("tenantId"))
		if tenantId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenantId is required"})
			return
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		if ext := strings.ToLower(filepath.Ext(fileHeader.Filename)); ext != ".xlsx" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "only .xlsx files are supported"})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read upload"})
			return
		}
		defer file.Close()

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		db := config.GetDB().WithContext(ctx)

		result, err := xlsximport.ImportTransactions(ctx, db, tenantId, file)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func dreHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId := strings.TrimSpace(c.Param("tenantId"))
		if tenantId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenantId is required"})
			return
		}

		query := reports.DREQuery{
			TenantId: tenantId,
			From:     c.Query("from"),
			To:       c.Query("to"),
			Basis:    c.Query("basis"),
			GroupBy:  c.Query("groupBy"),
			Search:   c.Query("search"),
			Pcg:      splitAndTrim(c.Query("pcg")),
			Types:    splitAndTrim(c.Query("types")),
			Origins:  splitAndTrim(c.Query("origins")),
		}
		if v := strings.TrimSpace(c.Query("minAmount")); v != "" {
			d, err := decimal.NewFromString(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "minAmount must be a number"})
				return
			}
			query.MinAmount = &d
		}
		if v := strings.TrimSpace(c.Query("maxAmount")); v != "" {
			d, err := decimal.NewFromString(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "maxAmount must be a number"})
				return
			}
			query.MaxAmount = &d
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		db := config.GetDB()

		response, err := reports.GetDREReport(ctx, db, query)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, response)
	}
}

func dreFiltersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId := strings.TrimSpace(c.Param("tenantId"))
		if tenantId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenantId is required"})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		db := config.GetDB()

		response, err := reports.GetDREFilters(ctx, db, tenantId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, response)
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		logger.WithFields(logrus.Fields{
			"status":         c.Writer.Status(),
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"latency":        latency.String(),
			"correlation_id": cid,
		}).Info("request")
	}
}
