package tinysync

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lumeara/dre_backend/config"
	"github.com/lumeara/dre_backend/models"
	"github.com/lumeara/dre_backend/utils"
)

func resolveTenantID(c *gin.Context) string {
	return strings.TrimSpace(c.Param("tenantId"))
}

// ConfigHandler upserts a tenant's Tiny integration config. Changing
// the frequency recomputes nextSyncAt from now.
func ConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId := resolveTenantID(c)
		if tenantId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenantId is required"})
			return
		}

		var req ConfigRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := utils.ValidateStruct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		db := config.GetDB().WithContext(ctx)

		existing, err := models.GetTinyConfig(ctx, db, tenantId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		enabled := true
		if req.Enabled != nil {
			enabled = *req.Enabled
		}
		frequency := req.SyncFrequency
		if frequency <= 0 {
			frequency = DefaultSyncFrequencyMinutes
		}
		now := time.Now().UTC()
		next := ComputeNextSync(frequency, now)

		if existing == nil {
			cfg := models.TinyIntegrationConfig{
				TenantId:      tenantId,
				Token:         req.Token,
				ModulesJSON:   EncodeModules(req.Modules),
				Enabled:       &enabled,
				SyncFrequency: frequency,
				NextSyncAt:    &next,
			}
			if err := db.Create(&cfg).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		} else {
			err := db.Model(&models.TinyIntegrationConfig{}).
				Where("tenant_id = ?", tenantId).
				Updates(map[string]interface{}{
					"token":          req.Token,
					"modules_json":   EncodeModules(req.Modules),
					"enabled":        enabled,
					"sync_frequency": frequency,
					"next_sync_at":   next,
				}).Error
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"tenantId":      tenantId,
			"enabled":       enabled,
			"modules":       NormalizeModules(req.Modules),
			"syncFrequency": frequency,
			"nextSyncAt":    next.Format(time.RFC3339),
		})
	}
}

// SyncHandler runs an immediate sync. The token may come from the
// request body or fall back to the stored config.
func SyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId := resolveTenantID(c)
		if tenantId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenantId is required"})
			return
		}

		var req SyncRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		db := config.GetDB().WithContext(ctx)

		cfg, err := models.GetTinyConfig(ctx, db, tenantId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		token := strings.TrimSpace(req.Token)
		modules := req.Modules
		if cfg != nil {
			if token == "" {
				token = cfg.Token
			}
			if len(modules) == 0 {
				modules = DecodeModules(cfg.ModulesJSON)
			}
		}
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no token provided and no integration configured"})
			return
		}

		summary, err := SyncTenant(ctx, db, SyncOptions{
			TenantId:   tenantId,
			Token:      token,
			Modules:    modules,
			UpdateFrom: req.From,
			PageSize:   req.PageSize,
		})
		if err != nil {
			status := http.StatusBadGateway
			payload := gin.H{"error": err.Error()}
			if summary != nil {
				payload["summary"] = summary
			}
			c.JSON(status, payload)
			return
		}

		if cfg != nil {
			if merr := markSynced(ctx, db, tenantId, cfg.SyncFrequency, time.Now().UTC()); merr != nil {
				config.LogError(config.GetLogger(), "tinysync", "SyncHandler",
					"failed to mark sync for tenant "+tenantId, nil, merr)
			}
		}
		c.JSON(http.StatusOK, summary)
	}
}

// StatusHandler reports the stored integration config and sync times.
func StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId := resolveTenantID(c)
		if tenantId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenantId is required"})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		db := config.GetDB().WithContext(ctx)

		cfg, err := models.GetTinyConfig(ctx, db, tenantId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if cfg == nil {
			c.JSON(http.StatusOK, StatusResponse{
				TenantId:   tenantId,
				Configured: false,
				Modules:    DefaultModules(),
			})
			return
		}

		enabled := cfg.Enabled == nil || *cfg.Enabled
		c.JSON(http.StatusOK, StatusResponse{
			TenantId:      tenantId,
			Configured:    true,
			Enabled:       enabled,
			Modules:       DecodeModules(cfg.ModulesJSON),
			SyncFrequency: cfg.SyncFrequency,
			LastSyncAt:    formatTime(cfg.LastSyncAt),
			NextSyncAt:    formatTime(cfg.NextSyncAt),
		})
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
