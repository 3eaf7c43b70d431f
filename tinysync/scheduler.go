package tinysync

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/lumeara/dre_backend/config"
	"github.com/lumeara/dre_backend/models"
)

// Scheduler periodically finds tenants whose sync is due and runs them.
// A tenant is due when its integration is enabled and nextSyncAt is
// unset or in the past. Both lastSyncAt and nextSyncAt advance after
// every attempt so a persistently failing tenant cannot wedge the loop.
type Scheduler struct {
	DB           *gorm.DB
	Clock        func() time.Time
	PollInterval time.Duration
	// Run is swappable in tests, nil means SyncTenant.
	Run func(ctx context.Context, db *gorm.DB, opts SyncOptions) (*SyncSummary, error)
}

func NewScheduler(db *gorm.DB, pollInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Minute
	}
	return &Scheduler{
		DB:           db,
		Clock:        time.Now,
		PollInterval: pollInterval,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	logger := config.GetLogger()
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			config.LogError(logger, "tinysync", "Start", "scheduler cycle failed", nil, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunCycle syncs every due tenant once. Tenants run concurrently and
// independently, guarded by a per-tenant redis lock so overlapping
// deployments never double-sync the same tenant.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	now := s.Clock().UTC()

	var configs []models.TinyIntegrationConfig
	err := s.DB.WithContext(ctx).
		Where("enabled = ?", true).
		Where("next_sync_at IS NULL OR next_sync_at <= ?", now).
		Find(&configs).Error
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(4)
	for _, cfg := range configs {
		cfg := cfg
		group.Go(func() error {
			if groupCtx.Err() != nil {
				return groupCtx.Err()
			}
			s.syncOne(groupCtx, cfg, now)
			return nil
		})
	}
	return group.Wait()
}

func (s *Scheduler) syncOne(ctx context.Context, cfg models.TinyIntegrationConfig, now time.Time) {
	logger := config.GetLogger()

	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, "tiny-sync:"+cfg.TenantId, 10*time.Minute, nil)
		if err != nil {
			if !errors.Is(err, redislock.ErrNotObtained) {
				config.LogError(logger, "tinysync", "syncOne", "lock error for tenant "+cfg.TenantId, nil, err)
			}
			return
		}
		defer lock.Release(context.Background())
	}

	opts := SyncOptions{
		TenantId: cfg.TenantId,
		Token:    cfg.Token,
		Modules:  DecodeModules(cfg.ModulesJSON),
	}
	if cfg.LastSyncAt != nil {
		opts.UpdateFrom = cfg.LastSyncAt.UTC().Format("2006-01-02")
	}

	run := s.Run
	if run == nil {
		run = SyncTenant
	}
	if _, err := run(ctx, s.DB, opts); err != nil {
		config.LogError(logger, "tinysync", "syncOne", "sync failed for tenant "+cfg.TenantId, nil, err)
	}

	// advance the window whether the run succeeded or not
	if err := markSynced(ctx, s.DB, cfg.TenantId, cfg.SyncFrequency, now); err != nil {
		config.LogError(logger, "tinysync", "syncOne", "failed to advance sync window for tenant "+cfg.TenantId, nil, err)
	}
}

// markSynced stamps lastSyncAt and recomputes nextSyncAt for a tenant.
// Manual syncs call it too, so the scheduler does not re-pull a window
// that was just synced by hand.
func markSynced(ctx context.Context, db *gorm.DB, tenantId string, frequency int, now time.Time) error {
	return db.WithContext(ctx).Model(&models.TinyIntegrationConfig{}).
		Where("tenant_id = ?", tenantId).
		Updates(map[string]interface{}{
			"last_sync_at": now,
			"next_sync_at": ComputeNextSync(frequency, now),
		}).Error
}
