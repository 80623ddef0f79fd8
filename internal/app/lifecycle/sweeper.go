package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pushbeam/pushbeam/internal/models"
	"github.com/pushbeam/pushbeam/pkg/logger"
	"github.com/pushbeam/pushbeam/pkg/metrics"
)

const (
	defaultDaysInactive   = 7
	defaultPurgeGraceDays = 7
	defaultDeviceSpec     = "@daily"
	defaultExpirySpec     = "@daily"
)

// Sweeper runs the scheduled hygiene jobs: deactivating and eventually purging
// device registrations that stopped reporting in, and deleting notification
// records past their expiry.
type Sweeper struct {
	db   *gorm.DB
	cron *cron.Cron
	now  func() time.Time
	log  *zap.Logger

	daysInactive   int
	purgeGraceDays int
	deviceSchedule string
	expirySchedule string
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used for staleness comparisons.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDaysInactive adjusts how long a device may stay silent before deactivation.
func WithDaysInactive(days int) Option {
	return func(s *Sweeper) {
		if days > 0 {
			s.daysInactive = days
		}
	}
}

// WithPurgeGraceDays adjusts the extra window an inactive device is kept before deletion.
func WithPurgeGraceDays(days int) Option {
	return func(s *Sweeper) {
		if days > 0 {
			s.purgeGraceDays = days
		}
	}
}

// WithDeviceSchedule overrides the cron specification for the device sweep.
func WithDeviceSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.deviceSchedule = spec
		}
	}
}

// WithExpirySchedule overrides the cron specification for the record expiry sweep.
func WithExpirySchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.expirySchedule = spec
		}
	}
}

// NewSweeper constructs a Sweeper with daily schedules and the default
// 7 day inactivity and grace windows.
func NewSweeper(db *gorm.DB, opts ...Option) (*Sweeper, error) {
	if db == nil {
		return nil, errors.New("sweeper: db is required")
	}

	s := &Sweeper{
		db:             db,
		now:            time.Now,
		log:            logger.WithModule("lifecycle"),
		daysInactive:   defaultDaysInactive,
		purgeGraceDays: defaultPurgeGraceDays,
		deviceSchedule: defaultDeviceSpec,
		expirySchedule: defaultExpirySpec,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return s, nil
}

// Start registers both sweeps with the scheduler and launches it.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.deviceSchedule, func() {
		if _, err := s.SweepDevices(context.Background()); err != nil {
			s.log.Warn("device sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(s.expirySchedule, func() {
		if _, err := s.SweepExpiredRecords(context.Background()); err != nil {
			s.log.Warn("record expiry sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any running sweep to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes both sweeps sequentially. Used in tests and during
// graceful shutdown.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if _, err := s.SweepDevices(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := s.SweepExpiredRecords(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// DeviceSweepStats captures the effect of one device sweep.
type DeviceSweepStats struct {
	Deactivated int64
	Purged      int64
}

// SweepDevices deactivates registrations that have not reported in within the
// inactivity window, then deletes registrations that stayed inactive through
// the grace window on top of it. Devices that never reported a heartbeat are
// treated as stale. Both phases are keyed writes, so repeating the sweep is
// harmless.
func (s *Sweeper) SweepDevices(ctx context.Context) (DeviceSweepStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	stats := DeviceSweepStats{}
	now := s.now().UTC()

	staleCutoff := now.AddDate(0, 0, -s.daysInactive)
	result := s.db.WithContext(ctx).Model(&models.DeviceRegistration{}).
		Where("active = ? AND (last_seen < ? OR last_seen IS NULL)", true, staleCutoff).
		Update("active", false)
	if result.Error != nil {
		return stats, fmt.Errorf("sweeper: deactivate stale devices: %w", result.Error)
	}
	stats.Deactivated = result.RowsAffected
	metrics.TokensDeactivated.WithLabelValues("sweep").Add(float64(result.RowsAffected))

	purgeCutoff := now.AddDate(0, 0, -(s.daysInactive + s.purgeGraceDays))
	result = s.db.WithContext(ctx).
		Where("active = ? AND (last_seen < ? OR last_seen IS NULL)", false, purgeCutoff).
		Delete(&models.DeviceRegistration{})
	if result.Error != nil {
		return stats, fmt.Errorf("sweeper: purge inactive devices: %w", result.Error)
	}
	stats.Purged = result.RowsAffected

	if stats.Deactivated > 0 || stats.Purged > 0 {
		s.log.Info("device sweep completed",
			zap.Int64("deactivated", stats.Deactivated),
			zap.Int64("purged", stats.Purged),
		)
	}
	return stats, nil
}

// SweepExpiredRecords deletes notification records whose expiry has passed,
// whatever their status.
func (s *Sweeper) SweepExpiredRecords(ctx context.Context) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now().UTC()
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.NotificationRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("sweeper: delete expired records: %w", result.Error)
	}

	metrics.RecordsExpired.Add(float64(result.RowsAffected))
	if result.RowsAffected > 0 {
		s.log.Info("record expiry sweep completed", zap.Int64("deleted", result.RowsAffected))
	}
	return result.RowsAffected, nil
}
