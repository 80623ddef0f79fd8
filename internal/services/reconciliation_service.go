package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pushbeam/pushbeam/internal/models"
	apperrors "github.com/pushbeam/pushbeam/pkg/errors"
	"github.com/pushbeam/pushbeam/pkg/logger"
)

// unacknowledgedStatuses are the record states a client has not confirmed yet.
// Sent is included: a gateway accept says nothing about the device having
// displayed the notification.
var unacknowledgedStatuses = []models.RecordStatus{
	models.StatusPending,
	models.StatusSent,
	models.StatusFailed,
}

// ReconciliationConfig bounds the missed-notification queries.
type ReconciliationConfig struct {
	// LookbackDays caps how far back missed notifications are surfaced.
	LookbackDays int
	// DefaultLimit applies when the caller does not supply a limit.
	DefaultLimit int
	// MaxLimit caps the caller-supplied limit.
	MaxLimit int
}

func (c ReconciliationConfig) withDefaults() ReconciliationConfig {
	if c.LookbackDays <= 0 {
		c.LookbackDays = 7
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 50
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = 200
	}
	return c
}

// MissedNotification is the client-facing shape of an undelivered record.
type MissedNotification struct {
	ID            uint                `json:"id"`
	CorrelationID string              `json:"correlation_id,omitempty"`
	Title         string              `json:"title"`
	Body          string              `json:"body"`
	Payload       map[string]any      `json:"payload,omitempty"`
	Priority      models.Priority     `json:"priority"`
	Status        models.RecordStatus `json:"status"`
	CreatedAt     time.Time           `json:"created_at"`
	ExpiresAt     *time.Time          `json:"expires_at,omitempty"`
}

// ReconciliationService lets returning devices pull the notifications they
// missed and confirm the ones they displayed.
type ReconciliationService struct {
	db      *gorm.DB
	devices *DeviceService
	cfg     ReconciliationConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewReconciliationService constructs a ReconciliationService.
func NewReconciliationService(db *gorm.DB, devices *DeviceService, cfg ReconciliationConfig) (*ReconciliationService, error) {
	if db == nil {
		return nil, errors.New("reconciliation service: db is required")
	}
	if devices == nil {
		return nil, errors.New("reconciliation service: device service is required")
	}
	return &ReconciliationService{
		db:      db,
		devices: devices,
		cfg:     cfg.withDefaults(),
		logger:  logger.WithModule("reconciliation"),
		now:     time.Now,
	}, nil
}

// WithNow overrides the service clock, primarily for tests.
func (s *ReconciliationService) WithNow(now func() time.Time) *ReconciliationService {
	if now != nil {
		s.now = now
	}
	return s
}

// GetMissed returns the recipient's unacknowledged, not-yet-expired records
// within the lookback window, newest first. Expiry is a query-time predicate;
// expired rows are simply never surfaced.
func (s *ReconciliationService) GetMissed(ctx context.Context, recipient string, limit int) ([]MissedNotification, error) {
	ctx = ensureContext(ctx)

	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return nil, apperrors.NewBadRequest("recipient is required")
	}

	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}

	now := s.now().UTC()
	since := now.AddDate(0, 0, -s.cfg.LookbackDays)

	var rows []models.NotificationRecord
	if err := s.db.WithContext(ctx).
		Where("recipient = ? AND status IN ? AND expires_at > ? AND created_at >= ?",
			recipient, unacknowledgedStatuses, now, since).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("reconciliation service: list missed: %w", err)
	}

	out := make([]MissedNotification, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapMissedNotification(row))
	}
	return out, nil
}

// Acknowledge marks one record delivered on behalf of its recipient. The
// returned flag is false when nothing matched: unknown id, a record owned by
// someone else, or a record already acknowledged. A second acknowledge of the
// same id therefore reports false.
func (s *ReconciliationService) Acknowledge(ctx context.Context, id uint, recipient string) (bool, error) {
	ctx = ensureContext(ctx)

	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return false, apperrors.NewBadRequest("recipient is required")
	}

	now := s.now().UTC()
	result := s.db.WithContext(ctx).Model(&models.NotificationRecord{}).
		Where("id = ? AND recipient = ? AND status IN ?", id, recipient, unacknowledgedStatuses).
		Updates(map[string]any{
			"status":           models.StatusDelivered,
			"delivery_outcome": models.OutcomeOnline,
			"delivered_at":     now,
			"read_at":          now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("reconciliation service: acknowledge: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// AcknowledgeAll marks a batch of the recipient's records delivered. With
// explicit ids the update is restricted to that set; without, every
// unacknowledged record the recipient owns. Zero rows affected is normal.
func (s *ReconciliationService) AcknowledgeAll(ctx context.Context, recipient string, ids []uint) (int64, error) {
	ctx = ensureContext(ctx)

	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return 0, apperrors.NewBadRequest("recipient is required")
	}

	query := s.db.WithContext(ctx).Model(&models.NotificationRecord{}).
		Where("recipient = ? AND status IN ?", recipient, unacknowledgedStatuses)
	if len(ids) > 0 {
		query = query.Where("id IN ?", ids)
	}

	now := s.now().UTC()
	result := query.Updates(map[string]any{
		"status":           models.StatusDelivered,
		"delivery_outcome": models.OutcomeOnline,
		"delivered_at":     now,
		"read_at":          now,
	})
	if result.Error != nil {
		return 0, fmt.Errorf("reconciliation service: acknowledge all: %w", result.Error)
	}

	s.logger.Debug("bulk acknowledge",
		zap.String("recipient", recipient),
		zap.Int("requested", len(ids)),
		zap.Int64("acknowledged", result.RowsAffected),
	)
	return result.RowsAffected, nil
}

// TouchDevice is the single "I'm back online" entry point: it records a
// heartbeat for the device, then returns what the recipient missed.
func (s *ReconciliationService) TouchDevice(ctx context.Context, token, recipient string, limit int) ([]MissedNotification, error) {
	ctx = ensureContext(ctx)

	if err := s.devices.TouchLastSeen(ctx, token, recipient); err != nil {
		return nil, err
	}
	return s.GetMissed(ctx, recipient, limit)
}

func mapMissedNotification(row models.NotificationRecord) MissedNotification {
	out := MissedNotification{
		ID:            row.ID,
		CorrelationID: row.CorrelationID,
		Title:         row.Title,
		Body:          row.Body,
		Priority:      row.Priority,
		Status:        row.Status,
		CreatedAt:     row.CreatedAt,
		ExpiresAt:     row.ExpiresAt,
	}

	if len(row.Payload) > 0 {
		var payload map[string]any
		if err := json.Unmarshal(row.Payload, &payload); err == nil {
			out.Payload = payload
		}
	}
	return out
}
