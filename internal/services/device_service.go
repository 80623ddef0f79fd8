package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/pushbeam/pushbeam/internal/models"
	apperrors "github.com/pushbeam/pushbeam/pkg/errors"
)

// RegisterDeviceInput defines attributes required to register a device token.
type RegisterDeviceInput struct {
	Recipient  string
	Token      string
	Platform   models.Platform
	AppVersion string
}

// DeviceService manages the registry of push-capable devices. Tokens are
// globally unique: registering a token already owned by another recipient
// re-associates it instead of duplicating it.
type DeviceService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDeviceService constructs a DeviceService.
func NewDeviceService(db *gorm.DB) (*DeviceService, error) {
	if db == nil {
		return nil, errors.New("device service: db is required")
	}
	return &DeviceService{db: db, now: time.Now}, nil
}

// WithNow overrides the service clock, primarily for tests.
func (s *DeviceService) WithNow(now func() time.Time) *DeviceService {
	if now != nil {
		s.now = now
	}
	return s
}

// Register stores or refreshes a device registration. The returned flag is
// true when a new row was created. Re-registration of a known token updates
// ownership and platform, reactivates the device and stamps last_seen, so the
// operation is idempotent from the caller's point of view.
func (s *DeviceService) Register(ctx context.Context, input RegisterDeviceInput) (*models.DeviceRegistration, bool, error) {
	ctx = ensureContext(ctx)

	recipient := strings.TrimSpace(input.Recipient)
	if recipient == "" {
		return nil, false, apperrors.NewBadRequest("recipient is required")
	}
	token := strings.TrimSpace(input.Token)
	if token == "" {
		return nil, false, apperrors.NewBadRequest("device token is required")
	}
	if !input.Platform.Valid() {
		return nil, false, apperrors.NewBadRequest("platform must be one of ios, android, web")
	}

	now := s.now().UTC()
	appVersion := strings.TrimSpace(input.AppVersion)

	var device models.DeviceRegistration
	created := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("device_token = ?", token).First(&device).Error
		switch {
		case err == nil:
			return refreshRegistration(tx, &device, recipient, input.Platform, appVersion, now)
		case errors.Is(err, gorm.ErrRecordNotFound):
			device = models.DeviceRegistration{
				Recipient:  recipient,
				Token:      token,
				Platform:   input.Platform,
				Active:     true,
				LastSeen:   &now,
				AppVersion: appVersion,
			}
			if createErr := tx.Create(&device).Error; createErr != nil {
				if isUniqueConstraintError(createErr) {
					// Lost a race with a concurrent registration of the same token.
					if err := tx.Where("device_token = ?", token).First(&device).Error; err != nil {
						return fmt.Errorf("device service: reload registration: %w", err)
					}
					return refreshRegistration(tx, &device, recipient, input.Platform, appVersion, now)
				}
				return fmt.Errorf("device service: create registration: %w", createErr)
			}
			created = true
			return nil
		default:
			return fmt.Errorf("device service: load registration: %w", err)
		}
	})
	if err != nil {
		return nil, false, err
	}

	return &device, created, nil
}

func refreshRegistration(tx *gorm.DB, device *models.DeviceRegistration, recipient string, platform models.Platform, appVersion string, now time.Time) error {
	updates := map[string]any{
		"recipient": recipient,
		"platform":  platform,
		"active":    true,
		"last_seen": now,
	}
	if appVersion != "" {
		updates["app_version"] = appVersion
	}

	if err := tx.Model(device).Updates(updates).Error; err != nil {
		return fmt.Errorf("device service: refresh registration: %w", err)
	}

	device.Recipient = recipient
	device.Platform = platform
	device.Active = true
	device.LastSeen = &now
	if appVersion != "" {
		device.AppVersion = appVersion
	}
	return nil
}

// ListActiveTokens returns the active registrations for a set of recipients.
// An empty result is normal and not an error.
func (s *DeviceService) ListActiveTokens(ctx context.Context, recipients []string) ([]models.DeviceRegistration, error) {
	ctx = ensureContext(ctx)

	recipients = normaliseValues(recipients)
	if len(recipients) == 0 {
		return nil, nil
	}

	var rows []models.DeviceRegistration
	if err := s.db.WithContext(ctx).
		Where("recipient IN ? AND active = ?", recipients, true).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("device service: list active tokens: %w", err)
	}
	return rows, nil
}

// ListForRecipient returns the caller's active devices, most recently seen first.
func (s *DeviceService) ListForRecipient(ctx context.Context, recipient string) ([]models.DeviceRegistration, error) {
	ctx = ensureContext(ctx)

	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return nil, apperrors.NewBadRequest("recipient is required")
	}

	var rows []models.DeviceRegistration
	if err := s.db.WithContext(ctx).
		Where("recipient = ? AND active = ?", recipient, true).
		Order("last_seen DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("device service: list devices: %w", err)
	}
	return rows, nil
}

// TouchLastSeen records a heartbeat for a device. A returning device is live
// by definition, so the touch also reactivates it. Unknown tokens are a no-op.
func (s *DeviceService) TouchLastSeen(ctx context.Context, token, recipient string) error {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}

	now := s.now().UTC()
	query := s.db.WithContext(ctx).Model(&models.DeviceRegistration{}).
		Where("device_token = ?", token)
	if recipient = strings.TrimSpace(recipient); recipient != "" {
		query = query.Where("recipient = ?", recipient)
	}

	if err := query.Updates(map[string]any{
		"last_seen": now,
		"active":    true,
	}).Error; err != nil {
		return fmt.Errorf("device service: touch last seen: %w", err)
	}
	return nil
}

// Deactivate marks the supplied tokens inactive in a single statement.
// Unknown tokens are silently ignored. Returns the number of rows changed.
func (s *DeviceService) Deactivate(ctx context.Context, tokens []string) (int64, error) {
	ctx = ensureContext(ctx)

	tokens = normaliseValues(tokens)
	if len(tokens) == 0 {
		return 0, nil
	}

	result := s.db.WithContext(ctx).Model(&models.DeviceRegistration{}).
		Where("device_token IN ? AND active = ?", tokens, true).
		Update("active", false)
	if result.Error != nil {
		return 0, fmt.Errorf("device service: deactivate tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Unregister deactivates a device owned by the supplied recipient.
func (s *DeviceService) Unregister(ctx context.Context, token, recipient string) error {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return apperrors.NewBadRequest("device token is required")
	}

	result := s.db.WithContext(ctx).Model(&models.DeviceRegistration{}).
		Where("device_token = ? AND recipient = ?", token, strings.TrimSpace(recipient)).
		Update("active", false)
	if result.Error != nil {
		return fmt.Errorf("device service: unregister: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
