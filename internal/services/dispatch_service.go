package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pushbeam/pushbeam/internal/gateway"
	"github.com/pushbeam/pushbeam/internal/models"
	apperrors "github.com/pushbeam/pushbeam/pkg/errors"
	"github.com/pushbeam/pushbeam/pkg/logger"
	"github.com/pushbeam/pushbeam/pkg/metrics"
)

// DispatchConfig bounds the work a single dispatch performs.
type DispatchConfig struct {
	// BatchSize caps how many devices are attempted concurrently. The default
	// matches the FCM multicast limit.
	BatchSize int
	// SendTimeout bounds each individual gateway call.
	SendTimeout time.Duration
	// DefaultTTL applies when the caller does not supply a ttl.
	DefaultTTL time.Duration
}

func (c DispatchConfig) withDefaults() DispatchConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 24 * time.Hour
	}
	return c
}

// DispatchInput describes one notification fan-out request.
type DispatchInput struct {
	Recipients    []string
	Title         string
	Body          string
	Data          map[string]any
	Priority      models.Priority
	TTLSeconds    *int64
	CorrelationID string
}

// DeviceResult is the outcome of one device attempt. Exactly one of the
// success and error halves is populated.
type DeviceResult struct {
	RecordID     uint              `json:"record_id"`
	Recipient    string            `json:"recipient"`
	Token        string            `json:"device_token"`
	Success      bool              `json:"success"`
	MessageID    string            `json:"message_id,omitempty"`
	ErrorCode    gateway.ErrorCode `json:"error_code,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
}

// DispatchResult aggregates the per-device outcomes of one dispatch.
type DispatchResult struct {
	CorrelationID string         `json:"correlation_id"`
	TotalTargets  int            `json:"total_targets"`
	TotalSent     int            `json:"total_sent"`
	TotalFailed   int            `json:"total_failed"`
	Results       []DeviceResult `json:"results"`
}

// DispatchService fans a notification out to every active device of the
// requested recipients, records one NotificationRecord per device and feeds
// permanently-dead tokens back into the registry.
type DispatchService struct {
	db      *gorm.DB
	devices *DeviceService
	gateway gateway.Gateway
	cfg     DispatchConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewDispatchService constructs a DispatchService.
func NewDispatchService(db *gorm.DB, devices *DeviceService, gw gateway.Gateway, cfg DispatchConfig) (*DispatchService, error) {
	if db == nil {
		return nil, errors.New("dispatch service: db is required")
	}
	if devices == nil {
		return nil, errors.New("dispatch service: device service is required")
	}
	if gw == nil {
		return nil, errors.New("dispatch service: gateway is required")
	}
	return &DispatchService{
		db:      db,
		devices: devices,
		gateway: gw,
		cfg:     cfg.withDefaults(),
		logger:  logger.WithModule("dispatch"),
		now:     time.Now,
	}, nil
}

// WithNow overrides the service clock, primarily for tests.
func (s *DispatchService) WithNow(now func() time.Time) *DispatchService {
	if now != nil {
		s.now = now
	}
	return s
}

// Dispatch validates the request, resolves target devices, persists one
// pending record per device, then attempts delivery in bounded batches.
// Per-device failures are reported in the result, not as errors; only
// validation and storage failures abort the call.
func (s *DispatchService) Dispatch(ctx context.Context, input DispatchInput) (*DispatchResult, error) {
	ctx = ensureContext(ctx)

	recipients := normaliseValues(input.Recipients)
	if err := validateDispatch(recipients, input); err != nil {
		metrics.DispatchRequests.WithLabelValues("rejected").Inc()
		return nil, err
	}

	priority := input.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}

	ttl := s.cfg.DefaultTTL
	if input.TTLSeconds != nil {
		ttl = time.Duration(*input.TTLSeconds) * time.Second
	}

	correlationID := strings.TrimSpace(input.CorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	targets, err := s.devices.ListActiveTokens(ctx, recipients)
	if err != nil {
		return nil, fmt.Errorf("dispatch service: resolve targets: %w", err)
	}
	if len(targets) == 0 {
		metrics.DispatchRequests.WithLabelValues("zero_targets").Inc()
		s.logger.Info("dispatch resolved no targets",
			zap.String("correlation_id", correlationID),
			zap.Int("recipients", len(recipients)),
		)
		return &DispatchResult{CorrelationID: correlationID}, nil
	}

	records, err := s.createPendingRecords(ctx, targets, input, priority, ttl, correlationID)
	if err != nil {
		return nil, err
	}

	data := stringifyPayload(input.Data)
	result := &DispatchResult{
		CorrelationID: correlationID,
		TotalTargets:  len(records),
		Results:       make([]DeviceResult, 0, len(records)),
	}
	deadTokens := make(map[string]struct{})

	for start := 0; start < len(records); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(records) {
			end = len(records)
		}

		outcomes := s.sendBatch(ctx, records[start:end], data, priority, ttl)
		if err := s.persistOutcomes(ctx, records[start:end], outcomes); err != nil {
			return nil, err
		}

		for _, outcome := range outcomes {
			if outcome.Success {
				result.TotalSent++
				metrics.DeviceSends.WithLabelValues("sent").Inc()
			} else {
				result.TotalFailed++
				metrics.DeviceSends.WithLabelValues("failed").Inc()
				metrics.SendFailures.WithLabelValues(string(outcome.ErrorCode)).Inc()
				if outcome.ErrorCode.Permanent() {
					deadTokens[outcome.Token] = struct{}{}
				}
			}
			result.Results = append(result.Results, outcome)
		}
	}

	if len(deadTokens) > 0 {
		tokens := make([]string, 0, len(deadTokens))
		for token := range deadTokens {
			tokens = append(tokens, token)
		}
		deactivated, err := s.devices.Deactivate(ctx, tokens)
		if err != nil {
			return nil, fmt.Errorf("dispatch service: deactivate dead tokens: %w", err)
		}
		metrics.TokensDeactivated.WithLabelValues("gateway").Add(float64(deactivated))
	}

	metrics.DispatchRequests.WithLabelValues("completed").Inc()
	s.logger.Info("dispatch completed",
		zap.String("correlation_id", correlationID),
		zap.Int("targets", result.TotalTargets),
		zap.Int("sent", result.TotalSent),
		zap.Int("failed", result.TotalFailed),
		zap.Int("deactivated_tokens", len(deadTokens)),
	)

	return result, nil
}

func validateDispatch(recipients []string, input DispatchInput) error {
	if len(recipients) == 0 {
		return apperrors.NewBadRequest("at least one recipient is required")
	}
	if strings.TrimSpace(input.Title) == "" {
		return apperrors.NewBadRequest("title is required")
	}
	if strings.TrimSpace(input.Body) == "" {
		return apperrors.NewBadRequest("body is required")
	}
	if input.Priority != "" && !input.Priority.Valid() {
		return apperrors.NewBadRequest("priority must be one of normal, high")
	}
	if input.TTLSeconds != nil && *input.TTLSeconds < 0 {
		return apperrors.NewBadRequest("ttl must not be negative")
	}
	return nil
}

// createPendingRecords persists one pending row per target device in a single
// transaction before any gateway call is attempted, so a crash mid-dispatch
// never loses the intent to notify an already-chosen device.
func (s *DispatchService) createPendingRecords(ctx context.Context, targets []models.DeviceRegistration, input DispatchInput, priority models.Priority, ttl time.Duration, correlationID string) ([]models.NotificationRecord, error) {
	var payload datatypes.JSON
	if len(input.Data) > 0 {
		encoded, err := json.Marshal(input.Data)
		if err != nil {
			return nil, apperrors.NewBadRequest("payload is not serialisable").WithInternal(err)
		}
		payload = datatypes.JSON(encoded)
	}

	now := s.now().UTC()
	expiresAt := now.Add(ttl)

	records := make([]models.NotificationRecord, len(targets))
	for i, target := range targets {
		records[i] = models.NotificationRecord{
			CorrelationID:   correlationID,
			Recipient:       target.Recipient,
			Token:           target.Token,
			Title:           strings.TrimSpace(input.Title),
			Body:            input.Body,
			Payload:         payload,
			Priority:        priority,
			Status:          models.StatusPending,
			DeliveryOutcome: models.OutcomeUnknown,
			ExpiresAt:       &expiresAt,
		}
	}

	if err := s.db.WithContext(ctx).Create(&records).Error; err != nil {
		return nil, fmt.Errorf("dispatch service: create pending records: %w", err)
	}
	return records, nil
}

// sendBatch attempts every record of one batch concurrently, each attempt
// bounded by the configured send timeout. Outcomes come back in record order.
func (s *DispatchService) sendBatch(ctx context.Context, batch []models.NotificationRecord, data map[string]string, priority models.Priority, ttl time.Duration) []DeviceResult {
	outcomes := make([]DeviceResult, len(batch))

	var wg sync.WaitGroup
	for i := range batch {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = s.sendOne(ctx, batch[i], data, priority, ttl)
		}(i)
	}
	wg.Wait()

	return outcomes
}

func (s *DispatchService) sendOne(ctx context.Context, record models.NotificationRecord, data map[string]string, priority models.Priority, ttl time.Duration) DeviceResult {
	outcome := DeviceResult{
		RecordID:  record.ID,
		Recipient: record.Recipient,
		Token:     record.Token,
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	messageID, err := s.gateway.Send(sendCtx, gateway.Message{
		Token:    record.Token,
		Title:    record.Title,
		Body:     record.Body,
		Data:     data,
		Priority: priority,
		TTL:      ttl,
	})
	if err != nil {
		var sendErr *gateway.SendError
		if !errors.As(err, &sendErr) {
			sendErr = &gateway.SendError{Code: gateway.CodeUnknown, Message: err.Error()}
		}
		outcome.ErrorCode = sendErr.Code
		outcome.ErrorMessage = sendErr.Message
		return outcome
	}

	outcome.Success = true
	outcome.MessageID = messageID
	return outcome
}

// persistOutcomes applies one batch worth of outcomes. Successful sends go to
// sent/online with a sent_at stamp; failures go to failed/offline with the
// classified error recorded. The pending rows written before the batch remain
// authoritative if this update fails, preserving at-least-once delivery.
func (s *DispatchService) persistOutcomes(ctx context.Context, batch []models.NotificationRecord, outcomes []DeviceResult) error {
	now := s.now().UTC()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range batch {
			outcome := outcomes[i]

			updates := map[string]any{}
			if outcome.Success {
				updates["status"] = models.StatusSent
				updates["delivery_outcome"] = models.OutcomeOnline
				updates["gateway_message_id"] = outcome.MessageID
				updates["sent_at"] = now
			} else {
				updates["status"] = models.StatusFailed
				updates["delivery_outcome"] = models.OutcomeOffline
				updates["error_detail"] = fmt.Sprintf("%s: %s", outcome.ErrorCode, outcome.ErrorMessage)
			}

			if err := tx.Model(&models.NotificationRecord{}).
				Where("id = ? AND status = ?", batch[i].ID, models.StatusPending).
				Updates(updates).Error; err != nil {
				return fmt.Errorf("dispatch service: persist outcome: %w", err)
			}
		}
		return nil
	})
}
