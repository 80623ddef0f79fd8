package models

import (
	"time"

	"gorm.io/datatypes"
)

// RecordStatus tracks a notification record through its delivery lifecycle.
// Transitions are monotonic: pending -> sent|failed -> delivered.
type RecordStatus string

const (
	StatusPending   RecordStatus = "pending"
	StatusSent      RecordStatus = "sent"
	StatusDelivered RecordStatus = "delivered"
	StatusFailed    RecordStatus = "failed"
)

// DeliveryOutcome records what the gateway call implied about device reachability.
type DeliveryOutcome string

const (
	OutcomeOnline  DeliveryOutcome = "online"
	OutcomeOffline DeliveryOutcome = "offline"
	OutcomeUnknown DeliveryOutcome = "unknown"
)

// Priority selects the gateway delivery hints for a notification.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Valid reports whether the priority is one of the supported values.
func (p Priority) Valid() bool {
	return p == PriorityNormal || p == PriorityHigh
}

// NotificationRecord is one delivery attempt towards one device. Exactly one
// row exists per (dispatch x resolved device); the row is created in pending
// status before the gateway call so a crash mid-dispatch never loses the
// intent to notify an already-chosen device.
type NotificationRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CorrelationID string `gorm:"type:varchar(64);index" json:"correlation_id,omitempty"`
	Recipient     string `gorm:"type:varchar(255);not null;index:idx_notification_records_recipient_status,priority:1" json:"recipient"`
	Token         string `gorm:"column:device_token;type:varchar(512);not null" json:"device_token"`

	Title    string         `gorm:"type:varchar(255);not null" json:"title"`
	Body     string         `gorm:"type:text;not null" json:"body"`
	Payload  datatypes.JSON `json:"payload,omitempty"`
	Priority Priority       `gorm:"type:varchar(16);default:'normal'" json:"priority"`

	Status           RecordStatus    `gorm:"type:varchar(16);not null;default:'pending';index;index:idx_notification_records_recipient_status,priority:2" json:"status"`
	DeliveryOutcome  DeliveryOutcome `gorm:"type:varchar(16);not null;default:'unknown'" json:"delivery_outcome"`
	GatewayMessageID string          `gorm:"type:varchar(255)" json:"gateway_message_id,omitempty"`
	ErrorDetail      string          `gorm:"type:text" json:"error_detail,omitempty"`

	SentAt      *time.Time `json:"sent_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	ExpiresAt   *time.Time `gorm:"index" json:"expires_at,omitempty"`
}
