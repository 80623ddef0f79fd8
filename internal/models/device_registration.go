package models

import "time"

// Platform identifies the client platform a device token belongs to.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

// Valid reports whether the platform is one of the supported values.
func (p Platform) Valid() bool {
	switch p {
	case PlatformIOS, PlatformAndroid, PlatformWeb:
		return true
	}
	return false
}

// DeviceRegistration is one push-capable app installation owned by a recipient.
// The gateway-assigned token is globally unique: re-registering an existing
// token re-associates it rather than creating a second row.
type DeviceRegistration struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Recipient  string     `gorm:"type:varchar(255);not null;index" json:"recipient"`
	Token      string     `gorm:"column:device_token;type:varchar(512);not null;uniqueIndex" json:"device_token"`
	Platform   Platform   `gorm:"type:varchar(16);not null" json:"platform"`
	Active     bool       `gorm:"default:true;index" json:"active"`
	LastSeen   *time.Time `gorm:"index" json:"last_seen"`
	AppVersion string     `gorm:"type:varchar(64)" json:"app_version,omitempty"`
}
