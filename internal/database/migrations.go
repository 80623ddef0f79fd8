package database

import (
	"gorm.io/gorm"

	"github.com/pushbeam/pushbeam/internal/models"
)

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.DeviceRegistration{},
		&models.NotificationRecord{},
	)
}
