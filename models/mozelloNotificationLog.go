package models

import (
	"time"

	"gorm.io/gorm"
)

// notificationLogKeep bounds the rolling diagnostics log; older entries are
// trimmed on every append.
const notificationLogKeep = 100

// MozelloNotificationLog is one accepted webhook delivery, kept for admin
// diagnostics when payload logging is switched on in MozelloSettings.
type MozelloNotificationLog struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Event     string    `gorm:"size:50" json:"event"`
	Payload   []byte    `gorm:"type:json" json:"payload"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// AddNotificationLog appends a delivery and trims entries beyond the rolling
// window.
func AddNotificationLog(db *gorm.DB, event string, payload []byte) error {
	entry := &MozelloNotificationLog{Event: event, Payload: payload}
	if err := db.Create(entry).Error; err != nil {
		return err
	}

	// Delete by cutoff id rather than a LIMIT subquery, which mysql rejects.
	var cutoff *int
	err := db.Model(&MozelloNotificationLog{}).
		Select("id").
		Order("id desc").
		Offset(notificationLogKeep).
		Limit(1).
		Scan(&cutoff).Error
	if err != nil || cutoff == nil {
		return err
	}
	return db.Where("id <= ?", *cutoff).Delete(&MozelloNotificationLog{}).Error
}

// ListNotificationLogs returns the newest entries first.
func ListNotificationLogs(db *gorm.DB, limit int) ([]MozelloNotificationLog, error) {
	if limit <= 0 || limit > notificationLogKeep {
		limit = notificationLogKeep
	}
	var entries []MozelloNotificationLog
	if err := db.Order("id desc").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
