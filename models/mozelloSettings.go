package models

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

// AllowedMozelloEvents are the webhook event kinds the platform can be asked
// to deliver. Only PAYMENT_CHANGED mutates local state; the rest are
// accepted and ignored for forward compatibility.
var AllowedMozelloEvents = []string{
	"ORDER_CREATED",
	"ORDER_DELETED",
	"PAYMENT_CHANGED",
	"DISPATCH_CHANGED",
	"PRODUCT_CHANGED",
	"PRODUCT_DELETED",
	"STOCK_CHANGED",
}

// MozelloSettings is a single-row table (id=1) storing webhook subscription
// preferences. The API key itself lives in configuration, not here.
type MozelloSettings struct {
	ID                  int       `gorm:"primary_key" json:"id"`
	NotificationsWanted []byte    `gorm:"type:json" json:"notifications_wanted"`
	ForcedPort          string    `gorm:"size:10" json:"forced_port"`
	LogPayloads         bool      `gorm:"default:false" json:"log_payloads"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *MozelloSettings) EventsList() []string {
	if len(s.NotificationsWanted) == 0 {
		return []string{}
	}
	var events []string
	if err := json.Unmarshal(s.NotificationsWanted, &events); err != nil {
		return []string{}
	}
	return events
}

func (s *MozelloSettings) SetEvents(events []string) {
	allowed := make(map[string]struct{}, len(AllowedMozelloEvents))
	for _, e := range AllowedMozelloEvents {
		allowed[e] = struct{}{}
	}
	cleaned := make([]string, 0, len(events))
	for _, e := range events {
		if _, ok := allowed[e]; ok {
			cleaned = append(cleaned, e)
		}
	}
	b, _ := json.Marshal(cleaned)
	s.NotificationsWanted = b
}

// GetMozelloSettings fetches the singleton row, creating it on first use.
func GetMozelloSettings(db *gorm.DB) (*MozelloSettings, error) {
	var settings MozelloSettings
	err := db.Where("id = ?", 1).Take(&settings).Error
	if err == nil {
		return &settings, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	settings = MozelloSettings{ID: 1}
	settings.SetEvents(nil)
	if createErr := db.Create(&settings).Error; createErr != nil {
		if errors.Is(createErr, gorm.ErrDuplicatedKey) {
			if takeErr := db.Where("id = ?", 1).Take(&settings).Error; takeErr == nil {
				return &settings, nil
			}
		}
		return nil, createErr
	}
	return &settings, nil
}

// UpdateMozelloSettings rewrites subscription preferences. Nil leaves a
// field unchanged.
func UpdateMozelloSettings(db *gorm.DB, events []string, forcedPort *string, logPayloads *bool) (*MozelloSettings, error) {
	settings, err := GetMozelloSettings(db)
	if err != nil {
		return nil, err
	}
	if events != nil {
		settings.SetEvents(events)
	}
	if forcedPort != nil {
		settings.ForcedPort = *forcedPort
	}
	if logPayloads != nil {
		settings.LogPayloads = *logPayloads
	}
	if err := db.Save(settings).Error; err != nil {
		return nil, err
	}
	return settings, nil
}
