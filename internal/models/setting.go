package models

import (
	"time"
)

// Setting is a single persisted key/value pair, used for small pieces
// of reporter state such as the relay address.
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"not null;uniqueIndex" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Setting keys.
const (
	SettingRelayAddress = "relay_address"
)
