package models

import (
	"time"

	"gorm.io/gorm"
)

// AppIdentity binds a package to the relay credential used when
// publishing its presence. Enabled entries must always carry a ClientID.
type AppIdentity struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	PackageName string         `gorm:"not null;uniqueIndex" json:"package_name"`
	DisplayName string         `gorm:"not null" json:"display_name"`
	ClientID    string         `gorm:"not null" json:"client_id"`
	Enabled     bool           `gorm:"not null;default:false" json:"enabled"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeSave keeps the enablement invariant: an identity without a
// relay credential cannot stay enabled.
func (a *AppIdentity) BeforeSave(tx *gorm.DB) error {
	if a.ClientID == "" {
		a.Enabled = false
	}
	return nil
}

// Usable reports whether the gate may emit presence for this identity.
func (a *AppIdentity) Usable() bool {
	return a.Enabled && a.ClientID != ""
}
