package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/appresence/appresence/internal/models"

	"github.com/pkg/errors"

	"gorm.io/gorm"
)

// Repository handles all database operations for identity configs and
// reporter state
type Repository struct {
	db *DB
}

// NewRepository creates a new repository instance
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Identities returns all identity configs keyed by package name.
// The gate reads this on every decision.
func (r *Repository) Identities() (map[string]models.AppIdentity, error) {
	var rows []models.AppIdentity
	result := r.db.Find(&rows)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query app identities")
	}

	configs := make(map[string]models.AppIdentity, len(rows))
	for _, row := range rows {
		configs[row.PackageName] = row
	}
	return configs, nil
}

// ListIdentities returns all identity configs ordered by package name
func (r *Repository) ListIdentities() ([]models.AppIdentity, error) {
	var rows []models.AppIdentity
	result := r.db.Order("package_name ASC").Find(&rows)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to list app identities")
	}
	return rows, nil
}

// GetIdentity retrieves one identity config, or nil when none exists
func (r *Repository) GetIdentity(pkg string) (*models.AppIdentity, error) {
	var row models.AppIdentity
	result := r.db.Where("package_name = ?", normalizePackage(pkg)).First(&row)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errors.Wrap(result.Error, "failed to get app identity")
	}
	return &row, nil
}

// UpsertIdentity creates or updates the identity config for a package.
// Clearing the client ID force-disables the entry.
func (r *Repository) UpsertIdentity(pkg, displayName, clientID string) (*models.AppIdentity, error) {
	pkg = normalizePackage(pkg)
	if pkg == "" {
		return nil, fmt.Errorf("package name cannot be empty")
	}

	row, err := r.GetIdentity(pkg)
	if err != nil {
		return nil, err
	}
	if row == nil {
		row = &models.AppIdentity{PackageName: pkg}
	}

	row.DisplayName = displayName
	row.ClientID = clientID
	if clientID == "" {
		row.Enabled = false
	}

	result := r.db.Save(row)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to save app identity")
	}
	return row, nil
}

// SetIdentityEnabled toggles an identity. Enabling requires a client ID.
func (r *Repository) SetIdentityEnabled(pkg string, enabled bool) error {
	row, err := r.GetIdentity(pkg)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("no identity configured for %q", pkg)
	}

	if enabled && row.ClientID == "" {
		return fmt.Errorf("cannot enable %q without a client ID", pkg)
	}

	row.Enabled = enabled
	result := r.db.Save(row)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update app identity")
	}
	return nil
}

// DeleteIdentity removes the identity config for a package
func (r *Repository) DeleteIdentity(pkg string) error {
	result := r.db.Where("package_name = ?", normalizePackage(pkg)).Delete(&models.AppIdentity{})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to delete app identity")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no identity configured for %q", pkg)
	}
	return nil
}

// GetSetting retrieves a persisted setting value, or "" when unset
func (r *Repository) GetSetting(key string) (string, error) {
	var row models.Setting
	result := r.db.Where("key = ?", key).First(&row)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return "", nil
		}
		return "", errors.Wrap(result.Error, "failed to get setting")
	}
	return row.Value, nil
}

// SetSetting stores a setting value, replacing any previous one
func (r *Repository) SetSetting(key, value string) error {
	var row models.Setting
	result := r.db.Where("key = ?", key).First(&row)
	if result.Error != nil && result.Error != gorm.ErrRecordNotFound {
		return errors.Wrap(result.Error, "failed to query setting")
	}

	row.Key = key
	row.Value = value
	if saveResult := r.db.Save(&row); saveResult.Error != nil {
		return errors.Wrap(saveResult.Error, "failed to save setting")
	}
	return nil
}

// CreateErrorLog inserts a new error log into the database
func (r *Repository) CreateErrorLog(errorLog *models.ErrorLog) error {
	result := r.db.Create(errorLog)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to insert error log")
	}
	return nil
}

// DeleteOldErrorLogs deletes error logs older than a specified date
func (r *Repository) DeleteOldErrorLogs(before time.Time) (int64, error) {
	result := r.db.Where("timestamp < ?", before).Delete(&models.ErrorLog{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to delete old error logs")
	}
	return result.RowsAffected, nil
}

func normalizePackage(pkg string) string {
	return strings.ToLower(strings.TrimSpace(pkg))
}
