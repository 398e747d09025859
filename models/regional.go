package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// RegionalNameMaxLength mirrors the column size; longer names from the source are rejected.
const RegionalNameMaxLength = 200

// RegionalNameCollation is the MySQL collation of regional.name. Names match byte for byte.
const RegionalNameCollation = "utf8mb4_bin"

// Regional is an organizational unit mirrored from the external source.
// Rows are never deleted: leaving the source flips Active to false, and a name that comes
// back later gets a new row.
type Regional struct {
	ID        uint      `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"index:idx_regional_name_active,priority:1;size:200;not null" json:"name"`
	Active    bool      `gorm:"index:idx_regional_name_active,priority:2;not null" json:"active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Regional) TableName() string {
	return "regional"
}

// RegionalStore is the gorm-backed store for regionals.
type RegionalStore struct {
	db *gorm.DB
}

func NewRegionalStore(db *gorm.DB) *RegionalStore {
	return &RegionalStore{db: db}
}

func (s *RegionalStore) FindActive(ctx context.Context) ([]Regional, error) {
	var results []Regional
	err := s.db.WithContext(ctx).Where("active = ?", true).Order("id").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// FindAllByName returns every row with the name, active or not, oldest first.
func (s *RegionalStore) FindAllByName(ctx context.Context, name string) ([]Regional, error) {
	var results []Regional
	err := s.db.WithContext(ctx).Where("name = ?", name).Order("id").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// FindActiveByName reports found=false, with a nil error, when no active row has the name.
func (s *RegionalStore) FindActiveByName(ctx context.Context, name string) (Regional, bool, error) {
	var result Regional
	err := s.db.WithContext(ctx).Where("name = ? AND active = ?", name, true).Order("id").Take(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Regional{}, false, nil
		}
		return Regional{}, false, err
	}
	return result, true, nil
}

// DeactivateByName flips every active row with the name to inactive and returns how many
// rows changed. Zero rows is not an error.
func (s *RegionalStore) DeactivateByName(ctx context.Context, name string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&Regional{}).
		Where("name = ? AND active = ?", name, true).
		Updates(map[string]interface{}{
			"active":     false,
			"updated_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}

// Save inserts when ID is zero, otherwise updates the full row.
func (s *RegionalStore) Save(ctx context.Context, regional *Regional) error {
	if regional.ID == 0 {
		return s.db.WithContext(ctx).Create(regional).Error
	}
	return s.db.WithContext(ctx).Save(regional).Error
}

// ListActiveOrdered is the operator read path: active regionals, name ascending.
func (s *RegionalStore) ListActiveOrdered(ctx context.Context) ([]Regional, error) {
	results := []Regional{}
	err := s.db.WithContext(ctx).Where("active = ?", true).Order("name asc").Order("id asc").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
