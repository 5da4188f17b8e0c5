package repository

import (
	"errors"
	"fmt"

	"github.com/camden-git/collectionstore/models"
	"gorm.io/gorm"
)

// CatalogRepository handles database operations for the album catalog
type CatalogRepository struct {
	DB *gorm.DB
}

// NewCatalogRepository creates a new instance of CatalogRepository
func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{DB: db}
}

// EnsureTable creates the catalog table on first use
func (r *CatalogRepository) EnsureTable() error {
	if r.DB.Migrator().HasTable(&models.CatalogAlbum{}) {
		return nil
	}
	if err := r.DB.Migrator().CreateTable(&models.CatalogAlbum{}); err != nil {
		return fmt.Errorf("failed to create album catalog: %w", err)
	}
	return nil
}

// ListAll retrieves every catalog row in insertion order
func (r *CatalogRepository) ListAll() ([]models.CatalogAlbum, error) {
	var albums []models.CatalogAlbum
	err := r.DB.Order("id ASC").Find(&albums).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list albums: %w", err)
	}
	return albums, nil
}

// GetByName retrieves an album by its case-insensitive display name
func (r *CatalogRepository) GetByName(name string) (*models.CatalogAlbum, error) {
	var album models.CatalogAlbum
	err := r.DB.Where("LOWER(album_name) = LOWER(?)", name).First(&album).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get album %s: %w", name, err)
	}
	return &album, nil
}

// Create registers a new album
func (r *CatalogRepository) Create(album *models.CatalogAlbum) error {
	if album.HasPictures == "" {
		album.HasPictures = models.PictureFlag(false)
	}
	err := r.DB.Create(album).Error
	if err != nil {
		return fmt.Errorf("failed to register album %s: %w", album.Name, err)
	}
	return nil
}

// Rename changes the display and physical names of an album
func (r *CatalogRepository) Rename(oldName, newName, newPhysicalName string) error {
	result := r.DB.Model(&models.CatalogAlbum{}).
		Where("LOWER(album_name) = LOWER(?)", oldName).
		Updates(map[string]interface{}{
			"album_name":       newName,
			"album_table_name": newPhysicalName,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to rename album %s to %s: %w", oldName, newName, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdatePictureFlag flips the picture-capability flag
func (r *CatalogRepository) UpdatePictureFlag(name string, enabled bool) error {
	result := r.DB.Model(&models.CatalogAlbum{}).
		Where("LOWER(album_name) = LOWER(?)", name).
		Update("has_pictures", models.PictureFlag(enabled))
	if result.Error != nil {
		return fmt.Errorf("failed to update picture flag of album %s: %w", name, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateSortField sets or clears (nil) the sort field of an album
func (r *CatalogRepository) UpdateSortField(name string, sortField *string) error {
	var value interface{} = gorm.Expr("NULL")
	if sortField != nil {
		value = *sortField
	}
	result := r.DB.Model(&models.CatalogAlbum{}).
		Where("LOWER(album_name) = LOWER(?)", name).
		Update("sort_field", value)
	if result.Error != nil {
		return fmt.Errorf("failed to update sort field of album %s: %w", name, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Delete removes an album from the catalog
func (r *CatalogRepository) Delete(name string) error {
	result := r.DB.Where("LOWER(album_name) = LOWER(?)", name).Delete(&models.CatalogAlbum{})
	if result.Error != nil {
		return fmt.Errorf("failed to unregister album %s: %w", name, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
