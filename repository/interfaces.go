package repository

import (
	"github.com/camden-git/collectionstore/models"
)

// CatalogRepositoryInterface defines the operations on the album master table
type CatalogRepositoryInterface interface {
	EnsureTable() error
	ListAll() ([]models.CatalogAlbum, error)
	GetByName(name string) (*models.CatalogAlbum, error)
	Create(album *models.CatalogAlbum) error
	Rename(oldName, newName, newPhysicalName string) error
	UpdatePictureFlag(name string, enabled bool) error
	UpdateSortField(name string, sortField *string) error
	Delete(name string) error
}
