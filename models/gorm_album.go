package models

// CatalogAlbum is one row of the album master table, the catalog of every
// user-defined album.
type CatalogAlbum struct {
	ID           uint    `gorm:"primaryKey;autoIncrement"`
	Name         string  `gorm:"column:album_name;not null;uniqueIndex:idx_albummaster_name"`
	PhysicalName string  `gorm:"column:album_table_name;not null;uniqueIndex:idx_albummaster_table"`
	HasPictures  string  `gorm:"column:has_pictures;not null;default:NO"` // option-encoded
	SortField    *string `gorm:"column:sort_field"`                       // Nullable
}

// TableName explicitly sets the table name for GORM.
func (CatalogAlbum) TableName() string {
	return "albummastertable"
}

// ToAlbum converts the catalog row to the domain type.
func (c CatalogAlbum) ToAlbum() Album {
	a := Album{
		Name:        c.Name,
		TableName:   c.PhysicalName,
		HasPictures: OptionType(c.HasPictures) == OptionYes,
	}
	if c.SortField != nil {
		a.SortField = *c.SortField
	}
	return a
}

// PictureFlag encodes a picture-capability flag the way the catalog stores it.
func PictureFlag(enabled bool) string {
	if enabled {
		return string(OptionYes)
	}
	return string(OptionNo)
}
