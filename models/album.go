package models

import (
	"strings"

	"github.com/google/uuid"
)

// ItemIDUndefined is the sentinel for items that were never persisted; any
// id at or below it is undefined.
const ItemIDUndefined int64 = 0

// IDFieldName is the name of the synthetic surrogate key present in every album.
const IDFieldName = "id"

// Album is a user-defined record collection as registered in the catalog.
type Album struct {
	Name        string `json:"name"`
	TableName   string `json:"table_name"`
	HasPictures bool   `json:"has_pictures"`
	SortField   string `json:"sort_field,omitempty"`
}

// MetaItemField describes one column of an album.
type MetaItemField struct {
	Name            string    `json:"name"`
	Type            FieldType `json:"type"`
	QuickSearchable bool      `json:"quick_searchable"`
}

// IsID reports whether f is the synthetic surrogate key.
func (f MetaItemField) IsID() bool {
	return f.Type == FieldTypeID && strings.EqualFold(f.Name, IDFieldName)
}

// ItemField is one typed value of an AlbumItem.
type ItemField struct {
	Name            string    `json:"name"`
	Type            FieldType `json:"type"`
	Value           any       `json:"value"`
	QuickSearchable bool      `json:"quick_searchable"`
}

// AlbumItem is a record of exactly one album.
type AlbumItem struct {
	AlbumName      string             `json:"album_name"`
	ItemID         int64              `json:"id"`
	Fields         []ItemField        `json:"fields"`
	ContentVersion uuid.UUID          `json:"content_version"`
	Pictures       []AlbumItemPicture `json:"pictures,omitempty"`
}

// NewAlbumItem returns an unpersisted item of the named album.
func NewAlbumItem(albumName string) *AlbumItem {
	return &AlbumItem{AlbumName: albumName, ItemID: ItemIDUndefined}
}

// IsPersisted reports whether the item carries an engine-assigned id.
func (i *AlbumItem) IsPersisted() bool {
	return i.ItemID > ItemIDUndefined
}

// Field looks a field up by case-insensitive name.
func (i *AlbumItem) Field(name string) (*ItemField, bool) {
	for idx := range i.Fields {
		if strings.EqualFold(i.Fields[idx].Name, name) {
			return &i.Fields[idx], true
		}
	}
	return nil, false
}

// SetField replaces the value of an existing field or appends a new one.
func (i *AlbumItem) SetField(name string, fieldType FieldType, value any) {
	if f, ok := i.Field(name); ok {
		f.Type = fieldType
		f.Value = value
		return
	}
	i.Fields = append(i.Fields, ItemField{Name: name, Type: fieldType, Value: value})
}

// Value returns the value of the named field, or nil.
func (i *AlbumItem) Value(name string) any {
	if f, ok := i.Field(name); ok {
		return f.Value
	}
	return nil
}

// AlbumItemPicture links a picture file pair to an item.
type AlbumItemPicture struct {
	ID            int64  `json:"id,omitempty"`
	OriginalPath  string `json:"original_path"`
	ThumbnailPath string `json:"thumbnail_path"`
	AlbumName     string `json:"album_name"`
	ItemID        int64  `json:"item_id"`
}
