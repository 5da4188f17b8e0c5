package handlers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/camden-git/collectionstore/models"
)

// fieldDTO is the wire form of a field definition.
type fieldDTO struct {
	Name            string `json:"name" validate:"required"`
	Type            string `json:"type" validate:"required"`
	QuickSearchable bool   `json:"quick_searchable"`
}

func (f fieldDTO) toMeta() (models.MetaItemField, error) {
	ft, err := models.ParseFieldType(f.Type)
	if err != nil {
		return models.MetaItemField{}, err
	}
	return models.MetaItemField{Name: f.Name, Type: ft, QuickSearchable: f.QuickSearchable}, nil
}

func fieldsToDTO(fields []models.MetaItemField) []fieldDTO {
	out := make([]fieldDTO, len(fields))
	for i, f := range fields {
		out[i] = fieldDTO{Name: f.Name, Type: f.Type.String(), QuickSearchable: f.QuickSearchable}
	}
	return out
}

// itemDTO is the wire form of an item; values are user text in the store's
// date format.
type itemDTO struct {
	ID             int64                     `json:"id"`
	ContentVersion string                    `json:"content_version,omitempty"`
	Values         map[string]string         `json:"values"`
	Pictures       []models.AlbumItemPicture `json:"pictures,omitempty"`
}

func itemToDTO(item *models.AlbumItem, dateLayout string) itemDTO {
	dto := itemDTO{
		ID:       item.ItemID,
		Values:   make(map[string]string, len(item.Fields)),
		Pictures: item.Pictures,
	}
	if item.ContentVersion != uuid.Nil {
		dto.ContentVersion = item.ContentVersion.String()
	}
	for _, f := range item.Fields {
		if f.Type == models.FieldTypeID {
			continue
		}
		dto.Values[f.Name] = f.Type.Format(f.Value, dateLayout)
	}
	return dto
}

// itemRequest is the body of item writes. Values may be JSON strings,
// numbers or booleans and are parsed against the album's field types.
type itemRequest struct {
	ID             int64          `json:"id,omitempty"`
	ContentVersion string         `json:"content_version,omitempty"`
	Values         map[string]any `json:"values"`
}

func (req itemRequest) toItem(albumName string, fields []models.MetaItemField, dateLayout string) (*models.AlbumItem, error) {
	item := models.NewAlbumItem(albumName)
	item.ItemID = req.ID
	if req.ContentVersion != "" {
		cv, err := uuid.Parse(req.ContentVersion)
		if err != nil {
			return nil, fmt.Errorf("invalid content version: %w", err)
		}
		item.ContentVersion = cv
	}
	for name, raw := range req.Values {
		var field *models.MetaItemField
		for i := range fields {
			if strings.EqualFold(fields[i].Name, name) && fields[i].Type != models.FieldTypeID {
				field = &fields[i]
				break
			}
		}
		if field == nil {
			return nil, fmt.Errorf("unknown field '%s'", name)
		}
		value, err := parseWireValue(field.Type, raw, dateLayout)
		if err != nil {
			return nil, fmt.Errorf("field '%s': %w", name, err)
		}
		item.SetField(field.Name, field.Type, value)
	}
	return item, nil
}

func parseWireValue(t models.FieldType, raw any, dateLayout string) (any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return t.Parse(v, dateLayout)
	case float64:
		return t.Parse(strconv.FormatFloat(v, 'f', -1, 64), dateLayout)
	case bool:
		return t.Normalize(v)
	default:
		return nil, fmt.Errorf("unsupported value %v", raw)
	}
}
