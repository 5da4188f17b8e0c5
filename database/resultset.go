package database

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/camden-git/collectionstore/models"
)

// AlbumItemResultSet is a forward-only cursor over the rows of one query.
// It is not safe for concurrent use, and it must be closed on every path;
// schema changes to the album fail while it is open.
type AlbumItemResultSet struct {
	rows    *sql.Rows
	album   models.Album
	columns []models.MetaItemField
	// slots maps a visible column to its position in the raw row; the
	// typeinfo column has no slot.
	slots  []int
	raw    []any
	dest   []any
	loaded bool
	err    error
}

func newResultSet(rows *sql.Rows, sc *albumSchema) (*AlbumItemResultSet, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}
	rs := &AlbumItemResultSet{
		rows:  rows,
		album: sc.album,
		raw:   make([]any, len(names)),
		dest:  make([]any, len(names)),
	}
	for i, name := range names {
		rs.dest[i] = &rs.raw[i]

		var field models.MetaItemField
		switch strings.ToLower(name) {
		case typeInfoColumn:
			continue
		case contentVersionColumn:
			field = contentVersionField()
		default:
			f, ok := sc.fieldOrID(name)
			if !ok {
				// computed column of a hand-written query
				f = models.MetaItemField{Name: name, Type: models.FieldTypeText}
			}
			field = f
		}
		rs.columns = append(rs.columns, field)
		rs.slots = append(rs.slots, i)
	}
	return rs, nil
}

// MoveToNext advances to the next row and reports whether there is one.
// After it returns false, Err reports why.
func (rs *AlbumItemResultSet) MoveToNext() bool {
	rs.loaded = false
	if rs.err != nil || !rs.rows.Next() {
		if rs.err == nil {
			rs.err = rs.rows.Err()
		}
		return false
	}
	if err := rs.rows.Scan(rs.dest...); err != nil {
		rs.err = fmt.Errorf("failed to scan album row: %w", err)
		return false
	}
	rs.loaded = true
	return true
}

// Err returns the error that ended iteration, if any.
func (rs *AlbumItemResultSet) Err() error { return rs.err }

// Album returns the album the rows belong to.
func (rs *AlbumItemResultSet) Album() models.Album { return rs.album }

// FieldCount is the number of visible columns.
func (rs *AlbumItemResultSet) FieldCount() int { return len(rs.columns) }

// Field describes visible column i.
func (rs *AlbumItemResultSet) Field(i int) models.MetaItemField { return rs.columns[i] }

// FieldName returns the name of visible column i.
func (rs *AlbumItemResultSet) FieldName(i int) string { return rs.columns[i].Name }

// IsID reports whether column i is the item id.
func (rs *AlbumItemResultSet) IsID(i int) bool { return rs.columns[i].Type == models.FieldTypeID }

// IsUUID reports whether column i holds UUIDs, the content version included.
func (rs *AlbumItemResultSet) IsUUID(i int) bool { return rs.columns[i].Type == models.FieldTypeUUID }

// Value returns the native value of column i in the current row.
func (rs *AlbumItemResultSet) Value(i int) (any, error) {
	if !rs.loaded {
		return nil, fmt.Errorf("no current row")
	}
	if i < 0 || i >= len(rs.columns) {
		return nil, fmt.Errorf("column %d out of range [0,%d)", i, len(rs.columns))
	}
	return rs.columns[i].Type.FromStorage(rs.raw[rs.slots[i]])
}

// FieldValue returns column i of the current row as a T.
func FieldValue[T any](rs *AlbumItemResultSet, i int) (T, error) {
	var zero T
	v, err := rs.Value(i)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("column %s holds %T, not %T", rs.columns[i].Name, v, zero)
	}
	return t, nil
}

// Item assembles the current row into an AlbumItem. Pictures are not loaded.
func (rs *AlbumItemResultSet) Item() (*models.AlbumItem, error) {
	item := models.NewAlbumItem(rs.album.Name)
	for i, col := range rs.columns {
		v, err := rs.Value(i)
		if err != nil {
			return nil, err
		}
		switch {
		case col.IsID():
			item.ItemID = v.(int64)
		case strings.EqualFold(col.Name, contentVersionColumn):
			item.ContentVersion = v.(uuid.UUID)
			continue
		}
		item.Fields = append(item.Fields, models.ItemField{
			Name:            col.Name,
			Type:            col.Type,
			Value:           v,
			QuickSearchable: col.QuickSearchable,
		})
	}
	return item, nil
}

// Close releases the underlying statement.
func (rs *AlbumItemResultSet) Close() error {
	return rs.rows.Close()
}
