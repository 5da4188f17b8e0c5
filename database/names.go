package database

import (
	"strings"

	"github.com/camden-git/collectionstore/models"
)

// Physical names of the synthetic columns every album table carries.
const (
	idColumn             = "id"
	typeInfoColumn       = "typeinfo"
	contentVersionColumn = "contentversion"
	schemaVersionColumn  = "schemaversion"
)

const (
	pictureTableSuffix  = "_pictures"
	typeInfoTableSuffix = "_typeinfo"
	tempTableSuffix     = "_temp"
	indexSuffix         = "_quicksearch_idx"
)

// TableName derives the data table name of an album: trimmed, lower-cased,
// spaces replaced by underscores.
func TableName(albumName string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(albumName)), " ", "_")
}

// PictureTableName derives the name of an album's picture table.
func PictureTableName(albumName string) string {
	return TableName(albumName) + pictureTableSuffix
}

// TypeInfoTableName derives the name of an album's type-info table.
func TypeInfoTableName(albumName string) string {
	return TableName(albumName) + typeInfoTableSuffix
}

// TempTableName derives the snapshot name used while rebuilding table.
func TempTableName(table string) string {
	return table + tempTableSuffix
}

// IndexName derives the name of an album's quick-search index.
func IndexName(albumName string) string {
	return TableName(albumName) + indexSuffix
}

// ValidAlbumName reports whether name can be turned into table names.
func ValidAlbumName(name string) bool {
	return TableName(name) != ""
}

// isReservedColumn reports whether name collides with a synthetic column.
func isReservedColumn(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case idColumn, typeInfoColumn, contentVersionColumn, schemaVersionColumn:
		return true
	}
	return false
}

// quoteIdent quotes an SQL identifier, doubling embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteLiteral renders a text literal, doubling embedded single quotes.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// catalogTable is the gorm catalog's own table.
var catalogTable = models.CatalogAlbum{}.TableName()

// physicalNames lists every schema object an album with data table table
// may own, including the snapshots a rebuild creates and drops.
func physicalNames(table string) []string {
	typeInfo := table + typeInfoTableSuffix
	return []string{
		table,
		table + pictureTableSuffix,
		typeInfo,
		table + indexSuffix,
		TempTableName(table),
		TempTableName(typeInfo),
	}
}

// namesCollide reports whether two albums would share any schema object.
// SQLite identifiers are case-insensitive.
func namesCollide(tableA, tableB string) bool {
	for _, a := range physicalNames(tableA) {
		for _, b := range physicalNames(tableB) {
			if strings.EqualFold(a, b) {
				return true
			}
		}
	}
	return false
}

// reservedTable reports whether an album with data table table would clash
// with the catalog or SQLite's internal tables.
func reservedTable(table string) bool {
	for _, n := range physicalNames(table) {
		n = strings.ToLower(n)
		if n == catalogTable || strings.HasPrefix(n, "sqlite_") {
			return true
		}
	}
	return false
}

// albumTables holds the physical names of one album's structures.
type albumTables struct {
	data     string
	typeInfo string
	pictures string
	index    string
}

// tablesFor derives the physical names from the catalog's table name, which
// stays authoritative even if the derivation rules ever change.
func tablesFor(a models.Album) albumTables {
	return albumTables{
		data:     a.TableName,
		typeInfo: a.TableName + typeInfoTableSuffix,
		pictures: a.TableName + pictureTableSuffix,
		index:    a.TableName + indexSuffix,
	}
}
