package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/camden-git/collectionstore/models"
)

func TestTableNames(t *testing.T) {
	tests := []struct {
		album    string
		table    string
		pictures string
		typeInfo string
		index    string
	}{
		{"Books", "books", "books_pictures", "books_typeinfo", "books_quicksearch_idx"},
		{"  My CDs ", "my_cds", "my_cds_pictures", "my_cds_typeinfo", "my_cds_quicksearch_idx"},
		{"Vinyl Records 2", "vinyl_records_2", "vinyl_records_2_pictures", "vinyl_records_2_typeinfo", "vinyl_records_2_quicksearch_idx"},
	}
	for _, tt := range tests {
		t.Run(tt.album, func(t *testing.T) {
			assert.Equal(t, tt.table, TableName(tt.album))
			assert.Equal(t, tt.pictures, PictureTableName(tt.album))
			assert.Equal(t, tt.typeInfo, TypeInfoTableName(tt.album))
			assert.Equal(t, tt.index, IndexName(tt.album))
		})
	}
	assert.Equal(t, "books_temp", TempTableName("books"))
}

func TestTablesFollowCatalogName(t *testing.T) {
	tables := tablesFor(models.Album{Name: "Books", TableName: "legacy_books"})
	assert.Equal(t, albumTables{
		data:     "legacy_books",
		typeInfo: "legacy_books_typeinfo",
		pictures: "legacy_books_pictures",
		index:    "legacy_books_quicksearch_idx",
	}, tables)
}

func TestValidAlbumName(t *testing.T) {
	assert.True(t, ValidAlbumName("x"))
	assert.False(t, ValidAlbumName(""))
	assert.False(t, ValidAlbumName("   "))
}

func TestReservedColumns(t *testing.T) {
	for _, name := range []string{"id", "ID", " typeinfo", "ContentVersion", "schemaversion"} {
		assert.True(t, isReservedColumn(name), name)
	}
	assert.False(t, isReservedColumn("identifier"))
}

func TestQuoting(t *testing.T) {
	assert.Equal(t, `"Title"`, quoteIdent("Title"))
	assert.Equal(t, `"say ""hi"""`, quoteIdent(`say "hi"`))
	assert.Equal(t, `'O''Brien'`, quoteLiteral("O'Brien"))
}

func TestNamesCollide(t *testing.T) {
	for _, other := range []string{"books", "books_temp", "books_pictures", "books_typeinfo", "books_quicksearch_idx", "books_typeinfo_temp", "BOOKS_TEMP"} {
		assert.True(t, namesCollide("books", other), other)
		assert.True(t, namesCollide(other, "books"), other)
	}
	for _, other := range []string{"book", "books_2", "my_books", "pictures"} {
		assert.False(t, namesCollide("books", other), other)
	}
}

func TestReservedTable(t *testing.T) {
	assert.True(t, reservedTable("albummastertable"))
	assert.True(t, reservedTable("sqlite_stat1"))
	assert.False(t, reservedTable("books"))
}
