package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/camden-git/collectionstore/models"
)

// albumSchema is the typed view of an album's columns: user fields in
// column order, their declared types from the type-info table and their
// quick-search flags from the quick-search index.
type albumSchema struct {
	album         models.Album
	tables        albumTables
	fields        []models.MetaItemField
	schemaVersion uuid.UUID
	typeInfoID    int64
}

func (sc *albumSchema) field(name string) (models.MetaItemField, int, bool) {
	for i, f := range sc.fields {
		if strings.EqualFold(f.Name, strings.TrimSpace(name)) {
			return f, i, true
		}
	}
	return models.MetaItemField{}, -1, false
}

// fieldOrID resolves name against the user fields and the synthetic id.
func (sc *albumSchema) fieldOrID(name string) (models.MetaItemField, bool) {
	if strings.EqualFold(strings.TrimSpace(name), idColumn) {
		return idField(), true
	}
	f, _, ok := sc.field(name)
	return f, ok
}

func (sc *albumSchema) quickSearchFields() []models.MetaItemField {
	var qs []models.MetaItemField
	for _, f := range sc.fields {
		if f.QuickSearchable {
			qs = append(qs, f)
		}
	}
	return qs
}

// allFields returns the id field followed by the user fields.
func (sc *albumSchema) allFields() []models.MetaItemField {
	return append([]models.MetaItemField{idField()}, sc.fields...)
}

func idField() models.MetaItemField {
	return models.MetaItemField{Name: models.IDFieldName, Type: models.FieldTypeID}
}

func contentVersionField() models.MetaItemField {
	return models.MetaItemField{Name: contentVersionColumn, Type: models.FieldTypeUUID}
}

// loadSchema reads an album's schema back from the engine.
func loadSchema(ctx context.Context, q Querier, album models.Album) (*albumSchema, error) {
	sc := &albumSchema{album: album, tables: tablesFor(album)}

	columns, err := tableColumns(ctx, q, sc.tables.data)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("data table %s of album '%s' is missing", sc.tables.data, album.Name)
	}

	types, version, tid, err := readTypeInfo(ctx, q, sc.tables.typeInfo)
	if err != nil {
		return nil, err
	}
	sc.schemaVersion = version
	sc.typeInfoID = tid

	flagged, err := indexColumns(ctx, q, sc.tables.index)
	if err != nil {
		return nil, err
	}

	for _, col := range columns {
		switch strings.ToLower(col) {
		case idColumn, typeInfoColumn, contentVersionColumn:
			continue
		}
		typeName, ok := types[strings.ToLower(col)]
		if !ok {
			return nil, fmt.Errorf("column %s of album '%s' has no type info", col, album.Name)
		}
		ft, err := models.ParseFieldType(typeName)
		if err != nil {
			return nil, fmt.Errorf("column %s of album '%s': %w", col, album.Name, err)
		}
		sc.fields = append(sc.fields, models.MetaItemField{
			Name:            col,
			Type:            ft,
			QuickSearchable: flagged[strings.ToLower(col)],
		})
	}
	return sc, nil
}

// tableColumns lists a table's columns in declaration order.
func tableColumns(ctx context.Context, q Querier, table string) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT name FROM pragma_table_info(?) ORDER BY cid", table)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer closeRows(rows)

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns of %s: %w", table, err)
	}
	return columns, nil
}

// indexColumns returns the lower-cased columns covered by index; an absent
// index covers nothing.
func indexColumns(ctx context.Context, q Querier, index string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, "SELECT name FROM pragma_index_info(?) ORDER BY seqno", index)
	if err != nil {
		return nil, fmt.Errorf("failed to read index %s: %w", index, err)
	}
	defer closeRows(rows)

	flagged := make(map[string]bool)
	for rows.Next() {
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan index column of %s: %w", index, err)
		}
		if name.Valid {
			flagged[strings.ToLower(name.String)] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating index %s: %w", index, err)
	}
	return flagged, nil
}

// readTypeInfo reads the single type-info row: declared type name per
// lower-cased column, the schema version and the row id.
func readTypeInfo(ctx context.Context, q Querier, table string) (map[string]string, uuid.UUID, int64, error) {
	sqlStr, args, err := psql.Select("*").From(quoteIdent(table)).OrderBy(quoteIdent(idColumn)).Limit(1).ToSql()
	if err != nil {
		return nil, uuid.Nil, 0, fmt.Errorf("failed to build SQL for readTypeInfo: %w", err)
	}
	rows, err := q.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, uuid.Nil, 0, fmt.Errorf("failed to read type info %s: %w", table, err)
	}
	defer closeRows(rows)

	columns, err := rows.Columns()
	if err != nil {
		return nil, uuid.Nil, 0, fmt.Errorf("failed to read type info columns of %s: %w", table, err)
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, uuid.Nil, 0, fmt.Errorf("error reading type info %s: %w", table, err)
		}
		return nil, uuid.Nil, 0, fmt.Errorf("type info table %s is empty", table)
	}
	values := make([]sql.NullString, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, uuid.Nil, 0, fmt.Errorf("failed to scan type info %s: %w", table, err)
	}

	types := make(map[string]string, len(columns))
	var version uuid.UUID
	var id int64
	for i, col := range columns {
		switch strings.ToLower(col) {
		case idColumn:
			id, _ = strconv.ParseInt(values[i].String, 10, 64)
		case schemaVersionColumn:
			version, _ = uuid.Parse(values[i].String)
		default:
			types[strings.ToLower(col)] = values[i].String
		}
	}
	return types, version, id, nil
}

// GetAlbumFields returns the id field followed by the album's fields in
// column order.
func (s *Session) GetAlbumFields(ctx context.Context, albumName string) ([]models.MetaItemField, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "get album fields"
	album, err := s.findAlbum(ctx, op, albumName)
	if err != nil {
		return nil, err
	}
	sc, err := loadSchema(ctx, s.conn, album)
	if err != nil {
		return nil, newError(KindCleanState, op, err)
	}
	return sc.allFields(), nil
}

// SchemaVersion returns the stamp regenerated whenever the album's columns change.
func (s *Session) SchemaVersion(ctx context.Context, albumName string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "get schema version"
	album, err := s.findAlbum(ctx, op, albumName)
	if err != nil {
		return uuid.Nil, err
	}
	sc, err := loadSchema(ctx, s.conn, album)
	if err != nil {
		return uuid.Nil, newError(KindCleanState, op, err)
	}
	return sc.schemaVersion, nil
}

// countRows counts the rows of table matching where, which may be nil.
func countRows(ctx context.Context, q Querier, table string, where sq.Sqlizer) (int64, error) {
	qb := psql.Select("COUNT(*)").From(quoteIdent(table))
	if where != nil {
		qb = qb.Where(where)
	}
	sqlStr, args, err := qb.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build SQL for countRows: %w", err)
	}
	var n int64
	if err := q.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", table, err)
	}
	return n, nil
}
