package database

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/camden-git/collectionstore/models"
)

// maxInsertVariables keeps multi-row inserts below the engine's bound
// parameter limit.
const maxInsertVariables = 900

// rebuildColumn is one column of a rebuilt table. source names the column
// the values are copied from; empty means the field is new and every row
// gets the type's default.
type rebuildColumn struct {
	field  models.MetaItemField
	source string
}

// bufferedRow is one data row held in memory between snapshot and
// repopulation.
type bufferedRow struct {
	id             int64
	contentVersion string
	values         []any
}

// rebuild recreates the album's data and type-info tables with columns.
// Row ids and content versions are carried over unchanged, so a rebuild
// is invisible to change detection and never touches the picture table.
//
//	snapshot -> buffer -> recreate -> repopulate -> index -> cleanup
func (s *Session) rebuild(ctx context.Context, op string, sc *albumSchema, columns []rebuildColumn) error {
	t := sc.tables
	dataTemp, typeTemp := TempTableName(t.data), TempTableName(t.typeInfo)

	// snapshot
	for _, stmt := range []string{
		"DROP INDEX IF EXISTS " + quoteIdent(t.index),
		"DROP TABLE IF EXISTS " + quoteIdent(dataTemp),
		"DROP TABLE IF EXISTS " + quoteIdent(typeTemp),
		fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s", quoteIdent(dataTemp), quoteIdent(t.data)),
		fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s", quoteIdent(typeTemp), quoteIdent(t.typeInfo)),
	} {
		if err := execStmt(ctx, s.conn, stmt); err != nil {
			return err
		}
	}

	// buffer
	rows, err := bufferRows(ctx, s.conn, dataTemp, columns)
	if err != nil {
		return err
	}
	seq, err := readSequence(ctx, s.conn, t.data)
	if err != nil {
		return err
	}

	// recreate
	if err := dropTable(ctx, s.conn, t.data); err != nil {
		return err
	}
	if err := dropTable(ctx, s.conn, t.typeInfo); err != nil {
		return err
	}
	fields := make([]models.MetaItemField, len(columns))
	for i, c := range columns {
		fields[i] = c.field
	}
	typeInfoID, version, err := createTypeInfoTable(ctx, s.conn, t.typeInfo, fields)
	if err != nil {
		return err
	}
	if err := createDataTable(ctx, s.conn, t, fields); err != nil {
		return err
	}

	// repopulate
	if err := repopulate(ctx, s.conn, t.data, fields, typeInfoID, rows); err != nil {
		return err
	}
	if err := raiseSequence(ctx, s.conn, t.data, seq); err != nil {
		return err
	}

	// index
	if err := createQuickSearchIndex(ctx, s.conn, t, fields); err != nil {
		return err
	}

	// cleanup
	if err := dropTable(ctx, s.conn, dataTemp); err != nil {
		return err
	}
	if err := dropTable(ctx, s.conn, typeTemp); err != nil {
		return err
	}

	tableRebuilds.WithLabelValues(op).Inc()
	s.logger.Info("album table rebuilt",
		zap.String("album", sc.album.Name),
		zap.String("op", op),
		zap.Int("rows", len(rows)),
		zap.Int("fields", len(fields)),
		zap.Stringer("schema_version", version))
	return nil
}

// bufferRows reads the snapshot into memory in the new column layout.
func bufferRows(ctx context.Context, q Querier, table string, columns []rebuildColumn) ([]bufferedRow, error) {
	selected := []string{quoteIdent(idColumn), quoteIdent(contentVersionColumn)}
	for _, c := range columns {
		if c.source != "" {
			selected = append(selected, quoteIdent(c.source))
		}
	}
	sqlStr, args, err := psql.Select(selected...).From(quoteIdent(table)).OrderBy(quoteIdent(idColumn)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL for bufferRows: %w", err)
	}
	rs, err := q.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", table, err)
	}
	defer closeRows(rs)

	var buffered []bufferedRow
	for rs.Next() {
		var row bufferedRow
		scanned := make([]any, len(selected)-2)
		dest := []any{&row.id, &row.contentVersion}
		for i := range scanned {
			dest = append(dest, &scanned[i])
		}
		if err := rs.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}

		row.values = make([]any, len(columns))
		next := 0
		for i, c := range columns {
			if c.source == "" {
				v, err := c.field.Type.ToStorage(nil)
				if err != nil {
					return nil, err
				}
				row.values[i] = v
				continue
			}
			row.values[i] = scanned[next]
			next++
		}
		buffered = append(buffered, row)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot %s: %w", table, err)
	}
	return buffered, nil
}

// repopulate inserts the buffered rows in batches.
func repopulate(ctx context.Context, q Querier, table string, fields []models.MetaItemField, typeInfoID int64, rows []bufferedRow) error {
	columns := []string{quoteIdent(idColumn)}
	for _, f := range fields {
		columns = append(columns, quoteIdent(f.Name))
	}
	columns = append(columns, quoteIdent(typeInfoColumn), quoteIdent(contentVersionColumn))

	batch := maxInsertVariables / len(columns)
	if batch < 1 {
		batch = 1
	}
	for start := 0; start < len(rows); start += batch {
		end := min(start+batch, len(rows))
		queryBuilder := psql.Insert(quoteIdent(table)).Columns(columns...)
		for _, row := range rows[start:end] {
			values := make([]any, 0, len(columns))
			values = append(values, row.id)
			values = append(values, row.values...)
			values = append(values, typeInfoID, row.contentVersion)
			queryBuilder = queryBuilder.Values(values...)
		}
		sqlStr, args, err := queryBuilder.ToSql()
		if err != nil {
			return fmt.Errorf("failed to build SQL for repopulate: %w", err)
		}
		if _, err := q.ExecContext(ctx, sqlStr, args...); err != nil {
			return fmt.Errorf("failed to repopulate %s: %w", table, err)
		}
	}
	return nil
}

// keepColumns maps the current fields onto an unchanged rebuild layout.
func keepColumns(fields []models.MetaItemField) []rebuildColumn {
	columns := make([]rebuildColumn, len(fields))
	for i, f := range fields {
		columns[i] = rebuildColumn{field: f, source: f.Name}
	}
	return columns
}

// alterSchema loads the album schema for a field operation.
func (s *Session) alterSchema(ctx context.Context, op, albumName string) (*albumSchema, error) {
	album, err := s.findAlbum(ctx, op, albumName)
	if err != nil {
		return nil, err
	}
	sc, err := loadSchema(ctx, s.conn, album)
	if err != nil {
		return nil, newError(KindCleanState, op, err)
	}
	return sc, nil
}

// AppendField adds a trailing field; existing items get the type's default.
func (s *Session) AppendField(ctx context.Context, albumName string, field models.MetaItemField) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "append field"
	if err := validateNewField(op, field); err != nil {
		return err
	}
	field.Name = strings.TrimSpace(field.Name)
	sc, err := s.alterSchema(ctx, op, albumName)
	if err != nil {
		return err
	}
	if _, _, exists := sc.field(field.Name); exists {
		return errorf(KindNameInUse, op, "album '%s' already has a field '%s'", sc.album.Name, field.Name)
	}

	columns := append(keepColumns(sc.fields), rebuildColumn{field: field})
	defer s.invalidateAlbums()
	return s.mutate(ctx, op, func(ctx context.Context) error {
		return s.rebuild(ctx, op, sc, columns)
	})
}

// RenameField renames oldField to newField's name. The type and position
// stay; so does the quick-search flag. A field that cannot be found by name
// and type is left alone and nil is returned.
func (s *Session) RenameField(ctx context.Context, albumName string, oldField, newField models.MetaItemField) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "rename field"
	if oldField.Type == models.FieldTypeID || oldField.IsID() {
		return errorf(KindInvalidRename, op, "the id field cannot be renamed")
	}
	newName := strings.TrimSpace(newField.Name)
	if newName == "" {
		return errorf(KindInvalidRename, op, "new field name is empty")
	}
	if newField.Type != oldField.Type {
		return errorf(KindInvalidRename, op, "renaming cannot change the type of '%s'", oldField.Name)
	}
	sc, err := s.alterSchema(ctx, op, albumName)
	if err != nil {
		return err
	}
	current, idx, ok := sc.field(oldField.Name)
	if !ok || current.Type != oldField.Type {
		s.logger.Debug("rename of unknown field ignored",
			zap.String("album", sc.album.Name), zap.String("field", oldField.Name))
		return nil
	}
	if newName == current.Name {
		return nil
	}
	if isReservedColumn(newName) {
		return errorf(KindInvalidRename, op, "field name '%s' is reserved", newName)
	}
	if other, otherIdx, exists := sc.field(newName); exists && otherIdx != idx {
		return errorf(KindInvalidRename, op, "album '%s' already has a field '%s'", sc.album.Name, other.Name)
	}

	columns := keepColumns(sc.fields)
	columns[idx].field.Name = newName
	followSort := strings.EqualFold(sc.album.SortField, current.Name)

	defer s.invalidateAlbums()
	return s.mutate(ctx, op, func(ctx context.Context) error {
		if err := s.rebuild(ctx, op, sc, columns); err != nil {
			return err
		}
		if followSort {
			return catalogNotFound(op, s.catalog(ctx).UpdateSortField(sc.album.Name, &newName))
		}
		return nil
	})
}

// ReorderField moves a field to directly follow preceding, or to the front
// when preceding is empty or names the id field.
func (s *Session) ReorderField(ctx context.Context, albumName, fieldName, preceding string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "reorder field"
	sc, err := s.alterSchema(ctx, op, albumName)
	if err != nil {
		return err
	}
	moved, from, ok := sc.field(fieldName)
	if !ok {
		return nil
	}

	rest := make([]models.MetaItemField, 0, len(sc.fields))
	rest = append(rest, sc.fields[:from]...)
	rest = append(rest, sc.fields[from+1:]...)

	at := 0
	if p := strings.TrimSpace(preceding); p != "" && !strings.EqualFold(p, idColumn) {
		if strings.EqualFold(p, moved.Name) {
			return nil
		}
		found := false
		for i, f := range rest {
			if strings.EqualFold(f.Name, p) {
				at, found = i+1, true
				break
			}
		}
		if !found {
			return errorf(KindNotFound, op, "album '%s' has no field '%s'", sc.album.Name, preceding)
		}
	}
	if at == from {
		return nil
	}

	reordered := make([]models.MetaItemField, 0, len(sc.fields))
	reordered = append(reordered, rest[:at]...)
	reordered = append(reordered, moved)
	reordered = append(reordered, rest[at:]...)

	defer s.invalidateAlbums()
	return s.mutate(ctx, op, func(ctx context.Context) error {
		return s.rebuild(ctx, op, sc, keepColumns(reordered))
	})
}

// RemoveField drops a field and its values. Removing a field that does not
// exist is a no-op.
func (s *Session) RemoveField(ctx context.Context, albumName, fieldName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "remove field"
	if strings.EqualFold(strings.TrimSpace(fieldName), idColumn) {
		return errorf(KindCleanState, op, "the id field cannot be removed")
	}
	sc, err := s.alterSchema(ctx, op, albumName)
	if err != nil {
		return err
	}
	removed, idx, ok := sc.field(fieldName)
	if !ok {
		return nil
	}
	remaining := make([]models.MetaItemField, 0, len(sc.fields)-1)
	remaining = append(remaining, sc.fields[:idx]...)
	remaining = append(remaining, sc.fields[idx+1:]...)
	clearSort := strings.EqualFold(sc.album.SortField, removed.Name)

	defer s.invalidateAlbums()
	return s.mutate(ctx, op, func(ctx context.Context) error {
		if err := s.rebuild(ctx, op, sc, keepColumns(remaining)); err != nil {
			return err
		}
		if clearSort {
			return catalogNotFound(op, s.catalog(ctx).UpdateSortField(sc.album.Name, nil))
		}
		return nil
	})
}

// SetQuickSearchable flags or unflags a field for quick search. Only the
// quick-search index is rebuilt; rows stay where they are.
func (s *Session) SetQuickSearchable(ctx context.Context, albumName, fieldName string, quickSearchable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "set quick searchable"
	if strings.EqualFold(strings.TrimSpace(fieldName), idColumn) {
		return errorf(KindCleanState, op, "the id field cannot be quick-searchable")
	}
	sc, err := s.alterSchema(ctx, op, albumName)
	if err != nil {
		return err
	}
	f, idx, ok := sc.field(fieldName)
	if !ok {
		return errorf(KindNotFound, op, "album '%s' has no field '%s'", sc.album.Name, fieldName)
	}
	if f.QuickSearchable == quickSearchable {
		return nil
	}
	fields := append([]models.MetaItemField(nil), sc.fields...)
	fields[idx].QuickSearchable = quickSearchable

	return s.mutate(ctx, op, func(ctx context.Context) error {
		if err := dropIndex(ctx, s.conn, sc.tables.index); err != nil {
			return err
		}
		return createQuickSearchIndex(ctx, s.conn, sc.tables, fields)
	})
}
