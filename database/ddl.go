package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/camden-git/collectionstore/models"
)

func execStmt(ctx context.Context, q Querier, stmt string, args ...any) error {
	if _, err := q.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("failed to execute %q: %w", stmt, err)
	}
	return nil
}

// createTypeInfoTable creates the type-info table and seeds its single row
// with the declared type of every field and a fresh schema version.
func createTypeInfoTable(ctx context.Context, q Querier, table string, fields []models.MetaItemField) (int64, uuid.UUID, error) {
	defs := []string{quoteIdent(idColumn) + " INTEGER PRIMARY KEY"}
	for _, f := range fields {
		defs = append(defs, quoteIdent(f.Name)+" TEXT NOT NULL")
	}
	defs = append(defs, quoteIdent(schemaVersionColumn)+" TEXT NOT NULL")
	if err := execStmt(ctx, q, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(defs, ", "))); err != nil {
		return 0, uuid.Nil, err
	}

	version := uuid.New()
	columns := make([]string, 0, len(fields)+1)
	values := make([]any, 0, len(fields)+1)
	for _, f := range fields {
		columns = append(columns, quoteIdent(f.Name))
		values = append(values, f.Type.String())
	}
	columns = append(columns, quoteIdent(schemaVersionColumn))
	values = append(values, version.String())

	sqlStr, args, err := psql.Insert(quoteIdent(table)).Columns(columns...).Values(values...).ToSql()
	if err != nil {
		return 0, uuid.Nil, fmt.Errorf("failed to build SQL for createTypeInfoTable: %w", err)
	}
	res, err := q.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, uuid.Nil, fmt.Errorf("failed to seed type info %s: %w", table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, uuid.Nil, fmt.Errorf("failed to read type info id of %s: %w", table, err)
	}
	return id, version, nil
}

// createDataTable creates the data table: surrogate id, one column per
// field, the type-info reference and the content version. Ids are never
// reused, so orphaned picture rows of a deleted item cannot attach to a
// new one.
func createDataTable(ctx context.Context, q Querier, tables albumTables, fields []models.MetaItemField) error {
	defs := []string{quoteIdent(idColumn) + " INTEGER PRIMARY KEY AUTOINCREMENT"}
	for _, f := range fields {
		defs = append(defs, quoteIdent(f.Name)+" "+f.Type.SQLDomain())
	}
	defs = append(defs,
		fmt.Sprintf("%s INTEGER REFERENCES %s(%s)", quoteIdent(typeInfoColumn), quoteIdent(tables.typeInfo), quoteIdent(idColumn)),
		quoteIdent(contentVersionColumn)+" TEXT NOT NULL",
	)
	return execStmt(ctx, q, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(tables.data), strings.Join(defs, ", ")))
}

func createPictureTable(ctx context.Context, q Querier, tables albumTables) error {
	return execStmt(ctx, q, fmt.Sprintf(
		`CREATE TABLE %s ("id" INTEGER PRIMARY KEY, "original_path" TEXT NOT NULL, "thumbnail_path" TEXT NOT NULL, "item_id" INTEGER NOT NULL REFERENCES %s("id"))`,
		quoteIdent(tables.pictures), quoteIdent(tables.data)))
}

// createQuickSearchIndex indexes every quick-searchable field. Without any
// flagged field no index exists.
func createQuickSearchIndex(ctx context.Context, q Querier, tables albumTables, fields []models.MetaItemField) error {
	var columns []string
	for _, f := range fields {
		if f.QuickSearchable {
			columns = append(columns, quoteIdent(f.Name))
		}
	}
	if len(columns) == 0 {
		return nil
	}
	return execStmt(ctx, q, fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
		quoteIdent(tables.index), quoteIdent(tables.data), strings.Join(columns, ", ")))
}

// readSequence returns the highest id ever handed out for table, 0 when
// none was.
func readSequence(ctx context.Context, q Querier, table string) (int64, error) {
	sqlStr, args, err := psql.Select(`"seq"`).From("sqlite_sequence").Where(sq.Eq{`"name"`: table}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build SQL for readSequence: %w", err)
	}
	var seq int64
	err = q.QueryRowContext(ctx, sqlStr, args...).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read id sequence of %s: %w", table, err)
	}
	return seq, nil
}

// raiseSequence makes sure the next id assigned in table is above seq.
func raiseSequence(ctx context.Context, q Querier, table string, seq int64) error {
	if seq <= 0 {
		return nil
	}
	current, err := readSequence(ctx, q, table)
	if err != nil {
		return err
	}
	if current >= seq {
		return nil
	}
	var stmt sq.Sqlizer = psql.Update("sqlite_sequence").Set(`"seq"`, seq).Where(sq.Eq{`"name"`: table})
	if current == 0 {
		// the row is missing until the table first holds one
		if err := execStmt(ctx, q, `DELETE FROM sqlite_sequence WHERE "name" = ?`, table); err != nil {
			return err
		}
		stmt = psql.Insert("sqlite_sequence").Columns(`"name"`, `"seq"`).Values(table, seq)
	}
	sqlStr, args, err := stmt.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build SQL for raiseSequence: %w", err)
	}
	return execStmt(ctx, q, sqlStr, args...)
}

func dropIndex(ctx context.Context, q Querier, index string) error {
	return execStmt(ctx, q, "DROP INDEX IF EXISTS "+quoteIdent(index))
}

func dropTable(ctx context.Context, q Querier, table string) error {
	return execStmt(ctx, q, "DROP TABLE IF EXISTS "+quoteIdent(table))
}

func renameTable(ctx context.Context, q Querier, from, to string) error {
	return execStmt(ctx, q, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quoteIdent(from), quoteIdent(to)))
}
