package database

import (
	"context"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/camden-git/collectionstore/models"
)

// quickSearchTerm matches one term against one field, or reports false when
// the term means nothing for the field's type.
func quickSearchTerm(f models.MetaItemField, term, dateLayout string) (sq.Sqlizer, bool) {
	col := quoteIdent(f.Name)
	switch f.Type {
	case models.FieldTypeText, models.FieldTypeOption, models.FieldTypeURL:
		return containsTerm(col, term), true
	case models.FieldTypeInteger, models.FieldTypeStarRating:
		n, err := strconv.ParseInt(term, 10, 64)
		if err != nil {
			return nil, false
		}
		return sq.Expr("("+col+" = ?)", n), true
	case models.FieldTypeDecimal:
		x, err := strconv.ParseFloat(term, 64)
		if err != nil {
			return nil, false
		}
		return sq.Expr("("+col+" = ?)", x), true
	case models.FieldTypeDate:
		d, err := f.Type.Parse(term, dateLayout)
		if err != nil {
			return nil, false
		}
		v, err := f.Type.ToStorage(d)
		if err != nil {
			return nil, false
		}
		return sq.Expr("("+col+" = ?)", v), true
	}
	return nil, false
}

// buildQuickSearch ORs every term over the quick-searchable fields and
// unions the per-term selects. Without flagged fields or terms it selects
// everything; terms that fit no field are skipped.
func buildQuickSearch(sc *albumSchema, terms []string, dateLayout string) (Query, error) {
	fields := sc.quickSearchFields()
	var cleaned []string
	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" {
			cleaned = append(cleaned, t)
		}
	}
	if len(fields) == 0 || len(cleaned) == 0 {
		return buildQuery(sc, nil, true, nil, dateLayout)
	}
	orderBy, err := orderClause(sc, nil)
	if err != nil {
		return Query{}, err
	}

	table := quoteIdent(sc.tables.data)
	var selects []string
	var args []any
	for _, term := range cleaned {
		var matches []sq.Sqlizer
		for _, f := range fields {
			if m, ok := quickSearchTerm(f, term, dateLayout); ok {
				matches = append(matches, m)
			}
		}
		if len(matches) == 0 {
			continue
		}
		sqlStr, termArgs, err := psql.Select("*").From(table).Where(sq.Or(matches)).ToSql()
		if err != nil {
			return Query{}, newError(KindCleanState, "quick search", err)
		}
		selects = append(selects, sqlStr)
		args = append(args, termArgs...)
	}
	if len(selects) == 0 {
		selects = []string{"SELECT * FROM " + table + " WHERE 1 = 0"}
	}
	sqlStr := strings.Join(selects, " UNION ") + " ORDER BY " + strings.Join(orderBy, ", ")
	return Query{Album: sc.album.Name, SQL: sqlStr, Args: args}, nil
}

// QuickSearch builds the quick search for terms over an album.
func (s *Session) QuickSearch(ctx context.Context, albumName string, terms []string) (Query, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, err := s.querySchema(ctx, "quick search", albumName)
	if err != nil {
		return Query{}, err
	}
	return buildQuickSearch(sc, terms, s.dateFormat)
}
