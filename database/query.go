package database

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/camden-git/collectionstore/models"
)

// Operator compares a field with a predicate value.
type Operator string

const (
	OpEquals            Operator = "equals"
	OpNotEquals         Operator = "not_equals"
	OpLike              Operator = "like"
	OpLess              Operator = "less"
	OpLessOrEqual       Operator = "less_or_equal"
	OpGreater           Operator = "greater"
	OpGreaterOrEqual    Operator = "greater_or_equal"
	OpDateEquals        Operator = "date_equals"
	OpDateBefore        Operator = "date_before"
	OpDateBeforeOrEqual Operator = "date_before_or_equal"
	OpDateAfter         Operator = "date_after"
	OpDateAfterOrEqual  Operator = "date_after_or_equal"
)

var operatorSQL = map[Operator]string{
	OpEquals:            "=",
	OpNotEquals:         "<>",
	OpLike:              "LIKE",
	OpLess:              "<",
	OpLessOrEqual:       "<=",
	OpGreater:           ">",
	OpGreaterOrEqual:    ">=",
	OpDateEquals:        "=",
	OpDateBefore:        "<",
	OpDateBeforeOrEqual: "<=",
	OpDateAfter:         ">",
	OpDateAfterOrEqual:  ">=",
}

func (o Operator) isDate() bool { return strings.HasPrefix(string(o), "date_") }

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	_, ok := operatorSQL[o]
	return ok
}

// Predicate is one (field, operator, value) condition. Value is either the
// field type's native value or user text, which is parsed with the store's
// date format where needed.
type Predicate struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Query is an executable statement over one album.
type Query struct {
	Album string
	SQL   string
	Args  []any
}

// Inline renders the query with its arguments as SQL literals: text single
// quoted with embedded quotes doubled, numbers bare.
func (q Query) Inline() string {
	var b strings.Builder
	next := 0
	var quote rune
	for _, r := range q.SQL {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '?' && next < len(q.Args):
			b.WriteString(sqlLiteral(q.Args[next]))
			next++
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func sqlLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return quoteLiteral(x)
	case []byte:
		return quoteLiteral(string(x))
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "1"
		}
		return "0"
	default:
		return quoteLiteral(fmt.Sprint(x))
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsTerm matches rows whose col contains text literally; LIKE
// wildcards in text are escaped.
func containsTerm(col, text string) sq.Sqlizer {
	return sq.Expr("("+col+` LIKE ? ESCAPE '\')`, "%"+likeEscaper.Replace(text)+"%")
}

// predicateValue converts a predicate value to the column's storage form.
func predicateValue(field models.MetaItemField, value any, dateLayout string) (any, error) {
	if text, ok := value.(string); ok && !field.Type.Textual() {
		parsed, err := field.Type.Parse(text, dateLayout)
		if err != nil {
			return nil, err
		}
		value = parsed
	}
	return field.Type.ToStorage(value)
}

func predicateTerm(sc *albumSchema, p Predicate, dateLayout string) (sq.Sqlizer, error) {
	const op = "build query"
	field, ok := sc.fieldOrID(p.Field)
	if !ok {
		return nil, errorf(KindNotFound, op, "album '%s' has no field '%s'", sc.album.Name, p.Field)
	}
	sqlOp, ok := operatorSQL[p.Operator]
	if !ok {
		return nil, errorf(KindCleanState, op, "unknown operator %q", p.Operator)
	}
	if p.Operator.isDate() && field.Type != models.FieldTypeDate {
		return nil, errorf(KindCleanState, op, "operator %s needs a date field, '%s' is %s", p.Operator, field.Name, field.Type)
	}
	col := quoteIdent(field.Name)

	if p.Operator == OpLike {
		text, ok := p.Value.(string)
		if !ok {
			text = field.Type.Format(p.Value, dateLayout)
		}
		return containsTerm(col, text), nil
	}
	v, err := predicateValue(field, p.Value, dateLayout)
	if err != nil {
		return nil, newError(KindCleanState, op, fmt.Errorf("value for '%s': %w", field.Name, err))
	}
	return sq.Expr(fmt.Sprintf("(%s %s ?)", col, sqlOp), v), nil
}

// orderClause orders by the requested field, else the album's sort field,
// always breaking ties by id.
func orderClause(sc *albumSchema, order *SortOrder) ([]string, error) {
	var clauses []string
	switch {
	case order != nil:
		f, ok := sc.fieldOrID(order.Field)
		if !ok {
			return nil, errorf(KindNotFound, "build query", "album '%s' has no field '%s'", sc.album.Name, order.Field)
		}
		direction := "ASC"
		if !order.Ascending {
			direction = "DESC"
		}
		clauses = append(clauses, quoteIdent(f.Name)+" "+direction)
	case sc.album.SortField != "":
		if f, ok := sc.fieldOrID(sc.album.SortField); ok {
			clauses = append(clauses, quoteIdent(f.Name)+" ASC")
		}
	}
	if len(clauses) == 0 || !strings.HasPrefix(clauses[0], quoteIdent(idColumn)+" ") {
		clauses = append(clauses, quoteIdent(idColumn)+" ASC")
	}
	return clauses, nil
}

// buildQuery compiles predicates joined uniformly by AND or OR.
func buildQuery(sc *albumSchema, predicates []Predicate, connectByAnd bool, order *SortOrder, dateLayout string) (Query, error) {
	terms := make([]sq.Sqlizer, 0, len(predicates))
	for _, p := range predicates {
		term, err := predicateTerm(sc, p, dateLayout)
		if err != nil {
			return Query{}, err
		}
		terms = append(terms, term)
	}
	orderBy, err := orderClause(sc, order)
	if err != nil {
		return Query{}, err
	}

	queryBuilder := psql.Select("*").From(quoteIdent(sc.tables.data)).OrderBy(orderBy...)
	if len(terms) > 0 {
		if connectByAnd {
			queryBuilder = queryBuilder.Where(sq.And(terms))
		} else {
			queryBuilder = queryBuilder.Where(sq.Or(terms))
		}
	}
	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return Query{}, newError(KindCleanState, "build query", err)
	}
	return Query{Album: sc.album.Name, SQL: sqlStr, Args: args}, nil
}

// BuildQuery compiles predicates over an album. A nil order falls back to
// the album's sort field.
func (s *Session) BuildQuery(ctx context.Context, albumName string, predicates []Predicate, connectByAnd bool, order *SortOrder) (Query, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, err := s.querySchema(ctx, "build query", albumName)
	if err != nil {
		return Query{}, err
	}
	return buildQuery(sc, predicates, connectByAnd, order, s.dateFormat)
}

// SelectAll returns the query listing every item of an album.
func (s *Session) SelectAll(ctx context.Context, albumName string) (Query, error) {
	return s.BuildQuery(ctx, albumName, nil, true, nil)
}

func (s *Session) querySchema(ctx context.Context, op, albumName string) (*albumSchema, error) {
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

// Search runs q and returns a cursor over its rows. The caller must close it.
func (s *Session) Search(ctx context.Context, q Query) (*AlbumItemResultSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "search"
	sc, err := s.querySchema(ctx, op, q.Album)
	if err != nil {
		return nil, err
	}
	rows, err := s.conn.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, newError(KindCleanState, op, err)
	}
	rs, err := newResultSet(rows, sc)
	if err != nil {
		closeRows(rows)
		return nil, newError(KindCleanState, op, err)
	}
	return rs, nil
}
