package models

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldType is the closed set of column types an album field may declare.
type FieldType int

const (
	FieldTypeID FieldType = iota
	FieldTypeText
	FieldTypeDecimal
	FieldTypeDate
	FieldTypeTime
	FieldTypeUUID
	FieldTypeStarRating
	FieldTypeURL
	FieldTypeInteger
	FieldTypeOption
)

// OptionType is the native value of an Option field.
type OptionType string

const (
	OptionYes  OptionType = "YES"
	OptionNo   OptionType = "NO"
	OptionNone OptionType = "NONE"
)

// StarRating is the native value of a StarRating field, 0 through MaxStarRating.
type StarRating int

const MaxStarRating StarRating = 5

const timeOfDayLayout = "15:04:05"

// fieldTypeSpec holds everything the store needs to know about one field
// type. Every type-dependent decision goes through this table.
type fieldTypeSpec struct {
	name      string
	sqlDomain string
	// textual types are compared with LIKE and rendered quoted
	textual      bool
	defaultValue func() any
	normalize    func(v any) (any, error)
	toStorage    func(v any) any
	fromStorage  func(raw any) (any, error)
	parse        func(text, dateLayout string) (any, error)
	format       func(v any, dateLayout string) string
}

var fieldTypeSpecs = [...]fieldTypeSpec{
	FieldTypeID: {
		name:         "ID",
		sqlDomain:    "INTEGER",
		defaultValue: func() any { return int64(0) },
		normalize:    normalizeInt,
		toStorage:    identity,
		fromStorage:  storedInt,
		parse:        parseInt,
		format:       formatInt,
	},
	FieldTypeText: {
		name:         "TEXT",
		sqlDomain:    "TEXT",
		textual:      true,
		defaultValue: func() any { return "" },
		normalize:    normalizeString,
		toStorage:    identity,
		fromStorage:  storedString,
		parse:        func(text, _ string) (any, error) { return text, nil },
		format:       func(v any, _ string) string { return v.(string) },
	},
	FieldTypeDecimal: {
		name:         "DECIMAL",
		sqlDomain:    "REAL",
		defaultValue: func() any { return float64(0) },
		normalize:    normalizeFloat,
		toStorage:    identity,
		fromStorage:  storedFloat,
		parse: func(text, _ string) (any, error) {
			f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
			if err != nil {
				return nil, err
			}
			return normalizeFloat(f)
		},
		format: func(v any, _ string) string { return strconv.FormatFloat(v.(float64), 'f', -1, 64) },
	},
	FieldTypeDate: {
		name:         "DATE",
		sqlDomain:    "INTEGER",
		defaultValue: func() any { return time.UnixMilli(0).UTC() },
		normalize:    normalizeDate,
		toStorage:    func(v any) any { return v.(time.Time).UnixMilli() },
		fromStorage: func(raw any) (any, error) {
			ms, err := storedInt(raw)
			if err != nil {
				return nil, err
			}
			return time.UnixMilli(ms.(int64)).UTC(), nil
		},
		parse: func(text, layout string) (any, error) {
			t, err := time.Parse(layout, strings.TrimSpace(text))
			if err != nil {
				return nil, err
			}
			return normalizeDate(t)
		},
		format: func(v any, layout string) string { return v.(time.Time).Format(layout) },
	},
	FieldTypeTime: {
		name:         "TIME",
		sqlDomain:    "TEXT",
		defaultValue: func() any { return time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC) },
		normalize:    normalizeTimeOfDay,
		toStorage:    func(v any) any { return v.(time.Time).Format(timeOfDayLayout) },
		fromStorage: func(raw any) (any, error) {
			s, err := storedString(raw)
			if err != nil {
				return nil, err
			}
			return parseTimeOfDay(s.(string), "")
		},
		parse:  parseTimeOfDay,
		format: func(v any, _ string) string { return v.(time.Time).Format(timeOfDayLayout) },
	},
	FieldTypeUUID: {
		name:         "UUID",
		sqlDomain:    "TEXT",
		defaultValue: func() any { return uuid.Nil },
		normalize:    normalizeUUID,
		toStorage:    func(v any) any { return v.(uuid.UUID).String() },
		fromStorage: func(raw any) (any, error) {
			s, err := storedString(raw)
			if err != nil {
				return nil, err
			}
			if s.(string) == "" {
				return uuid.Nil, nil
			}
			return uuid.Parse(s.(string))
		},
		parse:  func(text, _ string) (any, error) { return uuid.Parse(strings.TrimSpace(text)) },
		format: func(v any, _ string) string { return v.(uuid.UUID).String() },
	},
	FieldTypeStarRating: {
		name:         "STAR_RATING",
		sqlDomain:    "INTEGER",
		defaultValue: func() any { return StarRating(0) },
		normalize:    normalizeStarRating,
		toStorage:    func(v any) any { return int64(v.(StarRating)) },
		fromStorage: func(raw any) (any, error) {
			i, err := storedInt(raw)
			if err != nil {
				return nil, err
			}
			return normalizeStarRating(i)
		},
		parse: func(text, _ string) (any, error) {
			i, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
			if err != nil {
				return nil, err
			}
			return normalizeStarRating(i)
		},
		format: func(v any, _ string) string { return strconv.Itoa(int(v.(StarRating))) },
	},
	FieldTypeURL: {
		name:         "URL",
		sqlDomain:    "TEXT",
		textual:      true,
		defaultValue: func() any { return "" },
		normalize:    normalizeURL,
		toStorage:    identity,
		fromStorage:  storedString,
		parse:        func(text, _ string) (any, error) { return normalizeURL(strings.TrimSpace(text)) },
		format:       func(v any, _ string) string { return v.(string) },
	},
	FieldTypeInteger: {
		name:         "INTEGER",
		sqlDomain:    "INTEGER",
		defaultValue: func() any { return int64(0) },
		normalize:    normalizeInt,
		toStorage:    identity,
		fromStorage:  storedInt,
		parse:        parseInt,
		format:       formatInt,
	},
	FieldTypeOption: {
		name:         "OPTION",
		sqlDomain:    "TEXT",
		textual:      true,
		defaultValue: func() any { return OptionNone },
		normalize:    normalizeOption,
		toStorage:    func(v any) any { return string(v.(OptionType)) },
		fromStorage: func(raw any) (any, error) {
			s, err := storedString(raw)
			if err != nil {
				return nil, err
			}
			if s.(string) == "" {
				return OptionNone, nil
			}
			return normalizeOption(s)
		},
		parse:  func(text, _ string) (any, error) { return normalizeOption(strings.TrimSpace(text)) },
		format: func(v any, _ string) string { return string(v.(OptionType)) },
	},
}

// FieldTypes lists every field type in declaration order.
func FieldTypes() []FieldType {
	types := make([]FieldType, len(fieldTypeSpecs))
	for i := range fieldTypeSpecs {
		types[i] = FieldType(i)
	}
	return types
}

func (t FieldType) Valid() bool {
	return t >= FieldTypeID && int(t) < len(fieldTypeSpecs)
}

func (t FieldType) spec() fieldTypeSpec {
	if !t.Valid() {
		panic(fmt.Sprintf("models: invalid field type %d", int(t)))
	}
	return fieldTypeSpecs[t]
}

// String returns the name persisted in type-info tables.
func (t FieldType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("FieldType(%d)", int(t))
	}
	return fieldTypeSpecs[t].name
}

func (t FieldType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid field type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *FieldType) UnmarshalText(text []byte) error {
	parsed, err := ParseFieldType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseFieldType maps a persisted type name back to its FieldType.
func ParseFieldType(name string) (FieldType, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for i, spec := range fieldTypeSpecs {
		if spec.name == name {
			return FieldType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown field type %q", name)
}

// SQLDomain is the column type used in data tables.
func (t FieldType) SQLDomain() string { return t.spec().sqlDomain }

// Textual reports whether values are compared as text and quoted in SQL literals.
func (t FieldType) Textual() bool { return t.spec().textual }

// DefaultValue returns the value used for rows that predate a field.
func (t FieldType) DefaultValue() any { return t.spec().defaultValue() }

// Normalize converts v to the type's native representation, failing when v
// is not a valid value for the type. A nil v yields the default value.
func (t FieldType) Normalize(v any) (any, error) {
	if v == nil {
		return t.DefaultValue(), nil
	}
	n, err := t.spec().normalize(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %v: %w", t, v, err)
	}
	return n, nil
}

// ToStorage converts a native value into the driver value stored in the column.
func (t FieldType) ToStorage(v any) (any, error) {
	n, err := t.Normalize(v)
	if err != nil {
		return nil, err
	}
	return t.spec().toStorage(n), nil
}

// FromStorage converts a scanned driver value into the native value.
func (t FieldType) FromStorage(raw any) (any, error) {
	if raw == nil {
		return t.DefaultValue(), nil
	}
	v, err := t.spec().fromStorage(raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt %s value %v: %w", t, raw, err)
	}
	return v, nil
}

// Parse reads a native value from user text. dateLayout is a Go time layout.
func (t FieldType) Parse(text, dateLayout string) (any, error) {
	return t.spec().parse(text, dateLayout)
}

// Format renders a native value as user text.
func (t FieldType) Format(v any, dateLayout string) string {
	n, err := t.Normalize(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return t.spec().format(n, dateLayout)
}

func identity(v any) any { return v }

func normalizeInt(v any) (any, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case StarRating:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return nil, fmt.Errorf("not an integer")
		}
		return int64(n), nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

func parseInt(text, _ string) (any, error) {
	return strconv.ParseInt(strings.TrimSpace(text), 10, 64)
}

func formatInt(v any, _ string) string { return strconv.FormatInt(v.(int64), 10) }

func normalizeString(v any) (any, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

func normalizeFloat(v any) (any, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("not a finite number")
	}
	return f, nil
}

func normalizeDate(v any) (any, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, fmt.Errorf("unsupported type %T", v)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

func normalizeTimeOfDay(v any) (any, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, fmt.Errorf("unsupported type %T", v)
	}
	return time.Date(0, 1, 1, t.Hour(), t.Minute(), t.Second(), 0, time.UTC), nil
}

func parseTimeOfDay(text, _ string) (any, error) {
	text = strings.TrimSpace(text)
	for _, layout := range []string{timeOfDayLayout, "15:04"} {
		if t, err := time.Parse(layout, text); err == nil {
			return normalizeTimeOfDay(t)
		}
	}
	return nil, fmt.Errorf("time %q does not match HH:MM[:SS]", text)
}

func normalizeUUID(v any) (any, error) {
	switch u := v.(type) {
	case uuid.UUID:
		return u, nil
	case string:
		return uuid.Parse(u)
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

func normalizeStarRating(v any) (any, error) {
	var n int64
	switch r := v.(type) {
	case StarRating:
		n = int64(r)
	case int:
		n = int64(r)
	case int64:
		n = r
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
	if n < 0 || n > int64(MaxStarRating) {
		return nil, fmt.Errorf("rating %d outside 0..%d", n, MaxStarRating)
	}
	return StarRating(n), nil
}

func normalizeURL(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("unsupported type %T", v)
	}
	if s == "" {
		return s, nil
	}
	if _, err := url.Parse(s); err != nil {
		return nil, err
	}
	return s, nil
}

func normalizeOption(v any) (any, error) {
	switch o := v.(type) {
	case OptionType:
		v = string(o)
	case bool:
		if o {
			return OptionYes, nil
		}
		return OptionNo, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("unsupported type %T", v)
	}
	switch opt := OptionType(strings.ToUpper(s)); opt {
	case OptionYes, OptionNo, OptionNone:
		return opt, nil
	default:
		return nil, fmt.Errorf("option must be one of YES, NO, NONE")
	}
}

func storedInt(raw any) (any, error) {
	switch n := raw.(type) {
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return nil, fmt.Errorf("unexpected storage type %T", raw)
	}
}

func storedFloat(raw any) (any, error) {
	switch n := raw.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case []byte:
		return strconv.ParseFloat(string(n), 64)
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return nil, fmt.Errorf("unexpected storage type %T", raw)
	}
}

func storedString(raw any) (any, error) {
	switch s := raw.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case int64:
		return strconv.FormatInt(s, 10), nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	default:
		return nil, fmt.Errorf("unexpected storage type %T", raw)
	}
}
