package database

import (
	"fmt"
	"strings"
)

const (
	SortAscending  = "asc"
	SortDescending = "desc"
)

// SortOrder orders query results by one field.
type SortOrder struct {
	Field     string
	Ascending bool
}

// IsValidSortDirection checks if a string is a valid sort direction constant
func IsValidSortDirection(direction string) bool {
	switch strings.ToLower(direction) {
	case SortAscending, SortDescending:
		return true
	default:
		return false
	}
}

// ParseSortOrder reads "field" or "field:asc|desc".
func ParseSortOrder(s string) (SortOrder, error) {
	field, direction, hasDirection := strings.Cut(s, ":")
	field = strings.TrimSpace(field)
	if field == "" {
		return SortOrder{}, fmt.Errorf("sort order %q names no field", s)
	}
	if !hasDirection {
		return SortOrder{Field: field, Ascending: true}, nil
	}
	if !IsValidSortDirection(direction) {
		return SortOrder{}, fmt.Errorf("invalid sort direction %q", direction)
	}
	return SortOrder{Field: field, Ascending: strings.EqualFold(direction, SortAscending)}, nil
}
