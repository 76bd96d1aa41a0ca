package model

import "slices"

// Filter types.
const (
	FilterText   = "text"
	FilterSelect = "select"
	FilterNumber = "number"
	FilterDate   = "date"
)

// TableSchema is the closed set of query keys an entity accepts. The URL is
// validated against it when parsed into a QueryState.
type TableSchema struct {
	Entity     string
	SortFields map[string]bool
	Filters    map[string]FilterSpec
}

// FilterSpec declares one filter key.
type FilterSpec struct {
	Type    string
	Options []string
}

// Allows reports whether value is acceptable for the filter. Select filters
// only accept their declared options.
func (f FilterSpec) Allows(value string) bool {
	if f.Type == FilterSelect && len(f.Options) > 0 {
		return slices.Contains(f.Options, value)
	}
	return true
}

// IsSortable reports whether field may be used as the sort field.
func (s *TableSchema) IsSortable(field string) bool {
	if s == nil {
		return true
	}
	return s.SortFields[field]
}

// Filter returns the spec for key.
func (s *TableSchema) Filter(key string) (FilterSpec, bool) {
	if s == nil {
		return FilterSpec{Type: FilterText}, true
	}
	f, ok := s.Filters[key]
	return f, ok
}
