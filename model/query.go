package model

import (
	"maps"
	"strings"
)

// SortOrder is the direction of the single active sort field.
type SortOrder string

// Sort directions.
const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Valid returns true for asc and desc.
func (o SortOrder) Valid() bool {
	return o == SortAsc || o == SortDesc
}

// QueryState is the page/limit/sort/filter tuple driving a data fetch. It is
// the single source of truth for what a table should show and lives in the
// URL query string.
type QueryState struct {
	Page      int               `json:"page"       validate:"gte=1"`
	Limit     int               `json:"limit"      validate:"gt=0"`
	SortField string            `json:"sortField,omitempty"`
	SortOrder SortOrder         `json:"sortOrder,omitempty" validate:"omitempty,oneof=asc desc"`
	Filters   map[string]string `json:"filters"`
}

// Clone returns a deep copy of the state.
func (q QueryState) Clone() QueryState {
	cp := q
	cp.Filters = maps.Clone(q.Filters)
	if cp.Filters == nil {
		cp.Filters = map[string]string{}
	}
	return cp
}

// ActiveFilters returns the filters with a non-blank value, trimmed. Blank
// values mean "unset" and are never sent to the backend.
func (q QueryState) ActiveFilters() map[string]string {
	active := make(map[string]string, len(q.Filters))
	for k, v := range q.Filters {
		v = strings.TrimSpace(v)
		if k != "" && v != "" {
			active[k] = v
		}
	}
	return active
}

// Equal compares two states, treating nil and empty filter maps, and empty
// filter values, as equivalent.
func (q QueryState) Equal(other QueryState) bool {
	if q.Page != other.Page || q.Limit != other.Limit ||
		q.SortField != other.SortField || q.SortOrder != other.SortOrder {
		return false
	}
	return maps.Equal(q.ActiveFilters(), other.ActiveFilters())
}

// HasSort returns true when a sort field is active.
func (q QueryState) HasSort() bool {
	return q.SortField != ""
}
