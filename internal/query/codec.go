// Package query converts between URL query strings and model.QueryState.
//
// The URL is the only durable representation of a table's state: page,
// limit, sort and every filter are flat string key/value pairs. Decoding
// validates the parameters against the closed schema of the entity being
// listed so that unknown keys never reach the backend.
package query

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/pitabwire/concierge/model"
)

// Reserved query keys. Every other key is a filter.
const (
	KeyPage      = "page"
	KeyLimit     = "limit"
	KeySortField = "sortField"
	KeySortOrder = "sortOrder"
)

// FallbackLimit is used when neither the URL nor the defaults carry a limit.
const FallbackLimit = 10

// IsReserved reports whether key is one of the pagination or sort keys.
func IsReserved(key string) bool {
	switch key {
	case KeyPage, KeyLimit, KeySortField, KeySortOrder:
		return true
	}
	return false
}

// Defaults fill keys missing from the URL.
type Defaults struct {
	Limit     int
	MaxLimit  int
	SortField string
	SortOrder model.SortOrder
}

// Encode writes the state as URL values. Sort keys are only written when a
// sort field is active and filters with empty values are omitted.
func Encode(s model.QueryState) url.Values {
	v := url.Values{}
	v.Set(KeyPage, strconv.Itoa(s.Page))
	v.Set(KeyLimit, strconv.Itoa(s.Limit))
	if s.SortField != "" {
		v.Set(KeySortField, s.SortField)
		if s.SortOrder != "" {
			v.Set(KeySortOrder, string(s.SortOrder))
		}
	}
	for k, val := range s.ActiveFilters() {
		if IsReserved(k) {
			continue
		}
		v.Set(k, val)
	}
	return v
}

// Decode parses URL values into a validated QueryState. Absent keys take
// their value from d; a nil schema accepts every filter and sort field.
// Failures are reported as a single VALIDATION_ERROR listing every bad
// parameter.
func Decode(values url.Values, schema *model.TableSchema, d Defaults) (model.QueryState, error) {
	var details []model.FieldError

	s := model.QueryState{
		Page:    1,
		Limit:   d.Limit,
		Filters: map[string]string{},
	}
	if s.Limit <= 0 {
		s.Limit = FallbackLimit
	}

	if raw := strings.TrimSpace(values.Get(KeyPage)); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			details = append(details, invalidInteger(KeyPage))
		} else {
			s.Page = n
		}
	}
	if raw := strings.TrimSpace(values.Get(KeyLimit)); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			details = append(details, invalidInteger(KeyLimit))
		} else {
			s.Limit = n
		}
	}

	s.SortField = strings.TrimSpace(values.Get(KeySortField))
	s.SortOrder = model.SortOrder(strings.ToLower(strings.TrimSpace(values.Get(KeySortOrder))))
	if s.SortField == "" {
		if s.SortOrder != "" && d.SortField == "" {
			// An order without a field has nothing to apply to.
			s.SortOrder = ""
		}
		if d.SortField != "" {
			s.SortField = d.SortField
			if s.SortOrder == "" {
				s.SortOrder = d.SortOrder
			}
		}
	}

	for key, vals := range values {
		if IsReserved(key) || len(vals) == 0 {
			continue
		}
		val := strings.TrimSpace(vals[0])
		if key == "" || val == "" {
			continue
		}
		s.Filters[key] = val
	}

	details = append(details, Check(s, schema, d.MaxLimit)...)
	if len(details) > 0 {
		return s, model.NewValidationError(dedupe(details))
	}
	return s, nil
}

// BuildRequest returns the backend URL for the state:
// {endpoint}?limit=&page=&sortField=&sortOrder=&{filter}=... with the
// parameters in sorted order. Query parameters already present on endpoint
// are kept unless the state overrides them.
func BuildRequest(endpoint string, s model.QueryState) (string, error) {
	if strings.TrimSpace(endpoint) == "" {
		return "", model.NewConfigurationError("endpoint is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", model.NewConfigurationError("endpoint is not a valid URL").WithCause(err)
	}
	q := u.Query()
	for k, vals := range Encode(s) {
		q[k] = vals
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Canonical returns the sorted, encoded query string of the state. Two
// states that would produce the same backend request share a canonical form.
func Canonical(s model.QueryState) string {
	return Encode(s).Encode()
}

func invalidInteger(field string) model.FieldError {
	return model.FieldError{
		Field:   field,
		Code:    "INVALID_INTEGER",
		Message: field + " must be an integer",
	}
}

func dedupe(details []model.FieldError) []model.FieldError {
	seen := make(map[string]bool, len(details))
	out := details[:0]
	for _, d := range details {
		if seen[d.Field] {
			continue
		}
		seen[d.Field] = true
		out = append(out, d)
	}
	return out
}
