package query

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pitabwire/concierge/model"
)

// Validate is the shared struct validator. Field names in its errors are the
// JSON names, which are also the URL keys.
var Validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Check validates a state against the schema and limit ceiling and returns
// one FieldError per offending parameter, ordered by field name. A nil
// schema skips the sort and filter checks; maxLimit <= 0 means no ceiling.
func Check(s model.QueryState, schema *model.TableSchema, maxLimit int) []model.FieldError {
	var details []model.FieldError

	if err := Validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details = append(details, fieldError(fe))
			}
		} else {
			details = append(details, model.FieldError{Field: "query", Code: "INVALID", Message: err.Error()})
		}
	}
	if maxLimit > 0 && s.Limit > maxLimit {
		details = append(details, model.FieldError{
			Field:   KeyLimit,
			Code:    "OUT_OF_RANGE",
			Message: fmt.Sprintf("limit must not exceed %d", maxLimit),
		})
	}
	details = append(details, CheckSort(s.SortField, schema)...)
	details = append(details, CheckFilters(s.Filters, schema)...)

	slices.SortStableFunc(details, func(a, b model.FieldError) int {
		return strings.Compare(a.Field, b.Field)
	})
	return details
}

// CheckSort reports whether field may be sorted on under the schema.
func CheckSort(field string, schema *model.TableSchema) []model.FieldError {
	if field == "" || schema.IsSortable(field) {
		return nil
	}
	return []model.FieldError{{
		Field:   KeySortField,
		Code:    "NOT_SORTABLE",
		Message: fmt.Sprintf("%q is not a sortable field", field),
	}}
}

// CheckFilters validates filter keys and values against the schema. Empty
// values are ignored since they are never sent.
func CheckFilters(filters map[string]string, schema *model.TableSchema) []model.FieldError {
	var details []model.FieldError
	for key, val := range filters {
		if key == "" || val == "" {
			continue
		}
		if IsReserved(key) {
			details = append(details, model.FieldError{
				Field:   key,
				Code:    "RESERVED_KEY",
				Message: fmt.Sprintf("%q cannot be used as a filter", key),
			})
			continue
		}
		spec, ok := schema.Filter(key)
		if !ok {
			details = append(details, model.FieldError{
				Field:   key,
				Code:    "UNKNOWN_FILTER",
				Message: fmt.Sprintf("%q is not a filter of this table", key),
			})
			continue
		}
		if fe, bad := checkValue(key, val, spec); bad {
			details = append(details, fe)
		}
	}
	slices.SortFunc(details, func(a, b model.FieldError) int {
		return strings.Compare(a.Field, b.Field)
	})
	return details
}

func checkValue(key, val string, spec model.FilterSpec) (model.FieldError, bool) {
	switch spec.Type {
	case model.FilterNumber:
		if _, err := strconv.ParseFloat(val, 64); err != nil {
			return model.FieldError{Field: key, Code: "INVALID_NUMBER", Message: key + " must be a number"}, true
		}
	case model.FilterDate:
		if _, err := time.Parse(time.DateOnly, val); err != nil {
			return model.FieldError{Field: key, Code: "INVALID_DATE", Message: key + " must be a date (YYYY-MM-DD)"}, true
		}
	}
	if !spec.Allows(val) {
		return model.FieldError{
			Field:   key,
			Code:    "INVALID_OPTION",
			Message: fmt.Sprintf("%q is not an allowed value for %s", val, key),
		}, true
	}
	return model.FieldError{}, false
}

func fieldError(fe validator.FieldError) model.FieldError {
	field := fe.Field()
	switch fe.Tag() {
	case "gte", "gt":
		return model.FieldError{
			Field:   field,
			Code:    "OUT_OF_RANGE",
			Message: fmt.Sprintf("%s must be %s %s", field, comparison(fe.Tag()), fe.Param()),
		}
	case "oneof":
		return model.FieldError{
			Field:   field,
			Code:    "INVALID_OPTION",
			Message: fmt.Sprintf("%s must be one of: %s", field, fe.Param()),
		}
	default:
		return model.FieldError{Field: field, Code: strings.ToUpper(fe.Tag()), Message: fe.Error()}
	}
}

func comparison(tag string) string {
	if tag == "gt" {
		return "greater than"
	}
	return "at least"
}
