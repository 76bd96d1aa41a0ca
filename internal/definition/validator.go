package definition

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pitabwire/concierge/internal/openapi"
	"github.com/pitabwire/concierge/internal/query"
	"github.com/pitabwire/concierge/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks definitions structurally (struct tags), referentially
// (sort defaults, unique keys, reserved query keys) and against the
// OpenAPI index.
type Validator struct {
	structs *validator.Validate
}

// NewValidator creates a Validator. Paths in its errors use YAML key names.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{structs: v}
}

// Validate checks all definitions. A nil index skips the OpenAPI checks.
func (v *Validator) Validate(defs []model.DomainDefinition, index *openapi.Index) []VError {
	var errs []VError
	seen := make(map[string]string)

	for i, def := range defs {
		prefix := fmt.Sprintf("definitions[%d]", i)
		errs = append(errs, v.validateStruct(prefix, def)...)

		for j, t := range def.Tables {
			tp := fmt.Sprintf("%s.tables[%d]", prefix, j)
			if t.ID != "" {
				if other, dup := seen[t.ID]; dup {
					errs = append(errs, VError{
						Path:    tp + ".id",
						Code:    "DUPLICATE",
						Message: fmt.Sprintf("table %q is already declared by %s", t.ID, other),
					})
				}
				seen[t.ID] = def.SourceFile
			}
			errs = append(errs, v.validateTable(tp, t)...)
			if index != nil {
				errs = append(errs, v.validateOperation(tp, Entry{Domain: def.Domain, Table: t}, index)...)
			}
		}
	}
	return errs
}

func (v *Validator) validateStruct(prefix string, def model.DomainDefinition) []VError {
	err := v.structs.Struct(def)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []VError{{Path: prefix, Code: "INVALID", Message: err.Error()}}
	}

	out := make([]VError, 0, len(verrs))
	for _, fe := range verrs {
		// Namespace is "DomainDefinition.tables[0].id"; drop the type name.
		_, path, _ := strings.Cut(fe.Namespace(), ".")
		out = append(out, structError(prefix+"."+path, fe))
	}
	return out
}

func structError(path string, fe validator.FieldError) VError {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "required_without", "required_if", "min":
		return VError{Path: path, Code: "REQUIRED", Message: field + " is required"}
	case "oneof":
		return VError{Path: path, Code: "INVALID_ENUM", Message: fmt.Sprintf("%s must be one of: %s", field, fe.Param())}
	case "gt", "gte", "lte":
		return VError{Path: path, Code: "RANGE", Message: fmt.Sprintf("%s is out of range (%s %s)", field, fe.Tag(), fe.Param())}
	case "excluded_with":
		return VError{Path: path, Code: "CONFLICT", Message: fmt.Sprintf("%s cannot be combined with %s", field, strings.ToLower(fe.Param()))}
	default:
		return VError{Path: path, Code: strings.ToUpper(fe.Tag()), Message: fe.Error()}
	}
}

func (v *Validator) validateTable(prefix string, t model.TableDefinition) []VError {
	var errs []VError

	sortable := make(map[string]bool)
	columns := make(map[string]bool)
	for i, c := range t.Columns {
		if c.Key == "" {
			continue
		}
		if columns[c.Key] {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.columns[%d].key", prefix, i),
				Code:    "DUPLICATE",
				Message: fmt.Sprintf("column %q is declared twice", c.Key),
			})
		}
		columns[c.Key] = true
		if c.Sortable {
			sortable[c.Key] = true
		}
	}

	filters := make(map[string]bool)
	for i, f := range t.Filters {
		fp := fmt.Sprintf("%s.filters[%d].key", prefix, i)
		switch {
		case f.Key == "":
		case query.IsReserved(f.Key):
			errs = append(errs, VError{Path: fp, Code: "RESERVED_KEY", Message: fmt.Sprintf("%q is a reserved query key", f.Key)})
		case filters[f.Key]:
			errs = append(errs, VError{Path: fp, Code: "DUPLICATE", Message: fmt.Sprintf("filter %q is declared twice", f.Key)})
		}
		filters[f.Key] = true
	}

	if t.DefaultSort != "" && !sortable[t.DefaultSort] {
		errs = append(errs, VError{
			Path:    prefix + ".default_sort",
			Code:    "REF_NOT_FOUND",
			Message: fmt.Sprintf("default_sort %q is not a sortable column", t.DefaultSort),
		})
	}
	if t.SortDir != "" && t.DefaultSort == "" {
		errs = append(errs, VError{Path: prefix + ".sort_dir", Code: "REQUIRED", Message: "sort_dir needs default_sort"})
	}
	if t.PageSize > 0 && len(t.PageSizeOptions) > 0 && !slices.Contains(t.PageSizeOptions, t.PageSize) {
		errs = append(errs, VError{
			Path:    prefix + ".page_size",
			Code:    "REF_NOT_FOUND",
			Message: fmt.Sprintf("page_size %d is not one of page_size_options", t.PageSize),
		})
	}

	return errs
}

// validateOperation checks that an operation-backed table points at a GET
// that accepts every query key the table can send.
func (v *Validator) validateOperation(prefix string, e Entry, index *openapi.Index) []VError {
	ds := e.Table.DataSource
	if ds.OperationID == "" {
		return nil
	}
	path := prefix + ".data_source.operation_id"

	op, ok := index.GetOperation(e.ServiceID(), ds.OperationID)
	if !ok {
		return []VError{{
			Path:    path,
			Code:    "OPERATION_NOT_FOUND",
			Message: fmt.Sprintf("operation %q not found in service %q", ds.OperationID, e.ServiceID()),
		}}
	}
	if op.Method != http.MethodGet {
		return []VError{{
			Path:    path,
			Code:    "METHOD_NOT_ALLOWED",
			Message: fmt.Sprintf("operation %q is %s, tables need GET", ds.OperationID, op.Method),
		}}
	}

	declared := make(map[string]bool)
	for _, name := range op.QueryParameters() {
		declared[name] = true
	}
	required := []string{query.KeyPage, query.KeyLimit}
	if slices.ContainsFunc(e.Table.Columns, func(c model.ColumnDefinition) bool { return c.Sortable }) {
		required = append(required, query.KeySortField, query.KeySortOrder)
	}
	for _, f := range e.Table.Filters {
		if f.Key != "" {
			required = append(required, f.Key)
		}
	}

	var errs []VError
	for _, name := range required {
		if !declared[name] {
			errs = append(errs, VError{
				Path:    path,
				Code:    "PARAM_NOT_DECLARED",
				Message: fmt.Sprintf("operation %q does not declare query parameter %q", ds.OperationID, name),
			})
		}
	}
	return errs
}
