// Package openapi indexes backend OpenAPI documents so that table data
// sources can be declared by operationId and checked against the query
// parameters the backend actually accepts.
package openapi

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

// SpecSource names one OpenAPI document to load.
type SpecSource struct {
	ServiceID string
	BaseURL   string
	SpecPath  string
}

// Operation is an indexed OpenAPI operation.
type Operation struct {
	ServiceID    string
	OperationID  string
	Method       string
	PathTemplate string
	BaseURL      string
	Parameters   []*openapi3.Parameter
}

// QueryParameters returns the names of the operation's query parameters in
// declaration order.
func (op Operation) QueryParameters() []string {
	var names []string
	for _, p := range op.Parameters {
		if p.In == openapi3.ParameterInQuery {
			names = append(names, p.Name)
		}
	}
	return names
}

// URL joins the base URL and the path template.
func (op Operation) URL() string {
	return strings.TrimSuffix(op.BaseURL, "/") + op.PathTemplate
}

// Index holds operations keyed by (serviceID, operationID). It is safe for
// concurrent use; Load may be called again to add or replace services.
type Index struct {
	mu         sync.RWMutex
	operations map[string]Operation
	byService  map[string][]string
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		operations: make(map[string]Operation),
		byService:  make(map[string][]string),
	}
}

func operationKey(serviceID, operationID string) string {
	return serviceID + ":" + operationID
}

// Load parses and validates each source and indexes its operations. A
// service's previous operations are replaced. Nothing is indexed if any
// source fails.
func (idx *Index) Load(specs []SpecSource) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	staged := make(map[string][]Operation, len(specs))
	for _, src := range specs {
		doc, err := loader.LoadFromFile(src.SpecPath)
		if err != nil {
			return fmt.Errorf("openapi: loading %s (%s): %w", src.ServiceID, src.SpecPath, err)
		}
		if err := doc.Validate(context.Background()); err != nil {
			return fmt.Errorf("openapi: validating %s: %w", src.ServiceID, err)
		}

		baseURL := src.BaseURL
		if baseURL == "" && len(doc.Servers) > 0 {
			baseURL = doc.Servers[0].URL
		}

		for path, item := range doc.Paths.Map() {
			for method, op := range item.Operations() {
				if op.OperationID == "" {
					continue
				}
				staged[src.ServiceID] = append(staged[src.ServiceID], Operation{
					ServiceID:    src.ServiceID,
					OperationID:  op.OperationID,
					Method:       method,
					PathTemplate: path,
					BaseURL:      baseURL,
					Parameters:   mergeParameters(item.Parameters, op.Parameters),
				})
			}
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	for serviceID, ops := range staged {
		for _, id := range idx.byService[serviceID] {
			delete(idx.operations, operationKey(serviceID, id))
		}
		ids := make([]string, 0, len(ops))
		for _, op := range ops {
			idx.operations[operationKey(serviceID, op.OperationID)] = op
			ids = append(ids, op.OperationID)
		}
		sort.Strings(ids)
		idx.byService[serviceID] = ids
	}
	return nil
}

// mergeParameters combines path-level and operation-level parameters. An
// operation parameter overrides a path parameter with the same name and
// location.
func mergeParameters(pathLevel, opLevel openapi3.Parameters) []*openapi3.Parameter {
	var params []*openapi3.Parameter
	overridden := make(map[string]bool)
	for _, ref := range opLevel {
		if ref.Value != nil {
			overridden[ref.Value.In+":"+ref.Value.Name] = true
		}
	}
	for _, ref := range pathLevel {
		if ref.Value != nil && !overridden[ref.Value.In+":"+ref.Value.Name] {
			params = append(params, ref.Value)
		}
	}
	for _, ref := range opLevel {
		if ref.Value != nil {
			params = append(params, ref.Value)
		}
	}
	return params
}

// GetOperation looks up an operation.
func (idx *Index) GetOperation(serviceID, operationID string) (Operation, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	op, ok := idx.operations[operationKey(serviceID, operationID)]
	return op, ok
}

// ResolveURL returns the absolute URL of an operation.
func (idx *Index) ResolveURL(serviceID, operationID string) (string, bool) {
	op, ok := idx.GetOperation(serviceID, operationID)
	if !ok {
		return "", false
	}
	return op.URL(), true
}

// AllOperationIDs returns the service's operation IDs, sorted.
func (idx *Index) AllOperationIDs(serviceID string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return append([]string(nil), idx.byService[serviceID]...)
}

// Services returns the indexed service IDs, sorted.
func (idx *Index) Services() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ids := make([]string, 0, len(idx.byService))
	for id := range idx.byService {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of indexed operations.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.operations)
}
