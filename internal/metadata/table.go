// Package metadata resolves table definitions into the descriptors and
// column renderers served to the portals.
package metadata

import (
	"fmt"

	"github.com/pitabwire/concierge/internal/definition"
	"github.com/pitabwire/concierge/internal/openapi"
	"github.com/pitabwire/concierge/internal/table"
	"github.com/pitabwire/concierge/model"
)

const defaultPageSize = 25

// Row is the row type of every definition-driven table.
type Row = map[string]any

// ResolvedTable is everything needed to run a controller for one table.
type ResolvedTable struct {
	Domain     string
	Definition model.TableDefinition
	// Endpoint is the absolute backend list URL.
	Endpoint string
	Schema   *model.TableSchema
}

// TableProvider resolves table definitions for a session.
type TableProvider struct {
	registry *definition.Registry
	index    *openapi.Index
	pageSize int
}

// NewTableProvider creates a TableProvider. index may be nil when every
// table declares an absolute path. pageSize is used for tables that do not
// set one; values <= 0 select 25.
func NewTableProvider(registry *definition.Registry, index *openapi.Index, pageSize int) *TableProvider {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &TableProvider{registry: registry, index: index, pageSize: pageSize}
}

// ListTables returns the tables the session may open, ordered by ID, with
// translated titles.
func (p *TableProvider) ListTables(session model.Session, tr model.Translator) []model.TableSummary {
	tr = translatorOrIdentity(tr)
	var out []model.TableSummary
	for _, e := range p.registry.AllTables() {
		if !session.HasAnyRole(e.Table.Roles...) {
			continue
		}
		out = append(out, model.TableSummary{ID: e.Table.ID, Title: tr.T(e.Table.Title)})
	}
	return out
}

// Resolve looks up a table and checks the session may read it. Unknown
// tables are NOT_FOUND, role mismatches FORBIDDEN and unresolvable data
// sources CONFIGURATION_ERROR.
func (p *TableProvider) Resolve(session model.Session, id string) (ResolvedTable, error) {
	e, ok := p.registry.GetTable(id)
	if !ok {
		return ResolvedTable{}, model.NewNotFoundError(fmt.Sprintf("table %q not found", id))
	}
	if !session.HasAnyRole(e.Table.Roles...) {
		return ResolvedTable{}, model.NewForbiddenError(fmt.Sprintf("insufficient role for table %q", id))
	}

	endpoint, err := p.endpoint(e)
	if err != nil {
		return ResolvedTable{}, err
	}
	return ResolvedTable{
		Domain:     e.Domain,
		Definition: e.Table,
		Endpoint:   endpoint,
		Schema:     e.Table.Schema(),
	}, nil
}

func (p *TableProvider) endpoint(e definition.Entry) (string, error) {
	ds := e.Table.DataSource
	if ds.Path != "" {
		return ds.Path, nil
	}
	if p.index == nil {
		return "", model.NewConfigurationError(fmt.Sprintf("table %q: no OpenAPI index to resolve %q", e.Table.ID, ds.OperationID))
	}
	url, ok := p.index.ResolveURL(e.ServiceID(), ds.OperationID)
	if !ok {
		return "", model.NewConfigurationError(fmt.Sprintf("table %q: operation %q not found in service %q", e.Table.ID, ds.OperationID, e.ServiceID()))
	}
	return url, nil
}

// GetTable resolves the descriptor of a table with translated labels.
func (p *TableProvider) GetTable(session model.Session, tr model.Translator, id string) (model.TableDescriptor, error) {
	rt, err := p.Resolve(session, id)
	if err != nil {
		return model.TableDescriptor{}, err
	}
	return p.Describe(rt, tr), nil
}

// Describe builds the descriptor of an already resolved table.
func (p *TableProvider) Describe(rt ResolvedTable, tr model.Translator) model.TableDescriptor {
	tr = translatorOrIdentity(tr)
	def := rt.Definition

	desc := model.TableDescriptor{
		ID:              def.ID,
		Title:           tr.T(def.Title),
		DataEndpoint:    fmt.Sprintf("/ui/tables/%s/data", def.ID),
		DefaultSort:     def.DefaultSort,
		SortDir:         def.SortDir,
		PageSize:        p.PageSize(def),
		PageSizeOptions: def.PageSizeOptions,
	}
	if desc.DefaultSort != "" && desc.SortDir == "" {
		desc.SortDir = model.SortAsc
	}

	for _, c := range def.Columns {
		desc.Columns = append(desc.Columns, model.ColumnDescriptor{
			Key:       c.Key,
			Label:     tr.T(c.Label),
			Type:      columnType(c),
			Sortable:  c.Sortable,
			Format:    c.Format,
			Width:     c.Width,
			StatusMap: c.StatusMap,
		})
	}
	for _, f := range def.Filters {
		fd := model.FilterDescriptor{Key: f.Key, Label: tr.T(f.Label), Type: f.Type}
		for _, o := range f.Options {
			fd.Options = append(fd.Options, model.OptionDescriptor{Label: tr.T(o.Label), Value: o.Value})
		}
		desc.Filters = append(desc.Filters, fd)
	}
	return desc
}

// PageSize returns the table's page size or the provider default.
func (p *TableProvider) PageSize(def model.TableDefinition) int {
	if def.PageSize > 0 {
		return def.PageSize
	}
	return p.pageSize
}

// InitialQuery is the state a table opens with before the URL is applied.
func (p *TableProvider) InitialQuery(def model.TableDefinition) model.QueryState {
	q := model.QueryState{Page: 1, Limit: p.PageSize(def)}
	if def.DefaultSort != "" {
		q.SortField = def.DefaultSort
		q.SortOrder = def.SortDir
		if q.SortOrder == "" {
			q.SortOrder = model.SortAsc
		}
	}
	return q
}

func columnType(c model.ColumnDefinition) string {
	if c.Type == "" {
		return FormatText
	}
	return c.Type
}

func translatorOrIdentity(tr model.Translator) model.Translator {
	if tr == nil {
		return model.IdentityTranslator
	}
	return tr
}

// Columns builds the controller columns of a table. Labels are message IDs;
// the controller translates them.
func Columns(def model.TableDefinition, tr model.Translator, locale string) []table.Column[Row] {
	tr = translatorOrIdentity(tr)
	r := newRenderers(tr, locale)

	cols := make([]table.Column[Row], 0, len(def.Columns))
	for _, c := range def.Columns {
		cols = append(cols, table.Column[Row]{
			Key:      c.Key,
			Label:    c.Label,
			Sortable: c.Sortable,
			Render:   r.forColumn(c, optionLabels(def, c.Key)),
		})
	}
	return cols
}

// optionLabels maps select filter values of key to their label IDs, so that
// status cells read the same as the filter options.
func optionLabels(def model.TableDefinition, key string) map[string]string {
	for _, f := range def.Filters {
		if f.Key != key || len(f.Options) == 0 {
			continue
		}
		labels := make(map[string]string, len(f.Options))
		for _, o := range f.Options {
			labels[o.Value] = o.Label
		}
		return labels
	}
	return nil
}
