package model

// DomainDefinition is the root structure of a definition file. Each file
// declares the listing tables of one entity domain (admin, hotel, vendor,
// order, ...).
type DomainDefinition struct {
	Domain  string            `yaml:"domain"  json:"domain"  validate:"required"`
	Version string            `yaml:"version" json:"version" validate:"required"`
	Tables  []TableDefinition `yaml:"tables"  json:"tables"  validate:"min=1,dive"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// TableDefinition describes a server-driven listing table.
type TableDefinition struct {
	ID              string               `yaml:"id"                json:"id"                          validate:"required"`
	Title           string               `yaml:"title"             json:"title"                       validate:"required"`
	Roles           []string             `yaml:"roles"             json:"roles,omitempty"`
	DataSource      DataSourceDefinition `yaml:"data_source"       json:"data_source"`
	Columns         []ColumnDefinition   `yaml:"columns"           json:"columns"                     validate:"min=1,dive"`
	Filters         []FilterDefinition   `yaml:"filters"           json:"filters,omitempty"           validate:"dive"`
	DefaultSort     string               `yaml:"default_sort"      json:"default_sort,omitempty"`
	SortDir         SortOrder            `yaml:"sort_dir"          json:"sort_dir,omitempty"          validate:"omitempty,oneof=asc desc"`
	PageSize        int                  `yaml:"page_size"         json:"page_size,omitempty"         validate:"gte=0,lte=200"`
	PageSizeOptions []int                `yaml:"page_size_options" json:"page_size_options,omitempty" validate:"dive,gt=0,lte=200"`
}

// DataSourceDefinition describes the backend list endpoint. Either Path or
// the (ServiceID, OperationID) pair resolved through the OpenAPI index is set.
type DataSourceDefinition struct {
	ServiceID   string `yaml:"service_id"   json:"service_id,omitempty"`
	OperationID string `yaml:"operation_id" json:"operation_id,omitempty" validate:"excluded_with=Path"`
	Path        string `yaml:"path"         json:"path,omitempty"         validate:"required_without=OperationID"`
}

// ColumnDefinition describes a table column.
type ColumnDefinition struct {
	Key       string            `yaml:"key"        json:"key"                  validate:"required"`
	Label     string            `yaml:"label"      json:"label"                validate:"required"`
	Type      string            `yaml:"type"       json:"type"                 validate:"omitempty,oneof=text number currency date status bool"`
	Sortable  bool              `yaml:"sortable"   json:"sortable,omitempty"`
	Format    string            `yaml:"format"     json:"format,omitempty"`
	Width     string            `yaml:"width"      json:"width,omitempty"`
	StatusMap map[string]string `yaml:"status_map" json:"status_map,omitempty"`
}

// FilterDefinition describes a filter control above a table.
type FilterDefinition struct {
	Key     string         `yaml:"key"     json:"key"               validate:"required"`
	Label   string         `yaml:"label"   json:"label"`
	Type    string         `yaml:"type"    json:"type"              validate:"required,oneof=text select number date"`
	Options []StaticOption `yaml:"options" json:"options,omitempty" validate:"required_if=Type select,dive"`
}

// StaticOption is a label/value pair for select filters.
type StaticOption struct {
	Label string `yaml:"label" json:"label"`
	Value string `yaml:"value" json:"value" validate:"required"`
}

// Schema builds the closed query schema for the table: the sortable fields
// and the declared filter keys.
func (t TableDefinition) Schema() *TableSchema {
	s := &TableSchema{
		Entity:     t.ID,
		SortFields: make(map[string]bool),
		Filters:    make(map[string]FilterSpec, len(t.Filters)),
	}
	for _, c := range t.Columns {
		if c.Sortable {
			s.SortFields[c.Key] = true
		}
	}
	for _, f := range t.Filters {
		spec := FilterSpec{Type: f.Type}
		for _, o := range f.Options {
			spec.Options = append(spec.Options, o.Value)
		}
		s.Filters[f.Key] = spec
	}
	return s
}
