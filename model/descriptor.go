package model

// TableSummary is a single entry of the table listing.
type TableSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// TableDescriptor is the resolved table metadata sent to the frontend.
type TableDescriptor struct {
	ID              string             `json:"id"`
	Title           string             `json:"title"`
	Columns         []ColumnDescriptor `json:"columns"`
	Filters         []FilterDescriptor `json:"filters,omitempty"`
	DataEndpoint    string             `json:"data_endpoint"`
	DefaultSort     string             `json:"default_sort,omitempty"`
	SortDir         SortOrder          `json:"sort_dir,omitempty"`
	PageSize        int                `json:"page_size"`
	PageSizeOptions []int              `json:"page_size_options,omitempty"`
}

// ColumnDescriptor describes a visible table column.
type ColumnDescriptor struct {
	Key       string            `json:"key"`
	Label     string            `json:"label"`
	Type      string            `json:"type"`
	Sortable  bool              `json:"sortable"`
	Format    string            `json:"format,omitempty"`
	Width     string            `json:"width,omitempty"`
	StatusMap map[string]string `json:"status_map,omitempty"`
}

// FilterDescriptor describes a resolved filter control.
type FilterDescriptor struct {
	Key     string             `json:"key"`
	Label   string             `json:"label"`
	Type    string             `json:"type"`
	Options []OptionDescriptor `json:"options,omitempty"`
}

// OptionDescriptor is a resolved option for select filters.
type OptionDescriptor struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// PageItem is one entry of the page-number strip.
type PageItem struct {
	Page     int  `json:"page,omitempty"`
	Ellipsis bool `json:"ellipsis,omitempty"`
	Current  bool `json:"current,omitempty"`
}

// PaginationView is everything a pagination widget needs to render.
type PaginationView struct {
	Items   []PageItem `json:"items"`
	HasPrev bool       `json:"has_prev"`
	HasNext bool       `json:"has_next"`
	Prev    int        `json:"prev,omitempty"`
	Next    int        `json:"next,omitempty"`
	From    int        `json:"from"`
	To      int        `json:"to"`
}

// TableView is the settled state of a table for one query, as served by the
// data endpoint.
type TableView struct {
	Rows       []map[string]any `json:"rows"`
	Cells      [][]string       `json:"cells"`
	Meta       Meta             `json:"meta"`
	Lifecycle  LifecycleState   `json:"lifecycle"`
	Error      *ErrorEnvelope   `json:"error,omitempty"`
	Query      QueryState       `json:"query"`
	URL        string           `json:"url"`
	Pagination PaginationView   `json:"pagination"`
}
