// Package table implements the query-synchronized data table controller.
//
// A Controller owns the page, page size, sort and filters of one listing,
// mirrors them into a URL Location and fetches the matching page of rows
// from the backend. Requests carry a sequence number and only the newest
// issued request may update the table: a slow response that arrives after
// a newer request was issued is discarded.
package table

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/concierge/internal/pagination"
	"github.com/pitabwire/concierge/internal/query"
	"github.com/pitabwire/concierge/model"
)

// Column is the stable contract of one rendered column.
type Column[T any] struct {
	Key      string
	Label    string
	Sortable bool
	Render   func(T) string
}

// Cell renders the column for row, or "" when the column has no renderer.
func (c Column[T]) Cell(row T) string {
	if c.Render == nil {
		return ""
	}
	return c.Render(row)
}

// Controller synchronizes a table's query state with its URL and backend.
// All methods are safe for concurrent use.
type Controller[T any] struct {
	endpoint string
	columns  []Column[T]
	opts     options
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        model.QueryState
	rows         []T
	meta         model.Meta
	lifecycle    model.LifecycleState
	err          *model.ErrorEnvelope
	refreshToken uint64
	issued       uint64
	inflight     map[uint64]context.CancelFunc
	swap         *swapTask
	idle         chan struct{}
	idleClosed   bool
	closed       bool
}

// New validates the configuration, writes the initial state to the
// location and issues the first fetch. Configuration mistakes are returned
// as CONFIGURATION_ERROR; nothing is fetched in that case.
func New[T any](endpoint string, initial model.QueryState, columns []Column[T], opts ...Option) (*Controller[T], error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if err := validateConfig(endpoint, columns, o); err != nil {
		return nil, err
	}

	state, err := normalize(initial, columns, o)
	if err != nil {
		return nil, err
	}

	cols := make([]Column[T], len(columns))
	for i, c := range columns {
		c.Label = o.translator.T(c.Label)
		cols[i] = c
	}

	if o.location == nil {
		o.location = NewMemoryLocation(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller[T]{
		endpoint: strings.TrimSpace(endpoint),
		columns:  cols,
		opts:     o,
		logger:   o.logger.With(zap.String("endpoint", strings.TrimSpace(endpoint))),
		ctx:      ctx,
		cancel:   cancel,
		state:    state,
		inflight: make(map[uint64]context.CancelFunc),
		idle:     make(chan struct{}),
	}
	close(c.idle)
	c.idleClosed = true

	c.mu.Lock()
	c.writeLocationLocked()
	c.issueLocked(false)
	c.mu.Unlock()

	return c, nil
}

func validateConfig[T any](endpoint string, columns []Column[T], o options) error {
	if strings.TrimSpace(endpoint) == "" {
		return model.NewConfigurationError("endpoint is required")
	}
	if len(columns) == 0 {
		return model.NewConfigurationError("at least one column is required")
	}
	seen := make(map[string]bool, len(columns))
	for i, c := range columns {
		if strings.TrimSpace(c.Key) == "" {
			return model.NewConfigurationError(fmt.Sprintf("column %d has an empty key", i))
		}
		if seen[c.Key] {
			return model.NewConfigurationError(fmt.Sprintf("duplicate column key %q", c.Key))
		}
		seen[c.Key] = true
	}
	if o.fetcher == nil {
		return model.NewConfigurationError("a fetcher is required")
	}
	if o.maxLimit > 0 && o.defaultLimit > o.maxLimit {
		return model.NewConfigurationError("default limit exceeds max limit")
	}
	return nil
}

// normalize fixes out-of-range page and limit and rejects sort fields and
// filters that the columns or schema do not declare.
func normalize[T any](initial model.QueryState, columns []Column[T], o options) (model.QueryState, error) {
	s := initial.Clone()
	if s.Page < 1 {
		s.Page = 1
	}
	if s.Limit <= 0 {
		s.Limit = o.defaultLimit
	}
	if o.maxLimit > 0 && s.Limit > o.maxLimit {
		s.Limit = o.maxLimit
	}
	s.Filters = s.ActiveFilters()
	if s.SortField == "" {
		s.SortOrder = ""
	} else if s.SortOrder == "" {
		s.SortOrder = model.SortAsc
	}

	if s.SortField != "" {
		if err := checkSort(s.SortField, s.SortOrder, columns, o.schema); err != nil {
			return s, model.NewConfigurationError("initial sort is invalid: " + err.Message)
		}
	}
	if details := query.CheckFilters(s.Filters, o.schema); len(details) > 0 {
		ee := model.NewConfigurationError("initial filters are invalid")
		ee.Details = details
		return s, ee
	}
	return s, nil
}

func checkSort[T any](field string, order model.SortOrder, columns []Column[T], schema *model.TableSchema) *model.ErrorEnvelope {
	if !order.Valid() {
		return model.NewBadRequestError(fmt.Sprintf("sort order %q must be asc or desc", order))
	}
	idx := slices.IndexFunc(columns, func(c Column[T]) bool { return c.Key == field })
	if idx < 0 || !columns[idx].Sortable {
		return model.NewBadRequestError(fmt.Sprintf("column %q is not sortable", field))
	}
	if details := query.CheckSort(field, schema); len(details) > 0 {
		return model.NewBadRequestError(details[0].Message)
	}
	return nil
}

// SetPage requests page n. Pages beyond the last known page are still
// requested since the server is authoritative.
func (c *Controller[T]) SetPage(n int) error {
	if n < 1 {
		return model.NewBadRequestError(fmt.Sprintf("page must be at least 1, got %d", n))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.state.Clone()
	next.Page = n
	c.commitLocked(next)
	return nil
}

// SetPageSize changes the page size and returns to page 1.
func (c *Controller[T]) SetPageSize(n int) error {
	if n <= 0 {
		return model.NewBadRequestError(fmt.Sprintf("page size must be positive, got %d", n))
	}
	if c.opts.maxLimit > 0 && n > c.opts.maxLimit {
		return model.NewBadRequestError(fmt.Sprintf("page size must not exceed %d", c.opts.maxLimit))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.state.Clone()
	next.Limit = n
	next.Page = 1
	c.commitLocked(next)
	return nil
}

// SetSort makes field the single active sort and returns to page 1.
// Filters are kept.
func (c *Controller[T]) SetSort(field string, order model.SortOrder) error {
	if err := checkSort(field, order, c.columns, c.opts.schema); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.state.Clone()
	next.SortField = field
	next.SortOrder = order
	next.Page = 1
	c.commitLocked(next)
	return nil
}

// ClearSort removes the active sort and returns to page 1.
func (c *Controller[T]) ClearSort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.state.Clone()
	next.SortField = ""
	next.SortOrder = ""
	next.Page = 1
	c.commitLocked(next)
}

// ApplyFilters replaces the whole filter set. Empty values are dropped.
// The sort is kept and the page returns to 1.
func (c *Controller[T]) ApplyFilters(filters map[string]string) error {
	active := model.QueryState{Filters: filters}.ActiveFilters()
	if details := query.CheckFilters(active, c.opts.schema); len(details) > 0 {
		return model.NewValidationError(details)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.state.Clone()
	next.Filters = active
	next.Page = 1
	c.commitLocked(next)
	return nil
}

// ResetFilters clears every filter. It is ApplyFilters with an empty set.
func (c *Controller[T]) ResetFilters() {
	_ = c.ApplyFilters(map[string]string{})
}

// ForceRefresh refetches the current state without changing it. Caches are
// bypassed for the resulting request.
func (c *Controller[T]) ForceRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.refreshToken++
	c.issueLocked(true)
}

// Retry re-issues the current fetch after a failure. It does nothing in
// any other lifecycle state.
func (c *Controller[T]) Retry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.lifecycle != model.Failure {
		return
	}
	c.issueLocked(false)
}

// Snapshot returns the current state of the table.
func (c *Controller[T]) Snapshot() model.Snapshot[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.Snapshot[T]{
		Rows:         slices.Clone(c.rows),
		Meta:         c.meta,
		Lifecycle:    c.lifecycle,
		Error:        c.err,
		Query:        c.state.Clone(),
		RefreshToken: c.refreshToken,
	}
}

// Query returns a copy of the current query state.
func (c *Controller[T]) Query() model.QueryState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Columns returns the columns with translated labels.
func (c *Controller[T]) Columns() []Column[T] {
	return slices.Clone(c.columns)
}

// Cells renders every column of row.
func (c *Controller[T]) Cells(row T) []string {
	out := make([]string, len(c.columns))
	for i, col := range c.columns {
		out[i] = col.Cell(row)
	}
	return out
}

// Pages returns the pagination view for the current state and meta.
func (c *Controller[T]) Pages() pagination.View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return pagination.Build(c.state, c.meta, pagination.DefaultRadius)
}

// Wait blocks until no fetch is in flight and no row swap is pending, or
// until ctx is done.
func (c *Controller[T]) Wait(ctx context.Context) error {
	c.mu.Lock()
	ch := c.idle
	c.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels in-flight fetches and any pending swap. Setters called
// afterwards have no effect.
func (c *Controller[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cancelSwapLocked()
	c.cancel()
	c.settleLocked()
}

// commitLocked installs a new state, mirrors it to the location and
// refetches. An unchanged state only refetches after a failure.
func (c *Controller[T]) commitLocked(next model.QueryState) {
	if c.closed {
		return
	}
	if next.Equal(c.state) && c.lifecycle != model.Failure {
		return
	}
	c.state = next
	c.writeLocationLocked()
	c.issueLocked(false)
}

func (c *Controller[T]) writeLocationLocked() {
	c.opts.location.Replace(query.Encode(c.state))
}

// issueLocked starts a fetch for the current state. Older in-flight fetches
// are cancelled and will be discarded when they complete.
func (c *Controller[T]) issueLocked(refresh bool) {
	c.issued++
	seq := c.issued

	c.cancelSwapLocked()
	for _, cancel := range c.inflight {
		cancel()
	}

	c.lifecycle = model.Loading
	c.err = nil

	req := model.FetchRequest{
		Endpoint: c.endpoint,
		Query:    c.state.Clone(),
		Sequence: seq,
		Refresh:  refresh,
		Session:  c.opts.session,
	}
	req.Query.Filters = req.Query.ActiveFilters()

	ctx, cancel := context.WithCancel(c.ctx)
	c.inflight[seq] = cancel
	c.busyLocked()

	c.logger.Debug("table fetch issued",
		zap.Uint64("sequence", seq),
		zap.Int("page", req.Query.Page),
		zap.Int("limit", req.Query.Limit),
		zap.String("sort_field", req.Query.SortField),
		zap.Strings("filters", slices.Sorted(maps.Keys(req.Query.Filters))),
		zap.Bool("refresh", refresh),
	)

	go c.run(ctx, req)
}

func (c *Controller[T]) run(ctx context.Context, req model.FetchRequest) {
	start := c.opts.clock.Now()
	raw, err := c.opts.fetcher.Fetch(ctx, req)
	var rows []T
	if err == nil {
		rows, err = decodeRows[T](raw.Data)
	}
	elapsed := c.opts.clock.Now().Sub(start)

	c.mu.Lock()
	defer c.mu.Unlock()

	if cancel, ok := c.inflight[req.Sequence]; ok {
		cancel()
		delete(c.inflight, req.Sequence)
	}
	defer c.settleLocked()

	if c.closed {
		return
	}
	if req.Sequence < c.issued {
		c.opts.recorder.StaleDiscarded()
		c.logger.Debug("stale table response discarded",
			zap.Uint64("sequence", req.Sequence),
			zap.Uint64("issued", c.issued),
		)
		return
	}

	if err != nil {
		env := model.AsEnvelope(err)
		c.lifecycle = model.Failure
		c.err = env
		outcome := OutcomeError
		if env.Code == model.ErrNotFound {
			outcome = OutcomeNotFound
		}
		c.opts.recorder.FetchCompleted(outcome, elapsed)
		c.logger.Warn("table fetch failed",
			zap.Uint64("sequence", req.Sequence),
			zap.String("code", env.Code),
			zap.Error(err),
		)
		return
	}

	c.lifecycle = model.Success
	c.err = nil
	if c.opts.swapDelay > 0 {
		c.scheduleSwapLocked(rows)
	} else {
		c.rows = rows
	}
	c.meta = normalizeMeta(raw.Meta, req.Query)

	outcome := OutcomeSuccess
	if len(rows) == 0 {
		outcome = OutcomeEmpty
	}
	c.opts.recorder.FetchCompleted(outcome, elapsed)
	c.logger.Debug("table fetch accepted",
		zap.Uint64("sequence", req.Sequence),
		zap.Int("rows", len(rows)),
		zap.Int("total", c.meta.Total),
		zap.Duration("elapsed", elapsed),
	)
}

// scheduleSwapLocked defers installing rows. The meta in place when it is
// called describes the rows currently shown and comes back if the swap is
// cancelled.
func (c *Controller[T]) scheduleSwapLocked(rows []T) {
	task := &swapTask{shownMeta: c.meta}
	c.swap = task
	c.busyLocked()
	task.timer = c.opts.clock.AfterFunc(c.opts.swapDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if task.cancelled || c.swap != task {
			return
		}
		c.rows = rows
		c.swap = nil
		c.settleLocked()
	})
}

func (c *Controller[T]) cancelSwapLocked() {
	if c.swap == nil {
		return
	}
	c.swap.cancel()
	c.meta = c.swap.shownMeta
	c.swap = nil
}

// busyLocked marks the controller as having outstanding work.
func (c *Controller[T]) busyLocked() {
	if c.idleClosed {
		c.idle = make(chan struct{})
		c.idleClosed = false
	}
}

// settleLocked releases waiters once nothing is outstanding. After Close
// the in-flight fetches no longer count.
func (c *Controller[T]) settleLocked() {
	if c.idleClosed {
		return
	}
	if c.swap != nil || (len(c.inflight) > 0 && !c.closed) {
		return
	}
	close(c.idle)
	c.idleClosed = true
}

func decodeRows[T any](data []json.RawMessage) ([]T, error) {
	rows := make([]T, 0, len(data))
	for i, raw := range data {
		var row T
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, model.NewServerError(0, fmt.Sprintf("row %d is malformed", i)).WithCause(err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// normalizeMeta fills fields the backend left out. A LastPage below
// CurrentPage is kept as reported.
func normalizeMeta(m model.Meta, q model.QueryState) model.Meta {
	if m.CurrentPage <= 0 {
		m.CurrentPage = q.Page
	}
	if m.PerPage <= 0 {
		m.PerPage = q.Limit
	}
	if m.Total < 0 {
		m.Total = 0
	}
	if m.LastPage <= 0 && m.Total > 0 {
		m.LastPage = pagination.LastPage(m.Total, m.PerPage)
	}
	return m
}
