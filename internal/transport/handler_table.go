package transport

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/concierge/internal/config"
	"github.com/pitabwire/concierge/internal/metadata"
	"github.com/pitabwire/concierge/internal/observability"
	"github.com/pitabwire/concierge/internal/pagination"
	"github.com/pitabwire/concierge/internal/query"
	"github.com/pitabwire/concierge/internal/table"
	"github.com/pitabwire/concierge/model"
)

// Translations hands out a translator per locale.
type Translations interface {
	Translator(locale string) model.Translator
}

type tableHandlers struct {
	tables       *metadata.TableProvider
	fetcher      table.Fetcher
	translations Translations
	metrics      *observability.Metrics
	cfg          config.TableConfig
	logger       *zap.Logger
}

func (h *tableHandlers) translator(locale string) model.Translator {
	if h.translations == nil {
		return model.IdentityTranslator
	}
	return h.translations.Translator(locale)
}

type tableList struct {
	Tables []model.TableSummary `json:"tables"`
}

func (h *tableHandlers) handleListTables(w http.ResponseWriter, r *http.Request) {
	session, ok := model.SessionFrom(r.Context())
	if !ok {
		WriteError(w, model.NewUnauthorizedError("missing session"))
		return
	}
	list := h.tables.ListTables(session, h.translator(session.Locale))
	if list == nil {
		list = []model.TableSummary{}
	}
	WriteJSON(w, http.StatusOK, tableList{Tables: list})
}

func (h *tableHandlers) handleGetTable(w http.ResponseWriter, r *http.Request) {
	session, ok := model.SessionFrom(r.Context())
	if !ok {
		WriteError(w, model.NewUnauthorizedError("missing session"))
		return
	}
	desc, err := h.tables.GetTable(session, h.translator(session.Locale), chi.URLParam(r, "tableId"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, desc)
}

// handleGetTableData decodes the URL into a query, runs a controller for the
// table until it settles and serves the resulting view.
func (h *tableHandlers) handleGetTableData(w http.ResponseWriter, r *http.Request) {
	session, ok := model.SessionFrom(r.Context())
	if !ok {
		WriteError(w, model.NewUnauthorizedError("missing session"))
		return
	}
	tableID := chi.URLParam(r, "tableId")
	log := observability.RequestLogger(r.Context(), h.logger).With(zap.String("table", tableID))

	rt, err := h.tables.Resolve(session, tableID)
	if err != nil {
		WriteError(w, err)
		return
	}

	initial := h.tables.InitialQuery(rt.Definition)
	state, err := query.Decode(r.URL.Query(), rt.Schema, query.Defaults{
		Limit:     initial.Limit,
		MaxLimit:  h.cfg.MaxLimit,
		SortField: initial.SortField,
		SortOrder: initial.SortOrder,
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	tr := h.translator(session.Locale)
	loc := table.NewMemoryLocation(r.URL.Query())
	opts := []table.Option{
		table.WithFetcher(h.fetcher),
		table.WithLocation(loc),
		table.WithSchema(rt.Schema),
		table.WithSession(session),
		table.WithTranslator(tr),
		table.WithSwapDelay(h.cfg.SwapDelay),
		table.WithLogger(log),
		table.WithDefaultLimit(initial.Limit),
		table.WithMaxLimit(h.cfg.MaxLimit),
	}
	if h.metrics != nil {
		opts = append(opts, table.WithRecorder(h.metrics.TableRecorder(tableID)))
	}

	ctrl, err := table.New(rt.Endpoint, state, metadata.Columns(rt.Definition, tr, session.Locale), opts...)
	if err != nil {
		log.Error("table controller rejected configuration", zap.Error(err))
		WriteError(w, err)
		return
	}
	defer ctrl.Close()

	if noCache(r) {
		ctrl.ForceRefresh()
	}

	ctx := r.Context()
	if h.cfg.SettleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.SettleTimeout)
		defer cancel()
	}
	if err := ctrl.Wait(ctx); err != nil {
		log.Warn("table fetch did not settle", zap.Error(err))
		WriteError(w, model.NewTransportError(err))
		return
	}

	snap := ctrl.Snapshot()
	view := model.TableView{
		Rows:       snap.Rows,
		Cells:      make([][]string, 0, len(snap.Rows)),
		Meta:       snap.Meta,
		Lifecycle:  snap.Lifecycle,
		Error:      snap.Error,
		Query:      snap.Query,
		URL:        r.URL.Path + "?" + loc.String(),
		Pagination: pagination.Build(snap.Query, snap.Meta, h.pageRadius()),
	}
	if view.Rows == nil {
		view.Rows = []metadata.Row{}
	}
	for _, row := range snap.Rows {
		view.Cells = append(view.Cells, ctrl.Cells(row))
	}

	WriteJSON(w, viewStatus(snap.Error), view)
}

func (h *tableHandlers) pageRadius() int {
	if h.cfg.PageWindow > 0 {
		return h.cfg.PageWindow
	}
	return pagination.DefaultRadius
}

// viewStatus maps the settled fetch outcome to the response status. A
// missing backend resource stays 404; every other failure is a bad gateway.
func viewStatus(ee *model.ErrorEnvelope) int {
	switch {
	case ee == nil:
		return http.StatusOK
	case ee.Code == model.ErrNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func noCache(r *http.Request) bool {
	for _, v := range r.Header.Values("Cache-Control") {
		for d := range strings.SplitSeq(v, ",") {
			if strings.EqualFold(strings.TrimSpace(d), "no-cache") {
				return true
			}
		}
	}
	return r.Header.Get("Pragma") == "no-cache"
}
