// Package fetch implements table.Fetcher against HTTP backends, with
// per-service circuit breakers, retries and an optional page cache.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/concierge/internal/config"
	"github.com/pitabwire/concierge/internal/observability"
	"github.com/pitabwire/concierge/internal/pagination"
	"github.com/pitabwire/concierge/internal/query"
	"github.com/pitabwire/concierge/model"
)

const (
	maxBodySize      = 10 << 20
	defaultTimeout   = 10 * time.Second
	defaultServiceID = "default"
)

// Observer receives backend call metrics. *observability.Metrics
// satisfies it.
type Observer interface {
	RecordBackendRequest(service string, status int, elapsed time.Duration)
	SetBackendCircuitBreakerState(service string, state float64)
	RecordBackendRetry(service string)
}

type nopObserver struct{}

func (nopObserver) RecordBackendRequest(string, int, time.Duration) {}
func (nopObserver) SetBackendCircuitBreakerState(string, float64)   {}
func (nopObserver) RecordBackendRetry(string)                       {}

// serviceClient holds the HTTP client, breaker and retry policy for one
// backend service.
type serviceClient struct {
	id      string
	base    string
	cfg     config.ServiceConfig
	client  *http.Client
	breaker *CircuitBreaker
}

// HTTPFetcher issues GET requests for table pages. Each endpoint is routed to
// the configured service whose base URL is its longest prefix; endpoints
// outside every service use a default client.
type HTTPFetcher struct {
	services  []*serviceClient
	fallback  *serviceClient
	observer  Observer
	logger    *zap.Logger
	transport http.RoundTripper
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithObserver reports backend metrics to o.
func WithObserver(o Observer) Option {
	return func(f *HTTPFetcher) {
		if o != nil {
			f.observer = o
		}
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(f *HTTPFetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithTransport replaces the pooled transport shared by all service clients.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *HTTPFetcher) { f.transport = rt }
}

// NewHTTPFetcher builds one client per configured service.
func NewHTTPFetcher(services map[string]config.ServiceConfig, opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		observer: nopObserver{},
		logger:   zap.NewNop(),
		transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxConnsPerHost:     50,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(f)
	}

	for id, cfg := range services {
		f.services = append(f.services, f.newServiceClient(id, cfg))
	}
	sort.Slice(f.services, func(i, j int) bool {
		if len(f.services[i].base) != len(f.services[j].base) {
			return len(f.services[i].base) > len(f.services[j].base)
		}
		return f.services[i].id < f.services[j].id
	})
	f.fallback = f.newServiceClient(defaultServiceID, config.ServiceConfig{})
	return f
}

func (f *HTTPFetcher) newServiceClient(id string, cfg config.ServiceConfig) *serviceClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	svc := &serviceClient{
		id:      id,
		base:    strings.TrimSuffix(cfg.BaseURL, "/"),
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout, Transport: f.transport},
		breaker: NewCircuitBreaker(cfg.CircuitBreaker),
	}
	observer := f.observer
	svc.breaker.OnStateChange(func(s BreakerState) {
		observer.SetBackendCircuitBreakerState(id, float64(s))
	})
	observer.SetBackendCircuitBreakerState(id, float64(BreakerClosed))
	return svc
}

// Breaker returns the circuit breaker guarding the named service.
func (f *HTTPFetcher) Breaker(serviceID string) (*CircuitBreaker, bool) {
	if serviceID == defaultServiceID {
		return f.fallback.breaker, true
	}
	for _, svc := range f.services {
		if svc.id == serviceID {
			return svc.breaker, true
		}
	}
	return nil, false
}

// OpenCircuits lists the services whose breaker is currently open, sorted.
func (f *HTTPFetcher) OpenCircuits() []string {
	var open []string
	for _, svc := range append([]*serviceClient{f.fallback}, f.services...) {
		if svc.breaker.State() == BreakerOpen {
			open = append(open, svc.id)
		}
	}
	sort.Strings(open)
	return open
}

func (f *HTTPFetcher) route(target string) *serviceClient {
	for _, svc := range f.services {
		if svc.base == "" || !strings.HasPrefix(target, svc.base) {
			continue
		}
		rest := target[len(svc.base):]
		if rest == "" || rest[0] == '/' || rest[0] == '?' {
			return svc
		}
	}
	return f.fallback
}

// Fetch retrieves one page for req. Every failure is an *model.ErrorEnvelope.
func (f *HTTPFetcher) Fetch(ctx context.Context, req model.FetchRequest) (model.RawResult, error) {
	target, err := query.BuildRequest(req.Endpoint, req.Query)
	if err != nil {
		return model.RawResult{}, err
	}
	svc := f.route(target)

	ctx, span := observability.StartSpan(ctx, "table.fetch",
		observability.AttrService.String(svc.id),
		observability.AttrEndpoint.String(req.Endpoint),
		observability.AttrPage.Int(req.Query.Page),
		observability.AttrLimit.Int(req.Query.Limit),
		observability.AttrSequence.Int64(int64(req.Sequence)),
		observability.AttrRefresh.Bool(req.Refresh),
	)
	result, attempts, err := f.executeWithRetry(ctx, svc, target, req)
	span.SetAttributes(observability.AttrAttempts.Int(attempts))
	observability.EndSpanWithError(span, err)
	return result, err
}

func (f *HTTPFetcher) executeWithRetry(ctx context.Context, svc *serviceClient, target string, req model.FetchRequest) (model.RawResult, int, error) {
	maxAttempts := max(svc.cfg.Retry.MaxAttempts, 1)

	for attempt := 1; ; attempt++ {
		result, out := f.executeOnce(ctx, svc, target, req.Session)
		if out.err == nil {
			return result, attempt, nil
		}
		if !out.retry || attempt >= maxAttempts || ctx.Err() != nil {
			return model.RawResult{}, attempt, out.err
		}

		delay := retryDelay(svc.cfg.Retry, attempt, out.retryAfter)
		f.observer.RecordBackendRetry(svc.id)
		f.logger.Debug("fetch: retrying",
			zap.String("service", svc.id),
			zap.String("endpoint", req.Endpoint),
			zap.String("query", observability.RedactQuery(query.Encode(req.Query))),
			zap.Int("attempt", attempt),
			zap.Int("max", maxAttempts),
			zap.Duration("delay", delay),
			zap.Error(out.err),
		)
		if err := sleep(ctx, delay); err != nil {
			return model.RawResult{}, attempt, model.NewTransportError(err)
		}
	}
}

type outcome struct {
	err        error
	retry      bool
	retryAfter string
}

func (f *HTTPFetcher) executeOnce(ctx context.Context, svc *serviceClient, target string, session model.Session) (model.RawResult, outcome) {
	if err := svc.breaker.Allow(); err != nil {
		return model.RawResult{}, outcome{err: model.NewTransportError(err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return model.RawResult{}, outcome{err: model.NewTransportError(err)}
	}
	setSessionHeaders(httpReq.Header, session)
	observability.InjectTraceHeaders(ctx, httpReq.Header)

	start := time.Now()
	resp, err := svc.client.Do(httpReq)
	if err != nil {
		f.observer.RecordBackendRequest(svc.id, 0, time.Since(start))
		if errors.Is(ctx.Err(), context.Canceled) {
			// Superseded by the caller; says nothing about the backend.
			return model.RawResult{}, outcome{err: model.NewTransportError(ctx.Err())}
		}
		svc.breaker.RecordFailure()
		return model.RawResult{}, outcome{err: model.NewTransportError(err), retry: isConnectionError(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	f.observer.RecordBackendRequest(svc.id, resp.StatusCode, time.Since(start))
	if err != nil {
		svc.breaker.RecordFailure()
		return model.RawResult{}, outcome{err: model.NewTransportError(err)}
	}

	switch {
	case resp.StatusCode >= 500:
		svc.breaker.RecordFailure()
	case resp.StatusCode < 400:
		svc.breaker.RecordSuccess()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return model.RawResult{}, outcome{
			err:        model.ErrorFromStatus(resp.StatusCode, backendMessage(body)),
			retry:      isRetryableStatus(resp.StatusCode),
			retryAfter: resp.Header.Get("Retry-After"),
		}
	}
	if len(body) > maxBodySize {
		return model.RawResult{}, outcome{err: model.NewServerError(resp.StatusCode, "response body exceeds 10 MiB")}
	}

	result, err := decodePage(body)
	if err != nil {
		return model.RawResult{}, outcome{err: model.NewServerError(resp.StatusCode, "malformed response payload").WithCause(err)}
	}
	return result, outcome{}
}

// decodePage parses {data: [...], meta: {...}}. A missing data array is
// malformed; missing meta fields are left for the controller to derive,
// except lastPage which is computed here when total and perPage allow it.
func decodePage(body []byte) (model.RawResult, error) {
	var payload struct {
		Data *[]json.RawMessage `json:"data"`
		Meta model.Meta         `json:"meta"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return model.RawResult{}, err
	}
	if payload.Data == nil {
		return model.RawResult{}, errors.New("response has no data array")
	}
	meta := payload.Meta
	if meta.LastPage == 0 && meta.PerPage > 0 {
		meta.LastPage = pagination.LastPage(meta.Total, meta.PerPage)
	}
	return model.RawResult{Data: *payload.Data, Meta: meta}, nil
}

func setSessionHeaders(h http.Header, s model.Session) {
	h.Set("Accept", "application/json")
	if s.Token != "" {
		h.Set("Authorization", "Bearer "+sanitizeHeader(s.Token))
	}
	if s.TenantID != "" {
		h.Set("X-Tenant-Id", sanitizeHeader(s.TenantID))
	}
	if s.CorrelationID != "" {
		h.Set("X-Correlation-Id", sanitizeHeader(s.CorrelationID))
	}
	if s.Locale != "" {
		h.Set("Accept-Language", sanitizeHeader(s.Locale))
	}
}

// sanitizeHeader strips CR and LF to prevent header injection.
func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

// backendMessage pulls a human-readable message from an error body.
func backendMessage(body []byte) string {
	var msg struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &msg) != nil {
		return ""
	}
	if msg.Message != "" {
		return msg.Message
	}
	return msg.Error
}
