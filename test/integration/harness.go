// Package integration runs the Concierge BFF end to end: real JWT
// verification against a JWKS server, definitions, catalogs and OpenAPI
// documents loaded from disk, and mock hotel backends behind the HTTP
// fetcher.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/pitabwire/concierge/internal/config"
	"github.com/pitabwire/concierge/internal/definition"
	"github.com/pitabwire/concierge/internal/fetch"
	"github.com/pitabwire/concierge/internal/i18n"
	"github.com/pitabwire/concierge/internal/metadata"
	"github.com/pitabwire/concierge/internal/observability"
	"github.com/pitabwire/concierge/internal/openapi"
	"github.com/pitabwire/concierge/internal/table"
	"github.com/pitabwire/concierge/internal/transport"
	"github.com/pitabwire/concierge/model"
)

const hotelsService = "hotels-svc"

// TestHarness is a fully wired BFF instance with mock backends.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	Registry *definition.Registry
	OAIndex  *openapi.Index
	Fetcher  *fetch.HTTPFetcher
	Metrics  *observability.Metrics
	Redis    *miniredis.Miniredis

	backends map[string]*MockBackend
	cfg      *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	definitionDirs []string
	cacheDriver    string
	retry          config.RetryConfig
	breaker        config.CircuitBreakerConfig
	settleTimeout  time.Duration
	rateLimit      config.RateLimitConfig
}

// WithDefinitions replaces the definition directories.
func WithDefinitions(dirs ...string) HarnessOption {
	return func(c *harnessConfig) { c.definitionDirs = dirs }
}

// WithPageCache puts the page cache in front of the fetcher. Driver is
// "memory" or "redis"; the latter runs against an in-process server.
func WithPageCache(driver string) HarnessOption {
	return func(c *harnessConfig) { c.cacheDriver = driver }
}

// WithRetry sets the hotels service retry policy.
func WithRetry(r config.RetryConfig) HarnessOption {
	return func(c *harnessConfig) { c.retry = r }
}

// WithCircuitBreaker sets the hotels service breaker.
func WithCircuitBreaker(cb config.CircuitBreakerConfig) HarnessOption {
	return func(c *harnessConfig) { c.breaker = cb }
}

// WithSettleTimeout bounds how long the data endpoint waits for a page.
func WithSettleTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) { c.settleTimeout = d }
}

// WithRateLimit enables per-user rate limiting.
func WithRateLimit(requests int, window time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.rateLimit = config.RateLimitConfig{Enabled: true, Requests: requests, Window: window}
	}
}

// NewTestHarness builds and starts a BFF instance. Everything is torn down
// when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		retry:         config.RetryConfig{MaxAttempts: 1},
		settleTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}

	dir := testdataDir()
	if len(hc.definitionDirs) == 0 {
		hc.definitionDirs = []string{filepath.Join(dir, "definitions")}
	}

	h := &TestHarness{
		t:        t,
		issuer:   newTokenIssuer(t),
		backends: map[string]*MockBackend{hotelsService: newMockBackend(t, hotelsService, hotelRoutes())},
	}
	logger := zaptest.NewLogger(t)

	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = 10 * time.Second
	cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Server.RateLimit = hc.rateLimit
	cfg.Identity.Issuer = testIssuer
	cfg.Identity.Audience = testAudience
	cfg.Identity.JWKSURL = h.issuer.JWKSURL()
	cfg.Table.SettleTimeout = hc.settleTimeout
	cfg.Services = map[string]config.ServiceConfig{
		hotelsService: {
			BaseURL:        h.backends[hotelsService].URL(),
			Timeout:        5 * time.Second,
			Retry:          hc.retry,
			CircuitBreaker: hc.breaker,
		},
	}
	h.cfg = cfg

	// The document's servers entry is overridden by the mock backend URL.
	h.OAIndex = openapi.NewIndex()
	if err := h.OAIndex.Load([]openapi.SpecSource{{
		ServiceID: hotelsService,
		BaseURL:   cfg.Services[hotelsService].BaseURL,
		SpecPath:  filepath.Join(dir, "specs", "hotels-svc.yaml"),
	}}); err != nil {
		t.Fatalf("load OpenAPI specs: %v", err)
	}

	defs, err := definition.NewLoader(false).LoadAll(hc.definitionDirs)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	if verrs := definition.NewValidator().Validate(defs, h.OAIndex); len(verrs) > 0 {
		t.Fatalf("definitions invalid: %v", verrs)
	}
	h.Registry = definition.NewRegistry(defs)

	bundle := i18n.NewBundle("en")
	if err := bundle.LoadDir(filepath.Join(dir, "i18n")); err != nil {
		t.Fatalf("load catalogs: %v", err)
	}

	h.Metrics = observability.InitMetrics(prometheus.NewRegistry())
	h.Fetcher = fetch.NewHTTPFetcher(cfg.Services, fetch.WithObserver(h.Metrics), fetch.WithLogger(logger))

	var fetcher table.Fetcher = h.Fetcher
	if hc.cacheDriver != "" {
		fetcher = fetch.NewCachingFetcher(fetcher, h.newCache(hc.cacheDriver), time.Minute,
			fetch.WithCacheObserver(h.Metrics),
			fetch.WithCacheLogger(logger),
		)
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:        cfg,
		Authenticate:  transport.Authenticate(cfg.Identity, transport.NewJWKSClient(cfg.Identity.JWKSURL, time.Hour, logger)),
		Tables:        metadata.NewTableProvider(h.Registry, h.OAIndex, cfg.Table.DefaultLimit),
		Fetcher:       fetcher,
		Translations:  bundle,
		LocaleMatcher: bundle.Match,
		Metrics:       h.Metrics,
		Readiness: observability.ReadinessChecks{
			DefinitionsLoaded: func() bool { return h.Registry.Len() > 0 },
			OpenAPILoaded:     func() bool { return h.OAIndex.Len() > 0 },
			OpenCircuits:      h.Fetcher.OpenCircuits,
		},
		Logger: logger,
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)
	return h
}

func (h *TestHarness) newCache(driver string) fetch.Cache {
	switch driver {
	case "redis":
		h.Redis = miniredis.RunT(h.t)
		client := redis.NewClient(&redis.Options{Addr: h.Redis.Addr()})
		h.t.Cleanup(func() { _ = client.Close() })
		return fetch.NewRedisCache(client)
	default:
		return fetch.NewMemoryCache(100)
	}
}

// BaseURL returns the BFF's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// MockBackend returns the mock backend for the service.
func (h *TestHarness) MockBackend(serviceID string) *MockBackend {
	mb, ok := h.backends[serviceID]
	if !ok {
		h.t.Fatalf("mock backend %q not configured", serviceID)
	}
	return mb
}

// Hotels returns the hotels-svc mock backend.
func (h *TestHarness) Hotels() *MockBackend {
	return h.MockBackend(hotelsService)
}

// GenerateToken signs a valid token with the claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken signs a token that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.GETWithHeaders(path, token, nil)
}

// GETWithHeaders performs an authenticated GET request with extra headers.
func (h *TestHarness) GETWithHeaders(path, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, h.server.URL+path, nil)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("GET %s failed: %v", path, err)
	}
	return resp
}

// ParseJSON reads and closes the body, unmarshalling it into target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks the status code, printing the body on mismatch.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks the status and decodes the body into target.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// TableView is the data endpoint's payload with the lifecycle as a string.
type TableView struct {
	Rows       []map[string]any     `json:"rows"`
	Cells      [][]string           `json:"cells"`
	Meta       model.Meta           `json:"meta"`
	Lifecycle  string               `json:"lifecycle"`
	Error      *model.ErrorEnvelope `json:"error"`
	Query      model.QueryState     `json:"query"`
	URL        string               `json:"url"`
	Pagination model.PaginationView `json:"pagination"`
}

// ErrorBody is the {"error": ...} payload.
type ErrorBody struct {
	Error model.ErrorEnvelope `json:"error"`
}

// ManagerClaims is a hotel manager at Grand Lisbon.
func ManagerClaims() TestClaims {
	return TestClaims{
		SubjectID: "staff-manager",
		TenantID:  "grand-lisbon",
		Email:     "manager@grandhotels.example",
		Roles:     []string{"hotel_manager"},
	}
}

// RevenueClaims is a revenue manager at Grand Lisbon.
func RevenueClaims() TestClaims {
	return TestClaims{
		SubjectID: "staff-revenue",
		TenantID:  "grand-lisbon",
		Email:     "revenue@grandhotels.example",
		Roles:     []string{"revenue_manager"},
	}
}

// HousekeepingClaims carries no table role.
func HousekeepingClaims() TestClaims {
	return TestClaims{
		SubjectID: "staff-housekeeping",
		TenantID:  "grand-lisbon",
		Roles:     []string{"housekeeping"},
	}
}

// HotelFixture returns one hotel row.
func HotelFixture(id int, name, city string, rating float64, status string) map[string]any {
	return map[string]any{
		"id":     id,
		"name":   name,
		"city":   city,
		"rating": rating,
		"status": status,
	}
}

// HotelPageFixture returns a {data, meta} page.
func HotelPageFixture(hotels []map[string]any, total, page, perPage int) map[string]any {
	if hotels == nil {
		hotels = []map[string]any{}
	}
	return map[string]any{
		"data": hotels,
		"meta": map[string]any{
			"total":       total,
			"currentPage": page,
			"perPage":     perPage,
		},
	}
}

// DefaultHotelPage is page 1 of 3 Lisbon hotels.
func DefaultHotelPage() map[string]any {
	return HotelPageFixture([]map[string]any{
		HotelFixture(1, "Harbour View", "Lisbon", 4.26, "active"),
		HotelFixture(2, "Alfama Rooms", "Lisbon", 3.9, "suspended"),
		HotelFixture(3, "Chiado Suites", "Lisbon", 4.7, "active"),
	}, 23, 1, 10)
}

func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// FormatJSON renders v as indented JSON for failure output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
