package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pitabwire/concierge/internal/config"
	"github.com/pitabwire/concierge/model"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func withSession(s model.Session, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(model.WithSession(r.Context(), s)))
	})
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := Recovery(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("room service exploded")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ui/tables", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Error("panic should be logged once")
	}
}

func TestCORS(t *testing.T) {
	cfg := config.Defaults().Server.CORS
	cfg.AllowedOrigins = []string{"https://portal.grandhotels.example"}
	handler := CORS(cfg)(okHandler)

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ui/tables", nil)
		req.Header.Set("Origin", "https://portal.grandhotels.example")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://portal.grandhotels.example" {
			t.Errorf("Allow-Origin = %q", got)
		}
		if got := w.Header().Get("Access-Control-Expose-Headers"); got != HeaderCorrelationID {
			t.Errorf("Expose-Headers = %q", got)
		}
	})

	t.Run("foreign origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ui/tables", nil)
		req.Header.Set("Origin", "https://evil.example")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Allow-Origin = %q, want empty", got)
		}
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/ui/tables/hotels/data", nil)
		req.Header.Set("Origin", "https://portal.grandhotels.example")
		req.Header.Set("Access-Control-Request-Method", "GET")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", w.Code)
		}
	})
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFrom(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if _, err := uuid.Parse(seen); err != nil {
		t.Errorf("generated ID %q is not a UUID", seen)
	}
	if w.Header().Get(HeaderCorrelationID) != seen {
		t.Error("response header should echo the correlation ID")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCorrelationID, "front-desk-7")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "front-desk-7" {
		t.Errorf("correlation ID = %q, want front-desk-7", seen)
	}
}

func TestLocalize(t *testing.T) {
	match := func(candidates ...string) string {
		for _, c := range candidates {
			if c == "fr" || c == "fr-CA" {
				return "fr"
			}
		}
		return "en"
	}

	var locale string
	inner := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		s, _ := model.SessionFrom(r.Context())
		locale = s.Locale
	})

	tests := []struct {
		claim, header, want string
	}{
		{"", "", "en"},
		{"", "fr-CA", "fr"},
		{"fr", "de", "fr"},
		{"ja", "", "en"},
	}
	for _, tt := range tests {
		handler := withSession(model.Session{SubjectID: "s", TenantID: "t", Locale: tt.claim}, Localize(match)(inner))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Accept-Language", tt.header)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if locale != tt.want {
			t.Errorf("claim %q header %q: locale = %q, want %q", tt.claim, tt.header, locale, tt.want)
		}
		if got := w.Header().Get("Content-Language"); got != tt.want {
			t.Errorf("Content-Language = %q, want %q", got, tt.want)
		}
	}
}

func TestRateLimit_perTenant(t *testing.T) {
	limit := RateLimit(config.RateLimitConfig{Enabled: true, Requests: 2, Window: time.Minute})

	lisbon := withSession(model.Session{SubjectID: "staff-1", TenantID: "grand-lisbon"}, limit(okHandler))
	porto := withSession(model.Session{SubjectID: "staff-1", TenantID: "grand-porto"}, limit(okHandler))

	codes := func(h http.Handler, n int) []int {
		var out []int
		for range n {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ui/tables", nil))
			out = append(out, w.Code)
		}
		return out
	}

	got := codes(lisbon, 3)
	if got[0] != 200 || got[1] != 200 || got[2] != http.StatusTooManyRequests {
		t.Errorf("lisbon codes = %v, want [200 200 429]", got)
	}
	if got := codes(porto, 1); got[0] != 200 {
		t.Errorf("porto should have its own allowance, got %v", got)
	}
}

func TestRateLimit_disabled(t *testing.T) {
	handler := RateLimit(config.RateLimitConfig{Enabled: false, Requests: 1, Window: time.Minute})(okHandler)
	for range 5 {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
	}
}

func TestHandlerTimeout(t *testing.T) {
	var hasDeadline bool
	handler := HandlerTimeout(time.Second)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !hasDeadline {
		t.Error("request context should carry a deadline")
	}
}

func TestRequestLogging_levels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	respond := func(status int) {
		h := RequestLogging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ui/tables?limit=10", nil))
	}
	respond(http.StatusOK)
	respond(http.StatusNotFound)
	respond(http.StatusBadGateway)

	entries := logs.FilterMessage("request").All()
	if len(entries) != 3 {
		t.Fatalf("got %d request logs, want 3", len(entries))
	}
	want := []zapcore.Level{zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, e := range entries {
		if e.Level != want[i] {
			t.Errorf("entry %d level = %v, want %v", i, e.Level, want[i])
		}
	}
	if got := entries[0].ContextMap()["status"]; got != int64(200) {
		t.Errorf("status field = %v", got)
	}
}
