package observability

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/concierge/internal/config"
	"github.com/pitabwire/concierge/model"
)

type loggerKey struct{}

// NewLogger creates a zap.Logger configured for JSON output to stdout.
//
// Level conventions:
//   - error: infrastructure failures, panics, 5xx responses
//   - warn:  client errors, failed table fetches, circuit breaker open
//   - info:  request end, definition reload, startup and shutdown
//   - debug: fetch issued, accepted or discarded, cache operations
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zapCfg.Build()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in the context, or fallback.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns a logger enriched with the session's tenant,
// subject and correlation ID, plus the trace ID when a span is active.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)

	var fields []zap.Field
	if s, ok := model.SessionFrom(ctx); ok {
		fields = append(fields,
			zap.String("tenant_id", s.TenantID),
			zap.String("subject_id", s.SubjectID),
			zap.String("correlation_id", s.CorrelationID),
		)
	}
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

const redacted = "[REDACTED]"

var defaultSensitiveFields = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"access_token":  true,
	"refresh_token": true,
	"api_key":       true,
	"authorization": true,
	"email":         true,
	"phone":         true,
	"credit_card":   true,
	"passport":      true,
}

// RedactQuery returns the encoded query with the values of sensitive keys
// masked. Key matching is case-insensitive. Extra names are merged with the
// default set.
func RedactQuery(values url.Values, sensitive ...string) string {
	if len(values) == 0 {
		return ""
	}
	extra := make(map[string]bool, len(sensitive))
	for _, k := range sensitive {
		extra[strings.ToLower(k)] = true
	}

	out := make(url.Values, len(values))
	for k, vs := range values {
		lk := strings.ToLower(k)
		if defaultSensitiveFields[lk] || extra[lk] {
			out[k] = []string{redacted}
			continue
		}
		out[k] = append([]string(nil), vs...)
	}
	return out.Encode()
}

// RedactBody returns a copy of body with sensitive fields replaced.
// Intended for debug-level logging only.
func RedactBody(body map[string]any, sensitive ...string) map[string]any {
	if body == nil {
		return nil
	}
	extra := make(map[string]bool, len(sensitive))
	for _, k := range sensitive {
		extra[strings.ToLower(k)] = true
	}

	result := make(map[string]any, len(body))
	for k, v := range body {
		lk := strings.ToLower(k)
		switch nested := v.(type) {
		case map[string]any:
			if defaultSensitiveFields[lk] || extra[lk] {
				result[k] = redacted
			} else {
				result[k] = RedactBody(nested, sensitive...)
			}
		default:
			if defaultSensitiveFields[lk] || extra[lk] {
				result[k] = redacted
			} else {
				result[k] = v
			}
		}
	}
	return result
}
