package table

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/concierge/model"
)

// Fetcher retrieves one page of rows for a request. Rows are returned
// undecoded; the controller decodes them into its row type.
type Fetcher interface {
	Fetch(ctx context.Context, req model.FetchRequest) (model.RawResult, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req model.FetchRequest) (model.RawResult, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req model.FetchRequest) (model.RawResult, error) {
	return f(ctx, req)
}

// Fetch outcomes reported to a Recorder.
const (
	OutcomeSuccess  = "success"
	OutcomeEmpty    = "empty"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Recorder receives fetch telemetry from a controller.
type Recorder interface {
	FetchCompleted(outcome string, elapsed time.Duration)
	StaleDiscarded()
}

type nopRecorder struct{}

func (nopRecorder) FetchCompleted(string, time.Duration) {}
func (nopRecorder) StaleDiscarded()                      {}

// Option configures a Controller.
type Option func(*options)

type options struct {
	fetcher      Fetcher
	location     Location
	schema       *model.TableSchema
	session      model.Session
	translator   model.Translator
	swapDelay    time.Duration
	logger       *zap.Logger
	recorder     Recorder
	defaultLimit int
	maxLimit     int
	clock        Clock
}

func defaultOptions() options {
	return options{
		translator:   model.IdentityTranslator,
		logger:       zap.NewNop(),
		recorder:     nopRecorder{},
		defaultLimit: 10,
		clock:        RealClock{},
	}
}

// WithFetcher sets the backend fetcher. Required.
func WithFetcher(f Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithLocation sets the URL location the query state is mirrored to. When
// the option is absent a private MemoryLocation is used.
func WithLocation(l Location) Option {
	return func(o *options) { o.location = l }
}

// WithSchema attaches the closed query schema of the listed entity. Sort
// fields and filter keys outside the schema are rejected.
func WithSchema(s *model.TableSchema) Option {
	return func(o *options) { o.schema = s }
}

// WithSession sets the session forwarded with every fetch.
func WithSession(s model.Session) Option {
	return func(o *options) { o.session = s }
}

// WithTranslator sets the translator applied to column labels.
func WithTranslator(t model.Translator) Option {
	return func(o *options) {
		if t != nil {
			o.translator = t
		}
	}
}

// WithSwapDelay delays installing fetched rows by d after a successful
// fetch. Meta is updated immediately regardless.
func WithSwapDelay(d time.Duration) Option {
	return func(o *options) { o.swapDelay = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRecorder sets the telemetry recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithDefaultLimit sets the page size used when the initial state has none.
func WithDefaultLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.defaultLimit = n
		}
	}
}

// WithMaxLimit caps the page size accepted by SetPageSize.
func WithMaxLimit(n int) Option {
	return func(o *options) { o.maxLimit = n }
}

// WithClock replaces the timer source used for the swap delay.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}
