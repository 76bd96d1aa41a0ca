package model

import "encoding/json"

// LifecycleState is the status of the current fetch.
type LifecycleState int

// Lifecycle states.
const (
	Idle LifecycleState = iota
	Loading
	Success
	Failure
)

func (s LifecycleState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the state as its name.
func (s LifecycleState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Meta is the pagination metadata returned by the backend with every page.
type Meta struct {
	Total       int `json:"total"`
	CurrentPage int `json:"currentPage"`
	LastPage    int `json:"lastPage"`
	PerPage     int `json:"perPage"`
}

// FetchResult is one page of rows as returned by the backend. It is immutable
// once received and superseded wholesale by the next accepted fetch.
type FetchResult[T any] struct {
	Data []T  `json:"data"`
	Meta Meta `json:"meta"`
}

// RawResult is a FetchResult whose rows have not been decoded yet.
type RawResult = FetchResult[json.RawMessage]

// FetchRequest is the request descriptor built from a full QueryState.
type FetchRequest struct {
	Endpoint string
	Query    QueryState
	// Sequence orders requests issued by one controller.
	Sequence uint64
	// Refresh is set by a forced refresh; caches must not answer it.
	Refresh bool
	Session Session
}

// Snapshot is a point-in-time read of a table controller.
type Snapshot[T any] struct {
	Rows         []T            `json:"rows"`
	Meta         Meta           `json:"meta"`
	Lifecycle    LifecycleState `json:"lifecycle"`
	Error        *ErrorEnvelope `json:"error,omitempty"`
	Query        QueryState     `json:"query"`
	RefreshToken uint64         `json:"refreshToken"`
}

// Empty reports whether the last accepted fetch returned no rows.
func (s Snapshot[T]) Empty() bool {
	return s.Lifecycle == Success && len(s.Rows) == 0
}
