package table

import (
	"net/url"
	"sync"
)

// Location is the URL query string a controller mirrors its state into.
// Only the controller writes to it.
type Location interface {
	Values() url.Values
	Replace(url.Values)
}

// MemoryLocation is an in-process Location that keeps every write.
type MemoryLocation struct {
	mu      sync.Mutex
	current url.Values
	history []string
}

// NewMemoryLocation returns a location holding the given initial query.
func NewMemoryLocation(initial url.Values) *MemoryLocation {
	return &MemoryLocation{current: cloneValues(initial)}
}

// Values returns a copy of the current query.
func (l *MemoryLocation) Values() url.Values {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneValues(l.current)
}

// Replace sets the current query and appends it to the history.
func (l *MemoryLocation) Replace(v url.Values) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = cloneValues(v)
	l.history = append(l.history, l.current.Encode())
}

// String returns the current encoded query string.
func (l *MemoryLocation) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current.Encode()
}

// History returns the encoded query strings written so far, oldest first.
func (l *MemoryLocation) History() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.history))
	copy(out, l.history)
	return out
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
