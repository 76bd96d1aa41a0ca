package table

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pitabwire/concierge/model"
)

type hotel struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func hotelColumns() []Column[hotel] {
	return []Column[hotel]{
		{Key: "id", Label: "ID", Sortable: true, Render: func(h hotel) string { return fmt.Sprint(h.ID) }},
		{Key: "name", Label: "Name", Sortable: true, Render: func(h hotel) string { return h.Name }},
		{Key: "price", Label: "Price", Sortable: true},
		{Key: "city", Label: "City"},
	}
}

// pageOf builds a result whose rows carry the page number in their IDs so
// tests can tell which request a snapshot came from.
func pageOf(page, limit, total int) model.RawResult {
	res := model.RawResult{Meta: model.Meta{
		Total:       total,
		CurrentPage: page,
		PerPage:     limit,
		LastPage:    (total + limit - 1) / limit,
	}}
	for i := 0; i < limit && (page-1)*limit+i < total; i++ {
		b, _ := json.Marshal(hotel{ID: page*100 + i, Name: fmt.Sprintf("hotel %d-%d", page, i)})
		res.Data = append(res.Data, b)
	}
	return res
}

type response struct {
	result model.RawResult
	err    error
}

type call struct {
	ctx     context.Context
	req     model.FetchRequest
	respond chan response
}

func (c *call) reply(res model.RawResult) { c.respond <- response{result: res} }
func (c *call) fail(err error)            { c.respond <- response{err: err} }

// scriptedFetcher hands every request to the test, which decides when and
// in what order responses are delivered. It ignores cancellation so that
// superseded responses still arrive late, as they would from a slow backend.
type scriptedFetcher struct {
	calls chan *call
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{calls: make(chan *call, 64)}
}

func (f *scriptedFetcher) Fetch(ctx context.Context, req model.FetchRequest) (model.RawResult, error) {
	c := &call{ctx: ctx, req: req, respond: make(chan response, 1)}
	f.calls <- c
	r := <-c.respond
	return r.result, r.err
}

func (f *scriptedFetcher) next(t *testing.T) *call {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a fetch")
		return nil
	}
}

func (f *scriptedFetcher) expectNone(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected fetch %+v", c.req.Query)
	case <-time.After(20 * time.Millisecond):
	}
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes []string
	stale    int
}

func (r *countingRecorder) FetchCompleted(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *countingRecorder) StaleDiscarded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stale++
}

func (r *countingRecorder) staleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stale
}

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()
	for _, f := range due {
		f()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
