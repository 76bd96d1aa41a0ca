package table

import (
	"time"

	"github.com/pitabwire/concierge/model"
)

// Timer is a scheduled callback that can be stopped.
type Timer interface {
	// Stop prevents the callback from running. It returns false if the
	// callback already ran or was stopped.
	Stop() bool
}

// Clock schedules callbacks and reads the time.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// RealClock is the wall clock.
type RealClock struct{}

// Now returns time.Now.
func (RealClock) Now() time.Time { return time.Now() }

// AfterFunc wraps time.AfterFunc.
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// swapTask installs the rows of an accepted fetch after the smoothing
// delay. A cancelled task never installs its rows, even if its timer has
// already fired and is waiting on the controller lock.
type swapTask struct {
	// shownMeta belongs to the rows on screen while the swap is pending.
	shownMeta model.Meta
	timer     Timer
	cancelled bool
}

func (s *swapTask) cancel() {
	s.cancelled = true
	if s.timer != nil {
		s.timer.Stop()
	}
}
