// ABOUTME: Clock seam for the tracking loop so tests can drive window
// ABOUTME: timing deterministically instead of sleeping wall-clock time

package followup

import "time"

// Clock supplies the two time operations the scheduler needs. Production
// code uses SystemClock; tests substitute a hand-cranked fake.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }
