// Package clock is the scheduling port used by pollers and caches so that
// tests can drive virtual time.
package clock

import "time"

// Timer is a pending one-shot callback
type Timer interface {
	// Stop cancels the callback. It reports false if the timer already fired or was stopped.
	Stop() bool
}

// Clock schedules callbacks and reports the current time
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// Real returns a Clock backed by the time package
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
