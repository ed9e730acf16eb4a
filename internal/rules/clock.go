package rules

import "time"

// Clock supplies the evaluation time so tests can drive time deterministically.
type Clock interface {
	NowUTC() time.Time
}

type systemClock struct{}

func (systemClock) NowUTC() time.Time {
	return time.Now().UTC()
}

// SystemClock returns the wall clock.
func SystemClock() Clock {
	return systemClock{}
}

// FixedClock always reports the same instant.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) NowUTC() time.Time {
	return c.T.UTC()
}
