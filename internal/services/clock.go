package services

import "time"

// Clock returns the current wall time in the deployment time zone.
type Clock func() time.Time

func SystemClock(loc *time.Location) Clock {
	return func() time.Time { return time.Now().In(loc) }
}

// FixedClock always returns t. Used by tests and scripted runs.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}
