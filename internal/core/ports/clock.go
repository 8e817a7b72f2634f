package ports

//go:generate mockgen -source=clock.go -destination=mocks/clock.go -package=mocks

import "time"

// Clock supplies the current time for due dates, overdue checks and timeouts.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
