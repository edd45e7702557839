package domain

import "time"

// Clock abstracts wall-clock reads so timestamps and backoff scheduling are
// testable. Production code uses RealClock; tests inject a fake.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock in UTC.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now().UTC()
}
