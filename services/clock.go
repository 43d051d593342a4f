// services/clock.go
package services

import "time"

// Clock supplies the current time. The scheduler, generator, rate limiter and
// submission pipeline all take one so tests can drive time deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func SystemClock() Clock { return systemClock{} }
