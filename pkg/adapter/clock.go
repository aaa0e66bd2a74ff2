package adapter

import "time"

// Clock abstracts wall-clock time so TTL logic can be tested deterministically.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// NewClock returns a Clock backed by the system time.
func NewClock() Clock {
	return realClock{}
}
