package roomsync

import "time"

const (
	DefaultJitter = 0.15
	minPollDelay  = 50 * time.Millisecond
)

// jitteredDelay spreads base by ±frac using rnd in [0, 1). The result is
// always positive.
func jitteredDelay(base time.Duration, frac float64, rnd func() float64) time.Duration {
	if base <= 0 {
		return minPollDelay
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 0.9 {
		frac = 0.9
	}

	offset := (rnd()*2 - 1) * frac
	d := time.Duration(float64(base) * (1 + offset))
	if d <= 0 {
		return minPollDelay
	}

	return d
}
