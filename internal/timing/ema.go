package timing

import "time"

// EMA tracks the exponential moving average of the interval between
// arrivals in one channel.
type EMA struct {
	alpha   float64
	mean    float64 // seconds
	last    time.Time
	samples int
}

// NewEMA weights each new interval by alpha.
func NewEMA(alpha float64) *EMA {
	return &EMA{alpha: alpha}
}

// Observe records an arrival. Arrivals out of order only move the clock
// forward.
func (e *EMA) Observe(at time.Time) {
	if !at.After(e.last) {
		return
	}
	if e.last.IsZero() {
		e.last = at
		return
	}
	interval := at.Sub(e.last).Seconds()
	e.last = at
	if e.samples == 0 {
		e.mean = interval
	} else {
		e.mean = e.alpha*interval + (1-e.alpha)*e.mean
	}
	e.samples++
}

// Mean returns the average interval; false until two arrivals were seen.
func (e *EMA) Mean() (time.Duration, bool) {
	if e.samples == 0 {
		return 0, false
	}
	return time.Duration(e.mean * float64(time.Second)), true
}
