package preload

import "time"

const (
	// rapidTurnThreshold is the maximum gap between two navigations for the
	// pair to count toward rapid mode.
	rapidTurnThreshold = 200 * time.Millisecond
	// rapidTurnTriggerCount is how many consecutive sub-threshold gaps are
	// required before rapid mode engages.
	rapidTurnTriggerCount = 3
	// rapidRecoveryDelay is the fixed recovery timer armed by the scheduler
	// while rapid mode is active.
	rapidRecoveryDelay = 500 * time.Millisecond
)

// rapidTurnDetector watches the spacing of consecutive navigations and
// flips into rapid mode after rapidTurnTriggerCount sub-threshold gaps in a
// row. A gap at or above the threshold resets the run counter but does not
// leave rapid mode; only Reset (the scheduler's recovery timer) does that.
type rapidTurnDetector struct {
	threshold time.Duration
	trigger   int

	last  time.Time
	count int
	rapid bool
}

func newRapidTurnDetector() *rapidTurnDetector {
	return &rapidTurnDetector{
		threshold: rapidTurnThreshold,
		trigger:   rapidTurnTriggerCount,
	}
}

// Observe feeds one navigation timestamp. It returns the rapid state after
// the observation and whether this observation entered rapid mode.
func (d *rapidTurnDetector) Observe(now time.Time) (rapid, entered bool) {
	if !d.last.IsZero() && now.Sub(d.last) < d.threshold {
		d.count++
	} else {
		d.count = 0
	}
	d.last = now

	if !d.rapid && d.count >= d.trigger {
		d.rapid = true
		entered = true
	}
	return d.rapid, entered
}

// Rapid reports whether rapid mode is active.
func (d *rapidTurnDetector) Rapid() bool {
	return d.rapid
}

// Count returns the current consecutive fast-turn count.
func (d *rapidTurnDetector) Count() int {
	return d.count
}

// Reset leaves rapid mode and clears the run counter. Called when the
// recovery timer fires.
func (d *rapidTurnDetector) Reset() {
	d.rapid = false
	d.count = 0
}
