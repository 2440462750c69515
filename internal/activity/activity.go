package activity

import "time"

// Tracker follows one instance's GPU activity across poll ticks. An interval
// opens at the first reading at or above the threshold and closes at the
// first reading below it; the interval's length is measured between those
// two polls.
type Tracker struct {
	ThresholdPct int

	open        bool
	activeSince time.Time
	lastActive  time.Time

	intervals int
	total     time.Duration
}

func NewTracker(thresholdPct int) *Tracker {
	if thresholdPct < 1 {
		thresholdPct = 1
	}
	return &Tracker{ThresholdPct: thresholdPct}
}

// Observe feeds one utilization reading taken at seenAt. When the reading
// closes an open interval it returns that interval's duration and true.
func (t *Tracker) Observe(util int, seenAt time.Time) (time.Duration, bool) {
	if util >= t.ThresholdPct {
		if !t.open {
			t.open = true
			t.activeSince = seenAt
		}
		t.lastActive = seenAt
		return 0, false
	}

	if !t.open {
		return 0, false
	}
	return t.Close(seenAt), true
}

// Close ends the open interval at the given time. It returns zero when no
// interval is open.
func (t *Tracker) Close(at time.Time) time.Duration {
	if !t.open {
		return 0
	}
	d := at.Sub(t.activeSince)
	if d < 0 {
		d = 0
	}
	t.open = false
	t.activeSince = time.Time{}
	t.intervals++
	t.total += d
	return d
}

func (t *Tracker) Open() bool { return t.open }

// ActiveSince is the start of the open interval, or the zero time.
func (t *Tracker) ActiveSince() time.Time { return t.activeSince }

func (t *Tracker) LastActive() time.Time { return t.lastActive }

// Intervals counts closed intervals.
func (t *Tracker) Intervals() int { return t.intervals }

// Total is the summed length of closed intervals.
func (t *Tracker) Total() time.Duration { return t.total }
