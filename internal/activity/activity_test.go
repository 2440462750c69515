package activity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func feed(tr *Tracker, readings []int, start time.Time, step time.Duration) (closed []time.Duration) {
	for i, util := range readings {
		if d, ok := tr.Observe(util, start.Add(time.Duration(i)*step)); ok {
			closed = append(closed, d)
		}
	}
	return closed
}

func TestTrackerClosedRuns(t *testing.T) {
	const step = 10 * time.Millisecond
	start := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name      string
		readings  []int
		closed    []time.Duration
		wantOpen  bool
		wantTotal time.Duration
	}{
		{
			name:      "two closed runs",
			readings:  []int{0, 5, 5, 0, 0, 3, 0},
			closed:    []time.Duration{2 * step, step},
			wantTotal: 3 * step,
		},
		{
			name:      "never active",
			readings:  []int{0, 0, 0},
			wantTotal: 0,
		},
		{
			name:      "open at end is not counted",
			readings:  []int{0, 9, 9, 9},
			wantOpen:  true,
			wantTotal: 0,
		},
		{
			name:      "negative reading closes like zero",
			readings:  []int{7, -1},
			closed:    []time.Duration{step},
			wantTotal: step,
		},
		{
			name:      "active from first poll",
			readings:  []int{100, 100, 0, 50, 0},
			closed:    []time.Duration{2 * step, step},
			wantTotal: 3 * step,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(1)
			closed := feed(tr, tt.readings, start, step)

			assert.Equal(t, tt.closed, closed)
			assert.Equal(t, tt.wantOpen, tr.Open())
			assert.Equal(t, tt.wantTotal, tr.Total())
			assert.Equal(t, len(tt.closed), tr.Intervals())
		})
	}
}

func TestTrackerThreshold(t *testing.T) {
	start := time.Unix(0, 0)
	tr := NewTracker(10)

	closed := feed(tr, []int{5, 10, 20, 9}, start, time.Second)
	assert.Equal(t, []time.Duration{2 * time.Second}, closed)
}

func TestTrackerCloseOpenInterval(t *testing.T) {
	start := time.Unix(0, 0)
	tr := NewTracker(0)
	assert.Equal(t, 1, tr.ThresholdPct)

	tr.Observe(40, start)
	assert.True(t, tr.Open())
	assert.Equal(t, start, tr.ActiveSince())

	tr.Observe(40, start.Add(time.Second))
	assert.Equal(t, start.Add(time.Second), tr.LastActive())

	d := tr.Close(start.Add(3 * time.Second))
	assert.Equal(t, 3*time.Second, d)
	assert.False(t, tr.Open())
	assert.True(t, tr.ActiveSince().IsZero())

	assert.Zero(t, tr.Close(start.Add(4*time.Second)))
	assert.Equal(t, 1, tr.Intervals())
}
