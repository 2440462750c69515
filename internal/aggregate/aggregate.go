package aggregate

import (
	"sync"
	"time"
)

// Aggregate is the run-wide state shared by every instance.
type Aggregate struct {
	PeakUtilization int
	TotalActive     time.Duration
	ActiveIntervals int
	Ticks           int
}

func (a Aggregate) TotalActiveSeconds() float64 {
	return a.TotalActive.Seconds()
}

// Sink receives per-tick updates from instance runners.
type Sink interface {
	ObserveUtilization(instance, util int)
	AddActive(instance int, d time.Duration)
}

type eventKind int

const (
	kindUtilization eventKind = iota
	kindActive
)

type event struct {
	kind     eventKind
	instance int
	util     int
	active   time.Duration
}

// Collector owns the Aggregate. Runners send it events over a channel and a
// single goroutine applies them, so no lock is held around the state itself.
// Max and addition commute, so the result does not depend on arrival order.
type Collector struct {
	events chan event
	done   chan struct{}

	closeOnce sync.Once
	agg       Aggregate
}

func NewCollector(buffer int) *Collector {
	if buffer < 0 {
		buffer = 0
	}
	c := &Collector{
		events: make(chan event, buffer),
		done:   make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Collector) run() {
	defer close(c.done)
	for ev := range c.events {
		switch ev.kind {
		case kindUtilization:
			c.agg.Ticks++
			if ev.util > c.agg.PeakUtilization {
				c.agg.PeakUtilization = ev.util
			}
		case kindActive:
			if ev.active > 0 {
				c.agg.TotalActive += ev.active
			}
			c.agg.ActiveIntervals++
		}
	}
}

func (c *Collector) ObserveUtilization(instance, util int) {
	c.events <- event{kind: kindUtilization, instance: instance, util: util}
}

func (c *Collector) AddActive(instance int, d time.Duration) {
	c.events <- event{kind: kindActive, instance: instance, active: d}
}

// Close stops accepting events and waits until every queued event has been
// applied. Senders must all have returned before Close is called.
func (c *Collector) Close() {
	c.closeOnce.Do(func() { close(c.events) })
	<-c.done
}

// Result returns the final aggregate. It blocks until Close has drained the
// collector.
func (c *Collector) Result() Aggregate {
	<-c.done
	return c.agg
}
