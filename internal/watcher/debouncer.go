package watcher

import (
	"sort"
	"sync"
	"time"
)

// Debouncer collects events and emits them as one batch once no new event
// has arrived for the delay. Repeated events for a path are merged.
type Debouncer struct {
	delay time.Duration
	emit  func([]Event)

	mu     sync.Mutex
	timer  *time.Timer
	events map[string]Event
}

// NewDebouncer creates a debouncer calling emit with each batch.
func NewDebouncer(delay time.Duration, emit func([]Event)) *Debouncer {
	return &Debouncer{
		delay:  delay,
		emit:   emit,
		events: make(map[string]Event),
	}
}

// Add records an event and restarts the quiet period.
func (d *Debouncer) Add(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.events[ev.Path]; ok {
		ev.Op |= prev.Op
	}
	d.events[ev.Path] = ev

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

func (d *Debouncer) take() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if len(d.events) == 0 {
		return nil
	}
	batch := make([]Event, 0, len(d.events))
	for _, ev := range d.events {
		batch = append(batch, ev)
	}
	d.events = make(map[string]Event)
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	return batch
}

func (d *Debouncer) flush() {
	if batch := d.take(); batch != nil && d.emit != nil {
		d.emit(batch)
	}
}

// Flush emits pending events immediately.
func (d *Debouncer) Flush() {
	d.flush()
}

// Cancel drops pending events.
func (d *Debouncer) Cancel() {
	d.take()
}

// Pending returns the number of distinct paths waiting to be emitted.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}
