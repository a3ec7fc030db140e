package watcher

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Flush after the debouncer has been closed.
var ErrClosed = errors.New("watcher closed")

// Debouncer collects events and emits them as one batch after a quiet
// period. Events for the same path within the window collapse into the
// latest one. A batch is never held back longer than maxWait after the
// first event of the window, so a file written continuously still
// propagates.
type Debouncer struct {
	interval time.Duration
	maxWait  time.Duration

	mu      sync.Mutex
	pending map[string]Event
	order   []string
	first   time.Time
	timer   *time.Timer

	output    chan Batch
	done      chan struct{}
	closeOnce sync.Once
}

// NewDebouncer creates a debouncer with the given quiet interval and
// upper bound on delay.
func NewDebouncer(interval, maxWait time.Duration) *Debouncer {
	if maxWait < interval {
		maxWait = interval
	}
	return &Debouncer{
		interval: interval,
		maxWait:  maxWait,
		pending:  make(map[string]Event),
		output:   make(chan Batch, 16),
		done:     make(chan struct{}),
	}
}

// Output returns the channel that receives batches.
func (d *Debouncer) Output() <-chan Batch {
	return d.output
}

// Add adds an event to the current window, replacing any pending event
// for the same path.
func (d *Debouncer) Add(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	select {
	case <-d.done:
		return
	default:
	}

	now := time.Now()
	if len(d.pending) == 0 {
		d.first = now
	}
	if _, ok := d.pending[ev.Path]; !ok {
		d.order = append(d.order, ev.Path)
	}
	d.pending[ev.Path] = ev

	delay := d.interval
	if deadline := d.first.Add(d.maxWait); now.Add(delay).After(deadline) {
		delay = max(deadline.Sub(now), 0)
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(delay, d.fire)
}

// fire sends the pending window to the output channel. Sending under the
// lock keeps batches in the order their events were observed.
func (d *Debouncer) fire() {
	d.mu.Lock()
	defer d.mu.Unlock()

	batch := d.take()
	if len(batch.Events) == 0 {
		return
	}
	select {
	case d.output <- batch:
	case <-d.done:
	}
}

// take empties the pending window. Callers hold d.mu.
func (d *Debouncer) take() Batch {
	if len(d.pending) == 0 {
		return Batch{}
	}
	events := make([]Event, 0, len(d.order))
	for _, path := range d.order {
		events = append(events, d.pending[path])
	}
	d.pending = make(map[string]Event)
	d.order = d.order[:0:0]
	return Batch{Events: events}
}

// Flush emits pending events immediately and waits until the consumer has
// acknowledged them together with every batch sent before.
func (d *Debouncer) Flush(ctx context.Context) error {
	ack := make(chan struct{})

	d.mu.Lock()
	select {
	case <-d.done:
		d.mu.Unlock()
		return ErrClosed
	default:
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	batch := d.take()
	batch.ack = ack
	select {
	case d.output <- batch:
	case <-d.done:
		d.mu.Unlock()
		return ErrClosed
	case <-ctx.Done():
		d.mu.Unlock()
		return ctx.Err()
	}
	d.mu.Unlock()

	select {
	case <-ack:
		return nil
	case <-d.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drops pending events and unblocks pending sends and flushes.
func (d *Debouncer) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
	})

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = make(map[string]Event)
	d.order = nil
}
