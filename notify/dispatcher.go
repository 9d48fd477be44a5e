/*
Package notify delivers exchange transition events to users.

PURPOSE:
  Best-effort, fire-and-forget fan-out of exchange.Event values. The
  core hands an event to the dispatcher and moves on; delivery happens
  on a worker goroutine and can never fail, delay, or roll back a
  transition.

BACKPRESSURE:
  The dispatcher buffers events on a channel. When the buffer is full
  the event is DROPPED (and counted), never blocked on - a slow email
  backend must not stall settlement.

SENDERS:
  Sender is the delivery backend. LogSender writes structured log lines
  (the email templating/delivery mechanics live outside this module).
  Recorder captures events for tests.
*/
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/pageturn/bookswap/exchange"
)

// Sender delivers a single event. Errors are logged, never propagated.
type Sender interface {
	Send(ev exchange.Event) error
}

// =============================================================================
// DISPATCHER - Buffered async fan-out
// =============================================================================

// Dispatcher implements exchange.Notifier over a buffered channel and a
// single worker goroutine.
type Dispatcher struct {
	sender  Sender
	log     zerolog.Logger
	events  chan exchange.Event
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewDispatcher starts the worker. Close releases it.
func NewDispatcher(sender Sender, log zerolog.Logger, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	d := &Dispatcher{
		sender: sender,
		log:    log,
		events: make(chan exchange.Event, buffer),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Notify enqueues an event. Never blocks: if the buffer is full the
// event is dropped and counted.
func (d *Dispatcher) Notify(ev exchange.Event) {
	select {
	case d.events <- ev:
	default:
		d.dropped.Add(1)
		d.log.Warn().
			Str("kind", string(ev.Kind)).
			Str("exchange_id", string(ev.ExchangeID)).
			Msg("notification buffer full, event dropped")
	}
}

// Dropped returns how many events were discarded due to backpressure.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops the worker after draining queued events.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.events)
		<-d.done
	})
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.events {
		if err := d.sender.Send(ev); err != nil {
			// Logged and forgotten: delivery failures never reach the core.
			d.log.Error().Err(err).
				Str("kind", string(ev.Kind)).
				Str("exchange_id", string(ev.ExchangeID)).
				Str("recipient", string(ev.Recipient)).
				Msg("notification delivery failed")
		}
	}
}

// =============================================================================
// SENDERS
// =============================================================================

// LogSender records deliveries as structured log lines. The production
// email backend sits behind the same interface outside this module.
type LogSender struct {
	Log zerolog.Logger
}

func (s LogSender) Send(ev exchange.Event) error {
	s.Log.Info().
		Str("kind", string(ev.Kind)).
		Str("exchange_id", string(ev.ExchangeID)).
		Str("book_id", string(ev.BookID)).
		Str("recipient", string(ev.Recipient)).
		Msg("notification sent")
	return nil
}

// Recorder captures events for tests.
type Recorder struct {
	mu     sync.Mutex
	events []exchange.Event
}

func (r *Recorder) Notify(ev exchange.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []exchange.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]exchange.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns just the event kinds, in order.
func (r *Recorder) Kinds() []exchange.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]exchange.EventKind, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

var _ exchange.Notifier = (*Dispatcher)(nil)
var _ exchange.Notifier = (*Recorder)(nil)
