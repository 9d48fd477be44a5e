package notify_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pageturn/bookswap/exchange"
	"github.com/pageturn/bookswap/notify"
)

// captureSender records deliveries; optionally blocks until released.
type captureSender struct {
	mu      sync.Mutex
	sent    []exchange.Event
	fail    bool
	gate    chan struct{}
}

func (s *captureSender) Send(ev exchange.Event) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	s.sent = append(s.sent, ev)
	s.mu.Unlock()
	if s.fail {
		return errors.New("smtp down")
	}
	return nil
}

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestDispatcher_DeliversAsync(t *testing.T) {
	// GIVEN: a running dispatcher
	// WHEN: events are enqueued
	// THEN: the worker delivers all of them; Close drains the queue

	sender := &captureSender{}
	d := notify.NewDispatcher(sender, zerolog.Nop(), 16)

	for i := 0; i < 5; i++ {
		d.Notify(exchange.Event{Kind: exchange.EventRequested, ExchangeID: "ex-1"})
	}
	d.Close()

	assert.Equal(t, 5, sender.count())
	assert.Zero(t, d.Dropped())
}

func TestDispatcher_SenderFailureIsSwallowed(t *testing.T) {
	// GIVEN: a sender that always fails
	// WHEN: events are dispatched
	// THEN: Notify never errors or panics - failures are logged only

	sender := &captureSender{fail: true}
	d := notify.NewDispatcher(sender, zerolog.Nop(), 16)

	d.Notify(exchange.Event{Kind: exchange.EventCompleted, ExchangeID: "ex-1"})
	d.Close()

	assert.Equal(t, 1, sender.count())
}

func TestDispatcher_DropsInsteadOfBlocking(t *testing.T) {
	// GIVEN: a saturated buffer behind a stalled sender
	// WHEN: more events arrive
	// THEN: Notify returns immediately and counts the drops

	gate := make(chan struct{})
	sender := &captureSender{gate: gate}
	d := notify.NewDispatcher(sender, zerolog.Nop(), 2)

	done := make(chan struct{})
	go func() {
		// Far more events than buffer + in-flight capacity.
		for i := 0; i < 10; i++ {
			d.Notify(exchange.Event{Kind: exchange.EventRequested})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a full buffer")
	}

	require.Greater(t, d.Dropped(), int64(0))
	close(gate)
	d.Close()
}
