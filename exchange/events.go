// events.go - Outbound transition events for the notification dispatcher.
//
// Events are fired AFTER a successful transition (or after a refused
// admission that the requester should hear about, e.g. insufficient
// points). They are best-effort: a Notifier must never block the core
// and can never roll a transition back.
package exchange

// EventKind identifies which transition an event reports.
type EventKind string

const (
	EventRequested          EventKind = "exchange_requested"
	EventCompleted          EventKind = "exchange_completed"
	EventRejected           EventKind = "exchange_rejected"
	EventCancelled          EventKind = "exchange_cancelled"
	EventDisputed           EventKind = "exchange_disputed"
	EventInsufficientPoints EventKind = "insufficient_points"
)

// Event is the payload handed to the Notifier.
type Event struct {
	Kind       EventKind
	ExchangeID ExchangeID
	BookID     BookID
	// Recipient is the user the notification is addressed to.
	Recipient UserID
}

// Notifier consumes transition events asynchronously. Implementations
// must return immediately; delivery is fire-and-forget.
type Notifier interface {
	Notify(ev Event)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) Notify(Event) {}
