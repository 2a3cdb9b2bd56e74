// Package notify is the user-facing notification sink: the client-side
// equivalent of a toast. Notifications terminate in the event bus and the
// log; rendering them is the subscriber's concern.
package notify

import (
	"time"

	"github.com/diodelink/diodelink/internal/events"
	"github.com/diodelink/diodelink/internal/logging"
)

// Severity levels understood by notification subscribers.
const (
	SeverityError   = "error"
	SeverityWarn    = "warn"
	SeverityInfo    = "info"
	SeveritySuccess = "success"
)

// Notifier publishes user-facing notifications.
type Notifier struct {
	bus      *events.Bus
	log      *logging.Logger
	lifetime time.Duration
}

// New creates a notifier. The lifetime is attached to every notification so
// subscribers know how long to keep it visible.
func New(bus *events.Bus, log *logging.Logger, lifetime time.Duration) *Notifier {
	return &Notifier{bus: bus, log: log, lifetime: lifetime}
}

// Notify publishes one notification. Title and message are translation keys
// (or, for network errors, a raw error message in place of the message key).
func (n *Notifier) Notify(severity, title, message string) {
	if n.bus != nil {
		n.bus.Publish(&events.NotificationEvent{
			BaseEvent: events.BaseEvent{EventType: events.EventNotification, Time: time.Now()},
			Severity:  severity,
			Title:     title,
			Message:   message,
			Lifetime:  n.lifetime,
		})
	}
	if n.log != nil {
		switch severity {
		case SeverityError:
			n.log.Error().Str("title", title).Msg(message)
		case SeverityWarn:
			n.log.Warn().Str("title", title).Msg(message)
		default:
			n.log.Info().Str("title", title).Msg(message)
		}
	}
}

// Error publishes an error severity notification.
func (n *Notifier) Error(title, message string) {
	n.Notify(SeverityError, title, message)
}
