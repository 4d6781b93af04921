package esp

import (
	"time"

	"github.com/dmitrymomot/mailbridge/pkg/inbound"
)

// EventType is the canonical webhook event taxonomy. Provider-specific event
// names map onto it via fixed per-provider lookup tables; unrecognized names
// map to EventUnknown, never an error.
type EventType string

const (
	EventQueued       EventType = "queued"
	EventSent         EventType = "sent"
	EventDelivered    EventType = "delivered"
	EventDeferred     EventType = "deferred"
	EventBounced      EventType = "bounced"
	EventRejected     EventType = "rejected"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventComplained   EventType = "complained"
	EventUnsubscribed EventType = "unsubscribed"
	EventSubscribed   EventType = "subscribed"
	EventInbound      EventType = "inbound"
	EventUnknown      EventType = "unknown"
)

// RejectReason classifies why a message was bounced, dropped, or blocked.
// Empty means not applicable.
type RejectReason string

const (
	RejectInvalid      RejectReason = "invalid"
	RejectBounced      RejectReason = "bounced"
	RejectBlocked      RejectReason = "blocked"
	RejectSpam         RejectReason = "spam"
	RejectUnsubscribed RejectReason = "unsubscribed"
	RejectTimedOut     RejectReason = "timed_out"
	RejectOther        RejectReason = "other"
)

// TrackingEvent is a normalized delivery or engagement notification for a
// previously sent message.
type TrackingEvent struct {
	Type      EventType
	Timestamp time.Time
	// MessageID is the provider-assigned (or builder-generated) id of the
	// original send.
	MessageID string
	// EventID is the provider's idempotency key for this event, when given.
	EventID      string
	Recipient    string
	RejectReason RejectReason
	Tags         []string
	Metadata     map[string]any
	// MTAResponse is the receiving MTA's raw response line, when reported.
	MTAResponse string
	ClickURL    string
	UserAgent   string
	// ESPEvent retains the provider's original payload for debugging.
	ESPEvent any
}

// InboundEvent is a normalized received-mail notification.
type InboundEvent struct {
	Timestamp time.Time
	EventID   string
	Message   *inbound.Message
	// ESPEvent retains the provider's original payload for debugging.
	ESPEvent any
}
