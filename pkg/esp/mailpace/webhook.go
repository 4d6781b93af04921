package mailpace

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrymomot/mailbridge/pkg/email"
	"github.com/dmitrymomot/mailbridge/pkg/esp"
	"github.com/dmitrymomot/mailbridge/pkg/inbound"
)

// Map of MailPace event names to canonical event types.
var eventTypes = map[string]esp.EventType{
	"email.queued":    esp.EventQueued,
	"email.delivered": esp.EventDelivered,
	"email.deferred":  esp.EventDeferred,
	"email.bounced":   esp.EventBounced,
	"email.spam":      esp.EventRejected,
}

// TrackingWebhook verifies and parses MailPace delivery webhooks. MailPace
// signs the raw request body with an Ed25519 key; the matching public key is
// shown in the dashboard, base64-encoded.
type TrackingWebhook struct {
	key ed25519.PublicKey
}

// NewTrackingWebhook creates a tracking webhook parser from the
// base64-encoded public webhook key.
func NewTrackingWebhook(webhookKey string) (*TrackingWebhook, error) {
	raw, err := base64.StdEncoding.DecodeString(webhookKey)
	if err != nil {
		return nil, fmt.Errorf("%w: MailPace webhook key is not valid base64", email.ErrInvalidConfig)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: MailPace webhook key must be %d bytes, got %d",
			email.ErrInvalidConfig, ed25519.PublicKeySize, len(raw))
	}
	return &TrackingWebhook{key: ed25519.PublicKey(raw)}, nil
}

// Verify checks the X-MailPace-Signature header (base64 Ed25519 signature
// over the raw body).
func (w *TrackingWebhook) Verify(r *http.Request, body []byte) error {
	sigB64 := r.Header.Get("X-MailPace-Signature")
	if sigB64 == "" {
		return fmt.Errorf("%w: MailPace webhook called with missing signature", esp.ErrWebhookVerification)
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("%w: MailPace webhook called with invalid signature", esp.ErrWebhookVerification)
	}
	if !ed25519.Verify(w.key, body, sig) {
		return fmt.Errorf("%w: MailPace webhook called with incorrect signature", esp.ErrWebhookVerification)
	}
	return nil
}

type trackingPayload struct {
	Event   string `json:"event"`
	Payload struct {
		ID        json.Number `json:"id"`
		MessageID string      `json:"message_id"`
		To        string      `json:"to"`
		CreatedAt time.Time   `json:"created_at"`
		Tags      []string    `json:"tags"`
	} `json:"payload"`
}

// ParseEvents implements esp.TrackingParser. Unrecognized event names map to
// EventUnknown.
func (w *TrackingWebhook) ParseEvents(_ *http.Request, body []byte) ([]esp.TrackingEvent, error) {
	var raw trackingPayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid MailPace webhook payload: %w", err)
	}

	eventType, ok := eventTypes[raw.Event]
	if !ok {
		eventType = esp.EventUnknown
	}
	var rejectReason esp.RejectReason
	switch eventType {
	case esp.EventRejected:
		rejectReason = esp.RejectSpam
	case esp.EventBounced:
		rejectReason = esp.RejectBounced
	}
	tags := raw.Payload.Tags
	if tags == nil {
		tags = []string{}
	}

	var espEvent any
	_ = json.Unmarshal(body, &espEvent)

	return []esp.TrackingEvent{{
		Type:         eventType,
		Timestamp:    raw.Payload.CreatedAt,
		EventID:      raw.Payload.ID.String(),
		MessageID:    raw.Payload.MessageID,
		Recipient:    raw.Payload.To,
		Tags:         tags,
		RejectReason: rejectReason,
		ESPEvent:     espEvent,
	}}, nil
}

// InboundWebhook parses MailPace inbound mail webhooks. MailPace does not
// sign inbound webhooks yet; protect the endpoint with
// esp.WithBasicAuth until it does.
type InboundWebhook struct {
	esp.NoVerifier
}

// NewInboundWebhook creates an inbound webhook parser.
func NewInboundWebhook() *InboundWebhook { return &InboundWebhook{} }

// ParseInbound implements esp.InboundParser using the raw MIME source
// MailPace includes in every inbound notification.
func (w *InboundWebhook) ParseInbound(_ *http.Request, body []byte) ([]esp.InboundEvent, error) {
	var raw struct {
		ID  json.Number `json:"id"`
		Raw string      `json:"raw"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid MailPace inbound payload: %w", err)
	}
	msg, err := inbound.ParseRawMIME([]byte(raw.Raw))
	if err != nil {
		return nil, fmt.Errorf("invalid MailPace inbound raw mime: %w", err)
	}

	var espEvent any
	_ = json.Unmarshal(body, &espEvent)

	return []esp.InboundEvent{{
		Timestamp: time.Now().UTC(),
		EventID:   raw.ID.String(),
		Message:   msg,
		ESPEvent:  espEvent,
	}}, nil
}
