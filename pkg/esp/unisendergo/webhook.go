package unisendergo

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrymomot/mailbridge/pkg/email"
	"github.com/dmitrymomot/mailbridge/pkg/esp"
)

var eventTypes = map[string]esp.EventType{
	"sent":         esp.EventSent,
	"delivered":    esp.EventDelivered,
	"opened":       esp.EventOpened,
	"clicked":      esp.EventClicked,
	"unsubscribed": esp.EventUnsubscribed,
	"subscribed":   esp.EventSubscribed,
	"spam":         esp.EventComplained,
	"soft_bounced": esp.EventBounced,
	"hard_bounced": esp.EventBounced,
}

var rejectReasons = map[string]esp.RejectReason{
	"err_user_unknown":              esp.RejectInvalid,
	"err_user_inactive":             esp.RejectInvalid,
	"err_will_retry":                esp.RejectInvalid,
	"err_mailbox_discarded":         esp.RejectInvalid,
	"err_mailbox_full":              esp.RejectBounced,
	"err_spam_rejected":             esp.RejectSpam,
	"err_blacklisted":               esp.RejectBlocked,
	"err_too_large":                 esp.RejectBlocked,
	"err_unsubscribed":              esp.RejectUnsubscribed,
	"err_unreachable":               esp.RejectInvalid,
	"err_skip_letter":               esp.RejectInvalid,
	"err_domain_inactive":           esp.RejectInvalid,
	"err_destination_misconfigured": esp.RejectBounced,
	"err_delivery_failed":           esp.RejectOther,
	"err_spam_skipped":              esp.RejectSpam,
	"err_lost":                      esp.RejectOther,
}

const eventTimeLayout = "2006-01-02 15:04:05"

// TrackingWebhook verifies and parses Unisender Go status callbacks.
//
// Unisender Go authenticates by hashing: the sender serializes the callback
// with the account api key in the "auth" field, MD5s the compact JSON, and
// ships that digest as the auth value. Verification substitutes the key back
// in and compares digests.
type TrackingWebhook struct {
	apiKey string
}

// NewTrackingWebhook creates a verifier/parser bound to the account api key.
func NewTrackingWebhook(apiKey string) (*TrackingWebhook, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: Unisender Go webhook requires the api key", email.ErrInvalidConfig)
	}
	return &TrackingWebhook{apiKey: apiKey}, nil
}

// Verify implements esp.WebhookVerifier.
func (w *TrackingWebhook) Verify(_ *http.Request, body []byte) error {
	var envelope struct {
		Auth string `json:"auth"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Auth == "" {
		return fmt.Errorf("%w: missing auth in Unisender Go webhook", esp.ErrWebhookVerification)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		return fmt.Errorf("%w: malformed Unisender Go webhook body", esp.ErrWebhookVerification)
	}
	// The digest was computed over the same document with the api key in
	// place of the auth digest.
	withKey := strings.Replace(compact.String(),
		`"auth":"`+envelope.Auth+`"`, `"auth":"`+w.apiKey+`"`, 1)
	sum := md5.Sum([]byte(withKey))
	expected := hex.EncodeToString(sum[:])

	if !hmac.Equal([]byte(envelope.Auth), []byte(expected)) {
		return fmt.Errorf("%w: invalid auth in Unisender Go webhook", esp.ErrWebhookVerification)
	}
	return nil
}

type callbackEvent struct {
	EventName string `json:"event_name"`
	EventData struct {
		JobID        string          `json:"job_id"`
		Metadata     map[string]any  `json:"metadata"`
		Email        string          `json:"email"`
		Status       string          `json:"status"`
		EventTime    string          `json:"event_time"`
		URL          string          `json:"url"`
		DeliveryInfo struct {
			DeliveryStatus      string `json:"delivery_status"`
			DestinationResponse string `json:"destination_response"`
			UserAgent           string `json:"user_agent"`
		} `json:"delivery_info"`
	} `json:"event_data"`
}

// ParseEvents implements esp.TrackingParser. Infrastructure notices
// (transactional_spam_block) are skipped.
func (w *TrackingWebhook) ParseEvents(_ *http.Request, body []byte) ([]esp.TrackingEvent, error) {
	var envelope struct {
		EventsByUser []struct {
			Events []callbackEvent `json:"events"`
		} `json:"events_by_user"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parsing Unisender Go webhook: %w", err)
	}
	if len(envelope.EventsByUser) == 0 {
		return nil, nil
	}

	var events []esp.TrackingEvent
	for _, raw := range envelope.EventsByUser[0].Events {
		if raw.EventName == "transactional_spam_block" {
			continue
		}
		events = append(events, w.parseEvent(raw))
	}
	return events, nil
}

func (w *TrackingWebhook) parseEvent(raw callbackEvent) esp.TrackingEvent {
	data := raw.EventData

	eventType, ok := eventTypes[data.Status]
	if !ok {
		eventType = esp.EventUnknown
	}

	// Event times are reported in UTC without a zone designator.
	timestamp, err := time.ParseInLocation(eventTimeLayout, data.EventTime, time.UTC)
	if err != nil {
		timestamp = time.Time{}
	}

	var rejectReason esp.RejectReason
	if strings.HasPrefix(data.DeliveryInfo.DeliveryStatus, "err") {
		rejectReason, ok = rejectReasons[data.DeliveryInfo.DeliveryStatus]
		if !ok {
			rejectReason = esp.RejectOther
		}
	}

	var messageID string
	if id, ok := data.Metadata["message_id"].(string); ok {
		messageID = id
	}

	var espEvent map[string]any
	if encoded, err := json.Marshal(data); err == nil {
		_ = json.Unmarshal(encoded, &espEvent)
	}

	return esp.TrackingEvent{
		Type:         eventType,
		Timestamp:    timestamp,
		MessageID:    messageID,
		Recipient:    data.Email,
		RejectReason: rejectReason,
		Metadata:     data.Metadata,
		MTAResponse:  data.DeliveryInfo.DestinationResponse,
		ClickURL:     data.URL,
		UserAgent:    data.DeliveryInfo.UserAgent,
		ESPEvent:     espEvent,
	}
}
