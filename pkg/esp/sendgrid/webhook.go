package sendgrid

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrymomot/mailbridge/pkg/email"
	"github.com/dmitrymomot/mailbridge/pkg/esp"
	"github.com/dmitrymomot/mailbridge/pkg/inbound"
)

const (
	signatureHeader = "X-Twilio-Email-Event-Webhook-Signature"
	timestampHeader = "X-Twilio-Email-Event-Webhook-Timestamp"
)

// signatureVerifier checks SendGrid's signed event webhook: an ECDSA P-256
// signature over timestamp + body, delivered in Twilio-named headers. A nil
// key skips verification (signing is an optional SendGrid feature).
type signatureVerifier struct {
	key *ecdsa.PublicKey
}

// parseVerificationKey accepts the base64 key string as shown in the
// SendGrid UI (a PKIX public key without PEM armor).
func parseVerificationKey(encoded string) (*ecdsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: SendGrid verification key is not valid base64: %v", email.ErrInvalidConfig, err)
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: SendGrid verification key: %v", email.ErrInvalidConfig, err)
	}
	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: SendGrid verification key is not an ECDSA public key", email.ErrInvalidConfig)
	}
	return key, nil
}

func (v signatureVerifier) Verify(r *http.Request, body []byte) error {
	if v.key == nil {
		return nil
	}
	signature := r.Header.Get(signatureHeader)
	if signature == "" {
		return fmt.Errorf("%w: %s header missing from webhook", esp.ErrWebhookVerification, signatureHeader)
	}
	timestamp := r.Header.Get(timestampHeader)
	if timestamp == "" {
		return fmt.Errorf("%w: %s header missing from webhook", esp.ErrWebhookVerification, timestampHeader)
	}
	decoded, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: SendGrid webhook signature is not valid base64", esp.ErrWebhookVerification)
	}
	digest := sha256.Sum256(append([]byte(timestamp), body...))
	if !ecdsa.VerifyASN1(v.key, digest[:], decoded) {
		return fmt.Errorf("%w: SendGrid webhook called with incorrect signature", esp.ErrWebhookVerification)
	}
	return nil
}

var eventTypes = map[string]esp.EventType{
	"bounce":            esp.EventBounced,
	"deferred":          esp.EventDeferred,
	"delivered":         esp.EventDelivered,
	"dropped":           esp.EventRejected,
	"processed":         esp.EventQueued,
	"click":             esp.EventClicked,
	"open":              esp.EventOpened,
	"spamreport":        esp.EventComplained,
	"unsubscribe":       esp.EventUnsubscribed,
	"group_unsubscribe": esp.EventUnsubscribed,
	"group_resubscribe": esp.EventSubscribed,
}

// Keyed by SendGrid reason/type strings, lowercased.
var rejectReasons = map[string]esp.RejectReason{
	"invalid":              esp.RejectInvalid,
	"unsubscribed address": esp.RejectUnsubscribed,
	"bounce":               esp.RejectBounced,
	"bounced address":      esp.RejectBounced,
	"blocked":              esp.RejectBlocked,
	"expired":              esp.RejectTimedOut,
}

// eventKeys lists the fields SendGrid itself puts in event records. Custom
// args are merged flat into the event, so metadata is recovered by removing
// these. A custom arg that collides with a listed key is lost.
var eventKeys = map[string]struct{}{
	"mailbridge_id":           {},
	"asm_group_id":            {},
	"attempt":                 {},
	"category":                {},
	"cert_err":                {},
	"email":                   {},
	"event":                   {},
	"ip":                      {},
	"marketing_campaign_id":   {},
	"marketing_campaign_name": {},
	"newsletter":              {},
	"nlvx_campaign_id":        {},
	"nlvx_campaign_split_id":  {},
	"nlvx_user_id":            {},
	"pool":                    {},
	"post_type":               {},
	"reason":                  {},
	"response":                {},
	"send_at":                 {},
	"sg_event_id":             {},
	"sg_message_id":           {},
	"smtp-id":                 {},
	"status":                  {},
	"timestamp":               {},
	"tls":                     {},
	"type":                    {},
	"url":                     {},
	"url_offset":              {},
	"useragent":               {},
}

// TrackingWebhook verifies and parses SendGrid event webhooks.
type TrackingWebhook struct {
	signatureVerifier
}

// NewTrackingWebhook creates a tracking webhook. verificationKey may be
// empty, in which case signatures are not checked.
func NewTrackingWebhook(verificationKey string) (*TrackingWebhook, error) {
	var key *ecdsa.PublicKey
	if verificationKey != "" {
		parsed, err := parseVerificationKey(verificationKey)
		if err != nil {
			return nil, err
		}
		key = parsed
	}
	return &TrackingWebhook{signatureVerifier{key: key}}, nil
}

// ParseEvents implements esp.TrackingParser.
func (w *TrackingWebhook) ParseEvents(_ *http.Request, body []byte) ([]esp.TrackingEvent, error) {
	var rawEvents []map[string]any
	if err := json.Unmarshal(body, &rawEvents); err != nil {
		return nil, fmt.Errorf("parsing SendGrid webhook: %w", err)
	}
	events := make([]esp.TrackingEvent, 0, len(rawEvents))
	for _, raw := range rawEvents {
		events = append(events, parseTrackingEvent(raw))
	}
	return events, nil
}

func parseTrackingEvent(raw map[string]any) esp.TrackingEvent {
	eventName, _ := raw["event"].(string)
	eventType, ok := eventTypes[eventName]
	if !ok {
		eventType = esp.EventUnknown
	}

	var timestamp time.Time
	if ts, ok := raw["timestamp"].(float64); ok {
		timestamp = time.Unix(int64(ts), 0).UTC()
	}

	var mtaResponse string
	var rejectReason esp.RejectReason
	if eventName == "dropped" {
		// Dropped at the ESP before reaching any MTA; the cause shows up in
		// "type" or "reason".
		cause := stringField(raw, "type")
		if cause == "" {
			cause = stringField(raw, "reason")
		}
		rejectReason, ok = rejectReasons[strings.ToLower(cause)]
		if !ok {
			rejectReason = esp.RejectOther
		}
	} else {
		mtaResponse = stringField(raw, "response")
		if mtaResponse == "" {
			mtaResponse = stringField(raw, "reason")
		}
	}

	// SendGrid merges custom args flat into the event record; recover them
	// by removing the fields SendGrid is known to set.
	metadata := map[string]any{}
	for key, value := range raw {
		if _, known := eventKeys[key]; !known {
			metadata[key] = value
		}
	}

	messageID := stringField(raw, "mailbridge_id")
	if messageID == "" {
		messageID = stringField(raw, "smtp-id")
	}

	return esp.TrackingEvent{
		Type:         eventType,
		Timestamp:    timestamp,
		MessageID:    messageID,
		EventID:      stringField(raw, "sg_event_id"),
		Recipient:    stringField(raw, "email"),
		RejectReason: rejectReason,
		MTAResponse:  mtaResponse,
		Tags:         categoryTags(raw["category"]),
		Metadata:     metadata,
		ClickURL:     stringField(raw, "url"),
		UserAgent:    stringField(raw, "useragent"),
		ESPEvent:     raw,
	}
}

func stringField(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return s
}

// category may be a single string or an array.
func categoryTags(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		tags := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				tags = append(tags, s)
			}
		}
		return tags
	default:
		return []string{}
	}
}

// InboundWebhook verifies and parses SendGrid inbound parse webhooks, which
// arrive as multipart form posts.
type InboundWebhook struct {
	signatureVerifier
}

// NewInboundWebhook creates an inbound webhook. verificationKey may be
// empty, in which case signatures are not checked.
func NewInboundWebhook(verificationKey string) (*InboundWebhook, error) {
	var key *ecdsa.PublicKey
	if verificationKey != "" {
		parsed, err := parseVerificationKey(verificationKey)
		if err != nil {
			return nil, err
		}
		key = parsed
	}
	return &InboundWebhook{signatureVerifier{key: key}}, nil
}

// ParseInbound implements esp.InboundParser. With SendGrid's "POST the raw,
// full MIME message" option enabled the form carries a single "email" field;
// otherwise the message is reassembled from SendGrid's parsed fields.
func (w *InboundWebhook) ParseInbound(r *http.Request, _ []byte) ([]esp.InboundEvent, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, fmt.Errorf("parsing SendGrid inbound form: %w", err)
	}

	var msg *inbound.Message
	var err error
	switch {
	case r.PostFormValue("headers") != "":
		msg, err = w.messageFromParsedFields(r)
	case r.PostFormValue("email") != "":
		msg, err = inbound.ParseRawMIME([]byte(r.PostFormValue("email")))
	default:
		err = fmt.Errorf("invalid SendGrid inbound event data (missing both 'headers' and 'email' fields)")
	}
	if err != nil {
		return nil, err
	}

	var envelope struct {
		From string   `json:"from"`
		To   []string `json:"to"`
	}
	if jsonErr := json.Unmarshal([]byte(r.PostFormValue("envelope")), &envelope); jsonErr == nil {
		msg.EnvelopeSender = envelope.From
		if len(envelope.To) > 0 {
			msg.EnvelopeRecipient = envelope.To[0]
		}
	}

	// SendGrid gives a textual spam_report but no boolean verdict.
	if score, parseErr := strconv.ParseFloat(r.PostFormValue("spam_score"), 64); parseErr == nil {
		msg.SpamScore = &score
	}

	return []esp.InboundEvent{{
		Message:  msg,
		ESPEvent: r.PostForm,
	}}, nil
}

// messageFromParsedFields reassembles a message from SendGrid's default
// (non-raw) inbound fields. The "charsets" field names the encoding of each
// form field; non-UTF-8 text and html fields are re-decoded from the raw
// multipart parts.
func (w *InboundWebhook) messageFromParsedFields(r *http.Request) (*inbound.Message, error) {
	var charsets map[string]string
	_ = json.Unmarshal([]byte(r.PostFormValue("charsets")), &charsets)

	var attachments []email.Attachment
	var attachmentInfo map[string]struct {
		Filename  string `json:"filename"`
		Type      string `json:"type"`
		ContentID string `json:"content-id"`
	}
	if err := json.Unmarshal([]byte(r.PostFormValue("attachment-info")), &attachmentInfo); err == nil {
		for id, info := range attachmentInfo {
			file, header, err := r.FormFile(id)
			if err != nil {
				continue
			}
			content, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				continue
			}
			contentType := info.Type
			if contentType == "" {
				contentType = header.Header.Get("Content-Type")
			}
			attachments = append(attachments, email.NewAttachment(
				header.Filename, content, contentType, "", info.ContentID))
		}
	}

	text, err := formFieldWithCharset(r, "text", charsets)
	if err != nil {
		return nil, err
	}
	html, err := formFieldWithCharset(r, "html", charsets)
	if err != nil {
		return nil, err
	}

	return inbound.FromFields(r.PostFormValue("headers"), text, html, attachments)
}

// formFieldWithCharset re-decodes a form field whose charset (per the
// "charsets" field) is not UTF-8. The multipart parser passes field bytes
// through untouched, so the raw value can be transcoded directly.
func formFieldWithCharset(r *http.Request, name string, charsets map[string]string) (string, error) {
	value := r.PostFormValue(name)
	charset := strings.ToLower(charsets[name])
	if value == "" || charset == "" || charset == "utf-8" || charset == "us-ascii" {
		return value, nil
	}
	decoded, err := inbound.DecodeCharset([]byte(value), charset)
	if err != nil {
		return value, nil
	}
	return decoded, nil
}
