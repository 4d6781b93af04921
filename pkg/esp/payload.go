package esp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dario.cat/mergo"

	"github.com/dmitrymomot/mailbridge/pkg/email"
)

// RecipientType distinguishes the three recipient header fields.
type RecipientType string

const (
	RecipientTo  RecipientType = "to"
	RecipientCc  RecipientType = "cc"
	RecipientBcc RecipientType = "bcc"
)

// Request is the fully built provider HTTP request.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a provider's raw HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// PayloadOptions configures payload construction for one send attempt.
type PayloadOptions struct {
	// IgnoreUnsupported degrades gracefully instead of failing when the
	// message requests something the provider cannot express (first tag
	// only, first reply-to only, ...). Off by default: fail the whole send
	// before any network call.
	IgnoreUnsupported bool
	// Location resolves timezone-naive scheduled send dates. Defaults to
	// time.Local.
	Location *time.Location
}

// PayloadBuilder accumulates provider-specific wire state from canonical
// message fields. The driver (BuildRequest) invokes the setters in a fixed
// dependency order; setters for unset message fields are never called, so
// "field absent" is distinguishable from an explicit false/empty value.
// Finalize performs deferred work (recipient-shape decisions, late merge-data
// binding, id generation) and emits the wire request.
type PayloadBuilder interface {
	SetFrom(from email.Address) error
	SetEnvelopeSender(addrSpec string) error
	SetRecipients(kind RecipientType, addrs []email.Address) error
	SetSubject(subject string) error
	SetReplyTo(addrs []email.Address) error
	SetExtraHeaders(headers email.Headers) error
	SetTextBody(body string) error
	SetHTMLBody(body string) error
	AddAttachment(att email.Attachment) error
	SetMetadata(metadata map[string]any) error
	SetSendAt(at email.SendAt) error
	SetTags(tags []string) error
	SetTrackOpens(track bool) error
	SetTrackClicks(track bool) error
	SetTemplateID(id string) error
	SetMergeData(data map[string]map[string]any) error
	SetMergeGlobalData(data map[string]any) error
	SetMergeMetadata(data map[string]map[string]any) error
	SetMergeHeaders(headers map[string]map[string]string) error
	SetESPExtra(extra map[string]any) error
	Finalize(ctx context.Context) (*Request, error)
}

// PayloadBase carries the state every provider payload shares and the
// helpers for unsupported-feature reporting and wire serialization. Embed it
// (usually via PayloadStub) in provider payload types.
type PayloadBase struct {
	ESPName string
	Options PayloadOptions
}

// Unsupported reports a capability this provider cannot express. Returns nil
// in ignore-unsupported mode so the builder can degrade gracefully.
func (p *PayloadBase) Unsupported(feature string) error {
	if p.Options.IgnoreUnsupported {
		return nil
	}
	return fmt.Errorf("%w: %s does not support %s", email.ErrUnsupportedFeature, p.ESPName, feature)
}

// Location returns the configured timezone for naive scheduled dates.
func (p *PayloadBase) Location() *time.Location {
	if p.Options.Location != nil {
		return p.Options.Location
	}
	return time.Local
}

// SerializeJSON marshals the wire body, translating marshal failures into
// the serialization error taxonomy with provider context.
func (p *PayloadBase) SerializeJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: don't know how to send this data to %s: %v",
			email.ErrSerialization, p.ESPName, err)
	}
	return data, nil
}

// StringifyMetadata coerces metadata values to strings for wire formats that
// carry string-only values. Non-scalar values fail with the serialization
// error taxonomy.
func (p *PayloadBase) StringifyMetadata(metadata map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			out[k] = val
		case fmt.Stringer:
			out[k] = val.String()
		case bool:
			out[k] = fmt.Sprintf("%t", val)
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			out[k] = fmt.Sprintf("%d", val)
		case float32, float64:
			out[k] = fmt.Sprintf("%v", val)
		default:
			return nil, fmt.Errorf("%w: don't know how to send this data to %s: metadata %q has type %T",
				email.ErrSerialization, p.ESPName, k, v)
		}
	}
	return out, nil
}

// MergeESPExtra deep-merges the caller's provider-specific overrides into the
// computed wire body as the final step: nested mappings merge recursively,
// sequences are replaced atomically, and extra wins on conflict.
func MergeESPExtra(body map[string]any, extra map[string]any) (map[string]any, error) {
	if len(extra) == 0 {
		return body, nil
	}
	if err := mergo.Merge(&body, extra, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("%w: merging esp_extra: %v", email.ErrSerialization, err)
	}
	return body, nil
}

// JSONHeader returns the standard JSON request headers plus the given
// provider auth header key/value pairs.
func JSONHeader(kv ...string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}
