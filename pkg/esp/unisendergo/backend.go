// Package unisendergo implements the Unisender Go v1 transactional email
// adapter and its tracking webhook.
//
// Unisender Go does not return per-recipient message ids, so the backend
// generates a uuid for each recipient and plants it in the recipient's
// metadata under "message_id"; tracking webhooks echo it back.
package unisendergo

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/mailbridge/pkg/email"
	"github.com/dmitrymomot/mailbridge/pkg/esp"
)

const espName = "Unisender Go"

const sendAtLayout = "2006-01-02 15:04:05"

// Config holds Unisender Go credentials and endpoint settings. There is no
// default API URL: the host depends on the account's data location
// (e.g. https://go1.unisender.ru/ru/transactional/api/v1/).
type Config struct {
	APIKey            string `env:"UNISENDER_GO_API_KEY,required"`
	APIURL            string `env:"UNISENDER_GO_API_URL,required"`
	GenerateMessageID bool   `env:"UNISENDER_GO_GENERATE_MESSAGE_ID" envDefault:"true"`
}

// Backend is the Unisender Go send adapter.
type Backend struct {
	apiKey            string
	apiURL            string
	generateMessageID bool
}

// New creates a Unisender Go backend.
func New(cfg Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: Unisender Go APIKey is required", email.ErrInvalidConfig)
	}
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("%w: Unisender Go APIURL is required (it depends on the account's data location)", email.ErrInvalidConfig)
	}
	apiURL := cfg.APIURL
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	return &Backend{apiKey: cfg.APIKey, apiURL: apiURL, generateMessageID: cfg.GenerateMessageID}, nil
}

func (b *Backend) Name() string { return espName }

// NewPayload implements esp.Backend.
func (b *Backend) NewPayload(opts esp.PayloadOptions) esp.PayloadBuilder {
	return &payload{
		PayloadStub:       esp.PayloadStub{PayloadBase: esp.PayloadBase{ESPName: espName, Options: opts}},
		apiURL:            b.apiURL,
		apiKey:            b.apiKey,
		generateMessageID: b.generateMessageID,
		data:              map[string]any{},
		headers:           email.Headers{},
		messageIDs:        map[string]string{},
	}
}

// ParseResponse implements esp.Backend. A 200 means everything was accepted;
// each recipient is reported queued under its generated message id.
func (b *Backend) ParseResponse(_ *esp.Response, pb esp.PayloadBuilder, _ *email.Message) (*email.StatusMap, error) {
	p := pb.(*payload)
	statuses := &email.StatusMap{}
	for _, recip := range p.allRecipients {
		statuses.Set(recip, email.RecipientStatus{
			MessageID: p.messageIDs[recip],
			Status:    email.StatusQueued,
		})
	}
	return statuses, nil
}

type payload struct {
	esp.PayloadStub

	apiURL            string
	apiKey            string
	generateMessageID bool

	data          map[string]any
	headers       email.Headers
	recipients    []map[string]any
	allRecipients []string
	messageIDs    map[string]string
}

func (p *payload) SetFrom(from email.Address) error {
	p.data["from_email"] = from.AddrSpec
	p.data["from_name"] = from.DisplayName
	return nil
}

func (p *payload) SetRecipients(kind esp.RecipientType, addrs []email.Address) error {
	if kind != esp.RecipientTo {
		return p.Unsupported(string(kind) + " recipients")
	}
	for _, a := range addrs {
		p.recipients = append(p.recipients, map[string]any{
			"email":         a.AddrSpec,
			"substitutions": map[string]any{"to_name": a.DisplayName},
		})
		p.allRecipients = append(p.allRecipients, a.AddrSpec)
	}
	return nil
}

func (p *payload) SetSubject(subject string) error {
	// An empty subject must stay absent so template rendering can supply it.
	if subject != "" {
		p.data["subject"] = subject
	}
	return nil
}

func (p *payload) SetReplyTo(addrs []email.Address) error {
	if len(addrs) > 1 {
		if err := p.Unsupported("multiple reply_to addresses"); err != nil {
			return err
		}
	}
	if len(addrs) > 0 {
		p.data["reply_to"] = addrs[0].AddrSpec
	}
	return nil
}

func (p *payload) SetExtraHeaders(headers email.Headers) error {
	headers.Range(func(key, value string) bool {
		p.headers.Set(key, value)
		return true
	})
	return nil
}

func (p *payload) SetTextBody(body string) error {
	if body != "" {
		p.body()["plaintext"] = body
	}
	return nil
}

func (p *payload) SetHTMLBody(body string) error {
	if body == "" {
		return nil
	}
	if _, ok := p.body()["html"]; ok {
		return p.Unsupported("multiple html parts")
	}
	p.body()["html"] = body
	return nil
}

func (p *payload) body() map[string]any {
	b, ok := p.data["body"].(map[string]any)
	if !ok {
		b = map[string]any{}
		p.data["body"] = b
	}
	return b
}

// The API rejects attachment names containing "/".
func (p *payload) AddAttachment(att email.Attachment) error {
	if strings.Contains(att.Name, "/") {
		return fmt.Errorf("%w: attachment name must not contain '/'", email.ErrInvalidConfig)
	}
	entry := map[string]any{
		"content": att.B64Content(),
		"type":    att.ContentType,
		"name":    att.Name, // required, empty string if unknown
	}
	field := "attachments"
	if att.Inline {
		field = "inline_attachments"
	}
	atts, _ := p.data[field].([]map[string]any)
	p.data[field] = append(atts, entry)
	return nil
}

func (p *payload) SetMetadata(metadata map[string]any) error {
	p.data["global_metadata"] = metadata
	return nil
}

func (p *payload) SetSendAt(sendAt email.SendAt) error {
	// The API expects UTC wall-clock time without a zone designator.
	if ts, ok := sendAt.Time(p.Location()); ok {
		p.options()["send_at"] = ts.UTC().Format(sendAtLayout)
	} else if raw, ok := sendAt.Raw(); ok {
		p.options()["send_at"] = raw
	}
	return nil
}

func (p *payload) options() map[string]any {
	o, ok := p.data["options"].(map[string]any)
	if !ok {
		o = map[string]any{}
		p.data["options"] = o
	}
	return o
}

func (p *payload) SetTags(tags []string) error {
	p.data["tags"] = tags
	return nil
}

func (p *payload) SetTrackOpens(track bool) error {
	p.data["track_read"] = boolToInt(track)
	return nil
}

func (p *payload) SetTrackClicks(track bool) error {
	p.data["track_links"] = boolToInt(track)
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func (p *payload) SetTemplateID(id string) error {
	p.data["template_id"] = id
	return nil
}

// Substitutions set at recipient construction (to_name) win over merge data.
func (p *payload) SetMergeData(data map[string]map[string]any) error {
	for _, recipient := range p.recipients {
		recipEmail := recipient["email"].(string)
		merged := map[string]any{}
		for k, v := range data[recipEmail] {
			merged[k] = v
		}
		for k, v := range recipient["substitutions"].(map[string]any) {
			merged[k] = v
		}
		recipient["substitutions"] = merged
	}
	return nil
}

func (p *payload) SetMergeGlobalData(data map[string]any) error {
	p.data["global_substitutions"] = data
	return nil
}

// SetESPExtra accepts Unisender Go's documented extra vocabulary rather than
// merging arbitrary keys: skip_unsubscribe, global_language, template_engine,
// amp, and the bypass_* flags. Unknown keys are ignored.
func (p *payload) SetESPExtra(extra map[string]any) error {
	if v, ok := extra["skip_unsubscribe"]; ok && truthy(v) {
		p.data["skip_unsubscribe"] = 1
	}
	for _, key := range []string{"global_language", "template_engine", "amp"} {
		if v, ok := extra[key]; ok && truthy(v) {
			p.data[key] = v
		}
	}
	for _, key := range []string{"bypass_global", "bypass_unavailable", "bypass_unsubscribed", "bypass_complained"} {
		if v, ok := extra[key]; ok {
			p.data[key] = v
		}
	}
	return nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case float64:
		return t != 0
	default:
		return v != nil
	}
}

func (p *payload) Finalize(_ context.Context) (*esp.Request, error) {
	if p.generateMessageID {
		p.assignMessageIDs()
	}
	p.data["recipients"] = p.recipients
	if p.headers.Len() > 0 {
		p.data["headers"] = p.headers.Map()
	}
	data, err := p.SerializeJSON(map[string]any{"message": p.data})
	if err != nil {
		return nil, err
	}
	header := esp.JSONHeader("X-API-key", p.apiKey)
	return &esp.Request{
		Method: http.MethodPost,
		URL:    p.apiURL + "email/send.json",
		Header: header,
		Body:   data,
	}, nil
}

func (p *payload) assignMessageIDs() {
	for _, recipient := range p.recipients {
		id := uuid.NewString()
		meta, ok := recipient["metadata"].(map[string]any)
		if !ok {
			meta = map[string]any{}
			recipient["metadata"] = meta
		}
		meta["message_id"] = id
		p.messageIDs[recipient["email"].(string)] = id
	}
}
