// Package sendgrid implements the SendGrid v3 mail adapter plus its tracking
// and inbound parse webhooks.
//
// SendGrid's native sg_message_id is not available at send time, so the
// backend generates a uuid, ships it in custom_args under "mailbridge_id", and
// reports it as the message id; tracking webhooks echo it back.
package sendgrid

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/mailbridge/pkg/email"
	"github.com/dmitrymomot/mailbridge/pkg/esp"
)

const espName = "SendGrid"

// Config holds SendGrid credentials and endpoint settings.
type Config struct {
	APIKey string `env:"SENDGRID_API_KEY,required"`
	APIURL string `env:"SENDGRID_API_URL" envDefault:"https://api.sendgrid.com/v3/"`
}

// Backend is the SendGrid send adapter.
type Backend struct {
	apiKey string
	apiURL string
}

// New creates a SendGrid backend.
func New(cfg Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: SendGrid APIKey is required", email.ErrInvalidConfig)
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "https://api.sendgrid.com/v3/"
	}
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	return &Backend{apiKey: cfg.APIKey, apiURL: apiURL}, nil
}

func (b *Backend) Name() string { return espName }

// NewPayload implements esp.Backend.
func (b *Backend) NewPayload(opts esp.PayloadOptions) esp.PayloadBuilder {
	return &payload{
		PayloadStub: esp.PayloadStub{PayloadBase: esp.PayloadBase{ESPName: espName, Options: opts}},
		apiURL:      b.apiURL,
		apiKey:      b.apiKey,
		data:        map[string]any{},
		base:        map[string]any{},
		messageID:   uuid.NewString(),
	}
}

// ParseResponse implements esp.Backend. A successful send returns 202 with
// an empty body; every recipient is reported queued under the generated id.
func (b *Backend) ParseResponse(_ *esp.Response, pb esp.PayloadBuilder, _ *email.Message) (*email.StatusMap, error) {
	p := pb.(*payload)
	return email.NewStatusMap(p.allRecipients, email.RecipientStatus{
		MessageID: p.messageID,
		Status:    email.StatusQueued,
	}), nil
}

type payload struct {
	esp.PayloadStub

	apiURL string
	apiKey string

	data map[string]any
	// base is the single personalization used when there is no per-recipient
	// merge field; merge fields split it into one personalization per to
	// address at finalize time.
	base          map[string]any
	toEntries     []map[string]any
	toAddrs       []string
	allRecipients []string
	metadata      map[string]string
	mergeData     map[string]map[string]any
	globalData    map[string]any
	mergeMetadata map[string]map[string]any
	mergeHeaders  map[string]map[string]string
	messageID     string
	extra         map[string]any
}

func sendgridAddress(a email.Address) map[string]any {
	entry := map[string]any{"email": a.AddrSpec}
	if a.DisplayName != "" {
		entry["name"] = a.DisplayName
	}
	return entry
}

func (p *payload) SetFrom(from email.Address) error {
	p.data["from"] = sendgridAddress(from)
	return nil
}

func (p *payload) SetRecipients(kind esp.RecipientType, addrs []email.Address) error {
	entries := make([]map[string]any, len(addrs))
	for i, a := range addrs {
		entries[i] = sendgridAddress(a)
		p.allRecipients = append(p.allRecipients, a.AddrSpec)
	}
	p.base[string(kind)] = entries
	if kind == esp.RecipientTo {
		p.toEntries = entries
		for _, a := range addrs {
			p.toAddrs = append(p.toAddrs, a.AddrSpec)
		}
	}
	return nil
}

func (p *payload) SetSubject(subject string) error {
	p.data["subject"] = subject
	return nil
}

func (p *payload) SetReplyTo(addrs []email.Address) error {
	if len(addrs) > 1 {
		entries := make([]map[string]any, len(addrs))
		for i, a := range addrs {
			entries[i] = sendgridAddress(a)
		}
		p.data["reply_to_list"] = entries
		return nil
	}
	if len(addrs) > 0 {
		p.data["reply_to"] = sendgridAddress(addrs[0])
	}
	return nil
}

func (p *payload) SetExtraHeaders(headers email.Headers) error {
	p.data["headers"] = headers.Map()
	return nil
}

// SendGrid requires the plain part to precede the html part in content.
func (p *payload) SetTextBody(body string) error {
	content, _ := p.data["content"].([]map[string]string)
	p.data["content"] = append([]map[string]string{{"type": "text/plain", "value": body}}, content...)
	return nil
}

func (p *payload) SetHTMLBody(body string) error {
	content, _ := p.data["content"].([]map[string]string)
	for _, part := range content {
		if part["type"] == "text/html" {
			return p.Unsupported("multiple html parts")
		}
	}
	p.data["content"] = append(content, map[string]string{"type": "text/html", "value": body})
	return nil
}

func (p *payload) AddAttachment(att email.Attachment) error {
	entry := map[string]any{
		"filename": att.Name,
		"content":  att.B64Content(),
		"type":     att.ContentType,
	}
	if att.Inline {
		entry["disposition"] = "inline"
		entry["content_id"] = att.CID()
	} else {
		entry["disposition"] = "attachment"
	}
	atts, _ := p.data["attachments"].([]map[string]any)
	p.data["attachments"] = append(atts, entry)
	return nil
}

// Metadata travels in custom_args, which SendGrid requires to be strings.
func (p *payload) SetMetadata(metadata map[string]any) error {
	strung, err := p.StringifyMetadata(metadata)
	if err != nil {
		return err
	}
	p.metadata = strung
	return nil
}

func (p *payload) SetSendAt(sendAt email.SendAt) error {
	ts, ok := sendAt.Time(p.Location())
	if !ok {
		return p.Unsupported("send_at as a provider-native string")
	}
	p.data["send_at"] = ts.Unix()
	return nil
}

func (p *payload) SetTags(tags []string) error {
	p.data["categories"] = tags
	return nil
}

func (p *payload) SetTrackClicks(track bool) error {
	p.trackingSettings()["click_tracking"] = map[string]any{"enable": track}
	return nil
}

func (p *payload) SetTrackOpens(track bool) error {
	p.trackingSettings()["open_tracking"] = map[string]any{"enable": track}
	return nil
}

func (p *payload) trackingSettings() map[string]any {
	ts, ok := p.data["tracking_settings"].(map[string]any)
	if !ok {
		ts = map[string]any{}
		p.data["tracking_settings"] = ts
	}
	return ts
}

func (p *payload) SetTemplateID(id string) error {
	p.data["template_id"] = id
	return nil
}

func (p *payload) SetMergeData(data map[string]map[string]any) error {
	p.mergeData = data
	return nil
}

func (p *payload) SetMergeGlobalData(data map[string]any) error {
	p.globalData = data
	return nil
}

func (p *payload) SetMergeMetadata(data map[string]map[string]any) error {
	p.mergeMetadata = data
	return nil
}

func (p *payload) SetMergeHeaders(data map[string]map[string]string) error {
	p.mergeHeaders = data
	return nil
}

func (p *payload) SetESPExtra(extra map[string]any) error {
	p.extra = extra
	return nil
}

func (p *payload) Finalize(_ context.Context) (*esp.Request, error) {
	if err := p.finishPersonalizations(); err != nil {
		return nil, err
	}
	body, err := esp.MergeESPExtra(p.data, p.extra)
	if err != nil {
		return nil, err
	}
	data, err := p.SerializeJSON(body)
	if err != nil {
		return nil, err
	}
	header := esp.JSONHeader("Authorization", "Bearer "+p.apiKey)
	return &esp.Request{
		Method: http.MethodPost,
		URL:    p.apiURL + "mail/send",
		Header: header,
		Body:   data,
	}, nil
}

// finishPersonalizations assembles the personalizations array. Per-recipient
// merge fields split the send into one personalization per to address, each
// carrying dynamic_template_data (per-recipient merge data over the global
// defaults), custom_args, and headers.
func (p *payload) finishPersonalizations() error {
	p.data["custom_args"] = p.customArgs(nil)

	if p.mergeData == nil && p.mergeMetadata == nil && p.mergeHeaders == nil {
		if p.globalData != nil {
			p.base["dynamic_template_data"] = p.globalData
		}
		p.data["personalizations"] = []map[string]any{p.base}
		return nil
	}

	personalizations := make([]map[string]any, 0, len(p.toEntries))
	for i, entry := range p.toEntries {
		addr := p.toAddrs[i]
		personalization := map[string]any{"to": []map[string]any{entry}}

		if p.mergeData != nil || p.globalData != nil {
			templateData := make(map[string]any, len(p.globalData))
			for k, v := range p.globalData {
				templateData[k] = v
			}
			for k, v := range p.mergeData[addr] {
				templateData[k] = v
			}
			personalization["dynamic_template_data"] = templateData
		}
		if recipMeta, ok := p.mergeMetadata[addr]; ok {
			strung, err := p.StringifyMetadata(recipMeta)
			if err != nil {
				return err
			}
			personalization["custom_args"] = strung
		}
		if recipHeaders, ok := p.mergeHeaders[addr]; ok {
			personalization["headers"] = recipHeaders
		}
		personalizations = append(personalizations, personalization)
	}
	p.data["personalizations"] = personalizations
	return nil
}

func (p *payload) customArgs(overlay map[string]string) map[string]string {
	args := make(map[string]string, len(p.metadata)+len(overlay)+1)
	for k, v := range p.metadata {
		args[k] = v
	}
	for k, v := range overlay {
		args[k] = v
	}
	args["mailbridge_id"] = p.messageID
	return args
}
