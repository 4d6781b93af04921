// Package mailtrap implements the Mailtrap API adapter, including the
// sandbox (test inbox) endpoint.
package mailtrap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dmitrymomot/mailbridge/pkg/email"
	"github.com/dmitrymomot/mailbridge/pkg/esp"
)

const espName = "Mailtrap"

const (
	defaultAPIURL        = "https://send.api.mailtrap.io/api/"
	defaultSandboxAPIURL = "https://sandbox.api.mailtrap.io/api/"
)

// Config holds Mailtrap credentials and endpoint settings. Setting
// TestInboxID switches the backend to the sandbox API.
type Config struct {
	APIToken    string `env:"MAILTRAP_API_TOKEN,required"`
	TestInboxID string `env:"MAILTRAP_TEST_INBOX_ID"`
	APIURL      string `env:"MAILTRAP_API_URL"`
}

// Backend is the Mailtrap send adapter.
type Backend struct {
	apiToken   string
	apiURL     string
	useSandbox bool
	inboxID    string
}

// New creates a Mailtrap backend.
func New(cfg Config) (*Backend, error) {
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("%w: Mailtrap APIToken is required", email.ErrInvalidConfig)
	}
	useSandbox := cfg.TestInboxID != ""
	apiURL := cfg.APIURL
	if apiURL == "" {
		if useSandbox {
			apiURL = defaultSandboxAPIURL
		} else {
			apiURL = defaultAPIURL
		}
	}
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	return &Backend{
		apiToken:   cfg.APIToken,
		apiURL:     apiURL,
		useSandbox: useSandbox,
		inboxID:    cfg.TestInboxID,
	}, nil
}

func (b *Backend) Name() string { return espName }

// NewPayload implements esp.Backend.
func (b *Backend) NewPayload(opts esp.PayloadOptions) esp.PayloadBuilder {
	endpoint := b.apiURL + "send"
	if b.useSandbox {
		endpoint += "/" + url.PathEscape(b.inboxID)
	}
	return &payload{
		PayloadStub: esp.PayloadStub{PayloadBase: esp.PayloadBase{ESPName: espName, Options: opts}},
		endpoint:    endpoint,
		apiToken:    b.apiToken,
		data:        map[string]any{},
	}
}

// ParseResponse implements esp.Backend. The production API returns one
// message id per recipient, in to, cc, bcc order; the sandbox API returns a
// single id covering all recipients.
func (b *Backend) ParseResponse(resp *esp.Response, pb esp.PayloadBuilder, _ *email.Message) (*email.StatusMap, error) {
	var parsed struct {
		Success    bool     `json:"success"`
		Errors     []string `json:"errors"`
		MessageIDs []string `json:"message_ids"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, esp.NewResponseFormatError(espName, resp)
	}
	if len(parsed.Errors) > 0 || !parsed.Success {
		return nil, esp.NewAPIError(espName, resp,
			fmt.Sprintf("Unexpected API failure fields with response status %d", resp.StatusCode))
	}
	if parsed.MessageIDs == nil {
		return nil, esp.NewResponseFormatError(espName, resp)
	}

	p := pb.(*payload)
	recipients := p.recipients
	expected := len(recipients)
	if b.useSandbox {
		expected = 1
	}
	if len(parsed.MessageIDs) != expected {
		return nil, esp.NewAPIError(espName, resp,
			fmt.Sprintf("Expected %d message_ids, got %d", expected, len(parsed.MessageIDs)))
	}

	statuses := &email.StatusMap{}
	for i, recip := range recipients {
		id := parsed.MessageIDs[0]
		if !b.useSandbox {
			id = parsed.MessageIDs[i]
		}
		statuses.Set(recip, email.RecipientStatus{MessageID: id, Status: email.StatusSent})
	}
	return statuses, nil
}

type payload struct {
	esp.PayloadStub

	endpoint string
	apiToken string

	data       map[string]any
	recipients []string // to, cc, bcc order, for response zipping
	extra      map[string]any
}

func mailtrapAddress(a email.Address) map[string]any {
	entry := map[string]any{"email": a.AddrSpec}
	if a.DisplayName != "" {
		entry["name"] = a.DisplayName
	}
	return entry
}

func (p *payload) SetFrom(from email.Address) error {
	p.data["from"] = mailtrapAddress(from)
	return nil
}

func (p *payload) SetRecipients(kind esp.RecipientType, addrs []email.Address) error {
	entries := make([]map[string]any, len(addrs))
	for i, a := range addrs {
		entries[i] = mailtrapAddress(a)
		p.recipients = append(p.recipients, a.AddrSpec)
	}
	p.data[string(kind)] = entries
	return nil
}

func (p *payload) SetSubject(subject string) error {
	p.data["subject"] = subject
	return nil
}

func (p *payload) SetReplyTo(addrs []email.Address) error {
	formatted := make([]string, len(addrs))
	for i, a := range addrs {
		formatted[i] = a.String()
	}
	p.headers()["Reply-To"] = strings.Join(formatted, ", ")
	return nil
}

func (p *payload) SetExtraHeaders(headers email.Headers) error {
	dst := p.headers()
	headers.Range(func(key, value string) bool {
		dst[key] = value
		return true
	})
	return nil
}

func (p *payload) headers() map[string]string {
	h, ok := p.data["headers"].(map[string]string)
	if !ok {
		h = map[string]string{}
		p.data["headers"] = h
	}
	return h
}

func (p *payload) SetTextBody(body string) error {
	p.data["text"] = body
	return nil
}

func (p *payload) SetHTMLBody(body string) error {
	if _, ok := p.data["html"]; ok {
		return p.Unsupported("multiple html parts")
	}
	p.data["html"] = body
	return nil
}

func (p *payload) AddAttachment(att email.Attachment) error {
	entry := map[string]any{
		"disposition": "attachment",
		"filename":    att.Name,
		"content":     att.B64Content(),
	}
	if att.ContentType != "" {
		entry["type"] = att.ContentType
	}
	if att.Inline {
		if att.ContentID == "" {
			return p.Unsupported("inline attachment without content-id")
		}
		entry["disposition"] = "inline"
		entry["content_id"] = att.CID()
	} else if att.Name == "" {
		return p.Unsupported("attachment without filename")
	}
	atts, _ := p.data["attachments"].([]map[string]any)
	p.data["attachments"] = append(atts, entry)
	return nil
}

func (p *payload) SetTags(tags []string) error {
	if len(tags) > 1 {
		return p.Unsupported("multiple tags")
	}
	if len(tags) > 0 {
		p.data["category"] = tags[0]
	}
	return nil
}

func (p *payload) SetMetadata(metadata map[string]any) error {
	strung, err := p.StringifyMetadata(metadata)
	if err != nil {
		return err
	}
	p.data["custom_variables"] = strung
	return nil
}

func (p *payload) SetTemplateID(id string) error {
	p.data["template_uuid"] = id
	return nil
}

func (p *payload) SetMergeGlobalData(data map[string]any) error {
	p.data["template_variables"] = data
	return nil
}

func (p *payload) SetESPExtra(extra map[string]any) error {
	p.extra = extra
	return nil
}

func (p *payload) Finalize(_ context.Context) (*esp.Request, error) {
	body, err := esp.MergeESPExtra(p.data, p.extra)
	if err != nil {
		return nil, err
	}
	data, err := p.SerializeJSON(body)
	if err != nil {
		return nil, err
	}
	header := esp.JSONHeader("Api-Token", p.apiToken)
	return &esp.Request{
		Method: http.MethodPost,
		URL:    p.endpoint,
		Header: header,
		Body:   data,
	}, nil
}
