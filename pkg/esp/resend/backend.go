// Package resend implements the Resend (resend.com) API adapter.
package resend

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/dmitrymomot/mailbridge/pkg/email"
	"github.com/dmitrymomot/mailbridge/pkg/esp"
)

const espName = "Resend"

// Config holds Resend credentials and endpoint settings.
type Config struct {
	APIKey string `env:"RESEND_API_KEY,required"`
	APIURL string `env:"RESEND_API_URL" envDefault:"https://api.resend.com/"`
}

// Backend is the Resend send adapter.
type Backend struct {
	apiKey string
	apiURL string
}

// New creates a Resend backend.
func New(cfg Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: Resend APIKey is required", email.ErrInvalidConfig)
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "https://api.resend.com/"
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
	}
}

// ParseResponse implements esp.Backend. Resend returns a single message id
// and nothing else, so every recipient is assumed queued.
func (b *Backend) ParseResponse(resp *esp.Response, pb esp.PayloadBuilder, _ *email.Message) (*email.StatusMap, error) {
	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil || parsed.ID == "" {
		return nil, esp.NewResponseFormatError(espName, resp)
	}
	p := pb.(*payload)
	return email.NewStatusMap(p.recipients, email.RecipientStatus{
		MessageID: parsed.ID,
		Status:    email.StatusQueued,
	}), nil
}

type payload struct {
	esp.PayloadStub

	apiURL string
	apiKey string

	data       map[string]any
	recipients []string
	extra      map[string]any
}

func (p *payload) SetFrom(from email.Address) error {
	p.data["from"] = from.String()
	return nil
}

func (p *payload) SetRecipients(kind esp.RecipientType, addrs []email.Address) error {
	field := string(kind)
	formatted := make([]string, len(addrs))
	for i, a := range addrs {
		formatted[i] = a.String()
		p.recipients = append(p.recipients, a.AddrSpec)
	}
	p.data[field] = formatted
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
	p.data["reply_to"] = formatted
	return nil
}

func (p *payload) SetExtraHeaders(headers email.Headers) error {
	p.data["headers"] = headers.Map()
	return nil
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
	if att.ContentID != "" {
		return p.Unsupported("inline content-id")
	}
	filename := att.Name
	if filename == "" {
		// Resend guesses the content type from the filename extension;
		// there is no other way to declare it.
		if exts, err := mime.ExtensionsByType(att.ContentType); err == nil && len(exts) > 0 {
			filename = "attachment" + exts[0]
		}
	}
	atts, _ := p.data["attachments"].([]map[string]any)
	p.data["attachments"] = append(atts, map[string]any{
		"content":  att.B64Content(),
		"filename": filename,
	})
	return nil
}

func (p *payload) SetMetadata(metadata map[string]any) error {
	strung, err := p.StringifyMetadata(metadata)
	if err != nil {
		return err
	}
	tags := make([]map[string]string, 0, len(strung))
	for key, value := range strung {
		tags = append(tags, map[string]string{"name": key, "value": value})
	}
	p.data["tags"] = tags
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
	header := esp.JSONHeader("Authorization", "Bearer "+p.apiKey)
	return &esp.Request{
		Method: http.MethodPost,
		URL:    p.apiURL + "emails",
		Header: header,
		Body:   data,
	}, nil
}
