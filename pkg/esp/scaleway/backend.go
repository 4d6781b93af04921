// Package scaleway implements the Scaleway Transactional Email (TEM) adapter.
package scaleway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/dmitrymomot/mailbridge/pkg/email"
	"github.com/dmitrymomot/mailbridge/pkg/esp"
)

const espName = "Scaleway"

// Config holds Scaleway credentials and endpoint settings. The API URL is
// derived from the region unless overridden.
type Config struct {
	SecretKey string `env:"SCALEWAY_SECRET_KEY,required"`
	ProjectID string `env:"SCALEWAY_PROJECT_ID,required"`
	Region    string `env:"SCALEWAY_REGION" envDefault:"fr-par"`
	APIURL    string `env:"SCALEWAY_API_URL"`
}

// Backend is the Scaleway send adapter.
type Backend struct {
	secretKey string
	projectID string
	apiURL    string
}

// New creates a Scaleway backend.
func New(cfg Config) (*Backend, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: Scaleway SecretKey is required", email.ErrInvalidConfig)
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("%w: Scaleway ProjectID is required", email.ErrInvalidConfig)
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		region := cfg.Region
		if region == "" {
			region = "fr-par"
		}
		apiURL = "https://api.scaleway.com/transactional-email/v1alpha1/regions/" + region + "/"
	}
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	return &Backend{secretKey: cfg.SecretKey, projectID: cfg.ProjectID, apiURL: apiURL}, nil
}

func (b *Backend) Name() string { return espName }

// NewPayload implements esp.Backend.
func (b *Backend) NewPayload(opts esp.PayloadOptions) esp.PayloadBuilder {
	return &payload{
		PayloadStub: esp.PayloadStub{PayloadBase: esp.PayloadBase{ESPName: espName, Options: opts}},
		apiURL:      b.apiURL,
		secretKey:   b.secretKey,
		data:        map[string]any{"project_id": b.projectID},
	}
}

// ParseResponse implements esp.Backend. Scaleway returns one record per
// recipient; a freshly accepted message has status "new".
func (b *Backend) ParseResponse(resp *esp.Response, pb esp.PayloadBuilder, _ *email.Message) (*email.StatusMap, error) {
	var parsed struct {
		Emails []struct {
			MessageID string `json:"message_id"`
			MailRcpt  string `json:"mail_rcpt"`
			Status    string `json:"status"`
		} `json:"emails"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil || parsed.Emails == nil {
		return nil, esp.NewResponseFormatError(espName, resp)
	}
	statuses := &email.StatusMap{}
	for _, record := range parsed.Emails {
		if record.MailRcpt == "" {
			return nil, esp.NewResponseFormatError(espName, resp)
		}
		status := email.StatusQueued
		if record.Status != "new" {
			known, ok := email.KnownSendStatus(record.Status)
			if !ok {
				known = email.StatusUnknown
			}
			status = known
		}
		statuses.Set(record.MailRcpt, email.RecipientStatus{
			MessageID: record.MessageID,
			Status:    status,
		})
	}
	return statuses, nil
}

type payload struct {
	esp.PayloadStub

	apiURL    string
	secretKey string

	data  map[string]any
	extra map[string]any
}

func scalewayAddress(a email.Address) map[string]any {
	entry := map[string]any{"email": a.AddrSpec}
	if a.DisplayName != "" {
		entry["name"] = a.DisplayName
	}
	return entry
}

func (p *payload) SetFrom(from email.Address) error {
	p.data["from"] = scalewayAddress(from)
	return nil
}

func (p *payload) SetRecipients(kind esp.RecipientType, addrs []email.Address) error {
	entries := make([]map[string]any, len(addrs))
	for i, a := range addrs {
		entries[i] = scalewayAddress(a)
	}
	p.data[string(kind)] = entries
	return nil
}

func (p *payload) SetSubject(subject string) error {
	p.data["subject"] = subject
	return nil
}

// Reply-To travels as an additional header; Scaleway has no dedicated field.
func (p *payload) SetReplyTo(addrs []email.Address) error {
	formatted := make([]string, len(addrs))
	for i, a := range addrs {
		formatted[i] = a.String()
	}
	p.addHeader("Reply-To", strings.Join(formatted, ", "))
	return nil
}

func (p *payload) SetExtraHeaders(headers email.Headers) error {
	headers.Range(func(key, value string) bool {
		p.addHeader(key, value)
		return true
	})
	return nil
}

func (p *payload) addHeader(key, value string) {
	headers, _ := p.data["additional_headers"].([]map[string]string)
	p.data["additional_headers"] = append(headers, map[string]string{
		"key":   key,
		"value": value,
	})
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
	if att.Inline {
		return p.Unsupported("inline attachments")
	}
	atts, _ := p.data["attachments"].([]map[string]any)
	p.data["attachments"] = append(atts, map[string]any{
		"name":    att.Name,
		"type":    att.ContentType,
		"content": att.B64Content(),
	})
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
	header := esp.JSONHeader("X-Auth-Token", p.secretKey)
	return &esp.Request{
		Method: http.MethodPost,
		URL:    p.apiURL + "emails",
		Header: header,
		Body:   data,
	}, nil
}
