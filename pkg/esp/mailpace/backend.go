// Package mailpace implements the MailPace (mailpace.com) transactional API
// adapter: outbound sends, delivery tracking webhooks, and inbound mail
// webhooks.
package mailpace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/dmitrymomot/mailbridge/pkg/email"
	"github.com/dmitrymomot/mailbridge/pkg/esp"
)

const espName = "MailPace"

// Config holds MailPace credentials and endpoint settings.
type Config struct {
	ServerToken string `env:"MAILPACE_SERVER_TOKEN,required"`
	APIURL      string `env:"MAILPACE_API_URL" envDefault:"https://app.mailpace.com/api/v1/"`
}

// Backend is the MailPace send adapter.
type Backend struct {
	serverToken string
	apiURL      string
}

// New creates a MailPace backend.
func New(cfg Config) (*Backend, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("%w: MailPace ServerToken is required", email.ErrInvalidConfig)
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "https://app.mailpace.com/api/v1/"
	}
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	return &Backend{serverToken: cfg.ServerToken, apiURL: apiURL}, nil
}

func (b *Backend) Name() string { return espName }

// NewPayload implements esp.Backend.
func (b *Backend) NewPayload(opts esp.PayloadOptions) esp.PayloadBuilder {
	return &payload{
		PayloadStub: esp.PayloadStub{PayloadBase: esp.PayloadBase{ESPName: espName, Options: opts}},
		apiURL:      b.apiURL,
		serverToken: b.serverToken,
		data:        map[string]any{},
	}
}

// CheckStatus lets 400 responses through: MailPace overloads 400 to mean
// "recipients rejected, diagnostics in the body", which ParseResponse
// recovers into per-recipient statuses.
func (b *Backend) CheckStatus(resp *esp.Response) error {
	if resp.StatusCode == http.StatusBadRequest {
		return nil
	}
	return esp.CheckStatus(espName, resp)
}

// ParseResponse implements esp.Backend. A 200 response queues every
// recipient under the batch message id. A 400 response is classified per
// error message: "is invalid"/"undefined field" and volume-exceeded map to
// status invalid, "contains a blocked address" maps to rejected; recipients
// not matched by any recognized pattern stay unknown.
func (b *Backend) ParseResponse(resp *esp.Response, pb esp.PayloadBuilder, _ *email.Message) (*email.StatusMap, error) {
	p, ok := pb.(*payload)
	if !ok {
		return nil, esp.NewAPIError(espName, resp, "unexpected payload type")
	}

	statuses := email.NewStatusMap(p.recipients, email.RecipientStatus{Status: email.StatusUnknown})

	var parsed struct {
		ID     json.Number         `json:"id"`
		Status string              `json:"status"`
		Errors map[string][]string `json:"errors"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, esp.NewResponseFormatError(espName, resp)
	}

	if resp.StatusCode == http.StatusOK {
		if parsed.Status == "" || parsed.ID.String() == "" {
			return nil, esp.NewResponseFormatError(espName, resp)
		}
		if parsed.Status == "queued" {
			for _, recip := range p.recipients {
				statuses.Set(recip, email.RecipientStatus{
					MessageID: parsed.ID.String(),
					Status:    email.StatusQueued,
				})
			}
		}
		return statuses, nil
	}

	// 400: structured recovery from the errors object.
	if len(parsed.Errors) == 0 {
		return nil, esp.NewAPIError(espName, resp, "")
	}
	for _, field := range []string{"to", "cc", "bcc"} {
		for _, errMsg := range parsed.Errors[field] {
			status, ok := classifyError(errMsg)
			if !ok {
				continue
			}
			for _, recip := range p.recipients {
				statuses.Set(recip, email.RecipientStatus{Status: status})
			}
		}
	}
	return statuses, nil
}

func classifyError(msg string) (email.SendStatus, bool) {
	switch {
	case strings.Contains(msg, "undefined field"), strings.Contains(msg, "is invalid"):
		return email.StatusInvalid, true
	case strings.Contains(msg, "contains a blocked address"):
		return email.StatusRejected, true
	case strings.Contains(msg, "number of email addresses exceeds maximum volume"):
		return email.StatusInvalid, true
	default:
		return "", false
	}
}

type payload struct {
	esp.PayloadStub

	apiURL      string
	serverToken string // esp_extra "server_token" overrides; never sent on the wire
	recipients  []string // addr-specs, for response status seeding
	data        map[string]any
	extra       map[string]any
}

func (p *payload) SetFrom(from email.Address) error {
	p.data["from"] = from.String()
	return nil
}

func (p *payload) SetRecipients(kind esp.RecipientType, addrs []email.Address) error {
	formatted := make([]string, len(addrs))
	for i, a := range addrs {
		formatted[i] = a.String()
	}
	p.data[string(kind)] = strings.Join(formatted, ", ")
	for _, a := range addrs {
		p.recipients = append(p.recipients, a.AddrSpec)
	}
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
	p.data["replyto"] = strings.Join(formatted, ", ")
	return nil
}

// SetExtraHeaders supports only List-Unsubscribe, which MailPace exposes as
// a dedicated body field.
func (p *payload) SetExtraHeaders(headers email.Headers) error {
	if v, ok := headers.Del("List-Unsubscribe"); ok {
		p.data["list_unsubscribe"] = v
	}
	if headers.Len() > 0 {
		return p.Unsupported("extra_headers (other than List-Unsubscribe)")
	}
	return nil
}

func (p *payload) SetTextBody(body string) error {
	p.data["textbody"] = body
	return nil
}

func (p *payload) SetHTMLBody(body string) error {
	if _, ok := p.data["htmlbody"]; ok {
		return p.Unsupported("multiple html parts")
	}
	p.data["htmlbody"] = body
	return nil
}

func (p *payload) AddAttachment(att email.Attachment) error {
	entry := map[string]any{
		"name":         att.Name,
		"content":      att.B64Content(),
		"content_type": att.ContentType,
	}
	if att.Inline {
		entry["cid"] = "cid:" + att.CID()
	}
	atts, _ := p.data["attachments"].([]map[string]any)
	p.data["attachments"] = append(atts, entry)
	return nil
}

// SetTags sends a bare string for a single tag and a list otherwise, per the
// MailPace API.
func (p *payload) SetTags(tags []string) error {
	if len(tags) == 1 {
		p.data["tags"] = tags[0]
	} else {
		p.data["tags"] = tags
	}
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
	// server_token is credentials, not payload: extract it before
	// serialization so it never reaches the wire.
	if token, ok := body["server_token"].(string); ok {
		p.serverToken = token
		delete(body, "server_token")
	}
	data, err := p.SerializeJSON(body)
	if err != nil {
		return nil, err
	}
	return &esp.Request{
		Method: http.MethodPost,
		URL:    p.apiURL + "send",
		Header: esp.JSONHeader("MailPace-Server-Token", p.serverToken),
		Body:   data,
	}, nil
}
