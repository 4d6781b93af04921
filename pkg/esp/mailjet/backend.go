// Package mailjet implements the Mailjet v3 Send API adapter.
package mailjet

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/dmitrymomot/mailbridge/pkg/email"
	"github.com/dmitrymomot/mailbridge/pkg/esp"
)

const espName = "Mailjet"

// Config holds Mailjet credentials and endpoint settings.
type Config struct {
	APIKey    string `env:"MAILJET_API_KEY,required"`
	SecretKey string `env:"MAILJET_SECRET_KEY,required"`
	APIURL    string `env:"MAILJET_API_URL" envDefault:"https://api.mailjet.com/v3/"`
}

// Backend is the Mailjet send adapter.
type Backend struct {
	apiKey    string
	secretKey string
	apiURL    string
}

// New creates a Mailjet backend.
func New(cfg Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: Mailjet APIKey is required", email.ErrInvalidConfig)
	}
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: Mailjet SecretKey is required", email.ErrInvalidConfig)
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "https://api.mailjet.com/v3/"
	}
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	return &Backend{apiKey: cfg.APIKey, secretKey: cfg.SecretKey, apiURL: apiURL}, nil
}

func (b *Backend) Name() string { return espName }

// NewPayload implements esp.Backend.
func (b *Backend) NewPayload(opts esp.PayloadOptions) esp.PayloadBuilder {
	return &payload{
		PayloadStub: esp.PayloadStub{PayloadBase: esp.PayloadBase{ESPName: espName, Options: opts}},
		apiURL:      b.apiURL,
		auth:        b.apiKey + ":" + b.secretKey,
		data:        map[string]any{},
		recipients:  map[esp.RecipientType][]email.Address{},
	}
}

// ParseResponse implements esp.Backend. Mailjet's response maps status names
// ("Sent", ...) to per-recipient records carrying the assigned message id.
// Unrecognized status names map to unknown.
func (b *Backend) ParseResponse(resp *esp.Response, pb esp.PayloadBuilder, _ *email.Message) (*email.StatusMap, error) {
	var parsed map[string][]struct {
		Email     string      `json:"Email"`
		MessageID json.Number `json:"MessageID"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, esp.NewResponseFormatError(espName, resp)
	}

	statuses := &email.StatusMap{}
	for key, items := range parsed {
		status, known := email.KnownSendStatus(key)
		if !known {
			status = email.StatusUnknown
		}
		for _, item := range items {
			if item.Email == "" {
				return nil, esp.NewResponseFormatError(espName, resp)
			}
			statuses.Set(item.Email, email.RecipientStatus{
				MessageID: item.MessageID.String(),
				Status:    status,
			})
		}
	}
	return statuses, nil
}

type payload struct {
	esp.PayloadStub

	apiURL string
	auth   string // "key:secret" for basic auth

	data map[string]any
	// recipients and mergeData are late-bound: the wire shape (Recipients
	// array with per-recipient Vars vs. literal To/Cc/Bcc headers) can only
	// be decided at finalize time, once both are known.
	recipients map[esp.RecipientType][]email.Address
	mergeData  map[string]map[string]any
	extra      map[string]any
}

func (p *payload) SetFrom(from email.Address) error {
	p.data["FromEmail"] = from.AddrSpec
	if from.DisplayName != "" {
		p.data["FromName"] = from.DisplayName
	}
	return nil
}

func (p *payload) SetRecipients(kind esp.RecipientType, addrs []email.Address) error {
	p.recipients[kind] = addrs
	return nil
}

func (p *payload) SetSubject(subject string) error {
	p.data["Subject"] = subject
	return nil
}

func (p *payload) SetReplyTo(addrs []email.Address) error {
	formatted := make([]string, len(addrs))
	for i, a := range addrs {
		formatted[i] = a.String()
	}
	p.data["Reply-To"] = strings.Join(formatted, ", ")
	return nil
}

func (p *payload) SetExtraHeaders(headers email.Headers) error {
	p.data["Headers"] = headers.Map()
	return nil
}

func (p *payload) SetTextBody(body string) error {
	p.data["Text-part"] = body
	return nil
}

func (p *payload) SetHTMLBody(body string) error {
	if _, ok := p.data["Html-part"]; ok {
		return p.Unsupported("multiple html parts")
	}
	p.data["Html-part"] = body
	return nil
}

func (p *payload) AddAttachment(att email.Attachment) error {
	field := "Attachments"
	name := att.Name
	if att.Inline {
		field = "Inline_attachments"
		name = att.CID()
	}
	atts, _ := p.data[field].([]map[string]any)
	p.data[field] = append(atts, map[string]any{
		"Content-type": att.ContentType,
		"Filename":     name,
		"content":      att.B64Content(),
	})
	return nil
}

// SetTags multiplexes tags through Mailjet's event payload field, which is
// echoed back in tracking webhooks.
func (p *payload) SetTags(tags []string) error {
	p.data["Mj-EventPayLoad"] = strings.Join(tags, ",")
	return nil
}

// Mailjet encodes tracking as 1=disabled, 2=enabled.
func (p *payload) SetTrackClicks(track bool) error {
	p.data["Mj-trackclick"] = trackValue(track)
	return nil
}

func (p *payload) SetTrackOpens(track bool) error {
	p.data["Mj-trackopen"] = trackValue(track)
	return nil
}

func trackValue(enabled bool) int {
	if enabled {
		return 2
	}
	return 1
}

func (p *payload) SetTemplateID(id string) error {
	p.data["Mj-TemplateID"] = id
	p.data["Mj-TemplateLanguage"] = true
	return nil
}

func (p *payload) SetMergeData(data map[string]map[string]any) error {
	p.mergeData = data
	return nil
}

func (p *payload) SetMergeGlobalData(data map[string]any) error {
	p.data["Vars"] = data
	return nil
}

func (p *payload) SetESPExtra(extra map[string]any) error {
	p.extra = extra
	return nil
}

func (p *payload) Finalize(_ context.Context) (*esp.Request, error) {
	if err := p.finishRecipients(); err != nil {
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
	header := esp.JSONHeader()
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(p.auth)))
	return &esp.Request{
		Method: http.MethodPost,
		URL:    p.apiURL + "messages/send",
		Header: header,
		Body:   data,
	}, nil
}

// finishRecipients picks the wire shape. Setting both To and Recipients
// makes Mailjet behave specially (every recipient gets a separate mail, but
// the To address receives one listing all recipients), so exactly one form
// is ever emitted: the Recipients array with per-recipient Vars when there
// is no cc/bcc, or literal To/Cc/Bcc header strings otherwise.
func (p *payload) finishRecipients() error {
	if len(p.recipients[esp.RecipientCc]) > 0 || len(p.recipients[esp.RecipientBcc]) > 0 {
		return p.finishRecipientsSingle()
	}
	p.finishRecipientsWithVars()
	return nil
}

func (p *payload) finishRecipientsWithVars() {
	var entries []map[string]any
	for _, addr := range p.recipients[esp.RecipientTo] {
		entry := map[string]any{"Email": addr.AddrSpec}
		if addr.DisplayName != "" {
			entry["Name"] = addr.DisplayName
		}
		if vars := p.mergeData[addr.AddrSpec]; len(vars) > 0 {
			entry["Vars"] = vars
		}
		entries = append(entries, entry)
	}
	p.data["Recipients"] = entries
}

func (p *payload) finishRecipientsSingle() error {
	if len(p.mergeData) > 0 {
		// Unreachable via the build driver, which rejects this combination
		// for every provider; kept as a local guard.
		return fmt.Errorf("%w: merge data cannot be combined with cc or bcc recipients",
			email.ErrUnsupportedFeature)
	}
	fields := map[esp.RecipientType]string{
		esp.RecipientTo:  "To",
		esp.RecipientCc:  "Cc",
		esp.RecipientBcc: "Bcc",
	}
	for kind, field := range fields {
		addrs := p.recipients[kind]
		if len(addrs) == 0 {
			continue
		}
		formatted := make([]string, len(addrs))
		for i, a := range addrs {
			formatted[i] = a.String()
		}
		p.data[field] = strings.Join(formatted, ", ")
	}
	return nil
}
