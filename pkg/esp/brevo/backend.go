// Package brevo implements the Brevo (formerly Sendinblue) v3 transactional
// email adapter, including batch sends via messageVersions.
package brevo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dmitrymomot/mailbridge/pkg/email"
	"github.com/dmitrymomot/mailbridge/pkg/esp"
)

const espName = "Brevo"

// scheduledAtLayout renders millisecond precision with a numeric zone,
// matching Brevo's ISO-8601 expectations ("+00:00" for UTC).
const scheduledAtLayout = "2006-01-02T15:04:05.000-07:00"

// Config holds Brevo credentials and endpoint settings.
type Config struct {
	APIKey string `env:"BREVO_API_KEY,required"`
	APIURL string `env:"BREVO_API_URL" envDefault:"https://api.brevo.com/v3/"`
}

// Backend is the Brevo send adapter.
type Backend struct {
	apiKey string
	apiURL string
}

// New creates a Brevo backend.
func New(cfg Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: Brevo APIKey is required", email.ErrInvalidConfig)
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "https://api.brevo.com/v3/"
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

// ParseResponse implements esp.Backend. A regular send returns one messageId
// covering every recipient. A batch send (messageVersions) returns one
// messageIds entry per version, zipped against the to list in order.
func (b *Backend) ParseResponse(resp *esp.Response, pb esp.PayloadBuilder, _ *email.Message) (*email.StatusMap, error) {
	var parsed struct {
		MessageID  string   `json:"messageId"`
		MessageIDs []string `json:"messageIds"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, esp.NewResponseFormatError(espName, resp)
	}
	p := pb.(*payload)

	if parsed.MessageIDs != nil {
		if len(parsed.MessageIDs) != len(p.toRecipients) {
			return nil, esp.NewAPIError(espName, resp,
				fmt.Sprintf("Expected %d messageIds, got %d", len(p.toRecipients), len(parsed.MessageIDs)))
		}
		statuses := &email.StatusMap{}
		for i, recip := range p.toRecipients {
			statuses.Set(recip, email.RecipientStatus{
				MessageID: parsed.MessageIDs[i],
				Status:    email.StatusQueued,
			})
		}
		return statuses, nil
	}

	if parsed.MessageID == "" {
		return nil, esp.NewResponseFormatError(espName, resp)
	}
	return email.NewStatusMap(p.allRecipients, email.RecipientStatus{
		MessageID: parsed.MessageID,
		Status:    email.StatusQueued,
	}), nil
}

type payload struct {
	esp.PayloadStub

	apiURL string
	apiKey string

	data          map[string]any
	toAddrs       []email.Address // for building messageVersions
	toRecipients  []string
	allRecipients []string
	metadata      map[string]any
	mergeData     map[string]map[string]any
	mergeMetadata map[string]map[string]any
	mergeHeaders  map[string]map[string]string
	extra         map[string]any
}

// brevoAddress formats an address as Brevo's {"email", "name"} object. The
// domain is IDNA-encoded (Brevo requires ASCII domains but accepts EAI local
// parts). Non-ASCII display names containing address specials are sent as
// RFC 2047 encoded-words: Brevo drops them otherwise.
func brevoAddress(a email.Address) (map[string]any, error) {
	addrSpec, err := a.IDNAAddrSpec()
	if err != nil {
		return nil, err
	}
	entry := map[string]any{"email": addrSpec}
	if a.DisplayName != "" {
		name := a.DisplayName
		if !isASCII(name) && email.QuoteDisplayName(name, false) != name {
			name = email.EncodeRFC2047(name)
		}
		entry["name"] = name
	}
	return entry, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func (p *payload) SetFrom(from email.Address) error {
	sender, err := brevoAddress(from)
	if err != nil {
		return err
	}
	p.data["sender"] = sender
	return nil
}

func (p *payload) SetRecipients(kind esp.RecipientType, addrs []email.Address) error {
	entries := make([]map[string]any, len(addrs))
	for i, a := range addrs {
		entry, err := brevoAddress(a)
		if err != nil {
			return err
		}
		entries[i] = entry
		p.allRecipients = append(p.allRecipients, a.AddrSpec)
	}
	p.data[string(kind)] = entries
	if kind == esp.RecipientTo {
		p.toAddrs = addrs
		for _, a := range addrs {
			p.toRecipients = append(p.toRecipients, a.AddrSpec)
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
		if err := p.Unsupported("multiple reply_to addresses"); err != nil {
			return err
		}
	}
	if len(addrs) > 0 {
		entry, err := brevoAddress(addrs[0])
		if err != nil {
			return err
		}
		p.data["replyTo"] = entry
	}
	return nil
}

// Brevo transmits custom headers as raw utf-8, which breaks non-ASCII values
// on the receiving end.
func (p *payload) SetExtraHeaders(headers email.Headers) error {
	dst := p.headers()
	var err error
	headers.Range(func(key, value string) bool {
		if !isASCII(value) {
			err = p.Unsupported(fmt.Sprintf("non-ASCII characters in %q header", key))
			if err != nil {
				return false
			}
		}
		dst[key] = value
		return true
	})
	return err
}

func (p *payload) headers() map[string]any {
	h, ok := p.data["headers"].(map[string]any)
	if !ok {
		h = map[string]any{}
		p.data["headers"] = h
	}
	return h
}

func (p *payload) SetTextBody(body string) error {
	p.data["textContent"] = body
	return nil
}

func (p *payload) SetHTMLBody(body string) error {
	if _, ok := p.data["htmlContent"]; ok {
		return p.Unsupported("multiple html parts")
	}
	p.data["htmlContent"] = body
	return nil
}

// Brevo guesses attachment content type from the filename extension and has
// no inline image support.
func (p *payload) AddAttachment(att email.Attachment) error {
	if att.Inline {
		return p.Unsupported("inline attachments")
	}
	atts, _ := p.data["attachment"].([]map[string]any)
	p.data["attachment"] = append(atts, map[string]any{
		"name":    att.Name,
		"content": att.B64Content(),
	})
	return nil
}

// Metadata rides in the X-Mailin-custom header as a JSON document, so value
// types survive the round trip. Brevo mangles non-ASCII header content.
func (p *payload) SetMetadata(metadata map[string]any) error {
	encoded, err := p.serializeASCIIJSON(metadata, "metadata")
	if err != nil {
		return err
	}
	p.headers()["X-Mailin-custom"] = encoded
	p.metadata = metadata
	return nil
}

func (p *payload) serializeASCIIJSON(v any, feature string) (string, error) {
	encoded, err := p.SerializeJSON(v)
	if err != nil {
		return "", err
	}
	if !isASCII(string(encoded)) {
		if err := p.Unsupported("non-ASCII characters in " + feature); err != nil {
			return "", err
		}
	}
	return string(encoded), nil
}

func (p *payload) SetSendAt(sendAt email.SendAt) error {
	p.data["scheduledAt"] = sendAt.Format(scheduledAtLayout, p.Location())
	return nil
}

func (p *payload) SetTags(tags []string) error {
	p.data["tags"] = tags
	return nil
}

// Brevo uses per-account numeric template ids.
func (p *payload) SetTemplateID(id string) error {
	if n, err := strconv.Atoi(id); err == nil {
		p.data["templateId"] = n
	} else {
		p.data["templateId"] = id
	}
	return nil
}

func (p *payload) SetMergeData(data map[string]map[string]any) error {
	p.mergeData = data
	return nil
}

func (p *payload) SetMergeGlobalData(data map[string]any) error {
	p.data["params"] = data
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
	if err := p.finishMessageVersions(); err != nil {
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
	header := esp.JSONHeader("api-key", p.apiKey)
	return &esp.Request{
		Method: http.MethodPost,
		URL:    p.apiURL + "smtp/email",
		Header: header,
		Body:   data,
	}, nil
}

// finishMessageVersions switches to Brevo's batch shape when any per-recipient
// merge field is present: one messageVersions entry per to address, each
// carrying its params (merge data) and headers (merge metadata combined with
// base metadata, plus merge headers).
func (p *payload) finishMessageVersions() error {
	if p.mergeData == nil && p.mergeMetadata == nil && p.mergeHeaders == nil {
		return nil
	}
	versions := make([]map[string]any, 0, len(p.toAddrs))
	for _, addr := range p.toAddrs {
		entry, err := brevoAddress(addr)
		if err != nil {
			return err
		}
		version := map[string]any{"to": []map[string]any{entry}}
		if params, ok := p.mergeData[addr.AddrSpec]; ok {
			version["params"] = params
		}
		headers := map[string]any{}
		if recipMeta, ok := p.mergeMetadata[addr.AddrSpec]; ok {
			combined := make(map[string]any, len(p.metadata)+len(recipMeta))
			for k, v := range p.metadata {
				combined[k] = v
			}
			for k, v := range recipMeta {
				combined[k] = v
			}
			encoded, err := p.serializeASCIIJSON(combined, "merge_metadata")
			if err != nil {
				return err
			}
			headers["X-Mailin-custom"] = encoded
		}
		for k, v := range p.mergeHeaders[addr.AddrSpec] {
			if !isASCII(v) {
				if err := p.Unsupported("non-ASCII characters in merge_headers"); err != nil {
					return err
				}
			}
			headers[k] = v
		}
		if len(headers) > 0 {
			version["headers"] = headers
		}
		versions = append(versions, version)
	}
	p.data["messageVersions"] = versions
	// The batch response carries ids for the to list only.
	p.allRecipients = p.toRecipients
	return nil
}
