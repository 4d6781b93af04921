// Package responsys implements the Oracle Responsys campaign merge-trigger
// email adapter.
//
// Responsys is the odd one out: sends are triggered against a server-side
// campaign (named in esp_extra under "campaign_name"), message content lives
// in the campaign, and the API is reached through a login endpoint that
// hands back both the auth token and the account's API host.
package responsys

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/dmitrymomot/mailbridge/pkg/email"
	"github.com/dmitrymomot/mailbridge/pkg/esp"
)

const espName = "Responsys"

// Config holds Responsys credentials and endpoint settings.
type Config struct {
	Username string `env:"RESPONSYS_USERNAME,required"`
	Password string `env:"RESPONSYS_PASSWORD,required"`
	LoginURL string `env:"RESPONSYS_LOGIN_URL" envDefault:"https://login2.responsys.net/rest/api/v1.3/auth/token"`
	APIPath  string `env:"RESPONSYS_API_PATH" envDefault:"/rest/api/v1.3/campaigns/"`
}

// Backend is the Responsys send adapter. The auth token and per-account API
// host are fetched from the login endpoint on first use and cached.
type Backend struct {
	cfg  Config
	http *http.Client

	mu        sync.Mutex
	authToken string
	apiURL    string
}

// New creates a Responsys backend. The login call is deferred until the
// first send so it can carry that send's context.
func New(cfg Config, hc *http.Client) (*Backend, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("%w: Responsys Username and Password are required", email.ErrInvalidConfig)
	}
	if cfg.LoginURL == "" {
		cfg.LoginURL = "https://login2.responsys.net/rest/api/v1.3/auth/token"
	}
	if cfg.APIPath == "" {
		cfg.APIPath = "/rest/api/v1.3/campaigns/"
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Backend{cfg: cfg, http: hc}, nil
}

func (b *Backend) Name() string { return espName }

// authenticate logs in to Responsys and caches the auth token and API base
// URL derived from the returned endPoint.
func (b *Backend) authenticate(ctx context.Context) (apiURL, token string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.authToken != "" {
		return b.apiURL, b.authToken, nil
	}

	form := url.Values{
		"user_name": {b.cfg.Username},
		"password":  {b.cfg.Password},
		"auth_type": {"password"},
	}
	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := esp.Do(ctx, b.http, &esp.Request{
		Method: http.MethodPost,
		URL:    b.cfg.LoginURL,
		Header: header,
		Body:   []byte(form.Encode()),
	})
	if err != nil {
		return "", "", fmt.Errorf("Responsys login: %w", err)
	}
	if err := esp.CheckStatus(espName, resp); err != nil {
		return "", "", err
	}

	var parsed struct {
		AuthToken string `json:"authToken"`
		EndPoint  string `json:"endPoint"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil || parsed.AuthToken == "" || parsed.EndPoint == "" {
		return "", "", esp.NewResponseFormatError(espName, resp)
	}

	b.authToken = parsed.AuthToken
	b.apiURL = strings.TrimSuffix(parsed.EndPoint, "/") + b.cfg.APIPath
	return b.apiURL, b.authToken, nil
}

// NewPayload implements esp.Backend.
func (b *Backend) NewPayload(opts esp.PayloadOptions) esp.PayloadBuilder {
	return &payload{
		PayloadStub: esp.PayloadStub{PayloadBase: esp.PayloadBase{ESPName: espName, Options: opts}},
		backend:     b,
	}
}

// ParseResponse implements esp.Backend. Responsys answers with one record
// per trigger, keyed by recipientId, reporting plain success or failure.
func (b *Backend) ParseResponse(resp *esp.Response, _ esp.PayloadBuilder, _ *email.Message) (*email.StatusMap, error) {
	var parsed []struct {
		RecipientID json.Number `json:"recipientId"`
		Success     bool        `json:"success"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, esp.NewResponseFormatError(espName, resp)
	}
	statuses := &email.StatusMap{}
	for _, record := range parsed {
		status := email.StatusFailed
		if record.Success {
			status = email.StatusSent
		}
		statuses.Set(record.RecipientID.String(), email.RecipientStatus{Status: status})
	}
	return statuses, nil
}

// defaultMergeRule matches existing list members on EMAIL_ADDRESS_ and
// inserts opted-in records for unknown addresses.
func defaultMergeRule() map[string]any {
	return map[string]any{
		"htmlValue":                  "H",
		"matchColumnName1":           "EMAIL_ADDRESS_",
		"matchColumnName2":           nil,
		"optoutValue":                "O",
		"insertOnNoMatch":            true,
		"defaultPermissionStatus":    "OPTIN",
		"rejectRecordIfChannelEmpty": "E",
		"optinValue":                 "I",
		"updateOnMatch":              "REPLACE_ALL",
		"textValue":                  "T",
		"matchOperator":              "NONE",
	}
}

type payload struct {
	esp.PayloadStub

	backend *Backend

	to         []email.Address
	subject    map[string]any
	mergeData  map[string]map[string]any
	fieldNames []any
	mergeRule  map[string]any
	customData []any
	extra      map[string]any
}

// Campaign content defines the message; these canonical fields are accepted
// and discarded rather than rejected, so ordinary messages can be routed
// through Responsys unchanged.
func (p *payload) SetFrom(email.Address) error         { return nil }
func (p *payload) SetTextBody(string) error            { return nil }
func (p *payload) SetHTMLBody(string) error            { return nil }
func (p *payload) SetReplyTo([]email.Address) error    { return nil }
func (p *payload) SetExtraHeaders(email.Headers) error { return nil }

func (p *payload) SetRecipients(kind esp.RecipientType, addrs []email.Address) error {
	if kind != esp.RecipientTo {
		return p.Unsupported(string(kind) + " recipients")
	}
	p.to = addrs
	return nil
}

func (p *payload) SetSubject(subject string) error {
	p.subject = map[string]any{"name": "SUBJECT", "value": subject}
	return nil
}

func (p *payload) SetMergeData(data map[string]map[string]any) error {
	p.mergeData = data
	return nil
}

// SetMergeGlobalData reads Responsys's vocabulary out of the global merge
// data: "mergeRule" overrides entries in the default merge rule,
// "fieldNames" names the record columns, and "customData" is optional data
// appended to every trigger record.
func (p *payload) SetMergeGlobalData(data map[string]any) error {
	if rule, ok := data["mergeRule"].(map[string]any); ok {
		p.mergeRule = rule
	}
	if names, ok := data["fieldNames"].([]any); ok {
		p.fieldNames = names
	}
	if custom, ok := data["customData"].([]any); ok {
		p.customData = custom
	}
	return nil
}

func (p *payload) SetESPExtra(extra map[string]any) error {
	p.extra = extra
	return nil
}

func (p *payload) Finalize(ctx context.Context) (*esp.Request, error) {
	campaign, _ := p.extra["campaign_name"].(string)
	if campaign == "" {
		return nil, fmt.Errorf(`%w: Responsys needs a campaign name; set ESPExtra{"campaign_name": "<name>"}`,
			email.ErrInvalidConfig)
	}

	apiURL, token, err := p.backend.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	mergeRule := defaultMergeRule()
	for k, v := range p.mergeRule {
		mergeRule[k] = v
	}

	fieldNames := p.fieldNames
	if fieldNames == nil {
		fieldNames = []any{"EMAIL_ADDRESS_"}
	}

	records := make([]map[string]any, 0, len(p.to))
	for _, addr := range p.to {
		optionalData := make([]any, 0, len(p.mergeData[addr.AddrSpec])+len(p.customData)+1)
		for name, value := range p.mergeData[addr.AddrSpec] {
			optionalData = append(optionalData, map[string]any{"name": name, "value": value})
		}
		optionalData = append(optionalData, p.customData...)
		if p.subject != nil {
			optionalData = append(optionalData, p.subject)
		}
		records = append(records, map[string]any{
			"fieldValues":  []any{addr.AddrSpec},
			"optionalData": optionalData,
		})
	}

	body := map[string]any{
		"mergeTriggerRecordData": map[string]any{
			"mergeTriggerRecords": records,
			"fieldNames":          fieldNames,
		},
		"mergeRule": mergeRule,
	}
	data, err := p.SerializeJSON(body)
	if err != nil {
		return nil, err
	}

	header := esp.JSONHeader("Authorization", token)
	return &esp.Request{
		Method: http.MethodPost,
		URL:    apiURL + url.PathEscape(campaign) + "/email",
		Header: header,
		Body:   data,
	}, nil
}
