package esp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/mailbridge/pkg/email"
)

// Backend is one provider's send-side adapter: it creates payload builders
// and parses the provider's raw send response into per-recipient statuses.
// Implementations live in the per-provider subpackages.
type Backend interface {
	// Name returns the provider name used in error messages ("Mailjet").
	Name() string
	// NewPayload creates a fresh payload accumulator for one send attempt.
	NewPayload(opts PayloadOptions) PayloadBuilder
	// ParseResponse maps the raw response plus the builder's recipient
	// bookkeeping into per-recipient statuses. Called only after the status
	// check accepted the response.
	ParseResponse(resp *Response, p PayloadBuilder, msg *email.Message) (*email.StatusMap, error)
}

// StatusChecker lets a backend override the default "2xx or fail" response
// gate, e.g. for providers that overload 400 to mean "partially rejected,
// diagnostics in the body".
type StatusChecker interface {
	CheckStatus(resp *Response) error
}

// Client issues the provider HTTP calls built by payload builders. It holds
// no per-message state and is safe for concurrent use.
type Client struct {
	http *http.Client
	log  *slog.Logger
	opts PayloadOptions
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default pooled HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger enables debug logging of request/response metadata.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithIgnoreUnsupported degrades gracefully on provider capability gaps
// instead of failing the send.
func WithIgnoreUnsupported() Option {
	return func(c *Client) { c.opts.IgnoreUnsupported = true }
}

// WithLocation sets the timezone used to resolve date-only scheduled sends.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) { c.opts.Location = loc }
}

// NewClient creates a send client. The default HTTP client pools connections
// per provider endpoint with a 30s per-request timeout.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send translates the canonical message for the given backend, issues the
// HTTP call, and returns the per-recipient status map. It returns
// ErrRecipientsRefused (with the status map) when every recipient was
// rejected; partial failure returns statuses without an error.
func (c *Client) Send(ctx context.Context, backend Backend, msg *email.Message) (*email.StatusMap, error) {
	builder := backend.NewPayload(c.opts)
	req, err := BuildRequest(ctx, builder, msg, c.opts)
	if err != nil {
		return nil, err
	}

	c.log.DebugContext(ctx, "sending message",
		slog.String("esp", backend.Name()),
		slog.String("url", req.URL),
		slog.Int("body_bytes", len(req.Body)),
	)

	resp, err := Do(ctx, c.http, req)
	if err != nil {
		return nil, fmt.Errorf("sending to %s: %w", backend.Name(), err)
	}

	c.log.DebugContext(ctx, "provider response",
		slog.String("esp", backend.Name()),
		slog.Int("status", resp.StatusCode),
	)

	if checker, ok := backend.(StatusChecker); ok {
		err = checker.CheckStatus(resp)
	} else {
		err = CheckStatus(backend.Name(), resp)
	}
	if err != nil {
		return nil, err
	}

	statuses, err := backend.ParseResponse(resp, builder, msg)
	if err != nil {
		return nil, err
	}
	if statuses.AllRefused() {
		return statuses, fmt.Errorf("%w (%s)", ErrRecipientsRefused, backend.Name())
	}
	return statuses, nil
}

// Do issues a built Request and reads the full response. Exposed for
// backends that make their own nested calls (auth-token fetches, template
// detail lookups).
func Do(ctx context.Context, hc *http.Client, req *Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// CheckStatus is the default response gate: any non-2xx status fails with an
// APIError carrying the body.
func CheckStatus(espName string, resp *Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return NewAPIError(espName, resp, "")
}
