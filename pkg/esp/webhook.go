package esp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dmitrymomot/mailbridge/pkg/email"
)

// WebhookVerifier gates webhook processing on an authenticity check.
// Implementations must return an error wrapping ErrWebhookVerification on
// any failure; events are never parsed for unverified requests.
type WebhookVerifier interface {
	Verify(r *http.Request, body []byte) error
}

// TrackingParser maps a provider's raw tracking webhook body into canonical
// events.
type TrackingParser interface {
	WebhookVerifier
	ParseEvents(r *http.Request, body []byte) ([]TrackingEvent, error)
}

// InboundParser maps a provider's raw inbound-mail webhook into canonical
// inbound events.
type InboundParser interface {
	WebhookVerifier
	ParseInbound(r *http.Request, body []byte) ([]InboundEvent, error)
}

// BasicAuthVerifier validates HTTP Basic Auth against one or more configured
// credential pairs with constant-time comparison.
type BasicAuthVerifier struct {
	// hashed "user:pass" digests; comparing digests avoids leaking
	// credential length through the comparison.
	creds [][sha256.Size]byte
}

// NewBasicAuthVerifier builds a verifier from "user:password" pairs.
func NewBasicAuthVerifier(pairs ...string) (*BasicAuthVerifier, error) {
	v := &BasicAuthVerifier{}
	for _, pair := range pairs {
		if !strings.Contains(pair, ":") {
			return nil, fmt.Errorf("%w: basic auth credential must be \"user:password\", got %q",
				email.ErrInvalidConfig, pair)
		}
		v.creds = append(v.creds, sha256.Sum256([]byte(pair)))
	}
	return v, nil
}

// Verify checks the request's Basic Auth header against the configured
// pairs.
func (v *BasicAuthVerifier) Verify(r *http.Request, _ []byte) error {
	if len(v.creds) == 0 {
		return nil
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return fmt.Errorf("%w: missing basic auth", ErrWebhookVerification)
	}
	got := sha256.Sum256([]byte(user + ":" + pass))
	for _, want := range v.creds {
		if hmac.Equal(got[:], want[:]) {
			return nil
		}
	}
	return fmt.Errorf("%w: invalid basic auth credentials", ErrWebhookVerification)
}

// NoVerifier is a WebhookVerifier that accepts every request, for providers
// (or event kinds) that offer no authentication mechanism yet. Pair it with
// BasicAuthVerifier protection at the handler level.
type NoVerifier struct{}

func (NoVerifier) Verify(*http.Request, []byte) error { return nil }

type handlerConfig struct {
	basicAuth *BasicAuthVerifier
	maxBody   int64
	log       *slog.Logger
}

// HandlerOption configures the webhook http.Handler adapters.
type HandlerOption func(*handlerConfig)

// WithBasicAuth protects a webhook endpoint with Basic Auth in addition to
// the provider's own verification scheme.
func WithBasicAuth(v *BasicAuthVerifier) HandlerOption {
	return func(c *handlerConfig) { c.basicAuth = v }
}

// WithWebhookLogger makes the handler log rejected webhook posts and
// delivered event counts. Without it the handler is silent.
func WithWebhookLogger(l *slog.Logger) HandlerOption {
	return func(c *handlerConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMaxBodyBytes caps the accepted webhook body size (default 16 MiB,
// sized for raw-MIME inbound payloads).
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(c *handlerConfig) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// TrackingHandler adapts a provider tracking parser into an http.Handler:
// GET/HEAD answer 200 without validation (some providers probe webhook
// reachability at configuration time), POST verifies then parses and
// delivers each event. Verification or parse failures answer 400.
func TrackingHandler(p TrackingParser, deliver func(context.Context, TrackingEvent), opts ...HandlerOption) http.Handler {
	return webhookHandler(p, opts, func(r *http.Request, body []byte) (int, error) {
		events, err := p.ParseEvents(r, body)
		if err != nil {
			return 0, err
		}
		for _, ev := range events {
			deliver(r.Context(), ev)
		}
		return len(events), nil
	})
}

// InboundHandler adapts a provider inbound parser into an http.Handler with
// the same verification gate and health-check behavior as TrackingHandler.
func InboundHandler(p InboundParser, deliver func(context.Context, InboundEvent), opts ...HandlerOption) http.Handler {
	return webhookHandler(p, opts, func(r *http.Request, body []byte) (int, error) {
		events, err := p.ParseInbound(r, body)
		if err != nil {
			return 0, err
		}
		for _, ev := range events {
			deliver(r.Context(), ev)
		}
		return len(events), nil
	})
}

func webhookHandler(v WebhookVerifier, opts []HandlerOption, handle func(*http.Request, []byte) (int, error)) http.Handler {
	cfg := handlerConfig{
		maxBody: 16 << 20,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead:
			// Configuration-time reachability probe.
			w.WriteHeader(http.StatusOK)
			return
		case http.MethodPost:
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, cfg.maxBody))
		if err != nil {
			http.Error(w, "cannot read request body", http.StatusBadRequest)
			return
		}
		// Downstream parsers (multipart form handling) need the body back.
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		if cfg.basicAuth != nil {
			if err := cfg.basicAuth.Verify(r, body); err != nil {
				cfg.log.WarnContext(r.Context(), "webhook rejected",
					slog.String("reason", "basic auth"), slog.Any("error", err))
				http.Error(w, "verification failed", http.StatusBadRequest)
				return
			}
		}
		if err := v.Verify(r, body); err != nil {
			cfg.log.WarnContext(r.Context(), "webhook rejected",
				slog.String("reason", "verification"), slog.Any("error", err))
			http.Error(w, "verification failed", http.StatusBadRequest)
			return
		}
		delivered, err := handle(r, body)
		if err != nil {
			cfg.log.WarnContext(r.Context(), "webhook rejected",
				slog.String("reason", "parse"), slog.Any("error", err))
			http.Error(w, "invalid webhook payload", http.StatusBadRequest)
			return
		}
		cfg.log.DebugContext(r.Context(), "webhook processed", slog.Int("events", delivered))
		w.WriteHeader(http.StatusOK)
	})
}
