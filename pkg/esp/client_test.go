package esp_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailbridge/pkg/email"
	"github.com/dmitrymomot/mailbridge/pkg/esp"
)

// fakeBackend drives the client against an httptest server with a
// configurable response parser.
type fakeBackend struct {
	url   string
	parse func(resp *esp.Response) (*email.StatusMap, error)
}

func (b *fakeBackend) Name() string { return "Fake" }

func (b *fakeBackend) NewPayload(opts esp.PayloadOptions) esp.PayloadBuilder {
	p := newRecordingBuilder()
	p.Options = opts
	p.finalize = func(context.Context) (*esp.Request, error) {
		return &esp.Request{
			Method: http.MethodPost,
			URL:    b.url,
			Header: esp.JSONHeader("Authorization", "Bearer test"),
			Body:   []byte(`{"subject":"Subject"}`),
		}, nil
	}
	return p
}

func (b *fakeBackend) ParseResponse(resp *esp.Response, _ esp.PayloadBuilder, msg *email.Message) (*email.StatusMap, error) {
	if b.parse != nil {
		return b.parse(resp)
	}
	m := &email.StatusMap{}
	for _, a := range msg.Recipients() {
		m.Set(a.AddrSpec, email.RecipientStatus{MessageID: "id-1", Status: email.StatusQueued})
	}
	return m, nil
}

func TestClientSend(t *testing.T) {
	t.Parallel()

	var gotAuth, gotContentType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	backend := &fakeBackend{url: srv.URL}
	client := esp.NewClient(esp.WithHTTPClient(srv.Client()))

	statuses, err := client.Send(context.Background(), backend, baseMessage())
	require.NoError(t, err)

	assert.Equal(t, "Bearer test", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"subject":"Subject"}`, gotBody)

	got, ok := statuses.Get("to@example.com")
	require.True(t, ok)
	assert.Equal(t, "id-1", got.MessageID)
	assert.Equal(t, email.StatusQueued, got.Status)
}

func TestClientSendAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := esp.NewClient(esp.WithHTTPClient(srv.Client()))
	_, err := client.Send(context.Background(), &fakeBackend{url: srv.URL}, baseMessage())
	require.Error(t, err)
	assert.ErrorIs(t, err, esp.ErrAPIResponse)

	var apiErr *esp.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, string(apiErr.Body), "bad api key")
}

func TestClientSendAllRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	backend := &fakeBackend{
		url: srv.URL,
		parse: func(*esp.Response) (*email.StatusMap, error) {
			m := &email.StatusMap{}
			m.Set("to@example.com", email.RecipientStatus{Status: email.StatusRejected})
			return m, nil
		},
	}

	client := esp.NewClient(esp.WithHTTPClient(srv.Client()))
	statuses, err := client.Send(context.Background(), backend, baseMessage())
	require.Error(t, err)
	assert.ErrorIs(t, err, esp.ErrRecipientsRefused)

	// The status map still comes back for per-recipient diagnostics.
	require.NotNil(t, statuses)
	got, _ := statuses.Get("to@example.com")
	assert.Equal(t, email.StatusRejected, got.Status)
}

func TestClientSendBuildFailureSkipsNetwork(t *testing.T) {
	t.Parallel()

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	msg := baseMessage()
	msg.Tags = []string{"unsupported-by-stub"}

	client := esp.NewClient(esp.WithHTTPClient(srv.Client()))
	_, err := client.Send(context.Background(), &fakeBackend{url: srv.URL}, msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, email.ErrUnsupportedFeature)
	assert.False(t, called)
}

func TestClientContextCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := esp.NewClient(esp.WithHTTPClient(srv.Client()))
	_, err := client.Send(ctx, &fakeBackend{url: srv.URL}, baseMessage())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCheckStatus(t *testing.T) {
	t.Parallel()

	assert.NoError(t, esp.CheckStatus("Fake", &esp.Response{StatusCode: 200}))
	assert.NoError(t, esp.CheckStatus("Fake", &esp.Response{StatusCode: 202}))

	err := esp.CheckStatus("Fake", &esp.Response{StatusCode: 500, Body: []byte("boom")})
	require.Error(t, err)
	assert.ErrorIs(t, err, esp.ErrAPIResponse)
}

func TestClientStatusCheckerOverride(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":{"to":["is invalid"]}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	backend := &tolerantBackend{fakeBackend{
		url: srv.URL,
		parse: func(resp *esp.Response) (*email.StatusMap, error) {
			m := &email.StatusMap{}
			m.Set("to@example.com", email.RecipientStatus{Status: email.StatusInvalid})
			return m, nil
		},
	}}

	client := esp.NewClient(esp.WithHTTPClient(srv.Client()))
	statuses, err := client.Send(context.Background(), backend, baseMessage())

	// The override accepted the 400 so parsing ran; all-refused still
	// surfaces as ErrRecipientsRefused rather than an API error.
	require.Error(t, err)
	assert.ErrorIs(t, err, esp.ErrRecipientsRefused)
	assert.False(t, errors.Is(err, esp.ErrAPIResponse))
	require.NotNil(t, statuses)
}

// tolerantBackend accepts HTTP 400 as a parseable partial-rejection response.
type tolerantBackend struct{ fakeBackend }

func (b *tolerantBackend) CheckStatus(resp *esp.Response) error {
	if resp.StatusCode == http.StatusBadRequest {
		return nil
	}
	return esp.CheckStatus(b.Name(), resp)
}
