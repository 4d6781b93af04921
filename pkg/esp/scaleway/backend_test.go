package scaleway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailbridge/pkg/email"
	"github.com/dmitrymomot/mailbridge/pkg/esp"
	"github.com/dmitrymomot/mailbridge/pkg/esp/scaleway"
)

func newBackend(t *testing.T) *scaleway.Backend {
	t.Helper()
	b, err := scaleway.New(scaleway.Config{SecretKey: "secret", ProjectID: "proj-1"})
	require.NoError(t, err)
	return b
}

func build(t *testing.T, b *scaleway.Backend, msg *email.Message) (map[string]any, *esp.Request, esp.PayloadBuilder) {
	t.Helper()
	p := b.NewPayload(esp.PayloadOptions{})
	req, err := esp.BuildRequest(context.Background(), p, msg, esp.PayloadOptions{})
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(req.Body, &body))
	return body, req, p
}

func baseMessage() *email.Message {
	return &email.Message{
		From:     email.Address{DisplayName: "Sender", AddrSpec: "from@example.com"},
		To:       []email.Address{{AddrSpec: "to@example.com"}},
		Subject:  "Subject",
		TextBody: "Text",
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := scaleway.New(scaleway.Config{ProjectID: "p"})
	assert.ErrorIs(t, err, email.ErrInvalidConfig)
	_, err = scaleway.New(scaleway.Config{SecretKey: "s"})
	assert.ErrorIs(t, err, email.ErrInvalidConfig)
}

func TestBuildRequest(t *testing.T) {
	t.Parallel()

	msg := baseMessage()
	msg.Cc = []email.Address{{AddrSpec: "cc@example.com"}}
	msg.HTMLBody = "<p>HTML</p>"

	body, req, _ := build(t, newBackend(t), msg)

	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "https://api.scaleway.com/transactional-email/v1alpha1/regions/fr-par/emails", req.URL)
	assert.Equal(t, "secret", req.Header.Get("X-Auth-Token"))

	assert.Equal(t, "proj-1", body["project_id"])
	assert.Equal(t, map[string]any{"email": "from@example.com", "name": "Sender"}, body["from"])
	assert.Equal(t, []any{map[string]any{"email": "to@example.com"}}, body["to"])
	assert.Equal(t, []any{map[string]any{"email": "cc@example.com"}}, body["cc"])
	assert.Equal(t, "Subject", body["subject"])
	assert.Equal(t, "Text", body["text"])
	assert.Equal(t, "<p>HTML</p>", body["html"])
}

func TestRegionURL(t *testing.T) {
	t.Parallel()

	b, err := scaleway.New(scaleway.Config{SecretKey: "s", ProjectID: "p", Region: "nl-ams"})
	require.NoError(t, err)
	_, req, _ := build(t, b, baseMessage())
	assert.Equal(t, "https://api.scaleway.com/transactional-email/v1alpha1/regions/nl-ams/emails", req.URL)
}

func TestHeaders(t *testing.T) {
	t.Parallel()

	msg := baseMessage()
	msg.ReplyTo = []email.Address{{AddrSpec: "reply@example.com"}}
	msg.ExtraHeaders = email.NewHeaders("X-First", "1", "X-Second", "2")

	body, _, _ := build(t, newBackend(t), msg)

	headers := body["additional_headers"].([]any)
	require.Len(t, headers, 3)
	assert.Equal(t, map[string]any{"key": "Reply-To", "value": "reply@example.com"}, headers[0])
	assert.Equal(t, map[string]any{"key": "X-First", "value": "1"}, headers[1])
	assert.Equal(t, map[string]any{"key": "X-Second", "value": "2"}, headers[2])
}

func TestAttachments(t *testing.T) {
	t.Parallel()

	msg := baseMessage()
	msg.Attachments = []email.Attachment{{Name: "test.txt", Content: []byte("content"), ContentType: "text/plain"}}

	body, _, _ := build(t, newBackend(t), msg)
	atts := body["attachments"].([]any)
	require.Len(t, atts, 1)
	assert.Equal(t, map[string]any{
		"name":    "test.txt",
		"type":    "text/plain",
		"content": "Y29udGVudA==",
	}, atts[0])

	msg.Attachments = []email.Attachment{{Name: "logo.png", Content: []byte("p"), Inline: true, ContentID: "<logo>"}}
	p := newBackend(t).NewPayload(esp.PayloadOptions{})
	_, err := esp.BuildRequest(context.Background(), p, msg, esp.PayloadOptions{})
	assert.ErrorIs(t, err, email.ErrUnsupportedFeature)
}

func TestParseResponse(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	msg := baseMessage()
	_, _, p := build(t, b, msg)

	t.Run("new records queued", func(t *testing.T) {
		t.Parallel()

		statuses, err := b.ParseResponse(&esp.Response{
			StatusCode: http.StatusOK,
			Body: []byte(`{"emails": [
				{"message_id": "id-1", "mail_rcpt": "one@example.com", "status": "new"},
				{"message_id": "id-2", "mail_rcpt": "two@example.com", "status": "sending"}
			]}`),
		}, p, msg)
		require.NoError(t, err)

		got, _ := statuses.Get("one@example.com")
		assert.Equal(t, "id-1", got.MessageID)
		assert.Equal(t, email.StatusQueued, got.Status)

		got, _ = statuses.Get("two@example.com")
		assert.Equal(t, email.StatusUnknown, got.Status)
	})

	t.Run("missing recipient", func(t *testing.T) {
		t.Parallel()

		_, err := b.ParseResponse(&esp.Response{
			StatusCode: http.StatusOK,
			Body:       []byte(`{"emails": [{"message_id": "id-1", "status": "new"}]}`),
		}, p, msg)
		require.Error(t, err)
		assert.ErrorIs(t, err, esp.ErrAPIResponse)
	})

	t.Run("missing emails array", func(t *testing.T) {
		t.Parallel()

		_, err := b.ParseResponse(&esp.Response{StatusCode: http.StatusOK, Body: []byte(`{}`)}, p, msg)
		require.Error(t, err)
	})
}
