package esp_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailbridge/pkg/email"
	"github.com/dmitrymomot/mailbridge/pkg/esp"
)

// recordingBuilder captures every setter invocation so tests can assert on
// call order and on setters that must never fire.
type recordingBuilder struct {
	esp.PayloadStub

	calls    []string
	replyTo  []email.Address
	headers  email.Headers
	htmlSets int
	finalize func(ctx context.Context) (*esp.Request, error)
}

func newRecordingBuilder() *recordingBuilder {
	b := &recordingBuilder{}
	b.ESPName = "Test"
	return b
}

func (b *recordingBuilder) record(name string) { b.calls = append(b.calls, name) }

func (b *recordingBuilder) SetFrom(email.Address) error { b.record("from"); return nil }

func (b *recordingBuilder) SetRecipients(kind esp.RecipientType, _ []email.Address) error {
	b.record("recipients:" + string(kind))
	return nil
}

func (b *recordingBuilder) SetSubject(string) error { b.record("subject"); return nil }

func (b *recordingBuilder) SetReplyTo(addrs []email.Address) error {
	b.record("reply_to")
	b.replyTo = addrs
	return nil
}

func (b *recordingBuilder) SetExtraHeaders(h email.Headers) error {
	b.record("headers")
	b.headers = h
	return nil
}

func (b *recordingBuilder) SetTextBody(string) error { b.record("text"); return nil }

func (b *recordingBuilder) SetHTMLBody(string) error {
	b.record("html")
	b.htmlSets++
	if b.htmlSets > 1 {
		return b.Unsupported("multiple html parts")
	}
	return nil
}

func (b *recordingBuilder) SetTrackOpens(bool) error { b.record("track_opens"); return nil }

func (b *recordingBuilder) SetTrackClicks(bool) error { b.record("track_clicks"); return nil }

func (b *recordingBuilder) SetMergeData(map[string]map[string]any) error {
	b.record("merge_data")
	return nil
}

func (b *recordingBuilder) SetESPExtra(map[string]any) error { b.record("esp_extra"); return nil }

func (b *recordingBuilder) Finalize(ctx context.Context) (*esp.Request, error) {
	b.record("finalize")
	if b.finalize != nil {
		return b.finalize(ctx)
	}
	return &esp.Request{Method: "POST", URL: "https://api.example.com/send"}, nil
}

func baseMessage() *email.Message {
	return &email.Message{
		From:     email.Address{AddrSpec: "from@example.com"},
		To:       []email.Address{{AddrSpec: "to@example.com"}},
		Subject:  "Subject",
		TextBody: "Text",
	}
}

func TestBuildRequestOrder(t *testing.T) {
	t.Parallel()

	msg := baseMessage()
	msg.Cc = []email.Address{{AddrSpec: "cc@example.com"}}
	msg.HTMLBody = "<p>html</p>"
	msg.ReplyTo = []email.Address{{AddrSpec: "reply@example.com"}}
	msg.ESPExtra = map[string]any{"x": 1}

	b := newRecordingBuilder()
	req, err := esp.BuildRequest(context.Background(), b, msg, esp.PayloadOptions{})
	require.NoError(t, err)
	require.NotNil(t, req)

	assert.Equal(t, []string{
		"from",
		"recipients:to",
		"recipients:cc",
		"subject",
		"reply_to",
		"text",
		"html",
		"esp_extra",
		"finalize",
	}, b.calls)
}

func TestBuildRequestSkipsUnsetFields(t *testing.T) {
	t.Parallel()

	b := newRecordingBuilder()
	_, err := esp.BuildRequest(context.Background(), b, baseMessage(), esp.PayloadOptions{})
	require.NoError(t, err)

	// Tri-state flags and optional fields must not reach the builder at all
	// when unset, so the wire fields stay absent.
	assert.NotContains(t, b.calls, "track_opens")
	assert.NotContains(t, b.calls, "track_clicks")
	assert.NotContains(t, b.calls, "headers")
	assert.NotContains(t, b.calls, "reply_to")
}

func TestBuildRequestTrackingFlags(t *testing.T) {
	t.Parallel()

	msg := baseMessage()
	msg.TrackOpens = email.Bool(false)
	msg.TrackClicks = email.Bool(true)

	b := newRecordingBuilder()
	_, err := esp.BuildRequest(context.Background(), b, msg, esp.PayloadOptions{})
	require.NoError(t, err)

	// An explicit false is still a call; only nil is skipped.
	assert.Contains(t, b.calls, "track_opens")
	assert.Contains(t, b.calls, "track_clicks")
}

func TestBuildRequestMergeDataWithCcBcc(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		mod   func(*email.Message)
		valid bool
	}{
		{
			name: "merge data with cc",
			mod: func(m *email.Message) {
				m.MergeData = map[string]map[string]any{"to@example.com": {"name": "A"}}
				m.Cc = []email.Address{{AddrSpec: "cc@example.com"}}
			},
		},
		{
			name: "merge metadata with bcc",
			mod: func(m *email.Message) {
				m.MergeMetadata = map[string]map[string]any{"to@example.com": {"k": "v"}}
				m.Bcc = []email.Address{{AddrSpec: "bcc@example.com"}}
			},
		},
		{
			name: "merge headers with cc",
			mod: func(m *email.Message) {
				m.MergeHeaders = map[string]map[string]string{"to@example.com": {"X-A": "1"}}
				m.Cc = []email.Address{{AddrSpec: "cc@example.com"}}
			},
		},
		{
			name: "merge data without cc or bcc",
			mod: func(m *email.Message) {
				m.MergeData = map[string]map[string]any{"to@example.com": {"name": "A"}}
			},
			valid: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg := baseMessage()
			tt.mod(msg)

			b := newRecordingBuilder()
			_, err := esp.BuildRequest(context.Background(), b, msg, esp.PayloadOptions{})
			if tt.valid {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, email.ErrUnsupportedFeature)
			// The check fires before any builder work.
			assert.Empty(t, b.calls)
		})
	}
}

func TestBuildRequestReplyToHeaderRelocation(t *testing.T) {
	t.Parallel()

	t.Run("header overrides structured field", func(t *testing.T) {
		t.Parallel()

		msg := baseMessage()
		msg.ReplyTo = []email.Address{{AddrSpec: "structured@example.com"}}
		msg.ExtraHeaders = email.NewHeaders(
			"Reply-To", "header@example.com",
			"X-Custom", "v",
		)

		b := newRecordingBuilder()
		_, err := esp.BuildRequest(context.Background(), b, msg, esp.PayloadOptions{})
		require.NoError(t, err)

		require.Len(t, b.replyTo, 1)
		assert.Equal(t, "header@example.com", b.replyTo[0].AddrSpec)

		// The Reply-To header never reaches the extra-headers setter.
		_, ok := b.headers.Get("Reply-To")
		assert.False(t, ok)
		v, ok := b.headers.Get("X-Custom")
		require.True(t, ok)
		assert.Equal(t, "v", v)
	})

	t.Run("unparseable reply-to header fails", func(t *testing.T) {
		t.Parallel()

		msg := baseMessage()
		msg.ExtraHeaders = email.NewHeaders("Reply-To", "not an address")

		b := newRecordingBuilder()
		_, err := esp.BuildRequest(context.Background(), b, msg, esp.PayloadOptions{})
		require.Error(t, err)
		assert.ErrorIs(t, err, email.ErrInvalidAddress)
	})

	t.Run("original message headers untouched", func(t *testing.T) {
		t.Parallel()

		msg := baseMessage()
		msg.ExtraHeaders = email.NewHeaders("Reply-To", "header@example.com")

		b := newRecordingBuilder()
		_, err := esp.BuildRequest(context.Background(), b, msg, esp.PayloadOptions{})
		require.NoError(t, err)

		_, ok := msg.ExtraHeaders.Get("Reply-To")
		assert.True(t, ok)
	})
}

func TestBuildRequestAlternatives(t *testing.T) {
	t.Parallel()

	t.Run("html alternative becomes second html part", func(t *testing.T) {
		t.Parallel()

		msg := baseMessage()
		msg.HTMLBody = "<p>first</p>"
		msg.Alternatives = []email.Alternative{{Content: "<p>second</p>", ContentType: "text/html"}}

		b := newRecordingBuilder()
		_, err := esp.BuildRequest(context.Background(), b, msg, esp.PayloadOptions{})
		require.Error(t, err)
		assert.ErrorIs(t, err, email.ErrUnsupportedFeature)
		assert.Equal(t, 2, b.htmlSets)
	})

	t.Run("non-html alternative unsupported", func(t *testing.T) {
		t.Parallel()

		msg := baseMessage()
		msg.Alternatives = []email.Alternative{{Content: "calendar", ContentType: "text/calendar"}}

		b := newRecordingBuilder()
		_, err := esp.BuildRequest(context.Background(), b, msg, esp.PayloadOptions{})
		require.Error(t, err)
		assert.ErrorIs(t, err, email.ErrUnsupportedFeature)
	})

	t.Run("non-html alternative skipped in ignore mode", func(t *testing.T) {
		t.Parallel()

		msg := baseMessage()
		msg.Alternatives = []email.Alternative{{Content: "calendar", ContentType: "text/calendar"}}

		b := newRecordingBuilder()
		b.Options.IgnoreUnsupported = true
		_, err := esp.BuildRequest(context.Background(), b, msg, esp.PayloadOptions{IgnoreUnsupported: true})
		require.NoError(t, err)
		assert.Equal(t, 0, b.htmlSets)
	})
}

func TestBuildRequestStubRejectsUnhandledFields(t *testing.T) {
	t.Parallel()

	// The stub defaults fail loudly for any canonical field the builder does
	// not override, so new message fields cannot be dropped silently.
	msg := baseMessage()
	msg.Tags = []string{"tag"}

	b := newRecordingBuilder()
	_, err := esp.BuildRequest(context.Background(), b, msg, esp.PayloadOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, email.ErrUnsupportedFeature)
	assert.Contains(t, err.Error(), "Test does not support tags")

	// Ignore-unsupported mode degrades the same field to a no-op.
	b = newRecordingBuilder()
	b.Options.IgnoreUnsupported = true
	_, err = esp.BuildRequest(context.Background(), b, msg, esp.PayloadOptions{IgnoreUnsupported: true})
	require.NoError(t, err)
}
