package inbound_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailbridge/pkg/inbound"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParseRawMIMESimple(t *testing.T) {
	t.Parallel()

	raw := crlf(`From: Sender <from@example.com>
To: to@example.com, Second <two@example.com>
Cc: cc@example.com
Subject: Hello
Message-Id: <abc123@mail.example.com>
Content-Type: text/plain; charset=utf-8

Plain text body.
`)

	msg, err := inbound.ParseRawMIME(raw)
	require.NoError(t, err)

	assert.Equal(t, "Sender", msg.From.DisplayName)
	assert.Equal(t, "from@example.com", msg.From.AddrSpec)
	require.Len(t, msg.To, 2)
	assert.Equal(t, "two@example.com", msg.To[1].AddrSpec)
	require.Len(t, msg.Cc, 1)
	assert.Equal(t, "Hello", msg.Subject)
	assert.Equal(t, "<abc123@mail.example.com>", msg.MessageID())
	assert.Equal(t, "Plain text body.\r\n", msg.TextBody)
	assert.Empty(t, msg.HTMLBody)
}

func TestParseRawMIMEMultipartAlternative(t *testing.T) {
	t.Parallel()

	raw := crlf(`From: from@example.com
To: to@example.com
Subject: Multipart
Content-Type: multipart/alternative; boundary="outer"

--outer
Content-Type: text/plain; charset=utf-8

text part
--outer
Content-Type: text/html; charset=utf-8

<p>html part</p>
--outer--
`)

	msg, err := inbound.ParseRawMIME(raw)
	require.NoError(t, err)
	assert.Equal(t, "text part", msg.TextBody)
	assert.Equal(t, "<p>html part</p>", msg.HTMLBody)
	assert.Empty(t, msg.Attachments)
}

func TestParseRawMIMEAttachments(t *testing.T) {
	t.Parallel()

	raw := crlf(`From: from@example.com
To: to@example.com
Subject: With attachments
Content-Type: multipart/mixed; boundary="outer"

--outer
Content-Type: text/plain; charset=utf-8

body
--outer
Content-Type: application/pdf
Content-Disposition: attachment; filename="report.pdf"
Content-Transfer-Encoding: base64

aGVsbG8gcGRm
--outer
Content-Type: image/png
Content-Disposition: inline
Content-Id: <logo>
Content-Transfer-Encoding: base64

aW1hZ2U=
--outer--
`)

	msg, err := inbound.ParseRawMIME(raw)
	require.NoError(t, err)
	assert.Equal(t, "body", msg.TextBody)
	require.Len(t, msg.Attachments, 2)

	pdf := msg.Attachments[0]
	assert.Equal(t, "report.pdf", pdf.Name)
	assert.Equal(t, "application/pdf", pdf.ContentType)
	assert.Equal(t, []byte("hello pdf"), pdf.Content)
	assert.False(t, pdf.Inline)

	logo := msg.Attachments[1]
	assert.True(t, logo.Inline)
	assert.Equal(t, "logo", logo.CID())
	assert.Equal(t, []byte("image"), logo.Content)

	inl := msg.InlineAttachments()
	require.Len(t, inl, 1)
	assert.Equal(t, "logo", inl[0].CID())
}

func TestParseRawMIMEQuotedPrintable(t *testing.T) {
	t.Parallel()

	raw := crlf(`From: from@example.com
To: to@example.com
Subject: =?utf-8?q?Kl=C3=A4mtest?=
Content-Type: text/plain; charset=iso-8859-1
Content-Transfer-Encoding: quoted-printable

caf=E9
`)

	msg, err := inbound.ParseRawMIME(raw)
	require.NoError(t, err)
	assert.Equal(t, "Klämtest", msg.Subject)
	assert.Equal(t, "café\r\n", msg.TextBody)
}

func TestParseRawMIMEBase64WrappedBody(t *testing.T) {
	t.Parallel()

	// Base64 bodies arrive wrapped at 76 columns; the decoder must tolerate
	// the embedded line breaks.
	raw := crlf(`From: from@example.com
To: to@example.com
Subject: Base64
Content-Type: text/plain; charset=utf-8
Content-Transfer-Encoding: base64

aGVsbG8g
d29ybGQ=
`)

	msg, err := inbound.ParseRawMIME(raw)
	require.NoError(t, err)
	assert.Equal(t, "hello world", msg.TextBody)
}

func TestParseRawMIMENestedMultipart(t *testing.T) {
	t.Parallel()

	raw := crlf(`From: from@example.com
To: to@example.com
Subject: Nested
Content-Type: multipart/mixed; boundary="outer"

--outer
Content-Type: multipart/alternative; boundary="inner"

--inner
Content-Type: text/plain

text
--inner
Content-Type: text/html

<p>html</p>
--inner--
--outer
Content-Type: text/csv
Content-Disposition: attachment; filename="data.csv"

a,b
--outer--
`)

	msg, err := inbound.ParseRawMIME(raw)
	require.NoError(t, err)
	assert.Equal(t, "text", msg.TextBody)
	assert.Equal(t, "<p>html</p>", msg.HTMLBody)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "data.csv", msg.Attachments[0].Name)
}

func TestParseRawMIMEInvalid(t *testing.T) {
	t.Parallel()

	_, err := inbound.ParseRawMIME([]byte("not a mime message"))
	require.Error(t, err)
}

func TestFromFields(t *testing.T) {
	t.Parallel()

	headers := "From: Sender <from@example.com>\nTo: to@example.com\nSubject: =?utf-8?q?Kl=C3=A4mtest?=\nMessage-Id: <id-1@example.com>"

	msg, err := inbound.FromFields(headers, "text body", "<p>html</p>", nil)
	require.NoError(t, err)

	assert.Equal(t, "from@example.com", msg.From.AddrSpec)
	assert.Equal(t, "Klämtest", msg.Subject)
	assert.Equal(t, "<id-1@example.com>", msg.MessageID())
	assert.Equal(t, "text body", msg.TextBody)
	assert.Equal(t, "<p>html</p>", msg.HTMLBody)
}

func TestFromFieldsNoHeaders(t *testing.T) {
	t.Parallel()

	msg, err := inbound.FromFields("", "text", "", nil)
	require.NoError(t, err)
	assert.Empty(t, msg.MessageID())
	assert.True(t, msg.From.IsZero())
	assert.Equal(t, "text", msg.TextBody)
}

func TestDecodeCharset(t *testing.T) {
	t.Parallel()

	got, err := inbound.DecodeCharset([]byte{0x63, 0x61, 0x66, 0xE9}, "iso-8859-1")
	require.NoError(t, err)
	assert.Equal(t, "café", got)

	// UTF-8 and unknown charsets pass through unchanged.
	got, err = inbound.DecodeCharset([]byte("plain"), "utf-8")
	require.NoError(t, err)
	assert.Equal(t, "plain", got)

	got, err = inbound.DecodeCharset([]byte("plain"), "x-unknown-charset")
	require.NoError(t, err)
	assert.Equal(t, "plain", got)
}
