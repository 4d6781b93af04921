package inbound

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"

	"golang.org/x/text/encoding/ianaindex"

	"github.com/dmitrymomot/mailbridge/pkg/email"
)

// ParseRawMIME parses raw RFC 5322 message bytes into a structured Message.
// It handles nested multipart bodies, base64 and quoted-printable transfer
// encodings, and non-UTF-8 text charsets. This is the preferred inbound path:
// providers that hand over the full MIME source spare us re-deriving their
// field-splitting and encoding edge cases.
func ParseRawMIME(raw []byte) (*Message, error) {
	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing raw mime: %w", err)
	}

	msg := &Message{
		Headers: parsed.Header,
		Subject: decodeHeader(parsed.Header.Get("Subject")),
		From:    parseFirstAddress(parsed.Header.Get("From")),
		To:      parseAddresses(parsed.Header.Get("To")),
		Cc:      parseAddresses(parsed.Header.Get("Cc")),
	}

	contentType := parsed.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Unparseable content type: treat the whole body as plain text.
		body, readErr := io.ReadAll(parsed.Body)
		if readErr != nil {
			return nil, fmt.Errorf("reading message body: %w", readErr)
		}
		msg.TextBody = string(body)
		return msg, nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message missing boundary")
		}
		if err := parseMultipart(parsed.Body, boundary, msg); err != nil {
			return nil, err
		}
		return msg, nil
	}

	body, err := decodeBody(parsed.Body, parsed.Header.Get("Content-Transfer-Encoding"), params["charset"])
	if err != nil {
		return nil, err
	}
	switch mediaType {
	case "text/html":
		msg.HTMLBody = string(body)
	default:
		msg.TextBody = string(body)
	}
	return msg, nil
}

func parseMultipart(body io.Reader, boundary string, msg *Message) error {
	reader := multipart.NewReader(body, boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading mime part: %w", err)
		}
		if err := parsePart(part, msg); err != nil {
			return err
		}
	}
}

func parsePart(part *multipart.Part, msg *Message) error {
	contentType := part.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Skip parts with a broken content type rather than failing the
		// whole message.
		return nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil
		}
		return parseMultipart(part, boundary, msg)
	}

	disposition := partDisposition(part.Header)
	contentID := part.Header.Get("Content-Id")
	isBody := disposition != "attachment" && contentID == "" &&
		(mediaType == "text/plain" || mediaType == "text/html")

	content, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"), charsetFor(isBody, params))
	if err != nil {
		return err
	}

	if isBody {
		switch mediaType {
		case "text/plain":
			if msg.TextBody == "" {
				msg.TextBody = string(content)
			}
		case "text/html":
			if msg.HTMLBody == "" {
				msg.HTMLBody = string(content)
			}
		}
		return nil
	}

	msg.Attachments = append(msg.Attachments,
		email.NewAttachment(partFilename(part, params), content, mediaType, disposition, contentID))
	return nil
}

// charsetFor only transcodes displayable text bodies; attachment bytes are
// kept verbatim.
func charsetFor(isBody bool, params map[string]string) string {
	if !isBody {
		return ""
	}
	return params["charset"]
}

func partDisposition(header textproto.MIMEHeader) string {
	raw := header.Get("Content-Disposition")
	if raw == "" {
		return ""
	}
	disposition, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return ""
	}
	return disposition
}

func partFilename(part *multipart.Part, ctParams map[string]string) string {
	if name := part.FileName(); name != "" {
		return decodeHeader(name)
	}
	return decodeHeader(ctParams["name"])
}

// decodeBody reads a part, reversing the transfer encoding and converting
// text in a declared non-UTF-8 charset to UTF-8.
func decodeBody(r io.Reader, transferEncoding, charset string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, newWhitespaceStripper(r))
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decoding mime part: %w", err)
	}
	return convertCharset(content, charset)
}

// DecodeCharset transcodes content from the named IANA charset to UTF-8.
// Webhook parsers use it for form fields whose charset is declared out of
// band rather than in a MIME header.
func DecodeCharset(content []byte, charset string) (string, error) {
	decoded, err := convertCharset(content, charset)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// convertCharset transcodes content from the declared charset to UTF-8,
// passing unknown charsets through unchanged.
func convertCharset(content []byte, charset string) ([]byte, error) {
	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset == "" || charset == "utf-8" || charset == "us-ascii" {
		return content, nil
	}
	enc, err := ianaindex.IANA.Encoding(charset)
	if err != nil || enc == nil {
		return content, nil
	}
	decoded, err := enc.NewDecoder().Bytes(content)
	if err != nil {
		return content, nil
	}
	return decoded, nil
}

var headerDecoder = mime.WordDecoder{
	CharsetReader: func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := ianaindex.IANA.Encoding(charset)
		if err != nil || enc == nil {
			return nil, fmt.Errorf("unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	},
}

// decodeHeader reverses RFC 2047 encoded-words in a header value, falling
// back to the raw value on malformed input.
func decodeHeader(value string) string {
	decoded, err := headerDecoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

// whitespaceStripper removes the line breaks base64 bodies are wrapped with.
type whitespaceStripper struct {
	r io.Reader
}

func newWhitespaceStripper(r io.Reader) io.Reader { return &whitespaceStripper{r: r} }

func (w *whitespaceStripper) Read(p []byte) (int, error) {
	buf := make([]byte, len(p))
	for {
		n, err := w.r.Read(buf)
		j := 0
		for i := 0; i < n; i++ {
			switch buf[i] {
			case '\r', '\n', ' ', '\t':
			default:
				p[j] = buf[i]
				j++
			}
		}
		if j > 0 || err != nil {
			return j, err
		}
	}
}
