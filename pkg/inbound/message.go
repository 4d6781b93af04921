package inbound

import (
	"net/mail"
	"strings"

	"github.com/dmitrymomot/mailbridge/pkg/email"
)

// Message is a structured inbound email recovered from a provider's inbound
// webhook, either by parsing raw MIME bytes or by reassembly from the
// provider's pre-parsed fields.
type Message struct {
	// Headers holds all message headers (canonical MIME key -> values).
	Headers mail.Header
	From    email.Address
	To      []email.Address
	Cc      []email.Address
	Subject string

	TextBody string
	HTMLBody string

	Attachments []email.Attachment

	// EnvelopeSender and EnvelopeRecipient come from the SMTP envelope when
	// the provider reports it; they may differ from the header addresses.
	EnvelopeSender    string
	EnvelopeRecipient string

	// SpamDetected and SpamScore are the provider's spam verdict, when
	// available. Nil means the provider did not report one.
	SpamDetected *bool
	SpamScore    *float64
}

// MessageID returns the Message-ID header value, if present.
func (m *Message) MessageID() string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers.Get("Message-Id")
}

// InlineAttachments returns only the inline (embedded) attachments.
func (m *Message) InlineAttachments() []email.Attachment {
	var out []email.Attachment
	for _, att := range m.Attachments {
		if att.Inline {
			out = append(out, att)
		}
	}
	return out
}

// FromFields reassembles a Message from separately provided fields, the
// fallback path for providers that do not offer raw MIME. rawHeaders is the
// provider's verbatim header block ("From: ...\nTo: ...\n"); address fields
// and the subject are recovered from it.
func FromFields(rawHeaders, text, html string, attachments []email.Attachment) (*Message, error) {
	msg := &Message{
		TextBody:    text,
		HTMLBody:    html,
		Attachments: attachments,
	}
	if rawHeaders != "" {
		// net/mail requires a blank line after the header block.
		parsed, err := mail.ReadMessage(strings.NewReader(normalizeHeaderBlock(rawHeaders) + "\r\n"))
		if err != nil {
			return nil, err
		}
		msg.Headers = parsed.Header
		msg.Subject = decodeHeader(parsed.Header.Get("Subject"))
		msg.From = parseFirstAddress(parsed.Header.Get("From"))
		msg.To = parseAddresses(parsed.Header.Get("To"))
		msg.Cc = parseAddresses(parsed.Header.Get("Cc"))
	}
	return msg, nil
}

func normalizeHeaderBlock(raw string) string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.TrimRight(raw, "\n")
	return strings.ReplaceAll(raw, "\n", "\r\n") + "\r\n"
}

func parseFirstAddress(header string) email.Address {
	addrs := parseAddresses(header)
	if len(addrs) == 0 {
		return email.Address{}
	}
	return addrs[0]
}

func parseAddresses(header string) []email.Address {
	if strings.TrimSpace(header) == "" {
		return nil
	}
	parsed, err := mail.ParseAddressList(header)
	if err != nil {
		return nil
	}
	out := make([]email.Address, 0, len(parsed))
	for _, a := range parsed {
		out = append(out, email.Address{DisplayName: a.Name, AddrSpec: a.Address})
	}
	return out
}
