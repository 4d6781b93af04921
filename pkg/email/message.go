package email

// Message is the canonical, provider-agnostic representation of an outbound
// email and its sending options. It is built once per send and treated as an
// immutable snapshot by the provider payload builders.
type Message struct {
	From           Address
	EnvelopeSender string // bounce address (addr-spec); most providers reject it
	To             []Address
	Cc             []Address
	Bcc            []Address
	Subject        string
	TextBody       string
	HTMLBody       string
	// Alternatives carries additional MIME alternatives beyond TextBody and
	// HTMLBody. At most one text/html alternative is allowed in total; a
	// second one (or any non-html alternative) is an unsupported feature for
	// every provider that declares single-html support.
	Alternatives []Alternative
	ReplyTo      []Address
	ExtraHeaders Headers
	Attachments  []Attachment
	Tags         []string
	// Metadata values are coerced to their wire representation per provider;
	// values that cannot be serialized raise ErrSerialization.
	Metadata map[string]any
	// MergeData maps recipient addr-spec -> per-recipient substitution data.
	// Only valid for pure multi-to sends: combining it with cc or bcc is an
	// unsupported feature on every provider.
	MergeData       map[string]map[string]any
	MergeGlobalData map[string]any
	// MergeMetadata maps recipient addr-spec -> per-recipient metadata,
	// combined with the base Metadata at build time.
	MergeMetadata map[string]map[string]any
	// MergeHeaders maps recipient addr-spec -> per-recipient header
	// overrides.
	MergeHeaders map[string]map[string]string
	TemplateID   string
	// TrackOpens and TrackClicks are tri-state: nil means "unset" and the
	// corresponding wire field must be omitted entirely so the provider's
	// account-level default applies.
	TrackOpens  *bool
	TrackClicks *bool
	SendAt      SendAt
	// ESPExtra is an opaque provider-specific override mapping, deep-merged
	// into the computed wire body as the final build step. It wins on
	// conflict except for fields a provider's builder documents as withheld.
	ESPExtra map[string]any
}

// Alternative is an extra MIME alternative part.
type Alternative struct {
	Content     string
	ContentType string
}

// Recipients returns to, cc, and bcc concatenated in that order. Order is
// significant: several providers return one message id per recipient in
// exactly this order.
func (m *Message) Recipients() []Address {
	out := make([]Address, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	out = append(out, m.Bcc...)
	return out
}

// HasMergeData reports whether any per-recipient merge fields are set.
func (m *Message) HasMergeData() bool {
	return len(m.MergeData) > 0 || len(m.MergeMetadata) > 0 || len(m.MergeHeaders) > 0
}

// Bool is a convenience for building the tri-state tracking fields.
func Bool(v bool) *bool { return &v }
