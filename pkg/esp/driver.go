package esp

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrymomot/mailbridge/pkg/email"
)

// BuildRequest drives a payload builder over a canonical message in fixed
// dependency order (recipients before merge data, esp_extra last) and
// finalizes the wire request. It enforces the invariants that hold across
// every provider; provider-specific quirks live in the builders.
func BuildRequest(ctx context.Context, b PayloadBuilder, msg *email.Message, opts PayloadOptions) (*Request, error) {
	// Per-recipient merge fields require the pure multi-to shape: a single
	// batch send cannot also carry literal cc/bcc headers. This holds for
	// every provider and is never degradable.
	if msg.HasMergeData() && (len(msg.Cc) > 0 || len(msg.Bcc) > 0) {
		return nil, fmt.Errorf("%w: merge data cannot be combined with cc or bcc recipients",
			email.ErrUnsupportedFeature)
	}

	if !msg.From.IsZero() {
		if err := b.SetFrom(msg.From); err != nil {
			return nil, err
		}
	}
	if msg.EnvelopeSender != "" {
		if err := b.SetEnvelopeSender(msg.EnvelopeSender); err != nil {
			return nil, err
		}
	}
	for _, rcpt := range []struct {
		kind  RecipientType
		addrs []email.Address
	}{
		{RecipientTo, msg.To},
		{RecipientCc, msg.Cc},
		{RecipientBcc, msg.Bcc},
	} {
		if len(rcpt.addrs) == 0 {
			continue
		}
		if err := b.SetRecipients(rcpt.kind, rcpt.addrs); err != nil {
			return nil, err
		}
	}
	if msg.Subject != "" {
		if err := b.SetSubject(msg.Subject); err != nil {
			return nil, err
		}
	}

	headers := msg.ExtraHeaders.Clone()
	replyTo := msg.ReplyTo
	// A Reply-To extra header overrides the structured reply_to field; the
	// builders only ever see the structured form.
	if raw, ok := headers.Del("Reply-To"); ok {
		parsed, err := email.ParseAddressList([]string{raw})
		if err != nil {
			return nil, err
		}
		replyTo = parsed
	}
	if len(replyTo) > 0 {
		if err := b.SetReplyTo(replyTo); err != nil {
			return nil, err
		}
	}
	if headers.Len() > 0 {
		if err := b.SetExtraHeaders(headers); err != nil {
			return nil, err
		}
	}

	if msg.TextBody != "" {
		if err := b.SetTextBody(msg.TextBody); err != nil {
			return nil, err
		}
	}
	if msg.HTMLBody != "" {
		if err := b.SetHTMLBody(msg.HTMLBody); err != nil {
			return nil, err
		}
	}
	for _, alt := range msg.Alternatives {
		if !strings.EqualFold(alt.ContentType, "text/html") {
			if opts.IgnoreUnsupported {
				continue
			}
			return nil, fmt.Errorf("%w: alternative part with type %q",
				email.ErrUnsupportedFeature, alt.ContentType)
		}
		// The builder's html setter detects a second html part itself.
		if err := b.SetHTMLBody(alt.Content); err != nil {
			return nil, err
		}
	}

	for _, att := range msg.Attachments {
		if err := b.AddAttachment(att); err != nil {
			return nil, err
		}
	}
	if len(msg.Metadata) > 0 {
		if err := b.SetMetadata(msg.Metadata); err != nil {
			return nil, err
		}
	}
	if !msg.SendAt.IsZero() {
		if err := b.SetSendAt(msg.SendAt); err != nil {
			return nil, err
		}
	}
	if len(msg.Tags) > 0 {
		if err := b.SetTags(msg.Tags); err != nil {
			return nil, err
		}
	}
	// Tri-state tracking flags: never called when unset, so the wire field
	// stays absent and the provider's account default applies.
	if msg.TrackOpens != nil {
		if err := b.SetTrackOpens(*msg.TrackOpens); err != nil {
			return nil, err
		}
	}
	if msg.TrackClicks != nil {
		if err := b.SetTrackClicks(*msg.TrackClicks); err != nil {
			return nil, err
		}
	}
	if msg.TemplateID != "" {
		if err := b.SetTemplateID(msg.TemplateID); err != nil {
			return nil, err
		}
	}
	if len(msg.MergeData) > 0 {
		if err := b.SetMergeData(msg.MergeData); err != nil {
			return nil, err
		}
	}
	if len(msg.MergeGlobalData) > 0 {
		if err := b.SetMergeGlobalData(msg.MergeGlobalData); err != nil {
			return nil, err
		}
	}
	if len(msg.MergeMetadata) > 0 {
		if err := b.SetMergeMetadata(msg.MergeMetadata); err != nil {
			return nil, err
		}
	}
	if len(msg.MergeHeaders) > 0 {
		if err := b.SetMergeHeaders(msg.MergeHeaders); err != nil {
			return nil, err
		}
	}
	if len(msg.ESPExtra) > 0 {
		if err := b.SetESPExtra(msg.ESPExtra); err != nil {
			return nil, err
		}
	}

	return b.Finalize(ctx)
}
