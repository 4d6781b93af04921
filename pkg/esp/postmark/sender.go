// Package postmark adapts the canonical message model to Postmark's
// transactional API via the Postmark SDK, which owns its own HTTP transport.
package postmark

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mrz1836/postmark"

	"github.com/dmitrymomot/mailbridge/pkg/email"
	"github.com/dmitrymomot/mailbridge/pkg/esp"
)

const espName = "Postmark"

// Postmark error codes that indicate refused recipients rather than a
// malformed request.
const (
	errorCodeInvalidEmail      = 300
	errorCodeInactiveRecipient = 406
)

// Config holds Postmark credentials.
type Config struct {
	ServerToken  string `env:"POSTMARK_SERVER_TOKEN,required"`
	AccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
}

// Sender sends canonical messages through Postmark.
type Sender struct {
	client *postmark.Client
	opts   esp.PayloadOptions
}

// New creates a Postmark sender.
func New(cfg Config, opts esp.PayloadOptions) (*Sender, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("%w: Postmark ServerToken is required", email.ErrInvalidConfig)
	}
	return &Sender{
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		opts:   opts,
	}, nil
}

// Send maps the message onto a Postmark email and submits it. All recipients
// share the returned message id; Postmark reports one id per submission.
func (s *Sender) Send(ctx context.Context, msg *email.Message) (*email.StatusMap, error) {
	pm, err := s.buildEmail(msg)
	if err != nil {
		return nil, err
	}

	var resp postmark.EmailResponse
	if templateID, ok := templateIDOf(msg); ok {
		model := map[string]any{}
		for k, v := range msg.MergeGlobalData {
			model[k] = v
		}
		metadata := map[string]any{}
		for k, v := range pm.Metadata {
			metadata[k] = v
		}
		tresp, terr := s.client.SendTemplatedEmail(ctx, postmark.TemplatedEmail{
			TemplateID:    templateID,
			TemplateModel: model,
			From:          pm.From,
			To:            pm.To,
			Cc:            pm.Cc,
			Bcc:           pm.Bcc,
			ReplyTo:       pm.ReplyTo,
			Tag:           pm.Tag,
			TrackOpens:    pm.TrackOpens,
			TrackLinks:    pm.TrackLinks,
			Headers:       pm.Headers,
			Attachments:   pm.Attachments,
			Metadata:      metadata,
		})
		resp, err = tresp, terr
	} else {
		resp, err = s.client.SendEmail(ctx, pm)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: Postmark: %v", esp.ErrAPIResponse, err)
	}

	recipients := make([]string, 0, len(msg.Recipients()))
	for _, addr := range msg.Recipients() {
		recipients = append(recipients, addr.AddrSpec)
	}

	switch resp.ErrorCode {
	case 0:
		return email.NewStatusMap(recipients, email.RecipientStatus{
			MessageID: resp.MessageID,
			Status:    email.StatusSent,
		}), nil
	case errorCodeInvalidEmail:
		statuses := email.NewStatusMap(recipients, email.RecipientStatus{Status: email.StatusInvalid})
		return statuses, fmt.Errorf("%w (%s)", esp.ErrRecipientsRefused, espName)
	case errorCodeInactiveRecipient:
		statuses := email.NewStatusMap(recipients, email.RecipientStatus{Status: email.StatusRejected})
		return statuses, fmt.Errorf("%w (%s)", esp.ErrRecipientsRefused, espName)
	default:
		return nil, fmt.Errorf("%w: Postmark error %d: %s", esp.ErrAPIResponse, resp.ErrorCode, resp.Message)
	}
}

func (s *Sender) buildEmail(msg *email.Message) (postmark.Email, error) {
	unsupported := func(feature string) error {
		if s.opts.IgnoreUnsupported {
			return nil
		}
		return fmt.Errorf("%w: %s does not support %s", email.ErrUnsupportedFeature, espName, feature)
	}

	pm := postmark.Email{
		From:     msg.From.String(),
		To:       joinAddresses(msg.To),
		Cc:       joinAddresses(msg.Cc),
		Bcc:      joinAddresses(msg.Bcc),
		Subject:  msg.Subject,
		TextBody: msg.TextBody,
		HTMLBody: msg.HTMLBody,
		ReplyTo:  joinAddresses(msg.ReplyTo),
	}

	if msg.EnvelopeSender != "" {
		if err := unsupported("envelope_sender"); err != nil {
			return pm, err
		}
	}
	if len(msg.Alternatives) > 0 {
		if err := unsupported("alternative message parts"); err != nil {
			return pm, err
		}
	}
	if msg.HasMergeData() {
		if err := unsupported("per-recipient merge data"); err != nil {
			return pm, err
		}
	}
	if !msg.SendAt.IsZero() {
		if err := unsupported("send_at"); err != nil {
			return pm, err
		}
	}

	switch len(msg.Tags) {
	case 0:
	case 1:
		pm.Tag = msg.Tags[0]
	default:
		if err := unsupported("multiple tags"); err != nil {
			return pm, err
		}
		pm.Tag = msg.Tags[0]
	}

	msg.ExtraHeaders.Range(func(key, value string) bool {
		pm.Headers = append(pm.Headers, postmark.Header{Name: key, Value: value})
		return true
	})

	if len(msg.Metadata) > 0 {
		pm.Metadata = make(map[string]string, len(msg.Metadata))
		for k, v := range msg.Metadata {
			pm.Metadata[k] = fmt.Sprint(v)
		}
	}

	for _, att := range msg.Attachments {
		entry := postmark.Attachment{
			Name:        att.Name,
			Content:     att.B64Content(),
			ContentType: att.ContentType,
		}
		if att.Inline {
			entry.ContentID = "cid:" + att.CID()
		}
		pm.Attachments = append(pm.Attachments, entry)
	}

	if msg.TrackOpens != nil {
		pm.TrackOpens = *msg.TrackOpens
	}
	if msg.TrackClicks != nil {
		if *msg.TrackClicks {
			pm.TrackLinks = "HtmlAndText"
		} else {
			pm.TrackLinks = "None"
		}
	}

	return pm, nil
}

func templateIDOf(msg *email.Message) (int64, bool) {
	if msg.TemplateID == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(msg.TemplateID, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func joinAddresses(addrs []email.Address) string {
	if len(addrs) == 0 {
		return ""
	}
	formatted := make([]string, len(addrs))
	for i, a := range addrs {
		formatted[i] = a.String()
	}
	return strings.Join(formatted, ", ")
}
