package esp

import "github.com/dmitrymomot/mailbridge/pkg/email"

// PayloadStub provides default PayloadBuilder setter implementations that
// report each field as unsupported. Provider payloads embed it and override
// only the setters their API can express, so an unhandled canonical field
// fails loudly instead of being dropped on the floor.
type PayloadStub struct {
	PayloadBase
}

func (p *PayloadStub) SetFrom(email.Address) error { return p.Unsupported("from_email") }

func (p *PayloadStub) SetEnvelopeSender(string) error { return p.Unsupported("envelope_sender") }

func (p *PayloadStub) SetRecipients(kind RecipientType, _ []email.Address) error {
	return p.Unsupported(string(kind) + " recipients")
}

func (p *PayloadStub) SetSubject(string) error { return p.Unsupported("subject") }

func (p *PayloadStub) SetReplyTo([]email.Address) error { return p.Unsupported("reply_to") }

func (p *PayloadStub) SetExtraHeaders(email.Headers) error { return p.Unsupported("extra_headers") }

func (p *PayloadStub) SetTextBody(string) error { return p.Unsupported("text body") }

func (p *PayloadStub) SetHTMLBody(string) error { return p.Unsupported("html body") }

func (p *PayloadStub) AddAttachment(email.Attachment) error { return p.Unsupported("attachments") }

func (p *PayloadStub) SetMetadata(map[string]any) error { return p.Unsupported("metadata") }

func (p *PayloadStub) SetSendAt(email.SendAt) error { return p.Unsupported("send_at") }

func (p *PayloadStub) SetTags([]string) error { return p.Unsupported("tags") }

func (p *PayloadStub) SetTrackOpens(bool) error { return p.Unsupported("track_opens") }

func (p *PayloadStub) SetTrackClicks(bool) error { return p.Unsupported("track_clicks") }

func (p *PayloadStub) SetTemplateID(string) error { return p.Unsupported("template_id") }

func (p *PayloadStub) SetMergeData(map[string]map[string]any) error {
	return p.Unsupported("merge_data")
}

func (p *PayloadStub) SetMergeGlobalData(map[string]any) error {
	return p.Unsupported("merge_global_data")
}

func (p *PayloadStub) SetMergeMetadata(map[string]map[string]any) error {
	return p.Unsupported("merge_metadata")
}

func (p *PayloadStub) SetMergeHeaders(map[string]map[string]string) error {
	return p.Unsupported("merge_headers")
}
