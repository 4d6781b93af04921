package email

import (
	"encoding/base64"
	"mime"
	"strings"
)

// Attachment is a normalized email attachment. Content is held raw; most
// provider APIs want it base64-encoded (see B64Content).
type Attachment struct {
	// Name is the filename; may be empty.
	Name string
	// Content is the raw attachment bytes.
	Content []byte
	// ContentType is the MIME type (e.g. "application/pdf").
	ContentType string
	// Inline marks the attachment as an inline (embedded) part.
	Inline bool
	// ContentID is the Content-ID header value, retained only for inline
	// attachments. May include surrounding angle brackets.
	ContentID string
}

// NewAttachment normalizes a MIME-part-like input into an Attachment.
// Inline is determined from an explicit Content-Disposition when present;
// otherwise a Content-ID implies inline. ContentID is retained only when the
// final inline determination is true.
func NewAttachment(name string, content []byte, contentType, disposition, contentID string) Attachment {
	inline := inferInline(disposition, contentID)
	att := Attachment{
		Name:        name,
		Content:     content,
		ContentType: contentType,
		Inline:      inline,
	}
	if inline {
		att.ContentID = contentID
	}
	return att
}

func inferInline(disposition, contentID string) bool {
	switch strings.ToLower(disposition) {
	case "inline":
		return true
	case "attachment":
		return false
	default:
		return contentID != ""
	}
}

// CID returns the Content-ID with surrounding angle brackets stripped.
func (a Attachment) CID() string {
	return strings.TrimSuffix(strings.TrimPrefix(a.ContentID, "<"), ">")
}

// B64Content returns the attachment content base64-encoded.
func (a Attachment) B64Content() string {
	return base64.StdEncoding.EncodeToString(a.Content)
}

// FilenameOrDefault returns the attachment name, or a generated
// "attachment<ext>" name derived from the content type for providers that
// reject empty filenames. Falls back to defaultName when no extension is
// known for the type.
func (a Attachment) FilenameOrDefault(defaultName string) string {
	if a.Name != "" {
		return a.Name
	}
	if exts, err := mime.ExtensionsByType(a.ContentType); err == nil && len(exts) > 0 {
		return "attachment" + exts[0]
	}
	return defaultName
}
