package logger

import "log/slog"

// Error records a non-nil error under "error". A nil error yields an empty
// attribute, which slog drops.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Provider records the email service provider name under "esp".
func Provider(name string) slog.Attr {
	return slog.String("esp", name)
}

// MessageID records a provider message id under "message_id".
func MessageID(id string) slog.Attr {
	return slog.String("message_id", id)
}

// Recipient records an addr-spec under "recipient".
func Recipient(addrSpec string) slog.Attr {
	return slog.String("recipient", addrSpec)
}

// Event records a tracking event type under "event".
func Event(eventType string) slog.Attr {
	return slog.String("event", eventType)
}
