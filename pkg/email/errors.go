package email

import "errors"

// Package-specific errors. Wrap with fmt.Errorf("%w: ...") to add context;
// callers classify with errors.Is.
var (
	// ErrInvalidAddress is returned when an email address string cannot be
	// parsed as a (relaxed) RFC 5322 name-addr or addr-spec.
	ErrInvalidAddress = errors.New("invalid email address")

	// ErrInvalidConfig is returned when required provider credentials or
	// settings are missing or malformed. Raised before any network activity.
	ErrInvalidConfig = errors.New("invalid provider configuration")

	// ErrUnsupportedFeature is returned when a message requests a capability
	// the target provider cannot express (multiple html parts, merge data
	// combined with cc/bcc, EAI addresses, ...).
	ErrUnsupportedFeature = errors.New("unsupported feature")

	// ErrSerialization is returned when a header, metadata, or esp-extra
	// value cannot be represented in the provider's wire format.
	ErrSerialization = errors.New("value cannot be serialized for provider")
)
