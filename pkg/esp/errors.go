package esp

import (
	"errors"
	"fmt"
)

// Package-specific errors, designed for classification with errors.Is and
// errors.As. Detailed context is wrapped per call site.
var (
	// ErrAPIResponse is the sentinel wrapped by every APIError.
	ErrAPIResponse = errors.New("provider API error")

	// ErrRecipientsRefused is returned when the send succeeded at the
	// transport level but every recipient was rejected by the provider.
	// Partial failure is not an error; per-recipient statuses convey it.
	ErrRecipientsRefused = errors.New("all recipients were refused by the provider")

	// ErrWebhookVerification is returned when an inbound webhook fails its
	// authenticity check (signature, HMAC, or basic auth). Handlers respond
	// with a 400-equivalent and never pass the event through.
	ErrWebhookVerification = errors.New("webhook verification failed")
)

// APIError reports a provider HTTP response that indicates failure, or a
// success response whose body is structurally invalid.
type APIError struct {
	// ESP is the provider name (e.g. "Mailjet").
	ESP string
	// StatusCode is the HTTP status, or 0 when the response never arrived.
	StatusCode int
	// Message describes what went wrong.
	Message string
	// Body is the raw response body (possibly truncated), retained for
	// diagnostics.
	Body []byte
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s API response %d", e.ESP, e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if len(e.Body) > 0 {
		msg += ": " + string(e.Body)
	}
	return msg
}

func (e *APIError) Unwrap() error { return ErrAPIResponse }

const maxErrorBody = 4096

// NewAPIError builds an APIError with the response body attached (truncated
// to a sane excerpt).
func NewAPIError(espName string, resp *Response, message string) *APIError {
	err := &APIError{ESP: espName, Message: message}
	if resp != nil {
		err.StatusCode = resp.StatusCode
		body := resp.Body
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		err.Body = body
	}
	return err
}

// NewResponseFormatError reports a response body that could not be decoded
// as the provider's documented shape.
func NewResponseFormatError(espName string, resp *Response) *APIError {
	return NewAPIError(espName, resp, fmt.Sprintf("Invalid %s API response format", espName))
}
