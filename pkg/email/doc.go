// Package email defines the canonical, provider-agnostic email model shared
// by all ESP adapters: parsed addresses, normalized attachments, the outbound
// Message snapshot, and per-recipient send statuses.
//
// Address parsing accepts free-form RFC 5322 strings (including
// internationalized mailboxes and domains) and fails fast with
// ErrInvalidAddress on malformed input. Formatting back to wire strings
// supports quoted display names, RFC 2047 encoded-words, and IDNA domain
// encoding — each applied only where a specific provider needs it.
//
// The Message type is an immutable snapshot consumed by provider payload
// builders (see pkg/esp). Tri-state options like TrackOpens use *bool so the
// wire field can be omitted entirely when unset, preserving account-level
// provider defaults.
package email
