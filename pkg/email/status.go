package email

import "strings"

// SendStatus is the per-recipient delivery status reported by a provider's
// send response.
type SendStatus string

const (
	StatusQueued    SendStatus = "queued"
	StatusSent      SendStatus = "sent"
	StatusDelivered SendStatus = "delivered"
	StatusBounced   SendStatus = "bounced"
	StatusDeferred  SendStatus = "deferred"
	StatusFailed    SendStatus = "failed"
	StatusRejected  SendStatus = "rejected"
	StatusInvalid   SendStatus = "invalid"
	StatusUnknown   SendStatus = "unknown"
)

// KnownSendStatus reports whether s (case-insensitive) is one of the
// canonical statuses; unrecognized provider values map to StatusUnknown.
func KnownSendStatus(s string) (SendStatus, bool) {
	switch st := SendStatus(strings.ToLower(s)); st {
	case StatusQueued, StatusSent, StatusDelivered, StatusBounced,
		StatusDeferred, StatusFailed, StatusRejected, StatusInvalid, StatusUnknown:
		return st, true
	default:
		return StatusUnknown, false
	}
}

// Refused reports whether the status means the provider did not accept the
// message for this recipient at all.
func (s SendStatus) Refused() bool {
	switch s {
	case StatusFailed, StatusRejected, StatusInvalid:
		return true
	default:
		return false
	}
}

// RecipientStatus is one recipient's outcome from a send attempt.
type RecipientStatus struct {
	// MessageID is the provider-assigned (or locally generated) identifier;
	// empty when the provider supplies none.
	MessageID string
	Status    SendStatus
}

// StatusMap maps recipient addr-specs to their statuses. Lookups are
// case-insensitive; the casing of the first insertion is preserved in Keys.
type StatusMap struct {
	order []string
	vals  map[string]RecipientStatus
	cases map[string]string
}

// NewStatusMap seeds a StatusMap with the given recipient addr-specs all at
// status.
func NewStatusMap(recipients []string, status RecipientStatus) *StatusMap {
	m := &StatusMap{}
	for _, r := range recipients {
		m.Set(r, status)
	}
	return m
}

// Set stores a recipient status, preserving first-seen key casing.
func (m *StatusMap) Set(addrSpec string, status RecipientStatus) {
	lk := strings.ToLower(addrSpec)
	if m.vals == nil {
		m.vals = make(map[string]RecipientStatus)
		m.cases = make(map[string]string)
	}
	if _, ok := m.vals[lk]; !ok {
		m.order = append(m.order, lk)
		m.cases[lk] = addrSpec
	}
	m.vals[lk] = status
}

// Get returns the status for addrSpec (case-insensitive).
func (m *StatusMap) Get(addrSpec string) (RecipientStatus, bool) {
	s, ok := m.vals[strings.ToLower(addrSpec)]
	return s, ok
}

// Len returns the number of recipients recorded.
func (m *StatusMap) Len() int { return len(m.order) }

// Keys returns the recipient addr-specs in insertion order with preserved
// casing.
func (m *StatusMap) Keys() []string {
	keys := make([]string, len(m.order))
	for i, lk := range m.order {
		keys[i] = m.cases[lk]
	}
	return keys
}

// AllRefused reports whether every recorded recipient was refused. Used to
// distinguish "nobody got the mail" from partial failure.
func (m *StatusMap) AllRefused() bool {
	if m.Len() == 0 {
		return false
	}
	for _, s := range m.vals {
		if !s.Status.Refused() {
			return false
		}
	}
	return true
}
