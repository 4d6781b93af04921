package email_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailbridge/pkg/email"
)

func TestKnownSendStatus(t *testing.T) {
	t.Parallel()

	st, ok := email.KnownSendStatus("Queued")
	assert.True(t, ok)
	assert.Equal(t, email.StatusQueued, st)

	st, ok = email.KnownSendStatus("blocked")
	assert.False(t, ok)
	assert.Equal(t, email.StatusUnknown, st)
}

func TestSendStatusRefused(t *testing.T) {
	t.Parallel()

	assert.True(t, email.StatusFailed.Refused())
	assert.True(t, email.StatusRejected.Refused())
	assert.True(t, email.StatusInvalid.Refused())
	assert.False(t, email.StatusQueued.Refused())
	assert.False(t, email.StatusBounced.Refused())
	assert.False(t, email.StatusUnknown.Refused())
}

func TestStatusMap(t *testing.T) {
	t.Parallel()

	m := email.NewStatusMap(
		[]string{"One@example.com", "two@example.com"},
		email.RecipientStatus{Status: email.StatusQueued},
	)

	require.Equal(t, 2, m.Len())
	assert.Equal(t, []string{"One@example.com", "two@example.com"}, m.Keys())

	// Lookups compare case-insensitively; first-seen casing sticks.
	got, ok := m.Get("one@EXAMPLE.com")
	require.True(t, ok)
	assert.Equal(t, email.StatusQueued, got.Status)

	m.Set("ONE@example.com", email.RecipientStatus{MessageID: "abc", Status: email.StatusSent})
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, []string{"One@example.com", "two@example.com"}, m.Keys())
	got, _ = m.Get("one@example.com")
	assert.Equal(t, "abc", got.MessageID)
}

func TestStatusMapAllRefused(t *testing.T) {
	t.Parallel()

	t.Run("empty map is not refused", func(t *testing.T) {
		t.Parallel()

		m := &email.StatusMap{}
		assert.False(t, m.AllRefused())
	})

	t.Run("every recipient refused", func(t *testing.T) {
		t.Parallel()

		m := &email.StatusMap{}
		m.Set("one@example.com", email.RecipientStatus{Status: email.StatusRejected})
		m.Set("two@example.com", email.RecipientStatus{Status: email.StatusInvalid})
		assert.True(t, m.AllRefused())
	})

	t.Run("partial failure is not all refused", func(t *testing.T) {
		t.Parallel()

		m := &email.StatusMap{}
		m.Set("one@example.com", email.RecipientStatus{Status: email.StatusRejected})
		m.Set("two@example.com", email.RecipientStatus{Status: email.StatusQueued})
		assert.False(t, m.AllRefused())
	})
}
