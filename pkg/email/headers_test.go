package email_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailbridge/pkg/email"
)

func TestHeadersCaseInsensitive(t *testing.T) {
	t.Parallel()

	var h email.Headers
	h.Set("X-Custom", "first")

	got, ok := h.Get("x-custom")
	require.True(t, ok)
	assert.Equal(t, "first", got)

	// Overwriting under a different casing keeps the original casing.
	h.Set("X-CUSTOM", "second")
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, map[string]string{"X-Custom": "second"}, h.Map())
}

func TestHeadersOrder(t *testing.T) {
	t.Parallel()

	h := email.NewHeaders(
		"X-First", "1",
		"X-Second", "2",
		"X-Third", "3",
	)

	var keys []string
	h.Range(func(k, _ string) bool {
		keys = append(keys, k)
		return true
	})
	assert.Equal(t, []string{"X-First", "X-Second", "X-Third"}, keys)

	// Overwrite keeps position.
	h.Set("x-second", "updated")
	keys = keys[:0]
	h.Range(func(k, v string) bool {
		keys = append(keys, k)
		return true
	})
	assert.Equal(t, []string{"X-First", "X-Second", "X-Third"}, keys)
	v, _ := h.Get("X-Second")
	assert.Equal(t, "updated", v)
}

func TestHeadersDel(t *testing.T) {
	t.Parallel()

	h := email.NewHeaders("Reply-To", "one@example.com", "X-Other", "v")

	v, ok := h.Del("reply-to")
	require.True(t, ok)
	assert.Equal(t, "one@example.com", v)
	assert.Equal(t, 1, h.Len())

	_, ok = h.Del("Reply-To")
	assert.False(t, ok)
}

func TestHeadersClone(t *testing.T) {
	t.Parallel()

	h := email.NewHeaders("X-A", "1")
	c := h.Clone()
	c.Set("X-B", "2")

	assert.Equal(t, 1, h.Len())
	assert.Equal(t, 2, c.Len())
}

func TestHeadersZeroValue(t *testing.T) {
	t.Parallel()

	var h email.Headers
	assert.Equal(t, 0, h.Len())
	assert.Nil(t, h.Map())
	_, ok := h.Get("anything")
	assert.False(t, ok)
}
