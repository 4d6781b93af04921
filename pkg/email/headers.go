package email

import "strings"

// Headers is an ordered header mapping. Keys compare case-insensitively
// (per RFC 5322) but the casing of the first insertion is preserved on the
// wire. The zero value is usable.
type Headers struct {
	order []string          // preserved-case keys, insertion order
	vals  map[string]string // lowercase key -> value
	cases map[string]string // lowercase key -> preserved-case key
}

// NewHeaders builds Headers from alternating key/value pairs, preserving
// order. Panics on an odd number of arguments (programmer error).
func NewHeaders(pairs ...string) Headers {
	if len(pairs)%2 != 0 {
		panic("email.NewHeaders: odd number of arguments")
	}
	var h Headers
	for i := 0; i < len(pairs); i += 2 {
		h.Set(pairs[i], pairs[i+1])
	}
	return h
}

// Set stores a header value. An existing key (any casing) is overwritten in
// place, keeping its original position and casing.
func (h *Headers) Set(key, value string) {
	lk := strings.ToLower(key)
	if h.vals == nil {
		h.vals = make(map[string]string)
		h.cases = make(map[string]string)
	}
	if _, ok := h.vals[lk]; !ok {
		h.order = append(h.order, lk)
		h.cases[lk] = key
	}
	h.vals[lk] = value
}

// Get returns the value for key (case-insensitive) and whether it was set.
func (h Headers) Get(key string) (string, bool) {
	v, ok := h.vals[strings.ToLower(key)]
	return v, ok
}

// Del removes a header (case-insensitive) and returns its value, if any.
func (h *Headers) Del(key string) (string, bool) {
	lk := strings.ToLower(key)
	v, ok := h.vals[lk]
	if !ok {
		return "", false
	}
	delete(h.vals, lk)
	delete(h.cases, lk)
	for i, k := range h.order {
		if k == lk {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	return v, true
}

// Len returns the number of headers.
func (h Headers) Len() int { return len(h.order) }

// Range calls fn for each header in insertion order with the
// case-preserved key. Iteration stops if fn returns false.
func (h Headers) Range(fn func(key, value string) bool) {
	for _, lk := range h.order {
		if !fn(h.cases[lk], h.vals[lk]) {
			return
		}
	}
}

// Map returns the headers as a plain map with case-preserved keys.
func (h Headers) Map() map[string]string {
	if len(h.order) == 0 {
		return nil
	}
	m := make(map[string]string, len(h.order))
	for _, lk := range h.order {
		m[h.cases[lk]] = h.vals[lk]
	}
	return m
}

// Clone returns an independent copy.
func (h Headers) Clone() Headers {
	var c Headers
	h.Range(func(k, v string) bool {
		c.Set(k, v)
		return true
	})
	return c
}
