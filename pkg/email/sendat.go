package email

import "time"

// SendAt is a scheduled send time in one of the shapes callers supply:
// a full timestamp, a date (midnight in a timezone resolved at format time),
// a POSIX timestamp, or a provider-native string passed through unchanged
// (the string form is explicitly not portable between providers).
type SendAt struct {
	t        time.Time
	dateOnly bool
	raw      string
	set      bool
}

// SendAtTime schedules at an exact time. The time's own location is
// authoritative; convert before calling if provider semantics require UTC.
func SendAtTime(t time.Time) SendAt { return SendAt{t: t, set: true} }

// SendAtDate schedules at midnight of the given date. The timezone is
// resolved when a provider formats the value (callers' current timezone).
func SendAtDate(year int, month time.Month, day int) SendAt {
	return SendAt{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), dateOnly: true, set: true}
}

// SendAtUnix schedules at a POSIX timestamp (always UTC).
func SendAtUnix(sec int64) SendAt { return SendAt{t: time.Unix(sec, 0).UTC(), set: true} }

// SendAtString passes a provider-native string through unchanged.
func SendAtString(s string) SendAt { return SendAt{raw: s, set: true} }

// IsZero reports whether no send time was requested.
func (s SendAt) IsZero() bool { return !s.set }

// Raw returns the provider-native string form, if that is how the value was
// supplied.
func (s SendAt) Raw() (string, bool) { return s.raw, s.raw != "" }

// Format renders the value with the given layout. Date-only values are
// interpreted as midnight in loc; timed values keep their own offset.
// Provider-native strings are returned unchanged regardless of layout.
func (s SendAt) Format(layout string, loc *time.Location) string {
	if s.raw != "" {
		return s.raw
	}
	if loc == nil {
		loc = time.Local
	}
	t := s.t
	if s.dateOnly {
		t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	}
	return t.Format(layout)
}

// Time returns the value as a time.Time (midnight in loc for date-only
// values) and whether a non-string value was supplied.
func (s SendAt) Time(loc *time.Location) (time.Time, bool) {
	if !s.set || s.raw != "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	t := s.t
	if s.dateOnly {
		t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	}
	return t, true
}
