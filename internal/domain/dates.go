package domain

import "time"

const DateLayout = "2006-01-02"

// DateOf truncates t to its calendar date, expressed at UTC midnight so that
// dates compare and hash consistently regardless of the source location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today returns the current calendar date in loc.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(now.In(loc))
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, ValidationError{Field: "date", Msg: "expected YYYY-MM-DD", Err: err}
	}
	return t, nil
}
