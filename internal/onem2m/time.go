package onem2m

import (
	"fmt"
	"time"
)

// timestampLayout is the oneM2M basic-format timestamp used for ct, lt, et
// and the request timing fields. Always UTC.
const timestampLayout = "20060102T150405"

// TimestampNow returns the current instant as a canonical timestamp.
func TimestampNow() string {
	return FormatTimestamp(time.Now())
}

// FormatTimestamp renders t as a canonical timestamp in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// ParseTimestamp parses a canonical timestamp. Fractional seconds are
// accepted and truncated, since some implementations emit them.
func ParseTimestamp(s string) (time.Time, error) {
	if len(s) > len(timestampLayout) && s[len(timestampLayout)] == ',' {
		s = s[:len(timestampLayout)]
	}
	t, err := time.ParseInLocation(timestampLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, ErrBadRequest)
	}
	return t, nil
}

// TimestampElapsed reports whether the timestamp names an instant in the
// past. An empty or malformed value reports false: absent deadlines never
// expire, and malformed ones are caught by request validation instead.
func TimestampElapsed(s string, now time.Time) bool {
	if s == "" {
		return false
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return false
	}
	return t.Before(now)
}
