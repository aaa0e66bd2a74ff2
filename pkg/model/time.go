package model

import "time"

// Timestamps are stored as ISO-8601 UTC with second precision and a trailing Z.
const timeLayout = "2006-01-02T15:04:05Z"

// FormatTime renders t in the manifest timestamp format.
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(timeLayout)
}

// ParseTime parses a manifest timestamp. A missing or malformed value
// returns ok=false rather than an error; callers treat it as absent.
func ParseTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
