package model

import (
	"strings"
	"time"
)

// TimestampLayout is the only accepted wire format for conference windows
// and confirmation deadlines.
const TimestampLayout = "2006-01-02T15:04:05Z"

// ParseTimestamp parses s in TimestampLayout as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, s, time.UTC)
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
