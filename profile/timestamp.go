package profile

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// ISO-8601 variants seen in account exports, tried in order. Timestamps without an offset are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Parses an account timestamp string.
//
// ISO-8601 is tried first (a trailing 'Z' meaning UTC); anything else falls back to lenient parsing, which also covers the classic Twitter API format ("Wed Oct 10 20:19:24 +0000 2018"). Errors wrap [ErrInvalidTimestamp].
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty string", ErrInvalidTimestamp)
	}
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
	}
	t, err := parseLenient(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	return t, nil
}

// dateparse has panicked on some malformed inputs in the past
func parseLenient(s string) (t time.Time, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dateparse: %v", r)
		}
	}()
	return dateparse.ParseStrict(s)
}
