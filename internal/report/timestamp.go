package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/inxource/inxight/internal/storage"
)

// timestampLayouts are tried in order. Rows written by older tooling use
// space-separated or zone-less forms; zone-less values are read as UTC.
var timestampLayouts = []string{
	storage.TimeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp reads a stored created_at value in any common format.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
