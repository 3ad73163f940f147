package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Timestamp decodes the several time encodings the chat server emits:
// RFC 3339, a zone-less ISO local date-time, "2006-01-02 15:04:05",
// the [y,m,d,h,min,s,nanos] array form and epoch milliseconds.
// Zone-less forms are read in time.Local.
type Timestamp struct {
	time.Time
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// ParseTimestamp parses the textual forms of Timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}

// UnmarshalJSON implements json.Unmarshaler. A value in none of the known
// forms decodes to the zero time and is logged, so one bad field never
// rejects the frame or page around it.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	t.Time = time.Time{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil || s == "" {
			return nil
		}
		parsed, err := ParseTimestamp(s)
		if err != nil {
			unparseable(data, err)
			return nil
		}
		t.Time = parsed

	case '[':
		var parts []int
		if err := json.Unmarshal(data, &parts); err != nil {
			unparseable(data, err)
			return nil
		}
		if len(parts) < 3 {
			unparseable(data, errors.New("array needs at least 3 fields"))
			return nil
		}
		fields := make([]int, 7)
		copy(fields, parts)
		t.Time = time.Date(fields[0], time.Month(fields[1]), fields[2],
			fields[3], fields[4], fields[5], fields[6], time.Local)

	default:
		var millis int64
		if err := json.Unmarshal(data, &millis); err != nil {
			unparseable(data, err)
			return nil
		}
		t.Time = time.UnixMilli(millis)
	}
	return nil
}

func unparseable(data []byte, err error) {
	slog.Warn("unparseable timestamp, using zero time",
		slog.String("value", string(data)),
		slog.String("error", err.Error()))
}

// MarshalJSON writes RFC 3339 with nanoseconds.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.Time.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// Value returns the wrapped time, the zero time for a nil pointer.
func (t *Timestamp) Value() time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.Time
}
