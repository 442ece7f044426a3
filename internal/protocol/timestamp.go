package protocol

import (
	"bytes"
	"encoding/json"
	"time"
)

// layouts accepted for inbound timestamps, tried in order. The agent backend
// emits ISO-8601 without a zone offset, which time.Time cannot decode.
var layouts = []string{ //nolint:gochecknoglobals // parse table
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Timestamp is a time.Time that decodes leniently. A missing or unparsable
// value decodes to the zero time instead of failing the whole frame.
type Timestamp struct {
	time.Time
}

// ParseTimestamp parses s with the accepted layouts. Zoneless values are
// interpreted as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		t.Time = time.Time{}
		return nil //nolint:nilerr // lenient by contract
	}
	parsed, _ := ParseTimestamp(s)
	t.Time = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}
