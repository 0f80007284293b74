package provenance

import (
	"encoding/json"
	"strings"
	"time"
)

// LegacyTimeLayout is the timestamp layout written by the first BMDE tools.
const LegacyTimeLayout = "01/02/2006, 15:04:05"

// Timestamp is a point in time that round-trips through the interchange
// layout. It reads LegacyTimeLayout or RFC 3339 and always writes
// LegacyTimeLayout, so records stay readable by every BMDE implementation.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Second)}
}

func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(LegacyTimeLayout, s); err == nil {
		return Timestamp{Time: t.UTC()}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Timestamp{}, FormatError("parse timestamp", "%q is neither %q nor RFC 3339", s, LegacyTimeLayout)
	}
	return NewTimestamp(t), nil
}

func (t Timestamp) String() string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(LegacyTimeLayout)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return FormatError("parse timestamp", "expected string: %v", err)
	}
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
