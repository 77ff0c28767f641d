package backend

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// The backend is loose about JSON types: ids arrive as strings or numbers,
// prices as numbers or strings, timestamps in several layouts. The types below
// absorb that at decode time and never fail, so a single odd field cannot
// drop a whole record.

var jsonNull = []byte("null")

// FlexString accepts a JSON string, number or bool. Objects carrying an "id"
// or "_id" collapse to that id. Anything else decodes to "".
type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	*s = FlexString(flexText(b))
	return nil
}

func (s FlexString) String() string { return string(s) }

func flexText(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, jsonNull) {
		return ""
	}
	switch b[0] {
	case '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return ""
		}
		return strings.TrimSpace(v)
	case '{':
		var obj struct {
			ID    json.RawMessage `json:"id"`
			MgoID json.RawMessage `json:"_id"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return ""
		}
		if id := flexText(obj.ID); id != "" {
			return id
		}
		return flexText(obj.MgoID)
	case '[':
		return ""
	default:
		// number or bool literal
		return string(b)
	}
}

// Money is a decimal amount that coerces anything non-numeric to zero.
type Money struct {
	decimal.Decimal
}

func (m *Money) UnmarshalJSON(b []byte) error {
	m.Decimal = ParseMoney(flexText(b))
	return nil
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Decimal.StringFixed(2))
}

// ParseMoney parses a numeric string, tolerating thousands separators
// written as spaces or underscores. Failure yields zero, never NaN.
func ParseMoney(v string) decimal.Decimal {
	v = strings.TrimSpace(v)
	v = strings.NewReplacer(" ", "", "_", "").Replace(v)
	if v == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// FlexInt decodes integers from numbers or numeric strings, truncating
// fractions. Anything else is 0.
type FlexInt int

func (n *FlexInt) UnmarshalJSON(b []byte) error {
	*n = FlexInt(ParseMoney(flexText(b)).IntPart())
	return nil
}

// Timestamp accepts the layouts the backend has been seen to emit plus unix
// seconds or milliseconds. Unparsable input leaves the zero time.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	t.Time = ParseTimestamp(flexText(b))
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return jsonNull, nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func ParseTimestamp(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts.UTC()
		}
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
		// 1e11 seconds is year 5138; anything larger is milliseconds.
		if n > 1e11 {
			return time.UnixMilli(n).UTC()
		}
		return time.Unix(n, 0).UTC()
	}
	return time.Time{}
}
