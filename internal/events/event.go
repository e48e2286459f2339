// Package events models raw threat detection events and the CVE feed rows
// they are synthesised from.
package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Event is one threat detection. Data carries a free-form detail blob,
// either a JSON object or a JSON string that itself holds an object.
type Event struct {
	CountryCode string          `json:"country_code"`
	CountryName string          `json:"country_name,omitempty"`
	IP          string          `json:"ip,omitempty"`
	CVEID       string          `json:"cve_id"`
	Data        json.RawMessage `json:"data,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Detail is the decoded form of Event.Data. Every field defaults to its zero
// value when missing or malformed.
type Detail struct {
	CVSS      float64  `json:"cvss"`
	EPSS      float64  `json:"epss"`
	Tags      []string `json:"tags"`
	CWEID     string   `json:"cwe_id,omitempty"`
	CWEName   string   `json:"cwe_name,omitempty"`
	Published string   `json:"published,omitempty"`
	Status    string   `json:"status,omitempty"`
}

// timeLayouts are tried in order when parsing timestamps from text.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses the timestamp formats seen in event exports.
// Values without a zone are taken as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// UnmarshalJSON accepts any timestamp format ParseTime understands. An
// unparseable timestamp leaves Timestamp zero rather than failing the load.
func (e *Event) UnmarshalJSON(b []byte) error {
	type alias Event
	var raw struct {
		alias
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*e = Event(raw.alias)
	e.Timestamp = time.Time{}

	var s string
	if err := json.Unmarshal(raw.Timestamp, &s); err == nil {
		if t, err := ParseTime(s); err == nil {
			e.Timestamp = t
		}
	}
	return nil
}

// Detail decodes Data. It never fails: a missing or malformed blob yields a
// zero Detail, and individual fields of the wrong type are ignored.
func (e Event) Detail() Detail {
	return DecodeDetail(e.Data)
}

// DecodeDetail decodes a detail blob defensively.
func DecodeDetail(data []byte) Detail {
	var d Detail
	if len(data) == 0 {
		return d
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		// The blob is often a JSON string holding the encoded object.
		var inner string
		if json.Unmarshal(data, &inner) != nil {
			return d
		}
		if json.Unmarshal([]byte(inner), &m) != nil {
			return d
		}
	}

	d.CVSS = number(m["cvss"])
	d.EPSS = number(m["epss"])
	d.Tags = stringList(m["tags"])
	d.CWEID = text(m["cwe_id"])
	d.CWEName = text(m["cwe_name"])
	d.Published = text(m["published"])
	d.Status = text(m["status"])
	return d
}

// Time returns the event time taken from field: "timestamp" (the default)
// or "published" from the detail blob. ok is false when the value is
// missing or unparseable.
func (e Event) Time(field string) (t time.Time, ok bool) {
	switch field {
	case "", "timestamp":
		return e.Timestamp, !e.Timestamp.IsZero()
	case "published":
		p := e.Detail().Published
		if p == "" {
			return time.Time{}, false
		}
		t, err := ParseTime(p)
		return t, err == nil
	default:
		return time.Time{}, false
	}
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func text(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

func stringList(v any) []string {
	switch l := v.(type) {
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if l == "" {
			return nil
		}
		return []string{l}
	default:
		return nil
	}
}
