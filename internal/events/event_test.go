package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDetail(t *testing.T) {
	tests := []struct {
		name string
		data string
		want Detail
	}{
		{
			name: "object",
			data: `{"cvss": 7.5, "epss": 0.12, "tags": ["remote", "injection"], "cwe_id": "CWE-89"}`,
			want: Detail{CVSS: 7.5, EPSS: 0.12, Tags: []string{"remote", "injection"}, CWEID: "CWE-89"},
		},
		{
			name: "json string holding object",
			data: `"{\"cvss\": 9.1, \"tags\": [\"dos\"]}"`,
			want: Detail{CVSS: 9.1, Tags: []string{"dos"}},
		},
		{
			name: "numeric string cvss",
			data: `{"cvss": "6.4"}`,
			want: Detail{CVSS: 6.4},
		},
		{
			name: "wrong types ignored",
			data: `{"cvss": [1], "tags": [1, "xss", null], "status": 3}`,
			want: Detail{Tags: []string{"xss"}, Status: "3"},
		},
		{name: "malformed", data: `{"cvss": 7.5,`, want: Detail{}},
		{name: "string not json", data: `"not json at all"`, want: Detail{}},
		{name: "null", data: `null`, want: Detail{}},
		{name: "empty", data: ``, want: Detail{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeDetail([]byte(tt.data)))
		})
	}
}

func TestParseTime(t *testing.T) {
	want := time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC)
	for _, s := range []string{
		"2025-03-04T10:30:00Z",
		"2025-03-04T10:30:00",
		"2025-03-04 10:30:00",
		"2025-03-04T12:30:00+02:00",
	} {
		got, err := ParseTime(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), "%s parsed to %s", s, got)
	}

	d, err := ParseTime("2025-03-04")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseTime("last tuesday")
	assert.Error(t, err)
}

func TestEvent_UnmarshalJSON(t *testing.T) {
	var ev Event
	err := json.Unmarshal([]byte(`{
		"country_code": "SG",
		"cve_id": "CVE-2024-0001",
		"data": "{\"cvss\": 8.8}",
		"timestamp": "2025-01-07 09:00:00"
	}`), &ev)
	require.NoError(t, err)
	assert.Equal(t, "SG", ev.CountryCode)
	assert.Equal(t, "CVE-2024-0001", ev.CVEID)
	assert.Equal(t, 8.8, ev.Detail().CVSS)
	assert.Equal(t, time.Date(2025, 1, 7, 9, 0, 0, 0, time.UTC), ev.Timestamp)
}

func TestEvent_UnmarshalJSON_BadTimestampIsTolerated(t *testing.T) {
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(`{"cve_id": "CVE-1", "timestamp": "soon"}`), &ev))
	assert.True(t, ev.Timestamp.IsZero())
	_, ok := ev.Time("timestamp")
	assert.False(t, ok)
}

func TestEvent_Time(t *testing.T) {
	ts := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	ev := Event{Timestamp: ts, Data: json.RawMessage(`{"published": "2024-12-25"}`)}

	got, ok := ev.Time("")
	assert.True(t, ok)
	assert.Equal(t, ts, got)

	got, ok = ev.Time("published")
	assert.True(t, ok)
	assert.Equal(t, time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC), got)

	_, ok = ev.Time("detected_at")
	assert.False(t, ok)

	_, ok = Event{}.Time("published")
	assert.False(t, ok)
}
