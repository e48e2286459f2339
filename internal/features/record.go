// Package features aggregates raw events into weekly feature records.
package features

// CountryCount is a country and how many events it produced in a week.
type CountryCount struct {
	Code        string `json:"code"`
	ThreatCount int    `json:"threat_count"`
}

// CVECount is a CVE and how often it was seen in a week.
type CVECount struct {
	ID          string  `json:"id"`
	Occurrences int     `json:"occurrences"`
	CVSS        float64 `json:"cvss"`
}

// WeeklyRecord is one aggregated week of threat activity. The top lists are
// sorted highest first; truncating them keeps that order.
//
// WeekStart is an ISO date for real weeks. A rolled-up history bucket
// carries a descriptive label instead.
type WeeklyRecord struct {
	WeekStart       string         `json:"week_start"`
	CountLastWeek   int            `json:"count_last_week"`
	Count4WeekAvg   float64        `json:"count_4week_avg"`
	GrowthRate      *float64       `json:"growth_rate"` // nil for the first week
	MeanCVSS        float64        `json:"mean_cvss"`
	UniqueCVEs      int            `json:"unique_cves"`
	UniqueCountries int            `json:"unique_countries"`
	TopCountries    []CountryCount `json:"top_countries"`
	TopTags         []string       `json:"top_tags"`
	TopCVEs         []CVECount     `json:"top_cves"`
}

// Clone returns a deep copy of r.
func (r WeeklyRecord) Clone() WeeklyRecord {
	c := r
	if r.GrowthRate != nil {
		g := *r.GrowthRate
		c.GrowthRate = &g
	}
	c.TopCountries = append([]CountryCount{}, r.TopCountries...)
	c.TopTags = append([]string{}, r.TopTags...)
	c.TopCVEs = append([]CVECount{}, r.TopCVEs...)
	return c
}

// Truncate caps the top lists at the given sizes, keeping the highest entries.
func (r *WeeklyRecord) Truncate(cves, tags, countries int) {
	if len(r.TopCVEs) > cves {
		r.TopCVEs = r.TopCVEs[:cves]
	}
	if len(r.TopTags) > tags {
		r.TopTags = r.TopTags[:tags]
	}
	if len(r.TopCountries) > countries {
		r.TopCountries = r.TopCountries[:countries]
	}
}

// CloneAll deep-copies a slice of records.
func CloneAll(records []WeeklyRecord) []WeeklyRecord {
	out := make([]WeeklyRecord, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}
