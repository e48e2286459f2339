package events

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// Country is a country code and display name.
type Country struct {
	Code string
	Name string
}

// DefaultCountries is the geography events are spread across.
var DefaultCountries = []Country{
	{"SG", "Singapore"},
	{"US", "United States"},
	{"CN", "China"},
	{"IN", "India"},
	{"GB", "United Kingdom"},
	{"AU", "Australia"},
}

// SimulateOptions controls event synthesis.
type SimulateOptions struct {
	LookbackDays int       // events are spread over [Now-LookbackDays, Now]
	SampleSize   int       // rows sampled from the feed
	Countries    []Country // defaults to DefaultCountries
	Now          time.Time // defaults to time.Now
}

// DefaultSimulateOptions returns a 90 day lookback over 75 sampled rows.
func DefaultSimulateOptions() SimulateOptions {
	return SimulateOptions{LookbackDays: 90, SampleSize: 75}
}

// Simulate synthesises detection events from CVE feed rows. Severe or
// analysed CVEs produce more events. Tags come from the CWE weakness
// abstraction and CVSS from severity words in the description. r makes
// the output reproducible.
func Simulate(rows []FeedRow, opts SimulateOptions, r *rand.Rand) []Event {
	if len(rows) == 0 {
		return nil
	}
	if opts.LookbackDays < 0 {
		opts.LookbackDays = 0
	}
	if len(opts.Countries) == 0 {
		opts.Countries = DefaultCountries
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	n := opts.SampleSize
	if n <= 0 || n > len(rows) {
		n = len(rows)
	}

	var out []Event
	for _, idx := range r.Perm(len(rows))[:n] {
		row := rows[idx]
		desc := strings.ToLower(row.Value)
		tags := weaknessTags(row.WeaknessAbstraction)
		cvss := severityCVSS(desc, r)

		for range eventCount(row, desc, r) {
			c := opts.Countries[r.IntN(len(opts.Countries))]
			daysAgo := r.IntN(opts.LookbackDays + 1)

			data, _ := json.Marshal(Detail{
				CVSS:      round(cvss, 2),
				EPSS:      round(0.001+r.Float64()*(0.5-0.001), 5),
				Tags:      tags,
				CWEID:     row.CWEID,
				CWEName:   row.CWEName,
				Published: row.Published,
				Status:    row.VulnStatus,
			})
			out = append(out, Event{
				CountryCode: c.Code,
				CountryName: c.Name,
				IP:          fmt.Sprintf("%d.%d.%d.%d", 1+r.IntN(223), r.IntN(256), r.IntN(256), 1+r.IntN(254)),
				CVEID:       row.ID,
				Data:        data,
				Timestamp:   opts.Now.AddDate(0, 0, -daysAgo).UTC(),
			})
		}
	}
	return out
}

func eventCount(row FeedRow, desc string, r *rand.Rand) int {
	switch {
	case strings.Contains(desc, "critical") || row.VulnStatus == "Analyzed":
		return 8 + r.IntN(8)
	case strings.Contains(desc, "high"):
		return 5 + r.IntN(6)
	default:
		return 2 + r.IntN(5)
	}
}

// weaknessTags maps a CWE weakness abstraction to at most three tags.
func weaknessTags(weakness string) []string {
	w := strings.ToLower(weakness)
	var tags []string
	add := func(tag string, keywords ...string) {
		for _, k := range keywords {
			if strings.Contains(w, k) {
				tags = append(tags, tag)
				return
			}
		}
	}
	add("remote", "remote", "network")
	add("buffer-overflow", "buffer", "overflow")
	add("injection", "injection")
	add("xss", "xss", "cross-site")
	add("privilege-escalation", "access", "privilege")
	add("dos", "denial", "dos")

	if len(tags) == 0 {
		return []string{"exploit", "vulnerability"}
	}
	if len(tags) > 3 {
		tags = tags[:3]
	}
	return tags
}

func severityCVSS(desc string, r *rand.Rand) float64 {
	switch {
	case strings.Contains(desc, "critical"):
		return 9.0 + r.Float64()
	case strings.Contains(desc, "high"):
		return 7.0 + r.Float64()*1.9
	case strings.Contains(desc, "medium"):
		return 4.0 + r.Float64()*2.9
	default:
		return 5.0
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
