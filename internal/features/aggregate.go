package features

import (
	"math"
	"sort"
	"time"

	"github.com/iyulab/threat-forecaster/internal/events"
)

// TopN is the length of every per-week top list.
const TopN = 5

// WeekStart returns the Monday (UTC) of the week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.AddDate(0, 0, -offset).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type bucket struct {
	start     time.Time
	count     int
	cvssSum   float64
	countries tally
	tags      tally
	cves      tally
	cveCVSS   map[string]float64
}

// Aggregate buckets events into Monday-start weeks by the time in dateField
// and returns one record per week that has events, oldest first. Events
// without a usable time are skipped.
func Aggregate(evs []events.Event, dateField string) []WeeklyRecord {
	buckets := make(map[time.Time]*bucket)
	for _, ev := range evs {
		t, ok := ev.Time(dateField)
		if !ok {
			continue
		}
		ws := WeekStart(t)
		b := buckets[ws]
		if b == nil {
			b = &bucket{start: ws, cveCVSS: make(map[string]float64)}
			buckets[ws] = b
		}

		d := ev.Detail()
		b.count++
		b.cvssSum += d.CVSS
		if ev.CountryCode != "" {
			b.countries.add(ev.CountryCode)
		}
		if ev.CVEID != "" {
			b.cves.add(ev.CVEID)
			b.cveCVSS[ev.CVEID] += d.CVSS
		}
		for _, tag := range d.Tags {
			b.tags.add(tag)
		}
	}

	ordered := make([]*bucket, 0, len(buckets))
	for _, b := range buckets {
		ordered = append(ordered, b)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].start.Before(ordered[j].start) })

	records := make([]WeeklyRecord, 0, len(ordered))
	for i, b := range ordered {
		rec := WeeklyRecord{
			WeekStart:       b.start.Format(time.DateOnly),
			CountLastWeek:   b.count,
			MeanCVSS:        Round(b.cvssSum/float64(b.count), 2),
			UniqueCVEs:      b.cves.len(),
			UniqueCountries: b.countries.len(),
			TopCountries:    []CountryCount{},
			TopTags:         b.tags.top(TopN),
			TopCVEs:         []CVECount{},
		}
		for _, c := range b.countries.top(TopN) {
			rec.TopCountries = append(rec.TopCountries, CountryCount{Code: c, ThreatCount: b.countries.counts[c]})
		}
		for _, id := range b.cves.top(TopN) {
			n := b.cves.counts[id]
			rec.TopCVEs = append(rec.TopCVEs, CVECount{ID: id, Occurrences: n, CVSS: Round(b.cveCVSS[id]/float64(n), 2)})
		}

		// Rolling mean over up to four weeks, this one included.
		lo := max(0, i-3)
		sum := 0
		for _, prev := range ordered[lo : i+1] {
			sum += prev.count
		}
		rec.Count4WeekAvg = Round(float64(sum)/float64(i+1-lo), 1)

		if i > 0 && ordered[i-1].count > 0 {
			prev := float64(ordered[i-1].count)
			g := Round((float64(b.count)-prev)/prev, 3)
			rec.GrowthRate = &g
		}
		records = append(records, rec)
	}
	return records
}

// Recent returns the last limit records. limit <= 0 keeps all of them.
func Recent(records []WeeklyRecord, limit int) []WeeklyRecord {
	if limit <= 0 || len(records) <= limit {
		return records
	}
	return records[len(records)-limit:]
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// tally counts keys and remembers the order they were first seen in, which
// breaks ties between equal counts.
type tally struct {
	order  []string
	counts map[string]int
}

func (t *tally) add(k string) {
	t.addN(k, 1)
}

func (t *tally) addN(k string, n int) {
	if t.counts == nil {
		t.counts = make(map[string]int)
	}
	if _, ok := t.counts[k]; !ok {
		t.order = append(t.order, k)
	}
	t.counts[k] += n
}

func (t *tally) len() int { return len(t.order) }

// top returns up to n keys by descending count, first-seen first on ties.
func (t *tally) top(n int) []string {
	keys := append([]string{}, t.order...)
	sort.SliceStable(keys, func(i, j int) bool { return t.counts[keys[i]] > t.counts[keys[j]] })
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}
