package features

import "strings"

// SummaryPrefix starts the WeekStart label of a rolled-up history bucket.
const SummaryPrefix = "older_history_summary_up_to_"

// Summarize collapses older weeks into one synthetic record labelled as a
// history bucket ending at upTo. Counts and unique CVEs are summed, CVSS is
// averaged, and the top lists are re-ranked by weight summed across weeks:
// occurrences for CVEs, threat counts for countries, and one per week for
// tags. Growth is reported as zero since it is undefined after the merge.
func Summarize(older []WeeklyRecord, upTo string) WeeklyRecord {
	var count, uniqueCVEs int
	var cvssSum float64
	var cves, tags, countries tally
	for _, r := range older {
		count += r.CountLastWeek
		uniqueCVEs += r.UniqueCVEs
		cvssSum += r.MeanCVSS
		for _, c := range r.TopCVEs {
			if c.ID != "" {
				cves.addN(c.ID, max(c.Occurrences, 1))
			}
		}
		for _, t := range r.TopTags {
			tags.add(t)
		}
		for _, c := range r.TopCountries {
			if c.Code != "" {
				countries.addN(c.Code, max(c.ThreatCount, 1))
			}
		}
	}

	n := max(len(older), 1)
	meanCVSS := Round(cvssSum/float64(n), 2)
	zero := 0.0

	rec := WeeklyRecord{
		WeekStart:       SummaryPrefix + upTo,
		CountLastWeek:   count,
		Count4WeekAvg:   Round(float64(count)/float64(n), 1),
		GrowthRate:      &zero,
		MeanCVSS:        meanCVSS,
		UniqueCVEs:      uniqueCVEs,
		UniqueCountries: countries.len(),
		TopCountries:    []CountryCount{},
		TopTags:         tags.top(TopN),
		TopCVEs:         []CVECount{},
	}
	for _, id := range cves.top(TopN) {
		rec.TopCVEs = append(rec.TopCVEs, CVECount{ID: id, Occurrences: cves.counts[id], CVSS: meanCVSS})
	}
	for _, code := range countries.top(3) {
		rec.TopCountries = append(rec.TopCountries, CountryCount{Code: code, ThreatCount: countries.counts[code]})
	}
	return rec
}

// IsSummary reports whether r is a rolled-up history bucket.
func (r WeeklyRecord) IsSummary() bool {
	return strings.HasPrefix(r.WeekStart, SummaryPrefix)
}
