package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FeedRow is one CVE entry of a forecast feed.
type FeedRow struct {
	ID                  string  `json:"id"`
	Published           string  `json:"published,omitempty"`
	VulnStatus          string  `json:"vulnstatus,omitempty"`
	Value               string  `json:"value,omitempty"`
	CWEID               string  `json:"cwe_id,omitempty"`
	CWEName             string  `json:"cwe_name,omitempty"`
	WeaknessAbstraction string  `json:"weakness_abstraction,omitempty"`
	Description         string  `json:"description,omitempty"`
	EPSS                float64 `json:"epss,omitempty"`
	CVSS                float64 `json:"cvss,omitempty"`
}

// Feed is the on-disk feed document.
type Feed struct {
	GeneratedAt *time.Time `json:"generated_at"`
	Rows        []FeedRow  `json:"cve_rows"`
	Count       int        `json:"count"`
}

var (
	epssPattern = regexp.MustCompile(`epss[^0-9]*([0-9]+\.?[0-9]*)`)
	cvssPattern = regexp.MustCompile(`cvss[^0-9]*([0-9]+\.?[0-9]*)`)
)

// LoadFeed reads a feed document or a bare JSON array of rows.
func LoadFeed(path string) ([]FeedRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	data = bytes.TrimSpace(data)

	var rows []FeedRow
	if len(data) > 0 && data[0] == '[' {
		err = json.Unmarshal(data, &rows)
	} else {
		var f Feed
		err = json.Unmarshal(data, &f)
		rows = f.Rows
	}
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", path, err)
	}
	return rows, nil
}

// SaveFeed writes rows as a feed document.
func SaveFeed(path string, rows []FeedRow, generatedAt time.Time) error {
	at := generatedAt.UTC()
	data, err := json.MarshalIndent(Feed{GeneratedAt: &at, Rows: rows, Count: len(rows)}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal feed: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write feed: %w", err)
	}
	return nil
}

// ExtractScores pulls EPSS and CVSS figures out of a row's free text.
// Missing figures are zero.
func ExtractScores(r FeedRow) (epss, cvss float64) {
	text := strings.ToLower(r.Value + "\n" + r.Description)
	if m := epssPattern.FindStringSubmatch(text); m != nil {
		epss, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := cvssPattern.FindStringSubmatch(text); m != nil {
		cvss, _ = strconv.ParseFloat(m[1], 64)
	}
	return epss, cvss
}

// Curate keeps the rows carrying the most signal: highest EPSS first, then
// CVSS, then most recently published. Rows without an id and repeated ids
// are dropped. At most limit rows are returned; limit <= 0 means no limit.
func Curate(rows []FeedRow, limit int) []FeedRow {
	scored := make([]FeedRow, len(rows))
	for i, r := range rows {
		r.EPSS, r.CVSS = ExtractScores(r)
		scored[i] = r
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.EPSS != b.EPSS {
			return a.EPSS > b.EPSS
		}
		if a.CVSS != b.CVSS {
			return a.CVSS > b.CVSS
		}
		return a.Published > b.Published
	})

	out := make([]FeedRow, 0, len(scored))
	seen := make(map[string]bool, len(scored))
	for _, r := range scored {
		if r.ID == "" || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
