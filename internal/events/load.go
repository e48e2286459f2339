package events

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

var csvColumns = []string{"country_code", "country_name", "ip", "cve_id", "data", "timestamp"}

// Load reads events from path. The format follows the extension: .jsonl and
// .ndjson are JSON Lines, .csv is a CSV export with a header row, anything
// else is a JSON array or an object with an "events" array.
func Load(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}

	var events []Event
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		events, err = decodeLines(data)
	case ".csv":
		events, err = decodeCSV(bytes.NewReader(data))
	default:
		events, err = decodeJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return events, nil
}

// LoadAll reads several event files concurrently and concatenates them in
// argument order.
func LoadAll(ctx context.Context, paths []string) ([]Event, error) {
	parts := make([][]Event, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			evs, err := Load(p)
			if err != nil {
				return err
			}
			parts[i] = evs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Event
	for _, p := range parts {
		all = append(all, p...)
	}
	return all, nil
}

// Save writes events as an indented JSON array.
func Save(path string, events []Event) error {
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	return nil
}

func decodeJSON(data []byte) ([]Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var wrapped struct {
			Events []Event `json:"events"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, err
		}
		return wrapped.Events, nil
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func decodeLines(data []byte) ([]Event, error) {
	var events []Event
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(b, &ev); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	return events, sc.Err()
}

func decodeCSV(r io.Reader) ([]Event, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := index["cve_id"]; !ok {
		return nil, fmt.Errorf("csv header must include cve_id (expected columns: %s)", strings.Join(csvColumns, ","))
	}

	field := func(rec []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var events []Event
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		ev := Event{
			CountryCode: field(rec, "country_code"),
			CountryName: field(rec, "country_name"),
			IP:          field(rec, "ip"),
			CVEID:       field(rec, "cve_id"),
		}
		if d := field(rec, "data"); d != "" {
			if json.Valid([]byte(d)) {
				ev.Data = json.RawMessage(d)
			} else {
				// Keep the malformed blob; Detail decodes it to defaults.
				quoted, _ := json.Marshal(d)
				ev.Data = quoted
			}
		}
		if ts := field(rec, "timestamp"); ts != "" {
			if t, err := ParseTime(ts); err == nil {
				ev.Timestamp = t
			}
		}
		events = append(events, ev)
	}
	return events, nil
}
