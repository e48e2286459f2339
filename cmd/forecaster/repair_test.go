package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/iyulab/threat-forecaster/internal/recovery"
)

func TestRepairFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "response.txt")
	out := filepath.Join(dir, "response.repaired.json")
	if err := os.WriteFile(in, []byte("```json\n{\"forecast_horizon_weeks\": 4, \"predictions\": [1, 2,"), 0644); err != nil {
		t.Fatal(err)
	}

	strategy, err := repairFile(in, out, recovery.NewEngine(nil, nil))
	if err != nil {
		t.Fatalf("repairFile: %v", err)
	}
	if strategy != recovery.StrategyAutoClose {
		t.Errorf("strategy = %q", strategy)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if got["forecast_horizon_weeks"] != float64(4) {
		t.Errorf("got %v", got)
	}
}

func TestRepairFile_Unrecoverable(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "response.txt")
	os.WriteFile(in, []byte("no json here"), 0644)

	_, err := repairFile(in, filepath.Join(dir, "out.json"), recovery.NewEngine(nil, nil))
	var uerr *recovery.UnrecoverableError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UnrecoverableError, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out.json")); !os.IsNotExist(err) {
		t.Error("nothing should be written for an unrecoverable response")
	}
}
