package reporter

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/iyulab/threat-forecaster/internal/archive"
	"github.com/iyulab/threat-forecaster/internal/forecast"
)

// Run statuses recorded in run_summary.json.
const (
	StatusOK            = "ok"
	StatusUnrecoverable = "unrecoverable"
)

// Entry kinds recorded in bundle_manifest.json.
const (
	KindForecast = "forecast"
	KindSummary  = "summary"
	KindChart    = "chart"
	KindFailed   = "failed_response"
)

// BundleInput describes one forecast run to be bundled.
type BundleInput struct {
	// RunID names the zip and its root folder, e.g. forecast_20260309T083000Z.
	RunID       string
	OutDir      string
	ToolVersion string
	CreatedAt   time.Time

	// Result is nil when the run ended without a forecast.
	Result *forecast.Result
	Err    error

	// ChartPaths are written chart assets (forecast_charts.json, report.html).
	ChartPaths []string

	// FailedDir holds raw responses the run could not decode; Failed lists
	// the ones saved during this run.
	FailedDir string
	Failed    []archive.FileHash
}

// RunSummary is the run_summary.json entry of a bundle.
type RunSummary struct {
	RunID              string             `json:"run_id"`
	Status             string             `json:"status"`
	Error              string             `json:"error,omitempty"`
	Model              string             `json:"model,omitempty"`
	HorizonWeeks       int                `json:"forecast_horizon_weeks,omitempty"`
	RecoveryStrategy   string             `json:"recovery_strategy,omitempty"`
	FeatureRecords     int                `json:"feature_records"`
	Compression        *CompressionInfo   `json:"compression,omitempty"`
	Estimate           *forecast.Estimate `json:"estimate,omitempty"`
	EstimationDegraded bool               `json:"estimation_degraded,omitempty"`
	FailedResponses    int                `json:"failed_responses"`
}

// CompressionInfo is the part of forecast.Compression worth keeping.
type CompressionInfo struct {
	KeepWeeks   int  `json:"keep_weeks"`
	Compact     bool `json:"compact"`
	Exhausted   bool `json:"exhausted"`
	InputTokens int  `json:"input_tokens"`
}

// BundleManifest is the bundle_manifest.json entry of a bundle.
type BundleManifest struct {
	RunID       string       `json:"run_id"`
	Version     string       `json:"version"`
	CreatedAt   time.Time    `json:"created_at"`
	ToolVersion string       `json:"tool_version"`
	Files       []BundleFile `json:"files"`
}

// BundleFile records a file included in the bundle.
type BundleFile struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// NewRunSummary condenses in into a RunSummary.
func NewRunSummary(in BundleInput) RunSummary {
	s := RunSummary{
		RunID:           in.RunID,
		Status:          StatusOK,
		FailedResponses: len(in.Failed),
	}
	if in.Err != nil {
		s.Status = StatusUnrecoverable
		s.Error = in.Err.Error()
	}
	if res := in.Result; res != nil {
		f := forecast.Parse(res.Forecast)
		s.Model, _ = f.Metadata["model"].(string)
		s.HorizonWeeks = f.HorizonWeeks
		s.RecoveryStrategy = res.Strategy
		s.FeatureRecords = len(res.FeatureRecords)
		s.Compression = &CompressionInfo{
			KeepWeeks:   res.Compression.Keep,
			Compact:     res.Compression.Compact,
			Exhausted:   res.Compression.Exhausted,
			InputTokens: res.Compression.InputTokens,
		}
		est := res.Estimate
		s.Estimate = &est
		s.EstimationDegraded = res.EstimationDegraded
	}
	return s
}

// ExportBundle writes OutDir/<RunID>.zip holding the forecast document, a run
// summary, the chart assets and the raw responses archived during the run,
// under a <RunID>/ folder with bundle_manifest.json. It returns the zip path.
func ExportBundle(in BundleInput) (string, error) {
	if in.RunID == "" {
		return "", fmt.Errorf("bundle needs a run id")
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}
	if err := os.MkdirAll(in.OutDir, 0755); err != nil {
		return "", fmt.Errorf("create bundle dir: %w", err)
	}

	zipPath := filepath.Join(in.OutDir, in.RunID+".zip")
	zipFile, err := os.Create(zipPath)
	if err != nil {
		return "", fmt.Errorf("create zip: %w", err)
	}
	defer zipFile.Close()

	b := &bundleWriter{zw: zip.NewWriter(zipFile), root: in.RunID}
	defer b.zw.Close()

	if in.Result != nil {
		doc, err := json.MarshalIndent(in.Result.Forecast, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal forecast: %w", err)
		}
		if err := b.add("forecast.json", KindForecast, doc); err != nil {
			return "", err
		}
	}

	summary, err := json.MarshalIndent(NewRunSummary(in), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal run summary: %w", err)
	}
	if err := b.add("run_summary.json", KindSummary, summary); err != nil {
		return "", err
	}

	for _, p := range in.ChartPaths {
		content, err := os.ReadFile(p)
		if err != nil {
			return "", fmt.Errorf("read chart asset: %w", err)
		}
		if err := b.add("charts/"+filepath.Base(p), KindChart, content); err != nil {
			return "", err
		}
	}

	for _, h := range in.Failed {
		content, err := os.ReadFile(filepath.Join(in.FailedDir, h.File))
		if err != nil {
			return "", fmt.Errorf("read failed response: %w", err)
		}
		if err := b.add("failed_responses/"+h.File, KindFailed, content); err != nil {
			return "", err
		}
	}

	manifest, err := json.MarshalIndent(BundleManifest{
		RunID:       in.RunID,
		Version:     "1.0",
		CreatedAt:   in.CreatedAt.UTC(),
		ToolVersion: in.ToolVersion,
		Files:       b.files,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal bundle manifest: %w", err)
	}
	if err := b.write("bundle_manifest.json", manifest); err != nil {
		return "", err
	}

	if err := b.zw.Close(); err != nil {
		return "", fmt.Errorf("close zip writer: %w", err)
	}
	if err := zipFile.Close(); err != nil {
		return "", fmt.Errorf("close zip file: %w", err)
	}
	return zipPath, nil
}

type bundleWriter struct {
	zw    *zip.Writer
	root  string
	files []BundleFile
}

func (b *bundleWriter) add(name, kind string, content []byte) error {
	if err := b.write(name, content); err != nil {
		return err
	}
	h := sha256.Sum256(content)
	b.files = append(b.files, BundleFile{
		Name:   name,
		Kind:   kind,
		SHA256: hex.EncodeToString(h[:]),
		Size:   int64(len(content)),
	})
	return nil
}

func (b *bundleWriter) write(name string, content []byte) error {
	zf, err := b.zw.Create(b.root + "/" + name)
	if err != nil {
		return fmt.Errorf("zip create %s: %w", name, err)
	}
	if _, err := zf.Write(content); err != nil {
		return fmt.Errorf("zip write %s: %w", name, err)
	}
	return nil
}
