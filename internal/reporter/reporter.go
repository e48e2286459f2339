package reporter

import (
	"embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iyulab/threat-forecaster/internal/forecast"
)

//go:embed templates/*.tmpl
var templates embed.FS

// ReportData is the data model passed to the HTML template.
type ReportData struct {
	Title       string
	GeneratedAt time.Time
	Version     string
	Model       string
	Forecast    forecast.Forecast
	Charts      Charts
}

// NewReportData assembles ReportData for f.
func NewReportData(f forecast.Forecast, version string, now time.Time) ReportData {
	model, _ := f.Metadata["model"].(string)
	return ReportData{
		Title:       "Threat Forecast",
		GeneratedAt: now.UTC(),
		Version:     version,
		Model:       model,
		Forecast:    f,
		Charts:      BuildCharts(f, now),
	}
}

// Reporter renders HTML forecast reports.
type Reporter struct {
	tmpl *template.Template
}

// New creates a Reporter with the embedded HTML template.
func New() (*Reporter, error) {
	funcMap := template.FuncMap{
		"riskClass": func(level string) string {
			switch level {
			case RiskHigh:
				return "risk-high"
			case RiskMedium:
				return "risk-medium"
			default:
				return "risk-low"
			}
		},
		"signalClass": func(typ string) string {
			switch strings.ToLower(typ) {
			case "cve":
				return "sig-cve"
			case "tag":
				return "sig-tag"
			case "country":
				return "sig-country"
			default:
				return "sig-other"
			}
		},
		"pct": func(f float64) string {
			return fmt.Sprintf("%.1f%%", f*100)
		},
	}

	tmpl, err := template.New("forecast.html.tmpl").Funcs(funcMap).ParseFS(templates, "templates/forecast.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return &Reporter{tmpl: tmpl}, nil
}

// GenerateString renders the report to a string (used by serve mode).
func (r *Reporter) GenerateString(data ReportData) (string, error) {
	var buf strings.Builder
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}

// Generate renders the report into outputDir/report.html.
func (r *Reporter) Generate(data ReportData, outputDir string) (string, error) {
	reportPath := filepath.Join(outputDir, "report.html")
	f, err := os.Create(reportPath)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	if err := r.tmpl.Execute(f, data); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return reportPath, nil
}
