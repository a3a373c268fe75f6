// Package report renders simulation results as markdown, JSON and HTML.
package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/life4/genesis/slices"
	"github.com/mykhaliev/agent-sim/logger"
	"github.com/mykhaliev/agent-sim/model"
	"github.com/mykhaliev/agent-sim/version"
)

//go:embed templates/*.html templates/*.css
var templateFS embed.FS

const (
	TypeMarkdown = "md"
	TypeJSON     = "json"
	TypeHTML     = "html"

	DateLayout = "2006-01-02 15:04:05"
)

// Data is everything a report needs about one run.
type Data struct {
	Title       string
	ReportTitle string
	SystemName  string
	SuiteName   string
	SourceFile  string
	RunID       string
	Messenger   string
	StartTime   time.Time
	EndTime     time.Time
	Threshold   float64
	Phases      []model.Phase
	Results     []model.TestResult
	AISummary   string
	Interrupted bool
}

// NewData builds report data from a loaded suite.
func NewData(cfg *model.SuiteConfiguration, threshold float64) Data {
	return Data{
		Title:       cfg.DisplayTitle(),
		ReportTitle: cfg.DisplayReportTitle(),
		SystemName:  cfg.SystemName,
		SuiteName:   cfg.Name,
		Messenger:   string(cfg.Messenger.Type),
		Threshold:   threshold,
		Phases:      cfg.Phases,
	}
}

func (d Data) Duration() time.Duration {
	if d.EndTime.Before(d.StartTime) {
		return 0
	}
	return d.EndTime.Sub(d.StartTime)
}

func (d Data) Summary() Summary {
	return Summarize(d.Results, d.Phases)
}

// Operational reports whether the run met its success-rate criterion.
// A run with no results is never operational.
func (d Data) Operational() bool {
	s := d.Summary()
	return s.Total > 0 && s.SuccessRate >= d.Threshold
}

func (d Data) conclusion() string {
	if d.Operational() {
		if d.SystemName == "" {
			return "SYSTEM FULLY OPERATIONAL!"
		}
		return strings.ToUpper(d.SystemName) + " SYSTEM FULLY OPERATIONAL!"
	}
	return "Some issues detected - review failed tests"
}

type Summary struct {
	Total       int            `json:"total"`
	Passed      int            `json:"passed"`
	Failed      int            `json:"failed"`
	SuccessRate float64        `json:"success_rate"`
	Phases      []PhaseSummary `json:"phases"`
}

type PhaseSummary struct {
	Name        string  `json:"name"`
	Title       string  `json:"title"`
	Scope       string  `json:"scope"`
	Total       int     `json:"total"`
	Passed      int     `json:"passed"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// Summarize counts results overall and per configured phase. Phases with no
// recorded results are still listed with zero counts.
func Summarize(results []model.TestResult, phases []model.Phase) Summary {
	passed := slices.Filter(results, func(r model.TestResult) bool { return r.Passed() })
	s := Summary{
		Total:       len(results),
		Passed:      len(passed),
		Failed:      len(results) - len(passed),
		SuccessRate: rate(len(passed), len(results)),
	}

	s.Phases = slices.Map(phases, func(p model.Phase) PhaseSummary {
		inPhase := slices.Filter(results, func(r model.TestResult) bool { return r.Phase == p.Name })
		ok := slices.Filter(inPhase, func(r model.TestResult) bool { return r.Passed() })
		return PhaseSummary{
			Name:        p.Name,
			Title:       p.Title,
			Scope:       p.ScopeText(),
			Total:       len(inPhase),
			Passed:      len(ok),
			Failed:      len(inPhase) - len(ok),
			SuccessRate: rate(len(ok), len(inPhase)),
		}
	})
	return s
}

func rate(passed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(passed) / float64(total) * 100
}

// ValidateType rejects unknown report types.
func ValidateType(reportType string) error {
	switch reportType {
	case TypeMarkdown, TypeJSON, TypeHTML:
		return nil
	}
	return fmt.Errorf("unknown type %s, supported types are: json, html, md", reportType)
}

// ============================================================================
// MARKDOWN
// ============================================================================

func GenerateMarkdown(d Data) string {
	s := d.Summary()
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# %s\n\n", d.ReportTitle))
	sb.WriteString(fmt.Sprintf("**Date:** %s\n", d.StartTime.Format(DateLayout)))
	sb.WriteString(fmt.Sprintf("**Duration:** %.2f seconds\n\n", d.Duration().Seconds()))
	if d.Interrupted {
		sb.WriteString("**Status:** interrupted before all phases completed\n\n")
	}
	sb.WriteString("---\n\n")

	sb.WriteString("## Summary\n\n")
	sb.WriteString(fmt.Sprintf("- **Total Tests:** %d\n", s.Total))
	sb.WriteString(fmt.Sprintf("- **Passed:** %d\n", s.Passed))
	sb.WriteString(fmt.Sprintf("- **Failed:** %d\n", s.Failed))
	sb.WriteString(fmt.Sprintf("- **Success Rate:** %.1f%%\n\n", s.SuccessRate))
	sb.WriteString("---\n\n")

	if d.AISummary != "" {
		sb.WriteString("## AI Summary\n\n")
		sb.WriteString(strings.TrimSpace(d.AISummary))
		sb.WriteString("\n\n---\n\n")
	}

	sb.WriteString("## Test Phases\n\n")
	for i, p := range d.Phases {
		sb.WriteString(fmt.Sprintf("### Phase %d: %s (%s)\n", i+1, p.Title, p.ScopeText()))
		if p.Description != "" {
			sb.WriteString(p.Description + "\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("---\n\n")

	sb.WriteString("## Detailed Results\n\n")
	for _, r := range d.Results {
		sb.WriteString(fmt.Sprintf("- [%s] **%s**: %s\n", r.Status, r.Test, r.Status))
		if r.Details != "" {
			sb.WriteString(fmt.Sprintf("  - %s\n", r.Details))
		}
	}
	sb.WriteString("\n---\n\n")

	sb.WriteString("## Conclusion\n\n")
	sb.WriteString(d.conclusion() + "\n\n")
	sb.WriteString(fmt.Sprintf("Success Rate: %.1f%%\n\n", s.SuccessRate))
	sb.WriteString("---\n\n")
	sb.WriteString(fmt.Sprintf("*Generated by %s*\n", d.Title))

	return sb.String()
}

// ============================================================================
// JSON
// ============================================================================

type JSONReport struct {
	Version         string             `json:"version"`
	GeneratedAt     string             `json:"generated_at"`
	Suite           string             `json:"suite"`
	Title           string             `json:"title"`
	SourceFile      string             `json:"source_file,omitempty"`
	RunID           string             `json:"run_id,omitempty"`
	Messenger       string             `json:"messenger,omitempty"`
	StartedAt       time.Time          `json:"started_at"`
	DurationSeconds float64            `json:"duration_seconds"`
	Threshold       float64            `json:"success_rate_threshold"`
	Operational     bool               `json:"operational"`
	Interrupted     bool               `json:"interrupted,omitempty"`
	Summary         Summary            `json:"summary"`
	Results         []model.TestResult `json:"results"`
	AISummary       string             `json:"ai_summary,omitempty"`
}

func GenerateJSON(d Data) (string, error) {
	results := d.Results
	if results == nil {
		results = []model.TestResult{}
	}
	doc := JSONReport{
		Version:         version.Version,
		GeneratedAt:     time.Now().Format(time.RFC3339),
		Suite:           d.SuiteName,
		Title:           d.Title,
		SourceFile:      d.SourceFile,
		RunID:           d.RunID,
		Messenger:       d.Messenger,
		StartedAt:       d.StartTime,
		DurationSeconds: d.Duration().Seconds(),
		Threshold:       d.Threshold,
		Operational:     d.Operational(),
		Interrupted:     d.Interrupted,
		Summary:         d.Summary(),
		Results:         results,
		AISummary:       d.AISummary,
	}
	out, err := sonic.ConfigStd.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode JSON report: %w", err)
	}
	return string(out), nil
}

// LoadJSON reads a JSON report written by GenerateJSON.
func LoadJSON(path string) (*JSONReport, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON file: %w", err)
	}
	var doc JSONReport
	if err := sonic.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON report: %w", err)
	}
	return &doc, nil
}

// ============================================================================
// HTML
// ============================================================================

// Generator renders the embedded HTML template.
type Generator struct {
	tmpl *template.Template
	css  template.CSS
}

type htmlView struct {
	CSS          template.CSS
	Version      string
	GeneratedAt  string
	Title        string
	ReportTitle  string
	Date         string
	Duration     string
	Conclusion   string
	Operational  bool
	Interrupted  bool
	Threshold    float64
	Summary      Summary
	Phases       []phaseView
	AISummary    string
	HasAISummary bool
}

type phaseView struct {
	Index       int
	Title       string
	Scope       string
	Description string
	Stats       PhaseSummary
	RateClass   string
	Results     []model.TestResult
}

func NewGenerator() (*Generator, error) {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"pct": func(v float64) string {
			return fmt.Sprintf("%.1f%%", v)
		},
		"clock": func(t time.Time) string {
			return t.Format("15:04:05.000")
		},
	}

	tmpl, err := template.New("report.html").Funcs(funcMap).ParseFS(templateFS, "templates/report.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	css, err := templateFS.ReadFile("templates/report.css")
	if err != nil {
		return nil, fmt.Errorf("failed to load stylesheet: %w", err)
	}
	return &Generator{tmpl: tmpl, css: template.CSS(css)}, nil
}

func (g *Generator) GenerateHTML(d Data) (string, error) {
	s := d.Summary()
	view := htmlView{
		CSS:          g.css,
		Version:      version.Version,
		GeneratedAt:  time.Now().Format(DateLayout),
		Title:        d.Title,
		ReportTitle:  d.ReportTitle,
		Date:         d.StartTime.Format(DateLayout),
		Duration:     fmt.Sprintf("%.2fs", d.Duration().Seconds()),
		Conclusion:   d.conclusion(),
		Operational:  d.Operational(),
		Interrupted:  d.Interrupted,
		Threshold:    d.Threshold,
		Summary:      s,
		AISummary:    d.AISummary,
		HasAISummary: d.AISummary != "",
	}
	for i, p := range d.Phases {
		view.Phases = append(view.Phases, phaseView{
			Index:       i + 1,
			Title:       p.Title,
			Scope:       p.ScopeText(),
			Description: p.Description,
			Stats:       s.Phases[i],
			RateClass:   successRateClass(s.Phases[i]),
			Results: slices.Filter(d.Results, func(r model.TestResult) bool {
				return r.Phase == p.Name
			}),
		})
	}

	var buf bytes.Buffer
	if err := g.tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

func successRateClass(p PhaseSummary) string {
	switch {
	case p.Total == 0:
		return "success-none"
	case p.SuccessRate >= 100:
		return "success-high"
	case p.SuccessRate >= 50:
		return "success-medium"
	}
	return "success-low"
}

// ============================================================================
// OUTPUT
// ============================================================================

// Render produces the report body for one type.
func Render(d Data, reportType string) (string, error) {
	switch reportType {
	case TypeMarkdown:
		return GenerateMarkdown(d), nil
	case TypeJSON:
		return GenerateJSON(d)
	case TypeHTML:
		gen, err := NewGenerator()
		if err != nil {
			return "", fmt.Errorf("failed to create report generator: %w", err)
		}
		return gen.GenerateHTML(d)
	}
	return "", ValidateType(reportType)
}

// Write renders one report type to outputPath, creating parent directories.
func Write(d Data, reportType, outputPath string) error {
	content, err := Render(d, reportType)
	if err != nil {
		return err
	}
	if content == "" {
		return fmt.Errorf("generated report is empty")
	}

	if dir := filepath.Dir(outputPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, logger.DirPermission); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(outputPath, []byte(content), logger.FilePermission); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return fmt.Errorf("failed to verify output file: %w", err)
	}
	logger.Logger.Info("Report generated successfully", "type", reportType, "path", outputPath, "size", info.Size())
	return nil
}

// OutputPath derives the file name for a report type. A base that already
// ends in the type's extension is used as-is.
func OutputPath(base, reportType string) string {
	ext := "." + reportType
	if strings.HasSuffix(base, ext) {
		return base
	}
	if current := filepath.Ext(base); current == ".md" || current == ".json" || current == ".html" {
		base = strings.TrimSuffix(base, current)
	}
	return base + ext
}

// PrintConsoleSummary writes the closing summary block.
func PrintConsoleSummary(w io.Writer, d Data) {
	s := d.Summary()
	line := strings.Repeat("=", 80)

	fmt.Fprintln(w, "\n"+line)
	fmt.Fprintln(w, "[Summary] Simulation Summary")
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "  Total Tests:   %d\n", s.Total)
	fmt.Fprintf(w, "  Passed:        %d\n", s.Passed)
	fmt.Fprintf(w, "  Failed:        %d\n", s.Failed)
	fmt.Fprintf(w, "  Success Rate:  %.1f%% (required %.1f%%)\n", s.SuccessRate, d.Threshold)
	fmt.Fprintf(w, "  Duration:      %.2fs\n", d.Duration().Seconds())
	for _, p := range s.Phases {
		fmt.Fprintf(w, "    %-32s %d/%d\n", p.Title, p.Passed, p.Total)
	}
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, d.conclusion())

	if d.AISummary != "" {
		fmt.Fprintln(w, "\n"+line)
		fmt.Fprintln(w, "AI SUMMARY (LLM-Generated)")
		fmt.Fprintln(w, strings.Repeat("-", 80))
		fmt.Fprintln(w, d.AISummary)
		fmt.Fprintln(w, line)
	}

	logger.Logger.Info("Simulation summary",
		"total_tests", s.Total,
		"passed", s.Passed,
		"failed", s.Failed,
		"success_rate", fmt.Sprintf("%.1f%%", s.SuccessRate),
		"threshold", d.Threshold)
}
