package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mykhaliev/agent-sim/logger"
	"github.com/mykhaliev/agent-sim/messenger"
	"github.com/mykhaliev/agent-sim/model"
	"github.com/mykhaliev/agent-sim/report"
	"github.com/mykhaliev/agent-sim/suite"
	"github.com/mykhaliev/agent-sim/summary"
)

const (
	DefaultSendTimeout = 30 * time.Second
	DefaultDelay       = 0 * time.Second
	DefaultReportFile  = "simulation_report"
)

type Options struct {
	SuitePath   string
	OutputPath  string
	ReportTypes []string
	Verbose     bool
	// Messenger overrides the transport type from the suite.
	Messenger string
	Out       io.Writer
}

// Package-level variable for dependency injection
var messengerFactory messenger.Factory = messenger.DefaultFactory{}

func SetMessengerFactory(factory messenger.Factory) {
	messengerFactory = factory
}

// Run executes a suite end to end and returns the process exit code.
func Run(ctx context.Context, opts Options) int {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if len(opts.ReportTypes) == 0 {
		opts.ReportTypes = []string{report.TypeMarkdown}
	}
	if err := ValidateReportTypes(opts.ReportTypes); err != nil {
		logger.Logger.Error("Invalid report type", "error", err)
		return 1
	}

	cfg, err := LoadSuite(opts.SuitePath)
	if err != nil {
		logger.Logger.Error("Failed to load suite", "error", err)
		return 1
	}
	if opts.Verbose {
		cfg.Settings.Verbose = true
	}
	if cfg.Settings.Verbose && !logger.Verbose() {
		logger.SetVerbose(true)
		logger.Logger.Debug("Debug logging enabled by suite settings")
	}
	if opts.Messenger != "" {
		cfg.Messenger.Type = model.MessengerType(opts.Messenger)
	}
	if err := ValidateSuiteConfig(cfg); err != nil {
		logger.Logger.Error("Invalid configuration", "error", err)
		return 1
	}
	threshold, err := cfg.Criteria.Threshold()
	if err != nil {
		logger.Logger.Error("Invalid criteria", "error", err)
		return 1
	}

	logger.Logger.Info("Configuration loaded",
		"suite", cfg.Name,
		"agents", len(cfg.Agents),
		"phases", len(cfg.Phases),
		"messenger", cfg.Messenger.Type,
		"success_rate", threshold)

	staticCtx := CreateStaticTemplateContext(opts.SuitePath, cfg.Variables)

	msgr, err := messengerFactory.New(ctx, RenderMessengerConfig(cfg.Messenger, staticCtx), cfg.Agents)
	if err != nil {
		logger.Logger.Error("Failed to initialize messenger", "error", err)
		return 1
	}
	defer func() {
		if err := msgr.Close(); err != nil {
			logger.Logger.Warn("Error closing messenger", "error", err)
		}
	}()

	runner := NewRunner(cfg, msgr, out, staticCtx)
	data := runner.Run(ctx)
	data.Threshold = threshold
	data.SourceFile = opts.SuitePath
	data.RunID = staticCtx["RUN_ID"]

	if rl, ok := msgr.(*messenger.RateLimitedMessenger); ok {
		stats := rl.Stats()
		logger.Logger.Info("Messenger rate limit stats",
			"throttled", stats.ThrottleCount,
			"throttle_wait", stats.ThrottleWaitTime,
			"busy_hits", stats.BusyHits,
			"retries", stats.RetryCount,
			"retry_successes", stats.RetrySuccessCount)
	}

	if cfg.AISummary.Enabled {
		// the summary still runs after an interrupt so the partial run is explained
		res := summary.Run(context.WithoutCancel(ctx), cfg, staticCtx, data)
		if res.Success {
			data.AISummary = res.Analysis
		}
	}

	fmt.Fprintln(out, "\n"+strings.Repeat("=", 80))
	fmt.Fprintln(out, "SIMULATION COMPLETE - GENERATING REPORT")
	fmt.Fprintln(out, strings.Repeat("=", 80)+"\n")

	if err := GenerateReports(out, data, opts.ReportTypes, opts.OutputPath); err != nil {
		logger.Logger.Error("Failed to generate reports", "error", err)
		return 1
	}
	return ExitCode(data)
}

// LoadSuite reads the suite file, or the built-in suite when path is empty.
func LoadSuite(path string) (*model.SuiteConfiguration, error) {
	if path == "" {
		logger.Logger.Info("Using built-in suite", "suite", suite.DefaultPath)
		return suite.Default()
	}
	if err := ValidateSuiteInputFile(path); err != nil {
		return nil, err
	}
	logger.Logger.Info("Loading suite configuration", "path", path)
	return model.ParseSuiteConfig(path)
}

// ExitCode is 0 when the success rate meets the criterion and the run was
// not interrupted.
func ExitCode(d report.Data) int {
	s := d.Summary()
	if s.Total == 0 {
		logger.Logger.Warn("No results were recorded")
		return 1
	}
	if d.Interrupted {
		logger.Logger.Warn("Simulation was interrupted", "recorded", s.Total)
		return 1
	}
	if s.SuccessRate >= d.Threshold {
		logger.Logger.Info("Suite success rate matched", "criteria", d.Threshold, "actual", s.SuccessRate)
		return 0
	}
	logger.Logger.Warn("Suite success rate not matched", "criteria", d.Threshold, "actual", s.SuccessRate)
	return 1
}

func ValidateSuiteInputFile(path string) error {
	if path == "" {
		return fmt.Errorf("input file path is empty")
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("file does not exist: %s", path)
		}
		return fmt.Errorf("cannot access file %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("path is a directory, not a file: %s", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("file is empty: %s", path)
	}

	ext := filepath.Ext(path)
	if ext != ".yaml" && ext != ".yml" {
		logger.Logger.Warn("Unexpected file extension", "extension", ext, "expected", ".yaml, .yml")
		return fmt.Errorf("unexpected file extension: %s", ext)
	}
	return nil
}

func ValidateSuiteConfig(config *model.SuiteConfiguration) error {
	if config == nil {
		return fmt.Errorf("configuration is nil")
	}
	if len(config.Phases) == 0 {
		return fmt.Errorf("no phases configured")
	}

	switch config.Messenger.Type {
	case model.MessengerMemory, model.MessengerRedis, model.MessengerHTTP, model.MessengerMCP, "":
	default:
		return fmt.Errorf("unsupported messenger type: %s", config.Messenger.Type)
	}

	agents := make(map[string]bool, len(config.Agents))
	for i, a := range config.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent at index %d has empty name", i)
		}
		if agents[a.Name] {
			return fmt.Errorf("duplicate agent name: %s", a.Name)
		}
		agents[a.Name] = true
	}

	var errs []error
	phases := make(map[string]bool, len(config.Phases))
	for i, p := range config.Phases {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("phase at index %d has empty name", i))
			continue
		}
		if phases[p.Name] {
			errs = append(errs, fmt.Errorf("duplicate phase name: %s", p.Name))
		}
		phases[p.Name] = true

		switch p.EffectiveKind() {
		case model.PhaseSequence:
		case model.PhaseBurst:
			if p.Repeat <= 0 {
				errs = append(errs, fmt.Errorf("phase %s: burst repeat must be greater than 0", p.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("phase %s: unknown kind %q", p.Name, p.Kind))
		}
		if len(p.Steps) == 0 {
			errs = append(errs, fmt.Errorf("phase %s: no steps configured", p.Name))
		}

		for j, s := range p.Steps {
			s = s.Resolve(p)
			if s.To == "" {
				errs = append(errs, fmt.Errorf("phase %s step %d: recipient is empty", p.Name, j+1))
			}
			if !s.Type.IsValid() {
				errs = append(errs, fmt.Errorf("phase %s step %d: unknown message type %q", p.Name, j+1, s.Type))
			}
			if !s.Priority.IsValid() {
				errs = append(errs, fmt.Errorf("phase %s step %d: unknown priority %q", p.Name, j+1, s.Priority))
			}
		}
	}
	return errors.Join(errs...)
}

func ValidateReportTypes(reportTypes []string) error {
	for _, rt := range reportTypes {
		if err := report.ValidateType(rt); err != nil {
			return err
		}
	}
	return nil
}

// CreateStaticTemplateContext builds the context shared by every template in
// a run: env vars, RUN_ID, TEMP_DIR, SUITE_DIR and the suite variables.
// Variables may reference each other and the built-ins.
func CreateStaticTemplateContext(sourceFile string, variables map[string]string) map[string]string {
	templateCtx := model.GetAllEnv()
	templateCtx["RUN_ID"] = uuid.New().String()
	templateCtx["TEMP_DIR"] = os.TempDir()

	if sourceFile != "" {
		if absPath, err := filepath.Abs(sourceFile); err == nil {
			templateCtx["SUITE_DIR"] = filepath.Dir(absPath)
		}
	} else if wd, err := os.Getwd(); err == nil {
		templateCtx["SUITE_DIR"] = wd
	}

	for k, v := range variables {
		templateCtx[k] = model.RenderTemplate(v, templateCtx)
	}
	return templateCtx
}

// RenderMessengerConfig applies the template context to connection settings.
func RenderMessengerConfig(cfg model.MessengerConfig, templateCtx map[string]string) model.MessengerConfig {
	cfg.Redis.Addr = model.RenderTemplate(cfg.Redis.Addr, templateCtx)
	cfg.Redis.Password = model.RenderTemplate(cfg.Redis.Password, templateCtx)
	cfg.Redis.Prefix = model.RenderTemplate(cfg.Redis.Prefix, templateCtx)
	cfg.HTTP.BaseURL = model.RenderTemplate(cfg.HTTP.BaseURL, templateCtx)
	cfg.HTTP.Headers = renderAll(cfg.HTTP.Headers, templateCtx)
	cfg.MCP.Command = model.RenderTemplate(cfg.MCP.Command, templateCtx)
	cfg.MCP.URL = model.RenderTemplate(cfg.MCP.URL, templateCtx)
	cfg.MCP.Headers = renderAll(cfg.MCP.Headers, templateCtx)
	return cfg
}

func renderAll(values []string, templateCtx map[string]string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = model.RenderTemplate(v, templateCtx)
	}
	return out
}

// GenerateReports prints the console summary and writes one file per type.
// Markdown reports are also echoed to out.
func GenerateReports(out io.Writer, d report.Data, reportTypes []string, outputPath string) error {
	if outputPath == "" {
		outputPath = DefaultReportFile
	}

	for _, rt := range reportTypes {
		path := report.OutputPath(outputPath, rt)
		if err := report.Write(d, rt, path); err != nil {
			return fmt.Errorf("failed to write %s report: %w", rt, err)
		}
		if rt == report.TypeMarkdown {
			fmt.Fprint(out, report.GenerateMarkdown(d))
		}
		fmt.Fprintf(out, "\nReport saved: %s\n", path)
	}

	report.PrintConsoleSummary(out, d)
	return nil
}

func ParseTimeout(timeoutStr string) time.Duration {
	if timeoutStr == "" {
		return DefaultSendTimeout
	}

	dur, err := time.ParseDuration(timeoutStr)
	if err != nil {
		logger.Logger.Warn("Invalid timeout, using default",
			"timeout", timeoutStr,
			"default", DefaultSendTimeout,
			"error", err)
		return DefaultSendTimeout
	}
	if dur <= 0 {
		logger.Logger.Warn("Non-positive timeout, using default", "timeout", dur, "default", DefaultSendTimeout)
		return DefaultSendTimeout
	}
	return dur
}

func ParseDelay(delayStr string) time.Duration {
	if delayStr == "" {
		return DefaultDelay
	}

	dur, err := time.ParseDuration(delayStr)
	if err != nil {
		logger.Logger.Warn("Invalid delay, using default",
			"delay", delayStr,
			"default", DefaultDelay,
			"error", err)
		return DefaultDelay
	}
	if dur < 0 {
		logger.Logger.Warn("Negative delay, using 0", "delay", dur)
		return 0
	}
	return dur
}
