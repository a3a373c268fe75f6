package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mykhaliev/agent-sim/engine"
	"github.com/mykhaliev/agent-sim/logger"
	"github.com/mykhaliev/agent-sim/suite"
	"github.com/mykhaliev/agent-sim/templates"
	"github.com/mykhaliev/agent-sim/version"
)

const (
	AppName = "agent-sim"
)

func main() {
	suitePath := flag.String("f", "", "Path to the suite configuration file (YAML); the built-in NULL suite runs when empty")
	outputPath := flag.String("o", "", "Report file path without extension (default simulation_report)")
	logPath := flag.String("l", "", "Path to the log file (if not set, logs to stdout)")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	showVersion := flag.Bool("v", false, "Show version and exit")
	reportType := flag.String("reportType", "md", "Comma-separated report types: md, json, html")
	messengerType := flag.String("messenger", "", "Override the suite messenger type: memory, redis, http, mcp")
	dump := flag.Bool("dump", false, "Print the built-in suite YAML and exit")

	flag.Parse()

	if *dump {
		os.Stdout.Write(suite.Raw())
		return
	}

	fmt.Printf("Version: %s\nCommit: %s\nBuildDate: %s\n",
		version.Version, version.Commit, version.BuildDate)
	if *showVersion {
		return
	}

	logWriter, logFile, err := logger.SetupLogWriter(*logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to setup logging: %v\n", err)
		os.Exit(1)
	}

	logger.SetupLogger(logWriter, *verbose)
	templates.NewTemplateEngine()

	var reportTypes []string
	for _, rt := range strings.Split(*reportType, ",") {
		if rt = strings.TrimSpace(rt); rt != "" {
			reportTypes = append(reportTypes, rt)
		}
	}
	if err := engine.ValidateReportTypes(reportTypes); err != nil {
		logger.Logger.Error("Invalid report type", "error", err)
		os.Exit(1)
	}

	logger.Logger.Info("Starting application",
		"app", AppName,
		"suite", *suitePath,
		"output", *outputPath,
		"logfile", *logPath,
		"verbose", *verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := engine.Run(ctx, engine.Options{
		SuitePath:   *suitePath,
		OutputPath:  *outputPath,
		ReportTypes: reportTypes,
		Verbose:     *verbose,
		Messenger:   *messengerType,
		Out:         os.Stdout,
	})
	stop()

	if logFile != nil {
		logFile.Close()
	}
	os.Exit(code)
}
