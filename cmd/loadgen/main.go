package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/faultline/internal/loadgen"
	"github.com/okian/faultline/pkg/logger"
)

// Default configuration constants.
const (
	defaultNumEvents  = 10000
	defaultBatchSize  = 100
	defaultSignatures = 25
	defaultDuplicates = 0.1
	defaultWorkers    = 2 // multiplier for runtime.NumCPU()
	defaultTimeout    = 30 * time.Second
	defaultRunTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		projectID  = flag.String("project", "loadgen", "Project id header")
		orgID      = flag.String("org", "loadgen", "Organization id header")
		numEvents  = flag.Int("events", defaultNumEvents, "Number of events to generate and submit")
		batchSize  = flag.Int("batch", defaultBatchSize, "Events per request")
		signatures = flag.Int("signatures", defaultSignatures, "Distinct error signatures")
		duplicates = flag.Float64("duplicates", defaultDuplicates, "Share of events reusing a reference id")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		outputFile = flag.String("output", "", "Output file for generated events")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		loadgen.ShowHelp()
		return
	}

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	cfg := &loadgen.Config{
		BaseURL:        *baseURL,
		ProjectID:      *projectID,
		OrganizationID: *orgID,
		NumEvents:      *numEvents,
		BatchSize:      *batchSize,
		Signatures:     max(*signatures, 1),
		DuplicateRatio: *duplicates,
		Workers:        max(*workers, 1),
		Timeout:        *timeout,
		OutputFile:     *outputFile,
		Verbose:        *verbose,
	}

	if _, err := loadgen.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("Load run failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1)
	}
}
