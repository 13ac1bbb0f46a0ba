// Package loadgen drives a running faultline service with generated error
// batches and checks the deduplication and stacking it observes.
package loadgen

import "os"

// ShowHelp prints usage information for the load generator.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`Faultline Load Generator
========================

Submits generated error batches to a running service and verifies that
reference ids are accepted at most once and that each signature maps to
exactly one stack.

Usage:
  go run ./cmd/loadgen [options]

Options:
  -url string         Base URL of the service (default "http://localhost:9080")
  -project string     Project id header (default "loadgen")
  -org string         Organization id header (default "loadgen")
  -events int         Number of events to generate (default 10000)
  -batch int          Events per request (default 100)
  -signatures int     Distinct error signatures (default 25)
  -duplicates float   Share of events reusing a reference id (default 0.1)
  -workers int        Number of concurrent workers (default CPU cores * 2)
  -timeout duration   HTTP request timeout (default 30s)
  -output string      Write the generated events to this file
  -verbose            Enable verbose logging
  -help               Show this help message
`)
}
