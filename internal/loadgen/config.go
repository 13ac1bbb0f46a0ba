package loadgen

import "time"

// Config holds configuration for a load run.
type Config struct {
	BaseURL        string        // Base URL of the service
	ProjectID      string        // Project the events are submitted for
	OrganizationID string        // Organization owning the project
	NumEvents      int           // Number of events to generate
	BatchSize      int           // Events per intake request
	Signatures     int           // Distinct error signatures to spread events over
	DuplicateRatio float64       // Share of events that reuse an earlier reference id
	Workers        int           // Number of concurrent workers
	Timeout        time.Duration // HTTP request timeout
	OutputFile     string        // Output file for events
	Verbose        bool          // Enable verbose logging
}

// Event is the wire shape submitted to the intake endpoint.
type Event struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Source      string     `json:"source,omitempty"`
	Message     string     `json:"message,omitempty"`
	Date        string     `json:"date"`
	ReferenceID string     `json:"reference_id,omitempty"`
	Error       *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo is the error payload of a generated event.
type ErrorInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Outcome mirrors the per-event result returned by the intake endpoint.
type Outcome struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	StackID string `json:"stack_id,omitempty"`
}

// Result mirrors the intake response body.
type Result struct {
	Accepted  int       `json:"accepted"`
	Discarded int       `json:"discarded"`
	Errored   int       `json:"errored"`
	Outcomes  []Outcome `json:"outcomes"`
}

// Stats holds run statistics.
type Stats struct {
	EventsGenerated    int
	ExpectedDuplicates int
	BatchesSubmitted   int
	BatchesFailed      int
	EventsAccepted     int
	EventsDiscarded    int
	EventsErrored      int
	StacksSeen         int
	StartTime          time.Time
	EndTime            time.Time
	Duration           time.Duration
}
