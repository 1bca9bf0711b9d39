// Package report holds the failure taxonomy of the offline cache and the
// single reporter every component sends its outcomes to.
package report

import (
	"log"
	"sync"

	"github.com/jmgilman/go/errors"
)

// Outcome classifies how an operation ended.
type Outcome string

const (
	// OutcomeSuccess means the operation did what was asked.
	OutcomeSuccess Outcome = "success"
	// OutcomeRecoverable means something failed but a usable result was still produced.
	OutcomeRecoverable Outcome = "recoverable"
	// OutcomeFatal means nothing usable could be produced.
	OutcomeFatal Outcome = "fatal"
)

// Event is a single outcome sent to a Reporter.
type Event struct {
	Operation string // fetch, precache, activate, sync, message
	Subject   string // request key, generation id or mutation id
	Outcome   Outcome
	Err       error
}

// Reporter receives outcomes from the cache subsystem.
type Reporter interface {
	Report(event Event)
}

// Config holds configuration options for the log reporter
type Config struct {
	Verbose bool
}

// LogReporter logs events and keeps running counters of outcomes and error codes.
type LogReporter struct {
	mu       sync.Mutex
	verbose  bool
	outcomes map[Outcome]int
	codes    map[errors.ErrorCode]int
}

// Stats is a snapshot of the counters kept by LogReporter.
type Stats struct {
	Outcomes map[Outcome]int          `json:"outcomes"`
	Codes    map[errors.ErrorCode]int `json:"codes"`
}

// NewLogReporter creates a reporter that only logs fatal outcomes
func NewLogReporter() *LogReporter {
	return NewLogReporterWithConfig(&Config{Verbose: false})
}

// NewLogReporterWithConfig creates a reporter with configuration
func NewLogReporterWithConfig(config *Config) *LogReporter {
	if config == nil {
		config = &Config{}
	}
	return &LogReporter{
		verbose:  config.Verbose,
		outcomes: make(map[Outcome]int),
		codes:    make(map[errors.ErrorCode]int),
	}
}

// Report records the event and logs it according to its outcome.
func (r *LogReporter) Report(event Event) {
	r.mu.Lock()
	r.outcomes[event.Outcome]++
	if event.Err != nil {
		r.codes[errors.GetCode(event.Err)]++
	}
	r.mu.Unlock()

	switch event.Outcome {
	case OutcomeFatal:
		log.Printf("[%s] %s failed: %v", event.Operation, event.Subject, event.Err)
	case OutcomeRecoverable:
		if r.verbose {
			log.Printf("[%s] %s recovered: %v", event.Operation, event.Subject, event.Err)
		}
	default:
		if r.verbose {
			log.Printf("[%s] %s ok", event.Operation, event.Subject)
		}
	}
}

// Stats returns a copy of the counters.
func (r *LogReporter) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		Outcomes: make(map[Outcome]int, len(r.outcomes)),
		Codes:    make(map[errors.ErrorCode]int, len(r.codes)),
	}
	for k, v := range r.outcomes {
		stats.Outcomes[k] = v
	}
	for k, v := range r.codes {
		stats.Codes[k] = v
	}
	return stats
}

// Discard is a Reporter that drops every event.
type Discard struct{}

// Report implements Reporter.
func (Discard) Report(Event) {}
