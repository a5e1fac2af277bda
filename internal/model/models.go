// The `model` package holds the types shared by the reporter, its storage backends and hooks.
// Types required by a library user are reexported by the qaspace package.
package model

import (
	"time"
)

// Run is a single execution of a BDD test suite. Only test cases that were tagged
// for reporting end up in Results.
type Run struct {
	// ID uniquely identifies the run.
	ID string `json:"id"`
	// Name is a user provided label, e.g. the name of the pipeline.
	Name string `json:"name"`
	// Environment is additional information on where the tests were run (e.g. cluster name).
	Environment string `json:"environment"`
	// Start is the time the first test result was recorded.
	Start time.Time `json:"start"`
	// End is the time the results were saved.
	End time.Time `json:"end"`
	// Results contains the recorded test results in the order they were started.
	Results []TestResult `json:"results"`
}

// Result returns "Failed" if any test result has not passed, otherwise "Passed".
func (r Run) Result() string {
	for _, tr := range r.Results {
		if !tr.Passed() {
			return StatusFailed
		}
	}

	return StatusPassed
}

// Failed returns all test results that have not passed.
func (r Run) Failed() []TestResult {
	failed := []TestResult{}

	for _, tr := range r.Results {
		if !tr.Passed() {
			failed = append(failed, tr)
		}
	}

	return failed
}

// Summary is the attachment-less view of a run that is returned by listings.
func (r Run) Summary() RunSummary {
	return RunSummary{
		ID:          r.ID,
		Name:        r.Name,
		Environment: r.Environment,
		Start:       r.Start,
		End:         r.End,
		Result:      r.Result(),
		Tests:       len(r.Results),
		Failed:      len(r.Failed()),
	}
}

// TestResult is the outcome of a single test case tagged with a ticket key.
type TestResult struct {
	RunID string `json:"runId"`
	// Seq is the position of the result within its run, starting at 1.
	Seq int `json:"seq"`
	// Key is the ticket identifier extracted from the test case tags.
	Key string `json:"key"`
	// Status is the capitalized name of the test case status, e.g. "Passed".
	Status string `json:"status"`
	// Time is the formatted duration as reported to the tracking backend.
	Time string `json:"time"`
	// Duration is the raw duration of the test case.
	Duration time.Duration `json:"duration"`
	// Exceptions contains the error messages recorded for the test case.
	Exceptions []string `json:"exceptions"`
	// Attachments contains the files embedded or written during the test case.
	Attachments []Attachment `json:"attachments"`
	Start       time.Time    `json:"start"`
}

func (tr TestResult) Passed() bool {
	return tr.Status == StatusPassed
}

// Attachment is a file that was handed to the processor during a test case.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"-"`
	Size     int    `json:"size"`
}

const (
	StatusPassed = "Passed"
	StatusFailed = "Failed"
)
