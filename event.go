package qaspace

import (
	"strings"
	"time"
)

// Event is one of the lifecycle events emitted by the test runner:
// TestCaseStarted, TestCaseFinished, EmbedEvent, WriteEvent or TestRunFinished.
type Event interface {
	eventName() string
}

// TestCase identifies a single scenario of a feature file.
type TestCase struct {
	ID   string
	Name string
	URI  string
	// Tags are the tag names including the leading "@", e.g. "@JIRATestKey(QA-1)".
	Tags []string
}

type Status string

const (
	StatusPassed    Status = "passed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusPending   Status = "pending"
	StatusUndefined Status = "undefined"
	StatusAmbiguous Status = "ambiguous"
)

// FirstLetterCapitalizedName returns the status as reported to the result
// processor, e.g. "Passed".
func (s Status) FirstLetterCapitalizedName() string {
	if s == "" {
		return ""
	}

	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

// Result is the outcome of a finished test case.
type Result struct {
	Status   Status
	Duration time.Duration
	// Error is set if the test case failed.
	Error error
}

type TestCaseStarted struct {
	Time     time.Time
	TestCase TestCase
}

type TestCaseFinished struct {
	Time     time.Time
	TestCase TestCase
	Result   Result
}

// EmbedEvent carries binary data that a step attached to the current test case.
type EmbedEvent struct {
	Time     time.Time
	MimeType string
	Data     []byte
}

// WriteEvent carries text output that a step attached to the current test case.
type WriteEvent struct {
	Time time.Time
	Text string
}

type TestRunFinished struct {
	Time time.Time
}

func (TestCaseStarted) eventName() string  { return "test-case-started" }
func (TestCaseFinished) eventName() string { return "test-case-finished" }
func (EmbedEvent) eventName() string       { return "embed" }
func (WriteEvent) eventName() string       { return "write" }
func (TestRunFinished) eventName() string  { return "test-run-finished" }
