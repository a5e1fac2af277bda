package qaspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/raphi011/qaspace/internal/metric"
)

// Processor accumulates the results of tagged test cases and persists them.
type Processor interface {
	// StartTest begins tracking the test case identified by key.
	StartTest(ctx context.Context, key string) (TestRecorder, error)
	// SaveResults persists everything recorded so far.
	SaveResults(ctx context.Context) error
}

// TestRecorder records the outcome of a single tracked test case.
type TestRecorder interface {
	SetStatus(status string)
	SetTime(time string)
	AddException(err error)
	// AddAttachment hands over the file at path. Implementations must be done
	// reading the file when AddAttachment returns, the caller deletes it afterwards.
	AddAttachment(ctx context.Context, path, mimeType string) error
}

// durationRecorder is implemented by recorders that also want the raw duration.
type durationRecorder interface {
	SetDuration(d time.Duration)
}

// ReportingError is returned by the listener when a result could not be
// forwarded to the processor. Reporting is best effort, callers log these
// errors and never fail a test case because of them.
type ReportingError struct {
	Op      string
	TestKey string
	Err     error
}

func (e *ReportingError) Error() string {
	if e.TestKey == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("%s of %q: %v", e.Op, e.TestKey, e.Err)
}

func (e *ReportingError) Unwrap() error {
	return e.Err
}

// Listener forwards the results of test cases tagged with TriggerTag to a Processor.
// It keeps no state between events: the tracked test case travels in the
// context returned from the TestCaseStarted handler.
type Listener struct {
	processor     Processor
	attachmentDir string
	log           *slog.Logger
	now           func() time.Time
}

type ListenerOption func(l *Listener)

func NewListener(p Processor, opts ...ListenerOption) *Listener {
	l := &Listener{
		processor:     p,
		attachmentDir: ".",
		log:           slog.Default(),
		now:           time.Now,
	}

	for _, o := range opts {
		o(l)
	}

	return l
}

func (l *Listener) SetEventPublisher(p *EventPublisher) {
	p.OnTestCaseFinished(l.handleTestCaseFinished)
	p.OnTestCaseStarted(l.handleTestCaseStarted)
	p.OnTestRunFinished(l.handleTestRunFinished)
	p.OnEmbed(l.handleEmbedEvent)
	p.OnWrite(l.handleWriteEvent)
}

type trackedTestKey struct{}

type trackedTest struct {
	key      string
	testCase TestCase
	recorder TestRecorder
}

func withTrackedTest(ctx context.Context, t *trackedTest) context.Context {
	return context.WithValue(ctx, trackedTestKey{}, t)
}

func trackedTestFrom(ctx context.Context) (*trackedTest, bool) {
	t, ok := ctx.Value(trackedTestKey{}).(*trackedTest)

	return t, ok && t != nil
}

// TrackedKey returns the ticket key of the test case tracked in ctx.
func TrackedKey(ctx context.Context) (string, bool) {
	t, ok := trackedTestFrom(ctx)
	if !ok {
		return "", false
	}

	return t.key, true
}

func (l *Listener) handleTestCaseStarted(ctx context.Context, e TestCaseStarted) (context.Context, error) {
	// a test case never inherits tracking from a previous one
	ctx = withTrackedTest(ctx, nil)

	tag, ok := FindTriggerTag(e.TestCase.Tags)
	if !ok {
		return ctx, nil
	}

	key := ExtractKey(tag)
	if key == "" {
		l.log.Warn("test case has a trigger tag without a key, not reporting it", "test-case", e.TestCase.Name, "tag", tag)
		return ctx, nil
	}

	recorder, err := l.processor.StartTest(ctx, key)
	if err != nil {
		l.log.Error("unable to start tracking test case", "test-key", key, "error", err)
		return ctx, &ReportingError{Op: "start test", TestKey: key, Err: err}
	}

	return withTrackedTest(ctx, &trackedTest{
		key:      key,
		testCase: e.TestCase,
		recorder: recorder,
	}), nil
}

func (l *Listener) handleTestCaseFinished(ctx context.Context, e TestCaseFinished) (context.Context, error) {
	t, ok := trackedTestFrom(ctx)
	if !ok {
		return ctx, nil
	}

	status := e.Result.Status.FirstLetterCapitalizedName()

	t.recorder.SetStatus(status)
	t.recorder.SetTime(FormatDuration(e.Result.Duration))
	if d, ok := t.recorder.(durationRecorder); ok {
		d.SetDuration(e.Result.Duration)
	}
	if e.Result.Error != nil {
		t.recorder.AddException(e.Result.Error)
	}

	metric.TestsTrackedTotal.WithLabelValues(status).Inc()

	return withTrackedTest(ctx, nil), nil
}

func (l *Listener) handleTestRunFinished(ctx context.Context, e TestRunFinished) (context.Context, error) {
	if err := l.processor.SaveResults(ctx); err != nil {
		l.log.Error("unable to save test results", "error", err)
		return ctx, &ReportingError{Op: "save results", Err: err}
	}

	return ctx, nil
}

func (l *Listener) handleEmbedEvent(ctx context.Context, e EmbedEvent) (context.Context, error) {
	t, ok := trackedTestFrom(ctx)
	if !ok {
		return ctx, nil
	}

	ext, known := ExtensionFor(e.MimeType)
	if !known {
		l.log.Warn("unsupported attachment mime type", "test-key", t.key, "mime-type", e.MimeType, "extension", ext)
	}

	return ctx, l.sendAttachment(ctx, t, ext, e.MimeType, e.Data)
}

func (l *Listener) handleWriteEvent(ctx context.Context, e WriteEvent) (context.Context, error) {
	t, ok := trackedTestFrom(ctx)
	if !ok {
		return ctx, nil
	}

	return ctx, l.sendAttachment(ctx, t, "txt", "text/plain", []byte(EscapeJSON(e.Text)))
}

// sendAttachment stages data in a file, hands it to the processor and
// deletes it again.
func (l *Listener) sendAttachment(ctx context.Context, t *trackedTest, ext, mimeType string, data []byte) error {
	log := l.log.With("test-key", t.key, "mime-type", mimeType)

	path, err := writeAttachmentFile(l.attachmentDir, l.now(), ext, data)
	if err != nil {
		metric.AttachmentFailuresTotal.WithLabelValues(metric.ReasonWrite).Inc()
		log.Error("unable to write attachment", "error", err)
		return &ReportingError{Op: "write attachment", TestKey: t.key, Err: err}
	}

	defer func() {
		if err := os.Remove(path); err != nil {
			metric.AttachmentFailuresTotal.WithLabelValues(metric.ReasonDelete).Inc()
			log.Warn("unable to delete attachment file", "path", path, "error", err)
		}
	}()

	if err := t.recorder.AddAttachment(ctx, path, mimeType); err != nil {
		metric.AttachmentFailuresTotal.WithLabelValues(metric.ReasonHandoff).Inc()
		log.Error("unable to hand over attachment", "path", path, "error", err)
		return &ReportingError{Op: "add attachment", TestKey: t.key, Err: err}
	}

	metric.AttachmentsTotal.WithLabelValues(ext).Inc()

	return nil
}
