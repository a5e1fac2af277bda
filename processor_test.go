package qaspace_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/raphi011/qaspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var processorStart = time.Date(2023, 4, 1, 10, 0, 0, 0, time.UTC)

// stepClock returns a clock that advances by one second on every call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	now := processorStart.Add(-time.Second)

	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()

		now = now.Add(time.Second)

		return now
	}
}

func memoryStorage(t *testing.T) qaspace.Storage {
	t.Helper()

	s, err := qaspace.OpenStorage(qaspace.StorageConfig{Driver: "sqlite"}, slog.Default())
	require.NoError(t, err)

	return s
}

type recordingHook struct {
	mu      sync.Mutex
	initErr error
	runs    []qaspace.Run
}

func (h *recordingHook) Name() string { return "recording" }

func (h *recordingHook) Init() error { return h.initErr }

func (h *recordingHook) RunSaved(ctx context.Context, run qaspace.Run) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.runs = append(h.runs, run)
}

func (h *recordingHook) saved() []qaspace.Run {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]qaspace.Run{}, h.runs...)
}

type asyncHook struct {
	delay time.Duration
	saved recordingHook
}

func (h *asyncHook) Name() string { return "async" }

func (h *asyncHook) Init() error { return nil }

func (h *asyncHook) RunSavedAsync(ctx context.Context, run qaspace.Run) {
	time.Sleep(h.delay)
	h.saved.RunSaved(ctx, run)
}

type panicHook struct{}

func (panicHook) Name() string { return "panic" }

func (panicHook) Init() error { return nil }

func (panicHook) RunSavedAsync(ctx context.Context, run qaspace.Run) { panic("hook failed") }

type noopHook struct{}

func (noopHook) Name() string { return "noop" }

func (noopHook) Init() error { return nil }

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	return path
}

func newProcessor(t *testing.T, opts ...qaspace.ProcessorOption) *qaspace.ResultProcessor {
	t.Helper()

	opts = append([]qaspace.ProcessorOption{qaspace.WithProcessorClock(stepClock())}, opts...)

	p, err := qaspace.NewResultProcessor(opts...)
	require.NoError(t, err)

	return p
}

func TestSaveResultsPersistsRun(t *testing.T) {
	ctx := context.Background()
	s := memoryStorage(t)

	p := newProcessor(t,
		qaspace.WithStorage(s),
		qaspace.WithRunName("nightly"),
		qaspace.WithEnvironment("staging"),
	)
	defer p.Close(ctx)

	r, err := p.StartTest(ctx, "QA-1")
	require.NoError(t, err)

	r.SetStatus("Failed")
	r.SetTime("0m 1.1500s")
	r.AddException(errors.New("expected 2 apples"))
	require.NoError(t, r.AddAttachment(ctx, writeTempFile(t, "attachment_1.png", []byte("png")), "image/png"))

	// the file may be deleted as soon as AddAttachment returned
	require.NoError(t, p.SaveResults(ctx))

	run, err := s.LoadRun(ctx, p.RunID())
	require.NoError(t, err)

	want := qaspace.Run{
		ID:          p.RunID(),
		Name:        "nightly",
		Environment: "staging",
		Start:       processorStart,
		End:         processorStart.Add(time.Second),
		Results: []qaspace.TestResult{
			{
				RunID:      p.RunID(),
				Seq:        1,
				Key:        "QA-1",
				Status:     "Failed",
				Time:       "0m 1.1500s",
				Exceptions: []string{"expected 2 apples"},
				Attachments: []qaspace.Attachment{
					{Name: "attachment_1.png", MimeType: "image/png", Data: []byte("png"), Size: 3},
				},
				Start: processorStart,
			},
		},
	}

	if diff := cmp.Diff(want, run, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("loaded run mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveResultsWithoutResultsIsNoop(t *testing.T) {
	ctx := context.Background()
	s := memoryStorage(t)
	hook := &recordingHook{}

	p := newProcessor(t, qaspace.WithStorage(s), qaspace.WithHook(hook))
	defer p.Close(ctx)

	require.NoError(t, p.SaveResults(ctx))

	runs, err := s.LoadRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Empty(t, hook.saved())
}

func TestSecondSaveAddsNewResultsToRun(t *testing.T) {
	ctx := context.Background()
	s := memoryStorage(t)
	hook := &recordingHook{}

	p := newProcessor(t, qaspace.WithStorage(s), qaspace.WithHook(hook))
	defer p.Close(ctx)

	r, err := p.StartTest(ctx, "QA-1")
	require.NoError(t, err)
	r.SetStatus("Passed")

	require.NoError(t, p.SaveResults(ctx))
	require.NoError(t, p.SaveResults(ctx))

	r, err = p.StartTest(ctx, "QA-2")
	require.NoError(t, err)
	r.SetStatus("Passed")

	require.NoError(t, p.SaveResults(ctx))

	run, err := s.LoadRun(ctx, p.RunID())
	require.NoError(t, err)

	keys := []string{}
	for _, tr := range run.Results {
		keys = append(keys, tr.Key)
	}

	assert.Equal(t, []string{"QA-1", "QA-2"}, keys)

	saved := hook.saved()
	require.Len(t, saved, 2)
	assert.Len(t, saved[0].Results, 1)
	assert.Len(t, saved[1].Results, 2)
}

type failingStorage struct {
	qaspace.Storage
	failures int
}

func (s *failingStorage) InsertTestResult(ctx context.Context, tr qaspace.TestResult) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("disk full")
	}

	return s.Storage.InsertTestResult(ctx, tr)
}

func TestFailedSaveKeepsResultsForTheNextSave(t *testing.T) {
	ctx := context.Background()
	s := &failingStorage{Storage: memoryStorage(t), failures: 1}
	hook := &recordingHook{}

	p := newProcessor(t, qaspace.WithStorage(s), qaspace.WithHook(hook))
	defer p.Close(ctx)

	r, err := p.StartTest(ctx, "QA-1")
	require.NoError(t, err)
	r.SetStatus("Passed")

	assert.ErrorContains(t, p.SaveResults(ctx), "disk full")
	assert.Empty(t, hook.saved())

	_, err = s.LoadRun(ctx, p.RunID())
	var notFound qaspace.NotFoundError
	assert.ErrorAs(t, err, &notFound, "the failed transaction must be rolled back")

	require.NoError(t, p.SaveResults(ctx))

	run, err := s.LoadRun(ctx, p.RunID())
	require.NoError(t, err)
	assert.Len(t, run.Results, 1)
}

func TestSaveResultsWritesReport(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	p := newProcessor(t, qaspace.WithReportDir(dir), qaspace.WithReportFile("results.json"))
	defer p.Close(ctx)

	r, err := p.StartTest(ctx, "QA/1")
	require.NoError(t, err)
	r.SetStatus("Passed")
	require.NoError(t, r.AddAttachment(ctx, writeTempFile(t, "log.txt", []byte("hello")), "text/plain"))

	require.NoError(t, p.SaveResults(ctx))

	content, err := os.ReadFile(filepath.Join(dir, "results.json"))
	require.NoError(t, err)

	var report struct {
		ID      string `json:"id"`
		Summary struct {
			Result string `json:"result"`
			Tests  int    `json:"tests"`
		} `json:"summary"`
		Results []struct {
			Key         string `json:"key"`
			Attachments []struct {
				Name string `json:"name"`
				Size int    `json:"size"`
			} `json:"attachments"`
		} `json:"results"`
	}

	require.NoError(t, json.Unmarshal(content, &report))
	assert.Equal(t, p.RunID(), report.ID)
	assert.Equal(t, "Passed", report.Summary.Result)
	assert.Equal(t, 1, report.Summary.Tests)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "QA/1", report.Results[0].Key)
	assert.Equal(t, 5, report.Results[0].Attachments[0].Size)

	attachment, err := os.ReadFile(filepath.Join(dir, "attachments", p.RunID(), "QA_1", "log.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(attachment))
}

func TestAddAttachmentOfMissingFileFails(t *testing.T) {
	p := newProcessor(t)

	r, err := p.StartTest(context.Background(), "QA-1")
	require.NoError(t, err)

	err = r.AddAttachment(context.Background(), filepath.Join(t.TempDir(), "missing.png"), "image/png")
	assert.ErrorContains(t, err, "reading attachment")
}

func TestCloseWaitsForAsyncHooks(t *testing.T) {
	ctx := context.Background()
	hook := &asyncHook{delay: 50 * time.Millisecond}

	p := newProcessor(t, qaspace.WithHook(hook), qaspace.WithHook(panicHook{}))

	r, err := p.StartTest(ctx, "QA-1")
	require.NoError(t, err)
	r.SetStatus("Failed")

	require.NoError(t, p.SaveResults(ctx))

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	require.NoError(t, p.Close(closeCtx))

	saved := hook.saved.saved()
	require.Len(t, saved, 1)
	assert.Equal(t, "Failed", saved[0].Result())
}

func TestAsyncHooksAreNotStartedAfterClose(t *testing.T) {
	ctx := context.Background()
	hook := &asyncHook{}

	p := newProcessor(t, qaspace.WithHook(hook))

	require.NoError(t, p.Close(ctx))

	_, err := p.StartTest(ctx, "QA-1")
	require.NoError(t, err)

	require.NoError(t, p.SaveResults(ctx))

	// give a wrongly started hook the chance to run
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, hook.saved.saved())
}

func TestCloseAndSaveResultsRunConcurrently(t *testing.T) {
	ctx := context.Background()
	hook := &asyncHook{}

	p := newProcessor(t, qaspace.WithHook(hook))

	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := p.StartTest(ctx, "QA-1")
			assert.NoError(t, err)
			assert.NoError(t, p.SaveResults(ctx))
		}()
	}

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	assert.NoError(t, p.Close(closeCtx))

	wg.Wait()
}

func TestHookWithoutListenerIsRejected(t *testing.T) {
	_, err := qaspace.NewResultProcessor(qaspace.WithHook(noopHook{}))

	assert.ErrorContains(t, err, `hook "noop" does not implement any listener`)
}

func TestHookInitFailureIsReturned(t *testing.T) {
	_, err := qaspace.NewResultProcessor(qaspace.WithHook(&recordingHook{initErr: errors.New("no token")}))

	assert.ErrorContains(t, err, `initiating hook "recording": no token`)
}

func TestProcessorIsSafeForConcurrentUse(t *testing.T) {
	ctx := context.Background()
	s := memoryStorage(t)

	p := newProcessor(t, qaspace.WithStorage(s))
	defer p.Close(ctx)

	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			r, err := p.StartTest(ctx, "QA-1")
			if !assert.NoError(t, err) {
				return
			}

			r.SetStatus("Passed")
			r.SetTime("0m 0.0s")
		}()
	}

	wg.Wait()

	require.NoError(t, p.SaveResults(ctx))

	run, err := s.LoadRun(ctx, p.RunID())
	require.NoError(t, err)
	assert.Len(t, run.Results, 10)
}
