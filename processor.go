package qaspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphi011/qaspace/internal/metric"
	"github.com/raphi011/qaspace/internal/model"
	"github.com/raphi011/qaspace/internal/storage"
)

// Reexport to allow library users to reference these types

type Run = model.Run
type TestResult = model.TestResult
type Attachment = model.Attachment
type Storage = storage.Storage
type NotFoundError = model.NotFoundError
type DuplicateError = model.DuplicateError

// make sure we adhere to the Processor interface
var _ Processor = &ResultProcessor{}

// ResultProcessor is the bundled Processor. It accumulates the results of one
// run and, on SaveResults, persists them to storage, writes a json report
// and notifies hooks. It is safe for concurrent use.
type ResultProcessor struct {
	mu sync.Mutex

	run      model.Run
	runSaved bool
	// pending contains the results started since the last save.
	pending []*model.TestResult
	seq     int

	storage    storage.Storage
	hooks      *hookManager
	reportDir  string
	reportFile string

	log *slog.Logger
	now func() time.Time
}

type ProcessorOption func(p *ResultProcessor)

// NewResultProcessor creates a processor for a new run. Without WithStorage
// results are not persisted in a database, without WithReportDir no report is
// written.
func NewResultProcessor(opts ...ProcessorOption) (*ResultProcessor, error) {
	p := &ResultProcessor{
		run: model.Run{
			ID:      uuid.NewString(),
			Results: []model.TestResult{},
		},
		pending:    []*model.TestResult{},
		reportFile: DefaultReportFile,
		log:        slog.Default(),
		now:        time.Now,
	}

	p.hooks = newHookManager(p.log)

	for _, o := range opts {
		o(p)
	}

	p.hooks.log = p.log

	if err := p.hooks.init(); err != nil {
		return nil, err
	}

	return p, nil
}

// RunID returns the identifier of the run the processor records.
func (p *ResultProcessor) RunID() string {
	return p.run.ID
}

func (p *ResultProcessor) StartTest(ctx context.Context, key string) (TestRecorder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()

	if p.run.Start.IsZero() {
		p.run.Start = now
	}

	p.seq++

	tr := &model.TestResult{
		RunID:       p.run.ID,
		Seq:         p.seq,
		Key:         key,
		Start:       now,
		Exceptions:  []string{},
		Attachments: []model.Attachment{},
	}

	p.pending = append(p.pending, tr)

	p.log.Debug("tracking test", "test-key", key, "run-id", p.run.ID, "seq", tr.Seq)

	return &recorder{p: p, result: tr}, nil
}

// SaveResults persists the results recorded since the previous call. Calling
// it without new results is a no-op.
func (p *ResultProcessor) SaveResults(ctx context.Context) error {
	p.mu.Lock()

	if len(p.pending) == 0 {
		p.mu.Unlock()
		p.log.Info("no tagged test results to save", "run-id", p.run.ID)
		return nil
	}

	results := make([]model.TestResult, 0, len(p.pending))
	for _, tr := range p.pending {
		results = append(results, *tr)
	}

	pending := p.pending
	p.pending = []*model.TestResult{}

	p.run.End = p.now()
	run := p.run
	firstSave := !p.runSaved

	p.mu.Unlock()

	if err := p.persist(ctx, run, results, firstSave); err != nil {
		p.mu.Lock()
		p.pending = append(pending, p.pending...)
		p.mu.Unlock()

		return err
	}

	p.mu.Lock()
	p.runSaved = true
	p.run.Results = append(p.run.Results, results...)
	run = p.run
	run.Results = append([]model.TestResult{}, p.run.Results...)
	p.mu.Unlock()

	log := p.log.With("run-id", run.ID)

	var errs []error

	if p.reportDir != "" {
		path, err := writeReport(p.reportDir, p.reportFile, run)
		if err != nil {
			log.Error("unable to write report", "error", err)
			errs = append(errs, err)
		} else {
			log.Info("report written", "path", path)
		}
	}

	metric.RunsSavedTotal.WithLabelValues(run.Result()).Inc()

	p.hooks.notifyRunSaved(ctx, run)
	p.hooks.notifyRunSavedAsync(ctx, run)

	log.Info("saved test results", "results", len(results), "result", run.Result())

	return errors.Join(errs...)
}

func (p *ResultProcessor) persist(ctx context.Context, run model.Run, results []model.TestResult, firstSave bool) (err error) {
	if p.storage == nil {
		return nil
	}

	ctx, err = p.storage.StartTransaction(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer p.storage.RollbackTransaction(ctx)

	if firstSave {
		err = p.storage.InsertRun(ctx, run)
	} else {
		err = p.storage.UpdateRun(ctx, run)
	}
	if err != nil {
		return fmt.Errorf("saving run %q: %w", run.ID, err)
	}

	for _, tr := range results {
		if err = p.storage.InsertTestResult(ctx, tr); err != nil {
			return fmt.Errorf("saving test result %q: %w", tr.Key, err)
		}
	}

	if err = p.storage.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("committing run %q: %w", run.ID, err)
	}

	return nil
}

// Close waits for running async hooks until ctx is done and closes the storage.
// Async hooks of runs saved after Close was called are not started.
func (p *ResultProcessor) Close(ctx context.Context) error {
	select {
	case <-p.hooks.shutdown().Done():
	case <-ctx.Done():
		p.log.Warn("async hooks did not finish in time", "error", ctx.Err())
	}

	if p.storage == nil {
		return nil
	}

	return p.storage.Close()
}

type recorder struct {
	p      *ResultProcessor
	result *model.TestResult
}

func (r *recorder) SetStatus(status string) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.result.Status = status
}

func (r *recorder) SetTime(time string) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.result.Time = time
}

func (r *recorder) SetDuration(d time.Duration) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.result.Duration = d
}

func (r *recorder) AddException(err error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.result.Exceptions = append(r.result.Exceptions, err.Error())
}

func (r *recorder) AddAttachment(_ context.Context, path, mimeType string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading attachment: %w", err)
	}

	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.result.Attachments = append(r.result.Attachments, model.Attachment{
		Name:     filepath.Base(path),
		MimeType: mimeType,
		Data:     data,
		Size:     len(data),
	})

	return nil
}
