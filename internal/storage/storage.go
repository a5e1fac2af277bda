package storage

import (
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/raphi011/qaspace/internal/model"
)

// Storage persists runs and their test results.
type Storage interface {
	StartTransaction(ctx context.Context) (context.Context, error)
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context)

	// InsertRun saves the run metadata. Results are saved separately with InsertTestResult.
	InsertRun(ctx context.Context, run model.Run) error
	// UpdateRun updates the end time of an existing run.
	UpdateRun(ctx context.Context, run model.Run) error
	InsertTestResult(ctx context.Context, tr model.TestResult) error

	// LoadRun loads a run including all of its results and attachments.
	LoadRun(ctx context.Context, id string) (model.Run, error)
	// LoadRuns loads all runs without their results, newest first.
	LoadRuns(ctx context.Context) ([]model.Run, error)
	LoadTestResultsByKey(ctx context.Context, key string) ([]model.TestResult, error)

	// DeleteRunsBefore deletes all runs that ended before t and returns how many were deleted.
	DeleteRunsBefore(ctx context.Context, t time.Time) (int, error)

	Close() error
}

const (
	DriverSqlite = "sqlite"
	DriverBadger = "badger"
)

// New opens the storage backend identified by driver. An empty path
// opens an in-memory database.
func New(driver, path string, log *slog.Logger) (Storage, error) {
	switch driver {
	case "", DriverSqlite:
		return NewSqlite(path, log)
	case DriverBadger:
		return NewBadgerStorage(path, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// timeLayout has a fixed width so that stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func timeFormat(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseDate(t string) (time.Time, error) {
	return time.Parse(timeLayout, t)
}

func compress(data []byte) ([]byte, error) {
	var compressed bytes.Buffer

	w := zlib.NewWriter(&compressed)

	_, err := w.Write(data)
	if cerr := w.Close(); err == nil {
		err = cerr
	}

	return compressed.Bytes(), err
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	defer reader.Close()

	b, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}

	return b, nil
}
