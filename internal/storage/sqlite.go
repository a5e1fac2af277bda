package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/raphi011/qaspace/internal/model"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var fs embed.FS

// make sure we adhere to the Storage interface
var _ Storage = &Sqlite{}

type Sqlite struct {
	db  *sqlx.DB
	log *slog.Logger
}

func NewSqlite(dbFilename string, log *slog.Logger) (*Sqlite, error) {
	db, err := sqlx.Connect("sqlite", connectionString(dbFilename))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	var version string
	if err = db.Get(&version, "select sqlite_version()"); err != nil {
		return nil, fmt.Errorf("unable to retrieve sqlite version: %w", err)
	}

	log.Debug("Using sqlite version: " + version)

	s := &Sqlite{
		db:  db,
		log: log,
	}

	if err = s.migrateDB(db); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Sqlite) Close() error {
	return s.db.Close()
}

func connectionString(filename string) string {
	var cs string
	var options = []string{"_pragma=busy_timeout(5000)", "_pragma=journal_mode(WAL)", "_pragma=foreign_keys(1)", "_pragma=synchronous(normal)"}

	if filename != "" {
		cs = filename
	} else {
		cs = "file:" + randomAlphanumeric(16)
		options = append(options, "mode=memory", "cache=shared")
	}

	for i, o := range options {
		if i == 0 {
			cs += "?"
		} else {
			cs += "&"
		}
		cs += o
	}

	return cs
}

const alphaNumericChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomAlphanumeric(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = alphaNumericChars[rand.Intn(len(alphaNumericChars))]
	}
	return string(b)
}

func (s *Sqlite) migrateDB(db *sqlx.DB) error {
	d, err := iofs.New(fs, "migrations")
	if err != nil {
		return fmt.Errorf("load db migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("load migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", d, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migrate with instance: %w", err)
	}

	err = m.Up()

	if errors.Is(err, migrate.ErrNoChange) {
		s.log.Debug("No migrations have been applied. The DB is at the latest state.")
	} else if err != nil {
		return fmt.Errorf("applying db migrations: %w", err)
	}

	return nil
}

type storageContextKey string

const transactionKey = storageContextKey("storage.transaction")

func (s *Sqlite) StartTransaction(ctx context.Context) (context.Context, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ctx, err
	}

	return context.WithValue(ctx, transactionKey, tx), nil
}

func (s *Sqlite) CommitTransaction(ctx context.Context) error {
	tx, ok := ctx.Value(transactionKey).(*sqlx.Tx)
	if !ok {
		return errors.New("context does not contain a transaction")
	}

	return tx.Commit()
}

func (s *Sqlite) RollbackTransaction(ctx context.Context) {
	tx, ok := ctx.Value(transactionKey).(*sqlx.Tx)
	if !ok {
		return
	}

	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.log.Warn("could not rollback transaction", "error", err)
	}
}

func (s *Sqlite) getDB(ctx context.Context) commonDB {
	if tx, ok := ctx.Value(transactionKey).(*sqlx.Tx); ok {
		return tx
	}

	return s.db
}

// functions shared by `*sqlx.Tx` and `*sqlx.DB`
type commonDB interface {
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

type runRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Environment string `db:"environment"`
	StartTime   string `db:"startTime"`
	EndTime     string `db:"endTime"`
}

type testResultRow struct {
	RunID                string `db:"runId"`
	Seq                  int    `db:"seq"`
	TestKey              string `db:"testKey"`
	Status               string `db:"status"`
	Time                 string `db:"time"`
	DurationNs           int64  `db:"durationNs"`
	CompressedExceptions []byte `db:"compressedExceptions"`
	StartTime            string `db:"startTime"`
}

type attachmentRow struct {
	RunID          string `db:"runId"`
	Seq            int    `db:"seq"`
	Idx            int    `db:"idx"`
	Name           string `db:"name"`
	MimeType       string `db:"mimeType"`
	Size           int    `db:"size"`
	CompressedData []byte `db:"compressedData"`
}

func (s *Sqlite) InsertRun(ctx context.Context, run model.Run) error {
	db := s.getDB(ctx)

	var count int
	if err := db.GetContext(ctx, &count, `SELECT count(*) FROM Run WHERE id = ?`, run.ID); err != nil {
		return fmt.Errorf("checking for existing run: %w", err)
	}
	if count > 0 {
		return model.DuplicateError{ID: run.ID}
	}

	_, err := db.NamedExecContext(ctx, `INSERT INTO Run
	(id, name, environment, startTime, endTime) VALUES
	(:id, :name, :environment, :startTime, :endTime)`,
		map[string]any{
			"id":          run.ID,
			"name":        run.Name,
			"environment": run.Environment,
			"startTime":   timeFormat(run.Start),
			"endTime":     timeFormat(run.End),
		})
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	return nil
}

func (s *Sqlite) UpdateRun(ctx context.Context, run model.Run) error {
	db := s.getDB(ctx)

	r, err := db.NamedExecContext(ctx, `UPDATE Run SET endTime=:endTime WHERE id=:id`,
		map[string]any{
			"id":      run.ID,
			"endTime": timeFormat(run.End),
		})
	if err != nil {
		return fmt.Errorf("update statement failed: %w", err)
	}

	if affected, _ := r.RowsAffected(); affected != 1 {
		return model.NotFoundError{Kind: "run", ID: run.ID}
	}

	return nil
}

func (s *Sqlite) InsertTestResult(ctx context.Context, tr model.TestResult) error {
	exceptions, err := json.Marshal(tr.Exceptions)
	if err != nil {
		return fmt.Errorf("unable to marshal exceptions: %w", err)
	}

	compressedExceptions, err := compress(exceptions)
	if err != nil {
		return fmt.Errorf("unable to compress exceptions: %w", err)
	}

	db := s.getDB(ctx)

	_, err = db.NamedExecContext(ctx, `INSERT INTO TestResult
	(runId, seq, testKey, status, time, durationNs, compressedExceptions, startTime) VALUES
	(:runId, :seq, :testKey, :status, :time, :durationNs, :exceptions, :startTime)`,
		map[string]any{
			"runId":      tr.RunID,
			"seq":        tr.Seq,
			"testKey":    tr.Key,
			"status":     tr.Status,
			"time":       tr.Time,
			"durationNs": int64(tr.Duration),
			"exceptions": compressedExceptions,
			"startTime":  timeFormat(tr.Start),
		})
	if err != nil {
		return fmt.Errorf("inserting test result %q: %w", tr.Key, err)
	}

	for i, a := range tr.Attachments {
		data, err := compress(a.Data)
		if err != nil {
			return fmt.Errorf("unable to compress attachment %q: %w", a.Name, err)
		}

		_, err = db.NamedExecContext(ctx, `INSERT INTO Attachment
		(runId, seq, idx, name, mimeType, size, compressedData) VALUES
		(:runId, :seq, :idx, :name, :mimeType, :size, :data)`,
			map[string]any{
				"runId":    tr.RunID,
				"seq":      tr.Seq,
				"idx":      i,
				"name":     a.Name,
				"mimeType": a.MimeType,
				"size":     len(a.Data),
				"data":     data,
			})
		if err != nil {
			return fmt.Errorf("inserting attachment %q: %w", a.Name, err)
		}
	}

	return nil
}

func (s *Sqlite) LoadRun(ctx context.Context, id string) (model.Run, error) {
	db := s.getDB(ctx)

	var row runRow

	err := db.GetContext(ctx, &row, `SELECT id, name, environment, startTime, endTime FROM Run WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Run{}, model.NotFoundError{Kind: "run", ID: id}
	} else if err != nil {
		return model.Run{}, fmt.Errorf("loading run: %w", err)
	}

	run, err := row.toModel()
	if err != nil {
		return model.Run{}, err
	}

	results := []testResultRow{}
	err = db.SelectContext(ctx, &results, `SELECT
	runId, seq, testKey, status, time, durationNs, compressedExceptions, startTime
	FROM TestResult WHERE runId = ? ORDER BY seq`, id)
	if err != nil {
		return model.Run{}, fmt.Errorf("loading test results: %w", err)
	}

	run.Results, err = s.toTestResults(ctx, results)
	if err != nil {
		return model.Run{}, err
	}

	return run, nil
}

func (s *Sqlite) LoadRuns(ctx context.Context) ([]model.Run, error) {
	db := s.getDB(ctx)

	rows := []runRow{}
	err := db.SelectContext(ctx, &rows, `SELECT id, name, environment, startTime, endTime FROM Run ORDER BY endTime DESC`)
	if err != nil {
		return nil, fmt.Errorf("loading runs: %w", err)
	}

	runs := make([]model.Run, 0, len(rows))

	for _, row := range rows {
		run, err := row.toModel()
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	return runs, nil
}

func (s *Sqlite) LoadTestResultsByKey(ctx context.Context, key string) ([]model.TestResult, error) {
	db := s.getDB(ctx)

	rows := []testResultRow{}
	err := db.SelectContext(ctx, &rows, `SELECT
	tr.runId, tr.seq, tr.testKey, tr.status, tr.time, tr.durationNs, tr.compressedExceptions, tr.startTime
	FROM TestResult tr JOIN Run r ON r.id = tr.runId
	WHERE tr.testKey = ? ORDER BY r.endTime DESC, tr.seq`, key)
	if err != nil {
		return nil, fmt.Errorf("loading test results for %q: %w", key, err)
	}

	return s.toTestResults(ctx, rows)
}

func (s *Sqlite) DeleteRunsBefore(ctx context.Context, t time.Time) (int, error) {
	db := s.getDB(ctx)

	r, err := db.ExecContext(ctx, `DELETE FROM Run WHERE endTime < ?`, timeFormat(t))
	if err != nil {
		return 0, fmt.Errorf("deleting runs: %w", err)
	}

	deleted, err := r.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deleting runs: %w", err)
	}

	return int(deleted), nil
}

func (s *Sqlite) toTestResults(ctx context.Context, rows []testResultRow) ([]model.TestResult, error) {
	db := s.getDB(ctx)

	results := make([]model.TestResult, 0, len(rows))

	for _, row := range rows {
		tr, err := row.toModel()
		if err != nil {
			return nil, err
		}

		attachments := []attachmentRow{}
		err = db.SelectContext(ctx, &attachments, `SELECT
		runId, seq, idx, name, mimeType, size, compressedData
		FROM Attachment WHERE runId = ? AND seq = ? ORDER BY idx`, row.RunID, row.Seq)
		if err != nil {
			return nil, fmt.Errorf("loading attachments: %w", err)
		}

		for _, a := range attachments {
			data, err := decompress(a.CompressedData)
			if err != nil {
				return nil, fmt.Errorf("attachment %q: %w", a.Name, err)
			}

			tr.Attachments = append(tr.Attachments, model.Attachment{
				Name:     a.Name,
				MimeType: a.MimeType,
				Size:     a.Size,
				Data:     data,
			})
		}

		results = append(results, tr)
	}

	return results, nil
}

func (r runRow) toModel() (model.Run, error) {
	run := model.Run{
		ID:          r.ID,
		Name:        r.Name,
		Environment: r.Environment,
		Results:     []model.TestResult{},
	}

	var err error

	if run.Start, err = parseDate(r.StartTime); err != nil {
		return model.Run{}, fmt.Errorf("parsing start time: %w", err)
	}
	if run.End, err = parseDate(r.EndTime); err != nil {
		return model.Run{}, fmt.Errorf("parsing end time: %w", err)
	}

	return run, nil
}

func (r testResultRow) toModel() (model.TestResult, error) {
	tr := model.TestResult{
		RunID:       r.RunID,
		Seq:         r.Seq,
		Key:         r.TestKey,
		Status:      r.Status,
		Time:        r.Time,
		Duration:    time.Duration(r.DurationNs),
		Attachments: []model.Attachment{},
	}

	var err error

	if tr.Start, err = parseDate(r.StartTime); err != nil {
		return model.TestResult{}, fmt.Errorf("parsing start time: %w", err)
	}

	exceptions, err := decompress(r.CompressedExceptions)
	if err != nil {
		return model.TestResult{}, fmt.Errorf("exceptions of %q: %w", r.TestKey, err)
	}

	if len(exceptions) > 0 {
		if err = json.Unmarshal(exceptions, &tr.Exceptions); err != nil {
			return model.TestResult{}, fmt.Errorf("unmarshaling exceptions: %w", err)
		}
	}

	return tr, nil
}
