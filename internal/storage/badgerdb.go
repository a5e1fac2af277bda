package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/raphi011/qaspace/internal/model"
)

// make sure we adhere to the Storage interface
var _ Storage = &BadgerStorage{}

type BadgerStorage struct {
	db  *badger.DB
	log *slog.Logger
}

func NewBadgerStorage(dbPath string, log *slog.Logger) (*BadgerStorage, error) {
	s := &BadgerStorage{
		log: log,
	}
	var err error

	if dbPath == "" {
		s.db, err = badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	} else {
		s.db, err = badger.Open(badger.DefaultOptions(dbPath).WithLogger(nil))
	}
	if err != nil {
		return nil, fmt.Errorf("opening badger database: %w", err)
	}

	return s, nil
}

func (b *BadgerStorage) Close() error {
	return b.db.Close()
}

type BadgerStorageContextKey string

func (b *BadgerStorage) StartTransaction(ctx context.Context) (context.Context, error) {
	txn := b.db.NewTransaction(true)

	return context.WithValue(ctx, BadgerStorageContextKey("transaction"), txn), nil
}

func getTx(ctx context.Context) *badger.Txn {
	v := ctx.Value(BadgerStorageContextKey("transaction"))

	tx, _ := v.(*badger.Txn)

	return tx
}

func (b *BadgerStorage) runTx(ctx context.Context, ftx func(t *badger.Txn) error) error {
	if tx := getTx(ctx); tx != nil {
		return ftx(tx)
	}

	return b.db.Update(ftx)
}

func (b *BadgerStorage) CommitTransaction(ctx context.Context) error {
	tx := getTx(ctx)
	if tx == nil {
		return errors.New("context does not contain a transaction")
	}

	return tx.Commit()
}

func (b *BadgerStorage) RollbackTransaction(ctx context.Context) {
	if tx := getTx(ctx); tx != nil {
		tx.Discard()
	}
}

const (
	runPrefix    = "run/"
	resultPrefix = "result/"
)

func runKey(id string) []byte {
	return []byte(runPrefix + id)
}

func resultsPrefix(runID string) []byte {
	return []byte(resultPrefix + runID + "/")
}

func resultKey(runID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s%s/%08d", resultPrefix, runID, seq))
}

// badgerResult stores attachment data which is omitted from the json
// representation of model.Attachment.
type badgerResult struct {
	model.TestResult
	Attachments []badgerAttachment `json:"attachments"`
}

type badgerAttachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

func (b *BadgerStorage) InsertRun(ctx context.Context, run model.Run) error {
	return b.runTx(ctx, func(t *badger.Txn) error {
		_, err := t.Get(runKey(run.ID))
		if err == nil {
			return model.DuplicateError{ID: run.ID}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("checking for existing run: %w", err)
		}

		return setRun(t, run)
	})
}

func (b *BadgerStorage) UpdateRun(ctx context.Context, run model.Run) error {
	return b.runTx(ctx, func(t *badger.Txn) error {
		existing, err := getRun(t, run.ID)
		if err != nil {
			return err
		}

		existing.End = run.End

		return setRun(t, existing)
	})
}

func setRun(t *badger.Txn, run model.Run) error {
	run.Results = nil

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshalling run: %w", err)
	}

	if err = t.Set(runKey(run.ID), data); err != nil {
		return fmt.Errorf("saving run: %w", err)
	}

	return nil
}

func getRun(t *badger.Txn, id string) (model.Run, error) {
	var run model.Run

	item, err := t.Get(runKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.Run{}, model.NotFoundError{Kind: "run", ID: id}
	} else if err != nil {
		return model.Run{}, fmt.Errorf("loading run: %w", err)
	}

	err = item.Value(func(d []byte) error {
		return json.Unmarshal(d, &run)
	})
	if err != nil {
		return model.Run{}, fmt.Errorf("unmarshaling run: %w", err)
	}

	return run, nil
}

func (b *BadgerStorage) InsertTestResult(ctx context.Context, tr model.TestResult) error {
	stored := badgerResult{TestResult: tr}

	for _, a := range tr.Attachments {
		stored.Attachments = append(stored.Attachments, badgerAttachment{
			Name:     a.Name,
			MimeType: a.MimeType,
			Data:     a.Data,
		})
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshalling test result: %w", err)
	}

	return b.runTx(ctx, func(t *badger.Txn) error {
		if _, err := getRun(t, tr.RunID); err != nil {
			return err
		}

		if err := t.Set(resultKey(tr.RunID, tr.Seq), data); err != nil {
			return fmt.Errorf("inserting test result %q: %w", tr.Key, err)
		}

		return nil
	})
}

func (b *BadgerStorage) LoadRun(ctx context.Context, id string) (model.Run, error) {
	var run model.Run

	err := b.runTx(ctx, func(txn *badger.Txn) error {
		var err error

		run, err = getRun(txn, id)
		if err != nil {
			return err
		}

		run.Results, err = scanResults(txn, resultsPrefix(id), nil)

		return err
	})

	return run, err
}

func (b *BadgerStorage) LoadRuns(ctx context.Context) ([]model.Run, error) {
	runs := []model.Run{}

	err := b.runTx(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(runPrefix)

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var run model.Run

			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &run)
			})
			if err != nil {
				return fmt.Errorf("unmarshaling run: %w", err)
			}

			run.Results = []model.TestResult{}
			runs = append(runs, run)
		}

		return nil
	})

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].End.After(runs[j].End)
	})

	return runs, err
}

func (b *BadgerStorage) LoadTestResultsByKey(ctx context.Context, key string) ([]model.TestResult, error) {
	runs, err := b.LoadRuns(ctx)
	if err != nil {
		return nil, err
	}

	results := []model.TestResult{}

	err = b.runTx(ctx, func(txn *badger.Txn) error {
		for _, run := range runs {
			matches, err := scanResults(txn, resultsPrefix(run.ID), func(tr model.TestResult) bool {
				return tr.Key == key
			})
			if err != nil {
				return err
			}

			results = append(results, matches...)
		}

		return nil
	})

	return results, err
}

func (b *BadgerStorage) DeleteRunsBefore(ctx context.Context, t time.Time) (int, error) {
	runs, err := b.LoadRuns(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0

	err = b.runTx(ctx, func(txn *badger.Txn) error {
		for _, run := range runs {
			if !run.End.Before(t) {
				continue
			}

			keys := [][]byte{}

			it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
			prefix := resultsPrefix(run.ID)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			it.Close()

			keys = append(keys, runKey(run.ID))

			for _, k := range keys {
				if err := txn.Delete(k); err != nil {
					return fmt.Errorf("deleting run %q: %w", run.ID, err)
				}
			}

			deleted++
		}

		return nil
	})

	return deleted, err
}

func scanResults(txn *badger.Txn, prefix []byte, filter func(model.TestResult) bool) ([]model.TestResult, error) {
	results := []model.TestResult{}

	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var stored badgerResult

		err := it.Item().Value(func(v []byte) error {
			return json.Unmarshal(v, &stored)
		})
		if err != nil {
			return nil, fmt.Errorf("unmarshaling test result: %w", err)
		}

		tr := stored.TestResult
		tr.Attachments = []model.Attachment{}

		for _, a := range stored.Attachments {
			tr.Attachments = append(tr.Attachments, model.Attachment{
				Name:     a.Name,
				MimeType: a.MimeType,
				Size:     len(a.Data),
				Data:     a.Data,
			})
		}

		if filter != nil && !filter(tr) {
			continue
		}

		results = append(results, tr)
	}

	return results, nil
}
