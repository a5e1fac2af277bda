package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/raphi011/qaspace/internal/model"
)

const DefaultElasticIndex = "qaspace-results"

// ElasticSearchHook indexes every test result of a saved run as a separate
// document so that results can be searched and visualized next to the logs
// of the system under test.
type ElasticSearchHook struct {
	client *elasticsearch.Client
	index  string

	log *slog.Logger
}

type resultDocument struct {
	RunID       string    `json:"runId"`
	RunName     string    `json:"runName"`
	Environment string    `json:"environment"`
	Seq         int       `json:"seq"`
	Key         string    `json:"key"`
	Status      string    `json:"status"`
	Time        string    `json:"time"`
	DurationMs  int64     `json:"durationMs"`
	Exceptions  []string  `json:"exceptions"`
	Attachments int       `json:"attachments"`
	Start       time.Time `json:"@timestamp"`
}

func NewElasticSearchHook(addresses []string, apiKey, index string, log *slog.Logger) (*ElasticSearchHook, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		APIKey:    apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	if index == "" {
		index = DefaultElasticIndex
	}

	return &ElasticSearchHook{
		client: client,
		index:  index,
		log:    log,
	}, nil
}

func (h *ElasticSearchHook) Name() string {
	return "elastic-search"
}

func (h *ElasticSearchHook) Init() error {
	return nil
}

func (h *ElasticSearchHook) RunSavedAsync(ctx context.Context, run model.Run) {
	for _, tr := range run.Results {
		if err := h.indexResult(ctx, run, tr); err != nil {
			h.log.Error("unable to index test result", "run-id", run.ID, "test-key", tr.Key, "error", err)
		}
	}
}

func (h *ElasticSearchHook) indexResult(ctx context.Context, run model.Run, tr model.TestResult) error {
	doc := resultDocument{
		RunID:       run.ID,
		RunName:     run.Name,
		Environment: run.Environment,
		Seq:         tr.Seq,
		Key:         tr.Key,
		Status:      tr.Status,
		Time:        tr.Time,
		DurationMs:  tr.Duration.Milliseconds(),
		Exceptions:  tr.Exceptions,
		Attachments: len(tr.Attachments),
		Start:       tr.Start,
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshalling document: %w", err)
	}

	res, err := h.client.Index(
		h.index,
		bytes.NewReader(body),
		h.client.Index.WithContext(ctx),
		h.client.Index.WithDocumentID(fmt.Sprintf("%s-%d", run.ID, tr.Seq)),
	)
	if err != nil {
		return fmt.Errorf("indexing document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("indexing document: %s", res.String())
	}

	return nil
}
