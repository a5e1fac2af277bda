package hook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/raphi011/qaspace/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type indexedDocument struct {
	method string
	path   string
	doc    resultDocument
}

func fakeElasticSearch(t *testing.T, status int) (*httptest.Server, func() []indexedDocument) {
	t.Helper()

	var mu sync.Mutex
	docs := []indexedDocument{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var doc resultDocument
		if len(body) > 0 {
			require.NoError(t, json.Unmarshal(body, &doc))
		}

		mu.Lock()
		docs = append(docs, indexedDocument{method: r.Method, path: r.URL.Path, doc: doc})
		mu.Unlock()

		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))

	t.Cleanup(srv.Close)

	return srv, func() []indexedDocument {
		mu.Lock()
		defer mu.Unlock()

		return append([]indexedDocument{}, docs...)
	}
}

func testRun() model.Run {
	start := time.Date(2023, 4, 1, 10, 0, 0, 0, time.UTC)

	return model.Run{
		ID:          "run-1",
		Name:        "nightly",
		Environment: "staging",
		Start:       start,
		End:         start.Add(time.Minute),
		Results: []model.TestResult{
			{RunID: "run-1", Seq: 1, Key: "QA-1", Status: model.StatusPassed, Time: "0m 1.1000s", Duration: time.Second, Start: start},
			{RunID: "run-1", Seq: 2, Key: "QA-2", Status: model.StatusFailed, Time: "0m 2.2000s", Duration: 2 * time.Second, Exceptions: []string{"boom"}, Start: start},
		},
	}
}

func TestElasticSearchHookIndexesEveryResult(t *testing.T) {
	srv, indexed := fakeElasticSearch(t, http.StatusCreated)

	h, err := NewElasticSearchHook([]string{srv.URL}, "", "", slog.Default())
	require.NoError(t, err)
	require.NoError(t, h.Init())

	h.RunSavedAsync(context.Background(), testRun())

	docs := indexed()
	require.Len(t, docs, 2)

	assert.Equal(t, http.MethodPut, docs[0].method)
	assert.Equal(t, "/qaspace-results/_doc/run-1-1", docs[0].path)
	assert.Equal(t, "QA-1", docs[0].doc.Key)
	assert.Equal(t, "nightly", docs[0].doc.RunName)

	assert.Equal(t, "/qaspace-results/_doc/run-1-2", docs[1].path)
	assert.Equal(t, []string{"boom"}, docs[1].doc.Exceptions)
	assert.Equal(t, int64(2000), docs[1].doc.DurationMs)
}

func TestElasticSearchHookUsesConfiguredIndex(t *testing.T) {
	srv, indexed := fakeElasticSearch(t, http.StatusCreated)

	h, err := NewElasticSearchHook([]string{srv.URL}, "", "bdd", slog.Default())
	require.NoError(t, err)

	h.RunSavedAsync(context.Background(), testRun())

	for _, d := range indexed() {
		assert.Contains(t, d.path, "/bdd/_doc/")
	}
}

func TestElasticSearchHookErrorResponseDoesNotStopIndexing(t *testing.T) {
	srv, indexed := fakeElasticSearch(t, http.StatusBadRequest)

	h, err := NewElasticSearchHook([]string{srv.URL}, "", "", slog.Default())
	require.NoError(t, err)

	err = h.indexResult(context.Background(), testRun(), testRun().Results[0])
	assert.Error(t, err)

	h.RunSavedAsync(context.Background(), testRun())

	assert.Len(t, indexed(), 3)
}
