package hook

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSlack struct {
	mu       sync.Mutex
	authOK   bool
	messages []string
}

func (f *fakeSlack) start(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/auth.test", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if f.authOK {
			_, _ = w.Write([]byte(`{"ok":true,"user":"qaspace","team":"qa"}`))
			return
		}

		_, _ = w.Write([]byte(`{"ok":false,"error":"invalid_auth"}`))
	})

	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())

		f.mu.Lock()
		f.messages = append(f.messages, r.Form.Get("blocks"))
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1680000000.000100"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func (f *fakeSlack) posted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string{}, f.messages...)
}

func TestSlackHookInitFailsWithInvalidToken(t *testing.T) {
	f := &fakeSlack{}
	srv := f.start(t)

	h := NewSlackHook("C123", "invalid", slog.Default(), slack.OptionAPIURL(srv.URL+"/"))

	err := h.Init()
	assert.ErrorContains(t, err, "invalid auth token")
}

func TestSlackHookPostsSummaryOfFailedRun(t *testing.T) {
	f := &fakeSlack{authOK: true}
	srv := f.start(t)

	h := NewSlackHook("C123", "token", slog.Default(), slack.OptionAPIURL(srv.URL+"/"))
	require.NoError(t, h.Init())

	h.RunSavedAsync(context.Background(), testRun())

	msgs := f.posted()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "QA-2")
	assert.NotContains(t, msgs[0], "QA-1")
}

func TestSlackHookIgnoresPassedRun(t *testing.T) {
	f := &fakeSlack{authOK: true}
	srv := f.start(t)

	h := NewSlackHook("C123", "token", slog.Default(), slack.OptionAPIURL(srv.URL+"/"))

	run := testRun()
	run.Results = run.Results[:1]

	h.RunSavedAsync(context.Background(), run)

	assert.Empty(t, f.posted())
}

func TestSummaryText(t *testing.T) {
	run := testRun()

	text := summaryText(run, run.Failed())

	assert.Equal(t, "Run *nightly* failed: 1 of 2 tests did not pass. (staging)\n\nResults:\n- QA-2 (Failed, 0m 2.2000s)\n", text)

	run.Name = ""
	assert.Contains(t, summaryText(run, run.Failed()), "Run *run-1* failed")
}
