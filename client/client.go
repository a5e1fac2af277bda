package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/raphi011/qaspace/internal/model"
)

type Run = model.Run
type RunSummary = model.RunSummary
type TestResult = model.TestResult

type Client struct {
	http *http.Client
	host string
}

type RequestError struct {
	ResponseCode int
}

func (e RequestError) Error() string {
	return fmt.Sprintf("request failed with status %d", e.ResponseCode)
}

func New(host string, c *http.Client) Client {
	return Client{http: c, host: host}
}

func (c Client) GetRuns(ctx context.Context) ([]RunSummary, error) {
	req, err := http.NewRequest("GET", c.url("/runs"), nil)
	if err != nil {
		return nil, err
	}

	var runs []RunSummary

	if err = c.do(ctx, req, &runs); err != nil {
		return nil, err
	}

	return runs, nil
}

func (c Client) GetRun(ctx context.Context, runID string) (Run, error) {
	req, err := http.NewRequest("GET", c.url("/runs/%s", url.PathEscape(runID)), nil)
	if err != nil {
		return Run{}, err
	}

	var run Run

	if err = c.do(ctx, req, &run); err != nil {
		return Run{}, err
	}

	return run, nil
}

// GetTestResults returns all results recorded for the ticket key across runs.
func (c Client) GetTestResults(ctx context.Context, key string) ([]TestResult, error) {
	req, err := http.NewRequest("GET", c.url("/tests/%s", url.PathEscape(key)), nil)
	if err != nil {
		return nil, err
	}

	var results []TestResult

	if err = c.do(ctx, req, &results); err != nil {
		return nil, err
	}

	return results, nil
}

// GetAttachment returns the content and mime type of an attachment.
func (c Client) GetAttachment(ctx context.Context, runID string, seq, idx int) ([]byte, string, error) {
	req, err := http.NewRequest("GET", c.url("/runs/%s/results/%d/attachments/%d", url.PathEscape(runID), seq, idx), nil)
	if err != nil {
		return nil, "", err
	}

	res, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return nil, "", err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, "", RequestError{res.StatusCode}
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, "", err
	}

	return data, res.Header.Get("Content-Type"), nil
}

func (c Client) url(path string, args ...any) string {
	return fmt.Sprintf(c.host+path, args...)
}

func (c Client) do(ctx context.Context, req *http.Request, body any) error {
	req = req.WithContext(ctx)
	req.Header.Add("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return RequestError{res.StatusCode}
	}

	if body != nil {
		d := json.NewDecoder(res.Body)

		if err = d.Decode(body); err != nil {
			return err
		}
	}

	return nil
}
