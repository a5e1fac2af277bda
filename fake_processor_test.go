package qaspace_test

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/raphi011/qaspace"
)

type fakeProcessor struct {
	mu sync.Mutex

	startErr error
	saveErr  error

	started   []string
	saves     int
	recorders []*fakeRecorder
}

func (p *fakeProcessor) StartTest(ctx context.Context, key string) (qaspace.TestRecorder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.startErr != nil {
		return nil, p.startErr
	}

	r := &fakeRecorder{key: key}

	p.started = append(p.started, key)
	p.recorders = append(p.recorders, r)

	return r, nil
}

func (p *fakeProcessor) SaveResults(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.saves++

	return p.saveErr
}

func (p *fakeProcessor) recorder(key string) *fakeRecorder {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, r := range p.recorders {
		if r.key == key {
			return r
		}
	}

	return nil
}

type fakeAttachment struct {
	path     string
	mimeType string
	data     []byte
	// existed is true if the file could be read during the handoff.
	existed bool
}

type fakeRecorder struct {
	key string

	attachErr error

	statuses    []string
	times       []string
	duration    time.Duration
	exceptions  []error
	attachments []fakeAttachment
}

func (r *fakeRecorder) SetStatus(status string) {
	r.statuses = append(r.statuses, status)
}

func (r *fakeRecorder) SetTime(time string) {
	r.times = append(r.times, time)
}

func (r *fakeRecorder) SetDuration(d time.Duration) {
	r.duration = d
}

func (r *fakeRecorder) AddException(err error) {
	r.exceptions = append(r.exceptions, err)
}

func (r *fakeRecorder) AddAttachment(ctx context.Context, path, mimeType string) error {
	data, err := os.ReadFile(path)

	r.attachments = append(r.attachments, fakeAttachment{
		path:     path,
		mimeType: mimeType,
		data:     data,
		existed:  err == nil,
	})

	return r.attachErr
}
