package qaspace

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/raphi011/qaspace/internal/model"
)

// RunSavedListener is notified synchronously after a run was persisted.
type RunSavedListener interface {
	Hook
	RunSaved(ctx context.Context, run model.Run)
}

// AsyncRunSavedListener is notified in its own goroutine after a run was persisted.
type AsyncRunSavedListener interface {
	Hook
	RunSavedAsync(ctx context.Context, run model.Run)
}

type Hook interface {
	Name() string
	Init() error
}

type hookManager struct {
	all           []Hook
	runSaved      []RunSavedListener
	runSavedAsync []AsyncRunSavedListener

	// mu guards closed so no async hook is added to asyncHooksRunning once
	// shutdown waits on it.
	mu                sync.Mutex
	closed            bool
	asyncHooksRunning sync.WaitGroup

	log *slog.Logger
}

func newHookManager(log *slog.Logger) *hookManager {
	return &hookManager{
		all:           []Hook{},
		runSaved:      []RunSavedListener{},
		runSavedAsync: []AsyncRunSavedListener{},

		log: log,
	}
}

func (s *hookManager) init() error {
	for _, p := range s.all {
		if err := p.Init(); err != nil {
			return fmt.Errorf("initiating hook %q: %w", p.Name(), err)
		}

		registeredHook := false

		if l, ok := p.(RunSavedListener); ok {
			s.runSaved = append(s.runSaved, l)
			registeredHook = true
		}
		if l, ok := p.(AsyncRunSavedListener); ok {
			s.runSavedAsync = append(s.runSavedAsync, l)
			registeredHook = true
		}

		if !registeredHook {
			return fmt.Errorf("hook %q does not implement any listener", p.Name())
		}
	}

	return nil
}

// shutdown returns a context that is cancelled once all async hooks have returned.
func (s *hookManager) shutdown() context.Context {
	cancelCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	go func() {
		s.asyncHooksRunning.Wait()
		cancel()
	}()

	return cancelCtx
}

func (s *hookManager) notifyRunSaved(ctx context.Context, run model.Run) {
	for _, p := range s.runSaved {
		p.RunSaved(ctx, run)
	}
}

func (s *hookManager) notifyRunSavedAsync(ctx context.Context, run model.Run) {
	// async hooks outlive the caller's request
	ctx = context.WithoutCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		if len(s.runSavedAsync) > 0 {
			s.log.Warn("processor is closed, skipping async hooks", "run-id", run.ID)
		}
		return
	}

	for _, p := range s.runSavedAsync {
		s.asyncHooksRunning.Add(1)

		hook := p
		go func() {
			defer s.asyncHooksRunning.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("async hook panic'd", "hook", hook.Name(), "error", r)
				}
			}()

			hook.RunSavedAsync(ctx, run)
		}()
	}
}
