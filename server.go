package qaspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultServerPort        = 1337
	DefaultRetention         = 30 * 24 * time.Hour
	DefaultRetentionSchedule = "@daily"
)

// Server exposes saved runs over http and periodically deletes runs that
// are older than the configured retention.
type Server struct {
	port              int
	storage           Storage
	retention         time.Duration
	retentionSchedule string

	cron       *cron.Cron
	httpServer *http.Server
	listener   net.Listener

	log *slog.Logger
}

type ServerOption func(s *Server)

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		port:              DefaultServerPort,
		retention:         DefaultRetention,
		retentionSchedule: DefaultRetentionSchedule,
		log:               slog.Default(),
	}

	for _, o := range opts {
		o(s)
	}

	return s
}

// Start starts the retention schedule and begins serving http requests in
// the background. A port of 0 picks a random free port, see ServerPort.
func (s *Server) Start() error {
	if s.storage == nil {
		return errors.New("starting server: no storage configured")
	}

	if err := s.startSchedules(); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		s.cron.Stop()
		return fmt.Errorf("listening on port %d: %w", s.port, err)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("starting http server", "port", s.ServerPort())

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", "error", err)
		}
	}()

	return nil
}

// ServerPort returns the port the server listens on. It is only valid after
// Start returned.
func (s *Server) ServerPort() int {
	if s.listener == nil {
		return s.port
	}

	return s.listener.Addr().(*net.TCPAddr).Port
}

// Shutdown stops the retention schedule, gracefully stops the http server
// and closes the storage.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
	}

	if s.storage == nil {
		return nil
	}

	return s.storage.Close()
}

func (s *Server) startSchedules() error {
	s.cron = cron.New()

	if s.retention > 0 {
		_, err := s.cron.AddFunc(s.retentionSchedule, func() {
			if _, err := s.DeleteExpiredRuns(context.Background()); err != nil {
				s.log.Error("unable to delete expired runs", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("adding retention schedule %q: %w", s.retentionSchedule, err)
		}
	}

	s.cron.Start()

	return nil
}

// DeleteExpiredRuns deletes all runs that ended before the retention period.
func (s *Server) DeleteExpiredRuns(ctx context.Context) (int, error) {
	if s.retention <= 0 {
		return 0, nil
	}

	before := time.Now().Add(-s.retention)

	deleted, err := s.storage.DeleteRunsBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("deleting runs before %s: %w", before, err)
	}

	s.log.Info("deleted expired runs", "deleted", deleted, "before", before)

	return deleted, nil
}
