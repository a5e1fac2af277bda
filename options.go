package qaspace

import (
	"log/slog"
	"time"
)

// WithAttachmentDir sets the directory attachment files are staged in
// before they are handed to the processor.
func WithAttachmentDir(dir string) ListenerOption {
	return func(l *Listener) {
		l.attachmentDir = dir
	}
}

func WithListenerLogger(log *slog.Logger) ListenerOption {
	return func(l *Listener) {
		l.log = log
	}
}

func WithListenerClock(now func() time.Time) ListenerOption {
	return func(l *Listener) {
		l.now = now
	}
}

func WithStorage(s Storage) ProcessorOption {
	return func(p *ResultProcessor) {
		p.storage = s
	}
}

func WithHook(h Hook) ProcessorOption {
	return func(p *ResultProcessor) {
		p.hooks.all = append(p.hooks.all, h)
	}
}

// WithReportDir enables writing a json report and the attachment files
// of a run to dir.
func WithReportDir(dir string) ProcessorOption {
	return func(p *ResultProcessor) {
		p.reportDir = dir
	}
}

func WithReportFile(name string) ProcessorOption {
	return func(p *ResultProcessor) {
		p.reportFile = name
	}
}

func WithRunName(name string) ProcessorOption {
	return func(p *ResultProcessor) {
		p.run.Name = name
	}
}

// WithEnvironment sets additional information on where the tests are run,
// e.g. the name of the cluster.
func WithEnvironment(env string) ProcessorOption {
	return func(p *ResultProcessor) {
		p.run.Environment = env
	}
}

func WithProcessorLogger(log *slog.Logger) ProcessorOption {
	return func(p *ResultProcessor) {
		p.log = log
	}
}

func WithProcessorClock(now func() time.Time) ProcessorOption {
	return func(p *ResultProcessor) {
		p.now = now
	}
}

func WithServerPort(port int) ServerOption {
	return func(s *Server) {
		s.port = port
	}
}

func WithServerStorage(st Storage) ServerOption {
	return func(s *Server) {
		s.storage = st
	}
}

// WithRetention enables deleting runs that ended longer than retention ago
// on the given cron schedule. A retention of 0 keeps runs forever.
func WithRetention(retention time.Duration, schedule string) ServerOption {
	return func(s *Server) {
		s.retention = retention
		s.retentionSchedule = schedule
	}
}

func WithServerLogger(log *slog.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}
