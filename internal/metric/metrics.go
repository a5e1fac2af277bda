package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TestsTrackedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qaspace_tests_tracked_total",
		Help: "The number of tagged test cases that finished, by status",
	}, []string{"status"})

	AttachmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qaspace_attachments_total",
		Help: "The number of attachments handed to the result processor, by file extension",
	}, []string{"extension"})

	AttachmentFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qaspace_attachment_failures_total",
		Help: "The number of attachments that could not be staged or handed off",
	}, []string{"reason"})

	RunsSavedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qaspace_runs_saved_total",
		Help: "The number of runs persisted since the process was started",
	}, []string{"result"})
)

const (
	ReasonWrite   = "write"
	ReasonHandoff = "handoff"
	ReasonDelete  = "delete"
)
