package qaspace

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cucumber/godog"
)

// GodogAdapter turns godog suite and scenario hooks into runner events.
//
//	adapter := qaspace.NewGodogAdapter(qaspace.NewListener(processor))
//
//	godog.TestSuite{
//		TestSuiteInitializer: adapter.InitializeTestSuite,
//		ScenarioInitializer: func(sc *godog.ScenarioContext) {
//			adapter.InitializeScenario(sc)
//			// register steps
//		},
//	}
//
// Step definitions attach files with Embed and Write.
type GodogAdapter struct {
	publisher *EventPublisher
	log       *slog.Logger
	now       func() time.Time
}

func NewGodogAdapter(listeners ...EventListener) *GodogAdapter {
	return &GodogAdapter{
		publisher: NewEventPublisher(listeners...),
		log:       slog.Default(),
		now:       time.Now,
	}
}

// WithLogger sets the logger used for reporting failures.
func (g *GodogAdapter) WithLogger(log *slog.Logger) *GodogAdapter {
	g.log = log
	return g
}

type adapterKey struct{}

type scenarioStartKey struct{}

func (g *GodogAdapter) InitializeTestSuite(ts *godog.TestSuiteContext) {
	ts.AfterSuite(func() {
		g.publish(context.Background(), TestRunFinished{Time: g.now()})
	})
}

func (g *GodogAdapter) InitializeScenario(sc *godog.ScenarioContext) {
	sc.Before(func(ctx context.Context, s *godog.Scenario) (context.Context, error) {
		start := g.now()

		ctx = context.WithValue(ctx, adapterKey{}, g)
		ctx = context.WithValue(ctx, scenarioStartKey{}, start)

		return g.publish(ctx, TestCaseStarted{Time: start, TestCase: testCaseFromScenario(s)}), nil
	})

	sc.After(func(ctx context.Context, s *godog.Scenario, err error) (context.Context, error) {
		end := g.now()

		var duration time.Duration
		if start, ok := ctx.Value(scenarioStartKey{}).(time.Time); ok {
			duration = end.Sub(start)
		}

		status := statusFromError(err)

		// skip and pending sentinels are outcomes, not exceptions
		var reported error
		if status == StatusFailed || status == StatusUndefined {
			reported = err
		}

		ctx = g.publish(ctx, TestCaseFinished{
			Time:     end,
			TestCase: testCaseFromScenario(s),
			Result: Result{
				Status:   status,
				Duration: duration,
				Error:    reported,
			},
		})

		// the scenario outcome is never changed by reporting
		return ctx, err
	})
}

func (g *GodogAdapter) publish(ctx context.Context, e Event) context.Context {
	ctx, err := g.publisher.Publish(ctx, e)
	if err != nil {
		g.log.Warn("test result reporting failed", "event", e.eventName(), "error", err)
	}

	return ctx
}

// Embed attaches data to the scenario running in ctx. It does nothing if ctx
// does not belong to a scenario started by a GodogAdapter.
func Embed(ctx context.Context, mimeType string, data []byte) {
	g, ok := ctx.Value(adapterKey{}).(*GodogAdapter)
	if !ok {
		return
	}

	g.publish(ctx, EmbedEvent{Time: g.now(), MimeType: mimeType, Data: data})
}

// Write attaches text to the scenario running in ctx.
func Write(ctx context.Context, text string) {
	g, ok := ctx.Value(adapterKey{}).(*GodogAdapter)
	if !ok {
		return
	}

	g.publish(ctx, WriteEvent{Time: g.now(), Text: text})
}

func testCaseFromScenario(s *godog.Scenario) TestCase {
	tc := TestCase{
		ID:   s.Id,
		Name: s.Name,
		URI:  s.Uri,
		Tags: make([]string, 0, len(s.Tags)),
	}

	for _, t := range s.Tags {
		tc.Tags = append(tc.Tags, t.Name)
	}

	return tc
}

func statusFromError(err error) Status {
	switch {
	case err == nil:
		return StatusPassed
	case errors.Is(err, godog.ErrSkip):
		return StatusSkipped
	case errors.Is(err, godog.ErrPending):
		return StatusPending
	case errors.Is(err, godog.ErrUndefined):
		return StatusUndefined
	default:
		return StatusFailed
	}
}
