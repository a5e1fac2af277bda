package qaspace

import (
	"context"
	"errors"
	"fmt"
)

// EventHandler handles a single event type. The returned context is passed to the
// next handler and back to the publisher's caller, which allows handlers to carry
// per test case state. Returning a nil context keeps the current one.
type EventHandler[E Event] func(ctx context.Context, event E) (context.Context, error)

// EventListener registers its handlers with a publisher.
type EventListener interface {
	SetEventPublisher(p *EventPublisher)
}

// EventPublisher dispatches runner events to the registered handlers. Handlers are
// called sequentially on the publishing goroutine in the order they were registered.
type EventPublisher struct {
	testCaseStarted  []EventHandler[TestCaseStarted]
	testCaseFinished []EventHandler[TestCaseFinished]
	embed            []EventHandler[EmbedEvent]
	write            []EventHandler[WriteEvent]
	testRunFinished  []EventHandler[TestRunFinished]
}

func NewEventPublisher(listeners ...EventListener) *EventPublisher {
	p := &EventPublisher{
		testCaseStarted:  []EventHandler[TestCaseStarted]{},
		testCaseFinished: []EventHandler[TestCaseFinished]{},
		embed:            []EventHandler[EmbedEvent]{},
		write:            []EventHandler[WriteEvent]{},
		testRunFinished:  []EventHandler[TestRunFinished]{},
	}

	for _, l := range listeners {
		l.SetEventPublisher(p)
	}

	return p
}

func (p *EventPublisher) OnTestCaseStarted(h EventHandler[TestCaseStarted]) {
	p.testCaseStarted = append(p.testCaseStarted, h)
}

func (p *EventPublisher) OnTestCaseFinished(h EventHandler[TestCaseFinished]) {
	p.testCaseFinished = append(p.testCaseFinished, h)
}

func (p *EventPublisher) OnEmbed(h EventHandler[EmbedEvent]) {
	p.embed = append(p.embed, h)
}

func (p *EventPublisher) OnWrite(h EventHandler[WriteEvent]) {
	p.write = append(p.write, h)
}

func (p *EventPublisher) OnTestRunFinished(h EventHandler[TestRunFinished]) {
	p.testRunFinished = append(p.testRunFinished, h)
}

// Publish calls every handler registered for the event's type. A failing handler
// does not stop the remaining ones, all errors are joined.
func (p *EventPublisher) Publish(ctx context.Context, e Event) (context.Context, error) {
	switch e := e.(type) {
	case TestCaseStarted:
		return dispatch(ctx, p.testCaseStarted, e)
	case TestCaseFinished:
		return dispatch(ctx, p.testCaseFinished, e)
	case EmbedEvent:
		return dispatch(ctx, p.embed, e)
	case WriteEvent:
		return dispatch(ctx, p.write, e)
	case TestRunFinished:
		return dispatch(ctx, p.testRunFinished, e)
	default:
		return ctx, fmt.Errorf("unknown event type %T", e)
	}
}

func dispatch[E Event](ctx context.Context, handlers []EventHandler[E], e E) (context.Context, error) {
	var errs []error

	for _, h := range handlers {
		next, err := h(ctx, e)
		if err != nil {
			errs = append(errs, fmt.Errorf("handling %s event: %w", e.eventName(), err))
		}
		if next != nil {
			ctx = next
		}
	}

	return ctx, errors.Join(errs...)
}
