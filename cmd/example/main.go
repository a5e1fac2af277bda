package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cucumber/godog"
	"github.com/raphi011/qaspace"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := qaspace.LoadConfig(os.Getenv("QASPACE_CONFIG"))
	if err != nil {
		log.Error(err.Error())
		os.Exit(-1)
	}

	p, err := qaspace.NewResultProcessorFromConfig(cfg, log)
	if err != nil {
		log.Error(err.Error())
		os.Exit(-1)
	}

	adapter := qaspace.NewGodogAdapter(qaspace.NewListener(p,
		qaspace.WithAttachmentDir(cfg.AttachmentDir),
		qaspace.WithListenerLogger(log),
	)).WithLogger(log)

	status := godog.TestSuite{
		Name:                 "basket",
		TestSuiteInitializer: adapter.InitializeTestSuite,
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			adapter.InitializeScenario(sc)
			initializeBasketSteps(sc)
		},
		Options: &godog.Options{
			Format:      "pretty",
			Concurrency: 1,
			Paths:       []string{"features"},
		},
	}.Run()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.Close(ctx); err != nil {
		log.Error("unable to close processor", "error", err)
	}

	log.Info("run finished", "run-id", p.RunID())

	os.Exit(status)
}

type basketKey struct{}

type basket struct {
	items map[string]int
}

func initializeBasketSteps(sc *godog.ScenarioContext) {
	sc.Step(`^an empty basket$`, func(ctx context.Context) context.Context {
		return context.WithValue(ctx, basketKey{}, &basket{items: map[string]int{}})
	})

	sc.Step(`^I add (\d+) "([^"]*)"$`, func(ctx context.Context, n int, item string) error {
		b := ctx.Value(basketKey{}).(*basket)
		b.items[item] += n

		qaspace.Write(ctx, fmt.Sprintf("added %d %s", n, item))

		return nil
	})

	sc.Step(`^the basket contains (\d+) "([^"]*)"$`, func(ctx context.Context, n int, item string) error {
		b := ctx.Value(basketKey{}).(*basket)

		if b.items[item] != n {
			qaspace.Embed(ctx, "text/plain", []byte(fmt.Sprintf("basket: %v", b.items)))
			return fmt.Errorf("expected %d %s but got %d", n, item, b.items[item])
		}

		return nil
	})

	sc.Step(`^the checkout is not implemented yet$`, func() error {
		return godog.ErrPending
	})

	sc.Step(`^the payment provider is down$`, func() error {
		return errors.New("payment provider unavailable")
	})
}
