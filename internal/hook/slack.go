package hook

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raphi011/qaspace/internal/model"
	"github.com/slack-go/slack"
)

// SlackHook supports sending messages to slack channels that inform on
// failed runs.
type SlackHook struct {
	api             *slack.Client
	notifyChannelID string

	log *slog.Logger
}

func NewSlackHook(channelID, token string, log *slog.Logger, opts ...slack.Option) *SlackHook {
	return &SlackHook{
		api:             slack.New(token, opts...),
		notifyChannelID: channelID,
		log:             log,
	}
}

func (h *SlackHook) Name() string {
	return "Slack"
}

func (h *SlackHook) Init() error {
	_, err := h.api.AuthTest()
	if err != nil {
		return fmt.Errorf("invalid auth token: %w", err)
	}

	return nil
}

func (h *SlackHook) RunSavedAsync(ctx context.Context, run model.Run) {
	failed := run.Failed()
	if len(failed) == 0 {
		return
	}

	_, _, err := h.api.PostMessageContext(ctx, h.notifyChannelID, slack.MsgOptionBlocks(
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", summaryText(run, failed), false, false),
			nil, nil),
	))
	if err != nil {
		h.log.Error("unable to send slack message", "run-id", run.ID, "error", err)
	}
}

func summaryText(run model.Run, failed []model.TestResult) string {
	b := strings.Builder{}

	name := run.Name
	if name == "" {
		name = run.ID
	}

	fmt.Fprintf(&b, "Run *%s* failed: %d of %d tests did not pass.", name, len(failed), len(run.Results))
	if run.Environment != "" {
		fmt.Fprintf(&b, " (%s)", run.Environment)
	}
	b.WriteString("\n\n")
	b.WriteString("Results:\n")

	for _, tr := range failed {
		fmt.Fprintf(&b, "- %s (%s, %s)\n", tr.Key, tr.Status, tr.Time)
	}

	return b.String()
}
