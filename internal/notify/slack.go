package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

// SlackNotifier posts follow-ups to a Slack channel.
type SlackNotifier struct {
	api     *slack.Client
	channel string
}

// NewSlackNotifier creates a notifier posting to channel. apiBase may be
// empty for the public Slack API.
func NewSlackNotifier(token, channel, apiBase string) (*SlackNotifier, error) {
	token = strings.TrimSpace(token)
	if token == "" || channel == "" {
		return nil, fmt.Errorf("notify: slack needs a bot token and a channel")
	}
	base := strings.TrimSpace(apiBase)
	if base == "" {
		base = "https://slack.com/api"
	}
	base = strings.TrimRight(base, "/") + "/"
	api := slack.New(token,
		slack.OptionHTTPClient(&http.Client{Timeout: 15 * time.Second}),
		slack.OptionAPIURL(base),
	)
	return &SlackNotifier{api: api, channel: channel}, nil
}

func (s *SlackNotifier) Notify(ctx context.Context, f Followup) error {
	text := fmt.Sprintf("[%s] %s", f.UserID, f.Message)
	if _, _, err := s.api.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("notify: slack: %w", err)
	}
	return nil
}
