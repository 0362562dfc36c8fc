package notify

import (
	"errors"

	"github.com/makobot/mako/internal/config"
)

// FromConfig builds the delivery chain: the log notifier plus every enabled
// transport. The returned close function releases transport resources.
func FromConfig(cfg config.NotifyConfig) (Multi, func() error, error) {
	chain := Multi{LogNotifier{}}
	var closers []func() error
	if cfg.Kafka.Enabled {
		k, err := NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, nil, err
		}
		chain = append(chain, k)
		closers = append(closers, k.Close)
	}
	if cfg.Slack.Enabled {
		s, err := NewSlackNotifier(cfg.Slack.BotToken, cfg.Slack.ChannelID, cfg.Slack.APIBase)
		if err != nil {
			return nil, nil, err
		}
		chain = append(chain, s)
	}
	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}
	return chain, closeAll, nil
}
