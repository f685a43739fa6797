// Package broadcast publishes notification payloads to Redis pub/sub
// channels, one channel per user, for realtime clients.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

type Publisher struct {
	logger *slog.Logger
	client *redis.Client
}

type Options struct {
	Addr     string
	Password string
	DB       int
}

func NewPublisher(logger *slog.Logger, opts Options) *Publisher {
	return &Publisher{
		logger: logger,
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
	}
}

func (p *Publisher) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("broadcast: redis ping failed: %w", err)
	}
	return nil
}

// Publish serializes the payload as JSON onto the channel. Delivery is
// fire and forget; subscribers that are offline simply miss it.
func (p *Publisher) Publish(ctx context.Context, channel string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("broadcast: failed to encode payload: %w", err)
	}
	if err := p.client.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("broadcast: failed to publish to %s: %w", channel, err)
	}
	p.logger.Debug("published", slog.String("channel", channel))
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
