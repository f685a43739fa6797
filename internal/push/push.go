// Package push delivers mobile notifications through Firebase Cloud
// Messaging.
package push

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

type Sender struct {
	logger *slog.Logger
	client *messaging.Client
}

// NewSender initializes the FCM client from a service-account
// credentials file.
func NewSender(ctx context.Context, logger *slog.Logger, credentialsFile string) (*Sender, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("push: failed to initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("push: failed to initialize messaging client: %w", err)
	}
	return &Sender{logger: logger, client: client}, nil
}

// Send pushes one notification to a batch of device tokens. Individual
// token failures (uninstalled apps, rotated tokens) are logged, not
// returned; only a whole-batch failure is an error.
func (s *Sender) Send(ctx context.Context, tokens []string, title, message string, data map[string]string) error {
	if len(tokens) == 0 {
		return nil
	}

	response, err := s.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  message,
		},
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("push: multicast send failed: %w", err)
	}

	if response.FailureCount > 0 {
		for i, result := range response.Responses {
			if result.Error != nil {
				s.logger.Warn("push token failed",
					slog.String("token_suffix", suffix(tokens[i])),
					slog.String("error", result.Error.Error()))
			}
		}
	}
	s.logger.Debug("push sent",
		slog.Int("success", response.SuccessCount),
		slog.Int("failure", response.FailureCount))
	return nil
}

func suffix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[len(token)-8:]
}
