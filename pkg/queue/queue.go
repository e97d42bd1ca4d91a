// Package queue provides message publishing over Amazon SQS.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// ErrEmptyQueueURL indicates a send was attempted without a destination queue.
var ErrEmptyQueueURL = errors.New("queue URL must not be empty")

// API is the subset of the SQS client used by the queue system.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// System publishes JSON payloads to SQS queues.
type System interface {
	// Send marshals payload and publishes it to the queue at queueURL.
	Send(ctx context.Context, queueURL string, payload any) error
}

type sqsSystem struct {
	api    API
	logger *slog.Logger
}

// New creates a queue system over the given SQS client.
func New(api API, logger *slog.Logger) System {
	return &sqsSystem{
		api:    api,
		logger: logger.With("system", "queue"),
	}
}

func (s *sqsSystem) Send(ctx context.Context, queueURL string, payload any) error {
	if queueURL == "" {
		return ErrEmptyQueueURL
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal queue payload: %w", err)
	}

	out, err := s.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send message to %s: %w", queueURL, err)
	}

	s.logger.DebugContext(ctx, "message published",
		"queue_url", queueURL,
		"message_id", aws.ToString(out.MessageId))

	return nil
}
