package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"golang.org/x/sync/errgroup"
)

// Handler processes a single queue payload. A returned error requeues
// only that record through the batch item failure response.
type Handler func(ctx context.Context, payload Payload) error

// ParsePayload decodes and validates a queue message body.
func ParsePayload(body string) (Payload, error) {
	var payload Payload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	if payload.Path == "" {
		return Payload{}, fmt.Errorf("payload missing source path")
	}
	return payload, nil
}

// ProcessBatch fans an SQS batch across workers and reports per-record
// failures. One poisoned record never fails the whole batch: malformed
// bodies and handler errors surface as individual item failures so SQS
// redelivers only those messages.
func ProcessBatch(ctx context.Context, event events.SQSEvent, limit int, logger *slog.Logger, handler Handler) (events.SQSEventResponse, error) {
	if limit <= 0 {
		limit = 1
	}

	var mu sync.Mutex
	var failures []events.SQSBatchItemFailure

	fail := func(id string) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: id})
	}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(limit)

	for _, record := range event.Records {
		group.Go(func() error {
			payload, err := ParsePayload(record.Body)
			if err != nil {
				logger.ErrorContext(ctx, "record rejected",
					"message_id", record.MessageId,
					"error", err)
				fail(record.MessageId)
				return nil
			}

			if err := handler(ctx, payload); err != nil {
				logger.ErrorContext(ctx, "record failed",
					"message_id", record.MessageId,
					"path", payload.Path,
					"error", err)
				fail(record.MessageId)
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return events.SQSEventResponse{}, err
	}

	return events.SQSEventResponse{BatchItemFailures: failures}, nil
}
