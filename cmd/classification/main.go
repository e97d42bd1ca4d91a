// The classification Lambda consumes S3 upload notifications from its
// queue and runs the classification stage over each new document.
package main

import (
	"context"
	"encoding/json"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/lhuarcayat/BedrockAgent/internal/classification"
	"github.com/lhuarcayat/BedrockAgent/internal/infrastructure"
	"github.com/lhuarcayat/BedrockAgent/internal/pipeline"
)

func main() {
	infra, err := infrastructure.New(context.Background())
	if err != nil {
		log.Fatal("startup failed: ", err)
	}

	handler := classification.New(infra.Runtime, infra.Prompts, classification.Config{
		ExtractionQueueURL: infra.Config.Pipeline.ExtractionQueueURL,
		FallbackQueueURL:   infra.Config.Pipeline.FallbackQueueURL,
	})

	infra.Logger.Info("classification stage starting",
		"env", infra.Config.Env(),
		"primary_model", infra.Config.Models.Primary)

	lambda.Start(func(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
		return pipeline.ProcessBatch(ctx, normalize(event), infra.Config.Pipeline.BatchConcurrency,
			infra.Logger, handler.Process)
	})
}

// normalize rewrites S3 notification bodies into stage payloads.
// Messages that already carry a payload (fallback re-drives) pass
// through untouched. Notification keys arrive URL-encoded (space as
// "+", parentheses percent-escaped), so the decoded key is used to
// build the source path.
func normalize(event events.SQSEvent) events.SQSEvent {
	for i, record := range event.Records {
		var note events.S3Event
		if err := json.Unmarshal([]byte(record.Body), &note); err != nil || len(note.Records) == 0 {
			continue
		}

		entity := note.Records[0].S3
		key := entity.Object.URLDecodedKey
		if key == "" {
			key = entity.Object.Key
		}
		payload := pipeline.Payload{
			Path: "s3://" + entity.Bucket.Name + "/" + key,
		}
		if body, err := json.Marshal(payload); err == nil {
			event.Records[i].Body = string(body)
		}
	}
	return event
}
