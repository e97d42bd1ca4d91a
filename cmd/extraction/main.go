// The extraction Lambda consumes classified documents from its queue
// and runs the extraction stage over each one.
package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/lhuarcayat/BedrockAgent/internal/extraction"
	"github.com/lhuarcayat/BedrockAgent/internal/infrastructure"
	"github.com/lhuarcayat/BedrockAgent/internal/pipeline"
)

func main() {
	infra, err := infrastructure.New(context.Background())
	if err != nil {
		log.Fatal("startup failed: ", err)
	}

	handler := extraction.New(infra.Runtime, infra.Prompts, extraction.Config{
		FallbackQueueURL: infra.Config.Pipeline.FallbackQueueURL,
	})

	infra.Logger.Info("extraction stage starting",
		"env", infra.Config.Env(),
		"primary_model", infra.Config.Models.Primary)

	lambda.Start(func(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
		return pipeline.ProcessBatch(ctx, event, infra.Config.Pipeline.BatchConcurrency,
			infra.Logger, handler.Process)
	})
}
