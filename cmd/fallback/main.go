// The fallback Lambda consumes escalated documents from its queue and
// runs the pipeline's final recovery pass over each one.
package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/lhuarcayat/BedrockAgent/internal/fallback"
	"github.com/lhuarcayat/BedrockAgent/internal/infrastructure"
	"github.com/lhuarcayat/BedrockAgent/internal/pipeline"
)

func main() {
	infra, err := infrastructure.New(context.Background())
	if err != nil {
		log.Fatal("startup failed: ", err)
	}

	handler := fallback.New(infra.Runtime, infra.Prompts, fallback.Config{
		ExtractionQueueURL: infra.Config.Pipeline.ExtractionQueueURL,
	})

	infra.Logger.Info("fallback stage starting",
		"env", infra.Config.Env(),
		"fallback_model", infra.Config.Models.Fallback)

	lambda.Start(func(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
		return pipeline.ProcessBatch(ctx, event, infra.Config.Pipeline.BatchConcurrency,
			infra.Logger, handler.Process)
	})
}
