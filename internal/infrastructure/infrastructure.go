// Package infrastructure provides core service initialization for the
// Lambda entrypoints. It assembles the AWS clients and pipeline
// collaborators every stage requires into a ready-to-use runtime.
package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/lhuarcayat/BedrockAgent/internal/confidence"
	"github.com/lhuarcayat/BedrockAgent/internal/config"
	"github.com/lhuarcayat/BedrockAgent/internal/pipeline"
	"github.com/lhuarcayat/BedrockAgent/internal/prompts"
	"github.com/lhuarcayat/BedrockAgent/internal/results"
	"github.com/lhuarcayat/BedrockAgent/internal/review"
	"github.com/lhuarcayat/BedrockAgent/pkg/bedrock"
	"github.com/lhuarcayat/BedrockAgent/pkg/lock"
	"github.com/lhuarcayat/BedrockAgent/pkg/queue"
	"github.com/lhuarcayat/BedrockAgent/pkg/storage"
)

// Infrastructure holds the composed pipeline systems shared by the
// three stage Lambdas.
type Infrastructure struct {
	Config  *config.Config
	Logger  *slog.Logger
	Runtime *pipeline.Runtime
	Prompts prompts.Source
}

// New loads configuration, builds the AWS clients, and wires the
// pipeline runtime.
func New(ctx context.Context) (*Infrastructure, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("aws config load failed: %w", err)
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	s3Client := s3.NewFromConfig(awsCfg)
	sqsClient := sqs.NewFromConfig(awsCfg)
	bedrockClient := bedrockruntime.NewFromConfig(awsCfg)

	origin := storage.New(&storage.Config{Bucket: cfg.Pipeline.OriginBucket}, s3Client, logger)
	destination := storage.New(&storage.Config{Bucket: cfg.Pipeline.DestinationBucket}, s3Client, logger)

	locks := lock.New(&lock.Config{
		Table: cfg.Pipeline.LockTable,
		TTL:   cfg.Pipeline.LockTTLDuration(),
	}, dynamoClient, logger)

	ledger := review.New(&review.Config{Table: cfg.Pipeline.ReviewTable}, dynamoClient, logger)

	store := results.New(&results.Config{Prefix: cfg.Pipeline.FolderPrefix}, destination, logger)

	model := bedrock.NewClient(bedrockClient, bedrock.Config{
		CallTimeout:    cfg.Models.CallTimeoutDuration(),
		InterCallDelay: cfg.Models.InterCallDelayDuration(),
	}, logger)

	rt := &pipeline.Runtime{
		Locks:   locks,
		Model:   model,
		Queue:   queue.New(sqsClient, logger),
		Results: store,
		Review:  ledger,
		Origin:  origin,
		Models: pipeline.Models{
			Primary:  cfg.Models.Primary,
			Fallback: cfg.Models.Fallback,
			Params: bedrock.Params{
				MaxOutputTokens: cfg.Models.MaxOutputTokens,
				TopP:            cfg.Models.TopP,
				Temperature:     cfg.Models.Temperature,
			},
		},
		Router:           confidence.NewRouter(cfg.Confidence),
		Retry:            cfg.Retry.Policy(),
		Logger:           logger,
		MaxDocumentBytes: cfg.Pipeline.MaxDocumentBytes(),
	}

	return &Infrastructure{
		Config:  cfg,
		Logger:  logger,
		Runtime: rt,
		Prompts: prompts.New(&prompts.Config{Root: cfg.Pipeline.PromptsDir}),
	}, nil
}
