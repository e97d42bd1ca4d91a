// Package review implements the manual review ledger: a DynamoDB table
// of documents the pipeline could not process, queryable by failure
// category and date or by document identity.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/lhuarcayat/BedrockAgent/internal/documents"
	"github.com/lhuarcayat/BedrockAgent/internal/pipeline"
	"github.com/lhuarcayat/BedrockAgent/pkg/retry"
)

const (
	// documentIndex is the GSI supporting lookup by document identity.
	documentIndex = "document-index"
	// retention is how long review records stay queryable.
	retention = 90 * 24 * time.Hour
	// dedupeWindow coarsens the sort-key timestamp so retries of the
	// same failure within the window derive the same key.
	dedupeWindow = time.Hour
)

// Record is one manual review entry. Keys are derived, never stored by
// callers: pk groups by failure category, sk orders by date bucket then
// document, and the GSI inverts the layout for per-document lookup.
type Record struct {
	PK              string   `dynamodbav:"pk"`
	SK              string   `dynamodbav:"sk"`
	GSI1PK          string   `dynamodbav:"gsi1pk"`
	GSI1SK          string   `dynamodbav:"gsi1sk"`
	RecordID        string   `dynamodbav:"record_id"`
	Category        string   `dynamodbav:"category"`
	DocumentNumber  string   `dynamodbav:"document_number"`
	Date            string   `dynamodbav:"date"`
	SourcePath      string   `dynamodbav:"source_path"`
	ErrorKind       string   `dynamodbav:"error_kind"`
	ErrorMessage    string   `dynamodbav:"error_message"`
	ModelsAttempted []string `dynamodbav:"models_attempted,omitempty"`
	FallbackUsed    bool     `dynamodbav:"fallback_used"`
	RawPayload      string   `dynamodbav:"raw_payload,omitempty"`
	CreatedAt       string   `dynamodbav:"created_at"`
	TTL             int64    `dynamodbav:"ttl"`
}

// API is the subset of the DynamoDB client used by the ledger.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Config holds review table parameters.
type Config struct {
	Table string `toml:"table"`
}

// Ledger records and queries manual review entries.
type Ledger struct {
	api    API
	table  string
	logger *slog.Logger
	now    func() time.Time
}

// New creates a ledger over the given DynamoDB client.
func New(cfg *Config, api API, logger *slog.Logger) *Ledger {
	return &Ledger{
		api:    api,
		table:  cfg.Table,
		logger: logger.With("system", "review"),
		now:    time.Now,
	}
}

// Keys derives the deterministic key set for a failure. Retrying the
// same document failure within the dedupe window produces identical
// keys, so redeliveries overwrite rather than duplicate.
func Keys(ref documents.Reference, at time.Time) (pk, sk, gsi1pk, gsi1sk string) {
	at = at.UTC()
	dateBucket := at.Format("2006#01#02")
	date := at.Format("2006-01-02")
	bucket := at.Truncate(dedupeWindow).Unix()

	pk = fmt.Sprintf("FAILED#%s", ref.Category)
	sk = fmt.Sprintf("%s#%s#%d", dateBucket, ref.ID, bucket)
	gsi1pk = fmt.Sprintf("DOC#%s", ref.ID)
	gsi1sk = fmt.Sprintf("%s#%s", ref.Category, date)
	return pk, sk, gsi1pk, gsi1sk
}

// Record writes a review entry for a document the pipeline gave up on.
func (l *Ledger) Record(ctx context.Context, ref documents.Reference, payload pipeline.Payload, kind retry.Kind, message string) error {
	now := l.now().UTC()
	pk, sk, gsi1pk, gsi1sk := Keys(ref, now)

	var models []string
	for _, attempt := range payload.Attempts {
		models = append(models, attempt.ModelID)
	}

	var raw string
	if payload.Result != nil {
		if data, err := json.Marshal(payload.Result); err == nil {
			raw = string(data)
		}
	}

	rec := Record{
		PK:              pk,
		SK:              sk,
		GSI1PK:          gsi1pk,
		GSI1SK:          gsi1sk,
		RecordID:        uuid.NewString(),
		Category:        string(ref.Category),
		DocumentNumber:  ref.DocumentNumber,
		Date:            now.Format("2006-01-02"),
		SourcePath:      ref.Path(),
		ErrorKind:       string(kind),
		ErrorMessage:    message,
		ModelsAttempted: models,
		FallbackUsed:    payload.FallbackUsed,
		RawPayload:      raw,
		CreatedAt:       now.Format(time.RFC3339),
		TTL:             now.Add(retention).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal review record: %w", err)
	}

	if _, err := l.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("record review entry %s: %w", ref.ID, err)
	}

	l.logger.InfoContext(ctx, "manual review entry recorded",
		"document", ref.ID,
		"category", ref.Category,
		"error_kind", kind)

	return nil
}

// QueryByCategoryAndDate returns review entries for a failure category
// on a given day, newest layout order first preserved by the sort key.
func (l *Ledger) QueryByCategoryAndDate(ctx context.Context, category documents.Category, day time.Time) ([]Record, error) {
	pk := fmt.Sprintf("FAILED#%s", category)
	prefix := day.UTC().Format("2006#01#02")

	cond := expression.Key("pk").Equal(expression.Value(pk)).
		And(expression.Key("sk").BeginsWith(prefix))
	expr, err := expression.NewBuilder().WithKeyCondition(cond).Build()
	if err != nil {
		return nil, fmt.Errorf("build review query: %w", err)
	}

	return l.query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(l.table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
}

// QueryByDocument returns every review entry for a document identity.
func (l *Ledger) QueryByDocument(ctx context.Context, documentID string) ([]Record, error) {
	cond := expression.Key("gsi1pk").Equal(expression.Value(fmt.Sprintf("DOC#%s", documentID)))
	expr, err := expression.NewBuilder().WithKeyCondition(cond).Build()
	if err != nil {
		return nil, fmt.Errorf("build document query: %w", err)
	}

	return l.query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(l.table),
		IndexName:                 aws.String(documentIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
}

func (l *Ledger) query(ctx context.Context, input *dynamodb.QueryInput) ([]Record, error) {
	var records []Record
	var startKey map[string]types.AttributeValue

	for {
		input.ExclusiveStartKey = startKey
		out, err := l.api.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query review table: %w", err)
		}

		var page []Record
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal review records: %w", err)
		}
		records = append(records, page...)

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return records, nil
}

var _ pipeline.Recorder = (*Ledger)(nil)
