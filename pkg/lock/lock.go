// Package lock provides per-document idempotency locks backed by a
// DynamoDB table with a TTL attribute. Acquisition uses a single
// conditional write so that concurrent claimants for the same key
// resolve to exactly one winner.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// ErrEmptyKey indicates a lock operation with no key.
var ErrEmptyKey = errors.New("lock key must not be empty")

// API is the subset of the DynamoDB client used by the lock manager.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Acquisition is the outcome of a Claim call.
type Acquisition struct {
	// Acquired reports whether this claimant won the lock.
	Acquired bool
	// Token identifies the holder for a later Release. Empty when the
	// claim lost to an existing holder.
	Token string
}

type record struct {
	PK          string `dynamodbav:"pk"`
	HolderToken string `dynamodbav:"holder_token"`
	AcquiredAt  string `dynamodbav:"acquired_at"`
	ExpiresAt   int64  `dynamodbav:"expires_at"`
}

// Manager claims and releases locks in a DynamoDB table.
type Manager struct {
	api    API
	table  string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// Config holds lock table parameters.
type Config struct {
	Table string        `toml:"table"`
	TTL   time.Duration `toml:"ttl"`
}

// New creates a lock manager over the given DynamoDB client.
func New(cfg *Config, api API, logger *slog.Logger) *Manager {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	return &Manager{
		api:    api,
		table:  cfg.Table,
		ttl:    ttl,
		logger: logger.With("system", "lock"),
		now:    time.Now,
	}
}

// Claim attempts to acquire the lock for key. The write succeeds only
// when no record exists for the key or the existing record has expired,
// so exactly one concurrent claimant acquires. A lost claim is reported
// through Acquisition.Acquired, not an error.
func (m *Manager) Claim(ctx context.Context, key string) (Acquisition, error) {
	if key == "" {
		return Acquisition{}, ErrEmptyKey
	}

	now := m.now().UTC()
	rec := record{
		PK:          key,
		HolderToken: uuid.NewString(),
		AcquiredAt:  now.Format(time.RFC3339),
		ExpiresAt:   now.Add(m.ttl).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return Acquisition{}, fmt.Errorf("marshal lock record: %w", err)
	}

	cond := expression.Or(
		expression.AttributeNotExists(expression.Name("pk")),
		expression.Name("expires_at").LessThanEqual(expression.Value(now.Unix())),
	)
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return Acquisition{}, fmt.Errorf("build lock condition: %w", err)
	}

	_, err = m.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(m.table),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			m.logger.InfoContext(ctx, "lock held elsewhere", "key", key)
			return Acquisition{Acquired: false}, nil
		}
		return Acquisition{}, fmt.Errorf("claim lock %s: %w", key, err)
	}

	m.logger.DebugContext(ctx, "lock acquired", "key", key, "expires_at", rec.ExpiresAt)
	return Acquisition{Acquired: true, Token: rec.HolderToken}, nil
}

// Release deletes the lock record for key. Failures are logged and
// swallowed: an unreleased lock self-expires through its TTL.
func (m *Manager) Release(ctx context.Context, key string) {
	if key == "" {
		return
	}

	keyAttr, err := attributevalue.MarshalMap(map[string]string{"pk": key})
	if err != nil {
		m.logger.WarnContext(ctx, "lock release skipped", "key", key, "error", err)
		return
	}

	if _, err := m.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(m.table),
		Key:       keyAttr,
	}); err != nil {
		m.logger.WarnContext(ctx, "lock release failed, TTL will reclaim", "key", key, "error", err)
	}
}
