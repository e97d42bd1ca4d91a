package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lhuarcayat/BedrockAgent/internal/pipeline"
	"github.com/lhuarcayat/BedrockAgent/pkg/bedrock"
	"github.com/lhuarcayat/BedrockAgent/pkg/retry"
)

// flakyModel fails a fixed number of times before succeeding.
type flakyModel struct {
	failures int
	calls    int
}

func (f *flakyModel) Invoke(ctx context.Context, req bedrock.Request) (bedrock.Result, error) {
	f.calls++
	if f.calls <= f.failures {
		return bedrock.Result{}, retry.Tag(retry.KindTransient, errors.New("unavailable"))
	}
	return bedrock.Result{ModelID: req.ModelID, Content: `{"ok":true}`}, nil
}

func callRuntime(model pipeline.ModelInvoker, maxAttempts int) *pipeline.Runtime {
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = maxAttempts
	policy.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return &pipeline.Runtime{Model: model, Retry: policy}
}

func TestCallModelCountsExhaustedAttempts(t *testing.T) {
	model := &flakyModel{failures: 10}
	rt := callRuntime(model, 3)

	_, attempt, err := rt.CallModel(context.Background(), pipeline.StageExtraction, bedrock.Request{ModelID: "nova"})
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if attempt.Attempts != 3 {
		t.Errorf("attempt.Attempts = %d, want 3", attempt.Attempts)
	}
	if attempt.ErrorKind != retry.KindTransient {
		t.Errorf("attempt.ErrorKind = %q, want transient", attempt.ErrorKind)
	}
}

func TestCallModelCountsRecoveredAttempts(t *testing.T) {
	model := &flakyModel{failures: 1}
	rt := callRuntime(model, 3)

	_, attempt, err := rt.CallModel(context.Background(), pipeline.StageExtraction, bedrock.Request{ModelID: "nova"})
	if err != nil {
		t.Fatalf("CallModel error: %v", err)
	}
	if attempt.Attempts != 2 {
		t.Errorf("attempt.Attempts = %d, want 2", attempt.Attempts)
	}
	if attempt.Status != pipeline.StatusAccepted {
		t.Errorf("attempt.Status = %q, want accepted", attempt.Status)
	}
}

func TestWorstKindRanksSchemaViolationBelowMalformed(t *testing.T) {
	attempts := []pipeline.Attempt{
		{ErrorKind: retry.KindSchemaViolation},
		{ErrorKind: retry.KindMalformed},
		{ErrorKind: retry.KindTransient},
	}
	if got := pipeline.WorstKind(attempts); got != retry.KindMalformed {
		t.Errorf("WorstKind = %q, want malformed", got)
	}

	onlySchema := []pipeline.Attempt{{ErrorKind: retry.KindSchemaViolation}}
	if got := pipeline.WorstKind(onlySchema); got != retry.KindSchemaViolation {
		t.Errorf("WorstKind = %q, want schema_violation", got)
	}
}
