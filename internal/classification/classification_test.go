package classification_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lhuarcayat/BedrockAgent/internal/classification"
	"github.com/lhuarcayat/BedrockAgent/internal/confidence"
	"github.com/lhuarcayat/BedrockAgent/internal/documents"
	"github.com/lhuarcayat/BedrockAgent/internal/pipeline"
	"github.com/lhuarcayat/BedrockAgent/internal/prompts"
	"github.com/lhuarcayat/BedrockAgent/pkg/bedrock"
	"github.com/lhuarcayat/BedrockAgent/pkg/lock"
	"github.com/lhuarcayat/BedrockAgent/pkg/retry"
)

const (
	extractionQueue = "https://sqs/extraction"
	fallbackQueue   = "https://sqs/fallback"
)

type fakeLocker struct {
	contended bool
	released  []string
}

func (f *fakeLocker) Claim(ctx context.Context, key string) (lock.Acquisition, error) {
	if f.contended {
		return lock.Acquisition{}, nil
	}
	return lock.Acquisition{Acquired: true, Token: "tok"}, nil
}

func (f *fakeLocker) Release(ctx context.Context, key string) {
	f.released = append(f.released, key)
}

// fakeModel returns canned responses keyed by model ID.
type fakeModel struct {
	responses map[string]bedrock.Result
	errs      map[string]error
	calls     []string
}

func (f *fakeModel) Invoke(ctx context.Context, req bedrock.Request) (bedrock.Result, error) {
	f.calls = append(f.calls, req.ModelID)
	if err, ok := f.errs[req.ModelID]; ok {
		return bedrock.Result{}, err
	}
	return f.responses[req.ModelID], nil
}

type sentMessage struct {
	queueURL string
	payload  pipeline.Payload
}

type fakeQueue struct {
	sent []sentMessage
}

func (f *fakeQueue) Send(ctx context.Context, queueURL string, payload any) error {
	f.sent = append(f.sent, sentMessage{queueURL: queueURL, payload: payload.(pipeline.Payload)})
	return nil
}

type fakeResults struct {
	classifications []map[string]any
	extractions     []map[string]any
	failures        []pipeline.Stage
}

func (f *fakeResults) SaveClassification(ctx context.Context, ref documents.Reference, result map[string]any) error {
	f.classifications = append(f.classifications, result)
	return nil
}

func (f *fakeResults) SaveExtraction(ctx context.Context, ref documents.Reference, result map[string]any, raw string) error {
	f.extractions = append(f.extractions, result)
	return nil
}

func (f *fakeResults) SaveFailure(ctx context.Context, stage pipeline.Stage, ref documents.Reference, payload pipeline.Payload) error {
	f.failures = append(f.failures, stage)
	return nil
}

type fakeReview struct {
	recorded []retry.Kind
}

func (f *fakeReview) Record(ctx context.Context, ref documents.Reference, payload pipeline.Payload, kind retry.Kind, message string) error {
	f.recorded = append(f.recorded, kind)
	return nil
}

type fakeOrigin struct {
	data map[string][]byte
}

func (f *fakeOrigin) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.data[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

type staticPrompts struct{}

func (staticPrompts) Classification() (prompts.Pair, error) {
	return prompts.Pair{System: "classify", User: "classify this"}, nil
}

func (staticPrompts) Extraction(category documents.Category) (prompts.Pair, error) {
	return prompts.Pair{System: "extract", User: "extract this"}, nil
}

type fixture struct {
	locks   *fakeLocker
	model   *fakeModel
	queue   *fakeQueue
	results *fakeResults
	review  *fakeReview
	origin  *fakeOrigin
	rt      *pipeline.Runtime
	handler *classification.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		locks:   &fakeLocker{},
		model:   &fakeModel{responses: map[string]bedrock.Result{}, errs: map[string]error{}},
		queue:   &fakeQueue{},
		results: &fakeResults{},
		review:  &fakeReview{},
		origin:  &fakeOrigin{data: map[string][]byte{"CERL/800035887/scan.pdf": []byte("%PDF-1.4 fake")}},
	}

	policy := confidence.Policy{}
	require.NoError(t, policy.Finalize())

	rt := &pipeline.Runtime{
		Locks:   f.locks,
		Model:   f.model,
		Queue:   f.queue,
		Results: f.results,
		Review:  f.review,
		Origin:  f.origin,
		Models:  pipeline.Models{Primary: "nova", Fallback: "claude"},
		Router:  confidence.NewRouter(policy),
		Retry:   singleAttempt(),
		Logger:  slog.Default(),
	}

	f.rt = rt
	f.handler = classification.New(rt, staticPrompts{}, classification.Config{
		ExtractionQueueURL: extractionQueue,
		FallbackQueueURL:   fallbackQueue,
	})
	return f
}

func singleAttempt() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = 1
	p.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return p
}

func payloadFor(path string) pipeline.Payload {
	return pipeline.Payload{Path: path}
}

func TestProcessAcceptsAndEnqueuesExtraction(t *testing.T) {
	f := newFixture(t)
	f.model.responses["nova"] = bedrock.Result{
		ModelID: "nova",
		Content: `{"category":"CERL","documenttype":"company"}`,
	}

	err := f.handler.Process(context.Background(), payloadFor("s3://origin/CERL/800035887/scan.pdf"))
	require.NoError(t, err)

	require.Len(t, f.results.classifications, 1)
	require.Len(t, f.queue.sent, 1)
	assert.Equal(t, extractionQueue, f.queue.sent[0].queueURL)
	assert.Equal(t, documents.CategoryCERL, f.queue.sent[0].payload.Category)
	assert.Equal(t, documents.TypeCompany, f.queue.sent[0].payload.DocumentType)
	assert.False(t, f.queue.sent[0].payload.FallbackUsed)
}

func TestProcessTerminalCategoryStopsPipeline(t *testing.T) {
	f := newFixture(t)
	f.model.responses["nova"] = bedrock.Result{
		ModelID: "nova",
		Content: `{"category":"BLANK"}`,
	}

	err := f.handler.Process(context.Background(), payloadFor("s3://origin/CERL/800035887/scan.pdf"))
	require.NoError(t, err)

	assert.Len(t, f.results.classifications, 1)
	assert.Empty(t, f.queue.sent, "terminal categories must not reach extraction")
}

func TestProcessLockContentionSkips(t *testing.T) {
	f := newFixture(t)
	f.locks.contended = true

	err := f.handler.Process(context.Background(), payloadFor("s3://origin/CERL/800035887/scan.pdf"))
	require.NoError(t, err)

	assert.Empty(t, f.model.calls, "skipped payloads must not invoke the model")
	assert.Empty(t, f.queue.sent)
}

func TestProcessPrimaryFailureFallsThrough(t *testing.T) {
	f := newFixture(t)
	f.model.errs["nova"] = retry.Tag(retry.KindTransient, errors.New("model unavailable"))
	f.model.responses["claude"] = bedrock.Result{
		ModelID: "claude",
		Content: `{"category":"RUT"}`,
	}

	err := f.handler.Process(context.Background(), payloadFor("s3://origin/CERL/800035887/scan.pdf"))
	require.NoError(t, err)

	assert.Equal(t, []string{"nova", "claude"}, f.model.calls)
	require.Len(t, f.queue.sent, 1)
	assert.Equal(t, extractionQueue, f.queue.sent[0].queueURL)
	// a fallback-model success inverts model order downstream
	assert.True(t, f.queue.sent[0].payload.FallbackUsed)
}

func TestProcessBothModelsFailEscalates(t *testing.T) {
	f := newFixture(t)
	f.model.errs["nova"] = retry.Tag(retry.KindTransient, errors.New("down"))
	f.model.errs["claude"] = retry.Tag(retry.KindTransient, errors.New("down"))

	err := f.handler.Process(context.Background(), payloadFor("s3://origin/CERL/800035887/scan.pdf"))
	require.NoError(t, err)

	require.Len(t, f.queue.sent, 1)
	assert.Equal(t, fallbackQueue, f.queue.sent[0].queueURL)
	assert.True(t, f.queue.sent[0].payload.FallbackUsed)
	assert.Len(t, f.queue.sent[0].payload.Attempts, 2)
}

func TestProcessContentRejectedSkipsAlternateModel(t *testing.T) {
	f := newFixture(t)
	f.model.errs["nova"] = retry.Tag(retry.KindContentRejected, bedrock.ErrContentFiltered)

	err := f.handler.Process(context.Background(), payloadFor("s3://origin/CERL/800035887/scan.pdf"))
	require.NoError(t, err)

	assert.Equal(t, []string{"nova"}, f.model.calls, "rejected content must not hit the alternate model")
	require.Len(t, f.queue.sent, 1)
	assert.Equal(t, fallbackQueue, f.queue.sent[0].queueURL)
	assert.Equal(t, retry.KindContentRejected, pipeline.LastKind(f.queue.sent[0].payload.Attempts))
}

func TestProcessMalformedResponseTriesAlternate(t *testing.T) {
	f := newFixture(t)
	f.model.responses["nova"] = bedrock.Result{ModelID: "nova", Content: "I cannot classify this"}
	f.model.responses["claude"] = bedrock.Result{ModelID: "claude", Content: `{"category":"ACC"}`}

	err := f.handler.Process(context.Background(), payloadFor("s3://origin/CERL/800035887/scan.pdf"))
	require.NoError(t, err)

	assert.Equal(t, []string{"nova", "claude"}, f.model.calls)
	require.Len(t, f.queue.sent, 1)
	assert.Equal(t, documents.CategoryACC, f.queue.sent[0].payload.Category)
}

func TestProcessOversizeDocumentEscalatesWithoutModelCall(t *testing.T) {
	f := newFixture(t)
	f.rt.MaxDocumentBytes = 8 // fixture document is 13 bytes

	err := f.handler.Process(context.Background(), payloadFor("s3://origin/CERL/800035887/scan.pdf"))
	require.NoError(t, err)

	assert.Empty(t, f.model.calls, "oversize documents must not reach a model")
	require.Len(t, f.queue.sent, 1)
	assert.Equal(t, fallbackQueue, f.queue.sent[0].queueURL)
	assert.True(t, f.queue.sent[0].payload.FallbackUsed)
	assert.Equal(t, retry.KindContentRejected, pipeline.LastKind(f.queue.sent[0].payload.Attempts))
	assert.Contains(t, f.queue.sent[0].payload.Attempts[0].ErrorMessage, "exceeds limit")
}

func TestProcessMissingDocumentReleasesLock(t *testing.T) {
	f := newFixture(t)

	err := f.handler.Process(context.Background(), payloadFor("s3://origin/CERL/999/missing.pdf"))
	require.Error(t, err)

	assert.Contains(t, f.locks.released, "classification#CERL/999/missing")
}
