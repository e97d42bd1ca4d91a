package extraction_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lhuarcayat/BedrockAgent/internal/confidence"
	"github.com/lhuarcayat/BedrockAgent/internal/documents"
	"github.com/lhuarcayat/BedrockAgent/internal/extraction"
	"github.com/lhuarcayat/BedrockAgent/internal/pipeline"
	"github.com/lhuarcayat/BedrockAgent/internal/prompts"
	"github.com/lhuarcayat/BedrockAgent/pkg/bedrock"
	"github.com/lhuarcayat/BedrockAgent/pkg/lock"
	"github.com/lhuarcayat/BedrockAgent/pkg/retry"
)

const fallbackQueue = "https://sqs/fallback"

const sourcePath = "s3://origin/RUT/901234567/rut_scan.pdf"

const fullResult = `{"PrincipalCompanyName":"ACME SAS","TaxId":"901234567","DocumentCategory":"Tax Registration"}`

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
	extractions []map[string]any
	raws        []string
}

func (f *fakeResults) SaveClassification(ctx context.Context, ref documents.Reference, result map[string]any) error {
	return nil
}

func (f *fakeResults) SaveExtraction(ctx context.Context, ref documents.Reference, result map[string]any, raw string) error {
	f.extractions = append(f.extractions, result)
	f.raws = append(f.raws, raw)
	return nil
}

func (f *fakeResults) SaveFailure(ctx context.Context, stage pipeline.Stage, ref documents.Reference, payload pipeline.Payload) error {
	return nil
}

type fakeReview struct{}

func (fakeReview) Record(ctx context.Context, ref documents.Reference, payload pipeline.Payload, kind retry.Kind, message string) error {
	return nil
}

type fakeOrigin struct{}

func (fakeOrigin) Get(ctx context.Context, key string) ([]byte, error) {
	return []byte("%PDF-1.4 fake"), nil
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
	handler *extraction.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		locks:   &fakeLocker{},
		model:   &fakeModel{responses: map[string]bedrock.Result{}, errs: map[string]error{}},
		queue:   &fakeQueue{},
		results: &fakeResults{},
	}

	policy := confidence.Policy{}
	require.NoError(t, policy.Finalize())

	retryPolicy := retry.DefaultPolicy()
	retryPolicy.MaxAttempts = 1
	retryPolicy.Sleep = func(ctx context.Context, d time.Duration) error { return nil }

	rt := &pipeline.Runtime{
		Locks:   f.locks,
		Model:   f.model,
		Queue:   f.queue,
		Results: f.results,
		Review:  fakeReview{},
		Origin:  fakeOrigin{},
		Models:  pipeline.Models{Primary: "nova", Fallback: "claude"},
		Router:  confidence.NewRouter(policy),
		Retry:   retryPolicy,
		Logger:  slog.Default(),
	}

	f.handler = extraction.New(rt, staticPrompts{}, extraction.Config{FallbackQueueURL: fallbackQueue})
	return f
}

func payloadFor(path string) pipeline.Payload {
	return pipeline.Payload{Path: path, Category: documents.CategoryRUT}
}

func TestProcessAcceptsHighCoverageResult(t *testing.T) {
	f := newFixture(t)
	f.model.responses["nova"] = bedrock.Result{ModelID: "nova", Content: fullResult}

	err := f.handler.Process(context.Background(), payloadFor(sourcePath))
	require.NoError(t, err)

	require.Len(t, f.results.extractions, 1)
	assert.Equal(t, "ACME SAS", f.results.extractions[0]["PrincipalCompanyName"])
	assert.Equal(t, fullResult, f.results.raws[0])
	assert.Empty(t, f.queue.sent, "accepted results must not escalate")
	assert.Equal(t, []string{"nova"}, f.model.calls, "primary success must not invoke fallback")
}

func TestProcessLowCoverageTriesAlternateThenEscalates(t *testing.T) {
	f := newFixture(t)
	thin := `{"PrincipalCompanyName":"ForReview","TaxId":"ForReview","DocumentCategory":"ForReview"}`
	f.model.responses["nova"] = bedrock.Result{ModelID: "nova", Content: thin}
	f.model.responses["claude"] = bedrock.Result{ModelID: "claude", Content: thin}

	err := f.handler.Process(context.Background(), payloadFor(sourcePath))
	require.NoError(t, err)

	assert.Equal(t, []string{"nova", "claude"}, f.model.calls)
	assert.Empty(t, f.results.extractions)
	require.Len(t, f.queue.sent, 1)
	assert.Equal(t, fallbackQueue, f.queue.sent[0].queueURL)
	assert.True(t, f.queue.sent[0].payload.FallbackUsed)
	assert.NotNil(t, f.queue.sent[0].payload.Result, "best rejected result travels to fallback")
}

func TestProcessAlternateModelRecovers(t *testing.T) {
	f := newFixture(t)
	f.model.responses["nova"] = bedrock.Result{ModelID: "nova", Content: `{"TaxId":"ForReview"}`}
	f.model.responses["claude"] = bedrock.Result{ModelID: "claude", Content: fullResult}

	err := f.handler.Process(context.Background(), payloadFor(sourcePath))
	require.NoError(t, err)

	require.Len(t, f.results.extractions, 1)
	assert.Empty(t, f.queue.sent)
}

func TestProcessFallbackUsedInvertsModelOrder(t *testing.T) {
	f := newFixture(t)
	f.model.responses["claude"] = bedrock.Result{ModelID: "claude", Content: fullResult}

	payload := payloadFor(sourcePath)
	payload.FallbackUsed = true
	err := f.handler.Process(context.Background(), payload)
	require.NoError(t, err)

	require.NotEmpty(t, f.model.calls)
	assert.Equal(t, "claude", f.model.calls[0], "fallback-first ordering expected")
}

func TestProcessContentRejectedSkipsAlternate(t *testing.T) {
	f := newFixture(t)
	f.model.errs["nova"] = retry.Tag(retry.KindContentRejected, bedrock.ErrContentFiltered)

	err := f.handler.Process(context.Background(), payloadFor(sourcePath))
	require.NoError(t, err)

	assert.Equal(t, []string{"nova"}, f.model.calls)
	require.Len(t, f.queue.sent, 1)
	assert.Equal(t, retry.KindContentRejected, pipeline.LastKind(f.queue.sent[0].payload.Attempts))
}

func TestProcessLockContentionSkips(t *testing.T) {
	f := newFixture(t)
	f.locks.contended = true

	err := f.handler.Process(context.Background(), payloadFor(sourcePath))
	require.NoError(t, err)

	assert.Empty(t, f.model.calls)
	assert.Empty(t, f.queue.sent)
}

func TestProcessLowConfidenceSignalEscalates(t *testing.T) {
	f := newFixture(t)
	flagged := `{"PrincipalCompanyName":"ACME SAS","TaxId":"901234567","DocumentCategory":"Tax Registration","extraction_confidence":"low"}`
	f.model.responses["nova"] = bedrock.Result{ModelID: "nova", Content: flagged}
	f.model.responses["claude"] = bedrock.Result{ModelID: "claude", Content: flagged}

	err := f.handler.Process(context.Background(), payloadFor(sourcePath))
	require.NoError(t, err)

	assert.Empty(t, f.results.extractions, "low-confidence results must not be accepted in or-mode")
	require.Len(t, f.queue.sent, 1)
}
