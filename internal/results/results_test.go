package results_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/lhuarcayat/BedrockAgent/internal/documents"
	"github.com/lhuarcayat/BedrockAgent/internal/pipeline"
	"github.com/lhuarcayat/BedrockAgent/internal/results"
	"github.com/lhuarcayat/BedrockAgent/pkg/storage"
)

// fakeBlobs is an in-memory storage.System with write-once semantics.
type fakeBlobs struct {
	objects map[string][]byte
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}}
}

func (f *fakeBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	f.objects[key] = data
	return nil
}

func (f *fakeBlobs) PutJSONIfAbsent(ctx context.Context, key string, v any) error {
	if _, exists := f.objects[key]; exists {
		return storage.ErrAlreadyExists
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (f *fakeBlobs) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	data, err := f.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBlobs) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := f.objects[key]
	return ok, nil
}

func testRef(t *testing.T) documents.Reference {
	t.Helper()
	ref, err := documents.ParseSourcePath("s3://origin/RUB/555000111/rub_scan.pdf")
	if err != nil {
		t.Fatalf("ParseSourcePath: %v", err)
	}
	return ref
}

func newStore(blobs storage.System) *results.Store {
	return results.New(&results.Config{Prefix: "extraction"}, blobs, slog.Default())
}

func TestSaveClassificationWriteOnce(t *testing.T) {
	blobs := newFakeBlobs()
	store := newStore(blobs)
	ref := testRef(t)
	ctx := context.Background()

	first := map[string]any{"category": "RUB"}
	if err := store.SaveClassification(ctx, ref, first); err != nil {
		t.Fatalf("first save error: %v", err)
	}

	// redelivery with a different result must not clobber the winner
	if err := store.SaveClassification(ctx, ref, map[string]any{"category": "RUT"}); err != nil {
		t.Fatalf("redelivered save error: %v", err)
	}

	data := blobs.objects[store.ClassificationKey(ref)]
	if !bytes.Contains(data, []byte("RUB")) {
		t.Errorf("stored = %s, want first write preserved", data)
	}
}

func TestSaveExtractionLayout(t *testing.T) {
	blobs := newFakeBlobs()
	store := newStore(blobs)
	ref := testRef(t)

	result := map[string]any{"PrincipalCompanyName": "ACME SAS"}
	if err := store.SaveExtraction(context.Background(), ref, result, `{"raw":true}`); err != nil {
		t.Fatalf("SaveExtraction error: %v", err)
	}

	wantFinal := "extraction/RUB/555000111/RUB_555000111_rub_scan.json"
	if _, ok := blobs.objects[wantFinal]; !ok {
		t.Errorf("final result missing at %q, have %v", wantFinal, keys(blobs))
	}

	wantRaw := "RAW/RUB/555000111/raw_response_rub_scan.json"
	if _, ok := blobs.objects[wantRaw]; !ok {
		t.Errorf("raw response missing at %q, have %v", wantRaw, keys(blobs))
	}
}

func TestSaveFailureLayout(t *testing.T) {
	blobs := newFakeBlobs()
	store := newStore(blobs)
	ref := testRef(t)

	payload := pipeline.Payload{
		Path:   ref.Path(),
		Result: map[string]any{"TaxId": "ForReview"},
		Attempts: []pipeline.Attempt{
			{ModelID: "nova", ErrorKind: "transient"},
		},
	}

	if err := store.SaveFailure(context.Background(), pipeline.StageExtraction, ref, payload); err != nil {
		t.Fatalf("SaveFailure error: %v", err)
	}

	wantKey := "errors/extraction/RUB/555000111/extraction_result_rub_scan.json"
	data, ok := blobs.objects[wantKey]
	if !ok {
		t.Fatalf("failure artifact missing at %q, have %v", wantKey, keys(blobs))
	}

	var artifact map[string]any
	if err := json.Unmarshal(data, &artifact); err != nil {
		t.Fatalf("artifact not JSON: %v", err)
	}
	if artifact["path"] != ref.Path() {
		t.Errorf("artifact path = %v", artifact["path"])
	}
}

func keys(blobs *fakeBlobs) []string {
	var out []string
	for k := range blobs.objects {
		out = append(out, k)
	}
	return out
}
