package upload

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/indieinfra/mediavault/config"
	"github.com/indieinfra/mediavault/media"
	"github.com/indieinfra/mediavault/media/validate"
	"github.com/indieinfra/mediavault/storage/objectstore"
	objmemory "github.com/indieinfra/mediavault/storage/objectstore/memory"
	"github.com/indieinfra/mediavault/storage/records"
	recmemory "github.com/indieinfra/mediavault/storage/records/memory"
)

// scriptedStore wraps the in-memory object store and lets a test decide the
// outcome of each upload attempt.
type scriptedStore struct {
	*objmemory.Store

	mu       sync.Mutex
	calls    int
	failures []error
	hook     func(ctx context.Context) error
}

func (s *scriptedStore) Upload(ctx context.Context, in *objectstore.UploadInput) (*objectstore.Object, error) {
	s.mu.Lock()
	s.calls++
	var fail error
	if len(s.failures) > 0 {
		fail = s.failures[0]
		s.failures = s.failures[1:]
	}
	hook := s.hook
	s.mu.Unlock()

	if fail != nil {
		return nil, fail
	}
	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}

	// the remote side completes even if ctx was cancelled meanwhile
	return s.Store.Upload(context.WithoutCancel(ctx), in)
}

func (s *scriptedStore) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type failingRecords struct {
	records.Store
}

func (failingRecords) CreateAsset(context.Context, *media.Asset) error {
	return errors.New("db down")
}

func testConfig() config.Upload {
	return config.Upload{
		MaxFileSize:          1 << 20,
		Folder:               "uploads",
		MaxRetries:           3,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     2 * time.Millisecond,
		MaxConcurrent:        4,
		ProgressTTL:          time.Minute,
	}
}

func pngFile(t *testing.T, name string) validate.File {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 6))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return validate.File{Filename: name, DeclaredMIME: "image/png", Size: int64(buf.Len()), Data: buf.Bytes()}
}

func newTestOrchestrator(t *testing.T, cfg config.Upload) (*Orchestrator, *scriptedStore, *recmemory.Store) {
	t.Helper()

	objects := &scriptedStore{Store: objmemory.NewStore("https://cdn.test/", nil)}
	store := recmemory.NewStore()
	return New(cfg, objects, store), objects, store
}

func assetCount(t *testing.T, store records.Store) int {
	t.Helper()

	all, err := store.ListAssets(context.Background(), records.AssetFilter{})
	if err != nil {
		t.Fatalf("list assets: %v", err)
	}
	return len(all)
}

func TestUploadImage_Success(t *testing.T) {
	o, objects, store := newTestOrchestrator(t, testConfig())

	var (
		mu       sync.Mutex
		statuses []media.UploadStatus
	)
	res := o.UploadImage(context.Background(), pngFile(t, "Sunset Photo.PNG"), Options{
		UploadedBy: "alice",
		OnProgress: func(p media.UploadProgress) {
			mu.Lock()
			defer mu.Unlock()
			if len(statuses) == 0 || statuses[len(statuses)-1] != p.Status {
				statuses = append(statuses, p.Status)
			}
		},
	})

	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Data.ObjectID == "" || !strings.HasPrefix(res.Data.ObjectID, "uploads/") {
		t.Fatalf("unexpected object id %q", res.Data.ObjectID)
	}
	if res.Data.Width != 8 || res.Data.Height != 6 || res.Data.Format != "png" || res.Data.UploadedBy != "alice" {
		t.Fatalf("unexpected asset fields: %+v", res.Data)
	}
	if res.Data.OriginalFilename != "Sunset Photo.PNG" {
		t.Fatalf("expected original filename to be kept, got %q", res.Data.OriginalFilename)
	}

	got, err := store.GetAssetByObjectID(context.Background(), res.Data.ObjectID)
	if err != nil || got.ID != res.Data.ID {
		t.Fatalf("expected persisted asset, got %+v %v", got, err)
	}
	if objects.Len() != 1 {
		t.Fatalf("expected one stored object, got %d", objects.Len())
	}

	want := []media.UploadStatus{media.StatusPending, media.StatusUploading, media.StatusProcessing, media.StatusCompleted}
	if len(statuses) != len(want) {
		t.Fatalf("unexpected status sequence %v", statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("unexpected status sequence %v", statuses)
		}
	}

	p, ok := o.UploadProgress(res.UploadID)
	if !ok || p.Status != media.StatusCompleted || p.BytesUploaded != p.TotalBytes {
		t.Fatalf("expected completed progress, got %+v", p)
	}
	if _, ok := o.UploadProgress(res.UploadID); ok {
		t.Fatalf("expected observed terminal progress to be pruned")
	}
}

func TestUploadImage_ValidationFailure(t *testing.T) {
	o, objects, store := newTestOrchestrator(t, testConfig())

	res := o.UploadImage(context.Background(), validate.File{
		Filename: "notes.png", DeclaredMIME: "image/png", Size: 5, Data: []byte("hello"),
	}, Options{})

	if res.Success || res.Code != media.CodeValidationFailed {
		t.Fatalf("expected validation failure, got %+v", res)
	}
	if !strings.HasPrefix(res.Error, "File validation failed: ") {
		t.Fatalf("unexpected error message %q", res.Error)
	}
	if res.ValidationResult == nil || res.ValidationResult.IsValid {
		t.Fatalf("expected validation result to be returned")
	}
	if objects.attempts() != 0 || assetCount(t, store) != 0 {
		t.Fatalf("invalid file must not reach the object store")
	}
}

func TestUploadImage_RetriesTransientErrors(t *testing.T) {
	o, objects, _ := newTestOrchestrator(t, testConfig())
	objects.failures = []error{errors.New("connection reset"), errors.New("timeout")}

	res := o.UploadImage(context.Background(), pngFile(t, "a.png"), Options{})
	if !res.Success {
		t.Fatalf("expected success after retries, got %+v", res)
	}
	if objects.attempts() != 3 {
		t.Fatalf("expected 3 attempts, got %d", objects.attempts())
	}
}

func TestUploadImage_RetriesExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	o, objects, store := newTestOrchestrator(t, cfg)

	net := errors.New("connection refused")
	objects.failures = []error{net, net, net, net}

	res := o.UploadImage(context.Background(), pngFile(t, "a.png"), Options{})
	if res.Success || res.Code != media.CodeNetworkError {
		t.Fatalf("expected network error, got %+v", res)
	}
	if objects.attempts() != 3 {
		t.Fatalf("expected initial attempt plus 2 retries, got %d", objects.attempts())
	}
	if assetCount(t, store) != 0 {
		t.Fatalf("failed upload must not persist an asset")
	}

	p, _ := o.UploadProgress(res.UploadID)
	if p == nil || p.Status != media.StatusFailed || p.Error == "" {
		t.Fatalf("expected failed progress, got %+v", p)
	}
}

func TestUploadImage_QuotaExceededIsNotRetried(t *testing.T) {
	o, objects, _ := newTestOrchestrator(t, testConfig())
	objects.failures = []error{objectstore.ErrQuotaExceeded}

	res := o.UploadImage(context.Background(), pngFile(t, "a.png"), Options{})
	if res.Success || res.Code != media.CodeQuotaExceeded {
		t.Fatalf("expected quota error, got %+v", res)
	}
	if objects.attempts() != 1 {
		t.Fatalf("quota errors must not be retried, got %d attempts", objects.attempts())
	}
}

func TestUploadImage_CancelDuringUpload(t *testing.T) {
	o, objects, store := newTestOrchestrator(t, testConfig())

	started := make(chan struct{})
	objects.hook = func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}

	done := make(chan *Result, 1)
	go func() { done <- o.UploadImage(context.Background(), pngFile(t, "a.png"), Options{}) }()

	<-started
	active := o.ActiveUploads()
	if len(active) != 1 || active[0].Status != media.StatusUploading {
		t.Fatalf("expected one uploading entry, got %+v", active)
	}
	if !o.CancelUpload(active[0].UploadID) {
		t.Fatalf("expected upload to be cancellable")
	}

	res := <-done
	if res.Success || res.Code != media.CodeCancelled || res.Error != "Upload cancelled" {
		t.Fatalf("expected cancelled result, got %+v", res)
	}
	if assetCount(t, store) != 0 {
		t.Fatalf("cancelled upload must not persist an asset")
	}

	p, _ := o.UploadProgress(res.UploadID)
	if p == nil || p.Status != media.StatusCancelled {
		t.Fatalf("expected cancelled progress, got %+v", p)
	}
	if o.CancelUpload(res.UploadID) {
		t.Fatalf("expected second cancel to be a no-op")
	}
	if objects.Len() != 0 {
		t.Fatalf("expected nothing stored remotely")
	}
}

func TestUploadImage_CancelAfterRemoteSuccessRemovesObject(t *testing.T) {
	o, objects, store := newTestOrchestrator(t, testConfig())

	objects.hook = func(ctx context.Context) error {
		active := o.ActiveUploads()
		if len(active) != 1 || !o.CancelUpload(active[0].UploadID) {
			t.Errorf("expected to cancel the in-flight upload")
		}
		return nil
	}

	res := o.UploadImage(context.Background(), pngFile(t, "a.png"), Options{})
	if res.Success || res.Code != media.CodeCancelled {
		t.Fatalf("expected cancelled result, got %+v", res)
	}
	if objects.Len() != 0 {
		t.Fatalf("expected compensating delete to remove the remote object, %d left", objects.Len())
	}
	if assetCount(t, store) != 0 {
		t.Fatalf("cancelled upload must not persist an asset")
	}
}

func TestUploadImage_PersistFailureRemovesObject(t *testing.T) {
	objects := &scriptedStore{Store: objmemory.NewStore("", nil)}
	o := New(testConfig(), objects, failingRecords{Store: recmemory.NewStore()})

	res := o.UploadImage(context.Background(), pngFile(t, "a.png"), Options{})
	if res.Success || res.Code != media.CodeUnknown {
		t.Fatalf("expected failure, got %+v", res)
	}
	if objects.Len() != 0 {
		t.Fatalf("expected remote object to be removed after persistence failure")
	}
}

func TestUploadImage_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimit{PerMinute: 1, Burst: 1}
	o, _, _ := newTestOrchestrator(t, cfg)

	if res := o.UploadImage(context.Background(), pngFile(t, "a.png"), Options{UploadedBy: "bob"}); !res.Success {
		t.Fatalf("expected first upload to pass, got %+v", res)
	}
	if res := o.UploadImage(context.Background(), pngFile(t, "b.png"), Options{UploadedBy: "bob"}); res.Code != media.CodeRateLimited {
		t.Fatalf("expected rate limit, got %+v", res)
	}
	if res := o.UploadImage(context.Background(), pngFile(t, "c.png"), Options{UploadedBy: "carol"}); !res.Success {
		t.Fatalf("expected other uploader to be unaffected, got %+v", res)
	}
}

func TestUploadMultiple_PreservesOrderAndIsolatesFailures(t *testing.T) {
	o, _, store := newTestOrchestrator(t, testConfig())

	files := []validate.File{
		pngFile(t, "first.png"),
		{Filename: "bad.gif", DeclaredMIME: "image/gif", Size: 3, Data: []byte("bad")},
		pngFile(t, "third.png"),
	}

	results := o.UploadMultiple(context.Background(), files, Options{})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Success || results[0].Data.OriginalFilename != "first.png" {
		t.Fatalf("unexpected first result %+v", results[0])
	}
	if results[1].Success || results[1].Code != media.CodeValidationFailed {
		t.Fatalf("unexpected second result %+v", results[1])
	}
	if !results[2].Success || results[2].Data.OriginalFilename != "third.png" {
		t.Fatalf("unexpected third result %+v", results[2])
	}
	if assetCount(t, store) != 2 {
		t.Fatalf("expected two persisted assets")
	}
}
