package cleanup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/indieinfra/mediavault/config"
	"github.com/indieinfra/mediavault/media"
	"github.com/indieinfra/mediavault/orphans"
	"github.com/indieinfra/mediavault/storage/objectstore"
	objmemory "github.com/indieinfra/mediavault/storage/objectstore/memory"
	"github.com/indieinfra/mediavault/storage/records"
	recmemory "github.com/indieinfra/mediavault/storage/records/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// flakyObjects fails Delete for the listed object ids.
type flakyObjects struct {
	*objmemory.Store

	mu      sync.Mutex
	failFor map[string]bool
	deletes int
}

func (f *flakyObjects) Delete(ctx context.Context, objectID string) error {
	f.mu.Lock()
	f.deletes++
	fail := f.failFor[objectID]
	f.mu.Unlock()

	if fail {
		return errors.New("connection reset by peer")
	}
	return f.Store.Delete(ctx, objectID)
}

func (f *flakyObjects) deleteCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deletes
}

type fakeScanner struct {
	counts map[media.ContentType]int
}

func (f fakeScanner) CountMentions(context.Context, string) (map[media.ContentType]int, error) {
	return f.counts, nil
}

func (fakeScanner) Close() error { return nil }

type harness struct {
	t       *testing.T
	clock   *clock
	objects *flakyObjects
	records *recmemory.Store
	engine  *Engine
}

func newHarness(t *testing.T, concurrency int) *harness {
	t.Helper()

	c := &clock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	objects := &flakyObjects{Store: objmemory.NewStore("https://cdn.test/", nil), failFor: map[string]bool{}}
	store := recmemory.NewStore()
	detector := orphans.New(store, time.Hour, c.Now)
	engine := New(store, objects, nil, detector, config.Cleanup{Concurrency: concurrency}, WithClock(c.Now))

	return &harness{t: t, clock: c, objects: objects, records: store, engine: engine}
}

// seed stores size bytes remotely and records the asset as uploaded age ago.
func (h *harness) seed(t *testing.T, name string, size int, age time.Duration) *media.Asset {
	t.Helper()

	ctx := context.Background()
	obj, err := h.objects.Upload(ctx, &objectstore.UploadInput{
		Folder: "uploads", Filename: name, ContentType: "image/png", Body: bytes.NewReader(make([]byte, size)), Size: int64(size),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	a := &media.Asset{ObjectID: obj.ObjectID, URL: obj.URL, ByteSize: obj.Bytes, UploadedAt: h.clock.Now().Add(-age)}
	if err := h.records.CreateAsset(ctx, a); err != nil {
		t.Fatalf("create asset: %v", err)
	}
	return a
}

func (h *harness) reference(t *testing.T, a *media.Asset) {
	t.Helper()

	ctx := context.Background()
	err := h.records.InTx(ctx, func(tx records.Tx) error {
		return tx.InsertReference(ctx, media.Reference{AssetID: a.ID, ContentType: media.ContentArticle, ContentID: "1", Context: media.ContextInline})
	})
	if err != nil {
		t.Fatalf("insert reference: %v", err)
	}
}

func TestVerifyOrphanStatus(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	orphan := h.seed(t, "orphan.png", 100, 2*time.Hour)
	used := h.seed(t, "used.png", 100, 2*time.Hour)
	fresh := h.seed(t, "fresh.png", 100, 5*time.Minute)
	gone := h.seed(t, "gone.png", 100, 2*time.Hour)
	h.reference(t, used)
	_ = h.objects.Store.Delete(ctx, gone.ObjectID)

	got, err := h.engine.VerifyOrphanStatus(ctx, []string{orphan.ObjectID, used.ObjectID, fresh.ObjectID, gone.ObjectID, "uploads/never.png"})
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	check := func(v media.Verification, orphaned, safe bool, warning string) {
		t.Helper()
		if v.IsOrphaned != orphaned || v.SafeToDelete != safe {
			t.Fatalf("%s: expected orphaned=%v safe=%v, got %+v", v.ObjectID, orphaned, safe, v)
		}
		if warning != "" && !strings.Contains(strings.Join(v.Warnings, "|"), warning) {
			t.Fatalf("%s: expected warning %q, got %v", v.ObjectID, warning, v.Warnings)
		}
	}

	check(got[0], true, true, "")
	check(got[1], false, false, "")
	check(got[2], true, false, warnRecent)
	check(got[3], true, true, warnRemoteMissing)
	check(got[4], true, false, warnNotInDatabase)

	if got[1].ReferenceCount != 1 || got[4].InDatabase {
		t.Fatalf("unexpected verification details: %+v %+v", got[1], got[4])
	}
}

func TestVerifyOrphanStatus_GraceWindowNeverSafe(t *testing.T) {
	h := newHarness(t, 1)

	for _, age := range []time.Duration{0, time.Second, 30 * time.Minute, time.Hour - time.Millisecond} {
		a := h.seed(t, fmt.Sprintf("a-%d.png", age), 10, age)

		got, err := h.engine.VerifyOrphanStatus(context.Background(), []string{a.ObjectID})
		if err != nil {
			t.Fatalf("verify failed: %v", err)
		}
		if got[0].SafeToDelete {
			t.Fatalf("asset aged %s must not be safe to delete", age)
		}
	}
}

func TestVerifyOrphanStatus_ContentScanWarnsOnly(t *testing.T) {
	h := newHarness(t, 1)
	h.engine.scanner = fakeScanner{counts: map[media.ContentType]int{media.ContentArticle: 2, media.ContentPodcast: 1}}
	a := h.seed(t, "a.png", 10, 2*time.Hour)

	got, _ := h.engine.VerifyOrphanStatus(context.Background(), []string{a.ObjectID})
	if !got[0].SafeToDelete {
		t.Fatalf("content scan must not block deletion")
	}

	joined := strings.Join(got[0].Warnings, "|")
	if !strings.Contains(joined, "found in 2 article bodies") || !strings.Contains(joined, "found in 1 podcast bodies") {
		t.Fatalf("expected scan warnings, got %v", got[0].Warnings)
	}
}

func TestCleanupOrphans_Idempotent(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	a := h.seed(t, "a.png", 300, 2*time.Hour)

	first, err := h.engine.CleanupOrphans(ctx, []string{a.ObjectID}, false, media.OperationManual)
	if err != nil {
		t.Fatalf("first cleanup failed: %v", err)
	}
	if first.Processed != 1 || first.Deleted != 1 || first.FreedSpace != 300 {
		t.Fatalf("unexpected first result %+v", first)
	}

	second, err := h.engine.CleanupOrphans(ctx, []string{a.ObjectID}, false, media.OperationManual)
	if err != nil {
		t.Fatalf("second cleanup must not fail: %v", err)
	}
	if second.Processed != 1 || second.Deleted != 0 || second.Failed != 0 || second.Skipped != 1 {
		t.Fatalf("unexpected second result %+v", second)
	}
	if len(second.Errors) != 1 || second.Errors[0].Code != media.CodeNotFound {
		t.Fatalf("expected not-found entry, got %+v", second.Errors)
	}

	history, _ := h.engine.CleanupHistory(ctx, 0)
	if len(history) != 2 {
		t.Fatalf("expected one audit row per call, got %d", len(history))
	}
	for _, op := range history {
		if op.Status != media.OperationCompleted || op.CompletedAt == nil {
			t.Fatalf("expected completed operations, got %+v", op)
		}
	}
}

func TestCleanupOrphans_DryRunIsReadOnly(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	a := h.seed(t, "a.png", 100, 2*time.Hour)
	b := h.seed(t, "b.png", 250, 3*time.Hour)

	res, err := h.engine.CleanupOrphans(ctx, []string{a.ObjectID, b.ObjectID}, true, media.OperationManual)
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if !res.DryRun || res.Deleted != 2 || res.FreedSpace != 350 {
		t.Fatalf("unexpected dry run result %+v", res)
	}
	if h.objects.deleteCalls() != 0 || h.objects.Len() != 2 {
		t.Fatalf("dry run must not touch the object store")
	}
	if _, err := h.records.GetAsset(ctx, a.ID); err != nil {
		t.Fatalf("dry run must not delete records: %v", err)
	}

	history, _ := h.engine.CleanupHistory(ctx, 1)
	if !history[0].DryRun || history[0].FilesDeleted != 2 {
		t.Fatalf("unexpected audit row %+v", history[0])
	}
}

func TestCleanupOrphans_BatchIsolation(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()

	var ids, assetIDs []string
	for i := 0; i < 4; i++ {
		a := h.seed(t, fmt.Sprintf("%d.png", i), 100, 2*time.Hour)
		ids = append(ids, a.ObjectID)
		assetIDs = append(assetIDs, a.ID)
	}
	h.objects.failFor[ids[2]] = true

	res, err := h.engine.CleanupOrphans(ctx, ids, false, media.OperationManual)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if res.Processed != 4 || res.Deleted != 3 || res.Failed != 1 || res.FreedSpace != 300 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Errors) != 1 || res.Errors[0].ObjectID != ids[2] || res.Errors[0].Code != media.CodeDeleteFailed || !res.Errors[0].Recoverable {
		t.Fatalf("unexpected errors %+v", res.Errors)
	}

	kept, err := h.records.GetAssetByObjectID(ctx, ids[2])
	if err != nil {
		t.Fatalf("failed item must keep its record: %v", err)
	}
	if kept.ID != assetIDs[2] {
		t.Fatalf("expected record to be restored under its id, got %s", kept.ID)
	}

	history, _ := h.engine.CleanupHistory(ctx, 1)
	op := history[0]
	if op.Status != media.OperationCompleted || op.FilesProcessed != 4 || op.FilesDeleted != 3 || op.FilesFailed != 1 {
		t.Fatalf("unexpected audit row %+v", op)
	}
}

func TestCleanupOrphans_PolicyRejections(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	used := h.seed(t, "used.png", 10, 2*time.Hour)
	fresh := h.seed(t, "fresh.png", 10, time.Minute)
	h.reference(t, used)

	res, err := h.engine.CleanupOrphans(ctx, []string{used.ObjectID, fresh.ObjectID, used.ObjectID}, false, media.OperationManual)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if res.Processed != 2 || res.Failed != 2 || res.Deleted != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Errors[0].Code != media.CodeNotOrphaned || res.Errors[1].Code != media.CodeUnsafeDelete {
		t.Fatalf("unexpected error codes %+v", res.Errors)
	}
	if h.objects.deleteCalls() != 0 {
		t.Fatalf("rejected items must not be deleted")
	}
}

func TestCleanupOrphans_RemoteAlreadyGone(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	a := h.seed(t, "a.png", 64, 2*time.Hour)
	_ = h.objects.Store.Delete(ctx, a.ObjectID)

	res, err := h.engine.CleanupOrphans(ctx, []string{a.ObjectID}, false, media.OperationScheduled)
	if err != nil || res.Deleted != 1 {
		t.Fatalf("expected remote-missing asset to be cleaned, got %+v %v", res, err)
	}
	if _, err := h.records.GetAsset(ctx, a.ID); !errors.Is(err, records.ErrNotFound) {
		t.Fatalf("expected local record to be removed, got %v", err)
	}
}

type brokenRecords struct {
	records.Store
	createErr error
	lookupErr error
	// countErrFor fails CountReferences for these asset ids.
	countErrFor map[string]bool
}

func (b brokenRecords) CreateCleanup(ctx context.Context, op *media.CleanupOperation) error {
	if b.createErr != nil {
		return b.createErr
	}
	return b.Store.CreateCleanup(ctx, op)
}

func (b brokenRecords) GetAssetByObjectID(ctx context.Context, id string) (*media.Asset, error) {
	if b.lookupErr != nil {
		return nil, b.lookupErr
	}
	return b.Store.GetAssetByObjectID(ctx, id)
}

func (b brokenRecords) CountReferences(ctx context.Context, assetID string) (int, error) {
	if b.countErrFor[assetID] {
		return 0, errors.New("transient")
	}
	return b.Store.CountReferences(ctx, assetID)
}

func TestCleanupOrphans_OperationLevelFailures(t *testing.T) {
	ctx := context.Background()
	base := recmemory.NewStore()
	objects := objmemory.NewStore("", nil)
	detector := orphans.New(base, time.Hour, nil)

	e := New(brokenRecords{Store: base, createErr: errors.New("read-only")}, objects, nil, detector, config.Cleanup{})
	if res, err := e.CleanupOrphans(ctx, []string{"x"}, false, ""); err == nil || res != nil {
		t.Fatalf("expected audit row failure to fail the call, got %+v %v", res, err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	e = New(base, objects, nil, detector, config.Cleanup{})
	if _, err := e.CleanupOrphans(cancelled, []string{"x"}, false, ""); err == nil {
		t.Fatalf("expected a cancelled run to fail")
	}

	history, _ := base.ListCleanups(ctx, 1)
	if len(history) != 1 || history[0].Status != media.OperationFailed || history[0].ErrorMessage == "" {
		t.Fatalf("expected failed audit row, got %+v", history)
	}
}

func TestCleanupOrphans_RecordErrorsStayPerItem(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()

	a := h.seed(t, "a.png", 100, 2*time.Hour)
	b := h.seed(t, "b.png", 100, 2*time.Hour)
	c := h.seed(t, "c.png", 100, 2*time.Hour)

	store := brokenRecords{Store: h.records, countErrFor: map[string]bool{b.ID: true}}
	e := New(store, h.objects, nil, orphans.New(store, time.Hour, h.clock.Now), config.Cleanup{Concurrency: 2}, WithClock(h.clock.Now))

	res, err := e.CleanupOrphans(ctx, []string{a.ObjectID, b.ObjectID, c.ObjectID}, false, media.OperationManual)
	if err != nil {
		t.Fatalf("a single item's record error must not fail the run: %v", err)
	}
	if res.Processed != 3 || res.Deleted != 2 || res.Failed != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Errors) != 1 || res.Errors[0].ObjectID != b.ObjectID || res.Errors[0].Code != media.CodeUnknown || !res.Errors[0].Recoverable {
		t.Fatalf("unexpected errors %+v", res.Errors)
	}
	if _, err := h.records.GetAsset(ctx, b.ID); err != nil {
		t.Fatalf("failed item must keep its record: %v", err)
	}

	history, _ := h.records.ListCleanups(ctx, 1)
	if history[0].Status != media.OperationCompleted || history[0].FilesFailed != 1 {
		t.Fatalf("expected completed audit row, got %+v", history[0])
	}
}

// hookScanner runs fn while the content scan is in flight.
type hookScanner struct {
	fn func()
}

func (s hookScanner) CountMentions(context.Context, string) (map[media.ContentType]int, error) {
	s.fn()
	return nil, nil
}

func (hookScanner) Close() error { return nil }

func TestCleanupOrphans_ReferenceAddedDuringVerification(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	a := h.seed(t, "a.png", 100, 2*time.Hour)

	scanner := hookScanner{fn: func() { h.reference(t, a) }}
	e := New(h.records, h.objects, scanner, orphans.New(h.records, time.Hour, h.clock.Now), config.Cleanup{}, WithClock(h.clock.Now))

	res, err := e.CleanupOrphans(ctx, []string{a.ObjectID}, false, media.OperationManual)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if res.Deleted != 0 || res.Failed != 1 || res.Errors[0].Code != media.CodeNotOrphaned {
		t.Fatalf("newly referenced asset must not be deleted, got %+v", res)
	}
	assertKept(t, h, a)
}

// racingRecords commits a reference right after the engine counted none.
type racingRecords struct {
	records.Store
	h *harness
	a *media.Asset
}

func (r racingRecords) CountReferences(ctx context.Context, assetID string) (int, error) {
	n, err := r.Store.CountReferences(ctx, assetID)
	if assetID == r.a.ID {
		r.h.reference(r.h.t, r.a)
	}
	return n, err
}

func TestCleanupOrphans_ReferenceAddedAfterCount(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	a := h.seed(t, "a.png", 100, 2*time.Hour)

	store := racingRecords{Store: h.records, h: h, a: a}
	e := New(store, h.objects, nil, orphans.New(store, time.Hour, h.clock.Now), config.Cleanup{}, WithClock(h.clock.Now))

	res, err := e.CleanupOrphans(ctx, []string{a.ObjectID}, false, media.OperationManual)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if res.Deleted != 0 || res.Failed != 1 || res.Errors[0].Code != media.CodeNotOrphaned {
		t.Fatalf("guarded delete must refuse a referenced asset, got %+v", res)
	}
	assertKept(t, h, a)
	if h.objects.deleteCalls() != 0 {
		t.Fatalf("remote delete must not run for a referenced asset")
	}
}

func assertKept(t *testing.T, h *harness, a *media.Asset) {
	t.Helper()

	ctx := context.Background()
	if _, err := h.records.GetAsset(ctx, a.ID); err != nil {
		t.Fatalf("asset record must survive: %v", err)
	}
	if ok, err := h.objects.Exists(ctx, a.ObjectID); err != nil || !ok {
		t.Fatalf("remote object must survive: %v %v", ok, err)
	}
	if n, _ := h.records.CountReferences(ctx, a.ID); n != 1 {
		t.Fatalf("expected the new reference to remain, got %d", n)
	}
}

func TestPreviewStatisticsAndHistory(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	old := h.seed(t, "old.png", 100, 5*time.Hour)
	newer := h.seed(t, "newer.png", 40, 2*time.Hour)
	h.seed(t, "fresh.png", 1000, time.Minute)
	h.reference(t, h.seed(t, "used.png", 1000, 5*time.Hour))

	preview, err := h.engine.PreviewCleanup(ctx)
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if len(preview.Orphans) != 2 || preview.SafeToDeleteCount != 2 || preview.EstimatedSpaceFreed != 140 {
		t.Fatalf("unexpected preview %+v", preview)
	}

	stats, err := h.engine.OrphanStatistics(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalOrphans != 2 || stats.TotalOrphanSize != 140 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if !stats.OldestOrphan.Equal(old.UploadedAt) || !stats.NewestOrphan.Equal(newer.UploadedAt) {
		t.Fatalf("unexpected orphan range %+v", stats)
	}

	res, err := h.engine.CleanupDetected(ctx, false, media.OperationScheduled)
	if err != nil || res.Deleted != 2 {
		t.Fatalf("unexpected detected cleanup %+v %v", res, err)
	}

	history, _ := h.engine.CleanupHistory(ctx, 5)
	if len(history) != 1 || history[0].OperationType != media.OperationScheduled {
		t.Fatalf("unexpected history %+v", history)
	}

	empty, _ := h.engine.OrphanStatistics(ctx)
	if empty.TotalOrphans != 0 || empty.OldestOrphan != nil {
		t.Fatalf("expected no orphans left, got %+v", empty)
	}
}
