package upload

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/indieinfra/mediavault/media"
)

const cancelledMessage = "Upload cancelled"

// ProgressTable holds the transient state of uploads owned by one
// Orchestrator. Terminal entries are removed once read or once older than
// the configured TTL.
type ProgressTable struct {
	mu      sync.Mutex
	entries map[string]*progressEntry
	ttl     time.Duration
	now     func() time.Time
}

type progressEntry struct {
	progress   media.UploadProgress
	cancel     context.CancelFunc
	onProgress func(media.UploadProgress)
}

func NewProgressTable(ttl time.Duration) *ProgressTable {
	return &ProgressTable{entries: make(map[string]*progressEntry), ttl: ttl, now: time.Now}
}

// start registers a pending upload and returns a context that is cancelled
// when CancelUpload is called for it.
func (t *ProgressTable) start(ctx context.Context, filename string, total int64, onProgress func(media.UploadProgress)) (string, context.Context) {
	uctx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()

	t.mu.Lock()
	t.pruneLocked()
	e := &progressEntry{
		progress: media.UploadProgress{
			UploadID:   id,
			Filename:   filename,
			Status:     media.StatusPending,
			TotalBytes: total,
			StartTime:  t.now(),
		},
		cancel:     cancel,
		onProgress: onProgress,
	}
	t.entries[id] = e
	snap := e.progress
	t.mu.Unlock()

	notify(e.onProgress, snap)
	return id, uctx
}

// transition moves id from one status to another. It reports false when the
// entry is missing or no longer in the expected status.
func (t *ProgressTable) transition(id string, from, to media.UploadStatus) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok || e.progress.Status != from {
		t.mu.Unlock()
		return false
	}
	e.progress.Status = to
	snap := e.progress
	t.mu.Unlock()

	notify(e.onProgress, snap)
	return true
}

// finish records a terminal status unless the entry already has one.
func (t *ProgressTable) finish(id string, status media.UploadStatus, errMsg string) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok || e.progress.Status.Terminal() {
		t.mu.Unlock()
		return false
	}
	end := t.now()
	e.progress.Status = status
	e.progress.Error = errMsg
	e.progress.EndTime = &end
	if status == media.StatusCompleted {
		e.progress.BytesUploaded = e.progress.TotalBytes
	}
	e.cancel()
	snap := e.progress
	t.mu.Unlock()

	notify(e.onProgress, snap)
	return true
}

func (t *ProgressTable) status(id string) media.UploadStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[id]; ok {
		return e.progress.Status
	}
	return ""
}

func (t *ProgressTable) setBytes(id string, n int64) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok || e.progress.Status != media.StatusUploading {
		t.mu.Unlock()
		return
	}
	e.progress.BytesUploaded = n
	snap := e.progress
	t.mu.Unlock()

	notify(e.onProgress, snap)
}

// Get returns a copy of the entry. Reading a terminal entry removes it.
func (t *ProgressTable) Get(id string) (*media.UploadProgress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return nil, false
	}

	snap := e.progress
	if snap.Status.Terminal() {
		delete(t.entries, id)
	}
	return &snap, true
}

// Cancel marks a pending or uploading entry cancelled and signals the upload
// routine. It reports whether the entry was cancellable.
func (t *ProgressTable) Cancel(id string) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok || !e.progress.Status.Cancellable() {
		t.mu.Unlock()
		return false
	}
	end := t.now()
	e.progress.Status = media.StatusCancelled
	e.progress.Error = cancelledMessage
	e.progress.EndTime = &end
	e.cancel()
	snap := e.progress
	t.mu.Unlock()

	notify(e.onProgress, snap)
	return true
}

// Active lists non-terminal uploads, oldest first.
func (t *ProgressTable) Active() []media.UploadProgress {
	t.mu.Lock()
	out := make([]media.UploadProgress, 0, len(t.entries))
	for _, e := range t.entries {
		if !e.progress.Status.Terminal() {
			out = append(out, e.progress)
		}
	}
	t.mu.Unlock()

	slices.SortFunc(out, func(a, b media.UploadProgress) int {
		return a.StartTime.Compare(b.StartTime)
	})
	return out
}

// Prune drops terminal entries that ended more than the TTL ago and returns
// how many were removed.
func (t *ProgressTable) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pruneLocked()
}

func (t *ProgressTable) pruneLocked() int {
	if t.ttl <= 0 {
		return 0
	}

	cutoff := t.now().Add(-t.ttl)
	n := 0
	for id, e := range t.entries {
		if e.progress.EndTime != nil && e.progress.EndTime.Before(cutoff) {
			delete(t.entries, id)
			n++
		}
	}
	return n
}

// Clear drops every entry, cancelling any upload still running.
func (t *ProgressTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, e := range t.entries {
		e.cancel()
		delete(t.entries, id)
	}
}

func notify(fn func(media.UploadProgress), p media.UploadProgress) {
	if fn != nil {
		fn(p)
	}
}
