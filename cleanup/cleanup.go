// Package cleanup re-verifies orphan candidates and deletes them from the
// object store and the record store, writing one audit row per run.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/indieinfra/mediavault/config"
	"github.com/indieinfra/mediavault/media"
	"github.com/indieinfra/mediavault/metrics"
	"github.com/indieinfra/mediavault/orphans"
	"github.com/indieinfra/mediavault/storage/objectstore"
	"github.com/indieinfra/mediavault/storage/records"
	"github.com/indieinfra/mediavault/storage/scan"
)

const (
	DefaultHistoryLimit = 20

	warnNotInDatabase = "not found in database"
	warnRemoteMissing = "already deleted from remote store"
	warnRecent        = "uploaded recently, may still be in use"
)

type Logger interface {
	Printf(format string, v ...any)
}

type Engine struct {
	records      records.Store
	objects      objectstore.Store
	scanner      scan.Scanner
	detector     *orphans.Detector
	metrics      metrics.Metrics
	logger       Logger
	now          func() time.Time
	concurrency  int
	historyLimit int
}

type Option func(*Engine)

func WithMetrics(m metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(store records.Store, objects objectstore.Store, scanner scan.Scanner, detector *orphans.Detector, cfg config.Cleanup, opts ...Option) *Engine {
	if scanner == nil {
		scanner = scan.None{}
	}

	e := &Engine{
		records:      store,
		objects:      objects,
		scanner:      scanner,
		detector:     detector,
		metrics:      metrics.Noop{},
		logger:       log.Default(),
		now:          time.Now,
		concurrency:  cfg.Concurrency,
		historyLimit: cfg.HistoryLimit,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.concurrency <= 0 {
		e.concurrency = 1
	}
	if e.historyLimit <= 0 {
		e.historyLimit = DefaultHistoryLimit
	}

	return e
}

// VerifyOrphanStatus re-checks each object against current state. Only
// record store failures abort the call.
func (e *Engine) VerifyOrphanStatus(ctx context.Context, objectIDs []string) ([]media.Verification, error) {
	out := make([]media.Verification, 0, len(objectIDs))
	for _, id := range objectIDs {
		v, _, err := e.verify(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

func (e *Engine) verify(ctx context.Context, objectID string) (*media.Verification, *media.Asset, error) {
	v := &media.Verification{ObjectID: objectID, Warnings: []string{}}

	asset, err := e.records.GetAssetByObjectID(ctx, objectID)
	if errors.Is(err, records.ErrNotFound) {
		v.IsOrphaned = true
		v.Warnings = append(v.Warnings, warnNotInDatabase)
		return v, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("look up %s: %w", objectID, err)
	}

	v.InDatabase = true
	v.AssetID = asset.ID
	v.ByteSize = asset.ByteSize

	exists, err := e.objects.Exists(ctx, objectID)
	switch {
	case err != nil:
		v.Warnings = append(v.Warnings, fmt.Sprintf("could not check remote store: %v", err))
	case !exists:
		v.RemoteMissing = true
		v.Warnings = append(v.Warnings, warnRemoteMissing)
	}

	// The slow scan runs first so the reference count is as fresh as
	// possible when the verdict is taken.
	scanned := e.scanWarnings(ctx, objectID)

	n, err := e.records.CountReferences(ctx, asset.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("count references of %s: %w", objectID, err)
	}
	v.ReferenceCount = n
	v.IsOrphaned = n == 0
	v.SafeToDelete = v.IsOrphaned

	if e.now().Sub(asset.UploadedAt) < e.detector.GracePeriod() {
		v.SafeToDelete = false
		v.Warnings = append(v.Warnings, warnRecent)
	}

	if v.IsOrphaned {
		v.Warnings = append(v.Warnings, scanned...)
	}

	return v, asset, nil
}

// scanWarnings reports raw content bodies mentioning objectID. The result
// never changes SafeToDelete.
func (e *Engine) scanWarnings(ctx context.Context, objectID string) []string {
	counts, err := e.scanner.CountMentions(ctx, objectID)
	if err != nil {
		return []string{fmt.Sprintf("content scan failed: %v", err)}
	}

	var out []string
	for _, ct := range media.ContentTypes {
		if n := counts[ct]; n > 0 {
			out = append(out, fmt.Sprintf("found in %d %s bodies", n, ct))
		}
	}
	return out
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeDeleted
	outcomeFailed
	outcomeSkipped
)

type itemResult struct {
	outcome outcome
	freed   int64
	err     *media.CleanupItemError
}

// CleanupOrphans verifies and deletes each object. Per-item problems are
// recorded in the result; an error is returned only when the run itself could
// not proceed, in which case the audit row ends as failed.
func (e *Engine) CleanupOrphans(ctx context.Context, objectIDs []string, dryRun bool, opType media.OperationType) (*media.CleanupResult, error) {
	if opType == "" {
		opType = media.OperationManual
	}

	op := &media.CleanupOperation{
		OperationType: opType,
		Status:        media.OperationRunning,
		DryRun:        dryRun,
		StartedAt:     e.now().UTC(),
	}
	if err := e.records.CreateCleanup(ctx, op); err != nil {
		return nil, media.NewError(media.CodeUnknown, "could not record cleanup operation", err)
	}

	ids := dedupe(objectIDs)
	items := make([]itemResult, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			items[i] = e.process(gctx, id, dryRun)
			return gctx.Err()
		})
	}
	runErr := g.Wait()
	if runErr == nil {
		runErr = ctx.Err()
	}

	result := &media.CleanupResult{OperationID: op.ID, DryRun: dryRun, Errors: []media.CleanupItemError{}}
	for _, it := range items {
		switch it.outcome {
		case outcomeNone:
			continue
		case outcomeDeleted:
			result.Deleted++
			result.FreedSpace += it.freed
		case outcomeFailed:
			result.Failed++
		case outcomeSkipped:
			result.Skipped++
		}
		result.Processed++
		if it.err != nil {
			result.Errors = append(result.Errors, *it.err)
		}
	}

	op.FilesProcessed = result.Processed
	op.FilesDeleted = result.Deleted
	op.FilesFailed = result.Failed
	op.SpaceFreed = result.FreedSpace
	_ = op.Finish(e.now().UTC(), runErr)

	if err := e.records.UpdateCleanup(context.WithoutCancel(ctx), op); err != nil {
		e.logger.Printf("failed to finalize cleanup operation %s: %v", op.ID, err)
	}

	if !dryRun {
		e.metrics.AddFreedBytes(result.FreedSpace)
	}

	verb := "freed"
	if dryRun {
		verb = "would free"
	}
	e.logger.Printf("cleanup %s (%s): processed=%d deleted=%d failed=%d skipped=%d, %s %s",
		op.ID, op.Status, result.Processed, result.Deleted, result.Failed, result.Skipped, verb, humanize.IBytes(uint64(result.FreedSpace)))

	if runErr != nil {
		return result, media.NewError(media.CodeUnknown, "cleanup did not complete", runErr)
	}
	return result, nil
}

// process settles one object. The record is removed first, guarded against
// references, and the remote object only after that; a failed remote delete
// puts the record back so the item can be retried.
func (e *Engine) process(ctx context.Context, objectID string, dryRun bool) itemResult {
	fail := func(code media.ErrorCode, msg string, recoverable bool) itemResult {
		e.metrics.IncCleanupItems("failed")
		return itemResult{outcome: outcomeFailed, err: &media.CleanupItemError{ObjectID: objectID, Code: code, Message: msg, Recoverable: recoverable}}
	}
	skip := func() itemResult {
		e.metrics.IncCleanupItems("skipped")
		return itemResult{outcome: outcomeSkipped, err: &media.CleanupItemError{ObjectID: objectID, Code: media.CodeNotFound, Message: warnNotInDatabase}}
	}

	v, asset, err := e.verify(ctx, objectID)
	if err != nil {
		if ctx.Err() != nil {
			return itemResult{}
		}
		return fail(media.CodeUnknown, err.Error(), true)
	}

	switch {
	case !v.InDatabase:
		return skip()
	case !v.IsOrphaned:
		return fail(media.CodeNotOrphaned, fmt.Sprintf("asset has %d references", v.ReferenceCount), false)
	case !v.SafeToDelete:
		return fail(media.CodeUnsafeDelete, strings.Join(v.Warnings, "; "), false)
	case dryRun:
		e.metrics.IncCleanupItems("dry_run")
		return itemResult{outcome: outcomeDeleted, freed: v.ByteSize}
	}

	err = e.records.DeleteAssetIfUnreferenced(ctx, v.AssetID)
	switch {
	case errors.Is(err, records.ErrReferenced):
		return fail(media.CodeNotOrphaned, "asset was referenced during cleanup", false)
	case errors.Is(err, records.ErrNotFound):
		return skip()
	case err != nil:
		if ctx.Err() != nil {
			return itemResult{}
		}
		return fail(media.CodeDeleteFailed, fmt.Sprintf("record delete failed: %v", err), true)
	}

	if !v.RemoteMissing {
		if err := e.objects.Delete(ctx, objectID); err != nil && !errors.Is(err, objectstore.ErrNotFound) {
			if rerr := e.records.CreateAsset(context.WithoutCancel(ctx), asset); rerr != nil {
				e.logger.Printf("cleanup: could not restore record of %s after failed remote delete: %v", objectID, rerr)
			}
			return fail(media.CodeDeleteFailed, err.Error(), true)
		}
	}

	e.metrics.IncCleanupItems("deleted")
	return itemResult{outcome: outcomeDeleted, freed: v.ByteSize}
}

// CleanupDetected runs the detector and cleans up everything it finds.
func (e *Engine) CleanupDetected(ctx context.Context, dryRun bool, opType media.OperationType) (*media.CleanupResult, error) {
	assets, err := e.detector.FindOrphanedMedia(ctx, time.Time{})
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(assets))
	for i, a := range assets {
		ids[i] = a.ObjectID
	}

	return e.CleanupOrphans(ctx, ids, dryRun, opType)
}

// PreviewCleanup reports what a cleanup of the current orphans would do
// without touching anything.
func (e *Engine) PreviewCleanup(ctx context.Context) (*media.CleanupPreview, error) {
	assets, err := e.detector.FindOrphanedMedia(ctx, time.Time{})
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(assets))
	for i, a := range assets {
		ids[i] = a.ObjectID
	}

	verifications, err := e.VerifyOrphanStatus(ctx, ids)
	if err != nil {
		return nil, err
	}

	preview := &media.CleanupPreview{Orphans: assets, Verifications: verifications}
	for _, v := range verifications {
		if v.SafeToDelete {
			preview.SafeToDeleteCount++
			preview.EstimatedSpaceFreed += v.ByteSize
		}
	}

	return preview, nil
}

func (e *Engine) OrphanStatistics(ctx context.Context) (*media.OrphanStatistics, error) {
	assets, err := e.detector.FindOrphanedMedia(ctx, time.Time{})
	if err != nil {
		return nil, err
	}

	stats := &media.OrphanStatistics{TotalOrphans: len(assets)}
	for _, a := range assets {
		stats.TotalOrphanSize += a.ByteSize
	}
	if len(assets) > 0 {
		oldest, newest := assets[0].UploadedAt, assets[len(assets)-1].UploadedAt
		stats.OldestOrphan = &oldest
		stats.NewestOrphan = &newest
	}

	return stats, nil
}

// CleanupHistory returns the newest audit rows first. A non-positive limit
// uses the configured default.
func (e *Engine) CleanupHistory(ctx context.Context, limit int) ([]*media.CleanupOperation, error) {
	if limit <= 0 {
		limit = e.historyLimit
	}
	return e.records.ListCleanups(ctx, limit)
}

func (e *Engine) Detector() *orphans.Detector {
	return e.detector
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
