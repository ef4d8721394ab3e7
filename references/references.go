// Package references keeps the reference rows linking content entities to
// assets. It is the source of truth for whether an asset is in use.
package references

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/indieinfra/mediavault/lock"
	"github.com/indieinfra/mediavault/media"
	"github.com/indieinfra/mediavault/metrics"
	"github.com/indieinfra/mediavault/storage/objectstore"
	"github.com/indieinfra/mediavault/storage/records"
)

// AssetRef is one asset embedded in a content entity.
type AssetRef struct {
	AssetID string `json:"assetId"`
	Context string `json:"context"`
}

type Tracker struct {
	records records.Store
	objects objectstore.Store
	locker  lock.Locker
	metrics metrics.Metrics
	now     func() time.Time
	lookups *objectLookup
}

type Option func(*Tracker)

func WithMetrics(m metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func New(store records.Store, objects objectstore.Store, locker lock.Locker, opts ...Option) *Tracker {
	if locker == nil {
		locker = lock.NewLocal()
	}

	t := &Tracker{
		records: store,
		objects: objects,
		locker:  locker,
		metrics: metrics.Noop{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.lookups = newObjectLookup(store)

	return t
}

// SyncReferences replaces the reference set of one content entity with refs.
// Saves of the same entity are serialized; the diff is applied atomically.
func (t *Tracker) SyncReferences(ctx context.Context, contentType media.ContentType, contentID string, refs []AssetRef) error {
	if !contentType.Valid() {
		return media.NewError(media.CodeValidationFailed, fmt.Sprintf("unknown content type %q", contentType), nil)
	}
	contentID = strings.TrimSpace(contentID)
	if contentID == "" {
		return media.NewError(media.CodeValidationFailed, "content id is required", nil)
	}

	key := media.ContentKey{Type: contentType, ID: contentID}
	desired := make(map[string]media.Reference, len(refs))
	for _, r := range refs {
		ref := media.Reference{
			AssetID:     strings.TrimSpace(r.AssetID),
			ContentType: contentType,
			ContentID:   contentID,
			Context:     strings.TrimSpace(r.Context),
		}
		if ref.Context == "" {
			ref.Context = media.ContextInline
		}
		if err := ref.Validate(); err != nil {
			return media.NewError(media.CodeValidationFailed, err.Error(), nil)
		}
		desired[ref.Key()] = ref
	}

	unlock, err := t.locker.Lock(ctx, "refs:"+key.String())
	if err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	defer unlock()

	for _, ref := range desired {
		if _, err := t.records.GetAsset(ctx, ref.AssetID); err != nil {
			if errors.Is(err, records.ErrNotFound) {
				return media.NewError(media.CodeNotFound, fmt.Sprintf("asset %s does not exist", ref.AssetID), err)
			}
			return err
		}
	}

	err = t.applyDiff(ctx, key, desired)
	if errors.Is(err, records.ErrDuplicate) {
		// another writer outside this lock raced us; the retry re-reads its rows
		err = t.applyDiff(ctx, key, desired)
	}
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			return media.NewError(media.CodeNotFound, "referenced asset disappeared during sync", err)
		}
		return fmt.Errorf("sync references for %s: %w", key, err)
	}

	t.metrics.IncReferenceSyncs(string(contentType))
	return nil
}

func (t *Tracker) applyDiff(ctx context.Context, key media.ContentKey, desired map[string]media.Reference) error {
	now := t.now().UTC()

	return t.records.InTx(ctx, func(tx records.Tx) error {
		existing, err := tx.ListReferences(ctx, key)
		if err != nil {
			return err
		}

		have := make(map[string]struct{}, len(existing))
		for _, ref := range existing {
			have[ref.Key()] = struct{}{}
			if _, keep := desired[ref.Key()]; !keep {
				if err := tx.DeleteReference(ctx, ref); err != nil {
					return err
				}
			}
		}

		for k, ref := range desired {
			if _, ok := have[k]; ok {
				continue
			}
			ref.CreatedAt = now
			if err := tx.InsertReference(ctx, ref); err != nil {
				return err
			}
		}

		return nil
	})
}

// CountReferences returns the live reference count of an asset.
func (t *Tracker) CountReferences(ctx context.Context, assetID string) (int, error) {
	return t.records.CountReferences(ctx, assetID)
}

// RemoveContent drops every reference held by a deleted content entity.
func (t *Tracker) RemoveContent(ctx context.Context, contentType media.ContentType, contentID string) error {
	return t.SyncReferences(ctx, contentType, contentID, nil)
}
