package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/indieinfra/mediavault/media"
	"github.com/indieinfra/mediavault/storage/records"
)

// Store is an in-process records.Store. Transactions hold the store lock for
// their whole duration and work on a staged copy of the reference table.
type Store struct {
	mu       sync.RWMutex
	assets   map[string]*media.Asset
	byObject map[string]string
	refs     map[string]media.Reference
	cleanups []*media.CleanupOperation
}

func NewStore() *Store {
	return &Store{
		assets:   map[string]*media.Asset{},
		byObject: map[string]string{},
		refs:     map[string]media.Reference{},
	}
}

func (s *Store) CreateAsset(ctx context.Context, asset *media.Asset) error {
	if asset != nil && asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	if err := asset.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assets[asset.ID]; ok {
		return fmt.Errorf("asset %s: %w", asset.ID, records.ErrDuplicate)
	}
	if _, ok := s.byObject[asset.ObjectID]; ok {
		return fmt.Errorf("object %s: %w", asset.ObjectID, records.ErrDuplicate)
	}

	s.assets[asset.ID] = cloneAsset(asset)
	s.byObject[asset.ObjectID] = asset.ID

	return nil
}

func (s *Store) GetAsset(ctx context.Context, id string) (*media.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", id, records.ErrNotFound)
	}

	return cloneAsset(a), nil
}

func (s *Store) GetAssetByObjectID(ctx context.Context, objectID string) (*media.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byObject[objectID]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", objectID, records.ErrNotFound)
	}

	return cloneAsset(s.assets[id]), nil
}

func (s *Store) ListAssets(ctx context.Context, filter records.AssetFilter) ([]*media.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var referenced map[string]bool
	if filter.Unreferenced {
		referenced = map[string]bool{}
		for _, r := range s.refs {
			referenced[r.AssetID] = true
		}
	}

	out := make([]*media.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		if !filter.UploadedBefore.IsZero() && !a.UploadedAt.Before(filter.UploadedBefore) {
			continue
		}
		if filter.Unreferenced && referenced[a.ID] {
			continue
		}
		out = append(out, cloneAsset(a))
	}

	slices.SortFunc(out, func(a, b *media.Asset) int {
		if c := a.UploadedAt.Compare(b.UploadedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}

	return out, nil
}

func (s *Store) AnnotateAsset(ctx context.Context, id string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[id]
	if !ok {
		return fmt.Errorf("asset %s: %w", id, records.ErrNotFound)
	}

	if a.Metadata == nil {
		a.Metadata = map[string]string{}
	}
	maps.Copy(a.Metadata, metadata)

	return nil
}

// DeleteAssetIfUnreferenced holds the store lock across the check and the
// delete, the same lock InTx holds while references change.
func (s *Store) DeleteAssetIfUnreferenced(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[id]
	if !ok {
		return fmt.Errorf("asset %s: %w", id, records.ErrNotFound)
	}
	for _, r := range s.refs {
		if r.AssetID == id {
			return fmt.Errorf("asset %s: %w", id, records.ErrReferenced)
		}
	}

	delete(s.byObject, a.ObjectID)
	delete(s.assets, id)

	return nil
}

func (s *Store) CountReferences(ctx context.Context, assetID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.refs {
		if r.AssetID == assetID {
			n++
		}
	}

	return n, nil
}

func (s *Store) InTx(ctx context.Context, fn func(tx records.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, refs: maps.Clone(s.refs)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.refs = tx.refs
	return nil
}

func (s *Store) CreateCleanup(ctx context.Context, op *media.CleanupOperation) error {
	if op == nil {
		return fmt.Errorf("cleanup operation is nil")
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.ContainsFunc(s.cleanups, func(c *media.CleanupOperation) bool { return c.ID == op.ID }) {
		return fmt.Errorf("cleanup %s: %w", op.ID, records.ErrDuplicate)
	}

	c := *op
	s.cleanups = append(s.cleanups, &c)
	return nil
}

func (s *Store) UpdateCleanup(ctx context.Context, op *media.CleanupOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.cleanups, func(c *media.CleanupOperation) bool { return c.ID == op.ID })
	if i < 0 {
		return fmt.Errorf("cleanup %s: %w", op.ID, records.ErrNotFound)
	}

	c := *op
	s.cleanups[i] = &c
	return nil
}

func (s *Store) ListCleanups(ctx context.Context, limit int) ([]*media.CleanupOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*media.CleanupOperation, 0, len(s.cleanups))
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		c := *s.cleanups[i]
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}

	return out, nil
}

func (s *Store) Close() error {
	return nil
}

type memTx struct {
	store *Store
	refs  map[string]media.Reference
}

func (t *memTx) ListReferences(ctx context.Context, key media.ContentKey) ([]media.Reference, error) {
	var out []media.Reference
	for _, r := range t.refs {
		if r.ContentType == key.Type && r.ContentID == key.ID {
			out = append(out, r)
		}
	}

	slices.SortFunc(out, func(a, b media.Reference) int { return cmp.Compare(a.Key(), b.Key()) })
	return out, nil
}

func (t *memTx) InsertReference(ctx context.Context, ref media.Reference) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if _, ok := t.store.assets[ref.AssetID]; !ok {
		return fmt.Errorf("asset %s: %w", ref.AssetID, records.ErrNotFound)
	}
	if _, ok := t.refs[ref.Key()]; ok {
		return fmt.Errorf("reference %s: %w", ref.Key(), records.ErrDuplicate)
	}

	t.refs[ref.Key()] = ref
	return nil
}

func (t *memTx) DeleteReference(ctx context.Context, ref media.Reference) error {
	if _, ok := t.refs[ref.Key()]; !ok {
		return fmt.Errorf("reference: %w", records.ErrNotFound)
	}

	delete(t.refs, ref.Key())
	return nil
}

func cloneAsset(a *media.Asset) *media.Asset {
	c := *a
	c.Metadata = maps.Clone(a.Metadata)
	return &c
}
