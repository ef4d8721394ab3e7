package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/indieinfra/mediavault/config"
	"github.com/indieinfra/mediavault/media"
	"github.com/indieinfra/mediavault/storage/records"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(&config.Records{Driver: "sqlite", DSN: "file:" + filepath.Join(t.TempDir(), "records.db")})
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestSQLite_ReferenceLifecycle(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	asset := &media.Asset{ObjectID: "uploads/a.png", URL: "https://cdn.test/uploads/a.png", ByteSize: 2048, UploadedAt: now.Add(-2 * time.Hour)}
	if err := store.CreateAsset(ctx, asset); err != nil {
		t.Fatalf("create asset: %v", err)
	}

	dup := &media.Asset{ObjectID: asset.ObjectID, URL: "x", UploadedAt: now}
	if err := store.CreateAsset(ctx, dup); !errors.Is(err, records.ErrDuplicate) {
		t.Fatalf("expected duplicate object id to map to ErrDuplicate, got %v", err)
	}

	orphans, err := store.ListAssets(ctx, records.AssetFilter{UploadedBefore: now, Unreferenced: true})
	if err != nil || len(orphans) != 1 {
		t.Fatalf("expected one orphan, got %d %v", len(orphans), err)
	}

	ref := media.Reference{AssetID: asset.ID, ContentType: media.ContentNewsletter, ContentID: "7", Context: media.ContextInline, CreatedAt: now}
	if err := store.InTx(ctx, func(tx records.Tx) error { return tx.InsertReference(ctx, ref) }); err != nil {
		t.Fatalf("insert reference: %v", err)
	}

	err = store.InTx(ctx, func(tx records.Tx) error { return tx.InsertReference(ctx, ref) })
	if !errors.Is(err, records.ErrDuplicate) {
		t.Fatalf("expected duplicate reference to map to ErrDuplicate, got %v", err)
	}

	if n, err := store.CountReferences(ctx, asset.ID); err != nil || n != 1 {
		t.Fatalf("expected one reference, got %d %v", n, err)
	}

	orphans, _ = store.ListAssets(ctx, records.AssetFilter{Unreferenced: true})
	if len(orphans) != 0 {
		t.Fatalf("expected referenced asset to be excluded, got %+v", orphans)
	}

	got, err := store.GetAsset(ctx, asset.ID)
	if err != nil || !got.UploadedAt.Equal(asset.UploadedAt) {
		t.Fatalf("unexpected round trip: %+v %v", got, err)
	}
}

func TestSQLite_ReferenceToMissingAssetIsRejected(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	ref := media.Reference{AssetID: "no-such-asset", ContentType: media.ContentArticle, ContentID: "1", Context: media.ContextInline, CreatedAt: time.Now()}
	err := store.InTx(ctx, func(tx records.Tx) error { return tx.InsertReference(ctx, ref) })
	if !errors.Is(err, records.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a missing asset, got %v", err)
	}

	if n, err := store.CountReferences(ctx, "no-such-asset"); err != nil || n != 0 {
		t.Fatalf("expected no dangling reference rows, got %d %v", n, err)
	}
}

func TestSQLite_DeleteAssetIfUnreferenced(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	asset := &media.Asset{ObjectID: "uploads/b.png", URL: "https://cdn.test/uploads/b.png", UploadedAt: now.Add(-2 * time.Hour)}
	if err := store.CreateAsset(ctx, asset); err != nil {
		t.Fatalf("create asset: %v", err)
	}

	ref := media.Reference{AssetID: asset.ID, ContentType: media.ContentPodcast, ContentID: "9", Context: media.ContextInline, CreatedAt: now}
	if err := store.InTx(ctx, func(tx records.Tx) error { return tx.InsertReference(ctx, ref) }); err != nil {
		t.Fatalf("insert reference: %v", err)
	}

	if err := store.DeleteAssetIfUnreferenced(ctx, asset.ID); !errors.Is(err, records.ErrReferenced) {
		t.Fatalf("expected ErrReferenced, got %v", err)
	}
	if _, err := store.GetAsset(ctx, asset.ID); err != nil {
		t.Fatalf("referenced asset must survive: %v", err)
	}

	if err := store.InTx(ctx, func(tx records.Tx) error { return tx.DeleteReference(ctx, ref) }); err != nil {
		t.Fatalf("delete reference: %v", err)
	}
	if err := store.DeleteAssetIfUnreferenced(ctx, asset.ID); err != nil {
		t.Fatalf("delete unreferenced asset: %v", err)
	}
	if err := store.DeleteAssetIfUnreferenced(ctx, asset.ID); !errors.Is(err, records.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestWithSQLiteForeignKeys(t *testing.T) {
	cases := map[string]string{
		"file:/tmp/a.db":                         "file:/tmp/a.db?_pragma=foreign_keys(1)",
		"file:/tmp/a.db?mode=rwc":                "file:/tmp/a.db?mode=rwc&_pragma=foreign_keys(1)",
		"file:/tmp/a.db?_pragma=foreign_keys(0)": "file:/tmp/a.db?_pragma=foreign_keys(0)",
	}
	for in, want := range cases {
		if got := withSQLiteForeignKeys(in); got != want {
			t.Fatalf("withSQLiteForeignKeys(%q) = %q, want %q", in, got, want)
		}
	}
}
