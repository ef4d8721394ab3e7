package records

import (
	"context"
	"errors"
	"time"

	"github.com/indieinfra/mediavault/media"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
	// ErrReferenced rejects deleting an asset that reference rows still point at.
	ErrReferenced = errors.New("asset is still referenced")
)

// AssetFilter narrows ListAssets. Zero values disable each condition.
type AssetFilter struct {
	// UploadedBefore keeps assets uploaded strictly before this instant.
	UploadedBefore time.Time
	// Unreferenced keeps assets with no reference rows.
	Unreferenced bool
	Limit        int
}

// Tx is the reference view available inside InTx. Everything done through it
// commits or rolls back together.
type Tx interface {
	ListReferences(ctx context.Context, key media.ContentKey) ([]media.Reference, error)
	// InsertReference returns ErrNotFound when the asset does not exist.
	InsertReference(ctx context.Context, ref media.Reference) error
	DeleteReference(ctx context.Context, ref media.Reference) error
}

// Store persists assets, references and cleanup audit rows.
type Store interface {
	// CreateAsset assigns an id when the asset has none. It returns
	// ErrDuplicate when the object id is already tracked.
	CreateAsset(ctx context.Context, asset *media.Asset) error
	GetAsset(ctx context.Context, id string) (*media.Asset, error)
	GetAssetByObjectID(ctx context.Context, objectID string) (*media.Asset, error)
	// ListAssets returns matches ordered by upload time, oldest first.
	ListAssets(ctx context.Context, filter AssetFilter) ([]*media.Asset, error)
	// AnnotateAsset merges metadata into an existing asset.
	AnnotateAsset(ctx context.Context, id string, metadata map[string]string) error
	// DeleteAssetIfUnreferenced checks for references and deletes in one
	// atomic step, so a reference committed after an earlier count still
	// blocks the delete with ErrReferenced.
	DeleteAssetIfUnreferenced(ctx context.Context, id string) error

	CountReferences(ctx context.Context, assetID string) (int, error)
	InTx(ctx context.Context, fn func(tx Tx) error) error

	CreateCleanup(ctx context.Context, op *media.CleanupOperation) error
	UpdateCleanup(ctx context.Context, op *media.CleanupOperation) error
	// ListCleanups returns the newest operations first.
	ListCleanups(ctx context.Context, limit int) ([]*media.CleanupOperation, error)

	Close() error
}
