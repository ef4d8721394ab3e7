// Package orphans finds assets nothing references. It is a cheap first pass;
// the cleanup engine re-verifies every candidate before deleting it.
package orphans

import (
	"context"
	"fmt"
	"time"

	"github.com/indieinfra/mediavault/media"
	"github.com/indieinfra/mediavault/storage/records"
)

const DefaultGracePeriod = time.Hour

type Detector struct {
	records records.Store
	grace   time.Duration
	now     func() time.Time
}

func New(store records.Store, grace time.Duration, now func() time.Time) *Detector {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if now == nil {
		now = time.Now
	}

	return &Detector{records: store, grace: grace, now: now}
}

// FindOrphanedMedia returns unreferenced assets uploaded before olderThan,
// oldest first. A zero olderThan means now minus the grace period.
func (d *Detector) FindOrphanedMedia(ctx context.Context, olderThan time.Time) ([]*media.Asset, error) {
	if olderThan.IsZero() {
		olderThan = d.Cutoff()
	}

	assets, err := d.records.ListAssets(ctx, records.AssetFilter{UploadedBefore: olderThan, Unreferenced: true})
	if err != nil {
		return nil, fmt.Errorf("list orphaned assets: %w", err)
	}

	return assets, nil
}

// Cutoff is the newest upload time still outside the grace window.
func (d *Detector) Cutoff() time.Time {
	return d.now().Add(-d.grace)
}

func (d *Detector) GracePeriod() time.Duration {
	return d.grace
}
