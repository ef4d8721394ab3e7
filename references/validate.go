package references

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/yuin/goldmark"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"golang.org/x/net/html"

	"github.com/indieinfra/mediavault/storage/records"
)

const (
	lookupCacheSize = 1024
	lookupCacheTTL  = time.Minute
)

var markdown = goldmark.New(goldmark.WithRendererOptions(gmhtml.WithUnsafe()))

// ImageValidation is the advisory result of checking a content body.
type ImageValidation struct {
	Valid         bool     `json:"valid"`
	MissingImages []string `json:"missingImages"`
	// ExternalImages were not issued by the object store and are not checked.
	ExternalImages []string `json:"externalImages,omitempty"`
}

// ValidateImageReferences finds every image in body, which may be markdown or
// HTML, and reports those pointing at unknown assets. It never mutates state.
func (t *Tracker) ValidateImageReferences(ctx context.Context, body string) (*ImageValidation, error) {
	srcs, err := imageSources(body)
	if err != nil {
		return nil, err
	}

	res := &ImageValidation{Valid: true, MissingImages: []string{}}
	for _, src := range srcs {
		objectID, ok := t.objects.ObjectIDFromURL(src)
		if !ok {
			res.ExternalImages = append(res.ExternalImages, src)
			continue
		}

		known, err := t.lookups.known(ctx, objectID)
		if err != nil {
			return nil, err
		}
		if !known {
			res.MissingImages = append(res.MissingImages, src)
		}
	}

	res.Valid = len(res.MissingImages) == 0
	return res, nil
}

// imageSources renders body and returns the distinct <img src> values in
// document order.
func imageSources(body string) ([]string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(body), &buf); err != nil {
		return nil, fmt.Errorf("render content: %w", err)
	}

	seen := map[string]struct{}{}
	var out []string

	z := html.NewTokenizer(&buf)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return out, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "img" {
				continue
			}
			for _, attr := range tok.Attr {
				if attr.Key != "src" {
					continue
				}
				src := strings.TrimSpace(attr.Val)
				if _, dup := seen[src]; src == "" || dup {
					continue
				}
				seen[src] = struct{}{}
				out = append(out, src)
			}
		}
	}
}

// objectLookup caches positive object id lookups for a short time. Only
// advisory validation uses it; nothing that deletes consults the cache.
type objectLookup struct {
	store records.Store
	cache *expirable.LRU[string, string]
}

func newObjectLookup(store records.Store) *objectLookup {
	return &objectLookup{
		store: store,
		cache: expirable.NewLRU[string, string](lookupCacheSize, nil, lookupCacheTTL),
	}
}

func (l *objectLookup) known(ctx context.Context, objectID string) (bool, error) {
	if _, ok := l.cache.Get(objectID); ok {
		return true, nil
	}

	asset, err := l.store.GetAssetByObjectID(ctx, objectID)
	if errors.Is(err, records.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	l.cache.Add(objectID, asset.ID)
	return true, nil
}
