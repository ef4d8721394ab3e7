package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	storageutil "github.com/indieinfra/mediavault/storage/util"
)

var (
	// ErrNotFound is returned by Delete when the object is already gone.
	ErrNotFound = errors.New("object not found")
	// ErrQuotaExceeded signals that the store refused the object for
	// capacity reasons. It is never worth retrying.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrRejected signals any other permanent refusal (bad credentials,
	// invalid key, missing bucket).
	ErrRejected = errors.New("object rejected by store")
)

// UploadInput describes the bytes handed to a Store. Width, Height and Format
// come from validation and are echoed back on the resulting Object.
type UploadInput struct {
	Folder      string
	Filename    string
	ContentType string
	Body        io.Reader
	Size        int64
	Width       int
	Height      int
	Format      string
}

// Object is what a Store reports after a successful upload.
type Object struct {
	ObjectID string `json:"objectId"`
	URL      string `json:"url"`
	Format   string `json:"format"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Bytes    int64  `json:"bytes"`
}

// Store is the remote object store the lifecycle manager uploads to and
// deletes from.
type Store interface {
	Upload(ctx context.Context, in *UploadInput) (*Object, error)
	// Delete removes the object. It returns ErrNotFound when nothing was
	// stored under objectID.
	Delete(ctx context.Context, objectID string) error
	Exists(ctx context.Context, objectID string) (bool, error)
	// ObjectIDFromURL maps a public URL back to its object id. It reports
	// false for URLs this store did not issue.
	ObjectIDFromURL(url string) (string, bool)
}

// KeyFromPublicURL returns the object key of raw below base. Only the URL path
// counts, so transform parameters in the query or a fragment are ignored.
func KeyFromPublicURL(raw, base string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	if !strings.EqualFold(u.Scheme, b.Scheme) || !strings.EqualFold(u.Host, b.Host) {
		return "", false
	}

	prefix := strings.TrimSuffix(b.Path, "/") + "/"
	if !strings.HasPrefix(u.Path, prefix) {
		return "", false
	}

	key := strings.TrimPrefix(u.Path, prefix)
	return key, key != ""
}

// BuildKey derives a unique object key for an upload from the configured
// pattern. The base name is slugified and suffixed with a short random id so
// two uploads of the same filename never collide.
func BuildKey(pattern *storageutil.PathPattern, in *UploadInput, now time.Time) (string, error) {
	if pattern == nil {
		pattern = storageutil.DefaultMediaPattern()
	}

	name := path.Base(strings.ReplaceAll(in.Filename, "\\", "/"))
	ext := strings.ToLower(path.Ext(name))
	if ext == "" || ext == "." {
		ext = extensionFor(in.ContentType, in.Format)
	}

	base := slug.Make(strings.TrimSuffix(name, path.Ext(name)))
	if base == "" {
		base = "image"
	}
	base = fmt.Sprintf("%s-%s", base, uuid.NewString()[:8])

	return pattern.Generate(in.Folder, base, now.UTC(), ext)
}

func extensionFor(contentType, format string) string {
	if format != "" {
		if format == "jpeg" {
			return ".jpg"
		}
		return "." + format
	}

	if contentType != "" {
		if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}

	return ""
}
