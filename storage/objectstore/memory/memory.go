package memory

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/indieinfra/mediavault/storage/objectstore"
	storageutil "github.com/indieinfra/mediavault/storage/util"
)

const DefaultPublicURL = "http://localhost/media/"

type object struct {
	contentType string
	data        []byte
}

// Store holds objects in process memory. It is meant for development and
// tests.
type Store struct {
	mu        sync.RWMutex
	objects   map[string]object
	publicURL string
	pattern   *storageutil.PathPattern
	now       func() time.Time
}

func NewStore(publicURL string, pattern *storageutil.PathPattern) *Store {
	if strings.TrimSpace(publicURL) == "" {
		publicURL = DefaultPublicURL
	}
	if pattern == nil {
		pattern = storageutil.DefaultMediaPattern()
	}

	return &Store{
		objects:   map[string]object{},
		publicURL: storageutil.NormalizeBaseURL(publicURL),
		pattern:   pattern,
		now:       time.Now,
	}
}

func (s *Store) Upload(ctx context.Context, in *objectstore.UploadInput) (*objectstore.Object, error) {
	if in == nil || in.Body == nil {
		return nil, fmt.Errorf("upload body is required: %w", objectstore.ErrRejected)
	}

	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, fmt.Errorf("read upload body: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, err := objectstore.BuildKey(s.pattern, in, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", objectstore.ErrRejected)
	}

	s.mu.Lock()
	s.objects[key] = object{contentType: in.ContentType, data: data}
	s.mu.Unlock()

	return &objectstore.Object{
		ObjectID: key,
		URL:      s.publicURL + key,
		Format:   in.Format,
		Width:    in.Width,
		Height:   in.Height,
		Bytes:    int64(len(data)),
	}, nil
}

func (s *Store) Delete(ctx context.Context, objectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[objectID]; !ok {
		return fmt.Errorf("%q: %w", objectID, objectstore.ErrNotFound)
	}
	delete(s.objects, objectID)

	return nil
}

func (s *Store) Exists(ctx context.Context, objectID string) (bool, error) {
	s.mu.RLock()
	_, ok := s.objects[objectID]
	s.mu.RUnlock()

	return ok, nil
}

func (s *Store) ObjectIDFromURL(url string) (string, bool) {
	return objectstore.KeyFromPublicURL(url, s.publicURL)
}

// Len reports how many objects are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
