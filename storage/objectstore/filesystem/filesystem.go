package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/indieinfra/mediavault/config"
	"github.com/indieinfra/mediavault/storage/objectstore"
	storageutil "github.com/indieinfra/mediavault/storage/util"
)

// Store keeps uploaded media in a local directory served under publicURL.
type Store struct {
	basePath  string
	publicURL string
	pattern   *storageutil.PathPattern
	now       func() time.Time
	mu        sync.RWMutex // Protects file operations
}

func NewStore(cfg *config.Media) (*Store, error) {
	if cfg == nil || cfg.Filesystem == nil {
		return nil, fmt.Errorf("filesystem media config is nil")
	}

	if err := os.MkdirAll(cfg.Filesystem.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	pattern := storageutil.DefaultMediaPattern()
	if cfg.PathPattern != "" {
		pattern = storageutil.NewPathPattern(cfg.PathPattern)
	}

	return &Store{
		basePath:  cfg.Filesystem.Path,
		publicURL: storageutil.NormalizeBaseURL(cfg.Filesystem.PublicUrl),
		pattern:   pattern,
		now:       time.Now,
	}, nil
}

func (s *Store) Upload(ctx context.Context, in *objectstore.UploadInput) (*objectstore.Object, error) {
	if in == nil || in.Body == nil {
		return nil, fmt.Errorf("upload body is required: %w", objectstore.ErrRejected)
	}

	key, err := objectstore.BuildKey(s.pattern, in, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", objectstore.ErrRejected)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	absPath := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	out, err := os.OpenFile(absPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	written, err := io.Copy(out, readerWithContext(ctx, in.Body))
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(absPath)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	return &objectstore.Object{
		ObjectID: key,
		URL:      s.publicURL + key,
		Format:   in.Format,
		Width:    in.Width,
		Height:   in.Height,
		Bytes:    written,
	}, nil
}

func (s *Store) Delete(ctx context.Context, objectID string) error {
	absPath, err := s.resolve(objectID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(absPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%q: %w", objectID, objectstore.ErrNotFound)
		}
		return fmt.Errorf("failed to remove file: %w", err)
	}

	return nil
}

func (s *Store) Exists(ctx context.Context, objectID string) (bool, error) {
	absPath, err := s.resolve(objectID)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := os.Stat(absPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file: %w", err)
	}

	return true, nil
}

func (s *Store) ObjectIDFromURL(url string) (string, bool) {
	key, ok := objectstore.KeyFromPublicURL(url, s.publicURL)
	if !ok || !filepath.IsLocal(filepath.FromSlash(key)) {
		return "", false
	}

	return key, true
}

func (s *Store) resolve(objectID string) (string, error) {
	rel := filepath.FromSlash(objectID)
	if objectID == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("invalid object id %q: %w", objectID, objectstore.ErrRejected)
	}

	return filepath.Join(s.basePath, rel), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
