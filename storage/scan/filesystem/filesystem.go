package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/indieinfra/mediavault/config"
	"github.com/indieinfra/mediavault/media"
	"github.com/indieinfra/mediavault/storage/scan"
)

// Scanner walks local directories of content files.
type Scanner struct {
	sources map[media.ContentType]string
}

func NewScanner(cfg *config.FilesystemScanStrategy) (*Scanner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("filesystem scan config is nil")
	}

	sources, err := scan.ParseSources(cfg.Sources)
	if err != nil {
		return nil, err
	}

	for ct, dir := range sources {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("%s source: %w", ct, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s source %s is not a directory", ct, dir)
		}
	}

	return &Scanner{sources: sources}, nil
}

func (s *Scanner) CountMentions(ctx context.Context, needle string) (map[media.ContentType]int, error) {
	want := []byte(needle)
	counts := map[media.ContentType]int{}

	for ct, dir := range s.sources {
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}

			body, err := os.ReadFile(p)
			if err != nil {
				return err
			}

			if bytes.Contains(body, want) {
				counts[ct]++
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s bodies: %w", ct, err)
		}
	}

	return counts, nil
}

func (s *Scanner) Close() error { return nil }
