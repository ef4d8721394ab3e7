package gitscan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/plumbing/transport"
	"github.com/go-git/go-git/v6/plumbing/transport/http"
	"github.com/go-git/go-git/v6/plumbing/transport/ssh"

	"github.com/indieinfra/mediavault/config"
	"github.com/indieinfra/mediavault/media"
	"github.com/indieinfra/mediavault/storage/scan"
)

const defaultRefreshInterval = time.Minute

// Scanner searches content bodies committed to a git repository. A working
// clone lives at the configured local path and is fast-forwarded from origin
// at most once per refresh interval.
type Scanner struct {
	cfg     *config.GitScanStrategy
	auth    transport.AuthMethod
	repo    *git.Repository
	branch  string
	sources map[media.ContentType]string

	mu              sync.Mutex
	lastFetch       time.Time
	refreshInterval time.Duration
	now             func() time.Time
}

func NewScanner(cfg *config.GitScanStrategy) (*Scanner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("git scan config is nil")
	}

	raw, err := scan.ParseSources(cfg.Sources)
	if err != nil {
		return nil, err
	}

	sources := make(map[media.ContentType]string, len(raw))
	for ct, dir := range raw {
		sources[ct] = path.Clean(strings.Trim(dir, "/"))
	}

	auth, err := buildGitAuth(cfg.Auth)
	if err != nil {
		return nil, err
	}

	repo, err := openOrClone(cfg, auth)
	if err != nil {
		return nil, err
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve content repository HEAD: %w", err)
	}

	return &Scanner{
		cfg:             cfg,
		auth:            auth,
		repo:            repo,
		branch:          head.Name().Short(),
		sources:         sources,
		lastFetch:       time.Now(),
		refreshInterval: defaultRefreshInterval,
		now:             time.Now,
	}, nil
}

func buildGitAuth(cfg *config.GitScanStrategyAuth) (transport.AuthMethod, error) {
	if cfg == nil {
		return nil, nil
	}

	switch cfg.Method {
	case "plain":
		return &http.BasicAuth{
			Username: cfg.Plain.Username,
			Password: cfg.Plain.Password,
		}, nil
	case "ssh":
		user := cfg.Ssh.Username
		if user == "" {
			user = "git"
		}

		pubkeys, err := ssh.NewPublicKeysFromFile(user, cfg.Ssh.PrivateKeyFilePath, cfg.Ssh.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare scan git ssh authentication: %w", err)
		}

		return pubkeys, nil
	default:
		return nil, fmt.Errorf("invalid git authentication method %v", cfg.Method)
	}
}

func openOrClone(cfg *config.GitScanStrategy, auth transport.AuthMethod) (*git.Repository, error) {
	repo, err := git.PlainOpen(cfg.LocalPath)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("failed to open content repository: %w", err)
	}

	if err := os.MkdirAll(cfg.LocalPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create clone directory: %w", err)
	}

	repo, err = git.PlainClone(cfg.LocalPath, &git.CloneOptions{
		URL:  cfg.Repository,
		Auth: auth,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clone content repository: %w", err)
	}

	return repo, nil
}

func (s *Scanner) CountMentions(ctx context.Context, needle string) (map[media.ContentType]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.now().Sub(s.lastFetch) >= s.refreshInterval {
		if err := s.fetchAndFastForward(ctx); err != nil {
			return nil, fmt.Errorf("failed to update content repository: %w", err)
		}
		s.lastFetch = s.now()
	}

	head, err := s.repo.Head()
	if err != nil {
		return nil, err
	}

	commit, err := s.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, err
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, err
	}

	counts := map[media.ContentType]int{}
	err = tree.Files().ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		ct, ok := s.sourceFor(f.Name)
		if !ok {
			return nil
		}

		contents, err := f.Contents()
		if err != nil {
			return err
		}

		if strings.Contains(contents, needle) {
			counts[ct]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return counts, nil
}

func (s *Scanner) sourceFor(name string) (media.ContentType, bool) {
	for ct, dir := range s.sources {
		if dir == "." || strings.HasPrefix(name, dir+"/") {
			return ct, true
		}
	}
	return "", false
}

func (s *Scanner) fetchAndFastForward(ctx context.Context) error {
	if err := s.repo.FetchContext(ctx, &git.FetchOptions{Auth: s.auth}); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return err
	}

	remoteRef, err := s.repo.Reference(plumbing.NewRemoteReferenceName("origin", s.branch), true)
	if err != nil {
		return err
	}

	localRef, err := s.repo.Reference(plumbing.NewBranchReferenceName(s.branch), true)
	if err != nil {
		return err
	}

	if localRef.Hash() == remoteRef.Hash() {
		return nil
	}

	if err := s.repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(s.branch), remoteRef.Hash())); err != nil {
		return err
	}

	wt, err := s.repo.Worktree()
	if err != nil {
		return err
	}

	return wt.Reset(&git.ResetOptions{
		Mode:   git.HardReset,
		Commit: remoteRef.Hash(),
	})
}

func (s *Scanner) Close() error { return nil }
