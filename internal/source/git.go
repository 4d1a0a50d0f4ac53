package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"gitsync/internal/api"
	"gitsync/pkg/logging"
)

const remoteName = "origin"

// GitSource reads manifests from git repositories. Remote repositories are
// cloned bare into WorkDir once and fetched on every call; local repository
// paths are opened in place. Files are read from the commit tree, so no
// checkout is involved.
type GitSource struct {
	workDir string
	auth    transport.AuthMethod

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// GitOption customizes a GitSource.
type GitOption func(*GitSource)

// WithAuth sets the credentials used for clone and fetch.
func WithAuth(auth transport.AuthMethod) GitOption {
	return func(s *GitSource) { s.auth = auth }
}

func NewGitSource(workDir string, opts ...GitOption) *GitSource {
	s := &GitSource{
		workDir: workDir,
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GitSource) FetchDesired(ctx context.Context, app api.Application) (*Snapshot, error) {
	src := app.Source
	unavailable := func(err error) error {
		return &api.SourceError{
			Reason:   api.SourceUnavailable,
			RepoURL:  src.RepoURL,
			Revision: src.TargetRevision,
			Path:     src.Path,
			Err:      err,
		}
	}

	unlock := s.lock(src.RepoURL)
	defer unlock()

	repo, remote, err := s.open(ctx, src.RepoURL)
	if err != nil {
		return nil, unavailable(err)
	}

	hash, err := resolveRevision(repo, src.TargetRevision, remote)
	if err != nil {
		return nil, unavailable(err)
	}
	commit, err := repo.CommitObject(hash)
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to load commit %s: %w", hash, err))
	}

	files, err := readCommitFiles(commit, src.Path)
	if err != nil {
		return nil, unavailable(err)
	}

	logging.Debug("Source", "Read %d manifest files from %s at %s", len(files), src.RepoURL, hash)
	snap, err := buildSnapshot(app, hash.String(), files)
	snap.FetchedAt = time.Now()
	return snap, err
}

// lock serializes access to one repository.
func (s *GitSource) lock(repoURL string) func() {
	s.mu.Lock()
	l, ok := s.locks[repoURL]
	if !ok {
		l = &sync.Mutex{}
		s.locks[repoURL] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// open returns the repository and whether it tracks a remote.
func (s *GitSource) open(ctx context.Context, repoURL string) (*git.Repository, bool, error) {
	if !isRemoteURL(repoURL) {
		repo, err := git.PlainOpenWithOptions(repoURL, &git.PlainOpenOptions{DetectDotGit: true})
		if err != nil {
			return nil, false, fmt.Errorf("failed to open repository %s: %w", repoURL, err)
		}
		return repo, false, nil
	}

	dir := filepath.Join(s.workDir, cacheDirName(repoURL))
	if _, err := os.Stat(dir); err == nil {
		repo, err := git.PlainOpen(dir)
		if err != nil {
			return nil, true, fmt.Errorf("failed to open cached clone of %s: %w", repoURL, err)
		}
		err = repo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: remoteName,
			RefSpecs: []config.RefSpec{
				config.RefSpec(fmt.Sprintf("+refs/heads/*:refs/remotes/%s/*", remoteName)),
				"+refs/tags/*:refs/tags/*",
			},
			Auth:  s.auth,
			Tags:  git.AllTags,
			Force: true,
		})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil, true, fmt.Errorf("failed to fetch %s: %w", repoURL, err)
		}
		return repo, true, nil
	}

	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		return nil, true, err
	}
	logging.Info("Source", "Cloning %s", repoURL)
	repo, err := git.PlainCloneContext(ctx, dir, true, &git.CloneOptions{
		URL:        repoURL,
		RemoteName: remoteName,
		Auth:       s.auth,
		Tags:       git.AllTags,
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, true, fmt.Errorf("failed to clone %s: %w", repoURL, err)
	}
	return repo, true, nil
}

func cacheDirName(repoURL string) string {
	sum := sha256.Sum256([]byte(repoURL))
	base := strings.TrimSuffix(path.Base(repoURL), ".git")
	return base + "-" + hex.EncodeToString(sum[:])[:12]
}

// resolveRevision resolves rev in this order: remote branch, tag, local
// reference, commit hash. An empty rev or HEAD follows the default branch.
func resolveRevision(repo *git.Repository, rev string, remote bool) (plumbing.Hash, error) {
	if rev == "" || rev == "HEAD" {
		head, err := repo.Reference(plumbing.HEAD, false)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("failed to read HEAD: %w", err)
		}
		if remote && head.Type() == plumbing.SymbolicReference {
			if h, err := refCommit(repo, plumbing.NewRemoteReferenceName(remoteName, head.Target().Short())); err == nil {
				return h, nil
			}
		}
		resolved, err := repo.Head()
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("failed to resolve HEAD: %w", err)
		}
		return resolved.Hash(), nil
	}

	candidates := []plumbing.ReferenceName{
		plumbing.NewRemoteReferenceName(remoteName, rev),
		plumbing.NewTagReferenceName(rev),
		plumbing.NewBranchReferenceName(rev),
		plumbing.ReferenceName(rev),
	}
	for _, name := range candidates {
		if h, err := refCommit(repo, name); err == nil {
			return h, nil
		}
	}

	h, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("revision %q not found: %w", rev, err)
	}
	return *h, nil
}

// refCommit resolves name to a commit, peeling annotated tags.
func refCommit(repo *git.Repository, name plumbing.ReferenceName) (plumbing.Hash, error) {
	ref, err := repo.Reference(name, true)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if tag, err := repo.TagObject(ref.Hash()); err == nil {
		commit, err := tag.Commit()
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return commit.Hash, nil
	}
	return ref.Hash(), nil
}

// readCommitFiles returns every YAML file below dir in the commit tree.
func readCommitFiles(commit *object.Commit, dir string) ([]manifestFile, error) {
	tree, err := commit.Tree()
	if err != nil {
		return nil, err
	}

	dir = strings.Trim(path.Clean("/"+dir), "/")
	if dir != "" {
		tree, err = tree.Tree(dir)
		if err != nil {
			return nil, fmt.Errorf("path %q not found at %s: %w", dir, commit.Hash, err)
		}
	}

	var files []manifestFile
	err = tree.Files().ForEach(func(f *object.File) error {
		if !isYAMLFile(f.Name) || hasHiddenDir(f.Name) {
			return nil
		}
		data, err := f.Contents()
		if err != nil {
			return err
		}
		files = append(files, manifestFile{path: path.Join(dir, f.Name), data: data})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	return files, nil
}

func hasHiddenDir(name string) bool {
	parts := strings.Split(name, "/")
	for _, p := range parts[:len(parts)-1] {
		if strings.HasPrefix(p, ".") {
			return true
		}
	}
	return false
}
