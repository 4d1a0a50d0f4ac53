package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gitsync/internal/api"
	"gitsync/internal/resource"
	"gitsync/pkg/logging"
)

//go:generate mockgen -source=source.go -destination=mock/mock_fetcher.go -package=mock

// Fetcher produces the desired state of an application.
type Fetcher interface {
	// FetchDesired reads the manifests at app.Source. On InvalidManifest the
	// returned snapshot holds the documents that did parse.
	FetchDesired(ctx context.Context, app api.Application) (*Snapshot, error)
}

// Snapshot is the desired state at one revision.
type Snapshot struct {
	Revision  string
	Resources []resource.Desired
	FetchedAt time.Time
}

// Keys returns the key of every resource in snapshot order.
func (s *Snapshot) Keys() []api.ResourceKey {
	keys := make([]api.ResourceKey, len(s.Resources))
	for i, r := range s.Resources {
		keys[i] = r.Key
	}
	return keys
}

// DirRevisionPrefix marks revisions computed from directory content.
const DirRevisionPrefix = "dir:"

// DirSource serves manifests from a plain local directory. Its revision is a
// digest of the YAML files it contains.
type DirSource struct{}

func NewDirSource() *DirSource {
	return &DirSource{}
}

// LocalPath returns the filesystem path a RepoURL points at.
func LocalPath(repoURL string) string {
	return strings.TrimPrefix(repoURL, "file://")
}

func (s *DirSource) FetchDesired(ctx context.Context, app api.Application) (*Snapshot, error) {
	dir := filepath.Join(LocalPath(app.Source.RepoURL), filepath.FromSlash(app.Source.Path))
	unavailable := func(err error) error {
		return &api.SourceError{
			Reason:   api.SourceUnavailable,
			RepoURL:  app.Source.RepoURL,
			Revision: app.Source.TargetRevision,
			Path:     app.Source.Path,
			Err:      err,
		}
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, unavailable(err)
	}
	if !info.IsDir() {
		return nil, unavailable(fmt.Errorf("%s is not a directory", dir))
	}

	files, err := readDirFiles(ctx, dir, app.Source.Path)
	if err != nil {
		return nil, unavailable(err)
	}
	revision := directoryRevision(files)

	switch rev := app.Source.TargetRevision; {
	case rev == "" || rev == "HEAD" || rev == revision:
	case strings.HasPrefix(rev, DirRevisionPrefix):
		return nil, unavailable(fmt.Errorf("revision %s is no longer present, directory is at %s", rev, revision))
	default:
		return nil, unavailable(fmt.Errorf("directory sources only serve their current content, not revision %q", rev))
	}

	logging.Debug("Source", "Read %d manifest files from %s at %s", len(files), dir, revision)
	snap, err := buildSnapshot(app, revision, files)
	snap.FetchedAt = time.Now()
	return snap, err
}

func readDirFiles(ctx context.Context, dir, prefix string) ([]manifestFile, error) {
	var files []manifestFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !isYAMLFile(path) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, manifestFile{
			path: filepath.ToSlash(filepath.Join(prefix, rel)),
			data: string(data),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	return files, nil
}

func directoryRevision(files []manifestFile) string {
	h := sha256.New()
	for _, f := range files {
		h.Write([]byte(f.path))
		h.Write([]byte{0})
		h.Write([]byte(f.data))
		h.Write([]byte{0})
	}
	return DirRevisionPrefix + hex.EncodeToString(h.Sum(nil))[:12]
}

// MultiSource routes each application to the directory or git fetcher based
// on the shape of its RepoURL.
type MultiSource struct {
	dir Fetcher
	git Fetcher
}

func NewMultiSource(dir, git Fetcher) *MultiSource {
	return &MultiSource{dir: dir, git: git}
}

func (m *MultiSource) FetchDesired(ctx context.Context, app api.Application) (*Snapshot, error) {
	if IsDirectorySource(app.Source.RepoURL) {
		return m.dir.FetchDesired(ctx, app)
	}
	return m.git.FetchDesired(ctx, app)
}

// IsDirectorySource reports whether repoURL is served by DirSource: file://
// URLs and local paths that are not git repositories.
func IsDirectorySource(repoURL string) bool {
	if strings.HasPrefix(repoURL, "file://") {
		return true
	}
	if isRemoteURL(repoURL) {
		return false
	}
	if _, err := os.Stat(filepath.Join(repoURL, ".git")); err == nil {
		return false
	}
	if _, err := os.Stat(filepath.Join(repoURL, "HEAD")); err == nil {
		// bare repository
		if _, err := os.Stat(filepath.Join(repoURL, "objects")); err == nil {
			return false
		}
	}
	return true
}

func isRemoteURL(repoURL string) bool {
	return strings.Contains(repoURL, "://") || strings.HasPrefix(repoURL, "git@")
}
