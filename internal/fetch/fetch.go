// Package fetch downloads GitHub repositories into a local cache so the
// indexer can work on remote codebases the same way it works on local ones.
package fetch

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"codegraph/util"
)

// Fetcher downloads and caches repository snapshots.
type Fetcher struct {
	cacheDir string
	client   *http.Client
	logger   *slog.Logger
}

// New creates a Fetcher. An empty cacheDir selects the default cache
// location.
func New(cacheDir string, logger *slog.Logger) (*Fetcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheDir == "" {
		var err error
		cacheDir, err = CacheDir()
		if err != nil {
			return nil, fmt.Errorf("cache dir: %w", err)
		}
	}
	return &Fetcher{
		cacheDir: cacheDir,
		client:   &http.Client{Timeout: 5 * time.Minute},
		logger:   logger,
	}, nil
}

// CacheDir returns the repository cache directory.
// Priority: $CODEGRAPH_CACHE_DIR -> $XDG_CACHE_HOME/codegraph/repos -> ~/.cache/codegraph/repos
func CacheDir() (string, error) {
	if dir := os.Getenv("CODEGRAPH_CACHE_DIR"); dir != "" {
		return filepath.Join(dir, "repos"), nil
	}
	if runtime.GOOS != "windows" {
		if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
			return filepath.Join(xdg, "codegraph", "repos"), nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home directory: %w", err)
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(home, "AppData", "Local", "codegraph", "repos"), nil
	}
	return filepath.Join(home, ".cache", "codegraph", "repos"), nil
}

// Fetch ensures a local copy of the repository named by rawURL and returns
// its directory. A cached snapshot of the same repo and ref is reused without
// touching the network.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	repo, err := ParseRepoURL(rawURL)
	if err != nil {
		return "", err
	}
	if repo.Ref == "" {
		ref, err := f.resolveDefaultBranch(ctx, repo)
		if err != nil {
			return "", fmt.Errorf("resolve default branch for %s/%s: %w", repo.Owner, repo.Name, err)
		}
		repo.Ref = ref
	}

	destDir := filepath.Join(f.cacheDir, repo.Owner, repo.Name, repo.Ref)
	if meta, err := ReadMetadata(destDir); err == nil {
		f.logger.Debug("using cached repository", "repo", repo.Slug(), "ref", repo.Ref, "fetched_at", meta.FetchedAt)
		return destDir, nil
	}

	f.logger.Info("fetching repository", "repo", repo.Slug(), "ref", repo.Ref)
	tmp, err := os.CreateTemp("", "codegraph-repo-*")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := f.download(ctx, repo.TarballURL(), tmp); err != nil {
		return "", err
	}
	digest, err := extractTarball(tmp.Name(), destDir)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", repo.Slug(), err)
	}
	meta := &Metadata{
		URL:       rawURL,
		Owner:     repo.Owner,
		Name:      repo.Name,
		Ref:       repo.Ref,
		Digest:    digest,
		FetchedAt: time.Now().UTC(),
	}
	if err := WriteMetadata(destDir, meta); err != nil {
		return "", err
	}
	return destDir, nil
}

// download fetches url into dest with retries and quadratic backoff.
func (f *Fetcher) download(ctx context.Context, url string, dest *os.File) error {
	const maxRetries = 3
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(attempt*attempt) * time.Second
			f.logger.Warn("retrying download", "attempt", attempt, "backoff", backoff, "err", lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
			continue
		}
		if _, err := dest.Seek(0, io.SeekStart); err != nil {
			resp.Body.Close()
			return err
		}
		if err := dest.Truncate(0); err != nil {
			resp.Body.Close()
			return err
		}
		_, err = io.Copy(dest, resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("download failed after %d attempts: %w", maxRetries, lastErr)
}

// resolveDefaultBranch asks the GitHub API which branch HEAD points at.
func (f *Fetcher) resolveDefaultBranch(ctx context.Context, repo Repo) (string, error) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s", repo.Owner, repo.Name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("GitHub API returned %d: %s", resp.StatusCode, string(body))
	}
	var info struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode GitHub response: %w", err)
	}
	if info.DefaultBranch == "" {
		return "", fmt.Errorf("no default branch in GitHub response")
	}
	return info.DefaultBranch, nil
}

// extractTarball unpacks a GitHub tar.gz into destDir, stripping the
// single top-level directory GitHub wraps snapshots in. It returns the hex
// SHA-256 of the archive.
func extractTarball(archivePath, destDir string) (string, error) {
	digest, err := util.FileDigest(archivePath)
	if err != nil {
		return "", err
	}

	file, err := os.Open(archivePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	gzr, err := gzip.NewReader(file)
	if err != nil {
		return "", fmt.Errorf("gzip: %w", err)
	}
	defer gzr.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("tar: %w", err)
		}
		rel := stripTopLevel(header.Name)
		if rel == "" || !filepath.IsLocal(rel) {
			continue
		}
		target := filepath.Join(destDir, filepath.FromSlash(rel))

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return "", err
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, header.FileInfo().Mode().Perm())
			if err != nil {
				return "", err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return "", err
			}
			if err := out.Close(); err != nil {
				return "", err
			}
		}
	}
	return digest, nil
}

func stripTopLevel(name string) string {
	name = strings.TrimPrefix(name, "./")
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return ""
}
