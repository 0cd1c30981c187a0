package fetch

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRepoURL(t *testing.T) {
	tests := []struct {
		in      string
		want    Repo
		wantErr bool
	}{
		{in: "https://github.com/psf/requests", want: Repo{Owner: "psf", Name: "requests"}},
		{in: "github.com/psf/requests", want: Repo{Owner: "psf", Name: "requests"}},
		{in: "psf/requests", want: Repo{Owner: "psf", Name: "requests"}},
		{in: "psf/requests@v2.31.0", want: Repo{Owner: "psf", Name: "requests", Ref: "v2.31.0"}},
		{in: "https://github.com/psf/requests/tree/main", want: Repo{Owner: "psf", Name: "requests", Ref: "main"}},
		{in: "https://github.com/psf/requests.git", want: Repo{Owner: "psf", Name: "requests"}},
		{in: "requests", wantErr: true},
		{in: "https://github.com/psf/requests/pull/123", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRepoURL(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTarballURL(t *testing.T) {
	r := Repo{Owner: "psf", Name: "requests", Ref: "main"}
	assert.Equal(t, "https://codeload.github.com/psf/requests/tar.gz/main", r.TarballURL())
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://github.com/psf/requests"))
	assert.True(t, IsRemote("github.com/psf/requests"))
	assert.False(t, IsRemote("./local/dir"))
	assert.False(t, IsRemote("/abs/path"))
}

func TestCacheDirEnvOverride(t *testing.T) {
	t.Setenv("CODEGRAPH_CACHE_DIR", "/tmp/cgtest")
	dir, err := CacheDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp/cgtest", "repos"), dir)
}

func TestMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()
	meta := &Metadata{
		URL:       "github.com/psf/requests",
		Owner:     "psf",
		Name:      "requests",
		Ref:       "main",
		Digest:    "abc123",
		FetchedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, WriteMetadata(dir, meta))

	got, err := ReadMetadata(dir)
	require.NoError(t, err)
	assert.Equal(t, meta, got)

	_, err = ReadMetadata(t.TempDir())
	require.Error(t, err, "an unmarked directory is not a snapshot")
}

// makeTarball builds a gzipped tar with a GitHub-style top-level directory.
func makeTarball(t *testing.T, files map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: "repo-main/" + name,
			Mode: 0o644,
			Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	path := filepath.Join(t.TempDir(), "snapshot.tar.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestExtractTarball(t *testing.T) {
	archive := makeTarball(t, map[string]string{
		"main.py":     "print('hi')\n",
		"pkg/util.py": "pass\n",
	})
	dest := filepath.Join(t.TempDir(), "out")

	digest, err := extractTarball(archive, dest)
	require.NoError(t, err)
	assert.Len(t, digest, 64)

	content, err := os.ReadFile(filepath.Join(dest, "main.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", string(content))

	_, err = os.Stat(filepath.Join(dest, "pkg", "util.py"))
	require.NoError(t, err)
}

func TestStripTopLevel(t *testing.T) {
	assert.Equal(t, "main.py", stripTopLevel("repo-abc123/main.py"))
	assert.Equal(t, "pkg/util.py", stripTopLevel("./repo/pkg/util.py"))
	assert.Equal(t, "", stripTopLevel("repo-abc123"))
}
