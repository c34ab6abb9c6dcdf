package install

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	agenterrors "github.com/cuemby/promagent/pkg/errors"
	"github.com/cuemby/promagent/pkg/types"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildArchive returns a release-shaped tarball holding the given files
func buildArchive(t *testing.T, version string, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	dir := "prometheus-" + version + ".linux-amd64/"
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: dir, Typeflag: tar.TypeDir, Mode: 0755}))
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     dir + name,
			Typeflag: tar.TypeReg,
			Mode:     0755,
			Size:     int64(len(body)),
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

type fakeFetcher struct {
	archives  map[string][]byte
	checksums map[string]string
	fetchErr  error
	fetches   int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		archives:  make(map[string][]byte),
		checksums: make(map[string]string),
	}
}

func (f *fakeFetcher) publish(version string, archive []byte) {
	f.archives[version] = archive
	f.checksums[version] = digest(archive)
}

func (f *fakeFetcher) Fetch(_ context.Context, version string) (io.ReadCloser, error) {
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	a, ok := f.archives[version]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(a)), nil
}

func (f *fakeFetcher) Checksum(_ context.Context, version string) (string, error) {
	c, ok := f.checksums[version]
	if !ok {
		return "", errors.New("not found")
	}
	return c, nil
}

type memStore struct {
	state   types.InstalledState
	saveErr error
	saves   int
}

func (m *memStore) GetInstalledState() (types.InstalledState, error) { return m.state, nil }

func (m *memStore) SaveInstalledState(s types.InstalledState) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.state = s
	return nil
}

func newTestManager(t *testing.T, f Fetcher, s StateStore) (*Manager, string) {
	t.Helper()
	binDir := t.TempDir()
	cfg := DefaultConfig()
	cfg.BinDir = binDir
	cfg.StagingDir = t.TempDir()
	return NewManager(cfg, f, s), binDir
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestEnsureVersionFreshInstall(t *testing.T) {
	f := newFakeFetcher()
	f.publish("2.53.0", buildArchive(t, "2.53.0", map[string]string{
		"prometheus": "daemon-2.53.0",
		"promtool":   "tool-2.53.0",
		"LICENSE":    "apache",
	}))
	store := &memStore{}
	m, binDir := newTestManager(t, f, store)

	assert.Equal(t, PhaseAbsent, m.Phase())

	state, changed, err := m.EnsureVersion(context.Background(), "2.53.0")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, PhaseInstalled, m.Phase())

	assert.Equal(t, "2.53.0", state.InstalledVersion)
	assert.True(t, state.ChecksumVerified)
	assert.Equal(t, filepath.Join(binDir, "prometheus"), state.BinaryPath)
	assert.Equal(t, state, store.state)

	assert.Equal(t, "daemon-2.53.0", readFile(t, filepath.Join(binDir, "prometheus")))
	assert.Equal(t, "tool-2.53.0", readFile(t, filepath.Join(binDir, "promtool")))
	_, err = os.Stat(filepath.Join(binDir, "LICENSE"))
	assert.True(t, os.IsNotExist(err))

	info, err := os.Stat(filepath.Join(binDir, "prometheus"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
}

func TestEnsureVersionNoopWhenInstalled(t *testing.T) {
	f := newFakeFetcher()
	f.publish("2.53.0", buildArchive(t, "2.53.0", map[string]string{"prometheus": "a", "promtool": "b"}))
	store := &memStore{}
	m, _ := newTestManager(t, f, store)

	_, _, err := m.EnsureVersion(context.Background(), "2.53.0")
	require.NoError(t, err)

	_, changed, err := m.EnsureVersion(context.Background(), "2.53.0")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, f.fetches)
	assert.Equal(t, 1, store.saves)
}

func TestEnsureVersionReinstallsMissingBinary(t *testing.T) {
	f := newFakeFetcher()
	f.publish("2.53.0", buildArchive(t, "2.53.0", map[string]string{"prometheus": "a", "promtool": "b"}))
	store := &memStore{}
	m, binDir := newTestManager(t, f, store)

	_, _, err := m.EnsureVersion(context.Background(), "2.53.0")
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(binDir, "prometheus")))

	_, changed, err := m.EnsureVersion(context.Background(), "2.53.0")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, f.fetches)
}

func TestEnsureVersionChecksumMismatchKeepsPrevious(t *testing.T) {
	f := newFakeFetcher()
	f.publish("2.53.0", buildArchive(t, "2.53.0", map[string]string{"prometheus": "old", "promtool": "old-tool"}))
	f.publish("2.54.0", buildArchive(t, "2.54.0", map[string]string{"prometheus": "new", "promtool": "new-tool"}))
	f.checksums["2.54.0"] = digest([]byte("something else"))

	store := &memStore{}
	m, binDir := newTestManager(t, f, store)

	before, _, err := m.EnsureVersion(context.Background(), "2.53.0")
	require.NoError(t, err)

	state, changed, err := m.EnsureVersion(context.Background(), "2.54.0")
	require.Error(t, err)
	assert.True(t, agenterrors.Is(err, agenterrors.IntegrityFailed))
	assert.False(t, changed)
	assert.Equal(t, before, state)
	assert.Equal(t, before, store.state)
	assert.Equal(t, PhaseFailed, m.Phase())

	assert.Equal(t, "old", readFile(t, filepath.Join(binDir, "prometheus")))
	assert.Equal(t, "old-tool", readFile(t, filepath.Join(binDir, "promtool")))

	// Spool and staged files are cleaned up
	entries, err := os.ReadDir(m.cfg.StagingDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	entries, err = os.ReadDir(binDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestEnsureVersionUpgrade(t *testing.T) {
	f := newFakeFetcher()
	f.publish("2.53.0", buildArchive(t, "2.53.0", map[string]string{"prometheus": "old", "promtool": "old-tool"}))
	f.publish("2.54.0", buildArchive(t, "2.54.0", map[string]string{"prometheus": "new", "promtool": "new-tool"}))
	store := &memStore{}
	m, binDir := newTestManager(t, f, store)

	_, _, err := m.EnsureVersion(context.Background(), "2.53.0")
	require.NoError(t, err)

	state, changed, err := m.EnsureVersion(context.Background(), "2.54.0")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "2.54.0", state.InstalledVersion)
	assert.Equal(t, "new", readFile(t, filepath.Join(binDir, "prometheus")))
	assert.Equal(t, "new-tool", readFile(t, filepath.Join(binDir, "promtool")))

	// Backup links are gone once the install succeeded
	_, err = os.Stat(filepath.Join(binDir, ".prometheus.previous"))
	assert.True(t, os.IsNotExist(err))
}

func TestEnsureVersionDownloadFailure(t *testing.T) {
	f := newFakeFetcher()
	f.checksums["2.53.0"] = digest([]byte("x"))
	f.fetchErr = errors.New("connection reset")
	store := &memStore{}
	m, _ := newTestManager(t, f, store)

	_, changed, err := m.EnsureVersion(context.Background(), "2.53.0")
	require.Error(t, err)
	assert.False(t, changed)
	assert.True(t, agenterrors.Is(err, agenterrors.DownloadFailed))
	assert.True(t, agenterrors.Retryable(err))
	assert.Zero(t, store.saves)
}

func TestEnsureVersionArchiveMissingBinary(t *testing.T) {
	f := newFakeFetcher()
	f.publish("2.53.0", buildArchive(t, "2.53.0", map[string]string{"prometheus": "a"}))
	store := &memStore{}
	m, binDir := newTestManager(t, f, store)

	_, _, err := m.EnsureVersion(context.Background(), "2.53.0")
	require.Error(t, err)
	assert.True(t, agenterrors.Is(err, agenterrors.IntegrityFailed))

	entries, err := os.ReadDir(binDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEnsureVersionStoreFailure(t *testing.T) {
	f := newFakeFetcher()
	f.publish("2.53.0", buildArchive(t, "2.53.0", map[string]string{"prometheus": "a", "promtool": "b"}))
	store := &memStore{saveErr: errors.New("disk full")}
	m, _ := newTestManager(t, f, store)

	_, changed, err := m.EnsureVersion(context.Background(), "2.53.0")
	require.Error(t, err)
	assert.False(t, changed)
	assert.True(t, agenterrors.Is(err, agenterrors.StateFailed))

	// Nothing was installed before, so nothing is left behind
	entries, err := os.ReadDir(m.cfg.BinDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEnsureVersionDaemonRenameFailureRestoresTool(t *testing.T) {
	f := newFakeFetcher()
	f.publish("2.53.0", buildArchive(t, "2.53.0", map[string]string{"prometheus": "old", "promtool": "old-tool"}))
	f.publish("2.54.0", buildArchive(t, "2.54.0", map[string]string{"prometheus": "new", "promtool": "new-tool"}))
	store := &memStore{}
	m, binDir := newTestManager(t, f, store)

	before, _, err := m.EnsureVersion(context.Background(), "2.53.0")
	require.NoError(t, err)

	daemon := filepath.Join(binDir, "prometheus")
	var renamed []string
	m.rename = func(oldpath, newpath string) error {
		if newpath == daemon {
			return errors.New("text file busy")
		}
		renamed = append(renamed, newpath)
		return os.Rename(oldpath, newpath)
	}

	state, changed, err := m.EnsureVersion(context.Background(), "2.54.0")
	require.Error(t, err)
	assert.True(t, agenterrors.Is(err, agenterrors.InstallFailed))
	assert.False(t, changed)
	assert.Equal(t, before, state)
	assert.Equal(t, before, store.state)

	// promtool was replaced first and must be back at the old version
	assert.Equal(t, []string{filepath.Join(binDir, "promtool")}, renamed)
	assert.Equal(t, "old-tool", readFile(t, filepath.Join(binDir, "promtool")))
	assert.Equal(t, "old", readFile(t, daemon))

	entries, err := os.ReadDir(binDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"prometheus", "promtool"}, names)
}

func TestEnsureVersionFreshInstallRenameFailureRemovesTool(t *testing.T) {
	f := newFakeFetcher()
	f.publish("2.53.0", buildArchive(t, "2.53.0", map[string]string{"prometheus": "a", "promtool": "b"}))
	store := &memStore{}
	m, binDir := newTestManager(t, f, store)

	m.rename = func(oldpath, newpath string) error {
		if filepath.Base(newpath) == "prometheus" {
			return errors.New("permission denied")
		}
		return os.Rename(oldpath, newpath)
	}

	_, _, err := m.EnsureVersion(context.Background(), "2.53.0")
	require.Error(t, err)
	assert.Zero(t, store.saves)

	entries, err := os.ReadDir(binDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDirection(t *testing.T) {
	tests := []struct {
		from, to string
		want     string
	}{
		{"2.53.0", "2.54.1", "upgrade"},
		{"2.54.1", "2.53.0", "downgrade"},
		{"2.53.0", "2.53.0", "reinstall"},
		{"garbage", "2.53.0", "change"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, direction(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}
