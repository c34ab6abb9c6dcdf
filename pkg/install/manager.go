package install

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	agenterrors "github.com/cuemby/promagent/pkg/errors"
	"github.com/cuemby/promagent/pkg/log"
	"github.com/cuemby/promagent/pkg/types"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
)

// Phase is the install state machine position
type Phase string

const (
	PhaseAbsent      Phase = "absent"
	PhaseDownloading Phase = "downloading"
	PhaseVerifying   Phase = "verifying"
	PhaseInstalled   Phase = "installed"
	PhaseFailed      Phase = "failed"
)

// StateStore persists InstalledState
type StateStore interface {
	GetInstalledState() (types.InstalledState, error)
	SaveInstalledState(state types.InstalledState) error
}

// Config configures the install manager
type Config struct {
	// BinDir is where the executables are placed
	BinDir string

	// StagingDir holds downloaded archives until they are verified.
	// Defaults to os.TempDir().
	StagingDir string

	// Daemon is the executable whose path is recorded in InstalledState
	Daemon string

	// Extra are additional executables taken from the same archive
	Extra []string
}

// DefaultConfig returns the standard layout: prometheus and promtool in
// /usr/local/bin
func DefaultConfig() Config {
	return Config{
		BinDir: "/usr/local/bin",
		Daemon: "prometheus",
		Extra:  []string{"promtool"},
	}
}

// Manager ensures the desired daemon version is on disk
type Manager struct {
	cfg     Config
	fetcher Fetcher
	store   StateStore
	logger  zerolog.Logger

	// rename moves a staged executable into place
	rename func(oldpath, newpath string) error

	mu    sync.RWMutex
	phase Phase
}

// NewManager creates an install manager
func NewManager(cfg Config, fetcher Fetcher, store StateStore) *Manager {
	if cfg.StagingDir == "" {
		cfg.StagingDir = os.TempDir()
	}
	if cfg.Daemon == "" {
		cfg.Daemon = "prometheus"
	}
	return &Manager{
		cfg:     cfg,
		fetcher: fetcher,
		store:   store,
		logger:  log.WithComponent("install"),
		rename:  os.Rename,
		phase:   PhaseAbsent,
	}
}

// BinaryPath is where the daemon executable lives
func (m *Manager) BinaryPath() string {
	return filepath.Join(m.cfg.BinDir, m.cfg.Daemon)
}

// Phase returns the current state machine position
func (m *Manager) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

func (m *Manager) setPhase(p Phase) {
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()
}

// State returns the persisted InstalledState
func (m *Manager) State() (types.InstalledState, error) {
	state, err := m.store.GetInstalledState()
	if err != nil {
		return state, agenterrors.New(agenterrors.StateFailed, "load installed state", err)
	}
	return state, nil
}

// EnsureVersion installs version unless it is already installed and
// verified. It reports whether the binary changed. On any failure the
// previously installed binary and InstalledState are left untouched.
func (m *Manager) EnsureVersion(ctx context.Context, version string) (types.InstalledState, bool, error) {
	current, err := m.State()
	if err != nil {
		return current, false, err
	}

	if current.InstalledVersion == version && current.ChecksumVerified {
		if _, statErr := os.Stat(current.BinaryPath); statErr == nil {
			m.setPhase(PhaseInstalled)
			return current, false, nil
		}
		m.logger.Warn().Str("path", current.BinaryPath).Msg("Installed binary is missing, reinstalling")
	}

	logEvent := m.logger.Info().Str("version", version)
	if current.InstalledVersion != "" {
		logEvent = logEvent.Str("from", current.InstalledVersion).Str("direction", direction(current.InstalledVersion, version))
	}
	logEvent.Msg("Installing daemon")

	next, err := m.install(ctx, version)
	if err != nil {
		m.setPhase(PhaseFailed)
		m.logger.Error().Err(err).Str("version", version).Msg("Install failed, previous binary kept")
		return current, false, err
	}

	m.setPhase(PhaseInstalled)
	m.logger.Info().Str("version", version).Str("path", next.BinaryPath).Msg("Daemon installed")
	return next, true, nil
}

func (m *Manager) install(ctx context.Context, version string) (types.InstalledState, error) {
	var state types.InstalledState

	m.setPhase(PhaseDownloading)
	expected, err := m.fetcher.Checksum(ctx, version)
	if err != nil {
		return state, agenterrors.New(agenterrors.DownloadFailed, "fetch checksum", err)
	}

	archivePath, digest, err := m.download(ctx, version)
	if err != nil {
		return state, err
	}
	defer os.Remove(archivePath)

	m.setPhase(PhaseVerifying)
	if !checksumMatches(expected, digest) {
		return state, agenterrors.Newf(agenterrors.IntegrityFailed, "verify archive",
			"checksum mismatch for version %s: expected %s, got %x", version, expected, digest)
	}

	staged, err := m.extract(archivePath)
	defer func() {
		for _, tmp := range staged {
			os.Remove(tmp)
		}
	}()
	if err != nil {
		return state, err
	}

	// The daemon is renamed last so a failure leaves the live executable alone
	order := append(append([]string(nil), m.cfg.Extra...), m.cfg.Daemon)
	backups, err := m.backup(order)
	defer func() {
		for _, b := range backups {
			if b.path != "" {
				os.Remove(b.path)
			}
		}
	}()
	if err != nil {
		return state, err
	}

	for i, name := range order {
		dest := filepath.Join(m.cfg.BinDir, name)
		if err := m.rename(staged[name], dest); err != nil {
			m.restore(backups[:i])
			return state, agenterrors.New(agenterrors.InstallFailed, "replace "+name, err)
		}
		delete(staged, name)
	}

	state = types.InstalledState{
		InstalledVersion: version,
		BinaryPath:       m.BinaryPath(),
		ChecksumVerified: true,
		Checksum:         fmt.Sprintf("%x", digest),
		InstalledAt:      time.Now().UTC(),
	}
	if err := m.store.SaveInstalledState(state); err != nil {
		m.restore(backups)
		return types.InstalledState{}, agenterrors.New(agenterrors.StateFailed, "save installed state", err)
	}
	return state, nil
}

// backupFile is a hard link to an executable as it was before the install
type backupFile struct {
	dest string
	// path is empty when dest did not exist
	path string
}

// backup links every existing executable in names to a hidden file beside it
func (m *Manager) backup(names []string) ([]backupFile, error) {
	out := make([]backupFile, 0, len(names))
	for _, name := range names {
		b := backupFile{dest: filepath.Join(m.cfg.BinDir, name)}
		if _, err := os.Lstat(b.dest); err == nil {
			b.path = filepath.Join(m.cfg.BinDir, "."+name+".previous")
			os.Remove(b.path)
			if err := os.Link(b.dest, b.path); err != nil {
				return out, agenterrors.New(agenterrors.InstallFailed, "back up "+name, err)
			}
		} else if !os.IsNotExist(err) {
			return out, agenterrors.New(agenterrors.InstallFailed, "back up "+name, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// restore puts back the executables an aborted install already replaced
func (m *Manager) restore(backups []backupFile) {
	for i := len(backups) - 1; i >= 0; i-- {
		b := backups[i]
		var err error
		if b.path == "" {
			err = os.Remove(b.dest)
		} else {
			err = os.Rename(b.path, b.dest)
		}
		if err != nil && !os.IsNotExist(err) {
			m.logger.Error().Err(err).Str("path", b.dest).Msg("Failed to roll back executable")
			continue
		}
		m.logger.Warn().Str("path", b.dest).Msg("Rolled back executable")
	}
}

// download spools the archive to the staging dir, hashing as it goes
func (m *Manager) download(ctx context.Context, version string) (string, []byte, error) {
	body, err := m.fetcher.Fetch(ctx, version)
	if err != nil {
		return "", nil, agenterrors.New(agenterrors.DownloadFailed, "fetch archive", err)
	}
	defer body.Close()

	spool, err := os.CreateTemp(m.cfg.StagingDir, "prometheus-*.tar.gz")
	if err != nil {
		return "", nil, agenterrors.New(agenterrors.InstallFailed, "create staging file", err)
	}

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(spool, hasher), body); err != nil {
		spool.Close()
		os.Remove(spool.Name())
		return "", nil, agenterrors.New(agenterrors.DownloadFailed, "read archive", err)
	}
	if err := spool.Close(); err != nil {
		os.Remove(spool.Name())
		return "", nil, agenterrors.New(agenterrors.InstallFailed, "write staging file", err)
	}
	return spool.Name(), hasher.Sum(nil), nil
}

// extract writes every wanted executable to a temp file beside its final
// path and returns name → temp path. Temp files are fsynced and executable.
func (m *Manager) extract(archivePath string) (map[string]string, error) {
	staged := make(map[string]string)

	wanted := map[string]bool{m.cfg.Daemon: true}
	for _, name := range m.cfg.Extra {
		wanted[name] = true
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return staged, agenterrors.New(agenterrors.InstallFailed, "open archive", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return staged, agenterrors.New(agenterrors.IntegrityFailed, "decompress archive", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return staged, agenterrors.New(agenterrors.IntegrityFailed, "read archive", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := path.Base(hdr.Name)
		if !wanted[name] || staged[name] != "" {
			continue
		}

		tmp, err := m.stage(name, tr)
		if tmp != "" {
			staged[name] = tmp
		}
		if err != nil {
			return staged, err
		}
	}

	for name := range wanted {
		if staged[name] == "" {
			return staged, agenterrors.Newf(agenterrors.IntegrityFailed, "read archive", "archive does not contain %s", name)
		}
	}
	return staged, nil
}

func (m *Manager) stage(name string, r io.Reader) (string, error) {
	tmp, err := os.CreateTemp(m.cfg.BinDir, "."+name+"-*")
	if err != nil {
		return "", agenterrors.New(agenterrors.InstallFailed, "stage "+name, err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return tmp.Name(), agenterrors.New(agenterrors.IntegrityFailed, "extract "+name, err)
	}
	if err := tmp.Chmod(0755); err != nil {
		tmp.Close()
		return tmp.Name(), agenterrors.New(agenterrors.InstallFailed, "chmod "+name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return tmp.Name(), agenterrors.New(agenterrors.InstallFailed, "sync "+name, err)
	}
	if err := tmp.Close(); err != nil {
		return tmp.Name(), agenterrors.New(agenterrors.InstallFailed, "close "+name, err)
	}
	return tmp.Name(), nil
}

// direction labels a version change for logs
func direction(from, to string) string {
	a, errA := semver.NewVersion(from)
	b, errB := semver.NewVersion(to)
	if errA != nil || errB != nil {
		return "change"
	}
	switch {
	case b.GreaterThan(a):
		return "upgrade"
	case b.LessThan(a):
		return "downgrade"
	}
	return "reinstall"
}
