package service

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// stageFile writes data to a hidden temp file beside path and fsyncs it. The
// caller renames it into place or removes it.
func stageFile(path string, data []byte, perm os.FileMode) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return "", fmt.Errorf("creating temporary file for %s: %w", path, err)
	}
	name := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return "", fmt.Errorf("writing temporary file for %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(name)
		return "", fmt.Errorf("chmod temporary file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return "", fmt.Errorf("syncing temporary file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("closing temporary file for %s: %w", path, err)
	}
	return name, nil
}

// commitFile renames a staged file over path
func commitFile(staged, path string) error {
	if err := os.Rename(staged, path); err != nil {
		os.Remove(staged)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// writeFileAtomic replaces path with data so that a concurrent reader sees
// either the old or the new content, never a mix
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	staged, err := stageFile(path, data, perm)
	if err != nil {
		return err
	}
	return commitFile(staged, path)
}

// readExisting returns the current content of path, or nil if it is absent
func readExisting(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// fileSnapshot remembers what a file held before it was replaced
type fileSnapshot struct {
	path    string
	data    []byte
	existed bool
}

func (s fileSnapshot) unchanged(data []byte) bool {
	return s.existed && bytes.Equal(s.data, data)
}

// restore puts the previous content back, or removes the file if it did
// not exist
func (s fileSnapshot) restore(perm os.FileMode) error {
	if !s.existed {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return writeFileAtomic(s.path, s.data, perm)
}
