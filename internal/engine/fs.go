package engine

import (
	"os"
	"path/filepath"
)

// FS is the file abstraction the engine reads pipeline text through and
// writes patched text back through. Tests substitute an in-memory
// implementation.
type FS interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	Exists(path string) bool
}

type osFS struct{}

// OSFileSystem returns the FS backed by the real filesystem.
func OSFileSystem() FS {
	return osFS{}
}

func (osFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile replaces the target atomically via a temp file in the same
// directory, so a crash mid-patch never leaves a half-written
// definition.
func (osFS) WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

func (osFS) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
