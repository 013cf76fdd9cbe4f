// Package local writes exported result documents below a directory on disk.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Config points the store at its directory.
type Config struct {
	BaseDir string `mapstructure:"base_dir"`
}

// BlobStore implements export.BlobStore on the local filesystem. Keys are
// resolved through an os.Root so nothing lands outside BaseDir.
type BlobStore struct {
	dir  string
	root *os.Root
}

// New creates BaseDir when missing and checks that it accepts writes.
func New(cfg Config) (*BlobStore, error) {
	dir := strings.TrimSpace(cfg.BaseDir)
	if dir == "" {
		return nil, errors.New("local: base_dir is required")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("local: prepare %s: %w", dir, err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("local: open %s: %w", dir, err)
	}
	s := &BlobStore{dir: dir, root: root}
	if err := s.writeFile(".probe-"+uuid.NewString(), nil); err != nil {
		_ = root.Close()
		return nil, fmt.Errorf("local: %s is not writable: %w", dir, err)
	}
	return s, nil
}

// Close releases the directory handle.
func (s *BlobStore) Close() error {
	return s.root.Close()
}

// PutObject replaces key with data and returns a file:// URI. Readers never
// observe a partial document.
func (s *BlobStore) PutObject(_ context.Context, key string, _ string, data []byte) (string, error) {
	key = filepath.Clean(filepath.FromSlash(strings.TrimLeft(strings.TrimSpace(key), "/")))
	if key == "." || key == "" {
		return "", errors.New("local: empty key")
	}
	if dir := filepath.Dir(key); dir != "." {
		if err := s.root.MkdirAll(dir, 0o750); err != nil {
			return "", fmt.Errorf("local: mkdir for %s: %w", key, err)
		}
	}
	tmp := filepath.Join(filepath.Dir(key), ".put-"+uuid.NewString())
	if err := s.writeFile(tmp, data); err != nil {
		return "", fmt.Errorf("local: write %s: %w", key, err)
	}
	if err := s.root.Rename(tmp, key); err != nil {
		_ = s.root.Remove(tmp)
		return "", fmt.Errorf("local: publish %s: %w", key, err)
	}
	return "file://" + filepath.Join(s.dir, key), nil
}

// writeFile writes name in full. A nil data probes and removes the file.
func (s *BlobStore) writeFile(name string, data []byte) error {
	f, err := s.root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fs.FileMode(0o640))
	if err != nil {
		return err
	}
	_, werr := f.Write(data)
	if err := errors.Join(werr, f.Close()); err != nil || data == nil {
		return errors.Join(err, s.root.Remove(name))
	}
	return nil
}
