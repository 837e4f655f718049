package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore writes documents under a single directory on disk.
type LocalStore struct {
	root string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		dir = "uploads"
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{root: abs}, nil
}

// Put writes r to root/key through a temp file so readers never see a
// partial document. It returns the absolute path.
func (s *LocalStore) Put(_ context.Context, key string, r io.Reader, _ string) (string, error) {
	dest, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create document dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close document: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("store document: %w", err)
	}
	return dest, nil
}

func (s *LocalStore) Get(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return data, nil
}

func (s *LocalStore) resolve(key string) (string, error) {
	dest := filepath.Join(s.root, filepath.Clean("/"+key))
	if !strings.HasPrefix(dest, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid document key %q", key)
	}
	return dest, nil
}

var _ Blobs = (*LocalStore)(nil)
