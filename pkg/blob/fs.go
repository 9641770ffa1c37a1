package blob

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// FSStore writes blobs below a local directory.
type FSStore struct {
	dir string
}

func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "fern-blobs")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create blob dir %s", dir)
	}
	return &FSStore{dir: dir}, nil
}

func (s *FSStore) Put(ctx context.Context, key string, data []byte, _ string) (string, error) {
	path := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create blob directory")
	}

	// rename is atomic, so readers never see a partial blob
	tmp, err := os.CreateTemp(filepath.Dir(path), ".blob-*")
	if err != nil {
		return "", errors.Wrap(err, "failed to create temp blob")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", errors.Wrap(err, "failed to write blob")
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "failed to close blob")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", errors.Wrap(err, "failed to move blob into place")
	}

	return "file://" + filepath.ToSlash(path), nil
}

func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, filepath.FromSlash(key)))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read blob %s", key)
	}
	return data, nil
}

func (s *FSStore) Close() error {
	return nil
}
