package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/teranos/reel/errors"
)

// LocalStore keeps objects under a root directory.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve storage dir %s", root)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create storage dir %s", abs)
	}
	return &LocalStore{root: abs}, nil
}

// Root returns the absolute root directory
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) Put(ctx context.Context, localPath, key string) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create object directory")
	}
	if err := CopyFile(ctx, localPath, dst); err != nil {
		return "", errors.Wrapf(err, "failed to store %s", key)
	}
	return LocalScheme + "://" + key, nil
}

func (s *LocalStore) Fetch(ctx context.Context, ref, dst string) error {
	path, err := s.path(ref)
	if err != nil {
		return err
	}
	return CopyFile(ctx, path, dst)
}

func (s *LocalStore) Locate(_ context.Context, ref string) (Location, error) {
	path, err := s.path(ref)
	if err != nil {
		return Location{}, err
	}
	if _, err := os.Stat(path); err != nil {
		return Location{}, errors.Wrapf(errors.ErrNotFound, "object %s", ref)
	}
	return Location{Path: path}, nil
}

func (s *LocalStore) Owns(ref string) bool {
	scheme, _, ok := splitRef(ref)
	return ok && scheme == LocalScheme
}

func (s *LocalStore) path(ref string) (string, error) {
	scheme, key, ok := splitRef(ref)
	if !ok || scheme != LocalScheme {
		return "", errors.Wrapf(ErrUnknownReference, "%s", ref)
	}
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// CopyFile copies src to dst, honouring ctx between chunks.
func CopyFile(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", dst)
	}

	if _, err := io.Copy(out, &ctxReader{ctx: ctx, r: in}); err != nil {
		out.Close()
		os.Remove(dst)
		return errors.Wrapf(err, "failed to copy %s", src)
	}
	return out.Close()
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
