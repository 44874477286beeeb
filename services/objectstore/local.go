package objectstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/kidogo/core/upload"
)

// LocalStore keeps objects under a directory served at baseURL.
type LocalStore struct {
	dir     string
	baseURL string
}

var _ upload.ObjectStore = (*LocalStore)(nil)

func NewLocalStore(dir, baseURL string) *LocalStore {
	return &LocalStore{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) Put(ctx context.Context, objectPath string, f upload.File, progress upload.ProgressFunc) error {
	p, err := cleanPath(objectPath)
	if err != nil {
		return err
	}
	dst := filepath.Join(s.dir, filepath.FromSlash(p))
	if err = os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrap(err, "creating object directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	defer os.Remove(tmp.Name()) // no-op once renamed

	body := upload.NewProgressReader(f.Body, progress)
	if _, err = io.Copy(tmp, &ctxReader{ctx: ctx, r: body}); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "writing object")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "closing object")
	}
	return errors.Wrap(os.Rename(tmp.Name(), dst), "moving object in place")
}

func (s *LocalStore) URL(_ context.Context, objectPath string) (string, error) {
	p, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}
	return s.baseURL + "/" + p, nil
}

func (s *LocalStore) Delete(_ context.Context, objectPath string) error {
	p, err := cleanPath(objectPath)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(s.dir, filepath.FromSlash(p)))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "deleting object")
	}
	return nil
}

// ctxReader stops reading once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
