// Package objectstore provides the upload.ObjectStore backends: local filesystem, S3 and GCS.
package objectstore

import (
	"context"
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/kidogo/core"
	"github.com/trezcool/kidogo/core/upload"
)

var ErrInvalidPath = errors.New("invalid object path")

// New returns the ObjectStore selected by conf.Storage.Backend.
func New(ctx context.Context, conf *core.Config) (upload.ObjectStore, error) {
	switch conf.Storage.Backend {
	case core.StorageLocal:
		return NewLocalStore(conf.Storage.LocalDir, conf.Storage.PublicBaseURL), nil
	case core.StorageS3:
		return NewS3Store(ctx, conf)
	case core.StorageGCS:
		return NewGCSStore(ctx, conf)
	}
	return nil, errors.Errorf("unsupported storage backend %q", conf.Storage.Backend)
}

// cleanPath normalizes an object path and rejects paths escaping the store root.
func cleanPath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, `\`, "/"))
	if p == "" {
		return "", ErrInvalidPath
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+p), "/")
	if cleaned == "" || cleaned != strings.TrimPrefix(p, "/") || strings.HasPrefix(cleaned, "..") {
		return "", errors.Wrapf(ErrInvalidPath, "%q", p)
	}
	return cleaned, nil
}
