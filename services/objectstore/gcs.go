package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"

	"github.com/trezcool/kidogo/core"
	"github.com/trezcool/kidogo/core/upload"
)

// GCSStore stores objects in a Google Cloud Storage bucket.
// Credentials come from the environment (GOOGLE_APPLICATION_CREDENTIALS or STORAGE_EMULATOR_HOST).
type GCSStore struct {
	client    *storage.Client
	bucket    string
	urlExpiry time.Duration
}

var _ upload.ObjectStore = (*GCSStore)(nil)

func NewGCSStore(ctx context.Context, conf *core.Config) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "creating gcs client")
	}
	return &GCSStore{client: client, bucket: conf.Storage.Bucket, urlExpiry: conf.Storage.URLExpiry}, nil
}

func (s *GCSStore) Close() error { return s.client.Close() }

func (s *GCSStore) Put(ctx context.Context, objectPath string, f upload.File, progress upload.ProgressFunc) error {
	name, err := cleanPath(objectPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = f.ContentType
	if progress != nil {
		w.ProgressFunc = func(n int64) { progress(n) }
	}
	if _, err = io.Copy(w, f.Body); err != nil {
		cancel() // aborts the upload
		_ = w.Close()
		return errors.Wrapf(err, "uploading %s", name)
	}
	return errors.Wrapf(w.Close(), "uploading %s", name)
}

func (s *GCSStore) URL(_ context.Context, objectPath string) (string, error) {
	name, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}
	if s.urlExpiry > 0 {
		u, err := s.client.Bucket(s.bucket).SignedURL(name, &storage.SignedURLOptions{
			Scheme:  storage.SigningSchemeV4,
			Method:  "GET",
			Expires: time.Now().Add(s.urlExpiry),
		})
		return u, errors.Wrapf(err, "signing %s", name)
	}
	return publicGCSURL(s.bucket, name), nil
}

func (s *GCSStore) Delete(ctx context.Context, objectPath string) error {
	name, err := cleanPath(objectPath)
	if err != nil {
		return err
	}
	err = s.client.Bucket(s.bucket).Object(name).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return errors.Wrapf(err, "deleting %s", name)
	}
	return nil
}

func publicGCSURL(bucket, name string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, (&url.URL{Path: name}).EscapedPath())
}
