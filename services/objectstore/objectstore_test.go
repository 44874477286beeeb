package objectstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kidogo/core"
	"github.com/trezcool/kidogo/core/upload"
)

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "children/2024/05/a.png", want: "children/2024/05/a.png"},
		{in: "/gallery/b.jpg", want: "gallery/b.jpg"},
		{in: `documents\c.pdf`, want: "documents/c.pdf"},
		{in: "", wantErr: true},
		{in: "../etc/passwd", wantErr: true},
		{in: "a/../../b", wantErr: true},
		{in: "a//b", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := cleanPath(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidPath), "err = %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewLocalStore(dir, "http://localhost:8000/media/")

	var reports []int64
	content := strings.Repeat("x", 10_000)
	err := store.Put(ctx, "children/2024/05/a.png", upload.File{Name: "a.png", Size: int64(len(content)), Body: strings.NewReader(content)},
		func(n int64) { reports = append(reports, n) })
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "children", "2024", "05", "a.png"))
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
	require.NotEmpty(t, reports)
	assert.Equal(t, int64(len(content)), reports[len(reports)-1])

	u, err := store.URL(ctx, "children/2024/05/a.png")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/media/children/2024/05/a.png", u)

	require.NoError(t, store.Delete(ctx, "children/2024/05/a.png"))
	_, err = os.Stat(filepath.Join(dir, "children", "2024", "05", "a.png"))
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, store.Delete(ctx, "children/2024/05/a.png"), "deleting a missing object is a no-op")

	assert.Error(t, store.Put(ctx, "../escape.png", upload.File{Body: strings.NewReader("x")}, nil))
}

type failingReader struct{ after int }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.after <= 0 {
		return 0, errors.New("connection reset")
	}
	n := len(p)
	if n > r.after {
		n = r.after
	}
	r.after -= n
	return n, nil
}

func TestLocalStore_failures(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(dir, "http://localhost/media")

	err := store.Put(context.Background(), "gallery/b.jpg", upload.File{Size: 100, Body: &failingReader{after: 40}}, nil)
	assert.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "gallery", "b.jpg"))
	assert.True(t, os.IsNotExist(statErr))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = store.Put(ctx, "gallery/c.jpg", upload.File{Size: 1, Body: strings.NewReader("x")}, nil)
	assert.True(t, errors.Is(err, context.Canceled), "err = %v", err)

	entries, err := os.ReadDir(filepath.Join(dir, "gallery"))
	require.NoError(t, err)
	assert.Empty(t, entries, "temp files are cleaned up")
}

func testS3Store(endpoint string, expiry time.Duration) *S3Store {
	client := s3.New(s3.Options{
		Region:       "us-east-1",
		Credentials:  aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider("AKID", "SECRET", "")),
		BaseEndpoint: aws.String(endpoint),
		UsePathStyle: true,
	})
	return newS3Store(client, core.StorageConfig{Bucket: "kidogo", Region: "us-east-1", Endpoint: endpoint, URLExpiry: expiry})
}

func TestS3Store_URL(t *testing.T) {
	ctx := context.Background()

	u, err := testS3Store("http://minio.test:9000/", 0).URL(ctx, "gallery/2024/05/my photo.jpg")
	require.NoError(t, err)
	assert.Equal(t, "http://minio.test:9000/kidogo/gallery/2024/05/my%20photo.jpg", u)

	hosted := testS3Store("", 0)
	u, err = hosted.URL(ctx, "gallery/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://kidogo.s3.us-east-1.amazonaws.com/gallery/a.jpg", u)

	u, err = testS3Store("http://minio.test:9000", 15*time.Minute).URL(ctx, "gallery/a.jpg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "http://minio.test:9000/kidogo/gallery/a.jpg?"), u)
	assert.Contains(t, u, "X-Amz-Expires=900")
	assert.Contains(t, u, "X-Amz-Signature=")
}

func TestS3Store_PutDelete(t *testing.T) {
	var (
		mu       sync.Mutex
		requests []string
		received string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPut {
			received = string(body)
		}
		mu.Unlock()
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := testS3Store(srv.URL, 0)
	ctx := context.Background()

	var last int64
	content := "hello kidogo"
	err := store.Put(ctx, "documents/a.txt", upload.File{Name: "a.txt", ContentType: "text/plain", Size: int64(len(content)), Body: strings.NewReader(content)},
		func(n int64) { last = n })
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), last)
	assert.Contains(t, received, content)

	require.NoError(t, store.Delete(ctx, "documents/a.txt"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"PUT /kidogo/documents/a.txt", "DELETE /kidogo/documents/a.txt"}, requests)
}

func TestPublicGCSURL(t *testing.T) {
	assert.Equal(t, "https://storage.googleapis.com/kidogo/events/2024/a%20b.png", publicGCSURL("kidogo", "events/2024/a b.png"))
}

func TestNew(t *testing.T) {
	store, err := New(context.Background(), &core.Config{Storage: core.StorageConfig{Backend: core.StorageLocal, LocalDir: t.TempDir(), PublicBaseURL: "http://x/media"}})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, store)

	_, err = New(context.Background(), &core.Config{Storage: core.StorageConfig{Backend: "ftp"}})
	assert.Error(t, err)
}
