package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kidogo/core"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

type notifierMock struct {
	mu   sync.Mutex
	sent []core.Notification
}

func (n *notifierMock) Notify(notif core.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notif)
}

func (n *notifierMock) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// storeMock runs put (if set) instead of draining the body.
type storeMock struct {
	put    func(ctx context.Context, path string, f File, progress ProgressFunc) error
	urlErr error
}

func (s *storeMock) Put(ctx context.Context, path string, f File, progress ProgressFunc) error {
	if s.put != nil {
		return s.put(ctx, path, f, progress)
	}
	_, err := io.Copy(io.Discard, NewProgressReader(f.Body, progress))
	return err
}

func (s *storeMock) URL(_ context.Context, path string) (string, error) {
	if s.urlErr != nil {
		return "", s.urlErr
	}
	return "https://cdn.test/" + path, nil
}

func (s *storeMock) Delete(context.Context, string) error { return nil }

func newFile(size int) File {
	return File{
		Name:        "photo.jpg",
		ContentType: "image/jpeg",
		Size:        int64(size),
		Body:        bytes.NewReader(make([]byte, size)),
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		transferred, total int64
		want               float64
	}{
		{0, 1_000_000, 0},
		{250_000, 1_000_000, 25},
		{600_000, 1_000_000, 60},
		{1_000_000, 1_000_000, 100},
		{2_000_000, 1_000_000, 100},
		{-5, 100, 0},
		{0, 0, 0},
		{10, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Percent(tt.transferred, tt.total), "Percent(%d, %d)", tt.transferred, tt.total)
	}
}

func TestTracker_Upload_reportsProgress(t *testing.T) {
	var tr *Tracker
	var readings []float64
	store := &storeMock{
		put: func(_ context.Context, _ string, _ File, progress ProgressFunc) error {
			for _, n := range []int64{0, 250_000, 600_000, 1_000_000} {
				progress(n)
				readings = append(readings, tr.Progress())
			}
			return nil
		},
	}
	notifier := new(notifierMock)
	tr = NewTracker("", store, notifier, nopLogger{})

	url, ok := tr.Upload(context.Background(), newFile(1_000_000), "gallery/2024/05/a.jpg")

	require.True(t, ok)
	assert.Equal(t, "https://cdn.test/gallery/2024/05/a.jpg", url)
	assert.Equal(t, []float64{0, 25, 60, 100}, readings)
	assert.Equal(t, float64(100), tr.Progress())
	assert.Equal(t, StateSucceeded, tr.State())
	assert.Zero(t, notifier.count())
}

func TestTracker_Upload_failure(t *testing.T) {
	errBoom := errors.New("connection reset")

	tests := []struct {
		name  string
		store *storeMock
		file  File
		path  string
	}{
		{
			name: "transfer fails after 40%",
			store: &storeMock{put: func(_ context.Context, _ string, _ File, progress ProgressFunc) error {
				progress(400_000)
				return errBoom
			}},
			file: newFile(1_000_000),
			path: "events/2024/05/a.jpg",
		},
		{name: "url unavailable", store: &storeMock{urlErr: errBoom}, file: newFile(10), path: "a.jpg"},
		{name: "empty path", store: &storeMock{}, file: newFile(10), path: ""},
		{name: "blank path", store: &storeMock{}, file: newFile(10), path: "   "},
		{name: "no body", store: &storeMock{}, file: File{Name: "x", Size: 3}, path: "a.jpg"},
		{name: "negative size", store: &storeMock{}, file: File{Name: "x", Size: -1, Body: strings.NewReader("")}, path: "a.jpg"},
		{
			name: "store panics",
			store: &storeMock{put: func(context.Context, string, File, ProgressFunc) error {
				panic("unexpected")
			}},
			file: newFile(10),
			path: "a.jpg",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := new(notifierMock)
			tr := NewTracker("sess-1", tt.store, notifier, nopLogger{})

			url, ok := tr.Upload(context.Background(), tt.file, tt.path)

			assert.False(t, ok)
			assert.Empty(t, url)
			assert.Equal(t, float64(0), tr.Progress())
			assert.Equal(t, StateFailed, tr.State())
			require.Equal(t, 1, notifier.count())
			assert.Equal(t, "sess-1", notifier.sent[0].Topic)
			assert.Equal(t, core.NotifyError, notifier.sent[0].Level)
		})
	}
}

func TestTracker_Upload_cancelledContext(t *testing.T) {
	notifier := new(notifierMock)
	tr := NewTracker("", &storeMock{}, notifier, nopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := tr.Upload(ctx, newFile(10), "a.jpg")

	assert.False(t, ok)
	assert.Equal(t, 1, notifier.count())
}

func TestTracker_Upload_emptyFile(t *testing.T) {
	var inFlight float64 = -1
	var tr *Tracker
	store := &storeMock{put: func(_ context.Context, _ string, f File, progress ProgressFunc) error {
		progress(0)
		inFlight = tr.Progress()
		return nil
	}}
	tr = NewTracker("", store, new(notifierMock), nopLogger{})

	_, ok := tr.Upload(context.Background(), newFile(0), "documents/empty.pdf")

	require.True(t, ok)
	assert.Equal(t, float64(0), inFlight)
	assert.Equal(t, float64(100), tr.Progress())
}

func TestTracker_progressIsMonotonicAndBounded(t *testing.T) {
	var observed []float64
	store := &storeMock{put: func(_ context.Context, _ string, _ File, progress ProgressFunc) error {
		for _, n := range []int64{10, 50, 30, 50, 200, 80} {
			progress(n)
		}
		return nil
	}}
	obs := ObserverFunc(func(s Session) { observed = append(observed, s.Progress) })
	tr := NewTracker("", store, new(notifierMock), nopLogger{}, obs)

	_, ok := tr.Upload(context.Background(), newFile(100), "a.jpg")
	require.True(t, ok)

	// start, 10, 50, 100 (clamped), success
	assert.Equal(t, []float64{0, 10, 50, 100, 100}, observed)
	for i := 1; i < len(observed); i++ {
		assert.GreaterOrEqual(t, observed[i], observed[i-1])
		assert.LessOrEqual(t, observed[i], float64(100))
	}
}

func TestTracker_isolation(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	slow := &storeMock{put: func(_ context.Context, _ string, _ File, progress ProgressFunc) error {
		progress(30)
		close(started)
		<-release
		return errors.New("boom")
	}}
	n1, n2 := new(notifierMock), new(notifierMock)
	t1 := NewTracker("", slow, n1, nopLogger{})
	t2 := NewTracker("", &storeMock{}, n2, nopLogger{})

	done := make(chan bool)
	go func() {
		_, ok := t1.Upload(context.Background(), newFile(100), "a.jpg")
		done <- ok
	}()
	<-started

	_, ok := t2.Upload(context.Background(), newFile(100), "b.jpg")
	require.True(t, ok)
	assert.Equal(t, float64(30), t1.Progress())
	assert.Equal(t, float64(100), t2.Progress())

	close(release)
	assert.False(t, <-done)
	assert.Equal(t, float64(0), t1.Progress())
	assert.Equal(t, float64(100), t2.Progress())
	assert.Equal(t, 1, n1.count())
	assert.Zero(t, n2.count())
}

func TestTracker_supersededUploadIsIgnored(t *testing.T) {
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	var calls int
	var mu sync.Mutex
	store := &storeMock{put: func(_ context.Context, path string, _ File, progress ProgressFunc) error {
		mu.Lock()
		calls++
		call := calls
		mu.Unlock()

		if call == 1 {
			progress(10)
			close(firstStarted)
			<-releaseFirst
			progress(90) // late report from the superseded transfer
			return nil
		}
		progress(40)
		return nil
	}}
	tr := NewTracker("", store, new(notifierMock), nopLogger{})

	done := make(chan string)
	go func() {
		url, _ := tr.Upload(context.Background(), newFile(100), "first.jpg")
		done <- url
	}()
	<-firstStarted

	url, ok := tr.Upload(context.Background(), newFile(100), "second.jpg")
	require.True(t, ok)
	assert.Equal(t, "https://cdn.test/second.jpg", url)

	close(releaseFirst)
	firstURL := <-done
	assert.Equal(t, "https://cdn.test/first.jpg", firstURL)

	s := tr.Session()
	assert.Equal(t, "second.jpg", s.Path)
	assert.Equal(t, "https://cdn.test/second.jpg", s.URL)
	assert.Equal(t, float64(100), s.Progress)
	assert.Equal(t, StateSucceeded, s.State)
}

func TestManager(t *testing.T) {
	var seen []Session
	m := NewManager(&storeMock{}, new(notifierMock), nopLogger{}, ObserverFunc(func(s Session) { seen = append(seen, s) }))

	s, ok := m.Upload(context.Background(), "abc", "user-1", "gallery", newFile(42))
	require.True(t, ok)
	assert.Equal(t, "abc", s.ID)
	assert.Equal(t, "user-1", s.OwnerID)
	assert.True(t, strings.HasPrefix(s.Path, "gallery/"))
	assert.True(t, strings.HasSuffix(s.Path, ".jpg"))
	assert.Equal(t, "https://cdn.test/"+s.Path, s.URL)

	got, ok := m.Session("abc")
	require.True(t, ok)
	assert.Equal(t, s, got)
	assert.NotEmpty(t, seen)

	_, ok = m.Session("unknown")
	assert.False(t, ok)
}

func TestObjectPath(t *testing.T) {
	tests := []struct {
		kind, filename, wantPrefix, wantExt string
	}{
		{"gallery", "Beach Day.JPG", "gallery/", ".jpg"},
		{"/Documents/", "handbook.pdf", "documents/", ".pdf"},
		{"", "noext", "files/", ""},
		{"events", `C:\photos\party.png`, "events/", ".png"},
	}
	for _, tt := range tests {
		p := ObjectPath(tt.kind, tt.filename)
		parts := strings.Split(p, "/")
		require.Len(t, parts, 4, p)
		assert.True(t, strings.HasPrefix(p, tt.wantPrefix), p)
		assert.Len(t, parts[1], 4)
		assert.Len(t, parts[2], 2)
		if tt.wantExt != "" {
			assert.True(t, strings.HasSuffix(p, tt.wantExt), p)
		}
	}
	assert.NotEqual(t, ObjectPath("gallery", "a.jpg"), ObjectPath("gallery", "a.jpg"))
}

func TestState_text(t *testing.T) {
	for _, st := range []State{StateIdle, StateInProgress, StateSucceeded, StateFailed} {
		b, err := st.MarshalText()
		require.NoError(t, err)
		var got State
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, st, got)
	}
	_, err := ParseState("paused")
	assert.Error(t, err)
}

// openMultipartFile returns the file part of a parsed multipart request, as handlers get it.
func openMultipartFile(t *testing.T, content []byte, maxMemory int64) (multipart.File, *multipart.FileHeader) {
	body := new(bytes.Buffer)
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", "photo.jpg")
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(maxMemory))
	t.Cleanup(func() { _ = req.MultipartForm.RemoveAll() })

	f, fh, err := req.FormFile("file")
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f, fh
}

func TestTracker_Upload_bodyTypes(t *testing.T) {
	content := bytes.Repeat([]byte("x"), 2048)

	osFile := func(t *testing.T) io.Reader {
		fp := filepath.Join(t.TempDir(), "photo.jpg")
		require.NoError(t, os.WriteFile(fp, content, 0o600))
		f, err := os.Open(fp)
		require.NoError(t, err)
		t.Cleanup(func() { _ = f.Close() })
		return f
	}

	tests := []struct {
		name string
		body func(t *testing.T) io.Reader
	}{
		{
			name: "in-memory multipart file",
			body: func(t *testing.T) io.Reader {
				f, _ := openMultipartFile(t, content, 1<<20)
				return f
			},
		},
		{
			name: "multipart file spilled to disk",
			body: func(t *testing.T) io.Reader {
				f, _ := openMultipartFile(t, content, 1)
				return f
			},
		},
		{name: "os file", body: osFile},
		{name: "string reader", body: func(*testing.T) io.Reader { return strings.NewReader(string(content)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var received int64
			store := &storeMock{put: func(_ context.Context, _ string, f File, progress ProgressFunc) error {
				n, err := io.Copy(io.Discard, NewProgressReader(f.Body, progress))
				received = n
				return err
			}}
			notifier := new(notifierMock)
			tr := NewTracker("", store, notifier, nopLogger{})
			file := File{Name: "photo.jpg", ContentType: "image/jpeg", Size: int64(len(content)), Body: tt.body(t)}

			url, ok := tr.Upload(context.Background(), file, "gallery/photo.jpg")

			require.True(t, ok)
			assert.Equal(t, "https://cdn.test/gallery/photo.jpg", url)
			assert.Equal(t, int64(len(content)), received)
			assert.Equal(t, StateSucceeded, tr.State())
			assert.Zero(t, notifier.count())
		})
	}
}

func TestTracker_SetOwner(t *testing.T) {
	var seen []Session
	tr := NewTracker("sess-1", &storeMock{}, new(notifierMock), nopLogger{}, ObserverFunc(func(s Session) { seen = append(seen, s) }))
	tr.SetOwner("user-1")
	assert.Equal(t, "user-1", tr.Session().OwnerID)

	_, ok := tr.Upload(context.Background(), newFile(10), "a.jpg")
	require.True(t, ok)
	require.NotEmpty(t, seen)
	for _, s := range seen {
		assert.Equal(t, "user-1", s.OwnerID)
	}
}

func TestManager_Claim(t *testing.T) {
	m := NewManager(&storeMock{}, new(notifierMock), nopLogger{})

	require.NoError(t, m.Claim("", "user-1"))
	require.NoError(t, m.Claim("abc", "user-1"))

	s, ok := m.Session("abc")
	require.True(t, ok)
	assert.Equal(t, StateIdle, s.State)
	assert.Equal(t, "user-1", s.OwnerID)

	tests := []struct {
		name    string
		owner   string
		wantErr error
	}{
		{name: "same owner may retry", owner: "user-1"},
		{name: "other user", owner: "user-2", wantErr: ErrSessionTaken},
		{name: "anonymous", owner: "", wantErr: ErrSessionTaken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, m.Claim("abc", tt.owner))
		})
	}

	_, ok = m.Upload(context.Background(), "abc", "user-1", "gallery", newFile(5))
	require.True(t, ok)
	assert.Equal(t, ErrSessionTaken, m.Claim("abc", "user-2"))
}

func TestManager_pruneUnusedClaims(t *testing.T) {
	m := NewManager(&storeMock{}, new(notifierMock), nopLogger{})
	now := time.Now()
	m.now = func() time.Time { return now.Add(-2 * sessionRetention) }
	require.NoError(t, m.Claim("stale", "user-1"))

	m.now = func() time.Time { return now }
	require.NoError(t, m.Claim("fresh", "user-2"))

	_, ok := m.Session("stale")
	assert.False(t, ok)
	require.NoError(t, m.Claim("stale", "user-2"))
}
