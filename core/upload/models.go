package upload

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
)

// State is the lifecycle state of an upload Session.
type State int

const (
	StateIdle State = iota
	StateInProgress
	StateSucceeded
	StateFailed
)

// ErrSessionTaken is returned when claiming a session ID another user already uses.
var ErrSessionTaken = errors.New("upload session ID already in use")

var stateNames = [...]string{"idle", "in_progress", "succeeded", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	st, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return StateIdle, errors.Errorf("unknown upload state %q", name)
}

// File is a binary object with a known byte length.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Session is the observable state of a single upload.
type Session struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"owner_id,omitempty"` // user who started the upload
	Path             string    `json:"path"`
	FileName         string    `json:"file_name"`
	ContentType      string    `json:"content_type"`
	BytesTransferred int64     `json:"bytes_transferred"`
	TotalBytes       int64     `json:"total_bytes"`
	Progress         float64   `json:"progress"` // 0 - 100
	URL              string    `json:"url,omitempty"`
	State            State     `json:"state"`
	StartedAt        time.Time `json:"started_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (s Session) Done() bool {
	return s.State == StateSucceeded || s.State == StateFailed
}

// Percent returns transferred/total as a percentage bounded within [0, 100].
// An empty total yields 0: completion of empty files is reported by the Tracker.
func Percent(transferred, total int64) float64 {
	switch {
	case total <= 0, transferred <= 0:
		return 0
	case transferred >= total:
		return 100
	}
	return float64(transferred) * 100 / float64(total)
}

// ProgressFunc receives the cumulative number of bytes transferred.
type ProgressFunc func(transferred int64)

// ObjectStore is a path-addressed binary object store.
type ObjectStore interface {
	// Put writes f at path, overwriting any existing object, and reports progress while transferring.
	Put(ctx context.Context, path string, f File, progress ProgressFunc) error
	// URL resolves a publicly accessible locator for the object at path.
	URL(ctx context.Context, path string) (string, error)
	Delete(ctx context.Context, path string) error
}

// Observer receives a snapshot of the Session every time it changes.
type Observer interface {
	Observe(s Session)
}

type ObserverFunc func(s Session)

func (fn ObserverFunc) Observe(s Session) { fn(s) }

type progressReader struct {
	r        io.Reader
	n        int64
	progress ProgressFunc
}

// NewProgressReader wraps r so that every successful Read reports the cumulative bytes read.
func NewProgressReader(r io.Reader, progress ProgressFunc) io.Reader {
	if progress == nil {
		return r
	}
	return &progressReader{r: r, progress: progress}
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.n += int64(n)
		pr.progress(pr.n)
	}
	return n, err
}
