package upload

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/kidogo/core"
)

// Tracker performs uploads to an ObjectStore while exposing their progress.
// A Tracker is safe for concurrent use. When Upload is called again before a previous call
// returns, the earlier call keeps running but its progress is no longer reflected.
type Tracker struct {
	id        string
	owner     string
	store     ObjectStore
	notifier  core.Notifier
	logger    core.Logger
	observers []Observer
	now       func() time.Time

	mu      sync.Mutex
	gen     uint64
	session Session

	pubMu sync.Mutex // keeps observers seeing snapshots in order
}

// NewTracker returns an idle Tracker. An empty id is replaced by a random one.
func NewTracker(id string, store ObjectStore, notifier core.Notifier, logger core.Logger, observers ...Observer) *Tracker {
	if id == "" {
		id = uuid.NewString()
	}
	t := &Tracker{
		id:        id,
		store:     store,
		notifier:  notifier,
		logger:    logger,
		observers: observers,
		now:       time.Now,
	}
	t.session = Session{ID: id, State: StateIdle}
	return t
}

func (t *Tracker) ID() string { return t.id }

// SetOwner records the user starting the next uploads in their sessions.
func (t *Tracker) SetOwner(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.owner = userID
	t.session.OwnerID = userID
}

// Progress returns the percentage of the current upload, between 0 and 100.
func (t *Tracker) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session.Progress
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session.State
}

// Session returns a snapshot of the current upload.
func (t *Tracker) Session() Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

// Upload transfers f to path and returns the public URL of the stored object.
// It never returns an error: on failure, progress is reset, the user is notified once
// and ("", false) is returned.
func (t *Tracker) Upload(ctx context.Context, f File, path string) (url string, ok bool) {
	gen := t.begin(f, path)

	defer func() {
		if r := recover(); r != nil {
			t.fail(gen, f, errors.Errorf("panic: %v", r))
			url, ok = "", false
		}
	}()

	if err := validateArgs(f, path); err != nil {
		t.fail(gen, f, err)
		return "", false
	}
	if err := ctx.Err(); err != nil {
		t.fail(gen, f, err)
		return "", false
	}

	if err := t.store.Put(ctx, path, f, func(n int64) { t.report(gen, n) }); err != nil {
		t.fail(gen, f, errors.Wrap(err, "transferring object"))
		return "", false
	}

	url, err := t.store.URL(ctx, path)
	if err == nil && url == "" {
		err = errors.New("empty object url")
	}
	if err != nil {
		t.fail(gen, f, errors.Wrap(err, "resolving object url"))
		return "", false
	}

	t.succeed(gen, url)
	return url, true
}

func validateArgs(f File, path string) error {
	return vala.BeginValidation().Validate(
		notNil(f.Body, "file.Body"),
		vala.StringNotEmpty(strings.TrimSpace(path), "path"),
		nonNegative(f.Size, "file.Size"),
	).Check()
}

// notNil only compares the interface with nil: vala.IsNotNil panics on non-pointer readers
// such as the ones returned by multipart.FileHeader.Open.
func notNil(r io.Reader, paramName string) vala.Checker {
	return func() (bool, string) {
		return r != nil, fmt.Sprintf("parameter was nil: %s", paramName)
	}
}

func nonNegative(n int64, paramName string) vala.Checker {
	return func() (bool, string) {
		return n >= 0, fmt.Sprintf("parameter was negative: %s", paramName)
	}
}

func (t *Tracker) begin(f File, path string) uint64 {
	now := t.now()

	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.session = Session{
		ID:          t.id,
		OwnerID:     t.owner,
		Path:        path,
		FileName:    f.Name,
		ContentType: f.ContentType,
		TotalBytes:  f.Size,
		State:       StateInProgress,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	t.publishLocked()
	return gen
}

func (t *Tracker) report(gen uint64, transferred int64) {
	t.mu.Lock()
	s := &t.session
	if gen != t.gen || s.State != StateInProgress {
		t.mu.Unlock()
		return
	}
	if s.TotalBytes > 0 && transferred > s.TotalBytes {
		transferred = s.TotalBytes
	}
	if transferred <= s.BytesTransferred {
		t.mu.Unlock()
		return
	}
	s.BytesTransferred = transferred
	s.Progress = Percent(transferred, s.TotalBytes)
	s.UpdatedAt = t.now()
	t.publishLocked()
}

func (t *Tracker) succeed(gen uint64, url string) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	s := &t.session
	s.BytesTransferred = s.TotalBytes
	s.Progress = 100
	s.URL = url
	s.State = StateSucceeded
	s.UpdatedAt = t.now()
	t.publishLocked()
}

func (t *Tracker) fail(gen uint64, f File, err error) {
	t.logger.Error(fmt.Sprintf("upload %s failed: %v", t.id, err), err, map[string]interface{}{
		"upload_id": t.id,
		"file_name": f.Name,
		"size":      f.Size,
	})

	t.mu.Lock()
	if gen == t.gen {
		s := &t.session
		s.BytesTransferred = 0
		s.Progress = 0
		s.URL = ""
		s.State = StateFailed
		s.UpdatedAt = t.now()
		t.publishLocked()
	} else {
		t.mu.Unlock()
	}

	name := f.Name
	if name == "" {
		name = "Your file"
	}
	t.notifier.Notify(core.Notification{
		Topic:   t.id,
		Level:   core.NotifyError,
		Title:   "Upload failed",
		Message: fmt.Sprintf("%s could not be uploaded. Please try again.", name),
	})
}

// publishLocked must be called with t.mu held; it releases it before notifying observers.
func (t *Tracker) publishLocked() {
	snapshot := t.session
	t.pubMu.Lock()
	t.mu.Unlock()
	defer t.pubMu.Unlock()

	for _, o := range t.observers {
		o.Observe(snapshot)
	}
}
