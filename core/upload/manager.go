package upload

import (
	"context"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/kidogo/core"
)

// sessionRetention is how long finished or unused claimed sessions stay queryable.
const sessionRetention = 24 * time.Hour

// Manager creates Trackers sharing a store, a notifier and a set of observers,
// and remembers the latest Session of every upload it tracked.
type Manager struct {
	store     ObjectStore
	notifier  core.Notifier
	logger    core.Logger
	observers []Observer
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]Session
}

func NewManager(store ObjectStore, notifier core.Notifier, logger core.Logger, observers ...Observer) *Manager {
	return &Manager{
		store:     store,
		notifier:  notifier,
		logger:    logger,
		observers: observers,
		now:       time.Now,
		sessions:  make(map[string]Session),
	}
}

func (m *Manager) Store() ObjectStore { return m.store }

// NewTracker returns a Tracker reporting to the Manager. An empty id is replaced by a random one.
func (m *Manager) NewTracker(id string) *Tracker {
	observers := make([]Observer, 0, len(m.observers)+1)
	observers = append(observers, ObserverFunc(m.record))
	observers = append(observers, m.observers...)
	return NewTracker(id, m.store, m.notifier, m.logger, observers...)
}

// Claim reserves a client-chosen session ID for ownerID, so that it can be watched before the upload starts.
// It fails with ErrSessionTaken when another user already uses id. Empty ids are ignored.
func (m *Manager) Claim(id, ownerID string) error {
	if id == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, known := m.sessions[id]; known {
		if s.OwnerID != ownerID {
			return ErrSessionTaken
		}
		return nil
	}
	m.pruneLocked()
	m.sessions[id] = Session{ID: id, OwnerID: ownerID, State: StateIdle, UpdatedAt: m.now()}
	return nil
}

// Upload stores f under a fresh path of the given kind (see ObjectPath) and returns the final Session.
// A client-chosen sessionID must have been claimed by ownerID first.
func (m *Manager) Upload(ctx context.Context, sessionID, ownerID, kind string, f File) (Session, bool) {
	t := m.NewTracker(sessionID)
	t.SetOwner(ownerID)
	_, ok := t.Upload(ctx, f, ObjectPath(kind, f.Name))
	return t.Session(), ok
}

// Delete removes a previously uploaded object. Empty paths are ignored.
func (m *Manager) Delete(ctx context.Context, objectPath string) error {
	if objectPath == "" {
		return nil
	}
	return m.store.Delete(ctx, objectPath)
}

// Session returns the latest known Session for id.
func (m *Manager) Session(id string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) record(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, known := m.sessions[s.ID]; !known {
		m.pruneLocked()
	}
	m.sessions[s.ID] = s
}

func (m *Manager) pruneLocked() {
	cutoff := m.now().Add(-sessionRetention)
	for id, s := range m.sessions {
		if (s.Done() || s.State == StateIdle) && s.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
		}
	}
}

// ObjectPath returns a unique object path: <kind>/<yyyy>/<mm>/<uuid><ext>.
func ObjectPath(kind, filename string) string {
	kind = strings.Trim(strings.ToLower(strings.TrimSpace(kind)), "/")
	if kind == "" {
		kind = "files"
	}
	now := time.Now().UTC()
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(filename, `\`, "/"))))
	if len(ext) > 10 || strings.ContainsAny(ext, " /") {
		ext = ""
	}
	return path.Join(kind, now.Format("2006"), now.Format("01"), uuid.NewString()+ext)
}
