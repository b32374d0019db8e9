package service

import (
	"github.com/atinyakov/sessionvault/internal/models"
	"github.com/google/uuid"
)

// State is an immutable snapshot of what the SessionManager knows.
type State struct {
	// Mode is the lock mode last applied through the manager.
	Mode models.LockMode `json:"mode"`
	// Session is the cached session value; nil when never loaded or locked.
	Session *string `json:"session"`
	// Exists reports whether the store holds a record.
	Exists bool `json:"exists"`
	// Locked mirrors the store's lock state.
	Locked bool `json:"locked"`
	// StorageKind mirrors the store's live configuration.
	StorageKind models.StorageKind `json:"storage_kind"`
	// DeviceSecurityKind mirrors the store's live configuration.
	DeviceSecurityKind models.DeviceSecurityKind `json:"device_security_kind"`
}

// HasSession reports whether a session value is cached.
func (s State) HasSession() bool { return s.Session != nil }

func (s State) equal(o State) bool {
	if (s.Session == nil) != (o.Session == nil) {
		return false
	}
	if s.Session != nil && *s.Session != *o.Session {
		return false
	}
	s.Session, o.Session = nil, nil
	return s == o
}

// subscribers fans State snapshots out to channel observers. It is guarded
// by the owning SessionManager's mutex.
type subscribers map[string]chan State

func (s subscribers) add(buffer int) (string, chan State) {
	if buffer < 1 {
		buffer = 1
	}
	id := uuid.NewString()
	ch := make(chan State, buffer)
	s[id] = ch
	return id, ch
}

func (s subscribers) remove(id string) {
	if ch, ok := s[id]; ok {
		delete(s, id)
		close(ch)
	}
}

// publish never blocks: a full subscriber loses its oldest queued snapshot so
// the newest one always gets through.
func (s subscribers) publish(st State) {
	for _, ch := range s {
		select {
		case ch <- st:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}
