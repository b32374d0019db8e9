// Package service provides the session manager, which owns one named secure
// record and the lock policy of the store holding it.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/atinyakov/sessionvault/internal/models"
	"go.uber.org/zap"
)

// SecureStore defines the vault operations the SessionManager depends on.
type SecureStore interface {
	// Get returns the value stored under key, or nil when absent.
	Get(ctx context.Context, key string) (*string, error)
	// Set stores value under key.
	Set(ctx context.Context, key, value string) error
	// Clear erases every record.
	Clear(ctx context.Context) error
	// IsEmpty reports whether the store holds no records.
	IsEmpty(ctx context.Context) (bool, error)
	// IsLocked reports the current lock state.
	IsLocked(ctx context.Context) (bool, error)
	// Lock locks the store immediately.
	Lock(ctx context.Context) error
	// Unlock runs the unlock flow of the current policy.
	Unlock(ctx context.Context) error
	// OnLock registers a handler fired once per transition into locked.
	OnLock(fn func())
	// OnUnlock registers a handler fired once per transition into unlocked.
	OnUnlock(fn func())
	// Config returns the live configuration.
	Config() models.VaultConfig
	// Reconfigure applies a new configuration.
	Reconfigure(ctx context.Context, cfg models.VaultConfig) error
}

// SessionManager mediates between front ends and a SecureStore holding the
// session record. Mutating operations are serialized; observers read
// consistent snapshots through Snapshot or Subscribe.
type SessionManager struct {
	store SecureStore
	log   *zap.Logger

	// opMu serializes mutating operations.
	opMu sync.Mutex

	mu        sync.Mutex
	state     State
	lockEpoch uint64
	subs      subscribers
}

// NewSessionManager subscribes to the store's lock notifications and seeds
// the manager state from the store.
func NewSessionManager(ctx context.Context, store SecureStore, log *zap.Logger) (*SessionManager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	m := &SessionManager{
		store: store,
		log:   log,
		subs:  make(subscribers),
	}
	store.OnLock(m.handleLock)
	store.OnUnlock(m.handleUnlock)

	m.mu.Lock()
	epoch := m.lockEpoch
	m.mu.Unlock()

	locked, err := store.IsLocked(ctx)
	if err != nil {
		return nil, storeErr(KindStoreUnavailable, "init", err)
	}
	empty, err := store.IsEmpty(ctx)
	if err != nil {
		return nil, storeErr(KindStoreUnavailable, "init", err)
	}
	cfg := store.Config()

	m.update(func(s *State) {
		// a notification that raced the seed query is newer than it
		if m.lockEpoch == epoch {
			s.Locked = locked
		}
		s.Exists = !empty
		s.Mode = cfg.Mode()
		s.StorageKind = cfg.StorageKind
		s.DeviceSecurityKind = cfg.DeviceSecurityKind
	})
	m.log.Info("session manager ready",
		zap.Bool("locked", locked),
		zap.Bool("exists", !empty),
		zap.String("mode", string(cfg.Mode())))
	return m, nil
}

func (m *SessionManager) handleLock() {
	m.update(func(s *State) {
		m.lockEpoch++
		s.Locked = true
		s.Session = nil
	})
	m.log.Debug("vault lock observed")
}

func (m *SessionManager) handleUnlock() {
	m.update(func(s *State) {
		m.lockEpoch++
		s.Locked = false
	})
	m.log.Debug("vault unlock observed")
}

// update applies fn to the state under the manager mutex and publishes the
// result when it changed.
func (m *SessionManager) update(fn func(s *State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := m.state
	fn(&m.state)
	if m.state.Locked {
		m.state.Session = nil
	}
	if !before.equal(m.state) {
		m.subs.publish(m.state)
	}
}

// resync re-derives Exists, Locked and the mirrored config from the store.
func (m *SessionManager) resync(ctx context.Context) error {
	empty, err := m.store.IsEmpty(ctx)
	if err != nil {
		return err
	}
	locked, err := m.store.IsLocked(ctx)
	if err != nil {
		return err
	}
	cfg := m.store.Config()
	m.update(func(s *State) {
		s.Exists = !empty
		s.Locked = locked
		s.StorageKind = cfg.StorageKind
		s.DeviceSecurityKind = cfg.DeviceSecurityKind
	})
	return nil
}

// resyncAfterFailure re-derives status after a failed operation. Its own
// failure is logged; the operation's error is what the caller sees.
func (m *SessionManager) resyncAfterFailure(ctx context.Context, op string) {
	if err := m.resync(ctx); err != nil {
		m.log.Warn("status resync failed", zap.String("op", op), zap.Error(err))
	}
}

// SetSession stores value as the session record. The cached value is
// updated before the write and rolled back if the write fails. While the
// store is locked nothing is cached.
func (m *SessionManager) SetSession(ctx context.Context, value string) error {
	const op = "set session"
	m.opMu.Lock()
	defer m.opMu.Unlock()

	var (
		prev       *string
		optimistic = &value
		applied    bool
		epoch      uint64
	)
	m.update(func(s *State) {
		epoch = m.lockEpoch
		if s.Locked {
			return
		}
		prev, s.Session, applied = s.Session, optimistic, true
	})

	if err := m.store.Set(ctx, models.SessionKey, value); err != nil {
		if applied {
			m.update(func(s *State) {
				if m.lockEpoch == epoch && s.Session == optimistic {
					s.Session = prev
				}
			})
		}
		m.resyncAfterFailure(ctx, op)
		m.log.Warn("failed to store session", zap.Error(err))
		return storeErr(KindWriteFailed, op, err)
	}

	if err := m.resync(ctx); err != nil {
		return storeErr(KindReadFailed, op, err)
	}
	m.log.Debug("session stored")
	return nil
}

// RestoreSession reads the session record into the cache and returns it.
// A lock that lands while the read is in flight wins: the cache stays empty.
func (m *SessionManager) RestoreSession(ctx context.Context) (*string, error) {
	const op = "restore session"
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	epoch := m.lockEpoch
	m.mu.Unlock()

	value, err := m.store.Get(ctx, models.SessionKey)
	if err != nil {
		m.resyncAfterFailure(ctx, op)
		m.log.Warn("failed to restore session", zap.Error(err))
		return nil, storeErr(KindReadFailed, op, err)
	}

	m.update(func(s *State) {
		if m.lockEpoch == epoch {
			s.Session = value
		}
	})
	m.log.Debug("session restored", zap.Bool("found", value != nil))
	return value, nil
}

// Lock locks the store. The cached session is cleared by the lock
// notification, not by Lock itself.
func (m *SessionManager) Lock(ctx context.Context) error {
	const op = "lock"
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.log.Debug("locking vault", zap.String("mode", string(m.CurrentMode())))
	if err := m.store.Lock(ctx); err != nil {
		m.resyncAfterFailure(ctx, op)
		return storeErr(KindStoreUnavailable, op, err)
	}
	if err := m.resync(ctx); err != nil {
		return storeErr(KindStoreUnavailable, op, err)
	}
	return nil
}

// Unlock runs the store's unlock flow. It never restores the cached session;
// call RestoreSession afterwards. After a failure the record's existence is
// re-checked, since the store may purge it after too many attempts.
func (m *SessionManager) Unlock(ctx context.Context) error {
	const op = "unlock"
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.log.Debug("unlocking vault", zap.String("mode", string(m.CurrentMode())))
	if err := m.store.Unlock(ctx); err != nil {
		m.resyncAfterFailure(ctx, op)
		m.log.Warn("unlock failed", zap.Error(err), zap.Bool("exists", m.Snapshot().Exists))
		return storeErr(KindUnlockFailed, op, err)
	}
	if err := m.resync(ctx); err != nil {
		return storeErr(KindStoreUnavailable, op, err)
	}
	return nil
}

// Clear erases the record, drops the cached session and resets the lock
// mode to NoLock. Clearing an empty store succeeds.
func (m *SessionManager) Clear(ctx context.Context) error {
	const op = "clear"
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		m.resyncAfterFailure(ctx, op)
		m.log.Warn("failed to clear vault", zap.Error(err))
		return storeErr(KindWriteFailed, op, err)
	}
	m.update(func(s *State) { s.Session = nil })

	if err := m.applyMode(ctx, models.NoLock); err != nil {
		m.resyncAfterFailure(ctx, op)
		return storeErr(KindReconfigureRejected, op, err)
	}
	if err := m.resync(ctx); err != nil {
		return storeErr(KindReadFailed, op, err)
	}
	m.log.Info("vault cleared")
	return nil
}

// SetLockMode switches the store to the policy mode maps to. ModeUnset is a
// no-op. On failure the current mode is unchanged.
func (m *SessionManager) SetLockMode(ctx context.Context, mode models.LockMode) error {
	const op = "set lock mode"
	if mode == models.ModeUnset {
		return nil
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.applyMode(ctx, mode); err != nil {
		m.resyncAfterFailure(ctx, op)
		m.log.Warn("lock mode rejected", zap.String("mode", string(mode)), zap.Error(err))
		return storeErr(KindReconfigureRejected, op, err)
	}
	if err := m.resync(ctx); err != nil {
		return storeErr(KindReadFailed, op, err)
	}
	m.log.Info("lock mode changed", zap.String("mode", string(mode)))
	return nil
}

// applyMode merges mode's policy into the store config. Callers hold opMu.
func (m *SessionManager) applyMode(ctx context.Context, mode models.LockMode) error {
	cfg, ok := m.store.Config().WithMode(mode)
	if !ok {
		return fmt.Errorf("unknown lock mode %q", mode)
	}
	if err := m.store.Reconfigure(ctx, cfg); err != nil {
		return err
	}
	m.update(func(s *State) {
		s.Mode = mode
		s.StorageKind = cfg.StorageKind
		s.DeviceSecurityKind = cfg.DeviceSecurityKind
	})
	return nil
}

// Exists re-derives and returns whether the store holds a record.
func (m *SessionManager) Exists(ctx context.Context) (bool, error) {
	empty, err := m.store.IsEmpty(ctx)
	if err != nil {
		return false, storeErr(KindReadFailed, "exists", err)
	}
	m.update(func(s *State) { s.Exists = !empty })
	return !empty, nil
}

// IsLocked re-derives and returns the store's lock state.
func (m *SessionManager) IsLocked(ctx context.Context) (bool, error) {
	locked, err := m.store.IsLocked(ctx)
	if err != nil {
		return false, storeErr(KindReadFailed, "is locked", err)
	}
	m.update(func(s *State) { s.Locked = locked })
	return locked, nil
}

// CurrentMode returns the lock mode last applied through the manager.
func (m *SessionManager) CurrentMode() models.LockMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Mode
}

// Session returns the cached session value without touching the store.
func (m *SessionManager) Session() *string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Session
}

// Snapshot returns the current state.
func (m *SessionManager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe returns a channel that receives the current state immediately
// and every changed state afterwards. A slow subscriber skips intermediate
// states but always receives the newest one. The returned func unsubscribes
// and closes the channel.
func (m *SessionManager) Subscribe(buffer int) (<-chan State, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ch := m.subs.add(buffer)
	ch <- m.state

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.subs.remove(id)
		})
	}
}
