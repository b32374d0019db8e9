// Package securestore implements an encrypted, lockable key-value vault with
// pluggable unlock gates, inactivity auto-lock and lock/unlock notifications.
//
// Records are sealed with AES-GCM before they reach a Backend. A Vault is
// either gated (StorageKind DeviceSecurity), in which case unlocking runs the
// Authenticator matching its DeviceSecurityKind, or plain (PlainSecure), in
// which case unlocking always succeeds.
package securestore

import (
	"context"
	"crypto/cipher"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/atinyakov/sessionvault/internal/models"
	"go.uber.org/zap"
)

var (
	// ErrLocked is returned by reads and writes while the vault is locked.
	ErrLocked = errors.New("vault is locked")
	// ErrAuthFailed is returned when an unlock challenge is not passed.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrUnsupported is returned when a device-security kind has no authenticator.
	ErrUnsupported = errors.New("device security kind not supported")
	// ErrInvalidConfig is returned for malformed vault configurations.
	ErrInvalidConfig = errors.New("invalid vault config")
	// ErrUnavailable is returned when the backend cannot be reached.
	ErrUnavailable = errors.New("vault backend unavailable")
)

// Options wires the collaborators of a Vault.
type Options struct {
	// Backend stores the sealed records. Required.
	Backend Backend
	// Secret is the device secret the record key is derived from. Required.
	Secret []byte
	// Biometric runs biometric challenges; nil when the platform has none.
	Biometric Authenticator
	// Passcode runs system passcode challenges; nil when the platform has none.
	Passcode Authenticator
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Vault is a lockable encrypted store scoped to one VaultConfig.Key.
type Vault struct {
	backend   Backend
	aead      cipher.AEAD
	biometric Authenticator
	passcode  Authenticator
	log       *zap.Logger

	// transition serializes state changes together with their notifications
	// so handlers observe transitions in the order they happened.
	transition sync.Mutex

	mu       sync.Mutex
	cfg      models.VaultConfig
	locked   bool
	failures int
	timer    *time.Timer
	timerGen uint64
	onLock   []func()
	onUnlock []func()
}

// NewVault opens the vault described by cfg. A lock policy saved by an earlier
// Reconfigure replaces cfg's StorageKind and DeviceSecurityKind. A gated vault
// that already holds data starts locked unless cfg.UnlockOnLoad is set.
func NewVault(ctx context.Context, cfg models.VaultConfig, opts Options) (*Vault, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrUnavailable)
	}
	aead, err := NewAEAD(opts.Secret)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	v := &Vault{
		backend:   opts.Backend,
		aead:      aead,
		biometric: opts.Biometric,
		passcode:  opts.Passcode,
		log:       log.With(zap.String("vault", cfg.Key)),
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidConfig)
	}
	stored, ok, err := v.loadPolicy(ctx, cfg.Key)
	if err != nil {
		return nil, err
	}
	if ok {
		cfg.StorageKind, cfg.DeviceSecurityKind = stored.StorageKind, stored.DeviceSecurityKind
	}
	if err := v.validate(cfg); err != nil {
		return nil, err
	}

	n, err := v.backend.Count(ctx, cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	v.cfg = cfg
	v.locked = cfg.StorageKind == models.DeviceSecurity && n > 0 && !cfg.UnlockOnLoad
	if !v.locked {
		v.armLocked()
	}
	return v, nil
}

// NewBrowserVault returns an in-memory vault with an ephemeral secret and
// gates that always pass. It behaves like a device vault at the interface
// level but offers none of its guarantees.
func NewBrowserVault(ctx context.Context, cfg models.VaultConfig, log *zap.Logger) (*Vault, error) {
	secret, err := NewEphemeralSecret()
	if err != nil {
		return nil, err
	}
	return NewVault(ctx, cfg, Options{
		Backend:   NewMemoryBackend(),
		Secret:    secret,
		Biometric: AllowAuthenticator{},
		Passcode:  AllowAuthenticator{},
		Logger:    log,
	})
}

// Config returns the current configuration.
func (v *Vault) Config() models.VaultConfig {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cfg
}

// OnLock registers fn to run after every unlocked→locked transition.
// Handlers run synchronously and must not call Lock, Unlock, Clear or Reconfigure.
func (v *Vault) OnLock(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onLock = append(v.onLock, fn)
}

// OnUnlock registers fn to run after every locked→unlocked transition.
func (v *Vault) OnUnlock(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onUnlock = append(v.onUnlock, fn)
}

// Get returns the value stored under item, or nil when there is none.
func (v *Vault) Get(ctx context.Context, item string) (*string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.locked {
		return nil, ErrLocked
	}
	data, ok, err := v.backend.Get(ctx, v.cfg.Key, item)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", item, err)
	}
	v.armLocked()
	if !ok {
		return nil, nil
	}
	plain, err := open(v.aead, v.cfg.Key, item, data)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", item, err)
	}
	s := string(plain)
	return &s, nil
}

// Set stores value under item.
func (v *Vault) Set(ctx context.Context, item, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.locked {
		return ErrLocked
	}
	data, err := seal(v.aead, v.cfg.Key, item, []byte(value))
	if err != nil {
		return fmt.Errorf("set %s: %w", item, err)
	}
	if err := v.backend.Put(ctx, v.cfg.Key, item, data); err != nil {
		return fmt.Errorf("set %s: %w", item, err)
	}
	v.armLocked()
	return nil
}

// IsEmpty reports whether the vault holds no records.
func (v *Vault) IsEmpty(ctx context.Context) (bool, error) {
	v.mu.Lock()
	key := v.cfg.Key
	v.mu.Unlock()
	n, err := v.backend.Count(ctx, key)
	if err != nil {
		return false, fmt.Errorf("count: %w", err)
	}
	return n == 0, nil
}

// IsLocked reports whether the vault is locked.
func (v *Vault) IsLocked(context.Context) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.locked, nil
}

// Lock locks the vault immediately. Locking a locked vault is a no-op.
func (v *Vault) Lock(context.Context) error {
	v.lock("explicit", nil)
	return nil
}

// lock transitions to locked. When valid is non-nil it is evaluated under
// v.mu and the transition is skipped if it returns false.
func (v *Vault) lock(reason string, valid func() bool) {
	v.transition.Lock()
	defer v.transition.Unlock()

	v.mu.Lock()
	if v.locked || (valid != nil && !valid()) {
		v.mu.Unlock()
		return
	}
	v.locked = true
	v.disarm()
	handlers := append([]func(){}, v.onLock...)
	v.mu.Unlock()

	v.log.Debug("vault locked", zap.String("reason", reason))
	for _, fn := range handlers {
		fn()
	}
}

// Unlock runs the unlock flow for the current policy. Plain vaults unlock
// without a challenge. A failed challenge counts toward MaxInvalidAttempts;
// reaching it with ClearAfterTooManyFailedAttempts purges every record and
// leaves the vault locked.
func (v *Vault) Unlock(ctx context.Context) error {
	v.mu.Lock()
	if !v.locked {
		v.mu.Unlock()
		return nil
	}
	cfg := v.cfg
	v.mu.Unlock()

	if cfg.StorageKind == models.DeviceSecurity {
		if err := v.challenge(ctx, cfg.DeviceSecurityKind); err != nil {
			return v.failUnlock(ctx, err)
		}
	}

	v.transition.Lock()
	defer v.transition.Unlock()

	v.mu.Lock()
	v.failures = 0
	if !v.locked {
		v.mu.Unlock()
		return nil
	}
	v.locked = false
	v.armLocked()
	handlers := append([]func(){}, v.onUnlock...)
	v.mu.Unlock()

	v.log.Debug("vault unlocked")
	for _, fn := range handlers {
		fn()
	}
	return nil
}

func (v *Vault) challenge(ctx context.Context, kind models.DeviceSecurityKind) error {
	switch kind {
	case models.SecurityBiometric:
		return v.run(ctx, v.biometric)
	case models.SecuritySystemPasscode:
		return v.run(ctx, v.passcode)
	case models.SecurityBoth:
		if v.biometric != nil {
			if err := v.biometric.Authenticate(ctx); err == nil {
				return nil
			}
		}
		return v.run(ctx, v.passcode)
	default:
		return nil
	}
}

func (v *Vault) run(ctx context.Context, a Authenticator) error {
	if a == nil {
		return ErrUnsupported
	}
	return a.Authenticate(ctx)
}

func (v *Vault) failUnlock(ctx context.Context, cause error) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !errors.Is(cause, ErrAuthFailed) {
		cause = fmt.Errorf("%w: %v", ErrAuthFailed, cause)
	}
	v.failures++
	if v.cfg.MaxInvalidAttempts <= 0 || v.failures < v.cfg.MaxInvalidAttempts {
		return cause
	}

	attempts := v.failures
	v.failures = 0
	if !v.cfg.ClearAfterTooManyFailedAttempts {
		return cause
	}
	if err := v.backend.DeleteAll(ctx, v.cfg.Key); err != nil {
		v.log.Error("failed to purge vault after too many attempts", zap.Error(err))
		return errors.Join(cause, err)
	}
	v.log.Warn("vault purged after too many failed unlock attempts", zap.Int("attempts", attempts))
	return cause
}

// Clear erases every record. An empty vault has nothing to gate, so a locked
// vault is unlocked afterwards.
func (v *Vault) Clear(ctx context.Context) error {
	v.transition.Lock()
	defer v.transition.Unlock()

	v.mu.Lock()
	if err := v.backend.DeleteAll(ctx, v.cfg.Key); err != nil {
		v.mu.Unlock()
		return fmt.Errorf("clear: %w", err)
	}
	v.failures = 0
	wasLocked := v.locked
	v.locked = false
	v.armLocked()
	var handlers []func()
	if wasLocked {
		handlers = append(handlers, v.onUnlock...)
	}
	v.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
	return nil
}

// Reconfigure replaces the vault policy and saves its lock kinds next to the
// records. Stored records are kept as they are; only how future unlocks are
// gated changes. A locked gated vault refuses with ErrLocked: its gate has to
// be passed before it can be changed.
func (v *Vault) Reconfigure(ctx context.Context, cfg models.VaultConfig) error {
	if err := v.validate(cfg); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if cfg.Key != v.cfg.Key {
		return fmt.Errorf("%w: key cannot change from %q to %q", ErrInvalidConfig, v.cfg.Key, cfg.Key)
	}
	if v.locked && v.cfg.StorageKind == models.DeviceSecurity {
		return fmt.Errorf("reconfigure: %w", ErrLocked)
	}
	if err := v.savePolicy(ctx, cfg); err != nil {
		return err
	}
	v.cfg = cfg
	if v.locked {
		v.disarm()
	} else {
		v.armLocked()
	}
	v.log.Debug("vault reconfigured",
		zap.String("storage_kind", string(cfg.StorageKind)),
		zap.String("device_security_kind", string(cfg.DeviceSecurityKind)))
	return nil
}

func (v *Vault) validate(cfg models.VaultConfig) error {
	if cfg.Key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidConfig)
	}
	if cfg.LockAfter < 0 || cfg.MaxInvalidAttempts < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidConfig)
	}
	switch cfg.StorageKind {
	case models.PlainSecure:
		if cfg.DeviceSecurityKind != models.SecurityNone && cfg.DeviceSecurityKind != "" {
			return fmt.Errorf("%w: %s storage cannot use %s security",
				ErrInvalidConfig, cfg.StorageKind, cfg.DeviceSecurityKind)
		}
	case models.DeviceSecurity:
		switch cfg.DeviceSecurityKind {
		case models.SecurityBiometric:
			if v.biometric == nil {
				return fmt.Errorf("%w: %s", ErrUnsupported, cfg.DeviceSecurityKind)
			}
		case models.SecuritySystemPasscode:
			if v.passcode == nil {
				return fmt.Errorf("%w: %s", ErrUnsupported, cfg.DeviceSecurityKind)
			}
		case models.SecurityBoth:
			if v.biometric == nil && v.passcode == nil {
				return fmt.Errorf("%w: %s", ErrUnsupported, cfg.DeviceSecurityKind)
			}
		default:
			return fmt.Errorf("%w: device security kind %q", ErrInvalidConfig, cfg.DeviceSecurityKind)
		}
	default:
		return fmt.Errorf("%w: storage kind %q", ErrInvalidConfig, cfg.StorageKind)
	}
	return nil
}

// armLocked (re)starts the inactivity timer of an unlocked gated vault.
// It must be called with v.mu held.
func (v *Vault) armLocked() {
	v.disarm()
	if v.locked || v.cfg.StorageKind != models.DeviceSecurity || v.cfg.LockAfter <= 0 {
		return
	}
	gen := v.timerGen
	v.timer = time.AfterFunc(v.cfg.LockAfter, func() { v.autoLock(gen) })
}

// disarm must be called with v.mu held.
func (v *Vault) disarm() {
	v.timerGen++
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
}

func (v *Vault) autoLock(gen uint64) {
	v.lock("inactivity", func() bool { return gen == v.timerGen })
}
