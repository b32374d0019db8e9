// Package models defines the core data structures shared by the vault,
// the session manager and its front ends.
package models

import (
	"fmt"
	"time"
)

// SessionKey is the name of the single record the session manager owns.
const SessionKey = "sessionData"

// DefaultVaultKey identifies the vault the application stores its session in.
const DefaultVaultKey = "io.ionic.getstartedivvue"

// LockMode is the policy governing what gate must be passed to unlock the vault.
type LockMode string

const (
	// ModeUnset is the zero value; it never triggers a reconfiguration.
	ModeUnset LockMode = ""
	// NoLock stores the session in plain secure storage.
	NoLock LockMode = "NoLock"
	// Biometric gates unlocking behind a biometric prompt.
	Biometric LockMode = "Biometric"
	// SystemPasscode gates unlocking behind the system passcode.
	SystemPasscode LockMode = "SystemPasscode"
	// BiometricOrPasscode accepts either a biometric or the system passcode.
	BiometricOrPasscode LockMode = "BiometricOrPasscode"
)

// LockModes lists every selectable mode in display order.
var LockModes = []LockMode{NoLock, Biometric, SystemPasscode, BiometricOrPasscode}

// StorageKind selects whether the vault is gated by device security at all.
type StorageKind string

const (
	// PlainSecure is encrypted storage with no unlock gate.
	PlainSecure StorageKind = "PlainSecure"
	// DeviceSecurity is encrypted storage gated by DeviceSecurityKind.
	DeviceSecurity StorageKind = "DeviceSecurity"
)

// DeviceSecurityKind selects the unlock gate of a DeviceSecurity vault.
type DeviceSecurityKind string

const (
	SecurityNone           DeviceSecurityKind = "None"
	SecurityBiometric      DeviceSecurityKind = "Biometric"
	SecuritySystemPasscode DeviceSecurityKind = "SystemPasscode"
	SecurityBoth           DeviceSecurityKind = "Both"
)

// Policy returns the storage and device-security kinds a lock mode maps to.
// ok is false for ModeUnset and unknown modes.
func (m LockMode) Policy() (storage StorageKind, security DeviceSecurityKind, ok bool) {
	switch m {
	case NoLock:
		return PlainSecure, SecurityNone, true
	case Biometric:
		return DeviceSecurity, SecurityBiometric, true
	case SystemPasscode:
		return DeviceSecurity, SecuritySystemPasscode, true
	case BiometricOrPasscode:
		return DeviceSecurity, SecurityBoth, true
	default:
		return "", "", false
	}
}

// ModeFor is the inverse of LockMode.Policy. Unknown combinations yield NoLock.
func ModeFor(storage StorageKind, security DeviceSecurityKind) LockMode {
	if storage != DeviceSecurity {
		return NoLock
	}
	switch security {
	case SecurityBiometric:
		return Biometric
	case SecuritySystemPasscode:
		return SystemPasscode
	case SecurityBoth:
		return BiometricOrPasscode
	default:
		return NoLock
	}
}

// ParseLockMode validates a user-supplied mode name. The empty string parses
// to ModeUnset.
func ParseLockMode(s string) (LockMode, error) {
	m := LockMode(s)
	if m == ModeUnset {
		return ModeUnset, nil
	}
	if _, _, ok := m.Policy(); !ok {
		return ModeUnset, fmt.Errorf("unknown lock mode %q", s)
	}
	return m, nil
}

// VaultConfig holds the policy a vault is configured with.
type VaultConfig struct {
	// Key identifies the vault within its backend.
	Key string `json:"key"`
	// StorageKind is the storage type of the vault.
	StorageKind StorageKind `json:"storage_kind"`
	// DeviceSecurityKind is the unlock gate; None for PlainSecure vaults.
	DeviceSecurityKind DeviceSecurityKind `json:"device_security_kind"`
	// LockAfter is the inactivity period after which the vault locks itself.
	LockAfter time.Duration `json:"lock_after"`
	// MaxInvalidAttempts is the number of failed unlocks tolerated.
	MaxInvalidAttempts int `json:"max_invalid_attempts"`
	// ClearAfterTooManyFailedAttempts purges the vault when MaxInvalidAttempts is reached.
	ClearAfterTooManyFailedAttempts bool `json:"clear_after_too_many_failed_attempts"`
	// UnlockOnLoad starts the vault unlocked even when it holds gated data.
	UnlockOnLoad bool `json:"unlock_on_load"`
}

// DefaultVaultConfig returns the baseline policy the application starts with.
func DefaultVaultConfig() VaultConfig {
	return VaultConfig{
		Key:                             DefaultVaultKey,
		StorageKind:                     PlainSecure,
		DeviceSecurityKind:              SecurityNone,
		LockAfter:                       2 * time.Second,
		MaxInvalidAttempts:              2,
		ClearAfterTooManyFailedAttempts: true,
		UnlockOnLoad:                    false,
	}
}

// WithMode returns a copy of c with the storage and device-security kinds
// of mode merged in. Every other field is left untouched.
func (c VaultConfig) WithMode(mode LockMode) (VaultConfig, bool) {
	storage, security, ok := mode.Policy()
	if !ok {
		return c, false
	}
	c.StorageKind = storage
	c.DeviceSecurityKind = security
	return c, true
}

// Mode reports the lock mode c corresponds to.
func (c VaultConfig) Mode() LockMode {
	return ModeFor(c.StorageKind, c.DeviceSecurityKind)
}
