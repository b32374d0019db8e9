package models

import (
	"testing"
	"time"
)

func TestLockModePolicy(t *testing.T) {
	cases := []struct {
		mode     LockMode
		storage  StorageKind
		security DeviceSecurityKind
		ok       bool
	}{
		{NoLock, PlainSecure, SecurityNone, true},
		{Biometric, DeviceSecurity, SecurityBiometric, true},
		{SystemPasscode, DeviceSecurity, SecuritySystemPasscode, true},
		{BiometricOrPasscode, DeviceSecurity, SecurityBoth, true},
		{ModeUnset, "", "", false},
		{LockMode("Retina"), "", "", false},
	}
	for _, tc := range cases {
		t.Run(string(tc.mode), func(t *testing.T) {
			storage, security, ok := tc.mode.Policy()
			if storage != tc.storage || security != tc.security || ok != tc.ok {
				t.Fatalf("Policy() = %s, %s, %v; want %s, %s, %v",
					storage, security, ok, tc.storage, tc.security, tc.ok)
			}
			if ok {
				if got := ModeFor(storage, security); got != tc.mode {
					t.Errorf("ModeFor(%s, %s) = %s; want %s", storage, security, got, tc.mode)
				}
			}
		})
	}
}

func TestModeFor_Fallbacks(t *testing.T) {
	if got := ModeFor(PlainSecure, SecurityBiometric); got != NoLock {
		t.Errorf("plain storage should map to NoLock, got %s", got)
	}
	if got := ModeFor(DeviceSecurity, SecurityNone); got != NoLock {
		t.Errorf("ungated device storage should map to NoLock, got %s", got)
	}
}

func TestParseLockMode(t *testing.T) {
	for _, m := range LockModes {
		got, err := ParseLockMode(string(m))
		if err != nil || got != m {
			t.Errorf("ParseLockMode(%q) = %q, %v", m, got, err)
		}
	}
	if got, err := ParseLockMode(""); err != nil || got != ModeUnset {
		t.Errorf("empty mode should parse to ModeUnset, got %q, %v", got, err)
	}
	if _, err := ParseLockMode("nolock"); err == nil {
		t.Error("mode names are case sensitive")
	}
}

func TestVaultConfig_WithMode(t *testing.T) {
	base := DefaultVaultConfig()
	base.LockAfter = 10 * time.Minute
	base.MaxInvalidAttempts = 5

	cfg, ok := base.WithMode(BiometricOrPasscode)
	if !ok {
		t.Fatal("WithMode rejected a known mode")
	}
	if cfg.StorageKind != DeviceSecurity || cfg.DeviceSecurityKind != SecurityBoth {
		t.Errorf("unexpected kinds %s/%s", cfg.StorageKind, cfg.DeviceSecurityKind)
	}
	if cfg.Key != base.Key || cfg.LockAfter != base.LockAfter || cfg.MaxInvalidAttempts != 5 ||
		!cfg.ClearAfterTooManyFailedAttempts {
		t.Errorf("WithMode changed unrelated fields: %+v", cfg)
	}
	if cfg.Mode() != BiometricOrPasscode {
		t.Errorf("Mode() = %s", cfg.Mode())
	}

	same, ok := base.WithMode(ModeUnset)
	if ok || same != base {
		t.Error("unset mode must leave the config untouched")
	}
}

func TestDefaultVaultConfig(t *testing.T) {
	cfg := DefaultVaultConfig()
	if cfg.Key != "io.ionic.getstartedivvue" || cfg.Mode() != NoLock {
		t.Errorf("unexpected baseline %+v", cfg)
	}
	if cfg.LockAfter != 2*time.Second || cfg.MaxInvalidAttempts != 2 || cfg.UnlockOnLoad {
		t.Errorf("unexpected limits %+v", cfg)
	}
}
