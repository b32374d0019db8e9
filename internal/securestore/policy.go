package securestore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/atinyakov/sessionvault/internal/models"
)

// policyItem is the single record of the policy vault that belongs to a
// data vault. It lives under its own vault key so Count and DeleteAll of the
// data vault never see it.
const policyItem = "policy"

// storedPolicy is the part of a VaultConfig that survives a restart.
type storedPolicy struct {
	StorageKind        models.StorageKind        `json:"storage_kind"`
	DeviceSecurityKind models.DeviceSecurityKind `json:"device_security_kind"`
}

func policyVault(key string) string {
	return key + "/policy"
}

// loadPolicy returns the saved lock kinds of vault key. The record is sealed,
// so a tampered or foreign policy fails to open instead of downgrading the gate.
func (v *Vault) loadPolicy(ctx context.Context, key string) (storedPolicy, bool, error) {
	var p storedPolicy
	data, ok, err := v.backend.Get(ctx, policyVault(key), policyItem)
	if err != nil {
		return p, false, fmt.Errorf("%w: load policy: %v", ErrUnavailable, err)
	}
	if !ok {
		return p, false, nil
	}
	plain, err := open(v.aead, policyVault(key), policyItem, data)
	if err != nil {
		return p, false, fmt.Errorf("%w: open policy: %v", ErrInvalidConfig, err)
	}
	if err := json.Unmarshal(plain, &p); err != nil {
		return p, false, fmt.Errorf("%w: decode policy: %v", ErrInvalidConfig, err)
	}
	return p, true, nil
}

// savePolicy must be called with v.mu held.
func (v *Vault) savePolicy(ctx context.Context, cfg models.VaultConfig) error {
	plain, err := json.Marshal(storedPolicy{
		StorageKind:        cfg.StorageKind,
		DeviceSecurityKind: cfg.DeviceSecurityKind,
	})
	if err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}
	data, err := seal(v.aead, policyVault(cfg.Key), policyItem, plain)
	if err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	if err := v.backend.Put(ctx, policyVault(cfg.Key), policyItem, data); err != nil {
		return fmt.Errorf("%w: save policy: %v", ErrUnavailable, err)
	}
	return nil
}
