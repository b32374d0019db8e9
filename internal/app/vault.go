// Package app assembles a secure store and session manager from configuration.
// Both binaries share it so they open the same vault the same way.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/atinyakov/sessionvault/internal/config"
	"github.com/atinyakov/sessionvault/internal/db"
	"github.com/atinyakov/sessionvault/internal/repository"
	"github.com/atinyakov/sessionvault/internal/securestore"
	"go.uber.org/zap"
)

const (
	cleanerInterval  = time.Hour
	cleanerRetention = 30 * 24 * time.Hour
)

// Deps are what a front end plugs into the vault. A nil Biometric or
// Passcode means the platform cannot run that challenge.
type Deps struct {
	Biometric securestore.Authenticator
	Passcode  securestore.PasscodeSource
	// OnPurge receives per vault key counts from the Postgres cleaner.
	OnPurge func(vault string, removed int64)
}

// OpenVault opens the vault selected by opts.Backend. The returned close
// func releases the backend; it is never nil.
func OpenVault(ctx context.Context, opts *config.Options, deps Deps, log *zap.Logger) (*securestore.Vault, func(), error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg := opts.VaultConfig()
	noop := func() {}

	if opts.Backend == config.BackendMemory {
		v, err := securestore.NewBrowserVault(ctx, cfg, log)
		if err != nil {
			return nil, noop, err
		}
		return v, noop, nil
	}

	secret, err := securestore.LoadOrCreateSecret(opts.KeyFile)
	if err != nil {
		return nil, noop, err
	}

	vopts := securestore.Options{
		Secret:    secret,
		Biometric: deps.Biometric,
		Logger:    log,
	}
	if opts.PasscodeHash != "" && deps.Passcode != nil {
		pa, err := securestore.NewPasscodeAuthenticator([]byte(opts.PasscodeHash), deps.Passcode)
		if err != nil {
			return nil, noop, err
		}
		vopts.Passcode = pa
	}

	closer := noop
	switch opts.Backend {
	case config.BackendFile:
		fb, err := securestore.NewFileBackend(opts.DataFile)
		if err != nil {
			return nil, noop, err
		}
		// the shell and the server may share one data file
		if err := fb.Watch(ctx, log); err != nil {
			log.Warn("vault file changes from other processes will not be seen", zap.Error(err))
		}
		vopts.Backend = fb
	case config.BackendPostgres:
		pg, err := db.InitPostgres(opts.DatabaseDSN)
		if err != nil {
			return nil, noop, fmt.Errorf("cannot init database: %w", err)
		}
		cleanerCtx, cancel := context.WithCancel(context.Background())
		cleaner := &db.ClearedRecordCleaner{
			DB:        pg,
			Retention: cleanerRetention,
			Log:       log,
			OnPurge:   deps.OnPurge,
		}
		cleaner.Start(cleanerCtx, cleanerInterval)
		vopts.Backend = repository.NewPostgresVaultRepository(pg)
		closer = closeDB(cancel, pg, log)
	default:
		return nil, noop, fmt.Errorf("unknown backend %q", opts.Backend)
	}

	v, err := securestore.NewVault(ctx, cfg, vopts)
	if err != nil {
		closer()
		return nil, noop, err
	}
	return v, closer, nil
}

func closeDB(cancel context.CancelFunc, pg *sql.DB, log *zap.Logger) func() {
	return func() {
		cancel()
		if err := pg.Close(); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}
}
