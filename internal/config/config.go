// Package config provides functionality for managing configuration options
// for the application using command-line flags, a JSON config file and
// environment variables, applied in that order.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/atinyakov/sessionvault/internal/models"
)

// Backends accepted by Options.Backend.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Duration is a time.Duration that reads "1m30s" style strings from flags and JSON.
type Duration time.Duration

func (d *Duration) String() string { return time.Duration(*d).String() }

func (d *Duration) Set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	return d.Set(s)
}

// Options holds the configuration values for the application.
type Options struct {
	// Addr defines the HTTP server's listening address (ip:port).
	Addr string `json:"addr"`

	// DatabaseDSN holds the Postgres connection string for the postgres backend.
	DatabaseDSN string `json:"database_dsn"`

	// Config is the path to the Config file.
	Config string `json:"-"`

	// Backend selects where sealed records live: memory, file or postgres.
	Backend string `json:"backend"`

	// DataFile is the JSON file used by the file backend.
	DataFile string `json:"data_file"`

	// KeyFile holds the device secret records are sealed with.
	KeyFile string `json:"key_file"`

	// PasscodeHash is the bcrypt hash of the system passcode. Empty disables
	// the SystemPasscode gate.
	PasscodeHash string `json:"passcode_hash"`

	// LockAfter is the inactivity period after which a gated vault locks.
	LockAfter Duration `json:"lock_after"`

	// MaxInvalidAttempts is the number of failed unlocks before the vault is purged.
	MaxInvalidAttempts int `json:"max_invalid_attempts"`

	// LogLevel is the zap level name.
	LogLevel string `json:"log_level"`
}

// New registers the option flags on fs and returns the Options they fill.
func New(fs *flag.FlagSet) *Options {
	o := &Options{LockAfter: Duration(models.DefaultVaultConfig().LockAfter)}
	fs.StringVar(&o.Addr, "a", "localhost:8080", "run on ip:port server")
	fs.StringVar(&o.DatabaseDSN, "d", "", "db address")
	fs.StringVar(&o.Config, "config", "config.json", "path to config file")
	fs.StringVar(&o.Config, "c", "config.json", "path to config file (shorthand)")
	fs.StringVar(&o.Backend, "backend", BackendMemory, "record backend: memory | file | postgres")
	fs.StringVar(&o.DataFile, "data", "vault.json", "vault file for the file backend")
	fs.StringVar(&o.KeyFile, "key", "device.key", "device secret file")
	fs.StringVar(&o.PasscodeHash, "passcode-hash", "", "bcrypt hash of the system passcode")
	fs.Var(&o.LockAfter, "lock-after", "inactivity auto-lock duration")
	fs.IntVar(&o.MaxInvalidAttempts, "max-attempts", models.DefaultVaultConfig().MaxInvalidAttempts, "failed unlocks before purge")
	fs.StringVar(&o.LogLevel, "log-level", "info", "log level")
	return o
}

// Load parses args, then overlays the config file and environment variables.
func (o *Options) Load(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}

	if configPath := os.Getenv("CONFIG"); configPath != "" {
		o.Config = configPath
	}

	if o.Config != "" {
		if _, err := os.Stat(o.Config); err == nil {
			data, err := os.ReadFile(o.Config)
			if err != nil {
				return fmt.Errorf("error while reading config file: %w", err)
			}
			if err := json.Unmarshal(data, o); err != nil {
				return fmt.Errorf("error while parsing config file: %w", err)
			}
		}
	}

	if serverAddress := os.Getenv("SERVER_ADDRESS"); serverAddress != "" {
		o.Addr = serverAddress
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		o.DatabaseDSN = dsn
	}
	if backend := os.Getenv("VAULT_BACKEND"); backend != "" {
		o.Backend = backend
	}
	if dataFile := os.Getenv("VAULT_DATA_FILE"); dataFile != "" {
		o.DataFile = dataFile
	}
	if keyFile := os.Getenv("VAULT_KEY_FILE"); keyFile != "" {
		o.KeyFile = keyFile
	}
	if hash := os.Getenv("VAULT_PASSCODE_HASH"); hash != "" {
		o.PasscodeHash = hash
	}
	if lockAfter := os.Getenv("VAULT_LOCK_AFTER"); lockAfter != "" {
		if err := o.LockAfter.Set(lockAfter); err != nil {
			return fmt.Errorf("VAULT_LOCK_AFTER: %w", err)
		}
	}
	if attempts := os.Getenv("VAULT_MAX_ATTEMPTS"); attempts != "" {
		n, err := strconv.Atoi(attempts)
		if err != nil {
			return fmt.Errorf("VAULT_MAX_ATTEMPTS: %w", err)
		}
		o.MaxInvalidAttempts = n
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		o.LogLevel = level
	}

	return o.validate()
}

func (o *Options) validate() error {
	switch o.Backend {
	case BackendMemory, BackendFile:
	case BackendPostgres:
		if o.DatabaseDSN == "" {
			return fmt.Errorf("backend %q requires a database DSN", o.Backend)
		}
	default:
		return fmt.Errorf("unknown backend %q", o.Backend)
	}
	if o.LockAfter < 0 || o.MaxInvalidAttempts < 0 {
		return fmt.Errorf("lock-after and max-attempts must not be negative")
	}
	return nil
}

// VaultConfig returns the baseline vault policy with the configured limits.
func (o *Options) VaultConfig() models.VaultConfig {
	cfg := models.DefaultVaultConfig()
	cfg.LockAfter = time.Duration(o.LockAfter)
	cfg.MaxInvalidAttempts = o.MaxInvalidAttempts
	return cfg
}

// Parse parses the command-line flags and environment variables to set
// configuration values. It returns a pointer to the Options struct containing
// the parsed configuration values.
func Parse() *Options {
	options := New(flag.CommandLine)
	if err := options.Load(flag.CommandLine, os.Args[1:]); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	return options
}
