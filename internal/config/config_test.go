package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, args ...string) (*Options, error) {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	o := New(fs)
	// keep a stray config.json in the working directory out of the way
	args = append([]string{"-c", filepath.Join(t.TempDir(), "none.json")}, args...)
	return o, o.Load(fs, args)
}

func TestLoad_Defaults(t *testing.T) {
	o, err := load(t)
	require.NoError(t, err)
	assert.Equal(t, "localhost:8080", o.Addr)
	assert.Equal(t, BackendMemory, o.Backend)
	assert.Equal(t, 2*time.Second, time.Duration(o.LockAfter))
	assert.Equal(t, 2, o.MaxInvalidAttempts)

	cfg := o.VaultConfig()
	assert.Equal(t, "io.ionic.getstartedivvue", cfg.Key)
	assert.True(t, cfg.ClearAfterTooManyFailedAttempts)
	assert.False(t, cfg.UnlockOnLoad)
}

func TestLoad_Flags(t *testing.T) {
	o, err := load(t, "-a", ":9000", "-backend", "file", "-lock-after", "10m", "-max-attempts", "5")
	require.NoError(t, err)
	assert.Equal(t, ":9000", o.Addr)
	assert.Equal(t, BackendFile, o.Backend)
	assert.Equal(t, 10*time.Minute, o.VaultConfig().LockAfter)
	assert.Equal(t, 5, o.VaultConfig().MaxInvalidAttempts)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"addr": ":7000",
		"backend": "postgres",
		"database_dsn": "postgres://file",
		"lock_after": "30s"
	}`), 0600))

	t.Setenv("CONFIG", path)
	t.Setenv("DATABASE_DSN", "postgres://env")
	t.Setenv("VAULT_MAX_ATTEMPTS", "3")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	o := New(fs)
	require.NoError(t, o.Load(fs, nil))

	assert.Equal(t, ":7000", o.Addr)
	assert.Equal(t, BackendPostgres, o.Backend)
	assert.Equal(t, "postgres://env", o.DatabaseDSN, "env overrides file")
	assert.Equal(t, 30*time.Second, time.Duration(o.LockAfter))
	assert.Equal(t, 3, o.MaxInvalidAttempts)
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{"unknown backend", []string{"-backend", "s3"}, nil},
		{"postgres without dsn", []string{"-backend", "postgres"}, nil},
		{"bad duration flag", []string{"-lock-after", "soon"}, nil},
		{"bad duration env", nil, map[string]string{"VAULT_LOCK_AFTER": "soon"}},
		{"bad attempts env", nil, map[string]string{"VAULT_MAX_ATTEMPTS": "two"}},
		{"negative attempts", []string{"-max-attempts", "-1"}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := load(t, tc.args...)
			assert.Error(t, err)
		})
	}
}

func TestLoad_BadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"lock_after": 5}`), 0600))
	_, err := load(t, "-c", path)
	assert.ErrorContains(t, err, "parsing config file")
}
