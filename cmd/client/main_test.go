package main

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/atinyakov/sessionvault/internal/models"
	"github.com/atinyakov/sessionvault/internal/securestore"
	"github.com/atinyakov/sessionvault/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runShell(t *testing.T, input string, opts func(*bufio.Scanner, *bytes.Buffer) securestore.Options) (string, *service.SessionManager) {
	t.Helper()
	ctx := context.Background()
	scanner := bufio.NewScanner(strings.NewReader(input))
	var out bytes.Buffer

	cfg := models.DefaultVaultConfig()
	cfg.LockAfter = 0
	v, err := securestore.NewVault(ctx, cfg, opts(scanner, &out))
	require.NoError(t, err)
	m, err := service.NewSessionManager(ctx, v, nil)
	require.NoError(t, err)

	repl(ctx, m, scanner, &out)
	return out.String(), m
}

func TestRepl_PasscodeFlow(t *testing.T) {
	hash, err := securestore.HashPasscode("1234")
	require.NoError(t, err)

	input := strings.Join([]string{
		"set tok 1",
		"mode SystemPasscode",
		"lock",
		"restore",
		"unlock",
		"1234",
		"restore",
		"exit",
		"status",
	}, "\n")

	out, m := runShell(t, input, func(sc *bufio.Scanner, buf *bytes.Buffer) securestore.Options {
		pa, err := securestore.NewPasscodeAuthenticator(hash, securestore.PromptPasscode(sc, buf))
		require.NoError(t, err)
		return securestore.Options{
			Backend:  securestore.NewMemoryBackend(),
			Secret:   []byte("device-secret"),
			Passcode: pa,
		}
	})

	assert.Contains(t, out, "Session stored")
	assert.Contains(t, out, "Lock mode set to SystemPasscode")
	assert.Contains(t, out, "Vault locked")
	assert.Contains(t, out, "vault is locked")
	assert.Contains(t, out, "Enter passcode: ")
	assert.Contains(t, out, "Vault unlocked")
	assert.Contains(t, out, "Session: tok 1")
	assert.Contains(t, out, "Bye")
	assert.NotContains(t, out, "mode=", "commands after exit are not run")
	assert.Equal(t, models.SystemPasscode, m.CurrentMode())
}

func TestRepl_PurgeAfterFailedUnlocks(t *testing.T) {
	input := "set tok\nmode Biometric\nlock\nunlock\nn\nunlock\nn\nstatus\n"

	out, m := runShell(t, input, func(sc *bufio.Scanner, buf *bytes.Buffer) securestore.Options {
		return securestore.Options{
			Backend:   securestore.NewMemoryBackend(),
			Secret:    []byte("device-secret"),
			Biometric: securestore.PromptBiometric(sc, buf),
		}
	})

	assert.Equal(t, 2, strings.Count(out, "Confirm biometric"))
	assert.Contains(t, out, "Too many failed attempts: session removed")
	assert.Contains(t, out, "exists=false")
	assert.False(t, m.Snapshot().Exists)
}

func TestRepl_UsageAndErrors(t *testing.T) {
	input := "\nset\nmode\nmode Retina\nmode Biometric\nbogus\nhelp\n"

	out, _ := runShell(t, input, func(*bufio.Scanner, *bytes.Buffer) securestore.Options {
		return securestore.Options{Backend: securestore.NewMemoryBackend(), Secret: []byte("s")}
	})

	assert.Contains(t, out, "Usage: set <value>")
	assert.Contains(t, out, "Current mode: NoLock")
	assert.Contains(t, out, `unknown lock mode "Retina"`)
	assert.Contains(t, out, "reconfigure rejected")
	assert.Contains(t, out, "Unknown command")
	assert.Contains(t, out, "BiometricOrPasscode")
}
