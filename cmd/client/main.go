package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/atinyakov/sessionvault/internal/app"
	"github.com/atinyakov/sessionvault/internal/config"
	"github.com/atinyakov/sessionvault/internal/logger"
	"github.com/atinyakov/sessionvault/internal/models"
	"github.com/atinyakov/sessionvault/internal/securestore"
	"github.com/atinyakov/sessionvault/internal/service"
	"go.uber.org/zap"
)

var (
	version   string
	buildDate string
)

// repl runs the interactive shell loop, accepting commands to manage the session.
func repl(ctx context.Context, m *service.SessionManager, scanner *bufio.Scanner, out io.Writer) {
	for {
		fmt.Fprint(out, "sessionvault> ")
		if !scanner.Scan() {
			break
		}
		args := strings.Fields(strings.TrimSpace(scanner.Text()))
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "help":
			fmt.Fprintln(out, "Available commands: help, status, set <value>, restore, lock, unlock, clear, mode <LockMode>, exit")
			fmt.Fprintf(out, "Lock modes: %s\n", joinModes())
		case "status":
			printStatus(out, m.Snapshot())
		case "set":
			if len(args) < 2 {
				fmt.Fprintln(out, "Usage: set <value>")
				continue
			}
			value := strings.Join(args[1:], " ")
			if err := m.SetSession(ctx, value); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "Session stored")
		case "restore":
			value, err := m.RestoreSession(ctx)
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			if value == nil {
				fmt.Fprintln(out, "No session")
			} else {
				fmt.Fprintf(out, "Session: %s\n", *value)
			}
		case "lock":
			if err := m.Lock(ctx); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "Vault locked")
		case "unlock":
			if err := m.Unlock(ctx); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				if !m.Snapshot().Exists {
					fmt.Fprintln(out, "Too many failed attempts: session removed")
				}
				continue
			}
			fmt.Fprintln(out, "Vault unlocked")
		case "clear":
			if err := m.Clear(ctx); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "Vault cleared")
		case "mode":
			if len(args) < 2 {
				fmt.Fprintf(out, "Current mode: %s\n", m.CurrentMode())
				continue
			}
			mode, err := models.ParseLockMode(args[1])
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			if err := m.SetLockMode(ctx, mode); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "Lock mode set to %s\n", m.CurrentMode())
		case "exit":
			fmt.Fprintln(out, "Bye")
			return
		default:
			fmt.Fprintln(out, "Unknown command. Type 'help' for a list of commands.")
		}
	}
}

func printStatus(out io.Writer, st service.State) {
	session := "<none>"
	if st.Session != nil {
		session = *st.Session
	}
	fmt.Fprintf(out, "mode=%s locked=%t exists=%t storage=%s security=%s session=%s\n",
		st.Mode, st.Locked, st.Exists, st.StorageKind, st.DeviceSecurityKind, session)
}

func joinModes() string {
	names := make([]string, 0, len(models.LockModes))
	for _, m := range models.LockModes {
		names = append(names, string(m))
	}
	return strings.Join(names, ", ")
}

// watchLocks reports lock transitions that happen while the shell waits for
// input, such as an inactivity auto-lock.
func watchLocks(ctx context.Context, m *service.SessionManager, out io.Writer) {
	states, unsubscribe := m.Subscribe(4)
	go func() {
		defer unsubscribe()
		first := true
		var locked bool
		for {
			select {
			case <-ctx.Done():
				return
			case st, ok := <-states:
				if !ok {
					return
				}
				if !first && st.Locked && !locked {
					fmt.Fprintln(out, "\n[vault locked]")
				}
				first, locked = false, st.Locked
			}
		}
	}()
}

// main parses configuration, opens the vault and starts the shell.
func main() {
	var showVer bool
	flag.BoolVar(&showVer, "version", false, "show build version and date")
	options := config.Parse()

	if showVer {
		fmt.Printf("Session Vault Client\nVersion: %s\nBuild Date: %s\n", version, buildDate)
		return
	}

	lg := logger.New()
	defer func() { _ = lg.Log.Sync() }()
	if err := lg.Init(options.LogLevel); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scanner := bufio.NewScanner(os.Stdin)
	vault, closeVault, err := app.OpenVault(ctx, options, app.Deps{
		Biometric: securestore.PromptBiometric(scanner, os.Stdout),
		Passcode:  securestore.PromptPasscode(scanner, os.Stdout),
	}, lg.Log)
	if err != nil {
		lg.Log.Fatal("cannot open vault", zap.Error(err))
	}
	defer closeVault()

	m, err := service.NewSessionManager(ctx, vault, lg.Log)
	if err != nil {
		lg.Log.Fatal("cannot start session manager", zap.Error(err))
	}

	watchLocks(ctx, m, os.Stdout)
	printStatus(os.Stdout, m.Snapshot())
	repl(ctx, m, scanner, os.Stdout)
}
