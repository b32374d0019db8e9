package securestore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// PromptPasscode returns a PasscodeSource that asks for the passcode on out
// and reads one line from scanner. The scanner is shared with the caller's
// command loop so no buffered input is lost between prompts.
func PromptPasscode(scanner *bufio.Scanner, out io.Writer) PasscodeSource {
	return func(ctx context.Context) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		fmt.Fprint(out, "Enter passcode: ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", errors.New("no passcode entered")
		}
		return strings.TrimSpace(scanner.Text()), nil
	}
}

// PromptBiometric stands in for a platform biometric prompt on a terminal:
// the user confirms presence by answering "y".
func PromptBiometric(scanner *bufio.Scanner, out io.Writer) Authenticator {
	return AuthenticatorFunc(func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(out, "Confirm biometric (y/N): ")
		if !scanner.Scan() {
			return ErrAuthFailed
		}
		if strings.EqualFold(strings.TrimSpace(scanner.Text()), "y") {
			return nil
		}
		return ErrAuthFailed
	})
}
