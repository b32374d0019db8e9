package securestore

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator runs one unlock challenge (a biometric prompt or a passcode
// entry). A nil error means the user passed it.
type Authenticator interface {
	Authenticate(ctx context.Context) error
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context) error

func (f AuthenticatorFunc) Authenticate(ctx context.Context) error { return f(ctx) }

// AllowAuthenticator passes every challenge. It backs the browser vault,
// which has no real biometric or keychain gate.
type AllowAuthenticator struct{}

func (AllowAuthenticator) Authenticate(context.Context) error { return nil }

// DenyAuthenticator fails every challenge.
type DenyAuthenticator struct{}

func (DenyAuthenticator) Authenticate(context.Context) error { return ErrAuthFailed }

// PasscodeSource obtains the passcode the user typed.
type PasscodeSource func(ctx context.Context) (string, error)

// PasscodeAuthenticator checks an entered passcode against a bcrypt hash.
type PasscodeAuthenticator struct {
	hash   []byte
	source PasscodeSource
}

// NewPasscodeAuthenticator returns an authenticator comparing the passcode
// produced by source against hash.
func NewPasscodeAuthenticator(hash []byte, source PasscodeSource) (*PasscodeAuthenticator, error) {
	if _, err := bcrypt.Cost(hash); err != nil {
		return nil, fmt.Errorf("invalid passcode hash: %w", err)
	}
	if source == nil {
		return nil, errors.New("nil passcode source")
	}
	return &PasscodeAuthenticator{hash: hash, source: source}, nil
}

func (p *PasscodeAuthenticator) Authenticate(ctx context.Context) error {
	code, err := p.source(ctx)
	if err != nil {
		return fmt.Errorf("read passcode: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword(p.hash, []byte(code)); err != nil {
		return ErrAuthFailed
	}
	return nil
}

// HashPasscode produces the bcrypt hash a PasscodeAuthenticator expects.
func HashPasscode(code string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash passcode: %w", err)
	}
	return hash, nil
}

type passcodeKey struct{}

// WithPasscode returns a context carrying the passcode for ContextPasscode.
func WithPasscode(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, passcodeKey{}, code)
}

// ContextPasscode is a PasscodeSource for front ends that receive the passcode
// with the unlock request rather than prompting for it.
func ContextPasscode(ctx context.Context) (string, error) {
	code, ok := ctx.Value(passcodeKey{}).(string)
	if !ok || code == "" {
		return "", errors.New("no passcode supplied")
	}
	return code, nil
}
