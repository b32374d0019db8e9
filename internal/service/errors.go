package service

import "fmt"

// ErrorKind classifies failures surfaced by the SessionManager.
type ErrorKind string

const (
	// KindStoreUnavailable means the secure store could not be reached.
	KindStoreUnavailable ErrorKind = "store unavailable"
	// KindWriteFailed means a set or clear did not complete.
	KindWriteFailed ErrorKind = "write failed"
	// KindReadFailed means a get did not complete.
	KindReadFailed ErrorKind = "read failed"
	// KindUnlockFailed means an unlock challenge was not passed.
	KindUnlockFailed ErrorKind = "unlock failed"
	// KindReconfigureRejected means the store refused a lock mode.
	KindReconfigureRejected ErrorKind = "reconfigure rejected"
)

// Sentinels for errors.Is matching on a StoreError's kind.
var (
	ErrStoreUnavailable    = &StoreError{Kind: KindStoreUnavailable}
	ErrWriteFailed         = &StoreError{Kind: KindWriteFailed}
	ErrReadFailed          = &StoreError{Kind: KindReadFailed}
	ErrUnlockFailed        = &StoreError{Kind: KindUnlockFailed}
	ErrReconfigureRejected = &StoreError{Kind: KindReconfigureRejected}
)

// StoreError is the typed failure every SessionManager operation returns.
type StoreError struct {
	Kind ErrorKind
	// Op names the manager operation that failed.
	Op string
	// Err is the underlying store error.
	Err error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is matches any StoreError of the same kind, so callers can write
// errors.Is(err, service.ErrUnlockFailed).
func (e *StoreError) Is(target error) bool {
	se, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return se.Kind == e.Kind && se.Op == "" && se.Err == nil
}

func storeErr(kind ErrorKind, op string, err error) error {
	return &StoreError{Kind: kind, Op: op, Err: err}
}
