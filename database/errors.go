package database

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ErrorKind discriminates every failure the store surfaces.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNameInUse
	KindInvalidRename
	KindInvalidItem
	KindMissingContentVersion
	KindNotFound
	// KindCleanState: the operation failed before mutating anything and may be retried.
	KindCleanState
	// KindDirtyState: the operation failed after a partial mutation. A rollback
	// was attempted; see StoreError.RollbackFailed.
	KindDirtyState
)

var kindNames = map[ErrorKind]string{
	KindUnknown:               "unknown",
	KindNameInUse:             "name in use",
	KindInvalidRename:         "invalid rename",
	KindInvalidItem:           "invalid item",
	KindMissingContentVersion: "missing content version",
	KindNotFound:              "not found",
	KindCleanState:            "error with clean state",
	KindDirtyState:            "error with dirty state",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// StoreError is the single error type returned by store operations.
type StoreError struct {
	Kind ErrorKind
	Op   string
	Err  error
	// RollbackFailed is set on dirty-state errors whose savepoint rollback
	// failed too. The store can no longer be trusted and should be restored
	// from the latest autosave.
	RollbackFailed bool
}

func (e *StoreError) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.RollbackFailed {
		msg += " (rollback failed, store is untrustworthy)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is matches the kind sentinels below, so errors.Is(err, ErrNotFound) works
// for any StoreError of that kind.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNameInUse             = &StoreError{Kind: KindNameInUse}
	ErrInvalidRename         = &StoreError{Kind: KindInvalidRename}
	ErrInvalidItem           = &StoreError{Kind: KindInvalidItem}
	ErrMissingContentVersion = &StoreError{Kind: KindMissingContentVersion}
	ErrNotFound              = &StoreError{Kind: KindNotFound}
	ErrCleanState            = &StoreError{Kind: KindCleanState}
	ErrDirtyState            = &StoreError{Kind: KindDirtyState}
)

// KindOf returns the kind of the first StoreError in err's chain.
func KindOf(err error) ErrorKind {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// IsUntrustworthy reports whether err says the store must be restored.
func IsUntrustworthy(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.RollbackFailed
}

// NewStoreError wraps err as a StoreError of kind for packages that run
// operations around the session, such as backup and restore.
func NewStoreError(kind ErrorKind, op string, err error) *StoreError {
	return newError(kind, op, err)
}

func newError(kind ErrorKind, op string, err error) *StoreError {
	if err != nil {
		err = pkgerrors.WithStack(err)
	}
	return &StoreError{Kind: kind, Op: op, Err: err}
}

func errorf(kind ErrorKind, op, format string, args ...any) *StoreError {
	return &StoreError{Kind: kind, Op: op, Err: pkgerrors.Errorf(format, args...)}
}

// classify keeps an already-kinded error and marks anything else as a
// dirty-state failure of op.
func classify(op string, err error) error {
	if KindOf(err) != KindUnknown {
		return err
	}
	return newError(KindDirtyState, op, err)
}
