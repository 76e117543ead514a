// Package errdefs defines the error kinds shared by the storage, access
// control and identity layers. Callers match them with errors.Is and
// errors.As; concrete errors carry the context needed for audit logs.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a lookup miss. Managers normally report absence as a
	// nil result instead of returning it.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating an object whose id is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrAccessDenied is matched by every *AccessDeniedError.
	ErrAccessDenied = errors.New("access denied")

	// ErrStorage is matched by every *StorageError.
	ErrStorage = errors.New("storage client error")

	// ErrInvalidToken marks a proxy or trusted token that failed validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrConfiguration marks missing or unusable setup. Fatal at startup.
	ErrConfiguration = errors.New("configuration error")
)

// AccessDeniedError reports a failed permission check.
type AccessDeniedError struct {
	Principal  string
	Zone       string
	Path       string
	Permission string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: %s lacks %s on %s:%s", e.Principal, e.Permission, e.Zone, e.Path)
}

// Is lets errors.Is(err, ErrAccessDenied) match.
func (e *AccessDeniedError) Is(target error) bool {
	return target == ErrAccessDenied
}

// AccessDenied builds an *AccessDeniedError.
func AccessDenied(principal, zone, path, permission string) error {
	return &AccessDeniedError{Principal: principal, Zone: zone, Path: path, Permission: permission}
}

// StorageError wraps a backend failure. The core never retries these.
type StorageError struct {
	Op      string
	Backend string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", ErrStorage, e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStorage) match.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// Storage wraps err as a *StorageError. A nil err stays nil.
func Storage(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Backend: backend, Err: err}
}

// Configuration returns an error matching ErrConfiguration.
func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// IsAccessDenied reports whether err is an access control failure.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}
