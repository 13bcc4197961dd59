// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across repository/service/transport layers.
var (
	// ErrNotFound indicates the record exists in neither backend.
	ErrNotFound = errors.New("not found")

	// ErrRemote indicates any failure of a remote store call (network, auth, malformed payload, server error).
	ErrRemote = errors.New("remote store error")

	// ErrRemoteNotFound indicates the remote store was reached but holds no matching record.
	ErrRemoteNotFound = errors.New("remote: not found")

	// ErrStorageUnavailable indicates the local cache medium itself failed (quota, serialization, disabled).
	ErrStorageUnavailable = errors.New("local storage unavailable")

	// ErrInvalidArgument indicates a request rejected by validation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates a temporary lock after repeated auth failures.
	ErrRateLimited = errors.New("rate limited")
)

// RemoteError wraps a failed remote call with the operation and collection it targeted.
// It matches ErrRemote with errors.Is; the cause stays reachable through Unwrap.
type RemoteError struct {
	Op         string
	Collection string
	Err        error
}

// Remote wraps err as a RemoteError. A nil err yields nil.
func Remote(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	return &RemoteError{Op: op, Collection: collection, Err: err}
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrRemote) match every RemoteError.
func (e *RemoteError) Is(target error) bool { return target == ErrRemote }

// Storage wraps err as ErrStorageUnavailable, keeping the cause in the message.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
