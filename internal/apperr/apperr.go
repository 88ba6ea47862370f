// Package apperr defines the typed error taxonomy shared across ICS-Guard's
// components. Transport and coordination errors are recovered where they
// occur; semantic errors are wrapped with one of these sentinels so the
// HTTP layer can map them to a stable status code without re-deriving
// intent from error strings.
package apperr

import "errors"

var (
	// ErrValidation marks a malformed or semantically invalid request.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrForbidden marks a permission failure.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict marks a uniqueness or state conflict.
	ErrConflict = errors.New("conflict")
	// ErrTransientStorageLock marks a storage contention error that bounded
	// retry could not clear within its attempt budget.
	ErrTransientStorageLock = errors.New("storage temporarily locked")
	// ErrQueueFull marks a best-effort drop at the detection pipeline's
	// ingress; callers must not treat this as a failure worth surfacing.
	ErrQueueFull = errors.New("detection queue full")
	// ErrControllerUnavailable marks an unreachable or erroring controller.
	ErrControllerUnavailable = errors.New("controller unavailable")
	// ErrAuthentication marks an authentication failure against the
	// controller that a token refresh could not resolve.
	ErrAuthentication = errors.New("authentication failed")
)

// StatusCode returns the HTTP status code the REST surface should use for
// a given sentinel, walking wrapped errors with errors.Is.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return 200
	case errors.Is(err, ErrValidation):
		return 400
	case errors.Is(err, ErrAuthentication):
		return 401
	case errors.Is(err, ErrForbidden):
		return 403
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrConflict):
		return 409
	case errors.Is(err, ErrControllerUnavailable):
		return 502
	case errors.Is(err, ErrTransientStorageLock):
		return 500
	default:
		return 500
	}
}
