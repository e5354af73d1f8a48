package lifecycle

import "errors"

var (
	// ErrDuplicateUser is returned when a live binding already exists for
	// the username.
	ErrDuplicateUser = errors.New("a proxy is already registered for this user")
	// ErrProvisionTimeout is returned when an instance fails to become
	// ready within the provisioning deadline.
	ErrProvisionTimeout = errors.New("proxy instance did not become ready in time")
	// ErrTeardownTimeout is returned when removal does not complete within
	// the teardown deadline.
	ErrTeardownTimeout = errors.New("proxy instance did not tear down in time")
	// ErrNotFound is returned when no binding exists for the username.
	ErrNotFound = errors.New("no proxy is registered for this user")
	// ErrInvalidUsername is returned for usernames unusable as instance names.
	ErrInvalidUsername = errors.New("invalid username")
)
