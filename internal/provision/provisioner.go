// Package provision manages the container substrate proxy instances run on.
package provision

import (
	"context"
	"errors"
	"regexp"
)

// ErrInstanceNotFound is returned by Remove/Ready when no instance with the
// given name exists on the substrate.
var ErrInstanceNotFound = errors.New("instance not found")

// usernameRe restricts usernames to what is safe inside container names,
// hostnames and filesystem paths.
var usernameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

// ValidUsername reports whether a username may be used as an instance suffix.
func ValidUsername(username string) bool {
	return usernameRe.MatchString(username)
}

// InstanceName returns the deterministic instance name for a username. The
// name doubles as the in-network hostname the editor resolves.
func InstanceName(username string) string {
	return "proxy-" + username
}

// AllowedInstanceHost reports whether a hostname is one this deployment could
// have provisioned. The editor's outbound allow-list is built from this rule.
func AllowedInstanceHost(host string) bool {
	const prefix = "proxy-"
	if len(host) <= len(prefix) || host[:len(prefix)] != prefix {
		return false
	}
	return ValidUsername(host[len(prefix):])
}

// InstanceSpec is everything the substrate needs to run one proxy instance.
type InstanceSpec struct {
	Username string
	OwnerID  string
	APIKey   string
}

// Provisioner creates and tears down proxy instances. Implementations must be
// safe for concurrent use across distinct usernames; the caller serializes
// operations on the same username.
type Provisioner interface {
	// Create materializes and starts the instance for the spec.
	Create(ctx context.Context, spec InstanceSpec) error
	// Recreate replaces a running instance with one using the new spec.
	Recreate(ctx context.Context, spec InstanceSpec) error
	// Remove stops and deletes the instance. Returns ErrInstanceNotFound
	// when nothing is there to remove.
	Remove(ctx context.Context, username string) error
	// Exists reports whether any instance (running or not) is present.
	Exists(ctx context.Context, username string) (bool, error)
	// Ready reports whether the instance is up and serving.
	Ready(ctx context.Context, username string) (bool, error)
}
