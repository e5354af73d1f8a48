package registry

import (
	"context"
	"errors"
	"time"

	"github.com/overlab/overlab/internal/models"
)

var (
	// ErrNotFound is returned when no binding exists for a username.
	ErrNotFound = errors.New("binding not found")
)

// Repository defines persistence operations for proxy bindings. The registry
// is the single source of truth for desired state: the lifecycle manager
// consults it before every mutating decision and never caches it.
type Repository interface {
	// Upsert inserts or replaces the binding for its username.
	Upsert(ctx context.Context, b *models.Binding) (*models.Binding, error)
	// Get returns the binding for username, or ErrNotFound.
	Get(ctx context.Context, username string) (*models.Binding, error)
	// List returns all bindings, including Removed audit rows.
	List(ctx context.Context) ([]*models.Binding, error)
	// UpdateStatus performs a compare-and-set: status moves from->to only if
	// the stored status still equals from. Returns whether the swap applied.
	UpdateStatus(ctx context.Context, username string, from, to models.BindingStatus) (bool, error)
	// UpdateCredentials replaces both secret fields atomically and stamps
	// lastValidatedAt. Partial credential updates are not possible.
	UpdateCredentials(ctx context.Context, username, apiCredential, ownerID string, validatedAt time.Time) error
	// Delete removes the binding row entirely.
	Delete(ctx context.Context, username string) error
}
