// Package lifecycle drives proxy bindings through their states: pending on
// registration, active once the instance serves, failed on provisioning
// errors, removed on teardown. All transitions for one username run under a
// per-username lock.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/overlab/overlab/internal/models"
	"github.com/overlab/overlab/internal/provision"
	"github.com/overlab/overlab/internal/registry"
	"github.com/overlab/overlab/internal/zotero"
	"github.com/overlab/overlab/pkg/logger"
	"github.com/overlab/overlab/pkg/metrics"
)

// CredentialValidator probes a key/owner pair against the remote service.
// *zotero.Client satisfies this.
type CredentialValidator interface {
	ValidateKey(ctx context.Context, apiKey, ownerID string) (*zotero.KeyInfo, error)
}

// Options tunes the manager's deadlines.
type Options struct {
	ProvisionTimeout time.Duration
	TeardownTimeout  time.Duration
	// ReadyPollInterval is how often readiness is probed while waiting.
	ReadyPollInterval time.Duration
}

// Manager owns binding lifecycle transitions.
type Manager struct {
	registry  registry.Repository
	prov      provision.Provisioner
	validator CredentialValidator
	locks     *keyedLocks
	opts      Options
}

func NewManager(reg registry.Repository, prov provision.Provisioner, validator CredentialValidator, opts Options) *Manager {
	if opts.ProvisionTimeout <= 0 {
		opts.ProvisionTimeout = 45 * time.Second
	}
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = 30 * time.Second
	}
	if opts.ReadyPollInterval <= 0 {
		opts.ReadyPollInterval = 500 * time.Millisecond
	}
	return &Manager{
		registry:  reg,
		prov:      prov,
		validator: validator,
		locks:     newKeyedLocks(),
		opts:      opts,
	}
}

// CreateRequest registers a new user proxy.
type CreateRequest struct {
	Username    string
	OwnerID     string
	APIKey      string
	DisplayName string
}

// Create validates the credential, records a pending binding, provisions the
// instance and activates the binding once the instance is ready. On timeout
// the half-provisioned instance is torn down and the binding marked failed;
// a later Create for the same username retries from scratch.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*models.Binding, error) {
	if !provision.ValidUsername(req.Username) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUsername, req.Username)
	}
	unlock := m.locks.Lock(req.Username)
	defer unlock()

	existing, err := m.registry.Get(ctx, req.Username)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		return nil, err
	}
	// only a pending or active binding occupies the username; removed rows
	// are audit entries and failed rows may be retried
	if existing != nil && (existing.Status == models.StatusPending || existing.Status == models.StatusActive) {
		metrics.ProvisionOps.WithLabelValues("create", "duplicate").Inc()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateUser, req.Username)
	}

	info, err := m.validator.ValidateKey(ctx, req.APIKey, req.OwnerID)
	if err != nil {
		metrics.ProvisionOps.WithLabelValues("create", "invalid_credential").Inc()
		return nil, err
	}
	logger.Debugf("lifecycle: credential for %s validated (remote user %s)", req.Username, info.Username)

	binding := &models.Binding{
		Username:        req.Username,
		APICredential:   req.APIKey,
		OwnerID:         req.OwnerID,
		DisplayName:     req.DisplayName,
		Status:          models.StatusPending,
		LastValidatedAt: time.Now().UTC(),
	}
	binding, err = m.registry.Upsert(ctx, binding)
	if err != nil {
		return nil, err
	}

	spec := provision.InstanceSpec{Username: req.Username, OwnerID: req.OwnerID, APIKey: req.APIKey}
	if err := m.provisionAndWait(ctx, spec, m.prov.Create); err != nil {
		m.failPending(req.Username)
		metrics.ProvisionOps.WithLabelValues("create", "failed").Inc()
		return nil, err
	}

	ok, err := m.registry.UpdateStatus(ctx, req.Username, models.StatusPending, models.StatusActive)
	if err != nil {
		return nil, err
	}
	if !ok {
		// the row moved underneath us; report what is actually stored
		return m.registry.Get(ctx, req.Username)
	}
	metrics.ProvisionOps.WithLabelValues("create", "ok").Inc()
	logger.Infof("lifecycle: proxy %s is active", provision.InstanceName(req.Username))
	binding.Status = models.StatusActive
	return binding, nil
}

// RotateCredential validates the replacement credential and recreates the
// instance with it. Validation failures leave the binding and the running
// instance untouched.
func (m *Manager) RotateCredential(ctx context.Context, username, apiKey, ownerID string) (*models.Binding, error) {
	unlock := m.locks.Lock(username)
	defer unlock()

	binding, err := m.registry.Get(ctx, username)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, username)
		}
		return nil, err
	}
	if !binding.Live() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, username)
	}

	if _, err := m.validator.ValidateKey(ctx, apiKey, ownerID); err != nil {
		metrics.ProvisionOps.WithLabelValues("rotate", "invalid_credential").Inc()
		return nil, err
	}

	spec := provision.InstanceSpec{Username: username, OwnerID: ownerID, APIKey: apiKey}
	if err := m.provisionAndWait(ctx, spec, m.prov.Recreate); err != nil {
		if ok, _ := m.registry.UpdateStatus(context.Background(), username, binding.Status, models.StatusFailed); ok {
			logger.Warnf("lifecycle: rotation for %s failed, binding marked failed", username)
		}
		metrics.ProvisionOps.WithLabelValues("rotate", "failed").Inc()
		return nil, err
	}

	now := time.Now().UTC()
	if err := m.registry.UpdateCredentials(ctx, username, apiKey, ownerID, now); err != nil {
		return nil, err
	}
	if binding.Status != models.StatusActive {
		m.registry.UpdateStatus(ctx, username, binding.Status, models.StatusActive)
	}
	metrics.ProvisionOps.WithLabelValues("rotate", "ok").Inc()
	logger.Infof("lifecycle: credentials rotated for %s", username)
	return m.registry.Get(ctx, username)
}

// Remove tears the instance down and marks the binding removed. Remove is
// idempotent for safe retries: an unknown username, an already-removed
// binding and a binding whose instance is gone all succeed.
func (m *Manager) Remove(ctx context.Context, username string) error {
	unlock := m.locks.Lock(username)
	defer unlock()

	binding, err := m.registry.Get(ctx, username)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil
		}
		return err
	}
	if binding.Status == models.StatusRemoved {
		return nil
	}

	tctx, cancel := context.WithTimeout(ctx, m.opts.TeardownTimeout)
	defer cancel()
	if err := m.prov.Remove(tctx, username); err != nil {
		switch {
		case errors.Is(err, provision.ErrInstanceNotFound):
			// nothing running; still retire the binding
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(tctx.Err(), context.DeadlineExceeded):
			metrics.ProvisionOps.WithLabelValues("remove", "timeout").Inc()
			return fmt.Errorf("%w: %s", ErrTeardownTimeout, username)
		default:
			metrics.ProvisionOps.WithLabelValues("remove", "failed").Inc()
			return err
		}
	}

	if _, err := m.registry.UpdateStatus(ctx, username, binding.Status, models.StatusRemoved); err != nil {
		return err
	}
	metrics.ProvisionOps.WithLabelValues("remove", "ok").Inc()
	logger.Infof("lifecycle: proxy %s removed", provision.InstanceName(username))
	return nil
}

// Status returns the stored binding for a username.
func (m *Manager) Status(ctx context.Context, username string) (*models.Binding, error) {
	b, err := m.registry.Get(ctx, username)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	return b, err
}

// List returns all bindings, live and removed.
func (m *Manager) List(ctx context.Context) ([]*models.Binding, error) {
	return m.registry.List(ctx)
}

// ReconcileReport summarizes one reconciliation sweep.
type ReconcileReport struct {
	Checked   int `json:"checked"`
	Recreated int `json:"recreated"`
	TornDown  int `json:"tornDown"`
	Errors    int `json:"errors"`
}

// Reconcile walks the registry and converges the substrate toward it: active
// bindings whose instance vanished are recreated, removed bindings whose
// instance lingers are torn down. Each user is handled under its lock and the
// stored status is re-read before acting, so sweeps never fight admin calls.
func (m *Manager) Reconcile(ctx context.Context) (ReconcileReport, error) {
	bindings, err := m.registry.List(ctx)
	if err != nil {
		return ReconcileReport{}, err
	}

	var report ReconcileReport
	for _, b := range bindings {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		action, err := m.reconcileOne(ctx, b.Username)
		if err != nil {
			logger.Warnf("lifecycle: reconcile %s: %v", b.Username, err)
			report.Errors++
			continue
		}
		switch action {
		case "recreate":
			report.Recreated++
		case "teardown":
			report.TornDown++
		}
	}
	return report, nil
}

func (m *Manager) reconcileOne(ctx context.Context, username string) (string, error) {
	unlock := m.locks.Lock(username)
	defer unlock()

	// re-read under the lock: an admin call may have landed since List
	binding, err := m.registry.Get(ctx, username)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return "", nil
		}
		return "", err
	}

	exists, err := m.prov.Exists(ctx, username)
	if err != nil {
		return "", err
	}

	switch {
	case binding.Status == models.StatusActive && !exists:
		logger.Warnf("lifecycle: instance for active binding %s is missing, recreating", username)
		spec := provision.InstanceSpec{Username: username, OwnerID: binding.OwnerID, APIKey: binding.APICredential}
		if err := m.provisionAndWait(ctx, spec, m.prov.Create); err != nil {
			m.registry.UpdateStatus(ctx, username, models.StatusActive, models.StatusFailed)
			return "", err
		}
		metrics.ReconcileCorrections.WithLabelValues("recreate").Inc()
		return "recreate", nil
	case binding.Status == models.StatusRemoved && exists:
		logger.Warnf("lifecycle: instance for removed binding %s lingers, tearing down", username)
		tctx, cancel := context.WithTimeout(ctx, m.opts.TeardownTimeout)
		defer cancel()
		if err := m.prov.Remove(tctx, username); err != nil && !errors.Is(err, provision.ErrInstanceNotFound) {
			return "", err
		}
		metrics.ReconcileCorrections.WithLabelValues("teardown").Inc()
		return "teardown", nil
	}
	return "", nil
}

// provisionAndWait runs the given substrate operation and polls readiness
// until the provisioning deadline.
func (m *Manager) provisionAndWait(ctx context.Context, spec provision.InstanceSpec, op func(context.Context, provision.InstanceSpec) error) error {
	pctx, cancel := context.WithTimeout(ctx, m.opts.ProvisionTimeout)
	defer cancel()

	if err := op(pctx, spec); err != nil {
		m.cleanupInstance(spec.Username)
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrProvisionTimeout, spec.Username)
		}
		return err
	}

	ticker := time.NewTicker(m.opts.ReadyPollInterval)
	defer ticker.Stop()
	for {
		ready, err := m.prov.Ready(pctx, spec.Username)
		if err != nil && !errors.Is(err, provision.ErrInstanceNotFound) {
			m.cleanupInstance(spec.Username)
			return err
		}
		if ready {
			return nil
		}
		select {
		case <-pctx.Done():
			m.cleanupInstance(spec.Username)
			return fmt.Errorf("%w: %s", ErrProvisionTimeout, spec.Username)
		case <-ticker.C:
		}
	}
}

// cleanupInstance tears down whatever a failed provisioning attempt left
// behind so no half-provisioned instance keeps running.
func (m *Manager) cleanupInstance(username string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.TeardownTimeout)
	defer cancel()
	if err := m.prov.Remove(ctx, username); err != nil && !errors.Is(err, provision.ErrInstanceNotFound) {
		logger.Errorf("lifecycle: cleanup of %s after failed provisioning: %v", username, err)
	}
}

// failPending downgrades a pending binding after a provisioning failure.
func (m *Manager) failPending(username string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := m.registry.UpdateStatus(ctx, username, models.StatusPending, models.StatusFailed); err != nil {
		logger.Errorf("lifecycle: marking %s failed: %v", username, err)
	}
}
