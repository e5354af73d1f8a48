package provision

import (
	"context"
	"sync"
)

// Fake is an in-memory Provisioner for tests. Instances are tracked in a map
// and every mutation is recorded in Calls.
type Fake struct {
	mu        sync.Mutex
	instances map[string]InstanceSpec
	notReady  map[string]bool

	// Calls records mutating operations in order, e.g. "create:alice".
	Calls []string

	// CreateErr, RecreateErr, RemoveErr and ReadyErr, when set, are returned
	// by the corresponding operation.
	CreateErr   error
	RecreateErr error
	RemoveErr   error
	ReadyErr    error
}

func NewFake() *Fake {
	return &Fake{
		instances: make(map[string]InstanceSpec),
		notReady:  make(map[string]bool),
	}
}

func (f *Fake) record(op, username string) {
	f.Calls = append(f.Calls, op+":"+username)
}

func (f *Fake) Create(ctx context.Context, spec InstanceSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create", spec.Username)
	if f.CreateErr != nil {
		return f.CreateErr
	}
	f.instances[spec.Username] = spec
	return nil
}

func (f *Fake) Recreate(ctx context.Context, spec InstanceSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("recreate", spec.Username)
	if f.RecreateErr != nil {
		return f.RecreateErr
	}
	f.instances[spec.Username] = spec
	return nil
}

func (f *Fake) Remove(ctx context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("remove", username)
	if f.RemoveErr != nil {
		return f.RemoveErr
	}
	if _, ok := f.instances[username]; !ok {
		return ErrInstanceNotFound
	}
	delete(f.instances, username)
	return nil
}

func (f *Fake) Exists(ctx context.Context, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.instances[username]
	return ok, nil
}

func (f *Fake) Ready(ctx context.Context, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadyErr != nil {
		return false, f.ReadyErr
	}
	if _, ok := f.instances[username]; !ok {
		return false, ErrInstanceNotFound
	}
	return !f.notReady[username], nil
}

// SetNotReady marks an existing instance as present but not serving.
func (f *Fake) SetNotReady(username string, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notReady[username] = v
}

// Spec returns the spec the instance was last created with.
func (f *Fake) Spec(username string) (InstanceSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.instances[username]
	return s, ok
}

// Inject places an instance on the substrate without going through Create,
// simulating out-of-band drift.
func (f *Fake) Inject(spec InstanceSpec) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances[spec.Username] = spec
}

// Drop removes an instance without going through Remove, simulating
// out-of-band drift.
func (f *Fake) Drop(username string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.instances, username)
}
