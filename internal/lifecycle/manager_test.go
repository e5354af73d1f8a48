package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/overlab/overlab/internal/models"
	"github.com/overlab/overlab/internal/provision"
	"github.com/overlab/overlab/internal/registry"
	"github.com/overlab/overlab/internal/zotero"
)

type fakeValidator struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeValidator) ValidateKey(ctx context.Context, apiKey, ownerID string) (*zotero.KeyInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &zotero.KeyInfo{Key: apiKey, Username: "remote-user"}, nil
}

func newTestManager(t *testing.T) (*Manager, registry.Repository, *provision.Fake, *fakeValidator) {
	t.Helper()
	repo := registry.NewMemoryRepository()
	prov := provision.NewFake()
	val := &fakeValidator{}
	m := NewManager(repo, prov, val, Options{
		ProvisionTimeout:  200 * time.Millisecond,
		TeardownTimeout:   200 * time.Millisecond,
		ReadyPollInterval: 5 * time.Millisecond,
	})
	return m, repo, prov, val
}

func TestCreate_ActivatesBinding(t *testing.T) {
	m, repo, prov, val := newTestManager(t)
	ctx := context.Background()

	b, err := m.Create(ctx, CreateRequest{Username: "alice", OwnerID: "1001", APIKey: "key-1"})
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, b.Status)
	require.Equal(t, 1, val.calls)

	stored, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, stored.Status)
	require.False(t, stored.LastValidatedAt.IsZero())

	spec, ok := prov.Spec("alice")
	require.True(t, ok)
	require.Equal(t, "key-1", spec.APIKey)
	require.Equal(t, "1001", spec.OwnerID)
}

func TestCreate_RejectsInvalidUsername(t *testing.T) {
	m, _, prov, _ := newTestManager(t)
	_, err := m.Create(context.Background(), CreateRequest{Username: "Not Valid!", OwnerID: "1", APIKey: "k"})
	require.ErrorIs(t, err, ErrInvalidUsername)
	require.Empty(t, prov.Calls)
}

func TestCreate_DuplicateUser(t *testing.T) {
	m, _, prov, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, CreateRequest{Username: "alice", OwnerID: "1", APIKey: "k"})
	require.NoError(t, err)

	_, err = m.Create(ctx, CreateRequest{Username: "alice", OwnerID: "2", APIKey: "other"})
	require.ErrorIs(t, err, ErrDuplicateUser)

	// the existing instance keeps its original credentials
	spec, _ := prov.Spec("alice")
	require.Equal(t, "k", spec.APIKey)
	require.Equal(t, []string{"create:alice"}, prov.Calls)
}

func TestCreate_InvalidCredentialLeavesNoBinding(t *testing.T) {
	m, repo, prov, val := newTestManager(t)
	val.err = zotero.ErrInvalidCredential

	_, err := m.Create(context.Background(), CreateRequest{Username: "alice", OwnerID: "1", APIKey: "bad"})
	require.ErrorIs(t, err, zotero.ErrInvalidCredential)

	_, err = repo.Get(context.Background(), "alice")
	require.ErrorIs(t, err, registry.ErrNotFound)
	require.Empty(t, prov.Calls)
}

func TestCreate_ProvisionTimeout(t *testing.T) {
	m, repo, prov, _ := newTestManager(t)
	prov.SetNotReady("alice", true)

	_, err := m.Create(context.Background(), CreateRequest{Username: "alice", OwnerID: "1", APIKey: "k"})
	require.ErrorIs(t, err, ErrProvisionTimeout)

	// half-provisioned instance was cleaned up, binding downgraded
	exists, _ := prov.Exists(context.Background(), "alice")
	require.False(t, exists)
	stored, err := repo.Get(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, stored.Status)
}

func TestCreate_FailedStartIsCleanedUp(t *testing.T) {
	m, repo, prov, _ := newTestManager(t)
	prov.CreateErr = errors.New("compose up failed")

	_, err := m.Create(context.Background(), CreateRequest{Username: "alice", OwnerID: "1", APIKey: "k"})
	require.Error(t, err)

	// teardown was attempted even though the start itself failed
	require.Contains(t, prov.Calls, "remove:alice")
	stored, err := repo.Get(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, stored.Status)
}

func TestCreate_ReadyProbeFailureCleansUp(t *testing.T) {
	m, repo, prov, _ := newTestManager(t)
	prov.ReadyErr = errors.New("inspect failed")

	_, err := m.Create(context.Background(), CreateRequest{Username: "alice", OwnerID: "1", APIKey: "k"})
	require.Error(t, err)

	prov.ReadyErr = nil
	exists, _ := prov.Exists(context.Background(), "alice")
	require.False(t, exists)
	stored, err := repo.Get(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, stored.Status)
}

func TestCreate_RetryAfterFailure(t *testing.T) {
	m, repo, prov, _ := newTestManager(t)
	ctx := context.Background()

	prov.SetNotReady("alice", true)
	_, err := m.Create(ctx, CreateRequest{Username: "alice", OwnerID: "1", APIKey: "k1"})
	require.ErrorIs(t, err, ErrProvisionTimeout)

	// the failed row does not occupy the username
	prov.SetNotReady("alice", false)
	b, err := m.Create(ctx, CreateRequest{Username: "alice", OwnerID: "1", APIKey: "k2"})
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, b.Status)

	stored, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "k2", stored.APICredential)
}

func TestRotate_InvalidCredentialLeavesBindingUntouched(t *testing.T) {
	m, repo, prov, val := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, CreateRequest{Username: "alice", OwnerID: "1", APIKey: "old"})
	require.NoError(t, err)

	val.err = zotero.ErrInvalidCredential
	_, err = m.RotateCredential(ctx, "alice", "bad", "1")
	require.ErrorIs(t, err, zotero.ErrInvalidCredential)

	stored, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "old", stored.APICredential)
	require.Equal(t, models.StatusActive, stored.Status)
	spec, _ := prov.Spec("alice")
	require.Equal(t, "old", spec.APIKey)
}

func TestRotate_ReplacesCredentialAndInstance(t *testing.T) {
	m, repo, prov, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, CreateRequest{Username: "alice", OwnerID: "1", APIKey: "old"})
	require.NoError(t, err)

	b, err := m.RotateCredential(ctx, "alice", "new", "2")
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, b.Status)

	stored, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "new", stored.APICredential)
	require.Equal(t, "2", stored.OwnerID)
	spec, _ := prov.Spec("alice")
	require.Equal(t, "new", spec.APIKey)
	require.Contains(t, prov.Calls, "recreate:alice")
}

func TestRotate_UnknownUser(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	_, err := m.RotateCredential(context.Background(), "ghost", "k", "1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRemove_Idempotent(t *testing.T) {
	m, repo, prov, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, CreateRequest{Username: "alice", OwnerID: "1", APIKey: "k"})
	require.NoError(t, err)

	require.NoError(t, m.Remove(ctx, "alice"))
	exists, _ := prov.Exists(ctx, "alice")
	require.False(t, exists)
	stored, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, models.StatusRemoved, stored.Status)

	// second remove is a no-op success
	require.NoError(t, m.Remove(ctx, "alice"))
}

func TestRemove_MissingInstanceStillRetiresBinding(t *testing.T) {
	m, repo, prov, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, CreateRequest{Username: "alice", OwnerID: "1", APIKey: "k"})
	require.NoError(t, err)
	prov.Drop("alice")

	require.NoError(t, m.Remove(ctx, "alice"))
	stored, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, models.StatusRemoved, stored.Status)
}

func TestRemove_UnknownUserIsNoOp(t *testing.T) {
	m, _, prov, _ := newTestManager(t)
	require.NoError(t, m.Remove(context.Background(), "ghost"))
	require.Empty(t, prov.Calls)
}

func TestCreate_AfterRemoveSucceeds(t *testing.T) {
	m, repo, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, CreateRequest{Username: "alice", OwnerID: "1", APIKey: "k1"})
	require.NoError(t, err)
	require.NoError(t, m.Remove(ctx, "alice"))

	b, err := m.Create(ctx, CreateRequest{Username: "alice", OwnerID: "1", APIKey: "k2"})
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, b.Status)

	stored, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "k2", stored.APICredential)
}

func TestReconcile_RecreatesMissingInstance(t *testing.T) {
	m, _, prov, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, CreateRequest{Username: "alice", OwnerID: "1", APIKey: "k"})
	require.NoError(t, err)
	prov.Drop("alice")

	report, err := m.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Checked)
	require.Equal(t, 1, report.Recreated)

	exists, _ := prov.Exists(ctx, "alice")
	require.True(t, exists)
	spec, _ := prov.Spec("alice")
	require.Equal(t, "k", spec.APIKey)
}

func TestReconcile_TearsDownLingeringInstance(t *testing.T) {
	m, _, prov, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, CreateRequest{Username: "alice", OwnerID: "1", APIKey: "k"})
	require.NoError(t, err)
	require.NoError(t, m.Remove(ctx, "alice"))

	// the instance reappears out of band
	prov.Inject(provision.InstanceSpec{Username: "alice", OwnerID: "1", APIKey: "k"})

	report, err := m.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.TornDown)

	exists, _ := prov.Exists(ctx, "alice")
	require.False(t, exists)
}

func TestReconcile_LeavesConvergedStateAlone(t *testing.T) {
	m, _, prov, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, CreateRequest{Username: "alice", OwnerID: "1", APIKey: "k"})
	require.NoError(t, err)
	calls := len(prov.Calls)

	report, err := m.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Checked)
	require.Zero(t, report.Recreated)
	require.Zero(t, report.TornDown)
	require.Len(t, prov.Calls, calls)
}

func TestCreate_ConcurrentSingleWinner(t *testing.T) {
	m, _, prov, _ := newTestManager(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Create(ctx, CreateRequest{Username: "alice", OwnerID: "1", APIKey: "k"})
		}(i)
	}
	wg.Wait()

	var okCount, dupCount int
	for _, err := range errs {
		switch {
		case err == nil:
			okCount++
		default:
			require.ErrorIs(t, err, ErrDuplicateUser)
			dupCount++
		}
	}
	require.Equal(t, 1, okCount)
	require.Equal(t, n-1, dupCount)

	var creates int
	for _, c := range prov.Calls {
		if c == "create:alice" {
			creates++
		}
	}
	require.Equal(t, 1, creates)
}

func TestReconcile_DoesNotFightConcurrentRemove(t *testing.T) {
	m, repo, prov, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, CreateRequest{Username: "alice", OwnerID: "1", APIKey: "k"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = m.Reconcile(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = m.Remove(ctx, "alice")
	}()
	wg.Wait()

	// a second sweep converges on whatever state won
	_, err = m.Reconcile(ctx)
	require.NoError(t, err)

	stored, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	exists, _ := prov.Exists(ctx, "alice")
	if stored.Status == models.StatusRemoved {
		require.False(t, exists)
	} else {
		require.True(t, exists)
	}
}
