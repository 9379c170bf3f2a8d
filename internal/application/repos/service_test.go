package repos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/cloudsense/internal/domain/repos"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type memRepoStore struct {
	rows map[domain.RepoID]*domain.Repository
}

func newMemRepoStore() *memRepoStore {
	return &memRepoStore{rows: make(map[domain.RepoID]*domain.Repository)}
}

func (m *memRepoStore) Create(_ context.Context, r *domain.Repository) error {
	for _, ex := range m.rows {
		if ex.TenantID == r.TenantID && ex.FullName == r.FullName && ex.Active {
			return domain.ErrConflict
		}
	}
	cp := *r
	m.rows[r.ID] = &cp
	return nil
}

func (m *memRepoStore) GetByID(_ context.Context, tenant string, id domain.RepoID) (*domain.Repository, error) {
	r, ok := m.rows[id]
	if !ok || r.TenantID != tenant {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

func (m *memRepoStore) GetBySecretHash(_ context.Context, hash string) (*domain.Repository, error) {
	for _, r := range m.rows {
		if r.SecretHash == hash {
			return r, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memRepoStore) ListByTenant(_ context.Context, tenant string) ([]*domain.Repository, error) {
	var out []*domain.Repository
	for _, r := range m.rows {
		if r.TenantID == tenant {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepoStore) Deactivate(_ context.Context, tenant string, id domain.RepoID) error {
	r, ok := m.rows[id]
	if !ok || r.TenantID != tenant || !r.Active {
		return domain.ErrNotFound
	}
	r.Active = false
	return nil
}

func (m *memRepoStore) RotateSecret(_ context.Context, tenant string, id domain.RepoID, secret, secretHash string) error {
	r, ok := m.rows[id]
	if !ok || r.TenantID != tenant || !r.Active {
		return domain.ErrNotFound
	}
	r.Secret = secret
	r.SecretHash = secretHash
	return nil
}

func newService() (*Service, *memRepoStore) {
	store := newMemRepoStore()
	svc := &Service{
		Store:         store,
		PublicBaseURL: "https://reviews.example.com",
		Clock:         fixedClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
	return svc, store
}

func TestRegisterIssuesCredential(t *testing.T) {
	svc, _ := newService()

	r, err := svc.Register(context.Background(), RegisterCommand{TenantID: "acme", FullName: "acme/api"})
	require.NoError(t, err)

	assert.NotEmpty(t, r.ID)
	assert.Len(t, r.Secret, 32) // 16 bytes hex encoded
	assert.Equal(t, domain.HashSecret(r.Secret), r.SecretHash)
	assert.True(t, r.Active)
	assert.Equal(t, "https://reviews.example.com/webhook/"+r.Secret, svc.WebhookURL(r))
}

func TestRegisterDuplicateActiveConflicts(t *testing.T) {
	svc, _ := newService()

	_, err := svc.Register(context.Background(), RegisterCommand{TenantID: "acme", FullName: "acme/api"})
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), RegisterCommand{TenantID: "acme", FullName: "acme/api"})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestRegisterSameNameOtherTenant(t *testing.T) {
	svc, _ := newService()

	_, err := svc.Register(context.Background(), RegisterCommand{TenantID: "acme", FullName: "acme/api"})
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), RegisterCommand{TenantID: "globex", FullName: "acme/api"})
	assert.NoError(t, err)
}

func TestReregisterAfterDeactivate(t *testing.T) {
	svc, _ := newService()

	r, err := svc.Register(context.Background(), RegisterCommand{TenantID: "acme", FullName: "acme/api"})
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(context.Background(), "acme", r.ID))

	_, err = svc.Register(context.Background(), RegisterCommand{TenantID: "acme", FullName: "acme/api"})
	assert.NoError(t, err)
}

func TestResolveByCredential(t *testing.T) {
	svc, _ := newService()
	r, err := svc.Register(context.Background(), RegisterCommand{TenantID: "acme", FullName: "acme/api"})
	require.NoError(t, err)

	got, err := svc.ResolveByCredential(context.Background(), r.Secret)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	_, err = svc.ResolveByCredential(context.Background(), "deadbeefdeadbeefdeadbeefdeadbeef")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolveInactiveLooksUnknown(t *testing.T) {
	svc, _ := newService()
	r, err := svc.Register(context.Background(), RegisterCommand{TenantID: "acme", FullName: "acme/api"})
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(context.Background(), "acme", r.ID))

	_, err = svc.ResolveByCredential(context.Background(), r.Secret)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRotateInvalidatesOldCredential(t *testing.T) {
	svc, _ := newService()
	r, err := svc.Register(context.Background(), RegisterCommand{TenantID: "acme", FullName: "acme/api"})
	require.NoError(t, err)
	oldSecret := r.Secret

	rotated, err := svc.Rotate(context.Background(), "acme", r.ID)
	require.NoError(t, err)
	assert.NotEqual(t, oldSecret, rotated.Secret)

	_, err = svc.ResolveByCredential(context.Background(), oldSecret)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := svc.ResolveByCredential(context.Background(), rotated.Secret)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
}

func TestRotateCrossTenant(t *testing.T) {
	svc, _ := newService()
	r, err := svc.Register(context.Background(), RegisterCommand{TenantID: "acme", FullName: "acme/api"})
	require.NoError(t, err)

	_, err = svc.Rotate(context.Background(), "globex", r.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeactivateTwice(t *testing.T) {
	svc, _ := newService()
	r, err := svc.Register(context.Background(), RegisterCommand{TenantID: "acme", FullName: "acme/api"})
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(context.Background(), "acme", r.ID))
	assert.ErrorIs(t, svc.Deactivate(context.Background(), "acme", r.ID), domain.ErrNotFound)
}
