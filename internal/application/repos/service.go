package repos

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/google/uuid"

	"github.com/bryanwahyu/cloudsense/internal/application"
	domain "github.com/bryanwahyu/cloudsense/internal/domain/repos"
)

// Service implements the repository registry use-cases.
type Service struct {
	Store         domain.Store
	PublicBaseURL string
	Clock         application.Clock
}

// Command to register a repository for a tenant
type RegisterCommand struct {
	TenantID    string
	FullName    string
	GitHubToken string
}

// Register creates the repository with a fresh webhook credential. Fails with
// ErrConflict when the tenant already has an active registration for the same
// full name.
func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*domain.Repository, error) {
	secret, err := domain.NewSecret()
	if err != nil {
		return nil, fmt.Errorf("generating webhook secret: %w", err)
	}

	r := &domain.Repository{
		ID:          domain.RepoID(uuid.New().String()),
		TenantID:    cmd.TenantID,
		FullName:    cmd.FullName,
		Secret:      secret,
		SecretHash:  domain.HashSecret(secret),
		GitHubToken: cmd.GitHubToken,
		Active:      true,
		CreatedAt:   s.Clock.Now(),
	}
	if err := s.Store.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// List returns the tenant's repositories, active and deactivated.
func (s *Service) List(ctx context.Context, tenant string) ([]*domain.Repository, error) {
	return s.Store.ListByTenant(ctx, tenant)
}

// Get returns one repository owned by the tenant.
func (s *Service) Get(ctx context.Context, tenant string, id domain.RepoID) (*domain.Repository, error) {
	return s.Store.GetByID(ctx, tenant, id)
}

// Deactivate disables webhook ingestion for the repository. Events stay.
func (s *Service) Deactivate(ctx context.Context, tenant string, id domain.RepoID) error {
	return s.Store.Deactivate(ctx, tenant, id)
}

// Rotate issues a new webhook credential, atomically invalidating the old one.
func (s *Service) Rotate(ctx context.Context, tenant string, id domain.RepoID) (*domain.Repository, error) {
	secret, err := domain.NewSecret()
	if err != nil {
		return nil, fmt.Errorf("generating webhook secret: %w", err)
	}
	if err := s.Store.RotateSecret(ctx, tenant, id, secret, domain.HashSecret(secret)); err != nil {
		return nil, err
	}
	return s.Store.GetByID(ctx, tenant, id)
}

// ResolveByCredential matches an inbound webhook credential to its active
// repository. Lookup goes through the credential digest and the final check is
// constant-time, so response timing is independent of how much of the
// credential prefix matched.
func (s *Service) ResolveByCredential(ctx context.Context, credential string) (*domain.Repository, error) {
	hash := domain.HashSecret(credential)
	r, err := s.Store.GetBySecretHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(r.SecretHash), []byte(hash)) != 1 {
		return nil, domain.ErrNotFound
	}
	if !r.Active {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

// WebhookURL is the public URL GitHub should deliver to for this repository.
func (s *Service) WebhookURL(r *domain.Repository) string {
	return fmt.Sprintf("%s/webhook/%s", s.PublicBaseURL, r.Secret)
}
