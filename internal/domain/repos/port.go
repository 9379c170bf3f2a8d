package repos

import (
	"context"
	"errors"
)

// ErrNotFound covers unknown ids and cross-tenant access alike, so existence
// never leaks across tenants.
var ErrNotFound = errors.New("repository not found")

// ErrConflict indicates the tenant already has an active repository with the
// same full name.
var ErrConflict = errors.New("repository already registered")

// Repository port (interface for persistence)
type Store interface {
	Create(ctx context.Context, r *Repository) error
	GetByID(ctx context.Context, tenant string, id RepoID) (*Repository, error)
	// GetBySecretHash resolves a webhook credential digest regardless of tenant.
	GetBySecretHash(ctx context.Context, secretHash string) (*Repository, error)
	ListByTenant(ctx context.Context, tenant string) ([]*Repository, error)
	// Deactivate flips active to false. Events are kept.
	Deactivate(ctx context.Context, tenant string, id RepoID) error
	// RotateSecret swaps the credential in a single conditional update, so there
	// is no window where both old and new are valid.
	RotateSecret(ctx context.Context, tenant string, id RepoID, secret, secretHash string) error
}
