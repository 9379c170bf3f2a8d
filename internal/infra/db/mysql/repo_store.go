package mysql

import (
	"context"
	"database/sql"
	"errors"

	gomysql "github.com/go-sql-driver/mysql"

	domain "github.com/bryanwahyu/cloudsense/internal/domain/repos"
)

type RepoStore struct {
	db *sql.DB
}

func NewRepoStore(db *sql.DB) *RepoStore {
	return &RepoStore{db: db}
}

// Create inserts the repository unless the tenant already has an active row
// with the same full name. The uq_repositories_active_name unique key
// backstops the window between the existence check and the insert when two
// registrations race.
func (r *RepoStore) Create(ctx context.Context, rep *domain.Repository) error {
	const q = `
INSERT INTO repositories
 (id, tenant_id, full_name, webhook_secret, secret_hash, github_token, active, created_at)
SELECT ?,?,?,?,?,?,1,?
FROM DUAL
WHERE NOT EXISTS (
  SELECT 1 FROM repositories WHERE tenant_id=? AND full_name=? AND active=1
);`
	res, err := r.db.ExecContext(ctx, q,
		rep.ID, rep.TenantID, rep.FullName, rep.Secret, rep.SecretHash,
		rep.GitHubToken, rep.CreatedAt,
		rep.TenantID, rep.FullName,
	)
	if err != nil {
		var me *gomysql.MySQLError
		if errors.As(err, &me) && me.Number == 1062 {
			return domain.ErrConflict
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrConflict
	}
	return nil
}

const repoColumns = `id, tenant_id, full_name, webhook_secret, secret_hash, github_token, active, created_at`

func (r *RepoStore) GetByID(ctx context.Context, tenant string, id domain.RepoID) (*domain.Repository, error) {
	const q = `SELECT ` + repoColumns + ` FROM repositories WHERE tenant_id=? AND id=? LIMIT 1;`
	return scanRepo(r.db.QueryRowContext(ctx, q, tenant, id))
}

func (r *RepoStore) GetBySecretHash(ctx context.Context, secretHash string) (*domain.Repository, error) {
	const q = `SELECT ` + repoColumns + ` FROM repositories WHERE secret_hash=? LIMIT 1;`
	return scanRepo(r.db.QueryRowContext(ctx, q, secretHash))
}

func (r *RepoStore) ListByTenant(ctx context.Context, tenant string) ([]*domain.Repository, error) {
	const q = `SELECT ` + repoColumns + ` FROM repositories WHERE tenant_id=? ORDER BY created_at DESC;`
	rows, err := r.db.QueryContext(ctx, q, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Repository
	for rows.Next() {
		rep, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

// Deactivate flips the active flag; events stay for the audit trail.
func (r *RepoStore) Deactivate(ctx context.Context, tenant string, id domain.RepoID) error {
	const q = `UPDATE repositories SET active=0 WHERE tenant_id=? AND id=? AND active=1;`
	res, err := r.db.ExecContext(ctx, q, tenant, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RotateSecret swaps the credential in one conditional update: the old secret
// stops resolving the instant the new one starts.
func (r *RepoStore) RotateSecret(ctx context.Context, tenant string, id domain.RepoID, secret, secretHash string) error {
	const q = `UPDATE repositories SET webhook_secret=?, secret_hash=? WHERE tenant_id=? AND id=? AND active=1;`
	res, err := r.db.ExecContext(ctx, q, secret, secretHash, tenant, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepo(row rowScanner) (*domain.Repository, error) {
	var (
		rep   domain.Repository
		token sql.NullString
	)
	if err := row.Scan(
		&rep.ID, &rep.TenantID, &rep.FullName, &rep.Secret, &rep.SecretHash,
		&token, &rep.Active, &rep.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	rep.GitHubToken = token.String
	return &rep, nil
}
