package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domain "github.com/bryanwahyu/cloudsense/internal/domain/events"
)

type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// Insert relies on ON CONFLICT DO NOTHING against the unique
// (repository_id, delivery_id) index; duplicates resolve to the existing row.
func (r *EventStore) Insert(ctx context.Context, e *domain.Event) (domain.EventID, bool, error) {
	const q = `
INSERT INTO events
 (tenant_id, repository_id, delivery_id, event_type, repo, ref, after_sha, payload, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (repository_id, delivery_id) DO NOTHING
RETURNING id;`
	var id int64
	err := r.db.QueryRowContext(ctx, q,
		e.TenantID, e.RepoID, e.DeliveryID, e.Kind, e.RepoName, e.Ref, e.HeadSHA, e.Payload, e.CreatedAt,
	).Scan(&id)
	if err == nil {
		return domain.EventID(id), true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, err
	}

	const sel = `SELECT id FROM events WHERE repository_id=$1 AND delivery_id=$2 LIMIT 1;`
	if err := r.db.QueryRowContext(ctx, sel, e.RepoID, e.DeliveryID).Scan(&id); err != nil {
		return 0, false, err
	}
	return domain.EventID(id), false, nil
}

const eventColumns = `id, tenant_id, repository_id, delivery_id, event_type, repo, ref, after_sha, payload, created_at`

func (r *EventStore) Get(ctx context.Context, tenant string, id domain.EventID) (*domain.Event, error) {
	const q = `SELECT ` + eventColumns + ` FROM events WHERE tenant_id=$1 AND id=$2 LIMIT 1;`
	return scanEvent(r.db.QueryRowContext(ctx, q, tenant, id))
}

func (r *EventStore) GetAny(ctx context.Context, id domain.EventID) (*domain.Event, error) {
	const q = `SELECT ` + eventColumns + ` FROM events WHERE id=$1 LIMIT 1;`
	return scanEvent(r.db.QueryRowContext(ctx, q, id))
}

func (r *EventStore) Paginate(ctx context.Context, tenant string, page, pageSize int, f domain.Filter) (domain.PaginatedResult, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	where := " WHERE tenant_id=$1"
	args := []any{tenant}
	if f.Repo != "" {
		args = append(args, f.Repo)
		where += fmt.Sprintf(" AND repo=$%d", len(args))
	}
	if f.Kind != "" {
		args = append(args, f.Kind)
		where += fmt.Sprintf(" AND event_type=$%d", len(args))
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events"+where, args...).Scan(&total); err != nil {
		return domain.PaginatedResult{}, fmt.Errorf("counting events: %w", err)
	}

	args = append(args, pageSize, offset)
	q := fmt.Sprintf(`SELECT `+eventColumns+` FROM events`+where+` ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		len(args)-1, len(args))
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return domain.PaginatedResult{}, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return domain.PaginatedResult{}, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return domain.PaginatedResult{}, err
	}

	return domain.PaginatedResult{
		Data:     out,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
		HasMore:  int64(page*pageSize) < total,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*domain.Event, error) {
	var (
		e       domain.Event
		ref     sql.NullString
		headSHA sql.NullString
	)
	if err := row.Scan(
		&e.ID, &e.TenantID, &e.RepoID, &e.DeliveryID, &e.Kind, &e.RepoName,
		&ref, &headSHA, &e.Payload, &e.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	e.Ref = ref.String
	e.HeadSHA = headSHA.String
	return &e, nil
}
