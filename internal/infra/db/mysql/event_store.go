package mysql

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

// Insert persists the event, deduplicating on the unique
// (repository_id, delivery_id) key. INSERT IGNORE plus the constraint makes
// the dedup check and the insert a single atomic step, so concurrent
// duplicate deliveries resolve to one row without locking.
func (r *EventStore) Insert(ctx context.Context, e *domain.Event) (domain.EventID, bool, error) {
	const q = `
INSERT IGNORE INTO events
 (tenant_id, repository_id, delivery_id, event_type, repo, ref, after_sha, payload, created_at)
VALUES (?,?,?,?,?,?,?,?,?);`
	res, err := r.db.ExecContext(ctx, q,
		e.TenantID, e.RepoID, e.DeliveryID, e.Kind, e.RepoName, e.Ref, e.HeadSHA, e.Payload, e.CreatedAt,
	)
	if err != nil {
		return 0, false, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, false, err
	} else if n > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, false, err
		}
		return domain.EventID(id), true, nil
	}

	// Duplicate delivery: hand back the existing row's id.
	var id int64
	const sel = `SELECT id FROM events WHERE repository_id=? AND delivery_id=? LIMIT 1;`
	if err := r.db.QueryRowContext(ctx, sel, e.RepoID, e.DeliveryID).Scan(&id); err != nil {
		return 0, false, err
	}
	return domain.EventID(id), false, nil
}

const eventColumns = `id, tenant_id, repository_id, delivery_id, event_type, repo, ref, after_sha, payload, created_at`

func (r *EventStore) Get(ctx context.Context, tenant string, id domain.EventID) (*domain.Event, error) {
	const q = `SELECT ` + eventColumns + ` FROM events WHERE tenant_id=? AND id=? LIMIT 1;`
	return scanEvent(r.db.QueryRowContext(ctx, q, tenant, id))
}

func (r *EventStore) GetAny(ctx context.Context, id domain.EventID) (*domain.Event, error) {
	const q = `SELECT ` + eventColumns + ` FROM events WHERE id=? LIMIT 1;`
	return scanEvent(r.db.QueryRowContext(ctx, q, id))
}

// Paginate lists the tenant's events newest-first with optional filters.
func (r *EventStore) Paginate(ctx context.Context, tenant string, page, pageSize int, f domain.Filter) (domain.PaginatedResult, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	where := " WHERE tenant_id=?"
	args := []any{tenant}
	if f.Repo != "" {
		where += " AND repo=?"
		args = append(args, f.Repo)
	}
	if f.Kind != "" {
		where += " AND event_type=?"
		args = append(args, f.Kind)
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events"+where, args...).Scan(&total); err != nil {
		return domain.PaginatedResult{}, fmt.Errorf("counting events: %w", err)
	}

	q := `SELECT ` + eventColumns + ` FROM events` + where + ` ORDER BY id DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, q, append(args, pageSize, offset)...)
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
