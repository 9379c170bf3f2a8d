package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/bryanwahyu/cloudsense/internal/domain/events"
	domain "github.com/bryanwahyu/cloudsense/internal/domain/reviews"
)

type ReviewStore struct {
	db *sql.DB
}

func NewReviewStore(db *sql.DB) *ReviewStore {
	return &ReviewStore{db: db}
}

func (r *ReviewStore) Create(ctx context.Context, eventID events.EventID, now time.Time) (domain.ReviewID, error) {
	const q = `INSERT INTO reviews (event_id, status, created_at) VALUES ($1,$2,$3) RETURNING id;`
	var id int64
	if err := r.db.QueryRowContext(ctx, q, eventID, domain.StatusQueued, now).Scan(&id); err != nil {
		return 0, err
	}
	return domain.ReviewID(id), nil
}

const reviewColumns = `id, event_id, status, started_at, finished_at, summary_json, artifact_url, created_at`

func (r *ReviewStore) Get(ctx context.Context, id domain.ReviewID) (*domain.Review, error) {
	const q = `SELECT ` + reviewColumns + ` FROM reviews WHERE id=$1 LIMIT 1;`
	return scanReview(r.db.QueryRowContext(ctx, q, id))
}

func (r *ReviewStore) ListByEvent(ctx context.Context, eventID events.EventID) ([]*domain.Review, error) {
	const q = `SELECT ` + reviewColumns + ` FROM reviews WHERE event_id=$1 ORDER BY id DESC;`
	rows, err := r.db.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Review
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

func (r *ReviewStore) Claim(ctx context.Context, id domain.ReviewID, now time.Time) error {
	const q = `UPDATE reviews SET status=$1, started_at=$2 WHERE id=$3 AND status=$4;`
	res, err := r.db.ExecContext(ctx, q, domain.StatusRunning, now, id, domain.StatusQueued)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotClaimed
	}
	return nil
}

func (r *ReviewStore) InsertFindings(ctx context.Context, id domain.ReviewID, findings []domain.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	const q = `
INSERT INTO findings
 (review_id, file_path, severity, title, rationale, start_line, end_line, patch, tool)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, f := range findings {
		if _, err := tx.ExecContext(ctx, q,
			id, f.File, f.Severity, f.Title, f.Rationale, f.StartLine, f.EndLine, f.Patch, f.Tool,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *ReviewStore) FindingsByReview(ctx context.Context, id domain.ReviewID) ([]domain.Finding, error) {
	const q = `
SELECT id, review_id, file_path, severity, title, rationale, start_line, end_line, patch, tool
FROM findings WHERE review_id=$1 ORDER BY file_path, id;`
	rows, err := r.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Finding
	for rows.Next() {
		var f domain.Finding
		if err := rows.Scan(
			&f.ID, &f.ReviewID, &f.File, &f.Severity, &f.Title, &f.Rationale,
			&f.StartLine, &f.EndLine, &f.Patch, &f.Tool,
		); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *ReviewStore) Finalize(ctx context.Context, id domain.ReviewID, status domain.Status, now time.Time, summary domain.Summary, artifactURL string) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	const q = `
UPDATE reviews SET status=$1, finished_at=$2, summary_json=$3, artifact_url=$4
WHERE id=$5 AND status=$6;`
	res, err := r.db.ExecContext(ctx, q, status, now, raw, artifactURL, id, domain.StatusRunning)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotClaimed
	}
	return nil
}

// FailStale uses a single conditional UPDATE ... RETURNING, which Postgres
// can do in one statement.
func (r *ReviewStore) FailStale(ctx context.Context, cutoff time.Time, now time.Time) ([]domain.ReviewID, error) {
	raw, err := json.Marshal(domain.Summary{Errors: []string{"review timed out and was reclaimed"}})
	if err != nil {
		return nil, err
	}
	const q = `
UPDATE reviews SET status=$1, finished_at=$2, summary_json=$3
WHERE status=$4 AND started_at < $5
RETURNING id;`
	rows, err := r.db.QueryContext(ctx, q, domain.StatusFailed, now, raw, domain.StatusRunning, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reaped []domain.ReviewID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return reaped, err
		}
		reaped = append(reaped, domain.ReviewID(id))
	}
	return reaped, rows.Err()
}

func scanReview(row rowScanner) (*domain.Review, error) {
	var (
		rv          domain.Review
		started     sql.NullTime
		finished    sql.NullTime
		summary     sql.NullString
		artifactURL sql.NullString
	)
	if err := row.Scan(
		&rv.ID, &rv.EventID, &rv.Status, &started, &finished, &summary, &artifactURL, &rv.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if started.Valid {
		t := started.Time
		rv.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time
		rv.FinishedAt = &t
	}
	if summary.Valid && summary.String != "" {
		_ = json.Unmarshal([]byte(summary.String), &rv.Summary)
	}
	rv.ArtifactURL = artifactURL.String
	return &rv, nil
}
