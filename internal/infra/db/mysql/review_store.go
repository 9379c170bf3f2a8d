package mysql

import (
	"context"
	"database/sql"
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
	const q = `INSERT INTO reviews (event_id, status, created_at) VALUES (?,?,?);`
	res, err := r.db.ExecContext(ctx, q, eventID, domain.StatusQueued, now)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return domain.ReviewID(id), nil
}

const reviewColumns = `id, event_id, status, started_at, finished_at, summary_json, artifact_url, created_at`

func (r *ReviewStore) Get(ctx context.Context, id domain.ReviewID) (*domain.Review, error) {
	const q = `SELECT ` + reviewColumns + ` FROM reviews WHERE id=? LIMIT 1;`
	return scanReview(r.db.QueryRowContext(ctx, q, id))
}

func (r *ReviewStore) ListByEvent(ctx context.Context, eventID events.EventID) ([]*domain.Review, error) {
	const q = `SELECT ` + reviewColumns + ` FROM reviews WHERE event_id=? ORDER BY id DESC;`
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

// Claim is the queued -> running transition: a conditional update keyed on
// the prior status, so exactly one concurrent claimer wins.
func (r *ReviewStore) Claim(ctx context.Context, id domain.ReviewID, now time.Time) error {
	const q = `UPDATE reviews SET status=?, started_at=? WHERE id=? AND status=?;`
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
VALUES (?,?,?,?,?,?,?,?,?);`
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
FROM findings WHERE review_id=? ORDER BY file_path, id;`
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

// Finalize is the running -> done|failed transition, conditional on the row
// still being running. Terminal reviews are never rewritten.
func (r *ReviewStore) Finalize(ctx context.Context, id domain.ReviewID, status domain.Status, now time.Time, summary domain.Summary, artifactURL string) error {
	raw, err := summaryJSON(summary)
	if err != nil {
		return err
	}
	const q = `
UPDATE reviews SET status=?, finished_at=?, summary_json=?, artifact_url=?
WHERE id=? AND status=?;`
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

// FailStale reaps reviews stuck in running since before cutoff. Each row is
// failed with the same conditional predicate, so a review that finishes
// between the select and the update is left alone.
func (r *ReviewStore) FailStale(ctx context.Context, cutoff time.Time, now time.Time) ([]domain.ReviewID, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM reviews WHERE status=? AND started_at < ?;`,
		domain.StatusRunning, cutoff,
	)
	if err != nil {
		return nil, err
	}
	var candidates []domain.ReviewID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, domain.ReviewID(id))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	raw, err := summaryJSON(domain.Summary{Errors: []string{"review timed out and was reclaimed"}})
	if err != nil {
		return nil, err
	}

	const q = `
UPDATE reviews SET status=?, finished_at=?, summary_json=?
WHERE id=? AND status=? AND started_at < ?;`
	var reaped []domain.ReviewID
	for _, id := range candidates {
		res, err := r.db.ExecContext(ctx, q, domain.StatusFailed, now, raw, id, domain.StatusRunning, cutoff)
		if err != nil {
			return reaped, err
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			reaped = append(reaped, id)
		}
	}
	return reaped, nil
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
	rv.StartedAt = nullTime(started)
	rv.FinishedAt = nullTime(finished)
	rv.Summary = scanSummary(summary)
	rv.ArtifactURL = artifactURL.String
	return &rv, nil
}
