package mysql

import (
	"database/sql"
	"encoding/json"
	"time"

	domain "github.com/bryanwahyu/cloudsense/internal/domain/reviews"
)

// nullTime maps a nullable datetime column to *time.Time
func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// summaryJSON renders a review summary for the summary_json column
func summaryJSON(s domain.Summary) ([]byte, error) {
	return json.Marshal(s)
}

// scanSummary decodes summary_json, tolerating NULL for queued reviews
func scanSummary(raw sql.NullString) domain.Summary {
	var s domain.Summary
	if raw.Valid && raw.String != "" {
		_ = json.Unmarshal([]byte(raw.String), &s)
	}
	return s
}
