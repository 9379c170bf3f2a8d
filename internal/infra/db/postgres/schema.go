package postgres

import (
	"context"
	"database/sql"
)

// InitSchema creates the tables when they do not exist yet. The unique index
// on (repository_id, delivery_id) is the serialization point for webhook
// dedup.
func InitSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS repositories (
  id             VARCHAR(36) PRIMARY KEY,
  tenant_id      VARCHAR(64)  NOT NULL,
  full_name      VARCHAR(255) NOT NULL,
  webhook_secret VARCHAR(64)  NOT NULL,
  secret_hash    CHAR(64)     NOT NULL UNIQUE,
  github_token   TEXT NULL,
  active         BOOLEAN      NOT NULL DEFAULT TRUE,
  created_at     TIMESTAMPTZ  NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_repositories_tenant ON repositories (tenant_id);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_repositories_active_name ON repositories (tenant_id, full_name) WHERE active;`,
		`CREATE TABLE IF NOT EXISTS events (
  id            BIGSERIAL PRIMARY KEY,
  tenant_id     VARCHAR(64)  NOT NULL,
  repository_id VARCHAR(36)  NOT NULL DEFAULT '',
  delivery_id   VARCHAR(128) NOT NULL,
  event_type    VARCHAR(64)  NOT NULL,
  repo          VARCHAR(255) NOT NULL DEFAULT '',
  ref           VARCHAR(255) NULL,
  after_sha     VARCHAR(64)  NULL,
  payload       BYTEA,
  created_at    TIMESTAMPTZ  NOT NULL,
  UNIQUE (repository_id, delivery_id)
);`,
		`CREATE INDEX IF NOT EXISTS idx_events_tenant ON events (tenant_id);`,
		`CREATE TABLE IF NOT EXISTS reviews (
  id           BIGSERIAL PRIMARY KEY,
  event_id     BIGINT      NOT NULL,
  status       VARCHAR(16) NOT NULL,
  started_at   TIMESTAMPTZ NULL,
  finished_at  TIMESTAMPTZ NULL,
  summary_json JSONB NULL,
  artifact_url VARCHAR(512) NOT NULL DEFAULT '',
  created_at   TIMESTAMPTZ NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_reviews_event ON reviews (event_id);`,
		`CREATE INDEX IF NOT EXISTS idx_reviews_status ON reviews (status, started_at);`,
		`CREATE TABLE IF NOT EXISTS findings (
  id         BIGSERIAL PRIMARY KEY,
  review_id  BIGINT       NOT NULL,
  file_path  VARCHAR(512) NOT NULL DEFAULT '',
  severity   VARCHAR(16)  NOT NULL,
  title      VARCHAR(512) NOT NULL,
  rationale  TEXT,
  start_line INT NOT NULL DEFAULT 0,
  end_line   INT NOT NULL DEFAULT 0,
  patch      TEXT,
  tool       VARCHAR(32)  NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_findings_review ON findings (review_id);`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
