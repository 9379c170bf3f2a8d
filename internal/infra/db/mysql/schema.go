package mysql

import (
	"context"
	"database/sql"
)

// InitSchema creates the tables when they do not exist yet. The unique key on
// (repository_id, delivery_id) is the serialization point for webhook dedup.
func InitSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS repositories (
  id            VARCHAR(36) PRIMARY KEY,
  tenant_id     VARCHAR(64)  NOT NULL,
  full_name     VARCHAR(255) NOT NULL,
  webhook_secret VARCHAR(64) NOT NULL,
  secret_hash   CHAR(64)     NOT NULL,
  github_token  TEXT NULL,
  active        TINYINT(1)   NOT NULL DEFAULT 1,
  created_at    DATETIME     NOT NULL,
  active_name   VARCHAR(255) GENERATED ALWAYS AS (IF(active = 1, full_name, NULL)) STORED,
  UNIQUE KEY uq_repositories_secret_hash (secret_hash),
  UNIQUE KEY uq_repositories_active_name (tenant_id, active_name),
  KEY idx_repositories_tenant (tenant_id)
);`,
		`CREATE TABLE IF NOT EXISTS events (
  id            BIGINT AUTO_INCREMENT PRIMARY KEY,
  tenant_id     VARCHAR(64)  NOT NULL,
  repository_id VARCHAR(36)  NOT NULL DEFAULT '',
  delivery_id   VARCHAR(128) NOT NULL,
  event_type    VARCHAR(64)  NOT NULL,
  repo          VARCHAR(255) NOT NULL DEFAULT '',
  ref           VARCHAR(255) NULL,
  after_sha     VARCHAR(64)  NULL,
  payload       MEDIUMBLOB,
  created_at    DATETIME     NOT NULL,
  UNIQUE KEY uq_events_repo_delivery (repository_id, delivery_id),
  KEY idx_events_tenant (tenant_id)
);`,
		`CREATE TABLE IF NOT EXISTS reviews (
  id           BIGINT AUTO_INCREMENT PRIMARY KEY,
  event_id     BIGINT      NOT NULL,
  status       VARCHAR(16) NOT NULL,
  started_at   DATETIME NULL,
  finished_at  DATETIME NULL,
  summary_json JSON NULL,
  artifact_url VARCHAR(512) NOT NULL DEFAULT '',
  created_at   DATETIME    NOT NULL,
  KEY idx_reviews_event (event_id),
  KEY idx_reviews_status (status, started_at)
);`,
		`CREATE TABLE IF NOT EXISTS findings (
  id         BIGINT AUTO_INCREMENT PRIMARY KEY,
  review_id  BIGINT       NOT NULL,
  file_path  VARCHAR(512) NOT NULL DEFAULT '',
  severity   VARCHAR(16)  NOT NULL,
  title      VARCHAR(512) NOT NULL,
  rationale  TEXT,
  start_line INT NOT NULL DEFAULT 0,
  end_line   INT NOT NULL DEFAULT 0,
  patch      MEDIUMTEXT,
  tool       VARCHAR(32)  NOT NULL,
  KEY idx_findings_review (review_id)
);`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
