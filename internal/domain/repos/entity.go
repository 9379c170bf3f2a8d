package repos

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ID tipe for Repository
type RepoID string

// Aggregate Root: Repository
// A repository is never physically deleted; deactivation keeps the audit trail.
type Repository struct {
	ID          RepoID    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	FullName    string    `json:"full_name"`
	Secret      string    `json:"webhook_secret"`
	SecretHash  string    `json:"-"`
	GitHubToken string    `json:"-"`
	Active      bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewSecret returns a fresh webhook credential: 16 bytes from crypto/rand,
// hex encoded (128 bits of entropy).
func NewSecret() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// HashSecret is the lookup key for credentials. Resolving by digest keeps the
// store lookup independent of the credential prefix.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
