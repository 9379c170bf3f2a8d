package events

import (
	"time"

	"github.com/bryanwahyu/cloudsense/internal/domain/repos"
)

// EventID is the store-assigned id; newest-first ordering relies on it.
type EventID int64

// Kind enum (provider event types we care about)
type Kind string

const (
	KindPush        Kind = "push"
	KindPullRequest Kind = "pull_request"
)

// TriggersReview reports whether deliveries of this kind enqueue a review.
func (k Kind) TriggersReview() bool {
	return k == KindPush || k == KindPullRequest
}

// Event is an immutable record of one webhook delivery.
// At most one Event exists per (repository_id, delivery_id).
type Event struct {
	ID         EventID      `json:"id"`
	TenantID   string       `json:"tenant_id"`
	RepoID     repos.RepoID `json:"repository_id"`
	DeliveryID string       `json:"delivery_id"`
	Kind       Kind         `json:"event_type"`
	RepoName   string       `json:"repo"`
	Ref        string       `json:"ref,omitempty"`
	HeadSHA    string       `json:"after_sha,omitempty"`
	Payload    []byte       `json:"-"`
	CreatedAt  time.Time    `json:"created_at"`
}
