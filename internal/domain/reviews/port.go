package reviews

import (
	"context"
	"errors"
	"time"

	"github.com/bryanwahyu/cloudsense/internal/domain/events"
)

// ErrNotFound covers unknown ids and cross-tenant reads alike.
var ErrNotFound = errors.New("review not found")

// ErrNotClaimed signals a lost claim race or a review that is no longer queued.
var ErrNotClaimed = errors.New("review not claimable")

// Store port (interface for persistence)
type Store interface {
	// Create inserts a fresh review in queued state and returns its id.
	Create(ctx context.Context, eventID events.EventID, now time.Time) (ReviewID, error)
	Get(ctx context.Context, id ReviewID) (*Review, error)
	ListByEvent(ctx context.Context, eventID events.EventID) ([]*Review, error)
	// Claim transitions queued -> running with a conditional update keyed on
	// prior status. Exactly one concurrent claimer wins; losers get
	// ErrNotClaimed.
	Claim(ctx context.Context, id ReviewID, now time.Time) error
	InsertFindings(ctx context.Context, id ReviewID, findings []Finding) error
	FindingsByReview(ctx context.Context, id ReviewID) ([]Finding, error)
	// Finalize moves running -> done|failed, recording finished_at, the
	// summary and the optional artifact URL. Conditional on status=running.
	Finalize(ctx context.Context, id ReviewID, status Status, now time.Time, summary Summary, artifactURL string) error
	// FailStale marks reviews stuck in running since before cutoff as failed,
	// so a crashed worker cannot wedge a review forever. Returns the ids it
	// reaped.
	FailStale(ctx context.Context, cutoff time.Time, now time.Time) ([]ReviewID, error)
}

// ArtifactStore port (interface for review report storage)
type ArtifactStore interface {
	UploadReport(ctx context.Context, key string, report []byte) (url string, err error)
}

// Queue port: durable at-least-once hand-off of review ids between the
// ingest side and the workers.
type Queue interface {
	Enqueue(ctx context.Context, id ReviewID) error
	// Consume delivers review ids to fn until ctx is done. A nil return acks
	// the message; an error leaves it for redelivery.
	Consume(ctx context.Context, fn func(ctx context.Context, id ReviewID) error) error
}
