package events

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bryanwahyu/cloudsense/internal/application"
	domain "github.com/bryanwahyu/cloudsense/internal/domain/events"
	"github.com/bryanwahyu/cloudsense/internal/domain/repos"
	"github.com/bryanwahyu/cloudsense/internal/domain/reviews"
)

// CredentialResolver matches a webhook credential to its active repository.
type CredentialResolver interface {
	ResolveByCredential(ctx context.Context, credential string) (*repos.Repository, error)
}

// Service implements webhook ingestion and the tenant-scoped event reads.
type Service struct {
	Events   domain.Store
	Reviews  reviews.Store
	Queue    reviews.Queue
	Resolver CredentialResolver
	Clock    application.Clock
	Log      *slog.Logger

	// Legacy unscoped /webhook support; disabled unless both are set.
	LegacySecret string
	LegacyTenant string
}

// Command carrying one inbound delivery
type IngestCommand struct {
	Credential string // empty on the legacy unscoped endpoint
	DeliveryID string
	Kind       string
	Signature  string // X-Hub-Signature-256 header value
	Body       []byte
}

type IngestResult struct {
	EventID      domain.EventID   `json:"event_id"`
	ReviewID     reviews.ReviewID `json:"review_id,omitempty"`
	Deduplicated bool             `json:"deduplicated"`
}

// payload fields we lift out of the provider body
type deliveryPayload struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// Ingest runs the delivery pipeline: verify -> resolve -> dedup -> persist ->
// enqueue. A replayed delivery returns the existing event id and performs no
// further side effects.
func (s *Service) Ingest(ctx context.Context, cmd IngestCommand) (IngestResult, error) {
	var (
		secret string
		tenant string
		repoID repos.RepoID
	)

	if cmd.Credential != "" {
		r, err := s.Resolver.ResolveByCredential(ctx, cmd.Credential)
		if err != nil {
			return IngestResult{}, err
		}
		secret, tenant, repoID = r.Secret, r.TenantID, r.ID
	} else {
		// Unscoped endpoint: compatibility mode only, never an implicit
		// escalation path.
		if s.LegacySecret == "" || s.LegacyTenant == "" {
			return IngestResult{}, repos.ErrNotFound
		}
		secret, tenant = s.LegacySecret, s.LegacyTenant
	}

	if !VerifySignature(secret, cmd.Body, cmd.Signature) {
		return IngestResult{}, domain.ErrSignatureInvalid
	}

	var p deliveryPayload
	if err := json.Unmarshal(cmd.Body, &p); err != nil {
		return IngestResult{}, fmt.Errorf("%w: %v", domain.ErrPayloadMalformed, err)
	}

	now := s.Clock.Now()
	ev := &domain.Event{
		TenantID:   tenant,
		RepoID:     repoID,
		DeliveryID: cmd.DeliveryID,
		Kind:       domain.Kind(cmd.Kind),
		RepoName:   p.Repository.FullName,
		Ref:        p.Ref,
		HeadSHA:    p.After,
		Payload:    cmd.Body,
		CreatedAt:  now,
	}

	id, created, err := s.Events.Insert(ctx, ev)
	if err != nil {
		return IngestResult{}, err
	}
	if !created {
		s.Log.Info("duplicate delivery absorbed", "delivery_id", cmd.DeliveryID, "event_id", id)
		return IngestResult{EventID: id, Deduplicated: true}, nil
	}

	res := IngestResult{EventID: id}
	if ev.Kind.TriggersReview() {
		reviewID, err := s.enqueueReview(ctx, id, now)
		if err != nil {
			// The event is persisted; a failed hand-off must not bounce the
			// delivery back to the provider. The review can be re-enqueued.
			s.Log.Error("review enqueue failed", "event_id", id, "err", err)
			return res, nil
		}
		res.ReviewID = reviewID
	}
	return res, nil
}

// enqueueReview creates the queued review row before handing the job to the
// queue, so a job reference is always resolvable.
func (s *Service) enqueueReview(ctx context.Context, eventID domain.EventID, now time.Time) (reviews.ReviewID, error) {
	reviewID, err := s.Reviews.Create(ctx, eventID, now)
	if err != nil {
		return 0, err
	}
	if err := s.Queue.Enqueue(ctx, reviewID); err != nil {
		return 0, err
	}
	return reviewID, nil
}

// VerifySignature checks the provider HMAC over the raw body. Comparison is
// constant-time.
func VerifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// List returns the tenant's events, newest first.
func (s *Service) List(ctx context.Context, tenant string, page, pageSize int, f domain.Filter) (domain.PaginatedResult, error) {
	return s.Events.Paginate(ctx, tenant, page, pageSize, f)
}

// Get returns one event with its reviews, latest first. Cross-tenant ids look
// identical to unknown ids.
func (s *Service) Get(ctx context.Context, tenant string, id domain.EventID) (*domain.Event, []*reviews.Review, error) {
	ev, err := s.Events.Get(ctx, tenant, id)
	if err != nil {
		return nil, nil, err
	}
	rvs, err := s.Reviews.ListByEvent(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return ev, rvs, nil
}

// EnqueueManual creates a fresh queued review for an event the tenant owns
// and hands it to the queue. Terminal reviews are never reused.
func (s *Service) EnqueueManual(ctx context.Context, tenant string, id domain.EventID) (reviews.ReviewID, error) {
	if _, err := s.Events.Get(ctx, tenant, id); err != nil {
		return 0, err
	}
	return s.enqueueReview(ctx, id, s.Clock.Now())
}
