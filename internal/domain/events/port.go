package events

import (
	"context"
	"errors"
)

// ErrNotFound covers unknown ids and cross-tenant reads alike.
var ErrNotFound = errors.New("event not found")

// ErrSignatureInvalid rejects a delivery whose HMAC does not match. No Event
// is created for such deliveries.
var ErrSignatureInvalid = errors.New("webhook signature invalid")

// ErrPayloadMalformed rejects a signature-valid delivery whose body is not
// parseable JSON.
var ErrPayloadMalformed = errors.New("webhook payload is not valid JSON")

// Filter narrows event listings.
type Filter struct {
	Repo string
	Kind string
}

// Store port (interface for persistence)
type Store interface {
	// Insert persists the event unless one with the same (repository_id,
	// delivery_id) already exists; then it returns the existing id and
	// created=false. The dedup check and insert are atomic under the unique
	// constraint, so concurrent duplicate deliveries resolve to one row.
	Insert(ctx context.Context, e *Event) (id EventID, created bool, err error)
	Get(ctx context.Context, tenant string, id EventID) (*Event, error)
	// GetAny loads the event without a tenant filter; worker-side only, the
	// job already carries an authorized reference.
	GetAny(ctx context.Context, id EventID) (*Event, error)
	Paginate(ctx context.Context, tenant string, page, pageSize int, f Filter) (PaginatedResult, error)
}
