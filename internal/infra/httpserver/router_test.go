package httpserver

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/cloudsense/internal/application"
	appevents "github.com/bryanwahyu/cloudsense/internal/application/events"
	apprepos "github.com/bryanwahyu/cloudsense/internal/application/repos"
	appreviews "github.com/bryanwahyu/cloudsense/internal/application/reviews"
	domevents "github.com/bryanwahyu/cloudsense/internal/domain/events"
	domrepos "github.com/bryanwahyu/cloudsense/internal/domain/repos"
	domreviews "github.com/bryanwahyu/cloudsense/internal/domain/reviews"
)

type memRepoStore struct {
	rows map[domrepos.RepoID]*domrepos.Repository
}

func (m *memRepoStore) Create(_ context.Context, r *domrepos.Repository) error {
	for _, ex := range m.rows {
		if ex.TenantID == r.TenantID && ex.FullName == r.FullName && ex.Active {
			return domrepos.ErrConflict
		}
	}
	cp := *r
	m.rows[r.ID] = &cp
	return nil
}

func (m *memRepoStore) GetByID(_ context.Context, tenant string, id domrepos.RepoID) (*domrepos.Repository, error) {
	r, ok := m.rows[id]
	if !ok || r.TenantID != tenant {
		return nil, domrepos.ErrNotFound
	}
	return r, nil
}

func (m *memRepoStore) GetBySecretHash(_ context.Context, hash string) (*domrepos.Repository, error) {
	for _, r := range m.rows {
		if r.SecretHash == hash {
			return r, nil
		}
	}
	return nil, domrepos.ErrNotFound
}

func (m *memRepoStore) ListByTenant(_ context.Context, tenant string) ([]*domrepos.Repository, error) {
	var out []*domrepos.Repository
	for _, r := range m.rows {
		if r.TenantID == tenant {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepoStore) Deactivate(_ context.Context, tenant string, id domrepos.RepoID) error {
	r, ok := m.rows[id]
	if !ok || r.TenantID != tenant || !r.Active {
		return domrepos.ErrNotFound
	}
	r.Active = false
	return nil
}

func (m *memRepoStore) RotateSecret(_ context.Context, tenant string, id domrepos.RepoID, secret, hash string) error {
	r, ok := m.rows[id]
	if !ok || r.TenantID != tenant || !r.Active {
		return domrepos.ErrNotFound
	}
	r.Secret = secret
	r.SecretHash = hash
	return nil
}

type memEventStore struct {
	events map[domevents.EventID]*domevents.Event
	byKey  map[string]domevents.EventID
	nextID domevents.EventID
}

func (m *memEventStore) Insert(_ context.Context, e *domevents.Event) (domevents.EventID, bool, error) {
	key := fmt.Sprintf("%s|%s", e.RepoID, e.DeliveryID)
	if id, ok := m.byKey[key]; ok {
		return id, false, nil
	}
	m.nextID++
	cp := *e
	cp.ID = m.nextID
	m.events[cp.ID] = &cp
	m.byKey[key] = cp.ID
	return cp.ID, true, nil
}

func (m *memEventStore) Get(_ context.Context, tenant string, id domevents.EventID) (*domevents.Event, error) {
	e, ok := m.events[id]
	if !ok || e.TenantID != tenant {
		return nil, domevents.ErrNotFound
	}
	return e, nil
}

func (m *memEventStore) GetAny(_ context.Context, id domevents.EventID) (*domevents.Event, error) {
	e, ok := m.events[id]
	if !ok {
		return nil, domevents.ErrNotFound
	}
	return e, nil
}

func (m *memEventStore) Paginate(_ context.Context, tenant string, page, pageSize int, f domevents.Filter) (domevents.PaginatedResult, error) {
	var out []*domevents.Event
	for _, e := range m.events {
		if e.TenantID == tenant {
			out = append(out, e)
		}
	}
	return domevents.PaginatedResult{Data: out, Page: page, PageSize: pageSize, Total: int64(len(out))}, nil
}

type memReviewStore struct {
	rows   map[domreviews.ReviewID]*domreviews.Review
	nextID domreviews.ReviewID
}

func (m *memReviewStore) Create(_ context.Context, eventID domevents.EventID, now time.Time) (domreviews.ReviewID, error) {
	m.nextID++
	m.rows[m.nextID] = &domreviews.Review{ID: m.nextID, EventID: eventID, Status: domreviews.StatusQueued, CreatedAt: now}
	return m.nextID, nil
}

func (m *memReviewStore) Get(_ context.Context, id domreviews.ReviewID) (*domreviews.Review, error) {
	rv, ok := m.rows[id]
	if !ok {
		return nil, domreviews.ErrNotFound
	}
	return rv, nil
}

func (m *memReviewStore) ListByEvent(_ context.Context, eventID domevents.EventID) ([]*domreviews.Review, error) {
	var out []*domreviews.Review
	for _, rv := range m.rows {
		if rv.EventID == eventID {
			out = append(out, rv)
		}
	}
	return out, nil
}

func (m *memReviewStore) Claim(context.Context, domreviews.ReviewID, time.Time) error { return nil }

func (m *memReviewStore) InsertFindings(context.Context, domreviews.ReviewID, []domreviews.Finding) error {
	return nil
}

func (m *memReviewStore) FindingsByReview(context.Context, domreviews.ReviewID) ([]domreviews.Finding, error) {
	return nil, nil
}

func (m *memReviewStore) Finalize(context.Context, domreviews.ReviewID, domreviews.Status, time.Time, domreviews.Summary, string) error {
	return nil
}

func (m *memReviewStore) FailStale(context.Context, time.Time, time.Time) ([]domreviews.ReviewID, error) {
	return nil, nil
}

type memQueue struct{ jobs []domreviews.ReviewID }

func (q *memQueue) Enqueue(_ context.Context, id domreviews.ReviewID) error {
	q.jobs = append(q.jobs, id)
	return nil
}

func (q *memQueue) Consume(context.Context, func(ctx context.Context, id domreviews.ReviewID) error) error {
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *memQueue) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repoStore := &memRepoStore{rows: make(map[domrepos.RepoID]*domrepos.Repository)}
	eventStore := &memEventStore{events: make(map[domevents.EventID]*domevents.Event), byKey: make(map[string]domevents.EventID)}
	reviewStore := &memReviewStore{rows: make(map[domreviews.ReviewID]*domreviews.Review)}
	queue := &memQueue{}

	reposSvc := &apprepos.Service{Store: repoStore, PublicBaseURL: "https://reviews.example.com", Clock: application.SystemClock{}}
	eventsSvc := &appevents.Service{
		Events:   eventStore,
		Reviews:  reviewStore,
		Queue:    queue,
		Resolver: reposSvc,
		Clock:    application.SystemClock{},
		Log:      logger,
	}
	reviewsSvc := &appreviews.Service{
		Reviews: reviewStore,
		Events:  eventStore,
		Repos:   repoStore,
		Clock:   application.SystemClock{},
		Log:     logger,
	}

	mux := NewRouter(reposSvc, eventsSvc, reviewsSvc, Options{
		APIKeys: map[string]string{"acme": "key-acme", "globex": "key-globex"},
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, queue
}

func doJSON(t *testing.T, method, url, apiKey string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func registerRepo(t *testing.T, srv *httptest.Server, tenant, apiKey, fullName string) repoCredentialView {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/"+tenant+"/repositories", apiKey,
		map[string]string{"full_name": fullName})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[repoCredentialView](t, resp)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func deliver(t *testing.T, srv *httptest.Server, credential, deliveryID, kind string, body []byte, signature string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhook/"+credential, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-GitHub-Delivery", deliveryID)
	req.Header.Set("X-GitHub-Event", kind)
	req.Header.Set("X-Hub-Signature-256", signature)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

var pushBody = []byte(`{"ref":"refs/heads/main","before":"aaa111","after":"bbb222","repository":{"full_name":"acme/api"}}`)

func TestWebhookIngestion(t *testing.T) {
	srv, queue := newTestServer(t)
	repo := registerRepo(t, srv, "acme", "key-acme", "acme/api")

	resp := deliver(t, srv, repo.WebhookSecret, "d-1", "push", pushBody, sign(repo.WebhookSecret, pushBody))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	res := decode[appevents.IngestResult](t, resp)
	assert.False(t, res.Deduplicated)
	assert.NotZero(t, res.EventID)
	assert.NotZero(t, res.ReviewID)
	assert.Len(t, queue.jobs, 1)
}

func TestWebhookDuplicateDelivery(t *testing.T) {
	srv, queue := newTestServer(t)
	repo := registerRepo(t, srv, "acme", "key-acme", "acme/api")
	sig := sign(repo.WebhookSecret, pushBody)

	first := deliver(t, srv, repo.WebhookSecret, "d-dup", "push", pushBody, sig)
	require.Equal(t, http.StatusAccepted, first.StatusCode)
	firstRes := decode[appevents.IngestResult](t, first)

	second := deliver(t, srv, repo.WebhookSecret, "d-dup", "push", pushBody, sig)
	require.Equal(t, http.StatusAccepted, second.StatusCode)
	secondRes := decode[appevents.IngestResult](t, second)

	assert.True(t, secondRes.Deduplicated)
	assert.Equal(t, firstRes.EventID, secondRes.EventID)
	assert.Len(t, queue.jobs, 1)
}

func TestWebhookBadSignature(t *testing.T) {
	srv, queue := newTestServer(t)
	repo := registerRepo(t, srv, "acme", "key-acme", "acme/api")

	resp := deliver(t, srv, repo.WebhookSecret, "d-1", "push", pushBody, sign("wrong", pushBody))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, queue.jobs)
}

func TestWebhookMalformedPayload(t *testing.T) {
	srv, queue := newTestServer(t)
	repo := registerRepo(t, srv, "acme", "key-acme", "acme/api")

	body := []byte("ref=refs/heads/main") // signed correctly, but not JSON
	resp := deliver(t, srv, repo.WebhookSecret, "d-1", "push", body, sign(repo.WebhookSecret, body))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, queue.jobs)
}

func TestWebhookUnknownCredential(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := deliver(t, srv, "deadbeefdeadbeefdeadbeefdeadbeef", "d-1", "push", pushBody, sign("deadbeef", pushBody))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebhookMissingDeliveryHeader(t *testing.T) {
	srv, _ := newTestServer(t)
	repo := registerRepo(t, srv, "acme", "key-acme", "acme/api")

	resp := deliver(t, srv, repo.WebhookSecret, "", "push", pushBody, sign(repo.WebhookSecret, pushBody))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLegacyWebhookDisabled(t *testing.T) {
	srv, _ := newTestServer(t)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhook", bytes.NewReader(pushBody))
	require.NoError(t, err)
	req.Header.Set("X-GitHub-Delivery", "d-legacy")
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature-256", sign("anything", pushBody))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRegisterConflictAndRotate(t *testing.T) {
	srv, _ := newTestServer(t)
	repo := registerRepo(t, srv, "acme", "key-acme", "acme/api")
	assert.NotEmpty(t, repo.WebhookSecret)
	assert.Contains(t, repo.WebhookURL, "/webhook/"+repo.WebhookSecret)

	dup := doJSON(t, http.MethodPost, srv.URL+"/v1/acme/repositories", "key-acme",
		map[string]string{"full_name": "acme/api"})
	defer dup.Body.Close()
	assert.Equal(t, http.StatusConflict, dup.StatusCode)

	rot := doJSON(t, http.MethodPost, srv.URL+"/v1/acme/repositories/"+string(repo.ID)+"/rotate", "key-acme", nil)
	require.Equal(t, http.StatusOK, rot.StatusCode)
	rotated := decode[repoCredentialView](t, rot)
	assert.NotEqual(t, repo.WebhookSecret, rotated.WebhookSecret)

	// the old credential stops resolving immediately
	resp := deliver(t, srv, repo.WebhookSecret, "d-old", "push", pushBody, sign(repo.WebhookSecret, pushBody))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListReposHidesSecret(t *testing.T) {
	srv, _ := newTestServer(t)
	registerRepo(t, srv, "acme", "key-acme", "acme/api")

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/acme/repositories", "key-acme", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "webhook_secret")
}

func TestRegisterValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/acme/repositories", "key-acme",
		map[string]string{"full_name": "not-a-repo"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIKeyRequired(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/acme/events", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp2 := doJSON(t, http.MethodGet, srv.URL+"/v1/acme/events", "bogus-key", nil)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestTenantMismatchLooksUnknown(t *testing.T) {
	srv, _ := newTestServer(t)

	// globex key against acme's URL space
	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/acme/events", "key-globex", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCrossTenantEventLooksUnknown(t *testing.T) {
	srv, _ := newTestServer(t)
	repo := registerRepo(t, srv, "acme", "key-acme", "acme/api")
	ing := deliver(t, srv, repo.WebhookSecret, "d-1", "push", pushBody, sign(repo.WebhookSecret, pushBody))
	require.Equal(t, http.StatusAccepted, ing.StatusCode)
	res := decode[appevents.IngestResult](t, ing)

	url := fmt.Sprintf("%s/v1/globex/events/%d", srv.URL, res.EventID)
	resp := doJSON(t, http.MethodGet, url, "key-globex", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	rvURL := fmt.Sprintf("%s/v1/globex/reviews/%d", srv.URL, res.ReviewID)
	rvResp := doJSON(t, http.MethodGet, rvURL, "key-globex", nil)
	defer rvResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, rvResp.StatusCode)
}

func TestEventDetailAndManualRerun(t *testing.T) {
	srv, queue := newTestServer(t)
	repo := registerRepo(t, srv, "acme", "key-acme", "acme/api")
	ing := deliver(t, srv, repo.WebhookSecret, "d-1", "push", pushBody, sign(repo.WebhookSecret, pushBody))
	require.Equal(t, http.StatusAccepted, ing.StatusCode)
	res := decode[appevents.IngestResult](t, ing)

	url := fmt.Sprintf("%s/v1/acme/events/%d", srv.URL, res.EventID)
	resp := doJSON(t, http.MethodGet, url, "key-acme", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detail := decode[struct {
		Event   *domevents.Event     `json:"event"`
		Reviews []*domreviews.Review `json:"reviews"`
	}](t, resp)
	assert.Equal(t, "acme/api", detail.Event.RepoName)
	require.Len(t, detail.Reviews, 1)

	rerun := doJSON(t, http.MethodPost, url+"/enqueue", "key-acme", nil)
	require.Equal(t, http.StatusAccepted, rerun.StatusCode)
	rerun.Body.Close()
	assert.Len(t, queue.jobs, 2)
}

func TestGetReviewAndFindings(t *testing.T) {
	srv, _ := newTestServer(t)
	repo := registerRepo(t, srv, "acme", "key-acme", "acme/api")
	ing := deliver(t, srv, repo.WebhookSecret, "d-1", "push", pushBody, sign(repo.WebhookSecret, pushBody))
	require.Equal(t, http.StatusAccepted, ing.StatusCode)
	res := decode[appevents.IngestResult](t, ing)

	url := fmt.Sprintf("%s/v1/acme/reviews/%d", srv.URL, res.ReviewID)
	resp := doJSON(t, http.MethodGet, url, "key-acme", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detail := decode[appreviews.Detail](t, resp)
	assert.Equal(t, domreviews.StatusQueued, detail.Review.Status)

	fResp := doJSON(t, http.MethodGet, url+"/findings", "key-acme", nil)
	require.Equal(t, http.StatusOK, fResp.StatusCode)
	findings := decode[[]domreviews.Finding](t, fResp)
	assert.Empty(t, findings)
}

func TestBadReviewID(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/acme/reviews/abc", "key-acme", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
