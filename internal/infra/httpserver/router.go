package httpserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	appevents "github.com/bryanwahyu/cloudsense/internal/application/events"
	apprepos "github.com/bryanwahyu/cloudsense/internal/application/repos"
	appreviews "github.com/bryanwahyu/cloudsense/internal/application/reviews"
	domevents "github.com/bryanwahyu/cloudsense/internal/domain/events"
	domrepos "github.com/bryanwahyu/cloudsense/internal/domain/repos"
	domreviews "github.com/bryanwahyu/cloudsense/internal/domain/reviews"
	"github.com/bryanwahyu/cloudsense/internal/middleware"
)

// maxBodyBytes caps inbound webhook payloads.
const maxBodyBytes = 5 << 20

type Router struct {
	reposSvc   *apprepos.Service
	eventsSvc  *appevents.Service
	reviewsSvc *appreviews.Service
}

type Options struct {
	APIKeys        map[string]string
	HealthCheckers map[string]middleware.HealthChecker
	Logger         *slog.Logger
}

func NewRouter(reposSvc *apprepos.Service, eventsSvc *appevents.Service, reviewsSvc *appreviews.Service, opts Options) http.Handler {
	r := &Router{reposSvc: reposSvc, eventsSvc: eventsSvc, reviewsSvc: reviewsSvc}
	mux := chi.NewRouter()

	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux.Use(middleware.RequestLogger(logger))
	mux.Use(middleware.MetricsMiddleware)

	mux.Get("/health", middleware.HealthHandler(opts.HealthCheckers))
	mux.Get("/ready", middleware.ReadinessHandler)
	mux.Get("/live", middleware.LivenessHandler)
	mux.Get("/metrics", middleware.MetricsHandler)

	// Webhook ingress authenticates with the per-repository credential and the
	// HMAC signature, never with an API key.
	mux.Group(func(g chi.Router) {
		g.Use(middleware.RateLimitMiddleware(60, 10))
		g.Post("/webhook", r.wrap(r.handleWebhook))
		g.Post("/webhook/{credential}", r.wrap(r.handleWebhook))
	})

	mux.Group(func(g chi.Router) {
		g.Use(middleware.APIKeyAuth(opts.APIKeys))
		g.Route("/v1/{tenant}", func(rt chi.Router) {
			rt.Use(middleware.TenantMatch)

			rt.Post("/repositories", r.wrap(r.handleRegisterRepo))
			rt.Get("/repositories", r.wrap(r.handleListRepos))
			rt.Get("/repositories/{id}", r.wrap(r.handleGetRepo))
			rt.Delete("/repositories/{id}", r.wrap(r.handleDeactivateRepo))
			rt.Post("/repositories/{id}/rotate", r.wrap(r.handleRotateRepo))

			rt.Get("/events", r.wrap(r.handleListEvents))
			rt.Get("/events/{id}", r.wrap(r.handleGetEvent))
			rt.Post("/events/{id}/enqueue", r.wrap(r.handleEnqueueReview))

			rt.Get("/reviews/{id}", r.wrap(r.handleGetReview))
			rt.Get("/reviews/{id}/findings", r.wrap(r.handleListFindings))
		})
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequest marks client errors that should surface as 400.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			var br badRequest
			switch {
			case errors.As(err, &br):
				http.Error(w, br.msg, http.StatusBadRequest)
			case errors.Is(err, domevents.ErrSignatureInvalid):
				http.Error(w, "invalid signature", http.StatusUnauthorized)
			case errors.Is(err, domevents.ErrPayloadMalformed):
				http.Error(w, "invalid payload", http.StatusBadRequest)
			case errors.Is(err, domrepos.ErrConflict):
				http.Error(w, "repository already registered", http.StatusConflict)
			case errors.Is(err, domrepos.ErrNotFound),
				errors.Is(err, domevents.ErrNotFound),
				errors.Is(err, domreviews.ErrNotFound),
				errors.Is(err, sql.ErrNoRows):
				http.Error(w, "not found", http.StatusNotFound)
			default:
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func tenantOf(req *http.Request) string {
	return chi.URLParam(req, "tenant")
}

func pathID(req *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
	if err != nil {
		return 0, badRequest{msg: "invalid id"}
	}
	return id, nil
}

// POST /webhook/{credential} and POST /webhook (legacy, unscoped)
func (r *Router) handleWebhook(w http.ResponseWriter, req *http.Request) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err != nil {
		return badRequest{msg: "payload too large or unreadable"}
	}

	cmd := appevents.IngestCommand{
		Credential: chi.URLParam(req, "credential"),
		DeliveryID: req.Header.Get("X-GitHub-Delivery"),
		Kind:       req.Header.Get("X-GitHub-Event"),
		Signature:  req.Header.Get("X-Hub-Signature-256"),
		Body:       body,
	}
	if cmd.DeliveryID == "" {
		return badRequest{msg: "missing X-GitHub-Delivery header"}
	}

	res, err := r.eventsSvc.Ingest(req.Context(), cmd)
	if err != nil {
		return err
	}
	if res.ReviewID != 0 {
		middleware.IncrementReviews()
	}
	return writeJSON(w, http.StatusAccepted, res)
}

// repoView is the read shape: the credential never appears on reads, only on
// the register and rotate responses.
type repoView struct {
	ID        domrepos.RepoID `json:"id"`
	FullName  string          `json:"full_name"`
	IsActive  bool            `json:"is_active"`
	CreatedAt string          `json:"created_at"`
}

type repoCredentialView struct {
	repoView
	WebhookSecret string `json:"webhook_secret"`
	WebhookURL    string `json:"webhook_url"`
}

func newRepoView(rp *domrepos.Repository) repoView {
	return repoView{
		ID:        rp.ID,
		FullName:  rp.FullName,
		IsActive:  rp.Active,
		CreatedAt: rp.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// POST /v1/{tenant}/repositories
func (r *Router) handleRegisterRepo(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		FullName    string `json:"full_name"`
		GitHubToken string `json:"github_token"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest{msg: "invalid JSON body"}
	}
	if err := middleware.ValidateRepoFullName(body.FullName); err != nil {
		return badRequest{msg: err.Error()}
	}

	rp, err := r.reposSvc.Register(req.Context(), apprepos.RegisterCommand{
		TenantID:    tenantOf(req),
		FullName:    body.FullName,
		GitHubToken: body.GitHubToken,
	})
	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusCreated, repoCredentialView{
		repoView:      newRepoView(rp),
		WebhookSecret: rp.Secret,
		WebhookURL:    r.reposSvc.WebhookURL(rp),
	})
}

// GET /v1/{tenant}/repositories
func (r *Router) handleListRepos(w http.ResponseWriter, req *http.Request) error {
	list, err := r.reposSvc.List(req.Context(), tenantOf(req))
	if err != nil {
		return err
	}
	out := make([]repoView, 0, len(list))
	for _, rp := range list {
		out = append(out, newRepoView(rp))
	}
	return writeJSON(w, http.StatusOK, out)
}

// GET /v1/{tenant}/repositories/{id}
func (r *Router) handleGetRepo(w http.ResponseWriter, req *http.Request) error {
	rp, err := r.reposSvc.Get(req.Context(), tenantOf(req), domrepos.RepoID(chi.URLParam(req, "id")))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, newRepoView(rp))
}

// DELETE /v1/{tenant}/repositories/{id}
func (r *Router) handleDeactivateRepo(w http.ResponseWriter, req *http.Request) error {
	if err := r.reposSvc.Deactivate(req.Context(), tenantOf(req), domrepos.RepoID(chi.URLParam(req, "id"))); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// POST /v1/{tenant}/repositories/{id}/rotate
func (r *Router) handleRotateRepo(w http.ResponseWriter, req *http.Request) error {
	rp, err := r.reposSvc.Rotate(req.Context(), tenantOf(req), domrepos.RepoID(chi.URLParam(req, "id")))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, repoCredentialView{
		repoView:      newRepoView(rp),
		WebhookSecret: rp.Secret,
		WebhookURL:    r.reposSvc.WebhookURL(rp),
	})
}

// GET /v1/{tenant}/events?page=&page_size=&repo=&type=
func (r *Router) handleListEvents(w http.ResponseWriter, req *http.Request) error {
	page, _ := strconv.Atoi(req.URL.Query().Get("page"))
	size, _ := strconv.Atoi(req.URL.Query().Get("page_size"))
	f := domevents.Filter{
		Repo: req.URL.Query().Get("repo"),
		Kind: req.URL.Query().Get("type"),
	}

	list, err := r.eventsSvc.List(req.Context(), tenantOf(req), middleware.ValidatePage(page), middleware.ValidatePageSize(size), f)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /v1/{tenant}/events/{id}
func (r *Router) handleGetEvent(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	ev, rvs, err := r.eventsSvc.Get(req.Context(), tenantOf(req), domevents.EventID(id))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"event":   ev,
		"reviews": rvs,
	})
}

// POST /v1/{tenant}/events/{id}/enqueue re-runs the review for an event.
func (r *Router) handleEnqueueReview(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	reviewID, err := r.eventsSvc.EnqueueManual(req.Context(), tenantOf(req), domevents.EventID(id))
	if err != nil {
		return err
	}
	middleware.IncrementReviews()
	return writeJSON(w, http.StatusAccepted, map[string]any{
		"review_id": reviewID,
		"status":    domreviews.StatusQueued,
	})
}

// GET /v1/{tenant}/reviews/{id}
func (r *Router) handleGetReview(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	detail, err := r.reviewsSvc.Get(req.Context(), tenantOf(req), domreviews.ReviewID(id))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, detail)
}

// GET /v1/{tenant}/reviews/{id}/findings
func (r *Router) handleListFindings(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	findings, err := r.reviewsSvc.ListFindings(req.Context(), tenantOf(req), domreviews.ReviewID(id))
	if err != nil {
		return err
	}
	if findings == nil {
		findings = []domreviews.Finding{}
	}
	return writeJSON(w, http.StatusOK, findings)
}
