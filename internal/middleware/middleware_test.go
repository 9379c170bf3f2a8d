package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestValidateRepoFullName(t *testing.T) {
	valid := []string{"acme/api", "bryanwahyu/cloudsense", "a/b", "Owner-1/repo.name_x"}
	for _, v := range valid {
		assert.NoError(t, ValidateRepoFullName(v), v)
	}

	invalid := []string{"", "acme", "acme/", "/api", "acme/api/extra", "../etc", "acme /api"}
	for _, v := range invalid {
		assert.Error(t, ValidateRepoFullName(v), v)
	}
}

func TestValidateTenantID(t *testing.T) {
	assert.NoError(t, ValidateTenantID("acme"))
	assert.NoError(t, ValidateTenantID("acme_prod-1"))
	assert.Error(t, ValidateTenantID(""))
	assert.Error(t, ValidateTenantID("acme/evil"))
}

func TestValidatePagination(t *testing.T) {
	assert.Equal(t, 1, ValidatePage(0))
	assert.Equal(t, 3, ValidatePage(3))
	assert.Equal(t, 20, ValidatePageSize(0))
	assert.Equal(t, 100, ValidatePageSize(500))
	assert.Equal(t, 25, ValidatePageSize(25))
}

func newAuthedRouter(keys map[string]string) http.Handler {
	r := chi.NewRouter()
	r.Group(func(g chi.Router) {
		g.Use(APIKeyAuth(keys))
		g.Route("/v1/{tenant}", func(rt chi.Router) {
			rt.Use(TenantMatch)
			rt.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(GetTenantFromContext(r.Context())))
			})
			rt.Get("/health", func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("ok"))
			})
		})
	})
	return r
}

func TestAPIKeyAuthAndTenantMatch(t *testing.T) {
	mux := newAuthedRouter(map[string]string{"acme": "key-acme", "globex": "key-globex"})

	cases := []struct {
		name   string
		path   string
		key    string
		status int
	}{
		{"valid key own tenant", "/v1/acme/ping", "key-acme", http.StatusOK},
		{"missing key", "/v1/acme/ping", "", http.StatusUnauthorized},
		{"wrong key", "/v1/acme/ping", "nope", http.StatusUnauthorized},
		{"valid key other tenant", "/v1/acme/ping", "key-globex", http.StatusNotFound},
		{"health-named route still needs key", "/v1/acme/health", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.key != "" {
				req.Header.Set("Authorization", "Bearer "+tc.key)
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestTokenBucket(t *testing.T) {
	tb := NewTokenBucket(2, 1)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestRateLimitMiddlewarePerClientIP(t *testing.T) {
	handler := RateLimitMiddleware(1, 1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	do := func(remoteAddr string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhook/abc", nil)
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusAccepted, do("192.0.2.1:1111"))
	// same client on a new source port shares the bucket
	assert.Equal(t, http.StatusTooManyRequests, do("192.0.2.1:2222"))
	assert.Equal(t, http.StatusAccepted, do("192.0.2.9:1111"))
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/acme/events", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	line := buf.String()
	assert.Contains(t, line, `"method":"GET"`)
	assert.Contains(t, line, `"path":"/v1/acme/events"`)
	assert.Contains(t, line, `"status":404`)
}
