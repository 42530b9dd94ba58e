package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"api_gateway/internal/gate"
	"api_gateway/internal/metrics"
	"api_gateway/internal/pipeline"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeValidator struct {
	owner    uuid.UUID
	reject   gate.ReasonCode
	requests []pipeline.Request
	owners   []uuid.UUID
}

func (f *fakeValidator) outcome() *pipeline.Outcome {
	if f.reject != "" {
		return &pipeline.Outcome{
			Reason:       f.reject,
			Message:      "rejected",
			HTTPStatus:   f.reject.HTTPStatus(),
			Category:     f.reject.Category(),
			Retryable:    f.reject.Retryable(),
			QuotaLimit:   10,
			CurrentUsage: 10,
		}
	}
	owner := f.owner
	return &pipeline.Outcome{Admitted: true, Reason: gate.ReasonAdmitted, HTTPStatus: http.StatusOK, OwnerID: &owner}
}

func (f *fakeValidator) Validate(ctx context.Context, req pipeline.Request) *pipeline.Outcome {
	f.requests = append(f.requests, req)
	return f.outcome()
}

func (f *fakeValidator) ValidateOwner(ctx context.Context, ownerID uuid.UUID, req pipeline.Request) *pipeline.Outcome {
	f.owners = append(f.owners, ownerID)
	return f.outcome()
}

type fakeSessions map[string]uuid.UUID

func (f fakeSessions) OwnerID(token string) (uuid.UUID, error) {
	if id, ok := f[token]; ok {
		return id, nil
	}
	return uuid.Nil, errors.New("bad token")
}

func newTestRouter(v Validator, sessions OwnerResolver) (*gin.Engine, *http.Header) {
	forwarded := &http.Header{}
	r := gin.New()
	r.Use(RequestID())
	r.Any("/proxy/*path", CredentialAuth(v, sessions), func(c *gin.Context) {
		*forwarded = c.Request.Header.Clone()
		outcome, ok := GetOutcome(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		owner, _ := GetOwnerID(c)
		c.JSON(http.StatusOK, gin.H{"owner": owner, "reason": outcome.Reason})
	})
	return r, forwarded
}

func TestExtractCredentials(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		pk      string
		secret  string
		ok      bool
	}{
		{"key headers", map[string]string{HeaderAPIKey: "sk_abc", HeaderAPISecret: "s3cret"}, "sk_abc", "s3cret", true},
		{"bearer pair", map[string]string{"Authorization": "Bearer sk_abc:s3cret"}, "sk_abc", "s3cret", true},
		{"bearer lowercase", map[string]string{"Authorization": "bearer sk_abc:s:x"}, "sk_abc", "s:x", true},
		{"bearer without colon", map[string]string{"Authorization": "Bearer eyJhbGciOi"}, "", "", false},
		{"key without secret", map[string]string{HeaderAPIKey: "sk_abc"}, "sk_abc", "", true},
		{"nothing", nil, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			pk, secret, ok := ExtractCredentials(req)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.pk, pk)
			assert.Equal(t, tt.secret, secret)
		})
	}
}

func TestCredentialAuth_AdmitsAndStripsCredentials(t *testing.T) {
	v := &fakeValidator{owner: uuid.New()}
	r, forwarded := newTestRouter(v, nil)

	req := httptest.NewRequest(http.MethodPost, "/proxy/orders", nil)
	req.Header.Set(HeaderAPIKey, "sk_abc")
	req.Header.Set(HeaderAPISecret, "s3cret")
	req.Header.Set(HeaderRequestID, "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, v.requests, 1)
	got := v.requests[0]
	assert.Equal(t, "sk_abc", got.PublicKey)
	assert.Equal(t, "s3cret", got.Secret)
	assert.Equal(t, "req-42", got.RequestID)
	assert.Equal(t, "/proxy/orders", got.Endpoint)
	assert.Equal(t, http.MethodPost, got.Method)

	assert.Empty(t, forwarded.Get(HeaderAPISecret))
	assert.Empty(t, forwarded.Get(HeaderAPIKey))
	assert.Equal(t, "req-42", w.Header().Get(HeaderRequestID))
	assert.Contains(t, w.Body.String(), v.owner.String())
}

func TestCredentialAuth_Rejection(t *testing.T) {
	v := &fakeValidator{reject: gate.ReasonQuotaExceeded}
	r, _ := newTestRouter(v, nil)

	req := httptest.NewRequest(http.MethodGet, "/proxy/x", nil)
	req.Header.Set("Authorization", "Bearer sk_abc:s3cret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "10", w.Header().Get(HeaderQuotaLimit))
	assert.Equal(t, "10", w.Header().Get(HeaderQuotaUsed))
	assert.Contains(t, w.Body.String(), `"reason":"QuotaExceeded"`)
	assert.NotContains(t, w.Body.String(), "s3cret")
}

func TestCredentialAuth_MissingCredentialsStillValidated(t *testing.T) {
	v := &fakeValidator{reject: gate.ReasonInvalidKey}
	r, _ := newTestRouter(v, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/proxy/x", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.Len(t, v.requests, 1, "anonymous attempts are audited too")
	assert.NotEmpty(t, v.requests[0].RequestID)
}

func TestCredentialAuth_BackendUnavailableSetsRetryAfter(t *testing.T) {
	v := &fakeValidator{reject: gate.ReasonBackendUnavailable}
	r, _ := newTestRouter(v, nil)

	req := httptest.NewRequest(http.MethodGet, "/proxy/x", nil)
	req.Header.Set(HeaderAPIKey, "sk_abc")
	req.Header.Set(HeaderAPISecret, "s")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestCredentialAuth_SessionToken(t *testing.T) {
	owner := uuid.New()
	v := &fakeValidator{owner: owner}
	r, _ := newTestRouter(v, fakeSessions{"good-token": owner})

	req := httptest.NewRequest(http.MethodGet, "/proxy/x", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []uuid.UUID{owner}, v.owners)
	assert.Empty(t, v.requests)

	req = httptest.NewRequest(http.MethodGet, "/proxy/x", nil)
	req.Header.Set("Authorization", "Bearer forged")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionAuth(t *testing.T) {
	owner := uuid.New()
	r := gin.New()
	r.GET("/me", SessionAuth(fakeSessions{"t": owner}), func(c *gin.Context) {
		id, _ := GetOwnerID(c)
		c.String(http.StatusOK, id.String())
	})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer t", http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"invalid", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "Basic t", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, owner.String(), w.Body.String())
			}
		})
	}
}

func TestMetricsMiddleware(t *testing.T) {
	m := metrics.New()
	r := gin.New()
	r.Use(Metrics(m))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	assert.Contains(t, body, `route="/health"`)
	assert.Contains(t, body, `route="unmatched"`)
}
