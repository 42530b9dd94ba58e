package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"api_gateway/internal/gate"
	"api_gateway/internal/middleware"
	"api_gateway/internal/models"
)

func do(env *testEnv, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := newCloseNotifyRecorder()
	env.router.ServeHTTP(w, req)
	return w.ResponseRecorder
}

func (e *testEnv) session() map[string]string {
	return map[string]string{"Authorization": "Bearer " + e.sessionToken()}
}

func credentialHeaders() map[string]string {
	return map[string]string{
		middleware.HeaderAPIKey:    testPublicKey,
		middleware.HeaderAPISecret: testSecret,
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(nil)
	w := do(env, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	env.deps.Health = func(ctx context.Context) error { return errors.New("db down") }
	w = do(env, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestProxy_AdmittedCallIsForwardedAndRecorded(t *testing.T) {
	var upstreamReq *http.Request
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamReq = r
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	env := newTestEnv(upstream)

	headers := credentialHeaders()
	headers[middleware.HeaderRequestID] = "req-7"
	w := do(env, http.MethodPost, "/proxy/orders/42", map[string]string{"item": "x"}, headers)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	require.NotNil(t, upstreamReq)
	assert.Equal(t, "/base/orders/42", upstreamReq.URL.Path)
	assert.Empty(t, upstreamReq.Header.Get(middleware.HeaderAPISecret), "secret must not reach the upstream")
	assert.Empty(t, upstreamReq.Header.Get(middleware.HeaderAPIKey))
	assert.Equal(t, "req-7", upstreamReq.Header.Get(middleware.HeaderRequestID))

	calls := env.usage.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, env.validator.credentialID, calls[0].CredentialID)
	assert.Equal(t, env.owner, calls[0].OwnerID)
	assert.NotEmpty(t, calls[0].CallID)
	assert.NotEqual(t, "req-7", calls[0].CallID, "metering ids are assigned by the gateway")
	assert.Equal(t, int64(100), calls[0].Limit)
	assert.True(t, calls[0].Success)

	assert.Equal(t, "100", w.Header().Get(middleware.HeaderQuotaLimit))
	assert.Equal(t, "1", w.Header().Get(middleware.HeaderQuotaUsed))
}

func TestProxy_UpstreamServerErrorCountsAsFailure(t *testing.T) {
	env := newTestEnv(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	w := do(env, http.MethodGet, "/proxy/x", nil, credentialHeaders())
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	calls := env.usage.recorded()
	require.Len(t, calls, 1)
	assert.False(t, calls[0].Success)
}

func TestProxy_UnreachableUpstream(t *testing.T) {
	env := newTestEnv(nil)
	env.deps.Upstream = mustParseURL("http://upstream.internal")
	env.deps.Transport = handlerTransport{}
	env.router = NewRouter(env.deps)

	w := do(env, http.MethodGet, "/proxy/x", nil, credentialHeaders())
	assert.Equal(t, http.StatusBadGateway, w.Code)

	calls := env.usage.recorded()
	require.Len(t, calls, 1)
	assert.False(t, calls[0].Success)
	assert.Equal(t, "1", w.Header().Get(middleware.HeaderQuotaUsed))
}

func TestProxy_RejectedCallNeverReachesUpstream(t *testing.T) {
	reached := false
	env := newTestEnv(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { reached = true }))

	headers := credentialHeaders()
	headers[middleware.HeaderAPISecret] = "wrong"
	w := do(env, http.MethodGet, "/proxy/x", nil, headers)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, reached)
	assert.Empty(t, env.usage.recorded())
	assert.NotContains(t, w.Body.String(), "wrong")
}

func TestValidateEndpoint(t *testing.T) {
	env := newTestEnv(nil)

	w := do(env, http.MethodPost, "/v1/validate", ValidateRequest{PublicKey: testPublicKey, Secret: testSecret}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var outcome struct {
		Admitted   bool   `json:"admitted"`
		Reason     string `json:"reason"`
		HTTPStatus int    `json:"http_status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &outcome))
	assert.True(t, outcome.Admitted)
	assert.Equal(t, "Admitted", outcome.Reason)

	// Credentials may come from headers instead of the body.
	w = do(env, http.MethodPost, "/v1/validate", nil, credentialHeaders())
	assert.Equal(t, http.StatusOK, w.Code)

	env.validator.reject = gate.ReasonQuotaExceeded
	w = do(env, http.MethodPost, "/v1/validate", ValidateRequest{PublicKey: testPublicKey, Secret: testSecret}, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &outcome))
	assert.Equal(t, "QuotaExceeded", outcome.Reason)
	assert.Equal(t, http.StatusTooManyRequests, outcome.HTTPStatus)
	assert.NotContains(t, w.Body.String(), testSecret)
}

func TestKeys_IssueListRevoke(t *testing.T) {
	env := newTestEnv(nil)

	w := do(env, http.MethodPost, "/v1/keys", CreateKeyRequest{Name: "ci"}, env.session())
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		ID        uuid.UUID `json:"id"`
		PublicKey string    `json:"public_key"`
		Secret    string    `json:"secret"`
		Active    bool      `json:"active"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.Secret)
	assert.True(t, created.Active)
	assert.NotContains(t, w.Body.String(), "secret_hash")

	w = do(env, http.MethodGet, "/v1/keys", nil, env.session())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), created.PublicKey)
	assert.NotContains(t, w.Body.String(), created.Secret, "the secret is only returned at creation")

	w = do(env, http.MethodDelete, "/v1/keys/"+created.ID.String(), nil, env.session())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"active":false`)

	w = do(env, http.MethodDelete, "/v1/keys/"+uuid.NewString(), nil, env.session())
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(env, http.MethodDelete, "/v1/keys/not-a-uuid", nil, env.session())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestKeys_Validation(t *testing.T) {
	env := newTestEnv(nil)

	w := do(env, http.MethodPost, "/v1/keys", CreateKeyRequest{}, env.session())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	bad := "tomorrow"
	w = do(env, http.MethodPost, "/v1/keys", CreateKeyRequest{Name: "x", ExpiresAt: &bad}, env.session())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	past := time.Now().Add(-time.Hour).Format(time.RFC3339)
	w = do(env, http.MethodPost, "/v1/keys", CreateKeyRequest{Name: "x", ExpiresAt: &past}, env.session())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(env, http.MethodGet, "/v1/keys", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubscriptions(t *testing.T) {
	env := newTestEnv(nil)

	w := do(env, http.MethodGet, "/v1/subscriptions/current", nil, env.session())
	assert.Equal(t, http.StatusNotFound, w.Code)

	tierID := uuid.New()
	w = do(env, http.MethodPost, "/v1/subscriptions", gin.H{"tier_id": tierID.String()}, env.session())
	require.Equal(t, http.StatusCreated, w.Code)
	var sub models.Subscription
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sub))
	assert.Equal(t, models.SubscriptionPending, sub.Status)
	assert.Equal(t, tierID, sub.TierID)

	w = do(env, http.MethodGet, "/v1/subscriptions/current", nil, env.session())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"effective":false`)

	// Approval happens out of band.
	env.subs.subs[0].Status = models.SubscriptionActive
	w = do(env, http.MethodGet, "/v1/subscriptions/current", nil, env.session())
	assert.Contains(t, w.Body.String(), `"effective":true`)
	assert.Contains(t, w.Body.String(), `"name":"basic"`)

	w = do(env, http.MethodPost, "/v1/subscriptions", gin.H{"tier_id": tierID.String()}, env.session())
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(env, http.MethodDelete, "/v1/subscriptions/"+sub.ID.String(), gin.H{"reason": "downgrade"}, env.session())
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, models.SubscriptionCancelled, env.subs.subs[0].Status)

	w = do(env, http.MethodDelete, "/v1/subscriptions/"+sub.ID.String(), nil, env.session())
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(env, http.MethodPost, "/v1/subscriptions", gin.H{"tier_id": "nope"}, env.session())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTiers(t *testing.T) {
	env := newTestEnv(nil)

	w := do(env, http.MethodGet, "/v1/tiers", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Tiers []models.Tier `json:"tiers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Tiers, 1)
	assert.Equal(t, "basic", body.Tiers[0].Name)
	assert.Equal(t, []string{"email support"}, []string(body.Tiers[0].Features))
}

func TestUsage(t *testing.T) {
	env := newTestEnv(nil)
	cred := &models.Credential{ID: uuid.New(), OwnerID: env.owner, Active: true}
	require.NoError(t, env.credentials.Create(context.Background(), cred))

	w := do(env, http.MethodGet, "/v1/usage?credential_id="+cred.ID.String(), nil, env.session())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_requests":0`)

	minRT, maxRT := int64(5), int64(50)
	env.usage.records[cred.ID] = &models.UsageRecord{
		CredentialID: cred.ID, Year: 2025, Month: 3,
		TotalRequests: 4, SuccessfulRequests: 3, FailedRequests: 1,
		TotalResponseTimeMs: 100, MinResponseTimeMs: &minRT, MaxResponseTimeMs: &maxRT,
	}
	w = do(env, http.MethodGet, "/v1/usage?credential_id="+cred.ID.String()+"&period=2025-03", nil, env.session())
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.UsageStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, "2025-03", stats.Period)
	assert.Equal(t, int64(4), stats.TotalRequests)
	assert.InDelta(t, 25.0, stats.AverageResponseTimeMs, 0.001)
	assert.InDelta(t, 0.75, stats.SuccessRatio, 0.001)

	// Another owner's credential is not visible.
	other := &models.Credential{ID: uuid.New(), OwnerID: uuid.New()}
	require.NoError(t, env.credentials.Create(context.Background(), other))
	w = do(env, http.MethodGet, "/v1/usage?credential_id="+other.ID.String(), nil, env.session())
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(env, http.MethodGet, "/v1/usage?credential_id="+cred.ID.String()+"&period=2025-13", nil, env.session())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(env, http.MethodGet, "/v1/usage?credential_id="+cred.ID.String()+"&period=2025-03abc", nil, env.session())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(env, http.MethodGet, "/v1/usage", nil, env.session())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		raw     string
		want    models.UsagePeriod
		wantErr bool
	}{
		{raw: "2026-01", want: models.UsagePeriod{Year: 2026, Month: 1}},
		{raw: "1999-12", want: models.UsagePeriod{Year: 1999, Month: 12}},
		{raw: "2026-01abc", wantErr: true},
		{raw: "2026-1", wantErr: true},
		{raw: "2026-13", wantErr: true},
		{raw: "2026-00", wantErr: true},
		{raw: "26-01", wantErr: true},
		{raw: "2026-01-05", wantErr: true},
		{raw: " 2026-01", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parsePeriod(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(nil)
	do(env, http.MethodGet, "/health", nil, nil)

	w := do(env, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}
