package httpapi

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"api_gateway/internal/metering"
	"api_gateway/internal/metrics"
	"api_gateway/internal/middleware"
	"api_gateway/internal/models"
	"api_gateway/internal/pipeline"
	"api_gateway/internal/utils"
)

type proxiedCallKey struct{}

// proxiedCall travels with the outbound request so the response hooks can
// meter it.
type proxiedCall struct {
	outcome   *pipeline.Outcome
	id        string // metering id, assigned here
	requestID string // caller supplied, tracing only
	start     time.Time
	recorded  bool
}

// proxyHandler forwards admitted calls upstream and records each completed
// call against the credential's quota.
type proxyHandler struct {
	proxy   *httputil.ReverseProxy
	usage   UsageRecorder
	metrics *metrics.Metrics
	logger  *utils.Logger
}

func newProxyHandler(target *url.URL, transport http.RoundTripper, usage UsageRecorder, m *metrics.Metrics) *proxyHandler {
	h := &proxyHandler{
		usage:   usage,
		metrics: m,
		logger:  utils.NewLogger("proxy"),
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	if transport != nil {
		proxy.Transport = transport
	}
	proxy.ModifyResponse = h.modifyResponse
	proxy.ErrorHandler = h.errorHandler
	h.proxy = proxy
	return h
}

// handle is ANY /proxy/*path. CredentialAuth has already admitted the call.
func (h *proxyHandler) handle(c *gin.Context) {
	outcome, ok := middleware.GetOutcome(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	call := &proxiedCall{
		outcome:   outcome,
		id:        uuid.NewString(),
		requestID: middleware.GetRequestID(c),
		start:     time.Now(),
	}

	req := c.Request.WithContext(context.WithValue(c.Request.Context(), proxiedCallKey{}, call))
	req.URL.Path = c.Param("path")
	req.URL.RawPath = ""
	req.Header.Set(middleware.HeaderRequestID, call.requestID)

	h.proxy.ServeHTTP(c.Writer, req)
}

func (h *proxyHandler) modifyResponse(resp *http.Response) error {
	call, ok := resp.Request.Context().Value(proxiedCallKey{}).(*proxiedCall)
	if !ok {
		return nil
	}

	used := h.record(resp.Request.Context(), call, resp.StatusCode < http.StatusInternalServerError)
	setQuotaHeaders(resp.Header, call.outcome, used)
	return nil
}

func (h *proxyHandler) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Warn("Upstream request failed", "path", r.URL.Path, "error", err)

	if call, ok := r.Context().Value(proxiedCallKey{}).(*proxiedCall); ok {
		used := h.record(r.Context(), call, false)
		setQuotaHeaders(w.Header(), call.outcome, used)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_, _ = w.Write([]byte(`{"error":"upstream unavailable"}`))
}

// record meters the call once. Session-admitted calls have no credential and
// are not metered. It returns the new total, or -1 when unknown.
func (h *proxyHandler) record(ctx context.Context, call *proxiedCall, success bool) int64 {
	if call.recorded || call.outcome.CredentialID == nil {
		return -1
	}
	call.recorded = true

	var ownerID uuid.UUID
	if call.outcome.OwnerID != nil {
		ownerID = *call.outcome.OwnerID
	}
	total, err := h.usage.RecordCall(context.WithoutCancel(ctx), metering.Call{
		CredentialID:   *call.outcome.CredentialID,
		OwnerID:        ownerID,
		CallID:         call.id,
		ResponseTimeMs: time.Since(call.start).Milliseconds(),
		Success:        success,
		At:             time.Now(),
		Limit:          call.outcome.QuotaLimit,
	})
	if err != nil {
		h.metrics.IncUsage("failed")
		h.logger.Error("Failed to record call", "credential_id", call.outcome.CredentialID, "request_id", call.requestID, "error", err)
		return -1
	}
	h.metrics.IncUsage("recorded")
	return total
}

func setQuotaHeaders(header http.Header, outcome *pipeline.Outcome, used int64) {
	if outcome.QuotaLimit <= 0 || outcome.QuotaLimit >= models.UnlimitedCallLimit {
		return
	}
	if used < 0 {
		used = outcome.CurrentUsage + 1
	}
	header.Set(middleware.HeaderQuotaLimit, strconv.FormatInt(outcome.QuotaLimit, 10))
	header.Set(middleware.HeaderQuotaUsed, strconv.FormatInt(used, 10))
}
