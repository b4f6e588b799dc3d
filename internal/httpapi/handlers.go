package httpapi

import (
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"callboard/internal/auth"
	"callboard/internal/callevent"
	"callboard/internal/metrics"
	"callboard/internal/pbx"
	"callboard/internal/ratelimit"
	"callboard/internal/stream"
	"callboard/pkg/logger"
	"callboard/pkg/utils"

	"github.com/gin-gonic/gin"
)

const secretHeader = "x-pbx-secret"

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls  *pbx.Service
	Stream *stream.Broker
	Auth   *auth.Manager
	Cap    *ratelimit.IngestCap
	DB     *sql.DB

	// WebhookSecret gates ingestion; empty means the webhook is open.
	WebhookSecret string
	DashUser      string
	DashPassword  string

	warnOpenWebhook sync.Once
}

// --- Ingestion ---

// Webhook ingests one PBX "incoming call" notification.
// Gate order: store init, shared secret, concurrency cap, payload.
func (h *Handlers) Webhook(c *gin.Context) {
	log := logger.FromGin(c)
	ctx := c.Request.Context()

	if err := h.Calls.Ready(ctx); err != nil {
		log.Error("store init failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "server error"})
		return
	}

	body := parseWebhookBody(c)

	if !h.authorizeWebhook(c, body) {
		metrics.WebhookRejected.WithLabelValues("secret").Inc()
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid secret"})
		return
	}

	if !h.Cap.Acquire(ctx) {
		metrics.WebhookRejected.WithLabelValues("overload").Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
		return
	}
	defer h.Cap.Release(ctx)

	ev, err := h.Calls.Ingest(ctx, pbx.IncomingCall{
		Phone:      firstNonEmpty(body["phone"], body["caller"], body["number"]),
		Extension:  body["extension"],
		Source:     body["source"],
		Status:     body["status"],
		Note:       body["note"],
		CallerName: body["name"],
		PersonID:   body["person_id"],
	})
	switch {
	case errors.Is(err, pbx.ErrNoPhone):
		metrics.WebhookRejected.WithLabelValues("phone").Inc()
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone missing"})
		return
	case err != nil:
		log.Error("ingest failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "server error"})
		return
	}

	log.Debug("call ingested", "id", ev.ID, "status", string(ev.Status))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// authorizeWebhook checks the shared secret: header, then body field,
// then query parameter; the first value present is the one compared.
func (h *Handlers) authorizeWebhook(c *gin.Context, body map[string]string) bool {
	if h.WebhookSecret == "" {
		h.warnOpenWebhook.Do(func() {
			logger.FromGin(c).Warn("PBX_SECRET not configured, webhook accepts unauthenticated calls")
		})
		return true
	}

	got := c.GetHeader(secretHeader)
	if got == "" {
		got = body["secret"]
	}
	if got == "" {
		got = c.Query("secret")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.WebhookSecret)) == 1
}

// parseWebhookBody flattens the payload into string fields. PBX boxes
// post either JSON or form-encoded bodies, and some send numeric
// person ids, so values are coerced to strings.
func parseWebhookBody(c *gin.Context) map[string]string {
	out := map[string]string{}

	if strings.Contains(c.ContentType(), "json") {
		var raw map[string]any
		if err := c.ShouldBindJSON(&raw); err == nil {
			for k, v := range raw {
				out[k] = coerceString(v)
			}
		}
		return out
	}

	if err := c.Request.ParseForm(); err == nil {
		for k, vs := range c.Request.PostForm {
			if len(vs) > 0 {
				out[k] = vs[0]
			}
		}
	}
	return out
}

func coerceString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// --- Query ---

// Log serves the searchable, bounded call history.
func (h *Handlers) Log(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		limit, _ = strconv.Atoi(s)
	}

	entries, err := h.Calls.Log(c.Request.Context(), c.Query("search"), limit)
	if err != nil {
		logger.FromGin(c).Error("log query failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "server error"})
		return
	}
	if entries == nil {
		entries = []callevent.CallEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// LastCall returns the most recent event, or null.
func (h *Handlers) LastCall(c *gin.Context) {
	ev, ok, err := h.Calls.LastKnown(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("last-call lookup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "server error"})
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"call": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": ev})
}

// --- Stream ---

// StreamCalls upgrades the response to a server-sent event stream and
// holds it open until either side disconnects. Frame delivery and
// keep-alives are the broker's job; this handler only pins the
// connection's lifetime to the subscriber registration.
func (h *Handlers) StreamCalls(c *gin.Context) {
	if err := h.Calls.Ready(c.Request.Context()); err != nil {
		logger.FromGin(c).Error("store init failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "server error"})
		return
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")

	sub, err := h.Stream.Register(newSSESink(c.Writer))
	if err != nil {
		// The connection died before the initial frames went out.
		return
	}
	defer h.Stream.Unregister(sub)

	select {
	case <-c.Request.Context().Done():
	case <-sub.Done():
	}
}

// --- Auth ---

type loginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

// Login issues a dashboard session token.
func (h *Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.User), []byte(h.DashUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.DashPassword)) == 1
	if !userOK || !passOK {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	tok, err := h.Auth.IssueSession(time.Now(), req.User)
	if err != nil {
		logger.FromGin(c).Error("token issuance failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": tok})
}

// --- Health ---

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz reports readiness only when the database answers a ping.
func (h *Handlers) Readyz(c *gin.Context) {
	if h.DB != nil {
		if err := utils.HealthCheck(c.Request.Context(), h.DB, 2*time.Second); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "db unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
