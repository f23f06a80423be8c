// Package api is the HTTP/JSON control plane: pattern registration,
// match queries, checkpoint/metadata introspection and health, built on
// gin the way internal/api/routes.go generalizes a route-group/middleware
// shape into admin-protected and public groups.
package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kupochain/indexer/internal/apierror"
	"github.com/kupochain/indexer/internal/chainsync"
	"github.com/kupochain/indexer/internal/gardener"
	"github.com/kupochain/indexer/internal/health"
	"github.com/kupochain/indexer/internal/logging"
	"github.com/kupochain/indexer/internal/metrics"
	"github.com/kupochain/indexer/internal/registry"
	"github.com/kupochain/indexer/internal/store"
)

// Handler bundles the dependencies every route needs.
type Handler struct {
	store           store.Store
	registry        *registry.Registry
	health          *health.Tracker
	chain           chainsync.Client
	gardener        *gardener.Gardener
	longestRollback uint64
}

// NewHandler builds the HTTP control plane's handler set. longestRollback
// is the configured safe-zone bound PUT /patterns enforces when its
// rollback_to target is outside the producer's own rollback window and
// the caller asked for limit=within_safe_zone.
func NewHandler(s store.Store, r *registry.Registry, h *health.Tracker, c chainsync.Client, g *gardener.Gardener, longestRollback uint64) *Handler {
	return &Handler{store: s, registry: r, health: h, chain: c, gardener: g, longestRollback: longestRollback}
}

// SetupRouter builds the full HTTP handler: the gin engine wrapped in a
// /v1 version-prefix-stripping layer (§6.1 — "GET /v1/matches behaves
// identically to GET /matches"), a request-id + access-log middleware, a
// most-recent-checkpoint header on every response, and a rate limiter on
// mutating routes.
func SetupRouter(h *Handler) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(accessLogMiddleware())
	r.Use(checkpointHeaderMiddleware(h))

	limiter := newRateLimiter(120, 20)

	r.GET("/health", h.getHealth)
	r.GET("/checkpoints", h.listCheckpoints)
	r.GET("/checkpoints/:slot", h.checkpointAtSlot)
	r.GET("/matches", h.listMatches)
	r.GET("/matches/*pattern", h.listMatchesForPattern)
	r.GET("/datums/:hash", h.getDatum)
	r.GET("/scripts/:hash", h.getScript)
	r.GET("/metadata/:slot", h.getMetadata)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/patterns", h.listPatterns)
	r.GET("/patterns/*pattern", h.listPatterns)

	mutating := r.Group("")
	mutating.Use(limiter.middleware())
	mutating.Use(adminAuthMiddleware())
	mutating.PUT("/patterns", h.putPattern)
	mutating.PUT("/patterns/*pattern", h.putPattern)
	mutating.DELETE("/patterns/*pattern", h.deletePattern)
	mutating.DELETE("/matches/*pattern", h.deleteMatches)

	return stripVersionPrefix(r)
}

// stripVersionPrefix rewrites /v1/... to /... before the request reaches
// gin's router, so every route is registered once and the version prefix
// is purely a client-facing convenience.
func stripVersionPrefix(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.URL.Path == "/v1":
			req.URL.Path = "/"
		case strings.HasPrefix(req.URL.Path, "/v1/"):
			req.URL.Path = strings.TrimPrefix(req.URL.Path, "/v1")
		}
		next.ServeHTTP(w, req)
	})
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-Id", id)
		c.Next()
	}
}

func accessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		requestID, _ := c.Get("request_id")
		logging.WithRequestID(requestID.(string)).Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("http request")
		metrics.APIRequestsTotal.WithLabelValues(c.Request.Method, c.FullPath(), http.StatusText(status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(c.Request.Method, c.FullPath()).Observe(time.Since(start).Seconds())
	}
}

// checkpointHeaderMiddleware stamps every response with the most recently
// applied checkpoint slot (0 when none has been applied), per spec.md
// §6.1, so clients can detect whether a read is stale relative to what
// they already saw.
func checkpointHeaderMiddleware(h *Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := h.health.Snapshot()
		var slot uint64
		if snap.MostRecentCheckpoint != nil {
			slot = snap.MostRecentCheckpoint.Slot
		}
		c.Writer.Header().Set("X-Most-Recent-Checkpoint", strconv.FormatUint(slot, 10))
		c.Next()
	}
}

func writeError(c *gin.Context, err error) {
	var apiErr *apierror.Error
	if ae, ok := err.(*apierror.Error); ok {
		apiErr = ae
	} else {
		apiErr = apierror.Wrap(apierror.ErrInternal, "internal error", err)
	}
	c.JSON(apiErr.Kind.StatusCode(), apierror.Envelope{Hint: apiErr.Hint})
}

func trimPatternPath(raw string) string {
	return strings.TrimPrefix(raw, "/")
}
