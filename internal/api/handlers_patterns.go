package api

import (
	"context"
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kupochain/indexer/internal/apierror"
	"github.com/kupochain/indexer/internal/chainsync"
	"github.com/kupochain/indexer/internal/metrics"
	"github.com/kupochain/indexer/pkg/chain"
)

// rollbackToTarget models the spec's point|slot sum type: a bare slot
// (Left) must name an existing checkpoint exactly; a slot with a
// header_hash (Right) is accepted optimistically if it's a known
// checkpoint or if the store has no checkpoint at that slot at all.
type rollbackToTarget struct {
	Slot       uint64  `json:"slot"`
	HeaderHash *string `json:"header_hash"`
}

type putPatternRequest struct {
	RollbackTo *rollbackToTarget `json:"rollback_to"`
	Limit      string            `json:"limit"` // "within_safe_zone" (default) or "any"
	Patterns   []string          `json:"patterns"`
}

// putPattern registers the pattern named by the URL path (or, on the
// bare /patterns route, every pattern in the body's patterns array). An
// optional rollback_to body field requests a forced rollback to that
// slot before the patterns are added, atomically via the chain-sync
// client's single-shot rendezvous (§4.4) so the new patterns start
// matching from a consistent point instead of racing the consumer.
func (h *Handler) putPattern(c *gin.Context) {
	pathText := trimPatternPath(c.Param("pattern"))

	var req putPatternRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, apierror.Wrap(apierror.ErrValidation, "invalid request body", err))
			return
		}
	}

	texts := req.Patterns
	if pathText != "" {
		texts = []string{pathText}
	}
	if len(texts) == 0 {
		writeError(c, apierror.New(apierror.ErrValidation, "invalid_patterns"))
		return
	}

	patterns := make([]chain.Pattern, 0, len(texts))
	for _, t := range texts {
		p, err := chain.ParsePattern(t)
		if err != nil {
			writeError(c, apierror.Wrap(apierror.ErrValidation, "invalid_pattern", err))
			return
		}
		patterns = append(patterns, p)
	}

	if req.RollbackTo != nil {
		h.forceRollbackThenInsert(c, *req.RollbackTo, req.Limit, patterns)
		return
	}

	if err := h.registry.Insert(c.Request.Context(), patterns); err != nil {
		writeError(c, apierror.Wrap(apierror.ErrInternal, "failed to persist pattern", err))
		return
	}
	h.respondWithActiveSet(c)
}

func (h *Handler) respondWithActiveSet(c *gin.Context) {
	all := h.registry.Snapshot()
	out := make([]string, 0, len(all))
	for _, p := range all {
		out = append(out, p.String())
	}
	c.JSON(http.StatusOK, out)
}

// resolveRollbackTarget applies §4.7's point|slot resolution rules.
// Left(Slot) (no header_hash given) is strict: it only resolves if a
// checkpoint exists at exactly that slot. Right(Point) (header_hash
// given) is optimistic: it resolves to a matching known checkpoint, or
// to the caller-supplied point itself when the store holds no
// checkpoint at that slot at all.
func (h *Handler) resolveRollbackTarget(ctx context.Context, rt rollbackToTarget) (chain.Point, error) {
	cp, ok, err := h.store.CheckpointBySlot(ctx, rt.Slot)
	if err != nil {
		return chain.Point{}, apierror.Wrap(apierror.ErrInternal, "failed to look up checkpoint", err)
	}
	exact := ok && cp.Slot == rt.Slot

	if rt.HeaderHash == nil {
		if !exact {
			return chain.Point{}, apierror.New(apierror.ErrValidation, "invalid_rollback_slot")
		}
		return cp.Point(), nil
	}

	if exact {
		if cp.HeaderHash != *rt.HeaderHash {
			return chain.Point{}, apierror.New(apierror.ErrValidation, "invalid_rollback_point")
		}
		return cp.Point(), nil
	}
	hashBytes, err := hex.DecodeString(*rt.HeaderHash)
	if err != nil {
		return chain.Point{}, apierror.Wrap(apierror.ErrValidation, "invalid_rollback_point", err)
	}
	return chain.NewPoint(rt.Slot, hashBytes), nil
}

func (h *Handler) forceRollbackThenInsert(c *gin.Context, rt rollbackToTarget, limit string, patterns []chain.Pattern) {
	ctx := c.Request.Context()

	target, err := h.resolveRollbackTarget(ctx, rt)
	if err != nil {
		writeError(c, err)
		return
	}

	if limit != "any" {
		snap := h.health.Snapshot()
		if snap.MostRecentNodeTip != nil && snap.MostRecentNodeTip.Point.Slot > target.Slot {
			if d := snap.MostRecentNodeTip.Point.Slot - target.Slot; d > h.longestRollback {
				writeError(c, apierror.New(apierror.ErrValidation, "unsafe_rollback_beyond_safe_zone"))
				return
			}
		}
	}

	result := make(chan error, 1)
	req := chainsync.ForcedRollbackRequest{
		TargetPoint: target,
		Handler: chainsync.RollbackHandler{
			OnSuccess: func(point chain.Point) { result <- nil },
			OnFailure: func(err error) { result <- err },
		},
	}

	if err := h.chain.ForceRollback(ctx, req); err != nil {
		writeError(c, apierror.Wrap(apierror.ErrInternal, "failed to request forced rollback", err))
		return
	}

	select {
	case err := <-result:
		if err != nil {
			writeError(c, apierror.Wrap(apierror.ErrUnavailable, "failed_to_rollback", err))
			return
		}
		metrics.ForcedRollbacksTotal.Inc()
	case <-ctx.Done():
		writeError(c, apierror.New(apierror.ErrUnavailable, "request cancelled while waiting for rollback"))
		return
	}

	if err := h.registry.Insert(ctx, patterns); err != nil {
		writeError(c, apierror.Wrap(apierror.ErrInternal, "failed to persist pattern after rollback", err))
		return
	}
	h.respondWithActiveSet(c)
}

// listPatterns returns the registered pattern texts, intersected with the
// pattern named by an optional URL path: with no path, every registered
// pattern; with a path, only those that overlap it.
func (h *Handler) listPatterns(c *gin.Context) {
	raw := trimPatternPath(c.Param("pattern"))
	var filter *chain.Pattern
	if raw != "" {
		p, err := chain.ParsePattern(raw)
		if err != nil {
			writeError(c, apierror.Wrap(apierror.ErrValidation, "invalid pattern", err))
			return
		}
		filter = &p
	}

	all := h.registry.Snapshot()
	out := make([]string, 0, len(all))
	for _, p := range all {
		if filter == nil || p.Overlaps(*filter) {
			out = append(out, p.String())
		}
	}
	c.JSON(http.StatusOK, out)
}

// deletePattern removes the pattern named by the URL path and reports
// how many rows were removed. Unlike DELETE /matches, this has no
// overlap guard: it stops the pattern from matching new outputs but
// leaves anything already indexed untouched.
func (h *Handler) deletePattern(c *gin.Context) {
	text := trimPatternPath(c.Param("pattern"))
	pattern, err := chain.ParsePattern(text)
	if err != nil {
		writeError(c, apierror.Wrap(apierror.ErrValidation, "invalid_pattern", err))
		return
	}

	n, err := h.registry.Delete(c.Request.Context(), pattern)
	if err != nil {
		writeError(c, apierror.Wrap(apierror.ErrInternal, "failed to delete pattern", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}
