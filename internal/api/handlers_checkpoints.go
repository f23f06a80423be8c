package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kupochain/indexer/internal/apierror"
)

type checkpointResponse struct {
	Slot       uint64 `json:"slot"`
	HeaderHash string `json:"header_hash"`
}

// listCheckpoints returns the most recently applied checkpoints, newest
// first, up to an optional ?limit= (default 100).
func (h *Handler) listCheckpoints(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(c, apierror.New(apierror.ErrValidation, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	checkpoints, err := h.store.ListCheckpoints(c.Request.Context(), limit)
	if err != nil {
		writeError(c, apierror.Wrap(apierror.ErrInternal, "failed to list checkpoints", err))
		return
	}
	out := make([]checkpointResponse, 0, len(checkpoints))
	for _, cp := range checkpoints {
		out = append(out, checkpointResponse{Slot: cp.Slot, HeaderHash: cp.HeaderHash})
	}
	c.JSON(http.StatusOK, out)
}

// checkpointAtSlot returns the checkpoint at the requested slot. With
// ?strict=true the checkpoint must exist exactly at that slot; the
// default (strict=false, or omitted) accepts the nearest ancestor.
func (h *Handler) checkpointAtSlot(c *gin.Context) {
	slot, err := strconv.ParseUint(c.Param("slot"), 10, 64)
	if err != nil {
		writeError(c, apierror.Wrap(apierror.ErrValidation, "slot must be a non-negative integer", err))
		return
	}

	strict := false
	if v := c.Query("strict"); v != "" {
		switch v {
		case "true":
			strict = true
		case "false":
		default:
			writeError(c, apierror.New(apierror.ErrValidation, "strict must be true or false"))
			return
		}
	}

	cp, ok, err := h.store.CheckpointBySlot(c.Request.Context(), slot)
	if err != nil {
		writeError(c, apierror.Wrap(apierror.ErrInternal, "failed to look up checkpoint", err))
		return
	}
	if ok && strict && cp.Slot != slot {
		ok = false
	}
	if !ok {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, checkpointResponse{Slot: cp.Slot, HeaderHash: cp.HeaderHash})
}
