package api

import (
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kupochain/indexer/internal/apierror"
)

type transactionMetadataResponse struct {
	TransactionID string `json:"transaction_id"`
	Bytes         string `json:"bytes"`
}

// getMetadata serves GET /metadata/<slot>?transaction_id=…: it resolves
// the block at the nearest ancestor of slot, then streams the metadata
// carried by that block's transactions, optionally filtered to one
// transaction id.
func (h *Handler) getMetadata(c *gin.Context) {
	slot, err := strconv.ParseUint(c.Param("slot"), 10, 64)
	if err != nil {
		writeError(c, apierror.Wrap(apierror.ErrValidation, "slot must be a non-negative integer", err))
		return
	}
	txID := c.Query("transaction_id")
	if txID != "" {
		if _, err := hex.DecodeString(txID); err != nil {
			writeError(c, apierror.Wrap(apierror.ErrValidation, "transaction_id must be hex", err))
			return
		}
	}

	ctx := c.Request.Context()
	cp, ok, err := h.store.MetadataNearestAncestor(ctx, slot)
	if err != nil {
		writeError(c, apierror.Wrap(apierror.ErrInternal, "failed to resolve nearest ancestor", err))
		return
	}
	if !ok {
		writeError(c, apierror.New(apierror.ErrNotFound, "no_ancestor"))
		return
	}

	entries, err := h.store.TransactionMetadataByHeaderHash(ctx, cp.HeaderHash, txID)
	if err != nil {
		writeError(c, apierror.Wrap(apierror.ErrInternal, "failed to load transaction metadata", err))
		return
	}

	out := make([]transactionMetadataResponse, 0, len(entries))
	for _, m := range entries {
		out = append(out, transactionMetadataResponse{TransactionID: m.TransactionID, Bytes: hex.EncodeToString(m.Bytes)})
	}
	c.Writer.Header().Set("X-Block-Header-Hash", cp.HeaderHash)
	c.JSON(http.StatusOK, out)
}
