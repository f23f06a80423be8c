package api

import (
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kupochain/indexer/internal/apierror"
)

// getDatum returns the raw bytes behind a datum hash, hex-encoded, or
// null if the hash is well-formed but unknown. Both are opaque
// content-addressed blobs the indexer never interprets.
func (h *Handler) getDatum(c *gin.Context) {
	hash := c.Param("hash")
	if _, err := hex.DecodeString(hash); err != nil {
		writeError(c, apierror.Wrap(apierror.ErrValidation, "malformed_datum_hash", err))
		return
	}
	data, ok, err := h.store.GetBinaryData(c.Request.Context(), hash)
	if err != nil {
		writeError(c, apierror.Wrap(apierror.ErrInternal, "failed to look up datum", err))
		return
	}
	if !ok {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hash": data.Hash, "bytes": hex.EncodeToString(data.Bytes)})
}

// getScript returns the raw bytes and declared version behind a script
// hash, hex-encoded, or null if the hash is well-formed but unknown.
func (h *Handler) getScript(c *gin.Context) {
	hash := c.Param("hash")
	if _, err := hex.DecodeString(hash); err != nil {
		writeError(c, apierror.Wrap(apierror.ErrValidation, "malformed_script_hash", err))
		return
	}
	script, ok, err := h.store.GetScript(c.Request.Context(), hash)
	if err != nil {
		writeError(c, apierror.Wrap(apierror.ErrInternal, "failed to look up script", err))
		return
	}
	if !ok {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hash": script.Hash, "version": script.Version, "bytes": hex.EncodeToString(script.Bytes)})
}
