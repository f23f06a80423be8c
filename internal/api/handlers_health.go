package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kupochain/indexer/internal/apierror"
	"github.com/kupochain/indexer/internal/metrics"
)

type healthResponse struct {
	ConnectionStatus     string            `json:"connection_status"`
	MostRecentCheckpoint *checkpointResponse `json:"most_recent_checkpoint,omitempty"`
	MostRecentNodeTip    *pointResponse    `json:"most_recent_node_tip,omitempty"`
	SinceLastCheckpointMs int64            `json:"since_last_checkpoint_ms"`
	ConfigurationSummary map[string]string `json:"configuration"`
}

// getHealth reports the indexer's point-in-time sync state, negotiated
// per §6.1: Accept text/plain or */* gets the Prometheus exposition
// (the same one /metrics serves), application/json or an absent Accept
// gets the JSON snapshot below, anything else is a 406.
func (h *Handler) getHealth(c *gin.Context) {
	accept := c.GetHeader("Accept")
	switch {
	case accept == "" || strings.Contains(accept, "application/json"):
		h.writeHealthJSON(c)
	case strings.Contains(accept, "text/plain") || strings.Contains(accept, "*/*"):
		metrics.Handler().ServeHTTP(c.Writer, c.Request)
	default:
		writeError(c, apierror.New(apierror.ErrNotAcceptable, "acceptable types: application/json, text/plain"))
	}
}

func (h *Handler) writeHealthJSON(c *gin.Context) {
	snap := h.health.Snapshot()
	resp := healthResponse{
		ConnectionStatus:      string(snap.ConnectionStatus),
		SinceLastCheckpointMs: snap.SinceLastCheckpoint.Milliseconds(),
		ConfigurationSummary:  snap.ConfigurationSummary,
	}
	if snap.MostRecentCheckpoint != nil {
		resp.MostRecentCheckpoint = &checkpointResponse{
			Slot:       snap.MostRecentCheckpoint.Slot,
			HeaderHash: snap.MostRecentCheckpoint.HeaderHash,
		}
	}
	if snap.MostRecentNodeTip != nil {
		resp.MostRecentNodeTip = &pointResponse{
			Slot:       snap.MostRecentNodeTip.Point.Slot,
			HeaderHash: snap.MostRecentNodeTip.Point.HashHex(),
		}
	}
	c.JSON(http.StatusOK, resp)
}
