package chain

import "time"

// ConnectionStatus describes the chain-sync client's link to its producer.
type ConnectionStatus string

const (
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
)

// Health is the point-in-time snapshot served by GET /health.
type Health struct {
	MostRecentCheckpoint *Checkpoint
	MostRecentNodeTip    *Tip
	ConnectionStatus     ConnectionStatus
	ConfigurationSummary map[string]string
	SinceLastCheckpoint  time.Duration
}

// Synced reports whether the indexer considers itself caught up, i.e. the
// most recent checkpoint is within a handful of slots of the node tip.
func (h Health) Synced(slack uint64) bool {
	if h.MostRecentCheckpoint == nil || h.MostRecentNodeTip == nil {
		return false
	}
	tipSlot := h.MostRecentNodeTip.Point.Slot
	cpSlot := h.MostRecentCheckpoint.Slot
	if cpSlot >= tipSlot {
		return true
	}
	return tipSlot-cpSlot <= slack
}
