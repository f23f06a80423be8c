// Package health tracks the single point-in-time snapshot the HTTP control
// plane serves on GET /health: the most recent checkpoint, the producer's
// most recently observed tip, and the chain-sync connection state.
package health

import (
	"sync"
	"time"

	"github.com/kupochain/indexer/pkg/chain"
)

// Tracker is an atomically-updated health cell. The consumer calls
// SetCheckpoint and SetTip after every applied batch. The connection
// status is set to connecting once, when the chain-sync task starts; the
// chain-sync clients never update the tracker, so the status does not
// change to connected or back to disconnected afterwards.
type Tracker struct {
	mu sync.RWMutex

	checkpoint      *chain.Checkpoint
	checkpointAt    time.Time
	tip             *chain.Tip
	connectionState chain.ConnectionStatus
	configSummary   map[string]string
}

// New creates a Tracker starting in the disconnected state.
func New(configSummary map[string]string) *Tracker {
	return &Tracker{connectionState: chain.ConnectionDisconnected, configSummary: configSummary}
}

// SetCheckpoint records the most recently applied checkpoint.
func (t *Tracker) SetCheckpoint(cp chain.Checkpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkpoint = &cp
	t.checkpointAt = time.Now()
}

// SetTip records the producer's most recently observed tip.
func (t *Tracker) SetTip(tip chain.Tip) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tip = &tip
}

// SetConnectionStatus records the chain-sync client's link state.
func (t *Tracker) SetConnectionStatus(status chain.ConnectionStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectionState = status
}

// Snapshot returns the current health state.
func (t *Tracker) Snapshot() chain.Health {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var since time.Duration
	if t.checkpoint != nil {
		since = time.Since(t.checkpointAt)
	}
	return chain.Health{
		MostRecentCheckpoint: t.checkpoint,
		MostRecentNodeTip:    t.tip,
		ConnectionStatus:     t.connectionState,
		ConfigurationSummary: t.configSummary,
		SinceLastCheckpoint:  since,
	}
}
