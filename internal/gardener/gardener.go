// Package gardener periodically prunes spent inputs (and the binary data
// and scripts no longer referenced by any live input) once they fall
// outside the configured stability window, the way a long-running
// background task in this codebase ticks on a fixed interval and reports
// its own progress via logs and metrics.
package gardener

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kupochain/indexer/internal/config"
	"github.com/kupochain/indexer/internal/health"
	"github.com/kupochain/indexer/internal/logging"
	"github.com/kupochain/indexer/internal/metrics"
	"github.com/kupochain/indexer/internal/store"
)

// Gardener owns the periodic pruning task.
type Gardener struct {
	store           store.Store
	health          *health.Tracker
	inputManagement config.InputManagementMode
	stabilityWindow uint64
	tickInterval    time.Duration
	log             zerolog.Logger
}

// New builds a Gardener. tickInterval is the throttle delay between
// pruning passes. inputManagement gates whether spent inputs are ever
// permanently deleted (§4.6): under MarkSpentInputs the gardener only
// prunes binary data, never inputs.
func New(s store.Store, h *health.Tracker, inputManagement config.InputManagementMode, stabilityWindow uint64, tickInterval time.Duration) *Gardener {
	if tickInterval <= 0 {
		tickInterval = 10 * time.Second
	}
	return &Gardener{store: s, health: h, inputManagement: inputManagement, stabilityWindow: stabilityWindow, tickInterval: tickInterval, log: logging.WithComponent("gardener")}
}

// Run ticks forever until ctx is cancelled, pruning once per tick.
func (g *Gardener) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.tick(ctx)
		}
	}
}

func (g *Gardener) tick(ctx context.Context) {
	snap := g.health.Snapshot()
	if snap.MostRecentCheckpoint == nil || snap.MostRecentCheckpoint.Slot < g.stabilityWindow {
		return
	}
	threshold := snap.MostRecentCheckpoint.Slot - g.stabilityWindow

	timer := metrics.NewTimer()

	var prunedInputs int64
	if g.inputManagement == config.RemoveSpentInputs {
		var err error
		prunedInputs, err = g.store.PruneInputs(ctx, threshold)
		if err != nil {
			g.log.Error().Err(err).Msg("prune inputs failed")
			return
		}
	}
	prunedBlobs, err := g.store.PruneBinaryData(ctx)
	if err != nil {
		g.log.Error().Err(err).Msg("prune binary data failed")
		return
	}

	timer.ObserveDuration(metrics.GardenerTickDuration)
	if prunedInputs > 0 || prunedBlobs > 0 {
		metrics.InputsPrunedTotal.Add(float64(prunedInputs))
		g.log.Info().
			Int64("pruned_inputs", prunedInputs).
			Int64("pruned_blobs", prunedBlobs).
			Uint64("threshold_slot", threshold).
			Msg("pruning pass complete")
	}
}
