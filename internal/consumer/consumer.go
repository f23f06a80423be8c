// Package consumer drains the mailbox and applies each batch to the store
// in a single read-write transaction: RollForward batches insert newly
// matched outputs and mark/remove spent ones; a RollBackward rewinds the
// store to the target point.
package consumer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kupochain/indexer/internal/config"
	"github.com/kupochain/indexer/internal/health"
	"github.com/kupochain/indexer/internal/logging"
	"github.com/kupochain/indexer/internal/mailbox"
	"github.com/kupochain/indexer/internal/metrics"
	"github.com/kupochain/indexer/internal/registry"
	"github.com/kupochain/indexer/internal/store"
	"github.com/kupochain/indexer/pkg/chain"
)

// Consumer drains a Mailbox and applies each batch to the Store.
type Consumer struct {
	store    store.Store
	registry *registry.Registry
	health   *health.Tracker
	policy   config.InputManagementMode
	stability uint64

	log zerolog.Logger
}

// New builds a Consumer.
func New(s store.Store, r *registry.Registry, h *health.Tracker, policy config.InputManagementMode, stabilityWindow uint64) *Consumer {
	return &Consumer{store: s, registry: r, health: h, policy: policy, stability: stabilityWindow, log: logging.WithComponent("consumer")}
}

// Run drains mb until ctx is cancelled, applying each batch in order.
func (c *Consumer) Run(ctx context.Context, mb *mailbox.Mailbox) error {
	for {
		batch := mb.DrainBatch(ctx)
		if batch == nil {
			return ctx.Err()
		}
		timer := metrics.NewTimer()
		if err := c.apply(ctx, batch); err != nil {
			c.log.Error().Err(err).Int("batch_size", len(batch)).Msg("failed to apply mailbox batch")
			return err
		}
		timer.ObserveDuration(metrics.ConsumerBatchApplyDuration)
		metrics.MailboxDepth.Set(float64(mb.Depth()))
	}
}

func (c *Consumer) apply(ctx context.Context, batch []mailbox.Message) error {
	if len(batch) == 0 {
		return nil
	}

	if batch[0].Kind == mailbox.RollBackward {
		msg := batch[0]
		if err := c.store.RollbackTo(ctx, msg.Point.Slot); err != nil {
			return fmt.Errorf("consumer: rollback to %s: %w", msg.Point, err)
		}
		metrics.RollbacksAppliedTotal.Inc()
		c.recordCheckpointAfterRollback(ctx)
		c.health.SetTip(msg.Tip)
		metrics.NodeTipSlot.Set(float64(msg.Tip.Point.Slot))
		if msg.Callback != nil {
			msg.Callback()
		}
		return nil
	}

	patterns := c.registry.Snapshot()
	lastTip := batch[len(batch)-1].Tip

	var checkpoints []chain.Checkpoint
	var insertedCount, spentCount int

	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		for _, msg := range batch {
			blk := msg.Block
			cp := chain.Checkpoint{Slot: blk.Point.Slot, HeaderHash: blk.Point.HashHex()}
			checkpoints = append(checkpoints, cp)

			var newResults []chain.Result
			var spentRefs []chain.Input
			var datums []chain.BinaryData
			var scripts []chain.Script
			var txMetadata []chain.TransactionMetadata

			for txIndex, t := range blk.Transactions {
				datums = append(datums, t.AuxDatums...)
				scripts = append(scripts, t.AuxScripts...)
				if len(t.Metadata) > 0 {
					txMetadata = append(txMetadata, chain.TransactionMetadata{
						Slot:          blk.Point.Slot,
						HeaderHash:    blk.Point.HashHex(),
						TransactionID: t.ID,
						Bytes:         t.Metadata,
					})
				}
				spentRefs = append(spentRefs, t.Inputs...)
				for outIx, out := range t.Outputs {
					if !matchesOutput(patterns, out, t.ID, uint32(outIx)) {
						continue
					}
					newResults = append(newResults, chain.Result{
						TransactionID:       t.ID,
						OutputIndex:         uint32(outIx),
						Address:             out.Address,
						Value:               out.Value,
						DatumHash:           out.DatumHash,
						ScriptRef:           out.ScriptRef,
						CreatedAtSlot:       blk.Point.Slot,
						CreatedAtHeaderHash: blk.Point.HashHex(),
						CreatedAtTxIndex:    uint32(txIndex),
					})
				}
			}

			if err := tx.InsertCheckpoints(ctx, []chain.Checkpoint{cp}); err != nil {
				return fmt.Errorf("consumer: insert checkpoint %d: %w", cp.Slot, err)
			}

			if len(newResults) > 0 {
				if err := tx.InsertInputs(ctx, newResults); err != nil {
					return fmt.Errorf("consumer: insert inputs: %w", err)
				}
				insertedCount += len(newResults)

				if referenced := referencedDatums(newResults, datums); len(referenced) > 0 {
					if err := tx.InsertBinaryData(ctx, referenced); err != nil {
						return fmt.Errorf("consumer: insert binary data: %w", err)
					}
				}
				if referenced := referencedScripts(newResults, scripts); len(referenced) > 0 {
					if err := tx.InsertScripts(ctx, referenced); err != nil {
						return fmt.Errorf("consumer: insert scripts: %w", err)
					}
				}
			}

			if len(spentRefs) > 0 {
				if err := c.applySpentTx(ctx, tx, spentRefs, blk.Point, msg.Tip); err != nil {
					return err
				}
				spentCount += len(spentRefs)
			}

			if len(txMetadata) > 0 {
				if err := tx.InsertTransactionMetadata(ctx, txMetadata); err != nil {
					return fmt.Errorf("consumer: insert transaction metadata: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.InputsInsertedTotal.Add(float64(insertedCount))
	metrics.InputsSpentTotal.Add(float64(spentCount))
	metrics.BlocksAppliedTotal.Add(float64(len(batch)))
	latest := checkpoints[len(checkpoints)-1]
	c.health.SetCheckpoint(latest)
	c.health.SetTip(lastTip)
	metrics.MostRecentCheckpointSlot.Set(float64(latest.Slot))
	metrics.NodeTipSlot.Set(float64(lastTip.Point.Slot))
	metrics.ActivePatternsTotal.Set(float64(c.registry.Len()))
	return nil
}

// applySpentTx records a block's spends within the same transaction as
// its checkpoint and inputs. Under RemoveSpentInputs a spend is deleted
// outright only once it falls outside the rollback window relative to
// the tip known when its block arrived; otherwise (or under
// MarkSpentInputs) it is only marked, so a later RollBackward can still
// restore it (I5).
func (c *Consumer) applySpentTx(ctx context.Context, tx store.Tx, refs []chain.Input, at chain.Point, tip chain.Tip) error {
	if c.policy == config.RemoveSpentInputs && tip.Distance(at) > c.stability {
		if err := tx.DeleteInputsByReference(ctx, refs); err != nil {
			return fmt.Errorf("consumer: delete spent inputs: %w", err)
		}
		return nil
	}
	if err := tx.MarkInputsByReference(ctx, refs, at.Slot, at.HashHex(), 0, ""); err != nil {
		return fmt.Errorf("consumer: mark spent inputs: %w", err)
	}
	return nil
}

func (c *Consumer) recordCheckpointAfterRollback(ctx context.Context) {
	cp, ok, err := c.store.MostRecentCheckpoint(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to read checkpoint after rollback")
		return
	}
	if ok {
		c.health.SetCheckpoint(cp)
		metrics.MostRecentCheckpointSlot.Set(float64(cp.Slot))
	}
}

// referencedDatums filters a block's witness-set datums down to the ones
// an indexed output actually points at, so the store never retains binary
// data no live input references (the gardener's PruneBinaryData relies on
// this invariant staying true).
func referencedDatums(results []chain.Result, datums []chain.BinaryData) []chain.BinaryData {
	if len(datums) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(results))
	for _, r := range results {
		if r.DatumHash != "" {
			wanted[r.DatumHash] = true
		}
	}
	var out []chain.BinaryData
	for _, d := range datums {
		if wanted[d.Hash] {
			out = append(out, d)
		}
	}
	return out
}

func referencedScripts(results []chain.Result, scripts []chain.Script) []chain.Script {
	if len(scripts) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(results))
	for _, r := range results {
		if r.ScriptRef != "" {
			wanted[r.ScriptRef] = true
		}
	}
	var out []chain.Script
	for _, s := range scripts {
		if wanted[s.Hash] {
			out = append(out, s)
		}
	}
	return out
}

func matchesOutput(patterns []chain.Pattern, out chain.Output, txID string, outIx uint32) bool {
	for _, p := range patterns {
		if p.Matches(out.Address, out.Value.MultiAsset, txID, outIx) {
			return true
		}
	}
	return false
}
