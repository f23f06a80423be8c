package chainsync

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	ouroboros "github.com/blinklabs-io/gouroboros"
	occommon "github.com/blinklabs-io/gouroboros/protocol/common"
	"github.com/blinklabs-io/gouroboros/protocol/chainsync"
	"github.com/blinklabs-io/gouroboros/ledger"
	"github.com/rs/zerolog"

	"github.com/kupochain/indexer/internal/logging"
	"github.com/kupochain/indexer/internal/mailbox"
	"github.com/kupochain/indexer/pkg/chain"
)

// DirectClient speaks the Ouroboros node-to-client mini-protocols (chain
// sync, mini-protocol versions >= 9) directly against a local node's UNIX
// domain socket, via github.com/blinklabs-io/gouroboros.
type DirectClient struct {
	socketPath   string
	networkMagic uint32

	mu      sync.Mutex
	conn    *ouroboros.Connection
	tip     chain.Tip
	hasTip  bool
	pending *ForcedRollbackRequest
}

// NewDirectClient builds a client dialing the given node socket.
func NewDirectClient(socketPath string, networkMagic uint32) *DirectClient {
	return &DirectClient{socketPath: socketPath, networkMagic: networkMagic}
}

func (c *DirectClient) Tip() (chain.Tip, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tip, c.hasTip
}

func (c *DirectClient) ForceRollback(ctx context.Context, req ForcedRollbackRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = &req
	return nil
}

// Run dials the node, intersects at knownPoints (most recent first) and
// streams blocks into mb until ctx is cancelled. A dropped connection is
// retried with a fixed backoff; the caller owns giving up (ctx).
func (c *DirectClient) Run(ctx context.Context, knownPoints []chain.Point, mb *mailbox.Mailbox) error {
	log := logging.WithComponent("chainsync-direct")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := c.runOnce(ctx, knownPoints, mb, log)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error().Err(err).Msg("direct chain-sync connection lost, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
}

func (c *DirectClient) runOnce(ctx context.Context, knownPoints []chain.Point, mb *mailbox.Mailbox, log zerolog.Logger) error {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("chainsync: dial %s: %w", c.socketPath, err)
	}

	rollForward := func(cbCtx chainsync.CallbackContext, blockType uint, blockData any, tip occommon.Tip) error {
		blk, err := decodeBlock(blockType, blockData)
		if err != nil {
			return fmt.Errorf("chainsync: decode block: %w", err)
		}
		c.recordTip(tip)
		if !mb.Push(ctx, mailbox.Message{Kind: mailbox.RollForward, Block: blk, Tip: convertTip(tip)}) {
			return fmt.Errorf("chainsync: mailbox closed")
		}
		return c.drainForcedRollback(ctx, mb, log)
	}

	rollBackward := func(cbCtx chainsync.CallbackContext, point occommon.Point, tip occommon.Tip) error {
		c.recordTip(tip)
		if !mb.Push(ctx, mailbox.Message{Kind: mailbox.RollBackward, Point: convertPoint(point), Tip: convertTip(tip)}) {
			return fmt.Errorf("chainsync: mailbox closed")
		}
		return c.drainForcedRollback(ctx, mb, log)
	}

	o, err := ouroboros.New(
		ouroboros.WithConnection(conn),
		ouroboros.WithNetworkMagic(c.networkMagic),
		ouroboros.WithNodeToNode(false),
		ouroboros.WithKeepAlive(true),
		ouroboros.WithChainSyncConfig(
			chainsync.NewConfig(
				chainsync.WithRollForwardFunc(rollForward),
				chainsync.WithRollBackwardFunc(rollBackward),
			),
		),
	)
	if err != nil {
		conn.Close()
		return fmt.Errorf("chainsync: establish connection: %w", err)
	}
	c.mu.Lock()
	c.conn = o
	c.mu.Unlock()
	defer o.Close()

	points := make([]occommon.Point, 0, len(knownPoints))
	for _, p := range knownPoints {
		points = append(points, toOcPoint(p))
	}
	if len(points) == 0 {
		points = []occommon.Point{occommon.NewPointOrigin()}
	}

	if err := o.ChainSync().Client.Sync(points); err != nil {
		return fmt.Errorf("chainsync: sync: %w", err)
	}

	<-ctx.Done()
	return ctx.Err()
}

// drainForcedRollback is checked from within the chain-sync callbacks,
// between block deliveries, so it naturally serializes with Sync's own
// read loop: if a forced rollback is pending it intersects at the target
// point immediately, then pushes the resulting RollBackward into the
// mailbox with a callback that fires the caller's OnSuccess only once
// the consumer has actually applied it (§4.4) — never right after the
// producer-side intersect, which would let PUT /patterns race ahead of
// the store.
func (c *DirectClient) drainForcedRollback(ctx context.Context, mb *mailbox.Mailbox, log zerolog.Logger) error {
	c.mu.Lock()
	req := c.pending
	c.pending = nil
	conn := c.conn
	tip := c.tip
	c.mu.Unlock()

	if req == nil {
		return nil
	}

	if conn == nil {
		if req.Handler.OnFailure != nil {
			req.Handler.OnFailure(fmt.Errorf("chainsync: no active connection"))
		}
		return nil
	}

	target := toOcPoint(req.TargetPoint)
	if _, err := conn.ChainSync().Client.Intersect([]occommon.Point{target}); err != nil {
		log.Error().Err(err).Str("point", req.TargetPoint.String()).Msg("forced rollback intersect failed")
		if req.Handler.OnFailure != nil {
			req.Handler.OnFailure(err)
		}
		return nil
	}

	handler := req.Handler
	point := req.TargetPoint
	msg := mailbox.Message{
		Kind:  mailbox.RollBackward,
		Point: point,
		Tip:   tip,
		Callback: func() {
			if handler.OnSuccess != nil {
				handler.OnSuccess(point)
			}
		},
	}
	if !mb.Push(ctx, msg) {
		if handler.OnFailure != nil {
			handler.OnFailure(fmt.Errorf("chainsync: mailbox closed"))
		}
	}
	return nil
}

func (c *DirectClient) recordTip(tip occommon.Tip) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tip = convertTip(tip)
	c.hasTip = true
}

func toOcPoint(p chain.Point) occommon.Point {
	if p.Genesis {
		return occommon.NewPointOrigin()
	}
	return occommon.NewPoint(p.Slot, p.HeaderHash)
}

func convertPoint(p occommon.Point) chain.Point {
	if p.Slot == 0 && len(p.Hash) == 0 {
		return chain.GenesisPoint
	}
	return chain.NewPoint(p.Slot, p.Hash)
}

func convertTip(t occommon.Tip) chain.Tip {
	return chain.Tip{Point: convertPoint(t.Point), BlockHeight: t.BlockNumber}
}

// decodeBlock converts a gouroboros ledger block into the capability-set
// chain.Block the consumer matches against. Only the fields the consumer
// needs (addresses, values, datum/script hashes) are extracted; everything
// else in the ledger block is discarded at this boundary.
func decodeBlock(blockType uint, blockData any) (chain.Block, error) {
	blk, ok := blockData.(ledger.Block)
	if !ok {
		return chain.Block{}, fmt.Errorf("chainsync: unexpected block payload type %T for era %d", blockData, blockType)
	}

	out := chain.Block{
		Point:  chain.NewPoint(blk.SlotNumber(), blk.Hash().Bytes()),
		Height: blk.BlockNumber(),
	}
	for _, tx := range blk.Transactions() {
		t := chain.Transaction{ID: tx.Hash().String()}
		for _, in := range tx.Inputs() {
			t.Inputs = append(t.Inputs, chain.Input{
				TransactionID: in.Id().String(),
				OutputIndex:   uint32(in.Index()),
			})
		}
		for _, o := range tx.Outputs() {
			t.Outputs = append(t.Outputs, chain.Output{
				Address:   o.Address().String(),
				Value:     convertValue(o),
				DatumHash: datumHashHex(o),
				ScriptRef: scriptRefHex(o),
			})
		}
		out.Transactions = append(out.Transactions, t)
	}
	return out, nil
}

func convertValue(o ledger.TransactionOutput) chain.Value {
	v := chain.Value{Coins: o.Amount(), MultiAsset: map[string]map[string]uint64{}}
	assets := o.Assets()
	if assets == nil {
		return v
	}
	for _, asset := range assets.Assets() {
		policy := asset.PolicyId().String()
		if v.MultiAsset[policy] == nil {
			v.MultiAsset[policy] = map[string]uint64{}
		}
		v.MultiAsset[policy][asset.Name().String()] = asset.Amount()
	}
	return v
}

func datumHashHex(o ledger.TransactionOutput) string {
	if h := o.DatumHash(); h != nil {
		return h.String()
	}
	return ""
}

func scriptRefHex(o ledger.TransactionOutput) string {
	if s := o.ScriptRef(); s != nil {
		return s.Hash().String()
	}
	return ""
}
