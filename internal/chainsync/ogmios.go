package chainsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kupochain/indexer/internal/logging"
	"github.com/kupochain/indexer/internal/mailbox"
	"github.com/kupochain/indexer/pkg/chain"
)

// OgmiosClient implements Client against an Ogmios bridge's chain-sync
// mini-protocol mirror, a JSON-WSP request/response exchange over a plain
// WebSocket connection. It reuses gorilla/websocket purely as a client
// dialer here.
type OgmiosClient struct {
	url string

	mu      sync.Mutex
	conn    *websocket.Conn
	tip     chain.Tip
	hasTip  bool
	pending *ForcedRollbackRequest
}

// NewOgmiosClient builds a client dialing the given Ogmios WebSocket URL.
func NewOgmiosClient(url string) *OgmiosClient {
	return &OgmiosClient{url: url}
}

func (c *OgmiosClient) Tip() (chain.Tip, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tip, c.hasTip
}

func (c *OgmiosClient) ForceRollback(ctx context.Context, req ForcedRollbackRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = &req
	return nil
}

type ogmiosRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int    `json:"id"`
}

type ogmiosFindIntersectionParams struct {
	Points []ogmiosPoint `json:"points"`
}

type ogmiosPoint struct {
	Slot uint64 `json:"slot,omitempty"`
	ID   string `json:"id,omitempty"`
}

type ogmiosResponse struct {
	ID     int             `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *ogmiosError    `json:"error"`
}

type ogmiosError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type ogmiosNextBlockResult struct {
	Direction string          `json:"direction"` // "forward" | "backward"
	Block     json.RawMessage `json:"block,omitempty"`
	Point     *ogmiosPoint    `json:"point,omitempty"`
	Tip       ogmiosPoint     `json:"tip"`
}

type ogmiosBlock struct {
	Slot         uint64          `json:"slot"`
	ID           string          `json:"id"`
	Height       uint64          `json:"height"`
	Transactions []ogmiosTx      `json:"transactions"`
}

type ogmiosTx struct {
	ID      string                    `json:"id"`
	Inputs  []ogmiosInput             `json:"inputs"`
	Outputs []ogmiosOut               `json:"outputs"`
	Datums  map[string]string         `json:"datums,omitempty"`  // hash -> cbor hex, witness set
	Scripts map[string]ogmiosScriptEntry `json:"scripts,omitempty"` // hash -> script, witness set
}

type ogmiosScriptEntry struct {
	Language string `json:"language"` // "native", "plutus:v1", "plutus:v2", "plutus:v3"
	CBOR     string `json:"cbor"`
}

type ogmiosInput struct {
	Transaction struct {
		ID string `json:"id"`
	} `json:"transaction"`
	Index uint32 `json:"index"`
}

type ogmiosOut struct {
	Address string                    `json:"address"`
	Value   map[string]map[string]uint64 `json:"value"` // "ada" -> {"lovelace": n}, policy -> {asset: qty}
	Datum   string                    `json:"datumHash,omitempty"`
	Script  *struct {
		Hash string `json:"hash"`
	} `json:"script,omitempty"`
}

// Run dials the Ogmios bridge, requests an intersection at knownPoints,
// and drives a nextBlock loop, pushing each delivery into mb. A dropped
// connection is retried with a fixed backoff; a producer that knows none
// of knownPoints ends Run with ErrNoIntersection.
func (c *OgmiosClient) Run(ctx context.Context, knownPoints []chain.Point, mb *mailbox.Mailbox) error {
	log := logging.WithComponent("chainsync-ogmios")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := c.runOnce(ctx, knownPoints, mb, log)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == ErrNoIntersection {
			return err
		}
		log.Error().Err(err).Msg("ogmios connection lost, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
}

func (c *OgmiosClient) runOnce(ctx context.Context, knownPoints []chain.Point, mb *mailbox.Mailbox, log zerolog.Logger) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("chainsync: dial ogmios %s: %w", c.url, err)
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	points := make([]ogmiosPoint, 0, len(knownPoints))
	for _, p := range knownPoints {
		if p.Genesis {
			continue
		}
		points = append(points, ogmiosPoint{Slot: p.Slot, ID: p.HashHex()})
	}

	if err := writeRequest(conn, "findIntersection", ogmiosFindIntersectionParams{Points: points}, 1); err != nil {
		return fmt.Errorf("chainsync: findIntersection: %w", err)
	}
	var resp ogmiosResponse
	if err := conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("chainsync: read findIntersection response: %w", err)
	}
	if resp.Error != nil {
		return ErrNoIntersection
	}

	reqID := 2
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.maybeHandleForcedRollback(ctx, mb, conn, &reqID, log); err != nil {
			return err
		}

		if err := writeRequest(conn, "nextBlock", nil, reqID); err != nil {
			return fmt.Errorf("chainsync: nextBlock request: %w", err)
		}
		reqID++

		var next ogmiosResponse
		if err := conn.ReadJSON(&next); err != nil {
			return fmt.Errorf("chainsync: read nextBlock response: %w", err)
		}
		if next.Error != nil {
			return fmt.Errorf("chainsync: nextBlock error: %s", next.Error.Message)
		}

		var result ogmiosNextBlockResult
		if err := json.Unmarshal(next.Result, &result); err != nil {
			return fmt.Errorf("chainsync: decode nextBlock result: %w", err)
		}

		tip := chain.NewPoint(result.Tip.Slot, hexOrNil(result.Tip.ID))
		c.recordTip(chain.Tip{Point: tip})

		switch result.Direction {
		case "forward":
			var blk ogmiosBlock
			if err := json.Unmarshal(result.Block, &blk); err != nil {
				return fmt.Errorf("chainsync: decode block: %w", err)
			}
			if !mb.Push(ctx, mailbox.Message{
				Kind:  mailbox.RollForward,
				Block: convertOgmiosBlock(blk),
				Tip:   chain.Tip{Point: tip},
			}) {
				return fmt.Errorf("chainsync: mailbox closed")
			}
		case "backward":
			var point chain.Point
			if result.Point == nil {
				point = chain.GenesisPoint
			} else {
				point = chain.NewPoint(result.Point.Slot, hexOrNil(result.Point.ID))
			}
			if !mb.Push(ctx, mailbox.Message{Kind: mailbox.RollBackward, Point: point, Tip: chain.Tip{Point: tip}}) {
				return fmt.Errorf("chainsync: mailbox closed")
			}
		}
	}
}

// maybeHandleForcedRollback sends a findIntersection at the pending
// target, between nextBlock requests, the Ogmios-side equivalent of the
// direct client's mid-stream Intersect call. On success it pushes the
// resulting RollBackward into the mailbox with a callback firing the
// caller's OnSuccess only once the consumer has applied it (§4.4),
// rather than as soon as the intersection succeeds.
func (c *OgmiosClient) maybeHandleForcedRollback(ctx context.Context, mb *mailbox.Mailbox, conn *websocket.Conn, reqID *int, log zerolog.Logger) error {
	c.mu.Lock()
	req := c.pending
	c.pending = nil
	tip := c.tip
	c.mu.Unlock()

	if req == nil {
		return nil
	}

	var points []ogmiosPoint
	if !req.TargetPoint.Genesis {
		points = []ogmiosPoint{{Slot: req.TargetPoint.Slot, ID: req.TargetPoint.HashHex()}}
	}
	if err := writeRequest(conn, "findIntersection", ogmiosFindIntersectionParams{Points: points}, *reqID); err != nil {
		if req.Handler.OnFailure != nil {
			req.Handler.OnFailure(err)
		}
		*reqID++
		return nil
	}
	*reqID++

	var resp ogmiosResponse
	if err := conn.ReadJSON(&resp); err != nil {
		log.Error().Err(err).Msg("forced rollback: read intersection response failed")
		if req.Handler.OnFailure != nil {
			req.Handler.OnFailure(err)
		}
		return nil
	}
	if resp.Error != nil {
		if req.Handler.OnFailure != nil {
			req.Handler.OnFailure(fmt.Errorf("ogmios: %s", resp.Error.Message))
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

func (c *OgmiosClient) recordTip(tip chain.Tip) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tip = tip
	c.hasTip = true
}

func writeRequest(conn *websocket.Conn, method string, params any, id int) error {
	return conn.WriteJSON(ogmiosRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id})
}

func convertOgmiosBlock(blk ogmiosBlock) chain.Block {
	out := chain.Block{Point: chain.NewPoint(blk.Slot, hexOrNil(blk.ID)), Height: blk.Height}
	for _, tx := range blk.Transactions {
		t := chain.Transaction{ID: tx.ID}
		for _, in := range tx.Inputs {
			t.Inputs = append(t.Inputs, chain.Input{TransactionID: in.Transaction.ID, OutputIndex: in.Index})
		}
		for _, o := range tx.Outputs {
			v := chain.Value{MultiAsset: map[string]map[string]uint64{}}
			for policy, assets := range o.Value {
				if policy == "ada" {
					v.Coins = assets["lovelace"]
					continue
				}
				v.MultiAsset[policy] = assets
			}
			scriptHash := ""
			if o.Script != nil {
				scriptHash = o.Script.Hash
			}
			t.Outputs = append(t.Outputs, chain.Output{Address: o.Address, Value: v, DatumHash: o.Datum, ScriptRef: scriptHash})
		}
		for _, cborHex := range tx.Datums {
			raw := hexOrNil(cborHex)
			t.AuxDatums = append(t.AuxDatums, chain.BinaryData{Hash: chain.HashDatum(raw), Bytes: raw})
		}
		for _, script := range tx.Scripts {
			raw := hexOrNil(script.CBOR)
			t.AuxScripts = append(t.AuxScripts, chain.Script{Hash: chain.HashScript(script.Language, raw), Bytes: raw, Version: script.Language})
		}
		out.Transactions = append(out.Transactions, t)
	}
	return out
}

func hexOrNil(s string) []byte {
	if s == "" {
		return nil
	}
	b := make([]byte, 0, len(s)/2)
	for i := 0; i+1 < len(s); i += 2 {
		var hi, lo byte
		if !hexNibble(s[i], &hi) || !hexNibble(s[i+1], &lo) {
			return nil
		}
		b = append(b, hi<<4|lo)
	}
	return b
}

func hexNibble(c byte, out *byte) bool {
	switch {
	case c >= '0' && c <= '9':
		*out = c - '0'
	case c >= 'a' && c <= 'f':
		*out = c - 'a' + 10
	case c >= 'A' && c <= 'F':
		*out = c - 'A' + 10
	default:
		return false
	}
	return true
}
