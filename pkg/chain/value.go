package chain

import "encoding/hex"

// Value is the coin and multi-asset content of a UTxO output.
type Value struct {
	Coins      uint64
	MultiAsset map[string]map[string]uint64 // policy id hex -> asset name hex -> quantity
}

// Add returns a new Value holding the sum of v and other. Zero-quantity
// entries are dropped to keep serialized values canonical.
func (v Value) Add(other Value) Value {
	out := Value{Coins: v.Coins + other.Coins, MultiAsset: map[string]map[string]uint64{}}
	for policy, assets := range v.MultiAsset {
		for name, qty := range assets {
			addAsset(out.MultiAsset, policy, name, qty)
		}
	}
	for policy, assets := range other.MultiAsset {
		for name, qty := range assets {
			addAsset(out.MultiAsset, policy, name, qty)
		}
	}
	return out
}

func addAsset(m map[string]map[string]uint64, policy, name string, qty uint64) {
	if qty == 0 {
		return
	}
	if m[policy] == nil {
		m[policy] = map[string]uint64{}
	}
	m[policy][name] += qty
}

// Script is a content-addressed reference script or native/Plutus script
// blob, stored and served opaquely.
type Script struct {
	Hash    string // blake2b hash, hex
	Bytes   []byte
	Version string // "native", "plutus:v1", "plutus:v2", "plutus:v3"
}

// BinaryData is a content-addressed datum, stored and served opaquely.
type BinaryData struct {
	Hash  string // blake2b hash, hex
	Bytes []byte
}

// Result is one indexed UTxO entry: an output plus the bookkeeping needed
// to answer point-in-time queries and to prune it once spent and stable.
type Result struct {
	TransactionID string
	OutputIndex   uint32

	Address   string
	Value     Value
	DatumHash string // empty if the output carries no datum
	ScriptRef string // empty if the output carries no reference script

	CreatedAtSlot      uint64
	CreatedAtHeaderHash string
	CreatedAtTxIndex   uint32

	SpentAtSlot      *uint64
	SpentAtHeaderHash string
	SpentAtTxIndex   *uint32
	SpentAtTxID      string
}

// IsSpent reports whether the output has been recorded as spent.
func (r Result) IsSpent() bool {
	return r.SpentAtSlot != nil
}

// Checkpoint is a (slot, header hash) the store has fully applied, used to
// resume chain-sync and to answer GET /checkpoints.
type Checkpoint struct {
	Slot       uint64
	HeaderHash string
}

// Point converts a Checkpoint back into a chain.Point.
func (c Checkpoint) Point() Point {
	b, _ := hex.DecodeString(c.HeaderHash)
	return NewPoint(c.Slot, b)
}

// TransactionMetadata is the opaque auxiliary-data payload attached to one
// transaction in a block, recorded only when the transaction carries any
// (most don't), and served by GET /metadata/<slot>.
type TransactionMetadata struct {
	Slot          uint64
	HeaderHash    string
	TransactionID string
	Bytes         []byte
}
