// Package chain holds the domain types shared across the indexing pipeline:
// points, patterns, indexed results and the health snapshot. None of these
// types touch the store or the network; they are plain data plus the pure
// logic (ordering, overlap, canonical text) that operates on them.
package chain

import (
	"encoding/hex"
	"fmt"
)

// Point identifies a block on the chain: either Genesis or a (slot, header
// hash) pair. Points are ordered by slot; Genesis sorts before everything.
type Point struct {
	Genesis    bool
	Slot       uint64
	HeaderHash []byte
}

// GenesisPoint is the well-known point preceding the first block.
var GenesisPoint = Point{Genesis: true}

// NewPoint builds a concrete (slot, hash) point.
func NewPoint(slot uint64, hash []byte) Point {
	return Point{Slot: slot, HeaderHash: append([]byte(nil), hash...)}
}

// Less reports whether p sorts strictly before other.
func (p Point) Less(other Point) bool {
	if p.Genesis != other.Genesis {
		return p.Genesis
	}
	return p.Slot < other.Slot
}

// HashHex renders the header hash as lowercase hex, empty for Genesis.
func (p Point) HashHex() string {
	if p.Genesis {
		return ""
	}
	return hex.EncodeToString(p.HeaderHash)
}

func (p Point) String() string {
	if p.Genesis {
		return "Genesis"
	}
	return fmt.Sprintf("(%d, %s)", p.Slot, p.HashHex())
}

// Tip is the most recent point known to the producer.
type Tip struct {
	Point       Point
	BlockHeight uint64
}

// Distance returns tip.Slot - p.Slot, saturating at zero for points at or
// ahead of the tip (can happen transiently around a forced rollback).
func (t Tip) Distance(p Point) uint64 {
	if p.Slot >= t.Point.Slot {
		return 0
	}
	return t.Point.Slot - p.Slot
}
