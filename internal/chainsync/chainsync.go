// Package chainsync defines the ChainSyncClient abstraction the consumer
// drives, and the forced-rollback rendezvous protocol the HTTP control
// plane uses to atomically rewind the client and register new patterns at
// a past point. Two concrete implementations live alongside this file:
// direct.go (node-to-client Ouroboros mini-protocols via gouroboros) and
// ogmios.go (Ogmios JSON-WSP over a WebSocket).
package chainsync

import (
	"context"
	"fmt"

	"github.com/kupochain/indexer/internal/mailbox"
	"github.com/kupochain/indexer/pkg/chain"
)

// RollbackHandler is invoked once a forced rollback either completes or
// fails to apply. Exactly one of OnSuccess/OnFailure runs.
type RollbackHandler struct {
	OnSuccess func(point chain.Point)
	OnFailure func(err error)
}

// ForcedRollbackRequest is a single-shot rendezvous between the HTTP
// control plane and the chain-sync client's read loop: the client checks
// for a pending request between block deliveries and, if one is found,
// performs the intersection/rollback before resuming normal sync.
type ForcedRollbackRequest struct {
	TargetPoint chain.Point
	Handler     RollbackHandler
}

// Client is the abstraction the consumer and the HTTP control plane share
// over whichever producer the indexer is configured against.
type Client interface {
	// Run dials the producer, finds an intersection with the given
	// known points (most recent first), and streams RollForward/
	// RollBackward events into mb until ctx is cancelled or an
	// unrecoverable error occurs.
	Run(ctx context.Context, knownPoints []chain.Point, mb *mailbox.Mailbox) error

	// ForceRollback requests that the client, at its next opportunity,
	// intersect the producer at req.TargetPoint and resume from there,
	// regardless of where it currently is. Used by PUT /patterns when a
	// caller registers a pattern with a rollback_to older than the
	// client's current position.
	ForceRollback(ctx context.Context, req ForcedRollbackRequest) error

	// Tip returns the most recently observed producer tip, or ok=false
	// if the client has not yet connected.
	Tip() (chain.Tip, bool)
}

// ErrNoIntersection is returned when none of the offered points exist on
// the producer's current chain, meaning a rollback beyond the producer's
// own local state was requested.
var ErrNoIntersection = fmt.Errorf("chainsync: no intersection found with producer")
