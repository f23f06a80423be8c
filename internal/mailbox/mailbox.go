// Package mailbox implements the bounded single-producer/single-consumer
// queue that decouples the chain-sync client from the consumer. The
// producer never blocks on store I/O; once the queue is full, Push
// backpressures the chain-sync client's read loop until the consumer
// catches up.
package mailbox

import (
	"context"
	"sync/atomic"

	"github.com/kupochain/indexer/pkg/chain"
)

// MessageKind distinguishes a forward-extend message from a rollback.
type MessageKind int

const (
	RollForward MessageKind = iota
	RollBackward
)

// Message is one chain-sync event queued for the consumer.
type Message struct {
	Kind  MessageKind
	Block chain.Block // set when Kind == RollForward
	Tip   chain.Tip
	Point chain.Point // set when Kind == RollBackward: the point rolled back to

	// Callback, when set, is invoked by the consumer immediately after
	// it finishes applying this message. Used by a forced rollback
	// (§4.4) to hold the HTTP response open until the store checkpoint
	// has actually caught up to the target, instead of racing it.
	Callback func()
}

// Mailbox is a bounded FIFO queue from the chain-sync client to the
// consumer, backed by a buffered channel.
type Mailbox struct {
	ch     chan Message
	closed atomic.Bool
	done   chan struct{}

	// pending holds a message read ahead of where the consumer asked,
	// e.g. a RollBackward seen while coalescing a RollForward run.
	// Only ever touched by the single consumer goroutine calling
	// DrainBatch, so it needs no lock.
	pending *Message
}

// New creates a Mailbox with the given capacity. Capacity must be positive.
func New(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = 1
	}
	return &Mailbox{ch: make(chan Message, capacity), done: make(chan struct{})}
}

// Push enqueues a message, blocking while the mailbox is full. It returns
// false if ctx is cancelled or the mailbox is closed before the message
// could be enqueued.
func (mb *Mailbox) Push(ctx context.Context, msg Message) bool {
	select {
	case mb.ch <- msg:
		return true
	case <-mb.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Depth returns the number of messages currently queued.
func (mb *Mailbox) Depth() int {
	return len(mb.ch)
}

// Close unblocks any pending Push/DrainBatch calls. Safe to call once.
func (mb *Mailbox) Close() {
	if mb.closed.CompareAndSwap(false, true) {
		close(mb.done)
	}
}

// DrainBatch blocks until at least one message is available, then returns
// as many consecutive messages as can be coalesced into a single batch:
// a run of RollForward messages is returned together (the consumer applies
// them in one store transaction), but a RollBackward is never combined
// with anything else and always ends the batch it starts or follows.
// Returns nil once the mailbox is closed and drained.
func (mb *Mailbox) DrainBatch(ctx context.Context) []Message {
	var first Message
	if mb.pending != nil {
		first = *mb.pending
		mb.pending = nil
	} else {
		select {
		case first = <-mb.ch:
		case <-mb.done:
			select {
			case first = <-mb.ch:
			default:
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}

	if first.Kind == RollBackward {
		return []Message{first}
	}

	batch := []Message{first}
	for {
		select {
		case next := <-mb.ch:
			if next.Kind == RollBackward {
				mb.pending = &next
				return batch
			}
			batch = append(batch, next)
		default:
			return batch
		}
	}
}
