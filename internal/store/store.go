// Package store implements the indexer's persistence layer: checkpoints,
// indexed outputs, content-addressed binary data and scripts, and
// registered patterns, backed by a single embedded SQLite database file.
package store

import (
	"context"

	"github.com/kupochain/indexer/pkg/chain"
)

// ConnectionType selects whether a Store handle may mutate the database.
// A ReadWrite handle is held by exactly one goroutine at a time (the
// consumer, the gardener, or an HTTP handler servicing a mutating
// request); any number of ReadOnly handles can run concurrently against
// them thanks to SQLite's WAL mode.
type ConnectionType int

const (
	ReadOnly ConnectionType = iota
	ReadWrite
)

// StatusFlag filters foldInputs by spent/unspent state.
type StatusFlag int

const (
	StatusAll StatusFlag = iota
	StatusUnspentOnly
	StatusSpentOnly
)

// SortOrder controls the order foldInputs walks matched rows in.
type SortOrder int

const (
	SortNone SortOrder = iota
	SortOldestFirst
	SortMostRecentFirst
)

// InputManagementMode controls how a spent input leaves the store once it
// falls outside the rollback window.
type InputManagementMode int

const (
	MarkSpentInputs InputManagementMode = iota
	RemoveSpentInputs
)

// RowFunc is called once per matched Result by FoldInputs; returning an
// error stops the fold and propagates the error to the caller.
type RowFunc func(chain.Result) error

// Tx is a transaction-scoped handle exposing the subset of Store's
// mutating operations a RollForward batch needs, so the consumer can
// apply checkpoints, new inputs, spends and binary data as a single
// atomic unit instead of one transaction per write (§4.5, I1): a crash
// mid-batch can never leave a checkpoint recorded without the inputs or
// spends that came with it.
type Tx interface {
	InsertCheckpoints(ctx context.Context, checkpoints []chain.Checkpoint) error
	InsertInputs(ctx context.Context, results []chain.Result) error
	MarkInputsByReference(ctx context.Context, refs []chain.Input, spentAtSlot uint64, spentAtHeaderHash string, spentAtTxIndex uint32, spendingTxID string) error
	DeleteInputsByReference(ctx context.Context, refs []chain.Input) error
	InsertBinaryData(ctx context.Context, data []chain.BinaryData) error
	InsertScripts(ctx context.Context, scripts []chain.Script) error
	InsertTransactionMetadata(ctx context.Context, entries []chain.TransactionMetadata) error
}

// Store is the full persistence surface the rest of the indexer depends
// on. A single process holds one Store backed by one SQLite file;
// read-write operations serialize on a single writer connection, and
// read-only operations run over a separate pool of read connections.
type Store interface {
	// Checkpoints

	// InsertCheckpoints records newly applied checkpoints. Must run
	// inside the same transaction as the inputs/binary-data changes
	// produced by the same block(s), so a crash can never observe one
	// without the other (I1).
	InsertCheckpoints(ctx context.Context, checkpoints []chain.Checkpoint) error

	// RollbackTo deletes every checkpoint after the given slot and
	// reverses the effects recorded after it: inputs created after the
	// slot are deleted, and inputs marked spent after the slot are
	// un-marked. Idempotent: rolling back to a point twice has the
	// same effect as once (P2).
	RollbackTo(ctx context.Context, slot uint64) error

	// ListCheckpoints returns the most recent checkpoints, newest
	// first, up to limit.
	ListCheckpoints(ctx context.Context, limit int) ([]chain.Checkpoint, error)

	// CheckpointBySlot returns the checkpoint at or immediately before
	// the given slot, used to decide whether a requested rollback point
	// is coverable.
	CheckpointBySlot(ctx context.Context, slot uint64) (chain.Checkpoint, bool, error)

	// MostRecentCheckpoint returns the latest checkpoint applied, or
	// ok=false if the store is empty (fresh sync from Genesis).
	MostRecentCheckpoint(ctx context.Context) (chain.Checkpoint, bool, error)

	// Inputs

	// InsertInputs persists newly observed matched outputs.
	InsertInputs(ctx context.Context, results []chain.Result) error

	// MarkInputsByReference marks the given (tx id, output index) pairs
	// spent at the given point/tx-index/spending-tx-id, used when the
	// configured policy is MarkSpentInputs.
	MarkInputsByReference(ctx context.Context, refs []chain.Input, spentAtSlot uint64, spentAtHeaderHash string, spentAtTxIndex uint32, spendingTxID string) error

	// DeleteInputsByReference removes the given (tx id, output index)
	// pairs outright, used when RemoveSpentInputs is configured and the
	// input is already outside the rollback window at the moment it is
	// observed spent.
	DeleteInputsByReference(ctx context.Context, refs []chain.Input) error

	// FoldInputs streams every Result matching the given patterns
	// through fn, honoring status and sort order. Used by the HTTP
	// GET /matches handler and by DELETE /matches to collect the rows
	// it removes.
	FoldInputs(ctx context.Context, patterns []chain.Pattern, status StatusFlag, sort SortOrder, fn RowFunc) error

	// PruneInputs permanently deletes inputs that were marked spent at
	// or before the given slot (i.e. older than stability_window),
	// applicable only under RemoveSpentInputs.
	PruneInputs(ctx context.Context, olderThanSlot uint64) (int64, error)

	// Binary data & scripts

	InsertBinaryData(ctx context.Context, data []chain.BinaryData) error
	GetBinaryData(ctx context.Context, hash string) (chain.BinaryData, bool, error)
	InsertScripts(ctx context.Context, scripts []chain.Script) error
	GetScript(ctx context.Context, hash string) (chain.Script, bool, error)

	// PruneBinaryData deletes datums/scripts no longer referenced by any
	// live input, called by the gardener after PruneInputs.
	PruneBinaryData(ctx context.Context) (int64, error)

	// Patterns

	InsertPatterns(ctx context.Context, patterns []chain.Pattern) error
	// DeletePattern removes the pattern and reports how many rows were
	// removed (0 or 1), so the caller can answer DELETE /patterns with
	// an accurate {"deleted": n}.
	DeletePattern(ctx context.Context, pattern chain.Pattern) (int64, error)
	ListPatterns(ctx context.Context) ([]chain.Pattern, error)

	// Transaction metadata

	// InsertTransactionMetadata persists the opaque metadata payload
	// carried by transactions in a block, alongside the other writes
	// InsertCheckpoints/InsertInputs make for the same block (I1).
	InsertTransactionMetadata(ctx context.Context, entries []chain.TransactionMetadata) error

	// MetadataNearestAncestor returns the checkpoint at or immediately
	// before the given slot, used by GET /metadata/<slot> to resolve the
	// block to serve metadata from. ok=false if no such block exists.
	MetadataNearestAncestor(ctx context.Context, slot uint64) (chain.Checkpoint, bool, error)

	// TransactionMetadataByHeaderHash returns every metadata entry
	// recorded for the block with the given header hash, optionally
	// filtered to a single transaction id.
	TransactionMetadataByHeaderHash(ctx context.Context, headerHash string, transactionID string) ([]chain.TransactionMetadata, error)

	// WithTx runs fn inside a single read-write transaction, committing
	// iff fn returns nil and rolling back otherwise. Used by the
	// consumer to apply an entire RollForward batch atomically.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// Close releases the underlying database handle.
	Close() error
}
