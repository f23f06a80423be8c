package chain

// Input references the output being consumed by a transaction.
type Input struct {
	TransactionID string
	OutputIndex   uint32
}

// Output is a single UTxO produced by a transaction, before it is indexed
// into a Result (which additionally carries created/spent bookkeeping).
type Output struct {
	Address   string
	Value     Value
	DatumHash string
	ScriptRef string
}

// Transaction is the minimal shape the consumer needs out of a block: the
// inputs it spends and the outputs it creates, plus anything a pattern can
// match against (its own id) and anything worth capturing as BinaryData.
type Transaction struct {
	ID            string
	Inputs        []Input
	Outputs       []Output
	Metadata      []byte // opaque; neither chain-sync client sets it, so it is always empty
	AuxDatums     []BinaryData
	AuxScripts    []Script
}

// Block is the capability-set abstraction a ChainSyncClient decodes a
// producer's wire block into. It deliberately exposes only what the
// consumer's matching logic needs, not a full ledger-rules block.
type Block struct {
	Point        Point
	Height       uint64
	Transactions []Transaction
}
