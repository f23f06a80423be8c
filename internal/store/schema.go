package store

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	slot        INTEGER PRIMARY KEY,
	header_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS inputs (
	transaction_id        TEXT NOT NULL,
	output_index          INTEGER NOT NULL,
	address               TEXT NOT NULL,
	value_coins           INTEGER NOT NULL,
	value_multi_asset     TEXT NOT NULL DEFAULT '{}',
	datum_hash            TEXT,
	script_ref            TEXT,
	created_at_slot       INTEGER NOT NULL,
	created_at_header_hash TEXT NOT NULL,
	created_at_tx_index   INTEGER NOT NULL,
	spent_at_slot         INTEGER,
	spent_at_header_hash  TEXT,
	spent_at_tx_index     INTEGER,
	spent_at_tx_id        TEXT,
	PRIMARY KEY (transaction_id, output_index)
);

CREATE INDEX IF NOT EXISTS idx_inputs_address ON inputs(address);
CREATE INDEX IF NOT EXISTS idx_inputs_created_slot ON inputs(created_at_slot);
CREATE INDEX IF NOT EXISTS idx_inputs_spent_slot ON inputs(spent_at_slot);
CREATE INDEX IF NOT EXISTS idx_inputs_datum ON inputs(datum_hash);
CREATE INDEX IF NOT EXISTS idx_inputs_script ON inputs(script_ref);

CREATE TABLE IF NOT EXISTS binary_data (
	hash  TEXT PRIMARY KEY,
	bytes BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS scripts (
	hash    TEXT PRIMARY KEY,
	bytes   BLOB NOT NULL,
	version TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS patterns (
	text TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS transaction_metadata (
	slot           INTEGER NOT NULL,
	header_hash    TEXT NOT NULL,
	transaction_id TEXT NOT NULL,
	bytes          BLOB NOT NULL,
	PRIMARY KEY (transaction_id)
);

CREATE INDEX IF NOT EXISTS idx_tx_metadata_slot ON transaction_metadata(slot);
`
