package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kupochain/indexer/pkg/chain"
)

// Config controls where and how the SQLite-backed Store opens its file.
type Config struct {
	DataDir string
	// MaxReadConns bounds how many concurrent read-only connections the
	// pool keeps open; the single writer connection is separate.
	MaxReadConns int
}

// SQLiteStore is the Store implementation backing the indexer's single
// embedded database file. It keeps two *sql.DB handles against the same
// file: one capped at a single connection for all mutating operations
// (SQLite allows exactly one writer at a time), and one sized for
// concurrent HTTP read traffic, both opened in WAL mode so readers never
// block behind the writer.
type SQLiteStore struct {
	writeDB *sql.DB
	readDB  *sql.DB
	path    string
}

// Open creates the data directory if needed, opens (and migrates) the
// database file, and returns a ready-to-use SQLiteStore.
func Open(cfg Config) (*SQLiteStore, error) {
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create data directory: %w", err)
	}
	path := filepath.Join(dataDir, "kupochain.sqlite3")

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=off"

	writeDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open write handle: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(time.Hour)

	if err := writeDB.Ping(); err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("store: ping write handle: %w", err)
	}

	if _, err := writeDB.Exec(schema); err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	readDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("store: open read handle: %w", err)
	}
	maxReaders := cfg.MaxReadConns
	if maxReaders <= 0 {
		maxReaders = 8
	}
	readDB.SetMaxOpenConns(maxReaders)
	readDB.SetConnMaxLifetime(time.Hour)

	return &SQLiteStore{writeDB: writeDB, readDB: readDB, path: path}, nil
}

// OpenMemory opens an in-memory store for tests. Both handles share a
// single connection pinned to one connection so the in-memory database
// (which is connection-scoped) is visible to both readers and writers.
func OpenMemory() (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared&_foreign_keys=off")
	if err != nil {
		return nil, fmt.Errorf("store: open memory handle: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &SQLiteStore{writeDB: db, readDB: db, path: ":memory:"}, nil
}

func (s *SQLiteStore) Close() error {
	werr := s.writeDB.Close()
	if s.readDB != s.writeDB {
		if err := s.readDB.Close(); err != nil && werr == nil {
			werr = err
		}
	}
	return werr
}

func (s *SQLiteStore) InsertCheckpoints(ctx context.Context, checkpoints []chain.Checkpoint) error {
	return s.withTx(ctx, func(tx *sql.Tx) error { return insertCheckpointsTx(ctx, tx, checkpoints) })
}

func insertCheckpointsTx(ctx context.Context, tx *sql.Tx, checkpoints []chain.Checkpoint) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO checkpoints (slot, header_hash) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, cp := range checkpoints {
		if _, err := stmt.ExecContext(ctx, cp.Slot, cp.HeaderHash); err != nil {
			return fmt.Errorf("store: insert checkpoint %d: %w", cp.Slot, err)
		}
	}
	return nil
}

func (s *SQLiteStore) RollbackTo(ctx context.Context, slot uint64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE slot > ?`, slot); err != nil {
			return fmt.Errorf("store: delete checkpoints after %d: %w", slot, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM inputs WHERE created_at_slot > ?`, slot); err != nil {
			return fmt.Errorf("store: delete inputs created after %d: %w", slot, err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE inputs SET spent_at_slot = NULL, spent_at_header_hash = NULL,
				spent_at_tx_index = NULL, spent_at_tx_id = NULL
			WHERE spent_at_slot > ?`, slot); err != nil {
			return fmt.Errorf("store: un-mark inputs spent after %d: %w", slot, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM transaction_metadata WHERE slot > ?`, slot); err != nil {
			return fmt.Errorf("store: delete transaction metadata after %d: %w", slot, err)
		}
		return nil
	})
}

func (s *SQLiteStore) ListCheckpoints(ctx context.Context, limit int) ([]chain.Checkpoint, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.readDB.QueryContext(ctx, `SELECT slot, header_hash FROM checkpoints ORDER BY slot DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list checkpoints: %w", err)
	}
	defer rows.Close()
	var out []chain.Checkpoint
	for rows.Next() {
		var cp chain.Checkpoint
		if err := rows.Scan(&cp.Slot, &cp.HeaderHash); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CheckpointBySlot(ctx context.Context, slot uint64) (chain.Checkpoint, bool, error) {
	row := s.readDB.QueryRowContext(ctx, `SELECT slot, header_hash FROM checkpoints WHERE slot <= ? ORDER BY slot DESC LIMIT 1`, slot)
	var cp chain.Checkpoint
	if err := row.Scan(&cp.Slot, &cp.HeaderHash); err != nil {
		if err == sql.ErrNoRows {
			return chain.Checkpoint{}, false, nil
		}
		return chain.Checkpoint{}, false, err
	}
	return cp, true, nil
}

func (s *SQLiteStore) MostRecentCheckpoint(ctx context.Context) (chain.Checkpoint, bool, error) {
	row := s.readDB.QueryRowContext(ctx, `SELECT slot, header_hash FROM checkpoints ORDER BY slot DESC LIMIT 1`)
	var cp chain.Checkpoint
	if err := row.Scan(&cp.Slot, &cp.HeaderHash); err != nil {
		if err == sql.ErrNoRows {
			return chain.Checkpoint{}, false, nil
		}
		return chain.Checkpoint{}, false, err
	}
	return cp, true, nil
}

func (s *SQLiteStore) InsertInputs(ctx context.Context, results []chain.Result) error {
	return s.withTx(ctx, func(tx *sql.Tx) error { return insertInputsTx(ctx, tx, results) })
}

func insertInputsTx(ctx context.Context, tx *sql.Tx, results []chain.Result) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO inputs (
			transaction_id, output_index, address, value_coins, value_multi_asset,
			datum_hash, script_ref, created_at_slot, created_at_header_hash, created_at_tx_index
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range results {
		assetJSON, err := json.Marshal(r.Value.MultiAsset)
		if err != nil {
			return fmt.Errorf("store: marshal multi-asset for %s#%d: %w", r.TransactionID, r.OutputIndex, err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.TransactionID, r.OutputIndex, r.Address, r.Value.Coins, string(assetJSON),
			nullIfEmpty(r.DatumHash), nullIfEmpty(r.ScriptRef),
			r.CreatedAtSlot, r.CreatedAtHeaderHash, r.CreatedAtTxIndex,
		); err != nil {
			return fmt.Errorf("store: insert input %s#%d: %w", r.TransactionID, r.OutputIndex, err)
		}
	}
	return nil
}

func (s *SQLiteStore) MarkInputsByReference(ctx context.Context, refs []chain.Input, spentAtSlot uint64, spentAtHeaderHash string, spentAtTxIndex uint32, spendingTxID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return markInputsByReferenceTx(ctx, tx, refs, spentAtSlot, spentAtHeaderHash, spentAtTxIndex, spendingTxID)
	})
}

func markInputsByReferenceTx(ctx context.Context, tx *sql.Tx, refs []chain.Input, spentAtSlot uint64, spentAtHeaderHash string, spentAtTxIndex uint32, spendingTxID string) error {
	stmt, err := tx.PrepareContext(ctx, `
		UPDATE inputs SET spent_at_slot = ?, spent_at_header_hash = ?, spent_at_tx_index = ?, spent_at_tx_id = ?
		WHERE transaction_id = ? AND output_index = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, ref := range refs {
		if _, err := stmt.ExecContext(ctx, spentAtSlot, spentAtHeaderHash, spentAtTxIndex, spendingTxID, ref.TransactionID, ref.OutputIndex); err != nil {
			return fmt.Errorf("store: mark spent %s#%d: %w", ref.TransactionID, ref.OutputIndex, err)
		}
	}
	return nil
}

func (s *SQLiteStore) DeleteInputsByReference(ctx context.Context, refs []chain.Input) error {
	return s.withTx(ctx, func(tx *sql.Tx) error { return deleteInputsByReferenceTx(ctx, tx, refs) })
}

func deleteInputsByReferenceTx(ctx context.Context, tx *sql.Tx, refs []chain.Input) error {
	stmt, err := tx.PrepareContext(ctx, `DELETE FROM inputs WHERE transaction_id = ? AND output_index = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, ref := range refs {
		if _, err := stmt.ExecContext(ctx, ref.TransactionID, ref.OutputIndex); err != nil {
			return fmt.Errorf("store: delete spent %s#%d: %w", ref.TransactionID, ref.OutputIndex, err)
		}
	}
	return nil
}

func (s *SQLiteStore) FoldInputs(ctx context.Context, patterns []chain.Pattern, status StatusFlag, sort SortOrder, fn RowFunc) error {
	query := `SELECT transaction_id, output_index, address, value_coins, value_multi_asset,
		datum_hash, script_ref, created_at_slot, created_at_header_hash, created_at_tx_index,
		spent_at_slot, spent_at_header_hash, spent_at_tx_index, spent_at_tx_id FROM inputs`
	switch status {
	case StatusUnspentOnly:
		query += ` WHERE spent_at_slot IS NULL`
	case StatusSpentOnly:
		query += ` WHERE spent_at_slot IS NOT NULL`
	}
	switch sort {
	case SortOldestFirst:
		query += ` ORDER BY created_at_slot ASC, created_at_tx_index ASC, output_index ASC`
	case SortMostRecentFirst:
		query += ` ORDER BY created_at_slot DESC, created_at_tx_index DESC, output_index DESC`
	}

	rows, err := s.readDB.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("store: fold inputs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, assetJSON, err := scanResult(rows)
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(assetJSON), &r.Value.MultiAsset); err != nil {
			return fmt.Errorf("store: unmarshal multi-asset for %s#%d: %w", r.TransactionID, r.OutputIndex, err)
		}
		if !matchesAny(patterns, r) {
			continue
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

func matchesAny(patterns []chain.Pattern, r chain.Result) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if p.Matches(r.Address, r.Value.MultiAsset, r.TransactionID, r.OutputIndex) {
			return true
		}
	}
	return false
}

func (s *SQLiteStore) PruneInputs(ctx context.Context, olderThanSlot uint64) (int64, error) {
	var affected int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM inputs WHERE spent_at_slot IS NOT NULL AND spent_at_slot <= ?`, olderThanSlot)
		if err != nil {
			return fmt.Errorf("store: prune inputs: %w", err)
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

func (s *SQLiteStore) InsertBinaryData(ctx context.Context, data []chain.BinaryData) error {
	return s.withTx(ctx, func(tx *sql.Tx) error { return insertBinaryDataTx(ctx, tx, data) })
}

func insertBinaryDataTx(ctx context.Context, tx *sql.Tx, data []chain.BinaryData) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO binary_data (hash, bytes) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, d := range data {
		if _, err := stmt.ExecContext(ctx, d.Hash, d.Bytes); err != nil {
			return fmt.Errorf("store: insert binary data %s: %w", d.Hash, err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetBinaryData(ctx context.Context, hash string) (chain.BinaryData, bool, error) {
	row := s.readDB.QueryRowContext(ctx, `SELECT hash, bytes FROM binary_data WHERE hash = ?`, hash)
	var d chain.BinaryData
	if err := row.Scan(&d.Hash, &d.Bytes); err != nil {
		if err == sql.ErrNoRows {
			return chain.BinaryData{}, false, nil
		}
		return chain.BinaryData{}, false, err
	}
	return d, true, nil
}

func (s *SQLiteStore) InsertScripts(ctx context.Context, scripts []chain.Script) error {
	return s.withTx(ctx, func(tx *sql.Tx) error { return insertScriptsTx(ctx, tx, scripts) })
}

func insertScriptsTx(ctx context.Context, tx *sql.Tx, scripts []chain.Script) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO scripts (hash, bytes, version) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, sc := range scripts {
		if _, err := stmt.ExecContext(ctx, sc.Hash, sc.Bytes, sc.Version); err != nil {
			return fmt.Errorf("store: insert script %s: %w", sc.Hash, err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetScript(ctx context.Context, hash string) (chain.Script, bool, error) {
	row := s.readDB.QueryRowContext(ctx, `SELECT hash, bytes, version FROM scripts WHERE hash = ?`, hash)
	var sc chain.Script
	if err := row.Scan(&sc.Hash, &sc.Bytes, &sc.Version); err != nil {
		if err == sql.ErrNoRows {
			return chain.Script{}, false, nil
		}
		return chain.Script{}, false, err
	}
	return sc, true, nil
}

func (s *SQLiteStore) PruneBinaryData(ctx context.Context) (int64, error) {
	var affected int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM binary_data WHERE hash NOT IN (SELECT datum_hash FROM inputs WHERE datum_hash IS NOT NULL)`)
		if err != nil {
			return fmt.Errorf("store: prune binary data: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		affected += n

		res, err = tx.ExecContext(ctx, `
			DELETE FROM scripts WHERE hash NOT IN (SELECT script_ref FROM inputs WHERE script_ref IS NOT NULL)`)
		if err != nil {
			return fmt.Errorf("store: prune scripts: %w", err)
		}
		n, err = res.RowsAffected()
		if err != nil {
			return err
		}
		affected += n
		return nil
	})
	return affected, err
}

func (s *SQLiteStore) InsertPatterns(ctx context.Context, patterns []chain.Pattern) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO patterns (text) VALUES (?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range patterns {
			if _, err := stmt.ExecContext(ctx, p.String()); err != nil {
				return fmt.Errorf("store: insert pattern %s: %w", p.String(), err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) DeletePattern(ctx context.Context, pattern chain.Pattern) (int64, error) {
	var affected int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM patterns WHERE text = ?`, pattern.String())
		if err != nil {
			return fmt.Errorf("store: delete pattern %s: %w", pattern.String(), err)
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

func (s *SQLiteStore) ListPatterns(ctx context.Context) ([]chain.Pattern, error) {
	rows, err := s.readDB.QueryContext(ctx, `SELECT text FROM patterns`)
	if err != nil {
		return nil, fmt.Errorf("store: list patterns: %w", err)
	}
	defer rows.Close()
	var out []chain.Pattern
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, err
		}
		p, err := chain.ParsePattern(text)
		if err != nil {
			return nil, fmt.Errorf("store: stored pattern %q no longer parses: %w", text, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertTransactionMetadata(ctx context.Context, entries []chain.TransactionMetadata) error {
	return s.withTx(ctx, func(tx *sql.Tx) error { return insertTransactionMetadataTx(ctx, tx, entries) })
}

func insertTransactionMetadataTx(ctx context.Context, tx *sql.Tx, entries []chain.TransactionMetadata) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO transaction_metadata (slot, header_hash, transaction_id, bytes)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, m := range entries {
		if _, err := stmt.ExecContext(ctx, m.Slot, m.HeaderHash, m.TransactionID, m.Bytes); err != nil {
			return fmt.Errorf("store: insert transaction metadata %s: %w", m.TransactionID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) MetadataNearestAncestor(ctx context.Context, slot uint64) (chain.Checkpoint, bool, error) {
	return s.CheckpointBySlot(ctx, slot)
}

func (s *SQLiteStore) TransactionMetadataByHeaderHash(ctx context.Context, headerHash string, transactionID string) ([]chain.TransactionMetadata, error) {
	query := `SELECT slot, header_hash, transaction_id, bytes FROM transaction_metadata WHERE header_hash = ?`
	args := []any{headerHash}
	if transactionID != "" {
		query += ` AND transaction_id = ?`
		args = append(args, transactionID)
	}
	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: transaction metadata for block %s: %w", headerHash, err)
	}
	defer rows.Close()
	var out []chain.TransactionMetadata
	for rows.Next() {
		var m chain.TransactionMetadata
		if err := rows.Scan(&m.Slot, &m.HeaderHash, &m.TransactionID, &m.Bytes); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// WithTx runs fn against a single *sql.Tx, committing iff fn returns
// nil. Used by the consumer to apply a whole RollForward batch
// (checkpoints, inputs, spends, binary data, metadata) as one write.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(&sqliteTx{ctx: ctx, tx: tx})
	})
}

// sqliteTx adapts a *sql.Tx to the Tx interface, delegating to the same
// unexported SQL helpers the per-method SQLiteStore functions use so the
// batched and standalone write paths never drift apart.
type sqliteTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *sqliteTx) InsertCheckpoints(_ context.Context, checkpoints []chain.Checkpoint) error {
	return insertCheckpointsTx(t.ctx, t.tx, checkpoints)
}

func (t *sqliteTx) InsertInputs(_ context.Context, results []chain.Result) error {
	return insertInputsTx(t.ctx, t.tx, results)
}

func (t *sqliteTx) MarkInputsByReference(_ context.Context, refs []chain.Input, spentAtSlot uint64, spentAtHeaderHash string, spentAtTxIndex uint32, spendingTxID string) error {
	return markInputsByReferenceTx(t.ctx, t.tx, refs, spentAtSlot, spentAtHeaderHash, spentAtTxIndex, spendingTxID)
}

func (t *sqliteTx) DeleteInputsByReference(_ context.Context, refs []chain.Input) error {
	return deleteInputsByReferenceTx(t.ctx, t.tx, refs)
}

func (t *sqliteTx) InsertBinaryData(_ context.Context, data []chain.BinaryData) error {
	return insertBinaryDataTx(t.ctx, t.tx, data)
}

func (t *sqliteTx) InsertScripts(_ context.Context, scripts []chain.Script) error {
	return insertScriptsTx(t.ctx, t.tx, scripts)
}

func (t *sqliteTx) InsertTransactionMetadata(_ context.Context, entries []chain.TransactionMetadata) error {
	return insertTransactionMetadataTx(t.ctx, t.tx, entries)
}

func scanResult(rows *sql.Rows) (chain.Result, string, error) {
	var r chain.Result
	var assetJSON string
	var datumHash, scriptRef, spentHeaderHash, spentTxID sql.NullString
	var spentSlot sql.NullInt64
	var spentTxIndex sql.NullInt64

	if err := rows.Scan(
		&r.TransactionID, &r.OutputIndex, &r.Address, &r.Value.Coins, &assetJSON,
		&datumHash, &scriptRef, &r.CreatedAtSlot, &r.CreatedAtHeaderHash, &r.CreatedAtTxIndex,
		&spentSlot, &spentHeaderHash, &spentTxIndex, &spentTxID,
	); err != nil {
		return chain.Result{}, "", fmt.Errorf("store: scan input row: %w", err)
	}

	r.DatumHash = datumHash.String
	r.ScriptRef = scriptRef.String
	if spentSlot.Valid {
		slot := uint64(spentSlot.Int64)
		r.SpentAtSlot = &slot
		r.SpentAtHeaderHash = spentHeaderHash.String
		r.SpentAtTxID = spentTxID.String
		if spentTxIndex.Valid {
			ix := uint32(spentTxIndex.Int64)
			r.SpentAtTxIndex = &ix
		}
	}
	return r, assetJSON, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
