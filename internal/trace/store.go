package trace

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/macterra/Axio-sub017/internal/norm"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS trace_entries (
	id            TEXT PRIMARY KEY,
	seq           INTEGER NOT NULL UNIQUE,
	kind          TEXT NOT NULL,
	step          INTEGER NOT NULL,
	episode       INTEGER NOT NULL,
	regime        INTEGER NOT NULL,
	norm_hash     TEXT NOT NULL,
	rev           INTEGER NOT NULL,
	entry_json    TEXT NOT NULL,
	created_at    TEXT NOT NULL
);
`
// #endregion schema

// #region store
// Store persists trace entries in SQLite alongside the ledger.
type Store struct {
	db *sql.DB
}

// NewStore migrates the trace table on db.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate trace: %w", err)
	}
	return &Store{db: db}, nil
}
// #endregion store

// #region insert
// Insert writes one entry at sequence position seq.
func (s *Store) Insert(e norm.TraceEntry, seq int) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal trace entry: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO trace_entries (id, seq, kind, step, episode, regime, norm_hash, rev, entry_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, seq, string(e.Kind), e.Step, e.Episode, e.Regime, e.NormHash.Hex(), e.Rev,
		string(raw), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert trace entry: %w", err)
	}
	return nil
}
// #endregion insert

// #region all
// All returns every stored entry in sequence order.
func (s *Store) All() ([]norm.TraceEntry, error) {
	rows, err := s.db.Query(`SELECT entry_json FROM trace_entries ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query trace: %w", err)
	}
	defer rows.Close()

	var out []norm.TraceEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		var e norm.TraceEntry
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("decode trace entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
// #endregion all
