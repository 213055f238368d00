package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/macterra/Axio-sub017/internal/canon"
	"github.com/macterra/Axio-sub017/internal/epoch"
	"github.com/macterra/Axio-sub017/internal/norm"
)

// #region store-schema
const storeSchema = `
CREATE TABLE IF NOT EXISTS norm_revisions (
	rev             INTEGER PRIMARY KEY,
	parent_rev      INTEGER,
	norm_hash       TEXT NOT NULL,
	last_patch_hash TEXT NOT NULL,
	ledger_root     TEXT NOT NULL,
	repair_epoch    TEXT,
	rules_json      TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	FOREIGN KEY (parent_rev) REFERENCES norm_revisions(rev)
);

CREATE TABLE IF NOT EXISTS epoch_links (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	rev           INTEGER NOT NULL UNIQUE,
	parent        TEXT NOT NULL,
	fingerprint   TEXT NOT NULL,
	nonce         BLOB NOT NULL,
	epoch         TEXT NOT NULL,
	regime        INTEGER NOT NULL,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (rev) REFERENCES norm_revisions(rev)
);

CREATE TABLE IF NOT EXISTS active_revision (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	rev           INTEGER NOT NULL,
	FOREIGN KEY (rev) REFERENCES norm_revisions(rev)
);
`
// #endregion store-schema

// #region store-struct
// Store persists the revision history and the repair-epoch links in SQLite.
type Store struct {
	db *sql.DB
}
// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(storeSchema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}
// #endregion constructor

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for the trace and decision logs.
func (s *Store) DB() *sql.DB {
	return s.db
}

// #region initialized
// Initialized reports whether a genesis revision has been written.
func (s *Store) Initialized() (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM active_revision`).Scan(&n); err != nil {
		return false, fmt.Errorf("check active: %w", err)
	}
	return n > 0, nil
}
// #endregion initialized

// #region commit
// Commit inserts a revision, its epoch link if any, and moves the active
// pointer, all in one transaction. Genesis is the revision with rev 0.
func (s *Store) Commit(rev norm.NormState, link *epoch.Link) error {
	rulesJSON, err := json.Marshal(rev.Rules)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var parentPtr interface{}
	if rev.Rev > 0 {
		parentPtr = rev.Rev - 1
	}

	_, err = tx.Exec(
		`INSERT INTO norm_revisions (rev, parent_rev, norm_hash, last_patch_hash, ledger_root, repair_epoch, rules_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rev.Rev, parentPtr, rev.NormHash.Hex(), rev.LastPatchHash.Hex(), rev.LedgerRoot.Hex(),
		nullIfZero(rev.RepairEpoch), string(rulesJSON), now,
	)
	if err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}

	if link != nil {
		_, err = tx.Exec(
			`INSERT INTO epoch_links (rev, parent, fingerprint, nonce, epoch, regime, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			link.Rev, link.Parent.Hex(), link.Fingerprint.Hex(), link.Nonce, link.Epoch.Hex(), link.Regime, now,
		)
		if err != nil {
			return fmt.Errorf("insert epoch link: %w", err)
		}
	}

	_, err = tx.Exec(
		`INSERT INTO active_revision (id, rev) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET rev = excluded.rev`,
		rev.Rev,
	)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}

	return tx.Commit()
}
// #endregion commit

// #region active
// Active returns the active revision number.
func (s *Store) Active() (int, error) {
	var rev int
	if err := s.db.QueryRow(`SELECT rev FROM active_revision WHERE id = 1`).Scan(&rev); err != nil {
		return 0, fmt.Errorf("get active: %w", err)
	}
	return rev, nil
}
// #endregion active

// #region revisions
// Revisions returns every stored revision in rev order.
func (s *Store) Revisions() ([]norm.NormState, error) {
	rows, err := s.db.Query(
		`SELECT rev, norm_hash, last_patch_hash, ledger_root, repair_epoch, rules_json
		 FROM norm_revisions ORDER BY rev ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	var out []norm.NormState
	for rows.Next() {
		var st norm.NormState
		var normHash, patchHash, root, rulesJSON string
		var repairEpoch sql.NullString
		if err := rows.Scan(&st.Rev, &normHash, &patchHash, &root, &repairEpoch, &rulesJSON); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		if st.NormHash, err = canon.ParseDigest(normHash); err != nil {
			return nil, fmt.Errorf("rev %d norm_hash: %w", st.Rev, err)
		}
		if st.LastPatchHash, err = canon.ParseDigest(patchHash); err != nil {
			return nil, fmt.Errorf("rev %d last_patch_hash: %w", st.Rev, err)
		}
		if st.LedgerRoot, err = canon.ParseDigest(root); err != nil {
			return nil, fmt.Errorf("rev %d ledger_root: %w", st.Rev, err)
		}
		if repairEpoch.Valid {
			if st.RepairEpoch, err = canon.ParseDigest(repairEpoch.String); err != nil {
				return nil, fmt.Errorf("rev %d repair_epoch: %w", st.Rev, err)
			}
		}
		if err := json.Unmarshal([]byte(rulesJSON), &st.Rules); err != nil {
			return nil, fmt.Errorf("unmarshal rules: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
// #endregion revisions

// #region links
// Links returns every epoch link in commit order.
func (s *Store) Links() ([]epoch.Link, error) {
	rows, err := s.db.Query(
		`SELECT rev, parent, fingerprint, nonce, epoch, regime FROM epoch_links ORDER BY seq ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list epoch links: %w", err)
	}
	defer rows.Close()

	var out []epoch.Link
	for rows.Next() {
		var l epoch.Link
		var parent, fp, e string
		if err := rows.Scan(&l.Rev, &parent, &fp, &l.Nonce, &e, &l.Regime); err != nil {
			return nil, fmt.Errorf("scan epoch link: %w", err)
		}
		if l.Parent, err = canon.ParseDigest(parent); err != nil {
			return nil, fmt.Errorf("link rev %d parent: %w", l.Rev, err)
		}
		if l.Fingerprint, err = canon.ParseDigest(fp); err != nil {
			return nil, fmt.Errorf("link rev %d fingerprint: %w", l.Rev, err)
		}
		if l.Epoch, err = canon.ParseDigest(e); err != nil {
			return nil, fmt.Errorf("link rev %d epoch: %w", l.Rev, err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
// #endregion links

func nullIfZero(d canon.Digest) interface{} {
	if d.IsZero() {
		return nil
	}
	return d.Hex()
}
