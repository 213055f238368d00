package logging

import (
	"database/sql"
	"fmt"
	"time"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS decision_log (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	rev            INTEGER NOT NULL,
	norm_hash      TEXT,
	trigger_type   TEXT NOT NULL,
	trace_entry_id TEXT,
	rule           TEXT,
	code           TEXT,
	detail_json    TEXT,
	decision       TEXT NOT NULL,
	reason         TEXT,
	created_at     TEXT NOT NULL
);
`

// Migrate creates the decision_log table on db.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate decision log: %w", err)
	}
	return nil
}
// #endregion schema

// #region log-decision
// LogDecision writes a decision entry to the decision_log table.
func LogDecision(db *sql.DB, entry DecisionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO decision_log (rev, norm_hash, trigger_type, trace_entry_id, rule, code, detail_json, decision, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Rev,
		nullIfEmpty(entry.NormHash),
		entry.TriggerType,
		nullIfEmpty(entry.TraceEntryID),
		nullIfEmpty(entry.Rule),
		nullIfEmpty(entry.Code),
		nullIfEmpty(entry.DetailJSON),
		entry.Decision,
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}
// #endregion log-decision

// #region recent
// RecentDecisions returns up to limit entries, newest first.
func RecentDecisions(db *sql.DB, limit int) ([]DecisionEntry, error) {
	rows, err := db.Query(
		`SELECT rev, norm_hash, trigger_type, trace_entry_id, rule, code, detail_json, decision, reason, created_at
		 FROM decision_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionEntry
	for rows.Next() {
		var e DecisionEntry
		var normHash, traceID, rule, code, detail, reason sql.NullString
		var created string
		if err := rows.Scan(&e.Rev, &normHash, &e.TriggerType, &traceID, &rule, &code, &detail, &e.Decision, &reason, &created); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		e.NormHash = normHash.String
		e.TraceEntryID = traceID.String
		e.Rule = rule.String
		e.Code = code.String
		e.DetailJSON = detail.String
		e.Reason = reason.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}
// #endregion recent

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers
