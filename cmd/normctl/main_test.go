package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

const rulesYAML = `rules:
  - id: R2
    type: OBLIGATION
    condition: {op: "TRUE"}
    effect: {obligation_target: DEPOSIT@ZoneB}
    priority: 5
  - id: R4
    type: PERMISSION
    condition: {op: "TRUE"}
    effect: {action_class: MOVE}
  - id: R5
    type: PERMISSION
    condition: {op: EQ, args: [zone, A]}
    effect: {action_class: DEPOSIT}
`

const oracleYAML = `oracle:
  - {target: DEPOSIT@ZoneB, actions: [DEPOSIT]}
`

// #region helpers

type workspace struct {
	dir string
	db  string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("NORMKERNEL_DB", "")
	t.Setenv("NORMKERNEL_LOG_LEVEL", "error")
	return workspace{dir: dir, db: filepath.Join(dir, "ledger.db")}
}

func (w workspace) write(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(w.dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func (w workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--db", w.db}, args...))
	err := root.Execute()
	return out.String(), err
}

func (w workspace) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := w.run(t, args...)
	if err != nil {
		t.Fatalf("normctl %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func (w workspace) initialized(t *testing.T) workspace {
	t.Helper()
	w.mustRun(t, "init", "--rules", w.write(t, "rules.yaml", rulesYAML))
	return w
}

// #endregion helpers

// #region ledger-commands

func TestInitWritesGenesisOnce(t *testing.T) {
	w := newWorkspace(t)
	rules := w.write(t, "rules.yaml", rulesYAML)

	out := w.mustRun(t, "init", "--rules", rules)
	if !strings.Contains(out, "rev 0") {
		t.Errorf("expected genesis rev in output, got %q", out)
	}
	if _, err := w.run(t, "init", "--rules", rules); err == nil {
		t.Error("a second init must fail")
	}
}

func TestCommandsRequireInit(t *testing.T) {
	w := newWorkspace(t)
	_, err := w.run(t, "history")
	if err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Fatalf("expected not-initialized error, got %v", err)
	}
}

func TestPatchThenHistory(t *testing.T) {
	w := newWorkspace(t).initialized(t)
	patch := w.write(t, "patch.json", `{"ops": [{"op": "ADD", "new_rule": {"id": "R3", "type": "PERMISSION", "condition": {"op": "EQ", "args": ["zone", "B"]}, "effect": {"action_class": "COLLECT"}}}]}`)

	out := w.mustRun(t, "patch", "--file", patch)
	if !strings.HasPrefix(out, "commit: rev 1") {
		t.Errorf("unexpected patch output %q", out)
	}

	var rows []historyRow
	if err := json.Unmarshal([]byte(w.mustRun(t, "history", "--json")), &rows); err != nil {
		t.Fatalf("history json: %v", err)
	}
	if len(rows) != 2 || rows[1].Rev != 1 || rows[1].Rules != 4 {
		t.Fatalf("unexpected history %+v", rows)
	}
	if rows[1].RepairEpoch != "" {
		t.Error("an ordinary patch must not set a repair epoch")
	}

	if _, err := w.run(t, "patch", "--file", w.write(t, "stale.yaml", "parent_rev: 0\nops:\n  - op: REMOVE\n    target_rule_id: R3\n")); err == nil {
		t.Error("a patch against a stale parent must fail")
	}

	tail := w.mustRun(t, "history", "--last", "1")
	if strings.Count(tail, "\n") != 5 {
		t.Errorf("expected header, rule, one row and footer, got:\n%s", tail)
	}
}

func TestDecisionsListGenesisAndPatch(t *testing.T) {
	w := newWorkspace(t).initialized(t)
	w.mustRun(t, "patch", "--file", w.write(t, "patch.yaml", "ops:\n  - op: REMOVE\n    target_rule_id: R4\n"))

	out := w.mustRun(t, "decisions", "--json")
	var entries []struct {
		Rev         int
		TriggerType string
		Decision    string
	}
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decisions json: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(entries))
	}
	if entries[0].TriggerType != "patch" || entries[1].TriggerType != "genesis" {
		t.Errorf("expected newest first, got %+v", entries)
	}
}

func TestVerifyPassesThenDetectsTampering(t *testing.T) {
	w := newWorkspace(t).initialized(t)
	out := w.mustRun(t, "verify")
	if !strings.Contains(out, "ok: 1 revision(s)") {
		t.Errorf("unexpected verify output %q", out)
	}

	db, err := sql.Open("sqlite", w.db)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`UPDATE norm_revisions SET rules_json = '[]' WHERE rev = 0`); err != nil {
		t.Fatal(err)
	}
	db.Close()

	out, err = w.run(t, "verify")
	if err == nil {
		t.Fatal("expected verify to fail on a tampered history")
	}
	if !strings.Contains(out, "FAIL  norm_hash") {
		t.Errorf("expected the norm_hash check to fail, got:\n%s", out)
	}
}

// #endregion ledger-commands

// #region mask-and-replay

func TestMaskRecordsContradiction(t *testing.T) {
	w := newWorkspace(t).initialized(t)
	oracle := w.write(t, "oracle.yaml", oracleYAML)

	out := w.mustRun(t, "mask", "--obs", w.write(t, "obs-a.json", `{"episode": 1, "fields": {"zone": "A"}}`), "--oracle", oracle, "--json")
	var got maskOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("mask json: %v", err)
	}
	if got.Contradiction != nil || len(got.Mask.Feasible) != 1 || got.Mask.Feasible[0] != "DEPOSIT" {
		t.Fatalf("expected DEPOSIT feasible in zone A, got %+v", got)
	}

	out = w.mustRun(t, "mask", "--obs", w.write(t, "obs-b.yaml", "episode: 1\nfields: {zone: B}\n"), "--oracle", oracle)
	if !strings.Contains(out, "contradiction ") || !strings.Contains(out, "AWAITING_REPAIR") {
		t.Fatalf("expected a contradiction in zone B, got:\n%s", out)
	}

	out = w.mustRun(t, "verify")
	if !strings.Contains(out, "1 entries") {
		t.Errorf("expected the contradiction in the trace log, got:\n%s", out)
	}
}

func TestMaskRejectsBothOracleSources(t *testing.T) {
	w := newWorkspace(t).initialized(t)
	_, err := w.run(t, "mask",
		"--obs", w.write(t, "obs.json", `{"episode": 1}`),
		"--oracle", w.write(t, "oracle.yaml", oracleYAML),
		"--env-addr", "localhost:1")
	if err == nil {
		t.Fatal("expected --oracle with --env-addr to fail")
	}
}

func TestReplayFixtures(t *testing.T) {
	w := newWorkspace(t)
	dir := filepath.Join("..", "..", "internal", "replay", "testdata")
	out := w.mustRun(t, "replay", filepath.Join(dir, "scenario.yaml"), filepath.Join(dir, "stacking.json"))
	if strings.Count(out, "PASS") != 2 {
		t.Errorf("expected both fixtures to pass, got:\n%s", out)
	}
}

func TestReplayReportsFailure(t *testing.T) {
	w := newWorkspace(t)
	fixture := w.write(t, "wrong.yaml", rulesYAML+oracleYAML+`steps:
  - id: expects-move
    obs: {episode: 1, fields: {zone: A}}
    expect: {feasible: [MOVE]}
`)
	out, err := w.run(t, "replay", fixture)
	if err == nil {
		t.Fatal("expected a failing fixture to fail the command")
	}
	if !strings.Contains(out, "expects-move: feasible") {
		t.Errorf("expected the mismatch to be printed, got:\n%s", out)
	}
}

// #endregion mask-and-replay
