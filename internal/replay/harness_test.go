package replay

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/macterra/Axio-sub017/internal/kernel"
	"github.com/macterra/Axio-sub017/internal/mask"
	"github.com/macterra/Axio-sub017/internal/norm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// #region helpers

func load(t *testing.T, name string) *Fixture {
	t.Helper()
	f, err := LoadFixture(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("LoadFixture(%s): %v", name, err)
	}
	return f
}

func replay(t *testing.T, f *Fixture) Run {
	t.Helper()
	r, err := Replay(context.Background(), f, Options{})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	return r
}

func requirePassed(t *testing.T, r Run) {
	t.Helper()
	for _, s := range r.Steps {
		for _, m := range s.Mismatches {
			t.Errorf("step %s: %s", s.StepID, m)
		}
	}
	if !r.Verified.Passed {
		t.Errorf("history does not verify: %s", r.Verified.Reason)
	}
}

func minimal() *Fixture {
	return &Fixture{
		Description: "minimal",
		Rules: []norm.Rule{
			{ID: "R2", Type: norm.Obligation, Condition: norm.True(), Effect: norm.Effect{ObligationTarget: "DEPOSIT@ZoneB"}, Priority: 5},
			{ID: "R5", Type: norm.Permission, Condition: norm.True(), Effect: norm.Effect{ActionClass: "DEPOSIT"}},
		},
		Oracle: mask.TableOracle{{Target: "DEPOSIT@ZoneB", Actions: []string{"DEPOSIT"}}},
		Steps: []FixtureStep{{
			ID:     "deposit",
			Obs:    norm.Observation{Episode: 1, Fields: map[string]any{"zone": "B"}},
			Expect: FixtureExpect{Status: kernel.StatusRunning, Feasible: []string{"DEPOSIT"}},
		}},
	}
}

// #endregion helpers

// #region fixture-tests

func TestScenarioFixture(t *testing.T) {
	r := replay(t, load(t, "scenario.yaml"))
	requirePassed(t, r)

	if len(r.Links) != 1 {
		t.Fatalf("expected 1 epoch link, got %d", len(r.Links))
	}
	if r.Final.RepairEpoch != r.Links[0].Epoch {
		t.Error("final revision should carry the accepted repair's epoch")
	}

	got := Summarize(r)
	want := Summary{
		TotalSteps:     6,
		Passed:         6,
		Contradictions: 2,
		Repairs:        1,
		Halted:         true,
		FinalRev:       1,
	}
	if d := cmp.Diff(want, got); d != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", d)
	}
}

func TestStackingFixture(t *testing.T) {
	r := replay(t, load(t, "stacking.json"))
	requirePassed(t, r)

	got := Summarize(r)
	if got.Repairs != 1 || got.Rejections != 2 || !got.Halted {
		t.Errorf("unexpected summary: %+v", got)
	}
	if r.Steps[3].Decision != "reject" {
		t.Errorf("expected the stacked repair to be rejected, got %q", r.Steps[3].Decision)
	}
}

func TestMismatchIsReportedNotReturned(t *testing.T) {
	f := minimal()
	f.Steps[0].Expect.Feasible = []string{"MOVE"}
	f.Steps[0].Expect.Binding = "R9"

	r := replay(t, f)
	if r.Passed() {
		t.Fatal("expected the run to fail")
	}
	if n := len(r.Steps[0].Mismatches); n != 2 {
		t.Fatalf("expected 2 mismatches, got %d: %v", n, r.Steps[0].Mismatches)
	}
	if !strings.HasPrefix(r.Steps[0].Mismatches[0], "binding") {
		t.Errorf("binding mismatch should be listed first, got %q", r.Steps[0].Mismatches[0])
	}
}

func TestUnexpectedErrorCodeIsAMismatch(t *testing.T) {
	f := minimal()
	f.Steps[0].Justification = &norm.Justification{ActionID: "MOVE", RuleRefs: []string{"R2"}}

	r := replay(t, f)
	s := r.Steps[0]
	if s.Code != "ACTION_NOT_FEASIBLE" {
		t.Errorf("expected ACTION_NOT_FEASIBLE, got %q (%s)", s.Code, s.Err)
	}
	if s.Passed() {
		t.Error("an unexpected error code should fail the step")
	}
}

func TestPatchStep(t *testing.T) {
	f := minimal()
	rev := 1
	f.Steps = append(f.Steps, FixtureStep{
		ID: "add-collect",
		Patch: []norm.NormPatch{{Op: norm.OpAdd, NewRule: &norm.Rule{
			ID: "R3", Type: norm.Permission, Condition: norm.Eq("zone", "B"), Effect: norm.Effect{ActionClass: "COLLECT"},
		}}},
		Expect: FixtureExpect{Status: kernel.StatusRunning, Rev: &rev},
	})

	r := replay(t, f)
	requirePassed(t, r)
	if got := Summarize(r).Patches; got != 1 {
		t.Errorf("expected 1 patch, got %d", got)
	}
	if !r.Final.RepairEpoch.IsZero() {
		t.Error("an ordinary patch must not move the repair epoch")
	}
}

func TestBadGenesisIsAnError(t *testing.T) {
	f := minimal()
	f.Rules = append(f.Rules, f.Rules[0])
	if _, err := Replay(context.Background(), f, Options{}); err == nil {
		t.Fatal("expected duplicate rule ids to fail genesis")
	}
}

func TestBadEpochInFixtureIsAnError(t *testing.T) {
	f := minimal()
	f.Steps[0].EnvEpoch = "not-hex"
	if _, err := Replay(context.Background(), f, Options{}); err == nil {
		t.Fatal("expected a malformed env epoch to fail the replay")
	}
}

// #endregion fixture-tests

// #region load-tests

func TestLoadFixtureRejectsEmptyRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	if err := os.WriteFile(path, []byte(`{"description": "none", "rules": []}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFixture(path); err == nil {
		t.Fatal("expected an error for a fixture without rules")
	}
}

func TestYAMLAndJSONDecodeToTheSameLaw(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "law.yml")
	jsonPath := filepath.Join(dir, "law.json")
	yamlDoc := "rules:\n  - id: R5\n    type: PERMISSION\n    condition: {op: OR, args: [{op: EQ, args: [zone, A]}, {op: GT, args: [load, 2]}]}\n    effect: {action_class: DEPOSIT}\n"
	jsonDoc := `{"rules": [{"id": "R5", "type": "PERMISSION", "condition": {"op": "OR", "args": [{"op": "EQ", "args": ["zone", "A"]}, {"op": "GT", "args": ["load", 2]}]}, "effect": {"action_class": "DEPOSIT"}}]}`
	if err := os.WriteFile(yamlPath, []byte(yamlDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(jsonPath, []byte(jsonDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	y, err := LoadFixture(yamlPath)
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	j, err := LoadFixture(jsonPath)
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	hy, err := norm.NormHash(y.Rules)
	if err != nil {
		t.Fatal(err)
	}
	hj, err := norm.NormHash(j.Rules)
	if err != nil {
		t.Fatal(err)
	}
	if hy != hj {
		t.Errorf("norm hash differs across formats: %s vs %s", hy.Short(), hj.Short())
	}
}

// #endregion load-tests

// #region run-all-tests

func TestRunAllKeepsInputOrder(t *testing.T) {
	fixtures := []*Fixture{load(t, "stacking.json"), load(t, "scenario.yaml"), minimal()}
	runs, err := RunAll(context.Background(), fixtures, Options{Parallel: 2})
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if len(runs) != len(fixtures) {
		t.Fatalf("expected %d runs, got %d", len(fixtures), len(runs))
	}
	for i, r := range runs {
		if r.Description != fixtures[i].Description {
			t.Errorf("run %d: expected %q, got %q", i, fixtures[i].Description, r.Description)
		}
		if !r.Passed() {
			t.Errorf("run %d (%s) failed", i, r.Path)
		}
	}
}

func TestRunAllMatchesSerialReplay(t *testing.T) {
	f := load(t, "scenario.yaml")
	serial := replay(t, f)
	runs, err := RunAll(context.Background(), []*Fixture{f, f, f}, Options{})
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	for i, r := range runs {
		if r.Final.LedgerRoot != serial.Final.LedgerRoot || r.Final.RepairEpoch != serial.Final.RepairEpoch {
			t.Errorf("run %d diverged from the serial replay", i)
		}
	}
}

func TestRunAllStopsOnFixtureError(t *testing.T) {
	bad := minimal()
	bad.Rules = append(bad.Rules, bad.Rules[1])
	_, err := RunAll(context.Background(), []*Fixture{minimal(), bad}, Options{})
	if err == nil {
		t.Fatal("expected an error from the malformed fixture")
	}
}

func TestReplayHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Replay(ctx, minimal(), Options{}); err == nil {
		t.Fatal("expected a cancelled context to stop the replay")
	}
}

// #endregion run-all-tests
