// Package replay drives recorded runs through an in-memory kernel and
// checks every step against its expected outcome.
package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/macterra/Axio-sub017/internal/compiler"
	"github.com/macterra/Axio-sub017/internal/epoch"
	"github.com/macterra/Axio-sub017/internal/gate"
	"github.com/macterra/Axio-sub017/internal/kernel"
	"github.com/macterra/Axio-sub017/internal/ledger"
	"github.com/macterra/Axio-sub017/internal/mask"
	"github.com/macterra/Axio-sub017/internal/norm"
	"github.com/macterra/Axio-sub017/internal/verify"
)

// #region types

// Options tunes a replay. The zero value replays serially and discards logs.
type Options struct {
	Logger *zap.Logger
	// Parallel bounds how many fixtures RunAll replays at once; <= 0 means
	// no bound.
	Parallel int
}

// StepOutcome captures what one fixture step produced and how it differed
// from what was expected.
type StepOutcome struct {
	StepID        string        `json:"step_id"`
	Kind          string        `json:"kind"` // "evaluate" | "repair" | "patch"
	Status        kernel.Status `json:"status"`
	Rev           int           `json:"rev"`
	Binding       string        `json:"binding,omitempty"`
	Feasible      []string      `json:"feasible"`
	Contradiction bool          `json:"contradiction"`
	Decision      string        `json:"decision,omitempty"` // gate or patch action
	Code          string        `json:"code,omitempty"`
	Err           string        `json:"error,omitempty"`
	Mismatches    []string      `json:"mismatches,omitempty"`
}

// Passed reports whether the step matched every expectation.
func (o StepOutcome) Passed() bool { return len(o.Mismatches) == 0 }

// Run is the result of replaying one fixture.
type Run struct {
	Description string         `json:"description"`
	Path        string         `json:"path,omitempty"`
	Steps       []StepOutcome  `json:"steps"`
	Final       norm.NormState `json:"final"`
	Links       []epoch.Link   `json:"links"`
	Verified    verify.Report  `json:"verified"`
}

// Passed reports whether every step matched and the resulting ledger
// history verifies.
func (r Run) Passed() bool {
	for _, s := range r.Steps {
		if !s.Passed() {
			return false
		}
	}
	return r.Verified.Passed
}

// Summary provides aggregate counts from one run.
type Summary struct {
	TotalSteps     int
	Passed         int
	Failed         int
	Contradictions int
	Repairs        int
	Rejections     int
	Patches        int
	Halted         bool
	FinalRev       int
}

// #endregion types

// #region replay

// Replay runs f against a fresh in-memory ledger. It returns an error only
// when the fixture itself is unusable; step mismatches are reported in
// the Run.
func Replay(ctx context.Context, f *Fixture, opts Options) (Run, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	run := Run{Description: f.Description, Path: f.Path}

	l, err := ledger.New(f.Rules, ledger.WithLogger(logger))
	if err != nil {
		return run, fmt.Errorf("genesis: %w", err)
	}
	k := kernel.New(l, compiler.New(), f.Config.KernelConfig(), kernel.WithLogger(logger))

	for i, s := range f.Steps {
		if err := ctx.Err(); err != nil {
			return run, err
		}
		if s.ID == "" {
			s.ID = fmt.Sprintf("step-%d", i+1)
		}
		out, err := step(k, f, s)
		if err != nil {
			return run, fmt.Errorf("step %s: %w", s.ID, err)
		}
		out.Mismatches = check(s.Expect, out)
		if !out.Passed() {
			logger.Info("replay mismatch", zap.String("step", s.ID), zap.Strings("mismatches", out.Mismatches))
		}
		run.Steps = append(run.Steps, out)
	}

	run.Final = l.Current()
	run.Links = l.Links()
	run.Verified = verify.History(l.History(), run.Links)
	return run, nil
}

// step submits one fixture step to k. Only malformed fixture data is
// returned as an error.
func step(k *kernel.Kernel, f *Fixture, s FixtureStep) (StepOutcome, error) {
	out := StepOutcome{StepID: s.ID, Kind: "evaluate"}
	live := k.Ledger().Current().RepairEpoch

	if len(s.Patch) > 0 {
		out.Kind = "patch"
		_, res, err := k.ApplyPatch(k.Ledger().Current().Rev, s.Patch)
		out.Decision = res.Decision.Action
		finish(&out, k, err)
		return out, nil
	}

	in := kernel.StepInput{
		Obs:           s.Obs,
		Justification: s.Justification,
		Oracle:        f.Oracle,
		Inventory:     mask.Inventory(f.Inventory),
		Nonce:         []byte(s.Nonce),
	}
	env, err := resolveEpoch(s.EnvEpoch, live)
	if err != nil {
		return out, fmt.Errorf("env epoch: %w", err)
	}
	in.EnvRepairEpoch = env

	if s.Repair != nil {
		out.Kind = "repair"
		pending, _ := k.Pending()
		a, err := s.Repair.Action(pending, live)
		if err != nil {
			return out, err
		}
		in.Repair = &a
	}

	res, err := k.Step(in)
	out.Binding = res.Mask.Binding
	out.Feasible = res.Mask.Feasible
	out.Contradiction = res.Entry != nil
	if res.Decision != nil {
		out.Decision = res.Decision.Action
	}
	finish(&out, k, err)
	return out, nil
}

func finish(out *StepOutcome, k *kernel.Kernel, err error) {
	out.Status = k.Status()
	out.Rev = k.Ledger().Current().Rev
	if err != nil {
		out.Err = err.Error()
		out.Code = codeOf(err)
	}
}

func codeOf(err error) string {
	if c := norm.Code(err); c != "" {
		return c
	}
	for _, s := range []error{gate.ErrEnvironmentFault, kernel.ErrNotRunning} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "ERROR"
}

func check(want FixtureExpect, got StepOutcome) []string {
	var diffs []string
	if want.Code != got.Code {
		diffs = append(diffs, fmt.Sprintf("code: want %q, got %q (%s)", want.Code, got.Code, got.Err))
	}
	if want.Status != "" && want.Status != got.Status {
		diffs = append(diffs, fmt.Sprintf("status: want %s, got %s", want.Status, got.Status))
	}
	if want.Binding != "" && want.Binding != got.Binding {
		diffs = append(diffs, fmt.Sprintf("binding: want %q, got %q", want.Binding, got.Binding))
	}
	if want.Contradiction != nil && *want.Contradiction != got.Contradiction {
		diffs = append(diffs, fmt.Sprintf("contradiction: want %t, got %t", *want.Contradiction, got.Contradiction))
	}
	if want.Rev != nil && *want.Rev != got.Rev {
		diffs = append(diffs, fmt.Sprintf("rev: want %d, got %d", *want.Rev, got.Rev))
	}
	if want.Feasible != nil {
		if d := cmp.Diff(want.Feasible, got.Feasible, cmpopts.EquateEmpty()); d != "" {
			diffs = append(diffs, "feasible (-want +got):\n"+d)
		}
	}
	return diffs
}

// #endregion replay

// #region run-all

// RunAll replays independent fixtures concurrently. Results are returned
// in input order. The first fixture error cancels the rest.
func RunAll(ctx context.Context, fixtures []*Fixture, opts Options) ([]Run, error) {
	runs := make([]Run, len(fixtures))
	g, ctx := errgroup.WithContext(ctx)
	if opts.Parallel > 0 {
		g.SetLimit(opts.Parallel)
	}
	for i, f := range fixtures {
		g.Go(func() error {
			r, err := Replay(ctx, f, opts)
			if err != nil {
				name := f.Path
				if name == "" {
					name = f.Description
				}
				return fmt.Errorf("replay %s: %w", name, err)
			}
			runs[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return runs, nil
}

// #endregion run-all

// #region summary

// Summarize computes aggregate counts from a run.
func Summarize(r Run) Summary {
	s := Summary{TotalSteps: len(r.Steps), FinalRev: r.Final.Rev}
	for _, o := range r.Steps {
		if o.Passed() {
			s.Passed++
		} else {
			s.Failed++
		}
		if o.Contradiction {
			s.Contradictions++
		}
		switch {
		case o.Kind == "patch" && o.Decision == "commit":
			s.Patches++
		case o.Kind == "repair" && o.Decision == "commit":
			s.Repairs++
		case o.Kind == "repair" && o.Decision == "reject":
			s.Rejections++
		}
		if o.Status == kernel.StatusHalted {
			s.Halted = true
		}
	}
	return s
}

// #endregion summary
