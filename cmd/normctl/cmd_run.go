package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/macterra/Axio-sub017/internal/canon"
	"github.com/macterra/Axio-sub017/internal/compiler"
	"github.com/macterra/Axio-sub017/internal/envclient"
	"github.com/macterra/Axio-sub017/internal/kernel"
	"github.com/macterra/Axio-sub017/internal/mask"
	"github.com/macterra/Axio-sub017/internal/norm"
	"github.com/macterra/Axio-sub017/internal/replay"
)

type oracleDoc struct {
	Oracle    mask.TableOracle `json:"oracle" yaml:"oracle"`
	Inventory []string         `json:"inventory,omitempty" yaml:"inventory,omitempty"`
}

// #region mask

type maskOutput struct {
	Rev           int              `json:"rev"`
	Status        kernel.Status    `json:"status"`
	Mask          mask.Result      `json:"mask"`
	Contradiction *norm.TraceEntry `json:"contradiction,omitempty"`
}

func (a *app) maskCmd() *cobra.Command {
	var obsPath, oraclePath, envAddr, envEpoch string
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "mask --obs FILE [--oracle FILE | --env-addr ADDR]",
		Short: "Compute the feasible action set for an observation",
		Long: `Compiles the live revision and masks the observation against it.

Goal-form progress comes from a static oracle table (--oracle) or from the
remote Environment service (--env-addr, default from config). A detected
contradiction is appended to the trace log so a repair can cite it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if oraclePath != "" && envAddr != "" {
				return errors.New("--oracle and --env-addr are mutually exclusive")
			}
			var obs norm.Observation
			if err := decodeFile(obsPath, &obs); err != nil {
				return err
			}
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			in := kernel.StepInput{Obs: obs}
			if envEpoch != "" {
				d, err := canon.ParseDigest(envEpoch)
				if err != nil {
					return fmt.Errorf("--env-epoch: %w", err)
				}
				in.EnvRepairEpoch = d
			}
			if oraclePath != "" {
				var doc oracleDoc
				if err := decodeFile(oraclePath, &doc); err != nil {
					return err
				}
				in.Oracle = doc.Oracle
				in.Inventory = mask.Inventory(doc.Inventory)
			} else {
				if envAddr == "" {
					envAddr = a.cfg.Environment.Addr
				}
				if err := a.snapshot(cmd.Context(), s, envAddr, &in); err != nil {
					return err
				}
			}

			res, err := a.kernel(s).Step(in)
			if err != nil {
				return err
			}
			return writeMask(cmd.OutOrStdout(), maskOutput{Rev: res.Rev, Status: res.Status, Mask: res.Mask, Contradiction: res.Entry}, jsonOut)
		},
	}
	cmd.Flags().StringVar(&obsPath, "obs", "", "observation file (YAML or JSON)")
	cmd.Flags().StringVar(&oraclePath, "oracle", "", "static oracle table and inventory")
	cmd.Flags().StringVar(&envAddr, "env-addr", "", "Environment service address")
	cmd.Flags().StringVar(&envEpoch, "env-epoch", "", "repair epoch the environment asserts (hex)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	_ = cmd.MarkFlagRequired("obs")
	return cmd
}

// snapshot freezes the remote oracle for every obligation target of the
// live law, so the kernel itself never performs I/O.
func (a *app) snapshot(ctx context.Context, s *session, addr string, in *kernel.StepInput) error {
	law, err := compiler.New().CompileLaw(s.ledger.Current())
	if err != nil {
		return err
	}
	var targets []string
	for _, p := range law.OfType(norm.Obligation) {
		if p.Effect.ObligationTarget != "" {
			targets = append(targets, p.Effect.ObligationTarget)
		}
	}

	client, err := envclient.Dial(addr, a.cfg.Environment.Timeout)
	if err != nil {
		return err
	}
	defer client.Close()

	snap, err := client.Snapshot(ctx, in.Obs, targets)
	if err != nil {
		return err
	}
	inv, err := client.Inventory(ctx, in.Obs)
	if err != nil {
		return err
	}
	in.Oracle = snap
	in.Inventory = inv
	return nil
}

func writeMask(w io.Writer, out maskOutput, jsonOut bool) error {
	if jsonOut {
		return printJSON(w, out)
	}
	m := out.Mask
	fmt.Fprintf(w, "rev:       %d\n", out.Rev)
	fmt.Fprintf(w, "status:    %s\n", out.Status)
	fmt.Fprintf(w, "active:    %v\n", m.Active)
	fmt.Fprintf(w, "binding:   %s\n", nonEmpty(m.Binding))
	fmt.Fprintf(w, "target:    %s\n", nonEmpty(m.Target))
	fmt.Fprintf(w, "permitted: %v\n", m.Permitted)
	fmt.Fprintf(w, "feasible:  %v\n", m.Feasible)
	if e := out.Contradiction; e != nil {
		fmt.Fprintf(w, "\ncontradiction %s (%s)\n", e.ID, e.Kind)
		fmt.Fprintf(w, "  blocking: %v\n", e.BlockingRuleIDs)
		if len(e.ExpiredRuleIDs) > 0 {
			fmt.Fprintf(w, "  expired:  %v\n", e.ExpiredRuleIDs)
		}
	} else if m.Gridlock() {
		fmt.Fprintln(w, "\ngridlock: no binding obligation and nothing feasible")
	}
	return nil
}

// #endregion mask

// #region replay

func (a *app) replayCmd() *cobra.Command {
	var parallel int
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "replay FIXTURE...",
		Short: "Replay recorded runs against an in-memory kernel",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fixtures, err := replay.LoadFixtures(args)
			if err != nil {
				return err
			}
			runs, err := replay.RunAll(cmd.Context(), fixtures, replay.Options{Logger: a.logger, Parallel: parallel})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				if err := printJSON(out, runs); err != nil {
					return err
				}
			}
			failed := 0
			for _, r := range runs {
				if !r.Passed() {
					failed++
				}
				if jsonOut {
					continue
				}
				sum := replay.Summarize(r)
				mark := "PASS"
				if !r.Passed() {
					mark = "FAIL"
				}
				fmt.Fprintf(out, "%s  %s: %d steps, %d contradictions, %d repairs, %d rejected, %d patches, final rev %d\n",
					mark, r.Path, sum.TotalSteps, sum.Contradictions, sum.Repairs, sum.Rejections, sum.Patches, sum.FinalRev)
				for _, s := range r.Steps {
					for _, m := range s.Mismatches {
						fmt.Fprintf(out, "    %s: %s\n", s.StepID, m)
					}
				}
				if !r.Verified.Passed {
					fmt.Fprintf(out, "    history: %s\n", r.Verified.Reason)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d fixture(s) failed", failed, len(runs))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&parallel, "parallel", 4, "fixtures replayed at once")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output runs as JSON")
	return cmd
}

// #endregion replay
