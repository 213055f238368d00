package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/macterra/Axio-sub017/internal/ledger"
	"github.com/macterra/Axio-sub017/internal/logging"
	"github.com/macterra/Axio-sub017/internal/norm"
	"github.com/macterra/Axio-sub017/internal/trace"
	"github.com/macterra/Axio-sub017/internal/verify"
)

type rulesDoc struct {
	Rules []norm.Rule `json:"rules" yaml:"rules"`
}

type patchDoc struct {
	// ParentRev defaults to the live revision.
	ParentRev *int             `json:"parent_rev,omitempty" yaml:"parent_rev,omitempty"`
	Ops       []norm.NormPatch `json:"ops" yaml:"ops"`
}

// #region init

func (a *app) initCmd() *cobra.Command {
	var rulesPath string
	cmd := &cobra.Command{
		Use:   "init --rules FILE",
		Short: "Write the genesis revision from a rule file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc rulesDoc
			if err := decodeFile(rulesPath, &doc); err != nil {
				return err
			}
			store, err := ledger.NewStore(a.cfg.Ledger.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()
			if ok, err := store.Initialized(); err != nil {
				return err
			} else if ok {
				return fmt.Errorf("ledger %s already has a genesis revision", a.cfg.Ledger.DBPath)
			}

			l, err := ledger.New(doc.Rules, ledger.WithStore(store), ledger.WithLogger(a.logger))
			if err != nil {
				return err
			}
			g := l.Current()
			if err := logging.Migrate(store.DB()); err != nil {
				return err
			}
			if err := logging.LogDecision(store.DB(), logging.DecisionEntry{
				Rev:         g.Rev,
				NormHash:    g.NormHash.Hex(),
				TriggerType: "genesis",
				Decision:    "commit",
				Reason:      fmt.Sprintf("%d rules", len(g.Rules)),
			}); err != nil {
				a.logger.Warn("decision log write failed", zap.Error(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized %s: rev %d, norm_hash %s\n", a.cfg.Ledger.DBPath, g.Rev, g.NormHash.Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&rulesPath, "rules", "", "rule file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("rules")
	return cmd
}

// #endregion init

// #region patch

func (a *app) patchCmd() *cobra.Command {
	var patchPath string
	cmd := &cobra.Command{
		Use:   "patch --file FILE",
		Short: "Apply an ordinary amendment outside contradiction pressure",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc patchDoc
			if err := decodeFile(patchPath, &doc); err != nil {
				return err
			}
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			parent := s.ledger.Current().Rev
			if doc.ParentRev != nil {
				parent = *doc.ParentRev
			}
			next, res, err := a.kernel(s).ApplyPatch(parent, doc.Ops)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: rev %d, norm_hash %s (%s)\n",
				res.Decision.Action, next.Rev, next.NormHash.Hex(), res.Decision.Reason)
			return nil
		},
	}
	cmd.Flags().StringVar(&patchPath, "file", "", "patch file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// #endregion patch

// #region history

type historyRow struct {
	Rev         int    `json:"rev"`
	NormHash    string `json:"norm_hash"`
	LedgerRoot  string `json:"ledger_root"`
	RepairEpoch string `json:"repair_epoch,omitempty"`
	Rules       int    `json:"rules"`
}

func (a *app) historyCmd() *cobra.Command {
	var last int
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List ledger revisions, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			revs := s.ledger.History()
			if last > 0 && len(revs) > last {
				revs = revs[len(revs)-last:]
			}
			rows := make([]historyRow, len(revs))
			for i, r := range revs {
				rows[i] = historyRow{
					Rev:         r.Rev,
					NormHash:    r.NormHash.Hex(),
					LedgerRoot:  r.LedgerRoot.Hex(),
					RepairEpoch: r.RepairEpoch.String(),
					Rules:       len(r.Rules),
				}
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return printJSON(out, rows)
			}
			fmt.Fprintf(out, "%-5s  %-16s  %-16s  %-16s  %s\n", "Rev", "Norm Hash", "Ledger Root", "Repair Epoch", "Rules")
			fmt.Fprintf(out, "%-5s+-%-16s+-%-16s+-%-16s+-%s\n", "-----", "----------------", "----------------", "----------------", "-----")
			for _, r := range rows {
				fmt.Fprintf(out, "%-5d  %-16s  %-16s  %-16s  %d\n", r.Rev, short(r.NormHash), short(r.LedgerRoot), short(r.RepairEpoch), r.Rules)
			}
			fmt.Fprintf(out, "\n%d repair(s) in the epoch chain\n", len(s.ledger.Links()))
			return nil
		},
	}
	cmd.Flags().IntVar(&last, "last", 0, "show only the N most recent revisions")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON instead of a table")
	return cmd
}

// #endregion history

// #region decisions

func (a *app) decisionsCmd() *cobra.Command {
	var last int
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Show recent commit, reject and halt decisions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := logging.RecentDecisions(store.DB(), last)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return printJSON(out, entries)
			}
			for _, e := range entries {
				code := e.Code
				if code == "" {
					code = "-"
				}
				fmt.Fprintf(out, "%s  rev %-4d  %-8s  %-7s  %-4s  %-16s  %s\n",
					e.CreatedAt.Format("2006-01-02T15:04:05Z"), e.Rev, e.TriggerType, e.Decision, nonEmpty(e.Rule), code, e.Reason)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&last, "last", 20, "show N most recent decisions")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

func nonEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// #endregion decisions

// #region verify

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Recompute every hash chain in the stored history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			revs, err := store.Revisions()
			if err != nil {
				return err
			}
			links, err := store.Links()
			if err != nil {
				return err
			}
			rep := verify.History(revs, links)

			traceCheck := verify.Check{Name: "trace_ids", Pass: true}
			ts, err := trace.NewStore(store.DB())
			if err != nil {
				return err
			}
			if tl, err := trace.Load(ts); err != nil {
				traceCheck.Pass = false
				traceCheck.Detail = err.Error()
			} else {
				traceCheck.Detail = fmt.Sprintf("%d entries", tl.Len())
			}
			rep.Checks = append(rep.Checks, traceCheck)

			out := cmd.OutOrStdout()
			for _, c := range rep.Checks {
				mark := "PASS"
				if !c.Pass {
					mark = "FAIL"
				}
				fmt.Fprintf(out, "%s  %-15s %s\n", mark, c.Name, c.Detail)
			}
			if !rep.Passed {
				return fmt.Errorf("verification failed: %s", rep.Reason)
			}
			if !traceCheck.Pass {
				return fmt.Errorf("verification failed: trace_ids: %s", traceCheck.Detail)
			}
			fmt.Fprintf(out, "ok: %d revision(s), %d repair(s)\n", len(revs), len(links))
			return nil
		},
	}
}

// #endregion verify
