// Command normctl administers a normkernel ledger: it seeds genesis law,
// applies ordinary patches, inspects and verifies history, evaluates the
// action mask for an observation and replays recorded runs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/macterra/Axio-sub017/internal/config"
	"github.com/macterra/Axio-sub017/internal/logging"
)

// #region main

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// #endregion main

// #region root

// app carries global flags and the state PersistentPreRunE builds from them.
type app struct {
	configPath string
	dbPath     string
	verbose    bool

	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}
	root := &cobra.Command{
		Use:   "normctl",
		Short: "Inspect and drive a normkernel ledger",
		Long: `normctl administers the normative state ledger.

The ledger is an append-only SQLite history of rule-list revisions, chained
by ledger_root, with law repairs additionally chained by repair_epoch.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.logger.Sync()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "path to normkernel.yaml")
	pf.StringVar(&a.dbPath, "db", "", "ledger database (overrides config and "+config.EnvDB+")")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		a.initCmd(),
		a.patchCmd(),
		a.historyCmd(),
		a.decisionsCmd(),
		a.verifyCmd(),
		a.maskCmd(),
		a.replayCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.Ledger.DBPath = a.dbPath
	}
	if a.verbose {
		cfg.Logging.Level = zapcore.DebugLevel.String()
	}
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// #endregion root
