package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/macterra/Axio-sub017/internal/compiler"
	"github.com/macterra/Axio-sub017/internal/kernel"
	"github.com/macterra/Axio-sub017/internal/ledger"
	"github.com/macterra/Axio-sub017/internal/logging"
	"github.com/macterra/Axio-sub017/internal/trace"
)

// #region session

// session is an opened ledger database with every table migrated.
type session struct {
	store  *ledger.Store
	ledger *ledger.Ledger
	trace  *trace.Log
}

func (s *session) Close() error { return s.store.Close() }

// openStore opens the configured database and fails unless genesis has
// been written.
func (a *app) openStore() (*ledger.Store, error) {
	store, err := ledger.NewStore(a.cfg.Ledger.DBPath)
	if err != nil {
		return nil, err
	}
	ok, err := store.Initialized()
	if err != nil {
		store.Close()
		return nil, err
	}
	if !ok {
		store.Close()
		return nil, fmt.Errorf("ledger %s is not initialized; run normctl init", a.cfg.Ledger.DBPath)
	}
	if err := logging.Migrate(store.DB()); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// open rehydrates the ledger and the trace log, re-verifying both.
func (a *app) open() (*session, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	l, err := ledger.Open(store, ledger.WithLogger(a.logger))
	if err != nil {
		store.Close()
		return nil, err
	}
	ts, err := trace.NewStore(store.DB())
	if err != nil {
		store.Close()
		return nil, err
	}
	tl, err := trace.Load(ts)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &session{store: store, ledger: l, trace: tl}, nil
}

// kernel builds a run over the session that records contradictions and
// decisions in the same database.
func (a *app) kernel(s *session) *kernel.Kernel {
	cfg := kernel.Config{
		MaxRepairAttempts: a.cfg.Kernel.MaxRepairAttempts,
		Form:              a.cfg.Kernel.ObligationForm,
		Gate:              a.cfg.Gate,
	}
	return kernel.New(s.ledger, compiler.New(compiler.WithLogger(a.logger)), cfg,
		kernel.WithTrace(s.trace),
		kernel.WithDecisionLog(s.store.DB()),
		kernel.WithLogger(a.logger),
	)
}

// #endregion session

// #region files

// decodeFile reads YAML (.yaml, .yml) or JSON (anything else) into v.
func decodeFile(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, v)
	default:
		err = json.Unmarshal(raw, v)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func short(s string) string {
	if len(s) > 16 {
		return s[:16]
	}
	if s == "" {
		return "-"
	}
	return s
}

// #endregion files
