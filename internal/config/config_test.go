package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macterra/Axio-sub017/internal/norm"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "normkernel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2, cfg.Gate.MaxRepairs)
	assert.Equal(t, 1, cfg.Kernel.MaxRepairAttempts)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := writeFile(t, `
ledger:
  db_path: /tmp/law.db
gate:
  max_repairs: 3
  probes:
    - episode: 0
      regime: 0
      fields:
        zone: C
kernel:
  max_repair_attempts: 2
  obligation_form: direct
environment:
  timeout: 250ms
logging:
  level: debug
  json: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/law.db", cfg.Ledger.DBPath)
	assert.Equal(t, 3, cfg.Gate.MaxRepairs)
	require.Len(t, cfg.Gate.Probes, 1)
	assert.Equal(t, "C", cfg.Gate.Probes[0].Fields["zone"])
	assert.Equal(t, norm.FormDirect, cfg.Kernel.ObligationForm)
	assert.Equal(t, 250*time.Millisecond, cfg.Environment.Timeout)
	assert.Equal(t, "localhost:50051", cfg.Environment.Addr, "unset keys keep defaults")
	assert.True(t, cfg.Logging.JSON)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv(EnvDB, "/var/lib/normkernel.db")
	t.Setenv(EnvEnvAddr, "oracle:9000")
	t.Setenv(EnvLogLevel, "warn")

	cfg, err := Load(writeFile(t, "ledger:\n  db_path: file.db\n"))
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/normkernel.db", cfg.Ledger.DBPath)
	assert.Equal(t, "oracle:9000", cfg.Environment.Addr)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidateRejectsNonPositiveCaps(t *testing.T) {
	cfg := Default()
	cfg.Gate.MaxRepairs = 0
	cfg.Kernel.MaxRepairAttempts = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gate.max_repairs")
	assert.Contains(t, err.Error(), "kernel.max_repair_attempts")
}

func TestLoadRejectsUnknownForm(t *testing.T) {
	_, err := Load(writeFile(t, "kernel:\n  obligation_form: mixed\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
