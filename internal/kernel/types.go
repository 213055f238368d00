package kernel

import (
	"errors"

	"github.com/macterra/Axio-sub017/internal/canon"
	"github.com/macterra/Axio-sub017/internal/compiler"
	"github.com/macterra/Axio-sub017/internal/contradiction"
	"github.com/macterra/Axio-sub017/internal/gate"
	"github.com/macterra/Axio-sub017/internal/mask"
	"github.com/macterra/Axio-sub017/internal/norm"
)

// #region status
// Status is the run's position in the contradiction protocol.
type Status string

const (
	StatusRunning        Status = "RUNNING"
	StatusAwaitingRepair Status = "AWAITING_REPAIR"
	StatusHalted         Status = "HALTED"
)

// ErrNotRunning rejects ordinary patches while a contradiction is open or
// after a halt.
var ErrNotRunning = errors.New("KERNEL_NOT_RUNNING")
// #endregion status

// #region config
// Config bounds one run.
type Config struct {
	// MaxRepairAttempts is the number of rejected repairs tolerated for one
	// contradiction before the run halts.
	MaxRepairAttempts int
	// Form, when set, is the only obligation form the run accepts.
	Form norm.EffectForm
	Gate gate.Config
}

// DefaultConfig allows one repair attempt per contradiction.
func DefaultConfig() Config {
	return Config{MaxRepairAttempts: 1, Gate: gate.DefaultConfig()}
}
// #endregion config

// #region step-input
// StepInput is everything the environment and deliberator supply for one
// decision step. At most one of Justification and Repair is set.
type StepInput struct {
	Obs           norm.Observation
	Justification *norm.Justification
	Repair        *norm.RepairAction

	Oracle    mask.Oracle
	Inventory mask.Inventory

	// EnvRepairEpoch is the epoch the environment asserts. Zero asserts
	// nothing.
	EnvRepairEpoch canon.Digest
	Nonce          []byte
}
// #endregion step-input

// #region step-result
// StepResult reports what one step computed.
type StepResult struct {
	Step     int                        `json:"step"`
	Status   Status                     `json:"status"`
	Rev      int                        `json:"rev"`
	Mask     mask.Result                `json:"mask"`
	Finding  contradiction.Finding      `json:"finding"`
	Entry    *norm.TraceEntry           `json:"entry,omitempty"`
	Artifact *compiler.CompiledArtifact `json:"-"`
	Decision *gate.Decision             `json:"decision,omitempty"`
}
// #endregion step-result
