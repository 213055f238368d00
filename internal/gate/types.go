package gate

import (
	"errors"
	"fmt"

	"github.com/macterra/Axio-sub017/internal/canon"
	"github.com/macterra/Axio-sub017/internal/epoch"
	"github.com/macterra/Axio-sub017/internal/mask"
	"github.com/macterra/Axio-sub017/internal/norm"
	"github.com/macterra/Axio-sub017/internal/trace"
)

// #region repair-rule
// RepairRule names one stage of the repair pipeline.
type RepairRule string

const (
	RuleStructuralRelevance RepairRule = "R1"
	RuleNonCosmetic         RepairRule = "R2"
	RuleRecompilation       RepairRule = "R3"
	RuleNoNewDefaults       RepairRule = "R4"
	RuleNonVacuity          RepairRule = "R5"
	RuleContinuity          RepairRule = "R6"
	RuleAntiAmnesia         RepairRule = "R7"
	RuleTraceCausality      RepairRule = "R8"
	RuleCompilerIdentity    RepairRule = "R9"
	RuleMultiRepair         RepairRule = "R10"
	RuleNonSubsumption      RepairRule = "R11"
)
// #endregion repair-rule

// #region reason-codes
// Rejection sentinels, one per reason code.
var (
	ErrIrrelevantPatch   = errors.New("IRRELEVANT_PATCH")
	ErrNonCosmeticFailed = errors.New("NONCOSMETIC_FAILED")
	ErrRecompileFailed   = errors.New("RECOMPILE_FAILED")
	ErrNewDefault        = errors.New("NEW_DEFAULT")
	ErrVacuousException  = errors.New("VACUOUS_EXCEPTION")
	ErrEpochMismatch     = errors.New("EPOCH_MISMATCH")
	ErrTraceUnresolved   = errors.New("TRACE_UNRESOLVED")
	ErrPatchStacking     = errors.New("PATCH_STACKING")
	ErrSubsumed          = errors.New("SUBSUMED")
)

// ErrEnvironmentFault reports a broken pipeline (compiler identity drift,
// missing nonce). It is not a repair rejection and consumes no attempt.
var ErrEnvironmentFault = errors.New("ENVIRONMENT_FAULT")
// #endregion reason-codes

// #region rejection
// Rejection is a typed repair refusal from one pipeline stage.
type Rejection struct {
	Rule  RepairRule
	Kind  error
	Msg   string
	Cause error
}

func (r *Rejection) Error() string {
	if r.Msg == "" {
		return fmt.Sprintf("%s %s", r.Rule, r.Kind)
	}
	return fmt.Sprintf("%s %s: %s", r.Rule, r.Kind, r.Msg)
}

// Unwrap exposes both the reason sentinel and any underlying cause.
func (r *Rejection) Unwrap() []error {
	if r.Cause != nil {
		return []error{r.Kind, r.Cause}
	}
	return []error{r.Kind}
}

// Code returns the reason code, e.g. PATCH_STACKING.
func (r *Rejection) Code() string {
	return r.Kind.Error()
}

func reject(rule RepairRule, kind error, format string, args ...any) *Rejection {
	return &Rejection{Rule: rule, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func rejectCause(rule RepairRule, kind error, cause error) *Rejection {
	return &Rejection{Rule: rule, Kind: kind, Msg: cause.Error(), Cause: cause}
}
// #endregion rejection

// #region config
// Config holds repair discipline limits.
type Config struct {
	MaxRepairs int                `json:"max_repairs" yaml:"max_repairs"`
	Probes     []norm.Observation `json:"probes,omitempty" yaml:"probes,omitempty"`
}

// DefaultConfig allows two repairs per run and has no probes registered.
func DefaultConfig() Config {
	return Config{MaxRepairs: 2}
}
// #endregion config

// #region input
// Input is everything one validation reads. The validator never mutates it.
type Input struct {
	Repair    norm.RepairAction
	State     norm.NormState
	Trace     trace.Lookup
	Obs       norm.Observation
	Oracle    mask.Oracle
	Inventory mask.Inventory
	Nonce     []byte

	// Accepted lists repairs already accepted in this run, oldest first.
	Accepted []Acceptance

	// LiveCompilerID is the identity of the compiler the live pipeline runs.
	LiveCompilerID canon.Digest
}
// #endregion input

// #region decision
// Acceptance is the record of one accepted repair.
type Acceptance struct {
	TraceEntryID string       `json:"trace_entry_id"`
	Regime       int          `json:"regime"`
	Rev          int          `json:"rev"`
	NormHash     canon.Digest `json:"norm_hash"`
	PriorEpoch   canon.Digest `json:"prior_epoch"`
	Epoch        canon.Digest `json:"epoch"`
	Fingerprint  canon.Digest `json:"fingerprint"`
	PatchHash    canon.Digest `json:"patch_hash"`
	Touched      []string     `json:"touched"`
	Link         epoch.Link   `json:"link"`
}

// Decision is the outcome of one validation.
type Decision struct {
	Action     string // "commit" | "reject"
	Reason     string
	Rejection  *Rejection
	Acceptance *Acceptance
	State      norm.NormState // the new revision when Action is "commit"
	Passed     []RepairRule
}
// #endregion decision
