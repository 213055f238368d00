// Package kernel drives one run through the per-step pipeline: compile,
// mask, detect, and under contradiction accept only a law repair, which
// is validated, committed, and followed by recomputing the step.
package kernel

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/macterra/Axio-sub017/internal/compiler"
	"github.com/macterra/Axio-sub017/internal/contradiction"
	"github.com/macterra/Axio-sub017/internal/gate"
	"github.com/macterra/Axio-sub017/internal/ledger"
	"github.com/macterra/Axio-sub017/internal/logging"
	"github.com/macterra/Axio-sub017/internal/mask"
	"github.com/macterra/Axio-sub017/internal/norm"
	"github.com/macterra/Axio-sub017/internal/patch"
	"github.com/macterra/Axio-sub017/internal/trace"
)

// #region kernel
// Kernel owns one run. Safe for concurrent use; steps serialize.
type Kernel struct {
	mu        sync.Mutex
	config    Config
	compiler  *compiler.Compiler
	validator *gate.Validator
	ledger    *ledger.Ledger
	trace     *trace.Log
	decisions *sql.DB
	logger    *zap.Logger

	status   Status
	step     int
	pending  *norm.TraceEntry
	attempts int
	accepted []gate.Acceptance
	law      *compiler.CompiledLaw
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithTrace records contradictions in t instead of a private in-memory log.
func WithTrace(t *trace.Log) Option { return func(k *Kernel) { k.trace = t } }

// WithDecisionLog writes every commit, rejection and halt to db's
// decision_log table.
func WithDecisionLog(db *sql.DB) Option { return func(k *Kernel) { k.decisions = db } }

// WithLogger sets the logger. The default discards.
func WithLogger(l *zap.Logger) Option { return func(k *Kernel) { k.logger = l } }

// New creates a kernel over l, compiling with c.
func New(l *ledger.Ledger, c *compiler.Compiler, config Config, opts ...Option) *Kernel {
	if config.MaxRepairAttempts <= 0 {
		config.MaxRepairAttempts = DefaultConfig().MaxRepairAttempts
	}
	k := &Kernel{
		config:   config,
		compiler: c,
		ledger:   l,
		logger:   zap.NewNop(),
		status:   StatusRunning,
	}
	for _, o := range opts {
		o(k)
	}
	if k.trace == nil {
		k.trace = trace.NewLog(nil)
	}
	k.validator = gate.NewValidator(c, config.Gate, k.logger)
	return k
}
// #endregion kernel

// #region accessors
// Status returns the run's current status.
func (k *Kernel) Status() Status {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.status
}

// Pending returns the open contradiction, if any.
func (k *Kernel) Pending() (norm.TraceEntry, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.pending == nil {
		return norm.TraceEntry{}, false
	}
	return *k.pending, true
}

// Accepted lists the repairs accepted in this run, oldest first.
func (k *Kernel) Accepted() []gate.Acceptance {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]gate.Acceptance(nil), k.accepted...)
}

// Trace returns the run's trace log.
func (k *Kernel) Trace() *trace.Log { return k.trace }

// Ledger returns the run's ledger.
func (k *Kernel) Ledger() *ledger.Ledger { return k.ledger }
// #endregion accessors

// #region step
// Step runs one decision step. While RUNNING it masks the observation and
// checks a justification, if any, against the feasible set. Under an open
// contradiction only a repair is admissible; anything else halts the run.
func (k *Kernel) Step(in StepInput) (StepResult, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.status == StatusHalted {
		return StepResult{Step: k.step, Status: k.status}, norm.Haltedf("run halted; no further steps")
	}
	k.step++

	if k.status == StatusAwaitingRepair {
		if in.Repair == nil {
			return k.halt(StepResult{}, fmt.Sprintf("non-repair proposal while contradiction %s is open", k.pending.ID))
		}
		return k.repair(in)
	}
	if in.Repair != nil {
		return StepResult{Step: k.step, Status: k.status, Rev: k.ledger.Current().Rev},
			norm.Newf(norm.ErrRepairNotAdmissible, "no open contradiction at step %d", k.step)
	}
	return k.evaluate(in, true)
}

// evaluate masks in.Obs against the live revision. checkEpoch is false only
// when recomputing right after a repair moved the epoch.
func (k *Kernel) evaluate(in StepInput, checkEpoch bool) (StepResult, error) {
	state := k.ledger.Current()
	res := StepResult{Step: k.step, Status: k.status, Rev: state.Rev}

	law, err := k.compile(state)
	if err != nil {
		return res, err
	}

	if checkEpoch {
		if f := contradiction.CheckEpoch(in.Obs, law, in.EnvRepairEpoch); f.Contradiction {
			return k.open(res, f, in, state)
		}
	}

	m, err := mask.Mask(in.Obs, law, state, in.Oracle)
	if err != nil {
		return res, err
	}
	res.Mask = m

	if f := contradiction.Detect(in.Obs, law, m, in.Inventory); f.Contradiction {
		return k.open(res, f, in, state)
	}

	if in.Justification != nil {
		art, err := k.compiler.Compile(*in.Justification, state)
		if err != nil {
			return res, err
		}
		res.Artifact = art
		if !m.Admits(in.Justification.ActionID) {
			return res, norm.Newf(norm.ErrActionNotFeasible, "action %q not in feasible set %v", in.Justification.ActionID, m.Feasible)
		}
	}
	return res, nil
}

// compile returns the compiled law for state, reusing it while the revision
// is unchanged.
func (k *Kernel) compile(state norm.NormState) (*compiler.CompiledLaw, error) {
	if k.law != nil && k.law.NormHash == state.NormHash && k.law.Rev == state.Rev && k.law.RepairEpoch == state.RepairEpoch {
		return k.law, nil
	}
	law, err := k.compiler.CompileLaw(state)
	if err != nil {
		return nil, err
	}
	if k.config.Form != norm.FormNone && law.Form != norm.FormNone && law.Form != k.config.Form {
		return nil, norm.Schemaf("law uses %s obligations, run is configured for %s", law.Form, k.config.Form)
	}
	k.law = law
	return law, nil
}

// open records a contradiction and moves the run to AWAITING_REPAIR.
func (k *Kernel) open(res StepResult, f contradiction.Finding, in StepInput, state norm.NormState) (StepResult, error) {
	entry, err := k.trace.Append(f.Entry(k.step, in.Obs, state))
	if err != nil {
		return res, fmt.Errorf("record contradiction: %w", err)
	}
	k.status = StatusAwaitingRepair
	k.pending = &entry
	k.attempts = 0

	res.Status = k.status
	res.Finding = f
	res.Entry = &entry
	k.logger.Warn("normative contradiction",
		zap.String("trace_entry", entry.ID),
		zap.String("kind", string(entry.Kind)),
		zap.String("binding", entry.BindingRuleID),
		zap.Strings("blocking", entry.BlockingRuleIDs),
		zap.Int("step", k.step),
	)
	return res, nil
}
// #endregion step

// #region repair
func (k *Kernel) repair(in StepInput) (StepResult, error) {
	state := k.ledger.Current()
	res := StepResult{Step: k.step, Status: k.status, Rev: state.Rev}

	d, err := k.validator.Validate(gate.Input{
		Repair:         *in.Repair,
		State:          state,
		Trace:          k.trace,
		Obs:            k.pending.Observation,
		Nonce:          in.Nonce,
		Accepted:       k.accepted,
		LiveCompilerID: k.compiler.Identity(),
	})
	if errors.Is(err, gate.ErrEnvironmentFault) {
		return res, err
	}
	if err != nil {
		res.Decision = &d
		k.attempts++
		k.record(logging.DecisionEntry{
			Rev:          state.Rev,
			NormHash:     state.NormHash.Hex(),
			TriggerType:  "repair",
			TraceEntryID: in.Repair.CitedTraceEntryID,
			Rule:         ruleOf(d),
			Code:         norm.Code(err),
			DetailJSON:   repairDetail(*in.Repair, d),
			Decision:     "reject",
			Reason:       err.Error(),
		})
		if k.attempts >= k.config.MaxRepairAttempts {
			return k.halt(res, fmt.Sprintf("%d repair attempt(s) rejected, last: %v", k.attempts, err))
		}
		return res, err
	}

	next, err := k.ledger.CommitRepair(d)
	if err != nil {
		return res, err
	}
	k.accepted = append(k.accepted, *d.Acceptance)
	k.status = StatusRunning
	k.pending = nil
	k.attempts = 0
	k.record(logging.DecisionEntry{
		Rev:          next.Rev,
		NormHash:     next.NormHash.Hex(),
		TriggerType:  "repair",
		TraceEntryID: in.Repair.CitedTraceEntryID,
		DetailJSON:   repairDetail(*in.Repair, d),
		Decision:     "commit",
		Reason:       d.Reason,
	})

	out, err := k.evaluate(StepInput{Obs: in.Obs, Oracle: in.Oracle, Inventory: in.Inventory, Justification: in.Justification}, false)
	out.Decision = &d
	return out, err
}

func ruleOf(d gate.Decision) string {
	if d.Rejection == nil {
		return ""
	}
	return string(d.Rejection.Rule)
}

func repairDetail(r norm.RepairAction, d gate.Decision) string {
	rec := logging.RepairRecord{
		CitedTraceEntryID: r.CitedTraceEntryID,
		CitedRuleIDs:      r.CitedRuleIDs,
		Regime:            r.RegimeAtSubmission,
	}
	if !r.PriorRepairEpoch.IsZero() {
		rec.PriorEpoch = r.PriorRepairEpoch.Hex()
	}
	for _, p := range d.Passed {
		rec.Passed = append(rec.Passed, string(p))
	}
	if d.Acceptance != nil {
		rec.Touched = d.Acceptance.Touched
		rec.Epoch = d.Acceptance.Epoch.Hex()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return ""
	}
	return string(raw)
}
// #endregion repair

// #region halt
func (k *Kernel) halt(res StepResult, reason string) (StepResult, error) {
	k.status = StatusHalted
	res.Step = k.step
	res.Status = k.status
	rev := k.ledger.Current()
	res.Rev = rev.Rev
	traceID := ""
	if k.pending != nil {
		traceID = k.pending.ID
	}
	k.record(logging.DecisionEntry{
		Rev:          rev.Rev,
		NormHash:     rev.NormHash.Hex(),
		TriggerType:  "halt",
		TraceEntryID: traceID,
		Code:         norm.ErrHalted.Error(),
		Decision:     "halt",
		Reason:       reason,
	})
	k.logger.Error("run halted", zap.String("reason", reason), zap.Int("step", k.step))
	return res, norm.Haltedf("%s", reason)
}
// #endregion halt

// #region apply-patch
// ApplyPatch commits an ordinary amendment outside contradiction pressure.
// It advances ledger_root only.
func (k *Kernel) ApplyPatch(parentRev int, ops []norm.NormPatch) (norm.NormState, patch.Result, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.status != StatusRunning {
		return norm.NormState{}, patch.Result{}, fmt.Errorf("%w: run is %s", ErrNotRunning, k.status)
	}
	next, res, err := k.ledger.Apply(parentRev, ops)
	if err != nil {
		return norm.NormState{}, patch.Result{}, err
	}
	k.record(logging.DecisionEntry{
		Rev:         next.Rev,
		NormHash:    next.NormHash.Hex(),
		TriggerType: "patch",
		Decision:    res.Decision.Action,
		Reason:      res.Decision.Reason,
	})
	return next, res, nil
}
// #endregion apply-patch

func (k *Kernel) record(e logging.DecisionEntry) {
	if k.decisions == nil {
		return
	}
	if err := logging.LogDecision(k.decisions, e); err != nil {
		k.logger.Warn("decision log write failed", zap.Error(err))
	}
}
