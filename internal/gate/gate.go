// Package gate validates LAW_REPAIR proposals through an ordered pipeline
// of structural, causal and continuity checks and, on success, derives the
// next revision with its extended repair epoch.
package gate

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/macterra/Axio-sub017/internal/canon"
	"github.com/macterra/Axio-sub017/internal/compiler"
	"github.com/macterra/Axio-sub017/internal/contradiction"
	"github.com/macterra/Axio-sub017/internal/epoch"
	"github.com/macterra/Axio-sub017/internal/mask"
	"github.com/macterra/Axio-sub017/internal/norm"
	"github.com/macterra/Axio-sub017/internal/patch"
)

// #region validator
// Validator runs the repair pipeline with a fixed compiler build.
type Validator struct {
	config   Config
	compiler *compiler.Compiler
	logger   *zap.Logger
}

// NewValidator creates a validator bound to c. A nil logger discards logs.
func NewValidator(c *compiler.Compiler, config Config, logger *zap.Logger) *Validator {
	if config.MaxRepairs <= 0 {
		config.MaxRepairs = DefaultConfig().MaxRepairs
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{config: config, compiler: c, logger: logger}
}

// CompilerID is the identity of the compiler this validator replays with.
func (v *Validator) CompilerID() canon.Digest {
	return v.compiler.Identity()
}
// #endregion validator

// #region pipeline
// pass carries intermediate results between stages.
type pass struct {
	in        Input
	entry     norm.TraceEntry
	touched   []string
	candidate norm.NormState
	law       *compiler.CompiledLaw
	patchHash canon.Digest
}

// Validate runs R9, R8, R1, R10, R7, R4, R5, R3, R2, R11 in that order and
// computes the R6 epoch on success. The first failing stage wins. A
// rejection is returned both in the Decision and as the error; an
// environment fault returns ErrEnvironmentFault with no Decision.
func (v *Validator) Validate(in Input) (Decision, error) {
	if err := v.checkCompilerIdentity(in); err != nil {
		v.logger.Error("repair validation aborted", zap.Error(err))
		return Decision{}, err
	}
	if err := v.compiler.Grammar().Repair(in.Repair); err != nil {
		return Decision{Action: "reject", Reason: err.Error()}, err
	}

	p := &pass{in: in}
	stages := []struct {
		rule RepairRule
		run  func(*pass) *Rejection
	}{
		{RuleTraceCausality, v.traceCausality},
		{RuleStructuralRelevance, v.structuralRelevance},
		{RuleMultiRepair, v.multiRepair},
		{RuleAntiAmnesia, v.antiAmnesia},
		{RuleNoNewDefaults, v.noNewDefaults},
		{RuleNonVacuity, v.nonVacuity},
		{RuleRecompilation, v.recompilation},
		{RuleNonCosmetic, v.nonCosmetic},
		{RuleNonSubsumption, v.nonSubsumption},
	}

	passed := []RepairRule{RuleCompilerIdentity}
	for _, s := range stages {
		if rej := s.run(p); rej != nil {
			v.logger.Info("repair rejected",
				zap.String("rule", string(rej.Rule)),
				zap.String("code", rej.Code()),
				zap.String("trace_entry", in.Repair.CitedTraceEntryID),
				zap.String("reason", rej.Msg),
			)
			return Decision{
				Action:    "reject",
				Reason:    rej.Error(),
				Rejection: rej,
				Passed:    passed,
			}, rej
		}
		passed = append(passed, s.rule)
	}

	acc, next, err := v.continuity(p)
	if err != nil {
		return Decision{}, err
	}
	passed = append(passed, RuleContinuity)

	v.logger.Info("repair accepted",
		zap.String("trace_entry", acc.TraceEntryID),
		zap.Int("rev", next.Rev),
		zap.String("norm_hash", next.NormHash.Short()),
		zap.String("repair_epoch", next.RepairEpoch.Short()),
	)
	return Decision{
		Action:     "commit",
		Reason:     fmt.Sprintf("repair of %v accepted at rev %d", acc.Touched, next.Rev),
		Acceptance: &acc,
		State:      next,
		Passed:     passed,
	}, nil
}
// #endregion pipeline

// #region r9
// checkCompilerIdentity is R9: validation must replay with the exact build
// the live pipeline runs, and the environment must supply a nonce.
func (v *Validator) checkCompilerIdentity(in Input) error {
	if in.LiveCompilerID != v.compiler.Identity() {
		return fmt.Errorf("%w: live compiler %s, validator compiler %s",
			ErrEnvironmentFault, in.LiveCompilerID.Short(), v.compiler.Identity().Short())
	}
	if len(in.Nonce) == 0 {
		return fmt.Errorf("%w: environment supplied no nonce", ErrEnvironmentFault)
	}
	if in.Trace == nil {
		return fmt.Errorf("%w: no trace log", ErrEnvironmentFault)
	}
	return nil
}
// #endregion r9

// #region r8
// traceCausality is R8: the cited entry must exist, match the repair's
// declared kind and regime, and every cited rule must appear in it.
func (v *Validator) traceCausality(p *pass) *Rejection {
	r := p.in.Repair
	entry, ok := p.in.Trace.Get(r.CitedTraceEntryID)
	if !ok {
		return reject(RuleTraceCausality, ErrTraceUnresolved, "trace entry %q not in log", r.CitedTraceEntryID)
	}
	if entry.Kind != r.ContradictionType {
		return reject(RuleTraceCausality, ErrTraceUnresolved, "entry kind %s, repair declares %s", entry.Kind, r.ContradictionType)
	}
	if entry.Regime != r.RegimeAtSubmission {
		return reject(RuleTraceCausality, ErrTraceUnresolved, "entry regime %d, repair declares %d", entry.Regime, r.RegimeAtSubmission)
	}
	for _, id := range r.CitedRuleIDs {
		if id != entry.BindingRuleID && !entry.Blocks(id) && !slices.Contains(entry.ExpiredRuleIDs, id) {
			return reject(RuleTraceCausality, ErrTraceUnresolved, "cited rule %q does not appear in entry %s", id, entry.ID)
		}
	}
	p.entry = entry
	for _, op := range r.PatchOps {
		if id := op.Touched(); !slices.Contains(p.touched, id) {
			p.touched = append(p.touched, id)
		}
	}
	return nil
}
// #endregion r8

// #region r1
// structuralRelevance is R1: some patched rule must be both cited and in
// the contradiction's blocking set.
func (v *Validator) structuralRelevance(p *pass) *Rejection {
	for _, id := range p.touched {
		if slices.Contains(p.in.Repair.CitedRuleIDs, id) && p.entry.Blocks(id) {
			return nil
		}
	}
	return reject(RuleStructuralRelevance, ErrIrrelevantPatch,
		"patched %v, cited %v, blocking %v", p.touched, p.in.Repair.CitedRuleIDs, p.entry.BlockingRuleIDs)
}
// #endregion r1

// #region r10
// multiRepair is R10: at most MaxRepairs per run and one per regime.
func (v *Validator) multiRepair(p *pass) *Rejection {
	if len(p.in.Accepted) >= v.config.MaxRepairs {
		return reject(RuleMultiRepair, ErrPatchStacking, "%d repairs already accepted (cap %d)", len(p.in.Accepted), v.config.MaxRepairs)
	}
	for _, a := range p.in.Accepted {
		if a.Regime == p.in.Repair.RegimeAtSubmission {
			return reject(RuleMultiRepair, ErrPatchStacking, "regime %d already repaired at rev %d", a.Regime, a.Rev)
		}
	}
	return nil
}
// #endregion r10

// #region r7
// antiAmnesia is R7: the repair must cite the live epoch exactly.
func (v *Validator) antiAmnesia(p *pass) *Rejection {
	if p.in.Repair.PriorRepairEpoch != p.in.State.RepairEpoch {
		return reject(RuleAntiAmnesia, ErrEpochMismatch, "cites epoch %q, live epoch %q",
			p.in.Repair.PriorRepairEpoch.Short(), p.in.State.RepairEpoch.Short())
	}
	return nil
}
// #endregion r7

// #region r4
// noNewDefaults is R4: no unconditional permission or obligation, no
// fallback disjunct, and no suppression of the binding obligation.
func (v *Validator) noNewDefaults(p *pass) *Rejection {
	for i, op := range p.in.Repair.PatchOps {
		prior, hadPrior := p.in.State.Rule(op.Touched())
		switch op.Op {
		case norm.OpAdd:
			if IsDefault(op.NewRule.Condition) {
				return reject(RuleNoNewDefaults, ErrNewDefault, "op %d adds unconditional rule %s", i, op.NewRule.ID)
			}
		case norm.OpReplace:
			if IsDefault(op.NewRule.Condition) && !(hadPrior && IsDefault(prior.Condition)) {
				return reject(RuleNoNewDefaults, ErrNewDefault, "op %d makes %s unconditional", i, op.NewRule.ID)
			}
			if hadPrior && prior.Type == norm.Obligation {
				if op.NewRule.Type != norm.Obligation || op.NewRule.Condition.IsFalse() {
					return reject(RuleNoNewDefaults, ErrNewDefault, "op %d suppresses obligation %s", i, prior.ID)
				}
			}
		case norm.OpAddException:
			if IsDefault(op.NewRule.Condition) {
				return reject(RuleNoNewDefaults, ErrNewDefault, "op %d adds an exception that always holds to %s", i, op.TargetRuleID)
			}
		case norm.OpRemove:
			if op.TargetRuleID == p.entry.BindingRuleID {
				return reject(RuleNoNewDefaults, ErrNewDefault, "op %d removes binding obligation %s", i, op.TargetRuleID)
			}
		}
	}
	return nil
}

// IsDefault reports whether c holds unconditionally by syntax alone: TRUE,
// an OR with a default disjunct, or an AND of defaults.
func IsDefault(c norm.Condition) bool {
	switch c.Op {
	case norm.OpTrue:
		return true
	case norm.OpOr, norm.OpAnd:
		some, all := false, true
		for _, a := range c.Args {
			sub, ok := norm.AsCondition(a)
			d := ok && IsDefault(sub)
			some = some || d
			all = all && d
		}
		if c.Op == norm.OpOr {
			return some
		}
		return all
	}
	return false
}
// #endregion r4

// #region r5
// nonVacuity is R5: an added exception must hold on the triggering state
// and fail on at least one preregistered probe.
func (v *Validator) nonVacuity(p *pass) *Rejection {
	for i, op := range p.in.Repair.PatchOps {
		if op.Op != norm.OpAddException {
			continue
		}
		fn, err := v.compiler.CompileCondition(op.NewRule.Condition)
		if err != nil {
			return rejectCause(RuleNonVacuity, ErrVacuousException, err)
		}
		if !fn(p.entry.Observation) {
			return reject(RuleNonVacuity, ErrVacuousException, "op %d exception does not hold on the triggering state", i)
		}
		falsified := false
		for _, probe := range v.config.Probes {
			if !fn(probe) {
				falsified = true
				break
			}
		}
		if !falsified {
			return reject(RuleNonVacuity, ErrVacuousException, "op %d exception holds on every one of %d probes", i, len(v.config.Probes))
		}
	}
	return nil
}
// #endregion r5

// #region r3
// recompilation is R3: the patched law must apply and compile cleanly, and
// compiling it twice must agree.
func (v *Validator) recompilation(p *pass) *Rejection {
	res, err := patch.ApplyAll(p.in.State, p.in.Repair.PatchOps, v.compiler.Grammar())
	if err != nil {
		return rejectCause(RuleRecompilation, ErrRecompileFailed, err)
	}
	candidate, err := norm.Derive(p.in.State, res.Rules, res.PatchHash, canon.Digest{})
	if err != nil {
		return rejectCause(RuleRecompilation, ErrRecompileFailed, err)
	}
	first, err := v.compiler.CompileLaw(candidate)
	if err != nil {
		return rejectCause(RuleRecompilation, ErrRecompileFailed, err)
	}
	second, err := v.compiler.CompileLaw(candidate)
	if err != nil {
		return rejectCause(RuleRecompilation, ErrRecompileFailed, err)
	}
	if fingerprint(first) != fingerprint(second) {
		return reject(RuleRecompilation, ErrRecompileFailed, "recompilation is not deterministic")
	}
	p.candidate, p.law, p.patchHash = candidate, first, res.PatchHash
	return nil
}

func fingerprint(l *compiler.CompiledLaw) canon.Digest {
	type pred struct {
		ID   string       `json:"id"`
		Type string       `json:"type"`
		Act  string       `json:"action"`
		Pri  int          `json:"priority"`
		Cond canon.Digest `json:"cond"`
	}
	ps := make([]pred, len(l.Predicates))
	for i, p := range l.Predicates {
		ps[i] = pred{p.RuleID, string(p.Type), p.Action, p.Priority, p.Condition.Digest()}
	}
	return canon.MustContentHash(map[string]any{
		"norm_hash": l.NormHash,
		"compiler":  l.CompilerID,
		"form":      l.Form,
		"preds":     ps,
	})
}
// #endregion r3

// #region r2
// nonCosmetic is R2: with the patch applied, the progress set for the
// triggering target must intersect what the law now permits at obs.
func (v *Validator) nonCosmetic(p *pass) *Rejection {
	if p.entry.Kind != norm.ObligationBlocked {
		return nil
	}
	oracle := p.in.Oracle
	if oracle == nil {
		oracle = replayOracle(p.entry)
	}
	inv := p.in.Inventory
	if inv == nil {
		inv = mask.Inventory(p.entry.Progress)
	}

	res, err := mask.Mask(p.in.Obs, p.law, p.candidate, oracle)
	if err != nil {
		return rejectCause(RuleNonCosmetic, ErrNonCosmeticFailed, err)
	}

	binding, ok := p.law.Predicate(p.entry.BindingRuleID)
	var progress []string
	switch {
	case ok && binding.Effect.ObligationTarget == "":
		if inv.Contains(p.entry.Target) {
			progress = []string{p.entry.Target}
		}
	default:
		progress = oracle.ProgressSet(p.in.Obs, p.entry.Target)
	}
	for _, a := range progress {
		if slices.Contains(res.Permitted, a) {
			return nil
		}
	}
	return reject(RuleNonCosmetic, ErrNonCosmeticFailed,
		"progress %v for %s still disjoint from permitted %v", progress, p.entry.Target, res.Permitted)
}
// #endregion r2

// #region r11
// nonSubsumption is R11: replaying the cited trigger against the current
// law, freshly compiled and without this repair, must still reproduce the
// contradiction.
func (v *Validator) nonSubsumption(p *pass) *Rejection {
	if p.entry.Kind != norm.ObligationBlocked {
		return nil
	}
	law, err := v.compiler.CompileLaw(p.in.State)
	if err != nil {
		return rejectCause(RuleNonSubsumption, ErrSubsumed, err)
	}
	obs := p.entry.Observation
	oracle := replayOracle(p.entry)
	res, err := mask.Mask(obs, law, p.in.State, oracle)
	if err != nil {
		return rejectCause(RuleNonSubsumption, ErrSubsumed, err)
	}
	f := contradiction.Detect(obs, law, res, mask.Inventory(p.entry.Progress))
	if !f.Contradiction {
		return reject(RuleNonSubsumption, ErrSubsumed, "entry %s no longer contradicts rev %d", p.entry.ID, p.in.State.Rev)
	}
	return nil
}

// replayOracle answers the recorded progress set of an entry's trigger.
func replayOracle(e norm.TraceEntry) mask.SnapshotOracle {
	return mask.SnapshotOracle{
		Episode: e.Observation.Episode,
		Targets: map[string]mask.Progress{e.Target: {Actions: e.Progress}},
	}
}
// #endregion r11

// #region r6
// continuity is R6: extend the repair epoch and derive the committed
// revision carrying it.
func (v *Validator) continuity(p *pass) (Acceptance, norm.NormState, error) {
	fp, err := p.in.Repair.Fingerprint()
	if err != nil {
		return Acceptance{}, norm.NormState{}, fmt.Errorf("fingerprint repair: %w", err)
	}
	parent := epoch.Parent(p.in.State.RepairEpoch, p.in.State.NormHash)
	nonce := append([]byte(nil), p.in.Nonce...)
	e := epoch.Extend(parent, fp, nonce)

	next, err := norm.Derive(p.in.State, p.candidate.Rules, p.patchHash, e)
	if err != nil {
		return Acceptance{}, norm.NormState{}, err
	}
	link := epoch.Link{
		Parent:      parent,
		Fingerprint: fp,
		Nonce:       nonce,
		Epoch:       e,
		Regime:      p.in.Repair.RegimeAtSubmission,
		Rev:         next.Rev,
	}
	return Acceptance{
		TraceEntryID: p.entry.ID,
		Regime:       p.in.Repair.RegimeAtSubmission,
		Rev:          next.Rev,
		NormHash:     next.NormHash,
		PriorEpoch:   p.in.State.RepairEpoch,
		Epoch:        e,
		Fingerprint:  fp,
		PatchHash:    p.patchHash,
		Touched:      append([]string(nil), p.touched...),
		Link:         link,
	}, next, nil
}
// #endregion r6
